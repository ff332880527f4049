package job

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed jobs/*.yaml
var builtin embed.FS

// ErrJobNotFound is returned by Registry.Get for an unknown job name.
var ErrJobNotFound = errors.New("job not found")

// Registry holds the validated job definitions available to a process.
type Registry struct {
	jobs map[string]*Job
}

// Builtin returns the registry of jobs shipped with the binary.
func Builtin() (*Registry, error) {
	r := &Registry{jobs: make(map[string]*Job)}
	if err := r.loadFS(builtin, "jobs"); err != nil {
		return nil, err
	}
	return r, nil
}

// Load returns the built-in jobs, overridden or extended by the *.yaml files
// in dir when dir is set. A file in dir replaces a built-in job of the same name.
func Load(dir string) (*Registry, error) {
	r, err := Builtin()
	if err != nil {
		return nil, err
	}
	if dir == "" {
		return r, nil
	}
	overrides := &Registry{jobs: make(map[string]*Job)}
	if err := overrides.loadFS(os.DirFS(dir), "."); err != nil {
		return nil, fmt.Errorf("jobs dir %s: %w", dir, err)
	}
	for name, j := range overrides.jobs {
		r.jobs[name] = j
	}
	return r, nil
}

func (r *Registry) loadFS(fsys fs.FS, dir string) error {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		data, err := fs.ReadFile(fsys, path.Join(dir, e.Name()))
		if err != nil {
			return err
		}
		j, err := Parse(data)
		if err != nil {
			return fmt.Errorf("%s: %w", e.Name(), err)
		}
		if _, dup := r.jobs[j.Name]; dup {
			return fmt.Errorf("%s: duplicate job name %s", e.Name(), j.Name)
		}
		r.jobs[j.Name] = j
	}
	return nil
}

// Parse decodes and validates a single job definition.
func Parse(data []byte) (*Job, error) {
	var j Job
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&j); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	if err := j.Validate(); err != nil {
		return nil, err
	}
	return &j, nil
}

// Get returns a copy of the named job.
func (r *Registry) Get(name string) (*Job, error) {
	j, ok := r.jobs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	cp := *j
	cp.Fields = append([]FieldSpec(nil), j.Fields...)
	return &cp, nil
}

// List returns every job sorted by name.
func (r *Registry) List() []*Job {
	out := make([]*Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out
}
