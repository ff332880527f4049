// Package source reads survey records from the operational system, either
// from a flattened MySQL table or from a delimited export of it.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// Row is one source record. Values are nil, string, int64, float64 or
// time.Time; field order follows the extract's columns.
type Row struct {
	Line   int
	names  []string
	values map[string]interface{}
}

// NewRow builds a row from parallel name/value slices. Extra names without a
// value are recorded as nil.
func NewRow(line int, names []string, values []interface{}) Row {
	r := Row{
		Line:   line,
		names:  make([]string, 0, len(names)),
		values: make(map[string]interface{}, len(names)),
	}
	for i, name := range names {
		if _, dup := r.values[name]; dup {
			continue
		}
		var v interface{}
		if i < len(values) {
			v = values[i]
		}
		r.names = append(r.names, name)
		r.values[name] = v
	}
	return r
}

// Get returns the raw value of a field and whether the field exists.
func (r Row) Get(name string) (interface{}, bool) {
	v, ok := r.values[name]
	return v, ok
}

// Fields returns field names in extract order.
func (r Row) Fields() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Reader yields rows in extract order. Next returns io.EOF once exhausted.
type Reader interface {
	Next(ctx context.Context) (Row, error)
	Close() error
}

// Spec names where a job's rows come from. Exactly one of File or Table is set.
type Spec struct {
	File      string `yaml:"file,omitempty" json:"file,omitempty"`
	Table     string `yaml:"table,omitempty" json:"table,omitempty"`
	Delimiter string `yaml:"delimiter,omitempty" json:"delimiter,omitempty"`
}

// Override returns s with file/table replaced when either override is set.
func (s Spec) Override(file, table string) Spec {
	switch {
	case file != "":
		s.File, s.Table = file, ""
	case table != "":
		s.Table, s.File = table, ""
	}
	return s
}

func (s Spec) Validate() error {
	if s.File == "" && s.Table == "" {
		return errors.New("source needs a file or a table")
	}
	if s.File != "" && s.Table != "" {
		return errors.New("source cannot name both a file and a table")
	}
	if s.Table != "" && !identPattern.MatchString(s.Table) {
		return fmt.Errorf("invalid source table name %q", s.Table)
	}
	if len([]rune(s.Delimiter)) > 1 {
		return fmt.Errorf("delimiter must be a single character, got %q", s.Delimiter)
	}
	return nil
}

func (s Spec) String() string {
	if s.File != "" {
		return "file:" + s.File
	}
	return "table:" + s.Table
}

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Open picks the adapter for spec. querier may be nil when spec names a file.
func Open(ctx context.Context, spec Spec, querier Queryer) (Reader, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if spec.File != "" {
		r, err := OpenCSV(spec.File, spec.Delimiter)
		if err != nil {
			return nil, err
		}
		return r, nil
	}
	if querier == nil {
		return nil, fmt.Errorf("table %s requires SOURCE_DATABASE_URL", spec.Table)
	}
	r, err := OpenTable(ctx, querier, spec.Table)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// ReadAll drains r. Intended for tests and small extracts.
func ReadAll(ctx context.Context, r Reader) ([]Row, error) {
	var rows []Row
	for {
		row, err := r.Next(ctx)
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return rows, err
		}
		rows = append(rows, row)
	}
}

func normalizeHeader(h string) string {
	return strings.TrimSpace(h)
}
