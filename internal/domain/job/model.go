// Package job describes migration jobs: where a survey domain's rows come
// from and how each source field maps onto a destination concept.
package job

import (
	"fmt"
	"strings"

	"github.com/stanelyg/OpenMRS-Patient-Migration-Script/internal/domain/lookup"
	"github.com/stanelyg/OpenMRS-Patient-Migration-Script/internal/platform/source"
)

// ValueKind selects which typed slot of an observation a field fills.
type ValueKind string

const (
	KindCoded   ValueKind = "coded"
	KindText    ValueKind = "text"
	KindNumeric ValueKind = "numeric"
	KindDate    ValueKind = "date"
)

func (k ValueKind) Valid() bool {
	switch k {
	case KindCoded, KindText, KindNumeric, KindDate:
		return true
	}
	return false
}

// FieldSpec binds one source field to a destination concept. Lookup names
// the translation table for coded fields; a coded field without one is
// resolved by taking the raw code as the concept id.
type FieldSpec struct {
	Field   string    `yaml:"field" json:"field"`
	Concept int64     `yaml:"concept" json:"concept"`
	Kind    ValueKind `yaml:"kind" json:"kind"`
	Lookup  string    `yaml:"lookup,omitempty" json:"lookup,omitempty"`
}

func (f FieldSpec) Validate() error {
	if strings.TrimSpace(f.Field) == "" {
		return fmt.Errorf("field name is required")
	}
	if f.Concept <= 0 {
		return fmt.Errorf("field %s: concept must be a positive id", f.Field)
	}
	if !f.Kind.Valid() {
		return fmt.Errorf("field %s: unknown kind %q", f.Field, f.Kind)
	}
	if f.Lookup != "" {
		if f.Kind != KindCoded {
			return fmt.Errorf("field %s: only coded fields may name a lookup table", f.Field)
		}
		if !lookup.ValidTableName(f.Lookup) {
			return fmt.Errorf("field %s: invalid lookup table name %q", f.Field, f.Lookup)
		}
	}
	return nil
}

const DefaultSubjectField = "client_id"

// Job is one survey domain migration.
type Job struct {
	Name         string      `yaml:"name" json:"name"`
	Description  string      `yaml:"description,omitempty" json:"description,omitempty"`
	Source       source.Spec `yaml:"source" json:"source"`
	SubjectField string      `yaml:"subject_field,omitempty" json:"subject_field"`
	Fields       []FieldSpec `yaml:"fields" json:"fields"`
}

// Validate checks the job and fills defaults.
func (j *Job) Validate() error {
	if strings.TrimSpace(j.Name) == "" {
		return fmt.Errorf("job name is required")
	}
	if err := j.Source.Validate(); err != nil {
		return fmt.Errorf("job %s: %w", j.Name, err)
	}
	if j.SubjectField == "" {
		j.SubjectField = DefaultSubjectField
	}
	if len(j.Fields) == 0 {
		return fmt.Errorf("job %s: at least one field is required", j.Name)
	}
	seen := make(map[string]bool, len(j.Fields))
	for _, f := range j.Fields {
		if err := f.Validate(); err != nil {
			return fmt.Errorf("job %s: %w", j.Name, err)
		}
		if seen[f.Field] {
			return fmt.Errorf("job %s: duplicate field %s", j.Name, f.Field)
		}
		if f.Field == j.SubjectField {
			return fmt.Errorf("job %s: subject field %s cannot be migrated as an observation", j.Name, f.Field)
		}
		seen[f.Field] = true
	}
	return nil
}

// LookupTables returns the distinct lookup tables the job reads, in field order.
func (j *Job) LookupTables() []string {
	var out []string
	seen := make(map[string]bool)
	for _, f := range j.Fields {
		if f.Lookup == "" || seen[f.Lookup] {
			continue
		}
		seen[f.Lookup] = true
		out = append(out, f.Lookup)
	}
	return out
}

// Count returns the number of fields of each kind.
func (j *Job) Count() map[ValueKind]int {
	out := make(map[ValueKind]int, 4)
	for _, f := range j.Fields {
		out[f.Kind]++
	}
	return out
}
