// Package observation turns transformed survey answers into obs rows and
// their migration log entries.
package observation

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/stanelyg/OpenMRS-Patient-Migration-Script/internal/domain/job"
)

// Observation is one obs row. Exactly one Value* slot is set.
type Observation struct {
	ID            int64      `json:"obs_id"`
	UUID          uuid.UUID  `json:"uuid"`
	PersonID      int64      `json:"person_id"`
	EncounterID   int64      `json:"encounter_id"`
	ConceptID     int64      `json:"concept_id"`
	ObsDatetime   time.Time  `json:"obs_datetime"`
	LocationID    int64      `json:"location_id"`
	ValueCoded    *int64     `json:"value_coded,omitempty"`
	ValueText     *string    `json:"value_text,omitempty"`
	ValueDatetime *time.Time `json:"value_datetime,omitempty"`
	ValueNumeric  *float64   `json:"value_numeric,omitempty"`
	Creator       int64      `json:"creator"`
	DateCreated   time.Time  `json:"date_created"`
	Voided        bool       `json:"voided"`
}

// FilledSlots counts the non-nil typed value slots.
func (o *Observation) FilledSlots() int {
	n := 0
	if o.ValueCoded != nil {
		n++
	}
	if o.ValueText != nil {
		n++
	}
	if o.ValueDatetime != nil {
		n++
	}
	if o.ValueNumeric != nil {
		n++
	}
	return n
}

// MigrationLogEntry ties an observation back to the source field it came from.
type MigrationLogEntry struct {
	ObsID       int64  `json:"obs_id"`
	PersonID    int64  `json:"person_id"`
	EncounterID int64  `json:"encounter_id"`
	ConceptID   int64  `json:"concept_id"`
	FieldName   string `json:"field_name"`
	Value       string `json:"value"`
}

// Value is the output of Transformer.Transform. V is an int64 for coded
// values; an int64 or float64 for numeric values, or the raw input when
// Unparsed is set; and the raw input for text and date values.
type Value struct {
	Kind     job.ValueKind
	V        interface{}
	Unparsed bool
}

func (v Value) IsEmpty() bool {
	return isEmpty(v.V)
}

// String renders the value the way it is recorded in the migration log.
func (v Value) String() string {
	switch x := v.V.(type) {
	case nil:
		return ""
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case time.Time:
		return x.Format("2006-01-02 15:04:05")
	default:
		return fmt.Sprint(x)
	}
}
