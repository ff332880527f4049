package observation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/google/uuid"

	"github.com/stanelyg/OpenMRS-Patient-Migration-Script/internal/domain/job"
)

// ErrSlotMismatch means a value cannot be stored in the slot of its kind,
// such as an unparsed numeric or a date that does not parse.
var ErrSlotMismatch = errors.New("value does not fit its observation slot")

// WriteRequest is one transformed field of a resolved row.
type WriteRequest struct {
	SubjectID   int64
	EncounterID int64
	Field       job.FieldSpec
	Value       Value
}

type Writer struct {
	repo       Repository
	locationID int64
	creatorID  int64
	now        func() time.Time
}

func NewWriter(repo Repository, locationID, creatorID int64) *Writer {
	return &Writer{
		repo:       repo,
		locationID: locationID,
		creatorID:  creatorID,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Write inserts the observation and its log entry. An empty value writes
// nothing and returns nil, nil. Both inserts run on the caller's context so
// they share its transaction.
func (w *Writer) Write(ctx context.Context, req WriteRequest) (*Observation, error) {
	if req.Value.IsEmpty() {
		return nil, nil
	}

	now := w.now()
	o := &Observation{
		UUID:        uuid.New(),
		PersonID:    req.SubjectID,
		EncounterID: req.EncounterID,
		ConceptID:   req.Field.Concept,
		ObsDatetime: now,
		LocationID:  w.locationID,
		Creator:     w.creatorID,
		DateCreated: now,
	}
	if err := bindSlot(o, req.Field.Kind, req.Value); err != nil {
		return nil, fmt.Errorf("field %s: %w", req.Field.Field, err)
	}

	if err := w.repo.CreateObservation(ctx, o); err != nil {
		return nil, fmt.Errorf("insert obs for field %s: %w", req.Field.Field, err)
	}
	entry := &MigrationLogEntry{
		ObsID:       o.ID,
		PersonID:    o.PersonID,
		EncounterID: o.EncounterID,
		ConceptID:   o.ConceptID,
		FieldName:   req.Field.Field,
		Value:       req.Value.String(),
	}
	if err := w.repo.CreateLogEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("insert migration log for obs %d: %w", o.ID, err)
	}
	return o, nil
}

func bindSlot(o *Observation, kind job.ValueKind, v Value) error {
	switch kind {
	case job.KindCoded:
		id, ok := v.V.(int64)
		if !ok {
			return fmt.Errorf("%w: coded value %v", ErrSlotMismatch, v.V)
		}
		o.ValueCoded = &id
	case job.KindNumeric:
		if v.Unparsed {
			return fmt.Errorf("%w: numeric value %q", ErrSlotMismatch, v.String())
		}
		var f float64
		switch x := v.V.(type) {
		case int64:
			f = float64(x)
		case float64:
			f = x
		default:
			return fmt.Errorf("%w: numeric value %v", ErrSlotMismatch, v.V)
		}
		o.ValueNumeric = &f
	case job.KindText:
		s := v.String()
		o.ValueText = &s
	case job.KindDate:
		t, err := parseDate(v.V)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrSlotMismatch, err)
		}
		o.ValueDatetime = &t
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrSlotMismatch, kind)
	}
	return nil
}

// parseDate accepts time values from the source database and the many date
// layouts found in spreadsheet exports.
func parseDate(v interface{}) (time.Time, error) {
	switch x := v.(type) {
	case time.Time:
		return x, nil
	case string:
		s := strings.TrimSpace(x)
		if t, err := dateparse.ParseAny(s); err == nil {
			return t, nil
		}
		if t, err := time.Parse("02-Jan-2006 15:04:05", s); err == nil {
			return t, nil
		}
		return time.Time{}, fmt.Errorf("unparseable date %q", x)
	default:
		return time.Time{}, fmt.Errorf("unsupported date value %v", v)
	}
}
