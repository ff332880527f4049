package observation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stanelyg/OpenMRS-Patient-Migration-Script/internal/domain/job"
)

type mockRepo struct {
	obs    []*Observation
	logs   []*MigrationLogEntry
	nextID int64
	obsErr error
	logErr error
}

func (m *mockRepo) CreateObservation(_ context.Context, o *Observation) error {
	if m.obsErr != nil {
		return m.obsErr
	}
	m.nextID++
	o.ID = m.nextID
	m.obs = append(m.obs, o)
	return nil
}

func (m *mockRepo) CreateLogEntry(_ context.Context, e *MigrationLogEntry) error {
	if m.logErr != nil {
		return m.logErr
	}
	m.logs = append(m.logs, e)
	return nil
}

func newWriter(repo *mockRepo) *Writer {
	w := NewWriter(repo, 1, 1)
	w.now = func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) }
	return w
}

func TestWrite_EmptyValueIsNoOp(t *testing.T) {
	repo := &mockRepo{}
	w := newWriter(repo)
	for _, v := range []Value{{Kind: job.KindText}, {Kind: job.KindText, V: ""}, {Kind: job.KindCoded, V: nil}} {
		o, err := w.Write(context.Background(), WriteRequest{
			SubjectID: 900, EncounterID: 77,
			Field: job.FieldSpec{Field: "f", Concept: 1, Kind: v.Kind},
			Value: v,
		})
		if err != nil || o != nil {
			t.Errorf("expected no-op, got %v, %v", o, err)
		}
	}
	if len(repo.obs) != 0 || len(repo.logs) != 0 {
		t.Errorf("expected nothing written, got %d obs %d logs", len(repo.obs), len(repo.logs))
	}
}

func TestWrite_OneLogEntryPerObservation(t *testing.T) {
	repo := &mockRepo{}
	w := newWriter(repo)
	reqs := []WriteRequest{
		{Field: job.FieldSpec{Field: "has_savings_id", Concept: 7001, Kind: job.KindCoded}, Value: Value{Kind: job.KindCoded, V: int64(7001)}},
		{Field: job.FieldSpec{Field: "current_class", Concept: 8001, Kind: job.KindText}, Value: Value{Kind: job.KindText, V: "Form 2"}},
		{Field: job.FieldSpec{Field: "no_of_children", Concept: 1000709, Kind: job.KindNumeric}, Value: Value{Kind: job.KindNumeric, V: int64(3)}},
	}
	for _, r := range reqs {
		r.SubjectID, r.EncounterID = 900, 77
		if _, err := w.Write(context.Background(), r); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if len(repo.obs) != len(repo.logs) {
		t.Fatalf("expected equal counts, got %d obs %d logs", len(repo.obs), len(repo.logs))
	}
	refs := make(map[int64]int)
	for _, l := range repo.logs {
		refs[l.ObsID]++
	}
	for _, o := range repo.obs {
		if refs[o.ID] != 1 {
			t.Errorf("obs %d referenced by %d log entries", o.ID, refs[o.ID])
		}
	}
}

func TestWrite_ExactlyOneSlotMatchesKind(t *testing.T) {
	tests := []struct {
		kind  job.ValueKind
		value interface{}
		check func(o *Observation) bool
	}{
		{job.KindCoded, int64(5002), func(o *Observation) bool { return o.ValueCoded != nil && *o.ValueCoded == 5002 }},
		{job.KindText, "Form 2", func(o *Observation) bool { return o.ValueText != nil && *o.ValueText == "Form 2" }},
		{job.KindText, int64(12), func(o *Observation) bool { return o.ValueText != nil && *o.ValueText == "12" }},
		{job.KindNumeric, 3.5, func(o *Observation) bool { return o.ValueNumeric != nil && *o.ValueNumeric == 3.5 }},
		{job.KindNumeric, int64(3), func(o *Observation) bool { return o.ValueNumeric != nil && *o.ValueNumeric == 3 }},
		{job.KindDate, "2019-05-01", func(o *Observation) bool {
			return o.ValueDatetime != nil && o.ValueDatetime.Format("2006-01-02") == "2019-05-01"
		}},
		{job.KindDate, "01-May-2019 10:00:00", func(o *Observation) bool {
			return o.ValueDatetime != nil && o.ValueDatetime.Day() == 1
		}},
	}
	for _, tt := range tests {
		repo := &mockRepo{}
		o, err := newWriter(repo).Write(context.Background(), WriteRequest{
			SubjectID: 900, EncounterID: 77,
			Field: job.FieldSpec{Field: "f", Concept: 1, Kind: tt.kind},
			Value: Value{Kind: tt.kind, V: tt.value},
		})
		if err != nil {
			t.Errorf("%s %#v: unexpected error: %v", tt.kind, tt.value, err)
			continue
		}
		if o.FilledSlots() != 1 {
			t.Errorf("%s %#v: expected 1 filled slot, got %d", tt.kind, tt.value, o.FilledSlots())
		}
		if !tt.check(o) {
			t.Errorf("%s %#v: wrong slot contents %+v", tt.kind, tt.value, o)
		}
		if o.Voided || o.LocationID != 1 || o.Creator != 1 {
			t.Errorf("unexpected defaults %+v", o)
		}
	}
}

func TestWrite_SlotMismatchWritesNothing(t *testing.T) {
	tests := []struct {
		kind  job.ValueKind
		value Value
	}{
		{job.KindNumeric, Value{Kind: job.KindNumeric, V: "abc", Unparsed: true}},
		{job.KindDate, Value{Kind: job.KindDate, V: "not a date"}},
		{job.KindCoded, Value{Kind: job.KindCoded, V: "Y"}},
	}
	for _, tt := range tests {
		repo := &mockRepo{}
		_, err := newWriter(repo).Write(context.Background(), WriteRequest{
			Field: job.FieldSpec{Field: "f", Concept: 1, Kind: tt.kind},
			Value: tt.value,
		})
		if !errors.Is(err, ErrSlotMismatch) {
			t.Errorf("%s: expected ErrSlotMismatch, got %v", tt.kind, err)
		}
		if len(repo.obs) != 0 || len(repo.logs) != 0 {
			t.Errorf("%s: expected nothing written", tt.kind)
		}
	}
}

func TestWrite_LogRecordsResolvedValue(t *testing.T) {
	repo := &mockRepo{}
	_, err := newWriter(repo).Write(context.Background(), WriteRequest{
		SubjectID: 900, EncounterID: 77,
		Field: job.FieldSpec{Field: "has_savings_id", Concept: 7001, Kind: job.KindCoded, Lookup: "yesno"},
		Value: Value{Kind: job.KindCoded, V: int64(7001)},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	l := repo.logs[0]
	if l.FieldName != "has_savings_id" || l.Value != "7001" || l.PersonID != 900 || l.EncounterID != 77 || l.ConceptID != 7001 {
		t.Errorf("unexpected log entry %+v", l)
	}
}

func TestWrite_StoreErrorPropagates(t *testing.T) {
	storeErr := errors.New("insert failed")
	repo := &mockRepo{logErr: storeErr}
	_, err := newWriter(repo).Write(context.Background(), WriteRequest{
		Field: job.FieldSpec{Field: "f", Concept: 1, Kind: job.KindText},
		Value: Value{Kind: job.KindText, V: "x"},
	})
	if !errors.Is(err, storeErr) {
		t.Errorf("expected store error, got %v", err)
	}
}
