package observation

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stanelyg/OpenMRS-Patient-Migration-Script/internal/domain/job"
	"github.com/stanelyg/OpenMRS-Patient-Migration-Script/internal/domain/lookup"
)

type stubLookups struct {
	tables map[string]*lookup.Table
	loads  int
}

func (s *stubLookups) Load(_ context.Context, name string) (*lookup.Table, error) {
	s.loads++
	t, ok := s.tables[name]
	if !ok {
		return nil, lookup.ErrLookupUnavailable
	}
	return t, nil
}

func newTransformer() *Transformer {
	return NewTransformer(&stubLookups{tables: map[string]*lookup.Table{
		"yesno": lookup.NewTable("yesno", map[string]int64{"1": 5001, "2": 5002}),
	}})
}

var codedYesNo = job.FieldSpec{Field: "has_savings_id", Concept: 7001, Kind: job.KindCoded, Lookup: "yesno"}

func TestTransform_EmptyInputs(t *testing.T) {
	tr := newTransformer()
	kinds := []job.ValueKind{job.KindCoded, job.KindText, job.KindNumeric, job.KindDate}
	for _, raw := range []interface{}{nil, "", "   ", math.NaN()} {
		for _, k := range kinds {
			spec := job.FieldSpec{Field: "f", Concept: 1, Kind: k}
			v, err := tr.Transform(context.Background(), raw, spec)
			if !errors.Is(err, ErrEmptyValue) {
				t.Errorf("Transform(%#v, %s) error = %v, want ErrEmptyValue", raw, k, err)
			}
			if !v.IsEmpty() {
				t.Errorf("Transform(%#v, %s) value = %#v, want empty", raw, k, v.V)
			}
		}
	}
}

func TestTransform_LookupRoundTrip(t *testing.T) {
	tr := newTransformer()

	v, err := tr.Transform(context.Background(), "2", codedYesNo)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.V != int64(5002) {
		t.Errorf("expected 5002, got %#v", v.V)
	}

	_, err = tr.Transform(context.Background(), "9", codedYesNo)
	if !errors.Is(err, ErrLookupMiss) {
		t.Fatalf("expected ErrLookupMiss, got %v", err)
	}
	var miss *LookupMissError
	if !errors.As(err, &miss) || miss.Table != "yesno" || miss.Code != "9" {
		t.Errorf("unexpected miss detail %+v", miss)
	}
}

func TestTransform_CodedAcceptsNumericForms(t *testing.T) {
	tr := newTransformer()
	for _, raw := range []interface{}{"2.0", int64(2), float64(2)} {
		v, err := tr.Transform(context.Background(), raw, codedYesNo)
		if err != nil || v.V != int64(5002) {
			t.Errorf("Transform(%#v) = %#v, %v; want 5002", raw, v.V, err)
		}
	}
}

func TestTransform_CodedWithoutLookupUsesCodeAsConcept(t *testing.T) {
	tr := newTransformer()
	spec := job.FieldSpec{Field: "seek_help_after_gbv_id", Concept: 1000853, Kind: job.KindCoded}

	v, err := tr.Transform(context.Background(), "1065", spec)
	if err != nil || v.V != int64(1065) {
		t.Errorf("expected 1065, got %#v, %v", v.V, err)
	}
	if _, err := tr.Transform(context.Background(), "yes", spec); !errors.Is(err, ErrLookupMiss) {
		t.Errorf("expected ErrLookupMiss for non-numeric code, got %v", err)
	}
}

func TestTransform_UnavailableTableIsNotAMiss(t *testing.T) {
	tr := newTransformer()
	spec := job.FieldSpec{Field: "f", Concept: 1, Kind: job.KindCoded, Lookup: "missing"}
	_, err := tr.Transform(context.Background(), "1", spec)
	if !errors.Is(err, lookup.ErrLookupUnavailable) || errors.Is(err, ErrLookupMiss) {
		t.Errorf("expected ErrLookupUnavailable, got %v", err)
	}
}

func TestTransform_NumericNormalization(t *testing.T) {
	tr := newTransformer()
	spec := job.FieldSpec{Field: "no_of_children", Concept: 1000709, Kind: job.KindNumeric}
	tests := []struct {
		raw      interface{}
		want     interface{}
		unparsed bool
	}{
		{"3.0", int64(3), false},
		{"3.5", 3.5, false},
		{"abc", "abc", true},
		{" 4 ", int64(4), false},
		{int64(7), int64(7), false},
		{float64(8), int64(8), false},
		{2.25, 2.25, false},
	}
	for _, tt := range tests {
		v, err := tr.Transform(context.Background(), tt.raw, spec)
		if err != nil {
			t.Errorf("Transform(%#v) unexpected error: %v", tt.raw, err)
			continue
		}
		if v.V != tt.want || v.Unparsed != tt.unparsed {
			t.Errorf("Transform(%#v) = %#v (unparsed=%v), want %#v (unparsed=%v)", tt.raw, v.V, v.Unparsed, tt.want, tt.unparsed)
		}
	}
}

func TestTransform_TextAndDatePassThrough(t *testing.T) {
	tr := newTransformer()
	text := job.FieldSpec{Field: "current_class", Concept: 8001, Kind: job.KindText}
	v, err := tr.Transform(context.Background(), "Form 2", text)
	if err != nil || v.V != "Form 2" {
		t.Errorf("expected Form 2, got %#v, %v", v.V, err)
	}
	date := job.FieldSpec{Field: "date_of_enrollment", Concept: 166091, Kind: job.KindDate}
	v, err = tr.Transform(context.Background(), "2019-05-01", date)
	if err != nil || v.V != "2019-05-01" {
		t.Errorf("expected raw date, got %#v, %v", v.V, err)
	}
}

func TestValue_String(t *testing.T) {
	tests := []struct {
		v    Value
		want string
	}{
		{Value{V: int64(5002)}, "5002"},
		{Value{V: 3.5}, "3.5"},
		{Value{V: "Form 2"}, "Form 2"},
		{Value{}, ""},
	}
	for _, tt := range tests {
		if got := tt.v.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
