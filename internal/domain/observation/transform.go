package observation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/stanelyg/OpenMRS-Patient-Migration-Script/internal/domain/job"
	"github.com/stanelyg/OpenMRS-Patient-Migration-Script/internal/domain/lookup"
)

var (
	// ErrEmptyValue marks a null or blank answer. Nothing is written for it.
	ErrEmptyValue = errors.New("empty value")
	// ErrLookupMiss marks a coded answer with no entry in its lookup table.
	ErrLookupMiss = errors.New("lookup miss")
)

// LookupMissError carries the table and code of a miss. It matches ErrLookupMiss.
type LookupMissError struct {
	Table string
	Code  string
}

func (e *LookupMissError) Error() string {
	if e.Table == "" {
		return fmt.Sprintf("lookup miss: code %q is not a concept id", e.Code)
	}
	return fmt.Sprintf("lookup miss: code %q not in %s", e.Code, e.Table)
}

func (e *LookupMissError) Is(target error) bool {
	return target == ErrLookupMiss
}

// Lookups supplies lookup tables by name. *lookup.Cache satisfies it.
type Lookups interface {
	Load(ctx context.Context, name string) (*lookup.Table, error)
}

// Transformer normalises raw field values according to their FieldSpec.
type Transformer struct {
	lookups Lookups
}

func NewTransformer(lookups Lookups) *Transformer {
	return &Transformer{lookups: lookups}
}

// Transform returns ErrEmptyValue for blank input and ErrLookupMiss for
// coded codes that do not resolve. A numeric value that does not parse is
// returned unchanged with Unparsed set. Any other error comes from loading a
// lookup table and is fatal for the run.
func (t *Transformer) Transform(ctx context.Context, raw interface{}, spec job.FieldSpec) (Value, error) {
	if isEmpty(raw) {
		return Value{Kind: spec.Kind}, ErrEmptyValue
	}

	switch spec.Kind {
	case job.KindNumeric:
		return transformNumeric(raw), nil
	case job.KindCoded:
		return t.transformCoded(ctx, raw, spec)
	case job.KindText, job.KindDate:
		return Value{Kind: spec.Kind, V: raw}, nil
	default:
		return Value{}, fmt.Errorf("field %s: unknown kind %q", spec.Field, spec.Kind)
	}
}

func (t *Transformer) transformCoded(ctx context.Context, raw interface{}, spec job.FieldSpec) (Value, error) {
	code, _ := lookup.NormalizeCode(raw)

	if spec.Lookup == "" {
		id, err := strconv.ParseInt(code, 10, 64)
		if err != nil || id <= 0 {
			return Value{Kind: job.KindCoded}, &LookupMissError{Code: code}
		}
		return Value{Kind: job.KindCoded, V: id}, nil
	}

	table, err := t.lookups.Load(ctx, spec.Lookup)
	if err != nil {
		return Value{}, err
	}
	id, ok := table.Get(code)
	if !ok {
		return Value{Kind: job.KindCoded}, &LookupMissError{Table: spec.Lookup, Code: code}
	}
	return Value{Kind: job.KindCoded, V: id}, nil
}

func transformNumeric(raw interface{}) Value {
	var f float64
	switch x := raw.(type) {
	case int64:
		return Value{Kind: job.KindNumeric, V: x}
	case int:
		return Value{Kind: job.KindNumeric, V: int64(x)}
	case float64:
		f = x
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil || math.IsInf(parsed, 0) || math.IsNaN(parsed) {
			return Value{Kind: job.KindNumeric, V: raw, Unparsed: true}
		}
		f = parsed
	default:
		return Value{Kind: job.KindNumeric, V: raw, Unparsed: true}
	}
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return Value{Kind: job.KindNumeric, V: int64(f)}
	}
	return Value{Kind: job.KindNumeric, V: f}
}

// isEmpty treats nil, blank strings and NaN as unanswered.
func isEmpty(v interface{}) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	case []byte:
		return strings.TrimSpace(string(x)) == ""
	case float64:
		return math.IsNaN(x)
	}
	return false
}
