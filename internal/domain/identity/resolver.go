package identity

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrInvalidClientID is returned when the raw subject value is not an integer id.
var ErrInvalidClientID = errors.New("invalid client id")

type Resolver struct {
	repo Repository
}

func NewResolver(repo Repository) *Resolver {
	return &Resolver{repo: repo}
}

// Resolve follows client -> patient -> encounter. When the patient exists but
// has no encounter the returned chain carries SubjectID together with
// ErrEncounterNotFound.
func (r *Resolver) Resolve(ctx context.Context, externalID interface{}) (Chain, error) {
	clientID, err := ParseClientID(externalID)
	if err != nil {
		return Chain{ExternalID: fmt.Sprint(externalID)}, err
	}
	chain := Chain{ExternalID: strconv.FormatInt(clientID, 10)}

	subjectID, err := r.repo.SubjectForClient(ctx, clientID)
	if err != nil {
		return chain, err
	}
	chain.SubjectID = subjectID

	encounterID, err := r.repo.EncounterForSubject(ctx, subjectID)
	if err != nil {
		return chain, err
	}
	chain.EncounterID = encounterID
	chain.HasEncounter = true
	return chain, nil
}

// IsNotFound reports whether err is a skip condition rather than a store failure.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrSubjectNotFound) ||
		errors.Is(err, ErrEncounterNotFound) ||
		errors.Is(err, ErrInvalidClientID)
}

// ParseClientID accepts the forms a client id takes in extracts: integers,
// integral floats from spreadsheet exports ("42.0") and numeric strings.
func ParseClientID(v interface{}) (int64, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case float64:
		if !integral(x) {
			return 0, fmt.Errorf("%w: %v", ErrInvalidClientID, x)
		}
		return int64(x), nil
	case string:
		s := strings.TrimSpace(x)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || !integral(f) {
			return 0, fmt.Errorf("%w: %q", ErrInvalidClientID, x)
		}
		return int64(f), nil
	case nil:
		return 0, fmt.Errorf("%w: empty", ErrInvalidClientID)
	default:
		return 0, fmt.Errorf("%w: %v", ErrInvalidClientID, x)
	}
}

// integral reports whether f is a finite whole number that fits in an int64.
func integral(f float64) bool {
	return !math.IsInf(f, 0) && !math.IsNaN(f) && f == math.Trunc(f) && math.Abs(f) < 1<<63
}
