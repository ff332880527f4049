// Package identity resolves a source client id to the destination patient
// and the encounter its survey answers are recorded under.
package identity

import "errors"

var (
	ErrSubjectNotFound   = errors.New("missing subject mapping")
	ErrEncounterNotFound = errors.New("missing encounter mapping")
)

// Chain is the resolved client -> patient -> encounter path.
type Chain struct {
	ExternalID   string `json:"external_id"`
	SubjectID    int64  `json:"subject_id,omitempty"`
	EncounterID  int64  `json:"encounter_id,omitempty"`
	HasEncounter bool   `json:"has_encounter"`
}

// Complete reports whether observations can be written for the chain.
func (c Chain) Complete() bool {
	return c.SubjectID > 0 && c.HasEncounter
}
