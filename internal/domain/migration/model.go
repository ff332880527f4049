// Package migration runs a job over a source extract: resolve each row's
// identity, transform its fields and write the resulting observations.
package migration

import (
	"errors"
	"time"
)

var (
	// ErrRunAborted is returned when the run deadline passes or the caller
	// cancels. The summary returned alongside it covers the rows done so far.
	ErrRunAborted = errors.New("migration run aborted")
	// ErrRunInProgress is returned when the same job is already running.
	ErrRunInProgress = errors.New("a run of this job is already in progress")
	// ErrInvalidRequest marks run overrides that cannot be applied.
	ErrInvalidRequest = errors.New("invalid run request")
)

// Diagnostic reasons.
const (
	ReasonMissingSubject   = "missing_subject_mapping"
	ReasonMissingEncounter = "missing_encounter_mapping"
	ReasonInvalidClientID  = "invalid_client_id"
	ReasonLookupMiss       = "lookup_miss"
	ReasonSlotMismatch     = "slot_mismatch"
	ReasonStoreWrite       = "store_write_failure"
)

// maxDiagnostics bounds the diagnostics kept in a summary. Every diagnostic
// is still logged.
const maxDiagnostics = 1000

// Diagnostic records why a row was skipped or a field was dropped.
type Diagnostic struct {
	Line       int    `json:"line"`
	ExternalID string `json:"external_id,omitempty"`
	Field      string `json:"field,omitempty"`
	Reason     string `json:"reason"`
	Detail     string `json:"detail,omitempty"`
}

// RunSummary counts what a run did. Written only counts committed observations.
type RunSummary struct {
	Job        string    `json:"job"`
	Source     string    `json:"source"`
	CommitMode string    `json:"commit_mode"`
	DryRun     bool      `json:"dry_run"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Rows      int  `json:"rows"`
	Processed int  `json:"processed"`
	Skipped   int  `json:"skipped"`
	Failed    int  `json:"failed"`
	Written   int  `json:"written"`
	Staged    int  `json:"staged,omitempty"`
	Empty     int  `json:"empty_fields"`
	Dropped   int  `json:"dropped_fields"`
	Aborted   bool `json:"aborted"`

	Diagnostics          []Diagnostic `json:"diagnostics,omitempty"`
	DiagnosticsTruncated int          `json:"diagnostics_truncated,omitempty"`
}

func (s *RunSummary) addDiagnostic(d Diagnostic) {
	if len(s.Diagnostics) >= maxDiagnostics {
		s.DiagnosticsTruncated++
		return
	}
	s.Diagnostics = append(s.Diagnostics, d)
}

// Duration is the wall time of the run.
func (s *RunSummary) Duration() time.Duration {
	if s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}
