package migration

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/stanelyg/OpenMRS-Patient-Migration-Script/internal/config"
	"github.com/stanelyg/OpenMRS-Patient-Migration-Script/internal/domain/identity"
	"github.com/stanelyg/OpenMRS-Patient-Migration-Script/internal/domain/job"
	"github.com/stanelyg/OpenMRS-Patient-Migration-Script/internal/domain/observation"
	"github.com/stanelyg/OpenMRS-Patient-Migration-Script/internal/platform/db"
	"github.com/stanelyg/OpenMRS-Patient-Migration-Script/internal/platform/source"
)

type Preloader interface {
	Preload(ctx context.Context, names []string) error
}

type Resolver interface {
	Resolve(ctx context.Context, externalID interface{}) (identity.Chain, error)
}

type Transformer interface {
	Transform(ctx context.Context, raw interface{}, spec job.FieldSpec) (observation.Value, error)
}

type Writer interface {
	Write(ctx context.Context, req observation.WriteRequest) (*observation.Observation, error)
}

// Deps are the collaborators of one run. Lookups must be the same cache the
// Transformer reads from.
type Deps struct {
	Tx          db.Transactor
	Lookups     Preloader
	Resolver    Resolver
	Transformer Transformer
	Writer      Writer
}

type Options struct {
	CommitMode string
	DryRun     bool
	Timeout    time.Duration
}

type Runner struct {
	deps   Deps
	opts   Options
	logger zerolog.Logger
}

func NewRunner(deps Deps, opts Options, logger zerolog.Logger) *Runner {
	if opts.CommitMode == "" {
		opts.CommitMode = config.CommitPerRow
	}
	return &Runner{deps: deps, opts: opts, logger: logger}
}

// unit is an open transaction and the observations written in it.
type unit struct {
	ctx    context.Context
	tx     db.Tx
	staged int
}

// Run processes every row of rd in order. Rows whose identity does not
// resolve are skipped; field-level problems drop only that field. The
// returned error is non-nil only when the run could not finish, and the
// summary is always returned.
func (r *Runner) Run(ctx context.Context, rd source.Reader, j *job.Job) (*RunSummary, error) {
	s := &RunSummary{
		Job:        j.Name,
		Source:     j.Source.String(),
		CommitMode: r.opts.CommitMode,
		DryRun:     r.opts.DryRun,
		StartedAt:  time.Now().UTC(),
	}
	log := r.logger.With().Str("job", j.Name).Str("commit_mode", r.opts.CommitMode).Bool("dry_run", r.opts.DryRun).Logger()

	if r.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
	}

	if err := r.deps.Lookups.Preload(ctx, j.LookupTables()); err != nil {
		log.Error().Err(err).Msg("lookup tables unavailable, run not started")
		return r.finish(log, s, nil, err)
	}

	var runUnit *unit
	if r.opts.CommitMode == config.CommitPerRun {
		u, err := r.begin(ctx)
		if err != nil {
			return r.finish(log, s, nil, err)
		}
		runUnit = u
	}

	for {
		if err := ctx.Err(); err != nil {
			return r.finish(log, s, runUnit, err)
		}
		row, err := rd.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return r.finish(log, s, runUnit, fmt.Errorf("read source: %w", err))
		}
		s.Rows++

		if err := r.processRow(ctx, log, s, j, row, runUnit); err != nil {
			return r.finish(log, s, runUnit, err)
		}
	}

	if runUnit != nil {
		if err := r.end(runUnit, s); err != nil {
			return r.finish(log, s, nil, err)
		}
	}
	return r.finish(log, s, nil, nil)
}

func (r *Runner) processRow(ctx context.Context, log zerolog.Logger, s *RunSummary, j *job.Job, row source.Row, runUnit *unit) error {
	// identity reads share the run transaction so run mode holds one connection
	readCtx := ctx
	if runUnit != nil {
		readCtx = runUnit.ctx
	}
	externalID, _ := row.Get(j.SubjectField)
	chain, err := r.deps.Resolver.Resolve(readCtx, externalID)
	if err != nil {
		if !identity.IsNotFound(err) {
			return fmt.Errorf("line %d: resolve identity: %w", row.Line, err)
		}
		s.Skipped++
		d := Diagnostic{Line: row.Line, ExternalID: chain.ExternalID, Reason: skipReason(err), Detail: err.Error()}
		s.addDiagnostic(d)
		log.Warn().Int("line", row.Line).Str("client_id", chain.ExternalID).Str("reason", d.Reason).Msg("row skipped")
		return nil
	}

	u := runUnit
	if r.opts.CommitMode == config.CommitPerRow {
		if u, err = r.begin(ctx); err != nil {
			return err
		}
	}

	failed := false
	for _, f := range j.Fields {
		raw, _ := row.Get(f.Field)
		val, err := r.deps.Transformer.Transform(ctx, raw, f)
		switch {
		case errors.Is(err, observation.ErrEmptyValue):
			s.Empty++
			continue
		case errors.Is(err, observation.ErrLookupMiss):
			r.drop(log, s, row.Line, chain, f, ReasonLookupMiss, err)
			continue
		case err != nil:
			r.discard(u, runUnit)
			return fmt.Errorf("line %d field %s: %w", row.Line, f.Field, err)
		}

		wu := u
		if r.opts.CommitMode == config.CommitPerWrite {
			if wu, err = r.begin(ctx); err != nil {
				return err
			}
		}

		_, err = r.deps.Writer.Write(wu.ctx, observation.WriteRequest{
			SubjectID:   chain.SubjectID,
			EncounterID: chain.EncounterID,
			Field:       f,
			Value:       val,
		})
		switch {
		case err == nil:
			wu.staged++
			if r.opts.CommitMode == config.CommitPerWrite {
				if err := r.end(wu, s); err != nil {
					return err
				}
			}
			continue
		case errors.Is(err, observation.ErrSlotMismatch):
			r.drop(log, s, row.Line, chain, f, ReasonSlotMismatch, err)
			if r.opts.CommitMode == config.CommitPerWrite {
				r.discard(wu, nil)
			}
			continue
		case r.opts.CommitMode != config.CommitPerRun && db.IsStatementError(err) && ctx.Err() == nil:
			r.discard(wu, nil)
			failed = true
			s.addDiagnostic(Diagnostic{Line: row.Line, ExternalID: chain.ExternalID, Field: f.Field, Reason: ReasonStoreWrite, Detail: err.Error()})
			log.Error().Err(err).Int("line", row.Line).Str("client_id", chain.ExternalID).Str("field", f.Field).Msg("store write failed, unit rolled back")
		default:
			if r.opts.CommitMode == config.CommitPerWrite {
				r.discard(wu, nil)
			}
			r.discard(u, runUnit)
			return fmt.Errorf("line %d field %s: %w", row.Line, f.Field, err)
		}
		// the row transaction is unusable after a failed statement
		if r.opts.CommitMode == config.CommitPerRow {
			break
		}
	}

	if failed {
		s.Failed++
		return nil
	}
	if r.opts.CommitMode == config.CommitPerRow {
		if err := r.end(u, s); err != nil {
			return err
		}
	}
	s.Processed++
	return nil
}

func (r *Runner) drop(log zerolog.Logger, s *RunSummary, line int, chain identity.Chain, f job.FieldSpec, reason string, err error) {
	s.Dropped++
	s.addDiagnostic(Diagnostic{Line: line, ExternalID: chain.ExternalID, Field: f.Field, Reason: reason, Detail: err.Error()})
	log.Debug().Int("line", line).Str("client_id", chain.ExternalID).Str("field", f.Field).Str("kind", string(f.Kind)).Str("reason", reason).Msg("field dropped")
}

func (r *Runner) begin(ctx context.Context) (*unit, error) {
	txCtx, tx, err := r.deps.Tx.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	return &unit{ctx: txCtx, tx: tx}, nil
}

// end commits u, or rolls it back on a dry run.
func (r *Runner) end(u *unit, s *RunSummary) error {
	if r.opts.DryRun {
		if err := u.tx.Rollback(context.WithoutCancel(u.ctx)); err != nil {
			return fmt.Errorf("rollback dry run: %w", err)
		}
		s.Staged += u.staged
		return nil
	}
	if err := u.tx.Commit(u.ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.Written += u.staged
	return nil
}

// discard rolls back u unless it is keep, which is rolled back by its owner.
func (r *Runner) discard(u, keep *unit) {
	if u == nil || u == keep {
		return
	}
	if err := u.tx.Rollback(context.WithoutCancel(u.ctx)); err != nil {
		r.logger.Warn().Err(err).Msg("rollback failed")
	}
}

func (r *Runner) finish(log zerolog.Logger, s *RunSummary, open *unit, err error) (*RunSummary, error) {
	r.discard(open, nil)
	s.FinishedAt = time.Now().UTC()

	if err != nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)) {
		s.Aborted = true
		err = fmt.Errorf("%w: %v", ErrRunAborted, err)
	}

	ev := log.Info()
	if err != nil {
		ev = log.Error().Err(err)
	}
	ev.Int("rows", s.Rows).
		Int("processed", s.Processed).
		Int("skipped", s.Skipped).
		Int("failed", s.Failed).
		Int("written", s.Written).
		Int("staged", s.Staged).
		Int("dropped", s.Dropped).
		Dur("duration", s.Duration()).
		Msg("migration run finished")
	return s, err
}

func skipReason(err error) string {
	switch {
	case errors.Is(err, identity.ErrSubjectNotFound):
		return ReasonMissingSubject
	case errors.Is(err, identity.ErrEncounterNotFound):
		return ReasonMissingEncounter
	default:
		return ReasonInvalidClientID
	}
}
