package migration

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/stanelyg/OpenMRS-Patient-Migration-Script/internal/config"
	"github.com/stanelyg/OpenMRS-Patient-Migration-Script/internal/domain/identity"
	"github.com/stanelyg/OpenMRS-Patient-Migration-Script/internal/domain/job"
	"github.com/stanelyg/OpenMRS-Patient-Migration-Script/internal/domain/lookup"
	"github.com/stanelyg/OpenMRS-Patient-Migration-Script/internal/domain/observation"
	"github.com/stanelyg/OpenMRS-Patient-Migration-Script/internal/platform/db"
	"github.com/stanelyg/OpenMRS-Patient-Migration-Script/internal/platform/source"
)

// SourceOpener opens the reader for a job's source.
type SourceOpener func(ctx context.Context, spec source.Spec) (source.Reader, error)

// Stores are the destination repositories shared by every run.
type Stores struct {
	Tx           db.Transactor
	Lookups      lookup.Repository
	Identity     identity.Repository
	Observations observation.Repository
}

// RunRequest overrides parts of a job definition for one run.
type RunRequest struct {
	File       string `json:"file,omitempty"`
	Table      string `json:"table,omitempty"`
	DryRun     bool   `json:"dry_run,omitempty"`
	CommitMode string `json:"commit_mode,omitempty"`
}

type Service struct {
	registry *job.Registry
	stores   Stores
	open     SourceOpener
	cfg      *config.Config
	logger   zerolog.Logger

	mu      sync.Mutex
	running map[string]bool
}

func NewService(registry *job.Registry, stores Stores, open SourceOpener, cfg *config.Config, logger zerolog.Logger) *Service {
	return &Service{
		registry: registry,
		stores:   stores,
		open:     open,
		cfg:      cfg,
		logger:   logger,
		running:  make(map[string]bool),
	}
}

func (s *Service) Jobs() []*job.Job {
	return s.registry.List()
}

func (s *Service) Job(name string) (*job.Job, error) {
	return s.registry.Get(name)
}

// Run executes the named job. Each run gets its own lookup cache. A second
// concurrent run of the same job fails with ErrRunInProgress.
func (s *Service) Run(ctx context.Context, name string, req RunRequest) (*RunSummary, error) {
	j, err := s.registry.Get(name)
	if err != nil {
		return nil, err
	}
	j.Source = j.Source.Override(req.File, req.Table)
	if err := j.Source.Validate(); err != nil {
		return nil, fmt.Errorf("%w: job %s: %v", ErrInvalidRequest, name, err)
	}

	opts, err := s.options(req)
	if err != nil {
		return nil, err
	}

	if !s.acquire(name) {
		return nil, fmt.Errorf("%w: %s", ErrRunInProgress, name)
	}
	defer s.release(name)

	rd, err := s.open(ctx, j.Source)
	if err != nil {
		return nil, fmt.Errorf("open source %s: %w", j.Source, err)
	}
	defer rd.Close()

	log := s.logger.With().Str("source", j.Source.String()).Logger()
	cache := lookup.NewCache(s.stores.Lookups, log)
	runner := NewRunner(Deps{
		Tx:          s.stores.Tx,
		Lookups:     cache,
		Resolver:    identity.NewResolver(s.stores.Identity),
		Transformer: observation.NewTransformer(cache),
		Writer:      observation.NewWriter(s.stores.Observations, s.cfg.LocationID, s.cfg.CreatorID),
	}, opts, log)

	return runner.Run(ctx, rd, j)
}

func (s *Service) options(req RunRequest) (Options, error) {
	mode := strings.ToLower(strings.TrimSpace(req.CommitMode))
	if mode == "" {
		mode = s.cfg.CommitMode
	}
	switch mode {
	case config.CommitPerWrite, config.CommitPerRow, config.CommitPerRun:
	default:
		return Options{}, fmt.Errorf("%w: commit mode %q", ErrInvalidRequest, req.CommitMode)
	}
	return Options{CommitMode: mode, DryRun: req.DryRun, Timeout: s.cfg.RunTimeout}, nil
}

func (s *Service) acquire(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[name] {
		return false
	}
	s.running[name] = true
	return true
}

func (s *Service) release(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, name)
}
