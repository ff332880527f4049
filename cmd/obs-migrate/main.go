package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/stanelyg/OpenMRS-Patient-Migration-Script/internal/config"
	"github.com/stanelyg/OpenMRS-Patient-Migration-Script/internal/domain/identity"
	"github.com/stanelyg/OpenMRS-Patient-Migration-Script/internal/domain/job"
	"github.com/stanelyg/OpenMRS-Patient-Migration-Script/internal/domain/lookup"
	"github.com/stanelyg/OpenMRS-Patient-Migration-Script/internal/domain/migration"
	"github.com/stanelyg/OpenMRS-Patient-Migration-Script/internal/domain/observation"
	"github.com/stanelyg/OpenMRS-Patient-Migration-Script/internal/platform/auth"
	"github.com/stanelyg/OpenMRS-Patient-Migration-Script/internal/platform/db"
	"github.com/stanelyg/OpenMRS-Patient-Migration-Script/internal/platform/middleware"
	"github.com/stanelyg/OpenMRS-Patient-Migration-Script/internal/platform/source"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "obs-migrate",
		Short:        "Migrate DREAMS survey records into OpenMRS observations",
		SilenceUsage: true,
	}
	root.AddCommand(runCmd())
	root.AddCommand(jobsCmd())
	root.AddCommand(serveCmd())
	return root
}

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	return logger.Level(level)
}

func runCmd() *cobra.Command {
	var (
		file       string
		table      string
		dryRun     bool
		commitMode string
	)
	cmd := &cobra.Command{
		Use:   "run <job>",
		Short: "Run a migration job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if commitMode != "" {
				cfg.CommitMode = strings.ToLower(strings.TrimSpace(commitMode))
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger := newLogger(cfg)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close(logger)

			summary, err := a.svc.Run(ctx, args[0], migration.RunRequest{File: file, Table: table, DryRun: dryRun})
			if summary != nil {
				if perr := printSummary(cmd.OutOrStdout(), summary); perr != nil {
					return perr
				}
			}
			return err
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "read rows from this delimited file instead of the job's source")
	cmd.Flags().StringVar(&table, "table", "", "read rows from this source table instead of the job's source")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "run the whole pipeline and roll back every write")
	cmd.Flags().StringVar(&commitMode, "commit-mode", "", "write, row or run (default COMMIT_MODE)")
	cmd.MarkFlagsMutuallyExclusive("file", "table")
	return cmd
}

func jobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect job definitions",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List available jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := loadRegistry()
			if err != nil {
				return err
			}
			return printJobs(cmd.OutOrStdout(), reg.List())
		},
	}

	showCmd := &cobra.Command{
		Use:   "show <job>",
		Short: "Show a job's source and field mappings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := loadRegistry()
			if err != nil {
				return err
			}
			j, err := reg.Get(args[0])
			if err != nil {
				return err
			}
			return printJob(cmd.OutOrStdout(), j)
		},
	}

	cmd.AddCommand(listCmd, showCmd)
	return cmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the job API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func loadRegistry() (*job.Registry, error) {
	cfg, err := config.Read()
	if err != nil {
		return nil, err
	}
	return job.Load(cfg.JobsDir)
}

// app holds the connections shared by the run and serve commands. The
// source database is connected on first use by a table job.
type app struct {
	svc  *migration.Service
	pool *pgxpool.Pool
	src  *lazySource
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	reg, err := job.Load(cfg.JobsDir)
	if err != nil {
		return nil, err
	}

	pool, err := db.NewPool(ctx, db.PoolConfig{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	})
	if err != nil {
		return nil, fmt.Errorf("connect destination database: %w", err)
	}
	logger.Info().Msg("connected to destination database")

	src := &lazySource{dsn: cfg.SourceDatabaseURL}
	stores := migration.Stores{
		Tx:           db.NewTransactor(pool),
		Lookups:      lookup.NewRepo(pool),
		Identity:     identity.NewRepo(pool),
		Observations: observation.NewRepo(pool),
	}
	return &app{
		svc:  migration.NewService(reg, stores, src.Open, cfg, logger),
		pool: pool,
		src:  src,
	}, nil
}

func (a *app) Close(logger zerolog.Logger) {
	if err := a.src.Close(); err != nil {
		logger.Warn().Err(err).Msg("close source database")
	}
	a.pool.Close()
}

// lazySource opens table readers against the source database, connecting on
// the first table read. File sources never touch the database.
type lazySource struct {
	dsn string

	mu sync.Mutex
	db *sqlx.DB
}

func (l *lazySource) Open(ctx context.Context, spec source.Spec) (source.Reader, error) {
	if spec.Table == "" {
		return source.Open(ctx, spec, nil)
	}
	conn, err := l.conn(ctx)
	if err != nil {
		return nil, err
	}
	return source.Open(ctx, spec, conn)
}

func (l *lazySource) conn(ctx context.Context) (*sqlx.DB, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.db != nil {
		return l.db, nil
	}
	if l.dsn == "" {
		return nil, errors.New("SOURCE_DATABASE_URL is required for table sources")
	}
	conn, err := source.OpenDB(ctx, l.dsn)
	if err != nil {
		return nil, err
	}
	l.db = conn
	return conn, nil
}

// PingContext connects if needed and pings the source database.
func (l *lazySource) PingContext(ctx context.Context) error {
	conn, err := l.conn(ctx)
	if err != nil {
		return err
	}
	return conn.PingContext(ctx)
}

func (l *lazySource) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.db == nil {
		return nil
	}
	err := l.db.Close()
	l.db = nil
	return err
}

func printSummary(w io.Writer, s *migration.RunSummary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

func printJobs(w io.Writer, jobs []*job.Job) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSOURCE\tFIELDS\tLOOKUPS\tDESCRIPTION")
	for _, j := range jobs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", j.Name, j.Source, len(j.Fields), len(j.LookupTables()), j.Description)
	}
	return tw.Flush()
}

func printJob(w io.Writer, j *job.Job) error {
	fmt.Fprintf(w, "name:          %s\n", j.Name)
	if j.Description != "" {
		fmt.Fprintf(w, "description:   %s\n", j.Description)
	}
	fmt.Fprintf(w, "source:        %s\n", j.Source)
	fmt.Fprintf(w, "subject field: %s\n\n", j.SubjectField)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FIELD\tCONCEPT\tKIND\tLOOKUP")
	for _, f := range j.Fields {
		lk := f.Lookup
		if lk == "" && f.Kind == job.KindCoded {
			lk = "(code is concept id)"
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", f.Field, f.Concept, f.Kind, lk)
	}
	return tw.Flush()
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.ValidateServe(); err != nil {
		return err
	}
	logger := newLogger(cfg)

	a, err := newApp(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to start")
	}
	defer a.Close(logger)

	var srcPinger db.Pinger
	if cfg.SourceDatabaseURL != "" {
		srcPinger = a.src
	}
	e := newServer(cfg, logger, a.svc)
	e.GET("/health/db", db.HealthHandler(a.pool, srcPinger))

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

func newServer(cfg *config.Config, logger zerolog.Logger, svc *migration.Service) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))

	jwtCfg := auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		SigningKey: []byte(cfg.AuthSigningKey),
		Skipper:    auth.AuthSkipper,
	}
	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware(jwtCfg))
	} else {
		e.Use(auth.JWTMiddleware(jwtCfg))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	apiV1 := e.Group("/api/v1")
	migration.NewHandler(svc).RegisterRoutes(apiV1)
	return e
}
