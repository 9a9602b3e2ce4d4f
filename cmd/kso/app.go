package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/koster-lab/kso-agent/internal/catalog"
	"github.com/koster-lab/kso-agent/internal/config"
	"github.com/koster-lab/kso-agent/internal/db"
	"github.com/koster-lab/kso-agent/internal/logging"
	"github.com/koster-lab/kso-agent/internal/materialize"
	"github.com/koster-lab/kso-agent/internal/movies"
	"github.com/koster-lab/kso-agent/internal/transcode"
	"github.com/koster-lab/kso-agent/internal/workflow"
	"github.com/koster-lab/kso-agent/internal/zooniverse"
)

// flagConfig layers command line flags over the loaded configuration.
type flagConfig struct {
	config.Config
	flags   commonFlags
	project config.Project
}

func (c flagConfig) DBPath() string {
	if c.flags.db != "" && db.DriverFor(c.flags.db) == db.DriverSQLite {
		return c.flags.db
	}
	return c.Config.DBPath()
}

func (c flagConfig) DBDSN() string {
	if c.flags.db != "" && db.DriverFor(c.flags.db) == db.DriverPostgres {
		return c.flags.db
	}
	return c.Config.DBDSN()
}

func (c flagConfig) MovieDir() string {
	if c.flags.movies != "" {
		return c.flags.movies
	}
	return c.Config.MovieDir()
}

func (c flagConfig) OutputDir() string {
	if c.flags.out != "" {
		return c.flags.out
	}
	return c.Config.OutputDir()
}

func (c flagConfig) Workers() int {
	if c.flags.workers > 0 {
		return c.flags.workers
	}
	return c.Config.Workers()
}

func (c flagConfig) Project() config.Project {
	if c.project != "" {
		return c.project
	}
	return c.Config.Project()
}

func applyFlags(base config.Config, flags commonFlags) (config.Config, error) {
	fc := flagConfig{Config: base, flags: flags}
	if flags.project != "" {
		p, err := config.ParseProject(flags.project)
		if err != nil {
			return nil, err
		}
		fc.project = p
	}
	if flags.workers < 0 {
		return nil, &config.ValidationError{Field: "workers", Value: flags.workers, Reason: "must not be negative"}
	}
	return fc, nil
}

// databaseDSN prefers a remote DSN over the local database file.
func databaseDSN(cfg config.Config) string {
	if dsn := cfg.DBDSN(); dsn != "" {
		return dsn
	}
	return cfg.DBPath()
}

type app struct {
	cfg      config.Config
	logger   *slog.Logger
	database *db.DB
	catalog  *catalog.Service
	resolver movies.Resolver
	doctor   *transcode.CachedDoctor
	runner   *workflow.Runner
}

func newApp(ctx context.Context, flags commonFlags, dryRun bool) (*app, error) {
	base, err := config.New()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg, err := applyFlags(base, flags)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.DataDir(), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	if err := os.MkdirAll(cfg.CacheDir(), 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache dir: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel())
	logger.Info("starting kso agent",
		"version", config.Version,
		"project", cfg.Project(),
		"data_dir", logging.SanitizePath(cfg.DataDir()),
	)

	database, err := db.New(databaseDSN(cfg), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	a := &app{cfg: cfg, logger: logger, database: database}
	if err := a.wire(ctx, dryRun); err != nil {
		database.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context, dryRun bool) error {
	cfg, logger := a.cfg, a.logger

	repo := catalog.NewRepository(a.database.Conn(), a.database.Driver())
	a.catalog = catalog.NewService(repo, logging.WithComponent(logger, "catalog"))

	resolver, err := movies.ForProject(ctx, cfg, logging.WithComponent(logger, "movies"))
	if err != nil {
		return err
	}
	a.resolver = resolver

	var tc transcode.Transcoder
	ff, err := transcode.NewFFmpeg(transcode.DefaultConfig(cfg.FFmpegPath(), cfg.FFmpegTimeout(), logging.WithComponent(logger, "ffmpeg")))
	if err != nil {
		logger.Warn("ffmpeg unavailable, clip and frame extraction disabled", "error", err)
		tc = unavailableTranscoder{err: err}
	} else {
		tc = ff
	}
	a.doctor = transcode.NewCachedDoctor(tc, logger)

	client, err := newZooniverseClient(cfg, dryRun, logging.WithComponent(logger, "zooniverse"))
	if err != nil {
		return err
	}

	a.runner = workflow.NewRunner(workflow.Deps{
		Catalog:  a.catalog,
		Resolver: resolver,
		Materializer: materialize.New(tc, materialize.Config{
			Workers:   cfg.Workers(),
			SizeLimit: materialize.MaxUploadSize,
			Logger:    logging.WithComponent(logger, "materialize"),
		}),
		Doctor:    a.doctor,
		Client:    client,
		ProjectID: cfg.ZooniverseProjectID(),
		OutputDir: cfg.OutputDir(),
		Logger:    logger,
	})
	return nil
}

func (a *app) Close() error {
	return a.database.Close()
}

func newZooniverseClient(cfg config.Config, dryRun bool, logger *slog.Logger) (zooniverse.Client, error) {
	if dryRun {
		return zooniverse.NewStubClient(logger), nil
	}
	if cfg.ZooniverseToken() == "" || cfg.ZooniverseProjectID() == "" {
		return nil, &config.ValidationError{
			Field:  "zooniverse",
			Value:  cfg.ZooniverseProjectID(),
			Reason: fmt.Sprintf("%s and %s are required to upload", config.EnvZooniverseToken, config.EnvZooniverseProjectID),
		}
	}
	logger.Info("zooniverse uploads enabled",
		"base_url", cfg.ZooniverseBaseURL(),
		"project_id", cfg.ZooniverseProjectID(),
		"token", logging.SanitizeToken(cfg.ZooniverseToken()),
	)
	return zooniverse.NewHTTPClient(cfg.ZooniverseBaseURL(), cfg.ZooniverseToken(), cfg.ZooniverseRateLimit(), logger), nil
}

// unavailableTranscoder stands in when ffmpeg is not installed so planning
// commands keep working; the doctor reports the error before any batch.
type unavailableTranscoder struct {
	err error
}

func (u unavailableTranscoder) ExtractClip(ctx context.Context, input string, start, length int, out string) (transcode.RunResult, error) {
	return transcode.RunResult{ExitCode: -1}, u.err
}

func (u unavailableTranscoder) ModifyClip(ctx context.Context, input string, p transcode.Preset, out string) (transcode.RunResult, error) {
	return transcode.RunResult{ExitCode: -1}, u.err
}

func (u unavailableTranscoder) ExtractFrame(ctx context.Context, input string, seconds float64, out string) (transcode.RunResult, error) {
	return transcode.RunResult{ExitCode: -1}, u.err
}

func (u unavailableTranscoder) Probe(ctx context.Context) (*transcode.Capabilities, error) {
	return nil, u.err
}
