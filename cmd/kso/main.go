package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/koster-lab/kso-agent/internal/api"
	"github.com/koster-lab/kso-agent/internal/config"
	"github.com/koster-lab/kso-agent/internal/report"
)

const usage = `usage: kso <command> [flags]

commands:
  clips    cut clips from a movie and upload them as subjects
  frames   extract frames after species sightings and upload them
  movies   list catalog movies and whether their files can be found
  serve    run the read-only planning API
  version  print the version

run "kso <command> -h" for the flags of a command.
`

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}

func run(args []string, stdout io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(stdout, usage)
		return errors.New("no command given")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "clips":
		return runClips(ctx, rest, stdout)
	case "frames":
		return runFrames(ctx, rest, stdout)
	case "movies":
		return runMovies(ctx, rest, stdout)
	case "serve":
		return runServe(ctx, rest)
	case "version":
		fmt.Fprintf(stdout, "kso %s (%s, built %s)\n", config.Version, config.GitCommit, config.BuildTime)
		return nil
	case "-h", "--help", "help":
		fmt.Fprint(stdout, usage)
		return nil
	default:
		fmt.Fprint(stdout, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// commonFlags are accepted by every command and override the loaded config.
type commonFlags struct {
	db      string
	movies  string
	out     string
	project string
	workers int
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.db, "db", "", "database path or postgres:// DSN")
	fs.StringVar(&c.movies, "movies", "", "directory holding the source movies")
	fs.StringVar(&c.out, "out", "", "directory clips and frames are written to")
	fs.StringVar(&c.project, "project", "", "project name (Koster_Seafloor_Obs or Spyfish_Aotearoa)")
	fs.IntVar(&c.workers, "workers", 0, "parallel transcoder invocations")
}

func runClips(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("clips", flag.ContinueOnError)
	var common commonFlags
	common.register(fs)
	movie := fs.String("movie", "", "filename of the movie to cut")
	length := fs.Int("length", config.AllowedClipLengths[len(config.AllowedClipLengths)-1], "clip length in seconds")
	start := fs.String("start", "", "first second of the range to cut (default survey start)")
	end := fs.String("end", "", "last second of the range to cut (default survey end)")
	modification := fs.String("modification", "", "re-encoding preset applied before upload")
	dryRun := fs.Bool("dry-run", false, "materialize media but do not upload")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := newApp(ctx, common, *dryRun)
	if err != nil {
		return err
	}
	defer a.Close()

	opts := config.ClipOptions{
		Project:       a.cfg.Project(),
		MovieFilename: *movie,
		ClipLength:    *length,
		DryRun:        *dryRun,
	}
	if opts.RangeStart, err = optionalInt("start", *start); err != nil {
		return err
	}
	if opts.RangeEnd, err = optionalInt("end", *end); err != nil {
		return err
	}
	if opts.Modification, err = config.ParseModification(*modification); err != nil {
		return err
	}

	summary, err := a.runner.RunClips(ctx, opts)
	return finish(stdout, summary, err)
}

func runFrames(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("frames", flag.ContinueOnError)
	var common commonFlags
	common.register(fs)
	species := fs.String("species", "", "comma separated species ids")
	n := fs.Int("n", 3, "frames to extract after each sighting")
	dryRun := fs.Bool("dry-run", false, "materialize media but do not upload")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ids, err := parseIDs(*species)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, common, *dryRun)
	if err != nil {
		return err
	}
	defer a.Close()

	summary, err := a.runner.RunFrames(ctx, config.FrameOptions{
		Project:    a.cfg.Project(),
		SpeciesIDs: ids,
		NFrames:    *n,
		DryRun:     *dryRun,
	})
	return finish(stdout, summary, err)
}

func runMovies(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("movies", flag.ContinueOnError)
	var common commonFlags
	common.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := newApp(ctx, common, true)
	if err != nil {
		return err
	}
	defer a.Close()

	movies, err := a.catalog.AvailableMovies(ctx, a.resolver)
	if err != nil {
		return err
	}
	found := 0
	for _, m := range movies {
		status := "missing"
		if m.Found {
			status = m.Path
			found++
		}
		fmt.Fprintf(stdout, "%-40s %8.0fs  %s\n", m.Movie.Filename, m.Movie.Duration, status)
	}
	fmt.Fprintf(stdout, "%d of %d movies available\n", found, len(movies))
	return nil
}

func runServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	var common commonFlags
	common.register(fs)
	port := fs.Int("port", 0, "listen port on 127.0.0.1")
	if err := fs.Parse(args); err != nil {
		return err
	}

	startTime := time.Now()
	a, err := newApp(ctx, common, true)
	if err != nil {
		return err
	}
	defer a.Close()

	p := a.cfg.Port()
	if *port != 0 {
		p = *port
	}
	if a.cfg.APIToken() == "" {
		a.logger.Warn("no API token configured, every request except /health will be rejected", "env", config.EnvAPIToken)
	}

	server := api.NewServer(api.ServerConfig{
		Port:      p,
		Project:   a.cfg.Project(),
		APIToken:  a.cfg.APIToken(),
		Catalog:   a.catalog,
		Resolver:  a.resolver,
		Planner:   a.runner,
		Doctor:    a.doctor,
		Logger:    a.logger,
		StartTime: startTime,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.logger.Info("initiating graceful shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("failed to shutdown HTTP server", "error", err)
	}
	a.logger.Info("shutdown complete")
	return nil
}

func finish(stdout io.Writer, summary *report.Summary, err error) error {
	if summary != nil {
		if perr := summary.Print(stdout); perr != nil && err == nil {
			err = perr
		}
	}
	return err
}

func optionalInt(name, v string) (*int, error) {
	if v == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return nil, &config.ValidationError{Field: name, Value: v, Reason: "must be a whole number of seconds"}
	}
	return &n, nil
}

func parseIDs(s string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, &config.ValidationError{Field: "species", Value: part, Reason: "species ids must be integers"}
		}
		ids = append(ids, id)
	}
	return ids, nil
}
