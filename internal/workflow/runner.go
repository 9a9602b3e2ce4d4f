// Package workflow drives a clip or frame batch end to end: schedule,
// materialize, optionally modify, then upload.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/koster-lab/kso-agent/internal/catalog"
	"github.com/koster-lab/kso-agent/internal/config"
	"github.com/koster-lab/kso-agent/internal/logging"
	"github.com/koster-lab/kso-agent/internal/materialize"
	"github.com/koster-lab/kso-agent/internal/movies"
	"github.com/koster-lab/kso-agent/internal/report"
	"github.com/koster-lab/kso-agent/internal/schedule"
	"github.com/koster-lab/kso-agent/internal/transcode"
	"github.com/koster-lab/kso-agent/internal/upload"
	"github.com/koster-lab/kso-agent/internal/zooniverse"
)

// ErrTranscoderUnavailable is returned when the transcoder probe fails
// before a batch starts.
var ErrTranscoderUnavailable = errors.New("transcoder unavailable")

type Deps struct {
	Catalog      catalog.CatalogService
	Resolver     movies.Resolver
	Materializer *materialize.Materializer
	Doctor       *transcode.CachedDoctor
	Client       zooniverse.Client
	ProjectID    string
	OutputDir    string
	Logger       *slog.Logger
}

type Runner struct {
	catalog      catalog.CatalogService
	resolver     movies.Resolver
	materializer *materialize.Materializer
	doctor       *transcode.CachedDoctor
	client       zooniverse.Client
	projectID    string
	outputDir    string
	logger       *slog.Logger
}

func NewRunner(d Deps) *Runner {
	logger := d.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Runner{
		catalog:      d.Catalog,
		resolver:     d.Resolver,
		materializer: d.Materializer,
		doctor:       d.Doctor,
		client:       d.Client,
		projectID:    d.ProjectID,
		outputDir:    d.OutputDir,
		logger:       logger,
	}
}

func (r *Runner) start(kind string) (*report.Summary, *slog.Logger) {
	runID := uuid.NewString()
	logger := logging.WithComponent(logging.WithRunID(r.logger, runID), kind)
	return report.NewSummary(runID), logger
}

func (r *Runner) checkTranscoder(ctx context.Context, logger *slog.Logger) error {
	if r.doctor == nil {
		return nil
	}
	caps, err := r.doctor.Get(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTranscoderUnavailable, err)
	}
	logger.Debug("transcoder ready", "path", logging.SanitizePath(caps.Path), "version", caps.Version)
	return nil
}

func (r *Runner) packager(dryRun bool, logger *slog.Logger) *upload.Packager {
	return upload.NewPackager(r.client, r.projectID, dryRun, logger)
}

// PlanClips computes the clip plan of a movie without touching any media.
func (r *Runner) PlanClips(ctx context.Context, opts config.ClipOptions) (*schedule.ClipPlan, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	movie, uploaded, err := r.catalog.ClipHistory(ctx, opts.MovieFilename)
	if err != nil {
		return nil, err
	}
	return schedule.PlanClips(schedule.ClipRequest{
		Movie:  movie,
		Length: opts.ClipLength,
		Start:  opts.RangeStart,
		End:    opts.RangeEnd,
	}, uploaded)
}

// RunClips schedules, cuts, optionally re-encodes and uploads the clips of
// one movie. Errors that stop the whole batch are returned; per-item
// failures only show up in the summary.
func (r *Runner) RunClips(ctx context.Context, opts config.ClipOptions) (*report.Summary, error) {
	summary, logger := r.start("clips")
	started := time.Now()

	plan, err := r.PlanClips(ctx, opts)
	if err != nil {
		return summary, err
	}
	movie := plan.Movie
	logger = logging.WithMovie(logger, movie.ID, movie.Filename)

	summary.Warn(plan.Warnings...)
	for range plan.Candidates {
		summary.Succeeded(report.StageSchedule)
	}
	for range plan.Excluded + plan.Overflow {
		summary.Skipped(report.StageSchedule)
	}
	logger.Info("clips scheduled",
		"candidates", len(plan.Candidates),
		"estimated", plan.Estimated,
		"excluded", plan.Excluded,
		"overflow", plan.Overflow,
	)
	if len(plan.Candidates) == 0 {
		logger.Warn("no clips left to upload for movie")
		return summary, nil
	}

	moviePath, err := r.resolver.Resolve(ctx, movie)
	if err != nil {
		return summary, fmt.Errorf("movie %s: %w", movie.Filename, err)
	}
	if err := r.checkTranscoder(ctx, logger); err != nil {
		return summary, err
	}
	outDir, err := materialize.PrepareOutputDir(r.outputDir)
	if err != nil {
		return summary, err
	}

	tasks := materialize.ClipTasks(plan, moviePath, outDir)
	results, err := r.materializer.Run(ctx, report.StageMaterialize, tasks, summary)
	if err != nil {
		return summary, err
	}

	// media path -> clip it was cut for
	byPath := make(map[string]schedule.ClipCandidate, len(results))
	for i, res := range results {
		if res.OK() {
			byPath[res.Task.Output] = plan.Candidates[i]
		}
	}
	media := make([]upload.ClipMedia, 0, len(byPath))
	for _, res := range results {
		if c, ok := byPath[res.Task.Output]; ok {
			media = append(media, upload.ClipMedia{Path: res.Task.Output, Candidate: c})
		}
	}

	details := ""
	if preset, ok := transcode.PresetFor(opts.Modification); ok {
		details = preset.Details()
		clipPaths := make([]string, 0, len(media))
		for _, m := range media {
			clipPaths = append(clipPaths, m.Path)
		}
		modified, err := r.materializer.Run(ctx, report.StageModify, materialize.ModifyTasks(clipPaths, preset, outDir, movie.Stem()), summary)
		if err != nil {
			return summary, err
		}
		media = media[:0]
		for _, res := range modified {
			if res.OK() {
				media = append(media, upload.ClipMedia{Path: res.Task.Output, Candidate: byPath[res.Task.Input]})
			}
		}
	}

	site := r.site(ctx, movie, summary, logger)
	batch := upload.ClipBatch(opts.Project, movie, site, details, media)
	if _, err := r.packager(opts.DryRun, logger).Publish(ctx, batch, summary); err != nil {
		return summary, err
	}

	logger.Info("clip batch finished", "duration_ms", time.Since(started).Milliseconds())
	return summary, nil
}

func (r *Runner) site(ctx context.Context, m *catalog.Movie, summary *report.Summary, logger *slog.Logger) *catalog.Site {
	if m.SiteID == 0 {
		return nil
	}
	site, err := r.catalog.Site(ctx, m.SiteID)
	if err != nil || site == nil {
		msg := fmt.Sprintf("site %d not found", m.SiteID)
		if err != nil {
			msg = fmt.Sprintf("site %d: %v", m.SiteID, err)
		}
		summary.Warn(report.Warning{Stage: report.StageUpload, Item: m.Filename, Message: msg})
		logger.Warn("site lookup failed", "site_id", m.SiteID, "error", err)
		return nil
	}
	return site
}

// PlanFrames computes the frame plan for the selected species.
func (r *Runner) PlanFrames(ctx context.Context, opts config.FrameOptions) (*schedule.FramePlan, map[int64]*catalog.Species, error) {
	if err := opts.Validate(); err != nil {
		return nil, nil, err
	}
	species, err := r.catalog.SpeciesByID(ctx, opts.SpeciesIDs)
	if err != nil {
		return nil, nil, err
	}
	sightings, uploaded, err := r.catalog.FrameInputs(ctx, opts.SpeciesIDs)
	if err != nil {
		return nil, nil, err
	}
	plan, err := schedule.SelectFrames(ctx, schedule.FrameRequest{
		SpeciesIDs: opts.SpeciesIDs,
		NFrames:    opts.NFrames,
	}, sightings, uploaded, r.resolver)
	if err != nil {
		return nil, nil, err
	}
	return plan, species, nil
}

// RunFrames extracts and uploads n frames after each sighting of the
// selected species.
func (r *Runner) RunFrames(ctx context.Context, opts config.FrameOptions) (*report.Summary, error) {
	summary, logger := r.start("frames")
	started := time.Now()

	plan, species, err := r.PlanFrames(ctx, opts)
	if err != nil {
		return summary, err
	}

	summary.Warn(plan.Warnings...)
	for range plan.Candidates {
		summary.Succeeded(report.StageSchedule)
	}
	for range plan.Excluded + plan.Duplicates {
		summary.Skipped(report.StageSchedule)
	}
	logger.Info("frames selected",
		"sightings", plan.Total,
		"dropped", plan.Dropped,
		"untimed", plan.Untimed,
		"candidates", len(plan.Candidates),
		"excluded", plan.Excluded,
	)
	if len(plan.Candidates) == 0 {
		logger.Warn("no frames left to upload")
		return summary, nil
	}

	if err := r.checkTranscoder(ctx, logger); err != nil {
		return summary, err
	}
	outDir, err := materialize.PrepareOutputDir(r.outputDir)
	if err != nil {
		return summary, err
	}

	fetched, err := r.fetchFrameMovies(ctx, plan.Candidates, summary, logger)
	if err != nil {
		return summary, err
	}
	tasks := materialize.FrameTasks(&schedule.FramePlan{Candidates: fetched}, outDir)
	results, err := r.materializer.Run(ctx, report.StageMaterialize, tasks, summary)
	if err != nil {
		return summary, err
	}

	var media []upload.FrameMedia
	for i, res := range results {
		if res.OK() {
			media = append(media, upload.FrameMedia{Path: res.Task.Output, Candidate: fetched[i]})
		}
	}

	batch := upload.FrameBatch(species, opts.SpeciesIDs, media)
	if _, err := r.packager(opts.DryRun, logger).Publish(ctx, batch, summary); err != nil {
		return summary, err
	}

	logger.Info("frame batch finished", "duration_ms", time.Since(started).Milliseconds())
	return summary, nil
}

// fetchFrameMovies makes every candidate's movie readable locally, once per
// movie. Frames of a movie that cannot be fetched fail the materialize stage.
func (r *Runner) fetchFrameMovies(ctx context.Context, candidates []schedule.FrameCandidate, summary *report.Summary, logger *slog.Logger) ([]schedule.FrameCandidate, error) {
	type fetch struct {
		path string
		err  error
	}
	fetches := make(map[int64]fetch)

	out := make([]schedule.FrameCandidate, 0, len(candidates))
	for _, c := range candidates {
		f, ok := fetches[c.MovieID]
		if !ok {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			f.path, f.err = r.resolver.Resolve(ctx, &catalog.Movie{ID: c.MovieID, Filename: c.MovieFilename, Path: c.MoviePath})
			fetches[c.MovieID] = f
			if f.err != nil {
				logger.Warn("failed to fetch movie", "movie", c.MovieFilename, "error", f.err)
			}
		}
		if f.err != nil {
			summary.Failed(report.StageMaterialize, c.Filename, f.err)
			continue
		}
		c.MoviePath = f.path
		out = append(out, c)
	}
	return out, nil
}
