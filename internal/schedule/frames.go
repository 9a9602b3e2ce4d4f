package schedule

import (
	"context"
	"fmt"
	"math"
	"slices"

	"github.com/koster-lab/kso-agent/internal/catalog"
	"github.com/koster-lab/kso-agent/internal/config"
	"github.com/koster-lab/kso-agent/internal/report"
)

// DefaultFPS replaces a missing or invalid movie frame rate.
const DefaultFPS = 25.0

// FrameRequest asks for NFrames frames after each sighting of SpeciesIDs.
type FrameRequest struct {
	SpeciesIDs []int64
	NFrames    int
}

type FrameCandidate struct {
	MovieID       int64   `json:"movie_id"`
	SpeciesID     int64   `json:"species_id"`
	FrameIndex    int64   `json:"frame_number"`
	FPS           float64 `json:"fps"`
	SubjectID     int64   `json:"subject_id"`
	MovieFilename string  `json:"movie_filename"`
	MoviePath     string  `json:"movie_path"`
	Filename      string  `json:"filename"`
}

// Seconds is the movie-relative timestamp of the frame.
func (c FrameCandidate) Seconds() float64 {
	return float64(c.FrameIndex) / c.FPS
}

func (c FrameCandidate) Key() FrameKey {
	return FrameKey{MovieID: c.MovieID, FrameIndex: c.FrameIndex, SpeciesID: c.SpeciesID}
}

type FramePlan struct {
	Candidates []FrameCandidate `json:"candidates"`
	// Total is the number of sightings considered, Dropped those whose
	// movie file could not be found and Untimed those without a clip start
	// or first seen time.
	Total   int `json:"total"`
	Dropped int `json:"dropped"`
	Untimed int `json:"untimed"`
	// Excluded counts frames already uploaded, Duplicates frames produced
	// twice within this batch.
	Excluded     int              `json:"excluded"`
	Duplicates   int              `json:"duplicates"`
	DefaultedFPS int              `json:"defaulted_fps"`
	Warnings     []report.Warning `json:"warnings,omitempty"`
}

// FrameFilename is the output name of a frame. The "_frame_" separator is
// what downstream tooling splits on to recover the frame number.
func FrameFilename(movieFilename string, frameIndex, speciesID int64) string {
	m := catalog.Movie{Filename: movieFilename}
	return fmt.Sprintf("%s_frame_%d_%d.jpg", m.Stem(), frameIndex, speciesID)
}

// FrameIndices returns round((abs + j) * fps) for j in [0, n).
func FrameIndices(absoluteFirstSeen, fps float64, n int) []int64 {
	out := make([]int64, 0, n)
	for j := 0; j < n; j++ {
		out = append(out, int64(math.Round((absoluteFirstSeen+float64(j))*fps)))
	}
	return out
}

func validFPS(fps float64) bool {
	return !math.IsNaN(fps) && !math.IsInf(fps, 0) && fps > 0
}

type resolved struct {
	path string
	err  error
}

// SelectFrames samples NFrames frames at one-second steps from each
// sighting, drops sightings whose movie cannot be resolved and removes
// frames already uploaded for the same movie and species.
func SelectFrames(ctx context.Context, req FrameRequest, sightings []catalog.Sighting, uploaded []catalog.UploadedFrame, resolver catalog.PathResolver) (*FramePlan, error) {
	if req.NFrames <= 0 {
		return nil, &config.ValidationError{Field: "n_frames", Value: req.NFrames, Reason: "must be positive"}
	}

	plan := &FramePlan{Candidates: []FrameCandidate{}}
	paths := make(map[int64]resolved)
	defaulted := make(map[int64]bool)

	var usable []catalog.Sighting
	for _, s := range sightings {
		if len(req.SpeciesIDs) > 0 && !slices.Contains(req.SpeciesIDs, s.SpeciesID) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		plan.Total++

		if !s.HasTiming() {
			plan.Untimed++
			continue
		}

		r, ok := paths[s.MovieID]
		if !ok {
			movie := &catalog.Movie{ID: s.MovieID, Filename: s.MovieFilename, Path: s.MoviePath}
			r.path, r.err = resolver.Locate(ctx, movie)
			paths[s.MovieID] = r
			if r.err != nil {
				plan.Warnings = append(plan.Warnings, report.Warning{
					Stage: report.StageSchedule, Item: s.MovieFilename,
					Message: fmt.Sprintf("movie file not found, sightings dropped: %v", r.err),
				})
			}
		}
		if r.err != nil {
			plan.Dropped++
			continue
		}

		if !validFPS(s.FPS) {
			plan.DefaultedFPS++
			if !defaulted[s.MovieID] {
				defaulted[s.MovieID] = true
				plan.Warnings = append(plan.Warnings, report.Warning{
					Stage: report.StageSchedule, Item: s.MovieFilename,
					Message: fmt.Sprintf("frame rate %v is not usable, assuming %v fps", s.FPS, DefaultFPS),
				})
			}
			s.FPS = DefaultFPS
		}
		s.MoviePath = r.path
		usable = append(usable, s)
	}

	if plan.Untimed > 0 {
		plan.Warnings = append(plan.Warnings, report.Warning{
			Stage:   report.StageSchedule,
			Message: fmt.Sprintf("%d of %d sightings dropped because their clip start or first seen time is missing", plan.Untimed, plan.Total),
		})
	}
	if plan.Dropped > 0 {
		plan.Warnings = append(plan.Warnings, report.Warning{
			Stage:   report.StageSchedule,
			Message: fmt.Sprintf("%d of %d sightings dropped because their movie could not be found", plan.Dropped, plan.Total),
		})
	}

	done := UploadedFrameKeys(uploaded)
	seen := NewKeySet[FrameKey]()
	rows := Expand(usable, func(s catalog.Sighting) []int64 {
		return FrameIndices(s.AbsoluteFirstSeen(), s.FPS, req.NFrames)
	})
	for _, r := range rows {
		c := FrameCandidate{
			MovieID:       r.Row.MovieID,
			SpeciesID:     r.Row.SpeciesID,
			FrameIndex:    r.Value,
			FPS:           r.Row.FPS,
			SubjectID:     r.Row.SubjectID,
			MovieFilename: r.Row.MovieFilename,
			MoviePath:     r.Row.MoviePath,
			Filename:      FrameFilename(r.Row.MovieFilename, r.Value, r.Row.SpeciesID),
		}
		switch k := c.Key(); {
		case done.Has(k):
			plan.Excluded++
		case seen.Has(k):
			plan.Duplicates++
		default:
			seen.Add(k)
			plan.Candidates = append(plan.Candidates, c)
		}
	}
	return plan, nil
}
