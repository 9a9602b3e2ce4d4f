package schedule

import (
	"fmt"
	"math"

	"github.com/koster-lab/kso-agent/internal/catalog"
	"github.com/koster-lab/kso-agent/internal/config"
	"github.com/koster-lab/kso-agent/internal/report"
)

// ClipRequest asks for clips of Length seconds from Movie. Start and End
// narrow the survey window; nil keeps the stored window.
type ClipRequest struct {
	Movie  *catalog.Movie
	Length int
	Start  *int
	End    *int
}

type ClipCandidate struct {
	MovieID  int64  `json:"movie_id"`
	Start    int    `json:"start"`
	Length   int    `json:"length"`
	Filename string `json:"filename"`
}

func (c ClipCandidate) End() int {
	return c.Start + c.Length
}

type ClipPlan struct {
	Movie       *catalog.Movie  `json:"movie"`
	Length      int             `json:"clip_length"`
	WindowStart int             `json:"window_start"`
	WindowEnd   int             `json:"window_end"`
	Estimated   float64         `json:"estimated"`
	Candidates  []ClipCandidate `json:"candidates"`
	// Excluded counts windows that intersect an uploaded clip.
	Excluded int `json:"excluded"`
	// Overflow counts windows that would run past WindowEnd.
	Overflow      int              `json:"overflow"`
	CountMismatch bool             `json:"count_mismatch"`
	Warnings      []report.Warning `json:"warnings,omitempty"`
}

// ClipFilename is the output name of a clip: unique per movie, start and length.
func ClipFilename(m *catalog.Movie, start, length int) string {
	return fmt.Sprintf("%s_clip_%d_%d.mp4", m.Stem(), start, length)
}

// PlanClips lays back-to-back clip windows over the survey window and drops
// the ones that intersect clips already uploaded for the movie.
func PlanClips(req ClipRequest, uploaded []catalog.UploadedClip) (*ClipPlan, error) {
	if req.Length <= 0 {
		return nil, &config.ValidationError{Field: "clip_length", Value: req.Length, Reason: "must be positive"}
	}
	m := req.Movie
	if m == nil {
		return nil, &config.ValidationError{Field: "movie", Value: nil, Reason: "a movie must be selected"}
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}

	// Clips are cut on whole seconds inside the window; the estimate keeps
	// the stored bounds.
	start := int(math.Ceil(m.SurveyStart))
	end := int(math.Floor(m.SurveyEnd))
	windowStart, windowEnd := m.SurveyStart, m.SurveyEnd
	if req.Start != nil {
		start = *req.Start
		windowStart = float64(start)
	}
	if req.End != nil {
		end = *req.End
		windowEnd = float64(end)
	}
	if start < 0 || start > end || float64(end) > m.Duration {
		return nil, &config.ValidationError{
			Field:  "range",
			Value:  fmt.Sprintf("%d-%d", start, end),
			Reason: fmt.Sprintf("must satisfy 0 <= start <= end <= %v", m.Duration),
		}
	}

	plan := &ClipPlan{
		Movie:       m,
		Length:      req.Length,
		WindowStart: start,
		WindowEnd:   end,
		Estimated:   (windowEnd - windowStart) / float64(req.Length),
		Candidates:  []ClipCandidate{},
	}

	limit := (end / req.Length) * req.Length
	var starts []int
	for s := start; s < limit; s += req.Length {
		if s+req.Length > end {
			plan.Overflow++
			continue
		}
		starts = append(starts, s)
	}

	if plan.Estimated != float64(len(starts)) {
		plan.CountMismatch = true
		plan.Warnings = append(plan.Warnings, report.Warning{
			Stage: report.StageSchedule,
			Item:  m.Filename,
			Message: fmt.Sprintf("estimated %.2f clips of %ds but %d fit the window [%v, %v)",
				plan.Estimated, req.Length, len(starts), windowStart, windowEnd),
		})
	}

	taken := UploadedClipIntervals(m.ID, uploaded)
	rows := Expand([]*catalog.Movie{m}, func(*catalog.Movie) []int { return starts })
	for _, r := range rows {
		window := Interval{Start: float64(r.Value), End: float64(r.Value + req.Length)}
		if taken.Overlaps(window) {
			plan.Excluded++
			continue
		}
		plan.Candidates = append(plan.Candidates, ClipCandidate{
			MovieID:  r.Row.ID,
			Start:    r.Value,
			Length:   req.Length,
			Filename: ClipFilename(r.Row, r.Value, req.Length),
		})
	}
	return plan, nil
}
