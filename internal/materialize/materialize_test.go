package materialize

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koster-lab/kso-agent/internal/catalog"
	"github.com/koster-lab/kso-agent/internal/report"
	"github.com/koster-lab/kso-agent/internal/schedule"
	"github.com/koster-lab/kso-agent/internal/transcode"
)

type fakeTranscoder struct {
	mu      sync.Mutex
	calls   []string
	active  atomic.Int32
	peak    atomic.Int32
	failOn  string
	size    int
	onStart func()
}

func (f *fakeTranscoder) write(out string) (transcode.RunResult, error) {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if f.onStart != nil {
		f.onStart()
	}

	f.mu.Lock()
	f.calls = append(f.calls, filepath.Base(out))
	f.mu.Unlock()

	if f.failOn != "" && strings.Contains(out, f.failOn) {
		r := transcode.RunResult{ExitCode: 1, OutputPath: out, StderrTail: "moov atom not found"}
		return r, r.Err()
	}
	if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
		return transcode.RunResult{ExitCode: -1}, err
	}
	size := f.size
	if size == 0 {
		size = 16
	}
	return transcode.RunResult{OutputPath: out}, os.WriteFile(out, make([]byte, size), 0644)
}

func (f *fakeTranscoder) ExtractClip(ctx context.Context, input string, start, length int, out string) (transcode.RunResult, error) {
	return f.write(out)
}

func (f *fakeTranscoder) ModifyClip(ctx context.Context, input string, p transcode.Preset, out string) (transcode.RunResult, error) {
	return f.write(out)
}

func (f *fakeTranscoder) ExtractFrame(ctx context.Context, input string, seconds float64, out string) (transcode.RunResult, error) {
	return f.write(out)
}

func (f *fakeTranscoder) Probe(ctx context.Context) (*transcode.Capabilities, error) {
	return &transcode.Capabilities{Version: "fake"}, nil
}

func clipPlan(starts ...int) *schedule.ClipPlan {
	m := &catalog.Movie{ID: 1, Filename: "movie_a.mov", Duration: 200, SurveyEnd: 200}
	plan := &schedule.ClipPlan{Movie: m, Length: 10}
	for _, s := range starts {
		plan.Candidates = append(plan.Candidates, schedule.ClipCandidate{
			MovieID: 1, Start: s, Length: 10, Filename: schedule.ClipFilename(m, s, 10),
		})
	}
	return plan
}

func TestRun_SkipsExistingTargets(t *testing.T) {
	out := t.TempDir()
	tasks := ClipTasks(clipPlan(0, 10, 20), "/movies/movie_a.mov", out)
	require.NoError(t, os.MkdirAll(filepath.Dir(tasks[1].Output), 0755))
	require.NoError(t, os.WriteFile(tasks[1].Output, []byte("done"), 0644))

	tc := &fakeTranscoder{}
	summary := report.NewSummary("t")
	results, err := New(tc, Config{}).Run(context.Background(), report.StageMaterialize, tasks, summary)
	require.NoError(t, err)

	assert.Equal(t, []string{"movie_a_clip_0_10.mp4", "movie_a_clip_20_10.mp4"}, tc.calls)
	assert.True(t, results[1].Skipped)
	assert.Equal(t, report.Counts{Attempted: 3, Succeeded: 2, Skipped: 1}, summary.Stage(report.StageMaterialize))
	assert.Len(t, Outputs(results), 3)
}

func TestRun_FailureDoesNotAbortBatch(t *testing.T) {
	tasks := ClipTasks(clipPlan(0, 10, 20), "/movies/movie_a.mov", t.TempDir())
	tc := &fakeTranscoder{failOn: "_clip_10_"}
	summary := report.NewSummary("t")

	results, err := New(tc, Config{}).Run(context.Background(), report.StageMaterialize, tasks, summary)
	require.NoError(t, err)

	require.Len(t, results, 3)
	var toolErr *transcode.ToolError
	assert.True(t, errors.As(results[1].Err, &toolErr))
	assert.True(t, results[2].OK())
	assert.Equal(t, 1, summary.Stage(report.StageMaterialize).Failed)
	assert.Len(t, Outputs(results), 2)
	assert.True(t, summary.HasFailures())
}

func TestRun_WorkerPoolBounded(t *testing.T) {
	var starts []int
	for i := 0; i < 20; i++ {
		starts = append(starts, i*10)
	}
	tasks := ClipTasks(clipPlan(starts...), "/movies/movie_a.mov", t.TempDir())
	tc := &fakeTranscoder{}
	summary := report.NewSummary("t")

	results, err := New(tc, Config{Workers: 3}).Run(context.Background(), report.StageMaterialize, tasks, summary)
	require.NoError(t, err)

	assert.Len(t, Outputs(results), 20)
	assert.LessOrEqual(t, tc.peak.Load(), int32(3))
	assert.Equal(t, 20, summary.Stage(report.StageMaterialize).Succeeded)
	for i, r := range results {
		assert.Equal(t, tasks[i].Output, r.Task.Output, "results keep task order")
	}
}

func TestRun_CancelStopsBetweenTasks(t *testing.T) {
	tasks := ClipTasks(clipPlan(0, 10, 20, 30), "/movies/movie_a.mov", t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	tc := &fakeTranscoder{onStart: cancel}

	results, err := New(tc, Config{}).Run(ctx, report.StageMaterialize, tasks, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, results, 1)
	assert.Len(t, tc.calls, 1)
}

func TestRun_SizeWarning(t *testing.T) {
	tasks := ClipTasks(clipPlan(0), "/movies/movie_a.mov", t.TempDir())
	tc := &fakeTranscoder{size: 2048}
	summary := report.NewSummary("t")

	_, err := New(tc, Config{SizeLimit: 1024}).Run(context.Background(), report.StageMaterialize, tasks, summary)
	require.NoError(t, err)

	warnings := summary.Warnings()
	require.Len(t, warnings, 1)
	assert.Equal(t, tasks[0].Output, warnings[0].Item)
}

func TestTaskBuilders(t *testing.T) {
	out := "/data/out"
	clips := ClipTasks(clipPlan(30), "/movies/movie_a.mov", out)
	require.Len(t, clips, 1)
	assert.Equal(t, filepath.Join(out, "movie_a_clips", "movie_a_clip_30_10.mp4"), clips[0].Output)
	assert.Equal(t, 30, clips[0].Start)

	preset, _ := transcode.PresetFor("Zoo_compression")
	mods := ModifyTasks([]string{clips[0].Output}, preset, out, "movie_a")
	assert.Equal(t, filepath.Join(out, "modified_movie_a_clips", "modified_movie_a_clip_30_10.mp4"), mods[0].Output)
	assert.Equal(t, KindModify, mods[0].Kind)

	fp := &schedule.FramePlan{Candidates: []schedule.FrameCandidate{{
		MovieID: 1, SpeciesID: 10, FrameIndex: 1300, FPS: 25,
		MoviePath: "/movies/movie_a.mov", Filename: "movie_a_frame_1300_10.jpg",
	}}}
	frames := FrameTasks(fp, out)
	assert.Equal(t, filepath.Join(out, "frames", "movie_a_frame_1300_10.jpg"), frames[0].Output)
	assert.InDelta(t, 52.0, frames[0].Seconds, 1e-9)
}
