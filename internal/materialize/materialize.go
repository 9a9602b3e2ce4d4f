// Package materialize turns scheduled clip and frame candidates into files
// on disk. A target that already exists counts as done; a failing task is
// recorded and the rest of the batch carries on.
package materialize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/koster-lab/kso-agent/internal/logging"
	"github.com/koster-lab/kso-agent/internal/report"
	"github.com/koster-lab/kso-agent/internal/transcode"
)

// MaxUploadSize is the largest media file the crowdsourcing platform accepts.
const MaxUploadSize = 8 * 1000 * 1000

type Kind string

const (
	KindClip   Kind = "clip"
	KindModify Kind = "modify"
	KindFrame  Kind = "frame"
)

// Task materializes one output file.
type Task struct {
	Kind   Kind
	Input  string
	Output string

	Start   int     // clip
	Length  int     // clip
	Seconds float64 // frame
	Preset  transcode.Preset
}

type Result struct {
	Task    Task
	Skipped bool
	Size    int64
	Err     error
}

func (r Result) OK() bool { return r.Err == nil }

type Config struct {
	Workers   int
	SizeLimit int64 // 0 disables the size check
	Logger    *slog.Logger
}

type Materializer struct {
	tc  transcode.Transcoder
	cfg Config
}

func New(tc transcode.Transcoder, cfg Config) *Materializer {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	return &Materializer{tc: tc, cfg: cfg}
}

// Run executes tasks and records every outcome under stage in summary.
// Results are returned in task order. The returned error is only set when
// ctx was cancelled; tasks not started by then are absent from the summary.
func (m *Materializer) Run(ctx context.Context, stage string, tasks []Task, summary *report.Summary) ([]Result, error) {
	results := make([]Result, len(tasks))
	started := time.Now()
	var done atomic.Int32

	process := func(i int) {
		results[i] = m.runOne(ctx, tasks[i])
		n := done.Add(1)
		m.record(stage, results[i], summary)
		m.cfg.Logger.Info("materialize progress",
			"stage", stage,
			"done", n,
			"total", len(tasks),
			"output", tasks[i].Output,
			"skipped", results[i].Skipped,
			"ok", results[i].OK(),
		)
	}

	if m.cfg.Workers == 1 {
		for i := range tasks {
			if err := ctx.Err(); err != nil {
				return results[:i], err
			}
			process(i)
		}
	} else {
		g := new(errgroup.Group)
		g.SetLimit(m.cfg.Workers)
		for i := range tasks {
			if ctx.Err() != nil {
				break
			}
			g.Go(func() error {
				if ctx.Err() != nil {
					return nil
				}
				process(i)
				return nil
			})
		}
		g.Wait()
		if err := ctx.Err(); err != nil {
			return results, err
		}
	}

	m.cfg.Logger.Info("materialize finished",
		"stage", stage,
		"tasks", len(tasks),
		"duration_ms", time.Since(started).Milliseconds(),
	)
	return results, nil
}

func (m *Materializer) runOne(ctx context.Context, t Task) Result {
	res := Result{Task: t}

	if info, err := os.Stat(t.Output); err == nil {
		res.Skipped = true
		res.Size = info.Size()
		return res
	} else if !errors.Is(err, os.ErrNotExist) {
		res.Err = err
		return res
	}

	var err error
	switch t.Kind {
	case KindClip:
		_, err = m.tc.ExtractClip(ctx, t.Input, t.Start, t.Length, t.Output)
	case KindModify:
		_, err = m.tc.ModifyClip(ctx, t.Input, t.Preset, t.Output)
	case KindFrame:
		_, err = m.tc.ExtractFrame(ctx, t.Input, t.Seconds, t.Output)
	default:
		err = fmt.Errorf("unknown task kind %q", t.Kind)
	}
	if err != nil {
		res.Err = err
		return res
	}

	if info, err := os.Stat(t.Output); err == nil {
		res.Size = info.Size()
	} else {
		res.Err = fmt.Errorf("transcoder reported success but %s is missing: %w", t.Output, err)
	}
	return res
}

func (m *Materializer) record(stage string, r Result, summary *report.Summary) {
	if summary == nil {
		return
	}
	switch {
	case r.Err != nil:
		summary.Failed(stage, r.Task.Output, r.Err)
		return
	case r.Skipped:
		summary.Skipped(stage)
	default:
		summary.Succeeded(stage)
	}

	if m.cfg.SizeLimit > 0 && r.Task.Kind != KindFrame && r.Size >= m.cfg.SizeLimit {
		summary.Warn(report.Warning{
			Stage:   stage,
			Item:    r.Task.Output,
			Message: fmt.Sprintf("%.1f MB is over the %.0f MB upload limit, compress it", float64(r.Size)/1e6, float64(m.cfg.SizeLimit)/1e6),
		})
	}
}

// Outputs returns the output paths of successful results.
func Outputs(results []Result) []string {
	var out []string
	for _, r := range results {
		if r.OK() {
			out = append(out, r.Task.Output)
		}
	}
	return out
}
