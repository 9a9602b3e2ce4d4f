package transcode

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/koster-lab/kso-agent/internal/config"
)

// fakeFFmpeg writes a shell script that records its arguments into the
// output file (the last argument), or fails when FAKE_FFMPEG_FAIL is set.
func fakeFFmpeg(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fake requires a POSIX shell")
	}
	script := `#!/bin/sh
if [ "$2" = "-version" ]; then
  echo "ffmpeg version 6.1-fake Copyright (c) 2000-2023"
  echo "built with gcc"
  exit 0
fi
for last; do :; done
if [ -n "$FAKE_FFMPEG_FAIL" ]; then
  echo "partial" > "$last"
  echo "Invalid data found when processing input" >&2
  exit 1
fi
echo "$@" > "$last"
`
	path := filepath.Join(t.TempDir(), "ffmpeg")
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatalf("write fake ffmpeg: %v", err)
	}
	return path
}

func newTestFFmpeg(t *testing.T) *FFmpeg {
	t.Helper()
	f, err := NewFFmpeg(Config{FFmpegPath: fakeFFmpeg(t), Timeout: 10 * time.Second})
	if err != nil {
		t.Fatalf("NewFFmpeg() error = %v", err)
	}
	return f
}

func TestRunResult_IsSuccess(t *testing.T) {
	tests := []struct {
		exitCode int
		want     bool
	}{
		{0, true},
		{1, false},
		{-1, false},
		{127, false},
	}
	for _, tt := range tests {
		r := RunResult{ExitCode: tt.exitCode}
		if got := r.IsSuccess(); got != tt.want {
			t.Errorf("RunResult{ExitCode: %d}.IsSuccess() = %v, want %v", tt.exitCode, got, tt.want)
		}
		if (r.Err() == nil) != tt.want {
			t.Errorf("RunResult{ExitCode: %d}.Err() = %v", tt.exitCode, r.Err())
		}
	}
}

func TestClipArgs(t *testing.T) {
	got := strings.Join(ClipArgs("in.mov", 20, 10, "out.mp4"), " ")
	want := "-ss 20 -t 10 -i in.mov -c copy -an -force_key_frames 1 out.mp4"
	if got != want {
		t.Errorf("ClipArgs = %q, want %q", got, want)
	}
}

func TestModifyArgs(t *testing.T) {
	p, ok := PresetFor(config.ModificationZooCompression)
	if !ok {
		t.Fatal("no preset for Zoo_compression")
	}
	got := strings.Join(ModifyArgs("clip.mp4", p, "mod.mp4"), " ")
	want := "-i clip.mp4 -c:v libx264 -crf 25 -pix_fmt yuv420p -preset veryfast mod.mp4"
	if got != want {
		t.Errorf("ModifyArgs = %q, want %q", got, want)
	}

	blur, _ := PresetFor(config.ModificationBlurSensitive)
	if !strings.Contains(strings.Join(ModifyArgs("a", blur, "b"), " "), "-vf boxblur=10:1") {
		t.Error("blur preset should pass a video filter")
	}

	if _, ok := PresetFor(config.ModificationNone); ok {
		t.Error("None should have no preset")
	}
}

func TestFrameArgs(t *testing.T) {
	got := strings.Join(FrameArgs("m.mov", 52, "f.jpg"), " ")
	want := "-ss 52.000 -i m.mov -frames:v 1 -q:v 2 f.jpg"
	if got != want {
		t.Errorf("FrameArgs = %q, want %q", got, want)
	}
}

func TestFFmpeg_ExtractClip(t *testing.T) {
	f := newTestFFmpeg(t)
	out := filepath.Join(t.TempDir(), "movie_a_clips", "movie_a_clip_20_10.mp4")

	result, err := f.ExtractClip(context.Background(), "/movies/movie_a.mov", 20, 10, out)
	if err != nil {
		t.Fatalf("ExtractClip() error = %v", err)
	}
	if !result.IsSuccess() {
		t.Fatalf("exit code = %d", result.ExitCode)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("output not written: %v", err)
	}
	if !strings.Contains(string(data), "-ss 20 -t 10 -i /movies/movie_a.mov") {
		t.Errorf("unexpected args recorded: %s", data)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(out), ".partial-movie_a_clip_20_10.mp4")); !os.IsNotExist(err) {
		t.Error("partial file left behind")
	}
}

func TestFFmpeg_FailureLeavesNoOutput(t *testing.T) {
	f := newTestFFmpeg(t)
	t.Setenv("FAKE_FFMPEG_FAIL", "1")
	out := filepath.Join(t.TempDir(), "frame.jpg")

	result, err := f.ExtractFrame(context.Background(), "/movies/movie_a.mov", 52, out)
	var toolErr *ToolError
	if !errors.As(err, &toolErr) {
		t.Fatalf("error = %v, want *ToolError", err)
	}
	if toolErr.ExitCode != 1 || result.ExitCode != 1 {
		t.Errorf("exit code = %d", toolErr.ExitCode)
	}
	if !strings.Contains(toolErr.Error(), "Invalid data") {
		t.Errorf("stderr tail missing from error: %v", toolErr)
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Error("failed run must not leave the target file")
	}
}

func TestFFmpeg_Probe(t *testing.T) {
	f := newTestFFmpeg(t)
	caps, err := f.Probe(context.Background())
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if caps.Version != "ffmpeg version 6.1-fake Copyright (c) 2000-2023" {
		t.Errorf("Version = %q", caps.Version)
	}
}

func TestNewFFmpeg_NotFound(t *testing.T) {
	if _, err := NewFFmpeg(Config{FFmpegPath: "/nonexistent/ffmpeg999"}); err == nil {
		t.Fatal("expected error for missing ffmpeg")
	}
}

func TestLimitedWriter_KeepsOnlyTail(t *testing.T) {
	var buf bytes.Buffer
	lw := &limitedWriter{w: &buf, limit: 10}

	lw.Write([]byte("hello"))
	if buf.String() != "hello" {
		t.Errorf("after short write got %q, want %q", buf.String(), "hello")
	}

	lw.Write([]byte(" world of test data"))
	if got := buf.String(); got != " test data" {
		t.Errorf("after overflow got %q, want %q", got, " test data")
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		input  string
		maxLen int
		want   string
	}{
		{"hello", 10, "hello"},
		{"hello", 5, "hello"},
		{"hello world", 5, "...world"},
	}
	for _, tt := range tests {
		if got := truncate(tt.input, tt.maxLen); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.input, tt.maxLen, got, tt.want)
		}
	}
}

type countingProber struct {
	calls atomic.Int32
	err   error
}

func (p *countingProber) Probe(ctx context.Context) (*Capabilities, error) {
	p.calls.Add(1)
	if p.err != nil {
		return nil, p.err
	}
	return &Capabilities{Version: "ffmpeg version test", ProbedAt: time.Now()}, nil
}

func TestCachedDoctor_TTL(t *testing.T) {
	p := &countingProber{}
	d := NewCachedDoctor(p, discardLogger())

	for i := 0; i < 3; i++ {
		if _, err := d.Get(context.Background()); err != nil {
			t.Fatalf("Get() error = %v", err)
		}
	}
	if p.calls.Load() != 1 {
		t.Errorf("probe calls = %d, want 1", p.calls.Load())
	}

	d.ttl = 0
	d.Get(context.Background())
	if p.calls.Load() != 2 {
		t.Errorf("probe calls after expiry = %d, want 2", p.calls.Load())
	}
}

func TestCachedDoctor_StaleOnFailure(t *testing.T) {
	p := &countingProber{}
	d := NewCachedDoctor(p, discardLogger())

	if _, err := d.Get(context.Background()); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	p.err = errors.New("ffmpeg vanished")

	caps, err := d.Refresh(context.Background())
	if err != nil || caps == nil {
		t.Fatalf("Refresh() = %v, %v; want stale caps", caps, err)
	}

	d.Invalidate()
	if d.Peek() != nil {
		t.Error("Peek() after Invalidate should be nil")
	}
	if _, err := d.Get(context.Background()); err == nil {
		t.Error("Get() with no cache and failing probe should error")
	}
}
