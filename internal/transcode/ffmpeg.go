package transcode

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	maxStderrBytes = 8 * 1024 // 8 KB tail of stderr kept for diagnostics
)

// Transcoder materializes clips and frames from a source movie.
type Transcoder interface {
	ExtractClip(ctx context.Context, input string, start, length int, out string) (RunResult, error)
	ModifyClip(ctx context.Context, input string, p Preset, out string) (RunResult, error)
	ExtractFrame(ctx context.Context, input string, seconds float64, out string) (RunResult, error)
	Probe(ctx context.Context) (*Capabilities, error)
}

type Config struct {
	FFmpegPath   string        // empty = "ffmpeg" on PATH
	Timeout      time.Duration // per invocation
	ProbeTimeout time.Duration
	Logger       *slog.Logger
	DebugPaths   bool // if true, log full file paths; otherwise sanitise
}

func DefaultConfig(ffmpegPath string, timeout time.Duration, logger *slog.Logger) Config {
	return Config{
		FFmpegPath:   ffmpegPath,
		Timeout:      timeout,
		ProbeTimeout: 15 * time.Second,
		Logger:       logger,
	}
}

// FFmpeg is the subprocess implementation of Transcoder.
type FFmpeg struct {
	cfg Config
	bin string
}

func NewFFmpeg(cfg Config) (*FFmpeg, error) {
	name := cfg.FFmpegPath
	if name == "" {
		name = "ffmpeg"
	}
	bin, err := exec.LookPath(name)
	if err != nil {
		return nil, fmt.Errorf("cannot locate ffmpeg %q: %w", name, err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 15 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &FFmpeg{cfg: cfg, bin: bin}, nil
}

// ClipArgs cuts length seconds from start without re-encoding and drops audio.
func ClipArgs(input string, start, length int, out string) []string {
	return []string{
		"-ss", strconv.Itoa(start),
		"-t", strconv.Itoa(length),
		"-i", input,
		"-c", "copy",
		"-an",
		"-force_key_frames", "1",
		out,
	}
}

func ModifyArgs(input string, p Preset, out string) []string {
	args := []string{"-i", input, "-c:v", p.Codec}
	if p.Filter != "" {
		args = append(args, "-vf", p.Filter)
	}
	return append(args,
		"-crf", p.CRF,
		"-pix_fmt", p.PixFmt,
		"-preset", p.Speed,
		out,
	)
}

// FrameArgs grabs the single frame shown at seconds.
func FrameArgs(input string, seconds float64, out string) []string {
	return []string{
		"-ss", strconv.FormatFloat(seconds, 'f', 3, 64),
		"-i", input,
		"-frames:v", "1",
		"-q:v", "2",
		out,
	}
}

func (f *FFmpeg) ExtractClip(ctx context.Context, input string, start, length int, out string) (RunResult, error) {
	return f.run(ctx, out, func(tmp string) []string { return ClipArgs(input, start, length, tmp) })
}

func (f *FFmpeg) ModifyClip(ctx context.Context, input string, p Preset, out string) (RunResult, error) {
	return f.run(ctx, out, func(tmp string) []string { return ModifyArgs(input, p, tmp) })
}

func (f *FFmpeg) ExtractFrame(ctx context.Context, input string, seconds float64, out string) (RunResult, error) {
	return f.run(ctx, out, func(tmp string) []string { return FrameArgs(input, seconds, tmp) })
}

// Probe runs `ffmpeg -version` and keeps the first line.
func (f *FFmpeg) Probe(ctx context.Context) (*Capabilities, error) {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.ProbeTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, f.bin, "-hide_banner", "-version").Output()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg probe failed: %w", err)
	}
	caps := &Capabilities{Path: f.bin, Version: FirstLine(string(out)), ProbedAt: time.Now()}

	f.cfg.Logger.Info("ffmpeg probe complete", "path", f.safePath(f.bin), "version", caps.Version)
	return caps, nil
}

// run writes to a hidden sibling of out and renames it into place on
// success, so a failed or cancelled run never leaves a file at out.
func (f *FFmpeg) run(ctx context.Context, out string, argsFor func(tmp string) []string) (RunResult, error) {
	start := time.Now()

	if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
		return RunResult{ExitCode: -1, OutputPath: out, StderrTail: err.Error()}, fmt.Errorf("cannot create output dir: %w", err)
	}
	tmp := filepath.Join(filepath.Dir(out), ".partial-"+filepath.Base(out))
	defer os.Remove(tmp)

	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	args := append([]string{"-hide_banner", "-nostdin", "-y"}, argsFor(tmp)...)
	cmd := exec.CommandContext(ctx, f.bin, args...)

	var stderrBuf bytes.Buffer
	cmd.Stderr = &limitedWriter{w: &stderrBuf, limit: maxStderrBytes}
	cmd.Stdout = io.Discard

	f.cfg.Logger.Debug("executing ffmpeg", "args", args)

	err := cmd.Run()
	elapsed := time.Since(start)

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
		if exitCode == 0 {
			exitCode = -1
		}
	}

	result := RunResult{
		ExitCode:   exitCode,
		OutputPath: out,
		StderrTail: stderrBuf.String(),
		Duration:   elapsed,
		Args:       args,
	}
	if ctx.Err() != nil && exitCode != 0 {
		result.StderrTail = strings.TrimSpace(result.StderrTail + "\n" + ctx.Err().Error())
	}

	if exitCode == 0 {
		if err := os.Rename(tmp, out); err != nil {
			result.ExitCode = -1
			result.StderrTail = err.Error()
		}
	}

	if !result.IsSuccess() {
		f.cfg.Logger.Warn("ffmpeg failed",
			"exit_code", result.ExitCode,
			"duration_ms", elapsed.Milliseconds(),
			"output", f.safePath(out),
			"stderr_tail", truncate(result.StderrTail, 512),
		)
		return result, result.Err()
	}

	f.cfg.Logger.Debug("ffmpeg succeeded",
		"duration_ms", elapsed.Milliseconds(),
		"output", f.safePath(out),
	)
	return result, nil
}

func (f *FFmpeg) safePath(path string) string {
	if f.cfg.DebugPaths {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Base(path)
	}
	if strings.HasPrefix(path, home) {
		return "~" + path[len(home):]
	}
	return filepath.Base(path)
}

// FirstLine returns the first non-empty line of s.
func FirstLine(s string) string {
	sc := bufio.NewScanner(strings.NewReader(s))
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			return line
		}
	}
	return ""
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// limitedWriter is an io.Writer that keeps only the last `limit` bytes.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		// Keep only the tail
		b := lw.w.Bytes()
		lw.w.Reset()
		lw.w.Write(b[len(b)-lw.limit:])
	}
	return n, nil
}
