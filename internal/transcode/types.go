// Package transcode runs ffmpeg as a subprocess to cut clips, re-encode
// them with a modification preset and grab still frames.
package transcode

import (
	"fmt"
	"strings"
	"time"

	"github.com/koster-lab/kso-agent/internal/config"
)

// RunResult is the structured outcome of one ffmpeg invocation.
type RunResult struct {
	ExitCode   int           `json:"exit_code"`
	OutputPath string        `json:"output_path,omitempty"`
	StderrTail string        `json:"stderr_tail,omitempty"` // last N bytes of stderr
	Duration   time.Duration `json:"duration"`
	Args       []string      `json:"args,omitempty"`
}

// IsSuccess returns true when the subprocess exited cleanly.
func (r RunResult) IsSuccess() bool { return r.ExitCode == 0 }

// Err returns a *ToolError for a failed run and nil otherwise.
func (r RunResult) Err() error {
	if r.IsSuccess() {
		return nil
	}
	return &ToolError{Tool: "ffmpeg", ExitCode: r.ExitCode, StderrTail: r.StderrTail, Output: r.OutputPath}
}

// ToolError reports a non-zero transcoder exit for one candidate.
type ToolError struct {
	Tool       string
	ExitCode   int
	StderrTail string
	Output     string
}

func (e *ToolError) Error() string {
	msg := fmt.Sprintf("%s exited %d", e.Tool, e.ExitCode)
	if tail := strings.TrimSpace(truncate(e.StderrTail, 256)); tail != "" {
		msg += ": " + tail
	}
	return msg
}

// Capabilities describes the ffmpeg binary found on this machine.
type Capabilities struct {
	Path     string    `json:"path"`
	Version  string    `json:"version"`
	ProbedAt time.Time `json:"probed_at"`
}

// Preset is a fixed re-encoding parameter set.
type Preset struct {
	Codec  string `json:"-c:v"`
	Filter string `json:"-vf,omitempty"`
	CRF    string `json:"-crf"`
	PixFmt string `json:"-pix_fmt"`
	Speed  string `json:"-preset"`
}

// Details renders the preset the way it is attached to subject metadata.
func (p Preset) Details() string {
	parts := []string{"-c:v " + p.Codec}
	if p.Filter != "" {
		parts = append(parts, "-vf "+p.Filter)
	}
	parts = append(parts, "-crf "+p.CRF, "-pix_fmt "+p.PixFmt, "-preset "+p.Speed)
	return strings.Join(parts, " ")
}

var presets = map[config.Modification]Preset{
	config.ModificationColorCorrection: {
		Codec:  "libx264",
		Filter: "curves=red=0/0 0.396/0.67 1/1:green=0/0 0.525/0.451 1/1:blue=0/0 0.459/0.517 1/1,scale=1280:-2",
		CRF:    "30",
		PixFmt: "yuv420p",
		Speed:  "veryfast",
	},
	config.ModificationZooCompression: {
		Codec:  "libx264",
		CRF:    "25",
		PixFmt: "yuv420p",
		Speed:  "veryfast",
	},
	config.ModificationBlurSensitive: {
		Codec:  "libx264",
		Filter: "boxblur=10:1",
		CRF:    "30",
		PixFmt: "yuv420p",
		Speed:  "veryfast",
	},
}

// PresetFor returns the preset of a modification. ok is false for None.
func PresetFor(m config.Modification) (Preset, bool) {
	p, ok := presets[m]
	return p, ok
}
