package api

import (
	"github.com/koster-lab/kso-agent/internal/catalog"
	"github.com/koster-lab/kso-agent/internal/schedule"
)

type HealthResponse struct {
	Status     string            `json:"status"`
	Version    string            `json:"version"`
	UptimeS    int64             `json:"uptime_s"`
	Project    string            `json:"project"`
	Transcoder *TranscoderStatus `json:"transcoder,omitempty"`
}

type TranscoderStatus struct {
	Available   bool   `json:"available"`
	Path        string `json:"path,omitempty"`
	Version     string `json:"version,omitempty"`
	LastProbeAt string `json:"last_probe_at,omitempty"`
	Error       string `json:"error,omitempty"`
}

type MoviesResponse struct {
	Movies    []catalog.AvailableMovie `json:"movies"`
	Available int                      `json:"available"`
}

type ClipPlanResponse struct {
	*schedule.ClipPlan
}

type FramePlanResponse struct {
	*schedule.FramePlan
	Species []*catalog.Species `json:"species"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
