package upload

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/koster-lab/kso-agent/internal/logging"
	"github.com/koster-lab/kso-agent/internal/report"
	"github.com/koster-lab/kso-agent/internal/zooniverse"
)

// Batch is one subject set worth of rows.
type Batch struct {
	SetName  string
	Rows     []Row
	Required []string
}

// Outcome describes what reached the platform.
type Outcome struct {
	SetID      string
	SubjectIDs []string
	Rejected   int
	Failed     int
}

type Packager struct {
	client    zooniverse.Client
	projectID string
	dryRun    bool
	logger    *slog.Logger
}

func NewPackager(client zooniverse.Client, projectID string, dryRun bool, logger *slog.Logger) *Packager {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Packager{client: client, projectID: projectID, dryRun: dryRun, logger: logger}
}

type prepared struct {
	row      Row
	metadata zooniverse.Metadata
}

// prepare flattens every row. Rows missing a required field are recorded as
// upload failures; other missing values only raise a warning.
func prepare(b Batch, summary *report.Summary) []prepared {
	required := make(map[string]bool, len(b.Required))
	for _, k := range b.Required {
		required[k] = true
	}

	var ready []prepared
	for _, row := range b.Rows {
		item := filepath.Base(row.MediaPath)
		md, missing := Flatten(row.Values)

		var blocking, optional []string
		for _, k := range missing {
			if required[k] {
				blocking = append(blocking, k)
			} else {
				optional = append(optional, k)
			}
		}
		for _, k := range b.Required {
			if _, ok := row.Values[k]; !ok {
				blocking = append(blocking, k)
			}
		}

		if len(optional) > 0 {
			summary.Warn(report.Warning{
				Stage:   report.StageUpload,
				Item:    item,
				Message: fmt.Sprintf("missing values in %v", optional),
			})
		}
		if len(blocking) > 0 {
			summary.Failed(report.StageUpload, item, &MissingFieldError{Fields: blocking})
			continue
		}
		ready = append(ready, prepared{row: row, metadata: md})
	}
	return ready
}

// Publish creates the batch's subject set, uploads each accepted row as a
// subject and links the successful ones. A failing subject is recorded and
// the loop moves on; it is not retried. The returned error is set when the
// subject set cannot be created or linked, or ctx is cancelled.
func (p *Packager) Publish(ctx context.Context, b Batch, summary *report.Summary) (*Outcome, error) {
	logger := logging.WithStage(p.logger, report.StageUpload)
	ready := prepare(b, summary)
	out := &Outcome{Rejected: len(b.Rows) - len(ready)}

	if len(ready) == 0 {
		logger.Warn("nothing to upload", "set", b.SetName, "rejected", out.Rejected)
		return out, nil
	}

	if p.dryRun {
		for _, r := range ready {
			logger.Info("dry run: subject not uploaded",
				"media", filepath.Base(r.row.MediaPath),
				"metadata", r.metadata,
			)
			summary.Skipped(report.StageUpload)
		}
		logger.Info("dry run: subject set not created", "set", b.SetName, "subjects", len(ready))
		return out, nil
	}

	set, err := p.client.CreateSubjectSet(ctx, p.projectID, b.SetName)
	if err != nil {
		return out, fmt.Errorf("create subject set %q: %w", b.SetName, err)
	}
	out.SetID = set.ID
	logger.Info("subject set created", "set", b.SetName, "set_id", set.ID)

	for i, r := range ready {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		item := filepath.Base(r.row.MediaPath)
		subject, err := p.client.CreateSubject(ctx, p.projectID, r.row.MediaPath, r.metadata)
		if err != nil {
			out.Failed++
			summary.Failed(report.StageUpload, item, err)
			logger.Error("subject upload failed", "media", item, "error", err)
			continue
		}
		out.SubjectIDs = append(out.SubjectIDs, subject.ID)
		summary.Succeeded(report.StageUpload)
		logger.Info("upload progress", "done", i+1, "total", len(ready), "subject_id", subject.ID)
	}

	if err := p.client.AddSubjects(ctx, set.ID, out.SubjectIDs); err != nil {
		return out, fmt.Errorf("link subjects to set %s: %w", set.ID, err)
	}
	logger.Info("subjects uploaded", "set_id", set.ID, "uploaded", len(out.SubjectIDs), "failed", out.Failed)
	return out, nil
}
