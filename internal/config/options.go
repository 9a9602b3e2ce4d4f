package config

import (
	"fmt"
	"slices"
	"strings"
)

// Project identifies a supported crowdsourcing project. The project decides
// where source movies live and which extra metadata travels with subjects.
type Project string

const (
	ProjectKoster  Project = "Koster_Seafloor_Obs"
	ProjectSpyfish Project = "Spyfish_Aotearoa"
)

var Projects = []Project{ProjectKoster, ProjectSpyfish}

// ParseProject accepts a project name case-insensitively.
func ParseProject(s string) (Project, error) {
	for _, p := range Projects {
		if strings.EqualFold(string(p), strings.TrimSpace(s)) {
			return p, nil
		}
	}
	return "", &ValidationError{Field: "project", Value: s, Reason: "the project you selected is not currently supported"}
}

// UsesObjectStorage reports whether the project's movies are kept in an S3 bucket.
func (p Project) UsesObjectStorage() bool {
	return p == ProjectSpyfish
}

// Modification names a transcoding preset applied to clips before upload.
type Modification string

const (
	ModificationNone            Modification = "None"
	ModificationColorCorrection Modification = "Color_correction"
	ModificationZooCompression  Modification = "Zoo_compression"
	ModificationBlurSensitive   Modification = "Blur_sensitive_info"
)

var Modifications = []Modification{
	ModificationNone,
	ModificationColorCorrection,
	ModificationZooCompression,
	ModificationBlurSensitive,
}

// ParseModification maps an operator supplied value to a preset. Empty means None.
func ParseModification(s string) (Modification, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return ModificationNone, nil
	}
	for _, m := range Modifications {
		if strings.EqualFold(string(m), s) {
			return m, nil
		}
	}
	return "", &ValidationError{Field: "modification", Value: s, Reason: "unknown clip modification"}
}

// AllowedClipLengths are the clip lengths, in seconds, volunteers are shown.
var AllowedClipLengths = []int{5, 10}

// ValidationError is returned for operator input that must be rejected
// before any scheduling or I/O takes place.
type ValidationError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s (%v): %s", e.Field, e.Value, e.Reason)
}

// ClipOptions captures everything an operator chooses for a clip batch.
type ClipOptions struct {
	Project       Project
	MovieFilename string
	ClipLength    int
	// RangeStart and RangeEnd narrow the movie's survey window. Nil keeps
	// the stored survey_start / survey_end.
	RangeStart   *int
	RangeEnd     *int
	Modification Modification
	DryRun       bool
}

func (o ClipOptions) Validate() error {
	if _, err := ParseProject(string(o.Project)); err != nil {
		return err
	}
	if strings.TrimSpace(o.MovieFilename) == "" {
		return &ValidationError{Field: "movie", Value: o.MovieFilename, Reason: "a movie must be selected"}
	}
	if o.ClipLength <= 0 {
		return &ValidationError{Field: "clip_length", Value: o.ClipLength, Reason: "must be positive"}
	}
	if !slices.Contains(AllowedClipLengths, o.ClipLength) {
		return &ValidationError{Field: "clip_length", Value: o.ClipLength, Reason: fmt.Sprintf("must be one of %v", AllowedClipLengths)}
	}
	if o.RangeStart != nil && *o.RangeStart < 0 {
		return &ValidationError{Field: "range_start", Value: *o.RangeStart, Reason: "must not be negative"}
	}
	if o.RangeStart != nil && o.RangeEnd != nil && *o.RangeStart > *o.RangeEnd {
		return &ValidationError{Field: "range", Value: fmt.Sprintf("%d-%d", *o.RangeStart, *o.RangeEnd), Reason: "start must not exceed end"}
	}
	if _, err := ParseModification(string(o.Modification)); err != nil {
		return err
	}
	return nil
}

// FrameOptions captures the operator's choices for a frame batch.
type FrameOptions struct {
	Project    Project
	SpeciesIDs []int64
	NFrames    int
	DryRun     bool
}

func (o FrameOptions) Validate() error {
	if _, err := ParseProject(string(o.Project)); err != nil {
		return err
	}
	if len(o.SpeciesIDs) == 0 {
		return &ValidationError{Field: "species", Value: o.SpeciesIDs, Reason: "at least one species must be selected"}
	}
	if o.NFrames <= 0 {
		return &ValidationError{Field: "n_frames", Value: o.NFrames, Reason: "must be positive"}
	}
	return nil
}
