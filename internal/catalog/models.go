package catalog

import (
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"
)

// Subject types stored in subjects.subject_type.
const (
	SubjectTypeClip  = "clip"
	SubjectTypeFrame = "frame"
)

// ErrMovieNotFound is returned when a movie filename is not in the catalog.
var ErrMovieNotFound = errors.New("movie not found in catalog")

type Movie struct {
	ID          int64   `json:"id"`
	Filename    string  `json:"filename"`
	Path        string  `json:"fpath,omitempty"`
	CreatedOn   string  `json:"created_on,omitempty"`
	Author      string  `json:"author,omitempty"`
	Duration    float64 `json:"duration"`
	FPS         float64 `json:"fps"`
	SurveyStart float64 `json:"survey_start"`
	SurveyEnd   float64 `json:"survey_end"`
	SiteID      int64   `json:"site_id,omitempty"`
	SiteName    string  `json:"site_name,omitempty"`
}

// Validate checks 0 <= survey_start <= survey_end <= duration.
func (m *Movie) Validate() error {
	switch {
	case math.IsNaN(m.Duration) || m.Duration <= 0:
		return fmt.Errorf("movie %s: duration %v must be positive", m.Filename, m.Duration)
	case m.SurveyStart < 0:
		return fmt.Errorf("movie %s: survey_start %v is negative", m.Filename, m.SurveyStart)
	case m.SurveyStart > m.SurveyEnd:
		return fmt.Errorf("movie %s: survey_start %v is after survey_end %v", m.Filename, m.SurveyStart, m.SurveyEnd)
	case m.SurveyEnd > m.Duration:
		return fmt.Errorf("movie %s: survey_end %v exceeds duration %v", m.Filename, m.SurveyEnd, m.Duration)
	}
	return nil
}

// Stem is the filename without its extension; output names are built from it.
func (m *Movie) Stem() string {
	return strings.TrimSuffix(m.Filename, filepath.Ext(m.Filename))
}

// UploadedClip is a clip subject already on the platform.
type UploadedClip struct {
	SubjectID int64   `json:"subject_id"`
	MovieID   int64   `json:"movie_id"`
	Start     float64 `json:"clip_start_time"`
	End       float64 `json:"clip_end_time"`
}

// Sighting is the first observation of a species inside an uploaded clip.
// ClipStartTime and FirstSeen are NaN when the catalog has no value.
type Sighting struct {
	SpeciesID     int64   `json:"species_id"`
	SubjectID     int64   `json:"subject_id"`
	MovieID       int64   `json:"movie_id"`
	MovieFilename string  `json:"filename"`
	MoviePath     string  `json:"fpath,omitempty"`
	ClipStartTime float64 `json:"clip_start_time"`
	FirstSeen     float64 `json:"first_seen"`
	FPS           float64 `json:"fps"`
}

// AbsoluteFirstSeen is the movie-relative second of the sighting.
func (s Sighting) AbsoluteFirstSeen() float64 {
	return s.ClipStartTime + s.FirstSeen
}

// HasTiming reports whether the sighting can be placed in its movie.
func (s Sighting) HasTiming() bool {
	abs := s.AbsoluteFirstSeen()
	return !math.IsNaN(abs) && !math.IsInf(abs, 0)
}

// UploadedFrame is a frame subject already on the platform.
type UploadedFrame struct {
	SubjectID  int64 `json:"subject_id"`
	MovieID    int64 `json:"movie_id"`
	FrameIndex int64 `json:"frame_number"`
	SpeciesID  int64 `json:"frame_exp_species_id"`
}

type Site struct {
	ID                  int64   `json:"id"`
	Name                string  `json:"siteName"`
	Latitude            float64 `json:"decimalLatitude"`
	Longitude           float64 `json:"decimalLongitude"`
	GeodeticDatum       string  `json:"geodeticDatum,omitempty"`
	CountryCode         string  `json:"countryCode,omitempty"`
	LinkToMarineReserve string  `json:"linkToMarineReserve,omitempty"`
	ProtectionStatus    string  `json:"protectionStatus,omitempty"`
	Depth               float64 `json:"depth,omitempty"`
}

type Species struct {
	ID             int64  `json:"id"`
	Label          string `json:"label"`
	ScientificName string `json:"scientificName,omitempty"`
}

var VideoExtensions = map[string]bool{
	".mp4": true,
	".mov": true,
	".mpg": true,
	".avi": true,
	".mkv": true,
}

func IsVideoFile(filename string) bool {
	return VideoExtensions[strings.ToLower(filepath.Ext(filename))]
}
