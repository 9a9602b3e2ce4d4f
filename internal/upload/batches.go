package upload

import (
	"fmt"
	"strings"

	"github.com/koster-lab/kso-agent/internal/catalog"
	"github.com/koster-lab/kso-agent/internal/config"
	"github.com/koster-lab/kso-agent/internal/schedule"
)

const (
	SubjectTypeKey = "Subject_type"

	KeyVideoFilename       = "#VideoFilename"
	KeyCreatedOn           = "#created_on"
	KeyClipLength          = "#clip_length"
	KeyClipStart           = "upl_seconds"
	KeySiteName            = "#siteName"
	KeyModificationDetails = "#clip_modification_details"

	KeySiteID              = "#SiteID"
	KeyLinkToMarineReserve = "!LinkToMarineReserve"
	KeyProtectionStatus    = "ProtectionStatus"
	KeyDepth               = "Depth"

	KeyMovieID      = "#movie_id"
	KeyFrameNumber  = "#frame_number"
	KeySpeciesID    = "#frame_exp_sp_id"
	KeySpeciesLabel = "!frame_exp_sp_label"
	KeyClipSubject  = "#clip_subject_id"
)

var (
	ClipRequired  = []string{SubjectTypeKey, KeyVideoFilename, KeyClipStart, KeyClipLength}
	FrameRequired = []string{SubjectTypeKey, KeyVideoFilename, KeyFrameNumber, KeySpeciesID}
)

// ClipMedia is a materialized clip ready for upload.
type ClipMedia struct {
	Path      string
	Candidate schedule.ClipCandidate
}

// ClipSetName names a clip subject set "<n>_clips_<site><created_on>".
func ClipSetName(n int, siteName, createdOn string) string {
	return fmt.Sprintf("%d_clips_%s%s", n, siteName, createdOn)
}

// FrameSetName names a frame subject set "<n>_frames_<labels>".
func FrameSetName(n int, labels []string) string {
	return fmt.Sprintf("%d_frames_%s", n, strings.Join(labels, "_"))
}

// ClipBatch builds the subject rows of one movie's clips. site may be nil,
// in which case site columns are reported as missing.
func ClipBatch(project config.Project, m *catalog.Movie, site *catalog.Site, modificationDetails string, clips []ClipMedia) Batch {
	var siteName any
	if site != nil {
		siteName = site.Name
	} else if m.SiteName != "" {
		siteName = m.SiteName
	}

	rows := make([]Row, 0, len(clips))
	for _, c := range clips {
		values := map[string]any{
			SubjectTypeKey:         catalog.SubjectTypeClip,
			KeyVideoFilename:       m.Filename,
			KeyCreatedOn:           m.CreatedOn,
			KeyClipLength:          c.Candidate.Length,
			KeyClipStart:           c.Candidate.Start,
			KeySiteName:            siteName,
			KeyModificationDetails: modificationDetails,
		}
		if modificationDetails == "" {
			delete(values, KeyModificationDetails)
		}
		if project == config.ProjectSpyfish {
			addSpyfishSite(values, site)
		}
		rows = append(rows, Row{MediaPath: c.Path, Values: values})
	}

	name, _ := siteName.(string)
	return Batch{
		SetName:  ClipSetName(len(rows), name, m.CreatedOn),
		Rows:     rows,
		Required: ClipRequired,
	}
}

func addSpyfishSite(values map[string]any, site *catalog.Site) {
	if site == nil {
		values[KeySiteID] = nil
		values[KeyLinkToMarineReserve] = nil
		values[KeyProtectionStatus] = nil
		values[KeyDepth] = nil
		return
	}
	values[KeySiteID] = site.ID
	values[KeyLinkToMarineReserve] = site.LinkToMarineReserve
	values[KeyProtectionStatus] = site.ProtectionStatus
	values[KeyDepth] = site.Depth
}

// FrameMedia is a materialized frame ready for upload.
type FrameMedia struct {
	Path      string
	Candidate schedule.FrameCandidate
}

// FrameBatch builds the subject rows of a frame batch. speciesOrder fixes
// the label order in the set name.
func FrameBatch(species map[int64]*catalog.Species, speciesOrder []int64, frames []FrameMedia) Batch {
	rows := make([]Row, 0, len(frames))
	for _, f := range frames {
		c := f.Candidate
		var label any
		if sp, ok := species[c.SpeciesID]; ok {
			label = sp.Label
		}
		rows = append(rows, Row{MediaPath: f.Path, Values: map[string]any{
			SubjectTypeKey:   catalog.SubjectTypeFrame,
			KeyVideoFilename: c.MovieFilename,
			KeyMovieID:       c.MovieID,
			KeyFrameNumber:   c.FrameIndex,
			KeySpeciesID:     c.SpeciesID,
			KeySpeciesLabel:  label,
			KeyClipSubject:   c.SubjectID,
		}})
	}

	var labels []string
	for _, id := range speciesOrder {
		if sp, ok := species[id]; ok {
			labels = append(labels, sp.Label)
		}
	}
	return Batch{
		SetName:  FrameSetName(len(rows), labels),
		Rows:     rows,
		Required: FrameRequired,
	}
}
