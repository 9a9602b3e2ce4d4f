package catalog

import (
	"context"
	"math"
	"testing"
)

func TestRepository_MovieDefaults(t *testing.T) {
	_, repo := setupTestDB(t)

	m, err := repo.GetMovie(context.Background(), 2)
	if err != nil {
		t.Fatalf("GetMovie() error = %v", err)
	}
	if m.SurveyStart != 0 || m.SurveyEnd != 60 {
		t.Errorf("unset survey window = [%v, %v], want [0, 60]", m.SurveyStart, m.SurveyEnd)
	}
	if m.Path != "" {
		t.Errorf("Path = %q, want empty", m.Path)
	}
	if m.Stem() != "movie_b" {
		t.Errorf("Stem() = %s, want movie_b", m.Stem())
	}
}

func TestRepository_GetMovieMissing(t *testing.T) {
	_, repo := setupTestDB(t)

	m, err := repo.GetMovieByFilename(context.Background(), "nope.mov")
	if err != nil {
		t.Fatalf("GetMovieByFilename() error = %v", err)
	}
	if m != nil {
		t.Errorf("expected nil movie, got %+v", m)
	}
}

func TestRepository_GetSite(t *testing.T) {
	_, repo := setupTestDB(t)

	s, err := repo.GetSite(context.Background(), 1)
	if err != nil {
		t.Fatalf("GetSite() error = %v", err)
	}
	if s.Name != "KM02" || s.ProtectionStatus != "Reserve" {
		t.Errorf("unexpected site: %+v", s)
	}
}

func TestRepository_EmptySpeciesFilter(t *testing.T) {
	_, repo := setupTestDB(t)

	sightings, err := repo.Sightings(context.Background(), nil)
	if err != nil || sightings != nil {
		t.Errorf("Sightings(nil) = %v, %v; want nil, nil", sightings, err)
	}
}

func TestMovie_Validate(t *testing.T) {
	tests := []struct {
		name    string
		m       Movie
		wantErr bool
	}{
		{"valid", Movie{Duration: 120, SurveyStart: 0, SurveyEnd: 100}, false},
		{"empty window", Movie{Duration: 120, SurveyStart: 50, SurveyEnd: 50}, false},
		{"negative start", Movie{Duration: 120, SurveyStart: -1, SurveyEnd: 100}, true},
		{"inverted", Movie{Duration: 120, SurveyStart: 80, SurveyEnd: 40}, true},
		{"past duration", Movie{Duration: 120, SurveyStart: 0, SurveyEnd: 121}, true},
		{"no duration", Movie{Duration: 0}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.m.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestIsVideoFile(t *testing.T) {
	tests := map[string]bool{
		"movie.MOV": true,
		"clip.mp4":  true,
		"frame.jpg": false,
		"no_ext":    false,
		"a.b.c.mpg": true,
	}
	for name, want := range tests {
		if got := IsVideoFile(name); got != want {
			t.Errorf("IsVideoFile(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestRepository_SightingWithoutFirstSeen(t *testing.T) {
	database, repo := setupTestDB(t)
	if _, err := database.Conn().Exec(`INSERT INTO agg_annotations_clip (id, species_id, how_many, first_seen, subject_id) VALUES (4, 11, 1, NULL, 102)`); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	sightings, err := repo.Sightings(context.Background(), []int64{11})
	if err != nil {
		t.Fatalf("Sightings() error = %v", err)
	}
	if len(sightings) != 2 {
		t.Fatalf("sightings = %d, want 2", len(sightings))
	}
	if !sightings[0].HasTiming() || sightings[0].AbsoluteFirstSeen() != 5 {
		t.Errorf("timed sighting = %+v, want first seen at 5s", sightings[0])
	}
	untimed := sightings[1]
	if untimed.SubjectID != 102 || !math.IsNaN(untimed.FirstSeen) || untimed.HasTiming() {
		t.Errorf("NULL first_seen should read as NaN, got %+v", untimed)
	}
}
