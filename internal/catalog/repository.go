package catalog

import (
	"context"
	"database/sql"
	"math"
	"strings"

	"github.com/koster-lab/kso-agent/internal/db"
)

// Repository is the read-only view of the project database. Nothing in the
// agent writes to it; subjects appear there after the platform export runs.
type Repository interface {
	ListMovies(ctx context.Context) ([]*Movie, error)
	GetMovie(ctx context.Context, id int64) (*Movie, error)
	GetMovieByFilename(ctx context.Context, filename string) (*Movie, error)

	GetSite(ctx context.Context, id int64) (*Site, error)
	ListSpecies(ctx context.Context) ([]*Species, error)

	UploadedClips(ctx context.Context, movieID int64) ([]UploadedClip, error)
	Sightings(ctx context.Context, speciesIDs []int64) ([]Sighting, error)
	UploadedFrames(ctx context.Context, speciesIDs []int64) ([]UploadedFrame, error)
}

type SQLRepository struct {
	db     *sql.DB
	driver string
}

func NewRepository(conn *sql.DB, driver string) *SQLRepository {
	return &SQLRepository{db: conn, driver: driver}
}

func (r *SQLRepository) q(query string) string {
	return db.Rebind(r.driver, query)
}

const movieColumns = `m.id, m.filename, m.fpath, m.created_on, m.author, m.duration, m.fps,
	m.survey_start, m.survey_end, m.site_id, s.siteName`

func (r *SQLRepository) ListMovies(ctx context.Context) ([]*Movie, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+movieColumns+`
		FROM movies m LEFT JOIN sites s ON s.id = m.site_id
		ORDER BY m.filename
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var movies []*Movie
	for rows.Next() {
		m, err := scanMovie(rows)
		if err != nil {
			return nil, err
		}
		movies = append(movies, m)
	}
	return movies, rows.Err()
}

func (r *SQLRepository) GetMovie(ctx context.Context, id int64) (*Movie, error) {
	row := r.db.QueryRowContext(ctx, r.q(`
		SELECT `+movieColumns+`
		FROM movies m LEFT JOIN sites s ON s.id = m.site_id
		WHERE m.id = ?
	`), id)
	return nilIfNoRows(scanMovie(row))
}

func (r *SQLRepository) GetMovieByFilename(ctx context.Context, filename string) (*Movie, error) {
	row := r.db.QueryRowContext(ctx, r.q(`
		SELECT `+movieColumns+`
		FROM movies m LEFT JOIN sites s ON s.id = m.site_id
		WHERE m.filename = ?
	`), filename)
	return nilIfNoRows(scanMovie(row))
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMovie(sc scanner) (*Movie, error) {
	var m Movie
	var fpath, createdOn, author, siteName sql.NullString
	var fps, surveyStart, surveyEnd sql.NullFloat64
	var siteID sql.NullInt64

	err := sc.Scan(&m.ID, &m.Filename, &fpath, &createdOn, &author, &m.Duration, &fps,
		&surveyStart, &surveyEnd, &siteID, &siteName)
	if err != nil {
		return nil, err
	}

	m.Path = fpath.String
	m.CreatedOn = createdOn.String
	m.Author = author.String
	m.FPS = fps.Float64
	m.SiteID = siteID.Int64
	m.SiteName = siteName.String

	// An unset survey window covers the whole recording.
	m.SurveyStart = surveyStart.Float64
	if surveyEnd.Valid {
		m.SurveyEnd = surveyEnd.Float64
	} else {
		m.SurveyEnd = m.Duration
	}
	return &m, nil
}

func nilIfNoRows[T any](v *T, err error) (*T, error) {
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return v, err
}

func (r *SQLRepository) GetSite(ctx context.Context, id int64) (*Site, error) {
	row := r.db.QueryRowContext(ctx, r.q(`
		SELECT id, siteName, decimalLatitude, decimalLongitude, geodeticDatum, countryCode,
			linkToMarineReserve, protectionStatus, depth
		FROM sites WHERE id = ?
	`), id)

	var s Site
	var lat, lon, depth sql.NullFloat64
	var datum, country, link, status sql.NullString
	err := row.Scan(&s.ID, &s.Name, &lat, &lon, &datum, &country, &link, &status, &depth)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.Latitude = lat.Float64
	s.Longitude = lon.Float64
	s.GeodeticDatum = datum.String
	s.CountryCode = country.String
	s.LinkToMarineReserve = link.String
	s.ProtectionStatus = status.String
	s.Depth = depth.Float64
	return &s, nil
}

func (r *SQLRepository) ListSpecies(ctx context.Context) ([]*Species, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, label, scientificName FROM species ORDER BY label`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var species []*Species
	for rows.Next() {
		var s Species
		var sci sql.NullString
		if err := rows.Scan(&s.ID, &s.Label, &sci); err != nil {
			return nil, err
		}
		s.ScientificName = sci.String
		species = append(species, &s)
	}
	return species, rows.Err()
}

func (r *SQLRepository) UploadedClips(ctx context.Context, movieID int64) ([]UploadedClip, error) {
	rows, err := r.db.QueryContext(ctx, r.q(`
		SELECT id, movie_id, clip_start_time, clip_end_time
		FROM subjects
		WHERE subject_type = 'clip' AND movie_id = ?
			AND clip_start_time IS NOT NULL AND clip_end_time IS NOT NULL
		ORDER BY clip_start_time
	`), movieID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var clips []UploadedClip
	for rows.Next() {
		var c UploadedClip
		if err := rows.Scan(&c.SubjectID, &c.MovieID, &c.Start, &c.End); err != nil {
			return nil, err
		}
		clips = append(clips, c)
	}
	return clips, rows.Err()
}

// Sightings returns the first observation of each requested species in
// every clip subject, joined with the clip's parent movie.
func (r *SQLRepository) Sightings(ctx context.Context, speciesIDs []int64) ([]Sighting, error) {
	if len(speciesIDs) == 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, r.q(`
		SELECT a.species_id, s.id, m.id, m.filename, m.fpath, s.clip_start_time, a.first_seen, m.fps
		FROM agg_annotations_clip a
		JOIN subjects s ON s.id = a.subject_id
		JOIN movies m ON m.id = s.movie_id
		WHERE s.subject_type = 'clip' AND a.species_id IN (`+placeholders(len(speciesIDs))+`)
		ORDER BY m.id, s.clip_start_time, a.species_id
	`), int64Args(speciesIDs)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Sighting
	for rows.Next() {
		var s Sighting
		var fpath sql.NullString
		var clipStart, firstSeen, fps sql.NullFloat64
		if err := rows.Scan(&s.SpeciesID, &s.SubjectID, &s.MovieID, &s.MovieFilename, &fpath, &clipStart, &firstSeen, &fps); err != nil {
			return nil, err
		}
		s.MoviePath = fpath.String
		s.ClipStartTime = floatOrNaN(clipStart)
		s.FirstSeen = floatOrNaN(firstSeen)
		s.FPS = fps.Float64
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *SQLRepository) UploadedFrames(ctx context.Context, speciesIDs []int64) ([]UploadedFrame, error) {
	if len(speciesIDs) == 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, r.q(`
		SELECT id, movie_id, frame_number, frame_exp_species_id
		FROM subjects
		WHERE subject_type = 'frame' AND frame_number IS NOT NULL
			AND frame_exp_species_id IN (`+placeholders(len(speciesIDs))+`)
	`), int64Args(speciesIDs)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var frames []UploadedFrame
	for rows.Next() {
		var f UploadedFrame
		var movieID sql.NullInt64
		if err := rows.Scan(&f.SubjectID, &movieID, &f.FrameIndex, &f.SpeciesID); err != nil {
			return nil, err
		}
		f.MovieID = movieID.Int64
		frames = append(frames, f)
	}
	return frames, rows.Err()
}

func floatOrNaN(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func int64Args(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
