package catalog

import (
	"context"
	"fmt"
	"log/slog"
)

// PathResolver reports where a movie's file can be read from, on disk or in
// object storage. Locate never copies the file.
type PathResolver interface {
	Locate(ctx context.Context, m *Movie) (string, error)
}

// AvailableMovie pairs a catalog movie with where its file was found.
type AvailableMovie struct {
	Movie *Movie `json:"movie"`
	Path  string `json:"path,omitempty"`
	Found bool   `json:"found"`
	Error string `json:"error,omitempty"`
}

type CatalogService interface {
	Movie(ctx context.Context, filename string) (*Movie, error)
	AvailableMovies(ctx context.Context, resolver PathResolver) ([]AvailableMovie, error)
	ClipHistory(ctx context.Context, filename string) (*Movie, []UploadedClip, error)
	FrameInputs(ctx context.Context, speciesIDs []int64) ([]Sighting, []UploadedFrame, error)
	SpeciesByID(ctx context.Context, ids []int64) (map[int64]*Species, error)
	Site(ctx context.Context, id int64) (*Site, error)
}

type Service struct {
	repo   Repository
	logger *slog.Logger
}

func NewService(repo Repository, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// Movie looks a movie up by filename and checks its survey window.
func (s *Service) Movie(ctx context.Context, filename string) (*Movie, error) {
	m, err := s.repo.GetMovieByFilename(ctx, filename)
	if err != nil {
		return nil, fmt.Errorf("failed to query movie %s: %w", filename, err)
	}
	if m == nil {
		return nil, fmt.Errorf("%w: %s", ErrMovieNotFound, filename)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// AvailableMovies lists every catalog movie together with whether its file
// can be found. Missing files are reported, not treated as errors.
func (s *Service) AvailableMovies(ctx context.Context, resolver PathResolver) ([]AvailableMovie, error) {
	movies, err := s.repo.ListMovies(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list movies: %w", err)
	}

	out := make([]AvailableMovie, 0, len(movies))
	missing := 0
	for _, m := range movies {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		am := AvailableMovie{Movie: m}
		path, err := resolver.Locate(ctx, m)
		if err != nil {
			am.Error = err.Error()
			missing++
		} else {
			am.Path = path
			am.Found = true
		}
		out = append(out, am)
	}

	if s.logger != nil {
		s.logger.Info("movies checked", "total", len(movies), "missing", missing)
	}
	return out, nil
}

// ClipHistory returns the movie and the clips already uploaded from it.
func (s *Service) ClipHistory(ctx context.Context, filename string) (*Movie, []UploadedClip, error) {
	m, err := s.Movie(ctx, filename)
	if err != nil {
		return nil, nil, err
	}
	clips, err := s.repo.UploadedClips(ctx, m.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query uploaded clips: %w", err)
	}
	if len(clips) > 0 && s.logger != nil {
		s.logger.Info("movie already has clips on the platform", "movie", m.Filename, "clips", len(clips))
	}
	return m, clips, nil
}

// FrameInputs loads the sightings of the given species and the frames of
// those species that were already uploaded.
func (s *Service) FrameInputs(ctx context.Context, speciesIDs []int64) ([]Sighting, []UploadedFrame, error) {
	sightings, err := s.repo.Sightings(ctx, speciesIDs)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query sightings: %w", err)
	}
	frames, err := s.repo.UploadedFrames(ctx, speciesIDs)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query uploaded frames: %w", err)
	}
	return sightings, frames, nil
}

// SpeciesByID returns the requested species, failing on unknown ids.
func (s *Service) SpeciesByID(ctx context.Context, ids []int64) (map[int64]*Species, error) {
	all, err := s.repo.ListSpecies(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list species: %w", err)
	}
	byID := make(map[int64]*Species, len(all))
	for _, sp := range all {
		byID[sp.ID] = sp
	}

	out := make(map[int64]*Species, len(ids))
	for _, id := range ids {
		sp, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("species %d not found in catalog", id)
		}
		out[id] = sp
	}
	return out, nil
}

func (s *Service) Site(ctx context.Context, id int64) (*Site, error) {
	return s.repo.GetSite(ctx, id)
}
