// Package movies locates the source movie files behind catalog entries, on
// the local filesystem or in the project's object storage bucket.
package movies

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/h2non/filetype"

	"github.com/koster-lab/kso-agent/internal/catalog"
	"github.com/koster-lab/kso-agent/internal/config"
)

// ErrNotFound is returned when no known path convention yields the movie.
var ErrNotFound = errors.New("movie file not found")

// Resolver finds catalog movies. Locate only checks where the file is;
// Resolve also fetches a remote file and returns a readable local path.
type Resolver interface {
	catalog.PathResolver
	Resolve(ctx context.Context, m *catalog.Movie) (string, error)
}

// LocalResolver probes the catalogued path, then the movie directory.
type LocalResolver struct {
	movieDir   string
	normalizer Normalizer
	logger     *slog.Logger
}

func NewLocalResolver(movieDir string, normalizer Normalizer, logger *slog.Logger) *LocalResolver {
	return &LocalResolver{movieDir: movieDir, normalizer: normalizer, logger: logger}
}

func (r *LocalResolver) candidates(m *catalog.Movie) []string {
	var paths []string
	if m.Path != "" {
		paths = append(paths, m.Path)
		if !filepath.IsAbs(m.Path) && r.movieDir != "" {
			paths = append(paths, filepath.Join(r.movieDir, m.Path))
		}
	}
	if r.movieDir != "" {
		paths = append(paths, filepath.Join(r.movieDir, m.Filename))
		if m.Path != "" {
			paths = append(paths, filepath.Join(r.movieDir, filepath.Base(m.Path)))
		}
	}
	if r.normalizer == nil {
		return distinct("", paths...)
	}
	var all []string
	for _, p := range paths {
		all = append(all, p)
		all = append(all, r.normalizer.Variants(p)...)
	}
	return distinct("", all...)
}

func (r *LocalResolver) Locate(ctx context.Context, m *catalog.Movie) (string, error) {
	for _, p := range r.candidates(m) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		ok, err := isVideoFile(p)
		if err != nil {
			if r.logger != nil {
				r.logger.Debug("skipping candidate movie path", "path", p, "error", err)
			}
			continue
		}
		if ok {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, m.Filename)
}

// Resolve is Locate: local files need no fetching.
func (r *LocalResolver) Resolve(ctx context.Context, m *catalog.Movie) (string, error) {
	return r.Locate(ctx, m)
}

// isVideoFile reports whether path is a non-empty regular file whose
// header is not recognisably something other than video.
func isVideoFile(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	if !info.Mode().IsRegular() {
		return false, fmt.Errorf("not a regular file")
	}
	if info.Size() == 0 {
		return false, fmt.Errorf("empty file")
	}

	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	head := make([]byte, 261)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return false, err
	}
	head = head[:n]

	kind, _ := filetype.Match(head)
	if kind != filetype.Unknown && !filetype.IsVideo(head) {
		return false, fmt.Errorf("file is %s, not a video", kind.MIME.Value)
	}
	return true, nil
}

// ChainResolver returns the first successful resolution.
type ChainResolver []Resolver

func (c ChainResolver) Locate(ctx context.Context, m *catalog.Movie) (string, error) {
	return c.first(ctx, m, Resolver.Locate)
}

func (c ChainResolver) Resolve(ctx context.Context, m *catalog.Movie) (string, error) {
	return c.first(ctx, m, Resolver.Resolve)
}

func (c ChainResolver) first(ctx context.Context, m *catalog.Movie, find func(Resolver, context.Context, *catalog.Movie) (string, error)) (string, error) {
	var errs []error
	for _, r := range c {
		p, err := find(r, ctx, m)
		if err == nil {
			return p, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return "", fmt.Errorf("%w: %s", ErrNotFound, m.Filename)
	}
	return "", errors.Join(errs...)
}

// ForProject builds the resolver a project's movies need. Koster movies
// live on a shared volume with Swedish filenames; Spyfish movies are
// fetched from the S3 bucket when they are not already on disk.
func ForProject(ctx context.Context, cfg config.Config, logger *slog.Logger) (Resolver, error) {
	switch cfg.Project() {
	case config.ProjectKoster:
		return NewLocalResolver(cfg.MovieDir(), Normalizers{UnicodeNormalizer{}, SwedishFolding}, logger), nil
	case config.ProjectSpyfish:
		bucket := cfg.S3Bucket()
		if bucket == "" {
			bucket = DefaultSpyfishBucket
		}
		store, err := NewS3Store(ctx, S3Config{
			Region:       cfg.S3Region(),
			Profile:      cfg.S3Profile(),
			UsePathStyle: cfg.S3PathStyle(),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create s3 client: %w", err)
		}
		return ChainResolver{
			NewLocalResolver(cfg.MovieDir(), UnicodeNormalizer{}, logger),
			NewS3Resolver(store, bucket, cfg.CacheDir(), logger),
		}, nil
	default:
		return nil, &config.ValidationError{Field: "project", Value: cfg.Project(), Reason: "the project you selected is not currently supported"}
	}
}
