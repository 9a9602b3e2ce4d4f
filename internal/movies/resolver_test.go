package movies

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/unicode/norm"

	"github.com/koster-lab/kso-agent/internal/catalog"
	"github.com/koster-lab/kso-agent/internal/schedule"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, data, 0644))
}

func TestLocalResolver_CataloguedPath(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "server", "movie_a.mov")
	writeFile(t, p, []byte("not really a movie"))

	r := NewLocalResolver(filepath.Join(dir, "elsewhere"), nil, nil)
	got, err := r.Resolve(context.Background(), &catalog.Movie{Filename: "movie_a.mov", Path: p})
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestLocalResolver_MovieDirFallback(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "movie_a.mov"), []byte("frames"))

	r := NewLocalResolver(dir, nil, nil)
	got, err := r.Resolve(context.Background(), &catalog.Movie{Filename: "movie_a.mov", Path: "/mnt/gone/movie_a.mov"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "movie_a.mov"), got)
}

func TestLocalResolver_NotFound(t *testing.T) {
	r := NewLocalResolver(t.TempDir(), UnicodeNormalizer{}, nil)
	_, err := r.Resolve(context.Background(), &catalog.Movie{Filename: "lost.mov"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalResolver_RejectsNonVideo(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "still.mov"), pngHeader)
	writeFile(t, filepath.Join(dir, "empty.mov"), nil)

	r := NewLocalResolver(dir, nil, nil)
	_, err := r.Resolve(context.Background(), &catalog.Movie{Filename: "still.mov"})
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = r.Resolve(context.Background(), &catalog.Movie{Filename: "empty.mov"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalResolver_SwedishFilenames(t *testing.T) {
	dir := t.TempDir()
	decomposed := norm.NFD.String("Tjärnö_2019.mov")
	writeFile(t, filepath.Join(dir, decomposed), []byte("frames"))
	writeFile(t, filepath.Join(dir, "Koster_oster.mov"), []byte("frames"))

	r := NewLocalResolver(dir, Normalizers{UnicodeNormalizer{}, SwedishFolding}, nil)

	got, err := r.Resolve(context.Background(), &catalog.Movie{Filename: norm.NFC.String("Tjärnö_2019.mov")})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, decomposed), got)

	got, err = r.Resolve(context.Background(), &catalog.Movie{Filename: "Koster_öster.mov"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "Koster_oster.mov"), got)
}

func TestNormalizers_Variants(t *testing.T) {
	assert.Empty(t, UnicodeNormalizer{}.Variants("plain.mov"))
	assert.Equal(t, []string{"Kraken_sjo.mov"}, SwedishFolding.Variants("Kraken_sjö.mov"))

	vs := Normalizers{UnicodeNormalizer{}, SwedishFolding}.Variants("sjö.mov")
	assert.Contains(t, vs, norm.NFD.String("sjö.mov"))
	assert.Contains(t, vs, "sjo.mov")
	assert.NotContains(t, vs, "sjö.mov")
}

type fakeStore struct {
	objects map[string][]byte
	gets    atomic.Int32
	err     error
}

func (f *fakeStore) Exists(ctx context.Context, bucket, key string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	_, ok := f.objects[bucket+"/"+key]
	return ok, nil
}

func (f *fakeStore) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	f.gets.Add(1)
	data, ok := f.objects[bucket+"/"+key]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func TestS3Resolver_DownloadsOnce(t *testing.T) {
	store := &fakeStore{objects: map[string][]byte{
		"marine-buv/buv-zooniverse-uploads/TAW_2020.mp4": []byte("mp4 data"),
	}}
	cache := t.TempDir()
	r := NewS3Resolver(store, DefaultSpyfishBucket, cache, nil)
	m := &catalog.Movie{Filename: "TAW_2020.mp4", Path: "/buv-zooniverse-uploads/TAW_2020.mp4"}

	got, err := r.Resolve(context.Background(), m)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(got, cache))

	data, err := os.ReadFile(got)
	require.NoError(t, err)
	assert.Equal(t, "mp4 data", string(data))

	again, err := r.Resolve(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, got, again)
	assert.Equal(t, int32(1), store.gets.Load())
}

func TestS3Resolver_Missing(t *testing.T) {
	r := NewS3Resolver(&fakeStore{objects: map[string][]byte{}}, "bucket", t.TempDir(), nil)
	_, err := r.Resolve(context.Background(), &catalog.Movie{Filename: "none.mp4"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestS3Resolver_StoreError(t *testing.T) {
	r := NewS3Resolver(&fakeStore{err: errors.New("access denied")}, "bucket", t.TempDir(), nil)
	_, err := r.Resolve(context.Background(), &catalog.Movie{Filename: "a.mp4"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestChainResolver(t *testing.T) {
	dir := t.TempDir()
	store := &fakeStore{objects: map[string][]byte{"b/remote.mp4": []byte("remote")}}
	chain := ChainResolver{
		NewLocalResolver(dir, nil, nil),
		NewS3Resolver(store, "b", t.TempDir(), nil),
	}

	got, err := chain.Resolve(context.Background(), &catalog.Movie{Filename: "remote.mp4"})
	require.NoError(t, err)
	assert.FileExists(t, got)

	_, err = chain.Resolve(context.Background(), &catalog.Movie{Filename: "nowhere.mp4"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func spyfishStore() *fakeStore {
	return &fakeStore{objects: map[string][]byte{
		"marine-buv/uploads/TAW_2020.mp4": []byte("taw"),
		"marine-buv/uploads/POU_2021.mp4": []byte("pou"),
		"marine-buv/uploads/CRP_2021.mp4": []byte("crp"),
	}}
}

func spyfishMovies() []*catalog.Movie {
	return []*catalog.Movie{
		{ID: 1, Filename: "TAW_2020.mp4", Path: "uploads/TAW_2020.mp4"},
		{ID: 2, Filename: "POU_2021.mp4", Path: "uploads/POU_2021.mp4"},
		{ID: 3, Filename: "CRP_2021.mp4", Path: "uploads/CRP_2021.mp4"},
	}
}

func TestS3Resolver_LocateDoesNotDownload(t *testing.T) {
	ctx := context.Background()
	store := spyfishStore()
	cache := t.TempDir()
	r := NewS3Resolver(store, DefaultSpyfishBucket, cache, nil)

	for _, m := range spyfishMovies() {
		got, err := r.Locate(ctx, m)
		require.NoError(t, err)
		assert.Equal(t, "s3://marine-buv/"+m.Path, got)
	}
	assert.Equal(t, int32(0), store.gets.Load())

	// a located URI fetches the same object
	m := &catalog.Movie{Filename: "TAW_2020.mp4", Path: "s3://marine-buv/uploads/TAW_2020.mp4"}
	local, err := r.Resolve(ctx, m)
	require.NoError(t, err)
	assert.Equal(t, int32(1), store.gets.Load())

	again, err := r.Locate(ctx, m)
	require.NoError(t, err)
	assert.Equal(t, local, again)
	assert.Equal(t, int32(1), store.gets.Load())

	_, err = r.Locate(ctx, &catalog.Movie{Filename: "gone.mp4"})
	assert.ErrorIs(t, err, ErrNotFound)
}

type moviesRepo struct {
	catalog.Repository
	movies []*catalog.Movie
}

func (r moviesRepo) ListMovies(ctx context.Context) ([]*catalog.Movie, error) {
	return r.movies, nil
}

func TestListingAndPlanningDoNotDownload(t *testing.T) {
	ctx := context.Background()
	store := spyfishStore()
	chain := ChainResolver{
		NewLocalResolver(t.TempDir(), UnicodeNormalizer{}, nil),
		NewS3Resolver(store, DefaultSpyfishBucket, t.TempDir(), nil),
	}

	svc := catalog.NewService(moviesRepo{movies: spyfishMovies()}, nil)
	available, err := svc.AvailableMovies(ctx, chain)
	require.NoError(t, err)
	require.Len(t, available, 3)
	for _, am := range available {
		assert.True(t, am.Found, am.Error)
	}

	var sightings []catalog.Sighting
	for _, m := range spyfishMovies() {
		sightings = append(sightings, catalog.Sighting{
			SpeciesID: 7, SubjectID: m.ID, MovieID: m.ID, MovieFilename: m.Filename,
			MoviePath: m.Path, ClipStartTime: 10, FirstSeen: 1, FPS: 25,
		})
	}
	plan, err := schedule.SelectFrames(ctx, schedule.FrameRequest{SpeciesIDs: []int64{7}, NFrames: 2}, sightings, nil, chain)
	require.NoError(t, err)
	assert.Len(t, plan.Candidates, 6)
	assert.Zero(t, plan.Dropped)

	assert.Equal(t, int32(0), store.gets.Load(), "listing and planning must not download movies")
}
