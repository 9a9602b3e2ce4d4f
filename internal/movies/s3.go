package movies

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/koster-lab/kso-agent/internal/catalog"
)

// DefaultSpyfishBucket holds the Spyfish Aotearoa BUV recordings.
const DefaultSpyfishBucket = "marine-buv"

// ObjectStore is the part of S3 the resolver needs.
type ObjectStore interface {
	Exists(ctx context.Context, bucket, key string) (bool, error)
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}

// S3Config values are optional and fall back to the AWS default chain.
type S3Config struct {
	Region       string
	Profile      string
	UsePathStyle bool
}

// S3Store wraps the AWS SDK v2 S3 client.
type S3Store struct {
	client *s3.Client
}

func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, err
	}

	c := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
	})
	return &S3Store{client: c}, nil
}

func (s *S3Store) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	return out.Body, nil
}

// Exists returns false without error on 404/NotFound.
func (s *S3Store) Exists(ctx context.Context, bucket, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, err
}

func isNotFound(err error) bool {
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() == 404 {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}

// S3Resolver finds a movie in a bucket. Locate only asks the bucket whether
// the object exists; Resolve downloads it into cacheDir. A cached copy is
// reused by both.
type S3Resolver struct {
	store      ObjectStore
	bucket     string
	cacheDir   string
	normalizer Normalizer
	logger     *slog.Logger
}

func NewS3Resolver(store ObjectStore, bucket, cacheDir string, logger *slog.Logger) *S3Resolver {
	return &S3Resolver{
		store:      store,
		bucket:     bucket,
		cacheDir:   cacheDir,
		normalizer: UnicodeNormalizer{},
		logger:     logger,
	}
}

// URI is the location Locate reports for an object that is not cached.
func (r *S3Resolver) URI(key string) string {
	return "s3://" + r.bucket + "/" + key
}

func (r *S3Resolver) keys(m *catalog.Movie) []string {
	var keys []string
	if m.Path != "" {
		p := filepath.ToSlash(m.Path)
		if rest, ok := strings.CutPrefix(p, r.URI("")); ok {
			p = rest
		}
		keys = append(keys, strings.TrimPrefix(p, "/"))
	}
	keys = append(keys, m.Filename)

	var all []string
	for _, k := range keys {
		all = append(all, k)
		all = append(all, r.normalizer.Variants(k)...)
	}
	return distinct("", all...)
}

func (r *S3Resolver) cachePath(key string) string {
	return filepath.Join(r.cacheDir, r.bucket, filepath.FromSlash(path.Clean(key)))
}

func cached(local string) bool {
	info, err := os.Stat(local)
	return err == nil && info.Size() > 0
}

// find returns the first key that is cached or present in the bucket.
func (r *S3Resolver) find(ctx context.Context, m *catalog.Movie) (key string, isCached bool, err error) {
	for _, key := range r.keys(m) {
		if cached(r.cachePath(key)) {
			return key, true, nil
		}
		ok, err := r.store.Exists(ctx, r.bucket, key)
		if err != nil {
			return "", false, fmt.Errorf("failed to check %s: %w", r.URI(key), err)
		}
		if ok {
			return key, false, nil
		}
	}
	return "", false, fmt.Errorf("%w: %s", ErrNotFound, r.URI(m.Filename))
}

// Locate returns the cached path, or the s3:// URI of an object that has
// not been downloaded yet.
func (r *S3Resolver) Locate(ctx context.Context, m *catalog.Movie) (string, error) {
	key, isCached, err := r.find(ctx, m)
	if err != nil {
		return "", err
	}
	if isCached {
		return r.cachePath(key), nil
	}
	return r.URI(key), nil
}

func (r *S3Resolver) Resolve(ctx context.Context, m *catalog.Movie) (string, error) {
	key, isCached, err := r.find(ctx, m)
	if err != nil {
		return "", err
	}
	local := r.cachePath(key)
	if isCached {
		return local, nil
	}
	if err := r.download(ctx, key, local); err != nil {
		return "", err
	}
	if r.logger != nil {
		r.logger.Info("downloaded movie", "bucket", r.bucket, "key", key, "path", local)
	}
	return local, nil
}

func (r *S3Resolver) download(ctx context.Context, key, local string) error {
	if err := os.MkdirAll(filepath.Dir(local), 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	body, err := r.store.Get(ctx, r.bucket, key)
	if err != nil {
		return fmt.Errorf("failed to get s3://%s/%s: %w", r.bucket, key, err)
	}
	defer body.Close()

	tmp, err := os.CreateTemp(filepath.Dir(local), ".download-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to download s3://%s/%s: %w", r.bucket, key, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), local)
}
