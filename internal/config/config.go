// Package config provides configuration management for the KSO agent.
// Values come from built-in defaults, an optional layered TOML file and
// environment variables (a .env file in the working directory is honoured),
// in that order of precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	// Default values
	DefaultPort      = 8788
	DefaultLogLevel  = "info"
	DefaultDataDir   = ".kso"
	DefaultMovieDir  = "movies"
	DefaultOutputDir = "output"
	DefaultProject   = ProjectKoster
	DefaultWorkers   = 1

	DefaultFFmpegPath          = "ffmpeg"
	DefaultFFmpegTimeoutSecs   = 600
	DefaultZooniverseBaseURL   = "https://www.zooniverse.org/api"
	DefaultZooniverseRateLimit = 2 // requests per second

	// Environment variable names
	EnvPort       = "KSO_PORT"
	EnvLogLevel   = "KSO_LOG_LEVEL"
	EnvDataDir    = "KSO_DATA_DIR"
	EnvDBPath     = "KSO_DB_PATH"
	EnvDBDSN      = "KSO_DB_DSN"
	EnvMovieDir   = "KSO_MOVIE_DIR"
	EnvOutputDir  = "KSO_OUTPUT_DIR"
	EnvProject    = "KSO_PROJECT"
	EnvWorkers    = "KSO_WORKERS"
	EnvAPIToken   = "KSO_API_TOKEN"
	EnvConfigFile = "KSO_CONFIG_FILE"
	EnvRuntime    = "KSO_RUNTIME"

	EnvFFmpegPath    = "KSO_FFMPEG_PATH"
	EnvFFmpegTimeout = "KSO_FFMPEG_TIMEOUT"

	EnvZooniverseBaseURL   = "KSO_ZOONIVERSE_URL"
	EnvZooniverseToken     = "KSO_ZOONIVERSE_TOKEN"
	EnvZooniverseProjectID = "KSO_ZOONIVERSE_PROJECT_ID"
	EnvZooniverseRateLimit = "KSO_ZOONIVERSE_RATE_LIMIT"

	EnvS3Bucket    = "KSO_S3_BUCKET"
	EnvS3Region    = "KSO_S3_REGION"
	EnvS3Profile   = "KSO_S3_PROFILE"
	EnvS3PathStyle = "KSO_S3_PATH_STYLE"

	// Database filename
	DBFilename = "koster_lab.db"
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	DataDir() string
	DBPath() string
	DBDSN() string
	MovieDir() string
	OutputDir() string
	Project() Project
	Workers() int
	APIToken() string
	CacheDir() string

	FFmpegPath() string
	FFmpegTimeout() time.Duration

	ZooniverseBaseURL() string
	ZooniverseToken() string
	ZooniverseProjectID() string
	ZooniverseRateLimit() int

	S3Bucket() string
	S3Region() string
	S3Profile() string
	S3PathStyle() bool
}

// EnvConfig reads configuration from environment variables
type EnvConfig struct {
	port      int
	logLevel  string
	dataDir   string
	dbPath    string
	dbDSN     string
	movieDir  string
	outputDir string
	project   Project
	workers   int
	apiToken  string

	ffmpegPath    string
	ffmpegTimeout time.Duration

	zooURL       string
	zooToken     string
	zooProjectID string
	zooRateLimit int

	s3Bucket    string
	s3Region    string
	s3Profile   string
	s3PathStyle bool
}

// New creates a new EnvConfig with defaults, the optional TOML file and
// environment variable overrides applied.
func New() (*EnvConfig, error) {
	// A missing .env file is the normal case.
	_ = godotenv.Load()

	cfg := &EnvConfig{
		port:          DefaultPort,
		logLevel:      DefaultLogLevel,
		dataDir:       defaultDataDir(),
		movieDir:      DefaultMovieDir,
		outputDir:     DefaultOutputDir,
		project:       DefaultProject,
		workers:       DefaultWorkers,
		ffmpegPath:    DefaultFFmpegPath,
		ffmpegTimeout: time.Duration(DefaultFFmpegTimeoutSecs) * time.Second,
		zooURL:        DefaultZooniverseBaseURL,
		zooRateLimit:  DefaultZooniverseRateLimit,
	}

	if path := os.Getenv(EnvConfigFile); path != "" {
		fc, err := LoadFile(path, os.Getenv(EnvRuntime))
		if err != nil {
			return nil, err
		}
		if err := cfg.applyFile(fc); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *EnvConfig) applyEnv() error {
	if p := os.Getenv(EnvPort); p != "" {
		port, err := parsePort(p)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		c.port = port
	}

	if ll := os.Getenv(EnvLogLevel); ll != "" {
		c.logLevel = ll
	}
	if dd := os.Getenv(EnvDataDir); dd != "" {
		c.dataDir = dd
	}
	if v := os.Getenv(EnvDBPath); v != "" {
		c.dbPath = v
	}
	if v := os.Getenv(EnvDBDSN); v != "" {
		c.dbDSN = v
	}
	if v := os.Getenv(EnvMovieDir); v != "" {
		c.movieDir = v
	}
	if v := os.Getenv(EnvOutputDir); v != "" {
		c.outputDir = v
	}
	if v := os.Getenv(EnvProject); v != "" {
		p, err := ParseProject(v)
		if err != nil {
			return err
		}
		c.project = p
	}
	if v := os.Getenv(EnvWorkers); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return fmt.Errorf("invalid %s: must be a positive integer", EnvWorkers)
		}
		c.workers = n
	}
	if v := os.Getenv(EnvAPIToken); v != "" {
		c.apiToken = v
	}

	if v := os.Getenv(EnvFFmpegPath); v != "" {
		c.ffmpegPath = v
	}
	if v := os.Getenv(EnvFFmpegTimeout); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil || secs < 1 {
			return fmt.Errorf("invalid %s: must be a positive number of seconds", EnvFFmpegTimeout)
		}
		c.ffmpegTimeout = time.Duration(secs) * time.Second
	}

	if v := os.Getenv(EnvZooniverseBaseURL); v != "" {
		c.zooURL = v
	}
	if v := os.Getenv(EnvZooniverseToken); v != "" {
		c.zooToken = v
	}
	if v := os.Getenv(EnvZooniverseProjectID); v != "" {
		c.zooProjectID = v
	}
	if v := os.Getenv(EnvZooniverseRateLimit); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return fmt.Errorf("invalid %s: must be a positive integer", EnvZooniverseRateLimit)
		}
		c.zooRateLimit = n
	}

	if v := os.Getenv(EnvS3Bucket); v != "" {
		c.s3Bucket = v
	}
	if v := os.Getenv(EnvS3Region); v != "" {
		c.s3Region = v
	}
	if v := os.Getenv(EnvS3Profile); v != "" {
		c.s3Profile = v
	}
	if v := os.Getenv(EnvS3PathStyle); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvS3PathStyle, err)
		}
		c.s3PathStyle = b
	}
	return nil
}

func parsePort(p string) (int, error) {
	port, err := strconv.Atoi(p)
	if err != nil {
		return 0, err
	}
	if port < 1 || port > 65535 {
		return 0, fmt.Errorf("port must be between 1 and 65535")
	}
	return port, nil
}

// Port returns the HTTP preview server port
func (c *EnvConfig) Port() int {
	return c.port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DBPath returns the SQLite database file. Defaults to a file inside DataDir.
func (c *EnvConfig) DBPath() string {
	if c.dbPath != "" {
		return c.dbPath
	}
	return filepath.Join(c.dataDir, DBFilename)
}

// DBDSN returns a postgres:// connection string when the catalog lives in
// PostgreSQL rather than a local SQLite file.
func (c *EnvConfig) DBDSN() string {
	return c.dbDSN
}

func (c *EnvConfig) MovieDir() string {
	return c.movieDir
}

func (c *EnvConfig) OutputDir() string {
	return c.outputDir
}

func (c *EnvConfig) Project() Project {
	return c.project
}

func (c *EnvConfig) Workers() int {
	return c.workers
}

// APIToken returns the bearer token required by the preview server.
func (c *EnvConfig) APIToken() string {
	return c.apiToken
}

// CacheDir holds movies downloaded from object storage.
func (c *EnvConfig) CacheDir() string {
	return filepath.Join(c.dataDir, "cache")
}

func (c *EnvConfig) FFmpegPath() string {
	return c.ffmpegPath
}

func (c *EnvConfig) FFmpegTimeout() time.Duration {
	return c.ffmpegTimeout
}

func (c *EnvConfig) ZooniverseBaseURL() string {
	return c.zooURL
}

func (c *EnvConfig) ZooniverseToken() string {
	return c.zooToken
}

func (c *EnvConfig) ZooniverseProjectID() string {
	return c.zooProjectID
}

func (c *EnvConfig) ZooniverseRateLimit() int {
	return c.zooRateLimit
}

func (c *EnvConfig) S3Bucket() string {
	return c.s3Bucket
}

func (c *EnvConfig) S3Region() string {
	return c.s3Region
}

func (c *EnvConfig) S3Profile() string {
	return c.s3Profile
}

func (c *EnvConfig) S3PathStyle() bool {
	return c.s3PathStyle
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
