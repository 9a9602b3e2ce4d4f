package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// FileConfig mirrors the TOML layout accepted through KSO_CONFIG_FILE.
// Zero values leave the corresponding default untouched.
type FileConfig struct {
	Agent struct {
		LogLevel  string `toml:"log_level"`
		DataDir   string `toml:"data_dir"`
		MovieDir  string `toml:"movie_dir"`
		OutputDir string `toml:"output_dir"`
		Project   string `toml:"project"`
		Workers   int    `toml:"workers"`
		Port      int    `toml:"port"`
	} `toml:"agent"`
	Database struct {
		Path string `toml:"path"`
		DSN  string `toml:"dsn"`
	} `toml:"database"`
	FFmpeg struct {
		Path           string `toml:"path"`
		TimeoutSeconds int    `toml:"timeout_seconds"`
	} `toml:"ffmpeg"`
	Zooniverse struct {
		BaseURL   string `toml:"base_url"`
		ProjectID string `toml:"project_id"`
		RateLimit int    `toml:"rate_limit"`
	} `toml:"zooniverse"`
	S3 struct {
		Bucket    string `toml:"bucket"`
		Region    string `toml:"region"`
		Profile   string `toml:"profile"`
		PathStyle bool   `toml:"path_style"`
	} `toml:"s3"`
}

// LoadFile decodes the base TOML file at path and then, when runtime is set,
// the sibling override file "<name>.<runtime>.toml" on top of it. A missing
// override is not an error; a missing base file is.
func LoadFile(path, runtime string) (*FileConfig, error) {
	var fc FileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return nil, fmt.Errorf("failed to decode config file %s: %w", path, err)
	}

	if runtime == "" {
		return &fc, nil
	}

	override := runtimeFileName(path, runtime)
	if _, err := os.Stat(override); errors.Is(err, os.ErrNotExist) {
		return &fc, nil
	}
	if _, err := toml.DecodeFile(override, &fc); err != nil {
		return nil, fmt.Errorf("failed to decode config file %s: %w", override, err)
	}
	return &fc, nil
}

func runtimeFileName(path, runtime string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "." + runtime + ext
}

func (c *EnvConfig) applyFile(fc *FileConfig) error {
	if fc.Agent.LogLevel != "" {
		c.logLevel = fc.Agent.LogLevel
	}
	if fc.Agent.DataDir != "" {
		c.dataDir = fc.Agent.DataDir
	}
	if fc.Agent.MovieDir != "" {
		c.movieDir = fc.Agent.MovieDir
	}
	if fc.Agent.OutputDir != "" {
		c.outputDir = fc.Agent.OutputDir
	}
	if fc.Agent.Project != "" {
		p, err := ParseProject(fc.Agent.Project)
		if err != nil {
			return err
		}
		c.project = p
	}
	if fc.Agent.Workers > 0 {
		c.workers = fc.Agent.Workers
	}
	if fc.Agent.Port != 0 {
		if fc.Agent.Port < 1 || fc.Agent.Port > 65535 {
			return fmt.Errorf("invalid agent.port: port must be between 1 and 65535")
		}
		c.port = fc.Agent.Port
	}

	if fc.Database.Path != "" {
		c.dbPath = fc.Database.Path
	}
	if fc.Database.DSN != "" {
		c.dbDSN = fc.Database.DSN
	}

	if fc.FFmpeg.Path != "" {
		c.ffmpegPath = fc.FFmpeg.Path
	}
	if fc.FFmpeg.TimeoutSeconds > 0 {
		c.ffmpegTimeout = time.Duration(fc.FFmpeg.TimeoutSeconds) * time.Second
	}

	if fc.Zooniverse.BaseURL != "" {
		c.zooURL = fc.Zooniverse.BaseURL
	}
	if fc.Zooniverse.ProjectID != "" {
		c.zooProjectID = fc.Zooniverse.ProjectID
	}
	if fc.Zooniverse.RateLimit > 0 {
		c.zooRateLimit = fc.Zooniverse.RateLimit
	}

	if fc.S3.Bucket != "" {
		c.s3Bucket = fc.S3.Bucket
	}
	if fc.S3.Region != "" {
		c.s3Region = fc.S3.Region
	}
	if fc.S3.Profile != "" {
		c.s3Profile = fc.S3.Profile
	}
	if fc.S3.PathStyle {
		c.s3PathStyle = true
	}
	return nil
}
