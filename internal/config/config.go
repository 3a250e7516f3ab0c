package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"github.com/barusanov/Perl5-IDEA/internal/plvalue"
	"github.com/goccy/go-yaml"
	"github.com/rs/zerolog"
)

const (
	APP_NAME = "plvalues"

	CONFIG_FILE_RELPATH = APP_NAME + "/config.yaml"
	INDEX_FILE_RELPATH  = APP_NAME + "/values.db"

	DEFAULT_RECORD_CACHE_SIZE     = 1024
	DEFAULT_INVALIDATION_DELAY_MS = 100
	DEFAULT_LOG_LEVEL             = "info"
)

var (
	DEFAULT_SOURCE_PATTERNS = []string{"**/*.pm", "**/*.pl", "**/*.t"}

	ErrInvalidConfig = errors.New("invalid configuration")

	FORCE_COLOR           bool
	TRUECOLOR_COLORTERM   bool
	TERM_256COLOR_CAPABLE bool
	NO_COLOR              bool
	SHOULD_COLORIZE       bool
)

func init() {
	targetSpecificInit()
}

type Config struct {
	// path of the value index, defaults to $XDG_DATA_HOME/plvalues/values.db
	IndexPath string `yaml:"index-path"`

	RecordCacheSize     int      `yaml:"record-cache-size"`
	MaxConcatCandidates int      `yaml:"max-concat-candidates"`
	ConstructorNames    []string `yaml:"constructor-names"`

	// glob patterns (relative to the watched directories) of the files whose changes invalidate the session.
	SourcePatterns      []string `yaml:"source-patterns"`
	InvalidationDelayMs int      `yaml:"invalidation-delay-ms"`

	LogLevel string `yaml:"log-level"`
}

func Default() Config {
	c := Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.IndexPath == "" {
		c.IndexPath = filepath.Join(xdg.DataHome, INDEX_FILE_RELPATH)
	}
	if c.RecordCacheSize <= 0 {
		c.RecordCacheSize = DEFAULT_RECORD_CACHE_SIZE
	}
	if c.MaxConcatCandidates <= 0 {
		c.MaxConcatCandidates = plvalue.DEFAULT_MAX_CONCAT_CANDIDATES
	}
	if len(c.ConstructorNames) == 0 {
		c.ConstructorNames = []string{plvalue.DEFAULT_CONSTRUCTOR_NAME}
	}
	if len(c.SourcePatterns) == 0 {
		c.SourcePatterns = DEFAULT_SOURCE_PATTERNS
	}
	if c.InvalidationDelayMs <= 0 {
		c.InvalidationDelayMs = DEFAULT_INVALIDATION_DELAY_MS
	}
	if c.LogLevel == "" {
		c.LogLevel = DEFAULT_LOG_LEVEL
	}
}

// Load reads the YAML configuration file at path. If path is empty the file is searched in the XDG
// configuration directories, the default configuration is returned if there is no such file.
func Load(path string) (Config, error) {
	if path == "" {
		found, err := xdg.SearchConfigFile(CONFIG_FILE_RELPATH)
		if err != nil {
			return Default(), nil
		}
		path = found
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var c Config
	if err := yaml.Unmarshal(content, &c); err != nil {
		return Config{}, fmt.Errorf("%w: %s: %w", ErrInvalidConfig, path, err)
	}
	c.applyDefaults()

	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return Config{}, fmt.Errorf("%w: %s: %w", ErrInvalidConfig, path, err)
	}
	return c, nil
}

func (c Config) ResolutionOptions() plvalue.ResolutionOptions {
	return plvalue.ResolutionOptions{
		MaxConcatCandidates: c.MaxConcatCandidates,
		ConstructorNames:    c.ConstructorNames,
	}
}

func (c Config) InvalidationDelay() time.Duration {
	return time.Duration(c.InvalidationDelayMs) * time.Millisecond
}

// Level returns the log level, zerolog.InfoLevel if the configured level is invalid.
func (c Config) Level() zerolog.Level {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || c.LogLevel == "" {
		return zerolog.InfoLevel
	}
	return level
}
