// Package config resolves facevote settings from defaults, a YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"regexp"
	"os"
	"strconv"
	"time"

	"github.com/andresmejia3/facevote/internal/types"
	"gopkg.in/yaml.v3"
)

type Config struct {
	EncodingsPath string `yaml:"encodings"`
	TrainingDir   string `yaml:"training_dir"`
	ValidationDir string `yaml:"validation_dir"`
	OutputDir     string `yaml:"output_dir"` // annotated images

	Mode      string  `yaml:"model"`
	Tolerance float64 `yaml:"tolerance"`
	Workers   int     `yaml:"workers"`

	MinFontSize float64 `yaml:"min_font_size"`

	DatabaseURL string `yaml:"database_url"` // empty selects the file backend

	Detector DetectorConfig `yaml:"detector"`
}

type DetectorConfig struct {
	Backend     string        `yaml:"backend"` // python or dlib
	Python      string        `yaml:"python"`
	Script      string        `yaml:"script"`
	ModelsDir   string        `yaml:"models_dir"` // dlib model files
	ReadTimeout time.Duration `yaml:"read_timeout"`
}

// Default returns the settings used when nothing else is configured.
func Default() Config {
	return Config{
		EncodingsPath: "output/encodings.gob",
		TrainingDir:   "training",
		ValidationDir: "validation",
		OutputDir:     "output/annotated",
		Mode:          types.ModeHOG,
		Tolerance:     0.6,
		Workers:       1,
		MinFontSize:   10,
		Detector: DetectorConfig{
			Backend:     "python",
			Python:      "python3",
			Script:      "python/worker.py",
			ModelsDir:   "models",
			ReadTimeout: 60 * time.Second,
		},
	}
}

// Load layers the YAML file at path (if any) and then the environment over Default.
// A missing file is only an error when path was given explicitly.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return cfg, fmt.Errorf("config file %s: %w", path, types.ErrNotFound)
			}
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	envString("FACEVOTE_ENCODINGS", &cfg.EncodingsPath)
	envString("FACEVOTE_TRAINING_DIR", &cfg.TrainingDir)
	envString("FACEVOTE_VALIDATION_DIR", &cfg.ValidationDir)
	envString("FACEVOTE_OUTPUT_DIR", &cfg.OutputDir)
	envString("FACEVOTE_MODEL", &cfg.Mode)
	envString("FACEVOTE_DETECTOR", &cfg.Detector.Backend)
	envString("FACEVOTE_PYTHON", &cfg.Detector.Python)
	envString("FACEVOTE_WORKER_SCRIPT", &cfg.Detector.Script)
	envString("FACEVOTE_MODELS_DIR", &cfg.Detector.ModelsDir)

	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = postgresURLFromEnv()
	}
	envString("FACEVOTE_DB_URL", &cfg.DatabaseURL)

	if s := os.Getenv("FACEVOTE_TOLERANCE"); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("FACEVOTE_TOLERANCE: %w", err)
		}
		cfg.Tolerance = v
	}
	if s := os.Getenv("FACEVOTE_WORKERS"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("FACEVOTE_WORKERS: %w", err)
		}
		cfg.Workers = v
	}
	if s := os.Getenv("FACEVOTE_READ_TIMEOUT"); s != "" {
		v, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("FACEVOTE_READ_TIMEOUT: %w", err)
		}
		cfg.Detector.ReadTimeout = v
	}
	return nil
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// postgresURLFromEnv builds a connection string from the conventional
// POSTGRES_* variables used by docker-compose setups.
func postgresURLFromEnv() string {
	host := os.Getenv("POSTGRES_HOST")
	if host == "" {
		return ""
	}
	port := os.Getenv("POSTGRES_PORT")
	if port == "" {
		port = "5432"
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(os.Getenv("POSTGRES_USER"), os.Getenv("POSTGRES_PASSWORD")),
		Host:   host + ":" + port,
		Path:   "/" + os.Getenv("POSTGRES_DB"),
	}
	return u.String()
}

var dsnPassword = regexp.MustCompile(`(?i)(password\s*=\s*)('[^']*'|\S+)`)

// Redacted returns a copy safe to log, with any database password masked.
func (c Config) Redacted() Config {
	if c.DatabaseURL == "" {
		return c
	}
	if u, err := url.Parse(c.DatabaseURL); err == nil && u.Scheme != "" {
		c.DatabaseURL = u.Redacted()
		return c
	}
	// key=value DSN
	c.DatabaseURL = dsnPassword.ReplaceAllString(c.DatabaseURL, "${1}xxxxx")
	return c
}

// Validate rejects settings that would fail later in a less obvious way.
func (c Config) Validate() error {
	if err := types.ValidateMode(c.Mode); err != nil {
		return err
	}
	if c.Tolerance <= 0 {
		return fmt.Errorf("tolerance must be positive, got %v", c.Tolerance)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.MinFontSize <= 0 {
		return fmt.Errorf("min_font_size must be positive, got %v", c.MinFontSize)
	}
	return nil
}
