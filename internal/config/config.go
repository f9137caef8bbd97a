// Package config loads runtime settings from defaults, an optional YAML file and the environment.
// Command-line flags are applied on top by the cmd package.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	BackendWorker   = "worker"
	BackendDeepFace = "deepface"
)

// Config holds every tunable of the app.
type Config struct {
	Addr    string `yaml:"addr"`
	LogPath string `yaml:"log_path"`

	Backend       string        `yaml:"backend"`
	Python        string        `yaml:"python"`
	Script        string        `yaml:"script"`
	Engines       int           `yaml:"engines"`
	WorkerTimeout time.Duration `yaml:"worker_timeout"`
	DeepFaceURL   string        `yaml:"deepface_url"`
	Detector      string        `yaml:"detector_backend"`

	DatabaseURL string `yaml:"database_url"`

	LogLevel    string `yaml:"log_level"`
	DiagLogFile string `yaml:"diag_log_file"`

	MaxUploadMB int `yaml:"max_upload_mb"`
	MaxSide     int `yaml:"max_side"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Addr:          ":8501",
		LogPath:       "logs/face_analysis_log.csv",
		Backend:       BackendWorker,
		Python:        "python3",
		Script:        "python/analyze_worker.py",
		Engines:       1,
		WorkerTimeout: 60 * time.Second,
		DeepFaceURL:   "http://localhost:5005",
		Detector:      "opencv",
		LogLevel:      "info",
		MaxUploadMB:   20,
		MaxSide:       1280,
	}
}

// Load returns the defaults overlaid with the YAML file at path (if any) and then the environment.
// The result is not validated; callers apply flags first and then call Validate.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file: %w", err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"FACELENS_ADDR":         &c.Addr,
		"FACELENS_LOG_PATH":     &c.LogPath,
		"FACELENS_BACKEND":      &c.Backend,
		"FACELENS_PYTHON":       &c.Python,
		"FACELENS_SCRIPT":       &c.Script,
		"FACELENS_DEEPFACE_URL": &c.DeepFaceURL,
		"FACELENS_DETECTOR":     &c.Detector,
		"FACELENS_DB":           &c.DatabaseURL,
		"FACELENS_LOG_LEVEL":    &c.LogLevel,
		"FACELENS_DIAG_LOG":     &c.DiagLogFile,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"FACELENS_ENGINES":       &c.Engines,
		"FACELENS_MAX_UPLOAD_MB": &c.MaxUploadMB,
		"FACELENS_MAX_SIDE":      &c.MaxSide,
	}
	for key, dst := range ints {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = n
		}
	}

	if v, ok := lookup("FACELENS_WORKER_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("FACELENS_WORKER_TIMEOUT: %w", err)
		}
		c.WorkerTimeout = d
	}

	// If no URL was provided, try to build the connection string from the environment
	if c.DatabaseURL == "" {
		if host, ok := lookup("POSTGRES_HOST"); ok && host != "" {
			user, _ := lookup("POSTGRES_USER")
			pass, _ := lookup("POSTGRES_PASSWORD")
			name, _ := lookup("POSTGRES_DB")
			port, _ := lookup("POSTGRES_PORT")
			if port == "" {
				port = "5432"
			}
			c.DatabaseURL = fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, pass, host, port, name)
		}
	}
	return nil
}

// Validate rejects settings no command can run with.
func (c Config) Validate() error {
	var errs []error
	switch c.Backend {
	case BackendWorker:
		if c.Engines < 1 {
			errs = append(errs, fmt.Errorf("engines must be at least 1, got %d", c.Engines))
		}
		if c.Script == "" {
			errs = append(errs, errors.New("worker backend needs a script path"))
		}
	case BackendDeepFace:
		if c.DeepFaceURL == "" {
			errs = append(errs, errors.New("deepface backend needs a URL"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown backend %q (want %s or %s)", c.Backend, BackendWorker, BackendDeepFace))
	}
	if c.LogPath == "" {
		errs = append(errs, errors.New("log path must not be empty"))
	}
	if c.MaxUploadMB < 1 {
		errs = append(errs, fmt.Errorf("max upload must be at least 1 MB, got %d", c.MaxUploadMB))
	}
	if c.MaxSide < 0 {
		errs = append(errs, fmt.Errorf("max side must not be negative, got %d", c.MaxSide))
	}
	return errors.Join(errs...)
}
