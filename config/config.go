// Package config loads the YAML configuration shared by the server, the training CLI and the pipeline runner.
package config

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

const DefaultPath = "config.yaml"

type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Model    ModelConfig    `yaml:"model"`
	Log      LogConfig      `yaml:"log"`
	Database DatabaseConfig `yaml:"database"`
	Dataset  DatasetConfig  `yaml:"dataset"`
	Training TrainingConfig `yaml:"training"`
	Pipeline PipelineConfig `yaml:"pipeline"`
}

type HTTPConfig struct {
	Host    string        `yaml:"host"`
	Port    int           `yaml:"port"`
	Timeout time.Duration `yaml:"timeout"`
}

// Addr is the listen address in host:port form.
func (c HTTPConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

type ModelConfig struct {
	Type string `yaml:"type"`
	Path string `yaml:"path"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

type DatabaseConfig struct {
	// Path of the SQLite file; empty disables the training log and prediction history.
	Path string `yaml:"path"`
}

type DatasetConfig struct {
	Path     string `yaml:"path"`
	NSamples int    `yaml:"n_samples"`
	Seed     int64  `yaml:"seed"`
}

type TrainingConfig struct {
	NEstimators int     `yaml:"n_estimators"`
	MaxDepth    int     `yaml:"max_depth"`
	TestRatio   float64 `yaml:"test_ratio"`
	Seed        int64   `yaml:"seed"`
	MetricsPath string  `yaml:"metrics_path"`
}

type PipelineConfig struct {
	Owner        string        `yaml:"owner"`
	Schedule     string        `yaml:"schedule"`
	Retries      int           `yaml:"retries"`
	RetryDelay   time.Duration `yaml:"retry_delay"`
	StartDate    string        `yaml:"start_date"`
	RunOnStart   bool          `yaml:"run_on_start"`
	WatchDataset bool          `yaml:"watch_dataset"`
	HistorySize  int           `yaml:"history_size"`
}

// StartTime parses StartDate as YYYY-MM-DD or RFC 3339. Empty yields the zero time.
func (c PipelineConfig) StartTime() (time.Time, error) {
	if c.StartDate == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse("2006-01-02", c.StartDate); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, c.StartDate)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid start_date %q: %w", c.StartDate, err)
	}
	return t, nil
}

func Default() *Config {
	return &Config{
		HTTP:     HTTPConfig{Host: "0.0.0.0", Port: 8000, Timeout: 30 * time.Second},
		Model:    ModelConfig{Type: "random_forest", Path: "models/model.json"},
		Log:      LogConfig{Level: "info", MaxSizeMB: 100, MaxBackups: 3, MaxAgeDays: 28},
		Database: DatabaseConfig{Path: "data/mlops.db"},
		Dataset:  DatasetConfig{Path: "data/dataset.csv", NSamples: 1000, Seed: 42},
		Training: TrainingConfig{NEstimators: 10, TestRatio: 0.2, Seed: 42, MetricsPath: "models/metrics.json"},
		Pipeline: PipelineConfig{
			Owner:       "mlops",
			Schedule:    "@daily",
			Retries:     1,
			RetryDelay:  5 * time.Minute,
			StartDate:   "2024-01-01",
			HistorySize: 50,
		},
	}
}

// Load decodes path over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	config := Default()
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return config, nil
		}
		return nil, err
	}
	defer file.Close()

	if err := yaml.NewDecoder(file).Decode(config); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return config, nil
}

func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port %d out of range", c.HTTP.Port)
	}
	if c.Model.Path == "" {
		return errors.New("model.path is required")
	}
	if c.Training.TestRatio <= 0 || c.Training.TestRatio >= 1 {
		return fmt.Errorf("training.test_ratio %v outside (0, 1)", c.Training.TestRatio)
	}
	if c.Pipeline.Retries < 0 {
		return errors.New("pipeline.retries must not be negative")
	}
	if _, err := c.Pipeline.StartTime(); err != nil {
		return err
	}
	return nil
}
