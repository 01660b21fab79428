package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rtcstack/rtc-triage/internal/rules"
)

// Config captures the settings required to run the triage tool.
type Config struct {
	Logging    LoggingConfig    `yaml:"logging"`
	Thresholds rules.Thresholds `yaml:"thresholds"`
	Health     HealthConfig     `yaml:"health"`
	Report     ReportConfig     `yaml:"report"`
	Analysis   AnalysisConfig   `yaml:"analysis"`
	Server     ServerConfig     `yaml:"server"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// HealthConfig tunes the metrics aggregator.
type HealthConfig struct {
	// FirstMediaPattern is the log text marking the first received media.
	FirstMediaPattern string `yaml:"firstMediaPattern"`
}

// ReportConfig controls report building.
type ReportConfig struct {
	TopFindings int `yaml:"topFindings"`
}

// AnalysisConfig controls how analysis is dispatched.
type AnalysisConfig struct {
	// Sync disables the worker context and analyzes in-process.
	Sync bool `yaml:"sync"`
}

// ServerConfig controls the serve command's HTTP listener.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("RTC_TRIAGE_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// LoadThresholds reads a standalone threshold override pack.
func LoadThresholds(path string) (rules.Thresholds, error) {
	th := rules.DefaultThresholds()
	if path == "" {
		return th, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return th, fmt.Errorf("read thresholds: %w", err)
	}
	if err := yaml.Unmarshal(data, &th); err != nil {
		return th, fmt.Errorf("parse thresholds: %w", err)
	}
	return th, nil
}

func defaultConfig() Config {
	return Config{
		Logging:    LoggingConfig{Level: "info", JSON: false},
		Thresholds: rules.DefaultThresholds(),
		Health:     HealthConfig{},
		Report:     ReportConfig{TopFindings: 15},
		Analysis:   AnalysisConfig{},
		Server: ServerConfig{
			Address:         ":8423",
			GracefulTimeout: 10 * time.Second,
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("RTC_TRIAGE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("RTC_TRIAGE_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("RTC_TRIAGE_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("RTC_TRIAGE_TOP_FINDINGS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Report.TopFindings = n
		}
	}
	if v := os.Getenv("RTC_TRIAGE_SYNC"); v == "true" || v == "1" {
		cfg.Analysis.Sync = true
	}
	if v := os.Getenv("RTC_TRIAGE_FIRST_MEDIA_PATTERN"); v != "" {
		cfg.Health.FirstMediaPattern = v
	}
	if v := os.Getenv("RTC_TRIAGE_GRACEFUL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.GracefulTimeout = d
		}
	}
}
