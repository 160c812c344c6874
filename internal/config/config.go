// Package config loads the wdacsim YAML configuration.
package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Logging LoggingConfig `yaml:"logging"`
	Scan    ScanConfig    `yaml:"scan"`
	Policy  PolicyConfig  `yaml:"policy"`
	Report  ReportConfig  `yaml:"report"`
	Tracing TracingConfig `yaml:"tracing"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	// Output is "stderr", "stdout" or a file path.
	Output string `yaml:"output"`
}

// ScanConfig controls which files a simulation visits.
type ScanConfig struct {
	// Workers bounds concurrent file evaluation. Zero means one per CPU.
	Workers int `yaml:"workers"`

	// Include and Exclude are glob patterns matched against slash-separated
	// paths relative to the scan root. An empty Include matches everything.
	Include []string `yaml:"include"`
	Exclude []string `yaml:"exclude"`

	// Extensions limits scanned files by suffix, case-insensitively.
	Extensions []string `yaml:"extensions"`

	// MaxFileSize skips larger files, e.g. "512MB".
	MaxFileSize string `yaml:"max_file_size"`

	// ExtraRoots are PEM or DER certificates used to complete chains whose
	// root is not embedded in the signature.
	ExtraRoots []string `yaml:"extra_roots"`

	FollowSymlinks bool `yaml:"follow_symlinks"`

	// MountAs is the Windows path each scan root stands for, such as C:\.
	// FilePath rules match against it. Empty matches the host path.
	MountAs string `yaml:"mount_as"`
}

type PolicyConfig struct {
	Path string `yaml:"path"`

	// WellKnownRoots overrides entries of the built-in well-known root table.
	WellKnownRoots []WellKnownRootConfig `yaml:"wellknown_roots"`

	// Macros expand FilePath rule variables such as %OSDRIVE%.
	Macros map[string]string `yaml:"macros"`

	Watch WatchConfig `yaml:"watch"`
}

type WellKnownRootConfig struct {
	Code string `yaml:"code"`
	Name string `yaml:"name"`
	TBS  string `yaml:"tbs"`
}

type WatchConfig struct {
	// Enabled keeps simulate running and rescans after each policy change.
	Enabled  bool   `yaml:"enabled"`
	Debounce string `yaml:"debounce"`
}

type ReportConfig struct {
	// Format is json, yaml, markdown or csv.
	Format string `yaml:"format"`
	// Output is a file path; empty writes to stdout.
	Output string `yaml:"output"`
	// OnlyBlocked drops authorized files from rendered results.
	OnlyBlocked bool `yaml:"only_blocked"`
}

type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	SampleRate  float64 `yaml:"sample_rate"`
	ServiceName string  `yaml:"service_name"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromBytes loads configuration from bytes without applying environment
// overrides. This is intended for testing where env vars should not interfere.
func LoadFromBytes(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(&cfg)
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stderr"
	}
	if cfg.Scan.Workers <= 0 {
		cfg.Scan.Workers = runtime.NumCPU()
	}
	if len(cfg.Scan.Extensions) == 0 {
		cfg.Scan.Extensions = []string{".exe", ".dll", ".sys", ".ocx", ".msi", ".ps1", ".cpl", ".scr"}
	}
	if cfg.Scan.MaxFileSize == "" {
		cfg.Scan.MaxFileSize = "512MB"
	}
	if cfg.Policy.Watch.Debounce == "" {
		cfg.Policy.Watch.Debounce = "500ms"
	}
	if cfg.Report.Format == "" {
		cfg.Report.Format = "markdown"
	}
	if cfg.Tracing.SampleRate == 0 {
		cfg.Tracing.SampleRate = 1.0
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "wdacsim"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("WDACSIM_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("WDACSIM_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("WDACSIM_POLICY"); v != "" {
		cfg.Policy.Path = v
	}
	if v := os.Getenv("WDACSIM_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Scan.Workers = n
		}
	}
	if v := os.Getenv("WDACSIM_REPORT_FORMAT"); v != "" {
		cfg.Report.Format = v
	}
	if v := os.Getenv("WDACSIM_OTLP_ENDPOINT"); v != "" {
		cfg.Tracing.Enabled = true
		cfg.Tracing.Endpoint = v
	}
}

func validateConfig(cfg *Config) error {
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid logging.level %q", cfg.Logging.Level)
	}
	switch cfg.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid logging.format %q", cfg.Logging.Format)
	}
	switch cfg.Report.Format {
	case "json", "yaml", "markdown", "csv":
	default:
		return fmt.Errorf("invalid report.format %q", cfg.Report.Format)
	}
	if _, err := ParseByteSize(cfg.Scan.MaxFileSize); err != nil {
		return fmt.Errorf("scan.max_file_size: %w", err)
	}
	if _, err := time.ParseDuration(cfg.Policy.Watch.Debounce); err != nil {
		return fmt.Errorf("policy.watch.debounce: %w", err)
	}
	for i, r := range cfg.Policy.WellKnownRoots {
		if strings.TrimSpace(r.Code) == "" {
			return fmt.Errorf("policy.wellknown_roots[%d]: code is required", i)
		}
	}
	if cfg.Tracing.SampleRate < 0 || cfg.Tracing.SampleRate > 1 {
		return fmt.Errorf("tracing.sample_rate must be within [0,1]")
	}
	if cfg.Tracing.Enabled && cfg.Tracing.Endpoint == "" {
		return fmt.Errorf("tracing.endpoint is required when tracing is enabled")
	}
	return nil
}

// MaxFileSizeBytes returns the parsed scan.max_file_size.
func (c ScanConfig) MaxFileSizeBytes() int64 {
	n, err := ParseByteSize(c.MaxFileSize)
	if err != nil {
		return 0
	}
	return n
}

// DebounceDuration returns the parsed policy.watch.debounce.
func (c WatchConfig) DebounceDuration() time.Duration {
	d, err := time.ParseDuration(c.Debounce)
	if err != nil {
		return 0
	}
	return d
}
