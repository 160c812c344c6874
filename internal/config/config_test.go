package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

func TestLoad_ParsesAllSections(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "wdacsim.yml")
	if err := os.WriteFile(cfgPath, []byte(`
logging:
  level: debug
  format: json
scan:
  workers: 3
  include: ["**/*.exe"]
  exclude: ["**/node_modules/**"]
  extensions: [".exe", ".dll"]
  max_file_size: 64MiB
  extra_roots: ["`+filepath.Join(dir, "root.cer")+`"]
policy:
  path: "`+filepath.Join(dir, "policy.xml")+`"
  wellknown_roots:
    - code: "06"
      tbs: "ABCDEF"
  macros:
    "%OSDRIVE%": "D:"
  watch:
    debounce: 2s
report:
  format: csv
  only_blocked: true
tracing:
  enabled: true
  endpoint: "localhost:4317"
  insecure: true
  sample_rate: 0.25
`), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Scan.Workers != 3 {
		t.Fatalf("workers: expected 3, got %d", cfg.Scan.Workers)
	}
	if got := cfg.Scan.MaxFileSizeBytes(); got != 64<<20 {
		t.Fatalf("max_file_size: expected %d, got %d", 64<<20, got)
	}
	if len(cfg.Policy.WellKnownRoots) != 1 || cfg.Policy.WellKnownRoots[0].TBS != "ABCDEF" {
		t.Fatalf("wellknown_roots: got %+v", cfg.Policy.WellKnownRoots)
	}
	if cfg.Policy.Macros["%OSDRIVE%"] != "D:" {
		t.Fatalf("macros: got %+v", cfg.Policy.Macros)
	}
	if cfg.Policy.Watch.DebounceDuration() != 2*time.Second {
		t.Fatalf("debounce: got %v", cfg.Policy.Watch.DebounceDuration())
	}
	if cfg.Report.Format != "csv" || !cfg.Report.OnlyBlocked {
		t.Fatalf("report: got %+v", cfg.Report)
	}
	if !cfg.Tracing.Insecure || cfg.Tracing.SampleRate != 0.25 || cfg.Tracing.ServiceName != "wdacsim" {
		t.Fatalf("tracing: got %+v", cfg.Tracing)
	}
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" || cfg.Logging.Output != "stderr" {
		t.Fatalf("logging defaults: %+v", cfg.Logging)
	}
	if cfg.Scan.Workers != runtime.NumCPU() {
		t.Fatalf("workers default: %d", cfg.Scan.Workers)
	}
	if cfg.Report.Format != "markdown" {
		t.Fatalf("report default: %q", cfg.Report.Format)
	}
	if cfg.Policy.Watch.DebounceDuration() != 500*time.Millisecond {
		t.Fatalf("debounce default: %v", cfg.Policy.Watch.DebounceDuration())
	}
	if err := validateConfig(cfg); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "wdacsim.yml")
	if err := os.WriteFile(cfgPath, []byte("logging:\n  level: info\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("WDACSIM_LOG_LEVEL", "error")
	t.Setenv("WDACSIM_POLICY", "/etc/wdac/policy.xml")
	t.Setenv("WDACSIM_WORKERS", "7")
	t.Setenv("WDACSIM_OTLP_ENDPOINT", "collector:4317")

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Logging.Level != "error" {
		t.Fatalf("level: %q", cfg.Logging.Level)
	}
	if cfg.Policy.Path != "/etc/wdac/policy.xml" {
		t.Fatalf("policy path: %q", cfg.Policy.Path)
	}
	if cfg.Scan.Workers != 7 {
		t.Fatalf("workers: %d", cfg.Scan.Workers)
	}
	if !cfg.Tracing.Enabled || cfg.Tracing.Endpoint != "collector:4317" {
		t.Fatalf("tracing: %+v", cfg.Tracing)
	}
}

func TestLoadFromBytes_Invalid(t *testing.T) {
	cases := map[string]string{
		"level":       "logging:\n  level: loud\n",
		"format":      "logging:\n  format: xml\n",
		"report":      "report:\n  format: pdf\n",
		"size":        "scan:\n  max_file_size: huge\n",
		"debounce":    "policy:\n  watch:\n    debounce: soon\n",
		"root code":   "policy:\n  wellknown_roots:\n    - tbs: AA\n",
		"sample rate": "tracing:\n  sample_rate: 2\n",
		"endpoint":    "tracing:\n  enabled: true\n",
		"not yaml":    "logging: [\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := LoadFromBytes([]byte(doc)); err == nil {
				t.Fatalf("expected error for %q", doc)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yml")); err == nil {
		t.Fatal("expected error")
	}
}

func TestParseByteSize(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"0", 0},
		{"1024", 1024},
		{"12B", 12},
		{"1KB", 1000},
		{"1KiB", 1024},
		{"2MB", 2_000_000},
		{"512MiB", 512 << 20},
		{"1GB", 1_000_000_000},
		{"1_000", 1000},
		{" 3 mib ", 3 << 20},
	}
	for _, tc := range cases {
		got, err := ParseByteSize(tc.in)
		if err != nil {
			t.Fatalf("ParseByteSize(%q) error: %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("ParseByteSize(%q)=%d, want %d", tc.in, got, tc.want)
		}
	}
	for _, bad := range []string{"", "nope", "-1MB", "MB", "99999999999GB"} {
		if _, err := ParseByteSize(bad); err == nil {
			t.Fatalf("ParseByteSize(%q): expected error", bad)
		}
	}
}
