package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"applypilot/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantData := filepath.Join(tempHome, ".applypilot")
	if cfg.Paths.DataDir != wantData {
		t.Fatalf("unexpected data dir: got %q want %q", cfg.Paths.DataDir, wantData)
	}
	if cfg.DatabasePath() != filepath.Join(wantData, "applypilot.db") {
		t.Fatalf("unexpected database path: %q", cfg.DatabasePath())
	}
	if cfg.Paths.APIBind != "127.0.0.1:7489" {
		t.Fatalf("unexpected api bind: %q", cfg.Paths.APIBind)
	}
	if cfg.Pipeline.MinScore != 7 {
		t.Fatalf("expected default min score 7, got %d", cfg.Pipeline.MinScore)
	}
	if got := cfg.Stage("score").RatePerMinute; got != 10 {
		t.Fatalf("expected scoring rate limit 10/min, got %v", got)
	}
	if cfg.Stage("enrich").Concurrency <= cfg.Stage("score").Concurrency {
		t.Fatalf("expected enrichment to run wider than scoring")
	}
	if cfg.Stage("apply").Timeout() != 900*time.Second {
		t.Fatalf("unexpected apply timeout: %v", cfg.Stage("apply").Timeout())
	}
	if cfg.Logging.Format != "console" {
		t.Fatalf("unexpected log format: %q", cfg.Logging.Format)
	}
}

func TestLoadMergesPartialStageSettings(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[pipeline]
min_score = 6

[pipeline.stages.tailor]
concurrency = 5

[apply]
workers = 3
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !exists {
		t.Fatal("expected config file to exist")
	}
	if cfg.Pipeline.MinScore != 6 {
		t.Fatalf("expected min score 6, got %d", cfg.Pipeline.MinScore)
	}
	tailor := cfg.Stage("tailor")
	if tailor.Concurrency != 5 {
		t.Fatalf("expected tailor concurrency 5, got %d", tailor.Concurrency)
	}
	if tailor.MaxAttempts != 3 {
		t.Fatalf("expected default attempt cap to survive partial override, got %d", tailor.MaxAttempts)
	}
	if cfg.Apply.Workers != 3 {
		t.Fatalf("expected 3 workers, got %d", cfg.Apply.Workers)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"min score", func(c *config.Config) { c.Pipeline.MinScore = 11 }, "pipeline.min_score"},
		{"unknown stage", func(c *config.Config) {
			c.Pipeline.Stages["pdf"] = config.StageSettings{Concurrency: 1, MaxAttempts: 1, TimeoutSeconds: 1}
		}, "unknown stage"},
		{"attempts", func(c *config.Config) {
			s := c.Pipeline.Stages["score"]
			s.MaxAttempts = 0
			c.Pipeline.Stages["score"] = s
		}, "max_attempts"},
		{"retry bounds", func(c *config.Config) { c.Retry.MaxDelayMillis = 1 }, "retry.max_delay_ms"},
		{"workers", func(c *config.Config) { c.Apply.Workers = 0 }, "apply.workers"},
		{"lease shorter than submission", func(c *config.Config) { c.Apply.LeaseSeconds = 60 }, "must exceed pipeline.stages.apply.timeout_seconds"},
		{"lease equal to submission", func(c *config.Config) {
			s := c.Stage("apply")
			s.TimeoutSeconds = c.Apply.LeaseSeconds
			c.Pipeline.Stages["apply"] = s
		}, "apply.lease_seconds"},
		{"source kind", func(c *config.Config) {
			c.Discovery.Sources = []config.Source{{Name: "x", Kind: "ftp"}}
		}, "unsupported kind"},
		{"file source path", func(c *config.Config) {
			c.Discovery.Sources = []config.Source{{Name: "x", Kind: "file"}}
		}, "path is required"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected validation error containing %q", tc.want)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestAPITokenFromEnv(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("APPLYPILOT_API_TOKEN", "secret")
	cfg, _, _, err := config.Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Paths.APIToken != "secret" {
		t.Fatalf("expected token from env, got %q", cfg.Paths.APIToken)
	}
}

func TestLoadEnvDoesNotOverrideExisting(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("APPLYPILOT_TEST_KEY=from-file\nAPPLYPILOT_TEST_KEEP=from-file\n"), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Setenv("APPLYPILOT_TEST_KEEP", "from-env")
	t.Setenv("APPLYPILOT_TEST_KEY", "")
	os.Unsetenv("APPLYPILOT_TEST_KEY")

	cfg := config.Default()
	cfg.Paths.EnvFile = envPath
	if err := cfg.LoadEnv(); err != nil {
		t.Fatalf("LoadEnv: %v", err)
	}
	if got := os.Getenv("APPLYPILOT_TEST_KEY"); got != "from-file" {
		t.Fatalf("expected key from file, got %q", got)
	}
	if got := os.Getenv("APPLYPILOT_TEST_KEEP"); got != "from-env" {
		t.Fatalf("expected existing env to win, got %q", got)
	}

	cfg.Paths.EnvFile = filepath.Join(dir, "absent.env")
	if err := cfg.LoadEnv(); err != nil {
		t.Fatalf("expected missing env file to be ignored, got %v", err)
	}
}

func TestSampleConfigParses(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "sample.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		t.Fatalf("sample is not valid TOML: %v", err)
	}
	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load sample: %v", err)
	}
	if !exists {
		t.Fatal("expected sample to exist")
	}
	if len(cfg.Discovery.Sources) != 1 || cfg.Discovery.Sources[0].Kind != "file" {
		t.Fatalf("unexpected sample sources: %#v", cfg.Discovery.Sources)
	}
	if len(cfg.Collaborators.Score) == 0 {
		t.Fatal("expected sample to configure a scoring command")
	}
}
