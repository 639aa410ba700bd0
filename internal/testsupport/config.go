package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"applypilot/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.ArtifactsDir = filepath.Join(base, "artifacts")
	cfgVal.Paths.ProfilePath = filepath.Join(base, "profile.json")
	cfgVal.Paths.ResumePath = filepath.Join(base, "resume.txt")
	cfgVal.Paths.EnvFile = filepath.Join(base, ".env")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Retry.BaseDelayMillis = 10
	cfgVal.Retry.MaxDelayMillis = 100

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithApplicant writes a minimal profile and base resume at the configured paths.
func WithApplicant() ConfigOption {
	return func(b *configBuilder) {
		WriteText(b.t, b.cfg.Paths.ProfilePath, `{"name":"Test Candidate","email":"candidate@example.com","skills":["go","sql"]}`)
		WriteText(b.t, b.cfg.Paths.ResumePath, "Test Candidate\nGo engineer\n")
	}
}

// WithMinScore overrides the fit score threshold.
func WithMinScore(score int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Pipeline.MinScore = score
	}
}

// WithMaxAttempts sets the attempt cap on every stage.
func WithMaxAttempts(attempts int) ConfigOption {
	return func(b *configBuilder) {
		for name, settings := range b.cfg.Pipeline.Stages {
			settings.MaxAttempts = attempts
			b.cfg.Pipeline.Stages[name] = settings
		}
	}
}

// WithStage adjusts one stage's settings.
func WithStage(name string, fn func(*config.StageSettings)) ConfigOption {
	return func(b *configBuilder) {
		settings := b.cfg.Stage(name)
		fn(&settings)
		b.cfg.Pipeline.Stages[name] = settings
	}
}

// WithoutRateLimits disables every stage rate limiter so tests never wait on
// real time.
func WithoutRateLimits() ConfigOption {
	return func(b *configBuilder) {
		for name, settings := range b.cfg.Pipeline.Stages {
			settings.RatePerMinute = 0
			b.cfg.Pipeline.Stages[name] = settings
		}
	}
}

// WithStubbedCommand writes an executable shell script named name and
// prepends its directory to PATH for the duration of the test.
func WithStubbedCommand(name, script string) ConfigOption {
	return func(b *configBuilder) {
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		target := filepath.Join(binDir, name)
		if err := os.WriteFile(target, []byte("#!/bin/sh\n"+script+"\n"), 0o755); err != nil {
			b.t.Fatalf("write stub %s: %v", name, err)
		}

		oldPath := os.Getenv("PATH")
		if err := os.Setenv("PATH", binDir+string(os.PathListSeparator)+oldPath); err != nil {
			b.t.Fatalf("set PATH: %v", err)
		}
		b.t.Cleanup(func() {
			_ = os.Setenv("PATH", oldPath)
		})
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
