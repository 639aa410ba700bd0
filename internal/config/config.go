package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory, file, and bind address configuration.
type Paths struct {
	DataDir      string `toml:"data_dir"`
	LogDir       string `toml:"log_dir"`
	ArtifactsDir string `toml:"artifacts_dir"`
	ProfilePath  string `toml:"profile_path"`
	ResumePath   string `toml:"resume_path"`
	EnvFile      string `toml:"env_file"`
	APIBind      string `toml:"api_bind"`
	APIToken     string `toml:"api_token"`
}

// StageSettings tunes how one pipeline stage talks to its collaborator.
type StageSettings struct {
	Concurrency    int     `toml:"concurrency"`
	MaxAttempts    int     `toml:"max_attempts"`
	TimeoutSeconds int     `toml:"timeout_seconds"`
	RatePerMinute  float64 `toml:"rate_per_minute"`
}

// Timeout returns the collaborator deadline as a duration.
func (s StageSettings) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// Pipeline contains gating and per-stage settings.
type Pipeline struct {
	MinScore int                      `toml:"min_score"`
	Stages   map[string]StageSettings `toml:"stages"`
}

// Retry contains backoff settings shared by every stage.
type Retry struct {
	BaseDelayMillis int `toml:"base_delay_ms"`
	MaxDelayMillis  int `toml:"max_delay_ms"`
}

// Apply contains submission worker pool settings.
type Apply struct {
	Workers             int  `toml:"workers"`
	PollIntervalSeconds int  `toml:"poll_interval_seconds"`
	LeaseSeconds        int  `toml:"lease_seconds"`
	DryRun              bool `toml:"dry_run"`
	Continuous          bool `toml:"continuous"`
}

// Search describes one discovery query.
type Search struct {
	Query    string   `toml:"query"`
	Location string   `toml:"location"`
	Sites    []string `toml:"sites"`
	Remote   bool     `toml:"remote"`
}

// Source describes one discovery source.
type Source struct {
	Name    string   `toml:"name"`
	Kind    string   `toml:"kind"`
	Path    string   `toml:"path"`
	Command []string `toml:"command"`
}

// Discovery lists the searches to run against every configured source.
type Discovery struct {
	Searches []Search `toml:"searches"`
	Sources  []Source `toml:"sources"`
}

// Collaborators configures the external programs backing each stage.
type Collaborators struct {
	EnrichHTTP bool     `toml:"enrich_http"`
	UserAgent  string   `toml:"user_agent"`
	Enrich     []string `toml:"enrich"`
	Score      []string `toml:"score"`
	Tailor     []string `toml:"tailor"`
	Cover      []string `toml:"cover"`
	Submit     []string `toml:"submit"`
}

// Notifications configures ntfy push messages. An empty topic disables them.
type Notifications struct {
	NtfyTopic             string `toml:"ntfy_topic"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
	// Applied sends one message per submitted application.
	Applied bool `toml:"applied"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for applypilot.
//
// Configuration sections by subsystem:
//   - Paths: data, log, and artifact directories plus the API bind address
//   - Pipeline: fit-score threshold and per-stage limits
//   - Retry: exponential backoff bounds
//   - Apply: submission pool sizing and polling
//   - Discovery: searches and posting sources
//   - Collaborators: external programs per stage
//   - Notifications: ntfy push messages
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Pipeline      Pipeline      `toml:"pipeline"`
	Retry         Retry         `toml:"retry"`
	Apply         Apply         `toml:"apply"`
	Discovery     Discovery     `toml:"discovery"`
	Collaborators Collaborators `toml:"collaborators"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("applypilot.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the data, log, and artifact directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir, c.Paths.ArtifactsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// LoadEnv reads paths.env_file into the process environment so collaborator
// programs inherit credentials. Variables already set are left untouched and a
// missing file is not an error.
func (c *Config) LoadEnv() error {
	path := strings.TrimSpace(c.Paths.EnvFile)
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat env file: %w", err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// DatabasePath returns the SQLite job store location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "applypilot.db")
}

// LogPath is the shared log file written by every command.
func (c *Config) LogPath() string {
	return filepath.Join(c.Paths.LogDir, "applypilot.log")
}

// LockPath returns the run lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "applypilot.lock")
}

// ApplyLockPath returns the submission pool lock file location.
func (c *Config) ApplyLockPath() string {
	return filepath.Join(c.Paths.DataDir, "applypilot-apply.lock")
}

// Stage returns the settings for the named stage with defaults applied.
func (c *Config) Stage(name string) StageSettings {
	settings, ok := c.Pipeline.Stages[name]
	if !ok {
		settings = defaultStageSettings(name)
	}
	return settings
}

// RetryBaseDelay returns the first backoff step.
func (c *Config) RetryBaseDelay() time.Duration {
	return time.Duration(c.Retry.BaseDelayMillis) * time.Millisecond
}

// RetryMaxDelay returns the backoff cap.
func (c *Config) RetryMaxDelay() time.Duration {
	return time.Duration(c.Retry.MaxDelayMillis) * time.Millisecond
}

// PollInterval returns the continuous-mode polling interval for the submission pool.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Apply.PollIntervalSeconds) * time.Second
}

// LeaseTTL returns how long a submission claim stays valid without renewal.
func (c *Config) LeaseTTL() time.Duration {
	return time.Duration(c.Apply.LeaseSeconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
