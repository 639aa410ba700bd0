package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizePipeline()
	if err := c.normalizeDiscovery(); err != nil {
		return err
	}
	c.normalizeCollaborators()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	fields := []struct {
		key   string
		value *string
		def   string
	}{
		{"paths.data_dir", &c.Paths.DataDir, defaultDataDir},
		{"paths.log_dir", &c.Paths.LogDir, defaultLogDir},
		{"paths.artifacts_dir", &c.Paths.ArtifactsDir, defaultArtifactsDir},
		{"paths.profile_path", &c.Paths.ProfilePath, defaultProfilePath},
		{"paths.resume_path", &c.Paths.ResumePath, defaultResumePath},
		{"paths.env_file", &c.Paths.EnvFile, defaultEnvFile},
	}
	for _, field := range fields {
		if strings.TrimSpace(*field.value) == "" {
			*field.value = field.def
		}
		expanded, err := expandPath(strings.TrimSpace(*field.value))
		if err != nil {
			return fmt.Errorf("%s: %w", field.key, err)
		}
		*field.value = expanded
	}

	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	if value, ok := os.LookupEnv("APPLYPILOT_API_TOKEN"); ok && strings.TrimSpace(value) != "" {
		c.Paths.APIToken = value
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	return nil
}

// normalizePipeline fills zero-valued stage fields from the stage defaults so
// a config that only sets concurrency keeps the default attempt cap. A zero
// rate_per_minute means unlimited.
func (c *Config) normalizePipeline() {
	if c.Pipeline.Stages == nil {
		c.Pipeline.Stages = make(map[string]StageSettings, len(StageNames))
	}
	normalized := make(map[string]StageSettings, len(c.Pipeline.Stages))
	for name, settings := range c.Pipeline.Stages {
		normalized[strings.ToLower(strings.TrimSpace(name))] = settings
	}
	for _, name := range StageNames {
		settings := normalized[name]
		def := defaultStageSettings(name)
		if settings.Concurrency == 0 {
			settings.Concurrency = def.Concurrency
		}
		if settings.MaxAttempts == 0 {
			settings.MaxAttempts = def.MaxAttempts
		}
		if settings.TimeoutSeconds == 0 {
			settings.TimeoutSeconds = def.TimeoutSeconds
		}
		normalized[name] = settings
	}
	c.Pipeline.Stages = normalized
}

func (c *Config) normalizeDiscovery() error {
	for i := range c.Discovery.Sources {
		src := &c.Discovery.Sources[i]
		src.Name = strings.TrimSpace(src.Name)
		src.Kind = strings.ToLower(strings.TrimSpace(src.Kind))
		if src.Kind == "" {
			if len(src.Command) > 0 {
				src.Kind = defaultSourceKindCommand
			} else {
				src.Kind = defaultSourceKindFile
			}
		}
		if src.Name == "" {
			src.Name = fmt.Sprintf("%s-%d", src.Kind, i+1)
		}
		if strings.TrimSpace(src.Path) != "" {
			expanded, err := expandPath(strings.TrimSpace(src.Path))
			if err != nil {
				return fmt.Errorf("discovery.sources[%d].path: %w", i, err)
			}
			src.Path = expanded
		}
	}
	for i := range c.Discovery.Searches {
		search := &c.Discovery.Searches[i]
		search.Query = strings.TrimSpace(search.Query)
		search.Location = strings.TrimSpace(search.Location)
		sites := search.Sites[:0]
		for _, site := range search.Sites {
			if trimmed := strings.ToLower(strings.TrimSpace(site)); trimmed != "" {
				sites = append(sites, trimmed)
			}
		}
		search.Sites = sites
	}
	return nil
}

func (c *Config) normalizeCollaborators() {
	c.Collaborators.UserAgent = strings.TrimSpace(c.Collaborators.UserAgent)
	if c.Collaborators.UserAgent == "" {
		c.Collaborators.UserAgent = defaultUserAgent
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeoutSeconds == 0 {
		c.Notifications.RequestTimeoutSeconds = defaultNtfyTimeoutSeconds
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
