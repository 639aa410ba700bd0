package config

const (
	defaultConfigPath          = "~/.config/applypilot/config.toml"
	defaultDataDir             = "~/.applypilot"
	defaultLogDir              = "~/.applypilot/logs"
	defaultArtifactsDir        = "~/.applypilot/artifacts"
	defaultProfilePath         = "~/.applypilot/profile.json"
	defaultResumePath          = "~/.applypilot/resume.txt"
	defaultEnvFile             = "~/.applypilot/.env"
	defaultAPIBind             = "127.0.0.1:7489"
	defaultMinScore            = 7
	defaultRetryBaseMillis     = 2000
	defaultRetryMaxMillis      = 60000
	defaultApplyWorkers        = 1
	defaultApplyPollSeconds    = 60
	defaultApplyLeaseSeconds   = 1800
	defaultUserAgent           = "Mozilla/5.0 (compatible; applypilot/1.0)"
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
	defaultMaxAttempts         = 3
	defaultScoreRatePerMinute  = 10
	defaultSourceKindFile      = "file"
	defaultSourceKindCommand   = "command"
	defaultStageTimeoutSeconds = 120
	defaultNtfyTimeoutSeconds  = 10
)

// StageNames lists the pipeline stages in execution order.
var StageNames = []string{"discover", "enrich", "score", "tailor", "cover", "apply"}

// Default returns a Config populated with repository defaults.
func Default() Config {
	stages := make(map[string]StageSettings, len(StageNames))
	for _, name := range StageNames {
		stages[name] = defaultStageSettings(name)
	}
	return Config{
		Paths: Paths{
			DataDir:      defaultDataDir,
			LogDir:       defaultLogDir,
			ArtifactsDir: defaultArtifactsDir,
			ProfilePath:  defaultProfilePath,
			ResumePath:   defaultResumePath,
			EnvFile:      defaultEnvFile,
			APIBind:      defaultAPIBind,
		},
		Pipeline: Pipeline{
			MinScore: defaultMinScore,
			Stages:   stages,
		},
		Retry: Retry{
			BaseDelayMillis: defaultRetryBaseMillis,
			MaxDelayMillis:  defaultRetryMaxMillis,
		},
		Apply: Apply{
			Workers:             defaultApplyWorkers,
			PollIntervalSeconds: defaultApplyPollSeconds,
			LeaseSeconds:        defaultApplyLeaseSeconds,
		},
		Collaborators: Collaborators{
			EnrichHTTP: true,
			UserAgent:  defaultUserAgent,
		},
		Notifications: Notifications{
			RequestTimeoutSeconds: defaultNtfyTimeoutSeconds,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}

// defaultStageSettings reflects each collaborator's rate tolerance: scraping
// stages run wider than the AI and browser stages.
func defaultStageSettings(name string) StageSettings {
	settings := StageSettings{
		Concurrency:    1,
		MaxAttempts:    defaultMaxAttempts,
		TimeoutSeconds: defaultStageTimeoutSeconds,
	}
	switch name {
	case "discover":
		settings.TimeoutSeconds = 600
	case "enrich":
		settings.Concurrency = 4
		settings.TimeoutSeconds = 60
	case "score":
		settings.Concurrency = 2
		settings.RatePerMinute = defaultScoreRatePerMinute
	case "tailor", "cover":
		settings.Concurrency = 2
		settings.TimeoutSeconds = 300
	case "apply":
		settings.TimeoutSeconds = 900
	}
	return settings
}
