package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateRetry(); err != nil {
		return err
	}
	if err := c.validateApply(); err != nil {
		return err
	}
	if err := c.validateDiscovery(); err != nil {
		return err
	}
	if c.Notifications.RequestTimeoutSeconds < 0 {
		return errors.New("notifications.request_timeout_seconds must not be negative")
	}
	if topic := c.Notifications.NtfyTopic; topic != "" && !strings.HasPrefix(topic, "http://") && !strings.HasPrefix(topic, "https://") {
		return fmt.Errorf("notifications.ntfy_topic must be a full URL, got %q", topic)
	}
	return nil
}

func (c *Config) validatePipeline() error {
	if c.Pipeline.MinScore < 1 || c.Pipeline.MinScore > 10 {
		return errors.New("pipeline.min_score must be between 1 and 10")
	}
	for name, settings := range c.Pipeline.Stages {
		if !slices.Contains(StageNames, name) {
			return fmt.Errorf("pipeline.stages.%s: unknown stage (expected one of %v)", name, StageNames)
		}
		if err := ensurePositiveMap(map[string]int{
			"pipeline.stages." + name + ".concurrency":     settings.Concurrency,
			"pipeline.stages." + name + ".max_attempts":    settings.MaxAttempts,
			"pipeline.stages." + name + ".timeout_seconds": settings.TimeoutSeconds,
		}); err != nil {
			return err
		}
		if settings.RatePerMinute < 0 {
			return fmt.Errorf("pipeline.stages.%s.rate_per_minute must not be negative", name)
		}
	}
	return nil
}

func (c *Config) validateRetry() error {
	if err := ensurePositiveMap(map[string]int{
		"retry.base_delay_ms": c.Retry.BaseDelayMillis,
		"retry.max_delay_ms":  c.Retry.MaxDelayMillis,
	}); err != nil {
		return err
	}
	if c.Retry.MaxDelayMillis < c.Retry.BaseDelayMillis {
		return errors.New("retry.max_delay_ms must be at least retry.base_delay_ms")
	}
	return nil
}

func (c *Config) validateApply() error {
	if err := ensurePositiveMap(map[string]int{
		"apply.workers":               c.Apply.Workers,
		"apply.poll_interval_seconds": c.Apply.PollIntervalSeconds,
		"apply.lease_seconds":         c.Apply.LeaseSeconds,
	}); err != nil {
		return err
	}
	// The lease must outlive one submission call or another worker can
	// reclaim the job mid-submission.
	if timeout := c.Stage("apply").TimeoutSeconds; c.Apply.LeaseSeconds <= timeout {
		return fmt.Errorf("apply.lease_seconds (%d) must exceed pipeline.stages.apply.timeout_seconds (%d)", c.Apply.LeaseSeconds, timeout)
	}
	return nil
}

func (c *Config) validateDiscovery() error {
	seen := make(map[string]struct{}, len(c.Discovery.Sources))
	for i, src := range c.Discovery.Sources {
		if _, dup := seen[src.Name]; dup {
			return fmt.Errorf("discovery.sources[%d]: duplicate name %q", i, src.Name)
		}
		seen[src.Name] = struct{}{}
		switch src.Kind {
		case defaultSourceKindFile:
			if src.Path == "" {
				return fmt.Errorf("discovery.sources[%d]: path is required for file sources", i)
			}
		case defaultSourceKindCommand:
			if len(src.Command) == 0 {
				return fmt.Errorf("discovery.sources[%d]: command is required for command sources", i)
			}
		default:
			return fmt.Errorf("discovery.sources[%d]: unsupported kind %q", i, src.Kind)
		}
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
