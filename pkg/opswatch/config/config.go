package config

import (
	"fmt"
	"time"
)

// Duration wraps time.Duration so it can be written as "1h" or "90s"
// in YAML and JSON files.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	raw := string(data)
	if len(raw) >= 2 && raw[0] == '"' && raw[len(raw)-1] == '"' {
		raw = raw[1 : len(raw)-1]
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Thresholds holds the per-severity occurrence thresholds.
type Thresholds struct {
	Critical int `yaml:"critical" json:"critical"`
	High     int `yaml:"high" json:"high"`
	Medium   int `yaml:"medium" json:"medium"`
	Low      int `yaml:"low" json:"low"`
}

// Scheduler holds the default-job schedule expressions and the switch
// that disables scheduling entirely in ephemeral execution contexts
// (tests, one-shot tools).
type Scheduler struct {
	Disabled    bool   `yaml:"disabled" json:"disabled"`
	CleanupExpr string `yaml:"cleanup_expr" json:"cleanup_expr"`
	SweepExpr   string `yaml:"sweep_expr" json:"sweep_expr"`
	HealthExpr  string `yaml:"health_expr" json:"health_expr"`
}

// Config is the full knob set read by the core.
type Config struct {
	// RetentionDays is the age in days beyond which persisted error
	// records are deleted by cleanup.
	RetentionDays int `yaml:"retention_days" json:"retention_days"`

	// ReadRetentionDays is the age in days beyond which fully-read
	// notifications are deleted by cleanup.
	ReadRetentionDays int `yaml:"read_retention_days" json:"read_retention_days"`

	// Window is the rolling time span over which same-key error
	// occurrences count toward a threshold.
	Window Duration `yaml:"window" json:"window"`

	// Thresholds are the per-severity occurrence thresholds.
	Thresholds Thresholds `yaml:"thresholds" json:"thresholds"`

	// MemoryLimitRatio is the heap-in-use to total ratio above which
	// the health probe raises a high-memory event. Range (0, 1].
	MemoryLimitRatio float64 `yaml:"memory_limit_ratio" json:"memory_limit_ratio"`

	// Scheduler configures the default jobs.
	Scheduler Scheduler `yaml:"scheduler" json:"scheduler"`
}

// Default returns the configuration used when no file is supplied.
func Default() Config {
	return Config{
		RetentionDays:     7,
		ReadRetentionDays: 30,
		Window:            Duration(time.Hour),
		Thresholds: Thresholds{
			Critical: 1,
			High:     5,
			Medium:   10,
			Low:      20,
		},
		MemoryLimitRatio: 0.9,
		Scheduler: Scheduler{
			CleanupExpr: "0 2 * * *",
			SweepExpr:   "0 * * * *",
			HealthExpr:  "*/5 * * * *",
		},
	}
}

// Validate checks the configuration for values the core cannot run
// with. Schedule expressions are validated at registration time by the
// scheduler, not here.
func (c Config) Validate() error {
	if c.RetentionDays <= 0 {
		return fmt.Errorf("config: retention_days must be positive, got %d", c.RetentionDays)
	}
	if c.ReadRetentionDays <= 0 {
		return fmt.Errorf("config: read_retention_days must be positive, got %d", c.ReadRetentionDays)
	}
	if c.Window.Std() <= 0 {
		return fmt.Errorf("config: window must be positive, got %s", c.Window.Std())
	}
	for name, v := range map[string]int{
		"critical": c.Thresholds.Critical,
		"high":     c.Thresholds.High,
		"medium":   c.Thresholds.Medium,
		"low":      c.Thresholds.Low,
	} {
		if v <= 0 {
			return fmt.Errorf("config: %s threshold must be positive, got %d", name, v)
		}
	}
	if c.MemoryLimitRatio <= 0 || c.MemoryLimitRatio > 1 {
		return fmt.Errorf("config: memory_limit_ratio must be in (0, 1], got %g", c.MemoryLimitRatio)
	}
	return nil
}

// Retention returns the error-record retention period as a duration.
func (c Config) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// ReadRetention returns the read-notification retention period.
func (c Config) ReadRetention() time.Duration {
	return time.Duration(c.ReadRetentionDays) * 24 * time.Hour
}
