package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/catherinevee/endpointmgr/internal/logger"
	"github.com/catherinevee/endpointmgr/internal/models"
)

// Config represents the application configuration
type Config struct {
	Audit    AuditConfig    `json:"audit" yaml:"audit"`
	Selector SelectorConfig `json:"selector" yaml:"selector"`
	Notifier NotifierConfig `json:"notifier" yaml:"notifier"`
	Cost     CostConfig     `json:"cost" yaml:"cost"`
	Logging  logger.Config  `json:"logging" yaml:"logging"`
}

// AuditConfig controls traffic collection and gap analysis
type AuditConfig struct {
	// TrackedServices maps audit-log event sources to service labels
	TrackedServices map[string]models.TrackedService `json:"tracked_services" yaml:"tracked_services"`
	// Threshold is the minimum non-endpoint call count that flags a gap
	Threshold int `json:"threshold" yaml:"threshold"`
	// Window is the default lookback applied when no explicit window is given
	Window time.Duration `json:"window" yaml:"window"`
	// LatestCSV and CumulativeCSV are the snapshot artifacts written after a
	// complete collection pass in manual mode
	LatestCSV     string `json:"latest_csv" yaml:"latest_csv"`
	CumulativeCSV string `json:"cumulative_csv" yaml:"cumulative_csv"`
}

// SelectorConfig controls HA resource selection
type SelectorConfig struct {
	// MaxAZ is the number of distinct availability zones to spread across
	MaxAZ int `json:"max_az" yaml:"max_az"`
}

// NotifierConfig controls proposal/result delivery
type NotifierConfig struct {
	// WebhookURL is the fallback delivery target for workflows that carry no
	// callback response URL of their own
	WebhookURL string `json:"webhook_url" yaml:"webhook_url"`
	// PayloadByteBudget bounds the serialized proposal carried in a callback
	// button; oversized proposals degrade to a manual-action message
	PayloadByteBudget int `json:"payload_byte_budget" yaml:"payload_byte_budget"`
}

// CostConfig controls the NAT gateway cost report
type CostConfig struct {
	// CostFloor filters out gateways whose window cost is below this amount
	CostFloor float64 `json:"cost_floor" yaml:"cost_floor"`
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Audit: AuditConfig{
			TrackedServices: map[string]models.TrackedService{
				"s3.amazonaws.com":  models.ServiceS3,
				"ecr.amazonaws.com": models.ServiceECR,
			},
			Threshold:     5,
			Window:        time.Hour,
			LatestCSV:     "latest_run.csv",
			CumulativeCSV: "cumulative.csv",
		},
		Selector: SelectorConfig{MaxAZ: 3},
		Notifier: NotifierConfig{
			PayloadByteBudget: 2000,
		},
		Cost: CostConfig{CostFloor: 1.0},
		Logging: logger.Config{
			Level:  "info",
			Format: "json",
			Output: "stderr",
		},
	}
}

// Load reads configuration from a JSON or YAML file, falling back to
// defaults for anything unset, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		default:
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyEnvOverrides applies ENDPOINTMGR_* environment variables
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("ENDPOINTMGR_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Audit.Threshold = n
		}
	}
	if v := os.Getenv("ENDPOINTMGR_MAX_AZ"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Selector.MaxAZ = n
		}
	}
	if v := os.Getenv("ENDPOINTMGR_WEBHOOK_URL"); v != "" {
		c.Notifier.WebhookURL = v
	}
	if v := os.Getenv("ENDPOINTMGR_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate checks the configuration for invalid values
func (c *Config) Validate() error {
	if c.Audit.Threshold < 1 {
		return fmt.Errorf("audit.threshold must be at least 1, got %d", c.Audit.Threshold)
	}
	if c.Selector.MaxAZ < 1 {
		return fmt.Errorf("selector.max_az must be at least 1, got %d", c.Selector.MaxAZ)
	}
	if len(c.Audit.TrackedServices) == 0 {
		return fmt.Errorf("audit.tracked_services must not be empty")
	}
	if c.Notifier.PayloadByteBudget < 1 {
		return fmt.Errorf("notifier.payload_byte_budget must be positive, got %d", c.Notifier.PayloadByteBudget)
	}
	return nil
}

// Watch re-loads the configuration whenever the file changes and invokes
// onChange with the new value. It returns a stop function. Reload failures
// keep the previous configuration.
func Watch(path string, log logger.Logger, onChange func(*Config)) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create config watcher: %w", err)
	}

	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch config file: %w", err)
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := Load(path)
				if err != nil {
					log.Warn("config reload failed, keeping previous configuration", logger.Err(err))
					continue
				}
				log.Info("configuration reloaded", logger.String("path", path))
				onChange(cfg)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn("config watcher error", logger.Err(err))
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		watcher.Close()
	}, nil
}
