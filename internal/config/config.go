package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Dir is the control-plane directory at the repository root.
const Dir = ".jlo"

// Config models .jlo/config.yml.
type Config struct {
	Run struct {
		DefaultBranch string `yaml:"default_branch" json:"default_branch"`
		JulesBranch   string `yaml:"jules_branch" json:"jules_branch"`
	} `yaml:"run" json:"run"`
	Jules struct {
		APIURL       string `yaml:"api_url" json:"api_url"`
		TimeoutSecs  int    `yaml:"timeout_secs" json:"timeout_secs"`
		MaxRetries   int    `yaml:"max_retries" json:"max_retries"`
		RetryDelayMs int    `yaml:"retry_delay_ms" json:"retry_delay_ms"`
	} `yaml:"jules" json:"jules"`
	IssueLabels []string `yaml:"issue_labels" json:"issue_labels"`
	Notify      struct {
		Webhooks []WebhookConfig `yaml:"webhooks" json:"webhooks,omitempty"`
	} `yaml:"notify" json:"notify"`
}

// WebhookConfig describes a run-notification target.
type WebhookConfig struct {
	URL            string   `yaml:"url" json:"url"`
	Events         []string `yaml:"events" json:"events,omitempty"`
	Secret         string   `yaml:"secret" json:"-"`
	TimeoutSeconds int      `yaml:"timeout_seconds" json:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled" json:"enabled,omitempty"`
}

// Path returns the config file path for a repository root.
func Path(root string) string {
	if root == "" {
		root = "."
	}
	return filepath.Join(root, Dir, "config.yml")
}

// Load reads .jlo/config.yml under root. A missing file yields the defaults.
func Load(root string) (*Config, error) {
	data, err := os.ReadFile(Path(root))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses config over the defaults and validates the result.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	cfg.IssueLabels = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if len(cfg.IssueLabels) == 0 {
		cfg.IssueLabels = Default().IssueLabels
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Run.DefaultBranch) == "" {
		return fmt.Errorf("config.run.default_branch is required")
	}
	if strings.TrimSpace(c.Run.JulesBranch) == "" {
		return fmt.Errorf("config.run.jules_branch is required")
	}
	u, err := url.Parse(c.Jules.APIURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("config.jules.api_url must be an http(s) URL: %q", c.Jules.APIURL)
	}
	if c.Jules.TimeoutSecs <= 0 {
		return fmt.Errorf("config.jules.timeout_secs must be greater than 0")
	}
	if c.Jules.MaxRetries < 0 {
		return fmt.Errorf("config.jules.max_retries must not be negative")
	}
	if c.Jules.RetryDelayMs < 0 {
		return fmt.Errorf("config.jules.retry_delay_ms must not be negative")
	}
	for _, label := range c.IssueLabels {
		if strings.TrimSpace(label) == "" {
			return fmt.Errorf("config.issue_labels contains an empty label")
		}
	}
	for i, hook := range c.Notify.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.notify.webhooks[%d].url is required", i)
		}
	}
	return nil
}

const defaultTemplate = `run:
  default_branch: main
  jules_branch: jules

jules:
  api_url: https://jules.googleapis.com/v1alpha/sessions
  timeout_secs: 30
  max_retries: 3
  retry_delay_ms: 1000

issue_labels: [bugs, feats, refacts]
`
