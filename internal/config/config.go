package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models meritflow.yml.
type Config struct {
	Consensus struct {
		MinVerifications int     `yaml:"min_verifications" json:"min_verifications"`
		Threshold        float64 `yaml:"threshold" json:"threshold"`
		// AllowAutoApprove must be set explicitly to run with threshold 0.
		AllowAutoApprove bool `yaml:"allow_auto_approve" json:"allow_auto_approve"`
	} `yaml:"consensus" json:"consensus"`
	Reward struct {
		Base              float64            `yaml:"base" json:"base"`
		ComplexityWeights map[string]float64 `yaml:"complexity_weights" json:"complexity_weights"`
	} `yaml:"reward" json:"reward"`
	Agents struct {
		Catalog map[string]struct {
			Description string `yaml:"description" json:"description"`
		} `yaml:"catalog" json:"catalog"`
		// Enforce rejects verifications from agents outside the catalog.
		Enforce bool `yaml:"enforce" json:"enforce"`
	} `yaml:"agents" json:"agents"`
	Auth struct {
		JWTSecret        string `yaml:"jwt_secret" json:"jwt_secret"`
		AllowAgentHeader bool   `yaml:"allow_agent_header" json:"allow_agent_header"`
		DevLogin         bool   `yaml:"dev_login" json:"dev_login"`
	} `yaml:"auth" json:"auth"`
	Webhooks []WebhookConfig `yaml:"webhooks" json:"webhooks"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url" json:"url"`
	Secret         string   `yaml:"secret" json:"secret"`
	Events         []string `yaml:"events" json:"events"`
	TimeoutSeconds int      `yaml:"timeout_seconds" json:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled" json:"enabled"`
}

// Load reads and validates config from the workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; generate one with mf config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if no file exists in the workspace.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure. The consensus policy
// is validated strictly: auto-approve (threshold 0) is refused unless it is
// switched on explicitly, so a missing threshold can never silently accept
// every contribution.
func (c *Config) Validate() error {
	if c.Consensus.MinVerifications < 1 {
		return fmt.Errorf("config.consensus.min_verifications must be >= 1")
	}
	if c.Consensus.Threshold < 0 || c.Consensus.Threshold > 1 {
		return fmt.Errorf("config.consensus.threshold must be in [0,1]")
	}
	if c.Consensus.Threshold == 0 && !c.Consensus.AllowAutoApprove {
		return fmt.Errorf("config.consensus.threshold is 0 (auto-approve); set consensus.allow_auto_approve to confirm")
	}
	if c.Reward.Base <= 0 {
		return fmt.Errorf("config.reward.base must be positive")
	}
	for typ, w := range c.Reward.ComplexityWeights {
		if typ == "" {
			return fmt.Errorf("config.reward.complexity_weights contains empty type")
		}
		if w <= 0 {
			return fmt.Errorf("complexity weight for %s must be positive", typ)
		}
	}
	if c.Agents.Enforce && len(c.Agents.Catalog) == 0 {
		return fmt.Errorf("config.agents.enforce requires a non-empty agents.catalog")
	}
	for id := range c.Agents.Catalog {
		if id == "" {
			return fmt.Errorf("config.agents.catalog contains empty agent id")
		}
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
	}
	return nil
}

// KnownAgent reports whether agentID is acceptable under the catalog policy.
func (c *Config) KnownAgent(agentID string) bool {
	if !c.Agents.Enforce {
		return true
	}
	_, ok := c.Agents.Catalog[agentID]
	return ok
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "meritflow.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}


const defaultTemplate = `consensus:
  # Minimum verifications before a decision is made.
  min_verifications: 1
  # Fraction of approve votes required for a verified decision.
  threshold: 0.7

reward:
  base: 10.0
  complexity_weights:
    code: 1.5
    dataset: 1.3
    document: 1.0
    other: 1.0

agents:
  enforce: false
  catalog:
    agent-alpha:
      description: "Quality verifier"
    agent-beta:
      description: "Domain expert"
    agent-gamma:
      description: "Security specialist"

auth:
  jwt_secret: ""
  allow_agent_header: true
  dev_login: false

webhooks: []
`
