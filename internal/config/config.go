package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models taskmarket.yml.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Auth struct {
		JWTSecret          string   `yaml:"jwt_secret"`
		TokenTTL           Duration `yaml:"token_ttl"`
		DevLogin           bool     `yaml:"dev_login"`
		AllowProfileHeader bool     `yaml:"allow_profile_header"`
	} `yaml:"auth"`
	Ranking      Ranking      `yaml:"ranking"`
	Applications Applications `yaml:"applications"`
	Skills       []SkillSeed  `yaml:"skills"`
	Cache        Cache        `yaml:"cache"`
	Webhooks     []Webhook    `yaml:"webhooks"`
}

// Ranking holds the weights used to score a task against a helper.
type Ranking struct {
	SharedSkill  int `yaml:"shared_skill"`
	MissingSkill int `yaml:"missing_skill"`
	SameLocation int `yaml:"same_location"`
}

// Applications configures the application-rate limiter.
// Quota is keyed by floor(rating).
type Applications struct {
	Window Duration    `yaml:"window"`
	Quota  map[int]int `yaml:"quota"`
}

type SkillSeed struct {
	Code  string `yaml:"code"`
	Title string `yaml:"title"`
}

type Cache struct {
	RedisAddr string   `yaml:"redis_addr"`
	Prefix    string   `yaml:"prefix"`
	TTL       Duration `yaml:"ttl"`
}

type Webhook struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	Enabled        *bool    `yaml:"enabled"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	MaxAttempts    int      `yaml:"max_attempts"`
}

// IsEnabled reports whether the hook is active; hooks default to enabled.
func (w Webhook) IsEnabled() bool {
	return w.Enabled == nil || *w.Enabled
}

// Duration is a time.Duration that reads "24h"-style strings from YAML.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; generate one with tm config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	if c.Auth.TokenTTL < 0 {
		return fmt.Errorf("config.auth.token_ttl must not be negative")
	}
	if c.Applications.Window.Std() <= 0 {
		return fmt.Errorf("config.applications.window must be positive")
	}
	if len(c.Applications.Quota) == 0 {
		return fmt.Errorf("config.applications.quota is required")
	}
	for bucket, quota := range c.Applications.Quota {
		if bucket < 0 || bucket > 5 {
			return fmt.Errorf("config.applications.quota has bucket %d outside 0..5", bucket)
		}
		if quota < 0 {
			return fmt.Errorf("config.applications.quota[%d] must not be negative", bucket)
		}
	}
	seen := map[string]bool{}
	for i, s := range c.Skills {
		if s.Code == "" {
			return fmt.Errorf("config.skills[%d].code is required", i)
		}
		if seen[s.Code] {
			return fmt.Errorf("config.skills has duplicate code %s", s.Code)
		}
		seen[s.Code] = true
	}
	for i, wh := range c.Webhooks {
		if wh.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if wh.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "taskmarket.yml")
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
// Sections missing from data keep their defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `server:
  addr: 127.0.0.1:8080
  base_path: /v1

auth:
  token_ttl: 24h
  dev_login: false
  allow_profile_header: false

ranking:
  shared_skill: 1
  missing_skill: -1
  same_location: 3

applications:
  window: 24h
  quota:
    0: 2
    1: 5
    2: 10
    3: 15
    4: 20
    5: 20

skills:
  - code: gardening
    title: Gardening
  - code: cleaning
    title: Cleaning
  - code: moving
    title: Moving
  - code: handyman
    title: Handyman
  - code: tutoring
    title: Tutoring
  - code: tech
    title: Tech support

cache:
  prefix: "taskmarket:"
  ttl: 5m
`
