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

// Config models museu.yml.
type Config struct {
	Network struct {
		Name    string   `yaml:"name" json:"name"`
		Museums []string `yaml:"museums" json:"museums"`
	} `yaml:"network" json:"network"`
	Coordination struct {
		ReservedName string `yaml:"reserved_name" json:"reserved_name"`
	} `yaml:"coordination" json:"coordination"`
	Access struct {
		// Administrators are principals provisioned as approved administration.
		Administrators []string `yaml:"administrators" json:"administrators"`
		AllowDevLogin  bool     `yaml:"allow_dev_login" json:"allow_dev_login"`
	} `yaml:"access" json:"access"`
	Reporting struct {
		FirstYear int `yaml:"first_year" json:"first_year"`
	} `yaml:"reporting" json:"reporting"`
	Goals []GoalSeed `yaml:"goals" json:"goals"`
	Cache struct {
		StaleTime Duration `yaml:"stale_time" json:"stale_time"`
	} `yaml:"cache" json:"cache"`
	Server struct {
		Addr     string `yaml:"addr" json:"addr"`
		BasePath string `yaml:"base_path" json:"base_path"`
	} `yaml:"server" json:"server"`
	Webhooks []WebhookConfig `yaml:"webhooks" json:"webhooks"`
}

// WebhookConfig forwards committed events to an external URL.
type WebhookConfig struct {
	URL            string   `yaml:"url" json:"url"`
	Events         []string `yaml:"events,omitempty" json:"events,omitempty"`
	Secret         string   `yaml:"secret,omitempty" json:"secret,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty" json:"enabled,omitempty"`
}

type GoalSeed struct {
	Number string `yaml:"number" json:"number"`
	Name   string `yaml:"name" json:"name"`
	Target *int   `yaml:"target,omitempty" json:"target,omitempty"`
}

// Duration decodes YAML strings such as "30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return d.Duration.String(), nil
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Network.Name) == "" {
		return fmt.Errorf("config.network.name is required")
	}
	if len(c.Network.Museums) == 0 {
		return fmt.Errorf("config.network.museums is required")
	}
	seen := map[string]bool{}
	for _, m := range c.Network.Museums {
		key := strings.ToLower(strings.TrimSpace(m))
		if key == "" {
			return fmt.Errorf("config.network.museums contains an empty name")
		}
		if seen[key] {
			return fmt.Errorf("museum %s listed twice", m)
		}
		seen[key] = true
	}
	if strings.TrimSpace(c.Coordination.ReservedName) == "" {
		return fmt.Errorf("config.coordination.reserved_name is required")
	}
	if c.Reporting.FirstYear <= 0 {
		return fmt.Errorf("config.reporting.first_year must be positive")
	}
	numbers := map[string]bool{}
	for _, g := range c.Goals {
		if g.Number == "" || g.Name == "" {
			return fmt.Errorf("goal seeds need number and name")
		}
		if numbers[g.Number] {
			return fmt.Errorf("goal number %s defined twice", g.Number)
		}
		numbers[g.Number] = true
	}
	if c.Cache.StaleTime.Duration < 0 {
		return fmt.Errorf("config.cache.stale_time must not be negative")
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	for i, w := range c.Webhooks {
		if !strings.HasPrefix(w.URL, "http://") && !strings.HasPrefix(w.URL, "https://") {
			return fmt.Errorf("config.webhooks[%d].url must be an http(s) URL", i)
		}
		if w.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	return nil
}

// IsAdministrator reports whether principal is listed under access.administrators.
func (c *Config) IsAdministrator(principal string) bool {
	for _, a := range c.Access.Administrators {
		if a == principal {
			return true
		}
	}
	return false
}

// HasMuseum reports whether name is a configured museum (case-insensitive).
func (c *Config) HasMuseum(name string) bool {
	for _, m := range c.Network.Museums {
		if strings.EqualFold(strings.TrimSpace(m), strings.TrimSpace(name)) {
			return true
		}
	}
	return false
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "museu.yml")
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with museu config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
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

const defaultTemplate = `network:
  name: Rede de Museus
  museums:
    - Museu Casa de Portinari
    - Museu Casa de Guilherme de Almeida
    - Casa das Rosas
    - Museu Felícia Leirner
    - Museu Índia Vanuíre

coordination:
  reserved_name: Coordenação Geral

access:
  administrators:
    - admin
  allow_dev_login: false

reporting:
  first_year: 2024

goals:
  - number: "1"
    name: Ações educativas
  - number: "2"
    name: Exposições temporárias
  - number: "3"
    name: Programação cultural

cache:
  stale_time: 30s

server:
  addr: 127.0.0.1:8080
  base_path: /v0
`
