package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Auth    AuthConfig    `yaml:"auth"`
	Compose ComposeConfig `yaml:"compose"`
	Preview PreviewConfig `yaml:"preview"`
}

type ServerConfig struct {
	BaseURL string `yaml:"base_url" validate:"required,url"`
	WSURL   string `yaml:"ws_url" validate:"omitempty,url"`
}

type AuthConfig struct {
	Token     string `yaml:"token"`
	TokenFile string `yaml:"token_file"`
}

type ComposeConfig struct {
	MaxFiles   int `yaml:"max_files" validate:"omitempty,min=1,max=20"`
	MaxTextLen int `yaml:"max_text_len" validate:"omitempty,min=1"`
}

type PreviewConfig struct {
	MaxEdge int `yaml:"max_edge" validate:"omitempty,min=16,max=4096"`
	Quality int `yaml:"quality" validate:"omitempty,min=1,max=100"`
}

var configValidator = validator.New()

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := configValidator.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	cfg.setDefaults()

	return &cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("PARLEY_BASE_URL"); v != "" {
		c.Server.BaseURL = v
	}
	if v := os.Getenv("PARLEY_WS_URL"); v != "" {
		c.Server.WSURL = v
	}
	if v := os.Getenv("PARLEY_TOKEN"); v != "" {
		c.Auth.Token = v
	}
}

func (c *Config) setDefaults() {
	if c.Server.WSURL == "" {
		c.Server.WSURL = deriveWSURL(c.Server.BaseURL)
	}
	if c.Compose.MaxFiles == 0 {
		c.Compose.MaxFiles = 5
	}
	if c.Compose.MaxTextLen == 0 {
		c.Compose.MaxTextLen = 4000
	}
	if c.Preview.MaxEdge == 0 {
		c.Preview.MaxEdge = 480
	}
	if c.Preview.Quality == 0 {
		c.Preview.Quality = 80
	}
}

// deriveWSURL maps the REST base URL onto the websocket endpoint when no
// explicit ws_url is configured.
func deriveWSURL(baseURL string) string {
	ws := baseURL
	switch {
	case strings.HasPrefix(ws, "https://"):
		ws = "wss://" + strings.TrimPrefix(ws, "https://")
	case strings.HasPrefix(ws, "http://"):
		ws = "ws://" + strings.TrimPrefix(ws, "http://")
	}
	return strings.TrimRight(ws, "/") + "/ws"
}

// ResolveToken returns the configured credential, preferring the inline
// token over the token file. Returns empty when neither is set.
func (c *Config) ResolveToken() (string, error) {
	if c.Auth.Token != "" {
		return c.Auth.Token, nil
	}
	if c.Auth.TokenFile == "" {
		return "", nil
	}
	data, err := os.ReadFile(c.Auth.TokenFile)
	if err != nil {
		return "", fmt.Errorf("reading token file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
