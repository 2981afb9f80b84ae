package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"agent-toolbridge/internal/apperr"
	"agent-toolbridge/internal/probe"
)

// Environment variables read on top of the YAML file.
const (
	EnvMCPServers = "MCP_SERVERS"
	EnvA2AAgents  = "A2A_AGENTS"
	EnvDataDir    = "TOOLBRIDGE_DATA_DIR"
	EnvLogLevel   = "TOOLBRIDGE_LOG_LEVEL"
)

// Kind identifies the protocol spoken by a configured server.
type Kind string

const (
	KindMCP Kind = "mcp"
	KindA2A Kind = "a2a"
)

// Connection status values recorded on a server after a test.
const (
	ConnectionConnected = "connected"
	ConnectionFailed    = "failed"
	ConnectionOffline   = "offline"
)

// ServerConfig describes one remote MCP server or A2A agent.
// Headers are credentials and must never be logged.
type ServerConfig struct {
	ID          string            `yaml:"id" json:"id"`
	UserID      string            `yaml:"-" json:"userId,omitempty"`
	Kind        Kind              `yaml:"-" json:"kind"`
	Name        string            `yaml:"name" json:"name"`
	Endpoint    string            `yaml:"endpoint" json:"endpoint"`
	Description string            `yaml:"description" json:"description,omitempty"`
	Headers     map[string]string `yaml:"headers" json:"headers,omitempty"`
	IsActive    bool              `yaml:"-" json:"isActive"`
	Disabled    bool              `yaml:"disabled" json:"-"`

	LastConnectionTest   time.Time `yaml:"-" json:"lastConnectionTest,omitzero"`
	LastConnectionStatus string    `yaml:"-" json:"lastConnectionStatus,omitempty"`
	LastError            string    `yaml:"-" json:"lastError,omitempty"`
	ToolCount            int       `yaml:"-" json:"toolCount,omitempty"`
	CreatedAt            time.Time `yaml:"-" json:"createdAt,omitzero"`
	UpdatedAt            time.Time `yaml:"-" json:"updatedAt,omitzero"`
}

// Key returns the logical key used to index the server: its ID, or its name
// when no ID was assigned.
func (s ServerConfig) Key() string {
	if s.ID != "" {
		return s.ID
	}
	return s.Name
}

// Validate checks the fields required before any network call.
func (s ServerConfig) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return apperr.New(apperr.KindConfigurationInvalid, "validate server", "name is required")
	}
	if err := probe.ValidateEndpoint(s.Endpoint); err != nil {
		return err
	}
	for k := range s.Headers {
		if strings.TrimSpace(k) == "" {
			return apperr.New(apperr.KindConfigurationInvalid, "validate server", "header names must not be empty")
		}
	}
	return nil
}

// Redacted returns a copy whose header values are masked.
func (s ServerConfig) Redacted() ServerConfig {
	if len(s.Headers) == 0 {
		return s
	}
	masked := make(map[string]string, len(s.Headers))
	for k := range s.Headers {
		masked[k] = "***"
	}
	s.Headers = masked
	return s
}

// WeatherConfig configures the getWeather built-in tool.
type WeatherConfig struct {
	BaseURL string `yaml:"base_url"`
}

// Config holds the service configuration loaded from toolbridge.yaml.
type Config struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	DataDir   string `yaml:"data_dir"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	ConnectTimeout   time.Duration `yaml:"connect_timeout"`
	DiscoveryTimeout time.Duration `yaml:"discovery_timeout"`
	CallTimeout      time.Duration `yaml:"call_timeout"`

	MCPServers []ServerConfig `yaml:"mcp_servers"`
	A2AAgents  []ServerConfig `yaml:"a2a_agents"`

	Weather WeatherConfig `yaml:"weather"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads and parses the configuration file, then overlays the
// environment (including a .env file next to the working directory).
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := LoadDotEnv(".env"); err != nil {
		return nil, err
	}
	cfg.applyEnv()
	cfg.applyDefaults()

	return &cfg, nil
}

// FromEnv builds a configuration from defaults and the environment alone,
// for runs without a configuration file.
func FromEnv() (*Config, error) {
	if err := LoadDotEnv(".env"); err != nil {
		return nil, err
	}
	var cfg Config
	cfg.applyEnv()
	cfg.applyDefaults()
	return &cfg, nil
}

// LoadDotEnv loads variables from a .env file. A missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvDataDir); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
	c.MCPServers = append(c.MCPServers, ParseServerList(os.Getenv(EnvMCPServers), KindMCP)...)
	c.A2AAgents = append(c.A2AAgents, ParseServerList(os.Getenv(EnvA2AAgents), KindA2A)...)
}

func (c *Config) applyDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.DiscoveryTimeout == 0 {
		c.DiscoveryTimeout = 15 * time.Second
	}
	if c.CallTimeout == 0 {
		c.CallTimeout = 60 * time.Second
	}
	if c.Weather.BaseURL == "" {
		c.Weather.BaseURL = "https://api.open-meteo.com/v1/forecast"
	}

	for i := range c.MCPServers {
		c.MCPServers[i].Kind = KindMCP
		c.MCPServers[i].IsActive = !c.MCPServers[i].Disabled
	}
	for i := range c.A2AAgents {
		c.A2AAgents[i].Kind = KindA2A
		c.A2AAgents[i].IsActive = !c.A2AAgents[i].Disabled
	}
}

// Logger builds the process logger described by the configuration.
func (c *Config) Logger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// ParseServerList parses a comma separated list of "name:url" or bare URL
// entries for servers of the given kind. A bare URL is named after its host
// with dots replaced by underscores; MCP names also carry the explicit port
// so that servers sharing a host stay distinct. Malformed entries are
// skipped; the result is never nil.
func ParseServerList(raw string, kind Kind) []ServerConfig {
	servers := []ServerConfig{}
	if strings.TrimSpace(raw) == "" {
		return servers
	}

	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		var name, endpoint string
		colon := strings.Index(entry, ":")
		if colon == -1 || strings.HasPrefix(entry, "http") {
			u, err := url.Parse(entry)
			if err != nil || u.Hostname() == "" {
				continue
			}
			name = strings.ReplaceAll(u.Hostname(), ".", "_")
			if kind == KindMCP && u.Port() != "" {
				name += "_" + u.Port()
			}
			endpoint = entry
		} else {
			name = strings.TrimSpace(entry[:colon])
			endpoint = strings.TrimSpace(entry[colon+1:])
		}

		sc := ServerConfig{Kind: kind, Name: name, Endpoint: endpoint, IsActive: true}
		if sc.Validate() != nil {
			continue
		}
		servers = append(servers, sc)
	}

	return servers
}
