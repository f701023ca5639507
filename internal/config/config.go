package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ClientType selects the MCP transport for a configured server.
type ClientType string

const (
	ClientTypeSSE            ClientType = "sse"
	ClientTypeStreamableHTTP ClientType = "streamable_http"
	ClientTypeStdio          ClientType = "stdio"
)

// Config holds the application configuration
type Config struct {
	LogLevel   string            `mapstructure:"log_level"`
	LLM        LLMConfig         `mapstructure:"llm"`
	Server     ServerConfig      `mapstructure:"server"`
	History    HistoryConfig     `mapstructure:"history"`
	Tools      ToolsConfig       `mapstructure:"tools"`
	Assembler  AssemblerConfig   `mapstructure:"assembler"`
	MCPServers []MCPServerConfig `mapstructure:"mcp_servers"`
}

// LLMConfig holds the LLM configuration
type LLMConfig struct {
	Provider     string  `mapstructure:"provider"`
	BaseURL      string  `mapstructure:"base_url"`
	APIKey       string  `mapstructure:"api_key"`
	Model        string  `mapstructure:"model"`
	Temperature  float32 `mapstructure:"temperature"`
	MaxTokens    int     `mapstructure:"max_tokens"`
	SystemPrompt string  `mapstructure:"system_prompt"`
	// SystemRole is "system" or "developer"; reasoning models only accept the latter.
	SystemRole string `mapstructure:"system_role"`
	MaxTurns   int    `mapstructure:"max_turns"`
}

// ServerConfig holds the server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            string        `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// HistoryConfig controls conversation memory.
type HistoryConfig struct {
	DBPath      string `mapstructure:"db_path"`
	MaxMessages int    `mapstructure:"max_messages"`
}

// ToolsConfig groups per-tool settings.
type ToolsConfig struct {
	SearXNG SearXNGConfig `mapstructure:"searxng"`
	Scraper ScraperConfig `mapstructure:"scraper"`
}

// SearXNGConfig configures the web search tool.
type SearXNGConfig struct {
	BaseURL    string `mapstructure:"base_url"`
	MaxResults int    `mapstructure:"max_results"`
}

// ScraperConfig configures the web page scraper.
type ScraperConfig struct {
	UserAgent         string        `mapstructure:"user_agent"`
	Timeout           time.Duration `mapstructure:"timeout"`
	MaxContentLength  int           `mapstructure:"max_content_length"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	RespectRobots     bool          `mapstructure:"respect_robots"`
	RedactPII         bool          `mapstructure:"redact_pii"`
}

// AssemblerConfig configures the tool installer.
type AssemblerConfig struct {
	RepoURL  string `mapstructure:"repo_url"`
	Branch   string `mapstructure:"branch"`
	ToolsDir string `mapstructure:"tools_dir"`
	LocalDir string `mapstructure:"local_dir"`
}

// MCPServerConfig describes one MCP server the tool agent connects to.
type MCPServerConfig struct {
	Name    string            `mapstructure:"name"`
	Type    ClientType        `mapstructure:"type"`
	URL     string            `mapstructure:"url"`
	Headers map[string]string `mapstructure:"headers"`
	Command string            `mapstructure:"command"`
	Args    []string          `mapstructure:"args"`
	Env     map[string]string `mapstructure:"env"`
}

// Address returns host:port for the HTTP listener.
func (s ServerConfig) Address() string {
	return s.Host + ":" + s.Port
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("llm.system_role", "system")
	v.SetDefault("llm.max_turns", 5)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("history.db_path", "history.db")
	v.SetDefault("history.max_messages", 0)
	v.SetDefault("tools.searxng.base_url", "http://localhost:8080")
	v.SetDefault("tools.searxng.max_results", 10)
	v.SetDefault("tools.scraper.user_agent", "AtomicAgents-Scraper/1.0 (+https://github.com/comigor/atomic-agents)")
	v.SetDefault("tools.scraper.timeout", 30*time.Second)
	v.SetDefault("tools.scraper.max_content_length", 1_000_000)
	v.SetDefault("tools.scraper.requests_per_second", 1.0)
	v.SetDefault("tools.scraper.respect_robots", true)
	v.SetDefault("tools.scraper.redact_pii", true)
	v.SetDefault("assembler.repo_url", "https://github.com/comigor/atomic-agents.git")
	v.SetDefault("assembler.branch", "main")
	v.SetDefault("assembler.tools_dir", "atomic-forge/tools")
	v.SetDefault("assembler.local_dir", defaultLocalDir())
}

func defaultLocalDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".atomic-assembler"
	}
	return home + "/.atomic-assembler"
}

// Load loads the configuration from config.yaml (or CONFIG_PATH), then applies
// ATOMIC_* environment overrides. A missing config file is not an error.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("ATOMIC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// OPENAI_API_KEY is what most examples export in their .env files.
	_ = v.BindEnv("llm.api_key", "ATOMIC_LLM_API_KEY", "OPENAI_API_KEY")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}
