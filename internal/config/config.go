package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all piebrain configuration.
type Config struct {
	// Task store
	Store StoreConfig `yaml:"store"`

	// Routing protocol
	Router RouterConfig `yaml:"router"`

	// Inference completer
	LLM LLMConfig `yaml:"llm"`

	// Worker loop
	Engine EngineConfig `yaml:"engine"`

	// Validation and sanitization
	Guardian GuardianConfig `yaml:"guardian"`

	// Drop-in capability files
	Extensions ExtensionsConfig `yaml:"extensions"`

	// External agent selection
	Agents AgentsConfig `yaml:"agents"`

	// Intake providers
	Providers ProvidersConfig `yaml:"providers"`

	// Built-in capability settings
	Memory  MemoryConfig  `yaml:"memory"`
	GitSync GitSyncConfig `yaml:"git_sync"`
	Arxiv   ArxivConfig   `yaml:"arxiv"`
}

// StoreConfig configures the SQLite task store.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// RouterConfig configures the routing protocol.
type RouterConfig struct {
	Retries  int    `yaml:"retries"`
	Timeout  string `yaml:"timeout"`
	Preamble string `yaml:"preamble"`
}

// LLMConfig configures the inference completer.
type LLMConfig struct {
	Provider string `yaml:"provider"` // ollama, anthropic, gemini
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	APIKey   string `yaml:"api_key"`
}

// EngineConfig configures the worker loop.
type EngineConfig struct {
	PollInterval    string `yaml:"poll_interval"`
	Workers         int    `yaml:"workers"`
	StalenessWindow string `yaml:"staleness_window"`
	InboxDir        string `yaml:"inbox_dir"`
}

// GuardianConfig configures validation and sanitization.
type GuardianConfig struct {
	AllowedRoots    []string `yaml:"allowed_roots"`
	WatcherInterval string   `yaml:"watcher_interval"`
	MaxRequestLen   int      `yaml:"max_request_len"`
}

// ExtensionsConfig configures the drop-in capability directories.
type ExtensionsConfig struct {
	ToolsDir  string `yaml:"tools_dir"`
	AgentsDir string `yaml:"agents_dir"`
}

// AgentsConfig selects the active external agent.
type AgentsConfig struct {
	Active string `yaml:"active"`
}

// ProvidersConfig configures the intake providers.
type ProvidersConfig struct {
	Telegram  TelegramConfig  `yaml:"telegram"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

// TelegramConfig configures the Telegram intake provider.
type TelegramConfig struct {
	Enabled        bool    `yaml:"enabled"`
	Token          string  `yaml:"token"`
	AllowedChatIDs []int64 `yaml:"allowed_chat_ids"`
}

// SchedulerConfig configures the cron intake provider.
type SchedulerConfig struct {
	Enabled bool     `yaml:"enabled"`
	Spec    string   `yaml:"spec"`
	Prompts []string `yaml:"prompts"`
}

// MemoryConfig configures the vector memory capability.
type MemoryConfig struct {
	Dir            string  `yaml:"dir"`
	DedupThreshold float32 `yaml:"dedup_threshold"`
	EmbedModel     string  `yaml:"embed_model"`
	EmbedBaseURL   string  `yaml:"embed_base_url"`
}

// GitSyncConfig configures the repository sync capability.
type GitSyncConfig struct {
	RepoDir string `yaml:"repo_dir"`
}

// ArxivConfig configures the paper search capability.
type ArxivConfig struct {
	MaxResults int    `yaml:"max_results"`
	BaseURL    string `yaml:"base_url"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Path: "~/.piebrain/tasks.db",
		},
		Router: RouterConfig{
			Retries: 3,
			Timeout: "300s",
		},
		LLM: LLMConfig{
			Provider: "ollama",
			Model:    "qwen2.5:1.5b",
			BaseURL:  "http://localhost:11434",
		},
		Engine: EngineConfig{
			PollInterval:    "2s",
			Workers:         2,
			StalenessWindow: "30m",
			InboxDir:        "~/brain/inbox",
		},
		Guardian: GuardianConfig{
			AllowedRoots:    []string{"~/brain", "~/.piebrain", "/tmp"},
			WatcherInterval: "60s",
			MaxRequestLen:   2000,
		},
		Extensions: ExtensionsConfig{
			ToolsDir:  "~/.piebrain/extensions/tools.d",
			AgentsDir: "~/.piebrain/extensions/agents.d",
		},
		Agents: AgentsConfig{
			Active: "claude-cli",
		},
		Providers: ProvidersConfig{
			Telegram: TelegramConfig{
				Enabled: false,
			},
			Scheduler: SchedulerConfig{
				Enabled: false,
				Spec:    "0 0 * * *",
			},
		},
		Memory: MemoryConfig{
			Dir:            "~/.piebrain/memory",
			DedupThreshold: 0.8,
			EmbedModel:     "nomic-embed-text",
			EmbedBaseURL:   "http://localhost:11434/api",
		},
		GitSync: GitSyncConfig{
			RepoDir: "~/brain",
		},
		Arxiv: ArxivConfig{
			MaxResults: 5,
			BaseURL:    "http://export.arxiv.org/api/query",
		},
	}
}

// Load loads configuration from a YAML file.
// A missing file is not an error; defaults are returned.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			cfg.expandPaths()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.expandPaths()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if path := os.Getenv("PIEBRAIN_DB"); path != "" {
		c.Store.Path = path
	}
	if dir := os.Getenv("PIEBRAIN_INBOX"); dir != "" {
		c.Engine.InboxDir = dir
	}
	if tok := os.Getenv("TELEGRAM_BOT_TOKEN"); tok != "" {
		c.Providers.Telegram.Token = tok
	}
	if host := os.Getenv("OLLAMA_HOST"); host != "" && c.LLM.Provider == "ollama" {
		c.LLM.BaseURL = host
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" && c.LLM.Provider == "anthropic" {
		c.LLM.APIKey = key
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" && c.LLM.Provider == "gemini" {
		c.LLM.APIKey = key
	}
}

// expandPaths expands a leading ~ in every configured path.
func (c *Config) expandPaths() {
	c.Store.Path = ExpandHome(c.Store.Path)
	c.Engine.InboxDir = ExpandHome(c.Engine.InboxDir)
	c.Extensions.ToolsDir = ExpandHome(c.Extensions.ToolsDir)
	c.Extensions.AgentsDir = ExpandHome(c.Extensions.AgentsDir)
	c.Memory.Dir = ExpandHome(c.Memory.Dir)
	c.GitSync.RepoDir = ExpandHome(c.GitSync.RepoDir)
	for i, root := range c.Guardian.AllowedRoots {
		c.Guardian.AllowedRoots[i] = ExpandHome(root)
	}
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return ExpandHome("~/.piebrain/config.yaml")
}

// ModulesStatusPath returns where the daemon publishes its registry
// snapshot, next to the task database.
func (c *Config) ModulesStatusPath() string {
	return filepath.Join(filepath.Dir(c.Store.Path), "modules.json")
}

// ExpandHome expands a leading ~ to the user's home directory.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(strings.TrimPrefix(path, "~"), "/"))
	}
	return path
}

// GetRouterTimeout returns the per-attempt inference timeout.
func (c *Config) GetRouterTimeout() time.Duration {
	d, err := time.ParseDuration(c.Router.Timeout)
	if err != nil {
		return 300 * time.Second
	}
	return d
}

// GetPollInterval returns the idle poll interval for the worker loop.
func (c *Config) GetPollInterval() time.Duration {
	d, err := time.ParseDuration(c.Engine.PollInterval)
	if err != nil {
		return 2 * time.Second
	}
	return d
}

// GetStalenessWindow returns the reconciliation staleness window.
func (c *Config) GetStalenessWindow() time.Duration {
	d, err := time.ParseDuration(c.Engine.StalenessWindow)
	if err != nil {
		return 30 * time.Minute
	}
	return d
}

// GetWatcherInterval returns the extension rescan interval.
func (c *Config) GetWatcherInterval() time.Duration {
	d, err := time.ParseDuration(c.Guardian.WatcherInterval)
	if err != nil {
		return 60 * time.Second
	}
	return d
}
