package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Loader handles configuration loading from multiple sources.
type Loader struct {
	v          *viper.Viper
	configFile string
	envPrefix  string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		v:         viper.New(),
		envPrefix: "WALKER",
	}
}

// NewLoaderWithViper creates a loader using an existing viper instance.
// This allows integration with CLI flag bindings.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{
		v:         v,
		envPrefix: "WALKER",
	}
}

// WithConfigFile sets an explicit config file path.
func (l *Loader) WithConfigFile(path string) *Loader {
	l.configFile = path
	return l
}

// WithEnvPrefix sets the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// Viper returns the underlying viper instance for flag binding.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// Load loads configuration from all sources.
// Precedence (highest to lowest):
// 1. CLI flags (set via viper.BindPFlag)
// 2. Environment variables (WALKER_* and the bare deployment names)
// 3. Project config (.walker.yaml in current directory)
// 4. User config (~/.config/walker/config.yaml)
// 5. Defaults
func (l *Loader) Load() (*Config, error) {
	l.setDefaults()

	l.v.SetEnvPrefix(l.envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()
	l.bindDeploymentEnv()

	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	} else {
		l.v.SetConfigName(".walker")
		l.v.SetConfigType("yaml")

		// Project config takes precedence over user config.
		l.v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			l.v.AddConfigPath(filepath.Join(home, ".config", "walker"))
		}
	}

	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	if err := resolveDogs(l.v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Orchestrator-only forge reads may run without a dedicated token.
	if cfg.Forge.Token == "" && len(cfg.Dogs) > 0 {
		cfg.Forge.Token = cfg.Dogs[0].Credential
	}

	return &cfg, nil
}

// bindDeploymentEnv wires the bare environment names used by existing
// deployments, alongside the canonical WALKER_* ones. The first set
// variable wins.
func (l *Loader) bindDeploymentEnv() {
	aliases := map[string][]string{
		"store.url":          {"STORE_URL", "REDIS_URL"},
		"llm.api_key":        {"LLM_API_KEY", "ANTHROPIC_API_KEY"},
		"chat.bot_token":     {"CHAT_BOT_TOKEN", "SLACK_BOT_TOKEN"},
		"chat.app_token":     {"CHAT_APP_TOKEN", "SLACK_APP_TOKEN"},
		"chat.channel_id":    {"CHAT_CHANNEL_ID", "SLACK_CHANNEL_ID"},
		"forge.repo":         {"FORGE_REPO", "GITHUB_REPO"},
		"forge.token":        {"FORGE_TOKEN", "GITHUB_TOKEN"},
		"forge.base_branch":  {"BASE_BRANCH"},
		"forge.media_branch": {"MEDIA_BRANCH"},
		"dogs":               {"DOGS"},
	}
	for key, names := range aliases {
		args := append([]string{key, l.envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}, names...)
		// BindEnv only errors on zero arguments.
		_ = l.v.BindEnv(args...)
	}
}

// setDefaults configures default values.
func (l *Loader) setDefaults() {
	// Log defaults
	l.v.SetDefault("log.level", "info")
	l.v.SetDefault("log.format", "auto")
	l.v.SetDefault("log.add_source", false)

	// Store defaults
	l.v.SetDefault("store.url", "redis://localhost:6379")
	l.v.SetDefault("store.dial_timeout", "5s")
	l.v.SetDefault("store.op_timeout", "5s")

	// Forge defaults
	l.v.SetDefault("forge.base_branch", "main")
	l.v.SetDefault("forge.media_branch", "walker-media")

	// LLM defaults
	l.v.SetDefault("llm.model", "claude-sonnet-4-20250514")
	l.v.SetDefault("llm.max_tokens", 1024)

	// Editing agent defaults
	l.v.SetDefault("agent.path", "claude")
	l.v.SetDefault("agent.timeout", "30m")

	// Worker defaults
	l.v.SetDefault("worker.concurrency", 2)
	l.v.SetDefault("worker.work_dir", "workdir")
	l.v.SetDefault("worker.queue", "walker-tasks")
	l.v.SetDefault("worker.invitation_interval", "5m")

	// Dev server defaults
	l.v.SetDefault("devserver.ports", []int{3001, 3002, 4000, 5000, 8080, 8081})
	l.v.SetDefault("devserver.install_timeout", "3m")
	l.v.SetDefault("devserver.ready_timeout", "2m")

	// Costs defaults
	l.v.SetDefault("costs.default_model", "claude-sonnet-4-20250514")
	l.v.SetDefault("costs.warn_per_task", 10.0)

	// State defaults
	l.v.SetDefault("state.archive_path", ".walker/tasks.db")
	l.v.SetDefault("state.report_dir", ".walker/reports")

	// API defaults
	l.v.SetDefault("api.addr", ":8090")
}

// ConfigFile returns the config file path if one was used.
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}

// Get returns a configuration value by key.
func (l *Loader) Get(key string) interface{} {
	return l.v.Get(key)
}

// Set sets a configuration value.
func (l *Loader) Set(key string, value interface{}) {
	l.v.Set(key, value)
}

// IsSet checks if a key has been set.
func (l *Loader) IsSet(key string) bool {
	return l.v.IsSet(key)
}

// AllSettings returns all settings as a map.
func (l *Loader) AllSettings() map[string]interface{} {
	return l.v.AllSettings()
}
