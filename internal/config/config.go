package config

import (
	"github.com/bryanowens-dev/walker/internal/core"
)

// Config holds all application configuration. Loaded once at startup
// and treated as immutable afterwards.
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Store     StoreConfig     `mapstructure:"store"`
	Chat      ChatConfig      `mapstructure:"chat"`
	Forge     ForgeConfig     `mapstructure:"forge"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Agent     AgentConfig     `mapstructure:"agent"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	DevServer DevServerConfig `mapstructure:"devserver"`
	Costs     CostsConfig     `mapstructure:"costs"`
	State     StateConfig     `mapstructure:"state"`
	API       APIConfig       `mapstructure:"api"`
	Dogs      core.Roster     `mapstructure:"dogs"`
}

// LogConfig configures logging behavior.
type LogConfig struct {
	Level     string `mapstructure:"level"`
	Format    string `mapstructure:"format"`
	AddSource bool   `mapstructure:"add_source"`
}

// StoreConfig configures the coordination store connection.
type StoreConfig struct {
	URL         string `mapstructure:"url"`
	DialTimeout string `mapstructure:"dial_timeout"`
	OpTimeout   string `mapstructure:"op_timeout"`
}

// ChatConfig configures the chat platform connection.
type ChatConfig struct {
	BotToken string `mapstructure:"bot_token"`
	AppToken string `mapstructure:"app_token"`
	// ChannelID restricts intake to one channel when set.
	ChannelID string `mapstructure:"channel_id"`
}

// ForgeConfig configures the code-forge integration.
type ForgeConfig struct {
	// Repo is "owner/repo".
	Repo string `mapstructure:"repo"`
	// Token is used for orchestrator-side reads. Optional: falls back
	// to the first dog's credential.
	Token       string `mapstructure:"token"`
	BaseBranch  string `mapstructure:"base_branch"`
	MediaBranch string `mapstructure:"media_branch"`
}

// LLMConfig configures direct text-generation calls (titles, plans,
// PR summaries). The editing agent carries its own model setting.
type LLMConfig struct {
	APIKey    string `mapstructure:"api_key"`
	Model     string `mapstructure:"model"`
	MaxTokens int    `mapstructure:"max_tokens"`
}

// AgentConfig configures the external code-editing agent.
type AgentConfig struct {
	Path    string `mapstructure:"path"`
	Model   string `mapstructure:"model"`
	Timeout string `mapstructure:"timeout"`
}

// WorkerConfig configures the job runtime.
type WorkerConfig struct {
	// Concurrency is the number of pipelines one worker runs at once.
	Concurrency int `mapstructure:"concurrency"`
	// WorkDir is the root for per-task working directories.
	WorkDir string `mapstructure:"work_dir"`
	// Queue is the job stream name shared by intake and workers.
	Queue string `mapstructure:"queue"`
	// InvitationInterval is how often dogs check for pending repo
	// invitations.
	InvitationInterval string `mapstructure:"invitation_interval"`
}

// DevServerConfig configures frontend dev-server startup for visual
// diffing.
type DevServerConfig struct {
	Ports          []int  `mapstructure:"ports"`
	InstallTimeout string `mapstructure:"install_timeout"`
	ReadyTimeout   string `mapstructure:"ready_timeout"`
}

// CostsConfig configures the per-task cost ledger.
type CostsConfig struct {
	// DefaultModel prices unknown model ids.
	DefaultModel string `mapstructure:"default_model"`
	// WarnPerTask logs a warning when one task's total exceeds it.
	// Zero disables the warning.
	WarnPerTask float64 `mapstructure:"warn_per_task"`
}

// StateConfig configures local task history persistence.
type StateConfig struct {
	ArchivePath string `mapstructure:"archive_path"`
	ReportDir   string `mapstructure:"report_dir"`
}

// APIConfig configures the status API server.
type APIConfig struct {
	Addr string `mapstructure:"addr"`
}
