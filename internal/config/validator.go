package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation: %s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors collects multiple validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator validates configuration.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new validator.
func NewValidator() *Validator {
	return &Validator{
		errors: make(ValidationErrors, 0),
	}
}

// Validate validates the entire configuration.
func (v *Validator) Validate(cfg *Config) error {
	v.validateLog(&cfg.Log)
	v.validateStore(&cfg.Store)
	v.validateChat(&cfg.Chat)
	v.validateForge(&cfg.Forge)
	v.validateLLM(&cfg.LLM)
	v.validateAgent(&cfg.Agent)
	v.validateWorker(&cfg.Worker)
	v.validateDevServer(&cfg.DevServer)
	v.validateCosts(&cfg.Costs)
	v.validateState(&cfg.State)
	v.validateAPI(&cfg.API)
	v.validateDogs(cfg)

	if len(v.errors) > 0 {
		return v.errors
	}
	return nil
}

// Errors returns the collected validation errors.
func (v *Validator) Errors() ValidationErrors {
	return v.errors
}

func (v *Validator) addError(field string, value interface{}, msg string) {
	v.errors = append(v.errors, ValidationError{
		Field:   field,
		Value:   value,
		Message: msg,
	})
}

func (v *Validator) validateLog(cfg *LogConfig) {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[cfg.Level] {
		v.addError("log.level", cfg.Level, "must be one of: debug, info, warn, error")
	}

	validFormats := map[string]bool{
		"auto": true, "text": true, "json": true,
	}
	if !validFormats[cfg.Format] {
		v.addError("log.format", cfg.Format, "must be one of: auto, text, json")
	}
}

func (v *Validator) validateStore(cfg *StoreConfig) {
	if cfg.URL == "" {
		v.addError("store.url", cfg.URL, "store URL required")
	} else if u, err := url.Parse(cfg.URL); err != nil || (u.Scheme != "redis" && u.Scheme != "rediss") {
		v.addError("store.url", cfg.URL, "must be a redis:// or rediss:// URL")
	}

	v.validateDuration("store.dial_timeout", cfg.DialTimeout)
	v.validateDuration("store.op_timeout", cfg.OpTimeout)
}

func (v *Validator) validateChat(cfg *ChatConfig) {
	if cfg.BotToken == "" {
		v.addError("chat.bot_token", "", "bot token required")
	}
	if cfg.AppToken == "" {
		v.addError("chat.app_token", "", "app token required for socket mode")
	}
}

func (v *Validator) validateForge(cfg *ForgeConfig) {
	if cfg.Repo == "" {
		v.addError("forge.repo", cfg.Repo, "repository required")
	} else if parts := strings.Split(cfg.Repo, "/"); len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		v.addError("forge.repo", cfg.Repo, "must be owner/repo")
	}

	if cfg.BaseBranch == "" {
		v.addError("forge.base_branch", cfg.BaseBranch, "base branch required")
	}
	if cfg.MediaBranch == "" {
		v.addError("forge.media_branch", cfg.MediaBranch, "media branch required")
	}
	if cfg.MediaBranch != "" && cfg.MediaBranch == cfg.BaseBranch {
		v.addError("forge.media_branch", cfg.MediaBranch, "must differ from base branch")
	}
}

func (v *Validator) validateLLM(cfg *LLMConfig) {
	if cfg.APIKey == "" {
		v.addError("llm.api_key", "", "API key required")
	}
	if cfg.Model == "" {
		v.addError("llm.model", cfg.Model, "model required")
	}
	if cfg.MaxTokens <= 0 || cfg.MaxTokens > 200000 {
		v.addError("llm.max_tokens", cfg.MaxTokens, "must be between 1 and 200000")
	}
}

func (v *Validator) validateAgent(cfg *AgentConfig) {
	if cfg.Path == "" {
		v.addError("agent.path", cfg.Path, "agent binary path required")
	}
	v.validateDuration("agent.timeout", cfg.Timeout)
}

func (v *Validator) validateWorker(cfg *WorkerConfig) {
	if cfg.Concurrency < 1 || cfg.Concurrency > 64 {
		v.addError("worker.concurrency", cfg.Concurrency, "must be between 1 and 64")
	}
	if cfg.WorkDir == "" {
		v.addError("worker.work_dir", cfg.WorkDir, "work directory required")
	}
	if cfg.Queue == "" {
		v.addError("worker.queue", cfg.Queue, "queue name required")
	}
	v.validateDuration("worker.invitation_interval", cfg.InvitationInterval)
}

func (v *Validator) validateDevServer(cfg *DevServerConfig) {
	if len(cfg.Ports) == 0 {
		v.addError("devserver.ports", cfg.Ports, "at least one candidate port required")
	}
	seen := make(map[int]bool)
	for _, port := range cfg.Ports {
		if port < 1024 || port > 65535 {
			v.addError("devserver.ports", port, "ports must be between 1024 and 65535")
		}
		if seen[port] {
			v.addError("devserver.ports", port, "duplicate port")
		}
		seen[port] = true
	}
	v.validateDuration("devserver.install_timeout", cfg.InstallTimeout)
	v.validateDuration("devserver.ready_timeout", cfg.ReadyTimeout)
}

func (v *Validator) validateCosts(cfg *CostsConfig) {
	if cfg.DefaultModel == "" {
		v.addError("costs.default_model", cfg.DefaultModel, "default model required")
	}
	if cfg.WarnPerTask < 0 {
		v.addError("costs.warn_per_task", cfg.WarnPerTask, "must be non-negative")
	}
}

func (v *Validator) validateState(cfg *StateConfig) {
	if cfg.ArchivePath == "" {
		v.addError("state.archive_path", cfg.ArchivePath, "archive path required")
	}
	if cfg.ReportDir == "" {
		v.addError("state.report_dir", cfg.ReportDir, "report directory required")
	}
}

func (v *Validator) validateAPI(cfg *APIConfig) {
	if cfg.Addr == "" {
		v.addError("api.addr", cfg.Addr, "listen address required")
	}
}

func (v *Validator) validateDogs(cfg *Config) {
	if err := cfg.Dogs.Validate(); err != nil {
		v.addError("dogs", len(cfg.Dogs), err.Error())
	}
}

func (v *Validator) validateDuration(field, value string) {
	if _, err := time.ParseDuration(value); err != nil {
		v.addError(field, value, "invalid duration format")
	}
}

// ValidateConfig is a convenience function that creates a validator and validates config.
func ValidateConfig(cfg *Config) error {
	v := NewValidator()
	return v.Validate(cfg)
}
