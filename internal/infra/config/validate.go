package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
// Credentials are not required here; see MissingCredentials.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateIPC(cfg, ve)
	validateWeb(cfg, ve)
	validateLLM(cfg, ve)
	validateReply(cfg, ve)
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateIPC(cfg *Config, ve *ValidationError) {
	if _, _, err := net.SplitHostPort(cfg.IPC.ListenAddr); err != nil {
		ve.Add("ipc.listen_addr %q is not host:port", cfg.IPC.ListenAddr)
	}
	if _, _, err := net.SplitHostPort(cfg.IPC.Endpoint); err != nil {
		ve.Add("ipc.endpoint %q is not host:port", cfg.IPC.Endpoint)
	}
	if cfg.IPC.MaxMessageBytes <= 0 {
		ve.Add("ipc.max_message_bytes must be > 0")
	}
	if cfg.IPC.DialTimeout < 0 || cfg.IPC.HandshakeTimeout < 0 || cfg.IPC.ReadTimeout < 0 {
		ve.Add("ipc timeouts must be >= 0")
	}
	if cfg.IPC.ShutdownTimeout <= 0 {
		ve.Add("ipc.shutdown_timeout must be > 0")
	}
}

func validateWeb(cfg *Config, ve *ValidationError) {
	if _, _, err := net.SplitHostPort(cfg.Web.Addr); err != nil {
		ve.Add("web.addr %q is not host:port", cfg.Web.Addr)
	}
	if cfg.Web.MaxBodyBytes <= 0 {
		ve.Add("web.max_body_bytes must be > 0")
	}
	if rl := cfg.Web.RateLimit; rl.Enabled && (rl.RequestsPerMinute <= 0 || rl.Burst <= 0) {
		ve.Add("web.rate_limit requests_per_minute and burst must be > 0 when enabled")
	}
}

func validateLLM(cfg *Config, ve *ValidationError) {
	if u, err := url.Parse(cfg.LLM.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		ve.Add("llm.base_url %q must be an absolute URL", cfg.LLM.BaseURL)
	}
	if cfg.LLM.Model == "" {
		ve.Add("llm.model must not be empty")
	}
	if cfg.LLM.MaxTokens <= 0 {
		ve.Add("llm.max_tokens must be > 0")
	}
}

var validImageDetails = map[string]bool{"auto": true, "low": true, "high": true}

func validateReply(cfg *Config, ve *ValidationError) {
	if cfg.Reply.UpdatePeriod <= 0 {
		ve.Add("reply.update_period must be > 0")
	}
	if cfg.Reply.MaxHistory <= 0 {
		ve.Add("reply.max_history must be > 0")
	}
	if cfg.Reply.Placeholder == "" {
		ve.Add("reply.placeholder must not be empty")
	}
	if !validImageDetails[cfg.Reply.ImageDetail] {
		ve.Add("reply.image_detail %q must be one of auto, low, high", cfg.Reply.ImageDetail)
	}
}

var validLogFormats = map[string]bool{"text": true, "json": true}

var validLogLevels = map[string]bool{"": true, "debug": true, "info": true, "warn": true, "warning": true, "error": true}

func validateLogger(cfg *Config, ve *ValidationError) {
	if !validLogLevels[strings.ToLower(cfg.Logger.Level)] {
		ve.Add("logger.level %q must be debug, info, warn or error", cfg.Logger.Level)
	}
	if !validLogFormats[cfg.Logger.Format] {
		ve.Add("logger.format %q must be text or json", cfg.Logger.Format)
	}
}

var validExporters = map[string]bool{"noop": true, "stdout": true}

func validateTracer(cfg *Config, ve *ValidationError) {
	if cfg.Tracer.Enabled && !validExporters[cfg.Tracer.Exporter] {
		ve.Add("tracer.exporter %q must be noop or stdout", cfg.Tracer.Exporter)
	}
}

// Process roles used by MissingCredentials.
const (
	RoleWeb    = "web"
	RoleWorker = "worker"
)

// MissingCredentials lists the credential fields role needs but cfg lacks.
func (cfg *Config) MissingCredentials(role string) []string {
	var missing []string
	if role == RoleWeb && cfg.Slack.SigningSecret == "" {
		missing = append(missing, "slack.signing_secret")
	}
	if role == RoleWorker {
		if cfg.Slack.BotToken == "" {
			missing = append(missing, "slack.bot_token")
		}
		if cfg.LLM.APIKey == "" {
			missing = append(missing, "llm.api_key")
		}
	}
	return missing
}
