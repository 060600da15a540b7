package config

import (
	"strings"
	"testing"
)

func assertContains(t *testing.T, s, substr string) {
	t.Helper()
	if !strings.Contains(s, substr) {
		t.Errorf("expected %q to contain %q", s, substr)
	}
}

func TestValidateDefaultsPass(t *testing.T) {
	cfg := Defaults()
	if err := Validate(cfg); err != nil {
		t.Fatalf("Defaults should pass validation: %v", err)
	}
}

func TestValidateIPCEndpoint(t *testing.T) {
	cfg := Defaults()
	cfg.IPC.Endpoint = "localhost"
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	assertContains(t, err.Error(), "ipc.endpoint")
}

func TestValidateIPCMaxMessageBytes(t *testing.T) {
	cfg := Defaults()
	cfg.IPC.MaxMessageBytes = 0
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	assertContains(t, err.Error(), "ipc.max_message_bytes must be > 0")
}

func TestValidateWebRateLimit(t *testing.T) {
	cfg := Defaults()
	cfg.Web.RateLimit.Burst = 0
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	assertContains(t, err.Error(), "web.rate_limit")

	cfg.Web.RateLimit.Enabled = false
	if err := Validate(cfg); err != nil {
		t.Errorf("disabled rate limit should not be checked: %v", err)
	}
}

func TestValidateLLMBaseURL(t *testing.T) {
	cfg := Defaults()
	cfg.LLM.BaseURL = "api.openai.com"
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	assertContains(t, err.Error(), "llm.base_url")
}

func TestValidateReply(t *testing.T) {
	cfg := Defaults()
	cfg.Reply.UpdatePeriod = 0
	cfg.Reply.ImageDetail = "ultra"
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	assertContains(t, err.Error(), "reply.update_period must be > 0")
	assertContains(t, err.Error(), "reply.image_detail")
}

func TestValidateAccumulatesErrors(t *testing.T) {
	cfg := Defaults()
	cfg.LLM.Model = ""
	cfg.Logger.Format = "xml"
	cfg.Tracer.Enabled = true
	cfg.Tracer.Exporter = "jaeger"

	err := Validate(cfg)
	ve, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	if len(ve.Errors) != 3 {
		t.Errorf("got %d errors, want 3: %v", len(ve.Errors), ve.Errors)
	}
}

func TestMissingCredentials(t *testing.T) {
	cfg := Defaults()
	if got := cfg.MissingCredentials(RoleWeb); len(got) != 1 || got[0] != "slack.signing_secret" {
		t.Errorf("web missing = %v", got)
	}
	if got := cfg.MissingCredentials(RoleWorker); len(got) != 2 {
		t.Errorf("worker missing = %v", got)
	}

	cfg.Slack.BotToken = "xoxb"
	cfg.LLM.APIKey = "sk"
	if got := cfg.MissingCredentials(RoleWorker); len(got) != 0 {
		t.Errorf("worker missing = %v, want none", got)
	}
}

func TestValidateLoggerLevel(t *testing.T) {
	cfg := Defaults()
	cfg.Logger.Level = "DEBUG"
	if err := Validate(cfg); err != nil {
		t.Fatalf("uppercase level should be accepted: %v", err)
	}
	cfg.Logger.Level = "loud"
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error for unknown level")
	}
	assertContains(t, err.Error(), "logger.level")
}
