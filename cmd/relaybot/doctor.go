package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"relaybot/internal/adapter/ipc"
	"relaybot/internal/infra/config"
	"relaybot/internal/infra/logger"
)

// CheckStatus represents the result of a health check.
type CheckStatus string

const (
	StatusPass CheckStatus = "PASS"
	StatusWarn CheckStatus = "WARN"
	StatusFail CheckStatus = "FAIL"
)

// CheckResult holds the outcome of a single health check.
type CheckResult struct {
	Name    string
	Status  CheckStatus
	Message string
	Fix     string // optional fix suggestion
}

// Check is a named health check function.
type Check struct {
	Name string
	Fn   func(cfg *config.Config) CheckResult
}

const probeTimeout = 5 * time.Second

// runDoctor executes all health checks and reports results.
func runDoctor(opts cliOptions) error {
	cfg, cfgErr := loadConfig(opts)

	checks := []Check{
		{Name: "Config file", Fn: checkConfigFile(opts.ConfigPath, cfgErr)},
		{Name: "Web credentials", Fn: checkCredentials(config.RoleWeb)},
		{Name: "Worker credentials", Fn: checkCredentials(config.RoleWorker)},
		{Name: "LLM endpoint", Fn: checkLLMEndpoint},
		{Name: "Worker reachable", Fn: checkWorkerReachable},
	}

	fmt.Println("relaybot doctor")
	fmt.Println(strings.Repeat("=", 50))
	fmt.Println()

	var pass, warn, fail int
	for _, check := range checks {
		result := check.Fn(cfg)
		result.Name = check.Name

		fmt.Printf("  %s %s: %s\n", statusIcon(result.Status), result.Name, result.Message)
		if result.Fix != "" {
			fmt.Printf("      Fix: %s\n", result.Fix)
		}

		switch result.Status {
		case StatusPass:
			pass++
		case StatusWarn:
			warn++
		case StatusFail:
			fail++
		}
	}

	fmt.Println()
	fmt.Println(strings.Repeat("-", 50))
	fmt.Printf("Results: %d passed, %d warnings, %d failed\n", pass, warn, fail)

	if fail > 0 {
		return fmt.Errorf("%d check(s) failed", fail)
	}
	return nil
}

func statusIcon(s CheckStatus) string {
	switch s {
	case StatusPass:
		return "[PASS]"
	case StatusWarn:
		return "[WARN]"
	case StatusFail:
		return "[FAIL]"
	default:
		return "[????]"
	}
}

// checkConfigFile reports whether the config file exists and loaded. A
// missing file is only a warning: defaults and environment still apply.
func checkConfigFile(cfgPath string, cfgErr error) func(*config.Config) CheckResult {
	return func(_ *config.Config) CheckResult {
		if cfgErr != nil {
			var ve *config.ValidationError
			if errors.As(cfgErr, &ve) {
				return CheckResult{
					Status:  StatusFail,
					Message: fmt.Sprintf("invalid: %s", strings.Join(ve.Errors, "; ")),
					Fix:     "Correct the listed fields in " + cfgPath,
				}
			}
			return CheckResult{
				Status:  StatusFail,
				Message: cfgErr.Error(),
				Fix:     "Check YAML syntax and file permissions (not group/world writable)",
			}
		}
		if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
			return CheckResult{
				Status:  StatusWarn,
				Message: fmt.Sprintf("%s not found, using defaults and environment", cfgPath),
			}
		}
		return CheckResult{Status: StatusPass, Message: cfgPath}
	}
}

func checkCredentials(role string) func(*config.Config) CheckResult {
	return func(cfg *config.Config) CheckResult {
		if cfg == nil {
			return CheckResult{Status: StatusFail, Message: "config not loaded"}
		}
		missing := cfg.MissingCredentials(role)
		if len(missing) == 0 {
			return CheckResult{Status: StatusPass, Message: "present"}
		}
		return CheckResult{
			Status:  StatusFail,
			Message: "missing " + strings.Join(missing, ", "),
			Fix:     "Set them in the config file or via RELAYBOT_* / SLACK_* / OPENAI_API_KEY",
		}
	}
}

func checkLLMEndpoint(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: "config not loaded"}
	}
	u, err := url.Parse(cfg.LLM.BaseURL)
	if err != nil || u.Host == "" {
		return CheckResult{Status: StatusFail, Message: fmt.Sprintf("invalid base_url %q", cfg.LLM.BaseURL)}
	}
	if u.Scheme != "https" {
		return CheckResult{Status: StatusWarn, Message: fmt.Sprintf("%s is not https", cfg.LLM.BaseURL)}
	}
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("%s (model %s)", cfg.LLM.BaseURL, cfg.LLM.Model)}
}

// checkWorkerReachable dials the IPC endpoint and completes the handshake
// without sending a message.
func checkWorkerReachable(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: "config not loaded"}
	}
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	sender := ipc.NewSender(cfg.IPC, logger.Discard())
	if err := sender.Probe(ctx); err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("%s: %v", cfg.IPC.Endpoint, err),
			Fix:     "Start 'relaybot worker' and check ipc.endpoint matches its ipc.listen_addr",
		}
	}
	return CheckResult{Status: StatusPass, Message: cfg.IPC.Endpoint}
}
