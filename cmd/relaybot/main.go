package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"relaybot/internal/infra/config"
	"relaybot/internal/infra/logger"
	"relaybot/internal/infra/tracer"
)

const roleAll = "all"

func main() {
	if len(os.Args) < 2 {
		showUsage()
		os.Exit(2)
	}

	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "--help", "-h", "help":
		showUsage()
		return
	}

	opts, err := parseFlags(cmd, args)
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", cmd, err)
		os.Exit(2)
	}

	switch cmd {
	case "web":
		err = serve(config.RoleWeb, opts, runWeb)
	case "worker":
		err = serve(config.RoleWorker, opts, runWorker)
	case "all":
		err = serve(roleAll, opts, runAll)
	case "doctor":
		if err := runDoctor(opts); err != nil {
			fmt.Fprintf(os.Stderr, "doctor: %v\n", err)
			os.Exit(1)
		}
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\nRun 'relaybot --help' for usage information.\n", cmd)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`relaybot - Slack reply relay backed by a streaming completion API

USAGE:
    relaybot COMMAND [FLAGS]

COMMANDS:
    web         Serve the Slack Events API webhook and relay events to the worker
    worker      Receive relayed events and stream replies into Slack
    all         Run web and worker in one process (local development)
    doctor      Check configuration, credentials and worker reachability

FLAGS:
    --config PATH      Config file path (default: $RELAYBOT_CONFIG or ./relaybot.yaml)
    --log-level LEVEL  Override logger.level (debug, info, warn, error)

CONFIGURATION:
    Environment: RELAYBOT_* variables override the config file.
    SLACK_CLIENT_TOKEN, SLACK_SIGNING_SECRET and OPENAI_API_KEY are also read.`)
}

// cliOptions holds the flags shared by every command.
type cliOptions struct {
	ConfigPath string
	LogLevel   string
}

func parseFlags(cmd string, args []string) (cliOptions, error) {
	var opts cliOptions
	fs := pflag.NewFlagSet("relaybot "+cmd, pflag.ContinueOnError)
	fs.StringVar(&opts.ConfigPath, "config", defaultConfigPath(), "config file path")
	fs.StringVar(&opts.LogLevel, "log-level", "", "override logger.level")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if fs.NArg() > 0 {
		return opts, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return opts, nil
}

func defaultConfigPath() string {
	if p := os.Getenv("RELAYBOT_CONFIG"); p != "" {
		return p
	}
	return "relaybot.yaml"
}

// loadConfig reads the config file and applies the --log-level override.
func loadConfig(opts cliOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if opts.LogLevel != "" {
		cfg.Logger.Level = opts.LogLevel
		if err := config.Validate(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

type runFunc func(ctx context.Context, cfg *config.Config, log *slog.Logger) error

// serve loads config, sets up logging and tracing for role, and runs fn
// until SIGINT or SIGTERM.
func serve(role string, opts cliOptions, fn runFunc) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logCloser, err := logger.New(cfg.Logger, role)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	ctx := context.Background()
	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer, role)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer tracerShutdown(ctx)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("relaybot starting", "role", role, "config", opts.ConfigPath)
	return fn(ctx, cfg, log)
}
