package main

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"relaybot/internal/adapter/ipc"
	slackadapter "relaybot/internal/adapter/slack"
	"relaybot/internal/adapter/webhook"
	"relaybot/internal/infra/config"
)

func newWebServer(cfg *config.Config, log *slog.Logger) *webhook.Server {
	return webhook.NewServer(cfg.Web,
		slackadapter.NewVerifier(cfg.Slack.SigningSecret),
		ipc.NewSender(cfg.IPC, log),
		log,
	)
}

func runWeb(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	if missing := cfg.MissingCredentials(config.RoleWeb); len(missing) > 0 {
		log.Warn("web credentials missing, every event will be rejected", "missing", missing)
	}
	return newWebServer(cfg, log).Serve(ctx)
}

// runAll runs both roles in one process. The first to fail stops the other.
func runAll(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return runWorker(ctx, cfg, log.With("component", config.RoleWorker)) })
	g.Go(func() error { return runWeb(ctx, cfg, log.With("component", config.RoleWeb)) })
	return g.Wait()
}
