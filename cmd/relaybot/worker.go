package main

import (
	"context"
	"fmt"
	"log/slog"

	"relaybot/internal/adapter/ipc"
	"relaybot/internal/adapter/llm"
	slackadapter "relaybot/internal/adapter/slack"
	"relaybot/internal/domain"
	"relaybot/internal/infra/config"
	"relaybot/internal/usecase"
	"relaybot/internal/usecase/tasks"
)

// worker owns the IPC receiver and the tasks it spawns.
type worker struct {
	cfg      config.IPCConfig
	registry *tasks.Registry
	receiver *ipc.Receiver
	logger   *slog.Logger
}

// newWorker wires the reply pipeline behind an IPC receiver. chat and
// streamer are the outbound surfaces; tests substitute fakes.
func newWorker(cfg *config.Config, chat domain.ChatSurface, streamer domain.CompletionStreamer, log *slog.Logger) *worker {
	builder := usecase.NewConversationBuilder(chat, usecase.ConversationOptions{
		SystemPrompt: cfg.Reply.SystemPrompt,
		Placeholder:  cfg.Reply.Placeholder,
		MaxHistory:   cfg.Reply.MaxHistory,
		ImageDetail:  cfg.Reply.ImageDetail,
	}, log)
	replier := usecase.NewReplier(streamer, chat, cfg.Reply.UpdatePeriod, log)
	dispatcher := usecase.NewDispatcher(chat, builder, replier, usecase.DispatcherOptions{
		Placeholder: cfg.Reply.Placeholder,
		ErrorNotice: cfg.Reply.ErrorNotice,
	}, log)

	mux := ipc.NewMux(log)
	mux.Handle(domain.EventTypeCallback, dispatcher)

	registry := tasks.New(log)
	return &worker{
		cfg:      cfg.IPC,
		registry: registry,
		receiver: ipc.NewReceiver(cfg.IPC, registry, mux, log),
		logger:   log,
	}
}

// run binds, serves until ctx is done, then quiesces: no new connections,
// no new tasks, and in-flight tasks get the shutdown timeout to finish.
func (w *worker) run(ctx context.Context) error {
	if err := w.receiver.Bind(w.cfg.ListenAddr); err != nil {
		return err
	}
	serveErr := w.receiver.Serve(ctx)

	w.receiver.Close()
	w.registry.Close()
	outstanding := w.registry.Outstanding()
	w.logger.Info("worker draining", "outstanding", outstanding, "timeout", w.cfg.ShutdownTimeout)

	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.ShutdownTimeout)
	defer cancel()
	if err := w.registry.Drain(dctx); err != nil {
		w.logger.Warn("drain timed out, cancelled remaining tasks", "remaining", w.registry.Outstanding())
		if serveErr == nil {
			serveErr = fmt.Errorf("drain: %w", err)
		}
	} else {
		w.logger.Info("quiesced")
	}
	return serveErr
}

func newStreamer(cfg config.LLMConfig, log *slog.Logger) domain.CompletionStreamer {
	var streamer domain.CompletionStreamer = llm.NewOpenAIClient(cfg, log)
	if cfg.Breaker.Enabled {
		streamer = llm.NewBreakerStreamer(streamer, cfg.Breaker, log)
	}
	return streamer
}

func runWorker(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	if missing := cfg.MissingCredentials(config.RoleWorker); len(missing) > 0 {
		log.Warn("worker credentials missing, replies will fail", "missing", missing)
	}
	chat := slackadapter.NewClient(cfg.Slack.BotToken, log,
		slackadapter.WithAPIURL(cfg.Slack.APIURL),
		slackadapter.WithMaxDownloadBytes(cfg.Slack.MaxDownloadBytes),
	)
	return newWorker(cfg, chat, newStreamer(cfg.LLM, log), log).run(ctx)
}
