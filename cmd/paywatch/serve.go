package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/use-agent/paywatch/api"
	"github.com/use-agent/paywatch/config"
	"github.com/use-agent/paywatch/notify"
	"github.com/use-agent/paywatch/webhook"
	"golang.org/x/sync/errgroup"
)

// serve runs the scheduler, the HTTP API and the bot until ctx ends or one
// of them fails.
func serve(ctx context.Context, cfg *config.Config) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	slog.Info("paywatch starting",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"sites", describeSites(a.sites),
		"interval", cfg.Schedule.Interval,
	)

	var bot *notify.Bot
	if cfg.Telegram.Token != "" {
		bot = notify.NewBot(notify.NewClient(cfg.Telegram), a.results, a.shots, cfg.Telegram.AdminID)
		a.coord.OnBatch(bot.NotifyBatch)
	} else {
		slog.Warn("TELEGRAM_BOT_TOKEN is not set, bot disabled")
	}

	var hook *webhook.Notifier
	if cfg.Webhook.URL != "" {
		hook = webhook.New(cfg.Webhook)
		a.coord.OnBatch(hook.BatchCompleted)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.scheduler.Start(gctx)
	})

	g.Go(func() error {
		router := api.NewRouter(gctx, cfg, a.results, a.shots, a.scheduler, a.store, time.Now())
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		srv := &http.Server{Addr: addr, Handler: router}

		errCh := make(chan error, 1)
		go func() {
			slog.Info("HTTP server listening", "addr", addr)
			errCh <- srv.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("http server: %w", err)
		case <-gctx.Done():
		}

		// Give in-flight requests 5 seconds to complete.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP server forced shutdown", "error", err)
		} else {
			slog.Info("HTTP server drained gracefully")
		}
		return nil
	})

	if bot != nil {
		g.Go(func() error {
			return bot.Run(gctx)
		})
	}

	err = g.Wait()
	if hook != nil {
		hook.Wait()
	}
	slog.Info("paywatch stopped")
	return err
}
