package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/petrijr/relay/internal/approval"
	"github.com/petrijr/relay/internal/config"
	"github.com/petrijr/relay/internal/dispatch"
	"github.com/petrijr/relay/internal/httpapi"
	"github.com/petrijr/relay/pkg/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the draft approval HTTP API",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg.Log.Level)

	stores, closeStores, err := openStores(cfg)
	if err != nil {
		return fmt.Errorf("open stores: %w", err)
	}
	defer closeStores()

	sender, testSender := buildSenders(cfg, logger)

	controller := approval.New(approval.Config{
		Drafts:     stores.Drafts,
		Sender:     sender,
		TestSender: testSender,
		Logger:     logger,
	})

	srv := httpapi.New(httpapi.Config{
		Controller: controller,
		Drafts:     stores.Drafts,
		State:      stores.State,
		Logger:     logger,
	})

	errc := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", cfg.Addr, "backend", cfg.Store.Backend)
		errc <- srv.Start(cfg.Addr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errc:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		logger.Info("server stopped")
	}
	return nil
}

// buildSenders wires the outbound dispatcher from config. Without a
// base URL, dispatch is disabled and approvals will land in
// send_failed, which keeps local setups honest about what went out.
func buildSenders(cfg *config.Config, logger *slog.Logger) (api.Sender, api.Sender) {
	if cfg.Sender.BaseURL == "" {
		logger.Warn("sender.base_url not configured, dispatch disabled")
		disabled := api.SenderFunc(func(ctx context.Context, text string) error {
			return api.NonRetryable(fmt.Errorf("no sender configured"))
		})
		return disabled, disabled
	}

	sender := &dispatch.HTTPSender{
		BaseURL:    cfg.Sender.BaseURL,
		Token:      cfg.Sender.Token,
		Recipients: cfg.Sender.Recipients,
	}

	testRecipient := cfg.Sender.TestRecipient
	if testRecipient == "" && len(cfg.Sender.Recipients) > 0 {
		testRecipient = cfg.Sender.Recipients[0]
	}
	testSender := &dispatch.HTTPSender{
		BaseURL:    cfg.Sender.BaseURL,
		Token:      cfg.Sender.Token,
		Recipients: []string{testRecipient},
	}
	return sender, testSender
}
