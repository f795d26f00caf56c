package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/petrijr/relay/internal/approval"
	"github.com/petrijr/relay/pkg/api"
)

var recoverOlderThan time.Duration

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "List drafts stuck in approved (claimed but never dispatched)",
	Long: `Lists drafts whose approval was recorded but whose dispatch never
reached a terminal status, usually because the process crashed between
the two writes. These drafts are reported for manual review; they are
never re-dispatched automatically, since the original send may or may
not have gone out.`,
	RunE: runRecover,
}

func init() {
	recoverCmd.Flags().DurationVar(&recoverOlderThan, "older-than", 10*time.Minute, "only report drafts approved at least this long ago")
	rootCmd.AddCommand(recoverCmd)
}

func runRecover(cmd *cobra.Command, args []string) error {
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

	// The controller is only consulted for Stalled here; dispatch
	// stays disabled.
	controller := approval.New(approval.Config{
		Drafts: stores.Drafts,
		Sender: api.SenderFunc(func(ctx context.Context, text string) error {
			return api.NonRetryable(fmt.Errorf("dispatch disabled in recover"))
		}),
		Logger: logger,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stalled, err := controller.Stalled(ctx, recoverOlderThan)
	if err != nil {
		return err
	}
	if len(stalled) == 0 {
		fmt.Println("no stalled drafts")
		return nil
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	for _, d := range stalled {
		if err := enc.Encode(d); err != nil {
			return err
		}
	}
	fmt.Fprintf(os.Stderr, "%d stalled draft(s); resolve via the edit/approve API after confirming whether the message went out\n", len(stalled))
	return nil
}
