package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/petrijr/relay/pkg/api"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Inspect and edit per-workflow key/value state",
}

var stateGetCmd = &cobra.Command{
	Use:   "get <workflow> <key>",
	Short: "Print one state value as JSON",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withState(func(ctx context.Context, st api.StateStore) error {
			val, ok, err := st.Get(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no value for %s/%s", args[0], args[1])
			}
			return printJSON(val)
		})
	},
}

var stateSetCmd = &cobra.Command{
	Use:   "set <workflow> <key> <value>",
	Short: "Set one state value (value parsed as JSON, else stored as a string)",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withState(func(ctx context.Context, st api.StateStore) error {
			var val any
			if err := json.Unmarshal([]byte(args[2]), &val); err != nil {
				val = args[2]
			}
			return st.Set(ctx, args[0], args[1], val)
		})
	},
}

var stateAllCmd = &cobra.Command{
	Use:   "all <workflow>",
	Short: "Print a workflow's full state document as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withState(func(ctx context.Context, st api.StateStore) error {
			doc, err := st.All(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(doc)
		})
	},
}

func init() {
	stateCmd.AddCommand(stateGetCmd, stateSetCmd, stateAllCmd)
	rootCmd.AddCommand(stateCmd)
}

func withState(fn func(context.Context, api.StateStore) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	stores, closeStores, err := openStores(cfg)
	if err != nil {
		return fmt.Errorf("open stores: %w", err)
	}
	defer closeStores()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return fn(ctx, stores.State)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
