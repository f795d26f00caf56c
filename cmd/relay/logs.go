package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var logsCmd = &cobra.Command{
	Use:   "logs <workflow> <run-id>",
	Short: "Print the structured log of one workflow run",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		stores, closeStores, err := openStores(cfg)
		if err != nil {
			return fmt.Errorf("open stores: %w", err)
		}
		defer closeStores()

		records, err := stores.RunLogs.Read(args[0], args[1])
		if err != nil {
			return err
		}
		if len(records) == 0 {
			return fmt.Errorf("no log records for %s/%s", args[0], args[1])
		}
		for _, rec := range records {
			if err := printJSON(rec); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(logsCmd)
}
