package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"fieldsync/internal/api"
	"fieldsync/internal/config"
)

func newFailedCmd(cfg *config.Config, structured func() bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "failed",
		Short: "Inspect operations that will not be retried",
	}

	cmd.AddCommand(newFailedListCmd(cfg, structured), newFailedClearCmd(cfg, structured))
	return cmd
}

func newFailedListCmd(cfg *config.Config, structured func() bool) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List permanently failed operations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit < 0 {
				return fmt.Errorf("--limit must be >= 0")
			}
			return withClient(cfg, func(client *api.Client) error {
				failed, err := client.ListFailed(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if structured() {
					return writeFormatted(failed)
				}
				return writeFailedList(failed)
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "max reports to show (server default when 0)")
	return cmd
}

func newFailedClearCmd(cfg *config.Config, structured func() bool) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Drop every failed operation report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cfg, func(client *api.Client) error {
				resp, err := client.ClearFailed(cmd.Context())
				if err != nil {
					return err
				}
				if structured() {
					return writeFormatted(resp)
				}
				return writePlain("cleared %d failed operations\n", resp.Cleared)
			})
		},
	}
}
