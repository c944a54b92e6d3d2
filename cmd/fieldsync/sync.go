package main

import (
	"github.com/spf13/cobra"

	"fieldsync/internal/api"
	"fieldsync/internal/config"
)

func newSyncCmd(cfg *config.Config, structured func() bool) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run a sync pass now",
		Long:  "Run a sync pass now. Joins the pass already in flight, if any. Fails when the device is offline.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cfg, func(client *api.Client) error {
				result, err := client.Sync(cmd.Context())
				if err != nil {
					return err
				}
				if structured() {
					return writeFormatted(result)
				}
				return writePassResult(result)
			})
		},
	}
}
