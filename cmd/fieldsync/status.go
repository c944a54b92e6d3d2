package main

import (
	"github.com/spf13/cobra"

	"fieldsync/internal/api"
	"fieldsync/internal/config"
)

func newStatusCmd(cfg *config.Config, structured func() bool) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue, network and cache status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cfg, func(client *api.Client) error {
				status, err := client.Status(cmd.Context())
				if err != nil {
					return err
				}
				if structured() {
					return writeFormatted(status)
				}
				return writeStatus(status)
			})
		},
	}
}
