package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"fieldsync/internal/api"
	"fieldsync/internal/config"
)

func newNetworkCmd(cfg *config.Config, structured func() bool) *cobra.Command {
	return &cobra.Command{
		Use:       "network <on|off>",
		Short:     "Override the observed connectivity state",
		Long:      "Override the observed connectivity state. Switching on drains the queue.",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			online, err := parseOnOff(args[0])
			if err != nil {
				return err
			}
			return withClient(cfg, func(client *api.Client) error {
				resp, err := client.SetNetwork(cmd.Context(), online)
				if err != nil {
					return err
				}
				if structured() {
					return writeFormatted(resp)
				}
				if resp.Online {
					return writePlain("online\n")
				}
				return writePlain("offline\n")
			})
		},
	}
}

func parseOnOff(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "on", "online", "true", "1":
		return true, nil
	case "off", "offline", "false", "0":
		return false, nil
	default:
		return false, fmt.Errorf("invalid network state %q: expected on or off", raw)
	}
}
