package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"fieldsync/internal/config"
	"fieldsync/internal/format"
)

const (
	outputText = "text"
)

func newRootCmd(cfg *config.Config) *cobra.Command {
	var (
		outputFormat string
		logLevel     string
		logCloser    io.Closer
	)

	cmd := &cobra.Command{
		Use:           "fieldsync",
		Short:         "Fieldsync queues field inspection changes offline and syncs them when the network returns",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if outputFormat != outputText {
				formatter, err := format.ForName(outputFormat)
				if err != nil {
					return err
				}
				outputFormatter = formatter
			}

			logCloser = configureLogFile(cfg)
			warning, err := configureLoggerForCLI(logLevel, cfg.LogLevel)
			if err != nil {
				return err
			}
			if warning != "" {
				fmt.Fprintln(os.Stderr, warning)
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logCloser != nil {
				_ = logCloser.Close()
			}
		},
	}

	cmd.Version = version
	cmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", outputText, "output format: text, json or yaml")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn or error")

	structured := func() bool { return outputFormat != outputText }

	cmd.AddCommand(
		newSrvCmd(cfg),
		newEnqueueCmd(cfg, structured),
		newCacheCmd(cfg, structured),
		newStatusCmd(cfg, structured),
		newSyncCmd(cfg, structured),
		newNetworkCmd(cfg, structured),
		newFailedCmd(cfg, structured),
		newConfigCmd(cfg),
	)

	return cmd
}
