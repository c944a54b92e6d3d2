package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"fieldsync/internal/api"
	"fieldsync/internal/config"
)

func newCacheCmd(cfg *config.Config, structured func() bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage locally cached images",
	}

	cmd.AddCommand(
		newCachePutCmd(cfg, structured),
		newCacheListCmd(cfg, structured),
		newCacheEvictCmd(cfg, structured),
	)
	return cmd
}

func newCachePutCmd(cfg *config.Config, structured func() bool) *cobra.Command {
	var (
		name        string
		contentType string
		meta        []string
	)

	cmd := &cobra.Command{
		Use:   "put <path>",
		Short: "Cache an image for a later photo upload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if name == "" {
				name = filepath.Base(path)
			}
			metadata, err := parseMetaFlags(meta)
			if err != nil {
				return err
			}

			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()

			return withClient(cfg, func(client *api.Client) error {
				resp, err := client.CacheImage(cmd.Context(), name, f, contentType, metadata)
				if err != nil {
					return err
				}
				if structured() {
					return writeFormatted(resp)
				}
				return writePlain("cached %s (%d bytes)\n", resp.Name, resp.Size)
			})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "cache name (defaults to the file name)")
	cmd.Flags().StringVar(&contentType, "content-type", "", "content type (detected when empty)")
	cmd.Flags().StringArrayVar(&meta, "meta", nil, "metadata key=value")
	return cmd
}

func newCacheListCmd(cfg *config.Config, structured func() bool) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List cached images",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cfg, func(client *api.Client) error {
				entries, err := client.ListCache(cmd.Context())
				if err != nil {
					return err
				}
				if structured() {
					return writeFormatted(entries)
				}
				return writeCacheList(entries)
			})
		},
	}
}

func newCacheEvictCmd(cfg *config.Config, structured func() bool) *cobra.Command {
	var ratio float64

	cmd := &cobra.Command{
		Use:   "evict",
		Short: "Evict the least recently used share of cached images",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if ratio <= 0 || ratio > 1 {
				return fmt.Errorf("--ratio must be in (0, 1]")
			}
			return withClient(cfg, func(client *api.Client) error {
				resp, err := client.EvictCache(cmd.Context(), ratio)
				if err != nil {
					return err
				}
				if structured() {
					return writeFormatted(resp)
				}
				return writePlain("evicted %d entries\n", resp.Evicted)
			})
		},
	}

	cmd.Flags().Float64Var(&ratio, "ratio", config.DefaultEvictRatio, "share of entries to evict")
	return cmd
}

func parseMetaFlags(values []string) (map[string]string, error) {
	if len(values) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(values))
	for _, value := range values {
		key, val, ok := strings.Cut(value, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --meta %q: expected key=value", value)
		}
		out[key] = val
	}
	return out, nil
}
