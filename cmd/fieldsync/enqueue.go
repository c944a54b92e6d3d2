package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"fieldsync/internal/api"
	"fieldsync/internal/config"
	"fieldsync/internal/models"
)

type enqueueOptions struct {
	target    string
	text      string
	priority  int
	fileName  string
	caption   string
	image     string
	fields    []string
	token     string
	manifest  string
	mediaType string
}

// operationManifest is the YAML document accepted by enqueue --file.
type operationManifest struct {
	Operations []manifestOperation `yaml:"operations"`
}

type manifestOperation struct {
	Type             string         `yaml:"type"`
	IdempotencyToken string         `yaml:"idempotency_token"`
	Payload          map[string]any `yaml:"payload"`
}

type enqueueResult struct {
	Type   string `json:"type"`
	ID     string `json:"id,omitempty"`
	Queued bool   `json:"queued"`
}

func newEnqueueCmd(cfg *config.Config, structured func() bool) *cobra.Command {
	opts := enqueueOptions{}

	cmd := &cobra.Command{
		Use:   "enqueue [type]",
		Short: "Queue an operation for delivery",
		Long: "Queue an operation for delivery. Types: " + strings.Join(models.OperationTypeStrings(), ", ") + ".\n" +
			"Use --file to queue every operation listed in a YAML manifest.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var requests []api.EnqueueRequest
			switch {
			case opts.manifest != "":
				if len(args) > 0 {
					return fmt.Errorf("type argument cannot be combined with --file")
				}
				loaded, err := loadManifest(opts.manifest)
				if err != nil {
					return err
				}
				requests = loaded
			case len(args) == 1:
				req, err := buildEnqueueRequest(args[0], opts)
				if err != nil {
					return err
				}
				requests = []api.EnqueueRequest{req}
			default:
				return fmt.Errorf("operation type or --file is required")
			}

			return withClient(cfg, func(client *api.Client) error {
				if opts.image != "" {
					if err := uploadImage(cmd, client, opts); err != nil {
						return err
					}
				}

				results := make([]enqueueResult, 0, len(requests))
				for _, req := range requests {
					resp, err := client.Enqueue(cmd.Context(), req)
					if err != nil {
						return fmt.Errorf("enqueue %s: %w", req.Type, err)
					}
					results = append(results, enqueueResult{Type: req.Type, ID: resp.ID, Queued: resp.Queued})
				}

				if structured() {
					return writeFormatted(results)
				}
				for _, r := range results {
					if r.Queued {
						_ = writePlain("queued %s %s\n", r.Type, r.ID)
					} else {
						_ = writePlain("skipped duplicate %s\n", r.Type)
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&opts.target, "target", "", "target record id")
	cmd.Flags().StringVar(&opts.text, "text", "", "remark text (remark_create)")
	cmd.Flags().IntVarP(&opts.priority, "priority", "p", models.DefaultPriority, "remark priority 0-4 (remark_create)")
	cmd.Flags().StringVar(&opts.fileName, "file-name", "", "cached image name (photo_upload)")
	cmd.Flags().StringVar(&opts.caption, "caption", "", "photo caption (photo_upload)")
	cmd.Flags().StringVar(&opts.image, "image", "", "local image to cache before queueing (photo_upload)")
	cmd.Flags().StringVar(&opts.mediaType, "content-type", "", "content type of --image")
	cmd.Flags().StringArrayVar(&opts.fields, "set", nil, "field assignment key=value (record_update); values are parsed as JSON when valid")
	cmd.Flags().StringVar(&opts.token, "idempotency-token", "", "token that distinguishes intentional repeats")
	cmd.Flags().StringVarP(&opts.manifest, "file", "f", "", "YAML manifest of operations")

	return cmd
}

func buildEnqueueRequest(rawType string, opts enqueueOptions) (api.EnqueueRequest, error) {
	opType, err := models.ParseOperationType(rawType)
	if err != nil {
		return api.EnqueueRequest{}, err
	}

	var payload any
	switch opType {
	case models.OpPhotoUpload:
		name := opts.fileName
		if name == "" && opts.image != "" {
			name = filepath.Base(opts.image)
		}
		payload = models.PhotoUpload{FileName: name, TargetID: opts.target, Caption: opts.caption}
	case models.OpRemarkCreate:
		payload = models.Remark{TargetID: opts.target, Text: opts.text, Priority: opts.priority}
	case models.OpRecordUpdate:
		fields, err := parseFieldAssignments(opts.fields)
		if err != nil {
			return api.EnqueueRequest{}, err
		}
		payload = models.RecordUpdate{TargetID: opts.target, Fields: fields}
	case models.OpRecordDelete:
		payload = models.RecordDelete{TargetID: opts.target}
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return api.EnqueueRequest{}, err
	}
	if _, err := models.DecodePayload(opType, raw); err != nil {
		return api.EnqueueRequest{}, err
	}
	return api.EnqueueRequest{Type: string(opType), Payload: raw, IdempotencyToken: opts.token}, nil
}

func parseFieldAssignments(values []string) (map[string]any, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("at least one --set key=value is required")
	}
	fields := make(map[string]any, len(values))
	for _, value := range values {
		key, raw, ok := strings.Cut(value, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --set %q: expected key=value", value)
		}
		var parsed any
		if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
			parsed = raw
		}
		fields[key] = parsed
	}
	return fields, nil
}

func loadManifest(path string) ([]api.EnqueueRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var manifest operationManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	if len(manifest.Operations) == 0 {
		return nil, fmt.Errorf("manifest %s lists no operations", path)
	}

	requests := make([]api.EnqueueRequest, 0, len(manifest.Operations))
	for i, op := range manifest.Operations {
		opType, err := models.ParseOperationType(op.Type)
		if err != nil {
			return nil, fmt.Errorf("operation %d: %w", i+1, err)
		}
		raw, err := json.Marshal(op.Payload)
		if err != nil {
			return nil, fmt.Errorf("operation %d: %w", i+1, err)
		}
		if _, err := models.DecodePayload(opType, raw); err != nil {
			return nil, fmt.Errorf("operation %d: %w", i+1, err)
		}
		requests = append(requests, api.EnqueueRequest{
			Type:             string(opType),
			Payload:          raw,
			IdempotencyToken: op.IdempotencyToken,
		})
	}
	return requests, nil
}

func uploadImage(cmd *cobra.Command, client *api.Client, opts enqueueOptions) error {
	f, err := os.Open(opts.image)
	if err != nil {
		return err
	}
	defer f.Close()

	name := opts.fileName
	if name == "" {
		name = filepath.Base(opts.image)
	}
	_, err = client.CacheImage(cmd.Context(), name, f, opts.mediaType, nil)
	return err
}
