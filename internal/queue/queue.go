// Package queue accepts producer operations, deduplicates them and hands the
// sync driver an ordered snapshot.
package queue

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"fieldsync/internal/clock"
	"fieldsync/internal/models"
	"fieldsync/internal/store"
)

// ErrInvalidOperation marks operations rejected before reaching the store.
var ErrInvalidOperation = errors.New("invalid operation")

// DefaultProcessedRetention is how long delivered dedup keys keep rejecting repeats.
const DefaultProcessedRetention = 24 * time.Hour

// Options configure a Queue. A zero ProcessedRetention only deduplicates
// against pending operations.
type Options struct {
	ProcessedRetention time.Duration
	Clock              clock.Clock
	Logger             *slog.Logger
}

// Queue is the producer-facing side of the operation store.
type Queue struct {
	store     store.QueueStore
	retention time.Duration
	clock     clock.Clock
	logger    *slog.Logger
}

// New creates a queue over st.
func New(st store.QueueStore, opts Options) *Queue {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Queue{
		store:     st,
		retention: opts.ProcessedRetention,
		clock:     opts.Clock,
		logger:    opts.Logger,
	}
}

// Enqueue validates op and appends it to the queue. It returns queued=false
// without error when an equivalent operation is already pending or was
// delivered within the retention window.
func (q *Queue) Enqueue(ctx context.Context, op models.Operation) (string, bool, error) {
	opType, err := models.ParseOperationType(string(op.Type))
	if err != nil {
		return "", false, invalid(err)
	}
	payload, err := compactPayload(op.Payload)
	if err != nil {
		return "", false, invalid(err)
	}
	decoded, err := models.DecodePayload(opType, payload)
	if err != nil {
		return "", false, invalid(err)
	}

	token := strings.TrimSpace(op.IdempotencyToken)
	key, err := DedupKey(opType, decoded, token)
	if err != nil {
		return "", false, err
	}
	if token == "" {
		token = uuid.NewString()
	}

	now := q.clock.Now()
	record := &models.Operation{
		DedupKey:         key,
		Type:             opType,
		Payload:          payload,
		IdempotencyToken: token,
		CreatedAt:        now,
	}

	var since time.Time
	if q.retention > 0 {
		since = now.Add(-q.retention)
	}
	queued, err := q.store.InsertOperation(ctx, record, since)
	if err != nil {
		return "", false, fmt.Errorf("enqueue %s: %w", opType, err)
	}
	if !queued {
		q.logger.Debug("duplicate operation dropped", "type", opType, "dedup_key", key)
		return "", false, nil
	}
	q.logger.Debug("operation queued", "id", record.ID, "type", opType, "position", record.Position)
	return record.ID, true, nil
}

// Snapshot returns the pending operations in processing order. It never mutates the queue.
func (q *Queue) Snapshot(ctx context.Context) ([]models.Operation, error) {
	return q.store.ListPending(ctx)
}

// DedupKey derives the deduplication key for a decoded payload. A producer
// supplied token joins the key so intentional repeats stay distinct.
func DedupKey(opType models.OperationType, payload any, token string) (string, error) {
	fields := []string{string(opType)}
	switch p := payload.(type) {
	case models.PhotoUpload:
		fields = append(fields, p.FileName)
	case models.Remark:
		fields = append(fields, p.TargetID, p.Text, strconv.Itoa(p.Priority))
	case models.RecordUpdate:
		canonical, err := json.Marshal(p.Fields)
		if err != nil {
			return "", fmt.Errorf("canonicalize fields: %w", err)
		}
		fields = append(fields, p.TargetID, string(canonical))
	case models.RecordDelete:
		fields = append(fields, p.TargetID)
	default:
		return "", fmt.Errorf("unsupported payload %T for %s", payload, opType)
	}
	if token != "" {
		fields = append(fields, token)
	}
	sum := blake2b.Sum256([]byte(strings.Join(fields, "\x00")))
	return hex.EncodeToString(sum[:]), nil
}

func invalid(err error) error {
	return fmt.Errorf("%w: %w", ErrInvalidOperation, err)
}

func compactPayload(raw json.RawMessage) (json.RawMessage, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, fmt.Errorf("payload is required")
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil, fmt.Errorf("payload is not valid json: %w", err)
	}
	return json.RawMessage(buf.Bytes()), nil
}
