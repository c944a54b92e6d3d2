package main

import (
	"fmt"
	"os"
	"time"

	"fieldsync/internal/format"
	"fieldsync/internal/models"
)

var outputFormatter format.Formatter = format.JSONFormatter{}

func writeFormatted(payload any) error {
	return outputFormatter.Write(os.Stdout, payload)
}

func writePlain(format string, args ...any) error {
	_, err := fmt.Fprintf(os.Stdout, format, args...)
	return err
}

func writeStatus(status models.Status) error {
	lines := []string{
		fmt.Sprintf("online: %t", status.IsOnline),
		fmt.Sprintf("pending_operations: %d", status.PendingOperations),
		fmt.Sprintf("retryable_operations: %d", status.RetryableOperations),
		fmt.Sprintf("failed_operations: %d", status.FailedOperations),
		fmt.Sprintf("sync_in_progress: %t", status.SyncInProgress),
	}
	if status.SyncInProgress {
		lines = append(lines, fmt.Sprintf("sync_progress: %d/%d", status.SyncProgress.Completed, status.SyncProgress.Total))
	}
	if status.LastSync != nil {
		lines = append(lines, fmt.Sprintf("last_sync: %s", formatTime(*status.LastSync)))
	} else {
		lines = append(lines, "last_sync: never")
	}
	lines = append(lines, fmt.Sprintf("cache: %d entries, %s", status.CacheEntries, formatBytes(status.CacheBytes, status.CacheCapacity)))

	for _, line := range lines {
		if err := writePlain("%s\n", line); err != nil {
			return err
		}
	}
	return nil
}

func writePassResult(result models.PassResult) error {
	if result.Outcome == models.OutcomeNoop {
		return writePlain("nothing to sync\n")
	}
	if err := writePlain("%s: %d/%d delivered, %d retried, %d failed\n",
		result.Outcome, result.Succeeded, result.Total, result.Retried, len(result.Failed)); err != nil {
		return err
	}
	for _, failed := range result.Failed {
		if err := writePlain("  %s\n", formatFailedLine(failed)); err != nil {
			return err
		}
	}
	return nil
}

func writeFailedList(failed []models.FailedOperation) error {
	if len(failed) == 0 {
		return writePlain("no failed operations\n")
	}
	for _, f := range failed {
		if err := writePlain("%s\n", formatFailedLine(f)); err != nil {
			return err
		}
	}
	return nil
}

func writeCacheList(entries []models.CacheEntry) error {
	for _, e := range entries {
		if err := writePlain("%s\t%d\t%s\t%s\n", e.Name, e.Size, e.ContentType, formatTime(e.LastAccessed)); err != nil {
			return err
		}
	}
	return nil
}

func formatFailedLine(f models.FailedOperation) string {
	return fmt.Sprintf("✗ %s [%s] %s after %d attempt(s): %s", f.Operation.ID, f.Operation.Type, f.Kind, f.Attempts, f.Reason)
}

func formatBytes(used, capacity int64) string {
	if capacity <= 0 {
		return fmt.Sprintf("%d bytes", used)
	}
	return fmt.Sprintf("%d/%d bytes (%.0f%%)", used, capacity, float64(used)*100/float64(capacity))
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
