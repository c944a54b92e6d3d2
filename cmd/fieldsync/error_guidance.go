package main

import (
	"context"
	"errors"
	"net"

	"fieldsync/internal/api"
)

func formatCLIError(err error) []string {
	if err == nil {
		return nil
	}

	lines := []string{err.Error()}

	var apiErr *api.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case "offline":
			lines = append(lines, "hint: queued operations are kept; sync resumes when the network returns or after: fieldsync network on")
		case "quota_exceeded":
			lines = append(lines,
				"hint: free space with: fieldsync cache evict --ratio 0.5",
				"hint: or raise the limit with: fieldsync config set cache.capacity_bytes <bytes>",
			)
		case "resource_exhausted":
			lines = append(lines, "hint: retry shortly; too many sync requests are in flight.")
		}
		if apiErr.Code == "" {
			lines = append(lines, "hint: verify FIELDSYNC_API_URL points to a fieldsync server.")
		}
		if apiErr.Status >= 500 && apiErr.Code != "quota_exceeded" {
			lines = append(lines, "hint: server returned an internal error; check server logs for details.")
		}
		return uniqueLines(lines)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		lines = append(lines, "hint: request timed out; check server health or increase FIELDSYNC_HTTP_TIMEOUT.")
		return uniqueLines(lines)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		lines = append(lines,
			"hint: ensure a fieldsync server is running at FIELDSYNC_API_URL.",
			"hint: start local server manually with: fieldsync srv",
			"hint: you can increase FIELDSYNC_HTTP_TIMEOUT for slower environments.",
		)
		return uniqueLines(lines)
	}

	return uniqueLines(lines)
}

func uniqueLines(lines []string) []string {
	seen := make(map[string]struct{}, len(lines))
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if line == "" {
			continue
		}
		if _, ok := seen[line]; ok {
			continue
		}
		seen[line] = struct{}{}
		out = append(out, line)
	}
	return out
}
