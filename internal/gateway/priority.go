package gateway

import (
	"net/http"
	"strings"
)

// validPriorities is the log-only tag vocabulary; anything else collapses
// to "normal".
var validPriorities = map[string]bool{"low": true, "medium": true, "high": true, "critical": true}

// requestPriority tags a request's log line with a priority taken from the
// X-Task-Priority header or, failing that, a "priority" query parameter.
// It is pure logging glue: spec.md's EndpointConfig.priority is dead
// metadata and selection is strictly round-robin (spec.md §9 Open
// Questions), so this never reaches route resolution or endpoint
// selection.
func requestPriority(r *http.Request) string {
	if r == nil {
		return "normal"
	}

	raw := r.Header.Get("X-Task-Priority")
	if raw == "" {
		raw = r.URL.Query().Get("priority")
	}

	normalized := strings.ToLower(strings.TrimSpace(raw))
	if validPriorities[normalized] {
		return normalized
	}
	return "normal"
}
