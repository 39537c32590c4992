package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/dwizi/feed-sink/internal/store"
)

func (r *router) handleOutcomes(w http.ResponseWriter, req *http.Request) {
	if r.deps.Store == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "journal is not configured"})
		return
	}
	query := req.URL.Query()
	sinkName := strings.TrimSpace(query.Get("sink"))
	failedOnly := false
	if raw := strings.TrimSpace(strings.ToLower(query.Get("failed"))); raw == "true" || raw == "1" || raw == "yes" {
		failedOnly = true
	}
	limit := 50
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err == nil && parsed > 0 {
			limit = parsed
		}
	}
	items, err := r.deps.Store.ListOutcomes(req.Context(), store.ListOutcomesInput{
		Sink:       sinkName,
		FailedOnly: failedOnly,
		Limit:      limit,
	})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	counts, err := r.deps.Store.CountOutcomes(req.Context(), sinkName)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	payload := make([]map[string]any, 0, len(items))
	for _, item := range items {
		payload = append(payload, journalOutcomeToMap(item))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": payload,
		"count": len(payload),
		"totals": map[string]int{
			"total":     counts.Total,
			"succeeded": counts.Succeeded,
			"failed":    counts.Failed,
		},
	})
}

func journalOutcomeToMap(item store.PublishOutcome) map[string]any {
	return map[string]any{
		"id":              item.ID,
		"sink":            item.Sink,
		"operation":       item.Operation,
		"method":          item.Method,
		"target":          item.Target,
		"status":          item.Status,
		"status_text":     item.StatusText,
		"success":         item.Success,
		"reason":          item.Reason,
		"source":          item.Source,
		"attempts":        item.Attempts,
		"started_at_unix": item.StartedAt.Unix(),
		"duration_ms":     item.Duration.Milliseconds(),
	}
}
