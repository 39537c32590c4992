package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/dwizi/feed-sink/internal/heartbeat"
	"github.com/dwizi/feed-sink/internal/sink"
	"github.com/dwizi/feed-sink/internal/sources"
)

const maxEventBytes = 1 << 20

func (r *router) handleSinks(w http.ResponseWriter, req *http.Request) {
	if r.deps.Publisher == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no sink host is running"})
		return
	}
	states := map[string]heartbeat.ComponentStatus{}
	if r.deps.Heartbeat != nil {
		for _, component := range r.deps.Heartbeat.Snapshot(r.deps.HeartbeatStaleAfter).Components {
			states[component.Name] = component
		}
	}
	infos := r.deps.Publisher.Sinks()
	items := make([]map[string]any, 0, len(infos))
	for _, info := range infos {
		item := map[string]any{
			"name":            info.Name,
			"operation":       info.Operation,
			"method":          info.Method,
			"endpoint":        info.Endpoint,
			"expected_status": info.ExpectedStatus,
			"authenticated":   info.Authenticated,
		}
		if status, ok := states[heartbeat.SinkComponent(info.Name)]; ok {
			item["state"] = status.State
			item["published"] = status.Published
			item["failed"] = status.Failed
		}
		items = append(items, item)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"count": len(items),
	})
}

// handlePublish accepts either a flat object of fields or an envelope of the
// form {"sink": ..., "fields": {...}}. The envelope sink must match the path.
func (r *router) handlePublish(w http.ResponseWriter, req *http.Request) {
	if r.deps.Publisher == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no sink host is running"})
		return
	}
	name := strings.TrimSpace(req.PathValue("name"))
	body, err := io.ReadAll(http.MaxBytesReader(w, req.Body, maxEventBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	event, err := sources.DecodeEvent(body, name)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if !strings.EqualFold(event.Sink, name) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "payload sink does not match the request path"})
		return
	}

	outcome, err := r.deps.Publisher.Publish(req.Context(), name, event.Fields, "api")
	if err != nil {
		status := publishErrorStatus(err)
		if status >= http.StatusInternalServerError {
			r.deps.Logger.Warn("api publish failed", "sink", name, "error", err)
		}
		payload := outcomeToMap(outcome)
		payload["error"] = err.Error()
		writeJSON(w, status, payload)
		return
	}
	writeJSON(w, http.StatusAccepted, outcomeToMap(outcome))
}

func publishErrorStatus(err error) int {
	var (
		recordErr      *sink.RecordError
		responseErr    *sink.ResponseError
		unavailableErr *sink.ConnectionUnavailableError
	)
	switch {
	case errors.Is(err, sink.ErrUnknownSink):
		return http.StatusNotFound
	case errors.As(err, &recordErr):
		return http.StatusBadRequest
	case errors.As(err, &unavailableErr):
		return http.StatusServiceUnavailable
	case errors.As(err, &responseErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func outcomeToMap(outcome sink.Outcome) map[string]any {
	payload := map[string]any{
		"sink":        outcome.Stream,
		"method":      outcome.Method,
		"target":      outcome.Target,
		"status":      outcome.Status,
		"status_text": outcome.StatusText,
		"success":     outcome.Success,
		"duration_ms": outcome.Duration.Milliseconds(),
	}
	if outcome.Reason != "" {
		payload["reason"] = outcome.Reason
	}
	if !outcome.StartedAt.IsZero() {
		payload["started_at_unix"] = outcome.StartedAt.Unix()
	}
	return payload
}
