package heartbeat

import (
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	StateStarting = "starting"
	StateHealthy  = "healthy"
	StateDegraded = "degraded"
	StateDisabled = "disabled"
	StateStopped  = "stopped"
	StateStale    = "stale"
)

// DefaultFailureThreshold is how many publishes in a row must fail before a
// sink reads as degraded.
const DefaultFailureThreshold = 3

type Reporter interface {
	Starting(component, message string)
	Beat(component, message string)
	Degrade(component, message string, err error)
	Disabled(component, message string)
	Stopped(component, message string)
}

// PublishReporter is what a sink host reports after every publish.
type PublishReporter interface {
	Reporter
	Ready(component, message string)
	Published(component, message string)
	PublishFailed(component, message string, err error)
}

type ComponentStatus struct {
	Name                string `json:"name"`
	State               string `json:"state"`
	BaseState           string `json:"base_state"`
	Message             string `json:"message,omitempty"`
	Error               string `json:"error,omitempty"`
	Published           int64  `json:"published,omitempty"`
	Failed              int64  `json:"failed,omitempty"`
	ConsecutiveFailures int    `json:"consecutive_failures,omitempty"`
	LastBeatAtUnix      int64  `json:"last_beat_at_unix,omitempty"`
	UpdatedAtUnix       int64  `json:"updated_at_unix"`
	Stale               bool   `json:"stale,omitempty"`
}

type Snapshot struct {
	GeneratedAtUnix int64             `json:"generated_at_unix"`
	Overall         string            `json:"overall"`
	Components      []ComponentStatus `json:"components"`
}

type componentRecord struct {
	name                string
	state               string
	message             string
	lastError           string
	published           int64
	failed              int64
	consecutiveFailures int
	trafficDriven       bool
	lastBeatAt          time.Time
	updatedAt           time.Time
}

type Registry struct {
	mu               sync.RWMutex
	components       map[string]componentRecord
	failureThreshold int
}

func NewRegistry() *Registry {
	return &Registry{
		components:       map[string]componentRecord{},
		failureThreshold: DefaultFailureThreshold,
	}
}

// SetFailureThreshold changes how many consecutive publish failures degrade a
// component. Values below one are ignored.
func (r *Registry) SetFailureThreshold(threshold int) {
	if threshold < 1 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failureThreshold = threshold
}

func (r *Registry) Starting(component, message string) {
	r.setState(component, StateStarting, message, "")
}

func (r *Registry) Beat(component, message string) {
	r.update(component, func(record *componentRecord, now time.Time) {
		record.state = StateHealthy
		record.message = strings.TrimSpace(message)
		record.lastError = ""
		record.lastBeatAt = now
	})
}

func (r *Registry) Degrade(component, message string, err error) {
	r.setState(component, StateDegraded, message, errorText(err))
}

func (r *Registry) Disabled(component, message string) {
	r.setState(component, StateDisabled, message, "")
}

func (r *Registry) Stopped(component, message string) {
	r.setState(component, StateStopped, message, "")
}

// Ready marks a traffic-driven component healthy before its first publish.
func (r *Registry) Ready(component, message string) {
	r.update(component, func(record *componentRecord, now time.Time) {
		record.trafficDriven = true
		record.state = StateHealthy
		record.message = strings.TrimSpace(message)
		record.lastError = ""
		record.lastBeatAt = now
	})
}

// Published counts a successful publish and marks the component healthy.
// Components reported through Ready, Published or PublishFailed only hear
// from traffic and never go stale.
func (r *Registry) Published(component, message string) {
	r.update(component, func(record *componentRecord, now time.Time) {
		record.trafficDriven = true
		record.published++
		record.consecutiveFailures = 0
		record.state = StateHealthy
		record.message = strings.TrimSpace(message)
		record.lastError = ""
		record.lastBeatAt = now
	})
}

// PublishFailed counts a failed publish. The component degrades once failures
// in a row reach the threshold.
func (r *Registry) PublishFailed(component, message string, err error) {
	r.mu.RLock()
	threshold := r.failureThreshold
	r.mu.RUnlock()
	r.update(component, func(record *componentRecord, now time.Time) {
		record.trafficDriven = true
		record.failed++
		record.consecutiveFailures++
		record.message = strings.TrimSpace(message)
		record.lastError = errorText(err)
		record.lastBeatAt = now
		if record.consecutiveFailures >= threshold {
			record.state = StateDegraded
		} else if record.state == "" || record.state == StateStarting {
			record.state = StateHealthy
		}
	})
}

func (r *Registry) setState(component, state, message, errorText string) {
	r.update(component, func(record *componentRecord, now time.Time) {
		record.state = normalizeState(state)
		record.message = strings.TrimSpace(message)
		record.lastError = strings.TrimSpace(errorText)
		if record.lastBeatAt.IsZero() {
			record.lastBeatAt = now
		}
	})
}

func (r *Registry) update(component string, apply func(record *componentRecord, now time.Time)) {
	name := normalizeComponent(component)
	if name == "" {
		return
	}
	now := time.Now().UTC()
	r.mu.Lock()
	defer r.mu.Unlock()
	record := r.components[name]
	record.name = name
	apply(&record, now)
	record.updatedAt = now
	r.components[name] = record
}

func (r *Registry) Snapshot(staleAfter time.Duration) Snapshot {
	now := time.Now().UTC()
	r.mu.RLock()
	defer r.mu.RUnlock()

	results := make([]ComponentStatus, 0, len(r.components))
	for _, record := range r.components {
		status := ComponentStatus{
			Name:                record.name,
			BaseState:           normalizeState(record.state),
			Message:             record.message,
			Error:               record.lastError,
			Published:           record.published,
			Failed:              record.failed,
			ConsecutiveFailures: record.consecutiveFailures,
		}
		if !record.lastBeatAt.IsZero() {
			status.LastBeatAtUnix = record.lastBeatAt.Unix()
		}
		if !record.updatedAt.IsZero() {
			status.UpdatedAtUnix = record.updatedAt.Unix()
		}
		status.State = status.BaseState

		if staleAfter > 0 && !record.trafficDriven && canBecomeStale(status.BaseState) {
			reference := record.lastBeatAt
			if reference.IsZero() {
				reference = record.updatedAt
			}
			if !reference.IsZero() && now.Sub(reference) > staleAfter {
				status.State = StateStale
				status.Stale = true
			}
		}
		results = append(results, status)
	}

	sort.Slice(results, func(left, right int) bool {
		return results[left].Name < results[right].Name
	})

	return Snapshot{
		GeneratedAtUnix: now.Unix(),
		Overall:         computeOverall(results),
		Components:      results,
	}
}

func IsDegradedState(state string) bool {
	switch normalizeState(state) {
	case StateDegraded, StateStale:
		return true
	default:
		return false
	}
}

// SinkComponent names the registry entry of a sink.
func SinkComponent(name string) string {
	return "sink:" + normalizeComponent(name)
}

// SourceComponent names the registry entry of an event source.
func SourceComponent(name string) string {
	return "source:" + normalizeComponent(name)
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return strings.TrimSpace(err.Error())
}

func normalizeComponent(component string) string {
	return strings.ToLower(strings.TrimSpace(component))
}

func normalizeState(state string) string {
	switch strings.ToLower(strings.TrimSpace(state)) {
	case StateStarting:
		return StateStarting
	case StateDegraded:
		return StateDegraded
	case StateDisabled:
		return StateDisabled
	case StateStopped:
		return StateStopped
	case StateStale:
		return StateStale
	default:
		return StateHealthy
	}
}

func canBecomeStale(state string) bool {
	switch normalizeState(state) {
	case StateHealthy, StateStarting:
		return true
	default:
		return false
	}
}

func computeOverall(items []ComponentStatus) string {
	if len(items) == 0 {
		return "unknown"
	}
	hasHealthy := false
	hasStarting := false
	allInactive := true
	for _, item := range items {
		switch normalizeState(item.State) {
		case StateDegraded, StateStale:
			return StateDegraded
		case StateHealthy:
			hasHealthy = true
			allInactive = false
		case StateStarting:
			hasStarting = true
			allInactive = false
		case StateDisabled, StateStopped:
		default:
			allInactive = false
		}
	}
	if hasStarting {
		return StateStarting
	}
	if hasHealthy {
		return StateHealthy
	}
	if allInactive {
		return "idle"
	}
	return StateHealthy
}
