package sources

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Source delivers events to a handler until its context ends.
type Source interface {
	Name() string
	Start(ctx context.Context) error
}

// Event is one record addressed at a named sink.
type Event struct {
	Sink   string            `json:"sink"`
	Fields map[string]string `json:"fields"`
	Source string            `json:"-"`
}

type Handler func(ctx context.Context, event Event) error

const maxLineBytes = 1 << 20

// DecodeEvents reads one JSON object per line. A line is either an envelope
// {"sink": ..., "fields": {...}} or a flat object of fields that goes to
// defaultSink. Blank lines are skipped.
func DecodeEvents(r io.Reader, defaultSink string) ([]Event, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	var events []Event
	line := 0
	for scanner.Scan() {
		line++
		data := bytes.TrimSpace(scanner.Bytes())
		if len(data) == 0 {
			continue
		}
		event, err := DecodeEvent(data, defaultSink)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		events = append(events, event)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	return events, nil
}

func DecodeEvent(data []byte, defaultSink string) (Event, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	event := Event{Sink: strings.TrimSpace(defaultSink)}
	if fieldsRaw, ok := raw["fields"]; ok {
		fields, err := decodeFields(fieldsRaw)
		if err != nil {
			return Event{}, err
		}
		event.Fields = fields
		if sinkRaw, ok := raw["sink"]; ok {
			var sinkName string
			if err := json.Unmarshal(sinkRaw, &sinkName); err != nil {
				return Event{}, fmt.Errorf("decode event sink: %w", err)
			}
			if trimmed := strings.TrimSpace(sinkName); trimmed != "" {
				event.Sink = trimmed
			}
		}
	} else {
		fields, err := decodeFields(data)
		if err != nil {
			return Event{}, err
		}
		event.Fields = fields
	}
	if event.Sink == "" {
		return Event{}, fmt.Errorf("event names no sink and no default is configured")
	}
	return event, nil
}

// decodeFields accepts string, number and boolean values. Nested values are
// rejected since an entry element holds text.
func decodeFields(data []byte) (map[string]string, error) {
	var raw map[string]any
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	if err := decoder.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode event fields: %w", err)
	}
	fields := make(map[string]string, len(raw))
	for key, value := range raw {
		switch typed := value.(type) {
		case nil:
			continue
		case string:
			fields[key] = typed
		case json.Number:
			fields[key] = typed.String()
		case bool:
			fields[key] = strconv.FormatBool(typed)
		default:
			return nil, fmt.Errorf("field %q must be a string, number or boolean", key)
		}
	}
	return fields, nil
}
