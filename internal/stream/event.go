// Package stream consumes and publishes log failure events over Redis
// Streams using consumer-group semantics.
package stream

import (
	"encoding/json"
	"fmt"
)

// Event is one log failure record read from the stream. ID is the
// stream-assigned message id, used for acknowledgment.
type Event struct {
	ID string

	LogContent string
	LogType    string
	Repository string
	Branch     string
	Commit     string
	Source     string
	Timestamp  string

	// Fields holds all decoded message fields, including any merged in
	// from the nested JSON data payload.
	Fields map[string]string
}

// decodeEvent turns raw stream field values into an Event. A "data" field,
// if present, is parsed as JSON and merged into the field map; malformed
// JSON is a decode error the consumer handles by acking and skipping.
func decodeEvent(id string, values map[string]interface{}) (Event, error) {
	fields := make(map[string]string, len(values))
	for k, v := range values {
		if s, ok := v.(string); ok {
			fields[k] = s
		} else {
			fields[k] = fmt.Sprint(v)
		}
	}

	if data, ok := fields["data"]; ok {
		var payload map[string]interface{}
		if err := json.Unmarshal([]byte(data), &payload); err != nil {
			return Event{}, fmt.Errorf("parsing data payload: %w", err)
		}
		for k, v := range payload {
			switch val := v.(type) {
			case string:
				fields[k] = val
			case nil:
				// skip nulls, keep any flat field value
			case map[string]interface{}, []interface{}:
				// Nested values stay JSON text, not Go formatting.
				if b, err := json.Marshal(val); err == nil {
					fields[k] = string(b)
				}
			default:
				fields[k] = fmt.Sprint(val)
			}
		}
	}

	return Event{
		ID:         id,
		LogContent: fields["log_content"],
		LogType:    fields["log_type"],
		Repository: fields["repository"],
		Branch:     fields["branch"],
		Commit:     fields["commit"],
		Source:     fields["source"],
		Timestamp:  fields["timestamp"],
		Fields:     fields,
	}, nil
}
