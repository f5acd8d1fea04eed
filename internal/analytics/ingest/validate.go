package ingest

import (
	"encoding/json"

	"github.com/loom-platform/loom/infrastructure/errors"
)

// maxPropertiesBytes is the serialized size limit for an event's properties.
const maxPropertiesBytes = 1 << 20 // 1 MiB

// maxNameLength bounds both event_name and distinct_id.
const maxNameLength = 200

// ValidateEventName enforces: non-empty, at most 200 bytes, starts with a
// lowercase letter or '$', and every other character is alphanumeric, '_',
// '$', or '.'.
func ValidateEventName(name string) error {
	if name == "" {
		return invalidEventName("must not be empty")
	}
	if len(name) > maxNameLength {
		return invalidEventName("must be at most 200 bytes")
	}
	first := name[0]
	if !(first >= 'a' && first <= 'z') && first != '$' {
		return invalidEventName("must start with a lowercase letter or '$'")
	}
	for i := 1; i < len(name); i++ {
		if !isEventNameChar(name[i]) {
			return invalidEventName("must contain only alphanumeric, '_', '$', or '.'")
		}
	}
	return nil
}

// invalidEventName reports "invalid_event_name" as the wire-facing reason
// (the literal the SDK ingestion contract requires), keeping the specific
// rule that failed as a separate detail for logs.
func invalidEventName(detail string) error {
	return errors.InvalidInput("event_name", "invalid_event_name").WithDetails("detail", detail)
}

func isEventNameChar(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	default:
		return c == '_' || c == '$' || c == '.'
	}
}

// ValidateDistinctID enforces: non-empty, at most 200 characters.
func ValidateDistinctID(distinctID string) error {
	if distinctID == "" {
		return invalidDistinctID("must not be empty")
	}
	if len([]rune(distinctID)) > maxNameLength {
		return invalidDistinctID("must be at most 200 characters")
	}
	return nil
}

// invalidDistinctID reports "invalid_distinct_id" as the wire-facing reason,
// keeping the specific rule that failed as a separate detail for logs.
func invalidDistinctID(detail string) error {
	return errors.InvalidInput("distinct_id", "invalid_distinct_id").WithDetails("detail", detail)
}

// ValidatePropertiesSize rejects a properties object whose JSON encoding
// exceeds 1 MiB.
func ValidatePropertiesSize(properties map[string]interface{}) error {
	if len(properties) == 0 {
		return nil
	}
	encoded, err := json.Marshal(properties)
	if err != nil {
		return invalidProperties("must be valid JSON")
	}
	if len(encoded) > maxPropertiesBytes {
		return invalidProperties("exceeds the 1 MiB size limit")
	}
	return nil
}

// invalidProperties reports "invalid_properties" as the wire-facing reason,
// keeping the specific rule that failed as a separate detail for logs.
func invalidProperties(detail string) error {
	return errors.InvalidInput("properties", "invalid_properties").WithDetails("detail", detail)
}
