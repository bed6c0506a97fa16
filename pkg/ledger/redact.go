package ledger

import (
	"encoding/json"
	"strings"
)

// RedactedValue replaces sensitive payload fields before persistence.
const RedactedValue = "[REDACTED]"

// snapshotPayload marshals payload into a generic snapshot and redacts the
// named field paths. Paths are dot-separated ("payload.body.cc"); a path that
// does not resolve is ignored rather than failing the append.
func snapshotPayload(payload any, redactFields []string) (json.RawMessage, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	if len(redactFields) == 0 {
		return raw, nil
	}

	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	root, ok := generic.(map[string]any)
	if !ok {
		// Non-object payloads carry no addressable fields to redact.
		return raw, nil
	}
	for _, path := range redactFields {
		redactPath(root, strings.Split(path, "."))
	}
	return json.Marshal(root)
}

func redactPath(node map[string]any, parts []string) {
	if len(parts) == 0 {
		return
	}
	key := parts[0]
	if len(parts) == 1 {
		if _, exists := node[key]; exists {
			node[key] = RedactedValue
		}
		return
	}
	child, ok := node[key].(map[string]any)
	if !ok {
		return
	}
	redactPath(child, parts[1:])
}
