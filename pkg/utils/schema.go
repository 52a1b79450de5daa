// Package utils holds small helpers shared across the runtime: JSON schema
// construction for tool descriptors and a goroutine leak detector for tests.
package utils

import (
	"encoding/json"
	"fmt"
)

// Property describes one field of an object schema.
type Property struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// ObjectSchema builds a JSON schema for an object with the given properties.
// Required lists property names that must be present.
func ObjectSchema(properties map[string]Property, required ...string) json.RawMessage {
	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	data, err := json.Marshal(schema)
	if err != nil {
		// Inputs are static maps of marshallable values.
		panic(fmt.Sprintf("utils: unmarshallable schema: %v", err))
	}
	return data
}

// MergeObjects merges JSON objects left to right, later keys winning.
// Used to overlay per-session configuration options on defaults.
func MergeObjects(objects ...json.RawMessage) (json.RawMessage, error) {
	merged := make(map[string]json.RawMessage)
	for _, obj := range objects {
		if len(obj) == 0 {
			continue
		}
		var current map[string]json.RawMessage
		if err := json.Unmarshal(obj, &current); err != nil {
			return nil, fmt.Errorf("merge: not a JSON object: %w", err)
		}
		for k, v := range current {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}
