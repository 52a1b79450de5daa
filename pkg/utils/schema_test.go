package utils

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectSchema(t *testing.T) {
	schema := ObjectSchema(map[string]Property{
		"path": {Type: "string", Description: "File path"},
		"line": {Type: "integer"},
	}, "path")

	var decoded struct {
		Type       string              `json:"type"`
		Properties map[string]Property `json:"properties"`
		Required   []string            `json:"required"`
	}
	require.NoError(t, json.Unmarshal(schema, &decoded))
	assert.Equal(t, "object", decoded.Type)
	assert.Len(t, decoded.Properties, 2)
	assert.Equal(t, []string{"path"}, decoded.Required)
}

func TestObjectSchemaNoRequired(t *testing.T) {
	schema := ObjectSchema(map[string]Property{"q": {Type: "string"}})
	assert.NotContains(t, string(schema), "required")
}

func TestMergeObjects(t *testing.T) {
	merged, err := MergeObjects(
		json.RawMessage(`{"a":1,"b":"keep"}`),
		nil,
		json.RawMessage(`{"a":2,"c":true}`),
	)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":2,"b":"keep","c":true}`, string(merged))
}

func TestMergeObjectsRejectsNonObject(t *testing.T) {
	_, err := MergeObjects(json.RawMessage(`[1,2]`))
	assert.Error(t, err)
}
