package es

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMappingForUsesDims(t *testing.T) {
	var m map[string]map[string]map[string]map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(mappingFor(1536)), &m))
	vector := m["mappings"]["properties"]["vector"]
	assert.Equal(t, "dense_vector", vector["type"])
	assert.EqualValues(t, 1536, vector["dims"])
	assert.Equal(t, "keyword", m["mappings"]["properties"]["document_id"]["type"])
}
