package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInferSchemaMixedColumns(t *testing.T) {
	var recs []Record
	require.NoError(t, json.Unmarshal([]byte(`[
		{"id":1,"name":"alpha","ts":"2025-04-01T10:00:00Z"},
		{"id":2,"name":"beta","ts":"2025-04-02T11:30:00Z"}
	]`), &recs))

	schema := InferSchema(NewTable(recs...))
	assert.Equal(t, []Column{
		{Name: "id", Type: ColumnLong},
		{Name: "name", Type: ColumnString},
		{Name: "ts", Type: ColumnDateTime},
	}, schema.Columns)
}

func TestInferSchemaTypeMapping(t *testing.T) {
	var recs []Record
	require.NoError(t, json.Unmarshal([]byte(`[
		{"i":1,"f":1,"d":"2025-04-01","mixed":1,"nulls":null,"flag":true},
		{"i":null,"f":2.5,"d":"2025-04-02","mixed":"x","nulls":null,"flag":false}
	]`), &recs))

	schema := InferSchema(NewTable(recs...))
	got := make(map[string]ColumnType)
	for _, c := range schema.Columns {
		got[c.Name] = c.Type
	}
	assert.Equal(t, map[string]ColumnType{
		"i":     ColumnLong,
		"f":     ColumnDouble,
		"d":     ColumnDate,
		"mixed": ColumnString,
		"nulls": ColumnString,
		"flag":  ColumnString,
	}, got)
}

func TestDatasetSchemaJSONShape(t *testing.T) {
	out, err := json.Marshal(DatasetSchema{Columns: []Column{{Name: "id", Type: ColumnLong}}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"columns":[{"type":"LONG","name":"id"}]}`, string(out))
}
