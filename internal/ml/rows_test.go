package ml

import (
	"encoding/json"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeRecords(t *testing.T, body string) []map[string]any {
	t.Helper()
	dec := json.NewDecoder(strings.NewReader(body))
	dec.UseNumber()
	var records []map[string]any
	require.NoError(t, dec.Decode(&records))
	return records
}

func TestRowsFromRecords(t *testing.T) {
	records := decodeRecords(t, `[
		{"sk_id_curr": 100002, "ext_source_2": 0.26, "amt_credit": null, "flag_own_car": true, "target": 1},
		{"sk_id_curr": "100003", "ext_source_2": 0.62, "amt_credit": 1293502.5, "flag_own_car": false}
	]`)

	rows, err := RowsFromRecords(records, DefaultIDColumn)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "100002", rows[0].ClientID)
	assert.Equal(t, "100003", rows[1].ClientID)
	assert.InDelta(t, 0.26, rows[0].Values["ext_source_2"], 1e-12)
	assert.True(t, math.IsNaN(rows[0].Values["amt_credit"]))
	assert.Equal(t, 1.0, rows[0].Values["flag_own_car"])
	assert.Equal(t, 1.0, rows[0].Values["target"])
	_, hasID := rows[0].Values[DefaultIDColumn]
	assert.False(t, hasID)
}

func TestRowsFromRecords_Errors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantRow int
		wantMsg string
	}{
		{"missing id", `[{"sk_id_curr": 1, "a": 1}, {"a": 2}]`, 1, "missing identifier"},
		{"null id", `[{"sk_id_curr": null, "a": 1}]`, 0, "missing identifier"},
		{"object id", `[{"sk_id_curr": {"x": 1}, "a": 1}]`, 0, "must be a number"},
		{"text feature", `[{"sk_id_curr": 1, "name_contract_type": "Cash loans"}]`, 0, "not numeric"},
		{"duplicate id", `[{"sk_id_curr": 5, "a": 1}, {"sk_id_curr": 5, "a": 2}]`, 1, "duplicates row 0"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := RowsFromRecords(decodeRecords(t, tc.body), DefaultIDColumn)
			require.Error(t, err)

			var serr *Error
			require.ErrorAs(t, err, &serr)
			assert.Equal(t, KindSchema, serr.Kind)
			assert.Equal(t, tc.wantRow, serr.Row)
			assert.Contains(t, serr.Msg, tc.wantMsg)
		})
	}
}

func TestRecordsFromColumns(t *testing.T) {
	records, err := RecordsFromColumns(map[string][]any{
		"sk_id_curr": {json.Number("1"), json.Number("2")},
		"a":          {json.Number("0.5"), nil},
	})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, json.Number("2"), records[1]["sk_id_curr"])
	assert.Nil(t, records[1]["a"])

	_, err = RecordsFromColumns(map[string][]any{
		"sk_id_curr": {1, 2},
		"a":          {1},
	})
	require.Error(t, err)
	assert.Equal(t, KindSchema, KindOf(err))

	records, err = RecordsFromColumns(map[string][]any{})
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestIdentifierString_WholeFloat(t *testing.T) {
	id, ok := identifierString(float64(100002))
	require.True(t, ok)
	assert.Equal(t, "100002", id)

	id, ok = identifierString(12.5)
	require.True(t, ok)
	assert.Equal(t, "12.5", id)
}
