package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"credit-risk-api/internal/ml"
)

// tableSchemaJSON accepts a table either as records ([{col: v}, ...]) or as
// columns ({col: [v, ...]}). Cell types beyond JSON scalars are rejected here;
// per-column numeric checks happen when rows are built.
const tableSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "oneOf": [
    {
      "type": "array",
      "items": {
        "type": "object",
        "additionalProperties": {"type": ["number", "boolean", "string", "null"]}
      }
    },
    {
      "type": "object",
      "minProperties": 1,
      "additionalProperties": {
        "type": "array",
        "items": {"type": ["number", "boolean", "string", "null"]}
      }
    }
  ]
}`

var tableSchema = mustCompile(tableSchemaJSON)

func mustCompile(schema string) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schema))
	if err != nil {
		panic(fmt.Sprintf("compile table schema: %v", err))
	}
	return s
}

// readBody reads at most limit bytes of the request body.
func readBody(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, errBodyTooLarge{limit: tooLarge.Limit}
		}
		return nil, ml.InvalidInputError("read body: %v", err)
	}
	return body, nil
}

type errBodyTooLarge struct {
	limit int64
}

func (e errBodyTooLarge) Error() string {
	return fmt.Sprintf("request body exceeds %d bytes", e.limit)
}

// decodeTable validates body against the table schema and converts it into
// feature rows keyed by idColumn.
func decodeTable(body []byte, idColumn string) ([]ml.FeatureRow, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, ml.InvalidInputError("request body is empty")
	}

	result, err := tableSchema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return nil, ml.InvalidInputError("malformed JSON: %v", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, ml.InvalidInputError("body is not a table: %s", strings.Join(msgs, "; "))
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, ml.InvalidInputError("malformed JSON: %v", err)
	}

	var records []map[string]any
	switch t := doc.(type) {
	case []any:
		records = make([]map[string]any, len(t))
		for i, item := range t {
			rec, ok := item.(map[string]any)
			if !ok {
				return nil, ml.InvalidInputError("record %d is not an object", i)
			}
			records[i] = rec
		}
	case map[string]any:
		columns := make(map[string][]any, len(t))
		for name, values := range t {
			col, ok := values.([]any)
			if !ok {
				return nil, ml.InvalidInputError("column %q is not an array", name)
			}
			columns[name] = col
		}
		if records, err = ml.RecordsFromColumns(columns); err != nil {
			return nil, err
		}
	default:
		return nil, ml.InvalidInputError("body is not a table")
	}

	return ml.RowsFromRecords(records, idColumn)
}
