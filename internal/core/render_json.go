package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strings"
)

const jsonContentType = "application/json; charset=utf-8"

// orderedRow marshals as a JSON object with keys in column order.
type orderedRow struct {
	columns []string
	values  []any
}

func (r orderedRow) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, c := range r.columns {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(c)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(r.values[i])
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func rowObjects(data *ResultData) []orderedRow {
	out := make([]orderedRow, len(data.Rows))
	for i, row := range data.Rows {
		out[i] = orderedRow{columns: data.Columns, values: row}
	}
	return out
}

// RenderJSON is the json renderer. _shape selects the layout: arrays
// (default), objects, array (with _nl for newline-delimited output) or
// object keyed by primary key.
func RenderJSON(_ context.Context, args url.Values, data *ResultData, _ string) (*Response, error) {
	shape := args.Get("_shape")
	if shape == "" {
		shape = "arrays"
	}
	data = finiteRows(data)

	var body any
	contentType := jsonContentType
	switch shape {
	case "arrays":
		body = data
	case "objects":
		type objectsData struct {
			*ResultData
			Rows []orderedRow `json:"rows"`
		}
		body = objectsData{ResultData: data, Rows: rowObjects(data)}
	case "array":
		rows := rowObjects(data)
		if args.Get("_nl") != "" {
			var buf bytes.Buffer
			for _, r := range rows {
				line, err := json.Marshal(r)
				if err != nil {
					return nil, fmt.Errorf("encode row: %w", err)
				}
				buf.Write(line)
				buf.WriteByte('\n')
			}
			return &Response{
				Status:      http.StatusOK,
				ContentType: "text/plain; charset=utf-8",
				Body:        bytes.TrimSuffix(buf.Bytes(), []byte("\n")),
			}, nil
		}
		body = rows
	case "object":
		if len(data.PrimaryKeys) == 0 {
			return jsonError(http.StatusBadRequest, "_shape=object is only available on tables with a primary key")
		}
		keyed, err := keyByPrimaryKey(data)
		if err != nil {
			return nil, err
		}
		body = keyed
	default:
		return jsonError(http.StatusBadRequest, fmt.Sprintf("Invalid _shape: %s", shape))
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode json: %w", err)
	}
	return &Response{Status: http.StatusOK, ContentType: contentType, Body: encoded}, nil
}

// finiteRows returns data with NaN and infinite floats, which JSON cannot
// carry, replaced by null. Rows are copied only when something changes.
func finiteRows(data *ResultData) *ResultData {
	out := data
	for i, row := range data.Rows {
		var fixed []any
		for j, v := range row {
			clean, ok := finiteValue(v)
			if ok {
				continue
			}
			if fixed == nil {
				fixed = append([]any(nil), row...)
			}
			fixed[j] = clean
		}
		if fixed == nil {
			continue
		}
		if out == data {
			c := *data
			c.Rows = append([][]any(nil), data.Rows...)
			out = &c
		}
		out.Rows[i] = fixed
	}
	return out
}

// finiteValue returns v and true when v encodes as JSON unchanged,
// otherwise the replacement and false.
func finiteValue(v any) (any, bool) {
	switch val := v.(type) {
	case float64:
		if math.IsInf(val, 0) || math.IsNaN(val) {
			return nil, false
		}
	case LabeledValue:
		value, vok := finiteValue(val.Value)
		label, lok := finiteValue(val.Label)
		if !vok || !lok {
			return LabeledValue{Value: value, Label: label}, false
		}
	}
	return v, true
}

// keyedRows marshals as an object keyed by the joined primary key values.
type keyedRows struct {
	keys []string
	rows []orderedRow
}

func (k keyedRows) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i := range k.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k.keys[i])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		row, err := k.rows[i].MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(row)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func keyByPrimaryKey(data *ResultData) (keyedRows, error) {
	idx := make([]int, len(data.PrimaryKeys))
	for i, pk := range data.PrimaryKeys {
		idx[i] = indexOf(data.Columns, pk)
		if idx[i] < 0 {
			return keyedRows{}, fmt.Errorf("primary key %q not in result columns", pk)
		}
	}
	out := keyedRows{rows: rowObjects(data)}
	for _, row := range data.Rows {
		parts := make([]string, len(idx))
		for i, j := range idx {
			v := row[j]
			if lv, ok := v.(LabeledValue); ok {
				v = lv.Value
			}
			parts[i] = fmt.Sprint(v)
		}
		out.keys = append(out.keys, strings.Join(parts, ","))
	}
	return out, nil
}

func jsonError(status int, message string) (*Response, error) {
	body, err := json.Marshal(map[string]any{
		"ok":     false,
		"error":  message,
		"status": status,
		"title":  nil,
	})
	if err != nil {
		return nil, err
	}
	return &Response{Status: status, ContentType: jsonContentType, Body: body}, nil
}
