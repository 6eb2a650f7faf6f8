package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ResultKind tags the shape of a processing result.
type ResultKind string

// Known result kinds
const (
	ResultKindTabular ResultKind = "tabular"
	ResultKindOpaque  ResultKind = "opaque"
)

// ErrUnknownResultKind is returned when a stored result carries an unrecognised kind.
var ErrUnknownResultKind = errors.New("unknown result kind")

// Result is the output of a successful job. It is either a TabularResult
// or an OpaqueResult; callers switch on Kind instead of sniffing the payload.
type Result interface {
	// Kind returns the result's tag.
	Kind() ResultKind

	// RawJSON returns the result as plain JSON, without the kind envelope.
	RawJSON() ([]byte, error)
}

// Row is a string-keyed record that keeps its keys in insertion order.
// Keys lists every key present in Values exactly once.
type Row struct {
	Keys   []string
	Values map[string]any
}

// NewRow builds a Row from parallel key and value slices.
func NewRow(keys []string, values []any) Row {
	r := Row{Keys: make([]string, 0, len(keys)), Values: make(map[string]any, len(keys))}
	for i, k := range keys {
		var v any
		if i < len(values) {
			v = values[i]
		}
		r.Set(k, v)
	}
	return r
}

// Get returns the value stored under key.
func (r Row) Get(key string) (any, bool) {
	v, ok := r.Values[key]
	return v, ok
}

// Set stores v under key, appending key to Keys the first time it is seen.
func (r *Row) Set(key string, v any) {
	if r.Values == nil {
		r.Values = make(map[string]any)
	}
	if _, exists := r.Values[key]; !exists {
		r.Keys = append(r.Keys, key)
	}
	r.Values[key] = v
}

// MarshalJSON writes the row as a JSON object with keys in Keys order.
func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range r.Keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(r.Values[k])
		if err != nil {
			return nil, fmt.Errorf("marshal value for %q: %w", k, err)
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a JSON object, preserving key order.
// Numbers are kept as json.Number so they render back unchanged.
func (r *Row) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("%w: row must be a JSON object", ErrValidation)
	}

	*r = Row{Keys: []string{}, Values: map[string]any{}}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("%w: row key is not a string", ErrValidation)
		}
		var v any
		if err := dec.Decode(&v); err != nil {
			return err
		}
		r.Set(key, v)
	}

	_, err = dec.Token()
	return err
}

// TabularResult is a list of records, rendered as CSV with a header row.
type TabularResult struct {
	Rows []Row
}

// Kind implements Result.
func (TabularResult) Kind() ResultKind { return ResultKindTabular }

// Columns returns the keys of the first row, which define the CSV header.
func (t TabularResult) Columns() []string {
	if len(t.Rows) == 0 {
		return nil
	}
	cols := make([]string, len(t.Rows[0].Keys))
	copy(cols, t.Rows[0].Keys)
	return cols
}

// RawJSON implements Result. An empty table is rendered as [].
func (t TabularResult) RawJSON() ([]byte, error) {
	rows := t.Rows
	if rows == nil {
		rows = []Row{}
	}
	return json.Marshal(rows)
}

// TabularFromStrings builds a TabularResult from a header and string records.
// Short records are padded with empty strings; extra fields are dropped.
func TabularFromStrings(header []string, records [][]string) TabularResult {
	rows := make([]Row, 0, len(records))
	for _, rec := range records {
		values := make([]any, len(header))
		for i := range header {
			if i < len(rec) {
				values[i] = rec[i]
			} else {
				values[i] = ""
			}
		}
		rows = append(rows, NewRow(header, values))
	}
	return TabularResult{Rows: rows}
}

// OpaqueResult is any other JSON value the engine produced.
type OpaqueResult struct {
	Value json.RawMessage
}

// Kind implements Result.
func (OpaqueResult) Kind() ResultKind { return ResultKindOpaque }

// RawJSON implements Result. The value is compacted; an empty value is null.
func (o OpaqueResult) RawJSON() ([]byte, error) {
	if len(bytes.TrimSpace(o.Value)) == 0 {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, o.Value); err != nil {
		return nil, fmt.Errorf("%w: opaque value is not valid JSON: %v", ErrValidation, err)
	}
	return buf.Bytes(), nil
}

// resultEnvelope is the cached form of a Result.
type resultEnvelope struct {
	Kind  ResultKind      `json:"kind"`
	Rows  []Row           `json:"rows,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`
}

// EncodeResult serializes a Result together with its kind.
func EncodeResult(r Result) ([]byte, error) {
	switch res := r.(type) {
	case TabularResult:
		return json.Marshal(resultEnvelope{Kind: ResultKindTabular, Rows: res.Rows})
	case OpaqueResult:
		raw, err := res.RawJSON()
		if err != nil {
			return nil, err
		}
		return json.Marshal(resultEnvelope{Kind: ResultKindOpaque, Value: raw})
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownResultKind, r)
	}
}

// DecodeResult is the inverse of EncodeResult.
func DecodeResult(data []byte) (Result, error) {
	var env resultEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode result envelope: %w", err)
	}

	switch env.Kind {
	case ResultKindTabular:
		return TabularResult{Rows: env.Rows}, nil
	case ResultKindOpaque:
		return OpaqueResult{Value: env.Value}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownResultKind, env.Kind)
	}
}
