package cache

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/phrazzld/dataprep-api/internal/domain"
)

// The file tier stores results as CSV whose cells are JSON literals, so a
// result read back after the fast tier expires keeps its numbers, booleans
// and nulls. An empty cell means the row has no such key.
//
// A tabular result is a header row listing every key in first-seen order,
// then one record per row. An opaque result is a single cell holding its
// compact JSON. An empty document is an empty table.

func encodeFile(w io.Writer, r domain.Result) error {
	cw := csv.NewWriter(w)

	switch res := r.(type) {
	case domain.TabularResult:
		if len(res.Rows) > 0 {
			header := unionKeys(res.Rows)
			if err := cw.Write(header); err != nil {
				return fmt.Errorf("failed to write header: %w", err)
			}
			record := make([]string, len(header))
			for _, row := range res.Rows {
				for i, key := range header {
					v, ok := row.Get(key)
					if !ok {
						record[i] = ""
						continue
					}
					cell, err := jsonLiteral(v)
					if err != nil {
						return fmt.Errorf("failed to encode %q: %w", key, err)
					}
					record[i] = cell
				}
				if err := cw.Write(record); err != nil {
					return fmt.Errorf("failed to write record: %w", err)
				}
			}
		}
	case domain.OpaqueResult:
		raw, err := res.RawJSON()
		if err != nil {
			return fmt.Errorf("failed to serialize result: %w", err)
		}
		if err := cw.Write([]string{string(raw)}); err != nil {
			return fmt.Errorf("failed to write record: %w", err)
		}
	default:
		return fmt.Errorf("%w: %T", domain.ErrUnknownResultKind, r)
	}

	cw.Flush()
	return cw.Error()
}

func decodeFile(r io.Reader) (domain.Result, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse csv: %w", err)
	}

	switch len(records) {
	case 0:
		return domain.TabularResult{Rows: []domain.Row{}}, nil
	case 1:
		if len(records[0]) != 1 || !json.Valid([]byte(records[0][0])) {
			return nil, errors.New("single-record file must hold one JSON cell")
		}
		return domain.OpaqueResult{Value: json.RawMessage(records[0][0])}, nil
	}

	header := records[0]
	rows := make([]domain.Row, 0, len(records)-1)
	for n, rec := range records[1:] {
		if len(rec) != len(header) {
			return nil, fmt.Errorf("record %d has %d cells, header has %d", n+1, len(rec), len(header))
		}
		row := domain.Row{Keys: []string{}, Values: map[string]any{}}
		for i, cell := range rec {
			if cell == "" {
				continue
			}
			v, err := parseLiteral(cell)
			if err != nil {
				return nil, fmt.Errorf("record %d, %q: %w", n+1, header[i], err)
			}
			row.Set(header[i], v)
		}
		rows = append(rows, row)
	}
	return domain.TabularResult{Rows: rows}, nil
}

func unionKeys(rows []domain.Row) []string {
	seen := make(map[string]struct{})
	var keys []string
	for _, row := range rows {
		for _, k := range row.Keys {
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				keys = append(keys, k)
			}
		}
	}
	return keys
}

func jsonLiteral(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return string(bytes.TrimSpace(buf.Bytes())), nil
}

func parseLiteral(cell string) (any, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(cell)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("trailing data after value")
	}
	return v, nil
}
