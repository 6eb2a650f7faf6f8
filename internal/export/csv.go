package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/phrazzld/dataprep-api/internal/domain"
)

// EncodeCSV writes r as CSV. A tabular result gets a header taken from the
// first row's keys followed by one record per row; rows missing a column
// write an empty cell. An opaque result is a single cell holding its compact
// JSON. Quoting follows RFC 4180.
func EncodeCSV(w io.Writer, r domain.Result) error {
	cw := csv.NewWriter(w)

	switch res := r.(type) {
	case domain.TabularResult:
		if len(res.Rows) > 0 {
			header := res.Columns()
			if err := cw.Write(header); err != nil {
				return fmt.Errorf("failed to write csv header: %w", err)
			}
			record := make([]string, len(header))
			for _, row := range res.Rows {
				for i, key := range header {
					v, _ := row.Get(key)
					cell, err := formatCell(v)
					if err != nil {
						return err
					}
					record[i] = cell
				}
				if err := cw.Write(record); err != nil {
					return fmt.Errorf("failed to write csv record: %w", err)
				}
			}
		}
	case domain.OpaqueResult:
		raw, err := res.RawJSON()
		if err != nil {
			return fmt.Errorf("failed to serialize result: %w", err)
		}
		if err := cw.Write([]string{string(raw)}); err != nil {
			return fmt.Errorf("failed to write csv record: %w", err)
		}
	default:
		return fmt.Errorf("%w: %T", domain.ErrUnknownResultKind, r)
	}

	cw.Flush()
	return cw.Error()
}

func formatCell(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	case json.Number:
		return t.String(), nil
	case bool:
		return strconv.FormatBool(t), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(t), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	default:
		raw, err := json.Marshal(t)
		if err != nil {
			return "", fmt.Errorf("failed to encode csv cell: %w", err)
		}
		return string(bytes.TrimSpace(raw)), nil
	}
}
