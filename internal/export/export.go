// Package export renders job results as downloadable documents and encodes
// them as CSV for the file tier of the result cache.
package export

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/phrazzld/dataprep-api/internal/domain"
)

// ErrInvalidFormat is returned for an unknown or missing export format.
var ErrInvalidFormat = fmt.Errorf("%w: invalid export format", domain.ErrValidation)

// Format is an export document format.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatTXT  Format = "txt"
)

// ParseFormat validates a format name. Matching is case-insensitive.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatJSON, FormatCSV, FormatTXT:
		return f, nil
	case "":
		return "", fmt.Errorf("%w: format is required", ErrInvalidFormat)
	default:
		return "", fmt.Errorf("%w: %q (want json, csv or txt)", ErrInvalidFormat, s)
	}
}

// ContentType is the HTTP media type of a rendered document.
func (f Format) ContentType() string {
	switch f {
	case FormatJSON:
		return "application/json"
	case FormatCSV:
		return "text/csv; charset=utf-8"
	default:
		return "text/plain; charset=utf-8"
	}
}

// Extension is the file extension used for downloads.
func (f Format) Extension() string {
	return string(f)
}

// Render produces the export document for r. json and txt are the same
// pretty-printed JSON; csv follows EncodeCSV.
func Render(r domain.Result, f Format) ([]byte, error) {
	if r == nil {
		return nil, errors.New("cannot render a nil result")
	}

	switch f {
	case FormatJSON, FormatTXT:
		raw, err := r.RawJSON()
		if err != nil {
			return nil, fmt.Errorf("failed to serialize result: %w", err)
		}
		var buf bytes.Buffer
		if err := json.Indent(&buf, raw, "", "  "); err != nil {
			return nil, fmt.Errorf("failed to indent result: %w", err)
		}
		buf.WriteByte('\n')
		return buf.Bytes(), nil
	case FormatCSV:
		var buf bytes.Buffer
		if err := EncodeCSV(&buf, r); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidFormat, f)
	}
}
