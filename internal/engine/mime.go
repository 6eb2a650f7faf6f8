package engine

import (
	"mime"
	"strings"
)

// csvMediaTypes are the media types accepted as CSV-equivalent.
var csvMediaTypes = map[string]struct{}{
	"text/csv":                    {},
	"application/csv":             {},
	"text/comma-separated-values": {},
	"application/vnd.ms-excel":    {},
	"text/x-csv":                  {},
}

// IsSupportedMimeType reports whether mimeType names CSV content.
// Parameters such as charset are ignored.
func IsSupportedMimeType(mimeType string) bool {
	mediaType, _, err := mime.ParseMediaType(strings.TrimSpace(mimeType))
	if err != nil {
		return false
	}
	_, ok := csvMediaTypes[strings.ToLower(mediaType)]
	return ok
}
