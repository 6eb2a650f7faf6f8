package domain

import (
	"errors"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Common validation errors for Dataset
var (
	ErrEmptyDatasetID       = errors.New("dataset ID cannot be empty")
	ErrEmptyDatasetFilename = errors.New("dataset filename cannot be empty")
	ErrEmptyDatasetStorage  = errors.New("dataset storage key cannot be empty")
)

// Dataset is an uploaded file that processing jobs run over.
// The pipeline only reads it; its lifecycle belongs to the upload flow.
type Dataset struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	Filename   string    `json:"filename"`
	MimeType   string    `json:"mimeType"`
	StorageKey string    `json:"storageKey"`
	SizeBytes  int64     `json:"sizeBytes"`
	CreatedAt  time.Time `json:"createdAt"`
}

// NewDataset creates a Dataset with a fresh ID and derives its storage key.
// An empty name falls back to the filename.
func NewDataset(name, filename, mimeType string, size int64) (*Dataset, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = filename
	}

	id := uuid.New()
	ds := &Dataset{
		ID:         id,
		Name:       name,
		Filename:   filename,
		MimeType:   mimeType,
		StorageKey: DatasetStorageKey(id, filename),
		SizeBytes:  size,
		CreatedAt:  time.Now().UTC(),
	}

	if err := ds.Validate(); err != nil {
		return nil, err
	}
	return ds, nil
}

// Validate checks if the Dataset has valid data.
func (d *Dataset) Validate() error {
	if d.ID == uuid.Nil {
		return ErrEmptyDatasetID
	}
	if d.Filename == "" {
		return ErrEmptyDatasetFilename
	}
	if d.StorageKey == "" {
		return ErrEmptyDatasetStorage
	}
	return nil
}

// DatasetStorageKey returns the slash-separated key the uploaded file is stored under.
// Only the base name of filename is used.
func DatasetStorageKey(id uuid.UUID, filename string) string {
	base := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if base == "." || base == "/" || base == ".." {
		base = "upload"
	}
	return "datasets/" + id.String() + "/" + base
}
