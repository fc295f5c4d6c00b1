package operation

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"setupwiz/internal/domain"
)

// FileStore mirrors the operation list to one JSON file.
type FileStore struct {
	path string
}

// NewFileStore creates the parent directory of path.
func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("operationstore: create dir: %w", err)
	}
	return &FileStore{path: path}, nil
}

// Load returns the mirrored records, oldest first. A missing file is empty.
func (s *FileStore) Load() ([]domain.OperationRecord, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, domain.WrapOp("operationstore: read", err)
	}

	var recs []domain.OperationRecord
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(s.path), err)
	}
	return recs, nil
}

// Save replaces the file contents atomically.
func (s *FileStore) Save(recs []domain.OperationRecord) error {
	if recs == nil {
		recs = []domain.OperationRecord{}
	}
	return writeJSON(s.path, recs)
}

// writeJSON atomically writes v as indented JSON to path.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return domain.WrapOp("marshal", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return domain.WrapOp("write", err)
	}
	return os.Rename(tmp, path)
}
