package fingerprint

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"
)

// fileFormat is the on-disk JSON document. The version field exists so a
// future format change can migrate old files instead of discarding them.
type fileFormat struct {
	Version      string            `json:"version"`
	UpdatedAt    time.Time         `json:"updated_at"`
	Fingerprints map[string]Record `json:"fingerprints"`
}

const fileVersion = "1"

// FileStore is a Store backed by a single JSON file.
//
// Writes are replace-on-write: the new document is written to a temp file
// in the same directory and renamed over the old one, so a crash mid-write
// never corrupts the existing mapping.
type FileStore struct {
	path   string
	logger *log.Logger
}

// NewFileStore creates a file-backed store at path.
//
// The file does not need to exist yet; the first Load on a fresh path
// returns an empty mapping. If logger is nil, a default logger writing to
// stderr is used.
func NewFileStore(path string, logger *log.Logger) *FileStore {
	if logger == nil {
		logger = log.New(os.Stderr, "[fingerprint] ", log.LstdFlags)
	}
	return &FileStore{path: path, logger: logger}
}

// Path returns the file path backing this store.
func (s *FileStore) Path() string {
	return s.path
}

// Load implements Store.Load.
//
// A missing file is a first run and yields an empty mapping. A file that
// exists but cannot be parsed is treated the same way after a warning:
// starting fresh costs one full re-verification run, whereas refusing to
// start would wedge the sync entirely.
func (s *FileStore) Load() (map[string]Record, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return make(map[string]Record), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read fingerprint file: %w", err)
	}

	var doc fileFormat
	if err := json.Unmarshal(data, &doc); err != nil {
		s.logger.Printf("WARNING: fingerprint file %s is corrupted, starting fresh: %v", s.path, err)
		return make(map[string]Record), nil
	}

	if doc.Fingerprints == nil {
		doc.Fingerprints = make(map[string]Record)
	}
	return doc.Fingerprints, nil
}

// Save implements Store.Save.
func (s *FileStore) Save(records map[string]Record) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create fingerprint directory: %w", err)
	}

	doc := fileFormat{
		Version:      fileVersion,
		UpdatedAt:    time.Now().UTC(),
		Fingerprints: records,
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal fingerprints: %w", err)
	}

	// Write atomically via temp file
	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}
