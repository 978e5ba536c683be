package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"voc-insights-go/internal/logger"
	"voc-insights-go/internal/types"
)

const DocumentName = "monthly_data.json"

// FileStore keeps every snapshot in a single JSON document.
//
// Writes are read-modify-write over the whole document. The mutex serializes
// writers inside one process and the temp file + rename keeps a crash from
// truncating the document; separate processes writing at once can still lose
// an update.
type FileStore struct {
	path string
	mu   sync.Mutex
	log  *logrus.Entry
}

// NewFileStore stores the document as dir/monthly_data.json.
func NewFileStore(dir string) *FileStore {
	path := filepath.Join(dir, DocumentName)
	return &FileStore{
		path: path,
		log:  logger.Component("store.file").WithField("path", path),
	}
}

func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Save(_ context.Context, snap types.Snapshot) (string, error) {
	if _, err := KeyFor(snap.Month, snap.Country()); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return "", err
	}
	key, migrated, err := merge(doc, snap)
	if err != nil {
		return "", err
	}
	if migrated {
		s.log.WithFields(logrus.Fields{"from": snap.Month, "to": key}).Info("migrated legacy key")
	}
	if err := s.write(doc); err != nil {
		return "", err
	}
	s.log.WithField("key", key).Info("snapshot saved")
	return key, nil
}

func (s *FileStore) LoadAll(_ context.Context) (*types.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

func (s *FileStore) Delete(_ context.Context, key string) error {
	if _, err := ParseKey(key); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return err
	}
	if _, ok := doc.Months[key]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	delete(doc.Months, key)
	if err := s.write(doc); err != nil {
		return err
	}
	s.log.WithField("key", key).Info("snapshot deleted")
	return nil
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) read() (*types.Document, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return types.NewDocument(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	var doc types.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		s.log.WithField("error", err.Error()).Error("document is not valid JSON")
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, s.path, err)
	}
	if doc.Months == nil {
		doc.Months = map[string]types.Snapshot{}
	}
	return &doc, nil
}

// write encodes the document with two-space indent and raw UTF-8, then
// atomically replaces the file.
func (s *FileStore) write(doc *types.Document) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode document: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, DocumentName+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace %s: %w", s.path, err)
	}
	return nil
}
