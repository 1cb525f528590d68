package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
)

type memoryDocument struct {
	Content []byte `json:"content"`
	Version string `json:"version"`
}

type memorySnapshot struct {
	RevCounter int64                     `json:"revCounter"`
	Documents  map[string]memoryDocument `json:"documents"`
}

// MemoryStore keeps documents in process. With a snapshot path set, every
// mutation is persisted to a JSON file and reloaded on construction.
type MemoryStore struct {
	mu         sync.RWMutex
	docs       map[string]memoryDocument
	revCounter int64
	snapshot   string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: map[string]memoryDocument{}}
}

func NewFileBackedMemoryStore(snapshotPath string) (*MemoryStore, error) {
	s := NewMemoryStore()
	s.snapshot = strings.TrimSpace(snapshotPath)
	if s.snapshot == "" {
		return nil, fmt.Errorf("%w: snapshot path is required", ErrInvalidDSN)
	}
	data, err := os.ReadFile(s.snapshot)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}
	var snap memorySnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", s.snapshot, err)
	}
	if snap.Documents != nil {
		s.docs = snap.Documents
	}
	s.revCounter = snap.RevCounter
	return s, nil
}

func (s *MemoryStore) Get(ctx context.Context, p string) (Document, error) {
	p, err := cleanDocumentPath(p)
	if err != nil {
		return Document{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[p]
	if !ok {
		return Document{}, fmt.Errorf("%w: %s", ErrNotFound, p)
	}
	return Document{Path: p, Content: append([]byte(nil), doc.Content...), Version: doc.Version}, nil
}

func (s *MemoryStore) Put(ctx context.Context, p string, content []byte, expectedVersion string) (string, error) {
	p, err := cleanDocumentPath(p)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hasDirLocked(p) {
		return "", fmt.Errorf("%w: %s is a directory", ErrInvalidPath, p)
	}
	existing, exists := s.docs[p]
	switch {
	case !exists && expectedVersion != "":
		return "", &ConflictError{Path: p, ExpectedVersion: expectedVersion}
	case exists && expectedVersion != existing.Version:
		return "", &ConflictError{Path: p, ExpectedVersion: expectedVersion, CurrentVersion: existing.Version}
	}
	version := s.nextRevisionLocked()
	s.docs[p] = memoryDocument{Content: append([]byte(nil), content...), Version: version}
	if err := s.saveLocked(); err != nil {
		return "", err
	}
	return version, nil
}

func (s *MemoryStore) List(ctx context.Context, p string) ([]Entry, error) {
	p, err := CleanPath(p)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if doc, ok := s.docs[p]; ok {
		return []Entry{{Name: path.Base(p), Path: p, Type: EntryFile, Version: doc.Version}}, nil
	}
	versions := make(map[string]string, len(s.docs))
	for docPath, doc := range s.docs {
		versions[docPath] = doc.Version
	}
	entries := childEntries(p, versions)
	if len(entries) == 0 && p != "" {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, p)
	}
	return entries, nil
}

func (s *MemoryStore) Delete(ctx context.Context, p, version string) error {
	p, err := cleanDocumentPath(p)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.docs[p]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, p)
	}
	if version != existing.Version {
		return &ConflictError{Path: p, ExpectedVersion: version, CurrentVersion: existing.Version}
	}
	delete(s.docs, p)
	return s.saveLocked()
}

// Len reports the number of stored documents.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

func (s *MemoryStore) hasDirLocked(p string) bool {
	prefix := p + "/"
	for docPath := range s.docs {
		if strings.HasPrefix(docPath, prefix) {
			return true
		}
	}
	return false
}

func (s *MemoryStore) nextRevisionLocked() string {
	s.revCounter++
	return fmt.Sprintf("rev_%d", s.revCounter)
}

func (s *MemoryStore) saveLocked() error {
	if s.snapshot == "" {
		return nil
	}
	data, err := json.Marshal(memorySnapshot{RevCounter: s.revCounter, Documents: s.docs})
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.snapshot)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := s.snapshot + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.snapshot)
}
