package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// FileName is the storage document inside the storage directory.
const FileName = "storage.json"

const lockFileName = "storage.lock"

// FileStore keeps all keys in one JSON document. Each write is a
// read-modify-write under an advisory file lock, and the document is
// replaced atomically with a rename, so concurrent processes never see a
// torn file. The last writer's origin id is recorded so a process can
// tell its own writes from others'.
type FileStore struct {
	mu     sync.Mutex
	dir    string
	path   string
	origin string
	closed bool
}

// NewFileStore opens (creating if needed) a store in dir.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &FileStore{
		dir:    dir,
		path:   filepath.Join(dir, FileName),
		origin: uuid.NewString(),
	}, nil
}

// Dir returns the storage directory.
func (s *FileStore) Dir() string { return s.dir }

// Path returns the storage document path.
func (s *FileStore) Path() string { return s.path }

// Origin returns the id stamped on this store's writes.
func (s *FileStore) Origin() string { return s.origin }

// Get implements Store.
func (s *FileStore) Get(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", false, ErrClosed
	}

	snap, err := s.read()
	if err != nil {
		return "", false, err
	}
	v, ok := snap.Items[key]
	return v, ok, nil
}

// Set implements Store.
func (s *FileStore) Set(key, value string) error {
	return s.Update(func(items map[string]string) {
		items[key] = value
	})
}

// Remove implements Store.
func (s *FileStore) Remove(keys ...string) error {
	return s.Update(func(items map[string]string) {
		for _, k := range keys {
			delete(items, k)
		}
	})
}

// ReadSnapshot returns the whole document including the last writer.
func (s *FileStore) ReadSnapshot() (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Snapshot{}, ErrClosed
	}
	return s.read()
}

// Close marks the store closed. Later calls return ErrClosed.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Update implements Store. fn runs while the storage lock is held, so
// no other process can write between the read and the write.
func (s *FileStore) Update(fn func(items map[string]string)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	unlock, err := lockFile(filepath.Join(s.dir, lockFileName))
	if err != nil {
		return fmt.Errorf("failed to lock storage: %w", err)
	}
	defer unlock()

	snap, err := s.read()
	if err != nil && !errors.Is(err, ErrCorrupt) {
		return err
	}
	fn(snap.Items)
	snap.Origin = s.origin
	return s.write(snap)
}

// read loads the document. A missing file is an empty store.
func (s *FileStore) read() (Snapshot, error) {
	snap := Snapshot{Items: make(map[string]string)}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return snap, nil
		}
		return snap, fmt.Errorf("failed to read storage file: %w", err)
	}
	if len(data) == 0 {
		return snap, nil
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{Items: make(map[string]string)}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if snap.Items == nil {
		snap.Items = make(map[string]string)
	}
	return snap, nil
}

func (s *FileStore) write(snap Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal storage: %w", err)
	}

	tmpFile := s.path + "." + s.origin[:8] + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0600); err != nil {
		return fmt.Errorf("failed to write storage file: %w", err)
	}
	if err := os.Rename(tmpFile, s.path); err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("failed to rename storage file: %w", err)
	}
	return nil
}
