package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileStore keeps every entry in a single JSON document. Writes go through a
// temp file and rename, guarded by an advisory lock on path+".lock" so two
// processes sharing the file do not interleave read-modify-write cycles.
type FileStore struct {
	path string
	mu   sync.Mutex
}

type fileStoreState struct {
	Entries map[string][]byte `json:"entries"`
}

func NewFileStore(path string) (*FileStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidInput
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return &FileStore{path: path}, nil
}

func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Get(ctx context.Context, key string) ([]byte, error) {
	if strings.TrimSpace(key) == "" {
		return nil, ErrInvalidInput
	}
	var value []byte
	err := s.withLock(ctx, func() error {
		state, err := s.readLocked()
		if err != nil {
			return err
		}
		stored, ok := state.Entries[key]
		if !ok {
			return ErrNotFound
		}
		value = cloneBytes(stored)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (s *FileStore) Set(ctx context.Context, key string, value []byte) error {
	if strings.TrimSpace(key) == "" {
		return ErrInvalidInput
	}
	return s.withLock(ctx, func() error {
		state, err := s.readLocked()
		if err != nil {
			return err
		}
		state.Entries[key] = cloneBytes(value)
		return s.writeLocked(state)
	})
}

func (s *FileStore) Delete(ctx context.Context, key string) error {
	if strings.TrimSpace(key) == "" {
		return ErrInvalidInput
	}
	return s.withLock(ctx, func() error {
		state, err := s.readLocked()
		if err != nil {
			return err
		}
		if _, ok := state.Entries[key]; !ok {
			return nil
		}
		delete(state.Entries, key)
		return s.writeLocked(state)
	})
}

func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) withLock(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	unlock, err := lockFile(s.path + ".lock")
	if err != nil {
		return err
	}
	defer unlock()
	return fn()
}

func (s *FileStore) readLocked() (fileStoreState, error) {
	state := fileStoreState{Entries: map[string][]byte{}}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return state, nil
		}
		return state, err
	}
	if len(data) == 0 {
		return state, nil
	}
	if err := json.Unmarshal(data, &state); err != nil {
		return state, err
	}
	if state.Entries == nil {
		state.Entries = map[string][]byte{}
	}
	return state, nil
}

func (s *FileStore) writeLocked(state fileStoreState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return writeFileAtomic(s.path, data, 0o600)
}

func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmpFile.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()
	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Chmod(mode); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return nil
}
