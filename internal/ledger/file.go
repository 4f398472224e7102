package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"gender-classifier/internal/ml"
)

// FileStore keeps the ledger in a single JSON file. Every Update reads the
// whole file and rewrites it with an atomic rename.
type FileStore struct {
	mu     sync.Mutex
	path   string
	closed bool
}

// NewFileStore opens path, creating a zero ledger when the file does not exist.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path}

	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		if err := s.write(Ledger{}); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, fmt.Errorf("stat ledger: %w", err)
	}

	// surface a corrupt file at startup rather than on the first feedback
	if _, err := s.read(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) Load(ctx context.Context) (Ledger, error) {
	if err := ctx.Err(); err != nil {
		return Ledger{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Ledger{}, ErrClosed
	}
	return s.read()
}

func (s *FileStore) Update(ctx context.Context, fn func(*Ledger) error) (Ledger, error) {
	if err := ctx.Err(); err != nil {
		return Ledger{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Ledger{}, ErrClosed
	}

	l, err := s.read()
	if err != nil {
		return Ledger{}, err
	}
	if err := fn(&l); err != nil {
		return Ledger{}, err
	}
	if err := s.write(l); err != nil {
		return Ledger{}, err
	}
	return l, nil
}

func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *FileStore) read() (Ledger, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Ledger{}, nil
		}
		return Ledger{}, fmt.Errorf("%w: read ledger: %v", ml.ErrPersistence, err)
	}

	var l Ledger
	if err := json.Unmarshal(data, &l); err != nil {
		return Ledger{}, fmt.Errorf("%w: parse ledger %s: %v", ml.ErrPersistence, s.path, err)
	}
	return l, nil
}

func (s *FileStore) write(l Ledger) error {
	data, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal ledger: %v", ml.ErrPersistence, err)
	}
	if err := ml.WriteFileAtomic(s.path, data, 0o644); err != nil {
		return fmt.Errorf("%w: write ledger: %v", ml.ErrPersistence, err)
	}
	return nil
}
