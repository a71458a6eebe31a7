package repository

import (
	"context"
	"sync"

	domain "github.com/mohammadpnp/contact-import/internal/domain/importing"
)

type MemoryFileStore struct {
	mu    sync.Mutex
	files map[string][]byte
}

func NewMemoryFileStore() *MemoryFileStore {
	return &MemoryFileStore{files: map[string][]byte{}}
}

func (s *MemoryFileStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[key] = append([]byte(nil), data...)
	return nil
}

func (s *MemoryFileStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.files[key]
	if !ok {
		return nil, domain.ErrFileNotFound
	}
	return append([]byte(nil), data...), nil
}

func (s *MemoryFileStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.files[key]; !ok {
		return domain.ErrFileNotFound
	}
	delete(s.files, key)
	return nil
}

func (s *MemoryFileStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.files)
}
