// Package cache memoises expensive retrieval and generation calls. A Memoizer
// guarantees at most one fresh computation per key at a time; completed
// values are served from the persisted Store afterwards.
package cache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sweetpotato0/regulatory-rag/pkg/logging"
	"golang.org/x/sync/singleflight"
)

// ErrMiss is returned by Store.Get when the key is absent.
var ErrMiss = errors.New("cache miss")

// Store persists opaque cache entries.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Key derives a stable cache key from its parts.
func Key(parts ...string) string {
	sum := md5.Sum([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// Memoizer serves JSON-encoded values from a Store and collapses concurrent
// misses for the same key into one computation.
type Memoizer[T any] struct {
	store     Store
	namespace string
	group     singleflight.Group
	logger    *slog.Logger
}

// NewMemoizer creates a memoizer; a nil store disables caching.
func NewMemoizer[T any](store Store, namespace string) *Memoizer[T] {
	return &Memoizer[T]{
		store:     store,
		namespace: namespace,
		logger:    logging.WithComponent("cache").With("namespace", namespace),
	}
}

// Do returns the cached value for key or computes, stores and returns it.
// The boolean reports whether the value came from the store. Store failures
// are logged and never fail the call.
func (m *Memoizer[T]) Do(ctx context.Context, key string, compute func(context.Context) (T, error)) (T, bool, error) {
	if m == nil || m.store == nil {
		v, err := compute(ctx)
		return v, false, err
	}
	fullKey := m.namespace + ":" + key

	if v, ok := m.load(ctx, fullKey); ok {
		return v, true, nil
	}

	type outcome struct {
		value  T
		cached bool
	}
	res, err, _ := m.group.Do(fullKey, func() (any, error) {
		if v, ok := m.load(ctx, fullKey); ok {
			return outcome{value: v, cached: true}, nil
		}
		v, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode cache entry: %w", err)
		}
		if err := m.store.Set(ctx, fullKey, data); err != nil {
			m.logger.Warn("cache write failed", "key", fullKey, "error", err)
		}
		return outcome{value: v}, nil
	})
	if err != nil {
		var zero T
		return zero, false, err
	}
	out := res.(outcome)
	return out.value, out.cached, nil
}

func (m *Memoizer[T]) load(ctx context.Context, key string) (T, bool) {
	var v T
	data, err := m.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrMiss) {
			m.logger.Warn("cache read failed", "key", key, "error", err)
		}
		return v, false
	}
	if err := json.Unmarshal(data, &v); err != nil {
		m.logger.Warn("discarding undecodable cache entry", "key", key, "error", err)
		return v, false
	}
	return v, true
}

// MemoryStore keeps entries in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string][]byte)}
}

func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.entries[key]
	if !ok {
		return nil, ErrMiss
	}
	return append([]byte(nil), v...), nil
}

func (s *MemoryStore) Set(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = append([]byte(nil), value...)
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// Len returns the number of stored entries.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// FileStore persists one JSON file per key under a directory, so cached
// answers survive restarts.
type FileStore struct {
	dir string
}

// NewFileStore creates the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("cache directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.dir, Key(key)+".json")
}

func (s *FileStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrMiss
		}
		return nil, fmt.Errorf("read cache file: %w", err)
	}
	return data, nil
}

// Set writes through a temp file and rename so readers never observe a
// partially written entry.
func (s *FileStore) Set(ctx context.Context, key string, value []byte) error {
	tmp, err := os.CreateTemp(s.dir, "entry-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp cache file: %w", err)
	}
	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close cache file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path(key)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("commit cache file: %w", err)
	}
	return nil
}

func (s *FileStore) Delete(ctx context.Context, key string) error {
	if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete cache file: %w", err)
	}
	return nil
}
