// mock_storage.go - In-memory layout store and count source for tests
package testutil

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/karastat/heatmap/internal/models"
	"github.com/karastat/heatmap/internal/storage"
)

type mockLayout struct {
	info *models.FileInfo
	data []byte
}

// MockStorage implements storage.Store in memory
type MockStorage struct {
	mu      sync.RWMutex
	layouts map[string]*mockLayout
	nextID  atomic.Int64

	// SaveErr, when set, is returned by every save
	SaveErr error
}

var _ storage.Store = (*MockStorage)(nil)

// NewMockStorage creates an empty mock storage
func NewMockStorage() *MockStorage {
	return &MockStorage{layouts: make(map[string]*mockLayout)}
}

// lookup requires m.mu to be held.
func (m *MockStorage) lookup(id string) (*mockLayout, error) {
	l, ok := m.layouts[id]
	if !ok {
		return nil, fmt.Errorf("layout %s: %w", id, storage.ErrNotFound)
	}
	return l, nil
}

func (m *MockStorage) Save(name string, r io.Reader) (*models.FileInfo, error) {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, err
	}
	return m.SaveBytes(name, buf.Bytes())
}

func (m *MockStorage) SaveBytes(name string, data []byte) (*models.FileInfo, error) {
	if m.SaveErr != nil {
		return nil, m.SaveErr
	}
	id := fmt.Sprintf("layout-%d", m.nextID.Add(1))
	return m.AddFile(id, name, data), nil
}

func (m *MockStorage) Get(id string) (*models.FileInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	return l.info, nil
}

// List returns layouts newest first; limit <= 0 returns all of them.
func (m *MockStorage) List(limit int) ([]*models.FileInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	infos := make([]*models.FileInfo, 0, len(m.layouts))
	for _, l := range m.layouts {
		infos = append(infos, l.info)
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].UploadedAt.After(infos[j].UploadedAt)
	})
	if limit > 0 && len(infos) > limit {
		infos = infos[:limit]
	}
	return infos, nil
}

func (m *MockStorage) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.lookup(id); err != nil {
		return err
	}
	delete(m.layouts, id)
	return nil
}

func (m *MockStorage) Rename(id string, newName string) (*models.FileInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	l.info.Name = newName
	return l.info, nil
}

func (m *MockStorage) SetRegions(id string, regions int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, err := m.lookup(id)
	if err != nil {
		return err
	}
	l.info.Regions = regions
	return nil
}

func (m *MockStorage) ReadFile(id string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	return l.data, nil
}

func (m *MockStorage) GetFilePath(id string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, err := m.lookup(id); err != nil {
		return "", err
	}
	return "/mock/layouts/" + id + ".svg", nil
}

// AddFile stores a layout under a fixed id, bypassing SaveErr
func (m *MockStorage) AddFile(id string, name string, data []byte) *models.FileInfo {
	info := &models.FileInfo{
		ID:         id,
		Name:       name,
		Size:       int64(len(data)),
		UploadedAt: time.Now(),
		Status:     "uploaded",
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.layouts[id] = &mockLayout{info: info, data: data}
	return info
}

// GetFileCount returns the number of stored layouts
func (m *MockStorage) GetFileCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.layouts)
}

// StaticCounts is a count source whose rows can be swapped between polls
type StaticCounts struct {
	mu     sync.Mutex
	counts []models.KeyCount
	err    error
	closed bool
}

// NewStaticCounts creates a source serving counts
func NewStaticCounts(counts ...models.KeyCount) *StaticCounts {
	return &StaticCounts{counts: counts}
}

// KeyCounts returns a copy of the current rows
func (s *StaticCounts) KeyCounts(ctx context.Context) ([]models.KeyCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errors.New("source closed")
	}
	if s.err != nil {
		return nil, s.err
	}
	return append([]models.KeyCount(nil), s.counts...), nil
}

// Set replaces the rows
func (s *StaticCounts) Set(counts ...models.KeyCount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts = counts
}

// Fail makes every read return err until it is cleared with nil
func (s *StaticCounts) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Close marks the source closed
func (s *StaticCounts) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
