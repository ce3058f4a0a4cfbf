package storage

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/karastat/heatmap/internal/models"
	"gopkg.in/yaml.v3"
)

// indexFile holds layout metadata next to the stored diagrams.
const indexFile = "index.yaml"

// ErrNotFound is returned for unknown layout ids.
var ErrNotFound = errors.New("layout not found")

// Store defines the interface for diagram layout storage.
type Store interface {
	Save(name string, r io.Reader) (*models.FileInfo, error)
	SaveBytes(name string, data []byte) (*models.FileInfo, error)
	Get(id string) (*models.FileInfo, error)
	List(limit int) ([]*models.FileInfo, error)
	Delete(id string) error
	Rename(id string, newName string) (*models.FileInfo, error)
	SetRegions(id string, regions int) error
	ReadFile(id string) ([]byte, error)
	GetFilePath(id string) (string, error)
}

// LocalStore keeps diagrams as <id>.svg files in one directory. Metadata
// survives restarts through an index file next to them.
type LocalStore struct {
	mu        sync.RWMutex
	layoutDir string
	layouts   map[string]*models.FileInfo
}

// NewLocalStore creates a LocalStore rooted at layoutDir and loads any
// existing index.
func NewLocalStore(layoutDir string) (*LocalStore, error) {
	if err := os.MkdirAll(layoutDir, 0755); err != nil {
		return nil, fmt.Errorf("creating layout directory: %w", err)
	}

	s := &LocalStore{
		layoutDir: layoutDir,
		layouts:   make(map[string]*models.FileInfo),
	}
	if err := s.loadIndex(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *LocalStore) diagramPath(id string) string {
	return filepath.Join(s.layoutDir, id+".svg")
}

// lookup requires s.mu to be held.
func (s *LocalStore) lookup(id string) (*models.FileInfo, error) {
	info, ok := s.layouts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return info, nil
}

func (s *LocalStore) loadIndex() error {
	data, err := os.ReadFile(filepath.Join(s.layoutDir, indexFile))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading layout index: %w", err)
	}

	var entries []*models.FileInfo
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("parsing layout index: %w", err)
	}
	for _, info := range entries {
		// drop entries whose diagram was removed by hand
		if _, err := os.Stat(s.diagramPath(info.ID)); err != nil {
			continue
		}
		s.layouts[info.ID] = info
	}
	return nil
}

// writeAtomic replaces path through a temporary file in the same directory.
func writeAtomic(path string, r io.Reader) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return 0, err
	}
	size, err := io.Copy(tmp, r)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return 0, err
	}
	return size, os.Rename(tmp.Name(), path)
}

// saveIndex writes the metadata index, oldest first. Callers hold s.mu.
func (s *LocalStore) saveIndex() error {
	entries := make([]*models.FileInfo, 0, len(s.layouts))
	for _, info := range s.layouts {
		entries = append(entries, info)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].UploadedAt.Before(entries[j].UploadedAt)
	})

	data, err := yaml.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encoding layout index: %w", err)
	}
	if _, err := writeAtomic(filepath.Join(s.layoutDir, indexFile), bytes.NewReader(data)); err != nil {
		return fmt.Errorf("writing layout index: %w", err)
	}
	return nil
}

// Save stores a diagram under a new id.
func (s *LocalStore) Save(name string, r io.Reader) (*models.FileInfo, error) {
	id := uuid.New().String()

	size, err := writeAtomic(s.diagramPath(id), r)
	if err != nil {
		return nil, fmt.Errorf("writing layout %s: %w", name, err)
	}

	info := &models.FileInfo{
		ID:         id,
		Name:       name,
		Size:       size,
		UploadedAt: time.Now(),
		Status:     "uploaded",
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.layouts[id] = info
	if err := s.saveIndex(); err != nil {
		return nil, err
	}
	return info, nil
}

// SaveBytes stores an in-memory diagram.
func (s *LocalStore) SaveBytes(name string, data []byte) (*models.FileInfo, error) {
	return s.Save(name, bytes.NewReader(data))
}

func (s *LocalStore) Get(id string) (*models.FileInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lookup(id)
}

// List returns layouts newest first. A non-positive limit returns all of them.
func (s *LocalStore) List(limit int) ([]*models.FileInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recent := make([]*models.FileInfo, 0, len(s.layouts))
	for _, info := range s.layouts {
		recent = append(recent, info)
	}
	sort.Slice(recent, func(i, j int) bool {
		return recent[i].UploadedAt.After(recent[j].UploadedAt)
	})
	if limit > 0 && len(recent) > limit {
		recent = recent[:limit]
	}
	return recent, nil
}

// Delete removes the diagram and its index entry.
func (s *LocalStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.lookup(id); err != nil {
		return err
	}
	if err := os.Remove(s.diagramPath(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting layout %s: %w", id, err)
	}
	delete(s.layouts, id)
	return s.saveIndex()
}

// Rename updates the display name of a layout.
func (s *LocalStore) Rename(id string, newName string) (*models.FileInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	info.Name = newName
	if err := s.saveIndex(); err != nil {
		return nil, err
	}
	return info, nil
}

// SetRegions records how many key regions the diagram has.
func (s *LocalStore) SetRegions(id string, regions int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := s.lookup(id)
	if err != nil {
		return err
	}
	info.Regions = regions
	return s.saveIndex()
}

// ReadFile returns the stored diagram markup.
func (s *LocalStore) ReadFile(id string) ([]byte, error) {
	path, err := s.GetFilePath(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading layout %s: %w", id, err)
	}
	return data, nil
}

// GetFilePath returns the path of a stored diagram.
func (s *LocalStore) GetFilePath(id string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, err := s.lookup(id); err != nil {
		return "", err
	}
	return s.diagramPath(id), nil
}
