package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"sync"

	"github.com/starford/pagesync/internal/models"
	"github.com/starford/pagesync/internal/storage"
)

// JSONFile stores the state as one JSON object keyed by record id.
type JSONFile struct {
	path string
}

// NewJSONFile returns a backend for the file at path.
func NewJSONFile(path string) *JSONFile {
	return &JSONFile{path: path}
}

// Path returns the state file location.
func (b *JSONFile) Path() string { return b.path }

func (b *JSONFile) Load(_ context.Context) (map[string]models.SyncRecord, error) {
	data, err := os.ReadFile(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]models.SyncRecord{}, nil
	}
	if err != nil {
		return nil, err
	}
	records := map[string]models.SyncRecord{}
	if len(data) == 0 {
		return records, nil
	}
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode %s: %w", b.path, err)
	}
	return records, nil
}

func (b *JSONFile) Save(_ context.Context, records map[string]models.SyncRecord) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return storage.WriteFileAtomic(b.path, data, 0o644)
}

func (b *JSONFile) Close() error { return nil }

// Memory keeps state in process. Used by tests and the memory:// DSN.
type Memory struct {
	mu      sync.Mutex
	records map[string]models.SyncRecord
	saves   int
	fail    error
}

// NewMemory returns an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{records: map[string]models.SyncRecord{}}
}

func (b *Memory) Load(_ context.Context) (map[string]models.SyncRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return maps.Clone(b.records), nil
}

func (b *Memory) Save(_ context.Context, records map[string]models.SyncRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail != nil {
		return b.fail
	}
	b.records = maps.Clone(records)
	b.saves++
	return nil
}

func (b *Memory) Close() error { return nil }

// Saves returns how many times Save succeeded.
func (b *Memory) Saves() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.saves
}

// FailSaves makes every later Save return err. A nil err clears it.
func (b *Memory) FailSaves(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fail = err
}
