// Package storage provides the persistence collaborators: a JSON file config
// store, and a SQL store for detector checkpoints and the processed-record
// log.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	spc "github.com/sundaman/defect-warning-system"
)

// globalConfigKey is the reserved document holding the global defaults
// patch. It never appears in List results.
const globalConfigKey = "__GLOBAL_CONFIG__"

// JSONConfigStore persists per-detector configuration patches in one JSON
// document file. Every write rewrites the file atomically via a temp file
// and rename.
type JSONConfigStore struct {
	path string

	mu sync.Mutex
	// Guarded by mu
	docs map[string]spc.ConfigPatch
}

var _ spc.ConfigStore = (*JSONConfigStore)(nil)

// NewJSONConfigStore opens or creates the store at path.
func NewJSONConfigStore(path string) (*JSONConfigStore, error) {
	s := &JSONConfigStore{path: path, docs: make(map[string]spc.ConfigPatch)}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config store: %w", err)
	}
	if err := json.Unmarshal(data, &s.docs); err != nil {
		return nil, fmt.Errorf("parse config store %s: %w", path, err)
	}
	return s, nil
}

func (s *JSONConfigStore) Get(key string) (spc.ConfigPatch, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	patch, ok := s.docs[key]
	return patch, ok, nil
}

func (s *JSONConfigStore) Set(key string, patch spc.ConfigPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[key] = patch.Merge(s.docs[key])
	return s.save()
}

func (s *JSONConfigStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[key]; !ok {
		return nil
	}
	delete(s.docs, key)
	return s.save()
}

func (s *JSONConfigStore) List() (map[string]spc.ConfigPatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]spc.ConfigPatch, len(s.docs))
	for k, v := range s.docs {
		if k == globalConfigKey {
			continue
		}
		out[k] = v
	}
	return out, nil
}

func (s *JSONConfigStore) Global() (spc.ConfigPatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.docs[globalConfigKey], nil
}

func (s *JSONConfigStore) SetGlobal(patch spc.ConfigPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[globalConfigKey] = patch.Merge(s.docs[globalConfigKey])
	return s.save()
}

// Requires external locking
func (s *JSONConfigStore) save() error {
	data, err := json.MarshalIndent(s.docs, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".configs-*.json")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}
