// Package settings is the persistence collaborator for user preferences:
// the default model per capability family and the custom-model registry
// entries. The broker treats these as opaque key-value reads/writes.
package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"inferd/internal/common/fsutil"
	"inferd/pkg/types"
)

// CustomModel is a user-registered model entry.
type CustomModel struct {
	HuggingFaceID string             `json:"hugging_face_id"`
	DisplayName   string             `json:"display_name"`
	Capabilities  []types.Capability `json:"capabilities"`
	Backend       types.BackendKind  `json:"backend"`
}

type fileData struct {
	DefaultModels map[types.Capability]string `json:"default_models"`
	CustomModels  []CustomModel               `json:"custom_models"`
}

// Store reads and writes the settings JSON file. Writes replace the whole
// file; a half-written file is never observed because the write goes
// through a rename.
type Store struct {
	mu   sync.Mutex
	path string
	data fileData
}

// Open loads the store at path, creating parent directories as needed.
// A missing file is an empty store, not an error.
func Open(path string) (*Store, error) {
	expanded, err := fsutil.ExpandHome(path)
	if err != nil {
		return nil, err
	}
	s := &Store{path: expanded, data: fileData{DefaultModels: map[types.Capability]string{}}}
	if !fsutil.PathExists(expanded) {
		return s, nil
	}
	b, err := os.ReadFile(expanded)
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}
	if err := json.Unmarshal(b, &s.data); err != nil {
		return nil, fmt.Errorf("parse settings: %w", err)
	}
	if s.data.DefaultModels == nil {
		s.data.DefaultModels = map[types.Capability]string{}
	}
	return s, nil
}

// DefaultModel returns the user's default model id for a capability.
func (s *Store) DefaultModel(cap types.Capability) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.data.DefaultModels[cap]
	return id, ok
}

// SetDefaultModel sets and persists the default model for a capability.
func (s *Store) SetDefaultModel(cap types.Capability, modelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.DefaultModels[cap] = modelID
	return s.save()
}

// CustomModels returns a copy of the registered custom model entries.
func (s *Store) CustomModels() []CustomModel {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CustomModel, len(s.data.CustomModels))
	copy(out, s.data.CustomModels)
	return out
}

// AddCustomModel appends and persists a custom model entry. An entry with
// the same HuggingFaceID and backend replaces the existing one.
func (s *Store) AddCustomModel(m CustomModel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, cur := range s.data.CustomModels {
		if cur.HuggingFaceID == m.HuggingFaceID && cur.Backend == m.Backend {
			s.data.CustomModels[i] = m
			return s.save()
		}
	}
	s.data.CustomModels = append(s.data.CustomModels, m)
	return s.save()
}

func (s *Store) save() error {
	if s.path == "" {
		return nil
	}
	b, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(s.path, b, 0o644)
}
