package model

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// RegistryFile is the default name of the versions file inside the model dir.
const RegistryFile = "model_versions.json"

// Version is one registered model.
type Version struct {
	Version   string             `json:"version"`
	Path      string             `json:"path"`
	Kind      string             `json:"kind"`
	CreatedAt time.Time          `json:"created_at"`
	Metrics   map[string]float64 `json:"metrics,omitempty"`
	Params    map[string]float64 `json:"params,omitempty"`
	IsActive  bool               `json:"is_active"`
}

// Registry keeps the list of trained versions and which one serves.
type Registry struct {
	mu       sync.Mutex
	path     string
	versions []Version
}

// OpenRegistry loads the versions file at path; a missing file is an empty
// registry.
func OpenRegistry(path string) (*Registry, error) {
	r := &Registry{path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, fmt.Errorf("read registry: %w", err)
	}
	if err := json.Unmarshal(data, &r.versions); err != nil {
		return nil, fmt.Errorf("decode registry %s: %w", path, err)
	}
	r.sortLocked()
	return r, nil
}

// AddVersion registers v (inactive). Versions are unique.
func (r *Registry) AddVersion(v Version) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if v.Version == "" || v.Path == "" {
		return fmt.Errorf("version and path are required")
	}
	for _, existing := range r.versions {
		if existing.Version == v.Version {
			return fmt.Errorf("version %s already registered", v.Version)
		}
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	v.IsActive = false
	r.versions = append(r.versions, v)
	r.sortLocked()
	return r.saveLocked()
}

// Activate makes version the serving version.
func (r *Registry) Activate(version string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activateLocked(version)
}

// Rollback activates the version registered just before the active one.
func (r *Registry) Rollback() (Version, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := -1
	for i, v := range r.versions {
		if v.IsActive {
			current = i
			break
		}
	}
	if current == -1 {
		return Version{}, fmt.Errorf("no active version found")
	}
	// versions are newest first
	if current+1 >= len(r.versions) {
		return Version{}, fmt.Errorf("no previous version available for rollback")
	}
	prev := r.versions[current+1]
	if err := r.activateLocked(prev.Version); err != nil {
		return Version{}, err
	}
	log.Info().Str("from", r.versions[current].Version).Str("to", prev.Version).Msg("model rolled back")
	return r.versions[current+1], nil
}

// Current returns the active version.
func (r *Registry) Current() (Version, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range r.versions {
		if v.IsActive {
			return v, true
		}
	}
	return Version{}, false
}

// List returns all versions, newest first.
func (r *Registry) List() []Version {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Version(nil), r.versions...)
}

func (r *Registry) activateLocked(version string) error {
	found := false
	for _, v := range r.versions {
		if v.Version == version {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("version %s not found", version)
	}
	for i := range r.versions {
		r.versions[i].IsActive = r.versions[i].Version == version
	}
	return r.saveLocked()
}

func (r *Registry) sortLocked() {
	sort.SliceStable(r.versions, func(i, j int) bool {
		return r.versions[i].CreatedAt.After(r.versions[j].CreatedAt)
	})
}

func (r *Registry) saveLocked() error {
	data, err := json.MarshalIndent(r.versions, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(r.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(r.path, data, 0o600)
}
