package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"toolrun/internal/runtimeerr"
)

// DefaultProfileName is reserved: it always exists and cannot be deleted.
const DefaultProfileName = "default"

// PermissionProfile is a named set of permission grants a host can apply
// to a chain execution or a single tool call.
type PermissionProfile struct {
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
	Description string   `json:"description,omitempty"`
}

// PermissionProfileService is the only persisted state the core owns: one
// JSON file per profile under a user-config directory.
type PermissionProfileService struct {
	mu      sync.Mutex
	baseDir string
}

// NewPermissionProfileService creates a service rooted at baseDir. If
// baseDir is empty, it defaults to "<home>/.andy/permissions".
func NewPermissionProfileService(baseDir string) (*PermissionProfileService, error) {
	if baseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, runtimeerr.Wrap(err, runtimeerr.CodeInternal, "resolving home directory")
		}
		baseDir = filepath.Join(home, ".andy", "permissions")
	}
	svc := &PermissionProfileService{baseDir: baseDir}
	if err := svc.ensureDefault(); err != nil {
		return nil, err
	}
	return svc, nil
}

func (s *PermissionProfileService) ensureDefault() error {
	if err := os.MkdirAll(s.baseDir, 0755); err != nil {
		return runtimeerr.Wrap(err, runtimeerr.CodeStorageWrite, "creating permission profile directory")
	}
	if _, err := s.Load(DefaultProfileName); err == nil {
		return nil
	}
	return s.Save(PermissionProfile{Name: DefaultProfileName, Permissions: []string{}})
}

func (s *PermissionProfileService) path(name string) string {
	return filepath.Join(s.baseDir, fmt.Sprintf("%s.json", name))
}

// Load reads a profile from disk.
func (s *PermissionProfileService) Load(name string) (PermissionProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(name))
	if err != nil {
		return PermissionProfile{}, runtimeerr.Classify(err)
	}
	var p PermissionProfile
	if err := json.Unmarshal(data, &p); err != nil {
		return PermissionProfile{}, runtimeerr.Wrap(err, runtimeerr.CodeStorageNotFound, "decoding permission profile")
	}
	return p, nil
}

// Save writes a profile to disk, creating or overwriting its file.
func (s *PermissionProfileService) Save(p PermissionProfile) error {
	if p.Name == "" {
		return runtimeerr.New(runtimeerr.CodeInvalidArgument, "permission profile name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return runtimeerr.Wrap(err, runtimeerr.CodeInternal, "encoding permission profile")
	}
	if err := os.WriteFile(s.path(p.Name), data, 0644); err != nil {
		return runtimeerr.Wrap(err, runtimeerr.CodeStorageWrite, "writing permission profile")
	}
	return nil
}

// Delete removes a profile. The "default" profile is reserved and cannot
// be deleted.
func (s *PermissionProfileService) Delete(name string) error {
	if name == DefaultProfileName {
		return runtimeerr.New(runtimeerr.CodePermissionDenied, "the default permission profile cannot be deleted")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(name)); err != nil {
		return runtimeerr.Classify(err)
	}
	return nil
}

// List returns the names of all stored profiles.
func (s *PermissionProfileService) List() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, runtimeerr.Wrap(err, runtimeerr.CodeStorageNotFound, "listing permission profiles")
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		const suffix = ".json"
		if len(name) > len(suffix) && name[len(name)-len(suffix):] == suffix {
			names = append(names, name[:len(name)-len(suffix)])
		}
	}
	return names, nil
}
