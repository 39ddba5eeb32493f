package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/multicloud-portal/portal/internal/models"
)

// State is what deployctl remembers between runs.
type State struct {
	APIURL  string      `yaml:"api_url,omitempty"`
	Token   string      `yaml:"token,omitempty"`
	Email   string      `yaml:"email,omitempty"`
	Role    models.Role `yaml:"role,omitempty"`
	SavedAt time.Time   `yaml:"saved_at,omitempty"`
}

func defaultStatePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "deployctl", "state.yaml")
}

// LoadState reads the state file. A missing file is an empty state.
func LoadState(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return &State{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading state: %w", err)
	}
	var st State
	if err := yaml.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parsing state %s: %w", path, err)
	}
	return &st, nil
}

// Save writes the state readable by the owner only; it holds a bearer token.
func (s *State) Save(path string) error {
	s.SavedAt = time.Now().UTC()
	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing state: %w", err)
	}
	return os.Rename(tmp, path)
}

// Clear forgets the login but keeps the API address.
func (s *State) Clear() {
	s.Token = ""
	s.Email = ""
	s.Role = ""
}
