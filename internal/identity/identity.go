// Package identity manages the locally persisted client identity.
package identity

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Identity is the user id this client talks as.
type Identity struct {
	UserID string
	// Created is true when the id was generated on this load.
	Created bool
}

// DefaultPath is ~/.aitalk/user_id, or ./.aitalk_user_id when there is no
// home directory.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".aitalk_user_id"
	}
	return filepath.Join(home, ".aitalk", "user_id")
}

// LoadOrCreate returns the id stored at path, generating and persisting a
// new random id when the file does not exist yet.
func LoadOrCreate(path string) (Identity, error) {
	if path == "" {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		id := strings.TrimSpace(string(data))
		if id == "" {
			return Identity{}, fmt.Errorf("identity file %s is empty", path)
		}
		return Identity{UserID: id}, nil
	case !errors.Is(err, os.ErrNotExist):
		return Identity{}, fmt.Errorf("read identity: %w", err)
	}

	id := "user_" + uuid.NewString()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return Identity{}, fmt.Errorf("create identity dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0o600); err != nil {
		return Identity{}, fmt.Errorf("write identity: %w", err)
	}
	return Identity{UserID: id, Created: true}, nil
}
