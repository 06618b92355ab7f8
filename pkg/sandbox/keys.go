package sandbox

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const instanceKeyBytes = 32

func (s *Sandbox) keyPath() string { return filepath.Join(s.root, DirKeys, "instance.key") }
func (s *Sandbox) idPath() string  { return filepath.Join(s.root, DirKeys, "instance.id") }

// ensureInstanceKey loads the persisted instance key/id if present,
// otherwise generates and persists a new pair. The key survives across
// sandbox re-initialization, giving the worker a stable identity across
// process restarts.
func (s *Sandbox) ensureInstanceKey() ([]byte, string, error) {
	keyHex, err := os.ReadFile(s.keyPath())
	if err == nil {
		key, decodeErr := hex.DecodeString(string(keyHex))
		if decodeErr == nil && len(key) == instanceKeyBytes {
			id, idErr := os.ReadFile(s.idPath())
			if idErr == nil {
				return key, string(id), nil
			}
		}
	}

	key := make([]byte, instanceKeyBytes)
	if _, err := rand.Read(key); err != nil {
		return nil, "", fmt.Errorf("sandbox: generate instance key: %w", err)
	}

	suffix := make([]byte, 4)
	if _, err := rand.Read(suffix); err != nil {
		return nil, "", fmt.Errorf("sandbox: generate instance id suffix: %w", err)
	}
	id := fmt.Sprintf("%s-%d-%s", s.workerID, time.Now().UnixMilli(), hex.EncodeToString(suffix))

	if err := os.WriteFile(s.keyPath(), []byte(hex.EncodeToString(key)), 0600); err != nil {
		return nil, "", fmt.Errorf("sandbox: write instance key: %w", err)
	}
	if err := os.WriteFile(s.idPath(), []byte(id), 0600); err != nil {
		return nil, "", fmt.Errorf("sandbox: write instance id: %w", err)
	}
	return key, id, nil
}
