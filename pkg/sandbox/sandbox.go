package sandbox

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Fixed subdirectories created under every sandbox root.
const (
	DirSessions    = "sessions"
	DirTemp        = "temp"
	DirCache       = "cache"
	DirState       = "state"
	DirLogs        = "logs"
	DirCredentials = "credentials"
	DirConfig      = "config"
	DirKeys        = "keys"
)

var subdirs = []string{
	DirSessions, DirTemp, DirCache, DirState, DirLogs, DirCredentials, DirConfig, DirKeys,
}

const metadataVersion = 1

// Metadata is the contents of sandbox.json.
type Metadata struct {
	WorkerID             string    `json:"workerId"`
	CreatedAt            time.Time `json:"createdAt"`
	LastAccessed         time.Time `json:"lastAccessed"`
	Version              int       `json:"version"`
	KeyFingerprint       string    `json:"keyFingerprint,omitempty"`
	CredentialsEncrypted bool      `json:"credentialsEncrypted"`
}

// Sandbox is a single worker's isolated root directory.
type Sandbox struct {
	root     string
	workerID string

	instanceKey []byte
	instanceID  string
}

// Open creates (or reopens) the sandbox for workerID rooted under baseDir
// and runs Init. Instance key generation is crypto/rand.Read(32 bytes) +
// hex.EncodeToString, reused on every subsequent Open for the same root.
func Open(baseDir, workerID string) (*Sandbox, error) {
	return OpenRoot(filepath.Join(baseDir, workerID), workerID)
}

// OpenRoot is Open with the sandbox's full root path given directly,
// rather than derived by joining a base directory with workerID. A child
// process uses this: the supervisor hands it the already-resolved root in
// WorkerConfig.SandboxRoot.
func OpenRoot(root, workerID string) (*Sandbox, error) {
	s := &Sandbox{root: root, workerID: workerID}
	if err := s.Init(); err != nil {
		return nil, err
	}
	return s, nil
}

// Root returns the sandbox's absolute root path.
func (s *Sandbox) Root() string { return s.root }

// WorkerID returns the worker id this sandbox belongs to.
func (s *Sandbox) WorkerID() string { return s.workerID }

// InstanceID returns the persistent instance identifier.
func (s *Sandbox) InstanceID() string { return s.instanceID }

// KeyFingerprint returns the first 8 bytes of the instance key, hex-encoded.
func (s *Sandbox) KeyFingerprint() string {
	if len(s.instanceKey) < 8 {
		return ""
	}
	return hex.EncodeToString(s.instanceKey[:8])
}

func (s *Sandbox) metadataPath() string {
	return filepath.Join(s.root, "sandbox.json")
}

// Init is idempotent: it creates all eight subdirectories, ensures the
// instance key/id exist under keys/, and writes sandbox.json preserving
// createdAt from any prior metadata.
func (s *Sandbox) Init() error {
	if err := os.MkdirAll(s.root, 0700); err != nil {
		return fmt.Errorf("sandbox: create root: %w", err)
	}
	for _, d := range subdirs {
		if err := os.MkdirAll(filepath.Join(s.root, d), 0700); err != nil {
			return fmt.Errorf("sandbox: create %s: %w", d, err)
		}
	}

	key, id, err := s.ensureInstanceKey()
	if err != nil {
		return err
	}
	s.instanceKey = key
	s.instanceID = id

	meta, err := s.readMetadata()
	if err != nil {
		return err
	}
	now := time.Now()
	if meta == nil {
		meta = &Metadata{WorkerID: s.workerID, CreatedAt: now}
	}
	meta.LastAccessed = now
	meta.Version = metadataVersion
	meta.KeyFingerprint = s.KeyFingerprint()
	meta.CredentialsEncrypted = true

	return s.writeMetadata(meta)
}

func (s *Sandbox) readMetadata() (*Metadata, error) {
	data, err := os.ReadFile(s.metadataPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("sandbox: read metadata: %w", err)
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, nil
	}
	return &meta, nil
}

func (s *Sandbox) writeMetadata(meta *Metadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("sandbox: marshal metadata: %w", err)
	}
	if err := os.WriteFile(s.metadataPath(), data, 0600); err != nil {
		return fmt.Errorf("sandbox: write metadata: %w", err)
	}
	return nil
}

// Touch updates lastAccessed in sandbox.json.
func (s *Sandbox) Touch() error {
	meta, err := s.readMetadata()
	if err != nil {
		return err
	}
	if meta == nil {
		meta = &Metadata{WorkerID: s.workerID, CreatedAt: time.Now()}
	}
	meta.LastAccessed = time.Now()
	meta.Version = metadataVersion
	meta.KeyFingerprint = s.KeyFingerprint()
	meta.CredentialsEncrypted = true
	return s.writeMetadata(meta)
}

// ClearTemp deletes and recreates temp/.
func (s *Sandbox) ClearTemp() error {
	return s.clearSubdir(DirTemp)
}

// ClearCache deletes and recreates cache/.
func (s *Sandbox) ClearCache() error {
	return s.clearSubdir(DirCache)
}

func (s *Sandbox) clearSubdir(name string) error {
	path := filepath.Join(s.root, name)
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("sandbox: clear %s: %w", name, err)
	}
	if err := os.MkdirAll(path, 0700); err != nil {
		return fmt.Errorf("sandbox: recreate %s: %w", name, err)
	}
	return nil
}

// Destroy removes the sandbox's entire root directory.
func (s *Sandbox) Destroy() error {
	if err := os.RemoveAll(s.root); err != nil {
		return fmt.Errorf("sandbox: destroy: %w", err)
	}
	return nil
}
