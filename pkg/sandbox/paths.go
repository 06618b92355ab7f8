package sandbox

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

var (
	unsafeNameChars    = regexp.MustCompile(`[^A-Za-z0-9._-]`)
	unsafeSessionChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)
)

// sanitizeName replaces every character outside [A-Za-z0-9._-] with an
// underscore. This is the sandbox's path-traversal defense: a "../../etc"
// style name collapses to ".._.._etc" and stays confined to its subdirectory.
func sanitizeName(name string) string {
	return unsafeNameChars.ReplaceAllString(name, "_")
}

// sanitizeSessionID is stricter than sanitizeName: session ids may not
// contain dots, so "../x" cannot reassemble a traversal via extension tricks.
func sanitizeSessionID(id string) string {
	return unsafeSessionChars.ReplaceAllString(id, "_")
}

// SessionPath returns the sanitized path for a session's JSON file.
func (s *Sandbox) SessionPath(sessionID string) string {
	return filepath.Join(s.root, DirSessions, sanitizeSessionID(sessionID)+".json")
}

// SessionsDir returns the sessions/ subdirectory.
func (s *Sandbox) SessionsDir() string {
	return filepath.Join(s.root, DirSessions)
}

// StatePath returns the sanitized path for a state JSON file.
func (s *Sandbox) StatePath(name string) string {
	return filepath.Join(s.root, DirState, sanitizeName(name)+".json")
}

// CachePath returns the sanitized path for a cache file.
func (s *Sandbox) CachePath(name string) string {
	return filepath.Join(s.root, DirCache, sanitizeName(name))
}

// TempPath returns the sanitized path for a temp file.
func (s *Sandbox) TempPath(name string) string {
	return filepath.Join(s.root, DirTemp, sanitizeName(name))
}

// LogPath returns the sanitized path for a log file.
func (s *Sandbox) LogPath(name string) string {
	return filepath.Join(s.root, DirLogs, sanitizeName(name)+".log")
}

// CredentialPath returns the sanitized path for a credential file.
func (s *Sandbox) CredentialPath(name string) string {
	return filepath.Join(s.root, DirCredentials, sanitizeName(name))
}

// ConfigPath returns the sanitized path for a config file.
func (s *Sandbox) ConfigPath(name string) string {
	return filepath.Join(s.root, DirConfig, sanitizeName(name))
}

// ReadState returns the parsed JSON contents of state/<name>.json, or nil
// with no error if the file is missing or unreadable.
func (s *Sandbox) ReadState(name string) (json.RawMessage, error) {
	data, err := os.ReadFile(s.StatePath(name))
	if err != nil {
		return nil, nil
	}
	var probe json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, nil
	}
	return probe, nil
}

// WriteState serializes value as pretty JSON to state/<name>.json.
func (s *Sandbox) WriteState(name string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("sandbox: marshal state %s: %w", name, err)
	}
	if err := os.WriteFile(s.StatePath(name), data, 0600); err != nil {
		return fmt.Errorf("sandbox: write state %s: %w", name, err)
	}
	return nil
}
