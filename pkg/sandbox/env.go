package sandbox

import (
	"os"
	"path/filepath"
	"strings"
)

// sensitiveExact are variable names removed outright, case-insensitively,
// before a worker is spawned.
var sensitiveExact = map[string]bool{
	"ANTHROPIC_API_KEY":    true,
	"OPENAI_API_KEY":       true,
	"CLAUDE_API_KEY":       true,
	"DISCORD_TOKEN":        true,
	"DISCORD_BOT_TOKEN":    true,
	"TELEGRAM_BOT_TOKEN":   true,
	"SLACK_BOT_TOKEN":      true,
	"SLACK_SIGNING_SECRET": true,
	"GITHUB_TOKEN":         true,
	"GH_TOKEN":             true,
	"NPM_TOKEN":            true,
	"MOLTPOOL_OAUTH_DIR":   true,
}

// sensitiveSuffixes are removed case-insensitively regardless of prefix.
var sensitiveSuffixes = []string{"_TOKEN", "_SECRET", "_API_KEY", "_PASSWORD", "_PRIVATE_KEY"}

// isSensitive reports whether an environment variable name must be
// stripped before it reaches a worker process.
func isSensitive(name string) bool {
	upper := strings.ToUpper(name)
	if sensitiveExact[upper] {
		return true
	}
	for _, suffix := range sensitiveSuffixes {
		if strings.HasSuffix(upper, suffix) {
			return true
		}
	}
	return false
}

// SanitizeEnv filters env (each entry "KEY=VALUE") dropping every sensitive
// variable. The supervisor calls this on os.Environ() before merging in
// EnvOverlay, so credentials never reach the child's initial environment.
func SanitizeEnv(env []string) []string {
	out := make([]string, 0, len(env))
	for _, kv := range env {
		name, _, ok := strings.Cut(kv, "=")
		if ok && isSensitive(name) {
			continue
		}
		out = append(out, kv)
	}
	return out
}

// EnvOverlay returns the variables the supervisor merges on top of the
// sanitized host environment: the agreed-name per-worker paths, plus
// overrides for the XDG/tempdir variables and the credentials-directory
// pointer so any library honoring those variables is re-rooted inside the
// sandbox automatically.
func (s *Sandbox) EnvOverlay() map[string]string {
	return map[string]string{
		"MOLTPOOL_WORKER_ID":       s.workerID,
		"MOLTPOOL_SANDBOX_ROOT":    s.root,
		"MOLTPOOL_SESSIONS_DIR":    filepath.Join(s.root, DirSessions),
		"MOLTPOOL_STATE_DIR":       filepath.Join(s.root, DirState),
		"MOLTPOOL_CACHE_DIR":       filepath.Join(s.root, DirCache),
		"MOLTPOOL_TEMP_DIR":        filepath.Join(s.root, DirTemp),
		"MOLTPOOL_LOGS_DIR":        filepath.Join(s.root, DirLogs),
		"MOLTPOOL_CREDENTIALS_DIR": filepath.Join(s.root, DirCredentials),
		"MOLTPOOL_CONFIG_DIR":      filepath.Join(s.root, DirConfig),

		"XDG_CONFIG_HOME": filepath.Join(s.root, DirConfig),
		"XDG_CACHE_HOME":  filepath.Join(s.root, DirCache),
		"XDG_STATE_HOME":  filepath.Join(s.root, DirState),
		"XDG_DATA_HOME":   filepath.Join(s.root, DirState),
		"TMPDIR":          filepath.Join(s.root, DirTemp),
		"TEMP":            filepath.Join(s.root, DirTemp),
		"TMP":             filepath.Join(s.root, DirTemp),

		"MOLTPOOL_OAUTH_DIR": filepath.Join(s.root, DirCredentials),
	}
}

// BuildEnv sanitizes base (a process environment in "KEY=VALUE" form) and
// merges the sandbox's EnvOverlay on top, overriding any colliding key.
func (s *Sandbox) BuildEnv(base []string) []string {
	sanitized := SanitizeEnv(base)
	overlay := s.EnvOverlay()

	out := make([]string, 0, len(sanitized)+len(overlay))
	for _, kv := range sanitized {
		name, _, _ := strings.Cut(kv, "=")
		if _, override := overlay[name]; override {
			continue
		}
		out = append(out, kv)
	}
	for k, v := range overlay {
		out = append(out, k+"="+v)
	}
	return out
}

// HostEnviron is a small indirection over os.Environ so tests can supply a
// synthetic environment.
func HostEnviron() []string { return os.Environ() }
