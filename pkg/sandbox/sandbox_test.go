package sandbox

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitCreatesAllSubdirectories(t *testing.T) {
	base := t.TempDir()
	s, err := Open(base, "worker-0")
	require.NoError(t, err)

	for _, d := range subdirs {
		info, err := os.Stat(filepath.Join(s.Root(), d))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
	_, err = os.Stat(s.metadataPath())
	assert.NoError(t, err)
}

func TestInitIsIdempotentAndPreservesCreatedAt(t *testing.T) {
	base := t.TempDir()
	s1, err := Open(base, "worker-0")
	require.NoError(t, err)
	meta1, err := s1.readMetadata()
	require.NoError(t, err)
	require.NotNil(t, meta1)

	time.Sleep(5 * time.Millisecond)

	s2, err := Open(base, "worker-0")
	require.NoError(t, err)
	meta2, err := s2.readMetadata()
	require.NoError(t, err)
	require.NotNil(t, meta2)

	assert.True(t, meta1.CreatedAt.Equal(meta2.CreatedAt))
	assert.False(t, meta2.LastAccessed.Before(meta1.LastAccessed))
}

func TestInstanceKeyPersistsAcrossReinit(t *testing.T) {
	base := t.TempDir()
	s1, err := Open(base, "worker-0")
	require.NoError(t, err)
	fp1 := s1.KeyFingerprint()
	require.NotEmpty(t, fp1)

	s2, err := Open(base, "worker-0")
	require.NoError(t, err)
	assert.Equal(t, fp1, s2.KeyFingerprint())
	assert.Equal(t, s1.InstanceID(), s2.InstanceID())
}

func TestDifferentWorkersGetDifferentKeys(t *testing.T) {
	base := t.TempDir()
	s1, err := Open(base, "worker-0")
	require.NoError(t, err)
	s2, err := Open(base, "worker-1")
	require.NoError(t, err)
	assert.NotEqual(t, s1.KeyFingerprint(), s2.KeyFingerprint())
}

func TestSanitizeNameBlocksTraversal(t *testing.T) {
	base := t.TempDir()
	s, err := Open(base, "worker-0")
	require.NoError(t, err)

	cases := []string{"../../etc/passwd", "a/b/c", "..\\..\\windows", "ok-name.txt"}
	for _, c := range cases {
		p := s.StatePath(c)
		rel, err := filepath.Rel(s.Root(), p)
		require.NoError(t, err)
		assert.False(t, filepath.IsAbs(rel))
		assert.NotContains(t, rel, "..")
	}
}

func TestSessionPathRejectsDots(t *testing.T) {
	base := t.TempDir()
	s, err := Open(base, "worker-0")
	require.NoError(t, err)

	p := s.SessionPath("../secret")
	assert.NotContains(t, filepath.Base(p), "..")
}

func TestStateReadWriteRoundTrip(t *testing.T) {
	base := t.TempDir()
	s, err := Open(base, "worker-0")
	require.NoError(t, err)

	type payload struct {
		Count int `json:"count"`
	}
	require.NoError(t, s.WriteState("counters", payload{Count: 7}))

	raw, err := s.ReadState("counters")
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"count": 7`)
}

func TestReadStateMissingFileReturnsNilNoError(t *testing.T) {
	base := t.TempDir()
	s, err := Open(base, "worker-0")
	require.NoError(t, err)

	raw, err := s.ReadState("does-not-exist")
	assert.NoError(t, err)
	assert.Nil(t, raw)
}

func TestClearTempAndClearCache(t *testing.T) {
	base := t.TempDir()
	s, err := Open(base, "worker-0")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(s.TempPath("scratch"), []byte("x"), 0600))
	require.NoError(t, os.WriteFile(s.CachePath("blob"), []byte("x"), 0600))

	require.NoError(t, s.ClearTemp())
	require.NoError(t, s.ClearCache())

	_, err = os.Stat(s.TempPath("scratch"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(s.CachePath("blob"))
	assert.True(t, os.IsNotExist(err))

	info, err := os.Stat(filepath.Join(s.Root(), DirTemp))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestDestroyRemovesRoot(t *testing.T) {
	base := t.TempDir()
	s, err := Open(base, "worker-0")
	require.NoError(t, err)

	require.NoError(t, s.Destroy())
	_, err = os.Stat(s.Root())
	assert.True(t, os.IsNotExist(err))
}

func TestCredentialRoundTrip(t *testing.T) {
	base := t.TempDir()
	s, err := Open(base, "worker-0")
	require.NoError(t, err)

	secret := []byte("super-secret-token")
	require.NoError(t, s.WriteCredential("api-key", secret))

	onDisk, err := os.ReadFile(s.CredentialPath("api-key"))
	require.NoError(t, err)
	assert.NotContains(t, string(onDisk), "super-secret-token")

	plaintext, err := s.ReadCredential("api-key")
	require.NoError(t, err)
	assert.Equal(t, secret, plaintext)
}

func TestEnvOverlayReroots(t *testing.T) {
	base := t.TempDir()
	s, err := Open(base, "worker-0")
	require.NoError(t, err)

	overlay := s.EnvOverlay()
	assert.Equal(t, filepath.Join(s.Root(), DirTemp), overlay["TMPDIR"])
	assert.Equal(t, filepath.Join(s.Root(), DirConfig), overlay["XDG_CONFIG_HOME"])
	assert.Equal(t, s.WorkerID(), overlay["MOLTPOOL_WORKER_ID"])
}

func TestSanitizeEnvDropsSensitiveVars(t *testing.T) {
	base := []string{
		"PATH=/usr/bin",
		"ANTHROPIC_API_KEY=sk-123",
		"MY_CUSTOM_TOKEN=abc",
		"HOME=/home/worker",
		"DB_PASSWORD=hunter2",
	}
	out := SanitizeEnv(base)
	assert.Contains(t, out, "PATH=/usr/bin")
	assert.Contains(t, out, "HOME=/home/worker")
	for _, kv := range out {
		assert.NotContains(t, kv, "ANTHROPIC_API_KEY")
		assert.NotContains(t, kv, "MY_CUSTOM_TOKEN")
		assert.NotContains(t, kv, "DB_PASSWORD")
	}
}

func TestBuildEnvOverlayWinsOverBase(t *testing.T) {
	base := t.TempDir()
	s, err := Open(base, "worker-0")
	require.NoError(t, err)

	merged := s.BuildEnv([]string{"TMPDIR=/tmp", "PATH=/usr/bin"})

	found := false
	for _, kv := range merged {
		if kv == "TMPDIR="+filepath.Join(s.Root(), DirTemp) {
			found = true
		}
		assert.NotEqual(t, "TMPDIR=/tmp", kv)
	}
	assert.True(t, found)
}

func TestManagerCleanupRemovesStaleSandboxes(t *testing.T) {
	base := t.TempDir()
	fresh, err := Open(base, "worker-fresh")
	require.NoError(t, err)
	stale, err := Open(base, "worker-stale")
	require.NoError(t, err)

	staleMeta, err := stale.readMetadata()
	require.NoError(t, err)
	staleMeta.LastAccessed = time.Now().Add(-48 * time.Hour)
	require.NoError(t, stale.writeMetadata(staleMeta))

	mgr := NewManager(base)
	removed, err := mgr.Cleanup(24 * time.Hour)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"worker-stale"}, removed)

	_, err = os.Stat(stale.Root())
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(fresh.Root())
	assert.NoError(t, err)
}

func TestManagerListOnMissingBaseDirReturnsEmpty(t *testing.T) {
	mgr := NewManager(filepath.Join(t.TempDir(), "does-not-exist"))
	ids, err := mgr.List()
	assert.NoError(t, err)
	assert.Empty(t, ids)
}
