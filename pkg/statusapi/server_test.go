package statusapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/moltbot/pool/pkg/config"
	"github.com/moltbot/pool/pkg/gateway"
	"github.com/moltbot/pool/pkg/pool"
	"github.com/stretchr/testify/require"
)

// newTestGateway returns a Gateway over a Pool started with zero worker
// slots, exercising the control goroutine without forking any process.
func newTestGateway(t *testing.T) *gateway.Gateway {
	t.Helper()
	cfg := config.Default()
	cfg.WorkerCount = 0
	cfg.SandboxBaseDir = t.TempDir()

	p := pool.New(cfg)
	require.NoError(t, p.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = p.Stop(ctx)
	})
	return gateway.New(p)
}

func TestHandleHealth(t *testing.T) {
	s := New(newTestGateway(t), ":0")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleHealth_RejectsNonGet(t *testing.T) {
	s := New(newTestGateway(t), ":0")

	req := httptest.NewRequest(http.MethodPost, "/health", nil)
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandleReady_NotReadyWithNoWorkers(t *testing.T) {
	s := New(newTestGateway(t), ":0")

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleStatus_ReturnsJSON(t *testing.T) {
	s := New(newTestGateway(t), ":0")

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}
