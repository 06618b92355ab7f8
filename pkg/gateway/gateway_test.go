package gateway

import (
	"strings"
	"testing"

	"github.com/moltbot/pool/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestExtractUserID_PrefersExplicitUserID(t *testing.T) {
	id := extractUserID(types.GatewayRequest{UserID: "alice", SessionKey: "sess-1"})
	require.Equal(t, "alice", id)
}

func TestExtractUserID_FallsBackToSessionKey(t *testing.T) {
	id := extractUserID(types.GatewayRequest{SessionKey: "sess-1"})
	require.Equal(t, "sess-1", id)
}

func TestExtractUserID_GeneratesAnonymousID(t *testing.T) {
	id := extractUserID(types.GatewayRequest{})
	require.True(t, strings.HasPrefix(id, "anon:"))
	require.Greater(t, len(id), len("anon:"))
}

func TestMapRequestType(t *testing.T) {
	require.Equal(t, types.RequestAgentMessage, mapRequestType("agent"))
	require.Equal(t, types.RequestAgentCommand, mapRequestType("command"))
	require.Equal(t, types.RequestSession, mapRequestType("session"))
	require.Equal(t, types.RequestAgentMessage, mapRequestType("unknown"))
	require.Equal(t, types.RequestAgentMessage, mapRequestType(""))
}
