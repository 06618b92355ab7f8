package gateway

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/moltbot/pool/pkg/pool"
	"github.com/moltbot/pool/pkg/types"
)

// Gateway wraps a *pool.Pool with the request-shape translation external
// ingresses expect.
type Gateway struct {
	pool *pool.Pool
}

// New returns a Gateway over p.
func New(p *pool.Pool) *Gateway {
	return &Gateway{pool: p}
}

// Start starts the underlying pool.
func (g *Gateway) Start(ctx context.Context) error {
	return g.pool.Start(ctx)
}

// Stop stops the underlying pool.
func (g *Gateway) Stop(ctx context.Context) error {
	return g.pool.Stop(ctx)
}

// extractUserID applies the default, overridable precedence: an explicit
// userId wins, then sessionKey, then a fresh anonymous id.
func extractUserID(req types.GatewayRequest) string {
	if req.UserID != "" {
		return req.UserID
	}
	if req.SessionKey != "" {
		return req.SessionKey
	}
	return "anon:" + uuid.NewString()
}

func mapRequestType(t string) types.RequestType {
	switch t {
	case "agent":
		return types.RequestAgentMessage
	case "command":
		return types.RequestAgentCommand
	case "session":
		return types.RequestSession
	default:
		return types.RequestAgentMessage
	}
}

// Route translates req into a types.WorkerRequest, dispatches it through
// the pool, and folds any error into GatewayResponse.Error rather than
// returning it — callers always get a response to serialize back out.
func (g *Gateway) Route(ctx context.Context, req types.GatewayRequest) types.GatewayResponse {
	userID := extractUserID(req)
	requestID := uuid.NewString()

	workerReq := types.WorkerRequest{
		RequestID:  requestID,
		UserID:     userID,
		Type:       mapRequestType(req.Type),
		SessionOp:  req.SessionOp,
		SessionKey: req.SessionKey,
		Payload:    req.Payload,
		Timeout:    req.Timeout,
	}

	resp, err := g.pool.SendRequest(ctx, workerReq)
	if err != nil {
		return types.GatewayResponse{
			Success:   false,
			Error:     err.Error(),
			RequestID: requestID,
		}
	}

	if !resp.Success {
		return types.GatewayResponse{
			Success:   false,
			Error:     resp.Error,
			RequestID: requestID,
		}
	}

	return types.GatewayResponse{
		Success:   true,
		Payload:   resp.Payload,
		RequestID: requestID,
	}
}

// GetWorkerForUser resolves which worker currently owns userID without
// dispatching a request.
func (g *Gateway) GetWorkerForUser(userID string) (string, error) {
	route, err := g.pool.ResolveWorker(userID)
	if err != nil {
		return "", fmt.Errorf("gateway: resolve worker for %s: %w", userID, err)
	}
	return route.WorkerID, nil
}

// GetStatus returns the pool's current status snapshot.
func (g *Gateway) GetStatus() types.PoolStatus {
	return g.pool.Status()
}
