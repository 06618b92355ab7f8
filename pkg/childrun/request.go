package childrun

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/moltbot/pool/pkg/ipc"
	"github.com/moltbot/pool/pkg/sandbox"
	"github.com/moltbot/pool/pkg/types"
)

func (r *Runtime) handleRequest(env ipc.Envelope) {
	var p ipc.RequestPayload
	if err := env.Decode(&p); err != nil {
		return
	}
	req := p.Request

	start := time.Now()
	r.mu.Lock()
	r.activeRequests[req.RequestID] = start
	r.state = types.WorkerBusy
	sb := r.sandbox
	r.mu.Unlock()

	if sb != nil {
		_ = sb.Touch()
	}

	payload, errStr, errCode := r.dispatch(req)
	duration := time.Since(start)

	resp := types.WorkerResponse{RequestID: req.RequestID, Duration: duration}
	if errStr == "" {
		resp.Success = true
		resp.Payload = payload
	} else {
		resp.Success = false
		resp.Error = errStr
		resp.ErrorCode = errCode
		r.mu.Lock()
		r.errorCount++
		r.mu.Unlock()
	}
	_ = r.conn.SendType(ipc.TypeResponse, ipc.ResponsePayload{Response: resp})

	r.mu.Lock()
	delete(r.activeRequests, req.RequestID)
	r.requestsProcessed++
	if len(r.activeRequests) == 0 {
		r.state = types.WorkerReady
	}
	r.mu.Unlock()

	r.checkLimits()
}

// dispatch routes a request by type, returning (payload, errMsg, errCode).
// errMsg == "" means success.
func (r *Runtime) dispatch(req types.WorkerRequest) (any, string, string) {
	switch req.Type {
	case types.RequestAgentMessage, types.RequestAgentCommand:
		return r.handleAgentWork(req)
	case types.RequestSession:
		return r.handleSession(req)
	case types.RequestHealthCheck:
		r.sendHealth()
		return map[string]bool{"ok": true}, "", ""
	case types.RequestShutdown:
		return nil, "shutdown must be sent as its own envelope type", "INVALID_REQUEST"
	default:
		return nil, fmt.Sprintf("unknown request type %q", req.Type), "INVALID_REQUEST"
	}
}

// handleAgentWork is a placeholder acknowledgement: the business logic a
// real agent would run here is outside the pool's own responsibility, which
// stops at routing, sandboxing, and dispatch.
func (r *Runtime) handleAgentWork(req types.WorkerRequest) (any, string, string) {
	return map[string]any{"received": req.Type, "payload": req.Payload}, "", ""
}

func (r *Runtime) handleSession(req types.WorkerRequest) (any, string, string) {
	r.mu.Lock()
	sb := r.sandbox
	r.mu.Unlock()
	if sb == nil {
		return nil, "sandbox not initialized", "INTERNAL_ERROR"
	}

	switch req.SessionOp {
	case types.SessionGet:
		data, err := os.ReadFile(sb.SessionPath(req.SessionKey))
		if err != nil {
			return nil, "session not found", "SESSION_NOT_FOUND"
		}
		var value any
		if err := json.Unmarshal(data, &value); err != nil {
			return nil, "session not found", "SESSION_NOT_FOUND"
		}
		return value, "", ""

	case types.SessionSet:
		data, err := json.MarshalIndent(req.Payload, "", "  ")
		if err != nil {
			return nil, err.Error(), "INTERNAL_ERROR"
		}
		if err := os.WriteFile(sb.SessionPath(req.SessionKey), data, 0600); err != nil {
			return nil, err.Error(), "INTERNAL_ERROR"
		}
		return map[string]bool{"ok": true}, "", ""

	case types.SessionDelete:
		path := sb.SessionPath(req.SessionKey)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, err.Error(), "INTERNAL_ERROR"
		}
		return map[string]bool{"ok": true}, "", ""

	case types.SessionList:
		names, err := listSessions(sb)
		if err != nil {
			return nil, err.Error(), "INTERNAL_ERROR"
		}
		return names, "", ""

	default:
		return nil, fmt.Sprintf("unknown session op %q", req.SessionOp), "INVALID_REQUEST"
	}
}

// listSessions returns the sorted, sanitized basenames (without the .json
// suffix) of every file under sessions/.
func listSessions(sb *sandbox.Sandbox) ([]string, error) {
	entries, err := os.ReadDir(sb.SessionsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ".json")
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (r *Runtime) checkLimits() {
	r.mu.Lock()
	cfg := r.config
	processed := r.requestsProcessed
	workerID := cfg.WorkerID
	r.mu.Unlock()

	mem := heapBytes()
	if cfg.MaxMemory > 0 && mem > cfg.MaxMemory {
		_ = r.conn.SendType(ipc.TypeEvent, ipc.EventPayload{
			Event: types.Event{Reason: types.EventReasonMemoryLimit, WorkerID: workerID, MemoryBytes: mem},
		})
	}
	if cfg.MaxRequests > 0 && processed >= cfg.MaxRequests {
		_ = r.conn.SendType(ipc.TypeEvent, ipc.EventPayload{
			Event: types.Event{Reason: types.EventReasonRequestLimit, WorkerID: workerID, RequestsProcessed: processed},
		})
	}
}
