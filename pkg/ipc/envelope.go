package ipc

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/moltbot/pool/pkg/types"
)

// MessageType tags an Envelope's payload shape.
type MessageType string

// Supervisor → worker.
const (
	TypeInit        MessageType = "init"
	TypeRequest     MessageType = "request"
	TypeHealthCheck MessageType = "health_check"
	TypeShutdown    MessageType = "shutdown"
	TypeKill        MessageType = "kill"
)

// Worker → supervisor.
const (
	TypeReady     MessageType = "ready"
	TypeResponse  MessageType = "response"
	TypeHealth    MessageType = "health"
	TypeEvent     MessageType = "event"
	TypeError     MessageType = "error"
	TypeHeartbeat MessageType = "heartbeat"
)

// Envelope is the wire shape of every message exchanged over a Conn:
// {"type":"...","ts":...,"payload":{...}}. The per-type fields are nested
// under the "payload" key, not placed beside type and ts.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Ts      int64           `json:"ts"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// New builds an Envelope of type t, stamping ts with the current time and
// marshaling payload (which may be nil).
func New(t MessageType, payload any) (Envelope, error) {
	env := Envelope{Type: t, Ts: time.Now().UnixMilli()}
	if payload == nil {
		return env, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("ipc: marshal %s payload: %w", t, err)
	}
	env.Payload = data
	return env, nil
}

// Decode unmarshals the envelope's payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("ipc: decode %s payload: %w", e.Type, err)
	}
	return nil
}

// InitPayload is carried by a TypeInit envelope.
type InitPayload struct {
	Config types.WorkerConfig `json:"config"`
}

// RequestPayload is carried by a TypeRequest envelope.
type RequestPayload struct {
	Request types.WorkerRequest `json:"request"`
}

// ShutdownPayload is carried by a TypeShutdown envelope.
type ShutdownPayload struct {
	GracePeriodMs int64 `json:"gracePeriodMs"`
}

// ReadyPayload is carried by a TypeReady envelope.
type ReadyPayload struct {
	WorkerID string `json:"workerId"`
}

// ResponsePayload is carried by a TypeResponse envelope.
type ResponsePayload struct {
	Response types.WorkerResponse `json:"response"`
}

// HealthPayload is carried by a TypeHealth envelope.
type HealthPayload struct {
	Health types.HealthSnapshot `json:"health"`
}

// EventPayload is carried by a TypeEvent envelope.
type EventPayload struct {
	Event types.Event `json:"event"`
}

// ErrorPayload is carried by a TypeError envelope.
type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Fatal   bool   `json:"fatal,omitempty"`
}

// HeartbeatPayload is carried by a TypeHeartbeat envelope. It mirrors
// HealthSnapshot's fields the child can cheaply compute on every tick.
type HeartbeatPayload struct {
	WorkerID          string            `json:"workerId"`
	State             types.WorkerState `json:"state"`
	ActiveRequests    int               `json:"activeRequests"`
	MemoryBytes       uint64            `json:"memoryBytes"`
	RequestsProcessed uint64            `json:"requestsProcessed"`
}
