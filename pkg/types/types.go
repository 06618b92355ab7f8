package types

import "time"

// WorkerState is the lifecycle state of a worker slot.
type WorkerState string

const (
	WorkerStarting WorkerState = "starting"
	WorkerReady    WorkerState = "ready"
	WorkerBusy     WorkerState = "busy"
	WorkerStopping WorkerState = "stopping"
	WorkerStopped  WorkerState = "stopped"
	WorkerCrashed  WorkerState = "crashed"
	// WorkerHung marks a process that is still alive but has not reported a
	// heartbeat within the reconciler's staleness threshold. It is not
	// dispatchable; a later heartbeat recovers the slot to whatever state
	// the worker reports.
	WorkerHung WorkerState = "hung"
)

// RequestType selects which handler inside the child processes a Request.
type RequestType string

const (
	RequestAgentMessage RequestType = "agent_message"
	RequestAgentCommand RequestType = "agent_command"
	RequestSession      RequestType = "session"
	RequestHealthCheck  RequestType = "health_check"
	RequestShutdown     RequestType = "shutdown"
)

// SessionOp is the sub-operation carried by a RequestSession payload.
type SessionOp string

const (
	SessionGet    SessionOp = "get"
	SessionSet    SessionOp = "set"
	SessionDelete SessionOp = "delete"
	SessionList   SessionOp = "list"
)

// EventReason names why a child emitted a limit Event.
type EventReason string

const (
	EventReasonMemoryLimit  EventReason = "memory_limit"
	EventReasonRequestLimit EventReason = "request_limit"
	EventReasonStopped      EventReason = "stopped"
)

// Event is a child-emitted signal the supervisor interprets — a limit
// breach or a lifecycle notice — never a command the child issues to
// itself; termination stays the supervisor's decision.
type Event struct {
	Reason      EventReason `json:"reason"`
	WorkerID    string      `json:"workerId"`
	MemoryBytes uint64      `json:"memoryBytes,omitempty"`
	RequestsProcessed uint64 `json:"requestsProcessed,omitempty"`
}

// HealthSnapshot is the health report a child sends to the supervisor,
// either in full (Health) or merged incrementally (Heartbeat).
type HealthSnapshot struct {
	Pid               int         `json:"pid"`
	State             WorkerState `json:"state"`
	MemoryBytes       uint64      `json:"memoryBytes"`
	CPUUsage          float64     `json:"cpuUsage"`
	RequestsProcessed uint64      `json:"requestsProcessed"`
	ActiveRequests    int         `json:"activeRequests"`
	LastHeartbeat     time.Time   `json:"lastHeartbeat"`
	Uptime            time.Duration `json:"uptime"`
	ErrorCount        uint64      `json:"errorCount"`
}

// WorkerConfig is what the supervisor sends a child in the Init envelope.
type WorkerConfig struct {
	WorkerID        string        `json:"workerId"`
	SandboxRoot     string        `json:"sandboxRoot"`
	InstanceID      string        `json:"instanceId"`
	KeyFingerprint  string        `json:"keyFingerprint"`
	MaxConcurrent   int           `json:"maxConcurrent"`
	RequestTimeout  time.Duration `json:"requestTimeout"`
	HeartbeatInterval time.Duration `json:"heartbeatInterval"`
	MaxMemory       uint64        `json:"maxMemory"`
	MaxRequests     uint64        `json:"maxRequests"`
}

// WorkerRequest is a request dispatched from the supervisor to a worker.
type WorkerRequest struct {
	RequestID  string        `json:"requestId"`
	UserID     string        `json:"userId"`
	Type       RequestType   `json:"type"`
	SessionOp  SessionOp     `json:"sessionOp,omitempty"`
	SessionKey string        `json:"sessionKey,omitempty"`
	Payload    interface{}   `json:"payload,omitempty"`
	Timeout    time.Duration `json:"timeout,omitempty"`
}

// WorkerResponse is a worker's reply to a WorkerRequest.
type WorkerResponse struct {
	RequestID string      `json:"requestId"`
	Success   bool        `json:"success"`
	Payload   interface{} `json:"payload,omitempty"`
	Error     string      `json:"error,omitempty"`
	ErrorCode string      `json:"errorCode,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// GatewayRequest is what an external caller hands to the facade.
type GatewayRequest struct {
	Type       string      `json:"type"`
	UserID     string      `json:"userId,omitempty"`
	SessionKey string      `json:"sessionKey,omitempty"`
	SessionOp  SessionOp   `json:"sessionOp,omitempty"`
	Payload    interface{} `json:"payload,omitempty"`
	Timeout    time.Duration `json:"timeout,omitempty"`
}

// GatewayResponse is the facade's reply to a GatewayRequest.
type GatewayResponse struct {
	Success   bool        `json:"success"`
	Payload   interface{} `json:"payload,omitempty"`
	Error     string      `json:"error,omitempty"`
	RequestID string      `json:"requestId"`
	WorkerID  string      `json:"workerId,omitempty"`
}

// RouteResult is what the router returns for a routing decision.
type RouteResult struct {
	WorkerID        string `json:"workerId"`
	UserID          string `json:"userId"`
	HashValue       uint32 `json:"hashValue"`
	IsNewAssignment bool   `json:"isNewAssignment"`
}

// RouterState is the serializable export of the router.
type RouterState struct {
	Workers     []string          `json:"workers"`
	Assignments map[string]string `json:"assignments"`
	VirtualNodes int              `json:"virtualNodes"`
}

// WorkerStatus is one worker's entry in a pool status snapshot.
type WorkerStatus struct {
	WorkerID string         `json:"workerId"`
	State    WorkerState    `json:"state"`
	Health   HealthSnapshot `json:"health"`
	Pending  int            `json:"pendingRequests"`
	RestartCount int        `json:"restartCount"`
}

// PoolStatus is the facade's GetStatus() schema (spec.md §6).
type PoolStatus struct {
	TotalWorkers    int            `json:"totalWorkers"`
	HealthyWorkers  int            `json:"healthyWorkers"`
	BusyWorkers     int            `json:"busyWorkers"`
	QueuedRequests  int            `json:"queuedRequests"`
	RoutingTableSize int           `json:"routingTableSize"`
	Workers         []WorkerStatus `json:"workers"`
}
