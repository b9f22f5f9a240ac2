package types

// SubmitRequest is the payload for POST /requests.
type SubmitRequest struct {
	// Opaque parameters forwarded to the service. Must contain the key
	// "service" naming a registered service kind.
	Payload map[string]any `json:"payload"`
	// Priority string: low|normal|high|critical. Empty means normal.
	// example: high
	Priority string `json:"priority,omitempty" example:"high"`
	// Optional queueing timeout in seconds; 0 means no timeout.
	// example: 30
	TimeoutSeconds int `json:"timeout_seconds,omitempty" example:"30"`
}

// SubmitResponse wraps the id returned on submission.
type SubmitResponse struct {
	// example: 7f9c0a4e-1d2b-4c3d-8e5f-6a7b8c9d0e1f
	RequestID string `json:"request_id" example:"7f9c0a4e-1d2b-4c3d-8e5f-6a7b8c9d0e1f"`
}

// RequestStatus is the snapshot returned by GET /requests/{id} and persisted
// to the result store on completion.
type RequestStatus struct {
	RequestID string       `json:"request_id"`
	Status    RequestState `json:"status" example:"completed"`
	Priority  string       `json:"priority" example:"normal"`
	// Submission time, RFC 3339.
	CreatedAt string `json:"created_at"`
	// Seconds since submission (until completion for terminal requests).
	// example: 1.42
	ElapsedSeconds float64 `json:"elapsed_seconds" example:"1.42"`
	StartedAt      string  `json:"started_at,omitempty"`
	CompletedAt    string  `json:"completed_at,omitempty"`
	// Seconds spent processing, present once dispatched.
	ProcessingSeconds float64 `json:"processing_seconds,omitempty"`
	// Result of a completed request; mutually exclusive with Error.
	Result any `json:"result,omitempty"`
	// Error text of a failed/timed-out/canceled request.
	Error string `json:"error,omitempty"`
	// Result-store expiry, RFC 3339. Set only on persisted snapshots.
	ExpiresAt string `json:"expires_at,omitempty"`
}

// QueueStats summarizes the request queue for GET /stats.
type QueueStats struct {
	// Requests waiting for dispatch.
	// example: 3
	QueueLength int `json:"queue_length" example:"3"`
	// Requests currently processing.
	// example: 2
	ProcessingCount int `json:"processing_count" example:"2"`
	// All requests tracked in memory (any state).
	// example: 40
	TotalRequests int `json:"total_requests" example:"40"`
	// Counts keyed by request state.
	StatusCounts map[string]int `json:"status_counts"`
	// Pending counts keyed by priority.
	PriorityCounts map[string]int `json:"priority_counts"`
	// Concurrency cap.
	// example: 4
	MaxConcurrent int `json:"max_concurrent" example:"4"`
}

// ResourceStat describes one resident pool entry.
type ResourceStat struct {
	SizeMB    int    `json:"size_mb" example:"512"`
	LoadedAt  string `json:"loaded_at"`
	LastUsed  string `json:"last_used"`
	UseCount  int64  `json:"use_count" example:"12"`
	IsLoading bool   `json:"is_loading" example:"false"`
}

// PoolStats summarizes the resource pool for GET /stats.
type PoolStats struct {
	LoadedCount  int    `json:"loaded_count" example:"2"`
	LoadingCount int    `json:"loading_count" example:"1"`
	TotalMB      int    `json:"total_mb" example:"1024"`
	MaxCount     int    `json:"max_count" example:"5"`
	MaxMemoryMB  int    `json:"max_memory_mb,omitempty" example:"8192"`
	Strategy     string `json:"eviction_strategy" example:"lru"`
	// Total evictions since start.
	EvictionsTotal uint64 `json:"evictions_total" example:"5"`
	// Total completed loads since start.
	LoadsTotal uint64                  `json:"loads_total" example:"12"`
	Resources  map[string]ResourceStat `json:"resources"`
}

// StatsResponse is returned by GET /stats.
type StatsResponse struct {
	Queue     QueueStats `json:"queue"`
	Resources PoolStats  `json:"resources"`
	// Worker goroutines serving the local queue.
	// example: 4
	Workers int `json:"workers" example:"4"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: request not found
	Error string `json:"error" example:"request not found"`
	// HTTP status code.
	// example: 404
	Code int `json:"code" example:"404"`
}

// CancelResponse is returned by DELETE /requests/{id}.
type CancelResponse struct {
	// example: true
	Canceled bool `json:"canceled" example:"true"`
}
