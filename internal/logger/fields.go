package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

// Tracing fields, carried on the context logger through the call chain.
const (
	FieldRequestID = "request_id"
	FieldComponent = "component"

	// FieldReplayID is the match id of the replay being worked on
	FieldReplayID = "replay_id"

	// FieldWorkerID is the registered GC worker id
	FieldWorkerID = "worker_id"

	FieldJobType = "job_type"
	FieldQueue   = "queue"

	// FieldCheck is the reconciliation check kind
	FieldCheck = "check"
)

// Metric fields, attached per entry for aggregation and alerting.
const (
	FieldDurationMs = "duration_ms"
	FieldCount      = "count"
	FieldSize       = "size"
	FieldStatus     = "status"
)
