package domain

// BatchItem is one concrete unit of work generated from a batch request, before execution.
type BatchItem struct {
	// Label is a human-readable identifier for the target item (e.g. the venue name).
	Label string

	// Payload carries whatever the remote action needs to perform this item's work.
	Payload interface{}
}

// BatchOptions carries the per-batch execution knobs.
//
// Validation of these bounds is an API-boundary concern; the orchestrator trusts them
// except for the hard requirement that MaxConcurrent be positive, which the limiter enforces.
type BatchOptions struct {
	// MaxConcurrent bounds how many remote calls may be in flight simultaneously.
	MaxConcurrent int

	// DelayMillis is a best-effort pacing delay applied before each item's execution,
	// except for the first item to start. It is rate courtesy toward the remote service,
	// not a strict global rate limit.
	DelayMillis int64
}

// RemoteActionFn performs one unit of the real remote work for a single batch item.
// The orchestrator treats it as an opaque effectful call with a success/failure outcome.
type RemoteActionFn func(item BatchItem) (interface{}, error)

// NormalizedOutcome is the stored shape a raw remote result or error is mapped into.
type NormalizedOutcome struct {
	// Message is the extracted, human-readable summary. For errors this is the failure
	// message recorded on the operation.
	Message string

	// ActivityId is the remote system's async job id, when one could be recovered.
	ActivityId string

	// Details is any residual structured payload worth keeping on the operation record.
	Details interface{}
}

// ResultNormalizer maps a successful remote result into its stored shape.
type ResultNormalizer func(result interface{}) NormalizedOutcome

// ErrorNormalizer extracts a human-readable message (and any recoverable details) from
// whatever error value the remote action raised. Implementations must be deterministic
// and side-effect free.
type ErrorNormalizer func(err error) NormalizedOutcome

// StartBatchRequest is the wire form of a batch-start request, shared by all batch kinds.
type StartBatchRequest struct {
	// Action is the verb to apply to every item ("create", "delete", "move", "activate").
	Action string `json:"action"`

	// Count is the number of items to generate when Names is empty.
	Count int `json:"count"`

	// NamePrefix is used together with Count to generate item names ("<prefix>-0001", ...).
	NamePrefix string `json:"name_prefix"`

	// Names explicitly enumerates the target items. Takes precedence over Count.
	Names []string `json:"names"`

	MaxConcurrent int   `json:"max_concurrent"`
	DelayMillis   int64 `json:"delay_ms"`

	// VenueId scopes network/device batches to a particular venue, where applicable.
	VenueId string `json:"venue_id,omitempty"`
}

// StartBatchResponse is returned immediately by the batch-start endpoints; the batch
// itself runs to completion in the background.
type StartBatchResponse struct {
	SessionId string `json:"session_id"`
}
