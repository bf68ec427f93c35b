package vitalink

// State is the lifecycle state of a DataSource.
//
// Idle → Handshaking → Mapping → Polling → (Stalled | Stopped), with Stalled
// returning to Polling when the heartbeat resumes. Failed is terminal and follows a
// mapping or header error.
//
//go:generate go tool stringer -type=State -trimprefix=State
type State uint32

const (
	StateIdle State = iota
	StateHandshaking
	StateMapping
	StatePolling
	StateStalled
	StateStopped
	StateFailed
)
