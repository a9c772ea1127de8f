package model

import "time"

// Job status constants.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Job method constants.
const (
	MethodExecute = "execute"
	MethodProve   = "prove"
)

// validTransitions maps each status to the set of statuses it may transition to.
var validTransitions = map[string]map[string]bool{
	StatusPending: {
		StatusRunning: true,
		StatusFailed:  true,
	},
	StatusRunning: {
		StatusCompleted: true,
		StatusFailed:    true,
	},
}

// ValidTransition reports whether transitioning from one status to another is allowed.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// IsTerminal reports whether status ends a job's lifecycle.
func IsTerminal(status string) bool {
	return status == StatusCompleted || status == StatusFailed
}

// Job records an asynchronous execute or prove call against a gateway.
// Report holds the binary-encoded execution or proving report.
type Job struct {
	ID           string     `json:"id"`
	Backend      string     `json:"backend"`
	Method       string     `json:"method"`
	Status       string     `json:"status"`
	ProofKind    string     `json:"proof_kind,omitempty"`
	PublicValues []byte     `json:"public_values,omitempty"`
	Proof        []byte     `json:"proof,omitempty"`
	Report       []byte     `json:"report,omitempty"`
	Error        string     `json:"error,omitempty"`
	ErrorKind    string     `json:"error_kind,omitempty"`
	DurationMS   *int       `json:"duration_ms,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}
