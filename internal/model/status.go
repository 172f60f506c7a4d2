package model

import "time"

// MigrationState is a state of the per-candidate migration state machine
type MigrationState string

const (
	StateSelected  MigrationState = "SELECTED"
	StatePreCheck  MigrationState = "PRE_CHECK"
	StateMigrating MigrationState = "MIGRATING"
	StatePolling   MigrationState = "POLLING"
	StateVerified  MigrationState = "VERIFIED"
	StateFailed    MigrationState = "FAILED"
	StateSettling  MigrationState = "SETTLING"
	StatePostCheck MigrationState = "POST_CHECK"
	StateDone      MigrationState = "DONE"
	StateAborted   MigrationState = "ABORTED"
	StateFatal     MigrationState = "FATAL"
)

// IsTerminal reports whether no further transition follows the state
func (s MigrationState) IsTerminal() bool {
	switch s {
	case StateDone, StateFailed, StateAborted, StateFatal:
		return true
	}
	return false
}

// IterationOutcome summarizes how an outer iteration ended
type IterationOutcome string

const (
	OutcomeMigrated    IterationOutcome = "migrated"
	OutcomeFailed      IterationOutcome = "failed"
	OutcomeAborted     IterationOutcome = "aborted"
	OutcomeNoCandidate IterationOutcome = "no_candidate"
	OutcomeFatal       IterationOutcome = "fatal"
)

// IterationReport is the record of one outer iteration
type IterationReport struct {
	Number     int                 `json:"number"`
	StartedAt  time.Time           `json:"started_at"`
	FinishedAt time.Time           `json:"finished_at"`
	Mode       Mode                `json:"mode"`
	Outcome    IterationOutcome    `json:"outcome"`
	State      MigrationState      `json:"state,omitempty"`
	Plan       *MigrationPlan      `json:"plan,omitempty"`
	Summary    *UtilizationSummary `json:"summary,omitempty"`
	Skipped    int                 `json:"skipped"`
	FinalHost  string              `json:"final_host,omitempty"`
	Message    string              `json:"message"`
}

// ServiceStatus represents the current status of the balancer service
type ServiceStatus struct {
	Mode         Mode             `json:"mode"`
	DrainingHost string           `json:"draining_host,omitempty"`
	Running      bool             `json:"running"`
	Iterations   int              `json:"iterations"`
	Migrations   int              `json:"migrations"`
	Attempted    int              `json:"drain_attempted"`
	LastReport   *IterationReport `json:"last_report,omitempty"`
}
