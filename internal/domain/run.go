package domain

import "time"

// RunState enumerates pipeline milestones.
type RunState string

const (
	StateInitializing RunState = "initializing"
	StateLoading      RunState = "loading"
	StateEnumerating  RunState = "enumerating"
	StatePerProduct   RunState = "per_product"
	StateFinalizing   RunState = "finalizing"
	StateCommitted    RunState = "committed"
	StateRolledBack   RunState = "rolled_back"
)

// Terminal reports whether no further transition can follow s.
func (s RunState) Terminal() bool {
	return s == StateCommitted || s == StateRolledBack
}

// TxMode selects how run writes are grouped into transactions.
type TxMode string

const (
	// TxModeRun wraps reset, load and every insert in a single transaction.
	TxModeRun TxMode = "run"
	// TxModeProduct commits the load once and each insight separately. The
	// previous contents stay in backup tables until the run finishes.
	TxModeProduct TxMode = "product"
)

// RunStatus is the persisted lifecycle of a pipeline run.
type RunStatus string

const (
	RunStatusRunning    RunStatus = "running"
	RunStatusCommitted  RunStatus = "committed"
	RunStatusRolledBack RunStatus = "rolled_back"
)

// Run is the audit record kept for every pipeline execution. MaxProducts is the
// enumeration cap the run started with; <= 0 means all.
type Run struct {
	ID          string
	Mode        TxMode
	Status      RunStatus
	RowsLoaded  int
	MaxProducts int
	StartedAt   time.Time
	FinishedAt  time.Time
	Error       string
}
