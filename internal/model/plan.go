package model

// Mode is the balancing goal of the process
type Mode string

const (
	ModeBalance Mode = "balance"
	ModeDrain   Mode = "drain"
)

// MigrationPlan describes the single move chosen for an iteration
type MigrationPlan struct {
	InstanceID      string `json:"instance_id"`
	InstanceName    string `json:"instance_name"`
	SourceHost      string `json:"source_host"`
	DestinationHost string `json:"destination_host"`
	FootprintMB     int    `json:"footprint_mb"`
	BudgetMB        int    `json:"budget_mb"` // zero in drain mode
	Mode            Mode   `json:"mode"`
}
