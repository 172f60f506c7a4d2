package model

import (
	"errors"
	"fmt"
	"time"
)

// ConfigurationError reports missing or invalid configuration
type ConfigurationError struct {
	Field   string
	Message string
}

func (e *ConfigurationError) Error() string {
	return e.Field + ": " + e.Message
}

// InventoryFetchError reports a control-plane read failure during snapshot construction
type InventoryFetchError struct {
	Op  string
	Err error
}

func (e *InventoryFetchError) Error() string {
	return fmt.Sprintf("inventory fetch failed (%s): %v", e.Op, e.Err)
}

func (e *InventoryFetchError) Unwrap() error { return e.Err }

// NoCandidateError means the iteration has nothing useful to do
type NoCandidateError struct {
	Reason string
}

func (e *NoCandidateError) Error() string {
	return "no migration candidate: " + e.Reason
}

// PreMigrationHealthFailure means the candidate was unreachable before migration
type PreMigrationHealthFailure struct {
	Hostname string
}

func (e *PreMigrationHealthFailure) Error() string {
	return fmt.Sprintf("%s is not reachable prior to migration", e.Hostname)
}

// MigrationRequestError reports a failed live-migration request
type MigrationRequestError struct {
	InstanceID string
	Host       string
	Err        error
}

func (e *MigrationRequestError) Error() string {
	return fmt.Sprintf("live migration of %s to %s failed: %v", e.InstanceID, e.Host, e.Err)
}

func (e *MigrationRequestError) Unwrap() error { return e.Err }

// PollTimeoutError means the instance did not return to ACTIVE within the poll policy
type PollTimeoutError struct {
	InstanceID string
	Attempts   int
	Elapsed    time.Duration
	LastStatus string
}

func (e *PollTimeoutError) Error() string {
	return fmt.Sprintf("instance %s still %s after %d polls (%s)",
		e.InstanceID, e.LastStatus, e.Attempts, e.Elapsed.Round(time.Second))
}

// MigrationVerificationFailure means the instance is ACTIVE but not on the destination
type MigrationVerificationFailure struct {
	InstanceID string
	Expected   string
	Actual     string
}

func (e *MigrationVerificationFailure) Error() string {
	return fmt.Sprintf("instance %s is on %s, expected %s", e.InstanceID, e.Actual, e.Expected)
}

// PostMigrationHealthFailure means a migrated instance is unreachable; it requires an operator
type PostMigrationHealthFailure struct {
	Hostname string
}

func (e *PostMigrationHealthFailure) Error() string {
	return fmt.Sprintf("EMERGENCY: %s is not reachable post-migration", e.Hostname)
}

// IsBenign reports whether err only ends the current iteration
func IsBenign(err error) bool {
	var noCandidate *NoCandidateError
	var verification *MigrationVerificationFailure
	var preCheck *PreMigrationHealthFailure
	return errors.As(err, &noCandidate) || errors.As(err, &verification) || errors.As(err, &preCheck)
}
