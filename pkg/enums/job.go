package enums

import "fmt"

// JobState maps to the job_state enum in Postgres.
type JobState string

const (
	JobPending  JobState = "pending"
	JobRunning  JobState = "running"
	JobDone     JobState = "done"
	JobFailed   JobState = "failed"
	JobCanceled JobState = "canceled"
)

var validJobStates = []JobState{
	JobPending,
	JobRunning,
	JobDone,
	JobFailed,
	JobCanceled,
}

// Finished reports whether the state no longer blocks a new job with the
// same identity key.
func (s JobState) Finished() bool {
	return s == JobDone || s == JobFailed || s == JobCanceled
}

// IsValid reports whether the value matches the canonical job_state enum.
func (s JobState) IsValid() bool {
	for _, candidate := range validJobStates {
		if candidate == s {
			return true
		}
	}
	return false
}

// JobOperation maps to the job_operation enum in Postgres.
type JobOperation string

const (
	JobOrderImport      JobOperation = "order_import"
	JobOrderUpdate      JobOperation = "order_update"
	JobOrderCancel      JobOperation = "order_cancel"
	JobFulfillmentApply JobOperation = "fulfillment_apply"
	JobTransactionApply JobOperation = "transaction_apply"
	JobCatalogSync      JobOperation = "catalog_sync"
)

var validJobOperations = []JobOperation{
	JobOrderImport,
	JobOrderUpdate,
	JobOrderCancel,
	JobFulfillmentApply,
	JobTransactionApply,
	JobCatalogSync,
}

// IsValid reports whether the value matches the canonical job_operation enum.
func (o JobOperation) IsValid() bool {
	for _, candidate := range validJobOperations {
		if candidate == o {
			return true
		}
	}
	return false
}

// ParseJobOperation converts raw input into JobOperation.
func ParseJobOperation(value string) (JobOperation, error) {
	for _, candidate := range validJobOperations {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid job operation %q", value)
}
