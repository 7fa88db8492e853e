package models

import (
	"time"
)

// OperationKind identifies which bulk action an operation performs
type OperationKind string

const (
	OperationImport OperationKind = "import"
	OperationModify OperationKind = "modify"
	OperationDelete OperationKind = "delete"
)

// ValidKinds defines the accepted operation kinds
var ValidKinds = map[OperationKind]bool{
	OperationImport: true,
	OperationModify: true,
	OperationDelete: true,
}

// OperationStatus represents the lifecycle state of an operation
type OperationStatus string

const (
	OperationStatusPending        OperationStatus = "pending"
	OperationStatusAuthenticating OperationStatus = "authenticating"
	OperationStatusProcessing     OperationStatus = "processing"
	OperationStatusCompleted      OperationStatus = "completed"
	OperationStatusFailed         OperationStatus = "failed"
)

// ResultStatus classifies the outcome of a single record
type ResultStatus string

const (
	ResultImported ResultStatus = "imported"
	ResultModified ResultStatus = "modified"
	ResultDeleted  ResultStatus = "deleted"
	ResultSkipped  ResultStatus = "skipped"
	ResultError    ResultStatus = "error"
)

// IsSuccess reports whether the status is one of the success kinds.
// Skipped is neither success nor error; callers classify it separately.
func (s ResultStatus) IsSuccess() bool {
	return s == ResultImported || s == ResultModified || s == ResultDeleted
}

// SuccessStatusFor returns the success-kind status for an operation kind
func SuccessStatusFor(kind OperationKind) ResultStatus {
	switch kind {
	case OperationModify:
		return ResultModified
	case OperationDelete:
		return ResultDeleted
	default:
		return ResultImported
	}
}

// Record is one normalized row of input data representing a single user
// action. Username or email is always present after mapping; everything the
// CSV carried beyond the well-known columns lives in Attributes.
type Record struct {
	Username     string            `json:"username,omitempty"`
	Email        string            `json:"email,omitempty"`
	GivenName    string            `json:"givenName,omitempty"`
	FamilyName   string            `json:"familyName,omitempty"`
	PopulationID string            `json:"populationId,omitempty"`
	UserID       string            `json:"userId,omitempty"`
	Attributes   map[string]string `json:"attributes,omitempty"`
}

// Identifier returns the best available handle for reporting: username,
// then email, then the direct user id.
func (r Record) Identifier() string {
	if r.Username != "" {
		return r.Username
	}
	if r.Email != "" {
		return r.Email
	}
	return r.UserID
}

// OperationRequest is the body of a bulk import/modify/delete submission
type OperationRequest struct {
	Users         []Record `json:"users"`
	EnvironmentID string   `json:"environmentId"`
	ClientID      string   `json:"clientId"`
	ClientSecret  string   `json:"clientSecret"`
}

// OperationResult is the outcome of one record. Exactly one is produced per
// input record, in input order.
type OperationResult struct {
	Identifier string       `json:"identifier"`
	Status     ResultStatus `json:"status"`
	Message    string       `json:"message,omitempty"`
	RawError   string       `json:"raw_error,omitempty"`
}

// OperationSummary aggregates the result list. Recomputed at completion,
// never mutated in place.
type OperationSummary struct {
	Total        int   `json:"total"`
	SuccessCount int   `json:"success_count"`
	ErrorCount   int   `json:"error_count"`
	SkippedCount int   `json:"skipped_count"`
	DurationMs   int64 `json:"duration_ms"`
}

// Summarize derives an OperationSummary from a result list
func Summarize(results []OperationResult, duration time.Duration) OperationSummary {
	summary := OperationSummary{
		Total:      len(results),
		DurationMs: duration.Milliseconds(),
	}
	for _, r := range results {
		switch {
		case r.Status.IsSuccess():
			summary.SuccessCount++
		case r.Status == ResultSkipped:
			summary.SkippedCount++
		default:
			summary.ErrorCount++
		}
	}
	return summary
}

// Operation is the in-memory state of one bulk run. Results are ephemeral:
// they live only as long as the process and are owned by the orchestrator
// until the run reaches a terminal status.
type Operation struct {
	ID          string            `json:"operation_id"`
	Kind        OperationKind     `json:"kind"`
	Status      OperationStatus   `json:"status"`
	Results     []OperationResult `json:"results,omitempty"`
	Summary     *OperationSummary `json:"summary,omitempty"`
	Error       string            `json:"error,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

// Terminal reports whether the operation has finished, successfully or not
func (o *Operation) Terminal() bool {
	return o.Status == OperationStatusCompleted || o.Status == OperationStatusFailed
}
