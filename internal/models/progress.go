package models

// ProgressEventType discriminates the progress event union
type ProgressEventType string

const (
	ProgressConnected ProgressEventType = "connected"
	ProgressUpdate    ProgressEventType = "progress"
	ProgressComplete  ProgressEventType = "complete"
	ProgressError     ProgressEventType = "error"
)

// ProgressEvent is one incremental status message streamed from the
// orchestrator to a subscriber. Transient: emitted once, never stored.
type ProgressEvent struct {
	Type         ProgressEventType `json:"type"`
	Current      int               `json:"current,omitempty"`
	Total        int               `json:"total,omitempty"`
	SuccessSoFar int               `json:"success_so_far,omitempty"`
	ErrorsSoFar  int               `json:"errors_so_far,omitempty"`
	SuccessCount int               `json:"success_count,omitempty"`
	ErrorCount   int               `json:"error_count,omitempty"`
	SkippedCount int               `json:"skipped_count,omitempty"`
	Message      string            `json:"message,omitempty"`
}
