package model

// Progress is an intermediate progress report emitted by an asynchronous
// command handler before its final result.
type Progress struct {
	Percentage *int    `json:"percentage,omitempty"`
	Message    *string `json:"message,omitempty"`
}

// NewProgress builds a progress report with both fields set.
func NewProgress(percentage int, message string) Progress {
	return Progress{Percentage: &percentage, Message: &message}
}
