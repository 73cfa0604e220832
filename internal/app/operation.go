package app

import (
	"time"

	"github.com/google/uuid"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Operation tags every log line of one CLI invocation or server run.
// It starts out successful; Fail flips it to error.
type Operation struct {
	ID        string
	Name      string
	Status    string
	StartedAt time.Time
}

// NewOperation creates an operation whose ID sorts by start time:
// <UTC timestamp>-<8 random hex chars>.
func NewOperation(name string, now time.Time) *Operation {
	now = now.UTC()
	return &Operation{
		ID:        now.Format("20060102T150405Z") + "-" + uuid.NewString()[:8],
		Name:      name,
		Status:    StatusSuccess,
		StartedAt: now,
	}
}

// Fail marks the operation failed when err is non-nil.
func (op *Operation) Fail(err error) {
	if err != nil {
		op.Status = StatusError
	}
}

// Failed reports whether Fail was called with an error.
func (op *Operation) Failed() bool {
	return op.Status == StatusError
}
