// Package pipeline drives reports through their stage sequence: it claims
// due jobs, dispatches each to the executor registered for its stage, and
// advances, retries, or fails the owning report based on the outcome.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Korner-san/bevisible/pkg/models"
)

// Executor performs one pipeline stage's work for a single job. The input
// job carries the previous stage's output in ProcessingData; the returned
// payload becomes the next stage's ProcessingData.
//
// Executors must tolerate re-invocation after a partial failure: persisting
// the same item twice must not inflate report counters.
type Executor interface {
	Stage() models.Stage
	Execute(ctx context.Context, job *models.Job) (json.RawMessage, error)
}

// DeferError asks the processor to push the job back to pending without
// spending an attempt. Stages return it when a required resource (an
// automation account) is busy rather than broken.
type DeferError struct {
	Until  time.Time
	Reason string
}

func (e *DeferError) Error() string {
	return fmt.Sprintf("deferred until %s: %s", e.Until.Format(time.RFC3339), e.Reason)
}

// Defer builds a DeferError.
func Defer(until time.Time, reason string) *DeferError {
	return &DeferError{Until: until, Reason: reason}
}

// permanentError marks a failure that retrying cannot fix. The processor
// fails the report immediately instead of re-enqueueing.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so the processor skips retries for it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was wrapped by Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
