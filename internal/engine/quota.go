package engine

import (
	"errors"
	"fmt"

	"github.com/ichavezg/nayra/internal/bpmn"
)

// QuotaEnforcer counts the steps of one activation of an instance.
//
// Run gives every dequeued instance a fresh enforcer. When it runs out the
// instance goes back to the queue, so a long or looping process cannot
// monopolize a worker.
type QuotaEnforcer struct {
	maxSteps int
	current  int
}

// NewQuotaEnforcer returns an enforcer allowing maxSteps steps. A
// non-positive maxSteps means no limit.
func NewQuotaEnforcer(maxSteps int) *QuotaEnforcer {
	return &QuotaEnforcer{maxSteps: maxSteps}
}

// Check counts one step and fails once the limit is passed.
func (q *QuotaEnforcer) Check(instanceID string) error {
	q.current++
	if q.maxSteps > 0 && q.current > q.maxSteps {
		return &StepsExceededError{
			Instance: instanceID,
			Steps:    q.current,
			Limit:    q.maxSteps,
		}
	}
	return nil
}

// StepsExceededError reports an activation that used up its quota. The
// instance is still valid and is rescheduled.
type StepsExceededError struct {
	Instance string
	Steps    int
	Limit    int
}

// Error implements the error interface.
func (e *StepsExceededError) Error() string {
	return fmt.Sprintf("%s: instance %s exceeded step quota: %d steps > %d limit",
		e.Kind(), e.Instance, e.Steps, e.Limit)
}

// Kind returns the error category.
func (e *StepsExceededError) Kind() bpmn.ErrorKind {
	return bpmn.KindSchedulingBudgetExceeded
}

// IsStepsExceededError reports whether err is a StepsExceededError.
func IsStepsExceededError(err error) bool {
	var se *StepsExceededError
	return errors.As(err, &se)
}
