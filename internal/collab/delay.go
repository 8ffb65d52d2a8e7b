package collab

import (
	"context"
	"time"

	"github.com/ichavezg/nayra/internal/bpmn"
)

// CancelFunc cancels a scheduled send and reports whether it was still
// pending.
type CancelFunc func() bool

// Scheduler runs fire(msg) once the deadline passes.
type Scheduler interface {
	Schedule(ctx context.Context, msg bpmn.Message, at time.Time, fire func(bpmn.Message)) (CancelFunc, error)
}

// TimerScheduler schedules sends on in-process timers. Pending sends are
// lost when the process exits.
type TimerScheduler struct{}

// NewTimerScheduler returns a TimerScheduler.
func NewTimerScheduler() *TimerScheduler {
	return &TimerScheduler{}
}

// Schedule starts a timer for at.
func (s *TimerScheduler) Schedule(_ context.Context, msg bpmn.Message, at time.Time, fire func(bpmn.Message)) (CancelFunc, error) {
	t := time.AfterFunc(time.Until(at), func() { fire(msg) })
	return t.Stop, nil
}
