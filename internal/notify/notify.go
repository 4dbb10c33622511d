// Package notify fans cycle reports and failures out to the operator.
package notify

import (
	"errors"
	"sync"

	"github.com/rewired-gh/repricer/internal/logger"
	"github.com/rewired-gh/repricer/internal/models"
)

// Notifier delivers repricer events to an operator channel.
type Notifier interface {
	// SendReport is called after a cycle that updated or failed something.
	SendReport(stats models.RunStats) error
	// SendError is called on the first failed cycle of a streak.
	SendError(cycleErr error) error
	// SendRecovery is called on the first good cycle after a streak.
	SendRecovery(failureCount int) error
}

// Multi sends to every notifier and joins their errors.
type Multi []Notifier

// SendReport sends stats to every notifier.
func (m Multi) SendReport(stats models.RunStats) error {
	var errs []error
	for _, n := range m {
		errs = append(errs, n.SendReport(stats))
	}
	return errors.Join(errs...)
}

// SendError reports a failed cycle to every notifier.
func (m Multi) SendError(cycleErr error) error {
	var errs []error
	for _, n := range m {
		errs = append(errs, n.SendError(cycleErr))
	}
	return errors.Join(errs...)
}

// SendRecovery announces the end of a failure streak to every notifier.
func (m Multi) SendRecovery(failureCount int) error {
	var errs []error
	for _, n := range m {
		errs = append(errs, n.SendRecovery(failureCount))
	}
	return errors.Join(errs...)
}

// Tracker turns per-cycle results into notifications: one error message per
// failure streak, one recovery message when it ends, and a report for every
// notable cycle. Its HandleCycle method fits repricer.Loop.OnCycle.
type Tracker struct {
	notifier Notifier

	mu                  sync.Mutex
	consecutiveFailures int
	last                models.RunStats
	hasLast             bool
}

// NewTracker wraps n. A nil n only records the last stats.
func NewTracker(n Notifier) *Tracker {
	return &Tracker{notifier: n}
}

// HandleCycle records one cycle result and sends what the streak calls for.
func (t *Tracker) HandleCycle(stats models.RunStats, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err != nil {
		t.consecutiveFailures++
		if t.consecutiveFailures == 1 && t.notifier != nil {
			if sendErr := t.notifier.SendError(err); sendErr != nil {
				logger.Warn("Failed to send error notification: %v", sendErr)
			}
		}
		return
	}

	if t.consecutiveFailures > 0 && t.notifier != nil {
		if sendErr := t.notifier.SendRecovery(t.consecutiveFailures); sendErr != nil {
			logger.Warn("Failed to send recovery notification: %v", sendErr)
		}
	}
	t.consecutiveFailures = 0
	t.last = stats
	t.hasLast = true

	if stats.Notable() && t.notifier != nil {
		if sendErr := t.notifier.SendReport(stats); sendErr != nil {
			logger.Warn("Failed to send cycle report: %v", sendErr)
		}
	}
}

// Last returns the stats of the most recent successful cycle.
func (t *Tracker) Last() (models.RunStats, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last, t.hasLast
}
