package models

import (
	"fmt"
	"time"
)

// Failure describes a terminal per-item failure with enough detail to diagnose it.
type Failure struct {
	MarketHashName string
	ItemID         string
	AttemptedPrice Price
	Attempts       int
	Err            error
	// Raw is the raw error payload returned by the marketplace, if any.
	Raw string
}

func (f Failure) String() string {
	s := fmt.Sprintf("%s (item %s) at %s after %d attempt(s): %v",
		f.MarketHashName, f.ItemID, f.AttemptedPrice, f.Attempts, f.Err)
	if f.Raw != "" {
		s += " raw=" + f.Raw
	}
	return s
}

// RunStats aggregates the outcome of one repricing cycle.
type RunStats struct {
	RunID     string
	StartedAt time.Time
	Duration  time.Duration

	Total         int
	FirstPosition int
	Updated       int
	// Skipped counts every listing that was not updated, first-position ones included.
	Skipped   int
	BelowMin  int
	Failed    int
	Cancelled int

	Failures []Failure
}

// Notable reports whether the cycle changed or failed anything.
func (s RunStats) Notable() bool {
	return s.Updated > 0 || s.Failed > 0
}
