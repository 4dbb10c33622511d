package repricer

import (
	"fmt"

	"github.com/rewired-gh/repricer/internal/models"
)

// DecisionKind classifies what should happen to a listing this cycle.
type DecisionKind int

const (
	AlreadyFirst DecisionKind = iota
	BelowFloor
	NoImprovement
	Update
)

func (k DecisionKind) String() string {
	switch k {
	case AlreadyFirst:
		return "already_first"
	case BelowFloor:
		return "below_floor"
	case NoImprovement:
		return "no_improvement"
	case Update:
		return "update"
	default:
		return fmt.Sprintf("decision(%d)", int(k))
	}
}

// Decision is the result of Decide. Candidate is the undercut price that was
// considered (zero for AlreadyFirst); NewPrice is set only for Update.
type Decision struct {
	Kind      DecisionKind
	Candidate models.Price
	NewPrice  models.Price
	Floor     models.Price
	HasFloor  bool
}

// Decide is a pure function of (current price, best price, floor).
// The candidate is one Tick under the best offer. It is rejected when it
// falls below the floor, and when it would not lower our price (or would
// not be a positive price at all).
func Decide(listing models.Listing, floor models.Price, hasFloor bool) Decision {
	d := Decision{Floor: floor, HasFloor: hasFloor}
	if listing.Position == 1 {
		d.Kind = AlreadyFirst
		return d
	}

	d.Candidate = listing.BestPrice - models.Tick
	switch {
	case hasFloor && d.Candidate < floor:
		d.Kind = BelowFloor
	case d.Candidate >= listing.CurrentPrice || d.Candidate <= 0:
		d.Kind = NoImprovement
	default:
		d.Kind = Update
		d.NewPrice = d.Candidate
	}
	return d
}

// OutcomeKind is the terminal state of a listing for the cycle.
type OutcomeKind int

const (
	Skipped OutcomeKind = iota
	Updated
	Cancelled
	Failed
)

func (k OutcomeKind) String() string {
	switch k {
	case Skipped:
		return "skipped"
	case Updated:
		return "updated"
	case Cancelled:
		return "cancelled"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(k))
	}
}

// Outcome is what ApplyDecision did with a Decision.
type Outcome struct {
	Kind     OutcomeKind
	Decision Decision
	Price    models.Price
	Attempts int
	// Failure is set when Kind is Failed.
	Failure *models.Failure
}
