package dispatch

import "errors"

// ErrPermanent marks a Notifier error that retrying cannot fix (bot blocked, chat gone).
var ErrPermanent = errors.New("permanent delivery failure")

// Outcome is the result of one firing.
type Outcome int

const (
	OutcomeDelivered Outcome = iota // full daily message sent
	OutcomeReminded                 // access reminder sent
	OutcomeDuplicate                // already delivered for this local date
	OutcomeBlocked                  // user blocked, or the chat rejected us for good
	OutcomeGone                     // user no longer exists
	OutcomeFailed                   // transient failure, nothing charged
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDelivered:
		return "delivered"
	case OutcomeReminded:
		return "reminded"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeBlocked:
		return "blocked"
	case OutcomeGone:
		return "gone"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the user's trigger should be dropped.
func (o Outcome) Terminal() bool {
	return o == OutcomeBlocked || o == OutcomeGone
}
