// Package conversation holds the dialogue phase state machine. The
// transition function is pure: no I/O, no clock, no randomness, so every
// path is unit-testable.
package conversation

import (
	"github.com/engageai/engage-api/internal/domain"
)

// Action is the recommended next move for the dialogue layer after a
// transition. The engine does not act on it; it is advisory output for
// whatever builds the next prompt.
type Action string

// Recommended actions per phase
const (
	ActionGreet        Action = "greet"
	ActionProbeNeeds   Action = "probe_needs"
	ActionPresentOffer Action = "present_offer"
	ActionConclude     Action = "conclude"
	ActionNone         Action = "none"
)

// Decision is the result of one transition.
type Decision struct {
	Phase domain.Phase
	// Action recommends what the next AI turn should do.
	Action Action
	// ConsecutiveDisengaged is the updated disengagement streak the caller
	// must persist alongside the phase.
	ConsecutiveDisengaged int
}

// Machine evaluates phase transitions. DisengagedThreshold is the number of
// consecutive disengaged outcomes that abandons a conversation; 3 unless
// product says otherwise.
type Machine struct {
	DisengagedThreshold int

	// StalledMessageLimit caps how long a dialogue may run: once
	// messageCount reaches it, the conversation is wrapped up — Closing if
	// the customer is still engaged, Abandoned otherwise. Zero disables
	// the cap.
	StalledMessageLimit int
}

// NewMachine creates a Machine, defaulting the threshold to 3 and the
// message cap to 15.
func NewMachine(disengagedThreshold int) Machine {
	if disengagedThreshold < 1 {
		disengagedThreshold = 3
	}
	return Machine{
		DisengagedThreshold: disengagedThreshold,
		StalledMessageLimit: 15,
	}
}

// Transition computes the next phase for a conversation given the executor's
// classified outcome. Rules, in precedence order:
//
//  1. Terminal phases never move; callers start fresh bookkeeping instead.
//  2. A disengagement streak reaching the threshold abandons the
//     conversation regardless of branch or phase.
//  3. ready_to_close closes from any non-terminal phase.
//  4. At the stalled-message cap the conversation is wrapped up: Closing
//     when still engaged, Abandoned otherwise.
//  5. From Welcome, branch picks the intermediate phase: Manipulator goes
//     straight to Negotiation, Convincer to Discovery.
//  6. From Discovery, an engaged outcome (a need surfaced) moves to
//     Negotiation; otherwise the conversation keeps probing.
//  7. Negotiation holds until an earlier rule fires.
func (m Machine) Transition(
	phase domain.Phase,
	branch domain.Branch,
	outcome domain.Outcome,
	messageCount int,
	consecutiveDisengaged int,
) Decision {
	if phase.Terminal() {
		return Decision{Phase: phase, Action: ActionNone, ConsecutiveDisengaged: consecutiveDisengaged}
	}

	streak := 0
	if outcome == domain.OutcomeDisengaged {
		streak = consecutiveDisengaged + 1
	}

	if streak >= m.DisengagedThreshold {
		return Decision{Phase: domain.PhaseAbandoned, Action: ActionNone, ConsecutiveDisengaged: streak}
	}

	if outcome == domain.OutcomeReadyToClose {
		return Decision{Phase: domain.PhaseClosing, Action: ActionConclude, ConsecutiveDisengaged: streak}
	}

	if m.StalledMessageLimit > 0 && messageCount >= m.StalledMessageLimit {
		if outcome == domain.OutcomeEngaged {
			return Decision{Phase: domain.PhaseClosing, Action: ActionConclude, ConsecutiveDisengaged: streak}
		}
		return Decision{Phase: domain.PhaseAbandoned, Action: ActionNone, ConsecutiveDisengaged: streak}
	}

	next := phase
	switch phase {
	case domain.PhaseWelcome:
		if branch == domain.BranchManipulator {
			next = domain.PhaseNegotiation
		} else {
			next = domain.PhaseDiscovery
		}
	case domain.PhaseDiscovery:
		if outcome == domain.OutcomeEngaged {
			next = domain.PhaseNegotiation
		}
	case domain.PhaseNegotiation:
		// Holds until closing or abandonment.
	}

	return Decision{Phase: next, Action: actionFor(next), ConsecutiveDisengaged: streak}
}

func actionFor(phase domain.Phase) Action {
	switch phase {
	case domain.PhaseWelcome:
		return ActionGreet
	case domain.PhaseDiscovery:
		return ActionProbeNeeds
	case domain.PhaseNegotiation:
		return ActionPresentOffer
	case domain.PhaseClosing:
		return ActionConclude
	default:
		return ActionNone
	}
}
