package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Branch is the conversational strategy fixed at conversation creation.
type Branch string

// Possible branch values
const (
	// BranchManipulator is product-led: the interaction originated from an
	// ad or product context, so the dialogue moves straight to negotiation.
	BranchManipulator Branch = "manipulator"

	// BranchConvincer is discovery-led: the customer initiated contact and
	// a need must be identified before negotiating.
	BranchConvincer Branch = "convincer"
)

// Phase is the mutable stage of a conversation's lifecycle. It is advanced
// only by the state machine after a task completes.
type Phase string

// Possible phase values
const (
	PhaseWelcome     Phase = "welcome"
	PhaseDiscovery   Phase = "discovery"
	PhaseNegotiation Phase = "negotiation"
	PhaseClosing     Phase = "closing"
	PhaseAbandoned   Phase = "abandoned"
)

// Outcome is the executor's classification of a single exchange.
type Outcome string

// Possible outcome values
const (
	OutcomeEngaged      Outcome = "engaged"
	OutcomeNeutral      Outcome = "neutral"
	OutcomeDisengaged   Outcome = "disengaged"
	OutcomeReadyToClose Outcome = "ready_to_close"
)

// Common validation errors for Conversation
var (
	ErrEmptyConversationID         = errors.New("conversation ID cannot be empty")
	ErrEmptyConversationCustomerID = errors.New("conversation customer ID cannot be empty")
	ErrEmptyConversationBusinessID = errors.New("conversation business ID cannot be empty")
	ErrInvalidBranch               = errors.New("invalid conversation branch")
	ErrInvalidPhase                = errors.New("invalid conversation phase")
	ErrInvalidOutcome              = errors.New("invalid outcome")
)

// Conversation represents a logical dialogue with one customer on one
// business. Branch never changes after creation; Phase and MessageCount are
// mutated only by the orchestrator after a task completes.
type Conversation struct {
	ID                    uuid.UUID `json:"id"`
	CustomerID            uuid.UUID `json:"customer_id"`
	BusinessID            uuid.UUID `json:"business_id"`
	Branch                Branch    `json:"branch"`
	Phase                 Phase     `json:"phase"`
	MessageCount          int       `json:"message_count"`
	ConsecutiveDisengaged int       `json:"consecutive_disengaged"`
	CreatedAt             time.Time `json:"created_at"`
	LastActivityAt        time.Time `json:"last_activity_at"`
}

// NewConversation creates a Conversation in the Welcome phase.
// Returns an error if validation fails.
func NewConversation(customerID, businessID uuid.UUID, branch Branch) (*Conversation, error) {
	now := time.Now().UTC()
	conv := &Conversation{
		ID:             uuid.New(),
		CustomerID:     customerID,
		BusinessID:     businessID,
		Branch:         branch,
		Phase:          PhaseWelcome,
		CreatedAt:      now,
		LastActivityAt: now,
	}

	if err := conv.Validate(); err != nil {
		return nil, err
	}

	return conv, nil
}

// Validate checks if the Conversation has valid data.
func (c *Conversation) Validate() error {
	if c.ID == uuid.Nil {
		return ErrEmptyConversationID
	}

	if c.CustomerID == uuid.Nil {
		return ErrEmptyConversationCustomerID
	}

	if c.BusinessID == uuid.Nil {
		return ErrEmptyConversationBusinessID
	}

	if !IsValidBranch(c.Branch) {
		return ErrInvalidBranch
	}

	if !IsValidPhase(c.Phase) {
		return ErrInvalidPhase
	}

	return nil
}

// Terminal reports whether the phase is final. Further events for a
// conversation in a terminal phase start fresh bookkeeping rather than
// reopening the old phase.
func (p Phase) Terminal() bool {
	return p == PhaseClosing || p == PhaseAbandoned
}

// IsValidBranch checks if the given branch is a known Branch.
func IsValidBranch(branch Branch) bool {
	return branch == BranchManipulator || branch == BranchConvincer
}

// IsValidPhase checks if the given phase is a known Phase.
func IsValidPhase(phase Phase) bool {
	switch phase {
	case PhaseWelcome, PhaseDiscovery, PhaseNegotiation, PhaseClosing, PhaseAbandoned:
		return true
	default:
		return false
	}
}

// IsValidOutcome checks if the given outcome is a known Outcome.
func IsValidOutcome(outcome Outcome) bool {
	switch outcome {
	case OutcomeEngaged, OutcomeNeutral, OutcomeDisengaged, OutcomeReadyToClose:
		return true
	default:
		return false
	}
}
