package conversation

import (
	"testing"

	"github.com/engageai/engage-api/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestTransitionWelcomeBranches(t *testing.T) {
	t.Parallel()

	m := NewMachine(3)

	t.Run("manipulator skips discovery", func(t *testing.T) {
		t.Parallel()
		d := m.Transition(domain.PhaseWelcome, domain.BranchManipulator, domain.OutcomeNeutral, 1, 0)
		assert.Equal(t, domain.PhaseNegotiation, d.Phase)
		assert.Equal(t, ActionPresentOffer, d.Action)
	})

	t.Run("convincer probes needs first", func(t *testing.T) {
		t.Parallel()
		d := m.Transition(domain.PhaseWelcome, domain.BranchConvincer, domain.OutcomeNeutral, 1, 0)
		assert.Equal(t, domain.PhaseDiscovery, d.Phase)
		assert.Equal(t, ActionProbeNeeds, d.Action)
	})
}

func TestTransitionDiscovery(t *testing.T) {
	t.Parallel()

	m := NewMachine(3)

	t.Run("engaged customer moves to negotiation", func(t *testing.T) {
		t.Parallel()
		d := m.Transition(domain.PhaseDiscovery, domain.BranchConvincer, domain.OutcomeEngaged, 2, 0)
		assert.Equal(t, domain.PhaseNegotiation, d.Phase)
	})

	t.Run("neutral customer keeps probing", func(t *testing.T) {
		t.Parallel()
		d := m.Transition(domain.PhaseDiscovery, domain.BranchConvincer, domain.OutcomeNeutral, 2, 0)
		assert.Equal(t, domain.PhaseDiscovery, d.Phase)
		assert.Equal(t, ActionProbeNeeds, d.Action)
	})
}

func TestTransitionDisengagementStreak(t *testing.T) {
	t.Parallel()

	m := NewMachine(3)

	t.Run("streak accumulates below threshold", func(t *testing.T) {
		t.Parallel()
		d := m.Transition(domain.PhaseNegotiation, domain.BranchConvincer, domain.OutcomeDisengaged, 4, 0)
		assert.Equal(t, domain.PhaseNegotiation, d.Phase)
		assert.Equal(t, 1, d.ConsecutiveDisengaged)

		d = m.Transition(domain.PhaseNegotiation, domain.BranchConvincer, domain.OutcomeDisengaged, 5, d.ConsecutiveDisengaged)
		assert.Equal(t, domain.PhaseNegotiation, d.Phase)
		assert.Equal(t, 2, d.ConsecutiveDisengaged)
	})

	t.Run("third consecutive disengagement abandons", func(t *testing.T) {
		t.Parallel()
		d := m.Transition(domain.PhaseNegotiation, domain.BranchConvincer, domain.OutcomeDisengaged, 6, 2)
		assert.Equal(t, domain.PhaseAbandoned, d.Phase)
		assert.Equal(t, 3, d.ConsecutiveDisengaged)
	})

	t.Run("any other outcome resets the streak", func(t *testing.T) {
		t.Parallel()
		d := m.Transition(domain.PhaseNegotiation, domain.BranchConvincer, domain.OutcomeNeutral, 6, 2)
		assert.Equal(t, domain.PhaseNegotiation, d.Phase)
		assert.Equal(t, 0, d.ConsecutiveDisengaged)
	})

	t.Run("abandonment applies in any phase", func(t *testing.T) {
		t.Parallel()
		d := m.Transition(domain.PhaseWelcome, domain.BranchManipulator, domain.OutcomeDisengaged, 1, 2)
		assert.Equal(t, domain.PhaseAbandoned, d.Phase)
	})
}

func TestTransitionReadyToClose(t *testing.T) {
	t.Parallel()

	m := NewMachine(3)

	for _, phase := range []domain.Phase{domain.PhaseWelcome, domain.PhaseDiscovery, domain.PhaseNegotiation} {
		d := m.Transition(phase, domain.BranchConvincer, domain.OutcomeReadyToClose, 2, 1)
		assert.Equal(t, domain.PhaseClosing, d.Phase, "from %s", phase)
		assert.Equal(t, ActionConclude, d.Action)
		assert.Equal(t, 0, d.ConsecutiveDisengaged, "closing resets the streak")
	}
}

func TestTransitionTerminalPhasesHold(t *testing.T) {
	t.Parallel()

	m := NewMachine(3)

	for _, phase := range []domain.Phase{domain.PhaseClosing, domain.PhaseAbandoned} {
		for _, outcome := range []domain.Outcome{
			domain.OutcomeEngaged,
			domain.OutcomeReadyToClose,
			domain.OutcomeDisengaged,
		} {
			d := m.Transition(phase, domain.BranchConvincer, outcome, 10, 2)
			assert.Equal(t, phase, d.Phase, "terminal phase %s moved on %s", phase, outcome)
			assert.Equal(t, ActionNone, d.Action)
			assert.Equal(t, 2, d.ConsecutiveDisengaged, "terminal phases keep the streak untouched")
		}
	}
}

func TestTransitionStalledMessageLimit(t *testing.T) {
	t.Parallel()

	m := NewMachine(3)

	t.Run("engaged long conversation closes", func(t *testing.T) {
		t.Parallel()
		d := m.Transition(domain.PhaseNegotiation, domain.BranchConvincer, domain.OutcomeEngaged, 15, 0)
		assert.Equal(t, domain.PhaseClosing, d.Phase)
	})

	t.Run("unengaged long conversation is abandoned", func(t *testing.T) {
		t.Parallel()
		d := m.Transition(domain.PhaseNegotiation, domain.BranchConvincer, domain.OutcomeNeutral, 15, 0)
		assert.Equal(t, domain.PhaseAbandoned, d.Phase)
	})

	t.Run("zero limit disables the cap", func(t *testing.T) {
		t.Parallel()
		unlimited := Machine{DisengagedThreshold: 3}
		d := unlimited.Transition(domain.PhaseNegotiation, domain.BranchConvincer, domain.OutcomeNeutral, 100, 0)
		assert.Equal(t, domain.PhaseNegotiation, d.Phase)
	})
}

func TestNewMachineDefaults(t *testing.T) {
	t.Parallel()

	m := NewMachine(0)
	assert.Equal(t, 3, m.DisengagedThreshold)
	assert.Equal(t, 15, m.StalledMessageLimit)

	m = NewMachine(5)
	assert.Equal(t, 5, m.DisengagedThreshold)
}
