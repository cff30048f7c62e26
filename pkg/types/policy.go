package types

import (
	"fmt"
	"time"
)

// Candidate policy bounds accepted from the reasoning model.
const (
	MinPolicyCandidates    = 3
	MaxPolicyCandidates    = 5
	MaxFreeEnergyReduction = 10.0
)

// Policy is a proposed multi-step course of conversational action.
// A selected policy is replaced wholesale, never edited, except for the
// Progress annotation written by the update step.
type Policy struct {
	Policy                       string    `json:"policy"`
	ExpectedOutcome              string    `json:"expected_outcome"`
	EstimatedFreeEnergyReduction float64   `json:"estimated_free_energy_reduction"` // 0..10
	ProbabilityOfSuccess         float64   `json:"probability_of_success"`          // 0..1
	CreatedAt                    time.Time `json:"created_at,omitempty"`
	Progress                     string    `json:"progress,omitempty"`
}

// Impact is the expected free energy removed: reduction weighted by probability.
func (p *Policy) Impact() float64 {
	return p.EstimatedFreeEnergyReduction * p.ProbabilityOfSuccess
}

// Validate checks that the numeric estimates are inside their documented ranges.
func (p *Policy) Validate() error {
	if p.Policy == "" {
		return fmt.Errorf("policy text is required")
	}
	if p.EstimatedFreeEnergyReduction < 0 || p.EstimatedFreeEnergyReduction > MaxFreeEnergyReduction {
		return fmt.Errorf("estimated_free_energy_reduction %.2f outside [0, %.0f]", p.EstimatedFreeEnergyReduction, MaxFreeEnergyReduction)
	}
	if p.ProbabilityOfSuccess < 0 || p.ProbabilityOfSuccess > 1 {
		return fmt.Errorf("probability_of_success %.2f outside [0, 1]", p.ProbabilityOfSuccess)
	}
	return nil
}

// PolicyCandidates is the structured result of a policy selection request.
// SelectedIndex is only a proposal and may be out of range.
type PolicyCandidates struct {
	Policies      []Policy `json:"policies"`
	SelectedIndex int      `json:"selected_index"`
}

// Validate enforces the candidate count and per-policy ranges.
// SelectedIndex is deliberately not validated; callers correct it locally.
func (c *PolicyCandidates) Validate() error {
	n := len(c.Policies)
	if n < MinPolicyCandidates || n > MaxPolicyCandidates {
		return fmt.Errorf("expected %d-%d policies, got %d", MinPolicyCandidates, MaxPolicyCandidates, n)
	}
	for i := range c.Policies {
		if err := c.Policies[i].Validate(); err != nil {
			return fmt.Errorf("policy %d: %w", i, err)
		}
	}
	return nil
}

// CompletionState says whether the active policy should keep running.
type CompletionState string

const (
	CompletionContinue  CompletionState = "continue"
	CompletionComplete  CompletionState = "complete"
	CompletionInterrupt CompletionState = "interrupt"
)

// ValidCompletionStates contains all valid completion state values.
var ValidCompletionStates = []CompletionState{
	CompletionContinue,
	CompletionComplete,
	CompletionInterrupt,
}

// IsValid reports whether s is one of ValidCompletionStates.
func (s CompletionState) IsValid() bool {
	for _, valid := range ValidCompletionStates {
		if s == valid {
			return true
		}
	}
	return false
}

// EndsPolicy reports whether the active policy must be cleared.
func (s CompletionState) EndsPolicy() bool {
	return s == CompletionComplete || s == CompletionInterrupt
}

// BeliefEdit renames a belief document.
type BeliefEdit struct {
	Old string `json:"old_belief"`
	New string `json:"new_belief"`
}

// ModelUpdate is the structured result of a policy update request.
type ModelUpdate struct {
	PolicyProgress        string          `json:"policy_progress"`
	PolicyCompletionState CompletionState `json:"policy_completion_state"`
	AddBeliefs            []string        `json:"add_beliefs"`
	DeleteBeliefs         []string        `json:"delete_beliefs"`
	EditBeliefs           []BeliefEdit    `json:"edit_beliefs"`
}

// Validate checks the completion state and rejects empty belief text.
func (u *ModelUpdate) Validate() error {
	if !u.PolicyCompletionState.IsValid() {
		return fmt.Errorf("invalid policy_completion_state %q", u.PolicyCompletionState)
	}
	for i, b := range u.AddBeliefs {
		if b == "" {
			return fmt.Errorf("add_beliefs[%d] is empty", i)
		}
	}
	for i, e := range u.EditBeliefs {
		if e.Old == "" || e.New == "" {
			return fmt.Errorf("edit_beliefs[%d] needs both old_belief and new_belief", i)
		}
	}
	return nil
}
