// Package types defines the observations, policies and model updates shared
// across the agent.
package types

import "fmt"

// ObservationType distinguishes beliefs from desires.
type ObservationType string

const (
	// TypeBelief is something the assistant holds to be true about itself, the user, or the world.
	TypeBelief ObservationType = "belief"

	// TypeDesire is something the assistant wants, short or long term.
	TypeDesire ObservationType = "desire"
)

// IsValid reports whether t is a known observation type.
func (t ObservationType) IsValid() bool {
	return t == TypeBelief || t == TypeDesire
}

// Observation is a belief or desire held by the generative model.
// Identity and equality are by ID only: two observations with the same
// Document but different IDs are distinct entries.
type Observation struct {
	ID        string          `json:"id"`                  // Opaque unique key
	Document  string          `json:"document"`            // Statement text
	Embedding []float32       `json:"embedding,omitempty"` // nil when absent
	Distance  float64         `json:"distance"`            // Score from the last retrieval only
	Type      ObservationType `json:"type"`
	Category  string          `json:"category,omitempty"` // Empty when the observation has no prior category
}

// Validate checks the fields required for an observation to enter a model.
func (o *Observation) Validate() error {
	if o.ID == "" {
		return fmt.Errorf("observation id is required")
	}
	if o.Document == "" {
		return fmt.Errorf("observation %s: document is required", o.ID)
	}
	if !o.Type.IsValid() {
		return fmt.Errorf("observation %s: invalid type %q", o.ID, o.Type)
	}
	return nil
}

// Clone returns a deep copy so callers can't mutate a model's entries.
func (o Observation) Clone() Observation {
	if o.Embedding != nil {
		emb := make([]float32, len(o.Embedding))
		copy(emb, o.Embedding)
		o.Embedding = emb
	}
	return o
}
