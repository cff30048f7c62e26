package chat

// AgentResponse tracks one prompt turn of the responder.
type AgentResponse struct {
	Prompt  string `json:"prompt"`
	Preview string `json:"preview"`

	// Sentence is the most recently released sentence.
	Sentence string `json:"sentence"`

	// Sentences holds every committed sentence, ignorable ones included.
	Sentences []string `json:"sentences"`

	// SentenceID is the id the next released sentence will carry. A copy
	// handed to a listener carries the id of its own Sentence.
	SentenceID int `json:"sentence_id"`
}

// NewAgentResponse starts a response to prompt.
func NewAgentResponse(prompt string) *AgentResponse {
	return &AgentResponse{Prompt: prompt, Sentences: []string{}}
}

// Copy returns a deep copy.
func (r *AgentResponse) Copy() AgentResponse {
	cp := *r
	cp.Sentences = append([]string(nil), r.Sentences...)
	return cp
}
