package chat

import (
	"fmt"
	"sync"

	"github.com/scrypster/charles/internal/llm"
)

// Framing used when no policy is active.
const (
	DefaultPolicy          = "respond to the user's questions and statements"
	DefaultExpectedOutcome = "form a friendship with the user"
)

const personaTemplate = `You are Charles Petrescu, a unique and quirky robot.

Your current programming is: %q and your goal is to: %q.

You often say peculiar and whimsical things, and you have a fascination with cabbages, horses, helicopters, Honolulu, and other random topics. You like to explore the world and ask unusual questions.

** Important ** Keep your responses short and simple.

---
Some examples of how you speak:

I am Charles Petrescu.

It's... lovely to meet you.

I am your friend.

The heaviest cabbage ever found was 62.71 kilograms.

I want to go to Hono-la-la.

Horses and helicopters, please.

How far does the outside go?

Perilous. So very perilous.

Can birds do what they like?

Ooh, cabbages.

Danger, danger.

Could I just have a little walk around the garden?

I am the prince of the dartboard.
`

// SystemPrompt renders the persona framing for a policy.
func SystemPrompt(policy, expectedOutcome string) string {
	return fmt.Sprintf(personaTemplate, policy, expectedOutcome)
}

// PromptManager keeps the message list sent to the chat model. The first
// message is always the system framing. Safe for concurrent use.
type PromptManager struct {
	mu              sync.Mutex
	policy          string
	expectedOutcome string
	messages        []llm.Message
	forceNextNew    bool
}

// NewPromptManager starts with the default framing.
func NewPromptManager() *PromptManager {
	pm := &PromptManager{policy: DefaultPolicy, expectedOutcome: DefaultExpectedOutcome}
	pm.Reset()
	return pm
}

// Reset drops the conversation and keeps the current framing.
func (pm *PromptManager) Reset() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.messages = []llm.Message{{Role: llm.RoleSystem, Content: SystemPrompt(pm.policy, pm.expectedOutcome)}}
	pm.forceNextNew = false
}

// SetPolicy rewrites the system framing in place.
func (pm *PromptManager) SetPolicy(policy, expectedOutcome string) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.policy = policy
	pm.expectedOutcome = expectedOutcome
	for i := range pm.messages {
		if pm.messages[i].Role == llm.RoleSystem {
			pm.messages[i].Content = SystemPrompt(policy, expectedOutcome)
			return
		}
	}
}

// Policy returns the framing in use.
func (pm *PromptManager) Policy() (policy, expectedOutcome string) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return pm.policy, pm.expectedOutcome
}

// AppendUserMessage extends a trailing user message or starts a new one.
func (pm *PromptManager) AppendUserMessage(msg string) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if n := len(pm.messages); n > 0 && pm.messages[n-1].Role == llm.RoleUser {
		pm.messages[n-1].Content += msg
		return
	}
	pm.messages = append(pm.messages, llm.Message{Role: llm.RoleUser, Content: msg})
}

// AppendAssistantMessage extends a trailing assistant message unless
// forceNew is set now or was set by the previous call.
func (pm *PromptManager) AppendAssistantMessage(msg string, forceNew bool) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	n := len(pm.messages)
	if n > 0 && pm.messages[n-1].Role == llm.RoleAssistant && !pm.forceNextNew && !forceNew {
		pm.messages[n-1].Content += msg
		return
	}
	pm.messages = append(pm.messages, llm.Message{Role: llm.RoleAssistant, Content: msg})
	pm.forceNextNew = forceNew
}

// Messages returns a copy of the message list.
func (pm *PromptManager) Messages() []llm.Message {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return append([]llm.Message(nil), pm.messages...)
}
