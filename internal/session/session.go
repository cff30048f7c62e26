// Package session ties the conversational pieces together. A Session owns
// every piece of mutable conversation state; there is no package-level state.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/scrypster/charles/internal/chat"
	"github.com/scrypster/charles/internal/engine"
	"github.com/scrypster/charles/internal/llm"
	"github.com/scrypster/charles/internal/sensory"
	"github.com/scrypster/charles/pkg/types"
)

// ErrEmptyText is returned for user input with nothing but whitespace.
var ErrEmptyText = errors.New("user text is empty")

// Chat roles used in Snapshot.Chat.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Config tunes the control loop and the responder.
type Config struct {
	// TickInterval is the control-loop cadence. Default: 1s.
	TickInterval time.Duration

	// ErrorDelay is the pause after a failed tick. Default: 1s.
	ErrorDelay time.Duration

	// ShowPackets adds speech packet counts to the response dump.
	ShowPackets bool

	Responder chat.ResponderConfig
}

// ChatLine is one line of the chat history.
type ChatLine struct {
	Role string    `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// Snapshot is what the transport shows.
type Snapshot struct {
	Chat      []ChatLine        `json:"chat"`
	Responses string            `json:"responses"`
	Preview   string            `json:"preview"`
	Debug     engine.DebugState `json:"debug"`

	// Response is the turn in progress or the last one answered.
	Response *chat.AgentResponse `json:"response,omitempty"`

	ResponseEpisode int `json:"response_episode"`
	ResponseStep    int `json:"response_step"`
}

// Session is one conversation with the agent.
type Session struct {
	cfg    Config
	logger *zap.Logger

	stream    *sensory.Stream
	agent     *engine.MetaAgent
	prompts   *chat.PromptManager
	responses *chat.ResponseStateManager
	responder *chat.Responder

	// inputMu serialises user input and cancellation.
	inputMu sync.Mutex

	mu          sync.RWMutex
	chat        []ChatLine
	response    *chat.AgentResponse
	pendingUser bool
	subscribers map[int]func(Snapshot)
	nextSubID   int
}

// New creates a session around agent, answering through client.
func New(agent *engine.MetaAgent, client llm.ChatStreamer, cfg Config, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.ErrorDelay <= 0 {
		cfg.ErrorDelay = time.Second
	}

	s := &Session{
		cfg:         cfg,
		logger:      logger,
		stream:      sensory.NewStream(),
		agent:       agent,
		prompts:     chat.NewPromptManager(),
		responses:   chat.NewResponseStateManager(),
		subscribers: make(map[int]func(Snapshot)),
	}
	s.responses.SetShowPackets(cfg.ShowPackets)
	s.responder = chat.NewResponder(client, s.responses, s, cfg.Responder, logger.Named("responder"))
	agent.OnPolicyChange(s.onPolicyChange)
	return s
}

// Stream returns the session's sensory stream.
func (s *Session) Stream() *sensory.Stream { return s.stream }

// Agent returns the session's agent.
func (s *Session) Agent() *engine.MetaAgent { return s.agent }

// Prompts returns the session's prompt manager.
func (s *Session) Prompts() *chat.PromptManager { return s.prompts }

// HandleUserText records text and starts a fresh response, cancelling and
// awaiting any response still in flight first. The response keeps running
// after ctx is done; use Cancel or Close to stop it.
func (s *Session) HandleUserText(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyText
	}
	s.inputMu.Lock()
	defer s.inputMu.Unlock()

	if err := s.responder.Terminate(); err != nil {
		s.logger.Warn("previous response failed", zap.Error(err))
	}

	s.stream.AppendUserMessage(text)
	s.mu.Lock()
	if s.pendingUser {
		s.prompts.AppendUserMessage(" " + text)
	} else {
		s.prompts.AppendUserMessage(text)
	}
	s.pendingUser = true
	s.chat = append(s.chat, ChatLine{Role: RoleUser, Text: text, At: time.Now()})
	s.response = chat.NewAgentResponse(text)
	s.mu.Unlock()

	s.responses.ResetEpisode()
	if err := s.responder.Start(context.WithoutCancel(ctx), text, s.prompts.Messages()); err != nil {
		s.logger.Warn("previous response failed", zap.Error(err))
	}
	s.publish()
	return nil
}

// Cancel stops the response in flight, if any, and waits for it.
func (s *Session) Cancel() {
	s.inputMu.Lock()
	defer s.inputMu.Unlock()
	if err := s.responder.Terminate(); err != nil {
		s.logger.Warn("response failed", zap.Error(err))
	}
	s.publish()
}

// WaitResponse blocks until the response in flight, if any, finishes.
func (s *Session) WaitResponse() error {
	return s.responder.Wait()
}

// Close stops the response in flight. Run stops with its own context.
func (s *Session) Close() {
	s.Cancel()
}

// Run drives the control loop until ctx is done: each tick begins a new
// response step and advances the agent once. A failed tick is logged and
// followed by ErrorDelay; the loop never stops on error.
func (s *Session) Run(ctx context.Context) error {
	defer s.Close()

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		if err := s.tick(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("control loop step failed", zap.Error(err))
			timer := time.NewTimer(s.cfg.ErrorDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil
			case <-timer.C:
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Session) tick(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("control loop step panicked", zap.Any("panic", r), zap.Stack("stack"))
			err = errors.New("control loop step panicked")
		}
	}()

	s.responses.BeginNextStep()
	err = s.agent.Step(ctx, s.stream)
	s.publish()
	return err
}

// Step runs a single control-loop tick.
func (s *Session) Step(ctx context.Context) error {
	return s.tick(ctx)
}

func (s *Session) onPolicyChange(p *types.Policy) {
	if p == nil {
		s.prompts.SetPolicy(chat.DefaultPolicy, chat.DefaultExpectedOutcome)
	} else {
		s.prompts.SetPolicy(p.Policy, p.ExpectedOutcome)
	}
	s.responses.ResetEpisode()
}

// OnPreview implements chat.Listener.
func (s *Session) OnPreview(resp chat.AgentResponse) {
	s.mu.Lock()
	s.response = &resp
	s.mu.Unlock()
	s.publish()
}

// OnSentence implements chat.Listener. Released sentences become part of
// what the agent perceives and of the assistant's turn in the prompt.
func (s *Session) OnSentence(resp chat.AgentResponse) {
	s.stream.AppendAssistantMessage(resp.Sentence)

	text := resp.Sentence
	if resp.SentenceID > 0 {
		text = " " + text
	}
	s.mu.Lock()
	s.prompts.AppendAssistantMessage(text, false)
	s.pendingUser = false
	s.chat = append(s.chat, ChatLine{Role: RoleAssistant, Text: resp.Sentence, At: time.Now()})
	s.response = &resp
	s.mu.Unlock()

	s.publish()
}

// Observations returns a copy of the agent's current beliefs and desires.
func (s *Session) Observations() []types.Observation {
	return s.agent.Model().Observations()
}

// Snapshot returns the current chat history and debug state.
func (s *Session) Snapshot() Snapshot {
	obs, _ := s.responses.Snapshot()
	s.mu.RLock()
	history := append([]ChatLine(nil), s.chat...)
	var response *chat.AgentResponse
	if s.response != nil {
		cp := s.response.Copy()
		response = &cp
	}
	s.mu.RUnlock()

	return Snapshot{
		Chat:            history,
		Responses:       s.responses.PrettyPrintCurrentResponses(),
		Preview:         s.responses.PrettyPrintPreview(),
		Debug:           s.agent.DebugState(),
		Response:        response,
		ResponseEpisode: obs.Episode,
		ResponseStep:    obs.Step,
	}
}

// Subscribe registers fn to receive a snapshot after every change. fn runs
// on the goroutine that made the change and must not block.
func (s *Session) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subscribers, id)
		s.mu.Unlock()
	}
}

func (s *Session) publish() {
	s.mu.RLock()
	subs := make([]func(Snapshot), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		subs = append(subs, fn)
	}
	s.mu.RUnlock()
	if len(subs) == 0 {
		return
	}

	snap := s.Snapshot()
	for _, fn := range subs {
		fn(snap)
	}
}
