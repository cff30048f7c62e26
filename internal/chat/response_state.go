package chat

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// ErrSentenceOutOfRange is returned when a speech chunk names an unknown sentence.
var ErrSentenceOutOfRange = errors.New("sentence id out of range")

// ResponseStepObservations is what the responder produced during one step.
type ResponseStepObservations struct {
	Episode        int       `json:"episode"`
	Step           int       `json:"step"`
	Timestamp      time.Time `json:"timestamp"`
	Preview        string    `json:"preview"`
	Responses      []string  `json:"responses"`
	SpeechChunkIDs []int     `json:"speech_chunk_ids"`
}

// ResponseState is the accumulated response of the current episode.
type ResponseState struct {
	Episode                 int       `json:"episode"`
	Step                    int       `json:"step"`
	Timestamp               time.Time `json:"timestamp"`
	CurrentResponses        []string  `json:"current_responses"`
	SpeechChunksPerResponse []int     `json:"speech_chunks_per_response"`
	Preview                 string    `json:"preview"`
}

func (s ResponseState) clone() ResponseState {
	s.CurrentResponses = append([]string(nil), s.CurrentResponses...)
	s.SpeechChunksPerResponse = append([]int(nil), s.SpeechChunksPerResponse...)
	return s
}

func (o ResponseStepObservations) clone() ResponseStepObservations {
	o.Responses = append([]string(nil), o.Responses...)
	o.SpeechChunkIDs = append([]int(nil), o.SpeechChunkIDs...)
	return o
}

// ResponseStateManager owns the response state of a session. An episode
// starts with each user prompt; steps follow the control-loop ticks.
// Safe for concurrent use.
type ResponseStateManager struct {
	mu          sync.RWMutex
	episode     int
	step        int
	state       ResponseState
	obs         ResponseStepObservations
	showPackets bool
	now         func() time.Time
}

// NewResponseStateManager returns a manager already in episode 1.
func NewResponseStateManager() *ResponseStateManager {
	m := &ResponseStateManager{now: time.Now}
	m.ResetEpisode()
	return m
}

// SetShowPackets toggles the speech chunk counters in PrettyPrintCurrentResponses.
func (m *ResponseStateManager) SetShowPackets(show bool) {
	m.mu.Lock()
	m.showPackets = show
	m.mu.Unlock()
}

// ResetEpisode starts a new episode with empty state.
func (m *ResponseStateManager) ResetEpisode() (ResponseStepObservations, ResponseState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.episode++
	m.step = 0
	now := m.now()
	m.state = ResponseState{Episode: m.episode, Step: m.step, Timestamp: now}
	m.obs = ResponseStepObservations{Episode: m.episode, Step: m.step, Timestamp: now}
	return m.obs.clone(), m.state.clone()
}

// BeginNextStep closes the current step and returns its observations along
// with the episode state.
func (m *ResponseStateManager) BeginNextStep() (ResponseStepObservations, ResponseState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	previous := m.obs
	m.step++
	m.obs = ResponseStepObservations{Episode: m.episode, Step: m.step, Timestamp: m.now()}
	return previous.clone(), m.state.clone()
}

// SetPreview records the sentence being typed.
func (m *ResponseStateManager) SetPreview(preview string) {
	m.mu.Lock()
	m.obs.Preview = preview
	m.state.Preview = preview
	m.mu.Unlock()
}

// AddResponseAndClearPreview appends a released sentence.
func (m *ResponseStateManager) AddResponseAndClearPreview(response string) {
	m.mu.Lock()
	m.state.CurrentResponses = append(m.state.CurrentResponses, response)
	m.state.SpeechChunksPerResponse = append(m.state.SpeechChunksPerResponse, 0)
	m.obs.Responses = append(m.obs.Responses, response)
	m.obs.Preview = ""
	m.state.Preview = ""
	m.mu.Unlock()
}

// AddSpeechChunk counts a synthesized speech chunk against sentenceID.
func (m *ResponseStateManager) AddSpeechChunk(chunkID, sentenceID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sentenceID < 0 || sentenceID >= len(m.state.SpeechChunksPerResponse) {
		return fmt.Errorf("%w: %d", ErrSentenceOutOfRange, sentenceID)
	}
	m.state.SpeechChunksPerResponse[sentenceID]++
	m.obs.SpeechChunkIDs = append(m.obs.SpeechChunkIDs, chunkID)
	return nil
}

// PrettyPrintCurrentResponses renders the released sentences of the episode.
func (m *ResponseStateManager) PrettyPrintCurrentResponses() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var b strings.Builder
	for i, response := range m.state.CurrentResponses {
		if i == 0 {
			b.WriteString("🤖 ")
		}
		if m.showPackets {
			fmt.Fprintf(&b, "[%d] ", m.state.SpeechChunksPerResponse[i])
		}
		b.WriteString(response)
		b.WriteString("  \n")
	}
	return b.String()
}

// PrettyPrintPreview renders the preview, or "" when there is none.
func (m *ResponseStateManager) PrettyPrintPreview() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state.Preview == "" {
		return ""
	}
	return "🤖❓ " + m.state.Preview
}

// Snapshot returns copies of the current step observations and episode state.
func (m *ResponseStateManager) Snapshot() (ResponseStepObservations, ResponseState) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.obs.clone(), m.state.clone()
}
