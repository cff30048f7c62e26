package engine_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/charles/internal/engine"
	"github.com/scrypster/charles/internal/llm"
	"github.com/scrypster/charles/internal/sensory"
	"github.com/scrypster/charles/pkg/types"
)

func TestSelectIndex(t *testing.T) {
	policies := []types.Policy{
		{Policy: "a", EstimatedFreeEnergyReduction: 2, ProbabilityOfSuccess: 1},
		{Policy: "b", EstimatedFreeEnergyReduction: 10, ProbabilityOfSuccess: 1},
		{Policy: "c", EstimatedFreeEnergyReduction: 3, ProbabilityOfSuccess: 1},
	}
	assert.Equal(t, 1, engine.SelectIndex(policies, -1))
	assert.Equal(t, 1, engine.SelectIndex(policies, 99))
	assert.Equal(t, 1, engine.SelectIndex(policies, 3))
	assert.Equal(t, 2, engine.SelectIndex(policies, 2), "an in-range proposal is kept")

	tied := []types.Policy{
		{EstimatedFreeEnergyReduction: 4, ProbabilityOfSuccess: 0.5},
		{EstimatedFreeEnergyReduction: 2, ProbabilityOfSuccess: 1},
	}
	assert.Equal(t, 0, engine.SelectIndex(tied, 5), "first maximum wins")
	assert.Equal(t, -1, engine.SelectIndex(nil, 0))
}

// scriptedLLM returns its replies in order and records every request.
type scriptedLLM struct {
	mu       sync.Mutex
	replies  []string
	errs     []error
	requests [][]llm.Message
}

func (s *scriptedLLM) Chat(_ context.Context, msgs []llm.Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, msgs)
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return "", err
		}
	}
	if len(s.replies) == 0 {
		return "", errors.New("no scripted reply left")
	}
	r := s.replies[0]
	s.replies = s.replies[1:]
	return r, nil
}

func (s *scriptedLLM) GetModel() string { return "scripted" }

func (s *scriptedLLM) lastUserContent() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	req := s.requests[len(s.requests)-1]
	for _, m := range req {
		if m.Role == llm.RoleUser {
			return m.Content
		}
	}
	return ""
}

const selectReply = `Here you go:
{"policies": [
  {"policy": "talk about cabbages", "expected_outcome": "user laughs", "estimated_free_energy_reduction": 2, "probability_of_success": 1},
  {"policy": "ask the user's name", "expected_outcome": "learn the user's name", "estimated_free_energy_reduction": 10, "probability_of_success": 1},
  {"policy": "mention Honolulu", "expected_outcome": "user is curious", "estimated_free_energy_reduction": 3, "probability_of_success": 1}
], "selected_index": 99}`

func newAgent(t *testing.T, script *scriptedLLM, maxAttempts int) (*engine.MetaAgent, *engine.GenerativeModel) {
	t.Helper()
	gen := llm.NewStructuredGenerator(script, llm.Backoff{Initial: time.Millisecond, MaxAttempts: maxAttempts}, nil)
	model := engine.NewGenerativeModel(&stubSampler{}, nil, engine.PopulateConfig{}, nil)
	svc := engine.NewActiveInferenceService(gen, gen, nil)
	return engine.NewMetaAgent(model, svc, nil), model
}

func TestMetaAgent_PolicyLifecycle(t *testing.T) {
	ctx := context.Background()
	script := &scriptedLLM{replies: []string{
		selectReply,
		`{"policy_progress": "asked once", "policy_completion_state": "continue",
		  "add_beliefs": ["The user is called Brian."], "delete_beliefs": ["The user is a stranger."],
		  "edit_beliefs": [{"old_belief": "The user is sad.", "new_belief": "The user is cheerful."}]}`,
		`{"policy_progress": "done", "policy_completion_state": "complete", "add_beliefs": [], "delete_beliefs": [], "edit_beliefs": []}`,
		selectReply,
	}}
	agent, model := newAgent(t, script, 0)

	_, err := model.Add(ctx, "The user is a stranger.")
	require.NoError(t, err)
	_, err = model.Add(ctx, "The user is sad.")
	require.NoError(t, err)

	var changes []*types.Policy
	agent.OnPolicyChange(func(p *types.Policy) { changes = append(changes, p) })

	stream := sensory.NewStream()
	stream.AppendUserMessage("hello")

	// Step 1: no policy, so one is selected with the out-of-range index corrected.
	require.NoError(t, agent.Step(ctx, stream))
	p := agent.CurrentPolicy()
	require.NotNil(t, p)
	assert.Equal(t, "ask the user's name", p.Policy)
	assert.False(t, p.CreatedAt.IsZero())
	require.Len(t, changes, 1)
	assert.Equal(t, "ask the user's name", changes[0].Policy)
	assert.Contains(t, script.lastUserContent(), `"sensory_stream":["User: hello - just now"]`)

	kinds := map[engine.TraceEventKind]bool{}
	for _, e := range agent.DebugState().Trace {
		kinds[e.Kind] = true
	}
	assert.True(t, kinds[engine.KindStepStarted])
	assert.True(t, kinds[engine.KindIndexCorrected])
	assert.True(t, kinds[engine.KindPolicySelected])

	// Step 2: the policy continues and the belief changes are applied.
	stream.AppendAssistantMessage("What is your name?")
	require.NoError(t, agent.Step(ctx, stream))
	p = agent.CurrentPolicy()
	require.NotNil(t, p)
	assert.Equal(t, "asked once", p.Progress)
	assert.Equal(t, []string{"The user is cheerful.", "The user is called Brian."}, model.Documents(types.TypeBelief))
	assert.Len(t, changes, 1, "continue does not notify")
	assert.Contains(t, script.lastUserContent(), `"sensory_stream_since_policy"`)
	assert.Contains(t, script.lastUserContent(), "What is your name?")

	// Step 3: complete clears the policy.
	require.NoError(t, agent.Step(ctx, stream))
	assert.Nil(t, agent.CurrentPolicy())
	require.Len(t, changes, 2)
	assert.Nil(t, changes[1])

	// Step 4: a new policy starts a new episode.
	require.NoError(t, agent.Step(ctx, stream))
	state := agent.DebugState()
	assert.Equal(t, 4, state.Step)
	assert.Equal(t, 2, state.Episode)
	require.NotNil(t, state.Policy)
	assert.Contains(t, state.Lines, "--- select policy ---")
	assert.True(t, strings.Contains(state.String(), "policy: ask the user's name"))
	assert.Contains(t, state.Beliefs, "The user is called Brian.")
}

func TestMetaAgent_UpdateOrderAddDeleteEdit(t *testing.T) {
	ctx := context.Background()
	script := &scriptedLLM{replies: []string{
		selectReply,
		// The added belief is deleted and then cannot be edited.
		`{"policy_progress": "", "policy_completion_state": "interrupt",
		  "add_beliefs": ["temp"], "delete_beliefs": ["temp"],
		  "edit_beliefs": [{"old_belief": "temp", "new_belief": "kept"}]}`,
	}}
	agent, model := newAgent(t, script, 0)
	stream := sensory.NewStream()

	require.NoError(t, agent.Step(ctx, stream))
	require.NoError(t, agent.Step(ctx, stream))
	assert.Zero(t, model.Len())
	assert.Nil(t, agent.CurrentPolicy())
}

func TestMetaAgent_RetriesInvalidReplies(t *testing.T) {
	script := &scriptedLLM{
		errs: []error{errors.New("rate limited"), nil, nil},
		replies: []string{
			`{"policies": [{"policy": "only one", "expected_outcome": "x", "estimated_free_energy_reduction": 1, "probability_of_success": 1}], "selected_index": 0}`,
			selectReply,
		},
	}
	agent, _ := newAgent(t, script, 0)

	require.NoError(t, agent.Step(context.Background(), sensory.NewStream()))
	require.NotNil(t, agent.CurrentPolicy())
	assert.Len(t, script.requests, 3)
}

func TestMetaAgent_StepErrorLeavesPolicyUnchanged(t *testing.T) {
	script := &scriptedLLM{errs: []error{errors.New("down")}}
	agent, _ := newAgent(t, script, 1)

	err := agent.Step(context.Background(), sensory.NewStream())
	require.Error(t, err)
	assert.Nil(t, agent.CurrentPolicy())
	state := agent.DebugState()
	assert.Equal(t, 1, state.Step)
	assert.Zero(t, state.Episode)
}

func TestMetaAgent_StepStopsOnCancel(t *testing.T) {
	script := &scriptedLLM{errs: []error{errors.New("a"), errors.New("b"), errors.New("c")}}
	agent, _ := newAgent(t, script, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := agent.Step(ctx, sensory.NewStream())
	assert.ErrorIs(t, err, context.Canceled)
}
