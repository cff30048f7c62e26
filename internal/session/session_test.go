package session_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/scrypster/charles/internal/chat"
	"github.com/scrypster/charles/internal/engine"
	"github.com/scrypster/charles/internal/llm"
	"github.com/scrypster/charles/internal/sensory"
	"github.com/scrypster/charles/internal/session"
	"github.com/scrypster/charles/pkg/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type streamer struct {
	chunks []string
	block  bool
}

func (s *streamer) ChatStream(ctx context.Context, _ []llm.Message, onChunk func(string) error) error {
	for _, c := range s.chunks {
		if err := onChunk(c); err != nil {
			return err
		}
	}
	if s.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (s *streamer) GetModel() string { return "fake" }

// policyService adopts a fixed policy and completes it on the next update.
type policyService struct {
	selects atomic.Int32
	updates atomic.Int32
	fail    error
}

func (p *policyService) SelectPolicy(context.Context, *engine.GenerativeModel, *sensory.Stream) (engine.Selection, error) {
	p.selects.Add(1)
	if p.fail != nil {
		return engine.Selection{}, p.fail
	}
	return engine.Selection{Policy: types.Policy{
		Policy:          "ask about horses",
		ExpectedOutcome: "learn the user's favourite animal",
		CreatedAt:       time.Now(),
	}}, nil
}

func (p *policyService) UpdateGenerativeModel(context.Context, *engine.GenerativeModel, *sensory.Stream, types.Policy) (types.ModelUpdate, error) {
	p.updates.Add(1)
	return types.ModelUpdate{PolicyCompletionState: types.CompletionComplete}, nil
}

func newSession(t *testing.T, s llm.ChatStreamer, svc engine.PolicyService) *session.Session {
	t.Helper()
	model := engine.NewGenerativeModel(nil, nil, engine.PopulateConfig{}, nil)
	agent := engine.NewMetaAgent(model, svc, nil)
	sess := session.New(agent, s, session.Config{
		TickInterval: time.Millisecond,
		ErrorDelay:   time.Millisecond,
		Responder:    chat.ResponderConfig{Backoff: llm.Backoff{Initial: time.Millisecond}},
	}, nil)
	t.Cleanup(sess.Close)
	return sess
}

func TestSession_HandleUserText(t *testing.T) {
	sess := newSession(t, &streamer{chunks: []string{"Hello there. How are ", "you?"}}, &policyService{})

	assert.ErrorIs(t, sess.HandleUserText(context.Background(), "  "), session.ErrEmptyText)

	require.NoError(t, sess.HandleUserText(context.Background(), "hi"))
	require.NoError(t, sess.WaitResponse())

	snap := sess.Snapshot()
	require.Len(t, snap.Chat, 3)
	assert.Equal(t, session.ChatLine{Role: session.RoleUser, Text: "hi", At: snap.Chat[0].At}, snap.Chat[0])
	assert.Equal(t, "Hello there.", snap.Chat[1].Text)
	assert.Equal(t, "How are you?", snap.Chat[2].Text)
	assert.Equal(t, "🤖 Hello there.  \nHow are you?  \n", snap.Responses)
	require.NotNil(t, snap.Response)
	assert.Equal(t, "hi", snap.Response.Prompt)
	assert.Equal(t, []string{"Hello there.", "How are you?"}, snap.Response.Sentences)
	assert.Equal(t, "How are you?", snap.Response.Sentence)
	assert.Equal(t, 1, snap.Response.SentenceID)
	assert.Empty(t, snap.Response.Preview)

	events := sess.Stream().Events()
	require.Len(t, events, 3)
	assert.Equal(t, "User: hi", events[0].Text)
	assert.Equal(t, "Assistant: How are you?", events[2].Text)

	msgs := sess.Prompts().Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "hi", msgs[1].Content)
	assert.Equal(t, "Hello there. How are you?", msgs[2].Content)
}

func TestSession_NewTextReplacesRunningResponse(t *testing.T) {
	sess := newSession(t, &streamer{chunks: []string{"Thinking about cabbages. "}, block: true}, &policyService{})

	require.NoError(t, sess.HandleUserText(context.Background(), "first"))
	require.Eventually(t, func() bool { return len(sess.Snapshot().Chat) == 2 }, time.Second, time.Millisecond)

	require.NoError(t, sess.HandleUserText(context.Background(), "second"))
	require.Eventually(t, func() bool { return len(sess.Snapshot().Chat) == 4 }, time.Second, time.Millisecond)

	sess.Cancel()
	snap := sess.Snapshot()
	assert.Equal(t, "second", snap.Chat[2].Text)
	assert.Equal(t, "🤖 Thinking about cabbages.  \n", snap.Responses, "a new prompt starts a new episode")
}

func TestSession_PolicyChangesReframePrompt(t *testing.T) {
	svc := &policyService{}
	sess := newSession(t, &streamer{}, svc)
	ctx := context.Background()
	before := sess.Snapshot().ResponseEpisode

	require.NoError(t, sess.Step(ctx))
	policy, outcome := sess.Prompts().Policy()
	assert.Equal(t, "ask about horses", policy)
	assert.Equal(t, "learn the user's favourite animal", outcome)
	assert.Contains(t, sess.Prompts().Messages()[0].Content, `"ask about horses"`)
	assert.Equal(t, before+1, sess.Snapshot().ResponseEpisode)

	require.NoError(t, sess.Step(ctx))
	policy, _ = sess.Prompts().Policy()
	assert.Equal(t, chat.DefaultPolicy, policy)

	snap := sess.Snapshot()
	assert.Nil(t, snap.Debug.Policy)
	assert.Equal(t, 2, snap.Debug.Step)
	assert.Equal(t, int32(1), svc.selects.Load())
	assert.Equal(t, int32(1), svc.updates.Load())
}

func TestSession_RunSurvivesFailingSteps(t *testing.T) {
	svc := &policyService{fail: errors.New("reasoning backend down")}
	sess := newSession(t, &streamer{}, svc)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sess.Run(ctx) }()

	require.Eventually(t, func() bool { return svc.selects.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestSession_Subscribe(t *testing.T) {
	sess := newSession(t, &streamer{chunks: []string{"Ooh."}}, &policyService{})

	var mu sync.Mutex
	var snaps []session.Snapshot
	unsubscribe := sess.Subscribe(func(s session.Snapshot) {
		mu.Lock()
		snaps = append(snaps, s)
		mu.Unlock()
	})

	require.NoError(t, sess.HandleUserText(context.Background(), "hello"))
	require.NoError(t, sess.WaitResponse())

	mu.Lock()
	n := len(snaps)
	last := snaps[n-1]
	mu.Unlock()
	assert.GreaterOrEqual(t, n, 2)
	require.Len(t, last.Chat, 2)
	assert.Equal(t, "Ooh.", last.Chat[1].Text)

	unsubscribe()
	sess.Cancel()
	mu.Lock()
	assert.Len(t, snaps, n)
	mu.Unlock()
}
