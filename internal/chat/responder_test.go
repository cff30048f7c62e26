package chat_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/scrypster/charles/internal/chat"
	"github.com/scrypster/charles/internal/llm"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// scriptedStreamer plays one script per call. A call whose script has a
// failure set returns it after sending its chunks; a blocking call waits for
// cancellation after its chunks.
type scriptedStreamer struct {
	mu      sync.Mutex
	calls   int
	scripts []streamScript
}

type streamScript struct {
	chunks []string
	fail   error
	block  bool
}

func (s *scriptedStreamer) ChatStream(ctx context.Context, _ []llm.Message, onChunk func(string) error) error {
	s.mu.Lock()
	script := s.scripts[min(s.calls, len(s.scripts)-1)]
	s.calls++
	s.mu.Unlock()

	for _, c := range script.chunks {
		if err := onChunk(c); err != nil {
			return err
		}
	}
	if script.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return script.fail
}

func (s *scriptedStreamer) GetModel() string { return "scripted" }

type recorder struct {
	mu        sync.Mutex
	sentences []chat.AgentResponse
	previews  []string
	onSent    func(chat.AgentResponse)
}

func (r *recorder) OnPreview(resp chat.AgentResponse) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.previews = append(r.previews, resp.Preview)
}

func (r *recorder) OnSentence(resp chat.AgentResponse) {
	r.mu.Lock()
	r.sentences = append(r.sentences, resp)
	fn := r.onSent
	r.mu.Unlock()
	if fn != nil {
		fn(resp)
	}
}

func (r *recorder) texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.sentences))
	for i, s := range r.sentences {
		out[i] = s.Sentence
	}
	return out
}

func (r *recorder) last() chat.AgentResponse {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sentences) == 0 {
		return chat.AgentResponse{}
	}
	return r.sentences[len(r.sentences)-1]
}

func fastBackoff() llm.Backoff { return llm.Backoff{Initial: time.Millisecond} }

func TestResponder_SegmentsAndReleases(t *testing.T) {
	streamer := &scriptedStreamer{scripts: []streamScript{{chunks: []string{"Hello there. How are ", "you? ", "!!! ", "Wait for i"}}}}
	state := chat.NewResponseStateManager()
	rec := &recorder{}
	r := chat.NewResponder(streamer, state, rec, chat.ResponderConfig{Backoff: fastBackoff()}, nil)

	resp, err := r.Respond(context.Background(), "hi", nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"Hello there.", "How are you?", "!!!", "Wait for i"}, resp.Sentences,
		"ignorable sentences are still recorded")
	assert.Equal(t, []string{"Hello there.", "How are you?", "Wait for i"}, rec.texts())
	assert.Equal(t, 3, resp.SentenceID)
	for i, s := range rec.sentences {
		assert.Equal(t, i, s.SentenceID)
		assert.Equal(t, "hi", s.Prompt)
	}

	_, st := state.Snapshot()
	assert.Equal(t, []string{"Hello there.", "How are you?", "Wait for i"}, st.CurrentResponses)
	assert.Empty(t, st.Preview)
}

func TestResponder_MidStreamFailureRestartsWithoutReplays(t *testing.T) {
	streamer := &scriptedStreamer{scripts: []streamScript{
		{chunks: []string{"Hello there. How "}, fail: errors.New("connection reset")},
		{chunks: []string{"Hello there. How are ", "you?"}},
	}}
	rec := &recorder{}
	r := chat.NewResponder(streamer, chat.NewResponseStateManager(), rec, chat.ResponderConfig{Backoff: fastBackoff()}, nil)

	resp, err := r.Respond(context.Background(), "hi", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, streamer.calls)
	assert.Equal(t, []string{"Hello there.", "How are you?"}, rec.texts())
	assert.Equal(t, []string{"Hello there.", "How are you?"}, resp.Sentences)
}

func TestResponder_RestartThatDivergesReleasesNewText(t *testing.T) {
	streamer := &scriptedStreamer{scripts: []streamScript{
		{chunks: []string{"Hello there. "}, fail: errors.New("boom")},
		{chunks: []string{"Hi friend. ", "Ooh."}},
	}}
	rec := &recorder{}
	r := chat.NewResponder(streamer, chat.NewResponseStateManager(), rec, chat.ResponderConfig{Backoff: fastBackoff()}, nil)

	_, err := r.Respond(context.Background(), "hi", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"Hello there.", "Hi friend.", "Ooh."}, rec.texts())
}

func TestResponder_GivesUpAfterMaxAttempts(t *testing.T) {
	streamer := &scriptedStreamer{scripts: []streamScript{{fail: errors.New("down")}}}
	r := chat.NewResponder(streamer, chat.NewResponseStateManager(), nil,
		chat.ResponderConfig{Backoff: llm.Backoff{Initial: time.Millisecond, MaxAttempts: 2}}, nil)

	_, err := r.Respond(context.Background(), "hi", nil)
	require.Error(t, err)
	assert.Equal(t, 2, streamer.calls)
}

func TestResponder_CancelStopsCommitsWithoutError(t *testing.T) {
	streamer := &scriptedStreamer{scripts: []streamScript{{chunks: []string{"One. Two. Thr"}, block: true}}}
	rec := &recorder{}
	r := chat.NewResponder(streamer, chat.NewResponseStateManager(), rec, chat.ResponderConfig{Backoff: fastBackoff()}, nil)

	released := make(chan struct{}, 1)
	rec.onSent = func(chat.AgentResponse) {
		select {
		case released <- struct{}{}:
		default:
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan *chat.AgentResponse, 1)
	go func() {
		resp, err := r.Respond(ctx, "count", nil)
		assert.NoError(t, err, "cancellation is not an error")
		done <- resp
	}()
	<-released
	cancel()

	var last *chat.AgentResponse
	select {
	case last = <-done:
	case <-time.After(time.Second):
		t.Fatal("response did not stop after cancel")
	}
	assert.Equal(t, []string{"One. Two."}, last.Sentences, "the partial sentence is never committed")
	assert.Equal(t, 1, last.SentenceID)

	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 1, last.SentenceID)
	assert.Equal(t, []string{"One. Two."}, rec.texts())
}

func TestResponder_TerminateStopsBackgroundTask(t *testing.T) {
	streamer := &scriptedStreamer{scripts: []streamScript{{chunks: []string{"One. Two. Thr"}, block: true}}}
	rec := &recorder{}
	r := chat.NewResponder(streamer, chat.NewResponseStateManager(), rec, chat.ResponderConfig{Backoff: fastBackoff()}, nil)

	released := make(chan struct{}, 1)
	rec.onSent = func(chat.AgentResponse) {
		select {
		case released <- struct{}{}:
		default:
		}
	}

	require.NoError(t, r.Start(context.Background(), "count", nil))
	<-released
	require.NoError(t, r.Terminate())
	require.NoError(t, r.Wait())

	sent := rec.last()
	assert.Equal(t, "One. Two.", sent.Sentence)
	assert.Zero(t, sent.SentenceID)
	assert.Equal(t, []string{"One. Two."}, rec.texts())
}

func TestResponder_StartReplacesRunningTask(t *testing.T) {
	streamer := &scriptedStreamer{scripts: []streamScript{
		{chunks: []string{"First answer "}, block: true},
		{chunks: []string{"Second answer."}},
	}}
	state := chat.NewResponseStateManager()
	rec := &recorder{}
	r := chat.NewResponder(streamer, state, rec, chat.ResponderConfig{Backoff: fastBackoff()}, nil)

	require.NoError(t, r.Start(context.Background(), "one", nil))
	require.Eventually(t, func() bool { return state.PrettyPrintPreview() != "" }, time.Second, time.Millisecond)

	require.NoError(t, r.Start(context.Background(), "two", nil))
	require.NoError(t, r.Wait())

	assert.Equal(t, []string{"Second answer."}, rec.texts())
	assert.Equal(t, "two", rec.last().Prompt)
}

func TestResponder_SentenceIntervalThrottles(t *testing.T) {
	streamer := &scriptedStreamer{scripts: []streamScript{{chunks: []string{"A. B. C. D"}}}}
	rec := &recorder{}
	r := chat.NewResponder(streamer, chat.NewResponseStateManager(), rec,
		chat.ResponderConfig{SentenceInterval: 30 * time.Millisecond, Backoff: fastBackoff()}, nil)

	// Feed commits "A. B. C." in one go, then the flush commits "D".
	start := time.Now()
	_, err := r.Respond(context.Background(), "p", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"A. B. C.", "D"}, rec.texts())
	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
}
