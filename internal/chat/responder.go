package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/scrypster/charles/internal/llm"
)

// Listener observes a response as it is produced. Calls arrive in order on
// the responding goroutine.
type Listener interface {
	// OnPreview receives the sentence being typed.
	OnPreview(resp AgentResponse)

	// OnSentence receives each released sentence. resp.Sentence is the text
	// and resp.SentenceID its id.
	OnSentence(resp AgentResponse)
}

// ResponderConfig tunes a Responder.
type ResponderConfig struct {
	// SentenceInterval is the minimum gap between released sentences.
	// Zero releases sentences as soon as they are committed.
	SentenceInterval time.Duration

	// Backoff governs restarts after a failed generation call.
	Backoff llm.Backoff
}

// Responder streams chat completions, segments them into sentences and
// records them in a ResponseStateManager. At most one response runs at a time.
type Responder struct {
	client   llm.ChatStreamer
	state    *ResponseStateManager
	listener Listener
	backoff  llm.Backoff
	limiter  *rate.Limiter
	logger   *zap.Logger

	mu     sync.Mutex
	group  *errgroup.Group
	cancel context.CancelFunc
}

// NewResponder creates a responder. listener may be nil.
func NewResponder(client llm.ChatStreamer, state *ResponseStateManager, listener Listener, cfg ResponderConfig, logger *zap.Logger) *Responder {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Responder{
		client:   client,
		state:    state,
		listener: listener,
		backoff:  cfg.Backoff,
		logger:   logger,
	}
	if cfg.SentenceInterval > 0 {
		r.limiter = rate.NewLimiter(rate.Every(cfg.SentenceInterval), 1)
	}
	return r
}

// Respond generates a reply to msgs and blocks until the stream ends or ctx
// is cancelled. A cancelled response is not an error: it returns what was
// produced so far with a nil error. Failed calls are restarted from the
// beginning; sentences the restarted call repeats verbatim are not released
// twice.
func (r *Responder) Respond(ctx context.Context, prompt string, msgs []llm.Message) (*AgentResponse, error) {
	resp := NewAgentResponse(prompt)

	_, err := llm.Retry(ctx, r.backoff, r.logger, "respond", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, r.attempt(ctx, resp, msgs)
	})
	if err != nil && ctx.Err() != nil {
		r.logger.Debug("response cancelled",
			zap.Int("sentences", len(resp.Sentences)),
			zap.Int("sentence_id", resp.SentenceID))
		return resp, nil
	}
	if err != nil {
		return resp, err
	}
	return resp, nil
}

// attempt runs one generation call. Sentences already recorded by earlier
// attempts are compared in order and skipped while the new call repeats them.
func (r *Responder) attempt(ctx context.Context, resp *AgentResponse, msgs []llm.Message) error {
	var (
		seg      Segmenter
		prior    = len(resp.Sentences)
		seen     int
		diverged bool
	)

	handle := func(e Emission) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !e.Complete {
			r.preview(resp, e.Text)
			return nil
		}
		seen++
		if !diverged && seen <= prior {
			if resp.Sentences[seen-1] == e.Text {
				return nil
			}
			diverged = true
			r.logger.Debug("restarted response diverged from released sentences", zap.Int("at", seen-1))
		}
		return r.commit(ctx, resp, e.Text)
	}

	err := r.client.ChatStream(ctx, msgs, func(chunk string) error {
		return handle(seg.Feed(chunk))
	})
	if err != nil {
		return err
	}
	if e, ok := seg.Flush(); ok {
		return handle(e)
	}
	return ctx.Err()
}

func (r *Responder) preview(resp *AgentResponse, text string) {
	if text == resp.Preview {
		return
	}
	resp.Preview = text
	r.state.SetPreview(text)
	if r.listener != nil {
		r.listener.OnPreview(resp.Copy())
	}
}

// commit records text and, unless it is ignorable, releases it once the
// limiter allows.
func (r *Responder) commit(ctx context.Context, resp *AgentResponse, text string) error {
	if IsIgnorable(text) {
		resp.Sentences = append(resp.Sentences, text)
		return nil
	}
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	resp.Sentences = append(resp.Sentences, text)
	resp.Sentence = text
	resp.Preview = ""
	r.state.AddResponseAndClearPreview(text)
	if r.listener != nil {
		r.listener.OnSentence(resp.Copy())
	}
	resp.SentenceID++
	return nil
}

// Start cancels and awaits any running response, then responds to msgs in
// the background. The returned error is the previous task's failure, if any.
func (r *Responder) Start(ctx context.Context, prompt string, msgs []llm.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	prevErr := r.terminateLocked()

	taskCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(taskCtx)
	r.group = g
	r.cancel = cancel

	g.Go(func() error {
		_, err := r.Respond(gctx, prompt, msgs)
		return err
	})
	return prevErr
}

// Terminate cancels the running response and waits for it to stop.
func (r *Responder) Terminate() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.terminateLocked()
}

func (r *Responder) terminateLocked() error {
	if r.group == nil {
		return nil
	}
	r.cancel()
	err := r.group.Wait()
	r.group = nil
	r.cancel = nil
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Wait blocks until the running response, if any, finishes on its own.
func (r *Responder) Wait() error {
	r.mu.Lock()
	g := r.group
	r.mu.Unlock()
	if g == nil {
		return nil
	}
	return g.Wait()
}

