// Package engine holds the agent's generative model and the policy state
// machine that drives it.
//
// Each control-loop tick calls MetaAgent.Step exactly once. With no active
// policy the step asks the reasoning model for candidates and adopts one;
// with a policy active it asks for an update, applies the belief changes and
// clears the policy when the update says it is complete or interrupted.
package engine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/scrypster/charles/internal/sensory"
	"github.com/scrypster/charles/pkg/types"
)

// PolicyService is the reasoning backend used by MetaAgent.
type PolicyService interface {
	SelectPolicy(ctx context.Context, model *GenerativeModel, stream *sensory.Stream) (Selection, error)
	UpdateGenerativeModel(ctx context.Context, model *GenerativeModel, stream *sensory.Stream, policy types.Policy) (types.ModelUpdate, error)
}

// PolicyListener is told about every adopted policy; nil means the policy was cleared.
type PolicyListener func(policy *types.Policy)

// MetaAgent owns the generative model and the current policy slot.
type MetaAgent struct {
	model   *GenerativeModel
	service PolicyService
	logger  *zap.Logger

	// stepMu serialises Step; mu guards the fields below it.
	stepMu sync.Mutex

	mu            sync.RWMutex
	policy        *types.Policy
	step          int
	episode       int
	lastSelection *Selection
	lastUpdate    *types.ModelUpdate
	debugLines    []string
	lastTrace     []TraceEvent
	listeners     []PolicyListener
}

// NewMetaAgent creates an agent with no active policy.
func NewMetaAgent(model *GenerativeModel, service PolicyService, logger *zap.Logger) *MetaAgent {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MetaAgent{model: model, service: service, logger: logger}
}

// Model returns the agent's generative model.
func (a *MetaAgent) Model() *GenerativeModel {
	return a.model
}

// OnPolicyChange registers fn to run after a policy is adopted or cleared.
// Listeners run on the stepping goroutine and must not call Step.
func (a *MetaAgent) OnPolicyChange(fn PolicyListener) {
	a.mu.Lock()
	a.listeners = append(a.listeners, fn)
	a.mu.Unlock()
}

// CurrentPolicy returns a copy of the active policy, or nil.
func (a *MetaAgent) CurrentPolicy() *types.Policy {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.policy == nil {
		return nil
	}
	p := *a.policy
	return &p
}

// Step runs one tick: select when no policy is active, update otherwise.
// On error the agent state is unchanged apart from the step counter.
func (a *MetaAgent) Step(ctx context.Context, stream *sensory.Stream) error {
	a.stepMu.Lock()
	defer a.stepMu.Unlock()

	tc := NewTraceCollector()
	ctx = WithTraceCollector(ctx, tc)

	a.mu.Lock()
	a.step++
	step := a.step
	var current *types.Policy
	if a.policy != nil {
		p := *a.policy
		current = &p
	}
	a.mu.Unlock()

	tc.Emit(TraceEvent{Kind: KindStepStarted, At: time.Now(), Count: step})

	var err error
	if current == nil {
		err = a.selectPolicy(ctx, stream)
	} else {
		err = a.updatePolicy(ctx, stream, *current)
	}

	a.mu.Lock()
	a.lastTrace = tc.Events()
	a.mu.Unlock()

	if err != nil {
		return err
	}
	a.logger.Debug("step complete", zap.Int("step", step), zap.Int64("elapsed_ms", tc.ElapsedMS()))
	return nil
}

func (a *MetaAgent) selectPolicy(ctx context.Context, stream *sensory.Stream) error {
	sel, err := a.service.SelectPolicy(ctx, a.model, stream)
	if err != nil {
		return err
	}

	adopted := sel.Policy
	a.mu.Lock()
	a.policy = &adopted
	a.episode++
	a.lastSelection = &sel
	a.debugLines = selectionLines(stream, sel, a.episode, a.step)
	listeners := append([]PolicyListener(nil), a.listeners...)
	a.mu.Unlock()

	a.logger.Info("policy adopted",
		zap.String("policy", adopted.Policy),
		zap.String("expected_outcome", adopted.ExpectedOutcome),
		zap.Float64("impact", adopted.Impact()),
		zap.Bool("index_corrected", sel.Corrected))
	notify(listeners, &adopted)
	return nil
}

func (a *MetaAgent) updatePolicy(ctx context.Context, stream *sensory.Stream, current types.Policy) error {
	update, err := a.service.UpdateGenerativeModel(ctx, a.model, stream, current)
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.lastUpdate = &update
	var listeners []PolicyListener
	if update.PolicyCompletionState.EndsPolicy() {
		a.policy = nil
		listeners = append(listeners, a.listeners...)
	} else if a.policy != nil {
		a.policy.Progress = update.PolicyProgress
	}
	a.debugLines = updateLines(stream, current, update, a.episode, a.step)
	a.mu.Unlock()

	if update.PolicyCompletionState.EndsPolicy() {
		emitToContext(ctx, TraceEvent{Kind: KindPolicyCleared, At: time.Now(), Text: current.Policy, Detail: string(update.PolicyCompletionState)})
		a.logger.Info("policy cleared",
			zap.String("policy", current.Policy),
			zap.String("state", string(update.PolicyCompletionState)))
		notify(listeners, nil)
	}
	return nil
}

func notify(listeners []PolicyListener, p *types.Policy) {
	for _, fn := range listeners {
		if p == nil {
			fn(nil)
			continue
		}
		cp := *p
		fn(&cp)
	}
}
