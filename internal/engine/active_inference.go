package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/scrypster/charles/internal/llm"
	"github.com/scrypster/charles/internal/sensory"
	"github.com/scrypster/charles/pkg/types"
)

// Selection is the outcome of a policy selection request.
type Selection struct {
	Candidates types.PolicyCandidates `json:"candidates"`

	// Index is the adopted candidate after range correction.
	Index int `json:"index"`

	// Corrected is set when the proposed index was out of range.
	Corrected bool `json:"corrected"`

	// Policy is the adopted candidate with CreatedAt stamped.
	Policy types.Policy `json:"policy"`
}

// ActiveInferenceService asks the reasoning model to choose policies and to
// revise the generative model while a policy runs.
type ActiveInferenceService struct {
	fast   *llm.StructuredGenerator
	best   *llm.StructuredGenerator
	logger *zap.Logger
	now    func() time.Time
}

// NewActiveInferenceService uses fast for selection and best for updates.
// Both may be the same generator.
func NewActiveInferenceService(fast, best *llm.StructuredGenerator, logger *zap.Logger) *ActiveInferenceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if best == nil {
		best = fast
	}
	return &ActiveInferenceService{fast: fast, best: best, logger: logger, now: time.Now}
}

// SelectIndex returns proposed when it indexes policies, otherwise the index
// of the highest-impact policy. The first maximum wins ties. Returns -1 only
// when policies is empty.
func SelectIndex(policies []types.Policy, proposed int) int {
	if proposed >= 0 && proposed < len(policies) {
		return proposed
	}
	best := -1
	bestImpact := 0.0
	for i := range policies {
		impact := policies[i].Impact()
		if best == -1 || impact > bestImpact {
			best = i
			bestImpact = impact
		}
	}
	return best
}

// SelectPolicy requests candidate policies for the current beliefs and the
// full sensory stream and adopts one of them.
func (s *ActiveInferenceService) SelectPolicy(ctx context.Context, model *GenerativeModel, stream *sensory.Stream) (Selection, error) {
	msgs, err := selectMessages(selectState{
		Beliefs:       model.Documents(types.TypeBelief),
		Desires:       model.Documents(types.TypeDesire),
		SensoryStream: lines(stream.PrettyPrint()),
	})
	if err != nil {
		return Selection{}, err
	}

	candidates, err := llm.Generate[types.PolicyCandidates](ctx, s.fast, selectSchema, msgs)
	if err != nil {
		return Selection{}, fmt.Errorf("selecting policy: %w", err)
	}

	idx := SelectIndex(candidates.Policies, candidates.SelectedIndex)
	sel := Selection{
		Candidates: candidates,
		Index:      idx,
		Corrected:  idx != candidates.SelectedIndex,
		Policy:     candidates.Policies[idx],
	}
	sel.Policy.CreatedAt = s.now()
	sel.Policy.Progress = ""

	if sel.Corrected {
		s.logger.Debug("proposed policy index out of range, using highest impact",
			zap.Int("proposed", candidates.SelectedIndex),
			zap.Int("selected", idx))
		emitToContext(ctx, TraceEvent{Kind: KindIndexCorrected, Count: idx, Detail: fmt.Sprintf("proposed %d", candidates.SelectedIndex)})
	}
	emitToContext(ctx, newTraceEvent(KindPolicySelected, sel.Policy.Policy))
	return sel, nil
}

// UpdateGenerativeModel asks how the running policy is doing and applies the
// belief changes in the order add, delete, edit. The returned update is the
// validated reply; the caller decides what to do with its completion state.
func (s *ActiveInferenceService) UpdateGenerativeModel(ctx context.Context, model *GenerativeModel, stream *sensory.Stream, policy types.Policy) (types.ModelUpdate, error) {
	before, after := stream.PrettyPrintSplit(policy.CreatedAt)
	elapsed := s.now().Sub(policy.CreatedAt)
	if elapsed < 0 {
		elapsed = 0
	}

	msgs, err := updateMessages(updateState{
		Beliefs:            model.Documents(types.TypeBelief),
		Desires:            model.Documents(types.TypeDesire),
		StreamBeforePolicy: lines(before),
		StreamSincePolicy:  lines(after),
		SecondsSincePolicy: int(elapsed.Seconds()),
		CurrentPolicy: policyState{
			Policy:          policy.Policy,
			ExpectedOutcome: policy.ExpectedOutcome,
			Progress:        policy.Progress,
		},
	})
	if err != nil {
		return types.ModelUpdate{}, err
	}

	update, err := llm.Generate[types.ModelUpdate](ctx, s.best, updateSchema, msgs)
	if err != nil {
		return types.ModelUpdate{}, fmt.Errorf("updating generative model: %w", err)
	}

	s.apply(ctx, model, update)
	emitToContext(ctx, TraceEvent{
		Kind:   KindPolicyUpdated,
		At:     s.now(),
		Text:   update.PolicyProgress,
		Detail: string(update.PolicyCompletionState),
	})
	return update, nil
}

func (s *ActiveInferenceService) apply(ctx context.Context, model *GenerativeModel, update types.ModelUpdate) {
	for _, belief := range update.AddBeliefs {
		if _, err := model.Add(ctx, belief); err != nil {
			s.logger.Warn("failed to add belief", zap.String("belief", belief), zap.Error(err))
		}
	}
	for _, belief := range update.DeleteBeliefs {
		n := model.DropByDocument(belief)
		if n == 0 {
			s.logger.Debug("delete matched no belief", zap.String("belief", belief))
			continue
		}
		emitToContext(ctx, TraceEvent{Kind: KindBeliefDeleted, At: s.now(), Text: belief, Count: n})
	}
	for _, edit := range update.EditBeliefs {
		n, err := model.EditByDocument(ctx, edit.Old, edit.New)
		if err != nil {
			s.logger.Warn("failed to edit belief", zap.String("old", edit.Old), zap.Error(err))
			continue
		}
		if n == 0 {
			s.logger.Debug("edit matched no belief", zap.String("belief", edit.Old))
			continue
		}
		emitToContext(ctx, TraceEvent{Kind: KindBeliefEdited, At: s.now(), Text: edit.New, Previous: edit.Old, Count: n})
	}
}
