package engine

import (
	"fmt"
	"strings"

	"github.com/scrypster/charles/internal/sensory"
	"github.com/scrypster/charles/pkg/types"
)

// DebugState is the inspection dump exposed to the transport.
type DebugState struct {
	Policy     *types.Policy      `json:"policy"`
	Beliefs    []string           `json:"beliefs"`
	Desires    []string           `json:"desires"`
	Step       int                `json:"step"`
	Episode    int                `json:"episode"`
	Selection  *Selection         `json:"last_selection,omitempty"`
	LastUpdate *types.ModelUpdate `json:"last_update,omitempty"`
	Lines      []string           `json:"lines"`
	Trace      []TraceEvent       `json:"trace,omitempty"`
}

// DebugState snapshots the agent.
func (a *MetaAgent) DebugState() DebugState {
	a.mu.RLock()
	defer a.mu.RUnlock()

	st := DebugState{
		Beliefs: a.model.Documents(types.TypeBelief),
		Desires: a.model.Documents(types.TypeDesire),
		Step:    a.step,
		Episode: a.episode,
		Lines:   append([]string(nil), a.debugLines...),
		Trace:   append([]TraceEvent(nil), a.lastTrace...),
	}
	if a.policy != nil {
		p := *a.policy
		st.Policy = &p
	}
	if a.lastSelection != nil {
		sel := *a.lastSelection
		st.Selection = &sel
	}
	if a.lastUpdate != nil {
		u := *a.lastUpdate
		st.LastUpdate = &u
	}
	return st
}

// String renders the dump as plain text, one fact per line.
func (d DebugState) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Episode: %d, Step: %d\n", d.Episode, d.Step)
	if d.Policy != nil {
		fmt.Fprintf(&b, "policy: %s\n", d.Policy.Policy)
		fmt.Fprintf(&b, "expected_outcome: %s\n", d.Policy.ExpectedOutcome)
		if d.Policy.Progress != "" {
			fmt.Fprintf(&b, "progress: %s\n", d.Policy.Progress)
		}
	} else {
		b.WriteString("policy: none\n")
	}
	b.WriteString("beliefs:\n")
	for _, belief := range d.Beliefs {
		fmt.Fprintf(&b, " - %s\n", belief)
	}
	b.WriteString("desires:\n")
	for _, desire := range d.Desires {
		fmt.Fprintf(&b, " - %s\n", desire)
	}
	for _, line := range d.Lines {
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

func historyLines(stream *sensory.Stream) []string {
	out := []string{"conversation_history"}
	for _, line := range lines(stream.PrettyPrint()) {
		out = append(out, " - "+line)
	}
	return out
}

func selectionLines(stream *sensory.Stream, sel Selection, episode, step int) []string {
	out := []string{fmt.Sprintf("Episode: %d, Step: %d", episode, step)}
	out = append(out, historyLines(stream)...)
	out = append(out, "--- select policy ---")
	for i, p := range sel.Candidates.Policies {
		marker := " "
		if i == sel.Index {
			marker = "*"
		}
		out = append(out, fmt.Sprintf("%s %.2f %s", marker, p.Impact(), p.Policy))
	}
	if sel.Corrected {
		out = append(out, fmt.Sprintf("selected_index %d out of range, using %d", sel.Candidates.SelectedIndex, sel.Index))
	}
	return out
}

func updateLines(stream *sensory.Stream, policy types.Policy, update types.ModelUpdate, episode, step int) []string {
	out := []string{fmt.Sprintf("Episode: %d, Step: %d", episode, step)}
	out = append(out, historyLines(stream)...)
	out = append(out, "--- update model ---")
	out = append(out, "policy: "+policy.Policy)
	for _, b := range update.AddBeliefs {
		out = append(out, "add_belief: "+b)
	}
	for _, b := range update.DeleteBeliefs {
		out = append(out, "delete_belief: "+b)
	}
	for _, e := range update.EditBeliefs {
		out = append(out, fmt.Sprintf("edit_belief: %s -> %s", e.Old, e.New))
	}
	out = append(out, "policy_progress: "+update.PolicyProgress)
	out = append(out, "policy_is_complete: "+string(update.PolicyCompletionState))
	return out
}
