package engine

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/scrypster/charles/internal/llm"
	"github.com/scrypster/charles/pkg/types"
)

const advisorPreamble = `You are an Artificial Intelligence expert specializing in Active Inference, the Free Energy Principle, and the Markov Blanket. Your research showed that Large Language Models can perform Active Inference:

* The model's prompt together with its fixed weights acts as a generative model.
* Attention over the fixed weights behaves as the Markov Blanket.
* The fixed weights already hold a wealth of hidden states, beliefs, and desires about the world that need not be learned.
* The prompt should therefore only model the hidden states, beliefs, and desires unique to the agent's context, or those that contradict the fixed weights.

You are now advising an AI agent, "Charles Petrescu", which keeps its beliefs and desires in the state given by the User.`

const selectPolicyTask = `Your task: propose between 3 and 5 policies the assistant could follow next to reduce free energy in the conversation. For each policy estimate how much free energy it removes (0 to 10) and how likely it is to succeed (0 to 1), then pick the index of the best one.`

const updateModelTask = `Your tasks:
1. Decide whether the assistant should add, delete, or edit any of its beliefs given what happened. Deleted and edited beliefs MUST match an existing belief exactly.
2. Describe the progress made on the current policy and decide whether it should continue, is complete, or should be interrupted so new policies are evaluated.`

var selectSchema = llm.Schema{
	Name:        "select_policy",
	Description: "policies holds 3 to 5 candidates; selected_index is the zero-based index of the chosen one.",
	Example: types.PolicyCandidates{
		Policies: []types.Policy{{
			Policy:                       "ask the user what they had for breakfast",
			ExpectedOutcome:              "learn something about the user's habits",
			EstimatedFreeEnergyReduction: 4,
			ProbabilityOfSuccess:         0.8,
		}},
		SelectedIndex: 0,
	},
}

var updateSchema = llm.Schema{
	Name:        "update_generative_model",
	Description: "policy_completion_state is one of continue, complete or interrupt. Lists may be empty.",
	Example: types.ModelUpdate{
		PolicyProgress:        "the user answered the first question",
		PolicyCompletionState: types.CompletionContinue,
		AddBeliefs:            []string{"The user likes horses."},
		DeleteBeliefs:         []string{},
		EditBeliefs:           []types.BeliefEdit{{Old: "The user is sad.", New: "The user is cheerful."}},
	},
}

type policyState struct {
	Policy          string `json:"policy"`
	ExpectedOutcome string `json:"expected_outcome"`
	Progress        string `json:"progress,omitempty"`
}

type selectState struct {
	Beliefs       []string `json:"beliefs"`
	Desires       []string `json:"desires"`
	SensoryStream []string `json:"sensory_stream"`
}

type updateState struct {
	Beliefs            []string    `json:"beliefs"`
	Desires            []string    `json:"desires"`
	StreamBeforePolicy []string    `json:"sensory_stream_before_policy"`
	StreamSincePolicy  []string    `json:"sensory_stream_since_policy"`
	SecondsSincePolicy int         `json:"seconds_since_policy_started"`
	CurrentPolicy      policyState `json:"current_policy"`
}

func lines(s string) []string {
	if s == "" {
		return []string{}
	}
	return strings.Split(s, "\n")
}

func stateMessage(state interface{}) (llm.Message, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return llm.Message{}, fmt.Errorf("encoding state: %w", err)
	}
	return llm.Message{Role: llm.RoleUser, Content: "state: " + string(data)}, nil
}

func selectMessages(state selectState) ([]llm.Message, error) {
	user, err := stateMessage(state)
	if err != nil {
		return nil, err
	}
	return []llm.Message{
		{Role: llm.RoleSystem, Content: advisorPreamble + "\n\n" + selectPolicyTask},
		user,
	}, nil
}

func updateMessages(state updateState) ([]llm.Message, error) {
	user, err := stateMessage(state)
	if err != nil {
		return nil, err
	}
	return []llm.Message{
		{Role: llm.RoleSystem, Content: advisorPreamble + "\n\n" + updateModelTask},
		user,
	}, nil
}
