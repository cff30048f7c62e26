package chat_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/charles/internal/chat"
	"github.com/scrypster/charles/internal/llm"
)

func TestResponseStateManager_EpisodesAndSteps(t *testing.T) {
	m := chat.NewResponseStateManager()
	obs, st := m.Snapshot()
	assert.Equal(t, 1, obs.Episode)
	assert.Equal(t, 0, st.Step)

	m.SetPreview("Hel")
	assert.Equal(t, "🤖❓ Hel", m.PrettyPrintPreview())
	m.AddResponseAndClearPreview("Hello.")
	m.AddResponseAndClearPreview("Ooh, cabbages.")
	assert.Empty(t, m.PrettyPrintPreview())
	assert.Equal(t, "🤖 Hello.  \nOoh, cabbages.  \n", m.PrettyPrintCurrentResponses())

	require.NoError(t, m.AddSpeechChunk(7, 1))
	assert.ErrorIs(t, m.AddSpeechChunk(8, 2), chat.ErrSentenceOutOfRange)
	m.SetShowPackets(true)
	assert.Equal(t, "🤖 [0] Hello.  \n[1] Ooh, cabbages.  \n", m.PrettyPrintCurrentResponses())

	prev, st := m.BeginNextStep()
	assert.Equal(t, []string{"Hello.", "Ooh, cabbages."}, prev.Responses)
	assert.Equal(t, []int{7}, prev.SpeechChunkIDs)
	assert.Equal(t, []string{"Hello.", "Ooh, cabbages."}, st.CurrentResponses, "episode state survives steps")

	obs, _ = m.Snapshot()
	assert.Equal(t, 1, obs.Step)
	assert.Empty(t, obs.Responses)

	obs, st = m.ResetEpisode()
	assert.Equal(t, 2, obs.Episode)
	assert.Equal(t, 0, st.Step)
	assert.Empty(t, st.CurrentResponses)
}

func TestPromptManager(t *testing.T) {
	pm := chat.NewPromptManager()
	msgs := pm.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, llm.RoleSystem, msgs[0].Role)
	assert.Contains(t, msgs[0].Content, `"respond to the user's questions and statements"`)
	assert.Contains(t, msgs[0].Content, "Keep your responses short and simple")

	pm.AppendUserMessage("hello")
	pm.AppendUserMessage(" there")
	pm.AppendAssistantMessage("I am Charles.", false)
	pm.AppendAssistantMessage(" Ooh.", false)
	pm.AppendAssistantMessage("New turn.", true)
	pm.AppendAssistantMessage("Forced again.", false)
	pm.AppendAssistantMessage(" Joined.", false)

	msgs = pm.Messages()
	require.Len(t, msgs, 5)
	assert.Equal(t, llm.Message{Role: llm.RoleUser, Content: "hello there"}, msgs[1])
	assert.Equal(t, "I am Charles. Ooh.", msgs[2].Content)
	assert.Equal(t, "New turn.", msgs[3].Content)
	assert.Equal(t, "Forced again. Joined.", msgs[4].Content)

	pm.SetPolicy("ask about horses", "learn the user's favourite animal")
	msgs = pm.Messages()
	assert.True(t, strings.Contains(msgs[0].Content, `"ask about horses"`))
	assert.Len(t, msgs, 5, "set policy keeps the conversation")

	pm.Reset()
	msgs = pm.Messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Content, "learn the user's favourite animal")
	policy, _ := pm.Policy()
	assert.Equal(t, "ask about horses", policy)
}
