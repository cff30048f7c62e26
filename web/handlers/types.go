package handlers

import (
	"github.com/scrypster/charles/internal/chat"
	"github.com/scrypster/charles/internal/engine"
	"github.com/scrypster/charles/internal/session"
	"github.com/scrypster/charles/pkg/types"
)

// ErrorResponse is the standard error response format for the API.
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Code    string                 `json:"code"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// StatusResponse acknowledges a command.
type StatusResponse struct {
	Status string `json:"status"`
}

// PromptRequest is the body of POST /api/prompt.
type PromptRequest struct {
	Text string `json:"text"`
}

// ObservationsResponse is the response format for GET /api/observations.
type ObservationsResponse struct {
	Observations []types.Observation `json:"observations"`
	Total        int                 `json:"total"`
}

// SearchResult is one nearest prior statement.
type SearchResult struct {
	ID       string  `json:"id"`
	Text     string  `json:"text"`
	Category string  `json:"category"`
	Type     string  `json:"type"`
	Distance float64 `json:"distance"`
}

// SearchResponse is the response format for GET /api/search.
type SearchResponse struct {
	Query    string         `json:"query"`
	Category string         `json:"category,omitempty"`
	Results  []SearchResult `json:"results"`
}

// Websocket message types.
const (
	MessageUserText    = "user_text"
	MessageCancel      = "cancel"
	MessageUpdateChat  = "update_chat"
	MessageUpdateDebug = "update_debug"
	MessageError       = "error"
)

// InboundMessage is a client-to-server websocket message.
type InboundMessage struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// OutboundMessage is a server-to-client websocket message.
type OutboundMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// ChatUpdate is the payload of update_chat.
type ChatUpdate struct {
	Chat      []session.ChatLine `json:"chat"`
	Responses string             `json:"responses"`
	Preview   string             `json:"preview"`

	Response *chat.AgentResponse `json:"response,omitempty"`
}

// DebugUpdate is the payload of update_debug.
type DebugUpdate struct {
	engine.DebugState
	Text            string `json:"text"`
	ResponseEpisode int    `json:"response_episode"`
	ResponseStep    int    `json:"response_step"`
}

// SnapshotMessages splits a session snapshot into the two outbound updates.
func SnapshotMessages(snap session.Snapshot) []OutboundMessage {
	return []OutboundMessage{
		{Type: MessageUpdateChat, Data: ChatUpdate{
			Chat:      snap.Chat,
			Responses: snap.Responses,
			Preview:   snap.Preview,
			Response:  snap.Response,
		}},
		{Type: MessageUpdateDebug, Data: DebugUpdate{
			DebugState:      snap.Debug,
			Text:            snap.Debug.String(),
			ResponseEpisode: snap.ResponseEpisode,
			ResponseStep:    snap.ResponseStep,
		}},
	}
}
