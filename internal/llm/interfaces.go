package llm

import "context"

// Message roles understood by every provider.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one role-tagged entry of a chat prompt.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatCompleter returns a single complete reply to a chat prompt.
type ChatCompleter interface {
	Chat(ctx context.Context, msgs []Message) (string, error)
	GetModel() string
}

// ChatStreamer streams a chat reply incrementally. onChunk is called once per
// text delta in arrival order; a non-nil return from onChunk aborts the stream
// and is returned unchanged.
type ChatStreamer interface {
	ChatStream(ctx context.Context, msgs []Message, onChunk func(string) error) error
	GetModel() string
}

// ChatProvider is a client that supports both completion styles.
type ChatProvider interface {
	ChatCompleter
	ChatStreamer
}

// EmbeddingGenerator is the interface for generating vector embeddings.
type EmbeddingGenerator interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	GetModel() string
}
