package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Validator is implemented by structured reply types that check their own ranges.
type Validator interface {
	Validate() error
}

// Schema describes the JSON object a structured request must return.
type Schema struct {
	Name        string
	Description string
	// Example is marshalled into the instruction so the model sees the exact shape.
	Example interface{}
}

// Instruction renders the schema as the trailing system message of a request.
func (s Schema) Instruction() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Respond with a single JSON object for %q and nothing else.\n", s.Name)
	if s.Description != "" {
		b.WriteString(s.Description)
		b.WriteString("\n")
	}
	if s.Example != nil {
		if example, err := json.MarshalIndent(s.Example, "", "  "); err == nil {
			b.WriteString("The object must have exactly this shape:\n")
			b.Write(example)
			b.WriteString("\n")
		}
	}
	return b.String()
}

// StructuredGenerator asks a chat model for a schema-conforming JSON object and
// retries until it gets one.
type StructuredGenerator struct {
	client  ChatCompleter
	backoff Backoff
	logger  *zap.Logger
}

// NewStructuredGenerator wraps client with retry and schema validation.
func NewStructuredGenerator(client ChatCompleter, backoff Backoff, logger *zap.Logger) *StructuredGenerator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StructuredGenerator{client: client, backoff: backoff, logger: logger}
}

// Model returns the underlying model name.
func (g *StructuredGenerator) Model() string {
	return g.client.GetModel()
}

// Generate sends msgs plus the schema instruction and decodes the reply into T.
// Transport errors and schema validation failures are both retried.
func Generate[T any](ctx context.Context, g *StructuredGenerator, schema Schema, msgs []Message) (T, error) {
	request := make([]Message, 0, len(msgs)+1)
	request = append(request, msgs...)
	request = append(request, Message{Role: RoleSystem, Content: schema.Instruction()})

	return Retry(ctx, g.backoff, g.logger, schema.Name, func(ctx context.Context) (T, error) {
		var zero T
		text, err := g.client.Chat(ctx, request)
		if err != nil {
			return zero, err
		}
		return Decode[T](text)
	})
}

// Decode extracts the first JSON object from text, unmarshals it into T and
// runs T's Validate method if it has one.
func Decode[T any](text string) (T, error) {
	var out T
	raw := extractJSON(text)
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return out, fmt.Errorf("%w: %v", ErrSchemaValidation, err)
	}
	if v, ok := any(&out).(Validator); ok {
		if err := v.Validate(); err != nil {
			return out, fmt.Errorf("%w: %v", ErrSchemaValidation, err)
		}
	}
	return out, nil
}

// extractJSON returns the first balanced {...} object in text, ignoring code
// fences and any prose around it. Text without one is returned trimmed.
func extractJSON(text string) string {
	text = strings.TrimSpace(strings.NewReplacer("```json", "", "```", "").Replace(text))

	start := strings.IndexByte(text, '{')
	if start < 0 {
		return text
	}
	depth := 0
	quoted, escaped := false, false
	for i := start; i < len(text); i++ {
		c := text[i]
		switch {
		case escaped:
			escaped = false
		case quoted && c == '\\':
			escaped = true
		case c == '"':
			quoted = !quoted
		case quoted:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return text
}
