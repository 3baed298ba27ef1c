package llm

import "context"

// Provider is the core abstraction for language-model interaction.
type Provider interface {
	// Generate sends a prompt and returns the model's text reply.
	Generate(ctx context.Context, req Request) (*Response, error)

	// ModelID returns the model identifier this provider is configured to use.
	ModelID() string
}

// Request describes what to send to the model.
type Request struct {
	// System is the system prompt.
	System string

	// Messages is the conversation; for answer checks and guide replies
	// this is a single user message.
	Messages []Message

	// MaxTokens caps the reply length.
	MaxTokens int

	// Temperature controls randomness, 0.0 - 1.0. Zero means provider default.
	Temperature float64
}

// Message represents a single message in the conversation.
type Message struct {
	Role    Role
	Content string
}

// Role is the message sender role.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Response holds the model's output.
type Response struct {
	// Text is the raw text reply.
	Text string

	Usage Usage

	// Model is the actual model that served the request.
	Model string

	// StopReason is normalised to "end" or "max_tokens".
	StopReason string
}

// Usage tracks token consumption for a single request.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// UserPrompt builds the common single-turn request.
func UserPrompt(system, user string, maxTokens int) Request {
	return Request{
		System:    system,
		Messages:  []Message{{Role: RoleUser, Content: user}},
		MaxTokens: maxTokens,
	}
}

// resolveModel maps a friendly model name to a provider model ID.
func resolveModel(name string, models map[string]string) string {
	if id, ok := models[name]; ok {
		return id
	}
	// Unknown names are passed through as direct model IDs.
	return name
}
