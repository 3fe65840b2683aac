package models

// Role tags the author of a conversational message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message represents a single conversational message.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is the caller-facing description of one completion call.
// Temperature is optional; MaxOutputTokens must be positive.
type CompletionRequest struct {
	Model           string
	Messages        []Message
	Temperature     *float64
	MaxOutputTokens int
	// ResponseFormat requests a provider-side structured output mode
	// ("json_object"); empty leaves the provider default.
	ResponseFormat string
}

// Clone returns a copy that shares no mutable state with r.
func (r CompletionRequest) Clone() CompletionRequest {
	out := r
	out.Messages = append([]Message(nil), r.Messages...)
	if r.Temperature != nil {
		t := *r.Temperature
		out.Temperature = &t
	}
	return out
}

// RequestBody is the provider-ready body produced by the request shaper.
// Exactly one of MaxTokens and MaxCompletionTokens is set.
type RequestBody struct {
	Model               string          `json:"model"`
	Messages            []Message       `json:"messages"`
	Temperature         *float64        `json:"temperature,omitempty"`
	MaxTokens           *int            `json:"max_tokens,omitempty"`
	MaxCompletionTokens *int            `json:"max_completion_tokens,omitempty"`
	ResponseFormat      *ResponseFormat `json:"response_format,omitempty"`
}

// ResponseFormat selects a provider-side output mode.
type ResponseFormat struct {
	Type string `json:"type"`
}

// LengthLimit returns whichever length field the dialect populated.
func (b RequestBody) LengthLimit() int {
	switch {
	case b.MaxCompletionTokens != nil:
		return *b.MaxCompletionTokens
	case b.MaxTokens != nil:
		return *b.MaxTokens
	default:
		return 0
	}
}

// Completion captures the first completion of a provider reply.
type Completion struct {
	ID           string
	Model        string
	Content      string
	FinishReason string
	Usage        Usage
}

// Usage records token accounting information.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Model identifies a known model with provider metadata.
type Model struct {
	ID       string
	Provider string
}
