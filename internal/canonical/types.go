// Package canonical defines the gateway's wire schema: the request,
// response, and streaming-event shapes every provider adapter translates
// to and from. Nothing in this package knows about Gemini, OpenAI, or
// Anthropic specifically — that translation lives in internal/provider.
package canonical

// Role identifies who authored a message in a conversation.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// StopReason explains why a completion stopped generating.
type StopReason string

const (
	StopEndTurn      StopReason = "end_turn"
	StopMaxTokens    StopReason = "max_tokens"
	StopStopSequence StopReason = "stop_sequence"
	StopError        StopReason = "error"
)

// Message is one turn in the conversation. The canonical schema is
// text-only; richer modalities (images, tool calls) would be additive
// ContentBlock variants in a future revision, not a change to Message.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Request is the canonical, provider-independent chat completion request.
// The HTTP handler decodes the client's JSON body directly into this type;
// unknown top-level fields are ignored for forward compatibility.
type Request struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Stream      bool      `json:"stream,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
	TopP        *float64  `json:"top_p,omitempty"`
	Stop        []string  `json:"stop,omitempty"`
}

// ContentBlock is one piece of response content. Only "text" blocks are
// produced by this revision of the gateway.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Usage holds token accounting for a completion, input and output.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Response is the canonical, complete (non-streaming) chat completion
// result. Adapters build this from whatever shape their upstream returns.
type Response struct {
	ID         string         `json:"id"`
	Model      string         `json:"model"`
	Content    []ContentBlock `json:"content"`
	StopReason StopReason     `json:"stop_reason"`
	Usage      Usage          `json:"usage"`
}

// EventType names the variant of a streamed CanonicalEvent.
type EventType string

const (
	EventMessageStart      EventType = "message_start"
	EventContentBlockStart EventType = "content_block_start"
	EventContentBlockDelta EventType = "content_block_delta"
	EventContentBlockStop  EventType = "content_block_stop"
	EventMessageDelta      EventType = "message_delta"
	EventMessageStop       EventType = "message_stop"
	EventError             EventType = "error"
)

// Event is the tagged-variant streaming unit. Only the fields relevant to
// the EventType are populated (content_block_start, for example, sets both
// Index and Block; message_stop sets none). A plain struct (rather than
// a Go interface per variant) keeps JSON encoding trivial and keeps the
// zero value meaningful for tests that only care about a couple of fields.
type Event struct {
	Type EventType `json:"type"`

	// message_start
	Message *Response `json:"message,omitempty"`

	// content_block_start / content_block_delta / content_block_stop
	Index     *int          `json:"index,omitempty"`
	Block     *ContentBlock `json:"content_block,omitempty"`
	TextDelta string        `json:"text,omitempty"`

	// message_delta
	StopReason StopReason `json:"stop_reason,omitempty"`
	Usage      *Usage     `json:"usage,omitempty"`

	// error
	ErrorKind    string `json:"error_kind,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}
