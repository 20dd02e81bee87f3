// Package host defines the contract with the chat host.
//
// DESIGN: The core never reimplements the host's chat store or tokenizer; it
// consumes them as services. Event names and payload shapes here are the
// wire contract for the host's websocket event stream.
//
// FILES:
//   - types.go:      Event names, Message shape, ChatService contract
//   - bridge.go:     Websocket client that dispatches host events to the tracker
//   - chatclient.go: HTTP-backed ChatService implementation
package host

// GenerationType classifies a generation as reported by the host.
type GenerationType string

// Generation types.
const (
	GenNormal      GenerationType = "normal"
	GenContinue    GenerationType = "continue"
	GenSwipe       GenerationType = "swipe"
	GenRegenerate  GenerationType = "regenerate"
	GenQuiet       GenerationType = "quiet"
	GenImpersonate GenerationType = "impersonate"
)

// Event names emitted by the chat host.
const (
	EventGenerationStarted = "generation_started"
	EventGenerateAfterData = "generate_after_data"
	EventMessageReceived   = "message_received"
	EventGenerationStopped = "generation_stopped"
	EventChatChanged       = "chat_changed"
	EventImpersonateReady  = "impersonate_ready"
)

// Message is one chat transcript entry plus host-side metadata.
type Message struct {
	Text      string
	Reasoning string
	// TokenCount is the host's pre-computed count for the full message.
	// 0 means unknown. When set it may already include the reasoning
	// segment.
	TokenCount int
	IsUser     bool
	IsSystem   bool
}

// ChatService accesses the host's active chat state. Implementations are
// supplied by the host integration, not by this module.
type ChatService interface {
	// Message returns the transcript entry at index.
	Message(index int) (Message, bool)
	// LastMessage returns the newest transcript entry.
	LastMessage() (Message, bool)
	// StreamingText returns the partial output buffer of the in-flight
	// generation, or "" when nothing is streaming.
	StreamingText() string
	CurrentChatID() string
	CurrentModelID() string
	CurrentSourceID() string
}
