package llm

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a single message in a conversation
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options overrides the provider's default generation parameters. Zero
// values keep the defaults.
type Options struct {
	MaxTokens   int
	Temperature float32
}

// System builds a system message.
func System(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// User builds a user message.
func User(content string) Message {
	return Message{Role: RoleUser, Content: content}
}
