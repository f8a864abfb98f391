package ai

// ChatRole is the speaker of a ChatMessage.
type ChatRole string

const (
	ChatRoleUser      ChatRole = "user"
	ChatRoleAssistant ChatRole = "assistant"
)

// ChatMessage is one prior message handed to a ChatModel.
type ChatMessage struct {
	Role    ChatRole
	Content string
}

// GenerateRequest is the input to ChatModel.Generate.
type GenerateRequest struct {
	SystemPrompt string
	Messages     []ChatMessage
	Temperature  float64
	MaxTokens    int
}
