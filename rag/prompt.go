package rag

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/poiesic/docchat/ai"
	"github.com/poiesic/docchat/core"
)

const basicSystemPrompt = `Answer in the language the user writes in, and use the conversation history when it helps.
You are a helpful and friendly AI assistant.
Engage in natural conversation and give accurate, concise answers.
If the user says something vague or unclear, politely ask for clarification or context so you can give the most relevant answer.
If the user refers to specific documents or information, tell them you can search the knowledge base for them.`

const ragSystemPrompt = `Answer in the language the user writes in, and use the conversation history when it helps.
You are a helpful AI assistant with access to a knowledge base of documents.
Use the numbered context below to answer questions accurately and comprehensively.

For each response:
1. Analyze the provided context and cite specific sources using page numbers.
2. When citing information, use the format: [Source: filename, Page: X]
3. If several sources support a point, cite all of them.
4. If the context does not fully answer the question, say which parts come from the sources and which are general knowledge.

Prefer accuracy over completeness. If you are unsure about something, say so and explain what evidence the sources do give.
Be open about gaps in the provided context.`

// minResponseTokens is the floor for the response budget.
const minResponseTokens = 64

// charsPerToken approximates tokens from characters.
const charsPerToken = 4

// GenerationSettings shape the request sent to the chat model.
type GenerationSettings struct {
	Temperature float64
	// MaxContextLength is the model's context window in tokens.
	MaxContextLength int
	// MaxResponseTokens caps the reply length.
	MaxResponseTokens int
}

// DefaultGenerationSettings returns the stock generation settings.
func DefaultGenerationSettings() GenerationSettings {
	return GenerationSettings{
		Temperature:       0.7,
		MaxContextLength:  8192,
		MaxResponseTokens: 2048,
	}
}

// Validate checks the generation settings.
func (g GenerationSettings) Validate() error {
	if g.Temperature < 0 || g.Temperature > 2 {
		return fmt.Errorf("%w: temperature must be within [0, 2]", ErrInvalidSettings)
	}
	if g.MaxContextLength < minResponseTokens {
		return fmt.Errorf("%w: max context length must be at least %d", ErrInvalidSettings, minResponseTokens)
	}
	if g.MaxResponseTokens < 0 {
		return fmt.Errorf("%w: max response tokens must not be negative", ErrInvalidSettings)
	}
	return nil
}

// BuildRequest renders c into a chat request that fits the context window.
//
// When the estimated prompt is too large, the oldest history messages are
// dropped first and then the lowest ranked chunks. The query is always kept.
// The returned Context reflects what was actually sent.
func (g GenerationSettings) BuildRequest(c *Context) (ai.GenerateRequest, *Context) {
	fitted := &Context{
		Query:   c.Query,
		Mode:    c.Mode,
		Chunks:  append([]*core.Chunk(nil), c.Chunks...),
		History: append([]*core.Message(nil), c.History...),
	}

	limit := g.MaxContextLength - minResponseTokens
	for estimateTokens(fitted) > limit {
		if len(fitted.History) > 0 {
			fitted.History = fitted.History[1:]
			continue
		}
		if len(fitted.Chunks) > 0 {
			fitted.Chunks = fitted.Chunks[:len(fitted.Chunks)-1]
			continue
		}
		break
	}
	if len(fitted.Chunks) == 0 {
		fitted.Mode = ModeBasic
	}

	req := ai.GenerateRequest{
		SystemPrompt: systemPrompt(fitted),
		Messages:     chatMessages(fitted),
		Temperature:  g.Temperature,
	}
	req.MaxTokens = g.responseBudget(promptChars(req))
	return req, fitted
}

func (g GenerationSettings) responseBudget(chars int) int {
	budget := g.MaxContextLength - chars/charsPerToken
	if g.MaxResponseTokens > 0 {
		budget = min(budget, g.MaxResponseTokens)
	}
	return max(budget, minResponseTokens)
}

func systemPrompt(c *Context) string {
	if c.Mode != ModeRAG || len(c.Chunks) == 0 {
		return basicSystemPrompt
	}
	var sb strings.Builder
	sb.WriteString(ragSystemPrompt)
	sb.WriteString("\n\nContext:\n")
	for i, chunk := range c.Chunks {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		writeContextBlock(&sb, i+1, chunk)
	}
	return sb.String()
}

func writeContextBlock(sb *strings.Builder, n int, chunk *core.Chunk) {
	sb.WriteString("[")
	sb.WriteString(strconv.Itoa(n))
	sb.WriteString("] ")
	sb.WriteString(chunk.Text)
	sb.WriteString("\nSource: ")
	sb.WriteString(chunk.Filename)
	sb.WriteString(" - Page Number: ")
	sb.WriteString(strconv.Itoa(chunk.PageNumber))
}

func chatMessages(c *Context) []ai.ChatMessage {
	msgs := make([]ai.ChatMessage, 0, len(c.History)+1)
	for _, m := range c.History {
		role := ai.ChatRoleUser
		if m.Role == core.RoleAssistant {
			role = ai.ChatRoleAssistant
		}
		msgs = append(msgs, ai.ChatMessage{Role: role, Content: m.Content})
	}
	return append(msgs, ai.ChatMessage{Role: ai.ChatRoleUser, Content: c.Query})
}

func promptChars(req ai.GenerateRequest) int {
	n := utf8.RuneCountInString(req.SystemPrompt)
	for _, m := range req.Messages {
		n += utf8.RuneCountInString(m.Content)
	}
	return n
}

func estimateTokens(c *Context) int {
	req := ai.GenerateRequest{SystemPrompt: systemPrompt(c), Messages: chatMessages(c)}
	return promptChars(req) / charsPerToken
}
