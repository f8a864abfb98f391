package rag

import (
	"context"
	"strings"

	"github.com/poiesic/docchat/ai"
)

const (
	maxTitleWords  = 6
	titleMaxTokens = 25
)

const titleSystemPrompt = `You are a helpful assistant that writes concise conversation titles.
Write a brief, descriptive title of at most 6 words for a conversation, based on its first exchange.
The title should capture the main topic or intent. Respond with ONLY the title, no other text.`

// generateTitle asks the model for a short title and falls back to the
// opening words of the user's message when the model fails.
func (o *Orchestrator) generateTitle(ctx context.Context, question, answer string) string {
	if o.settings.TitleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.settings.TitleTimeout)
		defer cancel()
	}

	req := ai.GenerateRequest{
		SystemPrompt: titleSystemPrompt,
		Messages: []ai.ChatMessage{{
			Role:    ai.ChatRoleUser,
			Content: "Generate a title for this conversation.\n\nUser: " + question + "\n\nAssistant: " + answer,
		}},
		Temperature: o.settings.Generation.Temperature,
		MaxTokens:   titleMaxTokens,
	}
	reply, err := o.chat.Generate(ctx, req)
	if err != nil {
		o.logger.Warn("title generation failed, using fallback", "err", err)
		return fallbackTitle(question)
	}
	if title := cleanTitle(reply); title != "" {
		return title
	}
	return fallbackTitle(question)
}

// cleanTitle keeps the first line, strips quotes and caps the word count.
func cleanTitle(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimPrefix(s, "Title:")
	s = strings.Trim(strings.TrimSpace(s), `"'`+"`")
	return limitWords(s, maxTitleWords)
}

func fallbackTitle(question string) string {
	title := limitWords(question, maxTitleWords)
	if title == "" {
		return "Untitled"
	}
	return title
}

func limitWords(s string, n int) string {
	words := strings.Fields(s)
	if len(words) > n {
		words = words[:n]
	}
	return strings.Join(words, " ")
}
