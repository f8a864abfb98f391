package main

import (
	"fmt"
	"strings"

	"github.com/poiesic/docchat/core"
	"github.com/urfave/cli/v2"
)

func askCommand(c *cli.Context) error {
	question := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if question == "" {
		return fmt.Errorf("a question is required")
	}

	app, err := openApp(c)
	if err != nil {
		return err
	}
	defer app.Close()
	ctx := c.Context

	conversationID := core.ID(c.Uint64("conversation"))
	if conversationID == 0 {
		conv, err := app.Conversations().CreateConversation(ctx, core.PlaceholderTitle)
		if err != nil {
			return fmt.Errorf("failed to create conversation: %w", err)
		}
		conversationID = conv.Id
	}

	result, err := app.Orchestrator().Turn(ctx, conversationID, question)
	if err != nil {
		if result != nil {
			return fmt.Errorf("turn failed after %s: %w", result.Trace[len(result.Trace)-2], err)
		}
		return err
	}

	fmt.Println(result.AssistantMessage.Content)
	fmt.Println()
	for i, src := range result.AssistantMessage.Sources {
		fmt.Printf("[%d] %s - Page Number: %d (score %.3f)\n", i+1, src.Filename, src.PageNumber, src.Score)
	}
	if result.RetrievalErr != nil {
		fmt.Printf("note: answered without documents: %v\n", result.RetrievalErr)
	}
	if result.PersistErr != nil {
		fmt.Printf("warning: answer was not saved: %v\n", result.PersistErr)
	}
	fmt.Printf("conversation %d", conversationID)
	if result.Title != "" {
		fmt.Printf(" %q", result.Title)
	}
	fmt.Println()
	return nil
}

func conversationsCommand(c *cli.Context) error {
	if c.Int("skip") < 0 || c.Int("limit") < 0 {
		return fmt.Errorf("skip and limit must not be negative")
	}

	app, err := openApp(c)
	if err != nil {
		return err
	}
	defer app.Close()

	convs, err := app.Conversations().ListConversations(c.Context, c.Int("skip"), c.Int("limit"))
	if err != nil {
		return fmt.Errorf("failed to list conversations: %w", err)
	}
	if len(convs) == 0 {
		fmt.Println("No conversations")
		return nil
	}
	for _, conv := range convs {
		fmt.Printf("%-20d %-40s %3d messages  %s\n",
			conv.Id, conv.Title, conv.MessageCount, conv.UpdatedAt.Local().Format("2006-01-02 15:04"))
	}
	return nil
}
