package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func reindexCommand(c *cli.Context) error {
	batchSize := c.Int("batch-size")
	if batchSize <= 0 {
		return fmt.Errorf("batch-size must be greater than 0")
	}

	app, err := openApp(c)
	if err != nil {
		return err
	}
	defer app.Close()

	cfg := app.Config()
	fmt.Fprintf(os.Stderr, "Database: %s\n", cfg.Storage.Path)
	fmt.Fprintf(os.Stderr, "Embedding host: %s\n", cfg.AI.EmbeddingHost)
	fmt.Fprintf(os.Stderr, "Embedding model: %s\n", cfg.AI.EmbeddingModel)
	fmt.Fprintln(os.Stderr)

	summary, err := app.NewReindexer(os.Stderr, batchSize).Run(c.Context)
	if err != nil {
		return fmt.Errorf("reindex failed: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Reindexed %d chunks across %d documents\n", summary.Chunks, summary.Documents)
	return nil
}
