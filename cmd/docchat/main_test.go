package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

// isolate points the commands at a throwaway database and upload directory.
func isolate(t *testing.T) []string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("DOCCHAT_UPLOAD_DIR", filepath.Join(dir, "uploads"))
	return []string{
		"docchat",
		"--config", filepath.Join(dir, "missing.yaml"),
		"--db", filepath.Join(dir, "db"),
	}
}

func TestCommands(t *testing.T) {
	app := newApp()

	names := make([]string, 0, len(app.Commands))
	for _, cmd := range app.Commands {
		names = append(names, cmd.Name)
	}
	assert.ElementsMatch(t, []string{"serve", "ingest", "ask", "conversations", "reindex"}, names)
}

func TestCommandValidation(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"ingest needs files", []string{"ingest"}, "at least one PDF file"},
		{"ingest missing file", []string{"ingest", "/nonexistent/manual.pdf"}, "failed to read"},
		{"ask needs a question", []string{"ask", "   "}, "question is required"},
		{"reindex batch size", []string{"reindex", "--batch-size", "0"}, "batch-size must be greater than 0"},
		{"negative limit", []string{"conversations", "--limit", "-1"}, "must not be negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append(isolate(t), tt.args...)
			err := newApp().Run(args)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestInvalidConfiguration(t *testing.T) {
	args := isolate(t)
	t.Setenv("DOCCHAT_RETRIEVAL_FAILURE_POLICY", "shrug")

	err := newApp().Run(append(args, "conversations"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
	assert.Contains(t, err.Error(), "failure_policy")
}

func TestConversationsOnEmptyDatabase(t *testing.T) {
	err := newApp().Run(append(isolate(t), "conversations"))
	assert.NoError(t, err)
}

func TestReindexOnEmptyDatabase(t *testing.T) {
	err := newApp().Run(append(isolate(t), "reindex"))
	assert.NoError(t, err)
}

func TestSetupLogger(t *testing.T) {
	t.Run("valid log levels", func(t *testing.T) {
		for _, level := range []string{"debug", "info", "warn", "error", "DEBUG", "WaRn"} {
			t.Run(level, func(t *testing.T) {
				app := &cli.App{
					Name: "test",
					Flags: []cli.Flag{
						&cli.StringFlag{Name: "log-level", Value: "info"},
					},
					Before: setupLogger,
					Action: func(c *cli.Context) error { return nil },
				}
				require.NoError(t, app.Run([]string{"test", "--log-level", level}))
			})
		}
	})

	t.Run("invalid log level returns error", func(t *testing.T) {
		app := &cli.App{
			Name: "test",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "log-level", Value: "info"},
			},
			Before: setupLogger,
			Action: func(c *cli.Context) error { return nil },
		}

		err := app.Run([]string{"test", "--log-level", "invalid"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid log level")
	})

	t.Run("log-level flag has alias -l", func(t *testing.T) {
		app := newApp()
		app.Commands = nil
		app.Action = func(c *cli.Context) error {
			assert.Equal(t, "debug", c.String("log-level"))
			return nil
		}
		require.NoError(t, app.Run([]string{"docchat", "-l", "debug"}))
	})
}
