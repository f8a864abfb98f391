// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package main

import (
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/poiesic/docchat"
	"github.com/poiesic/docchat/config"
	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "docchat",
		Usage:   "Chat with your PDF documents",
		Version: docchat.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the YAML configuration file",
				Value:   "docchat.yaml",
				EnvVars: []string{"DOCCHAT_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "db",
				Aliases: []string{"d"},
				Usage:   "Path to BadgerDB database directory (overrides storage.path)",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API and the ingestion workers",
				Action: serveCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "addr",
						Usage: "API listen address (overrides server.addr)",
					},
				},
			},
			{
				Name:      "ingest",
				Usage:     "Ingest PDF files and wait for them to finish",
				ArgsUsage: "<file.pdf>...",
				Action:    ingestCommand,
			},
			{
				Name:      "ask",
				Usage:     "Ask one question",
				ArgsUsage: "<question>",
				Action:    askCommand,
				Flags: []cli.Flag{
					&cli.Uint64Flag{
						Name:  "conversation",
						Usage: "Conversation to continue; a new one is created when unset",
					},
				},
			},
			{
				Name:   "conversations",
				Usage:  "List conversations, most recently updated first",
				Action: conversationsCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "skip",
						Usage: "Number of conversations to skip",
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of conversations to list",
						Value: 10,
					},
				},
			},
			{
				Name:   "reindex",
				Usage:  "Re-embed every stored chunk with the configured embedding model",
				Action: reindexCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "batch-size",
						Usage: "Number of chunks to embed in each batch",
						Value: 100,
					},
				},
			},
		},
	}
}

// loadConfig reads .env, the configuration file and the environment,
// then applies global flag overrides.
func loadConfig(c *cli.Context) (*config.Config, error) {
	config.LoadDotEnv()

	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if db := c.String("db"); db != "" {
		cfg.Storage.Path = db
	}
	return cfg, nil
}

func openApp(c *cli.Context, opts ...docchat.Option) (*docchat.App, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	opts = append([]docchat.Option{docchat.WithLogger(slog.Default())}, opts...)
	app, err := docchat.New(c.Context, cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open docchat: %w", err)
	}
	return app, nil
}

func setupLogger(c *cli.Context) error {
	levelStr := strings.ToLower(c.String("log-level"))

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	return nil
}
