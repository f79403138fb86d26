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
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	memorit "github.com/poiesic/memorit"
	"github.com/poiesic/memorit/ai"
	"github.com/poiesic/memorit/ai/openai"
	"github.com/poiesic/memorit/config"
	"github.com/poiesic/memorit/core"
	"github.com/poiesic/memorit/eventbus"
	"github.com/poiesic/memorit/reembed"
	"github.com/poiesic/memorit/retention"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "engramd",
		Usage: "Local-first screen-memory ingestion and retrieval daemon",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
			&cli.StringFlag{
				Name:    "data-dir",
				Aliases: []string{"d"},
				Usage:   "Path to the engine's data directory",
				Value:   defaultDataDir(),
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the ingestion pipeline and retention sweeper until interrupted",
				Action: serveCommand,
			},
			{
				Name:   "stats",
				Usage:  "Print a summary of the record store's current contents",
				Action: statsCommand,
			},
			{
				Name:   "purge",
				Usage:  "Delete captures matching a filter, independent of retention age",
				Action: purgeCommand,
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:  "kind",
						Usage: "Restrict to one or more capture kinds (repeatable)",
					},
					&cli.StringFlag{
						Name:  "source-app",
						Usage: "Restrict to captures from this source application",
					},
					&cli.BoolFlag{
						Name:  "dry-run",
						Usage: "Report what would be deleted without deleting it",
						Value: true,
					},
				},
			},
			{
				Name:   "reembed",
				Usage:  "Re-embed every capture into a new embedding generation",
				Action: reembedCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "model",
						Usage:    "New embedding model identifier",
						Required: true,
					},
					&cli.IntFlag{
						Name:     "dim",
						Usage:    "New embedding vector dimensionality",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "embedding-host",
						Usage: "Embedding service host URL",
						Value: "http://localhost:11434/v1",
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".engram"
	}
	return filepath.Join(home, ".engram")
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

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return nil
}

// serveCommand opens the engine, starts its background workers, and
// blocks until SIGINT/SIGTERM, logging every dropped-capture and
// tier-change event it sees along the way.
func serveCommand(c *cli.Context) error {
	dataDir := c.String("data-dir")

	engine, err := memorit.Open(dataDir)
	if err != nil {
		return fmt.Errorf("opening engine: %w", err)
	}
	defer engine.Close()

	if engine.ReadOnly() {
		slog.Warn("engine booted read-only; run 'engramd reembed' to migrate to the configured embedding model")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sub := engine.Subscribe()
	defer engine.Unsubscribe(sub)
	go logEvents(ctx, sub)

	engine.Start(ctx)
	slog.Info("engramd serving", "data_dir", dataDir)

	<-ctx.Done()
	slog.Info("shutting down")
	return nil
}

func logEvents(ctx context.Context, sub *eventbus.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			switch ev.Kind {
			case eventbus.KindDropped:
				slog.Debug("capture dropped", "payload", ev.Payload)
			case eventbus.KindTierChanged:
				slog.Debug("capture tier changed", "payload", ev.Payload)
			case eventbus.KindCaptureDeleted:
				slog.Debug("capture deleted", "payload", ev.Payload)
			case eventbus.KindLagged:
				slog.Warn("event subscriber fell behind", "payload", ev.Payload)
			}
		}
	}
}

func statsCommand(c *cli.Context) error {
	dataDir := c.String("data-dir")
	engine, err := memorit.Open(dataDir)
	if err != nil {
		return fmt.Errorf("opening engine: %w", err)
	}
	defer engine.Close()

	stats, err := engine.Stats()
	if err != nil {
		return fmt.Errorf("fetching stats: %w", err)
	}

	fmt.Printf("total captures: %d\n", stats.Total)
	fmt.Printf("text bytes:     %d\n", stats.TextBytes)
	fmt.Println("by tier:")
	for tier, n := range stats.ByTier {
		fmt.Printf("  %-6s %d\n", tier.String(), n)
	}
	fmt.Println("by kind:")
	for kind, n := range stats.ByKind {
		fmt.Printf("  %-18s %d\n", kind, n)
	}
	return nil
}

func purgeCommand(c *cli.Context) error {
	dataDir := c.String("data-dir")
	engine, err := memorit.Open(dataDir)
	if err != nil {
		return fmt.Errorf("opening engine: %w", err)
	}
	defer engine.Close()

	var kinds []core.CaptureKind
	for _, k := range c.StringSlice("kind") {
		kinds = append(kinds, core.CaptureKind(k))
	}

	filters := retention.Filters{
		Kinds:     kinds,
		SourceApp: c.String("source-app"),
	}
	dryRun := c.Bool("dry-run")

	report, err := engine.Purge(context.Background(), filters, dryRun)
	if err != nil {
		return fmt.Errorf("purging: %w", err)
	}

	if dryRun {
		fmt.Printf("would delete %d captures (pass --dry-run=false to actually delete)\n", report.Deleted)
	} else {
		fmt.Printf("deleted %d captures\n", report.Deleted)
	}
	return nil
}

// reembedCommand runs a full generation cutover: every capture's text
// is re-embedded into a fresh vector index under the new model, and
// only once every capture has a confirmed vector there does it retire
// the old generation and persist the new model into config.toml. The
// engine must not be serving against the same data directory while
// this runs.
func reembedCommand(c *cli.Context) error {
	dataDir := c.String("data-dir")
	model := c.String("model")
	dim := c.Int("dim")

	aiCfg := ai.NewConfig(
		ai.WithEmbeddingHost(c.String("embedding-host")),
		ai.WithEmbeddingModel(model),
	)
	if err := aiCfg.Validate(); err != nil {
		return fmt.Errorf("invalid embedding configuration: %w", err)
	}

	embedder, err := openai.NewEmbedder(aiCfg)
	if err != nil {
		return fmt.Errorf("building embedder: %w", err)
	}

	driver, err := reembed.Open(dataDir, model, dim, embedder)
	if err != nil {
		return fmt.Errorf("starting migration: %w", err)
	}
	defer driver.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	report, err := driver.Run(ctx)
	if err != nil {
		return fmt.Errorf("running migration: %w", err)
	}

	fmt.Printf("scanned %d captures in %s: %d embedded, %d skipped (no text), %d errored\n",
		report.Total, time.Since(start).Round(time.Millisecond), report.Embedded, report.Skipped, report.Errored)

	if report.Errored > 0 {
		fmt.Println("errors occurred; the old generation was left in place. Re-run 'engramd reembed' once the cause is fixed.")
		return nil
	}

	if err := driver.Finalize(); err != nil {
		return fmt.Errorf("finalizing migration: %w", err)
	}

	cfgPath := filepath.Join(dataDir, "config.toml")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("reloading config: %w", err)
	}
	cfg.Embedding.ModelID = model
	cfg.Embedding.Dim = dim
	if err := config.Save(cfgPath, cfg); err != nil {
		return fmt.Errorf("persisting new embedding config: %w", err)
	}

	fmt.Println("migration complete; the engine will boot read-write on its next start")
	return nil
}
