package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/spf13/cobra"

	"github.com/loomengine/loom/internal/config"
	"github.com/loomengine/loom/internal/engine"
	"github.com/loomengine/loom/internal/memory"
	"github.com/loomengine/loom/internal/plotcard"
	"github.com/loomengine/loom/internal/provider"
	"github.com/loomengine/loom/internal/session"
	"github.com/loomengine/loom/internal/sessionstore"
	"github.com/loomengine/loom/internal/storytree"
	"github.com/loomengine/loom/internal/vectorstore"
	"github.com/loomengine/loom/internal/worker"
	"github.com/loomengine/loom/internal/worldstate"
)

var playCmd = &cobra.Command{
	Use:   "play <session-id>",
	Short: "Play a session from the terminal",
	Long:  "Resumes (or begins) the named session and drives it with a line-mode REPL: type player turns, 'undo'/'redo' to rewind, 'quit' to exit and save.",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlay,
}

func runPlay(cmd *cobra.Command, args []string) error {
	id := args[0]

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Log.Level),
	}))
	slog.SetDefault(logger)

	client := openai.NewClient(option.WithAPIKey(cfg.Providers.APIKey))
	embedder := provider.NewOpenAIEmbedder(&client, cfg.Providers.EmbeddingModel, cfg.Providers.EmbeddingDims)
	director := provider.NewOpenAIChat(&client, cfg.Providers.DirectorModel)
	writer := provider.NewOpenAIChat(&client, cfg.Providers.WriterModel)

	store, err := sessionstore.Open(cfg.Stores.RootPath)
	if err != nil {
		return fmt.Errorf("open sessions root: %w", err)
	}

	envelopePath, err := store.EnvelopePath(id, "")
	if err != nil {
		return fmt.Errorf("resolve session path: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	engCfg := engine.Config{
		MemoryGenerationInterval: cfg.Engine.MemoryGenerationInterval,
		RetrievalLimit:           cfg.Engine.RetrievalLimit,
		RecentTurnsWindow:        cfg.Engine.RecentTurnsWindow,
		ProviderTimeout:          time.Duration(cfg.Engine.ProviderTimeout),
	}

	sess, err := loadOrCreateSession(ctx, envelopePath, engCfg, cfg, embedder, director, writer)
	if err != nil {
		return fmt.Errorf("open session %q: %w", id, err)
	}

	autosaver := &session.AutoSaver{Session: sess, Path: envelopePath}
	snapshotWorker := worker.NewSnapshotWorker(autosaver, time.Duration(cfg.Worker.SnapshotInterval))
	go snapshotWorker.Run(ctx)

	if err := runREPL(ctx, cmd, sess); err != nil {
		return err
	}

	return session.Save(context.Background(), sess, envelopePath)
}

// loadOrCreateSession resumes envelopePath if it already holds a saved
// session, or starts a fresh one rooted at a single narrator-less root node.
func loadOrCreateSession(ctx context.Context, envelopePath string, engCfg engine.Config, cfg *config.Config, embedder provider.Embedder, director, writer provider.Chat) (*session.Session, error) {
	if _, err := os.Stat(envelopePath); err == nil {
		return session.Load(ctx, envelopePath, session.LoadOpts{
			MemoryDimension:   cfg.Providers.EmbeddingDims,
			PlotCardDimension: cfg.Providers.EmbeddingDims,
			Embedder:          embedder,
			Director:          director,
			Writer:            writer,
		})
	}

	tree := storytree.New()
	if _, err := tree.AddNode(&storytree.Node{
		ID:   "root",
		Turn: storytree.Turn{Actor: storytree.ActorWriter, Text: "The story begins."},
	}); err != nil {
		return nil, err
	}

	world := worldstate.New()

	memStore, err := vectorstore.Open(ctx, ":memory:", vectorstore.Config{
		Name: "memory", SchemaVersion: 1, Dimension: cfg.Providers.EmbeddingDims, Format: vectorstore.Dense, Normalize: true, Cache: true,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("open memory store: %w", err)
	}
	memBank := memory.New(memStore, embedder)

	cardStore, err := vectorstore.Open(ctx, ":memory:", vectorstore.Config{
		Name: "plotcard", SchemaVersion: 1, Dimension: cfg.Providers.EmbeddingDims, Format: vectorstore.Dense, Normalize: true, Cache: true,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("open plot card store: %w", err)
	}
	cardIndex := plotcard.New(cardStore, embedder)

	eng, err := engine.New(tree, world, memBank, cardIndex, director, writer, engCfg)
	if err != nil {
		return nil, err
	}

	return &session.Session{Engine: eng, Tree: tree, World: world, Memories: memBank, PlotCards: cardIndex}, nil
}

func runREPL(ctx context.Context, cmd *cobra.Command, sess *session.Session) error {
	out := cmd.OutOrStdout()
	scanner := bufio.NewScanner(cmd.InOrStdin())

	fmt.Fprintln(out, "Type a turn, or one of: undo, redo, quit")
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := scanner.Text()

		switch line {
		case "":
			continue
		case "quit", "exit":
			return nil
		case "undo":
			if _, err := sess.Engine.Undo(ctx); err != nil {
				fmt.Fprintln(out, "undo failed:", err)
			}
			continue
		case "redo":
			if _, err := sess.Engine.Redo(ctx); err != nil {
				fmt.Fprintln(out, "redo failed:", err)
			}
			continue
		}

		action, err := sess.Engine.Act(ctx, line)
		if err != nil {
			fmt.Fprintln(out, "error:", err)
			continue
		}
		if action != nil {
			if node, ok := sess.Tree.GetNode(action.ToNodeID); ok {
				fmt.Fprintln(out, node.Turn.Text)
			}
		}
	}
}
