package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/MegaGrindStone/chatstream/internal/chat"
	"github.com/MegaGrindStone/chatstream/internal/config"
	"github.com/MegaGrindStone/chatstream/internal/services"
	"github.com/spf13/cobra"
)

const errLoggerKey = "error"

// app holds the wired components shared by all commands.
type app struct {
	cfg     config.Config
	backend services.Backend
	archive *services.BoltDB
	store   *chat.Store

	logger *slog.Logger
}

type rootFlags struct {
	configPath string
	baseURL    string
	noArchive  bool
}

// run executes the command line and releases the app's resources, whether or not the command
// succeeded.
func run(a *app, args []string) error {
	cmd := newRootCmd(a)
	cmd.SetArgs(args)
	err := cmd.Execute()
	if cerr := a.close(); cerr != nil {
		return errors.Join(err, fmt.Errorf("error closing archive: %w", cerr))
	}
	return err
}

func newRootCmd(a *app) *cobra.Command {
	var flags rootFlags

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with a streaming chat backend",
		Long: `chat talks to a chat backend over HTTP, streams assistant replies as they are
generated and manages server-side conversations.

Run without a subcommand to start an interactive session.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(flags)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runREPL(cmd, a)
		},
	}

	cmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "path to the config file")
	cmd.PersistentFlags().StringVar(&flags.baseURL, "base-url", "", "backend API base URL, overrides the config")
	cmd.PersistentFlags().BoolVar(&flags.noArchive, "no-archive", false, "do not keep local transcript snapshots")

	cmd.AddCommand(
		newListCmd(a),
		newShowCmd(a),
		newSendCmd(a),
		newDeleteCmd(a),
		newPromptCmd(a),
		newExportCmd(a),
		newArchiveCmd(a),
	)

	return cmd
}

func (a *app) init(flags rootFlags) error {
	cfgPath := flags.configPath
	if cfgPath == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return err
		}
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if flags.baseURL != "" {
		cfg.BaseURL = flags.baseURL
	}
	a.cfg = cfg
	a.logger = cfg.Log.Logger(os.Stderr)

	// Streaming responses have no client-side deadline; CRUD calls are bounded per request.
	client := &http.Client{}
	a.backend = services.NewBackend(cfg.BaseURL, client, a.logger)
	session := services.NewSession(a.backend, a.logger)

	var archive chat.Archive
	if !flags.noArchive {
		if err := os.MkdirAll(filepath.Dir(cfg.ArchivePath), 0755); err != nil {
			return fmt.Errorf("error creating archive directory: %w", err)
		}
		db, err := services.NewBoltDB(cfg.ArchivePath)
		if err != nil {
			return err
		}
		a.archive = &db
		archive = db
	}

	a.store = chat.NewStore(a.backend, session, archive, a.logger)
	if cfg.SystemPrompt != "" {
		// No conversation is active yet, so this only sets the local prompt.
		_ = a.store.UpdateSystemPrompt(context.Background(), cfg.SystemPrompt)
	}
	return nil
}

func (a *app) close() error {
	if a.archive == nil {
		return nil
	}
	err := a.archive.Close()
	a.archive = nil
	return err
}

// requestContext bounds a CRUD call by the configured request timeout.
func (a *app) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.cfg.RequestTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, a.cfg.RequestTimeout)
}
