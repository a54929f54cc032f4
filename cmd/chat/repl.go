package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"
)

var replCommands = []struct {
	usage string
	desc  string
}{
	{"/new", "Start a new conversation"},
	{"/list", "List conversations"},
	{"/load <id>", "Switch to a conversation"},
	{"/delete <id>", "Delete a conversation"},
	{"/prompt [text]", "Show or replace the system prompt"},
	{"/show", "Print the active conversation"},
	{"/help", "Show this help"},
	{"/quit", "Exit"},
}

// repl reads lines with history and line editing, sending plain lines as chat messages.
type repl struct {
	a    *app
	cmd  *cobra.Command
	line *liner.State
}

func runREPL(cmd *cobra.Command, a *app) error {
	r := &repl{
		a:    a,
		cmd:  cmd,
		line: liner.NewLiner(),
	}
	r.line.SetCtrlCAborts(true)
	r.line.SetCompleter(completeCommand)
	r.loadHistory()
	defer func() {
		r.saveHistory()
		r.line.Close()
	}()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	if err := r.a.store.FetchConversations(ctx); err != nil {
		printError(out, err)
	}
	printInfo(out, "Connected to %s. Type /help for commands.", a.cfg.BaseURL)

	for {
		input, err := r.line.Prompt("> ")
		if errors.Is(err, liner.ErrPromptAborted) {
			continue
		}
		if errors.Is(err, io.EOF) {
			fmt.Fprintln(out)
			return nil
		}
		if err != nil {
			return fmt.Errorf("error reading input: %w", err)
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		r.line.AppendHistory(input)

		if !strings.HasPrefix(input, "/") {
			if err := r.a.send(ctx, cmd, input); err != nil {
				printError(out, err)
			}
			continue
		}

		quit, err := r.handleCommand(ctx, input)
		if err != nil {
			printError(out, err)
		}
		if quit {
			return nil
		}
	}
}

func (r *repl) handleCommand(ctx context.Context, input string) (bool, error) {
	name, arg, _ := strings.Cut(input, " ")
	arg = strings.TrimSpace(arg)
	out := r.cmd.OutOrStdout()
	store := r.a.store

	ctx, cancel := r.a.requestContext(ctx)
	defer cancel()

	switch name {
	case "/quit", "/exit", "/q":
		return true, nil
	case "/help", "/h":
		for _, c := range replCommands {
			fmt.Fprintf(out, "  %-16s %s\n", c.usage, c.desc)
		}
	case "/new":
		store.StartNewConversation()
		printInfo(out, "Started a new conversation.")
	case "/list", "/ls":
		if err := store.FetchConversations(ctx); err != nil {
			return false, err
		}
		printConversations(out, store.Snapshot().Conversations, store.Snapshot().ConversationID)
	case "/load":
		if arg == "" {
			return false, errors.New("usage: /load <id>")
		}
		if err := store.LoadConversation(ctx, arg); err != nil {
			return false, err
		}
		printMessages(out, store.Snapshot().Messages)
	case "/delete", "/rm":
		if arg == "" {
			return false, errors.New("usage: /delete <id>")
		}
		if err := store.DeleteConversation(ctx, arg); err != nil {
			return false, err
		}
		printInfo(out, "Deleted %s.", arg)
	case "/prompt":
		if arg == "" {
			if p := store.Snapshot().SystemPrompt; p != "" {
				systemColor.Fprintln(out, p)
			} else {
				printInfo(out, "No system prompt.")
			}
			return false, nil
		}
		if err := store.UpdateSystemPrompt(ctx, arg); err != nil {
			return false, err
		}
		printInfo(out, "System prompt updated.")
	case "/show":
		snap := store.Snapshot()
		if !store.HasMessages() {
			printInfo(out, "No messages yet.")
			return false, nil
		}
		if summary, ok := store.CurrentConversation(); ok {
			printInfo(out, "%s  %s", summary.ID, summary.DisplayTitle())
		}
		printMessages(out, snap.Messages)
	default:
		return false, fmt.Errorf("unknown command %s, type /help", name)
	}
	return false, nil
}

func completeCommand(line string) []string {
	var matches []string
	for _, c := range replCommands {
		name, _, _ := strings.Cut(c.usage, " ")
		if strings.HasPrefix(name, line) {
			matches = append(matches, name)
		}
	}
	return matches
}

func (r *repl) loadHistory() {
	f, err := os.Open(r.a.cfg.HistoryPath)
	if err != nil {
		return
	}
	defer f.Close()
	if _, err := r.line.ReadHistory(f); err != nil {
		r.a.logger.Debug("Failed to read history", "path", r.a.cfg.HistoryPath, errLoggerKey, err)
	}
}

func (r *repl) saveHistory() {
	path := r.a.cfg.HistoryPath
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		r.a.logger.Warn("Failed to create history directory", errLoggerKey, err)
		return
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		r.a.logger.Warn("Failed to save history", errLoggerKey, err)
		return
	}
	defer f.Close()
	if _, err := r.line.WriteHistory(f); err != nil {
		r.a.logger.Warn("Failed to save history", errLoggerKey, err)
	}
}
