package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/MegaGrindStone/chatstream/internal/models"
	"github.com/spf13/cobra"
)

func newListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List conversations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := a.requestContext(cmd.Context())
			defer cancel()

			if err := a.store.FetchConversations(ctx); err != nil {
				return err
			}
			printConversations(cmd.OutOrStdout(), a.store.Snapshot().Conversations, "")
			return nil
		},
	}
}

func newShowCmd(a *app) *cobra.Command {
	var offline bool

	cmd := &cobra.Command{
		Use:   "show <conversation-id>",
		Short: "Print a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conv, err := a.conversation(cmd.Context(), args[0], offline)
			if err != nil {
				return err
			}
			if conv.SystemPrompt != "" {
				systemColor.Fprintf(cmd.OutOrStdout(), "system prompt: %s\n\n", conv.SystemPrompt)
			}
			printMessages(cmd.OutOrStdout(), conv.Messages)
			return nil
		},
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "read the local archive instead of the backend")
	return cmd
}

func newSendCmd(a *app) *cobra.Command {
	var (
		conversationID string
		systemPrompt   string
	)

	cmd := &cobra.Command{
		Use:   "send <message>...",
		Short: "Send a message and stream the reply",
		Long: `Send a message and stream the reply. Without --conversation a new conversation
is started and its ID is printed once the backend assigns it.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if conversationID != "" {
				loadCtx, cancel := a.requestContext(ctx)
				err := a.store.LoadConversation(loadCtx, conversationID)
				cancel()
				if err != nil {
					return err
				}
			}
			if cmd.Flags().Changed("system-prompt") {
				if err := a.store.UpdateSystemPrompt(ctx, systemPrompt); err != nil {
					printError(cmd.ErrOrStderr(), err)
				}
			}

			if err := a.send(ctx, cmd, strings.Join(args, " ")); err != nil {
				return err
			}
			if conversationID == "" {
				printInfo(cmd.ErrOrStderr(), "conversation: %s", a.store.Snapshot().ConversationID)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&conversationID, "conversation", "c", "", "continue the conversation with this ID")
	cmd.Flags().StringVarP(&systemPrompt, "system-prompt", "s", "", "system prompt for this conversation")
	return cmd
}

func newDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <conversation-id>...",
		Short: "Delete conversations",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, id := range args {
				ctx, cancel := a.requestContext(cmd.Context())
				err := a.store.DeleteConversation(ctx, id)
				cancel()
				if err != nil {
					return err
				}
				printInfo(cmd.OutOrStdout(), "deleted %s", id)
			}
			return nil
		},
	}
}

func newPromptCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "prompt <conversation-id> <system-prompt>",
		Short: "Replace the system prompt of a conversation",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.requestContext(cmd.Context())
			defer cancel()

			if err := a.store.LoadConversation(ctx, args[0]); err != nil {
				return err
			}
			return a.store.UpdateSystemPrompt(ctx, strings.Join(args[1:], " "))
		},
	}
}

func newExportCmd(a *app) *cobra.Command {
	var (
		output  string
		format  string
		offline bool
	)

	cmd := &cobra.Command{
		Use:   "export <conversation-id>",
		Short: "Export a conversation transcript as HTML or text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conv, err := a.conversation(cmd.Context(), args[0], offline)
			if err != nil {
				return err
			}

			var out string
			switch format {
			case "html":
				out, err = models.RenderHTML(conv)
				if err != nil {
					return err
				}
			case "text":
				out = models.RenderText(conv.Messages)
			default:
				return fmt.Errorf("unknown format %q, want html or text", format)
			}

			if output == "" || output == "-" {
				_, err = fmt.Fprint(cmd.OutOrStdout(), out)
				return err
			}
			if err := os.WriteFile(output, []byte(out), 0644); err != nil {
				return fmt.Errorf("error writing export: %w", err)
			}
			printInfo(cmd.ErrOrStderr(), "wrote %s", output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file, stdout if empty")
	cmd.Flags().StringVarP(&format, "format", "f", "html", "html or text")
	cmd.Flags().BoolVar(&offline, "offline", false, "read the local archive instead of the backend")
	return cmd
}

func newArchiveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "archive",
		Short: "List conversations kept in the local archive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.archive == nil {
				return fmt.Errorf("archive is disabled")
			}
			convs, err := a.archive.Conversations(cmd.Context())
			if err != nil {
				return err
			}
			printConversations(cmd.OutOrStdout(), convs, "")
			return nil
		},
	}
}

// conversation fetches a conversation from the backend, or from the archive when offline is set.
func (a *app) conversation(ctx context.Context, id string, offline bool) (models.Conversation, error) {
	if offline {
		if a.archive == nil {
			return models.Conversation{}, fmt.Errorf("archive is disabled")
		}
		conv, found, err := a.archive.Conversation(ctx, id)
		if err != nil {
			return models.Conversation{}, err
		}
		if !found {
			return models.Conversation{}, fmt.Errorf("conversation %s is not archived", id)
		}
		return conv, nil
	}

	ctx, cancel := a.requestContext(ctx)
	defer cancel()

	if err := a.store.LoadConversation(ctx, id); err != nil {
		return models.Conversation{}, err
	}
	snap := a.store.Snapshot()
	conv := models.Conversation{
		ID:           snap.ConversationID,
		Messages:     snap.Messages,
		SystemPrompt: snap.SystemPrompt,
	}
	if summary, ok := a.store.CurrentConversation(); ok {
		conv.Title = summary.Title
	}
	return conv, nil
}

// send streams one message to stdout. An interrupt cancels the in-flight reply.
func (a *app) send(ctx context.Context, cmd *cobra.Command, content string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	userColor.Fprint(cmd.OutOrStdout(), "you> ")
	fmt.Fprintln(cmd.OutOrStdout(), content)

	printer := watchStream(cmd.OutOrStdout(), a.store)
	err := a.store.SendMessage(ctx, content)
	printer.finish(a.store.Snapshot(), err == nil)
	return err
}
