package main

import (
	"fmt"
	"io"
	"time"

	"github.com/MegaGrindStone/chatstream/internal/chat"
	"github.com/MegaGrindStone/chatstream/internal/models"
	"github.com/fatih/color"
)

var (
	userColor      = color.New(color.FgCyan, color.Bold)
	assistantColor = color.New(color.FgGreen, color.Bold)
	systemColor    = color.New(color.FgMagenta)
	infoColor      = color.New(color.FgYellow)
	errorColor     = color.New(color.FgRed, color.Bold)
	dimColor       = color.New(color.Faint)
)

func printError(w io.Writer, err error) {
	errorColor.Fprint(w, "[Error] ")
	fmt.Fprintln(w, err)
}

func printInfo(w io.Writer, format string, args ...any) {
	infoColor.Fprintf(w, format+"\n", args...)
}

func roleColor(role models.Role) *color.Color {
	switch role {
	case models.RoleUser:
		return userColor
	case models.RoleAssistant:
		return assistantColor
	default:
		return systemColor
	}
}

func printMessages(w io.Writer, messages []models.Message) {
	for _, msg := range messages {
		roleColor(msg.Role).Fprintf(w, "%s", msg.Role)
		dimColor.Fprintf(w, " %s\n", msg.Timestamp.Local().Format(time.DateTime))
		fmt.Fprintln(w, msg.Content)
		fmt.Fprintln(w)
	}
}

func printConversations(w io.Writer, convs []models.ConversationSummary, activeID string) {
	if len(convs) == 0 {
		printInfo(w, "No conversations.")
		return
	}
	for _, c := range convs {
		marker := " "
		if c.ID == activeID {
			marker = "*"
		}
		fmt.Fprintf(w, "%s %s  %s", marker, c.ID, c.DisplayTitle())
		if !c.UpdatedAt.IsZero() {
			dimColor.Fprintf(w, "  (%s)", c.UpdatedAt.Local().Format(time.DateTime))
		}
		fmt.Fprintln(w)
	}
}

// streamPrinter writes assistant content to w as it streams into the Store.
type streamPrinter struct {
	w       io.Writer
	printed int
	started bool

	stop chan struct{}
	done chan struct{}
}

// watchStream starts printing the streaming text of store. The returned printer must be finished with
// the Store's final snapshot once the send returns.
func watchStream(w io.Writer, store *chat.Store) *streamPrinter {
	p := &streamPrinter{
		w:    w,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	updates, cancel := store.Subscribe()

	go func() {
		defer close(p.done)
		defer cancel()
		for {
			select {
			case <-p.stop:
				return
			case snap := <-updates:
				if snap.IsStreaming {
					p.write(snap.StreamingText)
				}
			}
		}
	}()

	return p
}

func (p *streamPrinter) write(text string) {
	if len(text) <= p.printed {
		return
	}
	if !p.started {
		assistantColor.Fprint(p.w, "assistant> ")
		p.started = true
	}
	fmt.Fprint(p.w, text[p.printed:])
	p.printed = len(text)
}

// finish stops watching and prints whatever part of the final reply was not shown yet. Snapshots may be
// skipped by the subscription, so the settled history is the source of truth. sent reports whether the
// send completed.
func (p *streamPrinter) finish(final chat.Snapshot, sent bool) {
	close(p.stop)
	<-p.done

	if sent && len(final.Messages) > 0 {
		last := final.Messages[len(final.Messages)-1]
		if last.Role == models.RoleAssistant {
			p.write(last.Content)
		}
	}
	if p.started {
		fmt.Fprintln(p.w)
	}
}
