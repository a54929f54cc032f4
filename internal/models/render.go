package models

import (
	"bytes"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting"
	"github.com/yuin/goldmark/extension"
)

var markdown = goldmark.New(
	goldmark.WithExtensions(
		extension.GFM,
		highlighting.NewHighlighting(
			highlighting.WithStyle("github"),
		),
	),
)

// RenderText renders messages as a plain text transcript, one block per message, headed by the role
// and the message timestamp.
func RenderText(messages []Message) string {
	var sb strings.Builder
	for i, msg := range messages {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "[%s] %s\n", msg.Role, msg.Timestamp.Format(time.RFC3339))
		sb.WriteString(msg.Content)
		sb.WriteString("\n")
	}
	return sb.String()
}

// RenderHTML renders a conversation as a standalone HTML document. Message contents are treated as
// Markdown, code blocks are syntax highlighted.
func RenderHTML(conv Conversation) (string, error) {
	title := conv.Title
	if title == "" {
		title = conv.ID
	}

	var sb strings.Builder
	sb.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n")
	fmt.Fprintf(&sb, "<title>%s</title>\n", html.EscapeString(title))
	sb.WriteString("</head>\n<body>\n")
	fmt.Fprintf(&sb, "<h1>%s</h1>\n", html.EscapeString(title))
	if conv.SystemPrompt != "" {
		fmt.Fprintf(&sb, "<blockquote class=\"system-prompt\">%s</blockquote>\n",
			html.EscapeString(conv.SystemPrompt))
	}

	for _, msg := range conv.Messages {
		var buf bytes.Buffer
		if err := markdown.Convert([]byte(msg.Content), &buf); err != nil {
			return "", fmt.Errorf("failed to convert message content: %w", err)
		}
		fmt.Fprintf(&sb, "<section class=\"message %s\">\n", html.EscapeString(string(msg.Role)))
		fmt.Fprintf(&sb, "<header>%s <time>%s</time></header>\n",
			html.EscapeString(string(msg.Role)), msg.Timestamp.Format(time.RFC3339))
		sb.Write(buf.Bytes())
		sb.WriteString("</section>\n")
	}

	sb.WriteString("</body>\n</html>\n")
	return sb.String(), nil
}
