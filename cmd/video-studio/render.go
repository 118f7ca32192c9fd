// ABOUTME: Prints live job progress from repository change notifications
// ABOUTME: Only assistant message updates and restores are shown

package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/2389/video-studio/internal/conversation"
)

type changeSource interface {
	Changes(ctx context.Context, conversationID string) (<-chan conversation.Change, string)
}

// render prints assistant message updates until ctx is done.
func render(ctx context.Context, src changeSource, out io.Writer) {
	changes, _ := src.Changes(ctx, "")
	last := make(map[string]string)

	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-changes:
			if !ok {
				return
			}
			if line := describeChange(change, last); line != "" {
				fmt.Fprintln(out, line)
			}
		}
	}
}

// describeChange renders one change, or returns "" when nothing new is
// visible. last tracks the previous line per message so repeated patches
// with identical content stay quiet.
func describeChange(change conversation.Change, last map[string]string) string {
	if change.Kind != conversation.ChangeUpdated || change.Active == nil {
		return ""
	}
	if change.ConversationID != change.Active.ID {
		return ""
	}

	for _, m := range change.Active.Messages {
		if m.ID != change.MessageID || m.Role != conversation.RoleAssistant {
			continue
		}
		line := formatMessage(m)
		if last[m.ID] == line {
			return ""
		}
		last[m.ID] = line
		return line
	}
	return ""
}

// formatMessage renders a message as a single terminal line.
func formatMessage(m conversation.Message) string {
	if m.Role == conversation.RoleUser {
		return color.New(color.FgCyan).Sprint("you: ") + m.Content
	}

	var b strings.Builder
	switch {
	case m.Interrupted:
		b.WriteString(color.New(color.FgYellow).Sprint("[interrupted] "))
	case m.Status == conversation.StatusCompleted:
		b.WriteString(color.New(color.FgGreen).Sprint("[done] "))
	case m.Status == conversation.StatusFailed:
		b.WriteString(color.New(color.FgRed).Sprint("[failed] "))
	default:
		progress := 0
		if m.Progress != nil {
			progress = *m.Progress
		}
		b.WriteString(color.New(color.FgHiBlack).Sprintf("[%3d%%] ", progress))
	}

	b.WriteString(m.Content)
	if m.VideoURL != "" {
		fmt.Fprintf(&b, "\n       video: %s", m.VideoURL)
	}
	if m.ThumbnailURL != "" {
		fmt.Fprintf(&b, "\n       thumbnail: %s", m.ThumbnailURL)
	}
	return b.String()
}
