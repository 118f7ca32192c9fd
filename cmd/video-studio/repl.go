// ABOUTME: Line-oriented command loop for the terminal client
// ABOUTME: Slash commands manage conversations; any other line becomes a prompt

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fatih/color"

	"github.com/2389/video-studio/internal/conversation"
	"github.com/2389/video-studio/internal/studio"
)

// session is the part of the studio service the REPL drives.
type session interface {
	CreateConversation() string
	DeleteConversation(id string) bool
	SelectConversation(id string)
	ClearSelection()
	RenameConversation(id, title string) bool
	SendMessage(ctx context.Context, content string) (studio.SendResult, error)
	Reconnect(convID, msgID, taskID string) bool
	Conversations() []*conversation.Conversation
	Active() *conversation.Conversation
	RunningJobs() int
}

type repl struct {
	svc     session
	scanner *bufio.Scanner
	out     io.Writer
}

func newREPL(svc session, in io.Reader, out io.Writer) *repl {
	return &repl{svc: svc, scanner: bufio.NewScanner(in), out: out}
}

// run reads lines until EOF, /quit, or ctx is cancelled.
func (r *repl) run(ctx context.Context) error {
	for {
		fmt.Fprint(r.out, r.prompt())

		inputCh := make(chan string, 1)
		errCh := make(chan error, 1)
		go func() {
			if r.scanner.Scan() {
				inputCh <- r.scanner.Text()
				return
			}
			if err := r.scanner.Err(); err != nil {
				errCh <- err
				return
			}
			errCh <- io.EOF
		}()

		var input string
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("reading input: %w", err)
		case input = <-inputCh:
		}

		if quit := r.handle(ctx, strings.TrimSpace(input)); quit {
			return nil
		}
	}
}

func (r *repl) prompt() string {
	var b strings.Builder
	if active := r.svc.Active(); active != nil {
		fmt.Fprintf(&b, "[%s]", truncate(active.Title, 24))
	}
	if n := r.svc.RunningJobs(); n > 0 {
		fmt.Fprintf(&b, "(%d running)", n)
	}
	b.WriteString("> ")
	return b.String()
}

// handle executes one input line and reports whether the loop should stop.
func (r *repl) handle(ctx context.Context, input string) bool {
	if input == "" {
		return false
	}
	if !strings.HasPrefix(input, "/") {
		r.send(ctx, input)
		return false
	}

	cmd, arg, _ := strings.Cut(input, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "/quit", "/exit", "/q":
		return true
	case "/help":
		r.printHelp()
	case "/new":
		r.svc.CreateConversation()
		fmt.Fprintln(r.out, "Started a new conversation")
	case "/list", "/ls":
		r.list()
	case "/use":
		r.use(arg)
	case "/show":
		r.show()
	case "/rename":
		r.rename(arg)
	case "/delete", "/rm":
		r.delete(arg)
	case "/reconnect":
		r.reconnect()
	default:
		fmt.Fprintf(r.out, "Unknown command %s. Try /help.\n", cmd)
	}
	fmt.Fprintln(r.out)
	return false
}

func (r *repl) send(ctx context.Context, content string) {
	res, err := r.svc.SendMessage(ctx, content)
	if err != nil {
		fmt.Fprintf(r.out, "[error] %v\n\n", err)
		return
	}
	if res.SubmitErr != nil {
		color.New(color.FgRed).Fprintf(r.out, "[failed] %v\n\n", res.SubmitErr)
		return
	}
	color.New(color.FgHiBlack).Fprintf(r.out, "[submitted] task %s\n\n", res.TaskID)
}

func (r *repl) printHelp() {
	fmt.Fprintln(r.out, "Commands:")
	fmt.Fprintln(r.out, "  /new             Start a new conversation")
	fmt.Fprintln(r.out, "  /list            List conversations, newest first")
	fmt.Fprintln(r.out, "  /use <n|id>      Switch to a conversation")
	fmt.Fprintln(r.out, "  /use             Clear the selection")
	fmt.Fprintln(r.out, "  /show            Print the active conversation")
	fmt.Fprintln(r.out, "  /rename <title>  Rename the active conversation")
	fmt.Fprintln(r.out, "  /delete [n|id]   Delete a conversation (default: active)")
	fmt.Fprintln(r.out, "  /reconnect       Resume interrupted jobs in the active conversation")
	fmt.Fprintln(r.out, "  /help            Show this help")
	fmt.Fprintln(r.out, "  /quit            Exit")
	fmt.Fprintln(r.out, "Anything else is sent as a video prompt.")
}

func (r *repl) list() {
	convs := r.svc.Conversations()
	if len(convs) == 0 {
		fmt.Fprintln(r.out, "No conversations yet.")
		return
	}
	activeID := ""
	if active := r.svc.Active(); active != nil {
		activeID = active.ID
	}
	for i, c := range convs {
		marker := " "
		if c.ID == activeID {
			marker = "*"
		}
		fmt.Fprintf(r.out, "%s %2d. %-40s %s  (%d messages)\n",
			marker, i+1, c.Title, shortID(c.ID), len(c.Messages))
	}
}

// resolve finds a conversation by 1-based list position or id prefix.
func (r *repl) resolve(ref string) (*conversation.Conversation, error) {
	convs := r.svc.Conversations()
	if n, err := strconv.Atoi(ref); err == nil {
		if n < 1 || n > len(convs) {
			return nil, fmt.Errorf("no conversation #%d", n)
		}
		return convs[n-1], nil
	}

	var match *conversation.Conversation
	for _, c := range convs {
		if !strings.HasPrefix(c.ID, ref) {
			continue
		}
		if match != nil {
			return nil, fmt.Errorf("%q matches more than one conversation", ref)
		}
		match = c
	}
	if match == nil {
		return nil, fmt.Errorf("no conversation matches %q", ref)
	}
	return match, nil
}

func (r *repl) use(ref string) {
	if ref == "" {
		r.svc.ClearSelection()
		fmt.Fprintln(r.out, "Cleared selection; the next prompt starts a new conversation")
		return
	}
	c, err := r.resolve(ref)
	if err != nil {
		fmt.Fprintf(r.out, "[error] %v\n", err)
		return
	}
	r.svc.SelectConversation(c.ID)
	fmt.Fprintf(r.out, "Now in %q\n", c.Title)
	r.show()
}

func (r *repl) show() {
	active := r.svc.Active()
	if active == nil {
		fmt.Fprintln(r.out, "No conversation selected.")
		return
	}
	color.New(color.Bold).Fprintln(r.out, active.Title)
	for _, m := range active.Messages {
		fmt.Fprintln(r.out, formatMessage(m))
	}
}

func (r *repl) rename(title string) {
	active := r.svc.Active()
	if active == nil {
		fmt.Fprintln(r.out, "No conversation selected.")
		return
	}
	if title == "" {
		fmt.Fprintln(r.out, "Usage: /rename <title>")
		return
	}
	r.svc.RenameConversation(active.ID, title)
	fmt.Fprintf(r.out, "Renamed to %q\n", title)
}

func (r *repl) delete(ref string) {
	var target *conversation.Conversation
	if ref == "" {
		target = r.svc.Active()
		if target == nil {
			fmt.Fprintln(r.out, "No conversation selected.")
			return
		}
	} else {
		c, err := r.resolve(ref)
		if err != nil {
			fmt.Fprintf(r.out, "[error] %v\n", err)
			return
		}
		target = c
	}
	if r.svc.DeleteConversation(target.ID) {
		fmt.Fprintf(r.out, "Deleted %q\n", target.Title)
	}
}

func (r *repl) reconnect() {
	active := r.svc.Active()
	if active == nil {
		fmt.Fprintln(r.out, "No conversation selected.")
		return
	}
	n := 0
	for _, m := range active.Messages {
		if m.Resumable() && r.svc.Reconnect(active.ID, m.ID, "") {
			n++
		}
	}
	if n == 0 {
		fmt.Fprintln(r.out, "Nothing to reconnect.")
		return
	}
	fmt.Fprintf(r.out, "Reconnected %d job(s)\n", n)
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

// truncate shortens a string to maxLen runes, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-3]) + "..."
}
