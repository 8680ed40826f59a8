// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// repl.go - Interactive planning session for the planweave CLI.
//
// USABILITY: Markdown rendering and history for better CLI experience
//
// Handles the default "planweave" invocation: an interactive REPL that
// chats with the planning assistant about one subject at a time and
// reviews the proposed changes.
//
// Interactive Commands (during a session):
//   /plan               Switch to the project plan conversation
//   /spec               Switch to the tech spec conversation
//   /issues             Switch to the issue list conversation
//   /content ID         Switch to one issue's content conversation
//   /show               Show the current document
//   /diff               Show pending proposed changes
//   /accept [ITEM]      Accept the pending change (or one issue item)
//   /reject [ITEM]      Reject the pending change (or one issue item)
//   /tickets            List the project's tickets (--refresh to refetch)
//   /status ID STATUS   Move a ticket to a new status
//   /history            Show the current conversation
//   /clear              Clear the current conversation
//   /help, /h           Show available commands
//   /quit, /q           Exit
//   Ctrl+C              Cancel the in-flight response
//   Ctrl+D              Exit

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/peterh/liner"

	"github.com/planweave/planweave/internal/chat"
	"github.com/planweave/planweave/internal/config"
	"github.com/planweave/planweave/internal/model"
	"github.com/planweave/planweave/internal/reconcile"
)

// =============================================================================
// INPUT HISTORY
// =============================================================================

// LineReader provides input history and line editing for the REPL.
// USABILITY: Supports arrow keys for history navigation and line editing.
type LineReader struct {
	line        *liner.State
	historyFile string
}

// NewLineReader creates a LineReader with persistent input history.
func NewLineReader() *LineReader {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	configDir, err := config.ConfigDir()
	if err != nil {
		configDir = os.TempDir()
	}

	r := &LineReader{
		line:        line,
		historyFile: filepath.Join(configDir, "chat_history"),
	}
	r.loadHistory()
	return r
}

func (r *LineReader) loadHistory() {
	if f, err := os.Open(r.historyFile); err == nil {
		r.line.ReadHistory(f)
		f.Close()
	}
}

// ReadInput reads a line of input with the given prompt.
func (r *LineReader) ReadInput(prompt string) (string, error) {
	input, err := r.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		r.line.AppendHistory(input)
	}
	return input, nil
}

// SaveHistory persists input history with owner-only permissions.
func (r *LineReader) SaveHistory() {
	if err := config.EnsureConfigDir(); err != nil {
		return
	}
	f, err := os.OpenFile(r.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return
	}
	defer f.Close()
	r.line.WriteHistory(f)
}

// Close saves history and releases the terminal.
func (r *LineReader) Close() {
	r.SaveHistory()
	r.line.Close()
}

// =============================================================================
// SESSION STATE
// =============================================================================

// Session holds the state of one interactive planning session.
type Session struct {
	Client  *chat.Client
	Config  *config.Config
	Input   *LineReader
	Subject model.Kind
	IssueID string
	Quiet   bool

	// useMarkdown gates glamour rendering; deltas stream raw to
	// non-TTY output instead.
	useMarkdown bool
}

// NewSession creates a session on the plan conversation.
func NewSession(client *chat.Client, cfg *config.Config, quiet bool) *Session {
	s := &Session{
		Client:      client,
		Config:      cfg,
		Input:       NewLineReader(),
		Subject:     model.KindPlan,
		Quiet:       quiet,
		useMarkdown: cfg.UI.Markdown && IsStdoutTTY(),
	}

	client.WithNotifier(s.handleNotification)
	return s
}

// handleNotification streams assistant prose to stdout as it arrives.
// With markdown rendering on, output is collected and rendered once
// the exchange settles instead.
func (s *Session) handleNotification(n chat.Notification) {
	if n.Kind == chat.NotifyText && !s.useMarkdown {
		fmt.Print(n.Delta)
	}
}

// =============================================================================
// REPL LOOP
// =============================================================================

// RunSession drives the interactive loop until the user exits.
func RunSession(session *Session) error {
	if err := RequiresTTY("run a planning session"); err != nil {
		return err
	}
	defer session.Input.Close()

	// Exiting discards whatever is still proposed, like any other
	// navigation away.
	defer func() {
		session.Client.Leave(session.Subject, session.IssueID)
	}()

	if !session.Quiet {
		printWelcome(session)
	}

	// First Ctrl+C during a response cancels it; at the prompt liner
	// surfaces it as ErrPromptAborted.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		for range sigChan {
			session.Client.Cancel(session.Subject, session.IssueID)
			fmt.Fprintln(os.Stderr, "\n"+WarningStyle.Render("[Cancelled]"))
		}
	}()

	for {
		input, err := session.Input.ReadInput(PromptStyle.Render(session.promptLabel()))
		if err != nil {
			// Ctrl+C (ErrPromptAborted) or Ctrl+D both exit cleanly.
			fmt.Println()
			return nil
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			shouldContinue, err := handleSlashCommand(session, input)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s %v\n", ErrorStyle.Render("[Error]"), err)
			}
			if !shouldContinue {
				return nil
			}
			continue
		}

		if strings.EqualFold(input, "exit") || strings.EqualFold(input, "quit") {
			return nil
		}

		if err := processMessage(session, input); err != nil {
			fmt.Fprintf(os.Stderr, "%s %v\n", ErrorStyle.Render("[Error]"), err)
		}
	}
}

// promptLabel shows the active subject in the prompt.
func (s *Session) promptLabel() string {
	switch s.Subject {
	case model.KindPlan:
		return "plan> "
	case model.KindTechSpec:
		return "spec> "
	case model.KindIssue:
		return "issues> "
	case model.KindIssueContent:
		return "issue:" + s.IssueID + "> "
	default:
		return "> "
	}
}

func printWelcome(s *Session) {
	fmt.Println(TitleStyle.Render("planweave"))
	fmt.Println(DimStyle.Render("Project " + s.Client.ProjectID() + " | chatting about the plan"))
	fmt.Println(DimStyle.Render("Type /help for commands, /quit to exit."))
	fmt.Println()
}

// =============================================================================
// MESSAGE PROCESSING
// =============================================================================

// processMessage sends one message and waits for the exchange to
// settle, then shows the response and any proposed changes.
func processMessage(s *Session, input string) error {
	ctx := context.Background()

	token, err := s.Client.Send(ctx, s.Subject, s.IssueID, input)
	if err != nil {
		return err
	}

	fmt.Println()
	<-token.Done()

	conv := s.Client.Conversation(s.Subject, s.IssueID)
	if s.useMarkdown {
		if last := conv.LastMessage(); last != nil {
			displayMarkdown(last.Content)
		}
	}
	fmt.Println()

	if s.Config.UI.ShowDiffs {
		showPendingChanges(s)
	}
	return nil
}

// showPendingChanges prints whatever the exchange proposed.
func showPendingChanges(s *Session) {
	if s.Subject == model.KindIssue {
		additions := s.Client.ProposedAdditions()
		removals := s.Client.ProposedRemovals()
		if len(additions) > 0 || len(removals) > 0 {
			fmt.Print(RenderProposedIssueChanges(additions, removals))
			fmt.Println(DimStyle.Render("Use /accept ITEM or /reject ITEM to settle each change."))
		}
		return
	}

	pending := s.Client.PendingDocument(s.Subject, s.IssueID)
	if pending == nil {
		return
	}
	fmt.Println(SectionStyle.Render("Proposed change (" + pending.LineDiff().Summary() + ")"))
	fmt.Println(RenderWordDiff(pending.Diff()))
	fmt.Println(DimStyle.Render("Use /accept to save or /reject to discard."))
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

// handleSlashCommand processes slash commands.
// Returns (shouldContinue, error) where shouldContinue=false means exit.
func handleSlashCommand(s *Session, cmd string) (bool, error) {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return true, nil
	}

	command := strings.ToLower(parts[0])
	args := parts[1:]
	rest := strings.TrimSpace(strings.TrimPrefix(cmd, parts[0]))

	switch command {
	case "/help", "/h", "/?", "/":
		printHelp()
		return true, nil

	case "/plan":
		s.switchSubject(model.KindPlan, "")
		return true, nil

	case "/spec":
		s.switchSubject(model.KindTechSpec, "")
		return true, nil

	case "/issues":
		s.switchSubject(model.KindIssue, "")
		return true, nil

	case "/content":
		if len(args) != 1 {
			return true, fmt.Errorf("usage: /content ISSUE_ID")
		}
		s.switchSubject(model.KindIssueContent, args[0])
		return true, nil

	case "/show":
		return true, showDocument(s)

	case "/diff":
		showPendingChanges(s)
		return true, nil

	case "/accept":
		return true, acceptChange(s, rest)

	case "/reject":
		return true, rejectChange(s, rest)

	case "/tickets":
		return true, showTickets(s, containsFlag(args, "refresh"))

	case "/status":
		if len(args) != 2 {
			return true, fmt.Errorf("usage: /status ISSUE_ID STATUS")
		}
		return true, moveTicket(s, args[0], model.Status(args[1]))

	case "/history":
		printHistory(s)
		return true, nil

	case "/clear":
		if err := s.Client.ClearConversation(s.Subject, s.IssueID); err != nil {
			return true, err
		}
		fmt.Println(SuccessStyle.Render("[Conversation cleared]"))
		return true, nil

	case "/quit", "/q", "/exit":
		return false, nil

	default:
		return true, fmt.Errorf("unknown command: %s (type /help for commands)", command)
	}
}

func containsFlag(args []string, name string) bool {
	for _, a := range args {
		if strings.TrimLeft(a, "-") == name {
			return true
		}
	}
	return false
}

// switchSubject changes the active conversation. Leaving a subject
// discards its open proposal; switching never auto-commits.
func (s *Session) switchSubject(kind model.Kind, issueID string) {
	if s.Subject == kind && s.IssueID == issueID {
		return
	}
	pendingIssues := s.Subject == model.KindIssue && s.Client.HasProposedIssueChanges()
	pendingDoc := s.Subject != model.KindIssue && s.Client.PendingDocument(s.Subject, s.IssueID) != nil
	if pendingDoc || pendingIssues {
		fmt.Println(WarningStyle.Render("[Discarded]") + " " + DimStyle.Render("pending changes for the previous subject"))
	}
	s.Client.Leave(s.Subject, s.IssueID)
	s.Subject = kind
	s.IssueID = issueID
	fmt.Println(DimStyle.Render("Now chatting about: " + s.promptLabel()[:len(s.promptLabel())-2]))
}

func showDocument(s *Session) error {
	if s.Subject == model.KindIssue {
		return showTickets(s, false)
	}
	content, err := s.Client.Document(context.Background(), s.Subject, s.IssueID)
	if err != nil {
		return err
	}
	if content == "" {
		fmt.Println(DimStyle.Render("No document yet. Ask the assistant to draft one."))
		return nil
	}
	displayMarkdown(content)
	fmt.Println()
	return nil
}

// acceptChange accepts the pending document change, or one pending
// issue item when chatting about issues.
func acceptChange(s *Session, item string) error {
	ctx := context.Background()

	if s.Subject == model.KindIssue {
		if item == "" {
			return fmt.Errorf("usage: /accept ITEM (a proposed title or issue id)")
		}
		ticket, err := s.Client.AcceptIssueAddition(ctx, item)
		if err == nil {
			fmt.Println(SuccessStyle.Render("[Created]") + " " + RenderTicketLine(ticket))
			return nil
		}
		if !errors.Is(err, reconcile.ErrItemNotPending) {
			return err
		}
		// Not a pending addition, so try it as a pending removal.
		if err := s.Client.AcceptIssueRemoval(ctx, item); err != nil {
			return err
		}
		fmt.Println(SuccessStyle.Render("[Deleted]") + " issue " + item)
		return nil
	}

	if err := s.Client.AcceptDocument(ctx, s.Subject, s.IssueID); err != nil {
		return err
	}
	fmt.Println(SuccessStyle.Render("[Saved]"))
	return nil
}

// rejectChange discards the pending document change, or one pending
// issue item.
func rejectChange(s *Session, item string) error {
	if s.Subject == model.KindIssue {
		if item == "" {
			return fmt.Errorf("usage: /reject ITEM (a proposed title or issue id)")
		}
		if err := s.Client.RejectIssueAddition(item); err == nil {
			fmt.Println(WarningStyle.Render("[Discarded]") + " + " + item)
			return nil
		} else if !errors.Is(err, reconcile.ErrItemNotPending) {
			return err
		}
		if err := s.Client.RejectIssueRemoval(item); err != nil {
			return err
		}
		fmt.Println(WarningStyle.Render("[Discarded]") + " - " + item)
		return nil
	}

	s.Client.RejectDocument(s.Subject, s.IssueID)
	fmt.Println(WarningStyle.Render("[Discarded]"))
	return nil
}

func showTickets(s *Session, refresh bool) error {
	tickets, err := s.Client.Tickets(context.Background(), refresh)
	if err != nil {
		return err
	}
	fmt.Print(RenderTicketList(tickets))
	return nil
}

func moveTicket(s *Session, issueID string, status model.Status) error {
	tickets, err := s.Client.Tickets(context.Background(), false)
	if err != nil {
		return err
	}
	for i := range tickets {
		if tickets[i].IssueID == issueID {
			if err := s.Client.UpdateTicketStatus(context.Background(), &tickets[i], status); err != nil {
				return err
			}
			fmt.Println(SuccessStyle.Render("[Moved]") + " " + RenderTicketLine(tickets[i]))
			return nil
		}
	}
	return fmt.Errorf("no ticket with issue id %s", issueID)
}

func printHistory(s *Session) {
	conv := s.Client.Conversation(s.Subject, s.IssueID)
	msgs := conv.Snapshot()
	if len(msgs) == 0 {
		fmt.Println(DimStyle.Render("No messages yet."))
		return
	}
	for _, msg := range msgs {
		fmt.Println(SectionStyle.Render(msg.Sender.DisplayName()))
		fmt.Println(msg.Content)
		fmt.Println()
	}
}

func printHelp() {
	fmt.Println(SectionStyle.Render("Commands"))
	help := [][2]string{
		{"/plan", "chat about the project plan"},
		{"/spec", "chat about the tech spec"},
		{"/issues", "chat about the issue list"},
		{"/content ID", "chat about one issue's content"},
		{"/show", "show the current document"},
		{"/diff", "show pending proposed changes"},
		{"/accept [ITEM]", "accept the pending change"},
		{"/reject [ITEM]", "reject the pending change"},
		{"/tickets [--refresh]", "list the project's tickets"},
		{"/status ID STATUS", "move a ticket (todo, in-progress, review, done)"},
		{"/history", "show the current conversation"},
		{"/clear", "clear the current conversation"},
		{"/quit", "exit"},
	}
	for _, h := range help {
		fmt.Printf("  %-22s %s\n", h[0], DimStyle.Render(h[1]))
	}
}
