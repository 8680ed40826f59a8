// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// cli.go - Command-line interface for planweave.
//
// CLI: Argument parsing and command dispatch
//
// Commands:
//   planweave                      Interactive planning session (default)
//   planweave ask MESSAGE          One-shot question about the plan
//   planweave show SUBJECT [ID]    Print a document (plan, spec, content ID)
//   planweave tickets [list]       List the project's tickets
//   planweave tickets status ID S  Move a ticket to status S
//   planweave watch [DIR]          Sync local draft documents to the backend
//   planweave config               Show effective configuration
//   planweave version              Show version
//   planweave help                 Show help
//
// Global flags:
//   --url URL         Backend base URL (overrides config)
//   --project ID      Project to operate on (overrides config)
//   --github          Use GitHub-mirrored issue endpoints
//   --config PATH     Load configuration from PATH
//   --no-markdown     Disable markdown rendering
//   --quiet, -q       Suppress non-essential output

package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/time/rate"

	"github.com/planweave/planweave/internal/api"
	"github.com/planweave/planweave/internal/chat"
	"github.com/planweave/planweave/internal/config"
	"github.com/planweave/planweave/internal/model"
	"github.com/planweave/planweave/internal/storage"
)

// Version is set at build time via -ldflags.
var Version = "dev"

// =============================================================================
// GLOBAL FLAGS
// =============================================================================

// GlobalFlags holds flags that apply to every command.
type GlobalFlags struct {
	URL        string
	Project    string
	GitHub     bool
	ConfigPath string
	NoMarkdown bool
	Quiet      bool
}

// parseGlobalFlags extracts global flags, returning the remaining args.
func parseGlobalFlags(args []string) (GlobalFlags, []string, error) {
	var flags GlobalFlags
	var rest []string

	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--url" || arg == "--project" || arg == "--config":
			if i+1 >= len(args) {
				return flags, nil, fmt.Errorf("%s requires a value", arg)
			}
			i++
			switch arg {
			case "--url":
				flags.URL = args[i]
			case "--project":
				flags.Project = args[i]
			case "--config":
				flags.ConfigPath = args[i]
			}
		case strings.HasPrefix(arg, "--url="):
			flags.URL = strings.TrimPrefix(arg, "--url=")
		case strings.HasPrefix(arg, "--project="):
			flags.Project = strings.TrimPrefix(arg, "--project=")
		case strings.HasPrefix(arg, "--config="):
			flags.ConfigPath = strings.TrimPrefix(arg, "--config=")
		case arg == "--github":
			flags.GitHub = true
		case arg == "--no-markdown":
			flags.NoMarkdown = true
		case arg == "--quiet" || arg == "-q":
			flags.Quiet = true
		default:
			rest = append(rest, arg)
		}
	}
	return flags, rest, nil
}

// =============================================================================
// DISPATCH
// =============================================================================

// Run parses args (without the program name) and executes the selected
// command. Returns a process exit code.
func Run(args []string) int {
	flags, rest, err := parseGlobalFlags(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", ErrorStyle.Render("[Error]"), err)
		return 1
	}

	command := ""
	if len(rest) > 0 {
		command = strings.ToLower(rest[0])
	}

	switch command {
	case "version", "--version", "-v":
		fmt.Println("planweave " + Version)
		return 0
	case "help", "--help", "-h":
		printUsage()
		return 0
	}

	cfg, err := loadConfig(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", ErrorStyle.Render("[Error]"), err)
		return 1
	}

	if command == "config" {
		return handleConfig(cfg)
	}

	client, cleanup, err := buildClient(cfg, flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", ErrorStyle.Render("[Error]"), err)
		return 1
	}
	defer cleanup()

	switch command {
	case "":
		return handleSession(client, cfg, flags)
	case "ask":
		return handleAsk(client, cfg, flags, rest[1:])
	case "show":
		return handleShow(client, rest[1:])
	case "tickets":
		return handleTickets(client, rest[1:])
	case "watch":
		return handleWatch(client, rest[1:])
	default:
		fmt.Fprintf(os.Stderr, "%s unknown command: %s\n", ErrorStyle.Render("[Error]"), command)
		printUsage()
		return 1
	}
}

// loadConfig layers flag overrides on top of file + env configuration.
func loadConfig(flags GlobalFlags) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if flags.ConfigPath != "" {
		cfg, err = config.LoadFromPath(flags.ConfigPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	if flags.URL != "" {
		cfg.Server.BaseURL = flags.URL
	}
	if flags.Project != "" {
		cfg.Project.ID = flags.Project
	}
	if flags.GitHub {
		cfg.Project.GitHub = true
	}
	if flags.NoMarkdown {
		cfg.UI.Markdown = false
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// buildClient assembles the chat client and its local stores. The
// returned cleanup closes the ticket cache.
func buildClient(cfg *config.Config, flags GlobalFlags) (*chat.Client, func(), error) {
	if cfg.Project.ID == "" {
		return nil, nil, fmt.Errorf("no project configured (set --project or project.id in config)")
	}

	burst := int(cfg.Server.RateLimit) * 2
	if burst < 1 {
		burst = 1
	}
	apiClient := api.NewClient(cfg.Server.BaseURL).
		WithMaxRetries(cfg.Server.MaxRetries).
		WithRateLimit(rate.Limit(cfg.Server.RateLimit), burst).
		WithIdleTimeout(cfg.Stream.IdleTimeout())
	if timeout := cfg.Server.Timeout(); timeout > 0 && timeout != api.DefaultTimeout {
		apiClient.WithHTTPClient(&http.Client{Timeout: timeout})
	}

	client := chat.New(apiClient, cfg.Project.ID).
		WithGitHub(cfg.Project.GitHub)

	cleanup := func() {}

	// Local persistence degrades gracefully: a missing config dir
	// still leaves the client fully functional online.
	if store, err := storage.NewConversationStore(); err == nil {
		client.WithStore(store)
	} else if !flags.Quiet {
		fmt.Fprintln(os.Stderr, WarningStyle.Render("[Warning]")+" conversation history disabled: "+err.Error())
	}
	if cachePath, err := storage.DefaultTicketCachePath(); err == nil {
		if cache, err := storage.OpenTicketCache(cachePath); err == nil {
			client.WithCache(cache)
			cleanup = func() { cache.Close() }
		} else if !flags.Quiet {
			fmt.Fprintln(os.Stderr, WarningStyle.Render("[Warning]")+" ticket cache disabled: "+err.Error())
		}
	}

	return client, cleanup, nil
}

// =============================================================================
// COMMANDS
// =============================================================================

func handleSession(client *chat.Client, cfg *config.Config, flags GlobalFlags) int {
	if err := RunSession(NewSession(client, cfg, flags.Quiet)); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", ErrorStyle.Render("[Error]"), err)
		return 1
	}
	return 0
}

// handleAsk sends one plan question and prints the settled response.
func handleAsk(client *chat.Client, cfg *config.Config, flags GlobalFlags, args []string) int {
	parser := NewArgParser(args)
	message := JoinPositionalArgs(parser, 0)
	if message == "" {
		fmt.Fprintln(os.Stderr, ErrorStyle.Render("[Error]")+" usage: planweave ask MESSAGE")
		return 1
	}

	subject := model.KindPlan
	if parser.BoolFlag("spec") {
		subject = model.KindTechSpec
	}

	token, err := client.Send(context.Background(), subject, "", message)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", ErrorStyle.Render("[Error]"), err)
		return 1
	}
	<-token.Done()

	last := client.Conversation(subject, "").LastMessage()
	if last == nil {
		return 1
	}
	if cfg.UI.Markdown && IsStdoutTTY() {
		displayMarkdown(last.Content)
	} else {
		fmt.Println(last.Content)
	}

	if pending := client.PendingDocument(subject, ""); pending != nil && !flags.Quiet {
		fmt.Fprintln(os.Stderr, DimStyle.Render("A document change is proposed ("+pending.LineDiff().Summary()+"). Run an interactive session to review it."))
	}
	return 0
}

// handleShow prints one document to stdout.
func handleShow(client *chat.Client, args []string) int {
	parser := NewArgParser(args)
	var kind model.Kind
	issueID := ""

	switch parser.Positional(0) {
	case "plan":
		kind = model.KindPlan
	case "spec", "tech-spec":
		kind = model.KindTechSpec
	case "content":
		kind = model.KindIssueContent
		issueID = parser.Positional(1)
		if issueID == "" {
			fmt.Fprintln(os.Stderr, ErrorStyle.Render("[Error]")+" usage: planweave show content ISSUE_ID")
			return 1
		}
	default:
		fmt.Fprintln(os.Stderr, ErrorStyle.Render("[Error]")+" usage: planweave show plan|spec|content ID")
		return 1
	}

	content, err := client.Document(context.Background(), kind, issueID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", ErrorStyle.Render("[Error]"), err)
		return 1
	}
	fmt.Print(content)
	if content != "" && !strings.HasSuffix(content, "\n") {
		fmt.Println()
	}
	return 0
}

// handleTickets lists tickets or moves one to a new status.
func handleTickets(client *chat.Client, args []string) int {
	parser := NewArgParser(args)
	ctx := context.Background()

	if parser.Positional(0) == "status" {
		issueID := parser.Positional(1)
		status := model.Status(parser.Positional(2))
		if issueID == "" || status == "" {
			fmt.Fprintln(os.Stderr, ErrorStyle.Render("[Error]")+" usage: planweave tickets status ISSUE_ID STATUS")
			return 1
		}
		tickets, err := client.Tickets(ctx, false)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s %v\n", ErrorStyle.Render("[Error]"), err)
			return 1
		}
		for i := range tickets {
			if tickets[i].IssueID == issueID {
				if err := client.UpdateTicketStatus(ctx, &tickets[i], status); err != nil {
					fmt.Fprintf(os.Stderr, "%s %v\n", ErrorStyle.Render("[Error]"), err)
					return 1
				}
				fmt.Println(RenderTicketLine(tickets[i]))
				return 0
			}
		}
		fmt.Fprintf(os.Stderr, "%s no ticket with issue id %s\n", ErrorStyle.Render("[Error]"), issueID)
		return 1
	}

	tickets, err := client.Tickets(ctx, parser.BoolFlag("refresh"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", ErrorStyle.Render("[Error]"), err)
		return 1
	}

	if status := parser.Flag("status"); status != "" {
		filtered := tickets[:0]
		for _, t := range tickets {
			if string(t.Status) == status {
				filtered = append(filtered, t)
			}
		}
		tickets = filtered
	}

	fmt.Print(RenderTicketList(tickets))
	return 0
}

// handleWatch syncs local draft markdown files to the backend as they
// change. plan.md and tech-spec.md in the watched directory map to the
// corresponding documents.
func handleWatch(client *chat.Client, args []string) int {
	parser := NewArgParser(args)
	dir := parser.Positional(0)
	if dir == "" {
		configDir, err := config.ConfigDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s %v\n", ErrorStyle.Render("[Error]"), err)
			return 1
		}
		dir = filepath.Join(configDir, "drafts")
	}

	watcher, err := storage.NewDraftWatcher(dir, storage.DefaultDebounce, func(change storage.DraftChange) {
		kind, ok := draftKind(change.Path)
		if !ok || change.Removed {
			return
		}
		data, err := os.ReadFile(change.Path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s %v\n", WarningStyle.Render("[Warning]"), err)
			return
		}
		if err := client.SaveDocument(context.Background(), kind, "", string(data)); err != nil {
			fmt.Fprintf(os.Stderr, "%s %v\n", ErrorStyle.Render("[Error]"), err)
			return
		}
		fmt.Println(SuccessStyle.Render("[Synced]") + " " + filepath.Base(change.Path))
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", ErrorStyle.Render("[Error]"), err)
		return 1
	}
	defer watcher.Close()

	if err := watcher.Watch(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", ErrorStyle.Render("[Error]"), err)
		return 1
	}

	fmt.Println(DimStyle.Render("Watching " + dir + " (plan.md, tech-spec.md). Ctrl+C to stop."))
	select {}
}

// draftKind maps a draft filename to its document subject.
func draftKind(path string) (model.Kind, bool) {
	switch filepath.Base(path) {
	case "plan.md":
		return model.KindPlan, true
	case "tech-spec.md", "spec.md":
		return model.KindTechSpec, true
	default:
		return "", false
	}
}

// handleConfig prints the effective configuration.
func handleConfig(cfg *config.Config) int {
	fmt.Println(SectionStyle.Render("Configuration"))
	fmt.Printf("  %-16s %s\n", "server.url", cfg.Server.BaseURL)
	fmt.Printf("  %-16s %d\n", "server.timeout", cfg.Server.TimeoutSecs)
	fmt.Printf("  %-16s %d\n", "server.retries", cfg.Server.MaxRetries)
	fmt.Printf("  %-16s %s\n", "project.id", cfg.Project.ID)
	fmt.Printf("  %-16s %v\n", "project.github", cfg.Project.GitHub)
	fmt.Printf("  %-16s %d\n", "stream.idle", cfg.Stream.IdleTimeoutSecs)
	fmt.Printf("  %-16s %s\n", "ui.theme", cfg.UI.Theme)
	fmt.Printf("  %-16s %v\n", "ui.markdown", cfg.UI.Markdown)
	return 0
}

func printUsage() {
	fmt.Println(TitleStyle.Render("planweave") + " - chat-driven project planning")
	fmt.Println()
	fmt.Println(SectionStyle.Render("Usage"))
	fmt.Println("  planweave [flags]                 interactive planning session")
	fmt.Println("  planweave ask [--spec] MESSAGE    one-shot question")
	fmt.Println("  planweave show plan|spec|content ID")
	fmt.Println("  planweave tickets [--refresh] [--status S]")
	fmt.Println("  planweave tickets status ISSUE_ID STATUS")
	fmt.Println("  planweave watch [DIR]             sync local drafts to the backend")
	fmt.Println("  planweave config                  show effective configuration")
	fmt.Println("  planweave version")
	fmt.Println()
	fmt.Println(SectionStyle.Render("Flags"))
	fmt.Println("  --url URL        backend base URL")
	fmt.Println("  --project ID     project to operate on")
	fmt.Println("  --github         use GitHub-mirrored issue endpoints")
	fmt.Println("  --config PATH    configuration file")
	fmt.Println("  --no-markdown    disable markdown rendering")
	fmt.Println("  --quiet, -q      suppress non-essential output")
}
