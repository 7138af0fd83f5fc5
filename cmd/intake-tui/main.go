// ABOUTME: Terminal inbox client for the intake gateway operator API
// ABOUTME: Live WebSocket stream with readline-style commands and JWT auth

package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/Courtneyezra/handyservices-gateway/internal/funnel"
	"github.com/Courtneyezra/handyservices-gateway/internal/inbox"
	"github.com/Courtneyezra/handyservices-gateway/internal/wire"
)

// getToken returns the JWT token from INTAKE_TOKEN env var or
// ~/.config/intake/token file.
func getToken() string {
	if token := os.Getenv("INTAKE_TOKEN"); token != "" {
		return token
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	tokenPath := filepath.Join(configDir, "intake", "token")
	data, err := os.ReadFile(tokenPath)
	if err != nil {
		return ""
	}

	return strings.TrimSpace(string(data))
}

func main() {
	server := flag.String("server", "http://localhost:8080", "Gateway server URL")
	flag.Parse()

	token := getToken()

	fmt.Printf("intake-tui connected to %s\n", *server)
	if token != "" {
		fmt.Println("Auth: JWT token configured (INTAKE_TOKEN)")
	} else {
		fmt.Println("Auth: none (set INTAKE_TOKEN or run intake-gateway token)")
	}
	fmt.Println("Type /help for commands. Ctrl+C to quit.")
	fmt.Println()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *server, token); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("\nGoodbye!")
}

func run(ctx context.Context, server, token string) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	wsURL := "ws" + strings.TrimPrefix(server, "http") + "/ws"
	dialer := &inbox.WebSocketDialer{URL: wsURL, Token: token, Logger: logger}
	api := inbox.NewAPIClient(server, token)

	view := &liveView{}
	ctrl := inbox.NewController(dialer, api, logger, view.onChange)

	runErr := make(chan error, 1)
	go func() {
		runErr <- ctrl.Run(ctx)
	}()

	scanner := bufio.NewScanner(os.Stdin)
	query := ""
	var listed []wire.Conversation

	for {
		printPrompt(ctrl.State())

		inputCh := make(chan string, 1)
		errCh := make(chan error, 1)

		go func() {
			if scanner.Scan() {
				inputCh <- scanner.Text()
			} else {
				if err := scanner.Err(); err != nil {
					errCh <- err
				} else {
					errCh <- io.EOF
				}
			}
		}()

		var input string
		select {
		case <-ctx.Done():
			return nil
		case err := <-runErr:
			return err
		case err := <-errCh:
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("reading input: %w", err)
		case input = <-inputCh:
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		if input == "/quit" || input == "/exit" || input == "/q" {
			return nil
		}

		switch {
		case input == "/help":
			printHelp()
			fmt.Println()

		case input == "/list":
			query = ""
			listed = ctrl.Visible("")
			printConversations(listed)
			fmt.Println()

		case strings.HasPrefix(input, "/search"):
			query = strings.TrimSpace(strings.TrimPrefix(input, "/search"))
			listed = ctrl.Visible(query)
			printConversations(listed)
			fmt.Println()

		case strings.HasPrefix(input, "/open"):
			arg := strings.TrimSpace(strings.TrimPrefix(input, "/open"))
			if arg == "" {
				fmt.Println("Usage: /open <number|conversation-id>")
				fmt.Println()
				continue
			}
			id := resolveConversation(arg, listed, ctrl.Visible(query))
			if err := ctrl.Select(ctx, id); err != nil {
				fmt.Printf("[error] %v\n", err)
				fmt.Println()
				continue
			}
			view.setSelected(id)
			waitForHistory(ctx, ctrl)
			printConversationView(ctrl.State())
			fmt.Println()

		case strings.HasPrefix(input, "/stage"):
			arg := strings.TrimSpace(strings.TrimPrefix(input, "/stage"))
			state := ctrl.State()
			if state.SelectedID == "" {
				fmt.Println("No conversation open. Use /open first.")
				fmt.Println()
				continue
			}
			stage, err := funnel.ParseStage(arg)
			if err != nil {
				fmt.Printf("[error] %v (stages: new_lead qualifying quoted booked completed closed)\n", err)
				fmt.Println()
				continue
			}
			if err := api.SetStage(ctx, state.SelectedID, stage); err != nil {
				fmt.Printf("[error] %v\n", err)
			} else {
				fmt.Printf("Stage set to %s\n", stage)
			}
			fmt.Println()

		case strings.HasPrefix(input, "/"):
			fmt.Printf("Unknown command: %s (try /help)\n", input)
			fmt.Println()

		default:
			state := ctrl.State()
			if state.SelectedID == "" {
				fmt.Println("No conversation open. Use /open first.")
				fmt.Println()
				continue
			}
			if err := ctrl.Send(ctx, state.SelectedID, input); err != nil {
				fmt.Printf("[error] %v\n", err)
				fmt.Println()
			}
		}
	}
}

// printHelp displays available commands.
func printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  /list          List conversations, newest activity first")
	fmt.Println("  /search <q>    Filter conversations by name or number")
	fmt.Println("  /open <n|id>   Open a conversation and load its history")
	fmt.Println("  /stage <s>     Move the open conversation to a funnel stage")
	fmt.Println("  /help          Show this help")
	fmt.Println("  /quit          Exit the TUI")
	fmt.Println()
	fmt.Println("Any other input is sent as a message to the open conversation.")
}

func printPrompt(s inbox.State) {
	switch s.Conn {
	case inbox.ConnConnected:
	case inbox.ConnConnecting:
		color.New(color.FgYellow).Print("[connecting] ")
	default:
		color.New(color.FgRed).Print("[offline] ")
	}

	if s.SelectedID != "" {
		if c, ok := s.Selected(); ok {
			fmt.Printf("[%s]> ", c.Label())
			return
		}
		fmt.Printf("[%s]> ", s.SelectedID)
		return
	}
	fmt.Print("> ")
}

func printConversations(convs []wire.Conversation) {
	if len(convs) == 0 {
		fmt.Println("No conversations")
		return
	}

	yellow := color.New(color.FgYellow, color.Bold)
	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)

	for i, c := range convs {
		fmt.Printf("%3d. %s ", i+1, c.Label())
		cyan.Printf("[%s]", c.Stage)
		if c.UnreadCount > 0 {
			yellow.Printf(" (%d unread)", c.UnreadCount)
		}
		if !c.CanSendFreeform {
			gray.Print(" (window closed)")
		}
		fmt.Println()
		if c.LastMessagePreview != "" {
			gray.Printf("     %s\n", truncate(c.LastMessagePreview, 70))
		}
	}
}

func printConversationView(s inbox.State) {
	c, ok := s.Selected()
	if !ok {
		return
	}

	fmt.Println(strings.Repeat("-", 60))
	fmt.Printf("%s  ", c.Label())
	color.New(color.FgCyan).Printf("[%s]\n", c.Stage)
	fmt.Println(strings.Repeat("-", 60))

	if s.MessagesLoading {
		fmt.Println("(loading history...)")
		return
	}
	for _, m := range s.Messages {
		printMessage(m)
	}
	if !c.CanSendFreeform {
		color.New(color.FgYellow).Println("Freeform window closed: only template messages can be sent.")
	}
}

func printMessage(m wire.Message) {
	ts := color.HiBlackString(m.CreatedAt.Local().Format("15:04"))
	if m.Direction == funnel.DirectionInbound {
		fmt.Printf("%s %s %s\n", ts, color.BlueString("→"), m.Preview())
		return
	}
	status := ""
	if m.Status != "" && m.Status != funnel.StatusSent {
		status = color.HiBlackString(" [" + string(m.Status) + "]")
	}
	fmt.Printf("%s %s %s%s\n", ts, color.GreenString("←"), m.Preview(), status)
}

func truncate(text string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if len(text) <= limit {
		return text
	}
	if limit <= 3 {
		return text[:limit]
	}
	return text[:limit-3] + "..."
}

// resolveConversation maps a numeric argument onto the last printed list,
// falling back to treating the argument as a raw conversation id.
func resolveConversation(arg string, listed, current []wire.Conversation) string {
	if n, err := strconv.Atoi(arg); err == nil && n >= 1 {
		if n <= len(listed) {
			return listed[n-1].ID
		}
		if n <= len(current) {
			return current[n-1].ID
		}
	}
	return arg
}

// waitForHistory gives the history reply a moment to arrive so /open can
// print a populated view. The stream keeps updating either way.
func waitForHistory(ctx context.Context, ctrl *inbox.Controller) {
	deadline := time.After(2 * time.Second)
	tick := time.NewTicker(25 * time.Millisecond)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			return
		case <-tick.C:
			if !ctrl.State().MessagesLoading {
				return
			}
		}
	}
}

// liveView prints messages that arrive for the open conversation while the
// operator is at the prompt. It runs on the controller's dispatch goroutine
// and must stay cheap.
type liveView struct {
	mu       sync.Mutex
	selected string
	printed  map[string]bool
	lastErr  string
}

func (v *liveView) setSelected(id string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.selected = id
	v.printed = make(map[string]bool)
}

func (v *liveView) onChange(s inbox.State) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if s.LastError != "" && s.LastError != v.lastErr {
		fmt.Printf("\n%s %s\n", color.RedString("[stream error]"), s.LastError)
		v.lastErr = s.LastError
	}

	if v.selected == "" || s.SelectedID != v.selected || s.MessagesLoading {
		return
	}
	if v.printed == nil {
		v.printed = make(map[string]bool)
	}
	for _, m := range s.Messages {
		if v.printed[m.ID] {
			continue
		}
		v.printed[m.ID] = true
		printMessage(m)
	}
}
