// ABOUTME: hostchat command-line client for the messaging gateway
// ABOUTME: Lists the inbox, reads history, sends messages and opens a live conversation

package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/golang-jwt/jwt/v5"

	"github.com/2389/hostchat/internal/api"
	"github.com/2389/hostchat/internal/client"
	"github.com/2389/hostchat/internal/logging"
	"github.com/2389/hostchat/internal/profile"
)

func usage() {
	fmt.Println("Usage: hostchat <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  init                               Write an example client config")
	fmt.Println("  inbox                              List conversations, newest first")
	fmt.Println("  history <conversation-id>          Print a conversation's messages")
	fmt.Println("  send --to USER[,USER] <text>       Send to the conversation with USER")
	fmt.Println("  send --conversation ID <text>      Send to a conversation by ID")
	fmt.Println("  open <conversation-id>             Chat live in a conversation")
	fmt.Println("  open --with USER[,USER]            Chat live with USER")
	fmt.Println()
	fmt.Printf("Config: %s (override with %s)\n", configPath(), EnvClientConfig)
}

// app bundles what every command needs.
type app struct {
	cfg      *Config
	me       string
	api      *client.Client
	profiles *profile.CachingLookup
	logger   *slog.Logger
	out      io.Writer
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cmd, args := os.Args[1], os.Args[2:]
	if cmd == "init" {
		exitOnError(runInit(configPath()))
		return
	}
	if cmd == "help" || cmd == "-h" || cmd == "--help" {
		usage()
		return
	}

	a, err := newApp(configPath(), os.Stdout)
	exitOnError(err)
	defer a.profiles.Close()

	switch cmd {
	case "inbox":
		err = a.runInbox(ctx)
	case "history":
		err = a.runHistory(ctx, args)
	case "send":
		err = a.runSend(ctx, args)
	case "open":
		err = a.runOpen(ctx, args, os.Stdin)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		os.Exit(1)
	}
	exitOnError(err)
}

func exitOnError(err error) {
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newApp(path string, out io.Writer) (*app, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	me, err := identity(cfg.Gateway)
	if err != nil {
		return nil, err
	}

	logger := logging.New(os.Stderr, cfg.Logging.Level, "text")
	c := client.NewClient(cfg.Gateway.URL, client.Credentials{
		Token:  cfg.Gateway.Token,
		UserID: cfg.Gateway.UserID,
	}, &http.Client{Timeout: cfg.Gateway.Timeout})

	return &app{
		cfg:      cfg,
		me:       me,
		api:      c,
		profiles: profile.NewCachingLookup(c, cfg.Profiles.CacheTTL, cfg.Profiles.CacheSize, logger),
		logger:   logger,
		out:      out,
	}, nil
}

// identity returns the caller's user ID. With a token it is read from the
// subject claim; the gateway verifies the signature, not the client.
func identity(g GatewayConfig) (string, error) {
	if g.Token == "" {
		return g.UserID, nil
	}
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(g.Token, &claims); err != nil {
		return "", fmt.Errorf("reading token: %w", err)
	}
	if claims.Subject == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}

func runInit(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(exampleConfig), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	color.New(color.FgGreen).Printf("  ✓ Wrote %s\n", path)
	return nil
}

func (a *app) runInbox(ctx context.Context) error {
	sess := client.NewSession(a.me, a.api, nil, a.profiles, client.SessionOptions{}, a.logger)
	defer sess.Shutdown()

	if err := sess.LoadInbox(ctx); err != nil {
		return err
	}
	entries := sess.Inbox()
	if len(entries) == 0 {
		fmt.Fprintln(a.out, "No conversations yet.")
		return nil
	}

	bold := color.New(color.Bold)
	gray := color.New(color.FgHiBlack)
	for _, e := range entries {
		last := e.Conversation.LastMessage
		bold.Fprint(a.out, e.Title)
		gray.Fprintf(a.out, "  %s  %s\n", e.Conversation.ID, last.SentAt.Local().Format(time.DateTime))
		fmt.Fprintf(a.out, "    %s\n", preview(last.Text, 72))
	}
	return nil
}

func (a *app) runHistory(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: hostchat history <conversation-id>")
	}
	msgs, err := a.api.Messages(ctx, args[0], 0)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		fmt.Fprintln(a.out, "No messages.")
		return nil
	}
	for _, m := range msgs {
		a.printMessage(ctx, m)
	}
	return nil
}

func (a *app) runSend(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("send", flag.ContinueOnError)
	to := fs.String("to", "", "comma-separated recipient user IDs")
	convID := fs.String("conversation", "", "conversation ID")
	if err := fs.Parse(args); err != nil {
		return err
	}
	body := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if body == "" {
		return errors.New("message text is required")
	}

	req := api.SendMessageRequest{ConversationID: *convID, Body: body}
	switch {
	case *convID != "" && *to != "":
		return errors.New("use either --to or --conversation, not both")
	case *to != "":
		req.Participants = splitIDs(*to)
	case *convID == "":
		return errors.New("--to or --conversation is required")
	}

	msg, err := a.api.Send(ctx, req)
	if err != nil {
		return err
	}
	color.New(color.FgGreen).Fprintf(a.out, "sent %s (seq %d) to %s\n", msg.ID, msg.Seq, msg.ConversationID)
	return nil
}

// acknowledge marks what the user has seen as delivered. Failures only
// delay the status change, so they are logged and not returned.
func (a *app) acknowledge(ctx context.Context, sess *client.Session) {
	if err := sess.Acknowledge(ctx); err != nil {
		a.logger.Debug("acknowledging delivery", "error", err)
	}
}

func (a *app) runOpen(ctx context.Context, args []string, in io.Reader) error {
	fs := flag.NewFlagSet("open", flag.ContinueOnError)
	with := fs.String("with", "", "comma-separated user IDs to chat with")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var convID string
	switch {
	case *with != "":
		conv, err := a.api.Resolve(ctx, splitIDs(*with))
		if err != nil {
			return err
		}
		convID = conv.ID
	case fs.NArg() == 1:
		convID = fs.Arg(0)
	default:
		return errors.New("usage: hostchat open <conversation-id> | --with USER")
	}

	stream, err := a.api.Dial(ctx)
	if err != nil {
		return err
	}
	defer stream.Close()

	sess := client.NewSession(a.me, a.api, stream, a.profiles, client.SessionOptions{}, a.logger)
	defer sess.Shutdown()

	if err := sess.Open(ctx, convID); err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := sess.Close(closeCtx); err != nil {
			a.logger.Debug("closing conversation", "error", err)
		}
	}()

	color.New(color.FgCyan).Fprintf(a.out, "-- %s (type /quit to leave) --\n", convID)
	for _, m := range sess.Transcript() {
		a.printMessage(ctx, m)
	}
	a.acknowledge(ctx, sess)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stream.Done():
			return stream.Err()
		case msg, ok := <-stream.Messages():
			if !ok {
				return stream.Err()
			}
			sess.HandlePush(msg)
			// Our own messages were printed when the send returned.
			if msg.ConversationID == convID && msg.SenderID != a.me {
				a.printMessage(ctx, msg)
				a.acknowledge(ctx, sess)
			}
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(line)
			switch line {
			case "":
				continue
			case "/quit", "/exit":
				return nil
			}
			msg, err := sess.Send(ctx, line)
			if err != nil {
				color.New(color.FgRed).Fprintf(a.out, "! not sent: %v\n", err)
				continue
			}
			a.printMessage(ctx, msg)
		}
	}
}

func (a *app) printMessage(ctx context.Context, m *api.Message) {
	name := "you"
	if m.SenderID != a.me {
		name = profile.DisplayName(ctx, a.profiles, m.SenderID)
	}
	gray := color.New(color.FgHiBlack)
	gray.Fprintf(a.out, "%s ", m.CreatedAt.Local().Format("15:04"))
	color.New(color.Bold).Fprintf(a.out, "%s: ", name)
	fmt.Fprintln(a.out, m.Body)
}

func splitIDs(s string) []string {
	var ids []string
	for _, id := range strings.Split(s, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func preview(s string, width int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	return string(r[:width-1]) + "…"
}
