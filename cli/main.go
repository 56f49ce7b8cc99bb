// Package main provides a terminal chat client for the compliance assistant.
//
// By default it talks to the chat endpoint directly; with -server it joins a
// session of the chat service over its viewer WebSocket instead.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/xiaot623/gogo/esgchat/internal/adapter/llm"
	"github.com/xiaot623/gogo/esgchat/internal/config"
	"github.com/xiaot623/gogo/esgchat/internal/domain"
)

// deltaPrinter prints only the newly streamed suffix of the assistant turn.
type deltaPrinter struct {
	out     io.Writer
	printed int
}

func (p *deltaPrinter) OnTranscriptChange(change domain.TranscriptChange) {
	if change.Turn.Role != domain.RoleAssistant {
		return
	}
	switch change.Kind {
	case domain.ChangeAppended:
		p.printed = 0
	case domain.ChangeReplaced:
		content := change.Turn.Content
		if len(content) > p.printed {
			fmt.Fprint(p.out, content[p.printed:])
			p.printed = len(content)
		}
	case domain.ChangeRemoved:
		if p.printed > 0 {
			fmt.Fprintln(p.out, " [discarded]")
		}
		p.printed = 0
	}
}

// session is one local conversation.
type session struct {
	client     llm.ChatStreamer
	greeting   string
	transcript *domain.Transcript
	printer    *deltaPrinter
	unsub      func()
}

func newSession(client llm.ChatStreamer, greeting string, out io.Writer) *session {
	s := &session{client: client, greeting: greeting, printer: &deltaPrinter{out: out}}
	s.reset()
	return s
}

// reset starts a fresh transcript seeded with the greeting.
func (s *session) reset() {
	if s.unsub != nil {
		s.unsub()
	}
	s.transcript = domain.NewTranscript(domain.ConversationTurn{Role: domain.RoleAssistant, Content: s.greeting})
	s.unsub = s.transcript.Subscribe(s.printer)
}

// runLocal reads lines from in and streams each reply to out.
// interrupts cancels the reply being streamed.
func runLocal(in io.Reader, out, errOut io.Writer, s *session, interrupts <-chan os.Signal) {
	fmt.Fprintf(out, "assistant: %s\n", s.greeting)
	fmt.Fprintln(out, "Commands: /reset to start over, /quit to exit")

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			return
		}

		input := strings.TrimSpace(scanner.Text())
		switch input {
		case "":
			continue
		case "/quit":
			fmt.Fprintln(out, "Bye!")
			return
		case "/reset":
			s.reset()
			fmt.Fprintf(out, "assistant: %s\n", s.greeting)
			continue
		}

		drain(interrupts)
		ctx, cancel := context.WithCancel(context.Background())
		stop := make(chan struct{})
		go func() {
			select {
			case <-interrupts:
				cancel()
			case <-stop:
			}
		}()

		fmt.Fprint(out, "assistant: ")
		_, err := s.client.SendMessage(ctx, s.transcript, input)
		close(stop)
		cancel()
		fmt.Fprintln(out)

		switch {
		case err == nil:
		case errors.Is(err, domain.ErrRateLimited):
			fmt.Fprintln(errOut, "Rate limited, please wait a moment and try again.")
		case errors.Is(err, context.Canceled):
			fmt.Fprintln(errOut, "Cancelled.")
		default:
			fmt.Fprintf(errOut, "Error: %v\n", err)
		}
	}
}

// drain discards interrupts received while no reply was streaming.
func drain(interrupts <-chan os.Signal) {
	for {
		select {
		case <-interrupts:
		default:
			return
		}
	}
}

func main() {
	url := flag.String("url", "http://localhost:8080/mock/v1/chat/completions", "Chat completions endpoint")
	token := flag.String("token", "", "Bearer token for the chat endpoint")
	retries := flag.Int("retries", 8, "Attempts before an unparsable frame is dropped (0 = unbounded)")
	requireDone := flag.Bool("require-done", false, "Treat a stream that ends without [DONE] as failed")
	timeout := flag.Duration("timeout", 30*time.Second, "Connect and response header timeout")
	server := flag.String("server", "", "Chat service base URL (ws://host:port); joins -session over WebSocket")
	sessionID := flag.String("session", "", "Session to join with -server")
	userID := flag.String("user", "cli", "User id presented to the chat service")
	flag.Parse()

	log.SetFlags(log.Ltime)

	if *server != "" {
		if err := runRemote(*server, *sessionID, *userID); err != nil {
			log.Fatalf("Remote session failed: %v", err)
		}
		return
	}

	client := llm.NewChatStreamer(*url, llm.Options{
		Token:           *token,
		Timeout:         *timeout,
		MaxFrameRetries: *retries,
		RequireDone:     *requireDone,
	})

	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)

	runLocal(os.Stdin, os.Stdout, os.Stderr, newSession(client, config.DefaultGreeting, os.Stdout), interrupts)
}
