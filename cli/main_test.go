package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xiaot623/gogo/esgchat/internal/adapter/llm"
	"github.com/xiaot623/gogo/esgchat/internal/domain"
)

func TestDeltaPrinter(t *testing.T) {
	var out bytes.Buffer
	p := &deltaPrinter{out: &out}

	p.OnTranscriptChange(domain.TranscriptChange{Kind: domain.ChangeAppended, Turn: domain.ConversationTurn{Role: domain.RoleUser, Content: "hi"}})
	p.OnTranscriptChange(domain.TranscriptChange{Kind: domain.ChangeAppended, Turn: domain.ConversationTurn{Role: domain.RoleAssistant}})
	p.OnTranscriptChange(domain.TranscriptChange{Kind: domain.ChangeReplaced, Turn: domain.ConversationTurn{Role: domain.RoleAssistant, Content: "Hel"}})
	p.OnTranscriptChange(domain.TranscriptChange{Kind: domain.ChangeReplaced, Turn: domain.ConversationTurn{Role: domain.RoleAssistant, Content: "Hello"}})
	assert.Equal(t, "Hello", out.String())

	p.OnTranscriptChange(domain.TranscriptChange{Kind: domain.ChangeRemoved, Turn: domain.ConversationTurn{Role: domain.RoleAssistant, Content: "Hello"}})
	assert.Equal(t, "Hello [discarded]\n", out.String())
}

func TestRunLocalMock(t *testing.T) {
	var out, errOut bytes.Buffer
	s := newSession(llm.NewMockClient(llm.Options{}), "Hi there.", &out)

	runLocal(strings.NewReader("What is CSRD?\n\n/quit\n"), &out, &errOut, s, make(chan os.Signal))

	want := llm.MockReply([]domain.ConversationTurn{{Role: domain.RoleUser, Content: "What is CSRD?"}})
	assert.Contains(t, out.String(), "assistant: Hi there.\n")
	assert.Contains(t, out.String(), "assistant: "+want+"\n")
	assert.Contains(t, out.String(), "Bye!")
	assert.Empty(t, errOut.String())
	assert.Equal(t, 3, s.transcript.Len())
}

func TestRunLocalReset(t *testing.T) {
	var out, errOut bytes.Buffer
	s := newSession(llm.NewMockClient(llm.Options{}), "Hi there.", &out)

	runLocal(strings.NewReader("first\n/reset\n"), &out, &errOut, s, make(chan os.Signal))

	assert.Equal(t, 1, s.transcript.Len())
	assert.Equal(t, 2, strings.Count(out.String(), "assistant: Hi there."))
}

func TestRunLocalRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	var out, errOut bytes.Buffer
	s := newSession(llm.NewClient(srv.URL, llm.Options{}), "Hi there.", &out)

	runLocal(strings.NewReader("hello\n"), &out, &errOut, s, make(chan os.Signal))

	assert.Contains(t, errOut.String(), "Rate limited")
	// The user turn stays so it can be retried in context.
	assert.Equal(t, 2, s.transcript.Len())
}

func TestRunLocalIgnoresIdleInterrupt(t *testing.T) {
	var out, errOut bytes.Buffer
	s := newSession(llm.NewMockClient(llm.Options{}), "Hi there.", &out)

	// Ctrl+C pressed at the prompt, before anything was sent.
	interrupts := make(chan os.Signal, 1)
	interrupts <- os.Interrupt

	runLocal(strings.NewReader("What is CSRD?\n"), &out, &errOut, s, interrupts)

	assert.NotContains(t, errOut.String(), "Cancelled.")
	assert.Equal(t, 3, s.transcript.Len())
	assert.Empty(t, interrupts)
}
