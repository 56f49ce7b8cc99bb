package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/esgchat/internal/domain"
)

// chunkedBody returns one chunk per Read and then err (io.EOF if nil).
type chunkedBody struct {
	chunks [][]byte
	err    error
}

func (b *chunkedBody) Read(p []byte) (int, error) {
	if len(b.chunks) == 0 {
		if b.err != nil {
			return 0, b.err
		}
		return 0, io.EOF
	}
	n := copy(p, b.chunks[0])
	if n < len(b.chunks[0]) {
		b.chunks[0] = b.chunks[0][n:]
	} else {
		b.chunks = b.chunks[1:]
	}
	return n, nil
}

func (b *chunkedBody) Close() error { return nil }

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func newStubClient(status int, body io.ReadCloser, opts Options) *Client {
	opts.HTTPClient = &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: status,
			Header:     make(http.Header),
			Body:       body,
			Request:    r,
		}, nil
	})}
	return NewClient("http://chat.test/v1/chat", opts)
}

func chunks(parts ...string) [][]byte {
	out := make([][]byte, len(parts))
	for i, p := range parts {
		out[i] = []byte(p)
	}
	return out
}

func recordChanges(tr *domain.Transcript) *[]domain.TranscriptChange {
	var changes []domain.TranscriptChange
	tr.Subscribe(domain.ObserverFunc(func(c domain.TranscriptChange) {
		changes = append(changes, c)
	}))
	return &changes
}

func TestSendMessageEndToEnd(t *testing.T) {
	var gotReq ChatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &gotReq))

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, part := range []string{
			`data: {"choices":[{"delta":{"content":"ISO "}}]}` + "\n",
			`data: {"choices":[{"delta":{"content":"14001 is a standard."}}]}` + "\n",
			"data: [DONE]\n",
		} {
			fmt.Fprint(w, part)
			flusher.Flush()
		}
	}))
	defer server.Close()

	client := NewClient(server.URL, Options{Token: "secret", Timeout: time.Second})
	tr := domain.NewTranscript()
	changes := recordChanges(tr)

	result, err := client.SendMessage(context.Background(), tr, "What is ISO 14001?")
	require.NoError(t, err)

	assert.Equal(t, []domain.ConversationTurn{{Role: domain.RoleUser, Content: "What is ISO 14001?"}}, gotReq.Messages)
	assert.Equal(t, []domain.ConversationTurn{
		{Role: domain.RoleUser, Content: "What is ISO 14001?"},
		{Role: domain.RoleAssistant, Content: "ISO 14001 is a standard."},
	}, tr.Snapshot())
	assert.Equal(t, "ISO 14001 is a standard.", result.Content)
	assert.Equal(t, 2, result.Frames)
	assert.True(t, result.SawDone)
	assert.False(t, tr.IsOpen())
	assert.False(t, client.InFlight())

	var replaced []string
	for _, c := range *changes {
		if c.Kind == domain.ChangeReplaced {
			replaced = append(replaced, c.Turn.Content)
		}
	}
	assert.Equal(t, []string{"ISO ", "ISO 14001 is a standard."}, replaced)
}

func TestSendMessageSendsFullHistory(t *testing.T) {
	var gotReq ChatRequest
	client := NewClient("http://chat.test", Options{HTTPClient: &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		return &http.Response{StatusCode: http.StatusOK, Header: make(http.Header), Body: &chunkedBody{chunks: chunks("data: [DONE]\n")}, Request: r}, nil
	})}})

	tr := domain.NewTranscript(
		domain.ConversationTurn{Role: domain.RoleAssistant, Content: "Hello!"},
		domain.ConversationTurn{Role: domain.RoleUser, Content: "first"},
		domain.ConversationTurn{Role: domain.RoleAssistant, Content: "answer"},
	)
	_, err := client.SendMessage(context.Background(), tr, "second")
	require.NoError(t, err)

	require.Len(t, gotReq.Messages, 4)
	assert.Equal(t, "Hello!", gotReq.Messages[0].Content)
	assert.Equal(t, domain.ConversationTurn{Role: domain.RoleUser, Content: "second"}, gotReq.Messages[3])
}

func TestSendMessageRateLimited(t *testing.T) {
	client := newStubClient(http.StatusTooManyRequests, io.NopCloser(strings.NewReader("slow down")), Options{})
	tr := domain.NewTranscript(domain.ConversationTurn{Role: domain.RoleAssistant, Content: "Hello!"})

	_, err := client.SendMessage(context.Background(), tr, "hi")
	assert.ErrorIs(t, err, domain.ErrRateLimited)
	assert.Equal(t, 2, tr.Len())
	last, _ := tr.Last()
	assert.Equal(t, domain.RoleUser, last.Role)
}

func TestSendMessageStartFailed(t *testing.T) {
	body := `{"error":{"message":"upstream down","type":"server_error"}}`
	client := newStubClient(http.StatusInternalServerError, io.NopCloser(strings.NewReader(body)), Options{})
	tr := domain.NewTranscript()

	_, err := client.SendMessage(context.Background(), tr, "hi")
	require.ErrorIs(t, err, domain.ErrStreamStartFailed)
	assert.Contains(t, err.Error(), "upstream down")
	assert.Equal(t, 1, tr.Len())
}

func TestSendMessageConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	client := NewClient(url, Options{Timeout: time.Second})
	tr := domain.NewTranscript()

	_, err := client.SendMessage(context.Background(), tr, "hi")
	assert.ErrorIs(t, err, domain.ErrStreamStartFailed)
	assert.Equal(t, 1, tr.Len())
}

func TestSendMessageMidStreamFailure(t *testing.T) {
	body := &chunkedBody{
		chunks: chunks(`data: {"choices":[{"delta":{"content":"Hel"}}]}` + "\n"),
		err:    io.ErrUnexpectedEOF,
	}
	client := newStubClient(http.StatusOK, body, Options{})
	tr := domain.NewTranscript()
	changes := recordChanges(tr)

	_, err := client.SendMessage(context.Background(), tr, "hi")
	require.ErrorIs(t, err, domain.ErrStreamFailed)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	assert.Equal(t, []domain.ConversationTurn{{Role: domain.RoleUser, Content: "hi"}}, tr.Snapshot())
	assert.False(t, tr.IsOpen())

	kinds := make([]domain.ChangeKind, 0, len(*changes))
	for _, c := range *changes {
		kinds = append(kinds, c.Kind)
	}
	assert.Equal(t, []domain.ChangeKind{
		domain.ChangeAppended, domain.ChangeAppended, domain.ChangeReplaced, domain.ChangeRemoved,
	}, kinds)
	assert.Equal(t, "Hel", (*changes)[3].Turn.Content)
}

func TestSendMessageOnlyDoneKeepsEmptyTurn(t *testing.T) {
	client := newStubClient(http.StatusOK, &chunkedBody{chunks: chunks("data: [DONE]\n")}, Options{})
	tr := domain.NewTranscript()

	result, err := client.SendMessage(context.Background(), tr, "hi")
	require.NoError(t, err)
	assert.True(t, result.SawDone)
	assert.Equal(t, []domain.ConversationTurn{
		{Role: domain.RoleUser, Content: "hi"},
		{Role: domain.RoleAssistant, Content: ""},
	}, tr.Snapshot())
}

func TestSendMessageSplitJSONAppliedOnce(t *testing.T) {
	body := &chunkedBody{chunks: chunks(
		": keep-alive\n\n",
		`data: {"choices":[{"delta":{"con`,
		`tent":"Hel"}}]}`+"\n\n",
		`data: {"choices":[{"delta":{"content":"lo"}}]}`+"\r\n",
		"data: [DONE]\n",
	)}
	client := newStubClient(http.StatusOK, body, Options{MaxFrameRetries: 8})
	tr := domain.NewTranscript()
	changes := recordChanges(tr)

	result, err := client.SendMessage(context.Background(), tr, "hi")
	require.NoError(t, err)
	assert.Equal(t, "Hello", result.Content)
	assert.Equal(t, 2, result.Frames)

	replaced := 0
	for _, c := range *changes {
		if c.Kind == domain.ChangeReplaced {
			replaced++
		}
	}
	assert.Equal(t, 2, replaced)
}

func TestSendMessageEmptyText(t *testing.T) {
	client := newStubClient(http.StatusOK, &chunkedBody{}, Options{})
	tr := domain.NewTranscript()

	_, err := client.SendMessage(context.Background(), tr, "  \n\t ")
	assert.ErrorIs(t, err, domain.ErrEmptyMessage)
	assert.Equal(t, 0, tr.Len())
}

func TestSendMessageEndOfDataWithoutDone(t *testing.T) {
	newBody := func() *chunkedBody {
		return &chunkedBody{chunks: chunks(`data: {"choices":[{"delta":{"content":"partial"}}]}` + "\n")}
	}

	tr := domain.NewTranscript()
	result, err := newStubClient(http.StatusOK, newBody(), Options{}).SendMessage(context.Background(), tr, "hi")
	require.NoError(t, err)
	assert.False(t, result.SawDone)
	assert.Equal(t, 2, tr.Len())

	strict := domain.NewTranscript()
	_, err = newStubClient(http.StatusOK, newBody(), Options{RequireDone: true}).SendMessage(context.Background(), strict, "hi")
	assert.ErrorIs(t, err, domain.ErrStreamFailed)
	assert.Equal(t, 1, strict.Len())
}

func TestSendMessageRejectsConcurrentSend(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, `data: {"choices":[{"delta":{"content":"wait"}}]}`+"\n")
		w.(http.Flusher).Flush()
		<-release
		fmt.Fprint(w, "data: [DONE]\n")
	}))
	defer server.Close()

	client := NewClient(server.URL, Options{})
	first := domain.NewTranscript()

	errCh := make(chan error, 1)
	go func() {
		_, err := client.SendMessage(context.Background(), first, "one")
		errCh <- err
	}()

	require.Eventually(t, client.InFlight, time.Second, 5*time.Millisecond)

	second := domain.NewTranscript()
	_, err := client.SendMessage(context.Background(), second, "two")
	assert.ErrorIs(t, err, domain.ErrStreamInFlight)
	assert.Equal(t, 0, second.Len())

	close(release)
	require.NoError(t, <-errCh)
	last, _ := first.Last()
	assert.Equal(t, "wait", last.Content)
}

func TestSendMessageCancellation(t *testing.T) {
	for _, keep := range []bool{false, true} {
		t.Run(fmt.Sprintf("keep_partial=%v", keep), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/event-stream")
				fmt.Fprint(w, `data: {"choices":[{"delta":{"content":"Hel"}}]}`+"\n")
				w.(http.Flusher).Flush()
				<-r.Context().Done()
			}))
			defer server.Close()

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			tr := domain.NewTranscript()
			tr.Subscribe(domain.ObserverFunc(func(c domain.TranscriptChange) {
				if c.Kind == domain.ChangeReplaced {
					cancel()
				}
			}))

			var opts []SendOption
			if keep {
				opts = append(opts, KeepPartialOnCancel())
			}
			client := NewClient(server.URL, Options{})
			result, err := client.SendMessage(ctx, tr, "hi", opts...)
			require.ErrorIs(t, err, domain.ErrStreamFailed)
			assert.True(t, errors.Is(err, context.Canceled))
			assert.False(t, tr.IsOpen())

			if keep {
				require.NotNil(t, result)
				assert.Equal(t, "Hel", result.Content)
				assert.Equal(t, 2, tr.Len())
			} else {
				assert.Nil(t, result)
				assert.Equal(t, 1, tr.Len())
			}
		})
	}
}

func TestMockClient(t *testing.T) {
	client := NewMockClient(Options{MaxFrameRetries: 8})
	tr := domain.NewTranscript()

	result, err := client.SendMessage(context.Background(), tr, "Which vendors are non-compliant?")
	require.NoError(t, err)
	assert.True(t, result.SawDone)
	assert.Equal(t, MockReply(tr.Snapshot()[:1]), result.Content)
	assert.Greater(t, result.Frames, 1)
}

func TestNewChatStreamerMockMode(t *testing.T) {
	t.Setenv(EnvGogoMode, ModeMock)
	streamer := NewChatStreamer("http://unused", Options{})
	client, ok := streamer.(*Client)
	require.True(t, ok)
	assert.Equal(t, mockEndpoint, client.endpoint)

	t.Setenv(EnvGogoMode, "")
	client = NewChatStreamer("http://llm.local", Options{}).(*Client)
	assert.Equal(t, "http://llm.local", client.endpoint)
}

func TestMockFramesRoundTrip(t *testing.T) {
	reply := "CO₂ reporting 🌱 is due"
	stream := strings.Join(MockFrames(reply, 4), "")

	got, _, done := feedAll(t, [][]byte{[]byte(stream)}, 8)
	assert.Equal(t, reply, got)
	assert.True(t, done)
}
