package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/xiaot623/gogo/esgchat/internal/domain"
	"github.com/xiaot623/gogo/esgchat/internal/service"
	"github.com/xiaot623/gogo/esgchat/internal/transport/ws"
)

// remoteClient joins a session through the chat service's viewer socket.
type remoteClient struct {
	conn    *websocket.Conn
	printer *deltaPrinter
	done    chan struct{}
	// version of the last applied snapshot or change
	version uint64
}

func dialRemote(base, sessionID, userID string) (*remoteClient, error) {
	if sessionID == "" {
		sessionID = "sess_" + uuid.New().String()[:8]
	}
	addr := fmt.Sprintf("%s/v1/sessions/%s/ws?user_id=%s", strings.TrimSuffix(base, "/"), url.PathEscape(sessionID), url.QueryEscape(userID))

	conn, _, err := websocket.DefaultDialer.Dial(addr, nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	fmt.Printf("Joined session %s\n", sessionID)

	return &remoteClient{
		conn:    conn,
		printer: &deltaPrinter{out: os.Stdout},
		done:    make(chan struct{}),
	}, nil
}

// readMessages prints the snapshot, streamed changes and outcomes.
func (c *remoteClient) readMessages() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				select {
				case <-c.done:
				default:
					log.Printf("Read error: %v", err)
				}
			}
			return
		}

		var base ws.BaseMessage
		if err := json.Unmarshal(data, &base); err != nil {
			log.Printf("Unmarshal error: %v", err)
			continue
		}

		switch base.Type {
		case ws.TypeSnapshot:
			var msg ws.SnapshotMessage
			json.Unmarshal(data, &msg)
			for _, turn := range msg.Turns {
				fmt.Printf("%s: %s\n", turn.Role, turn.Content)
			}
			c.version = msg.Version
			if n := len(msg.Turns); n > 0 && msg.Turns[n-1].Role == domain.RoleAssistant {
				c.printer.printed = len(msg.Turns[n-1].Content)
			}
		case service.ChangeMessageType:
			var msg service.SessionChange
			json.Unmarshal(data, &msg)
			if msg.Version <= c.version {
				continue
			}
			c.version = msg.Version
			if msg.Kind == domain.ChangeAppended && msg.Turn.Role == domain.RoleAssistant {
				fmt.Print("assistant: ")
			}
			c.printer.OnTranscriptChange(msg.TranscriptChange)
		case ws.TypeDone:
			fmt.Println()
		case ws.TypeError:
			var msg ws.ErrorMessage
			json.Unmarshal(data, &msg)
			fmt.Fprintf(os.Stderr, "\nError (%s): %s\n", msg.Code, msg.Message)
		}
	}
}

func (c *remoteClient) send(typ, content string) error {
	return c.conn.WriteJSON(ws.SendMessage{
		BaseMessage: ws.BaseMessage{
			Type:      typ,
			Ts:        time.Now().UnixMilli(),
			RequestID: fmt.Sprintf("req_%d", time.Now().UnixNano()),
		},
		Content: content,
	})
}

func (c *remoteClient) close() error {
	close(c.done)
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.conn.Close()
}

// runRemote is the REPL for -server mode. Ctrl+C cancels the running reply.
func runRemote(base, sessionID, userID string) error {
	client, err := dialRemote(base, sessionID, userID)
	if err != nil {
		return err
	}
	defer client.close()

	go client.readMessages()

	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	go func() {
		for range interrupts {
			if err := client.send(ws.TypeCancel, ""); err != nil {
				log.Printf("Cancel error: %v", err)
			}
		}
	}()

	fmt.Println("Commands: /quit to exit")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "/quit" {
			fmt.Println("Bye!")
			return nil
		}
		if err := client.send(ws.TypeSend, input); err != nil {
			return fmt.Errorf("send: %w", err)
		}
	}
	return scanner.Err()
}
