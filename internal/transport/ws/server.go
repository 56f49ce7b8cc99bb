package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/esgchat/internal/config"
	"github.com/xiaot623/gogo/esgchat/internal/domain"
	"github.com/xiaot623/gogo/esgchat/internal/service"
	"github.com/xiaot623/gogo/esgchat/internal/transport/apierror"
)

// Server handles viewer WebSocket connections.
type Server struct {
	cfg      *config.Config
	hub      *Hub
	service  *service.Service
	upgrader websocket.Upgrader
}

// NewServer creates a new WebSocket server.
func NewServer(cfg *config.Config, h *Hub, svc *service.Service) *Server {
	return &Server{
		cfg:     cfg,
		hub:     h,
		service: svc,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// The dashboard is served from another origin.
				return true
			},
		},
	}
}

// RegisterRoutes registers the viewer endpoint.
func (s *Server) RegisterRoutes(e *echo.Echo) {
	e.GET("/v1/sessions/:session_id/ws", s.HandleWebSocket)
}

// HandleWebSocket authorizes the viewer, upgrades the connection and sends
// the current transcript before live changes. Connecting to a session that
// does not exist yet creates it for the viewer.
// GET /v1/sessions/:session_id/ws
func (s *Server) HandleWebSocket(c echo.Context) error {
	sessionID := c.Param("session_id")
	userID := c.Request().Header.Get("X-User-ID")
	if userID == "" {
		userID = c.QueryParam("user_id")
	}
	if userID == "" {
		return apierror.BadRequest(c, "user id is required", "user_id")
	}

	transcript, err := s.service.JoinSession(c.Request().Context(), sessionID, userID)
	if err != nil {
		return apierror.Write(c, err)
	}

	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Printf("Failed to upgrade WebSocket: %v", err)
		return err
	}
	ws.SetReadLimit(s.cfg.MaxMessageSize)

	conn := s.hub.NewConnection(ws, sessionID, userID)
	conn.Snapshot = func() []byte {
		turns, version := transcript.Versioned()
		data, err := json.Marshal(SnapshotMessage{
			BaseMessage: newBase(TypeSnapshot, sessionID, ""),
			Turns:       turns,
			Version:     version,
		})
		if err != nil {
			log.Printf("ERROR: failed to encode snapshot: %v", err)
			return nil
		}
		return data
	}
	s.hub.Register(conn)

	go s.writePump(conn)
	go s.readPump(conn)

	return nil
}

// readPump reads messages from the WebSocket connection.
func (s *Server) readPump(conn *Connection) {
	defer func() {
		s.hub.Unregister(conn)
		conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	conn.Conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		return nil
	})

	for {
		_, message, err := conn.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		s.handleMessage(conn, message)
	}
}

// writePump writes messages to the WebSocket connection.
func (s *Server) writePump(conn *Connection) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if !ok {
				// Hub closed the channel
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("Failed to write message: %v", err)
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage dispatches incoming messages to appropriate handlers.
func (s *Server) handleMessage(conn *Connection, data []byte) {
	var baseMsg BaseMessage
	if err := json.Unmarshal(data, &baseMsg); err != nil {
		s.sendError(conn, "", ErrorCodeInvalidMessage, "invalid JSON message")
		return
	}

	switch baseMsg.Type {
	case TypeSend:
		s.handleSend(conn, data)
	case TypeCancel:
		s.handleCancel(conn, baseMsg.RequestID)
	default:
		s.sendError(conn, baseMsg.RequestID, ErrorCodeInvalidMessage, "unknown message type: "+baseMsg.Type)
	}
}

// handleSend runs one exchange. Transcript changes reach every viewer
// through the hub; the outcome is broadcast as done or reported as an error.
func (s *Server) handleSend(conn *Connection, data []byte) {
	var msg SendMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(conn, "", ErrorCodeInvalidMessage, "invalid send message")
		return
	}

	// The exchange outlives the socket; viewers cancel explicitly.
	go func() {
		res, err := s.service.SendMessage(context.Background(), domain.SendRequest{
			SessionID: conn.SessionID,
			UserID:    conn.UserID,
			Content:   msg.Content,
		})
		if err != nil {
			log.Printf("Chat exchange failed for session %s: %v", conn.SessionID, err)
			_, code := apierror.Classify(err)
			s.sendError(conn, msg.RequestID, code, err.Error())
			return
		}

		s.hub.BroadcastJSON(conn.SessionID, DoneMessage{
			BaseMessage: newBase(TypeDone, conn.SessionID, msg.RequestID),
			ExchangeID:  res.ExchangeID,
			Reply:       res.Reply,
		})
	}()
}

// handleCancel cancels the session's running exchange.
func (s *Server) handleCancel(conn *Connection, requestID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := s.service.CancelMessage(ctx, conn.SessionID, conn.UserID); err != nil {
		_, code := apierror.Classify(err)
		s.sendError(conn, requestID, code, err.Error())
	}
}

// sendError sends an error message to a connection.
func (s *Server) sendError(conn *Connection, requestID, code, message string) {
	s.hub.SendJSONToConnection(conn, ErrorMessage{
		BaseMessage: newBase(TypeError, conn.SessionID, requestID),
		Code:        code,
		Message:     message,
	})
}

func newBase(typ, sessionID, requestID string) BaseMessage {
	return BaseMessage{
		Type:      typ,
		Ts:        time.Now().UnixMilli(),
		RequestID: requestID,
		SessionID: sessionID,
	}
}
