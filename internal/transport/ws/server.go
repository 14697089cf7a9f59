// Package ws provides the WebSocket endpoint through which clients talk to an actor.
package ws

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/xiaot623/gogo/chatd/internal/actor"
	"github.com/xiaot623/gogo/chatd/internal/domain"
	"github.com/xiaot623/gogo/chatd/internal/session"
)

// Resolver returns the live actor for an identifier.
type Resolver interface {
	Resolve(ctx context.Context, id string) (*actor.Actor, error)
}

// Options tunes connection handling.
type Options struct {
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	MaxMessageSize int64
	SendBuffer     int
}

// Server handles WebSocket connections.
type Server struct {
	resolver Resolver
	opts     Options
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewServer creates a new WebSocket server.
func NewServer(resolver Resolver, opts Options, logger *zap.Logger) *Server {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.ReadTimeout <= opts.PingInterval {
		opts.ReadTimeout = 2 * opts.PingInterval
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = 64 * 1024
	}
	return &Server{
		resolver: resolver,
		opts:     opts,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// RegisterRoutes mounts the WebSocket route on e.
func (s *Server) RegisterRoutes(e *echo.Echo) {
	e.GET("/agents/:id/ws", s.HandleWebSocket)
}

// HandleWebSocket upgrades the request and attaches the connection to the
// actor named by the :id path parameter.
func (s *Server) HandleWebSocket(c echo.Context) error {
	id := c.Param("id")
	ctx := c.Request().Context()

	a, err := s.resolver.Resolve(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidActorID) {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
		s.logger.Error("failed to resolve actor", zap.String("actor_id", id), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "agent unavailable"})
	}

	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Warn("failed to upgrade websocket", zap.Error(err))
		return nil
	}
	ws.SetReadLimit(s.opts.MaxMessageSize)

	conn := session.NewConn(ws, id, s.opts.SendBuffer)
	if err := a.Register(conn); err != nil {
		// The actor may have been evicted between resolve and register.
		a, err = s.resolver.Resolve(context.Background(), id)
		if err == nil {
			err = a.Register(conn)
		}
		if err != nil {
			s.logger.Warn("failed to register connection", zap.String("actor_id", id), zap.Error(err))
			_ = conn.Close()
			return nil
		}
	}

	go s.writePump(conn)
	go s.readPump(conn, a)
	return nil
}

// readPump reads frames from the connection and hands them to the actor.
func (s *Server) readPump(conn *session.Conn, a *actor.Actor) {
	defer func() {
		_ = a.Unregister(conn.ID())
		_ = conn.Close()
	}()

	_ = conn.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket read error", zap.String("conn_id", conn.ID()), zap.Error(err))
			}
			return
		}
		if err := a.HandleInbound(conn, message); err != nil {
			s.logger.Info("actor stopped accepting frames, closing connection",
				zap.String("conn_id", conn.ID()), zap.Error(err))
			return
		}
	}
}

// writePump writes queued frames and keepalive pings to the connection.
func (s *Server) writePump(conn *session.Conn) {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case message := <-conn.Send():
			_ = conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				s.logger.Debug("failed to write message", zap.String("conn_id", conn.ID()), zap.Error(err))
				return
			}

		case <-conn.Done():
			_ = conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
