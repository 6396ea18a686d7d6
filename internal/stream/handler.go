// Package stream exposes the live aggregate feed over websockets. One
// connection observes exactly one (tenant, stream, topic) partition; the
// coordinator pushes a joined ack and then every flushed window envelope.
package stream

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	v1 "github.com/pulsegrid-lab/pulsegrid/internal/api/v1"
	"github.com/pulsegrid-lab/pulsegrid/internal/auth"
	httperr "github.com/pulsegrid-lab/pulsegrid/internal/core/errors"
	"github.com/pulsegrid-lab/pulsegrid/internal/realtime"
)

const writeTimeout = 10 * time.Second

// Service upgrades observer HTTP requests and bridges them to the partition
// router.
type Service struct {
	authSvc  *auth.Service
	router   *realtime.Router
	upgrader websocket.Upgrader
}

// NewService wires the stream service.
func NewService(authSvc *auth.Service, router *realtime.Router) *Service {
	if authSvc == nil {
		panic("stream: auth service must not be nil")
	}
	if router == nil {
		panic("stream: router must not be nil")
	}
	return &Service{
		authSvc: authSvc,
		router:  router,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
}

// RegisterRoutes registers the observer endpoint.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.GET("/v1/stream", auth.Middleware(s.authSvc), s.HandleStream)
}

// HandleStream handles GET /v1/stream
// Query parameters: streamId (required), topic (default metrics)
func (s *Service) HandleStream(c *gin.Context) {
	streamID := c.Query("streamId")
	if streamID == "" {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidJsonError,
			Message:   "streamId is required",
		})
		return
	}
	topic := c.DefaultQuery("topic", v1.TopicMetrics)
	if !v1.ValidTopic(topic) {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidJsonError,
			Message:   "invalid topic (must be metrics, events, or alerts)",
		})
		return
	}

	identity := auth.FromContext(c)
	if requested := c.Query("tenantId"); requested != "" && requested != identity.TenantID {
		c.JSON(http.StatusForbidden, httperr.ErrorResponse{
			ErrorType: httperr.HttpTenantMismatchError,
			Message:   "tenantId does not match authenticated tenant",
		})
		return
	}

	socket, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		slog.Warn("Websocket upgrade failed", "error", err)
		return
	}

	key := v1.PartitionKey{TenantID: identity.TenantID, StreamID: streamID, Topic: topic}
	connID := uuid.New().String()

	s.router.Connect(key, connID, newWSConn(socket))

	// The coordinator owns all writes. This goroutine only watches the read
	// side for closure and control frames.
	go s.readLoop(key, connID, socket)
}

func (s *Service) readLoop(key v1.PartitionKey, connID string, socket *websocket.Conn) {
	for {
		if _, _, err := socket.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Warn("Observer read error",
					"connection_id", connID,
					"partition", key.String(),
					"error", err)
			}
			s.router.Disconnect(key, connID)
			return
		}
		// Inbound data frames are ignored; the stream is one-way.
	}
}

// wsConn adapts a gorilla websocket connection to the coordinator's Conn
// interface. Write serialization is the coordinator's job; the mutex only
// covers the Close race between the write loop and the read loop.
type wsConn struct {
	socket *websocket.Conn

	mu     sync.Mutex
	closed bool
}

func newWSConn(socket *websocket.Conn) *wsConn {
	return &wsConn{socket: socket}
}

func (w *wsConn) WriteMessage(data []byte) error {
	if err := w.socket.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return w.socket.WriteMessage(websocket.TextMessage, data)
}

func (w *wsConn) Close(code int, reason string) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	deadline := time.Now().Add(writeTimeout)
	message := websocket.FormatCloseMessage(code, reason)
	// Best effort close handshake; the transport teardown is what matters.
	_ = w.socket.WriteControl(websocket.CloseMessage, message, deadline)
	return w.socket.Close()
}
