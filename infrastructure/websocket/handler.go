package websocket

import (
	"chat-relay/contract"
	"chat-relay/runtime"
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Lifecycle is the part of the orchestrator the upgrade handler drives.
type Lifecycle interface {
	Connect(ctx context.Context, conn contract.Connection, header http.Header) *runtime.Session
	Receive(session *runtime.Session, payload []byte)
	Pong(session *runtime.Session)
	Disconnect(ctx context.Context, session *runtime.Session)
}

// Handler upgrades HTTP requests and runs the socket read loop for the
// lifetime of the connection.
type Handler struct {
	log            *slog.Logger
	lifecycle      Lifecycle
	upgrader       websocket.Upgrader
	writeTimeout   time.Duration
	maxMessageSize int64
}

// NewHandler builds the upgrade handler. An empty allowedOrigin accepts any
// origin; requests without an Origin header (non browser clients) are always
// accepted.
func NewHandler(log *slog.Logger, lifecycle Lifecycle, allowedOrigin string,
	writeTimeout time.Duration, maxMessageSize int64) *Handler {
	return &Handler{
		log:       log,
		lifecycle: lifecycle,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return allowedOrigin == "" || origin == "" || origin == allowedOrigin
			},
		},
		writeTimeout:   writeTimeout,
		maxMessageSize: maxMessageSize,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("Websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	conn := NewConn(h.log, ws, h.writeTimeout)
	ctx := context.WithoutCancel(r.Context())

	session := h.lifecycle.Connect(ctx, conn, r.Header)
	err = conn.ReadLoop(h.maxMessageSize,
		func() { h.lifecycle.Pong(session) },
		func(payload []byte) { h.lifecycle.Receive(session, payload) },
	)
	if err != nil {
		h.log.Debug("Websocket read loop ended", "connection_id", conn.ID(), "err", err)
	}
	h.lifecycle.Disconnect(ctx, session)
}
