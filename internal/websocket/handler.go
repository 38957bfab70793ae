package websocket

import (
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"

	"github.com/viora/downloader/internal/auth"
	apperrors "github.com/viora/downloader/internal/errors"
	"github.com/viora/downloader/internal/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Handler handles WebSocket connections.
type Handler struct {
	hub         *Hub
	authService *auth.Service
	log         *logger.Logger
}

func NewHandler(hub *Hub, authService *auth.Service) *Handler {
	return &Handler{
		hub:         hub,
		authService: authService,
		log:         logger.Default().WithComponent("websocket"),
	}
}

// ServeWS upgrades the request and streams task updates. The token travels
// as ?token=<jwt> because browsers cannot set headers on websocket requests.
// ?task=<id> restricts the stream to one task.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	requestID := apperrors.GetRequestID(r.Context())

	if h.authService != nil && h.authService.Enabled() {
		token := r.URL.Query().Get("token")
		if token == "" {
			apperrors.WriteError(w, requestID, apperrors.Unauthorized("missing token parameter"))
			return
		}
		if _, err := h.authService.Authenticate(token); err != nil {
			apperrors.WriteError(w, requestID, auth.TokenError(err))
			return
		}
	}

	var taskID int64
	if v := r.URL.Query().Get("task"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			apperrors.WriteError(w, requestID, apperrors.ValidationError("task must be a positive integer"))
			return
		}
		taskID = id
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error(r.Context(), "websocket upgrade failed", err)
		return
	}

	client := NewClient(h.hub, conn, taskID)
	if !h.hub.add(client) {
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}
