package api

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/onnwee/discovery/internal/fairness"
	"github.com/onnwee/discovery/internal/middleware"
)

// ReportStreamHandlers pushes new fairness reports to admin websocket clients.
type ReportStreamHandlers struct {
	broadcaster *fairness.Broadcaster
	upgrader    websocket.Upgrader
}

// NewReportStreamHandlers creates a new ReportStreamHandlers instance.
// allowedOrigins restricts browser origins; empty allows any origin.
func NewReportStreamHandlers(broadcaster *fairness.Broadcaster, allowedOrigins []string) *ReportStreamHandlers {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return &ReportStreamHandlers{
		broadcaster: broadcaster,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return len(allowed) == 0 || origin == "" || allowed[origin]
			},
		},
	}
}

// Subscribe handles GET /admin/fairness/reports/stream.
func (h *ReportStreamHandlers) Subscribe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// Upgrade writes its own error response on failure.
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.WarnContext(ctx, "failed to upgrade websocket connection", "error", err)
		return
	}

	h.broadcaster.Subscribe(conn)

	requestID := middleware.GetRequestID(ctx)
	slog.InfoContext(ctx, "websocket client subscribed to fairness reports",
		"request_id", requestID,
		"actor_id", middleware.GetActorID(ctx),
	)

	defer func() {
		h.broadcaster.Unsubscribe(conn)
		conn.Close()
		slog.InfoContext(ctx, "websocket client unsubscribed", "request_id", requestID)
	}()

	// Clients never send; reading detects disconnection.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.WarnContext(ctx, "websocket connection closed unexpectedly", "error", err)
			}
			return
		}
	}
}
