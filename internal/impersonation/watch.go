package impersonation

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/meridian-crm/meridian/internal/auth"
)

// TokenValidator validates a raw access token.
type TokenValidator interface {
	ValidateToken(token string) (*auth.Principal, error)
}

const defaultWatchInterval = 5 * time.Second

// WatchHandler streams the open sessions of every super-admin over a
// WebSocket so the admin portal can show them live.
type WatchHandler struct {
	limiter  *Limiter
	tokens   TokenValidator
	interval time.Duration
	origins  []string
}

// NewWatchHandler pushes a snapshot on connect and then every interval.
// origins restricts the upgrade to the given origin patterns.
func NewWatchHandler(limiter *Limiter, tokens TokenValidator, interval time.Duration, origins []string) *WatchHandler {
	if interval <= 0 {
		interval = defaultWatchInterval
	}
	return &WatchHandler{limiter: limiter, tokens: tokens, interval: interval, origins: origins}
}

type watchMessage struct {
	Type     string          `json:"type"`
	Sessions []ActiveSession `json:"sessions"`
	Message  string          `json:"message,omitempty"`
	At       time.Time       `json:"at"`
}

// HandleWatchActive upgrades to a WebSocket. Browsers cannot set headers
// on the upgrade request, so the access token comes in ?access_token=.
// GET /api/v1/admin/impersonation/active/ws
func (h *WatchHandler) HandleWatchActive(w http.ResponseWriter, r *http.Request) {
	rawToken := r.URL.Query().Get("access_token")
	if rawToken == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing access_token"})
		return
	}

	p, err := h.tokens.ValidateToken(rawToken)
	if err != nil {
		msg := "invalid token"
		if errors.Is(err, auth.ErrTokenExpired) {
			msg = "token expired"
		}
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": msg})
		return
	}
	if !p.IsSuperAdmin {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "super-admin access required"})
		return
	}

	opts := &websocket.AcceptOptions{}
	if len(h.origins) > 0 {
		opts.OriginPatterns = h.origins
	}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}
	defer func() { _ = conn.CloseNow() }()

	// Long-lived connection: lift the server's write timeout.
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	// Clients only listen; CloseRead cancels ctx once they hang up.
	ctx := conn.CloseRead(auth.WithPrincipal(r.Context(), p))
	if err := h.stream(ctx, conn); err != nil {
		slog.Debug("impersonation watch closed", "user_id", p.UserID, "error", err)
		return
	}
	_ = conn.Close(websocket.StatusNormalClosure, "")
}

func (h *WatchHandler) stream(ctx context.Context, conn *websocket.Conn) error {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		if err := h.push(ctx, conn); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (h *WatchHandler) push(ctx context.Context, conn *websocket.Conn) error {
	msg := watchMessage{Type: "snapshot", At: h.limiter.now()}
	sessions, err := h.limiter.GetActiveSessions(ctx)
	if err != nil {
		msg = watchMessage{Type: "error", Message: "listing active sessions failed", At: msg.At}
	} else {
		msg.Sessions = sessions
	}

	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return wsjson.Write(writeCtx, conn, msg)
}
