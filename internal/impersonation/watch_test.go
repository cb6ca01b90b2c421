package impersonation_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/meridian-crm/meridian/internal/auth"
	"github.com/meridian-crm/meridian/internal/impersonation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTokens map[string]*auth.Principal

func (s stubTokens) ValidateToken(token string) (*auth.Principal, error) {
	if token == "expired" {
		return nil, auth.ErrTokenExpired
	}
	p, ok := s[token]
	if !ok {
		return nil, auth.ErrTokenInvalid
	}
	return p, nil
}

var watchTokens = stubTokens{
	"sa":    superAdmin(adminID),
	"agent": {UserID: userID, TenantID: tenantID, Role: "agent"},
}

type snapshot struct {
	Type     string                        `json:"type"`
	Sessions []impersonation.ActiveSession `json:"sessions"`
}

func TestWatchHandler_Rejections(t *testing.T) {
	limiter, _ := newLimiter(t, impersonation.DefaultConfig())
	h := impersonation.NewWatchHandler(limiter, watchTokens, 0, nil)

	tests := []struct {
		name   string
		target string
		want   int
	}{
		{"missing token", "/ws", http.StatusUnauthorized},
		{"invalid token", "/ws?access_token=bogus", http.StatusUnauthorized},
		{"expired token", "/ws?access_token=expired", http.StatusUnauthorized},
		{"not a super-admin", "/ws?access_token=agent", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.HandleWatchActive(w, httptest.NewRequest(http.MethodGet, tt.target, nil))
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestWatchHandler_StreamsActiveSessions(t *testing.T) {
	limiter, _ := newLimiter(t, impersonation.DefaultConfig())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := limiter.RecordSessionStart(ctx, startReq(adminID))
	require.NoError(t, err)

	h := impersonation.NewWatchHandler(limiter, watchTokens, 20*time.Millisecond, nil)
	srv := httptest.NewServer(http.HandlerFunc(h.HandleWatchActive))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?access_token=sa"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer func() { _ = conn.CloseNow() }()

	var first snapshot
	require.NoError(t, wsjson.Read(ctx, conn, &first))
	assert.Equal(t, "snapshot", first.Type)
	require.Len(t, first.Sessions, 1)
	assert.Equal(t, adminID, first.Sessions[0].SuperAdminID)

	_, err = limiter.RecordSessionStart(ctx, startReq(admin2ID))
	require.NoError(t, err)

	for {
		var next snapshot
		require.NoError(t, wsjson.Read(ctx, conn, &next))
		if len(next.Sessions) == 2 {
			break
		}
	}

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, ""))
}
