package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/meridian-crm/meridian/internal/admin"
	"github.com/meridian-crm/meridian/internal/audit"
	"github.com/meridian-crm/meridian/internal/auth"
	"github.com/meridian-crm/meridian/internal/customers"
	"github.com/meridian-crm/meridian/internal/impersonation"
	"github.com/meridian-crm/meridian/internal/platform/database"
	"github.com/meridian-crm/meridian/internal/platform/middleware"
	"github.com/meridian-crm/meridian/internal/platform/telemetry"
	"github.com/meridian-crm/meridian/internal/rbac"
	"github.com/meridian-crm/meridian/internal/tenancy"
	"github.com/meridian-crm/meridian/internal/tenant"
	"github.com/prometheus/client_golang/prometheus"
)

// Dependencies holds all injected dependencies for the server.
type Dependencies struct {
	Pool                 *database.Pool
	Auth                 *auth.TokenService
	DevPrincipal         *auth.Principal
	RBAC                 *rbac.Evaluator
	RBACAuditLogger      audit.Logger
	Pins                 tenancy.PinSource
	TenantHandler        *tenant.Handler
	UserHandler          *tenant.UserHandler
	RoleHandler          *tenant.RoleHandler
	CustomerHandler      *customers.Handler
	AdminHandler         *admin.Handler
	ImpersonationHandler *impersonation.Handler
	ImpersonationWatch   *impersonation.WatchHandler
	AuditHandler         *audit.Handler
	Metrics              *prometheus.Registry
	Logger               *slog.Logger
	CORSAllowedOrigins   []string
	RequestsPerMinute    int
	// ImpersonationStartsPerMinute throttles session starts per principal
	// ahead of the limiter's own quotas.
	ImpersonationStartsPerMinute int
}

type Server struct {
	httpServer   *http.Server
	protectedMux *http.ServeMux
	pool         *database.Pool
	handler      http.Handler
}

func New(addr string, deps Dependencies) *Server {
	// Protected routes mux, wrapped with auth, permission resolution and
	// tenant scope.
	protectedMux := http.NewServeMux()

	var protectedHandler http.Handler = protectedMux
	protectedHandler = tenancy.Middleware(deps.Pins)(protectedHandler)
	if deps.RBAC != nil {
		protectedHandler = rbac.ResolvePrincipal(deps.RBAC)(protectedHandler)
	}
	if deps.Auth != nil {
		protectedHandler = auth.MiddlewareWithDevMode(deps.Auth, deps.DevPrincipal)(protectedHandler)
	}
	protectedHandler = middleware.Throttle(deps.RequestsPerMinute)(protectedHandler)

	topMux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		protectedMux: protectedMux,
		pool:         deps.Pool,
	}

	// Public routes (no auth required)
	topMux.HandleFunc("GET /healthz", s.handleHealth)
	topMux.HandleFunc("GET /readyz", s.handleReadiness)
	if deps.Metrics != nil {
		topMux.Handle("GET /metrics", telemetry.MetricsHandler(deps.Metrics))
	}
	// Authenticates from ?access_token= since browsers cannot set headers
	// on a WebSocket upgrade.
	if deps.ImpersonationWatch != nil {
		topMux.HandleFunc("GET /api/v1/admin/impersonation/active/ws", deps.ImpersonationWatch.HandleWatchActive)
	}

	var rbacOpts []rbac.MiddlewareOption
	if deps.RBACAuditLogger != nil {
		rbacOpts = append(rbacOpts, rbac.WithAuditLogger(deps.RBACAuditLogger))
	}
	guard := func(permission string, fn http.HandlerFunc) http.Handler {
		return rbac.RequirePermission(deps.RBAC, permission, rbacOpts...)(fn)
	}

	// Platform admin routes (tenant provisioning)
	if deps.TenantHandler != nil {
		protectedMux.Handle("POST /api/v1/tenants", auth.RequireSuperAdmin(http.HandlerFunc(deps.TenantHandler.HandleCreate)))
		protectedMux.Handle("GET /api/v1/tenants/{id}", auth.RequireSuperAdmin(http.HandlerFunc(deps.TenantHandler.HandleGet)))
		protectedMux.Handle("GET /api/v1/tenants", auth.RequireSuperAdmin(http.HandlerFunc(deps.TenantHandler.HandleList)))
	}

	// Role routes (tenant-scoped, RBAC-protected)
	if deps.RoleHandler != nil && deps.RBAC != nil {
		protectedMux.Handle("POST /api/v1/roles", guard("manage_roles", deps.RoleHandler.HandleCreate))
		protectedMux.Handle("GET /api/v1/roles", guard("roles:read", deps.RoleHandler.HandleList))
		protectedMux.Handle("GET /api/v1/roles/{id}", guard("roles:read", deps.RoleHandler.HandleGet))
		protectedMux.Handle("PATCH /api/v1/roles/{id}", guard("manage_roles", deps.RoleHandler.HandleUpdate))
		protectedMux.Handle("DELETE /api/v1/roles/{id}", guard("manage_roles", deps.RoleHandler.HandleDelete))
	}

	// User routes (tenant-scoped, RBAC-protected)
	if deps.UserHandler != nil && deps.RBAC != nil {
		protectedMux.Handle("POST /api/v1/users", guard("manage_users", deps.UserHandler.HandleCreate))
		protectedMux.Handle("GET /api/v1/users", guard("users:read", deps.UserHandler.HandleList))
		protectedMux.Handle("GET /api/v1/users/{id}", guard("users:read", deps.UserHandler.HandleGet))
		protectedMux.Handle("PATCH /api/v1/users/{id}/role", guard("manage_users", deps.UserHandler.HandleUpdateRole))
	}

	// Customer routes (tenant-scoped, RBAC-protected)
	if deps.CustomerHandler != nil && deps.RBAC != nil {
		protectedMux.Handle("POST /api/v1/customers", guard("customers:create", deps.CustomerHandler.HandleCreate))
		protectedMux.Handle("GET /api/v1/customers", guard("customers:read", deps.CustomerHandler.HandleList))
		protectedMux.Handle("GET /api/v1/customers/{id}", guard("customers:read", deps.CustomerHandler.HandleGet))
	}

	// Audit routes
	if deps.AuditHandler != nil && deps.RBAC != nil {
		protectedMux.Handle("GET /api/v1/audit/events", guard("manage_audit", deps.AuditHandler.HandleListEvents))
	}

	// Admin portal reports
	if deps.AdminHandler != nil && deps.RBAC != nil {
		protectedMux.Handle("GET /api/v1/admin/metrics/tenants", guard("customers:read", deps.AdminHandler.HandleTenantMetrics))
	}

	// Impersonation routes (super-admin only)
	if h := deps.ImpersonationHandler; h != nil {
		superAdmin := func(fn http.HandlerFunc) http.Handler { return auth.RequireSuperAdmin(fn) }
		startThrottle := middleware.ThrottleBy(deps.ImpersonationStartsPerMinute, impersonation.PrincipalKey)

		protectedMux.Handle("POST /api/v1/admin/impersonation/sessions", auth.RequireSuperAdmin(startThrottle(http.HandlerFunc(h.HandleStart))))
		protectedMux.Handle("POST /api/v1/admin/impersonation/sessions/{id}/end", superAdmin(h.HandleEnd))
		protectedMux.Handle("GET /api/v1/admin/impersonation/status", superAdmin(h.HandleStatus))
		protectedMux.Handle("GET /api/v1/admin/impersonation/active", superAdmin(h.HandleActive))
		protectedMux.Handle("GET /api/v1/admin/impersonation/config", superAdmin(h.HandleGetConfig))
		protectedMux.Handle("PUT /api/v1/admin/impersonation/config", superAdmin(h.HandlePutConfig))
	}

	// All other routes go through auth middleware
	topMux.Handle("/", protectedHandler)

	var handler http.Handler = topMux
	if deps.Logger != nil {
		handler = middleware.Logging(deps.Logger)(handler)
	}
	handler = middleware.RequestID(handler)
	if len(deps.CORSAllowedOrigins) > 0 {
		handler = middleware.CORS(deps.CORSAllowedOrigins)(handler)
	}

	s.handler = handler
	s.httpServer.Handler = handler
	return s
}

// Handler returns the full middleware-wrapped handler chain (for testing).
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ProtectedMux returns the mux for authenticated routes.
func (s *Server) ProtectedMux() *http.ServeMux {
	return s.protectedMux
}

func (s *Server) Start(ctx context.Context) error {
	lc := net.ListenConfig{}
	listener, err := lc.Listen(ctx, "tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.httpServer.Addr, err)
	}

	slog.Info("server starting", "addr", listener.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadiness pings the database. Without one the server runs on
// in-process stores and is ready immediately.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if s.pool == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready", "storage": "memory"})
		return
	}

	if err := s.pool.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "database ping failed",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ready", "storage": "postgres"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
