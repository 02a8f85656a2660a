package rpcserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"knowthis/internal/chatclient"
	"knowthis/internal/logging"
	"knowthis/internal/metrics"
	"knowthis/internal/middleware"
	"knowthis/internal/model"
	"knowthis/internal/tools"
	"knowthis/internal/vectorstore"
)

const maxBodyBytes = 1 << 20 // 1 MiB (spec §4.9 Limits)

// Server is the single JSON-RPC endpoint (spec §4.9). It is safe for
// concurrent use; each request runs on its own goroutine via net/http.
type Server struct {
	registry       *tools.Registry
	sessions       *SessionStore
	whitelist      []string
	allowedOrigins []string
	chat           *chatclient.Client
	store          vectorstore.Store

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter
}

func New(registry *tools.Registry, sessions *SessionStore, whitelist, allowedOrigins []string, chat *chatclient.Client, store vectorstore.Store) *Server {
	return &Server{
		registry:       registry,
		sessions:       sessions,
		whitelist:      whitelist,
		allowedOrigins: allowedOrigins,
		chat:           chat,
		store:          store,
		limiters:       make(map[string]*rate.Limiter),
	}
}

// Router builds the full HTTP surface: the JSON-RPC endpoint plus the
// supplemental liveness/readiness/metrics endpoints kept from the teacher's
// main.go.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.LoggingMiddleware)
	r.Use(middleware.MetricsMiddleware)
	// A blunt global backstop ahead of the per-session limiter applied
	// inside handleRPC (spec §4.9 Limits): protects the process even if a
	// caller spreads load across many sessions.
	r.Use(middleware.RateLimitMiddleware(500, 1000))

	r.Handle("/rpc", middleware.APIRateLimitMiddleware()(http.HandlerFunc(s.handleRPC))).Methods("POST")
	r.HandleFunc("/rpc", s.handleOptions).Methods("OPTIONS")

	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.HandleFunc("/ready", s.handleReady).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// handleReady probes the vector store, which is the one dependency cheap
// enough to check on every readiness poll without borrowing rate-governor
// budget from real traffic (spec §9 "global singletons become a Service
// value" keeps the chat client itself ungoverned here).
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if _, err := s.store.Stats(ctx); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("vector store unreachable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Ready"))
}

func (s *Server) handleOptions(w http.ResponseWriter, r *http.Request) {
	s.setCORSHeaders(w, r)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) setCORSHeaders(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}
	for _, allowed := range s.allowedOrigins {
		if allowed == origin || allowed == "*" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, Mcp-Session-Id")
			w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
			return
		}
	}
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	defer s.recoverPanic(w)
	start := time.Now()

	s.setCORSHeaders(w, r)
	w.Header().Set("Content-Type", "application/json")

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeResponse(w, errorResponse(nil, codeMalformedRequest, "malformed request", nil), "malformed", start)
		return
	}

	if req.Method == "initialize" {
		s.handleInitialize(w, r, req, start)
		return
	}

	token, ok := bearerToken(r)
	if !ok || !validToken(token, s.whitelist) {
		s.writeResponse(w, errorResponse(req.ID, codeAuthFailed, "authentication failed", nil), req.Method, start)
		return
	}

	sessionID := r.Header.Get("Mcp-Session-Id")
	if sessionID == "" {
		s.writeResponse(w, errorResponse(req.ID, codeSessionInvalid, "session invalid", nil), req.Method, start)
		return
	}
	if _, err := s.sessions.Get(sessionID); err != nil {
		s.writeResponse(w, errorResponse(req.ID, codeSessionInvalid, "session invalid", nil), req.Method, start)
		return
	}

	if !s.allow(sessionID) {
		s.writeResponse(w, errorResponse(req.ID, codeUpstreamFailure, "rate limit exceeded",
			map[string]any{"provider": "self", "retryable": true}), req.Method, start)
		return
	}

	reqLogger := logging.RequestLogger(r.Context(), uuid.NewString(), req.Method, r.URL.Path)
	ctx := logging.ContextWithLogger(r.Context(), reqLogger)

	switch req.Method {
	case "tools/list":
		s.handleToolsList(w, req, start)
	case "tools/call":
		s.handleToolsCall(w, ctx, req, start)
	default:
		s.writeResponse(w, errorResponse(req.ID, codeMethodNotFound, "unknown method", nil), req.Method, start)
	}
}

// handleInitialize authenticates on its own terms: a missing/invalid token
// here rejects at the transport layer with HTTP 401, not a JSON-RPC error
// body (spec §4.9's per-endpoint split).
func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request, req Request, start time.Time) {
	token, ok := bearerToken(r)
	if !ok || !validToken(token, s.whitelist) {
		metrics.RPCRequestsTotal.WithLabelValues("initialize", "401").Inc()
		metrics.RPCRequestDuration.WithLabelValues("initialize").Observe(time.Since(start).Seconds())
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	sess, err := s.sessions.Create()
	if err != nil {
		s.writeResponse(w, errorResponse(req.ID, codeInternal, "failed to create session", nil), "initialize", start)
		return
	}

	result := InitializeResult{
		SessionID:    sess.SessionID,
		Capabilities: map[string]any{"tools": true},
		ServerInfo:   ServerInfo{Name: "knowthis", Version: "1.0.0"},
	}
	s.writeResponse(w, resultResponse(req.ID, result), "initialize", start)
}

func (s *Server) handleToolsList(w http.ResponseWriter, req Request, start time.Time) {
	s.writeResponse(w, resultResponse(req.ID, ToolsListResult{Tools: s.registry.List()}), "tools/list", start)
}

func (s *Server) handleToolsCall(w http.ResponseWriter, ctx context.Context, req Request, start time.Time) {
	var params ToolsCallParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			s.writeResponse(w, errorResponse(req.ID, codeInvalidParams, "invalid params", nil), "tools/call", start)
			return
		}
	}

	result, err := s.registry.Call(ctx, params.Name, params.Arguments)
	if err != nil {
		s.writeToolError(w, ctx, req, params.Name, err, start)
		return
	}
	s.writeResponse(w, resultResponse(req.ID, result), "tools/call:"+params.Name, start)
}

func (s *Server) writeToolError(w http.ResponseWriter, ctx context.Context, req Request, toolName string, err error, start time.Time) {
	label := "tools/call:" + toolName

	var nf *tools.NotFoundError
	if errors.As(err, &nf) {
		s.writeResponse(w, errorResponse(req.ID, codeMethodNotFound, "Method not found", nil), label, start)
		return
	}
	var ip *tools.InvalidParamsError
	if errors.As(err, &ip) {
		s.writeResponse(w, errorResponse(req.ID, codeInvalidParams, ip.Error(), nil), label, start)
		return
	}
	var me *model.Error
	if errors.As(err, &me) {
		s.writeResponse(w, errorResponse(req.ID, codeUpstreamFailure, me.Message,
			map[string]any{"provider": me.Provider, "retryable": me.Retryable}), label, start)
		return
	}

	logging.LoggerFromContext(ctx).Error("tool call failed", "tool", toolName, "error", err)
	s.writeResponse(w, errorResponse(req.ID, codeInternal, "internal error", nil), label, start)
}

func (s *Server) recoverPanic(w http.ResponseWriter) {
	if rec := recover(); rec != nil {
		slog.Error("rpc handler panic", "recovered", rec)
		metrics.RPCRequestsTotal.WithLabelValues("panic", "-32603").Inc()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(errorResponse(nil, codeInternal, "internal error", nil))
	}
}

func (s *Server) writeResponse(w http.ResponseWriter, resp Response, method string, start time.Time) {
	code := "0"
	if resp.Error != nil {
		code = strconv.Itoa(resp.Error.Code)
	}
	metrics.RPCRequestsTotal.WithLabelValues(method, code).Inc()
	metrics.RPCRequestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	json.NewEncoder(w).Encode(resp)
}

// allow applies a 60/min token bucket per session id (spec §4.9 Limits),
// lazily creating one limiter per session on first use.
func (s *Server) allow(sessionID string) bool {
	s.limiterMu.Lock()
	lim, ok := s.limiters[sessionID]
	if !ok {
		lim = rate.NewLimiter(rate.Every(time.Minute/60), 10)
		s.limiters[sessionID] = lim
	}
	s.limiterMu.Unlock()
	return lim.Allow()
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return "", false
	}
	return strings.TrimPrefix(h, prefix), true
}

