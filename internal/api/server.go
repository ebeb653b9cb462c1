package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"chronicle/internal/events"
	"chronicle/internal/ledger"
	"chronicle/internal/session"

	"github.com/gorilla/websocket"
)

type Server struct {
	httpServer *http.Server
	sessionSvc *session.Service
	authToken  string
	security   SecurityConfig

	ingestLimiter      *windowLimiter
	authFailureCounter *windowCounter
}

func New(addr string, authToken string, sessionSvc *session.Service, securityCfg ...SecurityConfig) *Server {
	cfg := defaultSecurityConfig()
	if len(securityCfg) > 0 {
		cfg = normalizeSecurityConfig(securityCfg[0])
	}
	s := &Server{
		sessionSvc:         sessionSvc,
		authToken:          authToken,
		security:           cfg,
		ingestLimiter:      newWindowLimiter(cfg.IngestRateLimit, cfg.IngestRateWindow),
		authFailureCounter: newWindowCounter(cfg.AuthFailureAlertWindow),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/api/v1/sessions", s.withAuth(s.handleSessions))
	mux.HandleFunc("/api/v1/sessions/", s.withAuth(s.handleSessionByID))

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) Start() error {
	log.Printf("chronicle listening on %s", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.authenticate(r); err != nil {
			s.auditf(r, "auth_failed", "invalid bearer token")
			s.maybeAlertAuthFailure(r)
			writeJSON(w, http.StatusUnauthorized, map[string]any{
				"error": map[string]any{
					"code":    "unauthorized",
					"message": err.Error(),
				},
			})
			return
		}
		s.authFailureCounter.Reset(s.clientIP(r))
		next(w, r)
	}
}

func (s *Server) authenticate(r *http.Request) error {
	if s.authToken == "" {
		return nil
	}
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	if authHeader == "" {
		return fmt.Errorf("missing or invalid bearer token")
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return fmt.Errorf("missing or invalid bearer token")
	}
	if strings.TrimSpace(parts[1]) != s.authToken {
		return fmt.Errorf("missing or invalid bearer token")
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req session.RegisterRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
			return
		}
		rec, err := s.sessionSvc.Register(r.Context(), req)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusCreated, rec)
	case http.MethodGet:
		workspaceID := strings.TrimSpace(r.URL.Query().Get("workspace_id"))
		limit := queryInt64(r, "limit")
		items, err := s.sessionSvc.List(r.Context(), workspaceID, limit)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
	}
}

func (s *Server) handleSessionByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/sessions/")
	path = strings.Trim(path, "/")
	if path == "" {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "session id missing"})
		return
	}
	parts := strings.Split(path, "/")
	sessionID := parts[0]

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
			return
		}
		rec, err := s.sessionSvc.Get(r.Context(), sessionID)
		if err != nil {
			writeJSON(w, statusFor(err), map[string]any{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, rec)
		return
	}

	switch parts[1] {
	case "events":
		switch r.Method {
		case http.MethodGet:
			s.handleListEvents(w, r, sessionID)
		case http.MethodPost:
			s.handleIngest(w, r, sessionID)
		default:
			writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		}
	case "transcript":
		if r.Method != http.MethodGet {
			writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
			return
		}
		msgs, err := s.sessionSvc.Transcript(r.Context(), sessionID)
		if err != nil {
			writeJSON(w, statusFor(err), map[string]any{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
	case "snapshot":
		if r.Method != http.MethodGet {
			writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
			return
		}
		snap, err := s.sessionSvc.Snapshot(r.Context(), sessionID)
		if err != nil {
			writeJSON(w, statusFor(err), map[string]any{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, snap)
	case "stream":
		if r.Method != http.MethodGet {
			writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
			return
		}
		s.handleStream(w, r, sessionID)
	default:
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "unknown action"})
	}
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request, sessionID string) {
	ok, attempts, retryAfter := s.ingestLimiter.Allow(s.clientIP(r), time.Now().UTC())
	if !ok {
		retrySec := int(retryAfter.Seconds())
		if retrySec < 1 {
			retrySec = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retrySec))
		s.auditf(r, "ingest_rate_limited", fmt.Sprintf("attempts=%d retry_after=%ds", attempts, retrySec))
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error": map[string]any{
				"code":    "rate_limited",
				"message": "too many ingest requests",
			},
		})
		return
	}

	var ev events.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	if ev.SessionID == "" {
		ev.SessionID = sessionID
	}
	if ev.SessionID != sessionID {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "sessionId does not match path"})
		return
	}
	stored, err := s.sessionSvc.Ingest(r.Context(), ev)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, stored)
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request, sessionID string) {
	fromSeq := queryInt64(r, "from_seq")
	limit := queryInt64(r, "limit")
	items, err := s.sessionSvc.Events(r.Context(), sessionID, fromSeq, limit)
	if err != nil {
		writeJSON(w, statusFor(err), map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleStream replays the stored log from from_seq, then forwards live
// events until the client goes away. Events arriving between the replay
// read and the subscription are deduplicated by sequence.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request, sessionID string) {
	sub, unsub, err := s.sessionSvc.Subscribe(r.Context(), sessionID)
	if err != nil {
		writeJSON(w, statusFor(err), map[string]any{"error": err.Error()})
		return
	}
	defer unsub()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	fromSeq := queryInt64(r, "from_seq")
	lastSeq, err := s.sessionSvc.Replay(r.Context(), sessionID, fromSeq, func(ev events.Event) error {
		return conn.WriteJSON(ev)
	})
	if err != nil {
		return
	}

	for ev := range sub {
		if ev.Sequence > 0 && ev.Sequence <= lastSeq {
			continue
		}
		if err := conn.WriteJSON(ev); err != nil {
			return
		}
	}
}

func statusFor(err error) int {
	if errors.Is(err, ledger.ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func queryInt64(r *http.Request, key string) int64 {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return 0
}

func (s *Server) clientIP(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); v != "" {
		parts := strings.Split(v, ",")
		if len(parts) > 0 {
			if ip := strings.TrimSpace(parts[0]); ip != "" {
				return ip
			}
		}
	}
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if h, _, err := net.SplitHostPort(host); err == nil && h != "" {
		return h
	}
	return host
}

func (s *Server) auditf(r *http.Request, event, detail string) {
	log.Printf(
		"audit event=%s ip=%s method=%s path=%s detail=%q",
		event, s.clientIP(r), r.Method, r.URL.Path, detail,
	)
}

func (s *Server) maybeAlertAuthFailure(r *http.Request) {
	ip := s.clientIP(r)
	n := s.authFailureCounter.Inc(ip, time.Now().UTC())
	if n >= s.security.AuthFailureAlertLimit {
		log.Printf(
			"security_alert event=auth_fail_burst ip=%s failures=%d window_sec=%d",
			ip, n, int(s.security.AuthFailureAlertWindow.Seconds()),
		)
	}
}

func writeJSON(w http.ResponseWriter, status int, obj any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(obj)
}
