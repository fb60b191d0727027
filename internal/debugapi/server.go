package debugapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/agentworkforce/courierlink/internal/api"
	"github.com/agentworkforce/courierlink/internal/intent"
	"github.com/agentworkforce/courierlink/internal/intentstore"
	"github.com/agentworkforce/courierlink/internal/navigation"
	"github.com/agentworkforce/courierlink/internal/pushrecv"
	"github.com/agentworkforce/courierlink/internal/readiness"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type Navigator interface {
	pushrecv.Handler
	ManualTrigger(ctx context.Context, targetID string) (navigation.Result, error)
}

type PendingStore interface {
	Load(ctx context.Context, purpose intent.Purpose) (*intentstore.Record, error)
	Clear(ctx context.Context, purpose intent.Purpose) error
}

// StackReporter exposes the current navigation stack, e.g. *navigation.StackRouter.
type StackReporter interface {
	Stack() []navigation.Route
	Back() bool
}

// SessionController signs the running process in and out, e.g. *shell.App.
type SessionController interface {
	Login(ctx context.Context, email, password string) (*api.Profile, error)
	Logout(ctx context.Context) error
	HasSession(ctx context.Context) bool
}

type Deps struct {
	Navigator Navigator
	Pending   PendingStore
	Gate      *readiness.Gate
	Stack     StackReporter
	Session   SessionController
	Logger    logrus.FieldLogger
}

type Config struct {
	// HMACSecret, when set, is required to sign every /v1 request. The
	// session routes refuse to work without it.
	HMACSecret string
	// DevMode enables the routes that simulate pushes or override readiness.
	DevMode      bool
	MaxSkew      time.Duration
	MaxBodyBytes int64
	Now          func() time.Time
}

type Server struct {
	deps   Deps
	cfg    Config
	router *mux.Router
	replay *replayGuard
}

func NewServer(deps Deps, cfg Config) *Server {
	if cfg.MaxSkew <= 0 {
		cfg.MaxSkew = 5 * time.Minute
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 64 << 10
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}
	s := &Server{deps: deps, cfg: cfg, replay: newReplayGuard(cfg.MaxSkew)}

	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.Use(s.withBodyLimit, s.withSignature)
	v1.HandleFunc("/debug/trigger", s.handleTrigger).Methods(http.MethodPost)
	v1.HandleFunc("/debug/pending", s.handleListPending).Methods(http.MethodGet)
	v1.HandleFunc("/debug/pending/{purpose}", s.handleClearPending).Methods(http.MethodDelete)
	v1.HandleFunc("/debug/readiness", s.handleGetReadiness).Methods(http.MethodGet)
	v1.HandleFunc("/debug/readiness", s.handlePutReadiness).Methods(http.MethodPut)
	v1.HandleFunc("/debug/stack", s.handleStack).Methods(http.MethodGet)
	v1.HandleFunc("/debug/stack/back", s.handleStackBack).Methods(http.MethodPost)
	v1.HandleFunc("/push/{event}", s.handlePush).Methods(http.MethodPost)
	v1.HandleFunc("/session/login", s.handleLogin).Methods(http.MethodPost)
	v1.HandleFunc("/session/logout", s.handleLogout).Methods(http.MethodPost)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "route not found", getCorrelationID(r))
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed", getCorrelationID(r))
	})
	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if getCorrelationID(r) == "" {
		r.Header.Set("X-Correlation-Id", uuid.NewString())
	}
	w.Header().Set("X-Correlation-Id", getCorrelationID(r))
	s.router.ServeHTTP(w, r)
}

func (s *Server) withBodyLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) withSignature(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.HMACSecret == "" {
			next.ServeHTTP(w, r)
			return
		}
		correlationID := getCorrelationID(r)
		body, ok := readRequestBody(w, r, correlationID)
		if !ok {
			return
		}
		now := s.cfg.Now().UTC()
		timestamp := r.Header.Get(timestampHeader)
		signature := r.Header.Get(signatureHeader)
		if authErr := verifyHMAC(s.cfg.HMACSecret, timestamp, signature, body, now, s.cfg.MaxSkew); authErr != nil {
			writeError(w, authErr.status, authErr.code, authErr.message, correlationID)
			return
		}
		if !s.replay.markSeen(timestamp, signature, now) {
			writeError(w, http.StatusUnauthorized, "unauthorized", "request replay detected", correlationID)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	correlationID := getCorrelationID(r)
	var req struct {
		TargetID string `json:"targetId"`
	}
	if !decodeOptionalJSONBody(w, r, correlationID, &req) {
		return
	}
	result, err := s.deps.Navigator.ManualTrigger(r.Context(), req.TargetID)
	if errors.Is(err, navigation.ErrManualTriggerDisabled) {
		writeError(w, http.StatusForbidden, "dev_mode_required", err.Error(), correlationID)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), correlationID)
		return
	}
	writeJSON(w, statusForResult(result), result)
}

func (s *Server) handleListPending(w http.ResponseWriter, r *http.Request) {
	correlationID := getCorrelationID(r)
	out := map[intent.Purpose]*intentstore.Record{}
	for _, purpose := range []intent.Purpose{intent.PurposeGeneric, intent.PurposePostAuthorization} {
		record, err := s.deps.Pending.Load(r.Context(), purpose)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), correlationID)
			return
		}
		out[purpose] = record
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleClearPending(w http.ResponseWriter, r *http.Request) {
	correlationID := getCorrelationID(r)
	purpose, ok := intent.ParsePurpose(mux.Vars(r)["purpose"])
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_request", "unknown purpose", correlationID)
		return
	}
	if err := s.deps.Pending.Clear(r.Context(), purpose); err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), correlationID)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetReadiness(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Gate.State())
}

func (s *Server) handlePutReadiness(w http.ResponseWriter, r *http.Request) {
	correlationID := getCorrelationID(r)
	if !s.requireDevMode(w, correlationID) {
		return
	}
	var req struct {
		NavigationSurfaceReady *bool `json:"navigationSurfaceReady"`
		SessionAuthorized      *bool `json:"sessionAuthorized"`
	}
	if !decodeJSONBody(w, r, correlationID, &req) {
		return
	}
	if req.SessionAuthorized != nil && *req.SessionAuthorized && !s.hasSession(r.Context()) {
		writeError(w, http.StatusConflict, "no_session", "cannot authorize without a stored session", correlationID)
		return
	}
	current := s.deps.Gate.State()
	if req.NavigationSurfaceReady != nil {
		current.NavigationSurfaceReady = *req.NavigationSurfaceReady
	}
	if req.SessionAuthorized != nil {
		current.SessionAuthorized = *req.SessionAuthorized
	}
	transition := s.deps.Gate.SetState(current.NavigationSurfaceReady, current.SessionAuthorized)
	s.deps.Logger.WithFields(logrus.Fields{
		"surface_ready": transition.Current.NavigationSurfaceReady,
		"authorized":    transition.Current.SessionAuthorized,
	}).Info("readiness overridden via debug api")
	writeJSON(w, http.StatusOK, map[string]any{
		"previous":    transition.Previous,
		"current":     transition.Current,
		"becameReady": transition.BecameReady(),
	})
}

func (s *Server) handleStack(w http.ResponseWriter, r *http.Request) {
	if s.deps.Stack == nil {
		writeError(w, http.StatusNotImplemented, "not_implemented", "router does not expose its stack", getCorrelationID(r))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"routes": s.deps.Stack.Stack()})
}

func (s *Server) handleStackBack(w http.ResponseWriter, r *http.Request) {
	correlationID := getCorrelationID(r)
	if !s.requireDevMode(w, correlationID) {
		return
	}
	if s.deps.Stack == nil {
		writeError(w, http.StatusNotImplemented, "not_implemented", "router does not expose its stack", correlationID)
		return
	}
	popped := s.deps.Stack.Back()
	writeJSON(w, http.StatusOK, map[string]any{"popped": popped, "routes": s.deps.Stack.Stack()})
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	correlationID := getCorrelationID(r)
	if !s.requireDevMode(w, correlationID) {
		return
	}
	var payload intent.Payload
	if !decodeJSONBody(w, r, correlationID, &payload) {
		return
	}
	msg := pushrecv.Message{Event: pushrecv.Event(mux.Vars(r)["event"]), Payload: payload}
	result, err := pushrecv.Deliver(r.Context(), s.deps.Navigator, msg)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error(), correlationID)
		return
	}
	writeJSON(w, statusForResult(result), result)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	correlationID := getCorrelationID(r)
	if !s.requireSessionRoutes(w, correlationID) {
		return
	}
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decodeJSONBody(w, r, correlationID, &req) {
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "email and password are required", correlationID)
		return
	}
	profile, err := s.deps.Session.Login(r.Context(), req.Email, req.Password)
	if errors.Is(err, api.ErrInvalidCredentials) {
		writeError(w, http.StatusUnauthorized, "invalid_credentials", err.Error(), correlationID)
		return
	}
	if err != nil {
		writeError(w, http.StatusBadGateway, "upstream_error", err.Error(), correlationID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"profile": profile, "readiness": s.deps.Gate.State()})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	correlationID := getCorrelationID(r)
	if !s.requireSessionRoutes(w, correlationID) {
		return
	}
	if err := s.deps.Session.Logout(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), correlationID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"readiness": s.deps.Gate.State()})
}

func (s *Server) requireDevMode(w http.ResponseWriter, correlationID string) bool {
	if s.cfg.DevMode {
		return true
	}
	writeError(w, http.StatusForbidden, "dev_mode_required", "route is only available in dev mode", correlationID)
	return false
}

func (s *Server) requireSessionRoutes(w http.ResponseWriter, correlationID string) bool {
	if s.deps.Session == nil {
		writeError(w, http.StatusNotImplemented, "not_implemented", "session control is not wired", correlationID)
		return false
	}
	if s.cfg.HMACSecret == "" {
		writeError(w, http.StatusForbidden, "signing_required", "session routes need debug.secret", correlationID)
		return false
	}
	return true
}

func (s *Server) hasSession(ctx context.Context) bool {
	return s.deps.Session != nil && s.deps.Session.HasSession(ctx)
}

func statusForResult(result navigation.Result) int {
	if result.Outcome == navigation.OutcomeDropped {
		return http.StatusOK
	}
	return http.StatusAccepted
}

func getCorrelationID(r *http.Request) string {
	return r.Header.Get("X-Correlation-Id")
}

func readRequestBody(w http.ResponseWriter, r *http.Request, correlationID string) ([]byte, bool) {
	if r.Body == nil {
		return nil, true
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body exceeds configured limit", correlationID)
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "bad_request", "failed to read request body", correlationID)
		return nil, false
	}
	return body, true
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, correlationID string, dst any) bool {
	body, ok := readRequestBody(w, r, correlationID)
	if !ok {
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body", correlationID)
		return false
	}
	return true
}

func decodeOptionalJSONBody(w http.ResponseWriter, r *http.Request, correlationID string, dst any) bool {
	body, ok := readRequestBody(w, r, correlationID)
	if !ok {
		return false
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return true
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body", correlationID)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message, correlationID string) {
	writeJSON(w, status, map[string]any{
		"code":          code,
		"message":       message,
		"correlationId": correlationID,
	})
}
