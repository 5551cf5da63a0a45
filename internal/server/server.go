package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/GriffinCanCode/screenwatch/internal/config"
	apperrors "github.com/GriffinCanCode/screenwatch/internal/errors"
	"github.com/GriffinCanCode/screenwatch/internal/frame"
	"github.com/GriffinCanCode/screenwatch/internal/orchestrator"
	"github.com/GriffinCanCode/screenwatch/internal/orchestrator/alert"
	"github.com/GriffinCanCode/screenwatch/internal/orchestrator/history"
	"github.com/GriffinCanCode/screenwatch/internal/screen"
	"github.com/GriffinCanCode/screenwatch/internal/trace"
)

// Controller is the Manager surface the server drives.
type Controller interface {
	Status() orchestrator.Status
	RequestStart(ctx context.Context) error
	RequestStop(ctx context.Context) error
	SetTarget(ctx context.Context, t screen.Target) (frame.Region, error)
	SetRegion(ctx context.Context, r *frame.Region) error
	Displays() []frame.Region
	CloseAlert(id uuid.UUID) bool
	SetRemote(r orchestrator.Remote, chatID string)
	History() *history.Store
}

// Options configure the server's collaborators.
type Options struct {
	CredentialsFile string
	Credentials     *config.Credentials
	Sound           alert.Sound
	// NewRemote builds a notifier and command source from credentials.
	NewRemote func(config.Credentials) orchestrator.Remote
}

// Inbound websocket message types.
type Message struct {
	Type string `json:"type"`
}

type CloseMessage struct {
	Type    string    `json:"type"`
	ID      uuid.UUID `json:"id"`
	TraceID string    `json:"trace_id,omitempty"`
}

type AnswerMessage struct {
	Type    string    `json:"type"`
	ID      uuid.UUID `json:"id"`
	Restart bool      `json:"restart"`
	TraceID string    `json:"trace_id,omitempty"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// Server handles HTTP and WebSocket connections.
type Server struct {
	ctrl Controller
	hub  *Hub
	opts Options

	mu    sync.RWMutex
	creds *config.Credentials
}

// New creates a new server.
func New(ctrl Controller, hub *Hub, opts Options) *Server {
	s := &Server{ctrl: ctrl, hub: hub, opts: opts}
	if opts.Credentials != nil {
		c := *opts.Credentials
		s.creds = &c
	}
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// WebSocket endpoint
	mux.HandleFunc("/ws", s.handleWebSocket)

	// REST API
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("POST /api/monitoring/start", s.handleStart)
	mux.HandleFunc("POST /api/monitoring/stop", s.handleStop)
	mux.HandleFunc("PUT /api/target", s.handleTarget)
	mux.HandleFunc("PUT /api/region", s.handleRegion)
	mux.HandleFunc("GET /api/displays", s.handleDisplays)
	mux.HandleFunc("GET /api/alerts", s.handleAlerts)
	mux.HandleFunc("POST /api/alert/close", s.handleAlertClose)
	mux.HandleFunc("POST /api/alert/answer", s.handleAlertAnswer)
	mux.HandleFunc("POST /api/sound/test", s.handleSoundTest)
	mux.HandleFunc("POST /api/telegram/test", s.handleTelegramTest)
	mux.HandleFunc("GET /api/telegram/config", s.handleTelegramGet)
	mux.HandleFunc("PUT /api/telegram/config", s.handleTelegramPut)
	mux.HandleFunc("DELETE /api/telegram/config", s.handleTelegramDelete)

	// Apply middleware: trace -> CORS
	return corsMiddleware(trace.Middleware(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		trace.Logger(r.Context()).Error("websocket accept error", "error", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	cl := s.hub.add(conn, r.RemoteAddr)
	defer s.hub.remove(conn)

	ctx := r.Context()
	log := trace.Logger(ctx)
	log.Info("websocket connected", "remote", r.RemoteAddr)

	go cl.writeLoop(ctx)
	cl.send(EventMessage{Type: history.KindState, Payload: s.ctrl.Status().State})

	for {
		var msg json.RawMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			log.Debug("websocket read error", "error", err)
			return
		}

		if !cl.limiter.allow() {
			log.Warn("rate limit exceeded", "remote", r.RemoteAddr)
			cl.send(ErrorMessage{Type: "error", Message: "rate limit exceeded"})
			continue
		}

		var base Message
		if err := json.Unmarshal(msg, &base); err != nil {
			continue
		}

		// A client-supplied trace_id continues the client's trace
		mlog := log
		if tc, ok := trace.ExtractFromJSON(msg); ok {
			mlog = trace.Logger(trace.WithContext(ctx, tc))
		}

		switch base.Type {
		case "close":
			var m CloseMessage
			if err := json.Unmarshal(msg, &m); err != nil {
				continue
			}
			mlog.Info("alert close requested", "alert_id", m.ID)
			if !s.ctrl.CloseAlert(m.ID) {
				cl.send(ErrorMessage{Type: "error", Message: "no open alert"})
			}
		case "answer":
			var m AnswerMessage
			if err := json.Unmarshal(msg, &m); err != nil {
				continue
			}
			mlog.Info("restart answer received", "alert_id", m.ID, "restart", m.Restart)
			if !s.hub.Answer(m.ID, m.Restart) {
				cl.send(ErrorMessage{Type: "error", Message: "no pending question"})
			}
		}
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.RequestStart(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.RequestStop(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

type targetRequest struct {
	Display int           `json:"display"`
	Rect    *frame.Region `json:"rect"`
}

func (s *Server) handleTarget(w http.ResponseWriter, r *http.Request) {
	var req targetRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	resolved, err := s.ctrl.SetTarget(r.Context(), screen.Target{Display: req.Display, Rect: req.Rect})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"target": resolved})
}

type regionRequest struct {
	Region *frame.Region `json:"region"`
}

func (s *Server) handleRegion(w http.ResponseWriter, r *http.Request) {
	var req regionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.ctrl.SetRegion(r.Context(), req.Region); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"region": req.Region})
}

func (s *Server) handleDisplays(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"displays": s.ctrl.Displays()})
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	limit := DefaultAlertsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, r, apperrors.Newf(apperrors.InvalidArgument, "limit %q must be a positive integer", v))
			return
		}
		limit = min(n, MaxAlertsLimit)
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": s.ctrl.History().List(limit)})
}

type alertRequest struct {
	ID      uuid.UUID `json:"id"`
	Restart bool      `json:"restart"`
}

func (s *Server) handleAlertClose(w http.ResponseWriter, r *http.Request) {
	var req alertRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if !s.ctrl.CloseAlert(req.ID) {
		writeJSON(w, http.StatusNotFound, ErrorMessage{Type: "error", Message: "no open alert"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

func (s *Server) handleAlertAnswer(w http.ResponseWriter, r *http.Request) {
	var req alertRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if !s.hub.Answer(req.ID, req.Restart) {
		writeJSON(w, http.StatusNotFound, ErrorMessage{Type: "error", Message: "no pending question"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"restart": req.Restart})
}

func (s *Server) handleSoundTest(w http.ResponseWriter, r *http.Request) {
	if s.opts.Sound == nil {
		writeError(w, r, apperrors.New(apperrors.Unavailable, "sound is disabled"))
		return
	}
	if err := s.opts.Sound.Play(r.Context()); err != nil {
		writeError(w, r, apperrors.Wrap(err, apperrors.Unavailable, "play alert tone"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "played"})
}

func (s *Server) handleTelegramTest(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	creds := s.creds
	s.mu.RUnlock()
	if creds == nil || s.opts.NewRemote == nil {
		writeError(w, r, apperrors.New(apperrors.ConfigMissing, "telegram is not configured"))
		return
	}
	if err := s.opts.NewRemote(*creds).SendText(r.Context(), alert.TestMessage); err != nil {
		writeError(w, r, apperrors.Wrap(err, apperrors.Notifier, "send test message"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

type telegramConfigResponse struct {
	Configured  bool `json:"configured"`
	BotTokenSet bool `json:"bot_token_set"`
	ChatIDSet   bool `json:"chat_id_set"`
}

func (s *Server) handleTelegramGet(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	c := s.creds
	s.mu.RUnlock()
	resp := telegramConfigResponse{}
	if c != nil {
		resp.BotTokenSet, resp.ChatIDSet = c.BotToken != "", c.ChatID != ""
		resp.Configured = c.Valid()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTelegramPut(w http.ResponseWriter, r *http.Request) {
	var c config.Credentials
	if err := decodeBody(r, &c); err != nil {
		writeError(w, r, err)
		return
	}
	if err := config.SaveCredentials(s.opts.CredentialsFile, c); err != nil {
		writeError(w, r, err)
		return
	}
	saved, err := config.LoadCredentials(s.opts.CredentialsFile)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if saved == nil {
		writeError(w, r, apperrors.New(apperrors.ConfigMissing, "credentials file disappeared after save"))
		return
	}

	s.mu.Lock()
	s.creds = saved
	s.mu.Unlock()
	if s.opts.NewRemote != nil {
		s.ctrl.SetRemote(s.opts.NewRemote(*saved), saved.ChatID)
	}
	trace.Logger(r.Context()).Info("telegram credentials updated")
	writeJSON(w, http.StatusOK, telegramConfigResponse{Configured: true, BotTokenSet: true, ChatIDSet: true})
}

func (s *Server) handleTelegramDelete(w http.ResponseWriter, r *http.Request) {
	if err := config.RemoveCredentials(s.opts.CredentialsFile); err != nil {
		writeError(w, r, err)
		return
	}
	s.mu.Lock()
	s.creds = nil
	s.mu.Unlock()
	s.ctrl.SetRemote(nil, "")
	trace.Logger(r.Context()).Info("telegram credentials removed")
	writeJSON(w, http.StatusOK, telegramConfigResponse{})
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return apperrors.Wrap(err, apperrors.InvalidArgument, "invalid request body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// httpStatus maps error codes to HTTP status codes.
var httpStatus = map[apperrors.Code]int{
	apperrors.InvalidArgument: http.StatusBadRequest,
	apperrors.ConfigInvalid:   http.StatusBadRequest,
	apperrors.ConfigMissing:   http.StatusPreconditionFailed,
	apperrors.NoTarget:        http.StatusConflict,
	apperrors.AlreadyRunning:  http.StatusConflict,
	apperrors.NotRunning:      http.StatusConflict,
	apperrors.Capture:         http.StatusServiceUnavailable,
	apperrors.Unavailable:     http.StatusServiceUnavailable,
	apperrors.Notifier:        http.StatusBadGateway,
	apperrors.Timeout:         http.StatusGatewayTimeout,
	apperrors.Cancelled:       http.StatusServiceUnavailable,
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := apperrors.CodeOf(err)
	status, ok := httpStatus[code]
	if !ok {
		status = http.StatusInternalServerError
	}
	if status >= 500 {
		trace.Logger(r.Context()).Error("request failed", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, ErrorMessage{Type: "error", Code: code.String(), Message: err.Error()})
}
