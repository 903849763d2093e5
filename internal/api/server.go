package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/digitalmanagernatu-cell/envios-masivos/internal/auth"
	"github.com/digitalmanagernatu-cell/envios-masivos/internal/config"
	"github.com/digitalmanagernatu-cell/envios-masivos/internal/dispatch"
	"github.com/digitalmanagernatu-cell/envios-masivos/internal/documents"
	"github.com/digitalmanagernatu-cell/envios-masivos/internal/letters"
	"github.com/digitalmanagernatu-cell/envios-masivos/internal/mailer"
	"github.com/digitalmanagernatu-cell/envios-masivos/internal/pdf"
	"github.com/digitalmanagernatu-cell/envios-masivos/internal/recipients"
	"github.com/digitalmanagernatu-cell/envios-masivos/internal/report"
	"github.com/digitalmanagernatu-cell/envios-masivos/internal/session"
	"github.com/digitalmanagernatu-cell/envios-masivos/internal/sse"
	"github.com/digitalmanagernatu-cell/envios-masivos/internal/store"
)

const maxUploadBytes = 64 << 20

// ErrPasswordRequired is returned when a dispatch request carries no SMTP
// password for the operator's mailbox.
var ErrPasswordRequired = errors.New("smtp password is required")

// SenderFunc builds the transport used for one dispatch run. password is the
// one sent with the request; it is never read from configuration.
type SenderFunc func(from, password string, template mailer.Template) (dispatch.Sender, error)

type Server struct {
	cfg       config.Config
	store     *store.Store
	auth      *auth.Manager
	hub       *sse.Hub
	logger    *slog.Logger
	splitter  session.Splitter
	newSender SenderFunc
	baseCtx   context.Context
	mux       *http.ServeMux

	mu       sync.Mutex
	sessions map[string]*session.Session
}

func NewServer(cfg config.Config, store *store.Store, authManager *auth.Manager, hub *sse.Hub, splitter session.Splitter, logger *slog.Logger) *Server {
	server := &Server{
		cfg:      cfg,
		store:    store,
		auth:     authManager,
		hub:      hub,
		logger:   logger,
		splitter: splitter,
		sessions: make(map[string]*session.Session),
	}
	server.newSender = server.smtpSender

	mux := http.NewServeMux()
	mux.HandleFunc("/api/login", server.handleLogin)
	mux.HandleFunc("/api/logout", server.handleLogout)
	mux.HandleFunc("/api/me", server.handleMe)
	mux.HandleFunc("/api/documents/archive", server.handleArchiveUpload)
	mux.HandleFunc("/api/documents/combined", server.handleCombinedUpload)
	mux.HandleFunc("/api/documents", server.handleDocuments)
	mux.HandleFunc("/api/recipients", server.handleRecipientsUpload)
	mux.HandleFunc("/api/match", server.handleMatch)
	mux.HandleFunc("/api/matches", server.handleMatches)
	mux.HandleFunc("/api/matches/", server.handleMatchSelection)
	mux.HandleFunc("/api/unmatched/export", server.handleUnmatchedExport)
	mux.HandleFunc("/api/dispatch", server.handleDispatch)
	mux.HandleFunc("/api/dispatch/cancel", server.handleCancel)
	mux.HandleFunc("/api/log", server.handleLog)
	mux.HandleFunc("/api/log/export", server.handleLogExport)
	mux.HandleFunc("/api/summary", server.handleSummary)
	mux.HandleFunc("/api/stream", server.handleStream)
	mux.HandleFunc("/api/sandbox/messages", server.handleSandboxMessages)
	mux.HandleFunc("/api/sandbox/messages/", server.handleSandboxMessage)
	server.mux = mux
	return server
}

// WithContext sets the parent context of dispatch runs. Cancelling it
// cancels every run in progress.
func (s *Server) WithContext(ctx context.Context) *Server {
	s.baseCtx = ctx
	return s
}

// WithSender replaces the SMTP transport, e.g. to rehearse against the
// sandbox server.
func (s *Server) WithSender(fn SenderFunc) *Server {
	s.newSender = fn
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch path := r.URL.Path; {
	case strings.HasPrefix(path, "/api/"):
		s.mux.ServeHTTP(w, r)
	case path == "/health":
		s.respondText(w, http.StatusOK, "ok")
	case path == "/ready":
		s.handleReady(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if err := pdf.CheckAvailable(); err != nil {
		s.respondText(w, http.StatusOK, "ready (letter splitting unavailable: "+err.Error()+")")
		return
	}
	s.respondText(w, http.StatusOK, "ready")
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	email, err := auth.NormalizeEmail(payload.Email)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	now := time.Now()
	token, err := s.auth.Issue(email, now)
	if err != nil {
		http.Error(w, "unable to create session", http.StatusInternalServerError)
		return
	}
	s.setSessionCookie(w, token, now)
	s.logger.Info("operator signed in", "operator", email)
	s.respondJSON(w, http.StatusOK, map[string]string{"email": email})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     s.auth.CookieName(),
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	email, err := s.sessionEmail(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"email": email})
}

// workspace returns the caller's session, creating it on first use.
func (s *Server) workspace(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	email, err := s.sessionEmail(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[email]
	if !ok {
		sess = session.New(email, s.splitter, s.store, s.logger)
		s.sessions[email] = sess
	}
	return sess, true
}

func (s *Server) sessionEmail(r *http.Request) (string, error) {
	cookie, err := r.Cookie(s.auth.CookieName())
	if err != nil {
		return "", auth.ErrMissingToken
	}
	return s.auth.Parse(cookie.Value, time.Now())
}

func (s *Server) setSessionCookie(w http.ResponseWriter, value string, now time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.auth.CookieName(),
		Value:    value,
		Path:     "/",
		MaxAge:   int(s.auth.MaxAge().Seconds()),
		Expires:  now.Add(s.auth.MaxAge()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// respondError maps domain errors onto status codes. Input problems are the
// operator's to fix and get their message back verbatim.
func (s *Server) respondError(w http.ResponseWriter, err error) {
	var missing *recipients.MissingColumnsError
	switch {
	case errors.Is(err, session.ErrDispatchInProgress):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.As(err, &missing),
		errors.Is(err, documents.ErrInvalidArchive),
		errors.Is(err, letters.ErrMarkerNotFound),
		errors.Is(err, recipients.ErrUnsupportedFormat),
		errors.Is(err, recipients.ErrNoRecipients),
		errors.Is(err, recipients.ErrEmptyTable),
		errors.Is(err, session.ErrNoDocuments),
		errors.Is(err, session.ErrNoRecipients),
		errors.Is(err, session.ErrNothingSelected),
		errors.Is(err, session.ErrMatchOutOfRange),
		errors.Is(err, report.ErrUnknownFormat),
		errors.Is(err, ErrPasswordRequired):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, pdf.ErrToolNotFound):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		s.logger.Error("request failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) respondText(w http.ResponseWriter, status int, payload string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(payload))
}
