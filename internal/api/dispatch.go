package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/digitalmanagernatu-cell/envios-masivos/internal/dispatch"
	"github.com/digitalmanagernatu-cell/envios-masivos/internal/mailer"
	"github.com/digitalmanagernatu-cell/envios-masivos/internal/pagination"
	"github.com/digitalmanagernatu-cell/envios-masivos/internal/report"
	"github.com/digitalmanagernatu-cell/envios-masivos/internal/session"
	"github.com/digitalmanagernatu-cell/envios-masivos/internal/sse"
	"github.com/digitalmanagernatu-cell/envios-masivos/internal/store"
)

type dispatchRequest struct {
	Password        string `json:"password"`
	Subject         string `json:"subject"`
	Body            string `json:"body"`
	ThrottleSeconds *int   `json:"throttleSeconds"`
}

type entryView struct {
	Filename         string `json:"filename"`
	DestinationEmail string `json:"destinationEmail"`
	Status           string `json:"status"`
	ErrorMessage     string `json:"errorMessage"`
	Timestamp        string `json:"timestamp"`
}

type progressView struct {
	RunID    string    `json:"runId"`
	Position int       `json:"position"`
	Total    int       `json:"total"`
	Entry    entryView `json:"entry"`
}

type finishedView struct {
	RunID  string `json:"runId"`
	State  string `json:"state"`
	Sent   int    `json:"sent"`
	Failed int    `json:"failed"`
}

func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

func (s *Server) smtpSender(from, password string, template mailer.Template) (dispatch.Sender, error) {
	if password == "" {
		return nil, ErrPasswordRequired
	}
	// Validate already rejected a malformed timeout.
	timeout, _ := s.cfg.SMTPTimeout()
	client := mailer.NewClient(mailer.Config{
		Host:       s.cfg.SMTP.Host,
		Port:       s.cfg.SMTP.Port,
		Username:   from,
		Password:   password,
		RequireTLS: s.cfg.SMTP.RequireTLS,
		Timeout:    timeout,
	})
	return mailer.NewTransport(client, from, template), nil
}

func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sess, ok := s.workspace(w, r)
	if !ok {
		return
	}
	var payload dispatchRequest
	if err := decodeJSON(r, &payload); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	template := mailer.Template{Subject: payload.Subject, Body: payload.Body}
	if template.Subject == "" {
		template.Subject = s.cfg.Letters.Subject
	}
	if template.Body == "" {
		template.Body = s.cfg.Letters.Body
	}
	throttle := s.cfg.Throttle()
	if payload.ThrottleSeconds != nil {
		if *payload.ThrottleSeconds < 0 {
			http.Error(w, "throttleSeconds must not be negative", http.StatusBadRequest)
			return
		}
		throttle = time.Duration(*payload.ThrottleSeconds) * time.Second
	}

	operator := sess.Operator()
	sender, err := s.newSender(operator, payload.Password, template)
	if err != nil {
		s.respondError(w, err)
		return
	}
	observe := func(p dispatch.Progress) {
		s.hub.Publish(operator, sse.Event{Name: "progress", Data: progressView{
			RunID:    sess.RunID(),
			Position: p.Position,
			Total:    p.Total,
			Entry:    toEntryView(p.Entry),
		}})
	}
	done := func(rep session.RunReport) {
		view := finishedView{RunID: rep.RunID, State: string(rep.State)}
		for _, entry := range rep.Entries {
			if entry.Status == dispatch.StatusSent {
				view.Sent++
			} else {
				view.Failed++
			}
		}
		s.hub.Publish(operator, sse.Event{Name: "finished", Data: view})
	}

	runID, err := sess.Start(s.runContext(), sender, throttle, observe, done)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusAccepted, map[string]string{"runId": runID})
}

func (s *Server) runContext() context.Context {
	if s.baseCtx != nil {
		return s.baseCtx
	}
	return context.Background()
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sess, ok := s.workspace(w, r)
	if !ok {
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]bool{"cancelled": sess.Cancel()})
}

func (s *Server) handleLog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sess, ok := s.workspace(w, r)
	if !ok {
		return
	}
	params := pagination.FromQuery(r.URL.Query(),
		pagination.WithStatuses(string(dispatch.StatusSent), string(dispatch.StatusError)))

	var views []entryView
	var total int32
	if runID := sess.RunID(); s.store != nil && runID != "" {
		entries, count, err := s.store.ListEntries(r.Context(), runID, params.Status, params.Offset, params.Limit)
		if err != nil {
			s.respondError(w, err)
			return
		}
		for _, entry := range entries {
			views = append(views, entryView{
				Filename:         entry.DocumentID,
				DestinationEmail: entry.RecipientEmail,
				Status:           entry.Status,
				ErrorMessage:     entry.ErrorMessage,
				Timestamp:        entry.CreatedAt.Format(report.TimestampLayout),
			})
		}
		total = count
	} else {
		var filtered []dispatch.Entry
		for _, entry := range sess.Log() {
			if params.Status == "" || string(entry.Status) == params.Status {
				filtered = append(filtered, entry)
			}
		}
		start, end := pagination.Window(params, len(filtered))
		for _, entry := range filtered[start:end] {
			views = append(views, toEntryView(entry))
		}
		total = int32(len(filtered))
	}

	s.respondJSON(w, http.StatusOK, struct {
		RunID   string      `json:"runId"`
		State   string      `json:"state"`
		Entries []entryView `json:"entries"`
		Total   int32       `json:"total"`
		Page    int32       `json:"page"`
		Limit   int32       `json:"limit"`
		HasNext bool        `json:"hasNext"`
	}{
		RunID:   sess.RunID(),
		State:   string(sess.State()),
		Entries: append([]entryView{}, views...),
		Total:   total,
		Page:    params.Page,
		Limit:   params.Limit,
		HasNext: pagination.HasNext(params.Offset, params.Limit, total),
	})
}

func (s *Server) handleLogExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sess, ok := s.workspace(w, r)
	if !ok {
		return
	}
	format, err := report.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	var buf bytes.Buffer
	if err := report.WriteSendLog(&buf, format, sess.Log()); err != nil {
		s.respondError(w, err)
		return
	}
	writeDownload(w, format, report.SendLogFilename(time.Now(), format), buf.Bytes())
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sess, ok := s.workspace(w, r)
	if !ok {
		return
	}
	summary := sess.Summary()
	payload := map[string]any{
		"documents":  summary.Documents,
		"recipients": summary.Recipients,
		"matches":    summary.Matches,
		"selected":   summary.Selected,
		"unmatched":  summary.Unmatched,
		"sent":       summary.Sent,
		"failed":     summary.Failed,
		"state":      string(summary.State),
		"sending":    summary.Sending,
		"runId":      summary.RunID,
		"collisions": toCollisionViews(sess.Collisions()),
	}
	if s.store != nil && summary.RunID != "" {
		run, err := s.store.GetRun(r.Context(), summary.RunID)
		if err != nil {
			s.logger.Warn("load run", "run", summary.RunID, "error", err)
		} else {
			payload["run"] = toRunView(run)
		}
	}
	s.respondJSON(w, http.StatusOK, payload)
}

type runView struct {
	Total      int    `json:"total"`
	Sent       int    `json:"sent"`
	Failed     int    `json:"failed"`
	State      string `json:"state"`
	StartedAt  string `json:"startedAt"`
	FinishedAt string `json:"finishedAt,omitempty"`
}

func toRunView(run store.Run) runView {
	view := runView{
		Total:     run.Total,
		Sent:      run.Sent,
		Failed:    run.Failed,
		State:     run.State,
		StartedAt: run.StartedAt.Format(report.TimestampLayout),
	}
	if !run.FinishedAt.IsZero() {
		view.FinishedAt = run.FinishedAt.Format(report.TimestampLayout)
	}
	return view
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	email, err := s.sessionEmail(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, unsubscribe := s.hub.Subscribe(email)
	defer unsubscribe()
	s.logger.Debug("progress stream opened", "operator", email, "streams", s.hub.Subscribers(email))

	_, _ = sse.Event{Name: "ready", Data: struct{}{}}.WriteTo(w)
	flusher.Flush()

	ticker := time.NewTicker(20 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			if _, err := event.WriteTo(w); err != nil {
				s.logger.Warn("write event", "operator", email, "error", err)
				return
			}
			flusher.Flush()
		case <-ticker.C:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		}
	}
}

func toEntryView(entry dispatch.Entry) entryView {
	return entryView{
		Filename:         entry.DocumentID,
		DestinationEmail: entry.RecipientEmail,
		Status:           string(entry.Status),
		ErrorMessage:     entry.Error,
		Timestamp:        entry.Timestamp.Format(report.TimestampLayout),
	}
}
