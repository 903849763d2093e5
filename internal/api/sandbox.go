package api

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/digitalmanagernatu-cell/envios-masivos/internal/pagination"
	"github.com/digitalmanagernatu-cell/envios-masivos/internal/store"
)

type capturedSummary struct {
	ID             string   `json:"id"`
	From           string   `json:"from"`
	To             []string `json:"to"`
	Subject        string   `json:"subject"`
	CreatedAt      string   `json:"createdAt"`
	HasAttachments bool     `json:"hasAttachments"`
}

type capturedDetail struct {
	ID          string              `json:"id"`
	From        string              `json:"from"`
	To          []string            `json:"to"`
	Cc          []string            `json:"cc"`
	Bcc         []string            `json:"bcc"`
	Subject     string              `json:"subject"`
	Text        string              `json:"text"`
	CreatedAt   string              `json:"createdAt"`
	RawSize     int64               `json:"rawSize"`
	Attachments []attachmentSummary `json:"attachments"`
}

type attachmentSummary struct {
	ID          int64  `json:"id"`
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}

// handleSandboxMessages lists what the sandbox SMTP server captured,
// optionally for one recipient address.
func (s *Server) handleSandboxMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if _, err := s.sessionEmail(r); err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if s.store == nil {
		http.Error(w, "sandbox store unavailable", http.StatusServiceUnavailable)
		return
	}
	params := pagination.FromQuery(r.URL.Query())
	email := strings.TrimSpace(r.URL.Query().Get("email"))
	messages, total, err := s.store.ListCaptured(r.Context(), email, params.Offset, params.Limit)
	if err != nil {
		s.respondError(w, err)
		return
	}

	response := struct {
		Messages []capturedSummary `json:"messages"`
		Total    int32             `json:"total"`
		Page     int32             `json:"page"`
		Limit    int32             `json:"limit"`
		HasNext  bool              `json:"hasNext"`
	}{
		Messages: make([]capturedSummary, 0, len(messages)),
		Total:    total,
		Page:     params.Page,
		Limit:    params.Limit,
		HasNext:  pagination.HasNext(params.Offset, params.Limit, total),
	}
	for _, msg := range messages {
		response.Messages = append(response.Messages, capturedSummary{
			ID:             msg.ID,
			From:           msg.From,
			To:             append([]string{}, msg.To...),
			Subject:        msg.Subject,
			CreatedAt:      msg.CreatedAt.UTC().Format(time.RFC3339),
			HasAttachments: msg.HasAttachments,
		})
	}
	s.respondJSON(w, http.StatusOK, response)
}

// handleSandboxMessage serves /{id}, /{id}/raw and /{id}/attachments/{n}.
func (s *Server) handleSandboxMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if _, err := s.sessionEmail(r); err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if s.store == nil {
		http.Error(w, "sandbox store unavailable", http.StatusServiceUnavailable)
		return
	}

	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/sandbox/messages/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	message, recipients, attachments, err := s.store.GetCaptured(r.Context(), parts[0])
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		s.respondError(w, err)
		return
	}

	switch {
	case len(parts) == 1:
		s.respondJSON(w, http.StatusOK, toCapturedDetail(message, recipients, attachments))
	case len(parts) == 2 && parts[1] == "raw":
		w.Header().Set("Content-Type", "message/rfc822")
		w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=message-%s.eml", message.ID))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(message.Raw)
	case len(parts) == 3 && parts[1] == "attachments":
		attachmentID, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil {
			http.Error(w, "invalid attachment id", http.StatusBadRequest)
			return
		}
		for _, attachment := range attachments {
			if attachment.ID != attachmentID {
				continue
			}
			w.Header().Set("Content-Type", attachment.ContentType)
			w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", attachment.Filename))
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(attachment.Data)
			return
		}
		http.Error(w, "not found", http.StatusNotFound)
	default:
		http.NotFound(w, r)
	}
}

func toCapturedDetail(message store.CapturedMessage, recipients []store.Recipient, attachments []store.Attachment) capturedDetail {
	detail := capturedDetail{
		ID:          message.ID,
		From:        message.From,
		Subject:     message.Subject,
		Text:        message.TextBody,
		CreatedAt:   message.CreatedAt.UTC().Format(time.RFC3339),
		RawSize:     message.RawSize,
		To:          []string{},
		Cc:          []string{},
		Bcc:         []string{},
		Attachments: []attachmentSummary{},
	}
	for _, recipient := range recipients {
		switch recipient.Type {
		case "cc":
			detail.Cc = append(detail.Cc, recipient.Email)
		case "bcc":
			detail.Bcc = append(detail.Bcc, recipient.Email)
		default:
			detail.To = append(detail.To, recipient.Email)
		}
	}
	for _, attachment := range attachments {
		detail.Attachments = append(detail.Attachments, attachmentSummary{
			ID:          attachment.ID,
			Filename:    attachment.Filename,
			ContentType: attachment.ContentType,
			Size:        attachment.Size,
		})
	}
	return detail
}
