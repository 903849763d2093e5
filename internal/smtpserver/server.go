// Package smtpserver runs a capturing SMTP sandbox. Every accepted
// submission is parsed and stored in the audit store instead of being
// relayed, so an operator can rehearse a dispatch run and inspect exactly
// what each recipient would receive.
package smtpserver

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/google/uuid"

	"github.com/digitalmanagernatu-cell/envios-masivos/internal/store"
)

const (
	defaultDomain = "envios-sandbox"
)

type AuthConfig struct {
	Enabled  bool
	Username string
	Password string
}

// CaptureFunc is notified after a submission has been stored.
type CaptureFunc func(message store.CapturedMessage, recipients []store.Recipient)

type Server struct {
	smtp   *smtp.Server
	logger *slog.Logger
}

func New(st *store.Store, logger *slog.Logger, addr string, authCfg AuthConfig, onCapture CaptureFunc) *Server {
	backend := &backend{
		store:        st,
		logger:       logger,
		onCapture:    onCapture,
		authEnabled:  authCfg.Enabled,
		authUsername: authCfg.Username,
		authPassword: authCfg.Password,
	}
	server := smtp.NewServer(backend)
	server.Addr = addr
	server.Domain = defaultDomain
	server.AllowInsecureAuth = true
	server.ReadTimeout = 15 * time.Second
	server.WriteTimeout = 15 * time.Second
	server.MaxRecipients = 100
	server.MaxMessageBytes = 25 << 20

	return &Server{smtp: server, logger: logger}
}

func (s *Server) ListenAndServe() error {
	s.logger.Info("sandbox smtp listening", "addr", s.smtp.Addr)
	return s.smtp.ListenAndServe()
}

// Serve accepts connections on l until Close is called.
func (s *Server) Serve(l net.Listener) error {
	s.logger.Info("sandbox smtp listening", "addr", l.Addr().String())
	return s.smtp.Serve(l)
}

func (s *Server) Close() error {
	return s.smtp.Close()
}

type backend struct {
	store        *store.Store
	logger       *slog.Logger
	onCapture    CaptureFunc
	authEnabled  bool
	authUsername string
	authPassword string
}

func (b *backend) NewSession(_ *smtp.Conn) (smtp.Session, error) {
	return &session{backend: b}, nil
}

type session struct {
	backend       *backend
	from          string
	to            []string
	authenticated bool
}

func (s *session) AuthMechanisms() []string {
	if s.backend.authEnabled {
		return []string{sasl.Plain}
	}
	return nil
}

func (s *session) Auth(mech string) (sasl.Server, error) {
	if !s.backend.authEnabled {
		return nil, errors.New("authentication not enabled")
	}
	if mech != sasl.Plain {
		return nil, errors.New("unsupported authentication mechanism")
	}
	return sasl.NewPlainServer(func(identity, username, password string) error {
		if username == s.backend.authUsername && password == s.backend.authPassword {
			s.authenticated = true
			return nil
		}
		return errors.New("invalid credentials")
	}), nil
}

func (s *session) Mail(from string, _ *smtp.MailOptions) error {
	if s.backend.authEnabled && !s.authenticated {
		return smtp.ErrAuthRequired
	}
	s.from = normalizeEmail(from)
	return nil
}

func (s *session) Rcpt(to string, _ *smtp.RcptOptions) error {
	if s.backend.authEnabled && !s.authenticated {
		return smtp.ErrAuthRequired
	}
	s.to = append(s.to, normalizeEmail(to))
	return nil
}

func (s *session) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	message, recipients, attachments, err := parseMessage(s.from, s.to, data)
	if err != nil {
		s.backend.logger.Warn("parse captured message", "error", err)
	}

	if err := s.backend.store.InsertCaptured(context.Background(), message, recipients, attachments); err != nil {
		s.backend.logger.Error("store captured message", "error", err)
		return err
	}
	s.backend.logger.Info("captured message",
		"id", message.ID,
		"from", message.From,
		"recipients", len(recipients),
		"attachments", len(attachments),
	)
	if s.backend.onCapture != nil {
		s.backend.onCapture(message, recipients)
	}
	return nil
}

func (s *session) Reset() {
	s.from = ""
	s.to = nil
}

func (s *session) Logout() error {
	return nil
}

func parseMessage(envelopeFrom string, envelopeTo []string, raw []byte) (store.CapturedMessage, []store.Recipient, []store.Attachment, error) {
	message := store.CapturedMessage{
		ID:        uuid.NewString(),
		From:      normalizeEmail(envelopeFrom),
		Raw:       raw,
		RawSize:   int64(len(raw)),
		CreatedAt: time.Now(),
	}

	seen := map[string]struct{}{}
	var recipients []store.Recipient
	addRecipient := func(rtype, email string) {
		if email == "" {
			return
		}
		key := rtype + "\x00" + email
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		recipients = append(recipients, store.Recipient{Email: email, Type: rtype})
	}
	for _, addr := range envelopeTo {
		addRecipient("to", normalizeEmail(addr))
	}

	var attachments []store.Attachment
	reader, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return message, recipients, attachments, err
	}

	if subject, err := reader.Header.Subject(); err == nil {
		message.Subject = subject
	}
	if message.From == "" {
		if fromList, err := reader.Header.AddressList("From"); err == nil && len(fromList) > 0 {
			message.From = normalizeEmail(fromList[0].Address)
		}
	}
	for _, header := range []string{"Cc", "Bcc"} {
		if list, err := reader.Header.AddressList(header); err == nil {
			for _, addr := range list {
				addRecipient(strings.ToLower(header), normalizeEmail(addr.Address))
			}
		}
	}

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return message, recipients, attachments, err
		}

		switch header := part.Header.(type) {
		case *mail.InlineHeader:
			mediaType, _, _ := header.ContentType()
			if !strings.HasPrefix(mediaType, "text/plain") && mediaType != "" {
				continue
			}
			body, err := io.ReadAll(part.Body)
			if err != nil {
				continue
			}
			if message.TextBody == "" {
				message.TextBody = string(body)
			} else {
				message.TextBody += "\n" + string(body)
			}
		case *mail.AttachmentHeader:
			filename, _ := header.Filename()
			if strings.TrimSpace(filename) == "" {
				filename = "attachment"
			}
			contentType, _, _ := header.ContentType()
			body, err := io.ReadAll(part.Body)
			if err != nil {
				continue
			}
			attachments = append(attachments, store.Attachment{
				Filename:    filename,
				ContentType: contentType,
				Data:        body,
				Size:        int64(len(body)),
			})
		}
	}

	return message, recipients, attachments, nil
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}
