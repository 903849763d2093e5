package mailer

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

// DefaultTimeout bounds a whole submission: connect, TLS, auth and data.
const DefaultTimeout = 30 * time.Second

var ErrStartTLSUnsupported = errors.New("server does not offer STARTTLS")

// Stage names the step of a submission that failed.
type Stage string

const (
	StageCompose Stage = "compose"
	StageConnect Stage = "connect"
	StageTLS     Stage = "starttls"
	StageAuth    Stage = "auth"
	StageSubmit  Stage = "submit"
)

// SendError wraps any failure of a submission.
type SendError struct {
	Stage Stage
	Err   error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("smtp %s: %v", e.Stage, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	// RequireTLS fails the submission when the server does not offer
	// STARTTLS. When false the upgrade is opportunistic.
	RequireTLS bool
	Timeout    time.Duration
	LocalName  string
	TLSConfig  *tls.Config
}

type Client struct {
	cfg Config
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.LocalName == "" {
		cfg.LocalName = "localhost"
	}
	return &Client{cfg: cfg}
}

// Send submits msg to a single recipient.
func (c *Client) Send(ctx context.Context, msg Message) error {
	raw, err := Compose(msg)
	if err != nil {
		return &SendError{Stage: StageCompose, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	addr := net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return &SendError{Stage: StageConnect, Err: err}
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client := smtp.NewClient(conn)
	defer client.Close()
	client.CommandTimeout = c.cfg.Timeout
	client.SubmissionTimeout = c.cfg.Timeout

	if err := client.Hello(c.cfg.LocalName); err != nil {
		return &SendError{Stage: StageConnect, Err: err}
	}

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(c.tlsConfig()); err != nil {
			return &SendError{Stage: StageTLS, Err: err}
		}
	} else if c.cfg.RequireTLS {
		return &SendError{Stage: StageTLS, Err: ErrStartTLSUnsupported}
	}

	if c.cfg.Password != "" {
		auth := sasl.NewPlainClient("", c.cfg.Username, c.cfg.Password)
		if err := client.Auth(auth); err != nil {
			return &SendError{Stage: StageAuth, Err: err}
		}
	}

	if err := client.SendMail(msg.From, []string{msg.To}, bytes.NewReader(raw)); err != nil {
		return &SendError{Stage: StageSubmit, Err: err}
	}
	// The server has accepted the message; a failed QUIT does not undo that.
	_ = client.Quit()
	return nil
}

func (c *Client) tlsConfig() *tls.Config {
	if c.cfg.TLSConfig != nil {
		return c.cfg.TLSConfig
	}
	return &tls.Config{ServerName: c.cfg.Host, MinVersion: tls.VersionTLS12}
}
