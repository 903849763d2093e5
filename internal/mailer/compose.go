// Package mailer builds letter emails and submits them over SMTP with
// STARTTLS and PLAIN authentication.
package mailer

import (
	"bytes"
	"fmt"
	"io"
	netmail "net/mail"
	"time"

	"github.com/emersion/go-message/mail"
)

// Message is a plain-text email carrying one PDF attachment.
type Message struct {
	From           string
	To             string
	Subject        string
	Body           string
	AttachmentName string
	Attachment     []byte
	Date           time.Time
}

// Compose renders msg as an RFC 5322 multipart message.
func Compose(msg Message) ([]byte, error) {
	from, err := netmail.ParseAddress(msg.From)
	if err != nil {
		return nil, fmt.Errorf("invalid sender address %q: %w", msg.From, err)
	}
	to, err := netmail.ParseAddress(msg.To)
	if err != nil {
		return nil, fmt.Errorf("invalid recipient address %q: %w", msg.To, err)
	}
	date := msg.Date
	if date.IsZero() {
		date = time.Now()
	}

	var h mail.Header
	h.SetDate(date)
	h.SetAddressList("From", []*mail.Address{from})
	h.SetAddressList("To", []*mail.Address{to})
	h.SetSubject(msg.Subject)
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("generate message id: %w", err)
	}

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}

	tw, err := mw.CreateInline()
	if err != nil {
		return nil, fmt.Errorf("create body: %w", err)
	}
	var th mail.InlineHeader
	th.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	th.Set("Content-Transfer-Encoding", "quoted-printable")
	bw, err := tw.CreatePart(th)
	if err != nil {
		return nil, fmt.Errorf("create body part: %w", err)
	}
	if _, err := io.WriteString(bw, msg.Body); err != nil {
		return nil, fmt.Errorf("write body: %w", err)
	}
	if err := bw.Close(); err != nil {
		return nil, fmt.Errorf("close body part: %w", err)
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("close body: %w", err)
	}

	var ah mail.AttachmentHeader
	ah.SetContentType("application/pdf", map[string]string{"name": msg.AttachmentName})
	ah.SetFilename(msg.AttachmentName)
	ah.Set("Content-Transfer-Encoding", "base64")
	aw, err := mw.CreateAttachment(ah)
	if err != nil {
		return nil, fmt.Errorf("create attachment: %w", err)
	}
	if _, err := aw.Write(msg.Attachment); err != nil {
		return nil, fmt.Errorf("write attachment: %w", err)
	}
	if err := aw.Close(); err != nil {
		return nil, fmt.Errorf("close attachment: %w", err)
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close message: %w", err)
	}
	return buf.Bytes(), nil
}
