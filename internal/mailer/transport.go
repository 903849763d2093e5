package mailer

import (
	"context"
	"time"

	"github.com/digitalmanagernatu-cell/envios-masivos/internal/documents"
	"github.com/digitalmanagernatu-cell/envios-masivos/internal/recipients"
)

// Template is the subject and body shared by every letter of a run.
type Template struct {
	Subject string
	Body    string
}

// Submitter delivers one composed message.
type Submitter interface {
	Send(ctx context.Context, msg Message) error
}

// Transport mails a document to a recipient as <id>.pdf using a fixed
// sender and template.
type Transport struct {
	submitter Submitter
	from      string
	template  Template
	now       func() time.Time
}

func NewTransport(submitter Submitter, from string, template Template) *Transport {
	return &Transport{submitter: submitter, from: from, template: template, now: time.Now}
}

func (t *Transport) Send(ctx context.Context, doc documents.Document, recipient recipients.Recipient) error {
	return t.submitter.Send(ctx, Message{
		From:           t.from,
		To:             recipient.Email,
		Subject:        t.template.Subject,
		Body:           t.template.Body,
		AttachmentName: AttachmentName(doc.ID),
		Attachment:     doc.Content,
		Date:           t.now(),
	})
}

// AttachmentName is the filename a recipient sees for a document.
func AttachmentName(documentID string) string {
	return documentID + ".pdf"
}
