// Package dispatch mails selected letters one at a time with a fixed pause
// between sends and an ordered log of every attempt.
package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/digitalmanagernatu-cell/envios-masivos/internal/documents"
	"github.com/digitalmanagernatu-cell/envios-masivos/internal/match"
	"github.com/digitalmanagernatu-cell/envios-masivos/internal/recipients"
)

type Status string

const (
	StatusSent  Status = "Sent"
	StatusError Status = "Error"
)

type State string

const (
	StateIdle      State = "Idle"
	StateRunning   State = "Running"
	StateCompleted State = "Completed"
	StateCancelled State = "Cancelled"
)

const errDocumentNotFound = "document not found"

// Entry is the outcome of one attempted send.
type Entry struct {
	DocumentID     string
	RecipientEmail string
	Status         Status
	Error          string
	Timestamp      time.Time
}

// Sender delivers one document to one recipient. A nil error means the
// server accepted the message.
type Sender interface {
	Send(ctx context.Context, doc documents.Document, recipient recipients.Recipient) error
}

// Documents resolves a document by identifier.
type Documents interface {
	Get(id string) (documents.Document, bool)
}

// Progress is reported after every logged entry.
type Progress struct {
	Position int
	Total    int
	Entry    Entry
}

type Observer func(Progress)

type Report struct {
	State   State
	Entries []Entry
}

// Pauser waits for d unless ctx ends or cancel closes first.
type Pauser func(ctx context.Context, d time.Duration, cancel <-chan struct{})

type Pipeline struct {
	sender   Sender
	throttle time.Duration
	logger   *slog.Logger
	pause    Pauser
	now      func() time.Time
}

func New(sender Sender, throttle time.Duration, logger *slog.Logger) *Pipeline {
	if throttle < 0 {
		throttle = 0
	}
	return &Pipeline{
		sender:   sender,
		throttle: throttle,
		logger:   logger,
		pause:    sleep,
		now:      time.Now,
	}
}

// Run sends selected in order. The token is polled before each item and
// reset once the run ends; a done ctx counts as a cancel request.
func (p *Pipeline) Run(ctx context.Context, selected []match.Result, docs Documents, cancel *CancelToken, observe Observer) Report {
	if cancel == nil {
		cancel = NewCancelToken()
	}
	defer cancel.Reset()

	entries := make([]Entry, 0, len(selected))
	total := len(selected)
	p.logger.Info("dispatch started", "total", total, "throttle", p.throttle)

	state := StateCompleted
	for i, item := range selected {
		if cancel.Requested() || ctx.Err() != nil {
			state = StateCancelled
			break
		}

		entry := p.process(ctx, item, docs)
		entries = append(entries, entry)
		if observe != nil {
			observe(Progress{Position: i + 1, Total: total, Entry: entry})
		}

		if i < total-1 && !cancel.Requested() && p.throttle > 0 {
			p.pause(ctx, p.throttle, cancel.Done())
		}
	}

	p.logger.Info("dispatch finished", "state", state, "logged", len(entries), "total", total)
	return Report{State: state, Entries: entries}
}

// process attempts one item. The entry is stamped when the attempt starts.
func (p *Pipeline) process(ctx context.Context, item match.Result, docs Documents) Entry {
	entry := Entry{DocumentID: item.DocumentID, RecipientEmail: item.Recipient.Email, Timestamp: p.now()}

	doc, ok := docs.Get(item.DocumentID)
	if !ok {
		entry.Status = StatusError
		entry.Error = errDocumentNotFound
		p.logger.Warn("send skipped", "document", item.DocumentID, "error", entry.Error)
		return entry
	}

	err := p.sender.Send(ctx, doc, item.Recipient)
	if err != nil {
		entry.Status = StatusError
		entry.Error = err.Error()
		p.logger.Warn("send failed", "document", item.DocumentID, "to", item.Recipient.Email, "error", err)
		return entry
	}
	entry.Status = StatusSent
	p.logger.Info("letter sent", "document", item.DocumentID, "to", item.Recipient.Email)
	return entry
}

func sleep(ctx context.Context, d time.Duration, cancel <-chan struct{}) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	case <-cancel:
	}
}
