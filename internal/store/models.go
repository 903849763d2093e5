package store

import "time"

// Run is one dispatch run as recorded in the audit trail.
type Run struct {
	ID         string
	Operator   string
	State      string
	Total      int
	Sent       int
	Failed     int
	StartedAt  time.Time
	FinishedAt time.Time
}

// LogEntry is one persisted send outcome. Position is the dispatch order
// within its run.
type LogEntry struct {
	RunID          string
	Position       int
	DocumentID     string
	RecipientEmail string
	Status         string
	ErrorMessage   string
	CreatedAt      time.Time
}

// CapturedMessage is a submission accepted by the sandbox SMTP server.
type CapturedMessage struct {
	ID        string
	From      string
	Subject   string
	TextBody  string
	Raw       []byte
	RawSize   int64
	CreatedAt time.Time
}

type Recipient struct {
	Email string
	Type  string
}

type Attachment struct {
	ID          int64
	MessageID   string
	Filename    string
	ContentType string
	Data        []byte
	Size        int64
}

type CapturedSummary struct {
	ID             string
	From           string
	Subject        string
	CreatedAt      time.Time
	HasAttachments bool
	To             []string
}
