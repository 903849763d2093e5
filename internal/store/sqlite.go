package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

// Open opens the audit database. An empty path keeps everything in memory
// for the lifetime of the process.
func Open(ctx context.Context, path string) (*Store, error) {
	trimmed := strings.TrimSpace(path)
	inMemory := false
	if trimmed == "" {
		trimmed = ":memory:"
		inMemory = true
	}
	if strings.Contains(trimmed, "mode=memory") || trimmed == ":memory:" || trimmed == "file::memory:" {
		inMemory = true
	}
	db, err := sql.Open("sqlite", trimmed)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON;"); err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if !inMemory {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
			return nil, fmt.Errorf("enable WAL: %w", err)
		}
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS runs (
            id TEXT PRIMARY KEY,
            operator TEXT NOT NULL,
            state TEXT NOT NULL,
            total INTEGER NOT NULL,
            sent INTEGER NOT NULL DEFAULT 0,
            failed INTEGER NOT NULL DEFAULT 0,
            started_at INTEGER NOT NULL,
            finished_at INTEGER
        );`,
		`CREATE TABLE IF NOT EXISTS log_entries (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            run_id TEXT NOT NULL,
            position INTEGER NOT NULL,
            document_id TEXT NOT NULL,
            recipient_email TEXT NOT NULL,
            status TEXT NOT NULL,
            error_message TEXT NOT NULL,
            created_at INTEGER NOT NULL,
            FOREIGN KEY(run_id) REFERENCES runs(id) ON DELETE CASCADE
        );`,
		`CREATE TABLE IF NOT EXISTS captured_messages (
            id TEXT PRIMARY KEY,
            from_email TEXT NOT NULL,
            subject TEXT NOT NULL,
            text_body TEXT,
            raw BLOB NOT NULL,
            raw_size INTEGER NOT NULL,
            created_at INTEGER NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS captured_recipients (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            message_id TEXT NOT NULL,
            email TEXT NOT NULL,
            type TEXT NOT NULL,
            FOREIGN KEY(message_id) REFERENCES captured_messages(id) ON DELETE CASCADE
        );`,
		`CREATE TABLE IF NOT EXISTS captured_attachments (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            message_id TEXT NOT NULL,
            filename TEXT NOT NULL,
            content_type TEXT NOT NULL,
            data BLOB NOT NULL,
            size INTEGER NOT NULL,
            FOREIGN KEY(message_id) REFERENCES captured_messages(id) ON DELETE CASCADE
        );`,
		`CREATE INDEX IF NOT EXISTS idx_log_entries_run ON log_entries(run_id, position);`,
		`CREATE INDEX IF NOT EXISTS idx_log_entries_run_status ON log_entries(run_id, status);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);`,
		`CREATE INDEX IF NOT EXISTS idx_captured_recipients_email ON captured_recipients(email);`,
		`CREATE INDEX IF NOT EXISTS idx_captured_recipients_message ON captured_recipients(message_id);`,
		`CREATE INDEX IF NOT EXISTS idx_captured_messages_created ON captured_messages(created_at, id);`,
	}

	for _, statement := range statements {
		if _, err := s.db.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func (s *Store) CreateRun(ctx context.Context, run Run) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO runs (id, operator, state, total, started_at)
        VALUES (?, ?, ?, ?, ?);`,
		run.ID, run.Operator, run.State, run.Total, run.StartedAt.Unix())
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// AppendEntry records one outcome and bumps the run's counters in the same
// transaction.
func (s *Store) AppendEntry(ctx context.Context, entry LogEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT INTO log_entries
        (run_id, position, document_id, recipient_email, status, error_message, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?);`,
		entry.RunID,
		entry.Position,
		entry.DocumentID,
		entry.RecipientEmail,
		entry.Status,
		entry.ErrorMessage,
		entry.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert log entry: %w", err)
	}

	counter := "sent"
	if entry.Status != "Sent" {
		counter = "failed"
	}
	if _, err := tx.ExecContext(ctx, `UPDATE runs SET `+counter+` = `+counter+` + 1 WHERE id = ?;`, entry.RunID); err != nil {
		return fmt.Errorf("update run counters: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit log entry: %w", err)
	}
	return nil
}

func (s *Store) FinishRun(ctx context.Context, id, state string, finishedAt time.Time) error {
	result, err := s.db.ExecContext(ctx, `UPDATE runs SET state = ?, finished_at = ? WHERE id = ?;`,
		state, finishedAt.Unix(), id)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *Store) GetRun(ctx context.Context, id string) (Run, error) {
	var run Run
	var startedAt int64
	var finishedAt sql.NullInt64
	row := s.db.QueryRowContext(ctx, `SELECT id, operator, state, total, sent, failed, started_at, finished_at
        FROM runs WHERE id = ?;`, id)
	if err := row.Scan(&run.ID, &run.Operator, &run.State, &run.Total, &run.Sent, &run.Failed, &startedAt, &finishedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, sql.ErrNoRows
		}
		return Run{}, fmt.Errorf("get run: %w", err)
	}
	run.StartedAt = time.Unix(startedAt, 0)
	if finishedAt.Valid {
		run.FinishedAt = time.Unix(finishedAt.Int64, 0)
	}
	return run, nil
}

// ListEntries pages through a run's log in dispatch order. An empty status
// returns every entry.
func (s *Store) ListEntries(ctx context.Context, runID, status string, offset, limit int32) ([]LogEntry, int32, error) {
	if limit <= 0 {
		limit = 10
	}
	if offset < 0 {
		offset = 0
	}

	whereQuery := " WHERE run_id = ?"
	args := []any{runID}
	if status != "" {
		whereQuery += " AND status = ?"
		args = append(args, status)
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM log_entries"+whereQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count log entries: %w", err)
	}

	listArgs := append([]any{}, args...)
	listArgs = append(listArgs, limit, offset)
	rows, err := s.db.QueryContext(ctx, `SELECT run_id, position, document_id, recipient_email, status, error_message, created_at
        FROM log_entries`+whereQuery+` ORDER BY position ASC LIMIT ? OFFSET ?;`, listArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("list log entries: %w", err)
	}
	defer rows.Close()

	var entries []LogEntry
	for rows.Next() {
		var entry LogEntry
		var createdAt int64
		if err := rows.Scan(
			&entry.RunID,
			&entry.Position,
			&entry.DocumentID,
			&entry.RecipientEmail,
			&entry.Status,
			&entry.ErrorMessage,
			&createdAt,
		); err != nil {
			return nil, 0, fmt.Errorf("scan log entry: %w", err)
		}
		entry.CreatedAt = time.Unix(createdAt, 0)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list log entries: %w", err)
	}
	return entries, int32(total), nil
}

func (s *Store) InsertCaptured(ctx context.Context, message CapturedMessage, recipients []Recipient, attachments []Attachment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT INTO captured_messages
        (id, from_email, subject, text_body, raw, raw_size, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?);`,
		message.ID,
		message.From,
		message.Subject,
		message.TextBody,
		message.Raw,
		message.RawSize,
		message.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert captured message: %w", err)
	}

	for _, recipient := range recipients {
		_, err = tx.ExecContext(ctx, `INSERT INTO captured_recipients (message_id, email, type)
            VALUES (?, ?, ?);`, message.ID, recipient.Email, recipient.Type)
		if err != nil {
			return fmt.Errorf("insert recipient: %w", err)
		}
	}

	for _, attachment := range attachments {
		_, err = tx.ExecContext(ctx, `INSERT INTO captured_attachments
            (message_id, filename, content_type, data, size)
            VALUES (?, ?, ?, ?, ?);`,
			message.ID,
			attachment.Filename,
			attachment.ContentType,
			attachment.Data,
			attachment.Size,
		)
		if err != nil {
			return fmt.Errorf("insert attachment: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit captured message: %w", err)
	}
	return nil
}

// ListCaptured returns the newest sandbox submissions first. A non-empty
// email restricts the list to messages addressed to it.
func (s *Store) ListCaptured(ctx context.Context, email string, offset, limit int32) ([]CapturedSummary, int32, error) {
	if limit <= 0 {
		limit = 10
	}
	if offset < 0 {
		offset = 0
	}

	whereQuery := ""
	args := []any{}
	if email = strings.TrimSpace(strings.ToLower(email)); email != "" {
		whereQuery = " WHERE EXISTS (SELECT 1 FROM captured_recipients r WHERE r.message_id = m.id AND r.email = ?)"
		args = append(args, email)
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM captured_messages m"+whereQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count captured messages: %w", err)
	}

	listArgs := append([]any{}, args...)
	listArgs = append(listArgs, limit, offset)
	rows, err := s.db.QueryContext(ctx, `SELECT m.id, m.from_email, m.subject, m.created_at,
        EXISTS(SELECT 1 FROM captured_attachments a WHERE a.message_id = m.id)
        FROM captured_messages m`+whereQuery+` ORDER BY m.created_at DESC, m.id DESC LIMIT ? OFFSET ?;`, listArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("list captured messages: %w", err)
	}
	defer rows.Close()

	var messages []CapturedSummary
	var ids []string
	for rows.Next() {
		var summary CapturedSummary
		var createdAt int64
		if err := rows.Scan(&summary.ID, &summary.From, &summary.Subject, &createdAt, &summary.HasAttachments); err != nil {
			return nil, 0, fmt.Errorf("scan captured message: %w", err)
		}
		summary.CreatedAt = time.Unix(createdAt, 0)
		messages = append(messages, summary)
		ids = append(ids, summary.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list captured messages: %w", err)
	}

	recipients, err := s.listRecipients(ctx, ids)
	if err != nil {
		return nil, 0, err
	}
	for i := range messages {
		messages[i].To = recipients[messages[i].ID]
	}
	return messages, int32(total), nil
}

func (s *Store) GetCaptured(ctx context.Context, id string) (CapturedMessage, []Recipient, []Attachment, error) {
	var message CapturedMessage
	var createdAt int64
	row := s.db.QueryRowContext(ctx, `SELECT id, from_email, subject, text_body, raw, raw_size, created_at
        FROM captured_messages WHERE id = ?;`, id)
	if err := row.Scan(
		&message.ID,
		&message.From,
		&message.Subject,
		&message.TextBody,
		&message.Raw,
		&message.RawSize,
		&createdAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CapturedMessage{}, nil, nil, sql.ErrNoRows
		}
		return CapturedMessage{}, nil, nil, fmt.Errorf("get captured message: %w", err)
	}
	message.CreatedAt = time.Unix(createdAt, 0)

	recipients, err := s.getRecipients(ctx, id)
	if err != nil {
		return CapturedMessage{}, nil, nil, err
	}
	attachments, err := s.getAttachments(ctx, id)
	if err != nil {
		return CapturedMessage{}, nil, nil, err
	}
	return message, recipients, attachments, nil
}

func (s *Store) getRecipients(ctx context.Context, messageID string) ([]Recipient, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT email, type FROM captured_recipients WHERE message_id = ? ORDER BY id;`, messageID)
	if err != nil {
		return nil, fmt.Errorf("get recipients: %w", err)
	}
	defer rows.Close()

	var recipients []Recipient
	for rows.Next() {
		var recipient Recipient
		if err := rows.Scan(&recipient.Email, &recipient.Type); err != nil {
			return nil, fmt.Errorf("get recipients: %w", err)
		}
		recipients = append(recipients, recipient)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get recipients: %w", err)
	}
	return recipients, nil
}

func (s *Store) getAttachments(ctx context.Context, messageID string) ([]Attachment, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, message_id, filename, content_type, data, size
        FROM captured_attachments WHERE message_id = ? ORDER BY id;`, messageID)
	if err != nil {
		return nil, fmt.Errorf("get attachments: %w", err)
	}
	defer rows.Close()

	var attachments []Attachment
	for rows.Next() {
		var attachment Attachment
		if err := rows.Scan(&attachment.ID, &attachment.MessageID, &attachment.Filename, &attachment.ContentType, &attachment.Data, &attachment.Size); err != nil {
			return nil, fmt.Errorf("get attachments: %w", err)
		}
		attachments = append(attachments, attachment)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get attachments: %w", err)
	}
	return attachments, nil
}

func (s *Store) listRecipients(ctx context.Context, messageIDs []string) (map[string][]string, error) {
	if len(messageIDs) == 0 {
		return map[string][]string{}, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(messageIDs)), ",")
	query := fmt.Sprintf(`SELECT message_id, email FROM captured_recipients WHERE message_id IN (%s) AND type = 'to' ORDER BY id;`, placeholders)

	args := make([]any, len(messageIDs))
	for i, id := range messageIDs {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list recipients: %w", err)
	}
	defer rows.Close()

	result := make(map[string][]string)
	for rows.Next() {
		var messageID, email string
		if err := rows.Scan(&messageID, &email); err != nil {
			return nil, fmt.Errorf("list recipients: %w", err)
		}
		result[messageID] = append(result[messageID], email)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list recipients: %w", err)
	}
	return result, nil
}
