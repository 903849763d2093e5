package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	s, err := Open(ctx, "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.EnsureSchema(ctx))
	return s
}

func TestRunLifecycle(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	started := time.Unix(1_700_000_000, 0)

	require.NoError(t, s.CreateRun(ctx, Run{ID: "run-1", Operator: "ops@natu.es", State: "Running", Total: 3, StartedAt: started}))
	entries := []LogEntry{
		{RunID: "run-1", Position: 0, DocumentID: "Juan", RecipientEmail: "juan@example.com", Status: "Sent", CreatedAt: started},
		{RunID: "run-1", Position: 1, DocumentID: "Acme", RecipientEmail: "acme@example.com", Status: "Error", ErrorMessage: "550 mailbox unavailable", CreatedAt: started.Add(time.Second)},
		{RunID: "run-1", Position: 2, DocumentID: "Levante", RecipientEmail: "lev@example.com", Status: "Sent", CreatedAt: started.Add(2 * time.Second)},
	}
	for _, entry := range entries {
		require.NoError(t, s.AppendEntry(ctx, entry))
	}
	require.NoError(t, s.FinishRun(ctx, "run-1", "Completed", started.Add(3*time.Second)))

	run, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "Completed", run.State)
	assert.Equal(t, 3, run.Total)
	assert.Equal(t, 2, run.Sent)
	assert.Equal(t, 1, run.Failed)
	assert.Equal(t, started.Add(3*time.Second), run.FinishedAt)

	all, total, err := s.ListEntries(ctx, "run-1", "", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, int32(3), total)
	assert.Equal(t, entries, all)

	page, total, err := s.ListEntries(ctx, "run-1", "", 1, 1)
	require.NoError(t, err)
	assert.Equal(t, int32(3), total)
	require.Len(t, page, 1)
	assert.Equal(t, "Acme", page[0].DocumentID)

	failed, total, err := s.ListEntries(ctx, "run-1", "Error", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, int32(1), total)
	require.Len(t, failed, 1)
	assert.Equal(t, "550 mailbox unavailable", failed[0].ErrorMessage)
}

func TestFinishRun_Unknown(t *testing.T) {
	s := openTestStore(t)
	err := s.FinishRun(context.Background(), "missing", "Completed", time.Now())
	assert.ErrorIs(t, err, sql.ErrNoRows)

	_, err = s.GetRun(context.Background(), "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestCapturedMessages(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	now := time.Unix(1_700_000_000, 0)

	first := CapturedMessage{ID: "m1", From: "ops@natu.es", Subject: "Modelo 347", TextBody: "hola", Raw: []byte("raw1"), RawSize: 4, CreatedAt: now}
	second := CapturedMessage{ID: "m2", From: "ops@natu.es", Subject: "Modelo 347", Raw: []byte("raw2"), RawSize: 4, CreatedAt: now.Add(time.Minute)}
	require.NoError(t, s.InsertCaptured(ctx, first,
		[]Recipient{{Email: "juan@example.com", Type: "to"}},
		[]Attachment{{Filename: "Juan.pdf", ContentType: "application/pdf", Data: []byte("%PDF"), Size: 4}}))
	require.NoError(t, s.InsertCaptured(ctx, second, []Recipient{{Email: "acme@example.com", Type: "to"}}, nil))

	list, total, err := s.ListCaptured(ctx, "", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, int32(2), total)
	require.Len(t, list, 2)
	assert.Equal(t, "m2", list[0].ID)
	assert.False(t, list[0].HasAttachments)
	assert.Equal(t, []string{"juan@example.com"}, list[1].To)
	assert.True(t, list[1].HasAttachments)

	filtered, total, err := s.ListCaptured(ctx, " JUAN@example.com ", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, int32(1), total)
	require.Len(t, filtered, 1)
	assert.Equal(t, "m1", filtered[0].ID)

	message, recipients, attachments, err := s.GetCaptured(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, first, message)
	assert.Equal(t, []Recipient{{Email: "juan@example.com", Type: "to"}}, recipients)
	require.Len(t, attachments, 1)
	assert.Equal(t, "Juan.pdf", attachments[0].Filename)
	assert.Equal(t, []byte("%PDF"), attachments[0].Data)

	_, _, _, err = s.GetCaptured(ctx, "nope")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestOpen_File(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.EnsureSchema(ctx))
	require.NoError(t, s.CreateRun(ctx, Run{ID: "r", Operator: "o", State: "Running", StartedAt: time.Now()}))
}
