package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digitalmanagernatu-cell/envios-masivos/internal/documents"
	"github.com/digitalmanagernatu-cell/envios-masivos/internal/match"
	"github.com/digitalmanagernatu-cell/envios-masivos/internal/recipients"
)

type fakeSender struct {
	calls  []string
	fail   map[string]error
	onSend func(id string)
}

func (f *fakeSender) Send(_ context.Context, doc documents.Document, _ recipients.Recipient) error {
	f.calls = append(f.calls, doc.ID)
	if f.onSend != nil {
		f.onSend(doc.ID)
	}
	return f.fail[doc.ID]
}

type fixture struct {
	docs     *documents.Collection
	selected []match.Result
}

func newFixture(ids ...string) fixture {
	docs := documents.NewCollection()
	var selected []match.Result
	for i, id := range ids {
		docs.Add(documents.Document{ID: id, Content: []byte("%PDF " + id)})
		selected = append(selected, match.Result{
			DocumentID: id,
			Recipient:  recipients.Recipient{Name: id, Email: id + "@example.com", Row: i},
			Selected:   true,
		})
	}
	return fixture{docs: docs, selected: selected}
}

func newTestPipeline(sender Sender, throttle time.Duration) (*Pipeline, *[]time.Duration) {
	p := New(sender, throttle, slog.New(slog.NewTextHandler(io.Discard, nil)))
	var pauses []time.Duration
	p.pause = func(_ context.Context, d time.Duration, _ <-chan struct{}) {
		pauses = append(pauses, d)
	}
	clock := time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC)
	p.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return p, &pauses
}

func TestRunCompletes(t *testing.T) {
	fx := newFixture("a", "b", "c")
	sender := &fakeSender{}
	p, pauses := newTestPipeline(sender, 2*time.Second)

	var progress []Progress
	report := p.Run(context.Background(), fx.selected, fx.docs, NewCancelToken(), func(pr Progress) {
		progress = append(progress, pr)
	})

	assert.Equal(t, StateCompleted, report.State)
	assert.Equal(t, []string{"a", "b", "c"}, sender.calls)
	require.Len(t, report.Entries, 3)
	for i, entry := range report.Entries {
		assert.Equal(t, fx.selected[i].DocumentID, entry.DocumentID)
		assert.Equal(t, fx.selected[i].Recipient.Email, entry.RecipientEmail)
		assert.Equal(t, StatusSent, entry.Status)
		assert.Empty(t, entry.Error)
		assert.False(t, entry.Timestamp.IsZero())
	}
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, *pauses)

	require.Len(t, progress, 3)
	assert.Equal(t, 3, progress[2].Position)
	assert.Equal(t, 3, progress[2].Total)
	assert.Equal(t, report.Entries[2], progress[2].Entry)
}

func TestRunStampsEntryWhenAttemptStarts(t *testing.T) {
	fx := newFixture("a", "b")
	clock := time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC)
	sender := &fakeSender{
		fail: map[string]error{"b": errors.New("smtp connect: i/o timeout")},
		onSend: func(string) {
			clock = clock.Add(30 * time.Second)
		},
	}
	p, _ := newTestPipeline(sender, 0)
	p.now = func() time.Time { return clock }

	report := p.Run(context.Background(), fx.selected, fx.docs, NewCancelToken(), nil)

	require.Len(t, report.Entries, 2)
	start := time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, start, report.Entries[0].Timestamp)
	assert.Equal(t, start.Add(30*time.Second), report.Entries[1].Timestamp)
	assert.Equal(t, StatusError, report.Entries[1].Status)
}

func TestRunCancelAfterSecondItem(t *testing.T) {
	fx := newFixture("a", "b", "c", "d", "e")
	cancel := NewCancelToken()
	sender := &fakeSender{onSend: func(id string) {
		if id == "b" {
			cancel.Request()
		}
	}}
	p, pauses := newTestPipeline(sender, time.Second)

	report := p.Run(context.Background(), fx.selected, fx.docs, cancel, nil)

	assert.Equal(t, StateCancelled, report.State)
	assert.Equal(t, []string{"a", "b"}, sender.calls)
	require.Len(t, report.Entries, 2)
	assert.Equal(t, "a", report.Entries[0].DocumentID)
	assert.Equal(t, "b", report.Entries[1].DocumentID)
	assert.Len(t, *pauses, 1, "no pause once cancel was requested")
	assert.False(t, cancel.Requested(), "token is reset after the run")
}

func TestRunTransportFailureContinues(t *testing.T) {
	fx := newFixture("a", "b", "c", "d")
	sender := &fakeSender{fail: map[string]error{"c": errors.New("smtp submit: 550 mailbox unavailable")}}
	p, pauses := newTestPipeline(sender, 3*time.Second)

	report := p.Run(context.Background(), fx.selected, fx.docs, NewCancelToken(), nil)

	assert.Equal(t, StateCompleted, report.State)
	require.Len(t, report.Entries, 4)
	assert.Equal(t, StatusSent, report.Entries[0].Status)
	assert.Equal(t, StatusSent, report.Entries[1].Status)
	assert.Equal(t, StatusError, report.Entries[2].Status)
	assert.Equal(t, "smtp submit: 550 mailbox unavailable", report.Entries[2].Error)
	assert.Equal(t, StatusSent, report.Entries[3].Status)
	assert.Len(t, *pauses, 3)
}

func TestRunMissingDocument(t *testing.T) {
	fx := newFixture("a", "b")
	fx.selected = append(fx.selected, match.Result{
		DocumentID: "ghost",
		Recipient:  recipients.Recipient{Email: "ghost@example.com"},
	})
	sender := &fakeSender{}
	p, _ := newTestPipeline(sender, 0)

	report := p.Run(context.Background(), fx.selected, fx.docs, nil, nil)

	assert.Equal(t, StateCompleted, report.State)
	assert.Equal(t, []string{"a", "b"}, sender.calls)
	require.Len(t, report.Entries, 3)
	assert.Equal(t, Entry{
		DocumentID:     "ghost",
		RecipientEmail: "ghost@example.com",
		Status:         StatusError,
		Error:          "document not found",
		Timestamp:      report.Entries[2].Timestamp,
	}, report.Entries[2])
}

func TestRunAlreadyCancelled(t *testing.T) {
	fx := newFixture("a", "b")
	cancel := NewCancelToken()
	cancel.Request()
	sender := &fakeSender{}
	p, _ := newTestPipeline(sender, time.Second)

	report := p.Run(context.Background(), fx.selected, fx.docs, cancel, nil)

	assert.Equal(t, StateCancelled, report.State)
	assert.Empty(t, report.Entries)
	assert.Empty(t, sender.calls)
}

func TestRunContextCancelled(t *testing.T) {
	fx := newFixture("a", "b", "c")
	ctx, cancelCtx := context.WithCancel(context.Background())
	defer cancelCtx()
	sender := &fakeSender{onSend: func(id string) {
		if id == "a" {
			cancelCtx()
		}
	}}
	p, _ := newTestPipeline(sender, time.Second)

	report := p.Run(ctx, fx.selected, fx.docs, NewCancelToken(), nil)

	assert.Equal(t, StateCancelled, report.State)
	require.Len(t, report.Entries, 1)
	assert.Equal(t, []string{"a"}, sender.calls)
}

func TestRunEmptySelection(t *testing.T) {
	p, pauses := newTestPipeline(&fakeSender{}, time.Second)
	report := p.Run(context.Background(), nil, documents.NewCollection(), nil, nil)
	assert.Equal(t, StateCompleted, report.State)
	assert.Empty(t, report.Entries)
	assert.Empty(t, *pauses)
}

func TestSleepInterruptedByCancel(t *testing.T) {
	token := NewCancelToken()
	go token.Request()

	start := time.Now()
	sleep(context.Background(), time.Minute, token.Done())
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestCancelTokenReset(t *testing.T) {
	token := NewCancelToken()
	assert.False(t, token.Requested())

	token.Request()
	token.Request()
	assert.True(t, token.Requested())
	select {
	case <-token.Done():
	default:
		t.Fatal("done channel should be closed")
	}

	token.Reset()
	assert.False(t, token.Requested())
	select {
	case <-token.Done():
		t.Fatal("done channel should be open after reset")
	default:
	}
}
