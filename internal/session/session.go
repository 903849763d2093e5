// Package session owns the state of one operator's working session: the
// loaded letters and recipients, the match outcome, and the send log of the
// latest dispatch run.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/digitalmanagernatu-cell/envios-masivos/internal/dispatch"
	"github.com/digitalmanagernatu-cell/envios-masivos/internal/documents"
	"github.com/digitalmanagernatu-cell/envios-masivos/internal/match"
	"github.com/digitalmanagernatu-cell/envios-masivos/internal/recipients"
	"github.com/digitalmanagernatu-cell/envios-masivos/internal/store"
)

var (
	ErrDispatchInProgress = errors.New("a dispatch run is already in progress")
	ErrNothingSelected    = errors.New("no selected matches to send")
	ErrNoDocuments        = errors.New("no documents loaded")
	ErrNoRecipients       = errors.New("no recipients loaded")
	ErrMatchOutOfRange    = errors.New("match index out of range")
)

// Splitter cuts a combined PDF into letters.
type Splitter interface {
	Split(ctx context.Context, doc documents.Document, marker string) (*documents.Collection, error)
}

// LoadResult describes a document source that was accepted.
type LoadResult struct {
	Documents  int
	Skipped    []string
	Collisions []documents.Collision
}

// RunReport is the outcome of one dispatch run.
type RunReport struct {
	RunID   string
	State   dispatch.State
	Entries []dispatch.Entry
}

type Summary struct {
	Documents  int
	Recipients int
	Matches    int
	Selected   int
	Unmatched  int
	Sent       int
	Failed     int
	State      dispatch.State
	Sending    bool
	RunID      string
}

type Session struct {
	operator string
	splitter Splitter
	store    *store.Store
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	docs    *documents.Collection
	people  []recipients.Recipient
	outcome match.Outcome
	log     []dispatch.Entry
	state   dispatch.State
	sending bool
	cancel  *dispatch.CancelToken
	runID   string
}

// New creates an empty session. st may be nil, in which case runs are not
// recorded.
func New(operator string, splitter Splitter, st *store.Store, logger *slog.Logger) *Session {
	return &Session{
		operator: operator,
		splitter: splitter,
		store:    st,
		logger:   logger.With("operator", operator),
		now:      time.Now,
		docs:     documents.NewCollection(),
		state:    dispatch.StateIdle,
	}
}

func (s *Session) Operator() string {
	return s.operator
}

// LoadArchive replaces the documents with the PDFs of a ZIP archive.
func (s *Session) LoadArchive(r io.ReaderAt, size int64) (LoadResult, error) {
	if s.Sending() {
		return LoadResult{}, ErrDispatchInProgress
	}
	docs, skipped, err := documents.LoadArchive(r, size)
	if err != nil {
		return LoadResult{}, err
	}
	result := LoadResult{Documents: docs.Len(), Skipped: skipped, Collisions: docs.Collisions()}
	if err := s.replaceDocuments(docs); err != nil {
		return LoadResult{}, err
	}
	s.logger.Info("archive loaded", "documents", result.Documents, "skipped", len(skipped), "collisions", len(result.Collisions))
	return result, nil
}

// LoadCombined replaces the documents with the letters split out of doc.
func (s *Session) LoadCombined(ctx context.Context, doc documents.Document, marker string) (LoadResult, error) {
	if s.Sending() {
		return LoadResult{}, ErrDispatchInProgress
	}
	if s.splitter == nil {
		return LoadResult{}, errors.New("letter splitting is not available")
	}
	docs, err := s.splitter.Split(ctx, doc, marker)
	if err != nil {
		return LoadResult{}, err
	}
	result := LoadResult{Documents: docs.Len(), Collisions: docs.Collisions()}
	if err := s.replaceDocuments(docs); err != nil {
		return LoadResult{}, err
	}
	s.logger.Info("combined document split", "source", doc.ID, "letters", result.Documents, "collisions", len(result.Collisions))
	return result, nil
}

func (s *Session) replaceDocuments(docs *documents.Collection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sending {
		return ErrDispatchInProgress
	}
	s.docs = docs
	s.outcome = match.Outcome{}
	return nil
}

// LoadRecipients replaces the recipients with the rows of a spreadsheet.
func (s *Session) LoadRecipients(name string, r io.Reader) (int, error) {
	if s.Sending() {
		return 0, ErrDispatchInProgress
	}
	people, err := recipients.Load(name, r)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sending {
		return 0, ErrDispatchInProgress
	}
	s.people = people
	s.outcome = match.Outcome{}
	s.logger.Info("recipients loaded", "file", name, "recipients", len(people))
	return len(people), nil
}

// Match recomputes the outcome from scratch, discarding earlier selections.
func (s *Session) Match() (match.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sending {
		return match.Outcome{}, ErrDispatchInProgress
	}
	if s.docs.Len() == 0 {
		return match.Outcome{}, ErrNoDocuments
	}
	if len(s.people) == 0 {
		return match.Outcome{}, ErrNoRecipients
	}
	s.outcome = match.Match(s.docs.IDs(), s.people)
	s.logger.Info("documents matched", "matches", len(s.outcome.Matches), "unmatched", len(s.outcome.Unmatched))
	return copyOutcome(s.outcome), nil
}

func (s *Session) SetSelected(i int, selected bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.outcome.SetSelected(i, selected) {
		return fmt.Errorf("%w: %d", ErrMatchOutOfRange, i)
	}
	return nil
}

func (s *Session) SelectAll(selected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcome.SelectAll(selected)
}

func (s *Session) Matches() []match.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]match.Result(nil), s.outcome.Matches...)
}

func (s *Session) Unmatched() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.outcome.Unmatched...)
}

func (s *Session) DocumentIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.docs.IDs()
}

func (s *Session) Collisions() []documents.Collision {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.docs.Collisions()
}

type run struct {
	id       string
	selected []match.Result
	docs     *documents.Collection
	cancel   *dispatch.CancelToken
}

// Dispatch sends every selected match and blocks until the run ends.
func (s *Session) Dispatch(ctx context.Context, sender dispatch.Sender, throttle time.Duration, observe dispatch.Observer) (RunReport, error) {
	r, err := s.begin(ctx)
	if err != nil {
		return RunReport{}, err
	}
	return s.execute(ctx, r, sender, throttle, observe), nil
}

// Start begins a dispatch run in the background and returns its id. done,
// when set, receives the report once the run has ended.
func (s *Session) Start(ctx context.Context, sender dispatch.Sender, throttle time.Duration, observe dispatch.Observer, done func(RunReport)) (string, error) {
	r, err := s.begin(ctx)
	if err != nil {
		return "", err
	}
	go func() {
		report := s.execute(ctx, r, sender, throttle, observe)
		if done != nil {
			done(report)
		}
	}()
	return r.id, nil
}

func (s *Session) begin(ctx context.Context) (run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sending {
		return run{}, ErrDispatchInProgress
	}
	selected := s.outcome.Selected()
	if len(selected) == 0 {
		return run{}, ErrNothingSelected
	}

	r := run{
		id:       uuid.NewString(),
		selected: selected,
		docs:     s.docs,
		cancel:   dispatch.NewCancelToken(),
	}
	s.sending = true
	s.state = dispatch.StateRunning
	s.log = nil
	s.cancel = r.cancel
	s.runID = r.id

	if s.store != nil {
		err := s.store.CreateRun(ctx, store.Run{
			ID:        r.id,
			Operator:  s.operator,
			State:     string(dispatch.StateRunning),
			Total:     len(selected),
			StartedAt: s.now(),
		})
		if err != nil {
			s.logger.Warn("record run", "run", r.id, "error", err)
		}
	}
	return r, nil
}

func (s *Session) execute(ctx context.Context, r run, sender dispatch.Sender, throttle time.Duration, observe dispatch.Observer) RunReport {
	logger := s.logger.With("run", r.id)
	pipeline := dispatch.New(sender, throttle, logger)

	report := pipeline.Run(ctx, r.selected, r.docs, r.cancel, func(p dispatch.Progress) {
		s.record(r.id, p)
		if observe != nil {
			observe(p)
		}
	})

	if s.store != nil {
		// The run's own context may be done already; the audit row still has
		// to be closed, and before the session reads as idle.
		if err := s.store.FinishRun(context.WithoutCancel(ctx), r.id, string(report.State), s.now()); err != nil {
			logger.Warn("finish run", "error", err)
		}
	}

	s.mu.Lock()
	s.log = report.Entries
	s.state = report.State
	s.sending = false
	s.cancel = nil
	s.mu.Unlock()
	return RunReport{RunID: r.id, State: report.State, Entries: report.Entries}
}

func (s *Session) record(runID string, p dispatch.Progress) {
	s.mu.Lock()
	s.log = append(s.log, p.Entry)
	s.mu.Unlock()

	if s.store == nil {
		return
	}
	err := s.store.AppendEntry(context.Background(), store.LogEntry{
		RunID:          runID,
		Position:       p.Position - 1,
		DocumentID:     p.Entry.DocumentID,
		RecipientEmail: p.Entry.RecipientEmail,
		Status:         string(p.Entry.Status),
		ErrorMessage:   p.Entry.Error,
		CreatedAt:      p.Entry.Timestamp,
	})
	if err != nil {
		s.logger.Warn("record log entry", "run", runID, "error", err)
	}
}

// Cancel asks the running dispatch to stop before its next item. It
// reports whether a run was in progress.
func (s *Session) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.sending || s.cancel == nil {
		return false
	}
	s.cancel.Request()
	s.logger.Info("dispatch cancel requested", "run", s.runID)
	return true
}

func (s *Session) Sending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sending
}

func (s *Session) State() dispatch.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Log returns the entries of the current or latest run.
func (s *Session) Log() []dispatch.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]dispatch.Entry(nil), s.log...)
}

func (s *Session) RunID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runID
}

func (s *Session) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	summary := Summary{
		Documents:  s.docs.Len(),
		Recipients: len(s.people),
		Matches:    len(s.outcome.Matches),
		Selected:   len(s.outcome.Selected()),
		Unmatched:  len(s.outcome.Unmatched),
		State:      s.state,
		Sending:    s.sending,
		RunID:      s.runID,
	}
	for _, entry := range s.log {
		if entry.Status == dispatch.StatusSent {
			summary.Sent++
		} else {
			summary.Failed++
		}
	}
	return summary
}

func copyOutcome(o match.Outcome) match.Outcome {
	return match.Outcome{
		Matches:   append([]match.Result{}, o.Matches...),
		Unmatched: append([]string{}, o.Unmatched...),
	}
}
