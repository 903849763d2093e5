package dispatch

import "sync"

// CancelToken is a cooperative cancellation flag. The pipeline polls it
// between items; an in-flight send is never interrupted.
type CancelToken struct {
	mu        sync.Mutex
	requested bool
	done      chan struct{}
}

func NewCancelToken() *CancelToken {
	return &CancelToken{done: make(chan struct{})}
}

// Request sets the flag. Repeated calls are no-ops.
func (t *CancelToken) Request() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.requested {
		return
	}
	t.requested = true
	close(t.done)
}

func (t *CancelToken) Requested() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.requested
}

// Done is closed once Request has been called.
func (t *CancelToken) Done() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done
}

// Reset clears the flag for the next run.
func (t *CancelToken) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.requested {
		return
	}
	t.requested = false
	t.done = make(chan struct{})
}
