package transfer

import (
	"log/slog"
	"sync"
	"time"

	"github.com/courierfs/courier/internal/transport"
	"github.com/google/uuid"
)

// Stats is the process-wide aggregate view over all sessions. It is always
// derived from the session set, never a source of truth.
type Stats struct {
	Active           int
	Completed        int
	Failed           int
	TotalBytes       int64
	TransferredBytes int64
}

// Registry owns the set of concurrent upload sessions and routes control
// commands to the right one. Global counters are recomputed behind a single
// mutex after every event from any session.
type Registry struct {
	transporter transport.Transporter
	callbacks   Callbacks
	now         func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
	stats    Stats
}

// NewRegistry creates an empty registry. Sessions submitted through it share
// the transporter and the callback surface.
func NewRegistry(tr transport.Transporter, cb Callbacks) *Registry {
	return &Registry{
		transporter: tr,
		callbacks:   cb,
		now:         time.Now,
		sessions:    make(map[string]*Session),
	}
}

// Submit creates a session for the file at path, plans its chunks and starts
// the transfer loop. It returns the new session's id.
func (r *Registry) Submit(path string, opts Options) (string, error) {
	id := uuid.NewString()

	s, err := newSession(id, path, opts, r.transporter, r.callbacks, r.recompute, r.now)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	r.sessions[id] = s
	r.mu.Unlock()
	r.recompute()

	s.start()

	slog.Info("Upload submitted", "sessionId", id, "path", path)
	return id, nil
}

// Get returns the session with the given id.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Pause stops new chunk dispatch for the session.
func (r *Registry) Pause(id string) error {
	s, err := r.Get(id)
	if err != nil {
		return err
	}
	return s.Pause()
}

// Resume re-enters the dispatch loop for a paused session.
func (r *Registry) Resume(id string) error {
	s, err := r.Get(id)
	if err != nil {
		return err
	}
	return s.Resume()
}

// Retry resets a failed session's failed chunks and restarts dispatch.
func (r *Registry) Retry(id string) error {
	s, err := r.Get(id)
	if err != nil {
		return err
	}
	return s.Retry()
}

// Cancel aborts the session and removes it from the registry.
func (r *Registry) Cancel(id string) error {
	s, err := r.Get(id)
	if err != nil {
		return err
	}
	if err := s.Cancel(); err != nil {
		return err
	}

	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
	r.recompute()
	return nil
}

// Remove clears a finished (completed or errored) session from the registry.
func (r *Registry) Remove(id string) error {
	s, err := r.Get(id)
	if err != nil {
		return err
	}
	switch s.Status() {
	case StatusCompleted, StatusError:
	default:
		return ErrInvalidState
	}
	s.closeFile()

	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
	r.recompute()
	return nil
}

// Stats returns the current global counters.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// recompute rebuilds the global counters from the session set. It runs after
// every chunk event and every control command; sessions call it with no
// internal locks held.
func (r *Registry) recompute() {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := Stats{}
	for _, s := range r.sessions {
		stats.TotalBytes += s.Size()
		stats.TransferredBytes += s.UploadedBytes()
		switch s.Status() {
		case StatusUploading, StatusPaused:
			stats.Active++
		case StatusCompleted:
			stats.Completed++
		case StatusError:
			stats.Failed++
		}
	}
	r.stats = stats
}
