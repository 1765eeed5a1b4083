package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"autotrac/sync-client/internal/client"
	"autotrac/sync-client/internal/connectivity"
	"autotrac/sync-client/internal/models"
	"autotrac/sync-client/internal/storage"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// StorageKey holds the whole queue state as one document, so removing an
// applied mutation and recording its server id is a single write
const StorageKey = "offline_queue"

// ErrUnresolvedReference means a stop_timer targets an optimistic entry whose
// start_timer has not been applied yet
var ErrUnresolvedReference = errors.New("referenced local record has not been synced yet")

// Applier performs the remote call for a mutation (client.APIClient)
type Applier interface {
	Apply(ctx context.Context, m models.PendingMutation) (client.ApplyResult, error)
}

// Entry wraps a queued mutation with replay bookkeeping. The mutation itself
// is never rewritten.
type Entry struct {
	Mutation    models.PendingMutation `json:"mutation"`
	Attempts    int                    `json:"attempts"`
	LastAttempt *time.Time             `json:"last_attempt,omitempty"`
	LastError   string                 `json:"last_error,omitempty"`
}

// resolvedRetention keeps a local -> server mapping around after nothing in
// the queue refers to it, for callers still holding the optimistic id
const resolvedRetention = 7 * 24 * time.Hour

type resolvedID struct {
	ServerID   int64     `json:"server_id"`
	ResolvedAt time.Time `json:"resolved_at"`
}

type state struct {
	Pending  []Entry               `json:"pending"`
	Resolved map[string]resolvedID `json:"resolved,omitempty"`
	Failed   []Entry               `json:"failed,omitempty"`
}

func (s state) clone() state {
	out := state{
		Pending:  append([]Entry(nil), s.Pending...),
		Failed:   append([]Entry(nil), s.Failed...),
		Resolved: make(map[string]resolvedID, len(s.Resolved)),
	}
	for k, v := range s.Resolved {
		out.Resolved[k] = v
	}
	return out
}

// Options tunes replay
type Options struct {
	// CallTimeout bounds each remote call during replay
	CallTimeout time.Duration
	// MaxAttempts moves a mutation to the failed list after that many failed
	// replays. Zero keeps retrying forever.
	MaxAttempts int
	Now         func() time.Time
}

// MutationQueue is the durable FIFO of writes that could not reach the
// backend
type MutationQueue struct {
	store    storage.Store
	applier  Applier
	observer connectivity.Observer
	opts     Options
	logger   *zap.Logger

	mu    sync.Mutex
	state state

	replayMu sync.Mutex
}

// Open loads the persisted queue
func Open(ctx context.Context, store storage.Store, applier Applier, observer connectivity.Observer, opts Options, logger *zap.Logger) (*MutationQueue, error) {
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 10 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	q := &MutationQueue{
		store:    store,
		applier:  applier,
		observer: observer,
		opts:     opts,
		logger:   logger,
		state:    state{Resolved: map[string]resolvedID{}},
	}

	if _, err := storage.GetJSON(ctx, store, StorageKey, &q.state); err != nil {
		return nil, fmt.Errorf("failed to load offline queue: %w", err)
	}
	if q.state.Resolved == nil {
		q.state.Resolved = map[string]resolvedID{}
	}

	logger.Debug("Offline queue loaded",
		zap.Int("pending", len(q.state.Pending)),
		zap.Int("failed", len(q.state.Failed)),
	)
	return q, nil
}

// commit persists next and only then makes it the in-memory state.
// Callers hold q.mu.
func (q *MutationQueue) commit(ctx context.Context, next state) error {
	next.Resolved = pruneResolved(next, q.opts.Now())
	if err := storage.SetJSON(ctx, q.store, StorageKey, next); err != nil {
		return fmt.Errorf("failed to persist offline queue: %w", err)
	}
	q.state = next
	return nil
}

// Enqueue appends a mutation. ID and CreatedAt are filled in when empty.
// Enqueueing an id that is already pending is a no-op.
func (q *MutationQueue) Enqueue(ctx context.Context, m models.PendingMutation) error {
	if m.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate mutation id: %w", err)
		}
		m.ID = id.String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = q.opts.Now().UTC()
	}
	if err := m.Validate(); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	for _, e := range q.state.Pending {
		if e.Mutation.ID == m.ID {
			return nil
		}
	}

	next := q.state.clone()
	next.Pending = append(next.Pending, Entry{Mutation: m})
	if err := q.commit(ctx, next); err != nil {
		return err
	}

	q.logger.Info("Mutation queued for sync",
		zap.String("id", m.ID),
		zap.String("kind", string(m.Kind)),
		zap.Int("pending", len(next.Pending)),
	)
	return nil
}

// ListPending returns queued mutations, oldest first
func (q *MutationQueue) ListPending(ctx context.Context) ([]models.PendingMutation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return mutations(q.state.Pending), nil
}

// Entries returns queued mutations with their replay bookkeeping
func (q *MutationQueue) Entries() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Entry(nil), q.state.Pending...)
}

// ListFailed returns mutations that exceeded MaxAttempts
func (q *MutationQueue) ListFailed() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Entry(nil), q.state.Failed...)
}

// PendingCount returns the number of queued mutations
func (q *MutationQueue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.state.Pending)
}

// Resolve returns the server id assigned to an optimistic record once its
// creating mutation has been applied
func (q *MutationQueue) Resolve(localID string) (int64, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	r, ok := q.state.Resolved[localID]
	return r.ServerID, ok
}

// Clear drops every pending and failed mutation
func (q *MutationQueue) Clear(ctx context.Context) error {
	q.replayMu.Lock()
	defer q.replayMu.Unlock()
	q.mu.Lock()
	defer q.mu.Unlock()

	dropped := len(q.state.Pending) + len(q.state.Failed)
	if err := q.commit(ctx, state{Resolved: map[string]resolvedID{}}); err != nil {
		return err
	}
	q.logger.Warn("Offline queue cleared", zap.Int("dropped", dropped))
	return nil
}

// PruneFailed removes failed mutations created before now-olderThan
func (q *MutationQueue) PruneFailed(ctx context.Context, olderThan time.Duration) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := q.opts.Now().Add(-olderThan)
	next := q.state.clone()
	next.Failed = next.Failed[:0]
	for _, e := range q.state.Failed {
		if e.Mutation.CreatedAt.After(cutoff) {
			next.Failed = append(next.Failed, e)
		}
	}

	removed := len(q.state.Failed) - len(next.Failed)
	if removed == 0 {
		return 0, nil
	}
	if err := q.commit(ctx, next); err != nil {
		return 0, err
	}
	q.logger.Info("Pruned failed mutations", zap.Int("count", removed))
	return removed, nil
}

func mutations(entries []Entry) []models.PendingMutation {
	out := make([]models.PendingMutation, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Mutation)
	}
	return out
}

// pruneResolved drops mappings that are past retention and no longer
// referenced by a pending or failed stop_timer
func pruneResolved(s state, now time.Time) map[string]resolvedID {
	out := make(map[string]resolvedID)
	if len(s.Resolved) == 0 {
		return out
	}
	for tmp, r := range s.Resolved {
		if now.Sub(r.ResolvedAt) < resolvedRetention {
			out[tmp] = r
		}
	}
	for _, list := range [][]Entry{s.Pending, s.Failed} {
		for _, e := range list {
			if e.Mutation.Kind != models.KindStopTimer {
				continue
			}
			var p models.StopTimerPayload
			if err := e.Mutation.DecodePayload(&p); err != nil {
				continue
			}
			if tmp, ok := p.EntryID.Local(); ok {
				if r, found := s.Resolved[tmp]; found {
					out[tmp] = r
				}
			}
		}
	}
	return out
}
