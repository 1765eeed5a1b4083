package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"autotrac/sync-client/internal/client"
	"autotrac/sync-client/internal/models"

	"go.uber.org/zap"
)

// Mode selects how a replay reports its outcome
type Mode int

const (
	// ModeAuto runs silently, e.g. after connectivity is restored
	ModeAuto Mode = iota
	// ModeManual is a user-requested sync whose outcome is shown to the user
	ModeManual
)

func (m Mode) String() string {
	if m == ModeManual {
		return "manual"
	}
	return "auto"
}

// Outcome summarizes a replay for the user
type Outcome string

const (
	OutcomeSynced         Outcome = "synced"
	OutcomePartial        Outcome = "partial"
	OutcomeNothingPending Outcome = "nothing_pending"
	OutcomeOffline        Outcome = "offline"
)

// Failure records why a mutation stayed queued
type Failure struct {
	MutationID string
	Kind       models.MutationKind
	Err        error
}

// ReplayResult is returned by Replay
type ReplayResult struct {
	Mode         Mode
	Outcome      Outcome
	Succeeded    int
	Remaining    []models.PendingMutation
	DeadLettered []models.PendingMutation
	Failures     []Failure
}

// Message renders the outcome the way a manual sync reports it
func (r ReplayResult) Message() string {
	switch r.Outcome {
	case OutcomeSynced:
		return fmt.Sprintf("All changes synced (%d applied).", r.Succeeded)
	case OutcomePartial:
		msg := fmt.Sprintf("Synced %d change(s); %d still pending.", r.Succeeded, len(r.Remaining))
		if n := len(r.DeadLettered); n > 0 {
			msg += fmt.Sprintf(" %d gave up after repeated failures.", n)
		}
		return msg
	case OutcomeNothingPending:
		return "Nothing to sync."
	case OutcomeOffline:
		return fmt.Sprintf("Cannot sync while offline; %d change(s) pending.", len(r.Remaining))
	default:
		return string(r.Outcome)
	}
}

// Replay attempts every queued mutation in enqueue order. A failed mutation
// stays queued and does not block the ones after it. Only storage failures
// are returned as errors; remote failures are reported in the result.
func (q *MutationQueue) Replay(ctx context.Context, mode Mode) (ReplayResult, error) {
	q.replayMu.Lock()
	defer q.replayMu.Unlock()

	q.mu.Lock()
	snapshot := append([]Entry(nil), q.state.Pending...)
	q.mu.Unlock()

	result := ReplayResult{Mode: mode}

	if q.observer != nil && !q.observer.IsOnline() {
		result.Outcome = OutcomeOffline
		result.Remaining = mutations(snapshot)
		q.logOutcome(result)
		return result, nil
	}
	if len(snapshot) == 0 {
		result.Outcome = OutcomeNothingPending
		q.logOutcome(result)
		return result, nil
	}

	failures := make(map[string]error)
	var storeErr error

	for _, e := range snapshot {
		if ctx.Err() != nil {
			break
		}
		m := e.Mutation

		call, err := q.resolve(m)
		if err == nil {
			callCtx, cancel := context.WithTimeout(ctx, q.opts.CallTimeout)
			var res client.ApplyResult
			res, err = q.applier.Apply(callCtx, call)
			cancel()
			if err == nil {
				result.Succeeded++
				if cerr := q.applied(ctx, m, res.ServerID); cerr != nil {
					storeErr = errors.Join(storeErr, cerr)
				}
				continue
			}
		}

		failures[m.ID] = err
		result.Failures = append(result.Failures, Failure{MutationID: m.ID, Kind: m.Kind, Err: err})
		q.logger.Warn("Replay of queued mutation failed",
			zap.String("id", m.ID),
			zap.String("kind", string(m.Kind)),
			zap.Int("attempts", e.Attempts+1),
			zap.Error(err),
		)
	}

	deadLettered, remaining, err := q.recordFailures(ctx, failures)
	if err != nil {
		storeErr = errors.Join(storeErr, err)
	}
	result.DeadLettered = deadLettered
	result.Remaining = remaining

	if len(remaining) == 0 && len(deadLettered) == 0 {
		result.Outcome = OutcomeSynced
	} else {
		result.Outcome = OutcomePartial
	}

	q.logOutcome(result)
	return result, storeErr
}

// resolve returns the mutation to send, rewriting a stop_timer that targets
// a now-synced optimistic entry. The queued mutation is left untouched.
func (q *MutationQueue) resolve(m models.PendingMutation) (models.PendingMutation, error) {
	if m.Kind != models.KindStopTimer {
		return m, nil
	}
	var p models.StopTimerPayload
	if err := m.DecodePayload(&p); err != nil {
		return m, err
	}
	tmp, ok := p.EntryID.Local()
	if !ok {
		return m, nil
	}

	serverID, found := q.Resolve(tmp)
	if !found {
		return m, fmt.Errorf("%w: %s", ErrUnresolvedReference, tmp)
	}

	raw, err := json.Marshal(models.StopTimerPayload{EntryID: models.RemoteID(serverID)})
	if err != nil {
		return m, fmt.Errorf("failed to marshal resolved payload: %w", err)
	}
	call := m
	call.Payload = raw
	return call, nil
}

// applied removes m from the queue and records the server id it created
func (q *MutationQueue) applied(ctx context.Context, m models.PendingMutation, serverID int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	next := q.state.clone()
	next.Pending = next.Pending[:0]
	for _, e := range q.state.Pending {
		if e.Mutation.ID != m.ID {
			next.Pending = append(next.Pending, e)
		}
	}
	if m.LocalID != "" && serverID > 0 {
		next.Resolved[m.LocalID] = resolvedID{ServerID: serverID, ResolvedAt: q.opts.Now().UTC()}
	}

	if err := q.commit(ctx, next); err != nil {
		q.logger.Error("Mutation applied but queue could not be updated; it may be sent again",
			zap.String("id", m.ID),
			zap.Error(err),
		)
		return err
	}

	q.logger.Debug("Queued mutation applied",
		zap.String("id", m.ID),
		zap.String("kind", string(m.Kind)),
		zap.Int64("server_id", serverID),
	)
	return nil
}

// recordFailures bumps attempt counters and moves exhausted mutations to the
// failed list. It returns the dead-lettered and still-pending mutations.
func (q *MutationQueue) recordFailures(ctx context.Context, failures map[string]error) ([]models.PendingMutation, []models.PendingMutation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(failures) == 0 {
		return nil, mutations(q.state.Pending), nil
	}

	now := q.opts.Now().UTC()
	next := q.state.clone()
	next.Pending = next.Pending[:0]
	var dead []models.PendingMutation

	for _, e := range q.state.Pending {
		err, failed := failures[e.Mutation.ID]
		if !failed {
			next.Pending = append(next.Pending, e)
			continue
		}
		e.Attempts++
		e.LastAttempt = &now
		e.LastError = describe(err)

		if q.opts.MaxAttempts > 0 && e.Attempts >= q.opts.MaxAttempts {
			next.Failed = append(next.Failed, e)
			dead = append(dead, e.Mutation)
			q.logger.Error("Giving up on queued mutation",
				zap.String("id", e.Mutation.ID),
				zap.String("kind", string(e.Mutation.Kind)),
				zap.Int("attempts", e.Attempts),
				zap.String("last_error", e.LastError),
			)
			continue
		}
		next.Pending = append(next.Pending, e)
	}

	if err := q.commit(ctx, next); err != nil {
		return nil, mutations(q.state.Pending), err
	}
	return dead, mutations(next.Pending), nil
}

// describe renders err for the failed-entry listing, never as an empty string
func describe(err error) string {
	if msg := err.Error(); msg != "" {
		return msg
	}
	return fmt.Sprintf("%T with no message", err)
}

func (q *MutationQueue) logOutcome(r ReplayResult) {
	fields := []zap.Field{
		zap.String("mode", r.Mode.String()),
		zap.String("outcome", string(r.Outcome)),
		zap.Int("succeeded", r.Succeeded),
		zap.Int("remaining", len(r.Remaining)),
		zap.Int("dead_lettered", len(r.DeadLettered)),
	}
	if r.Mode == ModeAuto && r.Outcome == OutcomeNothingPending {
		q.logger.Debug("Replay finished", fields...)
		return
	}
	q.logger.Info("Replay finished", fields...)
}
