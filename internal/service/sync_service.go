package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"autotrac/sync-client/internal/client"
	"autotrac/sync-client/internal/connectivity"
	"autotrac/sync-client/internal/fx"
	"autotrac/sync-client/internal/models"
	"autotrac/sync-client/internal/notify"
	"autotrac/sync-client/internal/queue"

	"go.uber.org/zap"
)

// Backend is the subset of client.APIClient the service writes through
type Backend interface {
	ListTimeEntries(ctx context.Context, projectID int64) ([]models.TimeEntry, error)
	CreateTimeEntry(ctx context.Context, payload models.StartTimerPayload) (*models.TimeEntry, error)
	StopTimeEntry(ctx context.Context, id int64) (*models.TimeEntry, error)
	ListIncomes(ctx context.Context, projectID int64) ([]models.Income, error)
	CreateIncome(ctx context.Context, payload models.CreateIncomePayload) (*models.Income, error)
}

type offlineMarker interface {
	MarkOffline()
}

type checker interface {
	Check(ctx context.Context) bool
}

type Options struct {
	SyncInterval time.Duration
	Now          func() time.Time
}

// SyncService sends writes to the backend and falls back to the offline
// queue when the backend cannot be reached
type SyncService struct {
	backend  Backend
	queue    *queue.MutationQueue
	observer connectivity.Observer
	rates    *fx.RateCache
	notifier notify.Notifier
	history  notify.Notifier
	opts     Options
	logger   *zap.Logger

	kick chan struct{}
}

// NewSyncService wires the service. rates, notifier and history may be nil.
func NewSyncService(
	backend Backend,
	q *queue.MutationQueue,
	observer connectivity.Observer,
	rates *fx.RateCache,
	notifier notify.Notifier,
	history notify.Notifier,
	opts Options,
	logger *zap.Logger,
) *SyncService {
	if opts.SyncInterval <= 0 {
		opts.SyncInterval = 60 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &SyncService{
		backend:  backend,
		queue:    q,
		observer: observer,
		rates:    rates,
		notifier: notifier,
		history:  history,
		opts:     opts,
		logger:   logger,
		kick:     make(chan struct{}, 1),
	}
}

func (s *SyncService) online() bool {
	return s.observer == nil || s.observer.IsOnline()
}

// fallBack absorbs a failed remote write: the write is queued for replay and
// the returned notice tells the user why. An unreachable backend also marks
// the connection offline.
func (s *SyncService) fallBack(op string, err error) string {
	if client.IsNetworkError(err) {
		if m, ok := s.observer.(offlineMarker); ok {
			m.MarkOffline()
		}
		s.logger.Warn("Backend unreachable, queuing locally", zap.String("op", op), zap.Error(err))
		return "The AutoTrac API could not be reached; the change was queued and will be sent later."
	}

	s.logger.Warn("Backend rejected write, queuing for retry",
		zap.String("op", op),
		zap.Int("status", client.StatusCode(err)),
		zap.Error(err),
	)
	if !client.Retryable(err) {
		return fmt.Sprintf("The AutoTrac API did not accept the change (%v); it was queued and will be retried. Check 'autotrac pending' if it keeps failing.", err)
	}
	return fmt.Sprintf("The AutoTrac API failed (%v); the change was queued and will be retried.", err)
}

// StartTimer starts a timer on the project. Offline, or when the backend
// call fails, it returns an optimistic entry with a local id. Only invalid
// input is returned as an error.
func (s *SyncService) StartTimer(ctx context.Context, projectID int64, note *string) (*models.TimeEntry, error) {
	now := s.opts.Now().UTC().Truncate(time.Second)
	payload := models.StartTimerPayload{ProjectID: projectID, StartTime: now, Note: note}
	if err := payload.Validate(); err != nil {
		return nil, err
	}

	var notice string
	if s.online() {
		entry, err := s.backend.CreateTimeEntry(ctx, payload)
		if err == nil {
			s.logger.Info("Timer started", zap.String("entry_id", entry.ID.String()), zap.Int64("project_id", projectID))
			return entry, nil
		}
		notice = s.fallBack("start_timer", err)
	}

	id := models.NewLocalID()
	tmp, _ := id.Local()
	if err := s.enqueue(ctx, models.KindStartTimer, payload, tmp); err != nil {
		return nil, err
	}
	return &models.TimeEntry{
		ID:        id,
		ProjectID: projectID,
		StartTime: now,
		Note:      note,
		Pending:   true,
		Notice:    notice,
	}, nil
}

// StopTimer stops a running entry, remote or optimistic. The optimistic end
// time is the moment of the call; the server sets its own when the queued
// stop is replayed.
func (s *SyncService) StopTimer(ctx context.Context, id models.RecordID) (*models.TimeEntry, error) {
	payload := models.StopTimerPayload{EntryID: id}
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	now := s.opts.Now().UTC().Truncate(time.Second)

	target := id
	if tmp, ok := id.Local(); ok {
		if serverID, found := s.queue.Resolve(tmp); found {
			target = models.RemoteID(serverID)
		}
	}

	var notice string
	if remoteID, ok := target.Remote(); ok && s.online() {
		entry, err := s.backend.StopTimeEntry(ctx, remoteID)
		if err == nil {
			s.logger.Info("Timer stopped", zap.Int64("entry_id", remoteID))
			return entry, nil
		}
		notice = s.fallBack("stop_timer", err)
	}

	pending, err := s.queue.ListPending(ctx)
	if err != nil {
		return nil, err
	}
	if !stopQueued(pending, id) {
		if err := s.enqueue(ctx, models.KindStopTimer, payload, ""); err != nil {
			return nil, err
		}
	}

	entry := models.TimeEntry{ID: id, Pending: true}
	if start, ok := optimisticEntries(pending)[id]; ok {
		entry = start
	}
	entry.EndTime = &now
	entry.Notice = notice
	return &entry, nil
}

// IncomeInput is a new income as entered by the user
type IncomeInput struct {
	ProjectID int64
	Date      time.Time
	Amount    float64
	Currency  string
	Source    string
	Note      string
}

func (in IncomeInput) payload() models.CreateIncomePayload {
	p := models.CreateIncomePayload{ProjectID: in.ProjectID, Amount: in.Amount}
	if !in.Date.IsZero() {
		p.Date = in.Date.UTC().Format(time.DateOnly)
	}
	if code := models.NormalizeCurrency(in.Currency); code != "" {
		p.Currency = &code
	}
	if in.Source != "" {
		p.Source = &in.Source
	}
	if in.Note != "" {
		p.Note = &in.Note
	}
	return p
}

// CreateIncome records an income. Invalid input is rejected before any
// remote call and is never queued; a failed remote call is queued.
func (s *SyncService) CreateIncome(ctx context.Context, in IncomeInput) (*models.Income, error) {
	payload := in.payload()
	if err := payload.Validate(); err != nil {
		return nil, err
	}

	var notice string
	if s.online() {
		income, err := s.backend.CreateIncome(ctx, payload)
		if err == nil {
			s.logger.Info("Income recorded", zap.String("income_id", income.ID.String()), zap.Int64("project_id", in.ProjectID))
			return income, nil
		}
		notice = s.fallBack("create_income", err)
	}

	id := models.NewLocalID()
	tmp, _ := id.Local()
	if err := s.enqueue(ctx, models.KindCreateIncome, payload, tmp); err != nil {
		return nil, err
	}
	income := optimisticIncome(payload, id)
	income.Notice = notice
	return &income, nil
}

func (s *SyncService) enqueue(ctx context.Context, kind models.MutationKind, payload any, localID string) error {
	m, err := models.NewMutation(kind, payload, localID, s.opts.Now())
	if err != nil {
		return err
	}
	if err := s.queue.Enqueue(ctx, m); err != nil {
		return fmt.Errorf("failed to queue %s: %w", kind, err)
	}
	return nil
}

// Sync replays the queue on user request and publishes the outcome
func (s *SyncService) Sync(ctx context.Context) (queue.ReplayResult, error) {
	if c, ok := s.observer.(checker); ok {
		c.Check(ctx)
	}
	return s.replay(ctx, queue.ModeManual)
}

func (s *SyncService) replay(ctx context.Context, mode queue.Mode) (queue.ReplayResult, error) {
	result, err := s.queue.Replay(ctx, mode)
	if err != nil {
		s.logger.Error("Replay could not persist queue state", zap.Error(err))
	}
	s.publish(ctx, result)
	return result, err
}

func (s *SyncService) publish(ctx context.Context, result queue.ReplayResult) {
	event := notify.SyncEvent{
		Mode:         result.Mode.String(),
		Outcome:      string(result.Outcome),
		Succeeded:    result.Succeeded,
		Remaining:    len(result.Remaining),
		DeadLettered: len(result.DeadLettered),
		Message:      result.Message(),
		Timestamp:    s.opts.Now().UTC(),
	}

	quiet := result.Mode == queue.ModeAuto &&
		(result.Outcome == queue.OutcomeNothingPending || result.Outcome == queue.OutcomeOffline)
	if s.history != nil && !quiet {
		if err := s.history.Notify(ctx, event); err != nil {
			s.logger.Warn("Failed to record sync history", zap.Error(err))
		}
	}
	if s.notifier != nil && result.Mode == queue.ModeManual {
		if err := s.notifier.Notify(ctx, event); err != nil {
			s.logger.Warn("Failed to publish sync outcome", zap.Error(err))
		}
	}
}

// Run replays the queue whenever connectivity is restored and on a fixed
// interval until ctx is done
func (s *SyncService) Run(ctx context.Context) error {
	if s.observer != nil {
		s.observer.OnConnectivityRestored(s.trigger)
	}
	// a restore that fired before the listener was registered would be lost;
	// checking after registering covers it, at worst with one extra pass
	if s.online() {
		s.trigger()
	}

	ticker := time.NewTicker(s.opts.SyncInterval)
	defer ticker.Stop()

	s.logger.Info("Sync loop started", zap.Duration("interval", s.opts.SyncInterval))

	for {
		select {
		case <-ticker.C:
			s.replay(ctx, queue.ModeAuto)
		case <-s.kick:
			s.logger.Info("Connectivity restored, replaying queued mutations")
			s.replay(ctx, queue.ModeAuto)
		case <-ctx.Done():
			// one last pass before shutdown, bounded so exit is not held up
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			s.replay(flushCtx, queue.ModeAuto)
			cancel()
			s.logger.Info("Sync loop stopped")
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		}
	}
}

func (s *SyncService) trigger() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Status summarizes the local sync state
type Status struct {
	Online  bool
	Pending int
	Failed  int
}

func (s *SyncService) Status() Status {
	return Status{
		Online:  s.online(),
		Pending: s.queue.PendingCount(),
		Failed:  len(s.queue.ListFailed()),
	}
}
