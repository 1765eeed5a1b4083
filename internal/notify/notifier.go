// Package notify publishes sync outcomes: to the log, to the sync history
// table and optionally to a RabbitMQ exchange.
package notify

import (
	"context"
	"errors"
	"time"

	"autotrac/sync-client/internal/repository"

	"go.uber.org/zap"
)

// SyncEvent describes one replay pass
type SyncEvent struct {
	Mode         string    `json:"mode"`
	Outcome      string    `json:"outcome"`
	Succeeded    int       `json:"succeeded"`
	Remaining    int       `json:"remaining"`
	DeadLettered int       `json:"dead_lettered"`
	Message      string    `json:"message"`
	Timestamp    time.Time `json:"timestamp"`
}

type Notifier interface {
	Notify(ctx context.Context, event SyncEvent) error
}

// Multi fans an event out to every notifier and joins their errors
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, event SyncEvent) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogNotifier writes the outcome message to the log
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, event SyncEvent) error {
	fields := []zap.Field{
		zap.String("mode", event.Mode),
		zap.String("outcome", event.Outcome),
		zap.Int("succeeded", event.Succeeded),
		zap.Int("remaining", event.Remaining),
	}
	if event.DeadLettered > 0 {
		n.logger.Warn(event.Message, append(fields, zap.Int("dead_lettered", event.DeadLettered))...)
		return nil
	}
	n.logger.Info(event.Message, fields...)
	return nil
}

// HistoryNotifier records every event in the sync_log table
type HistoryNotifier struct {
	repo *repository.SyncLogRepository
}

func NewHistoryNotifier(repo *repository.SyncLogRepository) *HistoryNotifier {
	return &HistoryNotifier{repo: repo}
}

func (n *HistoryNotifier) Notify(ctx context.Context, event SyncEvent) error {
	return n.repo.Create(ctx, &repository.SyncRecord{
		Mode:         event.Mode,
		Outcome:      event.Outcome,
		Succeeded:    event.Succeeded,
		Remaining:    event.Remaining,
		DeadLettered: event.DeadLettered,
		Message:      event.Message,
		CreatedAt:    event.Timestamp,
	})
}
