package models

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// MutationKind tags the remote write a PendingMutation replays
type MutationKind string

const (
	KindStartTimer   MutationKind = "start_timer"
	KindStopTimer    MutationKind = "stop_timer"
	KindCreateIncome MutationKind = "create_income"
)

func (k MutationKind) Valid() bool {
	switch k {
	case KindStartTimer, KindStopTimer, KindCreateIncome:
		return true
	}
	return false
}

// PendingMutation is a remote write deferred while offline. Payload is the
// exact request body; for stop_timer it addresses the entry to stop.
// LocalID names the optimistic record the mutation creates, if any.
type PendingMutation struct {
	ID        string          `json:"id"`
	Kind      MutationKind    `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	LocalID   string          `json:"local_id,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// StartTimerPayload is the body of POST /time-entries/
type StartTimerPayload struct {
	ProjectID int64      `json:"project_id"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time"`
	Note      *string    `json:"note,omitempty"`
}

// StopTimerPayload addresses POST /time-entries/{id}/stop
type StopTimerPayload struct {
	EntryID RecordID `json:"entry_id"`
}

// CreateIncomePayload is the body of POST /incomes/
type CreateIncomePayload struct {
	ProjectID int64   `json:"project_id"`
	Date      string  `json:"date"`
	Amount    float64 `json:"amount"`
	Currency  *string `json:"currency,omitempty"`
	Source    *string `json:"source,omitempty"`
	Note      *string `json:"note,omitempty"`
}

// NewMutation builds a mutation with a fresh time-ordered id
func NewMutation(kind MutationKind, payload any, localID string, now time.Time) (PendingMutation, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return PendingMutation{}, fmt.Errorf("failed to marshal %s payload: %w", kind, err)
	}
	id, err := uuid.NewV7()
	if err != nil {
		return PendingMutation{}, fmt.Errorf("failed to generate mutation id: %w", err)
	}
	return PendingMutation{
		ID:        id.String(),
		Kind:      kind,
		Payload:   raw,
		LocalID:   localID,
		CreatedAt: now.UTC(),
	}, nil
}

// DecodePayload unmarshals the payload into dst
func (m PendingMutation) DecodePayload(dst any) error {
	if err := json.Unmarshal(m.Payload, dst); err != nil {
		return fmt.Errorf("failed to decode %s payload of mutation %s: %w", m.Kind, m.ID, err)
	}
	return nil
}

// Validate checks the mutation shape without looking at the network
func (m PendingMutation) Validate() error {
	if !m.Kind.Valid() {
		return &ValidationError{Field: "kind", Message: fmt.Sprintf("unknown mutation kind %q", m.Kind)}
	}
	if len(m.Payload) == 0 || !json.Valid(m.Payload) {
		return &ValidationError{Field: "payload", Message: "payload must be a JSON document"}
	}

	switch m.Kind {
	case KindStartTimer:
		var p StartTimerPayload
		if err := m.DecodePayload(&p); err != nil {
			return &ValidationError{Field: "payload", Message: err.Error()}
		}
		return p.Validate()
	case KindStopTimer:
		var p StopTimerPayload
		if err := m.DecodePayload(&p); err != nil {
			return &ValidationError{Field: "payload", Message: err.Error()}
		}
		return p.Validate()
	case KindCreateIncome:
		var p CreateIncomePayload
		if err := m.DecodePayload(&p); err != nil {
			return &ValidationError{Field: "payload", Message: err.Error()}
		}
		return p.Validate()
	}
	return nil
}

func (p StartTimerPayload) Validate() error {
	if p.ProjectID <= 0 {
		return &ValidationError{Field: "project_id", Message: "must be positive"}
	}
	if p.StartTime.IsZero() {
		return &ValidationError{Field: "start_time", Message: "is required"}
	}
	if p.EndTime != nil && p.EndTime.Before(p.StartTime) {
		return &ValidationError{Field: "end_time", Message: "must not be before start_time"}
	}
	return nil
}

func (p StopTimerPayload) Validate() error {
	if p.EntryID.IsZero() {
		return &ValidationError{Field: "entry_id", Message: "is required"}
	}
	return nil
}

func (p CreateIncomePayload) Validate() error {
	if p.ProjectID <= 0 {
		return &ValidationError{Field: "project_id", Message: "must be positive"}
	}
	if p.Amount <= 0 || math.IsNaN(p.Amount) || math.IsInf(p.Amount, 0) {
		return &ValidationError{Field: "amount", Message: "must be a positive number"}
	}
	if p.Date == "" {
		return &ValidationError{Field: "date", Message: "is required"}
	}
	if _, err := ParseTimestamp(p.Date); err != nil {
		return &ValidationError{Field: "date", Message: err.Error()}
	}
	if p.Currency != nil && !ValidCurrency(*p.Currency) {
		return &ValidationError{Field: "currency", Message: fmt.Sprintf("invalid currency code %q", *p.Currency)}
	}
	return nil
}

// ValidationError is a local input error. It is reported before any remote
// call and such input is never queued.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}
