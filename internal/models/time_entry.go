package models

import "time"

type Project struct {
	ID          int64    `json:"id"`
	Name        string   `json:"name"`
	Client      *string  `json:"client,omitempty"`
	HourlyRate  *float64 `json:"hourly_rate,omitempty"`
	Notes       *string  `json:"notes,omitempty"`
	Description *string  `json:"description,omitempty"`
}

type CreateProjectRequest struct {
	Name        string   `json:"name"`
	Client      *string  `json:"client,omitempty"`
	HourlyRate  *float64 `json:"hourly_rate,omitempty"`
	Notes       *string  `json:"notes,omitempty"`
	Description *string  `json:"description,omitempty"`
}

// TimeEntry is a tracked interval. Pending is set on optimistic records that
// exist only in the offline queue.
type TimeEntry struct {
	ID        RecordID   `json:"id"`
	ProjectID int64      `json:"project_id"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	Note      *string    `json:"note,omitempty"`
	Pending   bool       `json:"pending,omitempty"`
	// Notice says why a write made while online was queued instead
	Notice string `json:"-"`
}

// Running reports whether the timer has not been stopped
func (e TimeEntry) Running() bool {
	return e.EndTime == nil
}

// Duration returns the tracked time, counting open entries up to now
func (e TimeEntry) Duration(now time.Time) time.Duration {
	end := now
	if e.EndTime != nil {
		end = *e.EndTime
	}
	if end.Before(e.StartTime) {
		return 0
	}
	return end.Sub(e.StartTime)
}

// Income is a recorded payment. A nil or blank Currency means the
// reporting currency.
type Income struct {
	ID        RecordID  `json:"id"`
	ProjectID int64     `json:"project_id"`
	Date      time.Time `json:"date"`
	Amount    float64   `json:"amount"`
	Currency  *string   `json:"currency,omitempty"`
	Source    *string   `json:"source,omitempty"`
	Note      *string   `json:"note,omitempty"`
	Pending   bool      `json:"pending,omitempty"`
	Notice    string    `json:"-"`
}

// CurrencyCode returns the income currency or "" when absent
func (i Income) CurrencyCode() string {
	if i.Currency == nil {
		return ""
	}
	return *i.Currency
}
