package service

import (
	"context"
	"sort"

	"autotrac/sync-client/internal/client"
	"autotrac/sync-client/internal/models"

	"go.uber.org/zap"
)

// EntryList is a time entry listing, newest first. Stale means the backend
// could not be reached and only locally queued records are shown.
type EntryList struct {
	Entries []models.TimeEntry
	Stale   bool
}

// IncomeList is an income listing, newest first
type IncomeList struct {
	Incomes []models.Income
	Stale   bool
}

// TimeEntries lists entries of a project (0 = all) merged with the entries
// still waiting in the offline queue
func (s *SyncService) TimeEntries(ctx context.Context, projectID int64) (EntryList, error) {
	var out EntryList
	var remote []models.TimeEntry

	if s.online() {
		entries, err := s.backend.ListTimeEntries(ctx, projectID)
		switch {
		case err == nil:
			remote = entries
		case client.Retryable(err):
			s.readFailed("list_time_entries", err)
			out.Stale = true
		default:
			return out, err
		}
	} else {
		out.Stale = true
	}

	pending, err := s.queue.ListPending(ctx)
	if err != nil {
		return out, err
	}
	out.Entries = mergeEntries(remote, pending, projectID, s.queue.Resolve)
	return out, nil
}

// Incomes lists incomes of a project (0 = all) merged with queued incomes
func (s *SyncService) Incomes(ctx context.Context, projectID int64) (IncomeList, error) {
	var out IncomeList
	var remote []models.Income

	if s.online() {
		incomes, err := s.backend.ListIncomes(ctx, projectID)
		switch {
		case err == nil:
			remote = incomes
		case client.Retryable(err):
			s.readFailed("list_incomes", err)
			out.Stale = true
		default:
			return out, err
		}
	} else {
		out.Stale = true
	}

	pending, err := s.queue.ListPending(ctx)
	if err != nil {
		return out, err
	}
	out.Incomes = mergeIncomes(remote, pending, projectID)
	return out, nil
}

func (s *SyncService) readFailed(op string, err error) {
	if client.IsNetworkError(err) {
		if m, ok := s.observer.(offlineMarker); ok {
			m.MarkOffline()
		}
	}
	s.logger.Warn("Backend read failed, showing local records only", zap.String("op", op), zap.Error(err))
}

// optimisticEntries returns the entries created by queued start_timer
// mutations, keyed by local id
func optimisticEntries(pending []models.PendingMutation) map[models.RecordID]models.TimeEntry {
	out := make(map[models.RecordID]models.TimeEntry)
	for _, m := range pending {
		if m.Kind != models.KindStartTimer || m.LocalID == "" {
			continue
		}
		var p models.StartTimerPayload
		if err := m.DecodePayload(&p); err != nil {
			continue
		}
		id := models.LocalID(m.LocalID)
		out[id] = models.TimeEntry{
			ID:        id,
			ProjectID: p.ProjectID,
			StartTime: p.StartTime,
			EndTime:   p.EndTime,
			Note:      p.Note,
			Pending:   true,
		}
	}
	return out
}

func mergeEntries(remote []models.TimeEntry, pending []models.PendingMutation, projectID int64, resolve func(string) (int64, bool)) []models.TimeEntry {
	merged := make([]models.TimeEntry, 0, len(remote)+len(pending))
	index := make(map[models.RecordID]int)
	for _, e := range remote {
		index[e.ID] = len(merged)
		merged = append(merged, e)
	}

	// queue order keeps optimistic entries stable
	for _, m := range pending {
		if m.Kind != models.KindStartTimer {
			continue
		}
		e, ok := optimisticEntries([]models.PendingMutation{m})[models.LocalID(m.LocalID)]
		if !ok || (projectID > 0 && e.ProjectID != projectID) {
			continue
		}
		index[e.ID] = len(merged)
		merged = append(merged, e)
	}

	for _, m := range pending {
		if m.Kind != models.KindStopTimer {
			continue
		}
		var p models.StopTimerPayload
		if err := m.DecodePayload(&p); err != nil {
			continue
		}
		i, ok := index[p.EntryID]
		if !ok {
			if tmp, isLocal := p.EntryID.Local(); isLocal {
				if serverID, found := resolve(tmp); found {
					i, ok = index[models.RemoteID(serverID)]
				}
			}
		}
		if !ok || merged[i].EndTime != nil {
			continue
		}
		end := m.CreatedAt
		merged[i].EndTime = &end
		merged[i].Pending = true
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].StartTime.After(merged[j].StartTime)
	})
	return merged
}

func optimisticIncome(p models.CreateIncomePayload, id models.RecordID) models.Income {
	date, _ := models.ParseTimestamp(p.Date)
	return models.Income{
		ID:        id,
		ProjectID: p.ProjectID,
		Date:      date,
		Amount:    p.Amount,
		Currency:  p.Currency,
		Source:    p.Source,
		Note:      p.Note,
		Pending:   true,
	}
}

func mergeIncomes(remote []models.Income, pending []models.PendingMutation, projectID int64) []models.Income {
	merged := append([]models.Income(nil), remote...)
	for _, m := range pending {
		if m.Kind != models.KindCreateIncome {
			continue
		}
		var p models.CreateIncomePayload
		if err := m.DecodePayload(&p); err != nil {
			continue
		}
		if projectID > 0 && p.ProjectID != projectID {
			continue
		}
		id := models.LocalID(m.LocalID)
		if m.LocalID == "" {
			id = models.LocalID(m.ID)
		}
		merged = append(merged, optimisticIncome(p, id))
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Date.After(merged[j].Date)
	})
	return merged
}

// stopQueued reports whether a stop for id is already waiting
func stopQueued(pending []models.PendingMutation, id models.RecordID) bool {
	for _, m := range pending {
		if m.Kind != models.KindStopTimer {
			continue
		}
		var p models.StopTimerPayload
		if err := m.DecodePayload(&p); err == nil && p.EntryID == id {
			return true
		}
	}
	return false
}
