package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"autotrac/sync-client/internal/client"
	"autotrac/sync-client/internal/connectivity"
	"autotrac/sync-client/internal/fx"
	"autotrac/sync-client/internal/models"
	"autotrac/sync-client/internal/notify"
	"autotrac/sync-client/internal/queue"
	"autotrac/sync-client/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var testNow = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

// fakeBackend is an in-memory AutoTrac API. When err is set every call
// fails with it.
type fakeBackend struct {
	mu      sync.Mutex
	err     error
	nextID  int64
	entries []models.TimeEntry
	incomes []models.Income
	applied []models.PendingMutation
}

func (b *fakeBackend) fail(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.err = err
}

func (b *fakeBackend) ListTimeEntries(ctx context.Context, projectID int64) ([]models.TimeEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	var out []models.TimeEntry
	for _, e := range b.entries {
		if projectID == 0 || e.ProjectID == projectID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (b *fakeBackend) CreateTimeEntry(ctx context.Context, p models.StartTimerPayload) (*models.TimeEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	b.nextID++
	e := models.TimeEntry{ID: models.RemoteID(b.nextID), ProjectID: p.ProjectID, StartTime: p.StartTime, EndTime: p.EndTime, Note: p.Note}
	b.entries = append(b.entries, e)
	return &e, nil
}

func (b *fakeBackend) StopTimeEntry(ctx context.Context, id int64) (*models.TimeEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	for i, e := range b.entries {
		if e.ID == models.RemoteID(id) {
			end := testNow.Add(time.Hour)
			b.entries[i].EndTime = &end
			out := b.entries[i]
			return &out, nil
		}
	}
	return nil, &client.BadRequestError{StatusCode: 404, Message: "Time entry not found"}
}

func (b *fakeBackend) ListIncomes(ctx context.Context, projectID int64) ([]models.Income, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	var out []models.Income
	for _, inc := range b.incomes {
		if projectID == 0 || inc.ProjectID == projectID {
			out = append(out, inc)
		}
	}
	return out, nil
}

func (b *fakeBackend) CreateIncome(ctx context.Context, p models.CreateIncomePayload) (*models.Income, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	b.nextID++
	date, _ := models.ParseTimestamp(p.Date)
	inc := models.Income{ID: models.RemoteID(b.nextID), ProjectID: p.ProjectID, Date: date, Amount: p.Amount, Currency: p.Currency}
	b.incomes = append(b.incomes, inc)
	return &inc, nil
}

// Apply lets the fake serve as the queue's applier, the way client.APIClient does
func (b *fakeBackend) Apply(ctx context.Context, m models.PendingMutation) (client.ApplyResult, error) {
	var (
		id  int64
		err error
	)
	switch m.Kind {
	case models.KindStartTimer:
		var p models.StartTimerPayload
		if err = m.DecodePayload(&p); err == nil {
			var e *models.TimeEntry
			if e, err = b.CreateTimeEntry(ctx, p); err == nil {
				id, _ = e.ID.Remote()
			}
		}
	case models.KindStopTimer:
		var p models.StopTimerPayload
		if err = m.DecodePayload(&p); err == nil {
			remote, ok := p.EntryID.Remote()
			if !ok {
				return client.ApplyResult{}, client.ErrLocalReference
			}
			_, err = b.StopTimeEntry(ctx, remote)
			id = remote
		}
	case models.KindCreateIncome:
		var p models.CreateIncomePayload
		if err = m.DecodePayload(&p); err == nil {
			var inc *models.Income
			if inc, err = b.CreateIncome(ctx, p); err == nil {
				id, _ = inc.ID.Remote()
			}
		}
	}
	if err != nil {
		return client.ApplyResult{}, err
	}
	b.mu.Lock()
	b.applied = append(b.applied, m)
	b.mu.Unlock()
	return client.ApplyResult{ServerID: id}, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.SyncEvent
}

func (r *recordingNotifier) Notify(_ context.Context, e notify.SyncEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingNotifier) all() []notify.SyncEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.SyncEvent(nil), r.events...)
}

type fixture struct {
	svc      *SyncService
	backend  *fakeBackend
	queue    *queue.MutationQueue
	observer *connectivity.Manual
	notifier *recordingNotifier
	history  *recordingNotifier
}

func newFixture(t *testing.T, online bool) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	backend := &fakeBackend{nextID: 10}
	observer := connectivity.NewManual(online)
	clock := func() time.Time { return testNow }

	q, err := queue.Open(context.Background(), storage.NewMemoryStore(), backend, observer, queue.Options{Now: clock}, logger)
	require.NoError(t, err)

	rates := fx.New(storage.NewMemoryStore(), staticProvider{"USD": 0.79}, observer, fx.Options{ReportingCurrency: "GBP", Now: clock}, logger)
	f := &fixture{
		backend:  backend,
		queue:    q,
		observer: observer,
		notifier: &recordingNotifier{},
		history:  &recordingNotifier{},
	}
	f.svc = NewSyncService(backend, q, observer, rates, f.notifier, f.history, Options{SyncInterval: time.Hour, Now: clock}, logger)
	return f
}

type staticProvider map[string]float64

func (p staticProvider) FetchRate(_ context.Context, from, _ string) (float64, error) {
	rate, ok := p[from]
	if !ok {
		return 0, &client.BadRequestError{StatusCode: 404, Message: "unknown currency"}
	}
	return rate, nil
}

func TestStartTimer_Online(t *testing.T) {
	f := newFixture(t, true)

	entry, err := f.svc.StartTimer(context.Background(), 1, nil)
	require.NoError(t, err)
	assert.Equal(t, models.RemoteID(11), entry.ID)
	assert.False(t, entry.Pending)
	assert.Zero(t, f.queue.PendingCount())
}

func TestStartTimer_OfflineQueuesOptimisticEntry(t *testing.T) {
	f := newFixture(t, false)

	entry, err := f.svc.StartTimer(context.Background(), 1, nil)
	require.NoError(t, err)
	assert.Equal(t, models.LocalRecord, entry.ID.Kind())
	assert.True(t, entry.Pending)
	assert.True(t, entry.StartTime.Equal(testNow))

	pending, err := f.queue.ListPending(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, models.KindStartTimer, pending[0].Kind)
	tmp, _ := entry.ID.Local()
	assert.Equal(t, tmp, pending[0].LocalID)
	assert.JSONEq(t, `{"project_id":1,"start_time":"2024-03-01T09:00:00Z","end_time":null}`, string(pending[0].Payload))
}

func TestStartTimer_NetworkFailureFallsBackToQueue(t *testing.T) {
	f := newFixture(t, true)
	f.backend.fail(&client.NetworkError{Op: "POST /time-entries/", Err: context.DeadlineExceeded})

	entry, err := f.svc.StartTimer(context.Background(), 1, nil)
	require.NoError(t, err)
	assert.True(t, entry.Pending)
	assert.Equal(t, 1, f.queue.PendingCount())
}

func TestWrites_RejectedByBackendAreQueued(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"not found", &client.BadRequestError{StatusCode: 404, Message: "not found"}},
		{"unprocessable", &client.BadRequestError{StatusCode: 422, Message: "unknown project"}},
		{"unauthorized", &client.AuthError{StatusCode: 401, Message: "bad key"}},
		{"server error", &client.BackendError{StatusCode: 500, Message: "boom"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, true)
			ctx := context.Background()
			f.backend.fail(tt.err)

			income, err := f.svc.CreateIncome(ctx, IncomeInput{ProjectID: 1, Date: testNow, Amount: 50})
			require.NoError(t, err)
			assert.True(t, income.Pending)
			assert.Equal(t, models.LocalRecord, income.ID.Kind())
			assert.Contains(t, income.Notice, tt.err.Error())

			entry, err := f.svc.StartTimer(ctx, 1, nil)
			require.NoError(t, err)
			assert.True(t, entry.Pending)
			assert.NotEmpty(t, entry.Notice)

			stopped, err := f.svc.StopTimer(ctx, models.RemoteID(3))
			require.NoError(t, err)
			assert.True(t, stopped.Pending)
			assert.NotEmpty(t, stopped.Notice)

			assert.Equal(t, 3, f.queue.PendingCount())
			// rejection is not a connectivity problem
			assert.True(t, f.observer.IsOnline())
		})
	}
}

func TestWrites_OfflineHaveNoNotice(t *testing.T) {
	f := newFixture(t, false)

	income, err := f.svc.CreateIncome(context.Background(), IncomeInput{ProjectID: 1, Date: testNow, Amount: 50})
	require.NoError(t, err)
	assert.True(t, income.Pending)
	assert.Empty(t, income.Notice)
}

func TestValidationErrorsAreNeverQueued(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	date := testNow

	tests := []struct {
		name string
		call func() error
	}{
		{"start without project", func() error { _, err := f.svc.StartTimer(ctx, 0, nil); return err }},
		{"stop without id", func() error { _, err := f.svc.StopTimer(ctx, models.RecordID{}); return err }},
		{"zero amount", func() error {
			_, err := f.svc.CreateIncome(ctx, IncomeInput{ProjectID: 1, Date: date, Amount: 0})
			return err
		}},
		{"negative amount", func() error {
			_, err := f.svc.CreateIncome(ctx, IncomeInput{ProjectID: 1, Date: date, Amount: -5})
			return err
		}},
		{"bad currency", func() error {
			_, err := f.svc.CreateIncome(ctx, IncomeInput{ProjectID: 1, Date: date, Amount: 5, Currency: "DOLLARS"})
			return err
		}},
		{"missing date", func() error {
			_, err := f.svc.CreateIncome(ctx, IncomeInput{ProjectID: 1, Amount: 5})
			return err
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var verr *models.ValidationError
			require.ErrorAs(t, tt.call(), &verr)
		})
	}
	assert.Zero(t, f.queue.PendingCount())
}

func TestCreateIncome_OfflineThenSync(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	income, err := f.svc.CreateIncome(ctx, IncomeInput{ProjectID: 1, Date: testNow, Amount: 50, Currency: "usd"})
	require.NoError(t, err)
	assert.True(t, income.Pending)
	assert.Equal(t, "USD", income.CurrencyCode())

	pending, _ := f.queue.ListPending(ctx)
	require.Len(t, pending, 1)
	assert.JSONEq(t, `{"project_id":1,"date":"2024-03-01","amount":50,"currency":"USD"}`, string(pending[0].Payload))

	list, err := f.svc.Incomes(ctx, 1)
	require.NoError(t, err)
	assert.True(t, list.Stale)
	require.Len(t, list.Incomes, 1)
	assert.True(t, list.Incomes[0].Pending)

	f.observer.SetOnline(true)
	result, err := f.svc.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, queue.OutcomeSynced, result.Outcome)
	assert.Len(t, f.backend.incomes, 1)

	list, err = f.svc.Incomes(ctx, 1)
	require.NoError(t, err)
	assert.False(t, list.Stale)
	require.Len(t, list.Incomes, 1)
	assert.False(t, list.Incomes[0].Pending)
}

func TestStopTimer_OfflineLocalEntry(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	started, err := f.svc.StartTimer(ctx, 1, nil)
	require.NoError(t, err)

	stopped, err := f.svc.StopTimer(ctx, started.ID)
	require.NoError(t, err)
	assert.Equal(t, started.ID, stopped.ID)
	assert.Equal(t, int64(1), stopped.ProjectID)
	require.NotNil(t, stopped.EndTime)

	// stopping twice does not queue a second stop
	_, err = f.svc.StopTimer(ctx, started.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, f.queue.PendingCount())

	list, err := f.svc.TimeEntries(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list.Entries, 1)
	assert.False(t, list.Entries[0].Running())

	f.observer.SetOnline(true)
	result, err := f.svc.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, queue.OutcomeSynced, result.Outcome)
	assert.Equal(t, 2, result.Succeeded)

	require.Len(t, f.backend.entries, 1)
	assert.NotNil(t, f.backend.entries[0].EndTime)

	require.Len(t, f.backend.applied, 2)
	var stop models.StopTimerPayload
	require.NoError(t, f.backend.applied[1].DecodePayload(&stop))
	assert.Equal(t, f.backend.entries[0].ID, stop.EntryID)
}

func TestStopTimer_RemoteEntryWhileOffline(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	started, err := f.svc.StartTimer(ctx, 1, nil)
	require.NoError(t, err)

	f.observer.SetOnline(false)
	stopped, err := f.svc.StopTimer(ctx, started.ID)
	require.NoError(t, err)
	assert.True(t, stopped.Pending)

	f.backend.fail(&client.NetworkError{Op: "GET /time-entries/", Err: context.DeadlineExceeded})
	f.observer.SetOnline(true)
	list, err := f.svc.TimeEntries(ctx, 0)
	require.NoError(t, err)
	assert.True(t, list.Stale)

	f.backend.fail(nil)
	list, err = f.svc.TimeEntries(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list.Entries, 1)
	assert.True(t, list.Entries[0].Pending)
	assert.False(t, list.Entries[0].Running())
}

func TestSync_ManualNotifiesAndRecords(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	_, err := f.svc.CreateIncome(ctx, IncomeInput{ProjectID: 1, Date: testNow, Amount: 5})
	require.NoError(t, err)

	result, err := f.svc.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, queue.OutcomeOffline, result.Outcome)

	events := f.notifier.all()
	require.Len(t, events, 1)
	assert.Equal(t, "manual", events[0].Mode)
	assert.Equal(t, "Cannot sync while offline; 1 change(s) pending.", events[0].Message)
	assert.Len(t, f.history.all(), 1)
}

func TestRun_ReplaysOnConnectivityRestored(t *testing.T) {
	f := newFixture(t, false)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := f.svc.CreateIncome(ctx, IncomeInput{ProjectID: 1, Date: testNow, Amount: 5})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- f.svc.Run(ctx) }()

	require.Eventually(t, func() bool {
		f.observer.SetOnline(false)
		f.observer.SetOnline(true)
		return f.queue.PendingCount() == 0
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	// auto replays are recorded in history but never surfaced to the user
	assert.Empty(t, f.notifier.all())
	assert.NotEmpty(t, f.history.all())
}

type healthyBackend struct{}

func (healthyBackend) HealthCheck(context.Context) error { return nil }

func TestRun_ReplaysWhenProbeCameOnlineFirst(t *testing.T) {
	logger := zaptest.NewLogger(t)
	backend := &fakeBackend{nextID: 10}
	probe := connectivity.NewHealthProbe(healthyBackend{}, time.Hour, logger)
	clock := func() time.Time { return testNow }

	q, err := queue.Open(context.Background(), storage.NewMemoryStore(), backend, probe, queue.Options{Now: clock}, logger)
	require.NoError(t, err)
	svc := NewSyncService(backend, q, probe, nil, nil, nil, Options{SyncInterval: time.Hour, Now: clock}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err = svc.CreateIncome(ctx, IncomeInput{ProjectID: 1, Date: testNow, Amount: 5})
	require.NoError(t, err)
	require.Equal(t, 1, q.PendingCount())

	probe.Start(ctx)
	defer probe.Stop()
	require.Eventually(t, probe.IsOnline, 2*time.Second, 10*time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	require.Eventually(t, func() bool { return q.PendingCount() == 0 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.Len(t, backend.incomes, 1)
}

func TestStatus(t *testing.T) {
	f := newFixture(t, false)
	_, err := f.svc.StartTimer(context.Background(), 1, nil)
	require.NoError(t, err)

	assert.Equal(t, Status{Online: false, Pending: 1}, f.svc.Status())
}

func TestReports(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	usd, jpy := "USD", "JPY"
	f.backend.incomes = []models.Income{
		{ID: models.RemoteID(1), ProjectID: 1, Date: testNow, Amount: 100, Currency: &usd},
		{ID: models.RemoteID(2), ProjectID: 1, Date: testNow, Amount: 50, Currency: &usd},
		{ID: models.RemoteID(3), ProjectID: 1, Date: testNow.AddDate(0, 0, 7), Amount: 1000, Currency: &jpy},
	}
	end := testNow.Add(2 * time.Hour)
	f.backend.entries = []models.TimeEntry{{ID: models.RemoteID(5), ProjectID: 1, StartTime: testNow, EndTime: &end}}

	daily, err := f.svc.DailyIncome(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "GBP", daily.Currency)
	require.Len(t, daily.Buckets, 2)
	assert.Equal(t, "118.50", daily.Buckets[0].Display())
	assert.Equal(t, fx.Placeholder, daily.Buckets[1].Display())
	assert.Equal(t, []string{"JPY"}, daily.Buckets[1].Unresolved)

	weekly, err := f.svc.WeeklyIncome(ctx, 1)
	require.NoError(t, err)
	require.Len(t, weekly.Buckets, 2)

	project, err := f.svc.ProjectSummary(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 120.0, project.Summary.TotalMinutes)
	assert.InDelta(t, 118.5, project.Summary.TotalIncome, 1e-9)
	require.NotNil(t, project.Summary.EffectiveHourlyRate)
	assert.Equal(t, 59.25, *project.Summary.EffectiveHourlyRate)
}
