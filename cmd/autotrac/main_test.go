package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAPI serves the endpoints the CLI touches. While down every request
// gets a 503.
type fakeAPI struct {
	up       atomic.Bool
	mu       sync.Mutex
	incomes  []map[string]any
	projects []map[string]any
	deleted  []string
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !f.up.Load() {
		http.Error(w, `{"detail":"maintenance"}`, http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")

	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case r.URL.Path == "/":
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	case r.URL.Path == "/incomes/" && r.Method == http.MethodPost:
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		body["id"] = len(f.incomes) + 1
		f.incomes = append(f.incomes, body)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(body)
	case r.URL.Path == "/incomes/":
		_ = json.NewEncoder(w).Encode(f.incomes)
	case r.Method == http.MethodDelete:
		f.deleted = append(f.deleted, r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	case r.URL.Path == "/projects/" && r.Method == http.MethodPost:
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		body["id"] = len(f.projects) + 1
		f.projects = append(f.projects, body)
		_ = json.NewEncoder(w).Encode(body)
	case r.URL.Path == "/projects/":
		_ = json.NewEncoder(w).Encode(f.projects)
	case r.URL.Path == "/latest":
		_, _ = w.Write([]byte(`{"rates":{"GBP":0.79}}`))
	default:
		http.NotFound(w, r)
	}
}

func setupCLI(t *testing.T) (*fakeAPI, func(args ...string) string, func(args ...string) error) {
	t.Helper()
	api := &fakeAPI{}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	chdirForTest(t, dir)
	t.Setenv("AUTOTRAC_BACKEND_URL", srv.URL)
	t.Setenv("AUTOTRAC_FX_URL", srv.URL)
	t.Setenv("AUTOTRAC_STORAGE_PATH", filepath.Join(dir, "autotrac.db"))
	t.Setenv("AUTOTRAC_LOG_LEVEL", "error")
	t.Setenv("AUTOTRAC_BACKEND_TIMEOUT", "2")

	execute := func(args ...string) (string, error) {
		cmd, closeApp := newRootCmd()
		defer closeApp()
		var out bytes.Buffer
		cmd.SetOut(&out)
		cmd.SetErr(&out)
		cmd.SetArgs(append([]string{"--config", filepath.Join(dir, "missing.yaml")}, args...))
		err := cmd.Execute()
		return out.String(), err
	}
	run := func(args ...string) string {
		t.Helper()
		out, err := execute(args...)
		require.NoError(t, err, out)
		return out
	}
	runErr := func(args ...string) error {
		t.Helper()
		_, err := execute(args...)
		return err
	}
	return api, run, runErr
}

func TestCLI_OfflineIncomeIsQueuedAndSynced(t *testing.T) {
	api, run, _ := setupCLI(t)

	out := run("income", "1", "50", "--currency", "usd", "--date", "2024-03-01")
	assert.Contains(t, out, "50.00 USD on 2024-03-01")
	assert.Contains(t, out, "queued, will sync later")

	out = run("pending")
	assert.Contains(t, out, "create_income")
	assert.Contains(t, out, `"currency":"USD"`)

	out = run("incomes")
	assert.Contains(t, out, "Offline")

	out = run("sync")
	assert.Contains(t, out, "Cannot sync while offline; 1 change(s) pending.")

	api.up.Store(true)
	out = run("sync")
	assert.Contains(t, out, "All changes synced (1 applied).")
	require.Len(t, api.incomes, 1)
	assert.Equal(t, "USD", api.incomes[0]["currency"])

	assert.Contains(t, run("pending"), "Nothing pending.")

	out = run("history")
	assert.Contains(t, out, "synced")
	assert.Contains(t, out, "offline")

	out = run("incomes")
	assert.NotContains(t, out, "Offline")
	assert.Contains(t, out, "39.50")
}

func TestCLI_ConvertAndClear(t *testing.T) {
	api, run, _ := setupCLI(t)
	api.up.Store(true)

	assert.Contains(t, run("convert", "100", "USD"), "79.00 GBP")
	assert.Contains(t, run("convert", "100", "gbp"), "100.00 GBP")

	api.up.Store(false)
	run("income", "1", "5", "--date", "2024-03-01")
	assert.Contains(t, run("clear", "--yes"), "Discarded 1 change(s).")
	assert.Contains(t, run("pending"), "Nothing pending.")
}

func TestCLI_ProjectsAndDeletes(t *testing.T) {
	api, run, runErr := setupCLI(t)
	api.up.Store(true)

	assert.Contains(t, run("projects", "add", "Acme site", "--client", "Acme", "--rate", "45"), "Project 1: Acme site")
	out := run("projects")
	assert.Contains(t, out, "Acme site")
	assert.Contains(t, out, "45.00")

	run("projects", "rm", "1")
	run("delete", "income", "7")
	assert.Equal(t, []string{"/projects/1/", "/incomes/7/"}, api.deleted)

	assert.ErrorContains(t, runErr("delete", "entry", "local:abc"), "has not been synced yet")
	assert.ErrorContains(t, runErr("delete", "note", "3"), "unknown record type")

	api.up.Store(false)
	assert.ErrorIs(t, runErr("delete", "entry", "3"), errNeedsConnection)
	assert.Len(t, api.deleted, 2)
}

func TestCLI_RejectedWriteIsQueuedWithNotice(t *testing.T) {
	api, run, _ := setupCLI(t)
	api.up.Store(true)

	// the fake API has no time-entry endpoint, so the start is rejected with 404
	out := run("start", "1")
	assert.Contains(t, out, "queued, will sync later")
	assert.Contains(t, out, "Note: The AutoTrac API did not accept the change")

	assert.Contains(t, run("pending"), "start_timer")
}

func TestRootCmd_ClosesAppOnSuccessAndFailure(t *testing.T) {
	api, _, _ := setupCLI(t)
	api.up.Store(true)
	configArgs := []string{"--config", "missing.yaml"}

	root, closeApp := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs(append(configArgs, "pending"))
	cmd, err := root.ExecuteC()
	require.NoError(t, err)
	a := appFrom(cmd)
	require.NotNil(t, a)
	assert.ErrorContains(t, a.db.PingContext(context.Background()), "closed")
	closeApp()

	root, closeApp = newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(append(configArgs, "delete", "entry", "local:abc"))
	cmd, err = root.ExecuteC()
	require.Error(t, err)
	a = appFrom(cmd)
	require.NotNil(t, a)
	require.NoError(t, a.db.PingContext(context.Background()))

	closeApp()
	assert.ErrorContains(t, a.db.PingContext(context.Background()), "closed")
	closeApp()
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0m"},
		{29 * time.Second, "0m"},
		{45 * time.Minute, "45m"},
		{90 * time.Minute, "1h 30m"},
		{10*time.Hour + 5*time.Minute, "10h 05m"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatDuration(tt.d), tt.d.String())
	}
}

func TestParseID(t *testing.T) {
	id, err := parseID(" 42 ")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	for _, bad := range []string{"", "0", "-1", "abc"} {
		_, err := parseID(bad)
		assert.Error(t, err, bad)
	}
}
