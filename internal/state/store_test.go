package state

import (
	"context"
	"errors"
	"testing"
	"time"

	"stackctl/internal/reporting"
	"stackctl/internal/runtime"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_MigratesOnce(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(dir)
	require.NoError(t, err)
	defer s.Close()

	var version int
	require.NoError(t, s.db.QueryRow(`SELECT version FROM schema_version`).Scan(&version))
	assert.Equal(t, 1, version)
	assert.FileExists(t, Path(dir))
}

func TestRuns(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	base := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.SaveRun(ctx, Run{ID: "r1", Deployment: "parksphere", Environment: "local", Runtime: "process",
		State: reporting.RunInitializing, StartedAt: base}))
	require.NoError(t, s.SaveRun(ctx, Run{ID: "r2", Deployment: "parksphere", State: reporting.RunInitializing,
		StartedAt: base.Add(time.Minute)}))
	require.NoError(t, s.SaveRun(ctx, Run{ID: "o1", Deployment: "other", State: reporting.RunCompleted,
		StartedAt: base.Add(2 * time.Minute)}))

	// State update keeps identity fields and started_at.
	ended := base.Add(5 * time.Minute)
	require.NoError(t, s.SaveRun(ctx, Run{ID: "r1", State: reporting.RunRolledBack, Error: "HealthTimeout",
		StartedAt: base.Add(time.Hour), EndedAt: &ended}))

	r1, err := s.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "parksphere", r1.Deployment)
	assert.Equal(t, "local", r1.Environment)
	assert.Equal(t, "process", r1.Runtime)
	assert.Equal(t, reporting.RunRolledBack, r1.State)
	assert.Equal(t, "HealthTimeout", r1.Error)
	assert.True(t, base.Equal(r1.StartedAt))
	require.NotNil(t, r1.EndedAt)
	assert.True(t, ended.Equal(*r1.EndedAt))

	_, err = s.GetRun(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))

	runs, err := s.ListRuns(ctx, "parksphere", 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "r2", runs[0].ID)

	all, err := s.ListRuns(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	latest, err := s.LatestRun(ctx, "parksphere")
	require.NoError(t, err)
	assert.Equal(t, "r2", latest.ID)

	active, err := s.LatestActiveRun(ctx, "parksphere")
	require.NoError(t, err)
	assert.Equal(t, "r2", active.ID)

	require.NoError(t, s.SaveRun(ctx, Run{ID: "r2", State: reporting.RunStopFailed}))
	active, err = s.LatestActiveRun(ctx, "parksphere")
	require.NoError(t, err)
	assert.Equal(t, reporting.RunStopFailed, active.State)

	require.NoError(t, s.SaveRun(ctx, Run{ID: "r2", State: reporting.RunStopped}))
	_, err = s.LatestActiveRun(ctx, "parksphere")
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = s.LatestRun(ctx, "nothing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestServices(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	require.NoError(t, s.SaveRun(ctx, Run{ID: "r1", Deployment: "parksphere", State: reporting.RunRunning}))

	h := &runtime.Handle{ID: "4242", Runtime: runtime.NameProcess, Service: "api", PID: 4242, ProbeAddress: "localhost:8000"}
	require.NoError(t, s.SaveService(ctx, ServiceRecord{RunID: "r1", Service: "frontend", State: reporting.StatePending}))
	require.NoError(t, s.SaveService(ctx, ServiceRecord{RunID: "r1", Service: "api", State: reporting.StateStarting, Handle: h, StartSeq: 1}))

	checked := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, s.SaveService(ctx, ServiceRecord{RunID: "r1", Service: "api", State: reporting.StateHealthy,
		Address: "localhost:8000", URL: "http://localhost:8000", Attempts: 2, LastCheckAt: &checked}))

	recs, err := s.Services(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, recs, 2)

	api := recs[0]
	assert.Equal(t, "api", api.Service)
	assert.Equal(t, reporting.StateHealthy, api.State)
	require.NotNil(t, api.Handle, "handle survives an update without one")
	assert.Equal(t, 4242, api.Handle.PID)
	assert.Equal(t, 1, api.StartSeq)
	assert.Equal(t, 2, api.Attempts)
	assert.Equal(t, "http://localhost:8000", api.URL)
	require.NotNil(t, api.LastCheckAt)
	assert.True(t, checked.Equal(*api.LastCheckAt))

	assert.Equal(t, "frontend", recs[1].Service)
	assert.Nil(t, recs[1].Handle)

	// Unknown run violates the foreign key.
	assert.Error(t, s.SaveService(ctx, ServiceRecord{RunID: "nope", Service: "api", State: reporting.StatePending}))
}

func TestPruneRuns(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	base := time.Now().Add(-time.Hour)
	for i, st := range []reporting.RunState{reporting.RunStopped, reporting.RunRolledBack, reporting.RunCompleted, reporting.RunStopped} {
		require.NoError(t, s.SaveRun(ctx, Run{ID: string(rune('a' + i)), Deployment: "d", State: st, StartedAt: base.Add(time.Duration(i) * time.Minute)}))
	}
	require.NoError(t, s.SaveService(ctx, ServiceRecord{RunID: "a", Service: "api", State: reporting.StateStopped}))

	n, err := s.PruneRuns(ctx, "d", 1)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	runs, err := s.ListRuns(ctx, "d", 0)
	require.NoError(t, err)
	var ids []string
	for _, r := range runs {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"d", "c"}, ids)

	recs, err := s.Services(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestRecorder(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	rec := NewRecorder(s, 999)

	now := time.Now()
	rec.ReportRun(reporting.RunUpdate{Timestamp: now, RunID: "r1", Deployment: "parksphere", Environment: "local",
		Runtime: "process", Descriptor: "/tmp/stack.yaml", State: reporting.RunInitializing})
	rec.ReportService(reporting.ServiceUpdate{Timestamp: now, RunID: "r1", Service: "api", State: reporting.StateStarting,
		Handle: &runtime.Handle{ID: "1", PID: 1}, StartSeq: 1})
	rec.ReportService(reporting.ServiceUpdate{Timestamp: now, RunID: "r1", Service: "api", State: reporting.StateFailed,
		Err: errors.New("health check timed out"), LastCheckAt: now, Attempts: 3})

	run, err := s.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, 999, run.OwnerPID)
	assert.Equal(t, "/tmp/stack.yaml", run.Descriptor)

	rec.ReportRun(reporting.RunUpdate{Timestamp: now, RunID: "r1", State: reporting.RunRolledBack, Err: errors.New("HealthTimeout")})
	run, err = s.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, reporting.RunRolledBack, run.State)
	assert.Zero(t, run.OwnerPID)
	assert.NotNil(t, run.EndedAt)
	assert.Equal(t, "HealthTimeout", run.Error)

	recs, err := s.Services(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, reporting.StateFailed, recs[0].State)
	assert.Equal(t, "health check timed out", recs[0].Error)
	assert.Equal(t, 3, recs[0].Attempts)
	assert.NotNil(t, recs[0].Handle)
}
