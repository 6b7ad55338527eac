package reporting

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"

	"stackctl/internal/runtime"
	"stackctl/pkg/logging"

	"github.com/stretchr/testify/assert"
)

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	logging.InitForCLI(logging.LevelDebug, &buf)
	t.Cleanup(func() { logging.InitForCLI(logging.LevelInfo, os.Stderr) })
	return &buf
}

func TestConsoleReporter_ReportService(t *testing.T) {
	tests := []struct {
		name             string
		update           ServiceUpdate
		expectedLevel    string
		expectedSubstr   string
		expectErrorInLog bool
	}{
		{
			name:           "starting",
			update:         ServiceUpdate{Service: "api", State: StateStarting, Handle: &runtime.Handle{ID: "4242"}},
			expectedLevel:  "DEBUG",
			expectedSubstr: "State: Starting, Handle: 4242",
		},
		{
			name:           "healthy with url",
			update:         ServiceUpdate{Service: "api", State: StateHealthy, URL: "http://localhost:8000", Attempts: 3},
			expectedLevel:  "INFO",
			expectedSubstr: "State: Healthy, URL: http://localhost:8000, Attempts: 3",
		},
		{
			name:             "failed with error",
			update:           ServiceUpdate{Service: "api", State: StateFailed, Err: errors.New("health check timed out")},
			expectedLevel:    "ERROR",
			expectedSubstr:   "State: Failed",
			expectErrorInLog: true,
		},
		{
			name:           "failed without error",
			update:         ServiceUpdate{Service: "frontend", State: StateFailed},
			expectedLevel:  "ERROR",
			expectedSubstr: "State: Failed",
		},
		{
			name:           "stopped",
			update:         ServiceUpdate{Service: "frontend", State: StateStopped},
			expectedLevel:  "INFO",
			expectedSubstr: "State: Stopped",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logBuf := captureLogs(t)

			reporter := NewConsoleReporter()
			reporter.ReportService(tt.update)

			out := logBuf.String()
			assert.Contains(t, out, fmt.Sprintf("level=%s", tt.expectedLevel))
			assert.Contains(t, out, tt.expectedSubstr)
			assert.Contains(t, out, "subsystem=Service-"+tt.update.Service)
			if tt.expectErrorInLog {
				assert.Contains(t, out, tt.update.Err.Error())
			}
		})
	}
}

func TestConsoleReporter_OnlyLogsChanges(t *testing.T) {
	logBuf := captureLogs(t)
	reporter := NewConsoleReporter()

	reporter.ReportService(ServiceUpdate{Service: "api", State: StateStarting})
	logBuf.Reset()
	reporter.ReportService(ServiceUpdate{Service: "api", State: StateStarting})
	assert.Empty(t, logBuf.String())

	snap, ok := reporter.GetStateStore().GetServiceState("api")
	assert.True(t, ok)
	assert.Equal(t, StateStarting, snap.State)
}

func TestConsoleReporter_ReportRun(t *testing.T) {
	logBuf := captureLogs(t)
	reporter := NewConsoleReporter()

	reporter.ReportRun(RunUpdate{RunID: "r1", Deployment: "parksphere", State: RunRolledBack, Err: errors.New("HealthTimeout")})
	out := logBuf.String()
	assert.Contains(t, out, "level=ERROR")
	assert.Contains(t, out, "subsystem=Run-parksphere")
	assert.Contains(t, out, "Run r1 rolled back")
	assert.Contains(t, out, "HealthTimeout")
}

func TestMultiAndRecorder(t *testing.T) {
	var a, b Recorder
	m := Multi{&a, nil, &b}

	m.ReportRun(RunUpdate{RunID: "r1", State: RunInitializing})
	m.ReportRun(RunUpdate{RunID: "r1", State: RunRunning})
	m.ReportService(ServiceUpdate{Service: "api", State: StateStarting})
	m.ReportService(ServiceUpdate{Service: "frontend", State: StatePending})
	m.ReportService(ServiceUpdate{Service: "api", State: StateHealthy})

	for _, r := range []*Recorder{&a, &b} {
		assert.Equal(t, []RunState{RunInitializing, RunRunning}, r.RunStates())
		assert.Equal(t, []ServiceState{StateStarting, StateHealthy}, r.ServiceStates("api"))
		assert.Len(t, r.Services(), 3)
		assert.Len(t, r.Runs(), 2)
	}
}

func TestRecorder_Concurrent(t *testing.T) {
	var r Recorder
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r.ReportService(ServiceUpdate{Service: fmt.Sprintf("svc-%d", i), State: StateStarting})
		}(i)
	}
	wg.Wait()
	assert.Len(t, r.Services(), 20)
}

func TestRunState(t *testing.T) {
	assert.True(t, RunCompleted.Active())
	assert.True(t, RunRunning.Active())
	assert.False(t, RunRolledBack.Active())
	assert.True(t, RunStopped.Terminal())
	assert.False(t, RunInitializing.Terminal())
	assert.True(t, RunStopFailed.Active())
	assert.False(t, RunStopFailed.Terminal())
}
