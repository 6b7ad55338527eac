package cli

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"stackctl/internal/orchestrator"
	"stackctl/internal/reporting"
	"stackctl/internal/resolver"
	"stackctl/internal/runtime"
	"stackctl/internal/state"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    OutputFormat
		wantErr bool
	}{
		{"", OutputFormatTable, false},
		{"table", OutputFormatTable, false},
		{"JSON", OutputFormatJSON, false},
		{"yaml", OutputFormatYAML, false},
		{"xml", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func archivedRun() (state.Run, []state.ServiceRecord) {
	started := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	checked := started.Add(2 * time.Second)
	run := state.Run{ID: "run-1", Deployment: "parksphere", Environment: "local", Runtime: "process",
		State: reporting.RunRolledBack, Error: "HealthTimeout (service \"frontend\")", StartedAt: started}
	recs := []state.ServiceRecord{
		{RunID: "run-1", Service: "api", State: reporting.StateStopped, Address: "localhost:8000", URL: "http://localhost:8000",
			StartSeq: 1, Attempts: 3, LastCheckAt: &checked, Handle: &runtime.Handle{ID: "4242", StartedAt: started}},
		{RunID: "run-1", Service: "frontend", State: reporting.StateFailed, StartSeq: 2, Error: "connection refused"},
	}
	return run, recs
}

func TestStatusFromArchive(t *testing.T) {
	s := StatusFromArchive(archivedRun())
	assert.Equal(t, "RolledBack", s.Run.State)
	require.Len(t, s.Services, 2)
	assert.Equal(t, 2, s.Services[0].RetryCount)
	assert.Equal(t, "4242", s.Services[0].HandleID)
	require.NotNil(t, s.Services[0].StartedAt)
	assert.Empty(t, s.Run.Addresses, "stopped services have no live address")
}

func TestPrintStatus(t *testing.T) {
	s := StatusFromArchive(archivedRun())

	var buf bytes.Buffer
	require.NoError(t, NewPrinter(&buf, OutputFormatTable).PrintStatus(s))
	out := buf.String()
	assert.Contains(t, out, "parksphere")
	assert.Contains(t, out, "run-1")
	assert.Contains(t, out, "http://localhost:8000")
	assert.Contains(t, out, "connection refused")

	buf.Reset()
	require.NoError(t, NewPrinter(&buf, OutputFormatJSON).PrintStatus(s))
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Contains(t, decoded, "services")

	buf.Reset()
	require.NoError(t, NewPrinter(&buf, OutputFormatYAML).PrintStatus(s))
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
	assert.Contains(t, decoded, "run")
}

func TestPrintPlan(t *testing.T) {
	plan := &orchestrator.Plan{
		Order:  []string{"api", "frontend"},
		Levels: [][]string{{"api"}, {"frontend"}},
		Env: map[string]resolver.Env{
			"api":      {{Key: "NPS_API_KEY", Value: "******", Secret: true}},
			"frontend": {{Key: "NEXT_PUBLIC_API_URL", Value: "http://localhost:8000"}},
		},
		Endpoints: resolver.Endpoints{
			"api":      {Host: "localhost", Port: 8000, URL: "http://localhost:8000"},
			"frontend": {Host: "localhost", Port: 3000, URL: "http://localhost:3000"},
		},
	}
	v := NewPlanView("parksphere", "local", plan)
	assert.True(t, v.Env["api"][0].Secret)

	var buf bytes.Buffer
	require.NoError(t, NewPrinter(&buf, OutputFormatTable).PrintPlan(v))
	out := buf.String()
	assert.Contains(t, out, "NEXT_PUBLIC_API_URL=http://localhost:8000")
	assert.Contains(t, out, "******")
	assert.NotContains(t, out, "nps-secret")

	buf.Reset()
	require.NoError(t, NewPrinter(&buf, OutputFormatJSON).PrintPlan(v))
	var decoded PlanView
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, plan.Levels, decoded.Levels)
}

func TestPrintRuns(t *testing.T) {
	run, _ := archivedRun()

	var buf bytes.Buffer
	require.NoError(t, NewPrinter(&buf, OutputFormatTable).PrintRuns(nil))
	assert.Contains(t, buf.String(), "No runs found")

	buf.Reset()
	require.NoError(t, NewPrinter(&buf, OutputFormatTable).PrintRuns([]state.Run{run}))
	assert.Contains(t, buf.String(), "run-1")
	assert.Contains(t, buf.String(), "HealthTimeout")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
	assert.Equal(t, "", firstNonEmpty("", ""))
	assert.Equal(t, "b", firstNonEmpty("", "b"))
}
