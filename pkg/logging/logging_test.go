package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    LogLevel
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"", LevelInfo, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"loud", LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTextOutputCarriesSubsystem(t *testing.T) {
	var buf bytes.Buffer
	InitForCLI(LevelInfo, &buf)

	Debug("Orchestrator", "hidden %d", 1)
	Info("Orchestrator", "service %s healthy", "api")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "service api healthy")
	assert.Contains(t, out, "subsystem=Orchestrator")
}

func TestJSONOutputIncludesError(t *testing.T) {
	var buf bytes.Buffer
	Init(LevelDebug, FormatJSON, &buf)

	Error("Runtime", errors.New("boom"), "stop failed for %s", "frontend")

	line := strings.TrimSpace(buf.String())
	var rec map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(line), &rec))
	assert.Equal(t, "ERROR", rec["level"])
	assert.Equal(t, "Runtime", rec["subsystem"])
	assert.Equal(t, "boom", rec["error"])
	assert.Equal(t, "stop failed for frontend", rec["msg"])
}

func TestLevelString(t *testing.T) {
	assert.Equal(t, "WARN", LevelWarn.String())
	assert.Equal(t, "UNKNOWN", LogLevel(42).String())
}
