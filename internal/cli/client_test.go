package cli

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"stackctl/internal/api"
	"stackctl/internal/descriptor"
	"stackctl/internal/orchestrator"
	"stackctl/internal/reporting"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticProvider struct {
	snap       orchestrator.Snapshot
	recheckErr error
}

func (s staticProvider) Snapshot() orchestrator.Snapshot      { return s.snap }
func (s staticProvider) Recheck(ctx context.Context) error { return s.recheckErr }

func completedRun() orchestrator.Snapshot {
	return orchestrator.Snapshot{
		Run: orchestrator.Run{ID: "run-1", Deployment: "parksphere", State: reporting.RunCompleted},
		Services: []orchestrator.ResolvedService{
			{Descriptor: descriptor.Service{Name: "api", Port: 8000}, Status: reporting.StateHealthy, ResolvedAddress: "localhost:8000", StartSeq: 1},
		},
	}
}

func TestNewClient(t *testing.T) {
	c := NewClient("localhost:7070/")
	assert.Equal(t, "http://localhost:7070", c.endpoint)
	assert.Equal(t, 30*time.Second, c.timeout)

	c = NewClient("https://status.example.com")
	assert.Equal(t, "https://status.example.com", c.endpoint)
}

func TestClient_Status(t *testing.T) {
	srv := httptest.NewServer(api.NewRouter(staticProvider{snap: completedRun()}))
	defer srv.Close()

	status, err := NewClient(srv.URL).Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "run-1", status.Run.ID)
	require.Len(t, status.Services, 1)
	assert.Equal(t, "Healthy", status.Services[0].State)
}

func TestClient_RecheckFailureKeepsStatus(t *testing.T) {
	var calls int
	router := api.NewRouter(staticProvider{snap: completedRun(), recheckErr: errors.New("api: connection refused")})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		router.ServeHTTP(w, r)
	}))
	defer srv.Close()

	status, err := NewClient(srv.URL).Recheck(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, "run-1", status.Run.ID)
	assert.Equal(t, 1, calls, "an HTTP 503 answer is not retried")
}

func TestClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	_, err := NewClient(addr).Status(context.Background())
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "not reachable"), err.Error())
}

func TestClient_NotAnEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>nope</html>"))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Status(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected response")
}
