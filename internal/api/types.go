package api

import (
	"context"
	"time"

	"stackctl/internal/orchestrator"
)

// StatusProvider is what the API needs from a run. *orchestrator.Orchestrator
// implements it.
type StatusProvider interface {
	Snapshot() orchestrator.Snapshot
	Recheck(ctx context.Context) error
}

// Response is the envelope of every reply.
type Response struct {
	Status  string `json:"status"` // success | fail
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// RunInfo describes the run.
type RunInfo struct {
	ID          string            `json:"id"`
	Deployment  string            `json:"deployment"`
	Environment string            `json:"environment"`
	Runtime     string            `json:"runtime"`
	State       string            `json:"state"`
	StartedAt   time.Time         `json:"startedAt"`
	EndedAt     *time.Time        `json:"endedAt,omitempty"`
	Error       string            `json:"error,omitempty"`
	Addresses   map[string]string `json:"addresses,omitempty"`
}

// ServiceInfo describes one service of the run.
type ServiceInfo struct {
	Name        string     `json:"name"`
	Kind        string     `json:"kind,omitempty"`
	State       string     `json:"state"`
	Port        int        `json:"port"`
	Address     string     `json:"address,omitempty"`
	URL         string     `json:"url,omitempty"`
	DependsOn   []string   `json:"dependsOn,omitempty"`
	StartSeq    int        `json:"startSeq,omitempty"`
	HandleID    string     `json:"handle,omitempty"`
	RetryCount  int        `json:"retryCount"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	LastCheckAt *time.Time `json:"lastCheckAt,omitempty"`
	LastError   string     `json:"lastError,omitempty"`
}

// StatusResponse is the data of GET /v1/status.
type StatusResponse struct {
	Run      RunInfo       `json:"run"`
	Services []ServiceInfo `json:"services"`
}

func runInfo(r orchestrator.Run) RunInfo {
	info := RunInfo{
		ID:          r.ID,
		Deployment:  r.Deployment,
		Environment: r.Environment,
		Runtime:     r.Runtime,
		State:       string(r.State),
		StartedAt:   r.StartedAt,
		EndedAt:     timePtr(r.EndedAt),
		Addresses:   r.Addresses,
	}
	if r.Err != nil {
		info.Error = r.Err.Error()
	}
	return info
}

func serviceInfo(rs orchestrator.ResolvedService) ServiceInfo {
	info := ServiceInfo{
		Name:        rs.Descriptor.Name,
		Kind:        string(rs.Descriptor.Kind),
		State:       string(rs.Status),
		Port:        rs.Descriptor.Port,
		Address:     rs.ResolvedAddress,
		URL:         rs.URL,
		DependsOn:   rs.Descriptor.DependsOn,
		StartSeq:    rs.StartSeq,
		RetryCount:  rs.RetryCount,
		StartedAt:   timePtr(rs.StartedAt),
		LastCheckAt: timePtr(rs.LastHealthCheckAt),
	}
	if rs.Handle != nil {
		info.HandleID = rs.Handle.ID
	}
	if rs.LastError != nil {
		info.LastError = rs.LastError.Error()
	}
	return info
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
