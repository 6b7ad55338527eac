package state

import (
	"context"
	"time"

	"stackctl/internal/reporting"
	"stackctl/pkg/logging"
)

const writeTimeout = 5 * time.Second

// Recorder mirrors reported transitions into the archive. Write failures
// are logged; they never interrupt a deployment.
type Recorder struct {
	Store *Store
	// OwnerPID is written on every run update.
	OwnerPID int
}

// NewRecorder returns a Recorder writing to store.
func NewRecorder(store *Store, ownerPID int) *Recorder {
	return &Recorder{Store: store, OwnerPID: ownerPID}
}

// ReportRun implements reporting.Reporter.
func (r *Recorder) ReportRun(u reporting.RunUpdate) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	run := Run{
		ID:          u.RunID,
		Deployment:  u.Deployment,
		Environment: u.Environment,
		Runtime:     u.Runtime,
		Descriptor:  u.Descriptor,
		State:       u.State,
		OwnerPID:    r.OwnerPID,
		StartedAt:   u.Timestamp,
		UpdatedAt:   u.Timestamp,
	}
	if u.Err != nil {
		run.Error = u.Err.Error()
	}
	if u.State.Terminal() {
		ended := u.Timestamp
		if ended.IsZero() {
			ended = time.Now()
		}
		run.EndedAt = &ended
		run.OwnerPID = 0
	}
	if u.State == reporting.RunStopFailed {
		run.OwnerPID = 0
	}
	if err := r.Store.SaveRun(ctx, run); err != nil {
		logging.Error("RunArchive", err, "Failed to archive run %s", u.RunID)
	}
}

// ReportService implements reporting.Reporter.
func (r *Recorder) ReportService(u reporting.ServiceUpdate) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	rec := ServiceRecord{
		RunID:     u.RunID,
		Service:   u.Service,
		State:     u.State,
		Handle:    u.Handle,
		Address:   u.Address,
		URL:       u.URL,
		StartSeq:  u.StartSeq,
		Attempts:  u.Attempts,
		UpdatedAt: u.Timestamp,
	}
	if !u.LastCheckAt.IsZero() {
		t := u.LastCheckAt
		rec.LastCheckAt = &t
	}
	if u.Err != nil {
		rec.Error = u.Err.Error()
	}
	if err := r.Store.SaveService(ctx, rec); err != nil {
		logging.Error("RunArchive", err, "Failed to archive service %s of run %s", u.Service, u.RunID)
	}
}
