package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	dataagg "github.com/edgeward/fleet-backend/internal/data/aggregates"
	"github.com/edgeward/fleet-backend/internal/data/repos"
	types "github.com/edgeward/fleet-backend/internal/domain"
	domainagg "github.com/edgeward/fleet-backend/internal/domain/aggregates"
	"github.com/edgeward/fleet-backend/internal/domain/rollouts"
	"github.com/edgeward/fleet-backend/internal/platform/dbctx"
	"github.com/edgeward/fleet-backend/internal/platform/logger"
	"github.com/edgeward/fleet-backend/internal/realtime"
)

// Statuses an agent may report.
const (
	DeviceReportInProgress = "in_progress"
	DeviceReportSucceeded  = "succeeded"
	DeviceReportFailed     = "failed"
)

type DeviceReport struct {
	DeviceID     uuid.UUID
	BundleID     uuid.UUID
	Version      string
	Status       string
	ErrorMessage string
	At           time.Time
}

type DeviceReportResult struct {
	FlatRecord  *types.FlatRolloutRecord         `json:"flat_record,omitempty"`
	Assignments []*types.RolloutDeviceAssignment `json:"assignments,omitempty"`
}

// DeviceService is the agent-facing surface: desired-state polling and outcome reports.
type DeviceService interface {
	GetDesired(ctx context.Context, deviceID uuid.UUID) (*types.DesiredState, error)
	// WaitDesired blocks up to wait for the desired state to differ from etag.
	// changed is false when the caller's etag is still current.
	WaitDesired(ctx context.Context, deviceID uuid.UUID, etag string, wait time.Duration) (ds *types.DesiredState, changed bool, err error)
	Report(ctx context.Context, in DeviceReport) (DeviceReportResult, error)
}

type deviceService struct {
	log         *logger.Logger
	desired     repos.DesiredStateRepo
	devices     repos.DeviceRepo
	flat        repos.FlatRolloutRecordRepo
	active      repos.RolloutRepo
	assignments repos.RolloutAssignmentRepo
	flatAgg     domainagg.FlatRolloutAggregate
	phased      domainagg.PhasedRolloutAggregate
	hub         *realtime.Hub
	maxWait     time.Duration
}

type DeviceServiceDeps struct {
	Desired     repos.DesiredStateRepo
	Devices     repos.DeviceRepo
	FlatRecords repos.FlatRolloutRecordRepo
	Rollouts    repos.RolloutRepo
	Assignments repos.RolloutAssignmentRepo
	Flat        domainagg.FlatRolloutAggregate
	Phased      domainagg.PhasedRolloutAggregate
	Hub         *realtime.Hub
	MaxWait     time.Duration
}

func NewDeviceService(baseLog *logger.Logger, deps DeviceServiceDeps) DeviceService {
	maxWait := deps.MaxWait
	if maxWait <= 0 {
		maxWait = 60 * time.Second
	}
	return &deviceService{
		log:         baseLog.With("service", "DeviceService"),
		desired:     deps.Desired,
		devices:     deps.Devices,
		flat:        deps.FlatRecords,
		active:      deps.Rollouts,
		assignments: deps.Assignments,
		flatAgg:     deps.Flat,
		phased:      deps.Phased,
		hub:         deps.Hub,
		maxWait:     maxWait,
	}
}

func (s *deviceService) GetDesired(ctx context.Context, deviceID uuid.UUID) (*types.DesiredState, error) {
	const op = "Devices.GetDesired"
	if deviceID == uuid.Nil {
		return nil, domainagg.NewError(domainagg.CodeValidation, op, "missing device_id", nil)
	}
	s.touch(ctx, deviceID)
	ds, err := s.desired.GetByDevice(dbctx.Of(ctx), deviceID)
	if err != nil {
		return nil, dataagg.MapError(op, err)
	}
	if ds == nil {
		return nil, domainagg.NewError(domainagg.CodeNotFound, op, "no desired state for device", nil)
	}
	return ds, nil
}

func (s *deviceService) WaitDesired(ctx context.Context, deviceID uuid.UUID, etag string, wait time.Duration) (*types.DesiredState, bool, error) {
	const op = "Devices.WaitDesired"
	if deviceID == uuid.Nil {
		return nil, false, domainagg.NewError(domainagg.CodeValidation, op, "missing device_id", nil)
	}
	if wait > s.maxWait {
		wait = s.maxWait
	}
	etag = normalizeETag(etag)

	// Register before the first read so a write landing in between still wakes us.
	var waiter *realtime.Waiter
	if wait > 0 && s.hub != nil {
		waiter = s.hub.Register(deviceID)
		defer s.hub.Remove(waiter)
	}

	s.touch(ctx, deviceID)
	ds, err := s.desired.GetByDevice(dbctx.Of(ctx), deviceID)
	if err != nil {
		return nil, false, dataagg.MapError(op, err)
	}
	if currentETag(ds) != etag || waiter == nil {
		return ds, currentETag(ds) != etag, nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ds, false, nil
	case <-timer.C:
		return ds, false, nil
	case <-waiter.Outbound:
	}

	ds, err = s.desired.GetByDevice(dbctx.Of(ctx), deviceID)
	if err != nil {
		return nil, false, dataagg.MapError(op, err)
	}
	return ds, currentETag(ds) != etag, nil
}

// Report routes an agent outcome to the open flat record for the
// device+bundle+version and to the device's assignment in any active phased
// rollout targeting that version.
func (s *deviceService) Report(ctx context.Context, in DeviceReport) (DeviceReportResult, error) {
	const op = "Devices.Report"
	var out DeviceReportResult

	version := strings.TrimSpace(in.Version)
	status := strings.ToLower(strings.TrimSpace(in.Status))
	msg := strings.TrimSpace(in.ErrorMessage)
	switch {
	case in.DeviceID == uuid.Nil || in.BundleID == uuid.Nil:
		return out, domainagg.NewError(domainagg.CodeValidation, op, "missing device_id or bundle_id", nil)
	case version == "":
		return out, domainagg.NewError(domainagg.CodeValidation, op, "missing version", nil)
	case status != DeviceReportInProgress && status != DeviceReportSucceeded && status != DeviceReportFailed:
		return out, domainagg.NewError(domainagg.CodeValidation, op, fmt.Sprintf("unsupported status %q", in.Status), nil)
	case status == DeviceReportFailed && msg == "":
		return out, domainagg.NewError(domainagg.CodeValidation, op, "failed status requires an error message", nil)
	}
	s.touch(ctx, in.DeviceID)

	matched := false
	dbc := dbctx.Of(ctx)

	rec, err := s.flat.FindOpenForDevice(dbc, in.DeviceID, in.BundleID, version)
	if err != nil {
		return out, dataagg.MapError(op, err)
	}
	active, err := s.active.ListActiveByBundle(dbc, in.BundleID)
	if err != nil {
		return out, dataagg.MapError(op, err)
	}
	targets := make([]*types.Rollout, 0, len(active))
	for _, r := range active {
		if r.TargetVersion == version && r.Status != rollouts.RolloutPending {
			targets = append(targets, r)
		}
	}

	// Every target must accept the outcome before any of them is written.
	if err := s.checkReport(dbc, rec, targets, in.DeviceID, status, msg); err != nil {
		return out, dataagg.MapError(op, err)
	}

	if rec != nil {
		matched = true
		if rec.Status == rollouts.FlatInProgress && status == DeviceReportInProgress {
			out.FlatRecord = rec
		} else {
			res, err := s.flatAgg.UpdateStatus(ctx, domainagg.UpdateFlatStatusInput{
				RecordID:     rec.ID,
				Status:       rollouts.FlatStatus(status),
				ErrorMessage: msg,
				At:           in.At,
			})
			if err != nil {
				return out, err
			}
			out.FlatRecord = res.Record
		}
	}

	for _, r := range targets {
		if status == DeviceReportInProgress {
			// Assignments have no in-progress state; only confirm the device belongs.
			if s.assignments == nil {
				continue
			}
			as, err := s.assignments.GetByRolloutAndDevice(dbc, r.ID, in.DeviceID)
			if err != nil {
				return out, dataagg.MapError(op, err)
			}
			if as != nil {
				matched = true
				out.Assignments = append(out.Assignments, as)
			}
			continue
		}
		res, err := s.phased.ReportAssignment(ctx, domainagg.ReportAssignmentInput{
			RolloutID:    r.ID,
			DeviceID:     in.DeviceID,
			Status:       rollouts.AssignmentStatus(status),
			ErrorMessage: msg,
			At:           in.At,
		})
		if domainagg.IsCode(err, domainagg.CodeNotFound) {
			continue
		}
		if err != nil {
			return out, err
		}
		matched = true
		out.Assignments = append(out.Assignments, res.Assignment)
	}

	if !matched {
		return out, domainagg.NewError(domainagg.CodeNotFound, op, "no open rollout for device, bundle and version", nil)
	}
	return out, nil
}

// checkReport validates the reported status against the current flat record and
// every assignment the device holds in targets.
func (s *deviceService) checkReport(dbc dbctx.Context, rec *types.FlatRolloutRecord, targets []*types.Rollout, deviceID uuid.UUID, status, msg string) error {
	if rec != nil && !(rec.Status == rollouts.FlatInProgress && status == DeviceReportInProgress) {
		if err := rollouts.CheckFlatTransition(rec.Status, rollouts.FlatStatus(status), msg); err != nil {
			return err
		}
	}
	if status == DeviceReportInProgress || s.assignments == nil {
		return nil
	}
	for _, r := range targets {
		as, err := s.assignments.GetByRolloutAndDevice(dbc, r.ID, deviceID)
		if err != nil {
			return err
		}
		if as == nil {
			continue
		}
		if _, err := rollouts.CheckAssignmentTransition(as.Status, rollouts.AssignmentStatus(status)); err != nil {
			return err
		}
	}
	return nil
}

func (s *deviceService) touch(ctx context.Context, deviceID uuid.UUID) {
	if s.devices == nil {
		return
	}
	if err := s.devices.Touch(dbctx.Of(ctx), deviceID, time.Now().UTC()); err != nil {
		s.log.Warn("device touch failed", "device_id", deviceID, "error", err)
	}
}

func currentETag(ds *types.DesiredState) string {
	if ds == nil {
		return ""
	}
	return ds.ETag()
}

func normalizeETag(raw string) string {
	raw = strings.TrimSpace(raw)
	return strings.TrimPrefix(raw, "W/")
}
