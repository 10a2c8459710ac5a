package services

import (
	"context"
	"fmt"
	"time"

	"github.com/custodia-labs/driftwatch/internal/core/domain"
	"github.com/custodia-labs/driftwatch/internal/core/ports/driven"
	"github.com/custodia-labs/driftwatch/internal/core/ports/driving"
	"github.com/custodia-labs/driftwatch/internal/logger"
)

var (
	_ driving.ActionApprover = (*ApprovalService)(nil)
	_ driving.EventReader    = (*EventService)(nil)
)

// ApprovalService confirms actions parked by require_approval mode and
// executes them.
type ApprovalService struct {
	events  driven.DriftEventStore
	execs   *Executors
	metrics driven.MetricsPublisher // optional
	now     func() time.Time
}

// NewApprovalService wires an approval service.
func NewApprovalService(events driven.DriftEventStore, execs *Executors, metrics driven.MetricsPublisher) *ApprovalService {
	return &ApprovalService{events: events, execs: execs, metrics: metrics, now: time.Now}
}

// Approve dispatches a pending action. Fails with
// domain.ErrActionNotPending when the action is in any other status, so
// a repeated approval of the same id is rejected rather than re-run.
func (s *ApprovalService) Approve(ctx context.Context, actionID string) (*domain.ActionRecord, error) {
	record, err := s.events.GetAction(ctx, actionID)
	if err != nil {
		return nil, err
	}
	if record.Status != domain.ActionStatusPendingApproval {
		return nil, fmt.Errorf("%w: action %s is %s", domain.ErrActionNotPending, actionID, record.Status)
	}

	now := s.now().UTC()
	if err := s.events.UpdateActionStatus(ctx, actionID, domain.ActionStatusDispatched, "", "", time.Time{}); err != nil {
		return nil, fmt.Errorf("mark action dispatched: %w", err)
	}
	record.Status = domain.ActionStatusDispatched

	logger.Info("approved action %s (%s)", actionID, record.Type)
	handle, err := s.execs.Execute(ctx, actionID, record.Type, now)
	record.Handle = handle
	if err != nil {
		record.Status = domain.ActionStatusFailed
		record.Error = err.Error()
		record.ResolvedAt = s.now().UTC()
		if uerr := s.events.UpdateActionStatus(ctx, actionID, record.Status, handle, record.Error, record.ResolvedAt); uerr != nil {
			logger.Warn("record action failure: %v", uerr)
		}
		return record, fmt.Errorf("execute %s: %w", record.Type, err)
	}

	// Failed dispatches never count toward the event totals.
	if s.metrics != nil {
		s.metrics.CountAction(record.Type)
	}

	if record.Type == domain.ActionFineTune {
		// The job resolves on a later poll; keep the handle only.
		if uerr := s.events.UpdateActionStatus(ctx, actionID, domain.ActionStatusDispatched, handle, "", time.Time{}); uerr != nil {
			logger.Warn("record training handle: %v", uerr)
		}
		return record, nil
	}

	record.Status = domain.ActionStatusSucceeded
	record.ResolvedAt = s.now().UTC()
	if uerr := s.events.UpdateActionStatus(ctx, actionID, record.Status, handle, "", record.ResolvedAt); uerr != nil {
		logger.Warn("record action success: %v", uerr)
	}
	return record, nil
}

// Pending lists actions awaiting approval, oldest first.
func (s *ApprovalService) Pending(ctx context.Context) ([]domain.ActionRecord, error) {
	return s.events.PendingActions(ctx)
}

// EventService reads the audit trail for operator inspection.
type EventService struct {
	events driven.DriftEventStore
}

// NewEventService wires an event reader.
func NewEventService(events driven.DriftEventStore) *EventService {
	return &EventService{events: events}
}

// Recent returns up to limit drift events, newest first.
func (s *EventService) Recent(ctx context.Context, limit int) ([]domain.DriftEvent, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.events.RecentEvents(ctx, limit)
}
