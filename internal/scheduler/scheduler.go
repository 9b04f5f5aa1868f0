// Package scheduler executes due scheduled deployments by fanning out the
// underlying per-device commands through the dispatch protocol. The sweep runs
// on the shared periodic runner, so overlapping ticks are skipped, and every
// lifecycle transition is a conditional update, so a concurrent sweep or
// cancel loses cleanly.
package scheduler

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"neoproctl/internal/store"
	"neoproctl/internal/types"
)

// CommandIssuer is the slice of the dispatcher the scheduler uses.
type CommandIssuer interface {
	Issue(ctx context.Context, deviceID string, cmdType types.CommandType, params json.RawMessage) (string, error)
}

// Scheduler owns deployment lifecycle and fan-out.
type Scheduler struct {
	store  *store.Store
	issuer CommandIssuer
	now    func() time.Time
}

// New creates a scheduler over the given store and command issuer.
func New(st *store.Store, issuer CommandIssuer) *Scheduler {
	return &Scheduler{store: st, issuer: issuer, now: time.Now}
}

// SetClock overrides the scheduler's clock for tests.
func (s *Scheduler) SetClock(now func() time.Time) { s.now = now }

// Create records a new deployment in pending.
func (s *Scheduler) Create(ctx context.Context, kind types.DeploymentKind, targetType types.TargetType, targetID string, payload json.RawMessage, requestedBy string) (*types.Deployment, error) {
	switch kind {
	case types.DeploymentContent, types.DeploymentUpdate:
	default:
		return nil, fmt.Errorf("unknown deployment kind %q: %w", kind, types.ErrInvalidState)
	}
	switch targetType {
	case types.TargetSite, types.TargetGroup:
	default:
		return nil, fmt.Errorf("unknown target type %q: %w", targetType, types.ErrInvalidState)
	}

	dep := &types.Deployment{
		ID:          uuid.NewString(),
		Kind:        kind,
		TargetType:  targetType,
		TargetID:    targetID,
		Status:      types.DeploymentPending,
		Payload:     payload,
		RequestedBy: requestedBy,
		CreatedAt:   s.now(),
	}
	if err := s.store.InsertDeployment(ctx, dep); err != nil {
		return nil, err
	}
	log.Printf("[INFO] Deployment %s created (%s -> %s %s)", dep.ID, kind, targetType, targetID)
	return dep, nil
}

// Schedule moves a pending deployment to scheduled at the given time.
func (s *Scheduler) Schedule(ctx context.Context, id string, at time.Time, requestedBy string) error {
	ok, err := s.store.ScheduleDeployment(ctx, id, at, requestedBy)
	if err != nil {
		return err
	}
	if !ok {
		return s.invalidState(ctx, id, "schedule")
	}
	log.Printf("[INFO] Deployment %s scheduled for %s by %s", id, at.Format(time.RFC3339), requestedBy)
	return nil
}

// Cancel moves a scheduled deployment to cancelled. Once a sweep has claimed
// the deployment cancellation is impossible.
func (s *Scheduler) Cancel(ctx context.Context, id string) error {
	ok, err := s.store.CancelDeployment(ctx, id, s.now())
	if err != nil {
		return err
	}
	if !ok {
		return s.invalidState(ctx, id, "cancel")
	}
	log.Printf("[INFO] Deployment %s cancelled", id)
	return nil
}

// Get loads one deployment record.
func (s *Scheduler) Get(ctx context.Context, id string) (*types.Deployment, error) {
	dep, err := s.store.GetDeployment(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("deployment %s: %w", id, types.ErrDeploymentNotFound)
	}
	return dep, err
}

func (s *Scheduler) invalidState(ctx context.Context, id, op string) error {
	dep, err := s.store.GetDeployment(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("cannot %s deployment %s: %w", op, id, types.ErrDeploymentNotFound)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("cannot %s deployment %s in status %s: %w", op, id, dep.Status, types.ErrInvalidState)
}

// Sweep claims and executes every due scheduled deployment, in ascending
// scheduled order. It runs on the overlap-guarded periodic runner; the
// conditional claim makes even a racing second sweep harmless.
func (s *Scheduler) Sweep(ctx context.Context) {
	due, err := s.store.DueDeployments(ctx, s.now())
	if err != nil {
		log.Printf("[ERROR] Deployment sweep query failed: %v", err)
		return
	}

	for _, dep := range due {
		claimed, err := s.store.ClaimDeployment(ctx, dep.ID)
		if err != nil {
			log.Printf("[ERROR] Failed to claim deployment %s: %v", dep.ID, err)
			continue
		}
		if !claimed {
			// Cancelled or taken by a concurrent sweep between query and claim.
			continue
		}
		if _, err := s.store.StartDeployment(ctx, dep.ID, s.now()); err != nil {
			log.Printf("[ERROR] Failed to start deployment %s: %v", dep.ID, err)
			continue
		}
		s.execute(ctx, dep)
	}
}

// execute resolves the target and fans out per-device work. Devices are
// dispatched concurrently with no ordering guarantee; one device's failure
// never blocks or rolls back the others.
func (s *Scheduler) execute(ctx context.Context, dep *types.Deployment) {
	devices, err := s.resolveTarget(ctx, dep)
	if err != nil {
		s.finish(ctx, dep.ID, types.DeploymentFailed, 0, err.Error())
		return
	}
	if len(devices) == 0 {
		s.finish(ctx, dep.ID, types.DeploymentFailed, 0, "target has no devices")
		return
	}

	type outcome struct {
		deviceID string
		err      error
	}
	results := make(chan outcome, len(devices))
	for _, deviceID := range devices {
		go func(deviceID string) {
			results <- outcome{deviceID, s.deployToDevice(ctx, dep, deviceID)}
		}(deviceID)
	}

	var failed []string
	for range devices {
		res := <-results
		if res.err != nil {
			log.Printf("[WARN] Deployment %s failed on device %s: %v", dep.ID, res.deviceID, res.err)
			failed = append(failed, res.deviceID)
		}
	}

	total := len(devices)
	succeeded := total - len(failed)
	progress := succeeded * 100 / total
	if len(failed) == 0 {
		s.finish(ctx, dep.ID, types.DeploymentCompleted, 100, "")
		log.Printf("[INFO] Deployment %s completed on %d device(s)", dep.ID, total)
		return
	}
	// Per-device detail stays in the command ledger; the record only carries
	// the aggregate.
	msg := fmt.Sprintf("%d/%d devices failed", len(failed), total)
	s.finish(ctx, dep.ID, types.DeploymentFailed, progress, msg)
}

func (s *Scheduler) finish(ctx context.Context, id string, status types.DeploymentStatus, progress int, message string) {
	if _, err := s.store.FinishDeployment(ctx, id, status, progress, message, s.now()); err != nil {
		log.Printf("[ERROR] Failed to finish deployment %s: %v", id, err)
	}
}

func (s *Scheduler) resolveTarget(ctx context.Context, dep *types.Deployment) ([]string, error) {
	switch dep.TargetType {
	case types.TargetSite:
		return []string{dep.TargetID}, nil
	case types.TargetGroup:
		return s.store.GroupMembers(ctx, dep.TargetID)
	default:
		return nil, fmt.Errorf("unknown target type %q", dep.TargetType)
	}
}
