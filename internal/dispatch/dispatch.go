// Package dispatch implements the command ledger and dispatch protocol:
// durably record the intent to run an operation on a device, deliver it over
// the live transport, and record the eventual result.
//
// The ledger owns every status transition. Callers never write status
// directly, and each transition is conditional on the expected prior status,
// so concurrent writers for one command cannot both succeed. There is no
// automatic retry anywhere in this protocol: a failed or unreachable dispatch
// is resolved by a deliberate caller re-issue, because blind retries against
// physical unattended devices can be destructive.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"neoproctl/internal/store"
	"neoproctl/internal/types"
)

// Transport is the live-session collaborator. IsConnected is the hard gate
// for dispatch; it is transport liveness, not the heartbeat-derived health
// classification.
type Transport interface {
	IsConnected(deviceID string) bool
	Send(deviceID string, envelope types.CommandEnvelope) error
}

// Dispatcher issues commands and applies their results to the ledger.
type Dispatcher struct {
	store     *store.Store
	transport Transport
	now       func() time.Time
}

// New creates a dispatcher over the given ledger store and transport.
func New(st *store.Store, tr Transport) *Dispatcher {
	return &Dispatcher{store: st, transport: tr, now: time.Now}
}

// SetClock overrides the dispatcher's clock for tests.
func (d *Dispatcher) SetClock(now func() time.Time) { d.now = now }

// Issue records and delivers a command to a device. It returns as soon as the
// transport confirms delivery (the command is then executing); it never blocks
// for the device-side result.
//
// The protocol never queues for later delivery: with no live session the call
// fails with ErrDeviceUnreachable and writes nothing, and a transport send
// failure marks the ledger row failed immediately.
func (d *Dispatcher) Issue(ctx context.Context, deviceID string, cmdType types.CommandType, params json.RawMessage) (string, error) {
	if !cmdType.Valid() {
		return "", fmt.Errorf("unknown command type %q: %w", cmdType, types.ErrInvalidState)
	}
	if _, err := d.store.GetDevice(ctx, deviceID); err != nil {
		return "", fmt.Errorf("issue %s to %s: %w", cmdType, deviceID, err)
	}
	if !d.transport.IsConnected(deviceID) {
		return "", fmt.Errorf("issue %s to %s: %w", cmdType, deviceID, types.ErrDeviceUnreachable)
	}

	now := d.now()
	cmd := &types.Command{
		ID:        uuid.NewString(),
		DeviceID:  deviceID,
		Type:      cmdType,
		Params:    params,
		Status:    types.CommandPending,
		CreatedAt: now,
	}
	if err := d.store.InsertCommand(ctx, cmd); err != nil {
		return "", err
	}

	envelope := types.CommandEnvelope{CommandID: cmd.ID, Type: cmdType, Params: params}
	if err := d.transport.Send(deviceID, envelope); err != nil {
		if _, failErr := d.store.FailCommand(ctx, cmd.ID, types.CommandPending, "delivery failed", d.now()); failErr != nil {
			log.Printf("[ERROR] Failed to record delivery failure for command %s: %v", cmd.ID, failErr)
		}
		log.Printf("[WARN] Delivery failed for command %s (device %s): %v", cmd.ID, deviceID, err)
		return cmd.ID, fmt.Errorf("command %s: %w", cmd.ID, types.ErrDeliveryFailed)
	}

	if _, err := d.store.SetCommandExecuting(ctx, cmd.ID, d.now()); err != nil {
		return cmd.ID, err
	}
	log.Printf("[INFO] Command %s (%s) delivered to device %s", cmd.ID, cmdType, deviceID)
	return cmd.ID, nil
}

// Observe is a pure read of the ledger.
func (d *Dispatcher) Observe(ctx context.Context, commandID string) (*types.Command, error) {
	return d.store.GetCommand(ctx, commandID)
}

// DeliverResult applies a device-reported outcome, transitioning
// executing -> completed|failed. A result can also land while the row is
// still pending, when the device answers before Issue has marked the row
// executing; that result is applied, not dropped. It is idempotent: a result
// for an already-terminal command is logged as a stale-result anomaly and
// ignored, never overwriting the first outcome.
func (d *Dispatcher) DeliverResult(ctx context.Context, commandID string, success bool, result json.RawMessage, errorMessage string) error {
	now := d.now()

	var applied bool
	var err error
	if success {
		applied, err = d.store.CompleteCommand(ctx, commandID, result, now)
	} else {
		if errorMessage == "" {
			errorMessage = "device reported failure"
		}
		applied, err = d.store.FailCommand(ctx, commandID, types.CommandExecuting, errorMessage, now)
		if err == nil && !applied {
			applied, err = d.store.FailCommand(ctx, commandID, types.CommandPending, errorMessage, now)
		}
	}
	if err != nil {
		return err
	}
	if !applied {
		log.Printf("[WARN] Stale result for command %s ignored (already terminal)", commandID)
		return nil
	}
	log.Printf("[INFO] Command %s resolved (success: %v)", commandID, success)
	return nil
}

// Await polls the ledger until the command reaches a terminal state or the
// attempt budget runs out. Giving up does not mutate the ledger; it is the
// caller-side bounded-polling policy, not a ledger-enforced timeout.
func (d *Dispatcher) Await(ctx context.Context, commandID string, attempts int, interval time.Duration) (*types.Command, error) {
	if attempts < 1 {
		attempts = 1
	}
	var cmd *types.Command
	for i := 0; i < attempts; i++ {
		var err error
		cmd, err = d.store.GetCommand(ctx, commandID)
		if err != nil {
			return nil, err
		}
		if cmd.Status.Terminal() {
			return cmd, nil
		}
		select {
		case <-ctx.Done():
			return cmd, ctx.Err()
		case <-time.After(interval):
		}
	}
	return cmd, fmt.Errorf("command %s still %s after %d polls", commandID, cmd.Status, attempts)
}

// ExpireStale fails commands stuck in executing for longer than maxAge, on
// the shared periodic runner. Each transition is conditional, so a real
// result racing the expiry still wins and the loser is logged.
func (d *Dispatcher) ExpireStale(ctx context.Context, maxAge time.Duration) {
	cutoff := d.now().Add(-maxAge)
	ids, err := d.store.StaleExecutingCommands(ctx, cutoff)
	if err != nil {
		log.Printf("[ERROR] Failed to query stale commands: %v", err)
		return
	}

	for _, id := range ids {
		applied, err := d.store.FailCommand(ctx, id, types.CommandExecuting, "execution timed out", d.now())
		if err != nil {
			log.Printf("[ERROR] Failed to expire command %s: %v", id, err)
			continue
		}
		if applied {
			log.Printf("[WARN] Command %s expired after %v in executing", id, maxAge)
		}
	}
}
