package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"neoproctl/internal/store"
	"neoproctl/internal/types"
)

// fakeTransport scripts liveness and delivery outcomes per device.
type fakeTransport struct {
	connected map[string]bool
	sendErr   error
	sent      []types.CommandEnvelope
}

func (f *fakeTransport) IsConnected(deviceID string) bool { return f.connected[deviceID] }

func (f *fakeTransport) Send(_ string, envelope types.CommandEnvelope) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, envelope)
	return nil
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *store.Store, *fakeTransport) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	device := &types.Device{ID: "site-1", Status: types.DeviceOnline, RegisteredAt: time.Now().UTC()}
	if err := st.UpsertDevice(context.Background(), device); err != nil {
		t.Fatalf("Failed to register device: %v", err)
	}

	tr := &fakeTransport{connected: map[string]bool{"site-1": true}}
	return New(st, tr), st, tr
}

func TestIssueDeliversAndRecords(t *testing.T) {
	d, _, tr := newTestDispatcher(t)
	ctx := context.Background()

	params := json.RawMessage(`{"version":"2.4.0"}`)
	id, err := d.Issue(ctx, "site-1", types.CommandUpdateSoftware, params)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if len(tr.sent) != 1 || tr.sent[0].CommandID != id {
		t.Fatalf("Envelope not delivered: %+v", tr.sent)
	}

	cmd, err := d.Observe(ctx, id)
	if err != nil {
		t.Fatalf("Observe failed: %v", err)
	}
	if cmd.Status != types.CommandExecuting {
		t.Errorf("Status = %s, want executing after delivery confirmation", cmd.Status)
	}
	if cmd.ExecutedAt == nil {
		t.Error("ExecutedAt not set")
	}
}

func TestIssueUnknownDevice(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	_, err := d.Issue(context.Background(), "ghost", types.CommandReboot, nil)
	if !errors.Is(err, types.ErrDeviceNotFound) {
		t.Errorf("Issue error = %v, want ErrDeviceNotFound", err)
	}
}

func TestIssueUnreachableDeviceWritesNothing(t *testing.T) {
	d, st, tr := newTestDispatcher(t)
	tr.connected["site-1"] = false
	ctx := context.Background()

	_, err := d.Issue(ctx, "site-1", types.CommandReboot, nil)
	if !errors.Is(err, types.ErrDeviceUnreachable) {
		t.Fatalf("Issue error = %v, want ErrDeviceUnreachable", err)
	}

	cmds, err := st.CommandsForDevice(ctx, "site-1", 10)
	if err != nil {
		t.Fatalf("CommandsForDevice failed: %v", err)
	}
	if len(cmds) != 0 {
		t.Errorf("Unreachable issue left %d ledger rows, want 0", len(cmds))
	}
}

func TestIssueUnknownCommandType(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	_, err := d.Issue(context.Background(), "site-1", types.CommandType("format_disk"), nil)
	if !errors.Is(err, types.ErrInvalidState) {
		t.Errorf("Issue error = %v, want ErrInvalidState", err)
	}
}

func TestIssueSendFailureMarksFailed(t *testing.T) {
	d, _, tr := newTestDispatcher(t)
	tr.sendErr = errors.New("broken pipe")
	ctx := context.Background()

	id, err := d.Issue(ctx, "site-1", types.CommandRestartApp, nil)
	if !errors.Is(err, types.ErrDeliveryFailed) {
		t.Fatalf("Issue error = %v, want ErrDeliveryFailed", err)
	}

	cmd, err := d.Observe(ctx, id)
	if err != nil {
		t.Fatalf("Observe failed: %v", err)
	}
	if cmd.Status != types.CommandFailed {
		t.Errorf("Status = %s, want failed", cmd.Status)
	}
	if cmd.ErrorMessage != "delivery failed" {
		t.Errorf("ErrorMessage = %q, want delivery failed", cmd.ErrorMessage)
	}
	if cmd.ExecutedAt != nil {
		t.Error("Command that never reached the device has an executed_at time")
	}
}

func TestDeliverResultCompletesCommand(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	ctx := context.Background()

	id, err := d.Issue(ctx, "site-1", types.CommandSyncContent, nil)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	result := json.RawMessage(`{"synced":12}`)
	if err := d.DeliverResult(ctx, id, true, result, ""); err != nil {
		t.Fatalf("DeliverResult failed: %v", err)
	}

	cmd, _ := d.Observe(ctx, id)
	if cmd.Status != types.CommandCompleted || string(cmd.Result) != string(result) {
		t.Errorf("Command = %+v, want completed with result", cmd)
	}
}

func TestDeliverResultIdempotent(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	ctx := context.Background()

	id, err := d.Issue(ctx, "site-1", types.CommandSyncContent, nil)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	first := json.RawMessage(`{"synced":12}`)
	if err := d.DeliverResult(ctx, id, true, first, ""); err != nil {
		t.Fatalf("First DeliverResult failed: %v", err)
	}
	// A second delivery with a different payload must not overwrite the first.
	if err := d.DeliverResult(ctx, id, false, nil, "late crash report"); err != nil {
		t.Fatalf("Second DeliverResult errored instead of being ignored: %v", err)
	}

	cmd, _ := d.Observe(ctx, id)
	if cmd.Status != types.CommandCompleted {
		t.Errorf("Status = %s, want completed (first writer wins)", cmd.Status)
	}
	if string(cmd.Result) != string(first) {
		t.Errorf("Result = %s, want %s", cmd.Result, first)
	}
	if cmd.ErrorMessage != "" {
		t.Errorf("ErrorMessage = %q, want empty", cmd.ErrorMessage)
	}
}

func TestObserveMonotonicStatus(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	ctx := context.Background()

	rank := map[types.CommandStatus]int{
		types.CommandPending:   0,
		types.CommandExecuting: 1,
		types.CommandCompleted: 2,
		types.CommandFailed:    2,
	}

	id, err := d.Issue(ctx, "site-1", types.CommandRestartApp, nil)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	prev := -1
	observe := func() {
		cmd, err := d.Observe(ctx, id)
		if err != nil {
			t.Fatalf("Observe failed: %v", err)
		}
		if rank[cmd.Status] < prev {
			t.Fatalf("Status went backwards to %s", cmd.Status)
		}
		prev = rank[cmd.Status]
	}

	observe()
	if err := d.DeliverResult(ctx, id, false, nil, "app crashed"); err != nil {
		t.Fatalf("DeliverResult failed: %v", err)
	}
	observe()
	// Stale duplicate cannot move it back.
	if err := d.DeliverResult(ctx, id, true, nil, ""); err != nil {
		t.Fatalf("Stale DeliverResult failed: %v", err)
	}
	observe()
}

func TestObserveUnknownCommand(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	_, err := d.Observe(context.Background(), "no-such-command")
	if !errors.Is(err, types.ErrCommandNotFound) {
		t.Errorf("Observe error = %v, want ErrCommandNotFound", err)
	}
}

func TestAwaitReturnsTerminalCommand(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	ctx := context.Background()

	id, err := d.Issue(ctx, "site-1", types.CommandReboot, nil)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if err := d.DeliverResult(ctx, id, true, nil, ""); err != nil {
		t.Fatalf("DeliverResult failed: %v", err)
	}

	cmd, err := d.Await(ctx, id, 3, time.Millisecond)
	if err != nil {
		t.Fatalf("Await failed: %v", err)
	}
	if cmd.Status != types.CommandCompleted {
		t.Errorf("Status = %s, want completed", cmd.Status)
	}
}

func TestAwaitGivesUpWithoutMutating(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	ctx := context.Background()

	id, err := d.Issue(ctx, "site-1", types.CommandReboot, nil)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	cmd, err := d.Await(ctx, id, 2, time.Millisecond)
	if err == nil {
		t.Fatal("Await succeeded on a command that never completed")
	}
	if cmd.Status != types.CommandExecuting {
		t.Errorf("Status = %s, want executing", cmd.Status)
	}

	// Giving up is caller-side policy only; the ledger is untouched.
	after, _ := d.Observe(ctx, id)
	if after.Status != types.CommandExecuting {
		t.Errorf("Await mutated the ledger: status = %s", after.Status)
	}
}

func TestExpireStaleFailsOldExecuting(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	ctx := context.Background()

	base := time.Now().UTC()
	d.SetClock(func() time.Time { return base.Add(-30 * time.Minute) })
	oldID, err := d.Issue(ctx, "site-1", types.CommandSyncContent, nil)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	d.SetClock(func() time.Time { return base })
	freshID, err := d.Issue(ctx, "site-1", types.CommandSyncContent, nil)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	d.ExpireStale(ctx, 10*time.Minute)

	oldCmd, _ := d.Observe(ctx, oldID)
	if oldCmd.Status != types.CommandFailed || oldCmd.ErrorMessage != "execution timed out" {
		t.Errorf("Stale command = %+v, want failed/execution timed out", oldCmd)
	}
	freshCmd, _ := d.Observe(ctx, freshID)
	if freshCmd.Status != types.CommandExecuting {
		t.Errorf("Fresh command = %s, want still executing", freshCmd.Status)
	}
}

func TestResultArrivingWhilePendingIsApplied(t *testing.T) {
	d, st, _ := newTestDispatcher(t)
	ctx := context.Background()

	// A fast device can answer before Issue marks the row executing. Seed
	// the ledger directly with a pending row to reproduce that window.
	pending := &types.Command{
		ID:        "cmd-fast",
		DeviceID:  "site-1",
		Type:      types.CommandRestartApp,
		Status:    types.CommandPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := st.InsertCommand(ctx, pending); err != nil {
		t.Fatalf("Failed to insert command: %v", err)
	}

	if err := d.DeliverResult(ctx, "cmd-fast", true, json.RawMessage(`{"ok":true}`), ""); err != nil {
		t.Fatalf("DeliverResult failed: %v", err)
	}
	cmd, _ := d.Observe(ctx, "cmd-fast")
	if cmd.Status != types.CommandCompleted {
		t.Errorf("Status = %s, want completed for a result that beat the executing mark", cmd.Status)
	}

	failing := &types.Command{
		ID:        "cmd-fast-fail",
		DeviceID:  "site-1",
		Type:      types.CommandRestartApp,
		Status:    types.CommandPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := st.InsertCommand(ctx, failing); err != nil {
		t.Fatalf("Failed to insert command: %v", err)
	}
	if err := d.DeliverResult(ctx, "cmd-fast-fail", false, nil, "restart loop"); err != nil {
		t.Fatalf("DeliverResult failed: %v", err)
	}
	cmd, _ = d.Observe(ctx, "cmd-fast-fail")
	if cmd.Status != types.CommandFailed || cmd.ErrorMessage != "restart loop" {
		t.Errorf("Command = %s/%q, want failed/restart loop", cmd.Status, cmd.ErrorMessage)
	}
}

func TestAwaitClampsNonPositiveAttempts(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	ctx := context.Background()

	id, err := d.Issue(ctx, "site-1", types.CommandReboot, nil)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	cmd, err := d.Await(ctx, id, 0, time.Millisecond)
	if err == nil {
		t.Fatal("Await succeeded on a command that never completed")
	}
	if cmd == nil || cmd.Status != types.CommandExecuting {
		t.Errorf("Await with zero attempts returned cmd = %+v, want the executing row", cmd)
	}
}
