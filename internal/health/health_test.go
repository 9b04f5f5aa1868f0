package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"neoproctl/internal/types"
)

type fakeSource struct {
	device     *types.Device
	deviceErr  error
	last       time.Time
	seen       bool
	lastErr    error
	count      int
	countErr   error
	countSince time.Time
}

func (f *fakeSource) GetDevice(_ context.Context, _ string) (*types.Device, error) {
	return f.device, f.deviceErr
}

func (f *fakeSource) LastHeartbeat(_ context.Context, _ string) (time.Time, bool, error) {
	return f.last, f.seen, f.lastErr
}

func (f *fakeSource) HeartbeatCount(_ context.Context, _ string, since time.Time) (int, error) {
	f.countSince = since
	return f.count, f.countErr
}

func newTestTracker(src *fakeSource, now time.Time) *Tracker {
	tr := New(src, time.Minute, 3, 80)
	tr.SetClock(func() time.Time { return now })
	return tr
}

func TestStatusClassification(t *testing.T) {
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	registered := now.Add(-48 * time.Hour)

	tests := []struct {
		name string
		src  *fakeSource
		want types.DisplayStatus
	}{
		{
			name: "online with healthy uptime",
			src: &fakeSource{
				device: &types.Device{ID: "site-1", RegisteredAt: registered},
				last:   now.Add(-30 * time.Second), seen: true,
				count: 1440,
			},
			want: types.DisplayOnline,
		},
		{
			name: "warning on intermittent connectivity",
			src: &fakeSource{
				device: &types.Device{ID: "site-1", RegisteredAt: registered},
				last:   now.Add(-30 * time.Second), seen: true,
				count: 700, // under 80% of 1440 expected slots
			},
			want: types.DisplayWarning,
		},
		{
			name: "offline past staleness threshold",
			src: &fakeSource{
				device: &types.Device{ID: "site-1", RegisteredAt: registered},
				last:   now.Add(-10 * time.Minute), seen: true,
				count: 1430,
			},
			want: types.DisplayOffline,
		},
		{
			name: "unknown without any heartbeat",
			src: &fakeSource{
				device: &types.Device{ID: "site-1", RegisteredAt: registered},
				seen:   false,
			},
			want: types.DisplayUnknown,
		},
		{
			name: "unknown on registry error",
			src:  &fakeSource{deviceErr: errors.New("db closed")},
			want: types.DisplayUnknown,
		},
		{
			name: "unknown on heartbeat query error",
			src: &fakeSource{
				device:  &types.Device{ID: "site-1", RegisteredAt: registered},
				lastErr: errors.New("db closed"),
			},
			want: types.DisplayUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := newTestTracker(tt.src, now).Status(context.Background(), "site-1")
			if got.DisplayStatus != tt.want {
				t.Errorf("DisplayStatus = %s, want %s", got.DisplayStatus, tt.want)
			}
			wantConnected := tt.want == types.DisplayOnline || tt.want == types.DisplayWarning
			if got.IsConnected != wantConnected {
				t.Errorf("IsConnected = %v, want %v", got.IsConnected, wantConnected)
			}
		})
	}
}

func TestUptimeProratedForYoungDevice(t *testing.T) {
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	// Registered 3 hours ago with a heartbeat in every expected slot.
	src := &fakeSource{
		device: &types.Device{ID: "site-1", RegisteredAt: now.Add(-3 * time.Hour)},
		last:   now.Add(-30 * time.Second), seen: true,
		count: 180,
	}

	status := newTestTracker(src, now).Status(context.Background(), "site-1")
	if status.DisplayStatus != types.DisplayOnline {
		t.Errorf("DisplayStatus = %s, want online", status.DisplayStatus)
	}
	if status.Uptime24hPercent != 100 {
		t.Errorf("Uptime24hPercent = %v, want 100 (prorated to 3h, not 3/24)", status.Uptime24hPercent)
	}
	wantSince := now.Add(-3 * time.Hour)
	if !src.countSince.Equal(wantSince) {
		t.Errorf("Heartbeat window start = %v, want %v", src.countSince, wantSince)
	}
}

func TestUptimeClamped(t *testing.T) {
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	src := &fakeSource{
		device: &types.Device{ID: "site-1", RegisteredAt: now.Add(-48 * time.Hour)},
		last:   now.Add(-30 * time.Second), seen: true,
		count: 5000, // device heartbeating faster than expected
	}

	status := newTestTracker(src, now).Status(context.Background(), "site-1")
	if status.Uptime24hPercent != 100 {
		t.Errorf("Uptime24hPercent = %v, want clamped to 100", status.Uptime24hPercent)
	}
}

func TestUnknownReportsNegativeLastSeen(t *testing.T) {
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	src := &fakeSource{device: &types.Device{ID: "site-1", RegisteredAt: now}, seen: false}

	status := newTestTracker(src, now).Status(context.Background(), "site-1")
	if status.SecondsSinceLastSeen != -1 {
		t.Errorf("SecondsSinceLastSeen = %d, want -1 sentinel for never seen", status.SecondsSinceLastSeen)
	}
}
