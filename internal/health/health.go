// Package health derives a device's reachability classification from its
// heartbeat record. The classification is recomputed on every query and never
// cached: the heartbeat record is the only source of truth.
package health

import (
	"context"
	"time"

	"neoproctl/internal/types"
)

// Source is the slice of the store the tracker reads from.
type Source interface {
	GetDevice(ctx context.Context, id string) (*types.Device, error)
	LastHeartbeat(ctx context.Context, deviceID string) (time.Time, bool, error)
	HeartbeatCount(ctx context.Context, deviceID string, since time.Time) (int, error)
}

// Tracker classifies devices as online, warning, offline, or unknown.
type Tracker struct {
	source Source
	now    func() time.Time

	// interval is the expected heartbeat spacing; a device whose newest
	// heartbeat is older than staleMultiplier*interval is offline.
	interval        time.Duration
	staleMultiplier int
	// warnPercent is the rolling-24h uptime below which a reachable device
	// is downgraded to warning.
	warnPercent float64
}

// New creates a tracker over the given heartbeat source.
func New(source Source, interval time.Duration, staleMultiplier int, warnPercent float64) *Tracker {
	return &Tracker{
		source:          source,
		now:             time.Now,
		interval:        interval,
		staleMultiplier: staleMultiplier,
		warnPercent:     warnPercent,
	}
}

// SetClock overrides the tracker's clock for tests.
func (t *Tracker) SetClock(now func() time.Time) { t.now = now }

// Status computes the connection status for one device.
//
// unknown means no heartbeat was ever recorded or the health-check path
// itself errored; callers must not treat it as offline, it may be a
// monitoring blind spot rather than a device fault.
func (t *Tracker) Status(ctx context.Context, deviceID string) types.ConnectionStatus {
	unknown := types.ConnectionStatus{DisplayStatus: types.DisplayUnknown, SecondsSinceLastSeen: -1}

	device, err := t.source.GetDevice(ctx, deviceID)
	if err != nil {
		return unknown
	}
	last, seen, err := t.source.LastHeartbeat(ctx, deviceID)
	if err != nil || !seen {
		return unknown
	}

	now := t.now()

	// Prorate the expected slot count for devices younger than the window,
	// so a 3-hour-old site with a full record scores 100, not 3/24.
	window := 24 * time.Hour
	if age := now.Sub(device.RegisteredAt); age > 0 && age < window {
		window = age
	}
	expected := int(window / t.interval)
	if expected < 1 {
		expected = 1
	}

	count, err := t.source.HeartbeatCount(ctx, deviceID, now.Add(-window))
	if err != nil {
		return unknown
	}
	uptime := float64(count) / float64(expected) * 100
	if uptime > 100 {
		uptime = 100
	}
	if uptime < 0 {
		uptime = 0
	}

	sinceLast := now.Sub(last)
	status := types.ConnectionStatus{
		SecondsSinceLastSeen: int64(sinceLast.Seconds()),
		Uptime24hPercent:     uptime,
		Heartbeats24hCount:   count,
	}

	switch {
	case sinceLast > time.Duration(t.staleMultiplier)*t.interval:
		status.DisplayStatus = types.DisplayOffline
	case uptime < t.warnPercent:
		status.DisplayStatus = types.DisplayWarning
		status.IsConnected = true
	default:
		status.DisplayStatus = types.DisplayOnline
		status.IsConnected = true
	}
	return status
}
