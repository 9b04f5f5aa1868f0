// Package store provides SQLite persistence for the fleet control plane:
// the device registry, the heartbeat record, the command ledger, deployment
// records, device groups, and per-site configuration documents.
//
// Every status mutation is a conditional single-row update (set status=X
// where status=expectedPrior), so concurrent writers for the same row cannot
// both succeed; the loser observes a no-op.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // database/sql driver registration
	"neoproctl/internal/types"
)

const schema = `
-- Devices
CREATE TABLE IF NOT EXISTS devices (
	id               TEXT PRIMARY KEY,
	name             TEXT NOT NULL DEFAULT '',
	club_name        TEXT NOT NULL DEFAULT '',
	software_version TEXT NOT NULL DEFAULT '',
	status           TEXT NOT NULL DEFAULT 'offline',
	last_seen        DATETIME,
	last_ip          TEXT NOT NULL DEFAULT '',
	registered_at    DATETIME NOT NULL
);

-- Heartbeat record
CREATE TABLE IF NOT EXISTS heartbeats (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	device_id TEXT NOT NULL,
	timestamp DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_heartbeats_device_time ON heartbeats(device_id, timestamp);

-- Command ledger
CREATE TABLE IF NOT EXISTS commands (
	id            TEXT PRIMARY KEY,
	device_id     TEXT NOT NULL,
	command_type  TEXT NOT NULL,
	command_data  TEXT,
	status        TEXT NOT NULL DEFAULT 'pending',
	result        TEXT,
	error_message TEXT,
	created_at    DATETIME NOT NULL,
	executed_at   DATETIME,
	completed_at  DATETIME
);
CREATE INDEX IF NOT EXISTS idx_commands_device ON commands(device_id);
CREATE INDEX IF NOT EXISTS idx_commands_status ON commands(status);

-- Deployments
CREATE TABLE IF NOT EXISTS deployments (
	id            TEXT PRIMARY KEY,
	kind          TEXT NOT NULL,
	target_type   TEXT NOT NULL,
	target_id     TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'pending',
	progress      INTEGER NOT NULL DEFAULT 0,
	payload       TEXT,
	error_message TEXT,
	requested_by  TEXT NOT NULL DEFAULT '',
	scheduled_at  DATETIME,
	started_at    DATETIME,
	completed_at  DATETIME,
	created_at    DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_deployments_status_time ON deployments(status, scheduled_at);

-- Device groups
CREATE TABLE IF NOT EXISTS device_groups (
	group_id  TEXT NOT NULL,
	device_id TEXT NOT NULL,
	PRIMARY KEY (group_id, device_id)
);

-- Per-site configuration documents
CREATE TABLE IF NOT EXISTS site_configs (
	device_id  TEXT PRIMARY KEY,
	document   TEXT NOT NULL,
	hash       TEXT NOT NULL,
	version    INTEGER NOT NULL,
	updated_at DATETIME NOT NULL
);

-- Pre-merge snapshots for manual restoration
CREATE TABLE IF NOT EXISTS config_snapshots (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	device_id TEXT NOT NULL,
	document  TEXT NOT NULL,
	hash      TEXT NOT NULL,
	taken_at  DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_device_time ON config_snapshots(device_id, taken_at);
`

// Store wraps the SQLite database connection.
type Store struct {
	db *sql.DB
}

// Open initializes the SQLite database at path and creates the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// --- Devices -----------------------------------------------------------------

// UpsertDevice inserts or updates a device registration.
func (s *Store) UpsertDevice(ctx context.Context, d *types.Device) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO devices (id, name, club_name, software_version, status, last_seen, last_ip, registered_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			club_name = excluded.club_name,
			software_version = excluded.software_version,
			status = excluded.status,
			last_seen = excluded.last_seen,
			last_ip = excluded.last_ip`,
		d.ID, d.Name, d.ClubName, d.SoftwareVersion, string(d.Status),
		nullTime(d.LastSeen), d.LastIP, d.RegisteredAt)
	if err != nil {
		return fmt.Errorf("failed to upsert device %s: %w", d.ID, err)
	}
	return nil
}

// GetDevice loads one device by id.
func (s *Store) GetDevice(ctx context.Context, id string) (*types.Device, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, club_name, software_version, status, last_seen, last_ip, registered_at
		FROM devices WHERE id = ?`, id)
	return scanDevice(row)
}

// ListDevices returns every registered device.
func (s *Store) ListDevices(ctx context.Context) ([]*types.Device, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, club_name, software_version, status, last_seen, last_ip, registered_at
		FROM devices ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	defer rows.Close()

	var devices []*types.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// TouchDevice bumps last-seen bookkeeping after a heartbeat.
func (s *Store) TouchDevice(ctx context.Context, id, ip, softwareVersion string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE devices SET last_seen = ?, last_ip = ?,
			software_version = CASE WHEN ? != '' THEN ? ELSE software_version END
		WHERE id = ?`,
		at, ip, softwareVersion, softwareVersion, id)
	if err != nil {
		return fmt.Errorf("failed to touch device %s: %w", id, err)
	}
	return nil
}

// SetDeviceStatus records an administrative status edit.
func (s *Store) SetDeviceStatus(ctx context.Context, id string, status types.DeviceStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE devices SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("failed to set device status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("device %s: %w", id, types.ErrDeviceNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row rowScanner) (*types.Device, error) {
	var d types.Device
	var status string
	var lastSeen sql.NullTime
	err := row.Scan(&d.ID, &d.Name, &d.ClubName, &d.SoftwareVersion, &status, &lastSeen, &d.LastIP, &d.RegisteredAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrDeviceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan device: %w", err)
	}
	d.Status = types.DeviceStatus(status)
	if lastSeen.Valid {
		d.LastSeen = lastSeen.Time
	}
	return &d, nil
}

// --- Heartbeats --------------------------------------------------------------

// RecordHeartbeat appends one heartbeat to the record.
func (s *Store) RecordHeartbeat(ctx context.Context, deviceID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO heartbeats (device_id, timestamp) VALUES (?, ?)`, deviceID, at)
	if err != nil {
		return fmt.Errorf("failed to record heartbeat for %s: %w", deviceID, err)
	}
	return nil
}

// LastHeartbeat returns the most recent heartbeat time for a device.
// The second return is false when no heartbeat was ever recorded.
func (s *Store) LastHeartbeat(ctx context.Context, deviceID string) (time.Time, bool, error) {
	var ts sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(timestamp) FROM heartbeats WHERE device_id = ?`, deviceID).Scan(&ts)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to query last heartbeat: %w", err)
	}
	if !ts.Valid {
		return time.Time{}, false, nil
	}
	return ts.Time, true, nil
}

// HeartbeatCount counts heartbeats for a device since the given time.
func (s *Store) HeartbeatCount(ctx context.Context, deviceID string, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM heartbeats WHERE device_id = ? AND timestamp >= ?`,
		deviceID, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count heartbeats: %w", err)
	}
	return count, nil
}

// PruneHeartbeats drops heartbeats older than the cutoff.
func (s *Store) PruneHeartbeats(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM heartbeats WHERE timestamp < ?`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to prune heartbeats: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// --- Command ledger ----------------------------------------------------------

// InsertCommand writes a new ledger row.
func (s *Store) InsertCommand(ctx context.Context, c *types.Command) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO commands (id, device_id, command_type, command_data, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.DeviceID, string(c.Type), nullJSON(c.Params), string(c.Status), c.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert command %s: %w", c.ID, err)
	}
	return nil
}

// GetCommand loads one ledger row.
func (s *Store) GetCommand(ctx context.Context, id string) (*types.Command, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, device_id, command_type, command_data, status, result, error_message,
		       created_at, executed_at, completed_at
		FROM commands WHERE id = ?`, id)

	var c types.Command
	var cmdType, status string
	var params, result, errMsg sql.NullString
	var executedAt, completedAt sql.NullTime
	err := row.Scan(&c.ID, &c.DeviceID, &cmdType, &params, &status, &result, &errMsg,
		&c.CreatedAt, &executedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("command %s: %w", id, types.ErrCommandNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan command %s: %w", id, err)
	}
	c.Type = types.CommandType(cmdType)
	c.Status = types.CommandStatus(status)
	if params.Valid {
		c.Params = json.RawMessage(params.String)
	}
	if result.Valid {
		c.Result = json.RawMessage(result.String)
	}
	if errMsg.Valid {
		c.ErrorMessage = errMsg.String
	}
	if executedAt.Valid {
		t := executedAt.Time
		c.ExecutedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		c.CompletedAt = &t
	}
	return &c, nil
}

// SetCommandExecuting transitions pending -> executing once transport delivery
// is confirmed. Returns false when the row was not in pending.
func (s *Store) SetCommandExecuting(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE commands SET status = ?, executed_at = ?
		WHERE id = ? AND status = ?`,
		string(types.CommandExecuting), at, id, string(types.CommandPending))
	if err != nil {
		return false, fmt.Errorf("failed to mark command %s executing: %w", id, err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// CompleteCommand transitions to completed with the device's result. The row
// may still be pending when the device answers faster than the dispatcher
// marks it executing, so both prior states are accepted. Returns false when
// the row was already terminal (first writer already won).
func (s *Store) CompleteCommand(ctx context.Context, id string, result json.RawMessage, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE commands SET status = ?, result = ?, completed_at = ?
		WHERE id = ? AND status IN (?, ?)`,
		string(types.CommandCompleted), nullJSON(result), at, id,
		string(types.CommandPending), string(types.CommandExecuting))
	if err != nil {
		return false, fmt.Errorf("failed to complete command %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// FailCommand transitions from the expected prior status to failed.
// Used for delivery failures (from pending), device-reported failures and
// expiry (from executing). Returns false when the row was not in the expected
// prior status.
func (s *Store) FailCommand(ctx context.Context, id string, from types.CommandStatus, message string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE commands SET status = ?, error_message = ?, completed_at = ?
		WHERE id = ? AND status = ?`,
		string(types.CommandFailed), message, at, id, string(from))
	if err != nil {
		return false, fmt.Errorf("failed to fail command %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// StaleExecutingCommands lists commands stuck in executing since before the
// cutoff. The caller transitions each one conditionally, so a racing result
// delivery still wins cleanly.
func (s *Store) StaleExecutingCommands(ctx context.Context, before time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM commands WHERE status = ? AND executed_at < ?`,
		string(types.CommandExecuting), before)
	if err != nil {
		return nil, fmt.Errorf("failed to query stale commands: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan command id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CommandsForDevice lists the ledger for one device, newest first.
func (s *Store) CommandsForDevice(ctx context.Context, deviceID string, limit int) ([]*types.Command, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM commands WHERE device_id = ? ORDER BY created_at DESC LIMIT ?`,
		deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list commands for %s: %w", deviceID, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan command id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	commands := make([]*types.Command, 0, len(ids))
	for _, id := range ids {
		c, err := s.GetCommand(ctx, id)
		if err != nil {
			return nil, err
		}
		commands = append(commands, c)
	}
	return commands, nil
}

// --- Deployments -------------------------------------------------------------

// InsertDeployment writes a new deployment record in pending.
func (s *Store) InsertDeployment(ctx context.Context, d *types.Deployment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO deployments (id, kind, target_type, target_id, status, progress, payload, requested_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, string(d.Kind), string(d.TargetType), d.TargetID, string(d.Status),
		d.Progress, nullJSON(d.Payload), d.RequestedBy, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert deployment %s: %w", d.ID, err)
	}
	return nil
}

// GetDeployment loads one deployment record.
func (s *Store) GetDeployment(ctx context.Context, id string) (*types.Deployment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, kind, target_type, target_id, status, progress, payload, error_message,
		       requested_by, scheduled_at, started_at, completed_at, created_at
		FROM deployments WHERE id = ?`, id)
	return scanDeployment(row)
}

func scanDeployment(row rowScanner) (*types.Deployment, error) {
	var d types.Deployment
	var kind, targetType, status string
	var payload, errMsg sql.NullString
	var scheduledAt, startedAt, completedAt sql.NullTime
	err := row.Scan(&d.ID, &kind, &targetType, &d.TargetID, &status, &d.Progress,
		&payload, &errMsg, &d.RequestedBy, &scheduledAt, &startedAt, &completedAt, &d.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sql.ErrNoRows
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan deployment: %w", err)
	}
	d.Kind = types.DeploymentKind(kind)
	d.TargetType = types.TargetType(targetType)
	d.Status = types.DeploymentStatus(status)
	if payload.Valid {
		d.Payload = json.RawMessage(payload.String)
	}
	if errMsg.Valid {
		d.ErrorMessage = errMsg.String
	}
	if scheduledAt.Valid {
		t := scheduledAt.Time
		d.ScheduledAt = &t
	}
	if startedAt.Valid {
		t := startedAt.Time
		d.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		d.CompletedAt = &t
	}
	return &d, nil
}

// ScheduleDeployment transitions pending -> scheduled with the target time.
func (s *Store) ScheduleDeployment(ctx context.Context, id string, at time.Time, requestedBy string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE deployments SET status = ?, scheduled_at = ?,
			requested_by = CASE WHEN ? != '' THEN ? ELSE requested_by END
		WHERE id = ? AND status = ?`,
		string(types.DeploymentScheduled), at, requestedBy, requestedBy, id, string(types.DeploymentPending))
	if err != nil {
		return false, fmt.Errorf("failed to schedule deployment %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// CancelDeployment transitions scheduled -> cancelled.
func (s *Store) CancelDeployment(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE deployments SET status = ?, completed_at = ?
		WHERE id = ? AND status = ?`,
		string(types.DeploymentCancelled), at, id, string(types.DeploymentScheduled))
	if err != nil {
		return false, fmt.Errorf("failed to cancel deployment %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// DueDeployments lists scheduled deployments whose time has come, in
// ascending scheduled order.
func (s *Store) DueDeployments(ctx context.Context, now time.Time) ([]*types.Deployment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, target_type, target_id, status, progress, payload, error_message,
		       requested_by, scheduled_at, started_at, completed_at, created_at
		FROM deployments
		WHERE status = ? AND scheduled_at <= ?
		ORDER BY scheduled_at ASC`,
		string(types.DeploymentScheduled), now)
	if err != nil {
		return nil, fmt.Errorf("failed to query due deployments: %w", err)
	}
	defer rows.Close()

	var due []*types.Deployment
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, err
		}
		due = append(due, d)
	}
	return due, rows.Err()
}

// ClaimDeployment transitions scheduled -> pending, marking the sweep's claim.
// A false return means another sweep (or a cancel) got there first.
func (s *Store) ClaimDeployment(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE deployments SET status = ? WHERE id = ? AND status = ?`,
		string(types.DeploymentPending), id, string(types.DeploymentScheduled))
	if err != nil {
		return false, fmt.Errorf("failed to claim deployment %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// StartDeployment transitions pending -> in_progress.
func (s *Store) StartDeployment(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE deployments SET status = ?, started_at = ?
		WHERE id = ? AND status = ?`,
		string(types.DeploymentInProgress), at, id, string(types.DeploymentPending))
	if err != nil {
		return false, fmt.Errorf("failed to start deployment %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// FinishDeployment records the aggregate outcome of an in-progress deployment.
func (s *Store) FinishDeployment(ctx context.Context, id string, status types.DeploymentStatus, progress int, message string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE deployments SET status = ?, progress = ?, error_message = ?, completed_at = ?
		WHERE id = ? AND status = ?`,
		string(status), progress, message, at, id, string(types.DeploymentInProgress))
	if err != nil {
		return false, fmt.Errorf("failed to finish deployment %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// --- Groups ------------------------------------------------------------------

// AddGroupMember adds a device to a group; adding twice is a no-op.
func (s *Store) AddGroupMember(ctx context.Context, groupID, deviceID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO device_groups (group_id, device_id) VALUES (?, ?)`,
		groupID, deviceID)
	if err != nil {
		return fmt.Errorf("failed to add %s to group %s: %w", deviceID, groupID, err)
	}
	return nil
}

// GroupMembers lists the device ids in a group.
func (s *Store) GroupMembers(ctx context.Context, groupID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT device_id FROM device_groups WHERE group_id = ? ORDER BY device_id`, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list group %s: %w", groupID, err)
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan group member: %w", err)
		}
		members = append(members, id)
	}
	return members, rows.Err()
}

// --- Site configurations -----------------------------------------------------

// SiteConfig loads a site's current configuration document. The bool return
// is false when the site has no stored document yet.
func (s *Store) SiteConfig(ctx context.Context, deviceID string) (document []byte, hash string, version int, ok bool, err error) {
	var doc string
	err = s.db.QueryRowContext(ctx, `
		SELECT document, hash, version FROM site_configs WHERE device_id = ?`,
		deviceID).Scan(&doc, &hash, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", 0, false, nil
	}
	if err != nil {
		return nil, "", 0, false, fmt.Errorf("failed to load site config for %s: %w", deviceID, err)
	}
	return []byte(doc), hash, version, true, nil
}

// SnapshotSiteConfig copies the pre-merge document to the recovery table.
// This is the backup half of the backup-then-write pattern; it must happen
// before SaveSiteConfig overwrites the live row.
func (s *Store) SnapshotSiteConfig(ctx context.Context, deviceID string, document []byte, hash string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO config_snapshots (device_id, document, hash, taken_at) VALUES (?, ?, ?, ?)`,
		deviceID, string(document), hash, at)
	if err != nil {
		return fmt.Errorf("failed to snapshot config for %s: %w", deviceID, err)
	}
	return nil
}

// SaveSiteConfig writes a site's merged configuration document.
func (s *Store) SaveSiteConfig(ctx context.Context, deviceID string, document []byte, hash string, version int, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO site_configs (device_id, document, hash, version, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(device_id) DO UPDATE SET
			document = excluded.document,
			hash = excluded.hash,
			version = excluded.version,
			updated_at = excluded.updated_at`,
		deviceID, string(document), hash, version, at)
	if err != nil {
		return fmt.Errorf("failed to save site config for %s: %w", deviceID, err)
	}
	return nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
