// Package types defines shared data structures for the neoproctl control plane.
package types

import (
	"encoding/json"
	"errors"
	"time"
)

// Error taxonomy shared across the control plane. Callers match with errors.Is.
var (
	ErrDeviceNotFound     = errors.New("device not found")
	ErrDeviceUnreachable  = errors.New("device not connected")
	ErrInvalidState       = errors.New("operation invalid for current status")
	ErrDeliveryFailed     = errors.New("delivery failed")
	ErrCommandNotFound    = errors.New("command not found")
	ErrDeploymentNotFound = errors.New("deployment not found")
	ErrMergeConflict      = errors.New("incoming configuration is missing required node ids")
)

// DeviceStatus is the administrative status of a device, set by operators.
// It is distinct from the derived connection status.
type DeviceStatus string

const (
	DeviceOnline      DeviceStatus = "online"
	DeviceOffline     DeviceStatus = "offline"
	DeviceMaintenance DeviceStatus = "maintenance"
	DeviceError       DeviceStatus = "error"
)

// Device represents a playback unit deployed at a club site.
type Device struct {
	ID              string       `json:"id"`
	Name            string       `json:"name"`
	ClubName        string       `json:"club_name"`
	SoftwareVersion string       `json:"software_version"`
	Status          DeviceStatus `json:"status"`
	LastSeen        time.Time    `json:"last_seen"`
	LastIP          string       `json:"last_ip"`
	RegisteredAt    time.Time    `json:"registered_at"`
}

// CommandType is the closed set of remote operations a device understands.
// Adding a type means adding a case to the executor switch, not a map entry.
type CommandType string

const (
	CommandDeployConfig   CommandType = "deploy_config"
	CommandUpdateSoftware CommandType = "update_software"
	CommandRestartApp     CommandType = "restart_app"
	CommandReboot         CommandType = "reboot"
	CommandSyncContent    CommandType = "sync_content"
)

// Valid reports whether t is a known command type.
func (t CommandType) Valid() bool {
	switch t {
	case CommandDeployConfig, CommandUpdateSoftware, CommandRestartApp, CommandReboot, CommandSyncContent:
		return true
	}
	return false
}

// CommandStatus is the ledger lifecycle state of a command.
// Transitions are pending -> executing -> completed|failed; terminal states
// are never left.
type CommandStatus string

const (
	CommandPending   CommandStatus = "pending"
	CommandExecuting CommandStatus = "executing"
	CommandCompleted CommandStatus = "completed"
	CommandFailed    CommandStatus = "failed"
)

// Terminal reports whether s is a final state.
func (s CommandStatus) Terminal() bool {
	return s == CommandCompleted || s == CommandFailed
}

// Command is a durable ledger row recording an issued remote operation.
type Command struct {
	ID           string          `json:"id"`
	DeviceID     string          `json:"device_id"`
	Type         CommandType     `json:"command_type"`
	Params       json.RawMessage `json:"command_data,omitempty"`
	Status       CommandStatus   `json:"status"`
	Result       json.RawMessage `json:"result,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	ExecutedAt   *time.Time      `json:"executed_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

// TargetType selects a single site or a device group as a deployment target.
type TargetType string

const (
	TargetSite  TargetType = "site"
	TargetGroup TargetType = "group"
)

// DeploymentKind distinguishes content pushes from software updates.
type DeploymentKind string

const (
	DeploymentContent DeploymentKind = "content"
	DeploymentUpdate  DeploymentKind = "update"
)

// DeploymentStatus is the deployment lifecycle state.
type DeploymentStatus string

const (
	DeploymentPending    DeploymentStatus = "pending"
	DeploymentScheduled  DeploymentStatus = "scheduled"
	DeploymentInProgress DeploymentStatus = "in_progress"
	DeploymentCompleted  DeploymentStatus = "completed"
	DeploymentFailed     DeploymentStatus = "failed"
	DeploymentCancelled  DeploymentStatus = "cancelled"
	DeploymentRolledBack DeploymentStatus = "rolled_back"
)

// Terminal reports whether s is a final state.
func (s DeploymentStatus) Terminal() bool {
	switch s {
	case DeploymentCompleted, DeploymentFailed, DeploymentCancelled, DeploymentRolledBack:
		return true
	}
	return false
}

// Deployment records one unit of fan-out work against a site or group.
type Deployment struct {
	ID           string           `json:"id"`
	Kind         DeploymentKind   `json:"kind"`
	TargetType   TargetType       `json:"target_type"`
	TargetID     string           `json:"target_id"`
	Status       DeploymentStatus `json:"status"`
	Progress     int              `json:"progress"`
	Payload      json.RawMessage  `json:"payload,omitempty"`
	ErrorMessage string           `json:"error_message,omitempty"`
	RequestedBy  string           `json:"requested_by,omitempty"`
	ScheduledAt  *time.Time       `json:"scheduled_at,omitempty"`
	StartedAt    *time.Time       `json:"started_at,omitempty"`
	CompletedAt  *time.Time       `json:"completed_at,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
}

// DisplayStatus is the derived reachability classification shown to operators.
type DisplayStatus string

const (
	DisplayOnline  DisplayStatus = "online"
	DisplayWarning DisplayStatus = "warning"
	DisplayOffline DisplayStatus = "offline"
	DisplayUnknown DisplayStatus = "unknown"
)

// ConnectionStatus is recomputed from the heartbeat record on every query.
// It is never persisted.
type ConnectionStatus struct {
	IsConnected          bool          `json:"is_connected"`
	DisplayStatus        DisplayStatus `json:"display_status"`
	SecondsSinceLastSeen int64         `json:"seconds_since_last_seen"`
	Uptime24hPercent     float64       `json:"uptime_24h_percent"`
	Heartbeats24hCount   int           `json:"heartbeats_24h_count"`
}

// Heartbeat is one liveness signal from a device.
type Heartbeat struct {
	DeviceID  string    `json:"device_id"`
	Timestamp time.Time `json:"timestamp"`
}

// CommandEnvelope is the frame sent to a device over its live session.
type CommandEnvelope struct {
	CommandID string          `json:"command_id"`
	Type      CommandType     `json:"type"`
	Params    json.RawMessage `json:"params,omitempty"`
}

// Agent frame kinds for inbound messages on the device session.
const (
	FrameHeartbeat = "heartbeat"
	FrameResult    = "result"
)

// AgentFrame is a message received from a device over its live session.
type AgentFrame struct {
	Kind            string          `json:"kind"`
	DeviceID        string          `json:"device_id,omitempty"`
	SoftwareVersion string          `json:"software_version,omitempty"`
	CommandID       string          `json:"command_id,omitempty"`
	Success         bool            `json:"success,omitempty"`
	Result          json.RawMessage `json:"result,omitempty"`
	Error           string          `json:"error,omitempty"`
}
