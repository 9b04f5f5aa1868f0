package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"neoproctl/internal/playlist"
	"neoproctl/internal/types"
)

const (
	// Retry configuration for local persistence writes. Device-facing
	// delivery is never retried.
	maxRetries     = 3
	initialBackoff = 1 * time.Second
	maxBackoff     = 30 * time.Second
)

// Content deployment modes.
const (
	ModeMerge   = "merge"
	ModeReplace = "replace"
)

// ContentPayload is the payload carried by a content deployment.
type ContentPayload struct {
	// Mode defaults to merge. Replace discards the site's local tree and can
	// destroy club-authored content; it exists for first-time migration only.
	Mode     string          `json:"mode,omitempty"`
	Document json.RawMessage `json:"document"`
}

// UpdatePayload is the payload carried by a software update deployment.
type UpdatePayload struct {
	Version string `json:"version"`
}

// deployToDevice performs one device's share of a deployment. The kind switch
// is static: a new deployment kind is a compile-visible addition here.
func (s *Scheduler) deployToDevice(ctx context.Context, dep *types.Deployment, deviceID string) error {
	switch dep.Kind {
	case types.DeploymentContent:
		return s.deployContent(ctx, dep, deviceID)
	case types.DeploymentUpdate:
		return s.deployUpdate(ctx, dep, deviceID)
	default:
		return fmt.Errorf("unknown deployment kind %q", dep.Kind)
	}
}

func (s *Scheduler) deployUpdate(ctx context.Context, dep *types.Deployment, deviceID string) error {
	var payload UpdatePayload
	if err := json.Unmarshal(dep.Payload, &payload); err != nil {
		return fmt.Errorf("invalid update payload: %w", err)
	}
	if payload.Version == "" {
		return fmt.Errorf("update payload has no version")
	}
	_, err := s.issuer.Issue(ctx, deviceID, types.CommandUpdateSoftware, dep.Payload)
	return err
}

// deployContent merges the centrally-authored document into the site's local
// one, persists the result with a pre-merge snapshot, and delivers the merged
// tree to the device. A push that changes nothing is a recorded no-op: no new
// version, no command.
func (s *Scheduler) deployContent(ctx context.Context, dep *types.Deployment, deviceID string) error {
	var payload ContentPayload
	if err := json.Unmarshal(dep.Payload, &payload); err != nil {
		return fmt.Errorf("invalid content payload: %w", err)
	}
	mode := payload.Mode
	if mode == "" {
		mode = ModeMerge
	}
	if mode != ModeMerge && mode != ModeReplace {
		return fmt.Errorf("unknown content mode %q", payload.Mode)
	}

	local, localRaw, localHash, version, exists, err := s.loadSiteConfig(ctx, deviceID)
	if err != nil {
		return err
	}

	var merged playlist.Document
	switch mode {
	case ModeReplace:
		log.Printf("[WARN] Replace-mode push to device %s: local content will be discarded", deviceID)
		merged, err = playlist.Decode(payload.Document)
		if err != nil {
			return fmt.Errorf("invalid incoming document: %w", err)
		}
	default:
		// Incoming is decoded without normalization: section and collection
		// presence decides what the push touches.
		var incoming playlist.Document
		if err := json.Unmarshal(payload.Document, &incoming); err != nil {
			return fmt.Errorf("invalid incoming document: %w", err)
		}
		merged, err = playlist.Merge(local, incoming)
		if err != nil {
			return err
		}
	}

	newHash := playlist.Hash(merged)
	if exists && newHash == localHash {
		log.Printf("[INFO] Content push to device %s is a no-op (hash %.12s), nothing sent", deviceID, newHash)
		return nil
	}

	// Backup-then-write: snapshot the pre-merge tree before overwriting it,
	// so a partial write can be restored manually. Not an atomic transaction.
	now := s.now()
	if exists {
		if err := retry.Do(func() error {
			return s.store.SnapshotSiteConfig(ctx, deviceID, localRaw, localHash, now)
		}, retry.Attempts(maxRetries), retry.Delay(initialBackoff), retry.MaxDelay(maxBackoff)); err != nil {
			return fmt.Errorf("failed to snapshot config for %s: %w", deviceID, err)
		}
	}

	merged.Version = version + 1
	mergedRaw, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("failed to marshal merged document: %w", err)
	}
	if err := retry.Do(func() error {
		return s.store.SaveSiteConfig(ctx, deviceID, mergedRaw, newHash, merged.Version, now)
	}, retry.Attempts(maxRetries), retry.Delay(initialBackoff), retry.MaxDelay(maxBackoff)); err != nil {
		return fmt.Errorf("failed to save config for %s: %w", deviceID, err)
	}

	_, err = s.issuer.Issue(ctx, deviceID, types.CommandDeployConfig, mergedRaw)
	return err
}

// Preview computes the change list a merge-mode push would produce for one
// site, without persisting or sending anything.
func (s *Scheduler) Preview(ctx context.Context, deviceID string, incomingRaw json.RawMessage) ([]playlist.Change, error) {
	local, _, _, _, _, err := s.loadSiteConfig(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	var incoming playlist.Document
	if err := json.Unmarshal(incomingRaw, &incoming); err != nil {
		return nil, fmt.Errorf("invalid incoming document: %w", err)
	}
	merged, err := playlist.Merge(local, incoming)
	if err != nil {
		return nil, err
	}
	return playlist.Diff(local, merged), nil
}

func (s *Scheduler) loadSiteConfig(ctx context.Context, deviceID string) (playlist.Document, []byte, string, int, bool, error) {
	raw, hash, version, exists, err := s.store.SiteConfig(ctx, deviceID)
	if err != nil {
		return playlist.Document{}, nil, "", 0, false, err
	}
	if !exists {
		var empty playlist.Document
		playlist.Normalize(&empty)
		return empty, nil, "", 0, false, nil
	}
	local, err := playlist.Decode(raw)
	if err != nil {
		return playlist.Document{}, nil, "", 0, false, fmt.Errorf("stored config for %s is unreadable: %w", deviceID, err)
	}
	return local, raw, hash, version, true, nil
}
