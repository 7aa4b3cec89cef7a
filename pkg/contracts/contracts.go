// Package contracts defines the service interfaces of the governance core.
//
// These interfaces form the boundary between the core and its extensions.
// The core ships concrete implementations (rule engine, debate engine,
// webhook notifier); deployments can provide enhanced implementations that
// wrap or replace the defaults without touching internal/ directly.
package contracts

import (
	"context"
	"time"

	"github.com/arbiterhq/arbiter/governance-core/pkg/models"
)

// ── Notifications ───────────────────────────────────────────

// NotificationEvent is the payload delivered to notification channels when
// the governance lifecycle advances.
type NotificationEvent struct {
	Type        string                 `json:"type"`
	SessionID   string                 `json:"session_id,omitempty"`
	ViolationID string                 `json:"violation_id,omitempty"`
	Subject     string                 `json:"subject,omitempty"`
	Payload     map[string]interface{} `json:"payload,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
}

// ChannelDriver sends notification events over one transport kind.
// The core ships the webhook driver; extensions register more via
// notify.Service.RegisterDriver.
type ChannelDriver interface {
	// Kind returns the channel kind this driver serves.
	Kind() models.ChannelKind

	// Send delivers the event to the channel. Implementations retry
	// transient failures internally.
	Send(ctx context.Context, channel *models.NotificationChannel, event NotificationEvent) error
}

// Publisher is the narrow interface orchestration code uses to emit
// lifecycle events. Delivery is best-effort and must never block or fail a
// governance decision.
type Publisher interface {
	Publish(ctx context.Context, event NotificationEvent)
}
