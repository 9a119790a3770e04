// Package events publishes identity lifecycle events for downstream collaborators.
package events

import (
	"time"

	"github.com/google/uuid"

	"identity-provisioning/internal/identity/domain"
)

// Type names a lifecycle event.
type Type string

const (
	TypeRegistered         Type = "identity.registered"
	TypeUpdated            Type = "identity.updated"
	TypePasswordChanged    Type = "identity.password_changed"
	TypeRoleChanged        Type = "identity.role_changed"
	TypeDeleted            Type = "identity.deleted"
	TypeConsistencyWarning Type = "identity.consistency_warning"
)

// Event is the JSON payload written to the lifecycle topic. It never carries credentials.
type Event struct {
	ID           string    `json:"id"`
	Type         Type      `json:"type"`
	IdentityID   string    `json:"identity_id"`
	Username     string    `json:"username,omitempty"`
	Role         string    `json:"role,omitempty"`
	PreviousRole string    `json:"previous_role,omitempty"`
	RemoteID     string    `json:"remote_id,omitempty"`
	RemoteSynced *bool     `json:"remote_synced,omitempty"`
	Saga         string    `json:"saga,omitempty"`
	Detail       string    `json:"detail,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// ForIdentity builds an event of type t describing i.
func ForIdentity(t Type, i *domain.Identity, at time.Time) *Event {
	return &Event{
		ID:         uuid.NewString(),
		Type:       t,
		IdentityID: i.ID,
		Username:   i.Username,
		Role:       string(i.Role),
		RemoteID:   i.RemoteID,
		OccurredAt: at.UTC(),
	}
}

// ForWarning builds a consistency_warning event.
func ForWarning(w domain.ConsistencyWarning) *Event {
	return &Event{
		ID:         uuid.NewString(),
		Type:       TypeConsistencyWarning,
		IdentityID: w.IdentityID,
		Username:   w.Username,
		RemoteID:   w.RemoteID,
		Saga:       w.Saga,
		Detail:     w.Action,
		OccurredAt: w.At.UTC(),
	}
}
