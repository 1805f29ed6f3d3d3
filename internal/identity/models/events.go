package models

import (
	"time"

	id "soulid/pkg/domain"
)

// EventType names one kind of registry event.
type EventType string

const (
	EventIdentityMinted      EventType = "identity_minted"
	EventIdentityBurned      EventType = "identity_burned"
	EventNameRegistered      EventType = "name_registered"
	EventNameExtended        EventType = "name_extended"
	EventNameRenamed         EventType = "name_renamed"
	EventNameReleased        EventType = "name_released"
	EventMetadataUpdated     EventType = "metadata_updated"
	EventNameRegistryRebound EventType = "name_registry_rebound"
	EventOperatorTransferred EventType = "operator_transferred"
)

// Event is one entry of the append-only registry log. Seq totally orders
// events; it starts at 1 and has no gaps.
type Event struct {
	Seq        uint64         `json:"seq"`
	ID         id.EventID     `json:"id"`
	Type       EventType      `json:"type"`
	IdentityID *id.IdentityID `json:"identity_id,omitempty"`
	Holder     id.Address     `json:"holder,omitempty"`
	Name       string         `json:"name,omitempty"`
	// Detail carries the type-specific extra: the previous name on rename,
	// the new registry on rebind, the new operator on transfer.
	Detail     string     `json:"detail,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	Actor      id.Address `json:"actor"`
	OccurredAt time.Time  `json:"occurred_at"`
}
