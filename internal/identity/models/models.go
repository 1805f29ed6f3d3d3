// Package models holds the registry's records and the sentinel errors that
// distinguish its uniqueness failures.
package models

import (
	"errors"
	"time"

	id "soulid/pkg/domain"
)

// Registry rule violations. Stores return these; the service maps them onto
// domain error codes and keeps them reachable via errors.Is.
var (
	ErrAlreadyHasIdentity   = errors.New("holder already has an identity")
	ErrNameAlreadyExists    = errors.New("name already exists")
	ErrIdentityAlreadyNamed = errors.New("identity already has a name")
	ErrNameNotFound         = errors.New("name not found")
	ErrIndexOutOfRange      = errors.New("index out of range")
	ErrNotOperator          = errors.New("caller is not the operator")
	ErrNotTokenOwner        = errors.New("caller is not the identity holder")
)

// Identity is one soulbound token.
//
// Invariants:
//   - Holder owns at most one Identity while it exists
//   - ID is assigned from a counter and never reused after burn
//   - Holder never changes; there is no transfer
type Identity struct {
	ID        id.IdentityID `json:"id"`
	Holder    id.Address    `json:"holder"`
	CreatedAt time.Time     `json:"created_at"`
}

// NameBinding ties one case-folded name to one identity until ExpiresAt.
// Name is the canonical key; Display keeps the casing used at registration.
type NameBinding struct {
	Name        string        `json:"name"`
	Display     string        `json:"display"`
	IdentityID  id.IdentityID `json:"identity_id"`
	ExpiresAt   time.Time     `json:"expires_at"`
	MetadataURI string        `json:"metadata_uri,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// ActiveAt reports whether the binding is still live at now. A binding that
// expires exactly at now is already inactive.
func (b *NameBinding) ActiveAt(now time.Time) bool {
	return now.Before(b.ExpiresAt)
}

// TokenData is the resolved view of a name: the identity it points at plus
// the suffixed display name.
type TokenData struct {
	Name        string        `json:"name"`
	IdentityID  id.IdentityID `json:"identity_id"`
	Holder      id.Address    `json:"holder"`
	ExpiresAt   time.Time     `json:"expires_at"`
	Active      bool          `json:"active"`
	MetadataURI string        `json:"metadata_uri,omitempty"`
}

// CollectionInfo describes the registry as a whole.
type CollectionInfo struct {
	Name         string     `json:"name"`
	Symbol       string     `json:"symbol"`
	Extension    string     `json:"extension"`
	NameRegistry string     `json:"name_registry"`
	Operator     id.Address `json:"operator"`
	TotalSupply  uint64     `json:"total_supply"`
}

// MintResult is what MintWithName commits: the identity and its binding.
type MintResult struct {
	Identity *Identity    `json:"identity"`
	Binding  *NameBinding `json:"binding,omitempty"`
}
