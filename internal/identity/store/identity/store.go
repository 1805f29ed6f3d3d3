// Package identity owns the holder/identity bijection and the enumeration of
// live identities.
//
// Key layout inside the substrate:
//
//	identity/next_id      next id to assign (missing reads as 0)
//	identity/<id>         JSON models.Identity
//	holder/<address>      id held by address
//	enum/count            number of live identities
//	enum/<index>          id at dense position index
//	enum/slot/<id>        index of id in the dense array
//
// Burn swap-removes from the dense array: the last id moves into the freed
// slot, so enumeration order is mint order only until the first burn.
package identity

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"soulid/internal/identity/models"
	"soulid/internal/kv"
	id "soulid/pkg/domain"
	"soulid/pkg/platform/sentinel"
)

const (
	nextIDKey   = "identity/next_id"
	countKey    = "enum/count"
	identityPfx = "identity/"
	holderPfx   = "holder/"
	enumPfx     = "enum/"
	enumSlotPfx = "enum/slot/"
)

// Store is stateless; all state lives in the transaction it is handed.
type Store struct{}

// New constructs a Store.
func New() *Store {
	return &Store{}
}

func identityKey(identityID id.IdentityID) string { return identityPfx + identityID.String() }
func holderKey(holder id.Address) string          { return holderPfx + holder.String() }
func enumKey(index uint64) string                 { return enumPfx + strconv.FormatUint(index, 10) }
func slotKey(identityID id.IdentityID) string     { return enumSlotPfx + identityID.String() }

// Mint creates an identity for holder. It fails with
// models.ErrAlreadyHasIdentity if holder already has one.
func (s *Store) Mint(txn kv.Txn, holder id.Address, now time.Time) (*models.Identity, error) {
	taken, err := kv.Exists(txn, holderKey(holder))
	if err != nil {
		return nil, fmt.Errorf("check holder: %w", err)
	}
	if taken {
		return nil, models.ErrAlreadyHasIdentity
	}

	next, err := kv.GetUint(txn, nextIDKey)
	if err != nil {
		return nil, fmt.Errorf("read next id: %w", err)
	}
	identity := &models.Identity{ID: id.IdentityID(next), Holder: holder, CreatedAt: now}

	if err := kv.PutUint(txn, nextIDKey, next+1); err != nil {
		return nil, err
	}
	if err := kv.PutJSON(txn, identityKey(identity.ID), identity); err != nil {
		return nil, err
	}
	if err := kv.PutUint(txn, holderKey(holder), next); err != nil {
		return nil, err
	}
	if err := s.appendSlot(txn, identity.ID); err != nil {
		return nil, err
	}
	return identity, nil
}

// Burn destroys identityID and returns what it was. The id is never
// assigned again because next_id only grows.
func (s *Store) Burn(txn kv.Txn, identityID id.IdentityID) (*models.Identity, error) {
	identity, err := s.Get(txn, identityID)
	if err != nil {
		return nil, err
	}
	if err := txn.Delete(identityKey(identityID)); err != nil {
		return nil, err
	}
	if err := txn.Delete(holderKey(identity.Holder)); err != nil {
		return nil, err
	}
	if err := s.removeSlot(txn, identityID); err != nil {
		return nil, err
	}
	return identity, nil
}

// Get returns the identity record or sentinel.ErrNotFound.
func (s *Store) Get(r kv.Reader, identityID id.IdentityID) (*models.Identity, error) {
	var identity models.Identity
	if err := kv.GetJSON(r, identityKey(identityID), &identity); err != nil {
		return nil, err
	}
	return &identity, nil
}

// HolderOf returns the holder of identityID or sentinel.ErrNotFound.
func (s *Store) HolderOf(r kv.Reader, identityID id.IdentityID) (id.Address, error) {
	identity, err := s.Get(r, identityID)
	if err != nil {
		return "", err
	}
	return identity.Holder, nil
}

// IdentityOf returns the id held by holder or sentinel.ErrNotFound.
func (s *Store) IdentityOf(r kv.Reader, holder id.Address) (id.IdentityID, error) {
	exists, err := kv.Exists(r, holderKey(holder))
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, sentinel.ErrNotFound
	}
	n, err := kv.GetUint(r, holderKey(holder))
	if err != nil {
		return 0, err
	}
	return id.IdentityID(n), nil
}

// BalanceOf is 1 if holder has an identity and 0 otherwise.
func (s *Store) BalanceOf(r kv.Reader, holder id.Address) (uint64, error) {
	exists, err := kv.Exists(r, holderKey(holder))
	if err != nil {
		return 0, err
	}
	if exists {
		return 1, nil
	}
	return 0, nil
}

// Count returns the number of live identities.
func (s *Store) Count(r kv.Reader) (uint64, error) {
	return kv.GetUint(r, countKey)
}

// TokenByIndex returns the id at dense position index, or
// models.ErrIndexOutOfRange when index >= Count.
func (s *Store) TokenByIndex(r kv.Reader, index uint64) (id.IdentityID, error) {
	count, err := s.Count(r)
	if err != nil {
		return 0, err
	}
	if index >= count {
		return 0, models.ErrIndexOutOfRange
	}
	n, err := kv.GetUint(r, enumKey(index))
	if err != nil {
		return 0, err
	}
	return id.IdentityID(n), nil
}

func (s *Store) appendSlot(txn kv.Txn, identityID id.IdentityID) error {
	count, err := s.Count(txn)
	if err != nil {
		return err
	}
	if err := kv.PutUint(txn, enumKey(count), identityID.Uint64()); err != nil {
		return err
	}
	if err := kv.PutUint(txn, slotKey(identityID), count); err != nil {
		return err
	}
	return kv.PutUint(txn, countKey, count+1)
}

func (s *Store) removeSlot(txn kv.Txn, identityID id.IdentityID) error {
	count, err := s.Count(txn)
	if err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("enumeration empty while removing %s: %w", identityID, sentinel.ErrInvalidState)
	}
	raw, err := txn.Get(slotKey(identityID))
	if errors.Is(err, sentinel.ErrNotFound) {
		return fmt.Errorf("identity %s has no enumeration slot: %w", identityID, sentinel.ErrInvalidState)
	}
	if err != nil {
		return err
	}
	slot, err := strconv.ParseUint(string(raw), 10, 64)
	if err != nil {
		return fmt.Errorf("decode slot of %s: %w", identityID, err)
	}

	last := count - 1
	if slot != last {
		moved, err := kv.GetUint(txn, enumKey(last))
		if err != nil {
			return err
		}
		if err := kv.PutUint(txn, enumKey(slot), moved); err != nil {
			return err
		}
		if err := kv.PutUint(txn, slotKey(id.IdentityID(moved)), slot); err != nil {
			return err
		}
	}
	if err := txn.Delete(enumKey(last)); err != nil {
		return err
	}
	if err := txn.Delete(slotKey(identityID)); err != nil {
		return err
	}
	return kv.PutUint(txn, countKey, last)
}
