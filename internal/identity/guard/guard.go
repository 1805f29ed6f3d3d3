// Package guard decides who may mutate the registry.
//
// The operator address lives in the substrate, not in process memory, so
// every replica sharing a store agrees on it and a transfer is atomic with
// the rest of the transaction that performs it.
package guard

import (
	"errors"
	"fmt"

	"soulid/internal/identity/models"
	"soulid/internal/kv"
	id "soulid/pkg/domain"
	dErrors "soulid/pkg/domain-errors"
	"soulid/pkg/platform/sentinel"
)

const operatorKey = "operator"

// HolderLookup resolves the current holder of an identity.
type HolderLookup interface {
	HolderOf(r kv.Reader, identityID id.IdentityID) (id.Address, error)
}

// Guard evaluates capability checks inside a registry transaction.
type Guard struct {
	holders HolderLookup
}

// New constructs a Guard that resolves holders through holders.
func New(holders HolderLookup) *Guard {
	return &Guard{holders: holders}
}

// Bootstrap seeds the operator when the store has none. An operator that is
// already stored wins over configuration; it changes only through Transfer.
// It reports whether the seed was written.
func (g *Guard) Bootstrap(txn kv.Txn, operator id.Address) (bool, error) {
	if operator.IsZero() {
		return false, dErrors.New(dErrors.CodeInvalidInput, "operator address is required")
	}
	exists, err := kv.Exists(txn, operatorKey)
	if err != nil {
		return false, fmt.Errorf("read operator: %w", err)
	}
	if exists {
		return false, nil
	}
	if err := txn.Put(operatorKey, []byte(operator)); err != nil {
		return false, fmt.Errorf("write operator: %w", err)
	}
	return true, nil
}

// Operator returns the current operator address.
func (g *Guard) Operator(r kv.Reader) (id.Address, error) {
	raw, err := kv.GetString(r, operatorKey)
	if errors.Is(err, sentinel.ErrNotFound) {
		return "", dErrors.New(dErrors.CodeInvariantViolation, "registry has no operator")
	}
	if err != nil {
		return "", fmt.Errorf("read operator: %w", err)
	}
	return id.Address(raw), nil
}

// IsOperator reports whether caller is the operator.
func (g *Guard) IsOperator(r kv.Reader, caller id.Address) (bool, error) {
	if caller.IsZero() {
		return false, nil
	}
	operator, err := g.Operator(r)
	if err != nil {
		return false, err
	}
	return operator == caller, nil
}

// IsHolder reports whether caller holds identityID. A missing identity is
// reported as a not-found error, not as false.
func (g *Guard) IsHolder(r kv.Reader, caller id.Address, identityID id.IdentityID) (bool, error) {
	holder, err := g.holders.HolderOf(r, identityID)
	if err != nil {
		return false, err
	}
	return !caller.IsZero() && holder == caller, nil
}

// RequireOperator fails unless caller is the operator.
func (g *Guard) RequireOperator(r kv.Reader, caller id.Address) error {
	if err := requireCaller(caller); err != nil {
		return err
	}
	ok, err := g.IsOperator(r, caller)
	if err != nil {
		return err
	}
	if !ok {
		return dErrors.Wrap(models.ErrNotOperator, dErrors.CodeForbidden, "caller is not the registry operator")
	}
	return nil
}

// RequireHolder fails unless caller holds identityID.
func (g *Guard) RequireHolder(r kv.Reader, caller id.Address, identityID id.IdentityID) error {
	if err := requireCaller(caller); err != nil {
		return err
	}
	ok, err := g.IsHolder(r, caller, identityID)
	if err != nil {
		return err
	}
	if !ok {
		return dErrors.Wrap(models.ErrNotTokenOwner, dErrors.CodeForbidden, "caller is not the identity holder")
	}
	return nil
}

// RequireHolderOrOperator fails unless caller holds identityID or is the
// operator.
func (g *Guard) RequireHolderOrOperator(r kv.Reader, caller id.Address, identityID id.IdentityID) error {
	if err := requireCaller(caller); err != nil {
		return err
	}
	holder, err := g.IsHolder(r, caller, identityID)
	if err != nil {
		return err
	}
	if holder {
		return nil
	}
	operator, err := g.IsOperator(r, caller)
	if err != nil {
		return err
	}
	if !operator {
		return dErrors.Wrap(models.ErrNotTokenOwner, dErrors.CodeForbidden, "caller is neither the identity holder nor the operator")
	}
	return nil
}

// Transfer hands the operator role from caller to next.
func (g *Guard) Transfer(txn kv.Txn, caller, next id.Address) error {
	if err := g.RequireOperator(txn, caller); err != nil {
		return err
	}
	if next.IsZero() {
		return dErrors.New(dErrors.CodeInvalidInput, "new operator address is required")
	}
	if err := txn.Put(operatorKey, []byte(next)); err != nil {
		return fmt.Errorf("write operator: %w", err)
	}
	return nil
}

func requireCaller(caller id.Address) error {
	if caller.IsZero() {
		return dErrors.New(dErrors.CodeUnauthorized, "caller is required")
	}
	return nil
}
