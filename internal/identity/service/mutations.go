package service

import (
	"context"
	"fmt"
	"time"

	"soulid/internal/identity/models"
	"soulid/internal/kv"
	id "soulid/pkg/domain"
	dErrors "soulid/pkg/domain-errors"
)

// Mint issues an identity to holder. Operator only.
func (s *Service) Mint(ctx context.Context, caller, holder id.Address) (*models.Identity, error) {
	if holder.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "holder address is required")
	}
	var minted *models.Identity
	err := s.mutate(ctx, "mint", caller, func(txn kv.Txn, now time.Time) error {
		if err := s.guard.RequireOperator(txn, caller); err != nil {
			return err
		}
		identity, err := s.mint(txn, caller, holder, now)
		minted = identity
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, string(models.EventIdentityMinted),
		"identity_id", minted.ID,
		"holder", holder,
		"actor", caller,
	)
	return minted, nil
}

// MintWithName issues an identity to holder and binds name to it in the
// active name registry, atomically. Operator only.
func (s *Service) MintWithName(ctx context.Context, caller, holder id.Address, name string, years int, metadataURI string) (*models.MintResult, error) {
	if holder.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "holder address is required")
	}
	if err := validateMetadataURI(metadataURI); err != nil {
		return nil, err
	}
	result := &models.MintResult{}
	err := s.mutate(ctx, "mint_with_name", caller, func(txn kv.Txn, now time.Time) error {
		if err := s.guard.RequireOperator(txn, caller); err != nil {
			return err
		}
		identity, err := s.mint(txn, caller, holder, now)
		if err != nil {
			return err
		}
		binding, err := s.register(txn, caller, identity.ID, holder, name, years, metadataURI, now)
		if err != nil {
			return err
		}
		result.Identity, result.Binding = identity, binding
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, string(models.EventIdentityMinted),
		"identity_id", result.Identity.ID,
		"holder", holder,
		"name", result.Binding.Name,
		"actor", caller,
	)
	return result, nil
}

// Burn destroys identityID and releases its names in every configured
// registry. Only the holder may burn.
func (s *Service) Burn(ctx context.Context, caller id.Address, identityID id.IdentityID) error {
	var released []string
	err := s.mutate(ctx, "burn", caller, func(txn kv.Txn, now time.Time) error {
		if err := s.guard.RequireHolder(txn, caller, identityID); err != nil {
			return err
		}
		identity, err := s.identities.Burn(txn, identityID)
		if err != nil {
			return err
		}
		for _, reg := range s.sortedRegistries() {
			binding, err := reg.ReleaseByIdentity(txn, identityID)
			if err != nil {
				return fmt.Errorf("release names in %s: %w", reg.Namespace(), err)
			}
			if binding == nil {
				continue
			}
			released = append(released, binding.Name)
			if err := s.appendEvent(txn, &models.Event{
				Type:       models.EventNameReleased,
				IdentityID: identityRef(identityID),
				Holder:     identity.Holder,
				Name:       binding.Name,
				Detail:     reg.Namespace(),
				Actor:      caller,
				OccurredAt: now,
			}); err != nil {
				return err
			}
		}
		return s.appendEvent(txn, &models.Event{
			Type:       models.EventIdentityBurned,
			IdentityID: identityRef(identityID),
			Holder:     identity.Holder,
			Actor:      caller,
			OccurredAt: now,
		})
	})
	if err != nil {
		return err
	}
	s.logAudit(ctx, string(models.EventIdentityBurned),
		"identity_id", identityID,
		"released_names", released,
		"actor", caller,
	)
	return nil
}

// RegisterName binds name to an existing identity in the active registry.
// The holder or the operator may register.
func (s *Service) RegisterName(ctx context.Context, caller id.Address, identityID id.IdentityID, name string, years int, metadataURI string) (*models.NameBinding, error) {
	if err := validateMetadataURI(metadataURI); err != nil {
		return nil, err
	}
	var binding *models.NameBinding
	err := s.mutate(ctx, "register_name", caller, func(txn kv.Txn, now time.Time) error {
		if err := s.guard.RequireHolderOrOperator(txn, caller, identityID); err != nil {
			return err
		}
		holder, err := s.identities.HolderOf(txn, identityID)
		if err != nil {
			return err
		}
		binding, err = s.register(txn, caller, identityID, holder, name, years, metadataURI, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, string(models.EventNameRegistered),
		"identity_id", identityID,
		"name", binding.Name,
		"expires_at", binding.ExpiresAt,
		"actor", caller,
	)
	return binding, nil
}

// ExtendName adds years to the active binding of identityID, counted from
// its current expiry. The holder or the operator may extend.
func (s *Service) ExtendName(ctx context.Context, caller id.Address, identityID id.IdentityID, years int) (*models.NameBinding, error) {
	var binding *models.NameBinding
	err := s.mutate(ctx, "extend_name", caller, func(txn kv.Txn, now time.Time) error {
		if err := s.guard.RequireHolderOrOperator(txn, caller, identityID); err != nil {
			return err
		}
		reg, err := s.activeRegistry(txn)
		if err != nil {
			return err
		}
		binding, err = reg.Extend(txn, identityID, years, now)
		if err != nil {
			return err
		}
		return s.appendEvent(txn, &models.Event{
			Type:       models.EventNameExtended,
			IdentityID: identityRef(identityID),
			Name:       binding.Name,
			ExpiresAt:  timeRef(binding.ExpiresAt),
			Actor:      caller,
			OccurredAt: now,
		})
	})
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, string(models.EventNameExtended),
		"identity_id", identityID,
		"name", binding.Name,
		"expires_at", binding.ExpiresAt,
		"actor", caller,
	)
	return binding, nil
}

// RenameName moves the active binding of identityID to newName. Holder only.
func (s *Service) RenameName(ctx context.Context, caller id.Address, identityID id.IdentityID, newName string) (*models.NameBinding, error) {
	var binding *models.NameBinding
	var previous string
	err := s.mutate(ctx, "rename_name", caller, func(txn kv.Txn, now time.Time) error {
		if err := s.guard.RequireHolder(txn, caller, identityID); err != nil {
			return err
		}
		reg, err := s.activeRegistry(txn)
		if err != nil {
			return err
		}
		binding, previous, err = reg.Rename(txn, identityID, newName, now)
		if err != nil {
			return err
		}
		return s.appendEvent(txn, &models.Event{
			Type:       models.EventNameRenamed,
			IdentityID: identityRef(identityID),
			Name:       binding.Name,
			Detail:     previous,
			ExpiresAt:  timeRef(binding.ExpiresAt),
			Actor:      caller,
			OccurredAt: now,
		})
	})
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, string(models.EventNameRenamed),
		"identity_id", identityID,
		"name", binding.Name,
		"previous_name", previous,
		"actor", caller,
	)
	return binding, nil
}

// SetMetadataURI replaces the metadata pointer of identityID's active
// binding. The holder or the operator may update it.
func (s *Service) SetMetadataURI(ctx context.Context, caller id.Address, identityID id.IdentityID, metadataURI string) (*models.NameBinding, error) {
	if err := validateMetadataURI(metadataURI); err != nil {
		return nil, err
	}
	var binding *models.NameBinding
	err := s.mutate(ctx, "set_metadata_uri", caller, func(txn kv.Txn, now time.Time) error {
		if err := s.guard.RequireHolderOrOperator(txn, caller, identityID); err != nil {
			return err
		}
		reg, err := s.activeRegistry(txn)
		if err != nil {
			return err
		}
		binding, err = reg.SetMetadataURI(txn, identityID, metadataURI, now)
		if err != nil {
			return err
		}
		return s.appendEvent(txn, &models.Event{
			Type:       models.EventMetadataUpdated,
			IdentityID: identityRef(identityID),
			Name:       binding.Name,
			Detail:     metadataURI,
			Actor:      caller,
			OccurredAt: now,
		})
	})
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, string(models.EventMetadataUpdated),
		"identity_id", identityID,
		"name", binding.Name,
		"actor", caller,
	)
	return binding, nil
}

// SetNameRegistry rebinds which configured registry is consulted for names.
// Bindings in the previous registry stay stored but are no longer resolved;
// burn still releases them. Operator only.
func (s *Service) SetNameRegistry(ctx context.Context, caller id.Address, namespace string) error {
	if _, ok := s.registries[namespace]; !ok {
		return dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("name registry %q is not configured", namespace))
	}
	var previous string
	err := s.mutate(ctx, "set_name_registry", caller, func(txn kv.Txn, now time.Time) error {
		if err := s.guard.RequireOperator(txn, caller); err != nil {
			return err
		}
		current, err := s.activeRegistry(txn)
		if err != nil {
			return err
		}
		previous = current.Namespace()
		if err := txn.Put(bindingKey, []byte(namespace)); err != nil {
			return err
		}
		return s.appendEvent(txn, &models.Event{
			Type:       models.EventNameRegistryRebound,
			Name:       namespace,
			Detail:     previous,
			Actor:      caller,
			OccurredAt: now,
		})
	})
	if err != nil {
		return err
	}
	s.logAudit(ctx, string(models.EventNameRegistryRebound),
		"name_registry", namespace,
		"previous_name_registry", previous,
		"actor", caller,
	)
	return nil
}

// TransferOperator hands the operator role to next. Operator only.
func (s *Service) TransferOperator(ctx context.Context, caller, next id.Address) error {
	err := s.mutate(ctx, "transfer_operator", caller, func(txn kv.Txn, now time.Time) error {
		if err := s.guard.Transfer(txn, caller, next); err != nil {
			return err
		}
		return s.appendEvent(txn, &models.Event{
			Type:       models.EventOperatorTransferred,
			Holder:     next,
			Detail:     next.String(),
			Actor:      caller,
			OccurredAt: now,
		})
	})
	if err != nil {
		return err
	}
	s.logAudit(ctx, string(models.EventOperatorTransferred),
		"operator", next,
		"actor", caller,
	)
	return nil
}

func (s *Service) mint(txn kv.Txn, caller, holder id.Address, now time.Time) (*models.Identity, error) {
	identity, err := s.identities.Mint(txn, holder, now)
	if err != nil {
		return nil, err
	}
	if err := s.appendEvent(txn, &models.Event{
		Type:       models.EventIdentityMinted,
		IdentityID: identityRef(identity.ID),
		Holder:     holder,
		Actor:      caller,
		OccurredAt: now,
	}); err != nil {
		return nil, err
	}
	return identity, nil
}

func (s *Service) register(txn kv.Txn, caller id.Address, identityID id.IdentityID, holder id.Address, name string, years int, metadataURI string, now time.Time) (*models.NameBinding, error) {
	reg, err := s.activeRegistry(txn)
	if err != nil {
		return nil, err
	}
	binding, err := reg.Register(txn, identityID, name, years, metadataURI, now)
	if err != nil {
		return nil, err
	}
	if err := s.appendEvent(txn, &models.Event{
		Type:       models.EventNameRegistered,
		IdentityID: identityRef(identityID),
		Holder:     holder,
		Name:       binding.Name,
		Detail:     reg.Namespace(),
		ExpiresAt:  timeRef(binding.ExpiresAt),
		Actor:      caller,
		OccurredAt: now,
	}); err != nil {
		return nil, err
	}
	return binding, nil
}
