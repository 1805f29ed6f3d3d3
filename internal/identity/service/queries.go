package service

import (
	"context"
	"maps"
	"slices"
	"time"

	"soulid/internal/identity/models"
	soulnames "soulid/internal/identity/store/names"
	"soulid/internal/kv"
	id "soulid/pkg/domain"
)

// IsAvailable reports whether name is free in the active registry.
func (s *Service) IsAvailable(ctx context.Context, name string) (bool, error) {
	var ok bool
	err := s.view(ctx, "is_available", func(r kv.Reader, now time.Time) error {
		reg, err := s.activeRegistry(r)
		if err != nil {
			return err
		}
		ok, err = reg.IsAvailable(r, name, now)
		return err
	})
	return ok, err
}

// Identity returns the identity record for identityID.
func (s *Service) Identity(ctx context.Context, identityID id.IdentityID) (*models.Identity, error) {
	var out *models.Identity
	err := s.view(ctx, "identity", func(r kv.Reader, _ time.Time) error {
		var err error
		out, err = s.identities.Get(r, identityID)
		return err
	})
	return out, err
}

// IdentityOf returns the identity held by holder.
func (s *Service) IdentityOf(ctx context.Context, holder id.Address) (*models.Identity, error) {
	var out *models.Identity
	err := s.view(ctx, "identity_of", func(r kv.Reader, _ time.Time) error {
		identityID, err := s.identities.IdentityOf(r, holder)
		if err != nil {
			return err
		}
		out, err = s.identities.Get(r, identityID)
		return err
	})
	return out, err
}

// HolderOf returns the holder of identityID.
func (s *Service) HolderOf(ctx context.Context, identityID id.IdentityID) (id.Address, error) {
	var out id.Address
	err := s.view(ctx, "holder_of", func(r kv.Reader, _ time.Time) error {
		var err error
		out, err = s.identities.HolderOf(r, identityID)
		return err
	})
	return out, err
}

// OwnerOfName returns the holder of the identity name resolves to.
func (s *Service) OwnerOfName(ctx context.Context, name string) (id.Address, error) {
	var out id.Address
	err := s.view(ctx, "owner_of_name", func(r kv.Reader, now time.Time) error {
		_, binding, err := s.resolve(r, name, now)
		if err != nil {
			return err
		}
		out, err = s.identities.HolderOf(r, binding.IdentityID)
		return err
	})
	return out, err
}

// ResolveName returns the token data behind name: the suffixed display name,
// the identity, its holder, expiry and metadata pointer.
func (s *Service) ResolveName(ctx context.Context, name string) (*models.TokenData, error) {
	var out *models.TokenData
	err := s.view(ctx, "resolve_name", func(r kv.Reader, now time.Time) error {
		reg, binding, err := s.resolve(r, name, now)
		if err != nil {
			return err
		}
		holder, err := s.identities.HolderOf(r, binding.IdentityID)
		if err != nil {
			return err
		}
		out = &models.TokenData{
			Name:        reg.SuffixedName(binding),
			IdentityID:  binding.IdentityID,
			Holder:      holder,
			ExpiresAt:   binding.ExpiresAt,
			Active:      binding.ActiveAt(now),
			MetadataURI: binding.MetadataURI,
		}
		return nil
	})
	return out, err
}

// NamesOfIdentity returns the canonical names identityID holds in the active
// registry: zero or one, lowercase.
func (s *Service) NamesOfIdentity(ctx context.Context, identityID id.IdentityID) ([]string, error) {
	var out []string
	err := s.view(ctx, "names_of_identity", func(r kv.Reader, now time.Time) error {
		if _, err := s.identities.Get(r, identityID); err != nil {
			return err
		}
		var err error
		out, err = s.namesOf(r, identityID, now)
		return err
	})
	return out, err
}

// NamesOfHolder resolves holder to its identity and returns its names.
func (s *Service) NamesOfHolder(ctx context.Context, holder id.Address) ([]string, error) {
	var out []string
	err := s.view(ctx, "names_of_holder", func(r kv.Reader, now time.Time) error {
		identityID, err := s.identities.IdentityOf(r, holder)
		if err != nil {
			return err
		}
		out, err = s.namesOf(r, identityID, now)
		return err
	})
	return out, err
}

// URIForID returns the metadata URI of a live identity.
func (s *Service) URIForID(ctx context.Context, identityID id.IdentityID) (string, error) {
	var out string
	err := s.view(ctx, "uri_for_id", func(r kv.Reader, _ time.Time) error {
		if _, err := s.identities.Get(r, identityID); err != nil {
			return err
		}
		out = s.resolver.ForID(identityID)
		return nil
	})
	return out, err
}

// URIForName returns the metadata URI of the identity name resolves to.
func (s *Service) URIForName(ctx context.Context, name string) (string, error) {
	var out string
	err := s.view(ctx, "uri_for_name", func(r kv.Reader, now time.Time) error {
		_, binding, err := s.resolve(r, name, now)
		if err != nil {
			return err
		}
		out = s.resolver.ForID(binding.IdentityID)
		return nil
	})
	return out, err
}

// URIForHolder returns the metadata URI of the identity holder holds.
func (s *Service) URIForHolder(ctx context.Context, holder id.Address) (string, error) {
	var out string
	err := s.view(ctx, "uri_for_holder", func(r kv.Reader, _ time.Time) error {
		identityID, err := s.identities.IdentityOf(r, holder)
		if err != nil {
			return err
		}
		out = s.resolver.ForID(identityID)
		return nil
	})
	return out, err
}

// Count returns the number of live identities.
func (s *Service) Count(ctx context.Context) (uint64, error) {
	var out uint64
	err := s.view(ctx, "count", func(r kv.Reader, _ time.Time) error {
		var err error
		out, err = s.identities.Count(r)
		return err
	})
	return out, err
}

// TokenByIndex returns the live identity at enumeration position index.
// Positions are dense; order follows minting until the first burn.
func (s *Service) TokenByIndex(ctx context.Context, index uint64) (id.IdentityID, error) {
	var out id.IdentityID
	err := s.view(ctx, "token_by_index", func(r kv.Reader, _ time.Time) error {
		var err error
		out, err = s.identities.TokenByIndex(r, index)
		return err
	})
	return out, err
}

// BalanceOf returns 1 if holder has an identity and 0 otherwise.
func (s *Service) BalanceOf(ctx context.Context, holder id.Address) (uint64, error) {
	var out uint64
	err := s.view(ctx, "balance_of", func(r kv.Reader, _ time.Time) error {
		var err error
		out, err = s.identities.BalanceOf(r, holder)
		return err
	})
	return out, err
}

// Extension returns the display suffix of the active registry.
func (s *Service) Extension(ctx context.Context) (string, error) {
	var out string
	err := s.view(ctx, "extension", func(r kv.Reader, _ time.Time) error {
		reg, err := s.activeRegistry(r)
		if err != nil {
			return err
		}
		out = reg.Extension()
		return nil
	})
	return out, err
}

// Info describes the collection.
func (s *Service) Info(ctx context.Context) (*models.CollectionInfo, error) {
	var out *models.CollectionInfo
	err := s.view(ctx, "info", func(r kv.Reader, _ time.Time) error {
		reg, err := s.activeRegistry(r)
		if err != nil {
			return err
		}
		operator, err := s.guard.Operator(r)
		if err != nil {
			return err
		}
		count, err := s.identities.Count(r)
		if err != nil {
			return err
		}
		out = &models.CollectionInfo{
			Name:         s.collectionName,
			Symbol:       s.symbol,
			Extension:    reg.Extension(),
			NameRegistry: reg.Namespace(),
			Operator:     operator,
			TotalSupply:  count,
		}
		return nil
	})
	return out, err
}

// Events returns up to limit log entries with sequence numbers above after.
func (s *Service) Events(ctx context.Context, after uint64, limit int) ([]*models.Event, error) {
	var out []*models.Event
	err := s.view(ctx, "events", func(r kv.Reader, _ time.Time) error {
		var err error
		out, err = s.events.List(r, after, limit)
		return err
	})
	return out, err
}

func (s *Service) resolve(r kv.Reader, name string, now time.Time) (*soulnames.Registry, *models.NameBinding, error) {
	reg, err := s.activeRegistry(r)
	if err != nil {
		return nil, nil, err
	}
	binding, err := reg.Resolve(r, name, now)
	if err != nil {
		return nil, nil, err
	}
	return reg, binding, nil
}

func (s *Service) namesOf(r kv.Reader, identityID id.IdentityID, now time.Time) ([]string, error) {
	reg, err := s.activeRegistry(r)
	if err != nil {
		return nil, err
	}
	return reg.NamesOf(r, identityID, now)
}

func (s *Service) sortedRegistries() []*soulnames.Registry {
	out := make([]*soulnames.Registry, 0, len(s.registries))
	for _, namespace := range slices.Sorted(maps.Keys(s.registries)) {
		out = append(out, s.registries[namespace])
	}
	return out
}
