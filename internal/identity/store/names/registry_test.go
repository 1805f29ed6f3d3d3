package soulnames

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"soulid/internal/identity/models"
	"soulid/internal/kv"
	id "soulid/pkg/domain"
	dErrors "soulid/pkg/domain-errors"
)

const arweaveLink = "ar://jK9sR4OrYvODj7PD3czIAyNJalub0-vdV_JAg1NqQ-o"

type RegistrySuite struct {
	suite.Suite
	kv  *kv.InMemory
	reg *Registry
	ctx context.Context
	now time.Time
}

func TestRegistrySuite(t *testing.T) {
	suite.Run(t, new(RegistrySuite))
}

func (s *RegistrySuite) SetupTest() {
	reg, err := New("soul", ".soul")
	s.Require().NoError(err)
	s.reg = reg
	s.kv = kv.NewInMemory()
	s.ctx = context.Background()
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func (s *RegistrySuite) register(identityID id.IdentityID, name string, years int) (*models.NameBinding, error) {
	var out *models.NameBinding
	err := s.kv.Update(s.ctx, func(txn kv.Txn) error {
		b, err := s.reg.Register(txn, identityID, name, years, arweaveLink, s.now)
		out = b
		return err
	})
	return out, err
}

func (s *RegistrySuite) update(fn func(txn kv.Txn) error) error {
	return s.kv.Update(s.ctx, fn)
}

func (s *RegistrySuite) available(name string, at time.Time) bool {
	var ok bool
	s.Require().NoError(s.kv.View(s.ctx, func(txn kv.Txn) error {
		var err error
		ok, err = s.reg.IsAvailable(txn, name, at)
		return err
	}))
	return ok
}

func (s *RegistrySuite) resolve(name string, at time.Time) (*models.NameBinding, error) {
	var out *models.NameBinding
	err := s.kv.View(s.ctx, func(txn kv.Txn) error {
		b, err := s.reg.Resolve(txn, name, at)
		out = b
		return err
	})
	return out, err
}

func (s *RegistrySuite) namesOf(identityID id.IdentityID, at time.Time) []string {
	var out []string
	s.Require().NoError(s.kv.View(s.ctx, func(txn kv.Txn) error {
		var err error
		out, err = s.reg.NamesOf(txn, identityID, at)
		return err
	}))
	return out
}

func (s *RegistrySuite) TestNew() {
	_, err := New("", ".soul")
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	_, err = New("a/b", ".soul")
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	_, err = New("soul", "soul")
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func (s *RegistrySuite) TestRegisterAndResolve() {
	b, err := s.register(0, "soulName1", 1)
	s.Require().NoError(err)
	s.Equal("soulname1", b.Name)
	s.Equal("soulName1", b.Display)
	s.Equal(s.now.AddDate(1, 0, 0), b.ExpiresAt)
	s.Equal(arweaveLink, b.MetadataURI)

	for _, variant := range []string{"soulName1", "soulname1", "SOULNAME1", "soulName1.soul", "SOULNAME1.SOUL"} {
		got, err := s.resolve(variant, s.now)
		s.Require().NoError(err, variant)
		s.Equal(id.IdentityID(0), got.IdentityID)
		s.Equal("soulName1.soul", s.reg.SuffixedName(got))
	}

	_, err = s.resolve("fakeName", s.now)
	s.ErrorIs(err, models.ErrNameNotFound)
}

func (s *RegistrySuite) TestAvailabilityIsCaseInsensitive() {
	s.True(s.available("Alice", s.now))
	s.True(s.available("alice", s.now))

	_, err := s.register(0, "Alice", 1)
	s.Require().NoError(err)

	for _, variant := range []string{"Alice", "alice", "ALICE", "aLiCe"} {
		s.False(s.available(variant, s.now), variant)
	}
	s.True(s.available("fakeName", s.now))
}

func (s *RegistrySuite) TestCaseVariantsShareOneKey() {
	tests := []struct {
		registered string
		variant    string
	}{
		{"\u13a0\u13a1", "\uab70\uab71"},
		{"\uab70\uab71", "\u13a0\u13a1"},
		{"Straße", "STRASSE"},
		{"ǅemal", "ǆEMAL"},
	}
	for _, tt := range tests {
		s.Run(tt.registered, func() {
			s.SetupTest()
			_, err := s.register(0, tt.registered, 1)
			s.Require().NoError(err)

			s.False(s.available(tt.variant, s.now))
			_, err = s.register(1, tt.variant, 1)
			s.ErrorIs(err, models.ErrNameAlreadyExists)

			b, err := s.resolve(tt.variant, s.now)
			s.Require().NoError(err)
			s.Equal(id.IdentityID(0), b.IdentityID)
		})
	}
}

func (s *RegistrySuite) TestIsAvailableRejectsInvalidNames() {
	for _, name := range []string{"a b", "x/y", "emoji😀", "  "} {
		err := s.kv.View(s.ctx, func(txn kv.Txn) error {
			ok, err := s.reg.IsAvailable(txn, name, s.now)
			s.False(ok, name)
			return err
		})
		s.Require().Error(err, name)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput), name)
	}
	s.True(s.available("alice.soul", s.now), "extension suffix is stripped before validation")
}

func (s *RegistrySuite) TestCollisions() {
	_, err := s.register(0, "alice", 1)
	s.Require().NoError(err)

	s.Run("same name for another identity", func() {
		_, err := s.register(1, "ALICE", 1)
		s.ErrorIs(err, models.ErrNameAlreadyExists)
	})

	s.Run("same name for the same identity", func() {
		_, err := s.register(0, "Alice", 2)
		s.ErrorIs(err, models.ErrNameAlreadyExists)
	})

	s.Run("second name for a named identity", func() {
		_, err := s.register(0, "bob", 1)
		s.ErrorIs(err, models.ErrIdentityAlreadyNamed)
		s.True(s.available("bob", s.now))
	})
}

func (s *RegistrySuite) TestValidation() {
	_, err := s.register(0, "alice.soul", 1)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	_, err = s.register(0, "alice", 0)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	_, err = s.register(0, "alice", MaxYears+1)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	s.Zero(s.kv.Len())
}

func (s *RegistrySuite) TestExpiry() {
	_, err := s.register(0, "alice", 1)
	s.Require().NoError(err)
	expiry := s.now.AddDate(1, 0, 0)

	s.Run("expired binding reads as absent", func() {
		s.False(s.available("alice", expiry.Add(-time.Second)))
		s.True(s.available("alice", expiry))

		_, err := s.resolve("alice", expiry)
		s.ErrorIs(err, models.ErrNameNotFound)
		s.Empty(s.namesOf(0, expiry))
	})

	s.Run("expired name is reclaimed by another identity", func() {
		err := s.update(func(txn kv.Txn) error {
			_, err := s.reg.Register(txn, 1, "Alice", 1, "", expiry)
			return err
		})
		s.Require().NoError(err)

		got, err := s.resolve("alice", expiry)
		s.Require().NoError(err)
		s.Equal(id.IdentityID(1), got.IdentityID)
		// The previous owner's index entry went with the reclaimed binding.
		s.Empty(s.namesOf(0, expiry))
	})

	s.Run("identity with an expired name may register a new one", func() {
		err := s.update(func(txn kv.Txn) error {
			_, err := s.reg.Register(txn, 0, "carol", 1, "", expiry)
			return err
		})
		s.Require().NoError(err)
		s.Equal([]string{"carol"}, s.namesOf(0, expiry))
	})
}

func (s *RegistrySuite) TestNamesOfReturnsCanonicalForm() {
	s.Empty(s.namesOf(0, s.now))
	_, err := s.register(0, "ALICE", 1)
	s.Require().NoError(err)
	s.Equal([]string{"alice"}, s.namesOf(0, s.now))
}

func (s *RegistrySuite) TestExtend() {
	_, err := s.register(0, "alice", 1)
	s.Require().NoError(err)
	expiry := s.now.AddDate(1, 0, 0)

	s.Run("adds to the current expiry", func() {
		var b *models.NameBinding
		err := s.update(func(txn kv.Txn) error {
			var err error
			b, err = s.reg.Extend(txn, 0, 2, s.now)
			return err
		})
		s.Require().NoError(err)
		s.Equal(expiry.AddDate(2, 0, 0), b.ExpiresAt)
	})

	s.Run("fails without an active binding", func() {
		err := s.update(func(txn kv.Txn) error {
			_, err := s.reg.Extend(txn, 7, 1, s.now)
			return err
		})
		s.ErrorIs(err, models.ErrNameNotFound)
	})

	s.Run("an expired binding cannot be extended", func() {
		late := expiry.AddDate(5, 0, 0)
		err := s.update(func(txn kv.Txn) error {
			_, err := s.reg.Extend(txn, 0, 1, late)
			return err
		})
		s.ErrorIs(err, models.ErrNameNotFound)
	})
}

func (s *RegistrySuite) TestRename() {
	_, err := s.register(0, "alice", 1)
	s.Require().NoError(err)
	_, err = s.register(1, "bob", 1)
	s.Require().NoError(err)

	s.Run("rejects a taken name", func() {
		err := s.update(func(txn kv.Txn) error {
			_, _, err := s.reg.Rename(txn, 0, "BOB", s.now)
			return err
		})
		s.ErrorIs(err, models.ErrNameAlreadyExists)
	})

	s.Run("moves the binding and frees the old name", func() {
		var b *models.NameBinding
		var previous string
		err := s.update(func(txn kv.Txn) error {
			var err error
			b, previous, err = s.reg.Rename(txn, 0, "Alicia", s.now)
			return err
		})
		s.Require().NoError(err)
		s.Equal("alice", previous)
		s.Equal("alicia", b.Name)
		s.Equal(s.now.AddDate(1, 0, 0), b.ExpiresAt)
		s.Equal(arweaveLink, b.MetadataURI)
		s.True(s.available("alice", s.now))
		s.Equal([]string{"alicia"}, s.namesOf(0, s.now))
	})

	s.Run("case-only rename changes the display form", func() {
		var b *models.NameBinding
		err := s.update(func(txn kv.Txn) error {
			var err error
			b, _, err = s.reg.Rename(txn, 0, "ALICIA", s.now)
			return err
		})
		s.Require().NoError(err)
		s.Equal("ALICIA.soul", s.reg.SuffixedName(b))
		s.Equal([]string{"alicia"}, s.namesOf(0, s.now))
	})
}

func (s *RegistrySuite) TestSetMetadataURI() {
	_, err := s.register(0, "alice", 1)
	s.Require().NoError(err)

	err = s.update(func(txn kv.Txn) error {
		_, err := s.reg.SetMetadataURI(txn, 0, "ipfs://new", s.now)
		return err
	})
	s.Require().NoError(err)

	b, err := s.resolve("alice", s.now)
	s.Require().NoError(err)
	s.Equal("ipfs://new", b.MetadataURI)
}

func (s *RegistrySuite) TestReleaseByIdentity() {
	_, err := s.register(0, "alice", 1)
	s.Require().NoError(err)

	var released *models.NameBinding
	err = s.update(func(txn kv.Txn) error {
		var err error
		released, err = s.reg.ReleaseByIdentity(txn, 0)
		return err
	})
	s.Require().NoError(err)
	s.Require().NotNil(released)
	s.Equal("alice", released.Name)
	s.True(s.available("alice", s.now))
	s.Zero(s.kv.Len())

	err = s.update(func(txn kv.Txn) error {
		released, err = s.reg.ReleaseByIdentity(txn, 0)
		return err
	})
	s.Require().NoError(err)
	s.Nil(released)
}

func (s *RegistrySuite) TestNamespacesAreIsolated() {
	other, err := New("id", ".id")
	s.Require().NoError(err)

	_, err = s.register(0, "alice", 1)
	s.Require().NoError(err)

	s.Require().NoError(s.kv.View(s.ctx, func(txn kv.Txn) error {
		ok, err := other.IsAvailable(txn, "alice", s.now)
		s.Require().NoError(err)
		s.True(ok)
		return nil
	}))
}
