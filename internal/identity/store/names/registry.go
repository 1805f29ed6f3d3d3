// Package soulnames binds case-folded names to identities.
//
// Each Registry owns one namespace of keys in the substrate:
//
//	<namespace>/name/<canonical>   JSON models.NameBinding
//	<namespace>/owner/<id>         canonical name held by id
//
// The owner index makes "does this identity already have a name" and the
// burn cascade single lookups. Expired bindings stay in storage until the
// next registration or rename touching the same name or identity reclaims
// them; every read treats them as absent.
package soulnames

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"soulid/internal/identity/models"
	"soulid/internal/identity/names"
	"soulid/internal/kv"
	id "soulid/pkg/domain"
	dErrors "soulid/pkg/domain-errors"
	"soulid/pkg/platform/sentinel"
)

// MaxYears caps a single registration or extension.
const MaxYears = 100

// Registry is one name namespace with a fixed display extension.
type Registry struct {
	namespace string
	extension string
}

// New constructs a Registry. extension is appended to display names at read
// time and never stored.
func New(namespace, extension string) (*Registry, error) {
	namespace = strings.TrimSpace(namespace)
	if namespace == "" || strings.Contains(namespace, "/") {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "name registry namespace must be non-empty and contain no '/'")
	}
	if !strings.HasPrefix(extension, ".") || len(extension) < 2 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "name registry extension must start with '.'")
	}
	return &Registry{namespace: namespace, extension: extension}, nil
}

// Namespace returns the registry's key namespace.
func (r *Registry) Namespace() string { return r.namespace }

// Extension returns the display suffix, e.g. ".soul".
func (r *Registry) Extension() string { return r.extension }

// SuffixedName returns the display name with the extension appended.
func (r *Registry) SuffixedName(b *models.NameBinding) string {
	return b.Display + r.extension
}

func (r *Registry) nameKey(canonical string) string {
	return "names/" + r.namespace + "/name/" + canonical
}

func (r *Registry) ownerKey(identityID id.IdentityID) string {
	return "names/" + r.namespace + "/owner/" + identityID.String()
}

// canonical folds name for lookup. A trailing extension is ignored so
// "Alice.soul" and "alice" find the same binding.
func (r *Registry) canonical(name string) string {
	trimmed := strings.TrimSpace(name)
	if len(trimmed) > len(r.extension) && strings.EqualFold(trimmed[len(trimmed)-len(r.extension):], r.extension) {
		trimmed = trimmed[:len(trimmed)-len(r.extension)]
	}
	return names.Normalize(trimmed)
}

func (r *Registry) load(rd kv.Reader, canonical string) (*models.NameBinding, error) {
	var b models.NameBinding
	if err := kv.GetJSON(rd, r.nameKey(canonical), &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *Registry) loadByOwner(rd kv.Reader, identityID id.IdentityID) (*models.NameBinding, error) {
	canonical, err := kv.GetString(rd, r.ownerKey(identityID))
	if err != nil {
		return nil, err
	}
	b, err := r.load(rd, canonical)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, fmt.Errorf("owner index of %s points at missing name %q: %w", identityID, canonical, sentinel.ErrInvalidState)
	}
	return b, err
}

// IsAvailable reports whether no active binding exists for name. Names that
// Register would reject fail with CodeInvalidInput.
func (r *Registry) IsAvailable(rd kv.Reader, name string, now time.Time) (bool, error) {
	canonical := r.canonical(name)
	if err := names.Validate(canonical); err != nil {
		return false, err
	}
	b, err := r.load(rd, canonical)
	if errors.Is(err, sentinel.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return !b.ActiveAt(now), nil
}

// Register binds name to identityID for years. It fails with
// models.ErrNameAlreadyExists when any identity, including identityID,
// holds name actively, and with models.ErrIdentityAlreadyNamed when
// identityID already holds another active name.
func (r *Registry) Register(txn kv.Txn, identityID id.IdentityID, name string, years int, metadataURI string, now time.Time) (*models.NameBinding, error) {
	if err := names.Validate(name); err != nil {
		return nil, err
	}
	if err := validateYears(years); err != nil {
		return nil, err
	}
	canonical := names.Normalize(name)

	if err := r.claimName(txn, canonical, now); err != nil {
		return nil, err
	}
	if err := r.claimOwner(txn, identityID, now); err != nil {
		return nil, err
	}

	b := &models.NameBinding{
		Name:        canonical,
		Display:     names.Display(name),
		IdentityID:  identityID,
		ExpiresAt:   now.AddDate(years, 0, 0),
		MetadataURI: metadataURI,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := r.write(txn, b); err != nil {
		return nil, err
	}
	return b, nil
}

// Resolve returns the active binding for name or models.ErrNameNotFound.
func (r *Registry) Resolve(rd kv.Reader, name string, now time.Time) (*models.NameBinding, error) {
	canonical := r.canonical(name)
	if canonical == "" {
		return nil, models.ErrNameNotFound
	}
	b, err := r.load(rd, canonical)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, models.ErrNameNotFound
	}
	if err != nil {
		return nil, err
	}
	if !b.ActiveAt(now) {
		return nil, models.ErrNameNotFound
	}
	return b, nil
}

// BindingOf returns identityID's active binding or models.ErrNameNotFound.
func (r *Registry) BindingOf(rd kv.Reader, identityID id.IdentityID, now time.Time) (*models.NameBinding, error) {
	b, err := r.loadByOwner(rd, identityID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, models.ErrNameNotFound
	}
	if err != nil {
		return nil, err
	}
	if !b.ActiveAt(now) {
		return nil, models.ErrNameNotFound
	}
	return b, nil
}

// NamesOf returns the canonical names identityID holds actively: zero or one.
func (r *Registry) NamesOf(rd kv.Reader, identityID id.IdentityID, now time.Time) ([]string, error) {
	b, err := r.BindingOf(rd, identityID, now)
	if errors.Is(err, models.ErrNameNotFound) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	return []string{b.Name}, nil
}

// Extend pushes the expiry of identityID's active binding out by years,
// counted from the later of now and the current expiry.
func (r *Registry) Extend(txn kv.Txn, identityID id.IdentityID, years int, now time.Time) (*models.NameBinding, error) {
	if err := validateYears(years); err != nil {
		return nil, err
	}
	b, err := r.BindingOf(txn, identityID, now)
	if err != nil {
		return nil, err
	}
	from := b.ExpiresAt
	if now.After(from) {
		from = now
	}
	b.ExpiresAt = from.AddDate(years, 0, 0)
	b.UpdatedAt = now
	if err := kv.PutJSON(txn, r.nameKey(b.Name), b); err != nil {
		return nil, err
	}
	return b, nil
}

// Rename moves identityID's active binding to newName, keeping its expiry
// and metadata. A new name that folds to the current one only changes the
// display casing. It returns the updated binding and the previous canonical
// name.
func (r *Registry) Rename(txn kv.Txn, identityID id.IdentityID, newName string, now time.Time) (*models.NameBinding, string, error) {
	if err := names.Validate(newName); err != nil {
		return nil, "", err
	}
	b, err := r.BindingOf(txn, identityID, now)
	if err != nil {
		return nil, "", err
	}
	previous := b.Name
	canonical := names.Normalize(newName)

	if canonical != previous {
		if err := r.claimName(txn, canonical, now); err != nil {
			return nil, "", err
		}
		if err := txn.Delete(r.nameKey(previous)); err != nil {
			return nil, "", err
		}
	}
	b.Name = canonical
	b.Display = names.Display(newName)
	b.UpdatedAt = now
	if err := r.write(txn, b); err != nil {
		return nil, "", err
	}
	return b, previous, nil
}

// SetMetadataURI replaces the metadata pointer of identityID's active binding.
func (r *Registry) SetMetadataURI(txn kv.Txn, identityID id.IdentityID, metadataURI string, now time.Time) (*models.NameBinding, error) {
	b, err := r.BindingOf(txn, identityID, now)
	if err != nil {
		return nil, err
	}
	b.MetadataURI = metadataURI
	b.UpdatedAt = now
	if err := kv.PutJSON(txn, r.nameKey(b.Name), b); err != nil {
		return nil, err
	}
	return b, nil
}

// ReleaseByIdentity deletes whatever binding identityID has, active or
// expired. It returns the released binding, or nil when there was none.
func (r *Registry) ReleaseByIdentity(txn kv.Txn, identityID id.IdentityID) (*models.NameBinding, error) {
	b, err := r.loadByOwner(txn, identityID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := r.remove(txn, b); err != nil {
		return nil, err
	}
	return b, nil
}

// claimName fails if canonical is actively bound and reclaims it if the
// binding has expired.
func (r *Registry) claimName(txn kv.Txn, canonical string, now time.Time) error {
	existing, err := r.load(txn, canonical)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if existing.ActiveAt(now) {
		return models.ErrNameAlreadyExists
	}
	return r.remove(txn, existing)
}

// claimOwner fails if identityID actively holds a name and reclaims its
// expired binding otherwise.
func (r *Registry) claimOwner(txn kv.Txn, identityID id.IdentityID, now time.Time) error {
	existing, err := r.loadByOwner(txn, identityID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if existing.ActiveAt(now) {
		return models.ErrIdentityAlreadyNamed
	}
	return r.remove(txn, existing)
}

func (r *Registry) write(txn kv.Txn, b *models.NameBinding) error {
	if err := kv.PutJSON(txn, r.nameKey(b.Name), b); err != nil {
		return err
	}
	return txn.Put(r.ownerKey(b.IdentityID), []byte(b.Name))
}

// remove deletes b and its owner entry. The owner entry is only deleted while
// it still points at b.
func (r *Registry) remove(txn kv.Txn, b *models.NameBinding) error {
	if err := txn.Delete(r.nameKey(b.Name)); err != nil {
		return err
	}
	owned, err := kv.GetString(txn, r.ownerKey(b.IdentityID))
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if owned != b.Name {
		return nil
	}
	return txn.Delete(r.ownerKey(b.IdentityID))
}

func validateYears(years int) error {
	if years < 1 || years > MaxYears {
		return dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("duration must be between 1 and %d years", MaxYears))
	}
	return nil
}
