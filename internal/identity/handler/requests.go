package handler

import (
	"strings"

	"soulid/internal/identity/names"
	id "soulid/pkg/domain"
	dErrors "soulid/pkg/domain-errors"
)

// MintRequest mints an identity, and binds a name to it when Name is set.
type MintRequest struct {
	Holder      string `json:"holder"`
	Name        string `json:"name,omitempty"`
	Years       int    `json:"years,omitempty"`
	MetadataURI string `json:"metadata_uri,omitempty"`

	holder id.Address
}

func (r *MintRequest) Normalize() {
	r.Holder = strings.TrimSpace(r.Holder)
	r.Name = strings.TrimSpace(r.Name)
	r.MetadataURI = strings.TrimSpace(r.MetadataURI)
}

func (r *MintRequest) Validate() error {
	holder, err := id.ParseAddress(r.Holder)
	if err != nil {
		return err
	}
	r.holder = holder
	if r.Name == "" {
		if r.Years != 0 || r.MetadataURI != "" {
			return dErrors.New(dErrors.CodeInvalidInput, "years and metadata_uri require a name")
		}
		return nil
	}
	return names.Validate(r.Name)
}

// RegisterNameRequest binds a name to an existing identity.
type RegisterNameRequest struct {
	Name        string `json:"name"`
	Years       int    `json:"years"`
	MetadataURI string `json:"metadata_uri,omitempty"`
}

func (r *RegisterNameRequest) Normalize() {
	r.Name = strings.TrimSpace(r.Name)
	r.MetadataURI = strings.TrimSpace(r.MetadataURI)
}

func (r *RegisterNameRequest) Validate() error {
	return names.Validate(r.Name)
}

// ExtendNameRequest adds years to an identity's active name.
type ExtendNameRequest struct {
	Years int `json:"years"`
}

func (r *ExtendNameRequest) Normalize() {}

func (r *ExtendNameRequest) Validate() error {
	if r.Years <= 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "years must be positive")
	}
	return nil
}

// RenameRequest moves an identity's active name.
type RenameRequest struct {
	Name string `json:"name"`
}

func (r *RenameRequest) Normalize() {
	r.Name = strings.TrimSpace(r.Name)
}

func (r *RenameRequest) Validate() error {
	return names.Validate(r.Name)
}

// MetadataRequest replaces the metadata pointer of an active name. An empty
// URI clears it.
type MetadataRequest struct {
	MetadataURI string `json:"metadata_uri"`
}

func (r *MetadataRequest) Normalize() {
	r.MetadataURI = strings.TrimSpace(r.MetadataURI)
}

func (r *MetadataRequest) Validate() error { return nil }

// NameRegistryRequest rebinds the consulted name registry.
type NameRegistryRequest struct {
	Namespace string `json:"namespace"`
}

func (r *NameRegistryRequest) Normalize() {
	r.Namespace = strings.TrimSpace(r.Namespace)
}

func (r *NameRegistryRequest) Validate() error {
	if r.Namespace == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "namespace is required")
	}
	return nil
}

// OperatorRequest hands the operator role to another address.
type OperatorRequest struct {
	Operator string `json:"operator"`

	operator id.Address
}

func (r *OperatorRequest) Normalize() {
	r.Operator = strings.TrimSpace(r.Operator)
}

func (r *OperatorRequest) Validate() error {
	operator, err := id.ParseAddress(r.Operator)
	if err != nil {
		return err
	}
	r.operator = operator
	return nil
}
