package domain

import (
	dErrors "soulid/pkg/domain-errors"
)

// APIVersion is the path prefix an HTTP route family is served under.
type APIVersion string

const APIVersionV1 APIVersion = "v1"

var supportedVersions = []APIVersion{APIVersionV1}

// ParseAPIVersion accepts only supported versions.
func ParseAPIVersion(s string) (APIVersion, error) {
	for _, v := range supportedVersions {
		if string(v) == s {
			return v, nil
		}
	}
	return "", dErrors.New(dErrors.CodeInvalidInput, "unknown API version: "+s)
}

func (v APIVersion) String() string {
	return string(v)
}

// Prefix returns the mount path, e.g. "/v1".
func (v APIVersion) Prefix() string {
	return "/" + string(v)
}

// SupportedVersions returns every version the server mounts.
func SupportedVersions() []APIVersion {
	return append([]APIVersion(nil), supportedVersions...)
}
