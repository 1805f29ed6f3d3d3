package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "soulid/pkg/domain-errors"
)

func TestParseAPIVersion(t *testing.T) {
	v, err := ParseAPIVersion("v1")
	require.NoError(t, err)
	assert.Equal(t, APIVersionV1, v)
	assert.Equal(t, "/v1", v.Prefix())

	_, err = ParseAPIVersion("v2")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func TestSupportedVersionsIsACopy(t *testing.T) {
	versions := SupportedVersions()
	versions[0] = "v9"
	assert.Equal(t, []APIVersion{APIVersionV1}, SupportedVersions())
}
