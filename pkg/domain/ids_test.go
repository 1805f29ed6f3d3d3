package domain

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "soulid/pkg/domain-errors"
)

// TestParseIdentityID_Invariants validates the parsing invariant:
// "identity ids are non-negative decimal integers that fit in 64 bits".
func TestParseIdentityID_Invariants(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    IdentityID
		wantErr bool
	}{
		{"zero is a valid id", "0", 0, false},
		{"plain number", "42", 42, false},
		{"max uint64", "18446744073709551615", IdentityID(^uint64(0)), false},
		{"empty string", "", 0, true},
		{"negative", "-1", 0, true},
		{"overflow", "18446744073709551616", 0, true},
		{"hex", "0x10", 0, true},
		{"whitespace", " 1", 0, true},
		{"oversized input", strings.Repeat("1", 1000), 0, true},
		{"SQL injection attempt", "1; DROP TABLE kv_entries;--", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseIdentityID(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.input, got.String())
		})
	}
}

func TestParseAddress_Canonicalizes(t *testing.T) {
	t.Run("lowercases mixed case input", func(t *testing.T) {
		addr, err := ParseAddress("0xAbCdEf0123456789aBcDeF0123456789ABCDEF01")
		require.NoError(t, err)
		assert.Equal(t, Address("0xabcdef0123456789abcdef0123456789abcdef01"), addr)
	})

	t.Run("accepts upper case prefix", func(t *testing.T) {
		addr, err := ParseAddress("0X00000000000000000000000000000000000000aa")
		require.NoError(t, err)
		assert.Equal(t, "0x00000000000000000000000000000000000000aa", addr.String())
	})

	t.Run("trims surrounding whitespace", func(t *testing.T) {
		addr, err := ParseAddress("  0x00000000000000000000000000000000000000aa\n")
		require.NoError(t, err)
		assert.False(t, addr.IsZero())
	})
}

func TestParseAddress_RejectsMalformedInput(t *testing.T) {
	inputs := map[string]string{
		"empty":            "",
		"missing prefix":   "00000000000000000000000000000000000000aa",
		"too short":        "0x1234",
		"too long":         "0x" + strings.Repeat("a", 41),
		"non hex":          "0x" + strings.Repeat("g", 40),
		"null byte":        "0x" + strings.Repeat("a", 39) + "\x00",
		"path traversal":   "../../../etc/passwd",
		"zero width space": "0x" + strings.Repeat("a", 20) + "\u200B" + strings.Repeat("a", 19),
		"whitespace only":  "   ",
	}
	for name, input := range inputs {
		t.Run(name, func(t *testing.T) {
			_, err := ParseAddress(input)
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
		})
	}
}

func TestParseEventID(t *testing.T) {
	t.Run("rejects nil UUID", func(t *testing.T) {
		_, err := ParseEventID(uuid.Nil.String())
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("text round trip", func(t *testing.T) {
		original := NewEventID()
		text, err := original.MarshalText()
		require.NoError(t, err)

		var decoded EventID
		require.NoError(t, decoded.UnmarshalText(text))
		assert.Equal(t, original, decoded)
		assert.False(t, decoded.IsNil())
	})
}
