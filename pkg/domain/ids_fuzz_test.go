package domain

import (
	"testing"
)

// FuzzParseAddress checks that parsing never panics and that every accepted
// address is already canonical.
func FuzzParseAddress(f *testing.F) {
	f.Add("")
	f.Add("0x00000000000000000000000000000000000000aa")
	f.Add("0xAbCdEf0123456789aBcDeF0123456789ABCDEF01")
	f.Add("0x")
	f.Add("'; DROP TABLE kv_entries;--")
	f.Add(string([]byte{0x00, 0x01, 0x02}))

	f.Fuzz(func(t *testing.T, input string) {
		addr, err := ParseAddress(input)
		if err != nil {
			return
		}
		again, err := ParseAddress(addr.String())
		if err != nil {
			t.Fatalf("canonical address failed to parse: %v", err)
		}
		if again != addr {
			t.Fatalf("canonical form is not stable: %q != %q", again, addr)
		}
	})
}

// FuzzParseIdentityID checks that accepted ids round-trip through String.
func FuzzParseIdentityID(f *testing.F) {
	f.Add("0")
	f.Add("18446744073709551615")
	f.Add("-1")
	f.Add("")

	f.Fuzz(func(t *testing.T, input string) {
		id, err := ParseIdentityID(input)
		if err != nil {
			return
		}
		again, err := ParseIdentityID(id.String())
		if err != nil || again != id {
			t.Fatalf("id %q failed round-trip", input)
		}
	})
}
