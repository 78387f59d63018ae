package modes

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsICAO24Addr(t *testing.T) {
	tests := []struct {
		name string
		addr string
		want bool
	}{
		{"valid_lower", "4b1805", true},
		{"valid_upper", "AE01FF", true},
		{"valid_mixed", "4b18F5", true},
		{"too_short", "4b180", false},
		{"too_long", "4b18055", false},
		{"non_hex", "4b18zz", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsICAO24Addr(tt.addr))
		})
	}
}

func TestLookupIsMilitary(t *testing.T) {
	lookup, err := NewLookup("")
	require.NoError(t, err)

	// 0xAE0000-0xAFFFFF is a US military block, 0x4B7000-0x4B7FFF Swiss military
	assert.True(t, lookup.IsMilitary("AE0123"))
	assert.True(t, lookup.IsMilitary("ae0123"))
	assert.True(t, lookup.IsMilitary("4B7A00"))
	assert.False(t, lookup.IsMilitary("4B1805")) // Swiss civilian
	assert.False(t, lookup.IsMilitary("4840D6")) // Dutch civilian
	assert.False(t, lookup.IsMilitary("zzzzzz"))
	assert.False(t, lookup.IsMilitary(""))
}

func TestLookupFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ranges.csv")
	require.NoError(t, os.WriteFile(path, []byte("4840D0;FFFFF0\n"), 0o644))

	lookup, err := NewLookup(path)
	require.NoError(t, err)

	assert.True(t, lookup.IsMilitary("4840D6"))
	assert.False(t, lookup.IsMilitary("4840C6"))
}

func TestLookupBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ranges.csv")
	require.NoError(t, os.WriteFile(path, []byte("nothex;FFFFF0\n"), 0o644))

	_, err := NewLookup(path)
	require.Error(t, err)

	_, err = NewLookup(filepath.Join(t.TempDir(), "missing.csv"))
	require.Error(t, err)
}

func TestIsSwiss(t *testing.T) {
	assert.True(t, IsSwiss("4B1805"))
	assert.True(t, IsSwiss("4b7000"))  // lower case hex, military sub-block
	assert.False(t, IsSwiss("4BA123")) // above the Swiss sub-block
	assert.False(t, IsSwiss("4840D6"))
	assert.False(t, IsSwiss("4B"))
}
