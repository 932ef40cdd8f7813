package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSHA1HashKnownValues(t *testing.T) {
	h, err := NewHasher(SchemeSHA1)
	require.NoError(t, err)
	require.Equal(t, SchemeSHA1, h.Scheme())

	tests := []struct {
		f1, f2, d int
		expected  uint32
	}{
		{10, 20, 30, 2005166429},  // 0x7784695d, already positive
		{100, 200, 50, 872635633}, // 0xcbfca30f, negated
		{42, 43, 0, 684262034},    // 0xd736fd6e, negated
	}

	for _, tt := range tests {
		got := h.Hash(tt.f1, tt.f2, tt.d)
		if got != tt.expected {
			t.Errorf("Hash(%d, %d, %d) = %d, expected %d", tt.f1, tt.f2, tt.d, got, tt.expected)
		}
	}
}

func TestHashPurity(t *testing.T) {
	for _, scheme := range []Scheme{SchemeSHA1, SchemeXXH32} {
		t.Run(scheme.String(), func(t *testing.T) {
			h, err := NewHasher(scheme)
			require.NoError(t, err)

			base := h.Hash(120, 240, 100)
			assert.Equal(t, base, h.Hash(120, 240, 100))

			other, err := NewHasher(scheme)
			require.NoError(t, err)
			assert.Equal(t, base, other.Hash(120, 240, 100), "hash must not depend on hasher state")

			assert.NotEqual(t, base, h.Hash(121, 240, 100))
			assert.NotEqual(t, base, h.Hash(120, 241, 100))
			assert.NotEqual(t, base, h.Hash(120, 240, 101))
			assert.NotEqual(t, base, h.Hash(240, 120, 100), "anchor and target are ordered")
		})
	}
}

func TestSchemesDiffer(t *testing.T) {
	sha, err := NewHasher(SchemeSHA1)
	require.NoError(t, err)
	xxh, err := NewHasher(SchemeXXH32)
	require.NoError(t, err)

	assert.NotEqual(t, sha.Hash(10, 20, 30), xxh.Hash(10, 20, 30))
}

func TestSHA1HashStaysInPositiveRange(t *testing.T) {
	h, err := NewHasher(SchemeSHA1)
	require.NoError(t, err)

	for f1 := 10; f1 < 60; f1++ {
		for d := 0; d <= 200; d += 25 {
			v := h.Hash(f1, f1+7, d)
			// abs() of int32 only reaches 0x80000000 for MinInt32 itself
			if v > 0x80000000 {
				t.Fatalf("Hash(%d, %d, %d) = %#x outside abs range", f1, f1+7, d, v)
			}
		}
	}
}

func TestNewHasherRejectsUnknownScheme(t *testing.T) {
	_, err := NewHasher(Scheme(9))
	assert.Error(t, err)
}

func TestParseScheme(t *testing.T) {
	tests := []struct {
		name     string
		expected Scheme
		wantErr  bool
	}{
		{"sha1-v1", SchemeSHA1, false},
		{"sha1", SchemeSHA1, false},
		{"xxh32-v2", SchemeXXH32, false},
		{"md5", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseScheme(tt.name)
		if tt.wantErr {
			assert.Error(t, err, tt.name)
			continue
		}
		require.NoError(t, err, tt.name)
		assert.Equal(t, tt.expected, got)
		assert.Equal(t, got, mustParse(t, got.String()))
	}
}

func mustParse(t *testing.T, name string) Scheme {
	t.Helper()
	s, err := ParseScheme(name)
	require.NoError(t, err)
	return s
}
