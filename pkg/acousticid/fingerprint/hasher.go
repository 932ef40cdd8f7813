package fingerprint

import (
	"crypto"
	_ "crypto/sha1" // registers crypto.SHA1
	"encoding/binary"
	"fmt"
	"strconv"

	"github.com/OneOfOne/xxhash"
)

// Scheme identifies a hash function. The scheme is part of the stored corpus:
// fingerprints produced under one scheme never match another.
type Scheme int

const (
	// SchemeSHA1 takes the first four bytes of SHA-1("f1:f2:delta") as a
	// big-endian int32 and keeps its absolute value.
	SchemeSHA1 Scheme = 1
	// SchemeXXH32 is xxHash32 of the same text. It is the fallback when no
	// SHA-1 implementation is linked in.
	SchemeXXH32 Scheme = 2
)

func (s Scheme) String() string {
	switch s {
	case SchemeSHA1:
		return "sha1-v1"
	case SchemeXXH32:
		return "xxh32-v2"
	default:
		return "unknown-" + strconv.Itoa(int(s))
	}
}

// ParseScheme accepts the names produced by Scheme.String.
func ParseScheme(name string) (Scheme, error) {
	switch name {
	case "sha1-v1", "sha1":
		return SchemeSHA1, nil
	case "xxh32-v2", "xxh32":
		return SchemeXXH32, nil
	}
	return 0, fmt.Errorf("unknown hash scheme %q", name)
}

// Hasher maps (anchor bin, target bin, delta ms) to a 32-bit hash.
type Hasher struct {
	scheme Scheme
}

// NewHasher returns a hasher for the requested scheme. SchemeSHA1 degrades to
// SchemeXXH32 only when the digest is unavailable; callers can inspect
// Scheme() to record what was actually used.
func NewHasher(requested Scheme) (*Hasher, error) {
	switch requested {
	case SchemeSHA1:
		if !crypto.SHA1.Available() {
			return &Hasher{scheme: SchemeXXH32}, nil
		}
		return &Hasher{scheme: SchemeSHA1}, nil
	case SchemeXXH32:
		return &Hasher{scheme: SchemeXXH32}, nil
	}
	return nil, fmt.Errorf("unsupported hash scheme %d", int(requested))
}

// Scheme returns the scheme in effect.
func (h *Hasher) Scheme() Scheme { return h.scheme }

// Hash is a pure function of its three inputs.
func (h *Hasher) Hash(anchorBin, targetBin, deltaMs int) uint32 {
	key := hashKey(anchorBin, targetBin, deltaMs)
	if h.scheme == SchemeXXH32 {
		return xxhash.Checksum32(key)
	}
	return sha1Hash(key)
}

func hashKey(anchorBin, targetBin, deltaMs int) []byte {
	b := make([]byte, 0, 16)
	b = strconv.AppendInt(b, int64(anchorBin), 10)
	b = append(b, ':')
	b = strconv.AppendInt(b, int64(targetBin), 10)
	b = append(b, ':')
	b = strconv.AppendInt(b, int64(deltaMs), 10)
	return b
}

func sha1Hash(key []byte) uint32 {
	d := crypto.SHA1.New()
	d.Write(key)
	sum := d.Sum(nil)
	v := int32(binary.BigEndian.Uint32(sum[:4]))
	if v < 0 {
		// -MinInt32 wraps to itself, leaving 0x80000000.
		v = -v
	}
	return uint32(v)
}
