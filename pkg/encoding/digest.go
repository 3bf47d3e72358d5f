// Package encoding implements the content digest and the two canonical
// on-disk encodings ("legacy" length-prefixed and "flat" zero-copy table)
// used to serialize graph objects.
package encoding

import (
	"crypto/sha256"
	"encoding/base32"
	"encoding/hex"
	"hash"
	"io"

	"github.com/spfs-project/spfs/pkg/spfserrors"
)

// Size is the fixed width of a Digest, in bytes (256 bits).
const Size = sha256.Size

// base32Encoding is the printable alphabet for Digest.String: RFC 4648
// base32 without padding.
var base32Encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Digest is the fixed-width content hash of an object or payload.
type Digest [Size]byte

// Nil is the zero digest: used as the "no parent" sentinel in tag records
// and as the canonical digest of a Mask entry.
var Nil Digest

// IsNil reports whether d is the zero digest.
func (d Digest) IsNil() bool {
	return d == Nil
}

// String renders d in its canonical printable form.
func (d Digest) String() string {
	return base32Encoding.EncodeToString(d[:])
}

// Hex renders d as lowercase hex, the form used for on-disk hash-store
// paths: "<root>/<first-two-hex>/<remaining-hex>".
func (d Digest) Hex() string {
	return hex.EncodeToString(d[:])
}

// Parse decodes a Digest from its canonical base32 printable form.
func Parse(s string) (Digest, error) {
	raw, err := base32Encoding.DecodeString(s)
	if err != nil || len(raw) != Size {
		return Digest{}, &spfserrors.InvalidReference{Reference: s, Reason: "not a valid digest"}
	}
	var d Digest
	copy(d[:], raw)
	return d, nil
}

// ParseHex decodes a Digest from a full-length lowercase hex string, the
// form used when reconstructing a Digest from a hash-store shard path.
func ParseHex(s string) (Digest, error) {
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != Size {
		return Digest{}, &spfserrors.InvalidReference{Reference: s, Reason: "not a valid hex digest"}
	}
	var d Digest
	copy(d[:], raw)
	return d, nil
}

// Hasher computes a Digest incrementally over a stream of bytes.
type Hasher struct {
	h hash.Hash
}

// NewHasher returns a Hasher ready to accept Write calls.
func NewHasher() *Hasher {
	return &Hasher{h: sha256.New()}
}

func (h *Hasher) Write(p []byte) (int, error) { return h.h.Write(p) }

// Digest returns the digest of all bytes written so far. It does not reset
// the underlying hash state.
func (h *Hasher) Digest() Digest {
	var d Digest
	copy(d[:], h.h.Sum(nil))
	return d
}

// Hash consumes r to EOF and returns the digest of its bytes, along with the
// total number of bytes read.
func Hash(r io.Reader) (Digest, int64, error) {
	h := NewHasher()
	n, err := io.Copy(h, r)
	if err != nil {
		return Digest{}, n, err
	}
	return h.Digest(), n, nil
}
