package pixel

import (
	"crypto/sha256"
	"encoding/binary"
)

// Luma is a token amount. For bulletproof-hidden transfers the plaintext
// Luma is replaced end-to-end by a PedersenCommitment; see Proof.
type Luma uint64

// Pixel is the chroma+luma pair a Bitcoin output can carry.
type Pixel struct {
	Chroma Chroma
	Luma   Luma
}

// Bytes is the canonical serialization chroma(32B) || luma(8B LE), the same
// layout as the tweak preimage. PixelHash hashes a different preimage (see
// Hash).
func (p Pixel) Bytes() []byte {
	out := make([]byte, 40)
	copy(out[:32], p.Chroma[:])
	binary.LittleEndian.PutUint64(out[32:], uint64(p.Luma))
	return out
}

// PixelHash uniquely identifies a pixel (coin): sha256(sha256(luma) || chroma).
// Bit-exact with the originating implementation's hash.rs.
type PixelHash [32]byte

// Hash computes the PixelHash of p.
func (p Pixel) Hash() PixelHash {
	var lumaBytes [8]byte
	binary.LittleEndian.PutUint64(lumaBytes[:], uint64(p.Luma))
	amountHashed := sha256.Sum256(lumaBytes[:])

	h := sha256.New()
	h.Write(amountHashed[:])
	h.Write(p.Chroma[:])

	var out PixelHash
	copy(out[:], h.Sum(nil))
	return out
}

// IsZero reports whether the pixel carries no luma. The balance check does
// not drop such outputs; they add zero to their chroma's sums.
func (p Pixel) IsZero() bool {
	return p.Luma == 0
}
