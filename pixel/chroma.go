package pixel

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

// Chroma identifies a token type: the issuer's 32-byte BIP-340 x-only
// public key. Equality is byte equality.
type Chroma [32]byte

// ChromaFromPubKey takes the x-only serialization of pub as a Chroma.
func ChromaFromPubKey(pub *btcec.PublicKey) Chroma {
	var c Chroma
	copy(c[:], schnorr.SerializePubKey(pub))
	return c
}

// ChromaFromBytes validates and wraps a 32-byte x-only public key.
func ChromaFromBytes(b []byte) (Chroma, error) {
	var c Chroma
	if len(b) != 32 {
		return c, fmt.Errorf("pixel: chroma must be 32 bytes, got %d", len(b))
	}
	if _, err := schnorr.ParsePubKey(b); err != nil {
		return c, fmt.Errorf("pixel: chroma is not a valid x-only key: %w", err)
	}
	copy(c[:], b)
	return c, nil
}

func (c Chroma) Bytes() []byte {
	out := make([]byte, 32)
	copy(out, c[:])
	return out
}

func (c Chroma) PubKey() (*btcec.PublicKey, error) {
	return schnorr.ParsePubKey(c[:])
}

func (c Chroma) String() string {
	return hex.EncodeToString(c[:])
}

func (c Chroma) IsZero() bool {
	return c == Chroma{}
}
