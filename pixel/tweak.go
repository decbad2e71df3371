package pixel

import (
	"bytes"
	"crypto/sha256"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
)

// ErrInvalidCommitment is returned when a tweaked key does not reproduce the
// key a Bitcoin input or output actually carries.
var ErrInvalidCommitment = fmt.Errorf("pixel: invalid commitment")

// tweakScalar computes H = sha256(chroma(32B) || luma(8B LE)) — or, for a
// hidden pixel, sha256(chroma(32B) || commitment(33B)) — reduced mod the
// curve order, exactly as spec'd: the Pedersen commitment replaces the
// plaintext luma bytes in the preimage when the amount is hidden.
func tweakScalar(chroma Chroma, preimage []byte) btcec.ModNScalar {
	h := sha256.New()
	h.Write(chroma[:])
	h.Write(preimage)
	sum := h.Sum(nil)

	var s btcec.ModNScalar
	s.SetByteSlice(sum)
	return s
}

// TweakFullKey computes inner_key + H(chroma||luma)*G over the full
// (non-x-only) curve point, the discipline used for P2WPKH outputs and the
// key-branch of multisig/HTLC scripts.
func TweakFullKey(innerKey *btcec.PublicKey, chroma Chroma, luma Luma) *btcec.PublicKey {
	var lumaBytes [8]byte
	putUint64LE(lumaBytes[:], uint64(luma))
	return addTweak(innerKey, chroma, lumaBytes[:])
}

// TweakXOnlyKey computes the Taproot discipline: the inner key and the
// result are both carried as x-only (BIP-340) points.
func TweakXOnlyKey(innerKey *btcec.PublicKey, chroma Chroma, luma Luma) [32]byte {
	var lumaBytes [8]byte
	putUint64LE(lumaBytes[:], uint64(luma))
	tweaked := addTweak(innerKey, chroma, lumaBytes[:])
	var out [32]byte
	copy(out[:], schnorrXOnlyBytes(tweaked))
	return out
}

// TweakHiddenKey is the bulletproof discipline: the luma bytes in the tweak
// preimage are replaced by the Pedersen commitment to the hidden amount.
func TweakHiddenKey(innerKey *btcec.PublicKey, chroma Chroma, commitment *PedersenCommitment) *btcec.PublicKey {
	return addTweak(innerKey, chroma, commitment.Bytes())
}

func addTweak(innerKey *btcec.PublicKey, chroma Chroma, preimage []byte) *btcec.PublicKey {
	scalar := tweakScalar(chroma, preimage)

	var innerJacobian, tweakJacobian, resultJacobian btcec.JacobianPoint
	innerKey.AsJacobian(&innerJacobian)
	btcec.ScalarBaseMultNonConst(&scalar, &tweakJacobian)
	btcec.AddNonConst(&innerJacobian, &tweakJacobian, &resultJacobian)
	resultJacobian.ToAffine()

	return btcec.NewPublicKey(&resultJacobian.X, &resultJacobian.Y)
}

// VerifyFullKeyCommitment reports whether scriptKey (a full compressed or
// hybrid public key extracted from a scriptPubKey) equals the tweak of
// (innerKey, chroma, luma).
func VerifyFullKeyCommitment(scriptKey *btcec.PublicKey, innerKey *btcec.PublicKey, chroma Chroma, luma Luma) error {
	expected := TweakFullKey(innerKey, chroma, luma)
	if !expected.IsEqual(scriptKey) {
		return ErrInvalidCommitment
	}
	return nil
}

// VerifyWitnessV0Commitment reports whether program — a P2WPKH
// scriptPubKey's 20-byte witness program — is HASH160 of the full-key
// tweak of (innerKey, chroma, luma). A P2WPKH script never carries a
// parseable key, only a hash of one, so this is the only way to check a
// pixel tweak against it.
func VerifyWitnessV0Commitment(program [20]byte, innerKey *btcec.PublicKey, chroma Chroma, luma Luma) error {
	if !bytes.Equal(witnessV0Hash(TweakFullKey(innerKey, chroma, luma)), program[:]) {
		return ErrInvalidCommitment
	}
	return nil
}

// witnessV0Hash is the P2WPKH witness program a key's scriptPubKey would
// carry: HASH160 of its compressed serialization.
func witnessV0Hash(key *btcec.PublicKey) []byte {
	return btcutil.Hash160(key.SerializeCompressed())
}

// VerifyXOnlyCommitment reports whether outputKey (the 32-byte Taproot
// output key) equals the x-only tweak of (innerKey, chroma, luma).
func VerifyXOnlyCommitment(outputKey [32]byte, innerKey *btcec.PublicKey, chroma Chroma, luma Luma) error {
	expected := TweakXOnlyKey(innerKey, chroma, luma)
	if expected != outputKey {
		return ErrInvalidCommitment
	}
	return nil
}

func putUint64LE(dst []byte, v uint64) {
	for i := 0; i < 8; i++ {
		dst[i] = byte(v >> (8 * i))
	}
}

// schnorrXOnlyBytes returns the 32-byte x-coordinate of pub, the BIP-340
// x-only serialization.
func schnorrXOnlyBytes(pub *btcec.PublicKey) []byte {
	full := pub.SerializeCompressed()
	return full[1:]
}
