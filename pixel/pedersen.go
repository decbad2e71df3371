package pixel

import (
	"crypto/sha256"

	"github.com/btcsuite/btcd/btcec/v2"
)

// pedersenH is the alternate generator used for blinding. It is derived
// deterministically from the curve's own generator so no trusted setup is
// required: H = hash_to_curve("yuv/pedersen/H").
var pedersenH = hashToCurve("yuv/pedersen/H")

// PedersenCommitment is value*G + blinding*H, serialized the same way a
// secp256k1 public key is (33-byte compressed point).
type PedersenCommitment struct {
	point *btcec.PublicKey
}

// PedersenCommit computes a commitment to value under the given 32-byte
// blinding factor.
func PedersenCommit(value uint64, blinding [32]byte) *PedersenCommitment {
	var valueScalar btcec.ModNScalar
	var valueBytes [32]byte
	putUint64LE(valueBytes[24:], value)
	valueScalar.SetBytes(&valueBytes)

	var blindScalar btcec.ModNScalar
	blindScalar.SetBytes(&blinding)

	var vG, bH, sum btcec.JacobianPoint
	btcec.ScalarBaseMultNonConst(&valueScalar, &vG)

	var hJacobian btcec.JacobianPoint
	pedersenH.AsJacobian(&hJacobian)
	scalarMultNonConst(&blindScalar, &hJacobian, &bH)

	btcec.AddNonConst(&vG, &bH, &sum)
	sum.ToAffine()

	return &PedersenCommitment{point: btcec.NewPublicKey(&sum.X, &sum.Y)}
}

// AddCommitments computes the homomorphic sum of commitments, used to check that the
// sum of hidden input amounts equals the sum of hidden output amounts
// without revealing either.
func AddCommitments(cs ...*PedersenCommitment) *PedersenCommitment {
	var acc btcec.JacobianPoint
	acc.X.SetInt(0)
	acc.Y.SetInt(0)
	acc.Z.SetInt(0)
	first := true
	for _, c := range cs {
		if c == nil {
			continue
		}
		var p btcec.JacobianPoint
		c.point.AsJacobian(&p)
		if first {
			acc = p
			first = false
			continue
		}
		var next btcec.JacobianPoint
		btcec.AddNonConst(&acc, &p, &next)
		acc = next
	}
	acc.ToAffine()
	return &PedersenCommitment{point: btcec.NewPublicKey(&acc.X, &acc.Y)}
}

// Equal reports whether two commitments are to the same point.
func (c *PedersenCommitment) Equal(other *PedersenCommitment) bool {
	if c == nil || other == nil {
		return c == other
	}
	return c.point.IsEqual(other.point)
}

// Bytes is the 33-byte compressed point serialization.
func (c *PedersenCommitment) Bytes() []byte {
	return c.point.SerializeCompressed()
}

// ParsePedersenCommitment parses a 33-byte compressed point commitment.
func ParsePedersenCommitment(b []byte) (*PedersenCommitment, error) {
	pub, err := btcec.ParsePubKey(b)
	if err != nil {
		return nil, err
	}
	return &PedersenCommitment{point: pub}, nil
}

// RangeVerifier checks a range proof against a commitment. The Bulletproofs++
// proving/verification math itself is treated as a black box per spec — this
// repository never links a concrete proving library, only this boundary.
type RangeVerifier interface {
	// VerifyRange reports whether proof demonstrates that the value
	// committed to by commitment lies in [0, 2^64).
	VerifyRange(commitment *PedersenCommitment, proof []byte) (bool, error)
}

func hashToCurve(label string) *btcec.PublicKey {
	seed := sha256.Sum256([]byte(label))
	for i := uint32(0); ; i++ {
		var candidate [33]byte
		candidate[0] = 0x02
		copy(candidate[1:], seed[:])
		if i > 0 {
			var ctr [4]byte
			putUint32LE(ctr[:], i)
			mixed := sha256.Sum256(append(seed[:], ctr[:]...))
			copy(candidate[1:], mixed[:])
		}
		if pub, err := btcec.ParsePubKey(candidate[:]); err == nil {
			return pub
		}
	}
}

func putUint32LE(dst []byte, v uint32) {
	dst[0] = byte(v)
	dst[1] = byte(v >> 8)
	dst[2] = byte(v >> 16)
	dst[3] = byte(v >> 24)
}

// scalarMultNonConst multiplies an arbitrary Jacobian point by a scalar.
// btcec only exports a constant-time base-point multiply; for the fixed,
// publicly-known generator H a non-constant-time double-and-add is fine —
// there is no secret here, H is a public parameter.
func scalarMultNonConst(k *btcec.ModNScalar, point *btcec.JacobianPoint, result *btcec.JacobianPoint) {
	bytes := k.Bytes()
	var acc btcec.JacobianPoint
	acc.X.SetInt(0)
	acc.Y.SetInt(0)
	acc.Z.SetInt(0)
	started := false
	for _, b := range bytes {
		for bit := 7; bit >= 0; bit-- {
			if started {
				var doubled btcec.JacobianPoint
				btcec.DoubleNonConst(&acc, &doubled)
				acc = doubled
			}
			if (b>>uint(bit))&1 == 1 {
				if !started {
					acc = *point
					started = true
				} else {
					var sum btcec.JacobianPoint
					btcec.AddNonConst(&acc, point, &sum)
					acc = sum
				}
			}
		}
	}
	*result = acc
}
