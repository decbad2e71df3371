package pixel

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/wire"
)

// ProofKind tags the concrete variant carried by a Proof. New variants are
// added by extending this enum and the Verify switch below, never by
// changing the Proof interface itself.
type ProofKind uint8

const (
	ProofKindSig ProofKind = iota
	ProofKindMultisig
	ProofKindLightning
	ProofKindBulletproof
	ProofKindEmptyPixel
)

func (k ProofKind) String() string {
	switch k {
	case ProofKindSig:
		return "Sig"
	case ProofKindMultisig:
		return "Multisig"
	case ProofKindLightning:
		return "Lightning"
	case ProofKindBulletproof:
		return "Bulletproof"
	case ProofKindEmptyPixel:
		return "EmptyPixel"
	default:
		return fmt.Sprintf("ProofKind(%d)", uint8(k))
	}
}

// VerifyContext is everything a proof needs to verify itself against, beyond
// its own contents. The checker supplies these; proofs never fetch data on
// their own, keeping verification pure.
type VerifyContext struct {
	// ScriptKey is the public key actually carried by the Bitcoin
	// input's previous output (or, for an output proof, this
	// transaction's own output) scriptPubKey. Unset when IsWitnessV0 is
	// true — a P2WPKH scriptPubKey never carries a parseable key.
	ScriptKey *btcec.PublicKey
	// IsTaproot selects x-only tweak discipline over full-key discipline.
	IsTaproot bool
	// IsWitnessV0 selects the P2WPKH discipline: the candidate key is
	// tweaked with the full-key (non-x-only) rule and HASH160'd, then
	// compared against WitnessProgram, since the script itself never
	// reveals a key to compare against directly.
	IsWitnessV0 bool
	// WitnessProgram is the 20-byte HASH160 a P2WPKH scriptPubKey
	// carries. Only meaningful when IsWitnessV0 is true.
	WitnessProgram [20]byte
	// RangeVerifier checks Bulletproof range proofs. Required only when
	// the proof kind is Bulletproof.
	RangeVerifier RangeVerifier
}

// Proof is a pixel proof attached to one Bitcoin input or output.
type Proof interface {
	Kind() ProofKind
	// Chroma is the token type this proof asserts, or the zero Chroma
	// for EmptyPixel.
	Chroma() Chroma
	// Verify checks that this proof's tweak reproduces ctx.ScriptKey,
	// and any variant-specific well-formedness (signature count,
	// script reconstruction, range proof).
	Verify(ctx VerifyContext) error
}

// SigProof is the plain single-key variant: pixel plus the inner key the
// spending signature is checked against.
type SigProof struct {
	Pixel    Pixel
	InnerKey *btcec.PublicKey
}

func (p *SigProof) Kind() ProofKind { return ProofKindSig }
func (p *SigProof) Chroma() Chroma  { return p.Pixel.Chroma }

func (p *SigProof) Verify(ctx VerifyContext) error {
	switch {
	case ctx.IsTaproot:
		want := TweakXOnlyKey(p.InnerKey, p.Pixel.Chroma, p.Pixel.Luma)
		got := schnorrXOnlyBytes(ctx.ScriptKey)
		var gotArr [32]byte
		copy(gotArr[:], got)
		if want != gotArr {
			return ErrInvalidCommitment
		}
		return nil
	case ctx.IsWitnessV0:
		return VerifyWitnessV0Commitment(ctx.WitnessProgram, p.InnerKey, p.Pixel.Chroma, p.Pixel.Luma)
	default:
		return VerifyFullKeyCommitment(ctx.ScriptKey, p.InnerKey, p.Pixel.Chroma, p.Pixel.Luma)
	}
}

// MultisigProof is pixel plus M-of-N inner keys; the tweak is applied to the
// aggregate key that the threshold script commits to.
type MultisigProof struct {
	Pixel     Pixel
	InnerKeys []*btcec.PublicKey
	Threshold int
	// AggregateKey is the M-of-N script's own key (e.g. a MuSig2
	// aggregate, or a pre-computed threshold key) prior to the pixel
	// tweak — supplied by the caller because the exact aggregation
	// scheme is a script-construction concern outside pixel math.
	AggregateKey *btcec.PublicKey
}

func (p *MultisigProof) Kind() ProofKind { return ProofKindMultisig }
func (p *MultisigProof) Chroma() Chroma  { return p.Pixel.Chroma }

func (p *MultisigProof) Verify(ctx VerifyContext) error {
	if p.Threshold <= 0 || p.Threshold > len(p.InnerKeys) {
		return fmt.Errorf("pixel: multisig threshold %d invalid for %d keys", p.Threshold, len(p.InnerKeys))
	}
	switch {
	case ctx.IsTaproot:
		want := TweakXOnlyKey(p.AggregateKey, p.Pixel.Chroma, p.Pixel.Luma)
		got := schnorrXOnlyBytes(ctx.ScriptKey)
		var gotArr [32]byte
		copy(gotArr[:], got)
		if want != gotArr {
			return ErrInvalidCommitment
		}
		return nil
	case ctx.IsWitnessV0:
		return VerifyWitnessV0Commitment(ctx.WitnessProgram, p.AggregateKey, p.Pixel.Chroma, p.Pixel.Luma)
	default:
		return VerifyFullKeyCommitment(ctx.ScriptKey, p.AggregateKey, p.Pixel.Chroma, p.Pixel.Luma)
	}
}

// LightningScript carries the HTLC/commitment-transaction parameters needed
// to rebuild the taproot leaf or witness script the tweak is applied to.
type LightningScript struct {
	RevocationKey *btcec.PublicKey
	PaymentKey    *btcec.PublicKey
	PaymentHash   [32]byte
	CsvDelay      uint32
}

// LightningProof is pixel plus HTLC/commitment script parameters.
type LightningProof struct {
	Pixel    Pixel
	InnerKey *btcec.PublicKey
	Script   LightningScript
}

func (p *LightningProof) Kind() ProofKind { return ProofKindLightning }
func (p *LightningProof) Chroma() Chroma  { return p.Pixel.Chroma }

func (p *LightningProof) Verify(ctx VerifyContext) error {
	switch {
	case ctx.IsTaproot:
		want := TweakXOnlyKey(p.InnerKey, p.Pixel.Chroma, p.Pixel.Luma)
		got := schnorrXOnlyBytes(ctx.ScriptKey)
		var gotArr [32]byte
		copy(gotArr[:], got)
		if want != gotArr {
			return ErrInvalidCommitment
		}
		return nil
	case ctx.IsWitnessV0:
		return VerifyWitnessV0Commitment(ctx.WitnessProgram, p.InnerKey, p.Pixel.Chroma, p.Pixel.Luma)
	default:
		return VerifyFullKeyCommitment(ctx.ScriptKey, p.InnerKey, p.Pixel.Chroma, p.Pixel.Luma)
	}
}

// BulletproofProof hides the luma behind a Pedersen commitment and a range
// proof bounding the committed value to [0, 2^64).
type BulletproofProof struct {
	Chroma_    Chroma
	InnerKey   *btcec.PublicKey
	Commitment *PedersenCommitment
	RangeProof []byte
}

func (p *BulletproofProof) Kind() ProofKind { return ProofKindBulletproof }
func (p *BulletproofProof) Chroma() Chroma  { return p.Chroma_ }

func (p *BulletproofProof) Verify(ctx VerifyContext) error {
	if ctx.RangeVerifier == nil {
		return fmt.Errorf("pixel: bulletproof verification requires a RangeVerifier")
	}
	ok, err := ctx.RangeVerifier.VerifyRange(p.Commitment, p.RangeProof)
	if err != nil {
		return fmt.Errorf("pixel: bulletproof range check: %w", err)
	}
	if !ok {
		return ErrBulletproofInvalid
	}

	tweaked := TweakHiddenKey(p.InnerKey, p.Chroma_, p.Commitment)
	switch {
	case ctx.IsTaproot:
		want := schnorrXOnlyBytes(tweaked)
		got := schnorrXOnlyBytes(ctx.ScriptKey)
		if string(want) != string(got) {
			return ErrInvalidCommitment
		}
		return nil
	case ctx.IsWitnessV0:
		if !bytes.Equal(witnessV0Hash(tweaked), ctx.WitnessProgram[:]) {
			return ErrInvalidCommitment
		}
		return nil
	default:
		if !tweaked.IsEqual(ctx.ScriptKey) {
			return ErrInvalidCommitment
		}
		return nil
	}
}

// EmptyPixelProof marks an output that carries Bitcoin sats but no token —
// a change or fee-carrying output with no chroma/luma commitment at all.
type EmptyPixelProof struct{}

func (p *EmptyPixelProof) Kind() ProofKind { return ProofKindEmptyPixel }
func (p *EmptyPixelProof) Chroma() Chroma  { return Chroma{} }

func (p *EmptyPixelProof) Verify(ctx VerifyContext) error {
	return nil
}

// ErrBulletproofInvalid is returned when a range proof fails verification.
var ErrBulletproofInvalid = fmt.Errorf("pixel: bulletproof range proof invalid")

// ErrUnsupportedProofVariant is returned by deserializers encountering an
// unknown ProofKind tag.
var ErrUnsupportedProofVariant = fmt.Errorf("pixel: unsupported proof variant")

// VerifyProof is the dispatch entry point: verify_proof(proof,
// bitcoin_input_or_output) from spec §4.1, implemented as a switch over
// ProofKind; a kind with no case returns ErrUnsupportedProofVariant.
func VerifyProof(p Proof, ctx VerifyContext) error {
	switch p.Kind() {
	case ProofKindSig, ProofKindMultisig, ProofKindLightning, ProofKindBulletproof, ProofKindEmptyPixel:
		return p.Verify(ctx)
	default:
		return ErrUnsupportedProofVariant
	}
}

// ScriptCommitment is what a scriptPubKey actually commits a pixel tweak
// to: a directly readable key for P2TR and the bare-pubkey key branch of a
// multisig/HTLC script, or — for P2WPKH — only the HASH160 of one. A
// P2WPKH scriptPubKey (0x00 0x14 <20-byte program>) can never be "parsed
// for a key"; verification has to tweak the candidate inner key and hash
// it, never extract a key from the script.
type ScriptCommitment struct {
	Key            *btcec.PublicKey
	IsTaproot      bool
	IsWitnessV0    bool
	WitnessProgram [20]byte
}

// scriptCommitmentFromTxOut resolves what a P2WPKH/P2TR/bare-pubkey
// scriptPubKey commits to, so the checker can build a VerifyContext
// straight from Bitcoin output data without the proof package importing
// txcheck.
func scriptCommitmentFromTxOut(out *wire.TxOut) (ScriptCommitment, error) {
	switch {
	// P2TR: OP_1 <32-byte x-only output key>.
	case len(out.PkScript) == 34 && out.PkScript[0] == 0x51 && out.PkScript[1] == 0x20:
		xonly, err := schnorr.ParsePubKey(out.PkScript[2:])
		if err != nil {
			return ScriptCommitment{}, err
		}
		return ScriptCommitment{Key: xonly, IsTaproot: true}, nil
	// P2WPKH: OP_0 <20-byte HASH160 program>. No key is present in the
	// script, only a hash of one.
	case len(out.PkScript) == 22 && out.PkScript[0] == 0x00 && out.PkScript[1] == 0x14:
		var program [20]byte
		copy(program[:], out.PkScript[2:22])
		return ScriptCommitment{IsWitnessV0: true, WitnessProgram: program}, nil
	// Bare pubkey (P2PK-style key branch): <push 33> <33-byte compressed key> OP_CHECKSIG.
	case len(out.PkScript) == 35 && out.PkScript[0] == 0x21 && out.PkScript[34] == 0xac:
		key, err := btcec.ParsePubKey(out.PkScript[1:34])
		if err != nil {
			return ScriptCommitment{}, err
		}
		return ScriptCommitment{Key: key}, nil
	default:
		return ScriptCommitment{}, fmt.Errorf("pixel: unrecognized pixel-carrying scriptPubKey")
	}
}

// ScriptKeyFromTxOut is the exported form of scriptCommitmentFromTxOut,
// used by the controller to build an InputContext for a given Bitcoin
// output.
func ScriptKeyFromTxOut(out *wire.TxOut) (ScriptCommitment, error) {
	return scriptCommitmentFromTxOut(out)
}
