// Package txcheck is the isolated, stateless YUV transaction checker: the
// rules a transaction must satisfy on its own, given the scriptPubKeys its
// inputs spend and the announcement/freeze facts the caller already knows.
package txcheck

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/wire"

	"yuvprotocol.org/node/pixel"
	"yuvprotocol.org/node/pixel/announce"
)

// TxType classifies a YUV transaction's role, constraining which checks
// apply.
type TxType uint8

const (
	TxTypeTransfer TxType = iota
	TxTypeIssue
	TxTypeAnnouncement
)

func (t TxType) String() string {
	switch t {
	case TxTypeTransfer:
		return "Transfer"
	case TxTypeIssue:
		return "Issue"
	case TxTypeAnnouncement:
		return "Announcement"
	default:
		return "Unknown"
	}
}

// YuvTx is a Bitcoin transaction plus its pixel-proofs payload.
type YuvTx struct {
	Btx *wire.MsgTx

	// InputProofs maps input index -> pixel proof for the output being
	// spent; OutputProofs maps output index -> pixel proof for what this
	// output will carry.
	InputProofs  map[uint32]pixel.Proof
	OutputProofs map[uint32]pixel.Proof

	Type TxType

	// Announcement is set only when Type is TxTypeAnnouncement or
	// TxTypeIssue: the parsed OP_RETURN contents this transaction carries.
	Announcement *announce.Announcement

	// IssuerSignatureValid records whether the Issue tx's OP_RETURN
	// issuance announcement carries a valid signature from the issuer
	// chroma — verified by the caller (the checker does not itself
	// resolve the announcement's signing key against Bitcoin script
	// execution) and handed in so check() stays pure.
	IssuerSignatureValid bool
}

// InputContext is everything the checker needs about one spent input,
// supplied by the caller (the attacher/controller), never fetched by the
// checker itself.
type InputContext struct {
	// ScriptKey is the key a P2TR or bare-pubkey scriptPubKey carries.
	// Unset when IsWitnessV0 is true.
	ScriptKey *btcec.PublicKey
	IsTaproot bool
	// IsWitnessV0 marks a P2WPKH outpoint: WitnessProgram (not
	// ScriptKey) is what pixel.VerifyProof compares a tweaked candidate
	// key's HASH160 against.
	IsWitnessV0    bool
	WitnessProgram [20]byte
}
