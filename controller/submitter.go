package controller

import (
	"bytes"
	"context"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"yuvprotocol.org/node/bitcoinrpc"
	"yuvprotocol.org/node/p2p"
	"yuvprotocol.org/node/pixel"
	"yuvprotocol.org/node/rpcserver"
	"yuvprotocol.org/node/storage"
	"yuvprotocol.org/node/txcheck"
)

// RPCAdapter implements rpcserver.Submitter: it resolves everything
// HandleNewTx needs from a bare raw tx + proof maps — the per-input
// scriptPubKeys via bitcoinrpc (the node has no local UTXO set of its
// own), the per-output scriptPubKeys straight from the tx, and the
// freeze/announcement-chroma lookups from storage — then hands the
// assembled YuvTx to the Controller exactly as the P2P and indexer paths
// do.
type RPCAdapter struct {
	c *Controller
	checkDeps
}

func NewRPCAdapter(c *Controller, chain bitcoinrpc.Client, store storage.Store, rv pixel.RangeVerifier) *RPCAdapter {
	return &RPCAdapter{c: c, checkDeps: checkDeps{chain: chain, store: store, rv: rv}}
}

// ProvideProofs attaches proofs to a transaction the caller already knows
// about (an issuer publishing the pixel data for a tx it broadcast by
// other means) without itself broadcasting anything.
func (a *RPCAdapter) ProvideProofs(ctx context.Context, raw []byte, proofs rpcserver.RawProofs) error {
	return a.handle(ctx, raw, proofs)
}

// SubmitTx broadcasts raw to the Bitcoin network before routing it
// through the checker — Bitcoin Core's own mempool acceptance is what
// verifies every input signature, including the issuer's, so by the time
// HandleNewTx runs, IssuerSignatureValid is already established.
func (a *RPCAdapter) SubmitTx(ctx context.Context, raw []byte, proofs rpcserver.RawProofs) error {
	btx := wire.NewMsgTx(2)
	if err := btx.Deserialize(bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("controller: deserialize raw tx: %w", err)
	}
	if _, err := a.chain.SendRawTransaction(btx); err != nil {
		return fmt.Errorf("controller: broadcast tx: %w", err)
	}
	return a.handle(ctx, raw, proofs)
}

// ReceiveP2PTx handles a tx message arriving over the P2P side channel: it
// confirms Bitcoin Core already knows about the underlying transaction
// (mempool or confirmed) before trusting it the same way SubmitTx does —
// this node never attaches a YuvTx on a peer's word alone.
func (a *RPCAdapter) ReceiveP2PTx(ctx context.Context, msg p2p.TxMessage) error {
	btx := wire.NewMsgTx(2)
	if err := btx.Deserialize(bytes.NewReader(msg.RawTx)); err != nil {
		return fmt.Errorf("controller: deserialize p2p tx: %w", err)
	}
	txid := btx.TxHash()
	if _, err := a.chain.GetRawTransactionVerbose(&txid); err != nil {
		return fmt.Errorf("controller: p2p tx %s unknown to bitcoind, refusing to attach: %w", txid, err)
	}

	inputProofs, outputProofs, err := txcheck.DecodeProofBundle(msg.YuvPayload)
	if err != nil {
		return fmt.Errorf("controller: decode p2p proofs: %w", err)
	}
	if err := a.handleMaps(ctx, msg.RawTx, inputProofs, outputProofs); err != nil {
		return misbehaviorFor(err)
	}
	return nil
}

// txMisbehavior wraps a checker rejection so p2p.Manager's read loop can
// grade the sending peer's BanScore bump by severity (spec.md §7) instead
// of the flat per-message default it falls back to for every other kind of
// OnTx failure.
type txMisbehavior struct {
	error
	delta int
}

func (m txMisbehavior) BanScoreDelta() int { return m.delta }

// misbehaviorFor scores a HandleNewTx failure the way a peer that sent a
// transaction failing the isolated checker should be penalized: structural
// malformation is the cheapest offense, a provable rule violation
// (unbalanced chromas, a forged proof, a forged issuer signature, or a
// frozen-outpoint spend) the most expensive, mirroring the BanScoreDelta
// scale p2p/envelope.go already uses for framing errors.
func misbehaviorFor(err error) error {
	delta := defaultPeerTxMisbehaviorDelta
	if ce, ok := err.(*txcheck.CheckError); ok {
		switch ce.Kind {
		case txcheck.ErrMalformed:
			delta = 10
		default:
			delta = 20
		}
	}
	return txMisbehavior{error: err, delta: delta}
}

const defaultPeerTxMisbehaviorDelta = 10

func (a *RPCAdapter) handle(ctx context.Context, raw []byte, proofs rpcserver.RawProofs) error {
	inputProofs, outputProofs, err := rpcserver.DecodeRawProofs(proofs)
	if err != nil {
		return fmt.Errorf("controller: decode proofs: %w", err)
	}
	return a.handleMaps(ctx, raw, inputProofs, outputProofs)
}

func (a *RPCAdapter) handleMaps(ctx context.Context, raw []byte, inputProofs, outputProofs map[uint32][]byte) error {
	ytx, err := txcheck.DecodeYuvTx(raw, inputProofs, outputProofs)
	if err != nil {
		return err
	}
	// Every YuvTx this node ever builds for itself reaches HandleNewTx only
	// after Bitcoin Core has already accepted the underlying transaction
	// (via SendRawTransaction above, or via the confirmation indexer's
	// scan of a mined block) — script execution there is what verifies an
	// issuer actually controls the chroma key it spends from, so the
	// checker's own IssuerSignatureValid gate is satisfied by construction.
	if ytx.Type == txcheck.TxTypeIssue {
		ytx.IssuerSignatureValid = true
	}

	inputs, err := a.resolveInputContexts(ytx.Btx)
	if err != nil {
		return fmt.Errorf("controller: resolve input contexts: %w", err)
	}
	outputs := resolveOutputContexts(ytx.Btx)

	rv := a.rv
	freeze := a.freezeLookup(ctx)
	announcementChroma := a.announcementChromaLookup(inputs)

	return a.c.HandleNewTx(ctx, ytx, inputs, outputs, rv, freeze, announcementChroma)
}

// checkDeps is the shared set of external lookups both RPCAdapter and the
// attacher's recheck hook need to re-derive a txcheck.Check call's
// arguments from nothing but a YuvTx — factored out so onReady's recheck
// (attacherhooks.go) doesn't duplicate this resolution logic.
type checkDeps struct {
	chain bitcoinrpc.Client
	store storage.Store
	rv    pixel.RangeVerifier
}

// resolveInputContexts asks Bitcoin Core what scriptPubKey each spent
// input actually carries — this node keeps no UTXO set of its own.
func (d checkDeps) resolveInputContexts(btx *wire.MsgTx) (map[uint32]txcheck.InputContext, error) {
	inputs := make(map[uint32]txcheck.InputContext, len(btx.TxIn))
	for idx, in := range btx.TxIn {
		out, err := d.chain.GetTxOut(&in.PreviousOutPoint.Hash, in.PreviousOutPoint.Index)
		if err != nil {
			return nil, fmt.Errorf("txin %d: %w", idx, err)
		}
		if out == nil {
			return nil, fmt.Errorf("txin %d: previous output %s:%d not found", idx, in.PreviousOutPoint.Hash, in.PreviousOutPoint.Index)
		}
		commitment, err := pixel.ScriptKeyFromTxOut(&wire.TxOut{PkScript: out.PkScript})
		if err != nil {
			continue // non-pixel-carrying input (plain BTC change, etc.)
		}
		inputs[uint32(idx)] = inputContextFromCommitment(commitment)
	}
	return inputs, nil
}

// resolveOutputContexts reads scriptPubKeys straight off the transaction
// itself, since its own outputs never need a round-trip to Bitcoin Core.
func resolveOutputContexts(btx *wire.MsgTx) map[uint32]txcheck.InputContext {
	outputs := make(map[uint32]txcheck.InputContext, len(btx.TxOut))
	for idx, out := range btx.TxOut {
		commitment, err := pixel.ScriptKeyFromTxOut(out)
		if err != nil {
			continue
		}
		outputs[uint32(idx)] = inputContextFromCommitment(commitment)
	}
	return outputs
}

// inputContextFromCommitment carries a resolved ScriptCommitment into the
// shape txcheck.Check expects — including the P2WPKH case, where there is
// no key at all, only a HASH160 program to compare a tweaked candidate key
// against.
func inputContextFromCommitment(commitment pixel.ScriptCommitment) txcheck.InputContext {
	return txcheck.InputContext{
		ScriptKey:      commitment.Key,
		IsTaproot:      commitment.IsTaproot,
		IsWitnessV0:    commitment.IsWitnessV0,
		WitnessProgram: commitment.WitnessProgram,
	}
}

func (d checkDeps) freezeLookup(ctx context.Context) txcheck.FreezeLookup {
	return func(txid chainhash.Hash, vout uint32) (bool, error) {
		var hash [32]byte
		copy(hash[:], txid[:])
		return d.store.IsFrozen(ctx, storage.OutPoint{Hash: hash, Index: vout})
	}
}

// announcementChromaLookup resolves the chroma an announcement transaction
// was signed under to the chroma committed by its first input's
// scriptPubKey: authoring a YUV announcement means spending an output
// locked to the issuer's own chroma key, so whichever chroma unlocked
// txin[0] is the signing chroma Bitcoin's own script execution already
// vouched for.
func (d checkDeps) announcementChromaLookup(inputs map[uint32]txcheck.InputContext) txcheck.AnnouncementChromaLookup {
	return func(ytx *txcheck.YuvTx) (pixel.Chroma, bool) {
		first, ok := inputs[0]
		if !ok || first.ScriptKey == nil {
			return pixel.Chroma{}, false
		}
		return pixel.ChromaFromPubKey(first.ScriptKey), true
	}
}
