package controller

import (
	"bytes"
	"context"
	"fmt"

	"yuvprotocol.org/node/attacher"
	"yuvprotocol.org/node/bitcoinrpc"
	"yuvprotocol.org/node/p2p"
	"yuvprotocol.org/node/pixel"
	"yuvprotocol.org/node/storage"
	"yuvprotocol.org/node/txcheck"
)

// AttacherHooks are the four callbacks attacher.New needs, all built from
// the same checkDeps an RPCAdapter uses, plus a storage.Store for Commit
// and an eventual P2P broadcaster for FetchParent.
type AttacherHooks struct {
	Recheck     attacher.Recheck
	Commit      attacher.Commit
	FetchParent attacher.FetchParent
	IsAttached  func(txid [32]byte) bool
}

// NewAttacherHooks builds the hook set cmd/yuv-node wires into
// attacher.New: Recheck re-derives input/output contexts and re-runs
// txcheck.Check now that every ancestor is known; Commit durably persists
// the attached transaction and its proofs; FetchParent announces the
// missing ancestor's txid to every connected peer in a broadcast inv and
// sends no GetData request; IsAttached answers
// straight from storage.
func NewAttacherHooks(chain bitcoinrpc.Client, store storage.Store, rv pixel.RangeVerifier, bcast Broadcaster) AttacherHooks {
	d := checkDeps{chain: chain, store: store, rv: rv}

	recheck := func(ytx *txcheck.YuvTx) error {
		ctx := context.Background()
		inputs, err := d.resolveInputContexts(ytx.Btx)
		if err != nil {
			return fmt.Errorf("attacher: resolve input contexts: %w", err)
		}
		outputs := resolveOutputContexts(ytx.Btx)
		freeze := d.freezeLookup(ctx)
		announcementChroma := d.announcementChromaLookup(inputs)
		return txcheck.Check(ytx, inputs, outputs, d.rv, freeze, announcementChroma)
	}

	commit := func(ytx *txcheck.YuvTx) error {
		var buf bytes.Buffer
		if err := ytx.Btx.Serialize(&buf); err != nil {
			return fmt.Errorf("attacher: serialize tx: %w", err)
		}
		inputProofs, outputProofs, err := txcheck.EncodeProofs(ytx)
		if err != nil {
			return fmt.Errorf("attacher: encode proofs: %w", err)
		}
		id := txidOf(ytx)
		return store.PutTx(context.Background(), storage.AttachedTx{
			Txid:         id,
			RawTx:        buf.Bytes(),
			InputProofs:  inputProofs,
			OutputProofs: outputProofs,
		})
	}

	fetchParent := func(ctx context.Context, parent [32]byte) error {
		if bcast == nil {
			return fmt.Errorf("attacher: no broadcaster configured to fetch parent %x", parent)
		}
		bcast.BroadcastInv([]p2p.InvVector{{Type: p2p.InvTypeYuvTx, Hash: parent}})
		return nil
	}

	isAttached := func(id [32]byte) bool {
		_, ok, err := store.GetTx(context.Background(), id)
		return err == nil && ok
	}

	return AttacherHooks{Recheck: recheck, Commit: commit, FetchParent: fetchParent, IsAttached: isAttached}
}
