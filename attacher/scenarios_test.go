package attacher

import (
	"context"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"yuvprotocol.org/node/eventbus"
	"yuvprotocol.org/node/pixel"
	"yuvprotocol.org/node/pixel/announce"
	"yuvprotocol.org/node/txcheck"
)

// This file walks the canonical S1-S6 scenarios end to end through a real
// Graph wired to the actual txcheck.Check and pixel verification machinery
// (not stubbed recheck/commit callbacks), the way an issuer and its
// holders would actually exchange USD and EUR chromas:
//
//   S1 Issue:          issuer USD = bcrt1p4v5...eqvrek30 issues 10000 to Alice.
//   S2 Transfer:       Alice sends 1000 USD to Bob.
//   S3 Multichromatic: Alice sends 500 USD + 1000 EUR to Bob in one tx.
//   S4 Freeze:         USD issuer freezes outpoint 477df4...f5.
//   S5 Unfreeze:       USD issuer unfreezes the same outpoint.
//   S6 Missing parent: a transfer arrives whose parent is unknown.

// scenarioWorld is a minimal in-memory stand-in for everything
// controller.checkDeps normally resolves from bitcoind/storage: the
// scriptPubKey a spent outpoint carries, and an outpoint's frozen state.
// Unlike the real node it never talks to Bitcoin Core — every output a
// scenario tx creates is recorded locally as soon as it attaches.
type scenarioWorld struct {
	outputs  map[chainhash.Hash]map[uint32]*wire.TxOut
	attached map[[32]byte]*txcheck.YuvTx
	frozen   map[chainhash.Hash]map[uint32]bool
	fetched  []([32]byte)
}

func newScenarioWorld() *scenarioWorld {
	return &scenarioWorld{
		outputs:  make(map[chainhash.Hash]map[uint32]*wire.TxOut),
		attached: make(map[[32]byte]*txcheck.YuvTx),
		frozen:   make(map[chainhash.Hash]map[uint32]bool),
	}
}

func (w *scenarioWorld) seedOutput(hash chainhash.Hash, index uint32, out *wire.TxOut) {
	if w.outputs[hash] == nil {
		w.outputs[hash] = make(map[uint32]*wire.TxOut)
	}
	w.outputs[hash][index] = out
}

func (w *scenarioWorld) recordOutputs(btx *wire.MsgTx) {
	h := btx.TxHash()
	for idx, out := range btx.TxOut {
		w.seedOutput(h, uint32(idx), out)
	}
}

func (w *scenarioWorld) resolveInputs(btx *wire.MsgTx) (map[uint32]txcheck.InputContext, error) {
	inputs := make(map[uint32]txcheck.InputContext, len(btx.TxIn))
	for idx, in := range btx.TxIn {
		out, ok := w.outputs[in.PreviousOutPoint.Hash][in.PreviousOutPoint.Index]
		if !ok {
			continue // anchor-less or unresolvable input; not pixel-carrying
		}
		commitment, err := pixel.ScriptKeyFromTxOut(out)
		if err != nil {
			continue
		}
		inputs[uint32(idx)] = txcheck.InputContext{
			ScriptKey:      commitment.Key,
			IsTaproot:      commitment.IsTaproot,
			IsWitnessV0:    commitment.IsWitnessV0,
			WitnessProgram: commitment.WitnessProgram,
		}
	}
	return inputs, nil
}

func (w *scenarioWorld) resolveOutputs(btx *wire.MsgTx) map[uint32]txcheck.InputContext {
	outputs := make(map[uint32]txcheck.InputContext, len(btx.TxOut))
	for idx, out := range btx.TxOut {
		commitment, err := pixel.ScriptKeyFromTxOut(out)
		if err != nil {
			continue
		}
		outputs[uint32(idx)] = txcheck.InputContext{
			ScriptKey:      commitment.Key,
			IsTaproot:      commitment.IsTaproot,
			IsWitnessV0:    commitment.IsWitnessV0,
			WitnessProgram: commitment.WitnessProgram,
		}
	}
	return outputs
}

func (w *scenarioWorld) freezeLookup(txid chainhash.Hash, vout uint32) (bool, error) {
	return w.frozen[txid][vout], nil
}

func (w *scenarioWorld) announcementChroma(inputs map[uint32]txcheck.InputContext) txcheck.AnnouncementChromaLookup {
	return func(ytx *txcheck.YuvTx) (pixel.Chroma, bool) {
		first, ok := inputs[0]
		if !ok || first.ScriptKey == nil {
			return pixel.Chroma{}, false
		}
		return pixel.ChromaFromPubKey(first.ScriptKey), true
	}
}

func (w *scenarioWorld) recheck(ytx *txcheck.YuvTx) error {
	inputs, err := w.resolveInputs(ytx.Btx)
	if err != nil {
		return err
	}
	outputs := w.resolveOutputs(ytx.Btx)
	return txcheck.Check(ytx, inputs, outputs, nil, w.freezeLookup, w.announcementChroma(inputs))
}

func (w *scenarioWorld) commit(ytx *txcheck.YuvTx) error {
	w.attached[txid(ytx)] = ytx
	w.recordOutputs(ytx.Btx)

	if ytx.Type == txcheck.TxTypeAnnouncement && ytx.Announcement != nil {
		switch ytx.Announcement.Kind {
		case announce.KindFreeze, announce.KindUnfreeze:
			fb := ytx.Announcement.Freeze
			if w.frozen[fb.OutpointTxid] == nil {
				w.frozen[fb.OutpointTxid] = make(map[uint32]bool)
			}
			w.frozen[fb.OutpointTxid][fb.OutpointVout] = ytx.Announcement.Kind == announce.KindFreeze
		}
	}
	return nil
}

func (w *scenarioWorld) isAttached(id [32]byte) bool {
	_, ok := w.attached[id]
	return ok
}

func (w *scenarioWorld) fetchParent(ctx context.Context, parent [32]byte) error {
	w.fetched = append(w.fetched, parent)
	return nil
}

// scenarioKey is a throwaway secp256k1 keypair standing in for one party's
// per-output inner key, the way every SigProof output gets a fresh key.
func scenarioKey(t *testing.T) *btcec.PrivateKey {
	t.Helper()
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatalf("NewPrivateKey: %v", err)
	}
	return priv
}

func bareScript(pub *btcec.PublicKey) []byte {
	out := make([]byte, 0, 35)
	out = append(out, 0x21)
	out = append(out, pub.SerializeCompressed()...)
	out = append(out, 0xac)
	return out
}

// pixelOutput builds a pixel-carrying output for a given inner key, chroma
// and luma, plus the SigProof that unlocks it.
func pixelOutput(inner *btcec.PrivateKey, chroma pixel.Chroma, luma uint64) (*wire.TxOut, *pixel.SigProof) {
	tweaked := pixel.TweakFullKey(inner.PubKey(), chroma, pixel.Luma(luma))
	out := &wire.TxOut{Value: 1000, PkScript: bareScript(tweaked)}
	proof := &pixel.SigProof{Pixel: pixel.Pixel{Chroma: chroma, Luma: pixel.Luma(luma)}, InnerKey: inner.PubKey()}
	return out, proof
}

// issuerAnchor is a zero-hash outpoint: Graph.Add skips zero-hash parents
// entirely (the coinbase-like "needs no ancestor" case), so an Issue or
// Announcement tx spending one never waits in the graph — but its
// scriptPubKey is still seeded into scenarioWorld so announcementChroma
// resolution has a real key to resolve the signing chroma from.
func issuerAnchor(w *scenarioWorld, issuer *btcec.PrivateKey, index uint32) wire.OutPoint {
	w.seedOutput(chainhash.Hash{}, index, &wire.TxOut{Value: 0, PkScript: bareScript(issuer.PubKey())})
	return wire.OutPoint{Hash: chainhash.Hash{}, Index: index}
}

func addAndWaitAttached(t *testing.T, g *Graph, sub *eventbus.Subscription[eventbus.Attached], ytx *txcheck.YuvTx) {
	t.Helper()
	if err := g.Add(context.Background(), ytx); err != nil {
		t.Fatalf("Add: %v", err)
	}
	select {
	case env := <-sub.C():
		if env.Event.Txid != txid(ytx) {
			t.Fatalf("got Attached for wrong txid")
		}
	case <-time.After(time.Second):
		t.Fatal("expected Attached event")
	}
}

// TestScenariosIssueTransferMultichromaticFreezeUnfreeze walks S1 through
// S5 against one Graph, checking the balances and freeze effects the
// canonical walkthrough describes at each step.
func TestScenariosIssueTransferMultichromaticFreezeUnfreeze(t *testing.T) {
	w := newScenarioWorld()
	hub := eventbus.NewHub(32)
	defer hub.Close()
	attachedSub := hub.Attached.Subscribe()
	defer attachedSub.Unsubscribe()
	rejectedSub := hub.Rejected.Subscribe()
	defer rejectedSub.Unsubscribe()

	g := New(w.recheck, w.commit, w.fetchParent, w.isAttached, hub)

	usdIssuer := scenarioKey(t)
	eurIssuer := scenarioKey(t)
	usdChroma := pixel.ChromaFromPubKey(usdIssuer.PubKey())
	eurChroma := pixel.ChromaFromPubKey(eurIssuer.PubKey())

	alice1 := scenarioKey(t)

	// S1 Issue: issuer USD = bcrt1p4v5...eqvrek30 issues 10000 to Alice.
	usdAnchor := issuerAnchor(w, usdIssuer, 0)
	issueUSD := wire.NewMsgTx(2)
	issueUSD.AddTxIn(&wire.TxIn{PreviousOutPoint: usdAnchor})
	out0, proof0 := pixelOutput(alice1, usdChroma, 10000)
	issueUSD.AddTxOut(out0)
	issueTx := &txcheck.YuvTx{
		Btx:                  issueUSD,
		Type:                 txcheck.TxTypeIssue,
		OutputProofs:         map[uint32]pixel.Proof{0: proof0},
		Announcement:         &announce.Announcement{Kind: announce.KindIssuance, Issuance: &announce.IssuanceBody{Chroma: usdChroma, TotalSupply: 10000}},
		IssuerSignatureValid: true,
	}
	addAndWaitAttached(t, g, attachedSub, issueTx)

	// Alice's USD balance after S1 is 10000, carried entirely by alice1's
	// single pixel output.
	if lumaOfOutputProof(issueTx, 0) != 10000 {
		t.Fatalf("expected Alice's USD balance to be 10000 after issuance")
	}

	// S2 Transfer: Alice sends 1000 USD to Bob.
	bob1 := scenarioKey(t)
	alice2 := scenarioKey(t)
	transferUSD := wire.NewMsgTx(2)
	transferUSD.AddTxIn(&wire.TxIn{PreviousOutPoint: wire.OutPoint{Hash: issueUSD.TxHash(), Index: 0}})
	bobOut, bobProof := pixelOutput(bob1, usdChroma, 1000)
	aliceChangeOut, aliceChangeProof := pixelOutput(alice2, usdChroma, 9000)
	transferUSD.AddTxOut(bobOut)
	transferUSD.AddTxOut(aliceChangeOut)
	transferTx := &txcheck.YuvTx{
		Btx:          transferUSD,
		Type:         txcheck.TxTypeTransfer,
		InputProofs:  map[uint32]pixel.Proof{0: proof0},
		OutputProofs: map[uint32]pixel.Proof{0: bobProof, 1: aliceChangeProof},
	}
	addAndWaitAttached(t, g, attachedSub, transferTx)

	if lumaOfOutputProof(transferTx, 0) != 1000 || lumaOfOutputProof(transferTx, 1) != 9000 {
		t.Fatalf("expected Bob=1000 USD, Alice=9000 USD after S2 transfer")
	}

	// S3 Multichromatic: Alice sends 500 USD + 1000 EUR to Bob in one tx,
	// two inputs (one per chroma) and four outputs.
	eurAnchor := issuerAnchor(w, eurIssuer, 1)
	issueEUR := wire.NewMsgTx(2)
	issueEUR.AddTxIn(&wire.TxIn{PreviousOutPoint: eurAnchor})
	eurOut, eurProof := pixelOutput(alice2, eurChroma, 2000)
	issueEUR.AddTxOut(eurOut)
	issueEURTx := &txcheck.YuvTx{
		Btx:                  issueEUR,
		Type:                 txcheck.TxTypeIssue,
		OutputProofs:         map[uint32]pixel.Proof{0: eurProof},
		Announcement:         &announce.Announcement{Kind: announce.KindIssuance, Issuance: &announce.IssuanceBody{Chroma: eurChroma, TotalSupply: 2000}},
		IssuerSignatureValid: true,
	}
	addAndWaitAttached(t, g, attachedSub, issueEURTx)

	bob2 := scenarioKey(t)
	bob3 := scenarioKey(t)
	alice3 := scenarioKey(t)
	alice4 := scenarioKey(t)
	multi := wire.NewMsgTx(2)
	multi.AddTxIn(&wire.TxIn{PreviousOutPoint: wire.OutPoint{Hash: transferUSD.TxHash(), Index: 1}}) // Alice's 9000 USD
	multi.AddTxIn(&wire.TxIn{PreviousOutPoint: wire.OutPoint{Hash: issueEUR.TxHash(), Index: 0}})     // Alice's 2000 EUR
	bobUSDOut, bobUSDProof := pixelOutput(bob2, usdChroma, 500)
	aliceUSDOut, aliceUSDProof := pixelOutput(alice3, usdChroma, 8500)
	bobEUROut, bobEURProof := pixelOutput(bob3, eurChroma, 1000)
	aliceEUROut, aliceEURProof := pixelOutput(alice4, eurChroma, 1000)
	multi.AddTxOut(bobUSDOut)
	multi.AddTxOut(aliceUSDOut)
	multi.AddTxOut(bobEUROut)
	multi.AddTxOut(aliceEUROut)
	multiTx := &txcheck.YuvTx{
		Btx:  multi,
		Type: txcheck.TxTypeTransfer,
		InputProofs: map[uint32]pixel.Proof{
			0: aliceChangeProof,
			1: eurProof,
		},
		OutputProofs: map[uint32]pixel.Proof{
			0: bobUSDProof,
			1: aliceUSDProof,
			2: bobEURProof,
			3: aliceEURProof,
		},
	}
	addAndWaitAttached(t, g, attachedSub, multiTx)

	if lumaOfOutputProof(multiTx, 0) != 500 || lumaOfOutputProof(multiTx, 1) != 8500 {
		t.Fatalf("expected per-chroma USD conservation in the multichromatic transfer")
	}
	if lumaOfOutputProof(multiTx, 2) != 1000 || lumaOfOutputProof(multiTx, 3) != 1000 {
		t.Fatalf("expected per-chroma EUR conservation in the multichromatic transfer")
	}

	// S4 Freeze: USD issuer freezes outpoint 477df4...f5 — here, Bob's
	// 500 USD output from the multichromatic transfer.
	frozenOutpoint := wire.OutPoint{Hash: multi.TxHash(), Index: 0}
	freezeTx := wire.NewMsgTx(2)
	freezeTx.AddTxIn(&wire.TxIn{PreviousOutPoint: usdAnchor})
	freezeTx.AddTxOut(&wire.TxOut{Value: 0, PkScript: []byte{0x6a}})
	freezeYtx := &txcheck.YuvTx{
		Btx:  freezeTx,
		Type: txcheck.TxTypeAnnouncement,
		Announcement: &announce.Announcement{Kind: announce.KindFreeze, Freeze: &announce.FreezeBody{
			Chroma:       usdChroma,
			OutpointTxid: frozenOutpoint.Hash,
			OutpointVout: frozenOutpoint.Index,
		}},
	}
	addAndWaitAttached(t, g, attachedSub, freezeYtx)

	frozen, _ := w.freezeLookup(frozenOutpoint.Hash, frozenOutpoint.Index)
	if !frozen {
		t.Fatalf("expected outpoint to be frozen after S4")
	}

	bob2b := scenarioKey(t)
	spendFrozen := wire.NewMsgTx(2)
	spendFrozen.AddTxIn(&wire.TxIn{PreviousOutPoint: frozenOutpoint})
	frozenSpendOut, frozenSpendProof := pixelOutput(bob2b, usdChroma, 500)
	spendFrozen.AddTxOut(frozenSpendOut)
	spendFrozenTx := &txcheck.YuvTx{
		Btx:          spendFrozen,
		Type:         txcheck.TxTypeTransfer,
		InputProofs:  map[uint32]pixel.Proof{0: bobUSDProof},
		OutputProofs: map[uint32]pixel.Proof{0: frozenSpendProof},
	}
	if err := g.Add(context.Background(), spendFrozenTx); err == nil {
		t.Fatalf("expected Add to report the frozen-spend rejection")
	}
	select {
	case env := <-rejectedSub.C():
		if env.Event.Txid != txid(spendFrozenTx) {
			t.Fatalf("wrong txid rejected")
		}
		if env.Event.Reason != eventbus.ErrorBadAnnouncement {
			t.Fatalf("expected BadAnnouncement rejection for spending a frozen output, got %s", env.Event.Reason)
		}
	case <-time.After(time.Second):
		t.Fatal("expected Rejected event for spending a frozen output")
	}

	// S5 Unfreeze: USD issuer unfreezes the same outpoint; spending is
	// again permitted.
	unfreezeTx := wire.NewMsgTx(2)
	unfreezeTx.AddTxIn(&wire.TxIn{PreviousOutPoint: usdAnchor})
	unfreezeTx.AddTxOut(&wire.TxOut{Value: 0, PkScript: []byte{0x6a}})
	unfreezeYtx := &txcheck.YuvTx{
		Btx:  unfreezeTx,
		Type: txcheck.TxTypeAnnouncement,
		Announcement: &announce.Announcement{Kind: announce.KindUnfreeze, Freeze: &announce.FreezeBody{
			Chroma:       usdChroma,
			OutpointTxid: frozenOutpoint.Hash,
			OutpointVout: frozenOutpoint.Index,
		}},
	}
	addAndWaitAttached(t, g, attachedSub, unfreezeYtx)

	frozen, _ = w.freezeLookup(frozenOutpoint.Hash, frozenOutpoint.Index)
	if frozen {
		t.Fatalf("expected outpoint to be unfrozen after S5")
	}

	addAndWaitAttached(t, g, attachedSub, spendFrozenTx)
	if lumaOfOutputProof(spendFrozenTx, 0) != 500 {
		t.Fatalf("expected the previously-frozen output to spend cleanly once unfrozen")
	}
}

// TestScenarioMissingParentWaitsThenAttaches is S6: a transfer arrives
// whose parent tx is unknown. The graph must request the parent (the
// GetData-equivalent FetchParent hook) and keep the child pending until
// the parent shows up and attaches, at which point the child attaches too.
func TestScenarioMissingParentWaitsThenAttaches(t *testing.T) {
	w := newScenarioWorld()
	hub := eventbus.NewHub(32)
	defer hub.Close()
	attachedSub := hub.Attached.Subscribe()
	defer attachedSub.Unsubscribe()

	g := New(w.recheck, w.commit, w.fetchParent, w.isAttached, hub)

	issuer := scenarioKey(t)
	chroma := pixel.ChromaFromPubKey(issuer.PubKey())
	anchor := issuerAnchor(w, issuer, 0)

	alice := scenarioKey(t)
	parentTx := wire.NewMsgTx(2)
	parentTx.AddTxIn(&wire.TxIn{PreviousOutPoint: anchor})
	parentOut, parentProof := pixelOutput(alice, chroma, 5000)
	parentTx.AddTxOut(parentOut)
	parentYtx := &txcheck.YuvTx{
		Btx:                  parentTx,
		Type:                 txcheck.TxTypeIssue,
		OutputProofs:         map[uint32]pixel.Proof{0: parentProof},
		Announcement:         &announce.Announcement{Kind: announce.KindIssuance, Issuance: &announce.IssuanceBody{Chroma: chroma, TotalSupply: 5000}},
		IssuerSignatureValid: true,
	}
	parentID := txid(parentYtx)

	bob := scenarioKey(t)
	childTx := wire.NewMsgTx(2)
	childTx.AddTxIn(&wire.TxIn{PreviousOutPoint: wire.OutPoint{Hash: parentTx.TxHash(), Index: 0}})
	childOut, childProof := pixelOutput(bob, chroma, 5000)
	childTx.AddTxOut(childOut)
	childYtx := &txcheck.YuvTx{
		Btx:          childTx,
		Type:         txcheck.TxTypeTransfer,
		InputProofs:  map[uint32]pixel.Proof{0: parentProof},
		OutputProofs: map[uint32]pixel.Proof{0: childProof},
	}

	if err := g.Add(context.Background(), childYtx); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if len(w.fetched) != 1 || w.fetched[0] != parentID {
		t.Fatalf("expected a fetch request for the missing parent %x, got %v", parentID, w.fetched)
	}
	if _, ok := g.GetTx(txid(childYtx)); !ok {
		t.Fatalf("expected the child to remain pending while its parent is unknown")
	}

	// Parent arrives and attaches normally; the child should then attach
	// in turn, without a second Add call.
	addAndWaitAttached(t, g, attachedSub, parentYtx)
	select {
	case env := <-attachedSub.C():
		if env.Event.Txid != txid(childYtx) {
			t.Fatalf("got Attached for wrong txid")
		}
	case <-time.After(time.Second):
		t.Fatal("expected the child to attach once its parent did")
	}
}

// TestScenarioMissingParentRejectedAfterCleanupTimeout covers the other
// half of S6: if the parent never shows up, the waiting child is
// eventually evicted by the same outdated-entry cleanup path
// TestGraphCleanupEvictsOutdatedEntries exercises directly.
func TestScenarioMissingParentRejectedAfterCleanupTimeout(t *testing.T) {
	w := newScenarioWorld()
	hub := eventbus.NewHub(32)
	defer hub.Close()
	rejectedSub := hub.Rejected.Subscribe()
	defer rejectedSub.Unsubscribe()

	g := New(w.recheck, w.commit, w.fetchParent, w.isAttached, hub, WithOutdatedDuration(time.Minute))

	issuer := scenarioKey(t)
	chroma := pixel.ChromaFromPubKey(issuer.PubKey())

	unknownParent := chainhash.Hash{0x47, 0x7d, 0xf4}
	bob := scenarioKey(t)
	childTx := wire.NewMsgTx(2)
	childTx.AddTxIn(&wire.TxIn{PreviousOutPoint: wire.OutPoint{Hash: unknownParent, Index: 0}})
	childOut, childProof := pixelOutput(bob, chroma, 100)
	childTx.AddTxOut(childOut)
	childYtx := &txcheck.YuvTx{
		Btx:          childTx,
		Type:         txcheck.TxTypeTransfer,
		OutputProofs: map[uint32]pixel.Proof{0: childProof},
	}

	if err := g.Add(context.Background(), childYtx); err != nil {
		t.Fatalf("Add: %v", err)
	}

	g.Cleanup(time.Now().Add(2 * time.Minute))

	select {
	case env := <-rejectedSub.C():
		if env.Event.Txid != txid(childYtx) {
			t.Fatalf("wrong txid rejected")
		}
	case <-time.After(time.Second):
		t.Fatal("expected the orphaned child to be rejected once it outlives the outdated window")
	}
	if _, ok := g.GetTx(txid(childYtx)); ok {
		t.Fatalf("expected the orphaned child to be evicted from the graph")
	}
}

func lumaOfOutputProof(ytx *txcheck.YuvTx, idx uint32) uint64 {
	sp, ok := ytx.OutputProofs[idx].(*pixel.SigProof)
	if !ok {
		return 0
	}
	return uint64(sp.Pixel.Luma)
}
