package txcheck

import (
	"context"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"yuvprotocol.org/node/pixel"
)

func newChroma(t *testing.T) (pixel.Chroma, *btcec.PrivateKey) {
	t.Helper()
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatalf("NewPrivateKey: %v", err)
	}
	return pixel.ChromaFromPubKey(priv.PubKey()), priv
}

func barePubkeyScript(pub *btcec.PublicKey) []byte {
	out := make([]byte, 0, 35)
	out = append(out, 0x21)
	out = append(out, pub.SerializeCompressed()...)
	out = append(out, 0xac)
	return out
}

func buildTransferTx(t *testing.T) (*YuvTx, map[uint32]InputContext, map[uint32]InputContext) {
	t.Helper()
	chroma, _ := newChroma(t)

	innerIn, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatalf("NewPrivateKey: %v", err)
	}
	innerOut1, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatalf("NewPrivateKey: %v", err)
	}
	innerOut2, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatalf("NewPrivateKey: %v", err)
	}

	inPixel := pixel.Pixel{Chroma: chroma, Luma: 10000}
	out1Pixel := pixel.Pixel{Chroma: chroma, Luma: 1000}
	out2Pixel := pixel.Pixel{Chroma: chroma, Luma: 9000}

	inTweaked := pixel.TweakFullKey(innerIn.PubKey(), inPixel.Chroma, inPixel.Luma)
	out1Tweaked := pixel.TweakFullKey(innerOut1.PubKey(), out1Pixel.Chroma, out1Pixel.Luma)
	out2Tweaked := pixel.TweakFullKey(innerOut2.PubKey(), out2Pixel.Chroma, out2Pixel.Luma)

	btx := wire.NewMsgTx(2)
	btx.AddTxIn(&wire.TxIn{PreviousOutPoint: wire.OutPoint{Hash: chainhash.Hash{1}, Index: 0}})
	btx.AddTxOut(&wire.TxOut{Value: 1000, PkScript: barePubkeyScript(out1Tweaked)})
	btx.AddTxOut(&wire.TxOut{Value: 1000, PkScript: barePubkeyScript(out2Tweaked)})

	ytx := &YuvTx{
		Btx:  btx,
		Type: TxTypeTransfer,
		InputProofs: map[uint32]pixel.Proof{
			0: &pixel.SigProof{Pixel: inPixel, InnerKey: innerIn.PubKey()},
		},
		OutputProofs: map[uint32]pixel.Proof{
			0: &pixel.SigProof{Pixel: out1Pixel, InnerKey: innerOut1.PubKey()},
			1: &pixel.SigProof{Pixel: out2Pixel, InnerKey: innerOut2.PubKey()},
		},
	}

	inputs := map[uint32]InputContext{0: {ScriptKey: inTweaked, IsTaproot: false}}
	outputs := map[uint32]InputContext{
		0: {ScriptKey: out1Tweaked, IsTaproot: false},
		1: {ScriptKey: out2Tweaked, IsTaproot: false},
	}
	return ytx, inputs, outputs
}

func TestCheckValidTransfer(t *testing.T) {
	ytx, inputs, outputs := buildTransferTx(t)
	if err := Check(ytx, inputs, outputs, nil, nil, nil); err != nil {
		t.Fatalf("expected valid transfer, got %v", err)
	}
}

func TestCheckRejectsUnbalancedTransfer(t *testing.T) {
	ytx, inputs, outputs := buildTransferTx(t)
	// Tamper with the claimed luma without updating the commitment: the
	// commitment-binding check on output 1 will catch this before
	// balance even runs, which is the correct order (steps 2/3 precede 4).
	if sp, ok := ytx.OutputProofs[1].(*pixel.SigProof); ok {
		sp.Pixel.Luma = 8000
	}
	err := Check(ytx, inputs, outputs, nil, nil, nil)
	if err == nil {
		t.Fatalf("expected error")
	}
	ce, ok := err.(*CheckError)
	if !ok || ce.Kind != ErrBadProof {
		t.Fatalf("got %v, want BadProof", err)
	}
}

func TestCheckRejectsOutOfRangeProofIndex(t *testing.T) {
	ytx, inputs, outputs := buildTransferTx(t)
	ytx.OutputProofs[5] = ytx.OutputProofs[0]
	err := Check(ytx, inputs, outputs, nil, nil, nil)
	ce, ok := err.(*CheckError)
	if !ok || ce.Kind != ErrMalformed {
		t.Fatalf("got %v, want Malformed", err)
	}
}

func TestCheckNotFrozenRejectsFrozenInput(t *testing.T) {
	ytx, inputs, outputs := buildTransferTx(t)
	freeze := func(txid chainhash.Hash, vout uint32) (bool, error) { return true, nil }
	err := Check(ytx, inputs, outputs, nil, freeze, nil)
	ce, ok := err.(*CheckError)
	if !ok || ce.Kind != ErrBadAnnouncement {
		t.Fatalf("got %v, want BadAnnouncement (frozen)", err)
	}
}

func TestPoolCheckAllRunsEveryJob(t *testing.T) {
	ytxOK, inputsOK, outputsOK := buildTransferTx(t)
	ytxBad, inputsBad, outputsBad := buildTransferTx(t)
	ytxBad.OutputProofs[9] = ytxBad.OutputProofs[0]

	pool := NewPool(2)
	results := pool.CheckAll(context.Background(), []Job{
		{Tx: ytxOK, Inputs: inputsOK, Outputs: outputsOK},
		{Tx: ytxBad, Inputs: inputsBad, Outputs: outputsBad},
	}, nil)

	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Err != nil {
		t.Fatalf("expected job 0 to pass, got %v", results[0].Err)
	}
	if results[1].Err == nil {
		t.Fatalf("expected job 1 to fail")
	}
}
