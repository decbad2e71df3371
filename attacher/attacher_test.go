package attacher

import (
	"context"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"yuvprotocol.org/node/eventbus"
	"yuvprotocol.org/node/txcheck"
)

func txWithParent(parent [32]byte) *txcheck.YuvTx {
	btx := wire.NewMsgTx(2)
	var h chainhash.Hash
	copy(h[:], parent[:])
	btx.AddTxIn(&wire.TxIn{PreviousOutPoint: wire.OutPoint{Hash: h, Index: 0}})
	btx.AddTxOut(&wire.TxOut{Value: 1000})
	return &txcheck.YuvTx{Btx: btx, Type: txcheck.TxTypeTransfer}
}

func genesisTx() *txcheck.YuvTx {
	btx := wire.NewMsgTx(2)
	btx.AddTxOut(&wire.TxOut{Value: 1000})
	return &txcheck.YuvTx{Btx: btx, Type: txcheck.TxTypeTransfer}
}

func TestGraphAddWithNoMissingParentsAttachesImmediately(t *testing.T) {
	hub := eventbus.NewHub(8)
	defer hub.Close()
	sub := hub.Attached.Subscribe()
	defer sub.Unsubscribe()

	committed := make(map[[32]byte]bool)
	g := New(
		nil,
		func(tx *txcheck.YuvTx) error {
			committed[txid(tx)] = true
			return nil
		},
		nil,
		func([32]byte) bool { return false },
		hub,
	)

	tx := genesisTx()
	if err := g.Add(context.Background(), tx); err != nil {
		t.Fatalf("Add: %v", err)
	}

	select {
	case env := <-sub.C():
		if env.Event.Txid != txid(tx) {
			t.Fatalf("got attached for wrong txid")
		}
	case <-time.After(time.Second):
		t.Fatal("expected Attached event")
	}

	if !committed[txid(tx)] {
		t.Fatalf("expected commit to run")
	}
}

func TestGraphWaitsForMissingParentThenPromotes(t *testing.T) {
	hub := eventbus.NewHub(8)
	defer hub.Close()
	sub := hub.Attached.Subscribe()
	defer sub.Unsubscribe()

	var fetchedParents []([32]byte)
	g := New(
		nil,
		func(tx *txcheck.YuvTx) error { return nil },
		func(ctx context.Context, parent [32]byte) error {
			fetchedParents = append(fetchedParents, parent)
			return nil
		},
		func([32]byte) bool { return false },
		hub,
	)

	parent := [32]byte{9, 9, 9}
	child := txWithParent(parent)

	if err := g.Add(context.Background(), child); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if len(fetchedParents) != 1 || fetchedParents[0] != parent {
		t.Fatalf("expected a fetch request for the missing parent, got %v", fetchedParents)
	}

	select {
	case <-sub.C():
		t.Fatal("child should not be attached yet")
	case <-time.After(50 * time.Millisecond):
	}

	if err := g.OnParentAttached(context.Background(), parent); err != nil {
		t.Fatalf("OnParentAttached: %v", err)
	}

	select {
	case env := <-sub.C():
		if env.Event.Txid != txid(child) {
			t.Fatalf("got attached for wrong txid")
		}
	case <-time.After(time.Second):
		t.Fatal("expected child to attach after parent arrived")
	}
}

func TestGraphSkipsParentsAlreadyAttached(t *testing.T) {
	hub := eventbus.NewHub(8)
	defer hub.Close()
	sub := hub.Attached.Subscribe()
	defer sub.Unsubscribe()

	parent := [32]byte{5}
	g := New(
		nil,
		func(tx *txcheck.YuvTx) error { return nil },
		func(ctx context.Context, p [32]byte) error { return nil },
		func(p [32]byte) bool { return p == parent },
		hub,
	)

	child := txWithParent(parent)
	if err := g.Add(context.Background(), child); err != nil {
		t.Fatalf("Add: %v", err)
	}

	select {
	case env := <-sub.C():
		if env.Event.Txid != txid(child) {
			t.Fatalf("wrong txid attached")
		}
	case <-time.After(time.Second):
		t.Fatal("expected immediate attach since parent is already attached")
	}
}

func TestGraphRejectsSubtreeOnFailedRecheck(t *testing.T) {
	hub := eventbus.NewHub(8)
	defer hub.Close()
	sub := hub.Rejected.Subscribe()
	defer sub.Unsubscribe()

	parent := [32]byte{7}
	g := New(
		func(tx *txcheck.YuvTx) error { return errRecheckFailed },
		func(tx *txcheck.YuvTx) error { return nil },
		func(ctx context.Context, p [32]byte) error { return nil },
		func([32]byte) bool { return false },
		hub,
	)

	child := txWithParent(parent)
	_ = g.Add(context.Background(), child)
	_ = g.OnParentAttached(context.Background(), parent)

	select {
	case env := <-sub.C():
		if env.Event.Txid != txid(child) {
			t.Fatalf("wrong txid rejected")
		}
	case <-time.After(time.Second):
		t.Fatal("expected Rejected event")
	}

	if _, ok := g.GetTx(txid(child)); ok {
		t.Fatalf("expected rejected tx to be evicted from the graph")
	}
}

func TestGraphCleanupEvictsOutdatedEntries(t *testing.T) {
	hub := eventbus.NewHub(8)
	defer hub.Close()
	sub := hub.Rejected.Subscribe()
	defer sub.Unsubscribe()

	g := New(
		nil,
		func(tx *txcheck.YuvTx) error { return nil },
		func(ctx context.Context, p [32]byte) error { return nil },
		func([32]byte) bool { return false },
		hub,
		WithOutdatedDuration(time.Minute),
	)

	parent := [32]byte{3}
	child := txWithParent(parent)
	_ = g.Add(context.Background(), child)

	g.Cleanup(time.Now().Add(2 * time.Minute))

	select {
	case env := <-sub.C():
		if env.Event.Reason != eventbus.ErrorExpired {
			t.Fatalf("expected Expired reason, got %s", env.Event.Reason)
		}
	case <-time.After(time.Second):
		t.Fatal("expected Rejected(Expired) event")
	}

	if _, ok := g.GetTx(txid(child)); ok {
		t.Fatalf("expected outdated tx to be evicted")
	}
}

type simpleErr string

func (e simpleErr) Error() string { return string(e) }

const errRecheckFailed = simpleErr("recheck failed")
