package bolt

import (
	"bytes"
	"context"
	"testing"

	"yuvprotocol.org/node/pixel"
	"yuvprotocol.org/node/storage"
)

func TestDB_PutGetListTxs(t *testing.T) {
	datadir := t.TempDir()
	db, err := Open(datadir, "regtest")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()

	mk := func(b byte) storage.AttachedTx {
		var txid [32]byte
		txid[0] = b
		return storage.AttachedTx{
			Txid:         txid,
			RawTx:        []byte{0xde, 0xad, b},
			InputProofs:  map[uint32][]byte{0: {0x01}},
			OutputProofs: map[uint32][]byte{0: {0x02, 0x03}, 1: {0x04}},
			BlockHeight:  100,
			BlockTxIndex: uint32(b),
		}
	}

	txs := []storage.AttachedTx{mk(1), mk(2), mk(3)}
	for _, tx := range txs {
		if err := db.PutTx(ctx, tx); err != nil {
			t.Fatalf("PutTx: %v", err)
		}
	}

	got, ok, err := db.GetTx(ctx, txs[1].Txid)
	if err != nil || !ok {
		t.Fatalf("GetTx: ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(got.RawTx, txs[1].RawTx) {
		t.Fatalf("raw tx mismatch: got %x want %x", got.RawTx, txs[1].RawTx)
	}
	if !bytes.Equal(got.OutputProofs[1], txs[1].OutputProofs[1]) {
		t.Fatalf("output proof mismatch")
	}

	list, err := db.ListTxs(ctx, [32]byte{}, 10)
	if err != nil {
		t.Fatalf("ListTxs: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 txs, got %d", len(list))
	}
	if list[0].Txid != txs[0].Txid || list[2].Txid != txs[2].Txid {
		t.Fatalf("ListTxs out of insertion order: %+v", list)
	}

	page, err := db.ListTxs(ctx, txs[0].Txid, 10)
	if err != nil {
		t.Fatalf("ListTxs paged: %v", err)
	}
	if len(page) != 2 || page[0].Txid != txs[1].Txid {
		t.Fatalf("paged ListTxs mismatch: %+v", page)
	}
}

func TestDB_FreezeState(t *testing.T) {
	datadir := t.TempDir()
	db, err := Open(datadir, "regtest")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	point := storage.OutPoint{Hash: [32]byte{9}, Index: 1}
	var chroma pixel.Chroma
	chroma[0] = 0xaa

	frozen, err := db.IsFrozen(ctx, point)
	if err != nil || frozen {
		t.Fatalf("expected unfrozen by default, got frozen=%v err=%v", frozen, err)
	}

	if err := db.SetFrozen(ctx, point, chroma, true, 42); err != nil {
		t.Fatalf("SetFrozen: %v", err)
	}
	frozen, err = db.IsFrozen(ctx, point)
	if err != nil || !frozen {
		t.Fatalf("expected frozen, got frozen=%v err=%v", frozen, err)
	}
}

func TestDB_Cursor(t *testing.T) {
	datadir := t.TempDir()
	db, err := Open(datadir, "regtest")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	_, ok, err := db.GetCursor(ctx, "confirmation")
	if err != nil || ok {
		t.Fatalf("expected no cursor yet, got ok=%v err=%v", ok, err)
	}

	c := storage.Cursor{Height: 123, Hash: [32]byte{7}}
	if err := db.SetCursor(ctx, "confirmation", c); err != nil {
		t.Fatalf("SetCursor: %v", err)
	}
	got, ok, err := db.GetCursor(ctx, "confirmation")
	if err != nil || !ok {
		t.Fatalf("GetCursor: ok=%v err=%v", ok, err)
	}
	if got != c {
		t.Fatalf("got %+v want %+v", got, c)
	}
}

func TestDB_ReopenPreservesData(t *testing.T) {
	datadir := t.TempDir()
	db, err := Open(datadir, "regtest")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	ctx := context.Background()
	var txid [32]byte
	txid[0] = 5
	if err := db.PutTx(ctx, storage.AttachedTx{Txid: txid, RawTx: []byte{1, 2, 3}}); err != nil {
		t.Fatalf("PutTx: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db2, err := Open(datadir, "regtest")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { _ = db2.Close() })

	got, ok, err := db2.GetTx(ctx, txid)
	if err != nil || !ok {
		t.Fatalf("GetTx after reopen: ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(got.RawTx, []byte{1, 2, 3}) {
		t.Fatalf("raw tx mismatch after reopen")
	}
}
