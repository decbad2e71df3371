package indexer

import (
	"context"
	"fmt"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"go.uber.org/zap"

	"yuvprotocol.org/node/bitcoinrpc"
	"yuvprotocol.org/node/eventbus"
	"yuvprotocol.org/node/pixel"
	"yuvprotocol.org/node/pixel/announce"
	"yuvprotocol.org/node/storage"
)

type fakeChain struct {
	hashes []chainhash.Hash
	blocks map[chainhash.Hash]*bitcoinrpc.BlockWithTxs
}

func newFakeChain(n int) *fakeChain {
	fc := &fakeChain{blocks: make(map[chainhash.Hash]*bitcoinrpc.BlockWithTxs)}
	var prev chainhash.Hash
	for h := 0; h < n; h++ {
		hash := chainhash.Hash{byte(h + 1)}
		block := &bitcoinrpc.BlockWithTxs{
			Hash:         hash,
			Height:       int64(h),
			PreviousHash: prev,
			Txs:          []*wire.MsgTx{wire.NewMsgTx(2)},
		}
		fc.hashes = append(fc.hashes, hash)
		fc.blocks[hash] = block
		prev = hash
	}
	return fc
}

func (f *fakeChain) GetBestBlockHash() (*chainhash.Hash, error) {
	h := f.hashes[len(f.hashes)-1]
	return &h, nil
}

func (f *fakeChain) GetBlockHash(height int64) (*chainhash.Hash, error) {
	if height < 0 || int(height) >= len(f.hashes) {
		return nil, fmt.Errorf("height out of range: %d", height)
	}
	h := f.hashes[height]
	return &h, nil
}

func (f *fakeChain) GetBlockVerboseTx(hash *chainhash.Hash) (*bitcoinrpc.BlockWithTxs, error) {
	b, ok := f.blocks[*hash]
	if !ok {
		return nil, fmt.Errorf("unknown block %s", hash)
	}
	return b, nil
}

func (f *fakeChain) GetBlockHeaderVerbose(hash *chainhash.Hash) (*bitcoinrpc.BlockHeaderInfo, error) {
	b, ok := f.blocks[*hash]
	if !ok {
		return nil, fmt.Errorf("unknown block %s", hash)
	}
	return &bitcoinrpc.BlockHeaderInfo{Hash: b.Hash, Height: b.Height, PreviousHash: b.PreviousHash}, nil
}

func (f *fakeChain) GetRawTransactionVerbose(txid *chainhash.Hash) (*bitcoinrpc.RawTxInfo, error) {
	return nil, fmt.Errorf("not implemented")
}

func (f *fakeChain) SendRawTransaction(tx *wire.MsgTx) (*chainhash.Hash, error) {
	return nil, fmt.Errorf("not implemented")
}

func (f *fakeChain) EstimateSmartFee(confTarget int64) (float64, error) { return 0, nil }

func (f *fakeChain) GetTxOut(txid *chainhash.Hash, vout uint32) (*bitcoinrpc.TxOutInfo, error) {
	return nil, fmt.Errorf("not implemented")
}

func (f *fakeChain) Close() {}

type fakeCursorStore struct {
	cursors map[string]storage.Cursor
}

func newFakeCursorStore() *fakeCursorStore {
	return &fakeCursorStore{cursors: make(map[string]storage.Cursor)}
}

func (s *fakeCursorStore) GetCursor(ctx context.Context, name string) (storage.Cursor, bool, error) {
	c, ok := s.cursors[name]
	return c, ok, nil
}

func (s *fakeCursorStore) SetCursor(ctx context.Context, name string, c storage.Cursor) error {
	s.cursors[name] = c
	return nil
}

type countingSubindexer struct {
	heights []uint32
}

func (c *countingSubindexer) Index(ctx context.Context, block *bitcoinrpc.BlockWithTxs, height uint32) error {
	c.heights = append(c.heights, height)
	return nil
}

func TestBlockIndexerInitIndexesFromGenesisToTip(t *testing.T) {
	chain := newFakeChain(10)
	cursors := newFakeCursorStore()
	sub := &countingSubindexer{}

	idx := NewBlockIndexer(chain, cursors, zap.NewNop())
	idx.AddSubindexer(sub)

	if err := idx.Init(context.Background(), IndexingParams{IndexStepBack: 0}); err != nil {
		t.Fatalf("Init: %v", err)
	}

	if len(sub.heights) != 10 {
		t.Fatalf("expected 10 blocks indexed, got %d: %v", len(sub.heights), sub.heights)
	}
	for i, h := range sub.heights {
		if h != uint32(i) {
			t.Fatalf("expected strictly ascending heights, got %v", sub.heights)
		}
	}

	cursor, ok, err := cursors.GetCursor(context.Background(), cursorName)
	if err != nil || !ok {
		t.Fatalf("expected cursor to be set, err=%v ok=%v", err, ok)
	}
	if cursor.Height != 9 {
		t.Fatalf("expected cursor at height 9, got %d", cursor.Height)
	}
}

func TestBlockIndexerHandleNewBlocksIsIncremental(t *testing.T) {
	chain := newFakeChain(5)
	cursors := newFakeCursorStore()
	sub := &countingSubindexer{}

	idx := NewBlockIndexer(chain, cursors, zap.NewNop())
	idx.AddSubindexer(sub)

	if err := idx.Init(context.Background(), IndexingParams{}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	firstRunCount := len(sub.heights)

	if err := idx.handleNewBlocks(context.Background()); err != nil {
		t.Fatalf("handleNewBlocks: %v", err)
	}
	if len(sub.heights) != firstRunCount {
		t.Fatalf("expected no new blocks indexed on second pass, got %d new", len(sub.heights)-firstRunCount)
	}
}

func TestBlockIndexerStepBackRewindsCursor(t *testing.T) {
	chain := newFakeChain(20)
	cursors := newFakeCursorStore()
	hash9, _ := chain.GetBlockHash(9)
	var h9 [32]byte
	copy(h9[:], hash9[:])
	cursors.cursors[cursorName] = storage.Cursor{Height: 9, Hash: h9}

	sub := &countingSubindexer{}
	idx := NewBlockIndexer(chain, cursors, zap.NewNop())
	idx.AddSubindexer(sub)

	if err := idx.Init(context.Background(), IndexingParams{IndexStepBack: 3}); err != nil {
		t.Fatalf("Init: %v", err)
	}

	if sub.heights[0] != 7 {
		t.Fatalf("expected indexing to resume at height 7 (9-3+1), first indexed height was %d", sub.heights[0])
	}
}

func TestOpReturnDataExtractsSinglePush(t *testing.T) {
	payload := []byte("hello")
	script := append([]byte{0x6a, byte(len(payload))}, payload...)
	data, ok := opReturnData(script)
	if !ok {
		t.Fatalf("expected ok")
	}
	if string(data) != "hello" {
		t.Fatalf("got %q", data)
	}
}

func TestOpReturnDataRejectsNonOpReturn(t *testing.T) {
	if _, ok := opReturnData([]byte{0x76, 0xa9}); ok {
		t.Fatalf("expected not-ok for non-OP_RETURN script")
	}
}

// freezeAnnouncementChain builds a fake chain whose block 3 carries a
// single Freeze announcement for (477df4…f5, 0), the outpoint named in
// the canonical S4 walkthrough, so re-indexing it twice can be compared
// byte-for-byte against itself.
func freezeAnnouncementChain(n int) *fakeChain {
	fc := newFakeChain(n)

	// A valid x-only key (the secp256k1 generator's x-coordinate): Parse
	// rejects a chroma that is not on the curve.
	chroma := pixel.Chroma{
		0x79, 0xbe, 0x66, 0x7e, 0xf9, 0xdc, 0xbb, 0xac, 0x55, 0xa0, 0x62, 0x95, 0xce, 0x87, 0x0b, 0x07,
		0x02, 0x9b, 0xfc, 0xdb, 0x2d, 0xce, 0x28, 0xd9, 0x59, 0xf2, 0x81, 0x5b, 0x16, 0xf8, 0x17, 0x98,
	}
	var outpointTxid [32]byte
	outpointTxid[0] = 0x47
	outpointTxid[1] = 0x7d
	outpointTxid[31] = 0xf5

	ann := &announce.Announcement{
		Kind: announce.KindFreeze,
		Freeze: &announce.FreezeBody{
			Chroma:       chroma,
			OutpointTxid: outpointTxid,
			OutpointVout: 0,
		},
	}
	body, err := ann.Serialize()
	if err != nil {
		panic(err)
	}

	freezeTx := wire.NewMsgTx(2)
	script := append([]byte{0x6a, byte(len(body))}, body...)
	freezeTx.AddTxOut(&wire.TxOut{PkScript: script})

	hash := fc.hashes[3]
	fc.blocks[hash].Txs = append(fc.blocks[hash].Txs, freezeTx)
	return fc
}

// runFreezeIndexingPass re-indexes a fresh copy of the same block range
// from genesis and returns every FreezeToggled event it emits, in order.
func runFreezeIndexingPass(t *testing.T, chain *fakeChain) []eventbus.FreezeToggled {
	t.Helper()

	hub := eventbus.NewHub(32)
	defer hub.Close()
	sub := hub.FreezeToggled.Subscribe()
	defer sub.Unsubscribe()

	cursors := newFakeCursorStore()
	idx := NewBlockIndexer(chain, cursors, zap.NewNop())
	idx.AddSubindexer(NewAnnouncementIndexer(hub))

	if err := idx.Init(context.Background(), IndexingParams{}); err != nil {
		t.Fatalf("Init: %v", err)
	}

	var got []eventbus.FreezeToggled
	for {
		select {
		case env := <-sub.C():
			got = append(got, env.Event)
		default:
			return got
		}
	}
}

// TestIndexerIsIdempotentAcrossRepeatedPasses re-indexes the same block
// range twice, from independent cursor stores, and checks the two passes
// emit an identical FreezeToggled sequence.
func TestIndexerIsIdempotentAcrossRepeatedPasses(t *testing.T) {
	chain := freezeAnnouncementChain(10)

	first := runFreezeIndexingPass(t, chain)
	second := runFreezeIndexingPass(t, chain)

	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("expected exactly one FreezeToggled per pass, got first=%d second=%d", len(first), len(second))
	}
	if first[0] != second[0] {
		t.Fatalf("expected identical event sequences across passes, got %+v vs %+v", first[0], second[0])
	}
	if !first[0].NewState {
		t.Fatalf("expected Freeze announcement to toggle state to frozen")
	}
}
