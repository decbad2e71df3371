// Package storage defines the abstract persistence contract the rest of the
// node depends on: attached transactions, freeze records, and the indexer's
// resumption cursor. storage/bolt provides the concrete go.etcd.io/bbolt
// implementation.
package storage

import (
	"context"

	"yuvprotocol.org/node/pixel"
)

// AttachedTx is what the attacher commits atomically once a transaction's
// parents are known and it passes the balance/freeze re-check.
type AttachedTx struct {
	Txid          [32]byte
	RawTx         []byte
	InputProofs   map[uint32][]byte
	OutputProofs  map[uint32][]byte
	BlockHeight   uint32
	BlockTxIndex  uint32
}

// TxStore persists attached YUV transactions and answers the
// getrawyuvtransaction / getlistrawyuvtransactions / providelistyuvproofs
// JSON-RPC surface.
type TxStore interface {
	PutTx(ctx context.Context, tx AttachedTx) error
	GetTx(ctx context.Context, txid [32]byte) (AttachedTx, bool, error)
	// ListTxs returns attached txs ordered by insertion, starting after
	// `afterTxid` (the zero value starts from the beginning).
	ListTxs(ctx context.Context, afterTxid [32]byte, limit int) ([]AttachedTx, error)
}

// FreezeRecord is one freeze/unfreeze toggle observed in an announcement.
type FreezeRecord struct {
	Outpoint    OutPoint
	Chroma      pixel.Chroma
	Frozen      bool
	BlockHeight uint32
}

// OutPoint mirrors wire.OutPoint without importing the wire package, so
// storage has no Bitcoin-library dependency beyond [32]byte hashes.
type OutPoint struct {
	Hash  [32]byte
	Index uint32
}

// FreezeStore tracks the current frozen/unfrozen state of outpoints, for
// isyuvtxoutfrozen and for the checker's freeze-consistency rule.
type FreezeStore interface {
	SetFrozen(ctx context.Context, point OutPoint, chroma pixel.Chroma, frozen bool, blockHeight uint32) error
	IsFrozen(ctx context.Context, point OutPoint) (bool, error)
}

// Cursor is the indexer's resumption point: the last block height and hash
// it has fully processed, so a restart resumes instead of re-scanning.
type Cursor struct {
	Height uint32
	Hash   [32]byte
}

// CursorStore persists indexer cursors by name; the block indexer keeps one
// cursor shared by its confirmation and announcement sub-indexers.
type CursorStore interface {
	GetCursor(ctx context.Context, name string) (Cursor, bool, error)
	SetCursor(ctx context.Context, name string, c Cursor) error
}

// Store is the full persistence surface a storage engine must provide.
type Store interface {
	TxStore
	FreezeStore
	CursorStore
	Close() error
}
