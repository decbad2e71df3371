package indexer

import (
	"context"

	"yuvprotocol.org/node/bitcoinrpc"
)

// Subindexer processes one confirmed block, named and shaped after
// original_source/crates/indexers/src/subindexer/mod.rs's Subindexer trait.
type Subindexer interface {
	Index(ctx context.Context, block *bitcoinrpc.BlockWithTxs, height uint32) error
}
