package indexer

import (
	"context"
	"sync"
	"time"

	"yuvprotocol.org/node/bitcoinrpc"
	"yuvprotocol.org/node/eventbus"
	"yuvprotocol.org/node/txcheck"
)

// ConfirmationIndexer waits for YUV transactions the controller has seen
// unconfirmed (e.g. over P2P) to appear in a confirmed block, named and
// shaped after
// original_source/crates/indexers/src/subindexer/confirmation.rs.
type ConfirmationIndexer struct {
	hub               *eventbus.Hub
	maxConfirmTime    time.Duration

	mu    sync.Mutex
	queue map[[32]byte]pendingConfirmation
}

type pendingConfirmation struct {
	tx        *txcheck.YuvTx
	createdAt time.Time
}

func NewConfirmationIndexer(hub *eventbus.Hub, maxConfirmTime time.Duration) *ConfirmationIndexer {
	return &ConfirmationIndexer{
		hub:            hub,
		maxConfirmTime: maxConfirmTime,
		queue:          make(map[[32]byte]pendingConfirmation),
	}
}

// WatchUnconfirmed registers a transaction the controller observed
// unconfirmed, so it's evicted with Rejected(Expired) if it never
// confirms within maxConfirmTime.
func (c *ConfirmationIndexer) WatchUnconfirmed(txid [32]byte, tx *txcheck.YuvTx) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queue[txid] = pendingConfirmation{tx: tx, createdAt: time.Now()}
}

// Index removes every txid in the block from the pending queue; it publishes
// no event for a confirmed transaction. It then evicts anything that has
// waited past maxConfirmTime, publishing Rejected(Expired) for it.
func (c *ConfirmationIndexer) Index(ctx context.Context, block *bitcoinrpc.BlockWithTxs, height uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.queue) == 0 {
		return nil
	}

	for _, tx := range block.Txs {
		var id [32]byte
		h := tx.TxHash()
		copy(id[:], h[:])
		if _, waiting := c.queue[id]; waiting {
			delete(c.queue, id)
		}
	}

	now := time.Now()
	for id, p := range c.queue {
		if now.Sub(p.createdAt) > c.maxConfirmTime {
			delete(c.queue, id)
			c.hub.Rejected.Publish(eventbus.Rejected{Txid: id, Reason: eventbus.ErrorExpired})
		}
	}
	return nil
}
