// Package controller is the mediator layer: it glues P2P, the isolated
// checker, the attacher, the indexer, and the JSON-RPC server together,
// owning no protocol logic of its own beyond routing and de-duplication.
package controller

import (
	"context"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"yuvprotocol.org/node/attacher"
	"yuvprotocol.org/node/eventbus"
	"yuvprotocol.org/node/p2p"
	"yuvprotocol.org/node/pixel"
	"yuvprotocol.org/node/txcheck"
)

const defaultDedupSize = 100_000

// Broadcaster sends an Inv/GetData payload to connected peers; supplied by
// the P2P layer so the controller stays transport-agnostic.
type Broadcaster interface {
	BroadcastInv(vecs []p2p.InvVector)
	SendGetData(peer string, vecs []p2p.InvVector)
}

// Config tunes the controller's inventory-sharing and de-duplication
// behavior (spec.md §4.5).
type Config struct {
	InvSharingInterval time.Duration
	MaxInvSize         int
	DedupSize          int
}

func DefaultConfig() Config {
	return Config{
		InvSharingInterval: 30 * time.Second,
		MaxInvSize:         5000,
		DedupSize:          defaultDedupSize,
	}
}

// UnconfirmedWatcher registers a transaction that passed the checker but
// whose underlying Bitcoin transaction has not yet confirmed, so it can be
// evicted if it never does.
type UnconfirmedWatcher interface {
	WatchUnconfirmed(txid [32]byte, tx *txcheck.YuvTx)
}

// Controller mediates between P2P, the checker pool, the attacher, and the
// event bus.
type Controller struct {
	cfg     Config
	hub     *eventbus.Hub
	pool    *txcheck.Pool
	graph   *attacher.Graph
	bcast   Broadcaster
	log     *zap.Logger
	unconf  UnconfirmedWatcher

	// seen is an advisory bound on txids the controller has already
	// routed through the checker, never authoritative — storage remains
	// the source of truth, per spec.md §4.5.
	seen *lru.Cache[[32]byte, struct{}]
}

// SetUnconfirmedWatcher wires the confirmation indexer in after
// construction, mirroring p2p.Manager.SetHandlers: the confirmation
// indexer and the controller each need the other's collaborator
// (storage/hub vs. HandleNewTx) built first, so main wires this second.
func (c *Controller) SetUnconfirmedWatcher(w UnconfirmedWatcher) {
	c.unconf = w
}

func New(cfg Config, hub *eventbus.Hub, pool *txcheck.Pool, graph *attacher.Graph, bcast Broadcaster, log *zap.Logger) (*Controller, error) {
	if cfg.DedupSize <= 0 {
		cfg.DedupSize = defaultDedupSize
	}
	seen, err := lru.New[[32]byte, struct{}](cfg.DedupSize)
	if err != nil {
		return nil, fmt.Errorf("controller: build dedup cache: %w", err)
	}
	return &Controller{cfg: cfg, hub: hub, pool: pool, graph: graph, bcast: bcast, log: log, seen: seen}, nil
}

// HandleInv processes an incoming Inv announcement from a peer: any txid
// not already known is requested via GetData.
func (c *Controller) HandleInv(peer string, vecs []p2p.InvVector) {
	var want []p2p.InvVector
	for _, v := range vecs {
		if v.Type != p2p.InvTypeTx && v.Type != p2p.InvTypeYuvTx {
			continue
		}
		if _, known := c.seen.Get(v.Hash); known {
			continue
		}
		want = append(want, v)
	}
	if len(want) > 0 {
		c.bcast.SendGetData(peer, want)
	}
}

// HandleNewTx routes a transaction received from P2P or RPC submission
// through the checker and, on success, into the attacher's DAG.
func (c *Controller) HandleNewTx(ctx context.Context, ytx *txcheck.YuvTx, inputs, outputs map[uint32]txcheck.InputContext, rv pixel.RangeVerifier, freeze txcheck.FreezeLookup, announcementChroma txcheck.AnnouncementChromaLookup) error {
	if ytx.Btx == nil {
		err := &txcheck.CheckError{Kind: txcheck.ErrMalformed, Msg: "missing underlying bitcoin transaction"}
		c.hub.Rejected.Publish(eventbus.Rejected{Reason: txcheck.ClassifyCheckError(err)})
		return err
	}
	id := txidOf(ytx)
	if _, known := c.seen.Get(id); known {
		return nil
	}
	c.seen.Add(id, struct{}{})

	if err := txcheck.Check(ytx, inputs, outputs, rv, freeze, announcementChroma); err != nil {
		c.hub.Rejected.Publish(eventbus.Rejected{Txid: id, Reason: txcheck.ClassifyCheckError(err)})
		return err
	}

	if c.unconf != nil {
		c.unconf.WatchUnconfirmed(id, ytx)
	}

	c.log.Debug("tx passed checker",
		zap.String("txid", fmt.Sprintf("%x", id)),
		zap.Stringer("btc_value", totalOutputValue(ytx.Btx)),
	)

	return c.graph.Add(ctx, ytx)
}

// totalOutputValue sums a Bitcoin transaction's output values into a
// human-readable amount for logging, the same formatting Bitcoin-adjacent
// tooling across the ecosystem uses for satoshi quantities.
func totalOutputValue(btx *wire.MsgTx) btcutil.Amount {
	var total btcutil.Amount
	for _, out := range btx.TxOut {
		total += btcutil.Amount(out.Value)
	}
	return total
}

// RunInventorySharing subscribes to Attached events and periodically
// broadcasts batches of recently-attached txids to peers, bounded by
// cfg.MaxInvSize, until ctx is cancelled.
func (c *Controller) RunInventorySharing(ctx context.Context) {
	sub := c.hub.Attached.Subscribe()
	defer sub.Unsubscribe()

	ticker := time.NewTicker(c.cfg.InvSharingInterval)
	defer ticker.Stop()

	var batch []eventbus.Attached
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-sub.C():
			if env.Lagged != nil {
				c.log.Warn("inventory sharing subscriber lagged", zap.Int("dropped", env.Lagged.N))
				continue
			}
			batch = append(batch, env.Event)
		case <-ticker.C:
			if len(batch) == 0 {
				continue
			}
			if len(batch) > c.cfg.MaxInvSize {
				batch = batch[len(batch)-c.cfg.MaxInvSize:]
			}
			vecs := make([]p2p.InvVector, len(batch))
			for i, a := range batch {
				vecs[i] = p2p.InvVector{Type: p2p.InvTypeYuvTx, Hash: a.Txid}
			}
			c.bcast.BroadcastInv(vecs)
			batch = nil
		}
	}
}

func txidOf(ytx *txcheck.YuvTx) [32]byte {
	h := ytx.Btx.TxHash()
	var out [32]byte
	copy(out[:], h[:])
	return out
}

