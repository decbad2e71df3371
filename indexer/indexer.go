// Package indexer tails Bitcoin's confirmed chain via RPC polling and
// emits confirmation and announcement events, tolerating reorgs by
// re-verifying a short window of recently-indexed blocks on every pass.
package indexer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"yuvprotocol.org/node/bitcoinrpc"
	"yuvprotocol.org/node/storage"
)

// cursorName is the CursorStore key this indexer owns; the confirmation
// and announcement sub-indexers share one cursor since both run over the
// identical confirmed-block stream, in lockstep, per block.
const cursorName = "bitcoin"

// BlockIndexer polls a Bitcoin RPC endpoint and fans each newly confirmed
// block out to its Subindexers, named after
// original_source/crates/indexers/src/indexer.rs's BitcoinBlockIndexer.
type BlockIndexer struct {
	client      bitcoinrpc.Client
	cursors     storage.CursorStore
	subindexers []Subindexer
	loaderCfg   LoaderConfig
	log         *zap.Logger
}

func NewBlockIndexer(client bitcoinrpc.Client, cursors storage.CursorStore, log *zap.Logger) *BlockIndexer {
	return &BlockIndexer{
		client:    client,
		cursors:   cursors,
		loaderCfg: DefaultLoaderConfig(),
		log:       log,
	}
}

func (b *BlockIndexer) AddSubindexer(s Subindexer) {
	b.subindexers = append(b.subindexers, s)
}

func (b *BlockIndexer) WithLoaderConfig(cfg LoaderConfig) *BlockIndexer {
	b.loaderCfg = cfg
	return b
}

// Lag reports how many blocks behind the chain's tip this indexer's
// persisted cursor sits, for the indexer-lag gauge.
func (b *BlockIndexer) Lag(ctx context.Context) (int64, error) {
	cursor, ok, err := b.cursors.GetCursor(ctx, cursorName)
	if err != nil {
		return 0, fmt.Errorf("indexer: read cursor for lag: %w", err)
	}
	if !ok {
		return 0, nil
	}

	tipHash, err := b.client.GetBestBlockHash()
	if err != nil {
		return 0, fmt.Errorf("indexer: get best block hash: %w", err)
	}
	tip, err := b.client.GetBlockHeaderVerbose(tipHash)
	if err != nil {
		return 0, fmt.Errorf("indexer: get best block header: %w", err)
	}

	return tip.Height - int64(cursor.Height), nil
}

// Init runs the one-time catch-up pass: resolve a starting cursor (from
// storage, or params.GenesisBlockHash, or the chain's own genesis block),
// rewind IndexStepBack blocks as an unclean-shutdown guard, then index
// forward to the current tip.
func (b *BlockIndexer) Init(ctx context.Context, params IndexingParams) error {
	cursor, err := b.startingCursor(ctx, params)
	if err != nil {
		return fmt.Errorf("indexer: resolve starting cursor: %w", err)
	}

	cursor, err = b.stepBack(cursor, params.IndexStepBack)
	if err != nil {
		return fmt.Errorf("indexer: step back: %w", err)
	}

	if err := b.cursors.SetCursor(ctx, cursorName, cursor); err != nil {
		return fmt.Errorf("indexer: persist starting cursor: %w", err)
	}

	b.log.Info("starting initial block indexing", zap.Uint32("height", cursor.Height))
	if err := b.handleNewBlocks(ctx); err != nil {
		return err
	}
	b.log.Info("initial block indexing caught up")
	return nil
}

func (b *BlockIndexer) startingCursor(ctx context.Context, params IndexingParams) (storage.Cursor, error) {
	if stored, ok, err := b.cursors.GetCursor(ctx, cursorName); err != nil {
		return storage.Cursor{}, err
	} else if ok {
		return stored, nil
	}

	if params.GenesisBlockHash != nil {
		info, err := b.client.GetBlockHeaderVerbose(params.GenesisBlockHash)
		if err != nil {
			return storage.Cursor{}, err
		}
		var hash [32]byte
		copy(hash[:], params.GenesisBlockHash[:])
		return storage.Cursor{Height: uint32(info.Height), Hash: hash}, nil
	}

	genesisHash, err := b.client.GetBlockHash(0)
	if err != nil {
		return storage.Cursor{}, err
	}
	var hash [32]byte
	copy(hash[:], genesisHash[:])
	return storage.Cursor{Height: 0, Hash: hash}, nil
}

// stepBack rewinds the cursor by n blocks, re-reading headers from RPC so
// the resumed scan re-verifies blocks that may not have fully completed
// indexing before an unclean shutdown.
func (b *BlockIndexer) stepBack(cursor storage.Cursor, n uint32) (storage.Cursor, error) {
	if n == 0 || cursor.Height == 0 {
		return cursor, nil
	}
	targetHeight := cursor.Height
	if n > targetHeight {
		targetHeight = 0
	} else {
		targetHeight -= n
	}

	hash, err := b.client.GetBlockHash(int64(targetHeight))
	if err != nil {
		return storage.Cursor{}, err
	}
	var out [32]byte
	copy(out[:], hash[:])
	return storage.Cursor{Height: targetHeight, Hash: out}, nil
}

// Run polls for new blocks every params.PollingPeriod until ctx is
// cancelled.
func (b *BlockIndexer) Run(ctx context.Context, params RunParams) {
	period := params.PollingPeriod
	if period <= 0 {
		period = defaultPollingPeriod
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	b.log.Info("starting bitcoin indexer", zap.Duration("polling_period", period))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := b.handleNewBlocks(ctx); err != nil {
			b.log.Error("indexer pass failed", zap.Error(err))
		}
	}
}

// handleNewBlocks is one pass: check the cursor's recorded chain for
// divergence from the node's current view (a reorg), rewind to the common
// ancestor if one is found, then index forward to the current tip.
func (b *BlockIndexer) handleNewBlocks(ctx context.Context) error {
	cursor, ok, err := b.cursors.GetCursor(ctx, cursorName)
	if err != nil {
		return fmt.Errorf("indexer: get cursor: %w", err)
	}
	if !ok {
		return fmt.Errorf("indexer: no cursor; call Init first")
	}

	cursor, err = b.rewindOnDivergence(cursor)
	if err != nil {
		return fmt.Errorf("indexer: rewind on divergence: %w", err)
	}

	bestHash, err := b.client.GetBestBlockHash()
	if err != nil {
		return fmt.Errorf("indexer: get best block hash: %w", err)
	}
	bestInfo, err := b.client.GetBlockHeaderVerbose(bestHash)
	if err != nil {
		return fmt.Errorf("indexer: get best block header: %w", err)
	}
	bestHeight := uint32(bestInfo.Height)

	if cursor.Height >= bestHeight {
		return nil
	}

	blocks := loadBlocks(ctx, b.client, b.loaderCfg, cursor.Height+1, bestHeight)
	first := true
	for lb := range blocks {
		if lb.err != nil {
			return fmt.Errorf("indexer: load block at height %d: %w", lb.height, lb.err)
		}

		// Verify this block still links to our recorded cursor. A
		// mismatch means a reorg happened between the GetBestBlockHash
		// call above and now, or the node's view moved out from under a
		// block already in flight; rewind one block and let the next
		// poll pass re-derive correct state (the subindexers are
		// idempotent on re-emission).
		var prevHash [32]byte
		copy(prevHash[:], lb.block.PreviousHash[:])
		if first && cursor.Height > 0 && prevHash != cursor.Hash {
			b.log.Warn("reorg detected mid-scan, rewinding cursor by one block", zap.Uint32("height", cursor.Height))
			rewound := storage.Cursor{Height: cursor.Height - 1}
			if h, err := b.client.GetBlockHash(int64(rewound.Height)); err == nil {
				copy(rewound.Hash[:], h[:])
			}
			return b.cursors.SetCursor(ctx, cursorName, rewound)
		}
		first = false

		for _, sub := range b.subindexers {
			if err := sub.Index(ctx, lb.block, lb.height); err != nil {
				return fmt.Errorf("indexer: subindexer failed at height %d: %w", lb.height, err)
			}
		}

		var hash [32]byte
		copy(hash[:], lb.block.Hash[:])
		newCursor := storage.Cursor{Height: lb.height, Hash: hash}
		if err := b.cursors.SetCursor(ctx, cursorName, newCursor); err != nil {
			return fmt.Errorf("indexer: persist cursor at height %d: %w", lb.height, err)
		}

		if lb.height%blockChunkSize == 0 {
			b.log.Info("indexed blocks", zap.Uint32("height", lb.height))
		} else {
			b.log.Debug("indexed block", zap.Uint32("height", lb.height))
		}
	}
	return nil
}

// rewindOnDivergence re-reads the cursor's recorded block hash from the
// node's current view; if the node's hash at that height no longer
// matches, the block was reorged out, so the cursor is rewound one block.
// Deep reorgs are handled by this running again on the next poll pass,
// each time rewinding one further block until the cursor's hash agrees
// with the node's current chain — self-correcting without needing to
// retain a full hash history in storage.
func (b *BlockIndexer) rewindOnDivergence(cursor storage.Cursor) (storage.Cursor, error) {
	if cursor.Height == 0 {
		return cursor, nil
	}

	nodeHash, err := b.client.GetBlockHash(int64(cursor.Height))
	if err != nil {
		return cursor, err
	}
	var asBytes [32]byte
	copy(asBytes[:], nodeHash[:])
	if asBytes == cursor.Hash {
		return cursor, nil
	}

	b.log.Warn("reorg detected, rewinding cursor", zap.Uint32("height", cursor.Height))

	prevHeight := cursor.Height - 1
	h, err := b.client.GetBlockHash(int64(prevHeight))
	if err != nil {
		return cursor, err
	}
	var hb [32]byte
	copy(hb[:], h[:])
	return storage.Cursor{Height: prevHeight, Hash: hb}, nil
}
