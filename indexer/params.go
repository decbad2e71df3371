package indexer

import (
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// IndexingParams governs the one-time catch-up pass at startup, split from
// RunParams to mirror original_source/crates/indexers/src/params.rs's
// IndexingParams/RunParams split.
type IndexingParams struct {
	// GenesisBlockHash, if set, is where indexing starts when storage has
	// no recorded cursor.
	GenesisBlockHash *chainhash.Hash
	// IndexStepBack blocks are re-scanned before the stored cursor on
	// startup, guarding against an unclean shutdown mid-block.
	IndexStepBack uint32
}

// RunParams governs the steady-state polling loop.
type RunParams struct {
	PollingPeriod time.Duration
}

const (
	defaultIndexStepBack = 1
	defaultPollingPeriod = 10 * time.Second

	// MinConfirmations is how many confirmations a block needs before the
	// indexer treats it as settled.
	MinConfirmations = 1

	// blockChunkSize controls how often a progress log line is emitted.
	blockChunkSize = 1000
)

func DefaultIndexingParams() IndexingParams {
	return IndexingParams{IndexStepBack: defaultIndexStepBack}
}

func DefaultRunParams() RunParams {
	return RunParams{PollingPeriod: defaultPollingPeriod}
}
