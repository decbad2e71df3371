package indexer

import (
	"container/heap"
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"yuvprotocol.org/node/bitcoinrpc"
)

// LoaderConfig bounds the parallel block-loading pipeline: up to
// WorkersNumber blocks are fetched concurrently, buffered up to
// BufferSize ahead of the sequential indexing step, each worker sleeping
// RateLimitSleep between requests so a deep catch-up scan doesn't
// overwhelm the RPC endpoint — spec.md §4.4's "workers_number,
// buffer_size ... per-worker rate-limit sleep".
type LoaderConfig struct {
	WorkersNumber  int
	BufferSize     int
	RateLimitSleep time.Duration
}

func DefaultLoaderConfig() LoaderConfig {
	return LoaderConfig{WorkersNumber: 4, BufferSize: 16, RateLimitSleep: 10 * time.Millisecond}
}

type loadedBlock struct {
	height uint32
	block  *bitcoinrpc.BlockWithTxs
	err    error
}

// loadBlocks fetches [fromHeight, toHeight] inclusive with up to
// cfg.WorkersNumber concurrent RPC calls, and emits results on the
// returned channel strictly in ascending height order regardless of
// completion order, closing the channel once the range is exhausted or
// ctx is cancelled.
func loadBlocks(ctx context.Context, client bitcoinrpc.Client, cfg LoaderConfig, fromHeight, toHeight uint32) <-chan loadedBlock {
	out := make(chan loadedBlock, cfg.BufferSize)

	if fromHeight > toHeight {
		close(out)
		return out
	}

	heights := make(chan uint32)
	go func() {
		defer close(heights)
		for h := fromHeight; h <= toHeight; h++ {
			select {
			case heights <- h:
			case <-ctx.Done():
				return
			}
		}
	}()

	results := make(chan loadedBlock, cfg.BufferSize)
	g, gctx := errgroup.WithContext(ctx)
	workers := cfg.WorkersNumber
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for {
				select {
				case h, ok := <-heights:
					if !ok {
						return nil
					}
					hash, err := client.GetBlockHash(int64(h))
					if err != nil {
						results <- loadedBlock{height: h, err: err}
						continue
					}
					block, err := client.GetBlockVerboseTx(hash)
					results <- loadedBlock{height: h, block: block, err: err}
					if cfg.RateLimitSleep > 0 {
						time.Sleep(cfg.RateLimitSleep)
					}
				case <-gctx.Done():
					return nil
				}
			}
		})
	}
	go func() {
		g.Wait()
		close(results)
	}()

	go reorderByHeight(fromHeight, results, out)

	return out
}

// reorderByHeight re-sequences loadedBlock values that may arrive out of
// order (since workers race) back into strictly ascending height order
// before forwarding them downstream.
func reorderByHeight(nextWanted uint32, in <-chan loadedBlock, out chan<- loadedBlock) {
	defer close(out)

	pending := &blockHeap{}
	heap.Init(pending)

	for lb := range in {
		heap.Push(pending, lb)
		for pending.Len() > 0 && (*pending)[0].height == nextWanted {
			next := heap.Pop(pending).(loadedBlock)
			out <- next
			nextWanted++
		}
	}
	for pending.Len() > 0 {
		out <- heap.Pop(pending).(loadedBlock)
	}
}

type blockHeap []loadedBlock

func (h blockHeap) Len() int            { return len(h) }
func (h blockHeap) Less(i, j int) bool  { return h[i].height < h[j].height }
func (h blockHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *blockHeap) Push(x interface{}) { *h = append(*h, x.(loadedBlock)) }
func (h *blockHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
