// Package attacher resolves the DAG dependency problem: a checked
// transaction can only be durably committed once every ancestor it spends
// from is itself attached. It tracks transactions waiting on parents and
// promotes them as those parents arrive.
package attacher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"yuvprotocol.org/node/eventbus"
	"yuvprotocol.org/node/txcheck"
)

const (
	defaultCleanupPeriod = time.Hour
	defaultTxOutdated    = 24 * time.Hour

	backoffStart = 2 * time.Second
	backoffCap   = 60 * time.Second
	backoffJitter = 0.10
)

// PendingTx is a checked transaction waiting on one or more parents.
type PendingTx struct {
	Tx        *txcheck.YuvTx
	CreatedAt time.Time
}

// Recheck re-runs balance/freeze validation once a transaction's parents
// are known concretely — the attacher never re-verifies cryptographic
// proofs itself, it just re-asks the checker.
type Recheck func(tx *txcheck.YuvTx) error

// Commit durably writes (tx, its proofs) to storage; called only once a
// transaction and every ancestor it needs are ready, and must be atomic
// per spec.md §4.3.
type Commit func(tx *txcheck.YuvTx) error

// FetchParent requests a missing ancestor over P2P; returning an error
// leaves the dependent waiting for the next backoff attempt.
type FetchParent func(ctx context.Context, txid [32]byte) error

// Graph is the DAG builder: awaitingParents / dependents / storedTxs named
// to mirror `deps`/`inverse_deps`/ready-processing in the source this was
// distilled from, translated to Go idiom.
type Graph struct {
	mu sync.Mutex

	// awaitingParents[txid] is the set of ancestor txids a pending
	// transaction is still waiting on.
	awaitingParents map[[32]byte]map[[32]byte]struct{}
	// dependents[parentTxid] is the set of txids waiting on parentTxid.
	dependents map[[32]byte]map[[32]byte]struct{}
	// storedTxs holds every transaction currently parked in the graph,
	// whether waiting on parents or pending commit.
	storedTxs map[[32]byte]PendingTx

	ancestorFetchInFlight map[[32]byte]struct{}
	backoffState          map[[32]byte]*backoff

	cleanupPeriod time.Duration
	txOutdated    time.Duration

	recheck     Recheck
	commit      Commit
	fetchParent FetchParent
	hub         *eventbus.Hub

	isAttached func(txid [32]byte) bool
}

// Option configures a Graph at construction time.
type Option func(*Graph)

func WithCleanupPeriod(d time.Duration) Option { return func(g *Graph) { g.cleanupPeriod = d } }
func WithOutdatedDuration(d time.Duration) Option {
	return func(g *Graph) { g.txOutdated = d }
}

// New constructs an empty Graph.
func New(recheck Recheck, commit Commit, fetchParent FetchParent, isAttached func([32]byte) bool, hub *eventbus.Hub, opts ...Option) *Graph {
	g := &Graph{
		awaitingParents:       make(map[[32]byte]map[[32]byte]struct{}),
		dependents:            make(map[[32]byte]map[[32]byte]struct{}),
		storedTxs:             make(map[[32]byte]PendingTx),
		ancestorFetchInFlight: make(map[[32]byte]struct{}),
		backoffState:          make(map[[32]byte]*backoff),
		cleanupPeriod:         defaultCleanupPeriod,
		txOutdated:            defaultTxOutdated,
		recheck:               recheck,
		commit:                commit,
		fetchParent:           fetchParent,
		isAttached:            isAttached,
		hub:                   hub,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func txid(tx *txcheck.YuvTx) [32]byte {
	h := tx.Btx.TxHash()
	var out [32]byte
	copy(out[:], h[:])
	return out
}

// Add registers a checked transaction, computing its missing-parent set
// from the underlying Bitcoin inputs. If every parent is already attached
// it is promoted straight to onReady.
func (g *Graph) Add(ctx context.Context, tx *txcheck.YuvTx) error {
	g.mu.Lock()
	id := txid(tx)

	missing := make(map[[32]byte]struct{})
	for _, in := range tx.Btx.TxIn {
		var parent [32]byte
		copy(parent[:], in.PreviousOutPoint.Hash[:])
		if parent == ([32]byte{}) {
			continue
		}
		if g.isAttached != nil && g.isAttached(parent) {
			continue
		}
		if _, alreadyStored := g.storedTxs[parent]; alreadyStored {
			missing[parent] = struct{}{}
			continue
		}
		missing[parent] = struct{}{}
	}

	g.storedTxs[id] = PendingTx{Tx: tx, CreatedAt: time.Now()}

	if len(missing) == 0 {
		g.mu.Unlock()
		return g.onReady(ctx, id)
	}

	g.awaitingParents[id] = missing
	for parent := range missing {
		if g.dependents[parent] == nil {
			g.dependents[parent] = make(map[[32]byte]struct{})
		}
		g.dependents[parent][id] = struct{}{}
	}
	g.mu.Unlock()

	for parent := range missing {
		g.requestParent(ctx, parent)
	}
	return nil
}

func (g *Graph) requestParent(ctx context.Context, parent [32]byte) {
	g.mu.Lock()
	if _, inFlight := g.ancestorFetchInFlight[parent]; inFlight {
		g.mu.Unlock()
		return
	}
	g.ancestorFetchInFlight[parent] = struct{}{}
	b := g.backoffState[parent]
	if b == nil {
		b = newBackoff()
		g.backoffState[parent] = b
	}
	g.mu.Unlock()

	if g.fetchParent == nil {
		return
	}
	if err := g.fetchParent(ctx, parent); err != nil {
		g.mu.Lock()
		delete(g.ancestorFetchInFlight, parent)
		delay := b.Duration()
		stillWanted := len(g.dependents[parent]) > 0
		g.mu.Unlock()

		if stillWanted {
			time.AfterFunc(delay, func() { g.requestParent(ctx, parent) })
		}
		return
	}

	g.mu.Lock()
	b.Reset()
	g.mu.Unlock()
}

// OnParentAttached is called once a previously-missing ancestor becomes
// attached (by any means: this graph, a direct RPC fetch, or indexer
// catch-up). For each dependent, it removes parentTxid from its
// awaitingParents set; once empty, the dependent is promoted to ready.
func (g *Graph) OnParentAttached(ctx context.Context, parentTxid [32]byte) error {
	g.mu.Lock()
	delete(g.ancestorFetchInFlight, parentTxid)
	delete(g.backoffState, parentTxid)
	dependents := g.dependents[parentTxid]
	delete(g.dependents, parentTxid)
	var ready [][32]byte
	for dep := range dependents {
		set := g.awaitingParents[dep]
		delete(set, parentTxid)
		if len(set) == 0 {
			delete(g.awaitingParents, dep)
			ready = append(ready, dep)
		}
	}
	g.mu.Unlock()

	for _, dep := range ready {
		if err := g.onReady(ctx, dep); err != nil {
			return err
		}
	}
	return nil
}

// onReady re-runs balance/freeze validation now that parents are known
// concretely, commits atomically on success, emits Attached, and recurses
// via OnParentAttached so the dependent's own dependents unblock in turn.
func (g *Graph) onReady(ctx context.Context, id [32]byte) error {
	g.mu.Lock()
	pending, ok := g.storedTxs[id]
	g.mu.Unlock()
	if !ok {
		return fmt.Errorf("attacher: onReady called for unknown tx %x", id)
	}

	if g.recheck != nil {
		if err := g.recheck(pending.Tx); err != nil {
			g.rejectSubtree(id, err)
			return err
		}
	}

	if g.commit != nil {
		if err := g.commit(pending.Tx); err != nil {
			return fmt.Errorf("attacher: commit %x: %w", id, err)
		}
	}

	g.mu.Lock()
	delete(g.storedTxs, id)
	g.mu.Unlock()

	if g.hub != nil {
		g.hub.Attached.Publish(eventbus.Attached{Txid: id})
	}

	return g.OnParentAttached(ctx, id)
}

// rejectSubtree drops id and every transitive dependent, emitting
// Rejected for each with cause classified the same way the controller's
// initial check classifies it, so a recheck failure reports the same
// Reason an equivalent first-pass rejection would have.
func (g *Graph) rejectSubtree(id [32]byte, cause error) {
	reason := txcheck.ClassifyCheckError(cause)

	g.mu.Lock()
	queue := [][32]byte{id}
	var victims [][32]byte
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		victims = append(victims, cur)
		delete(g.storedTxs, cur)
		delete(g.awaitingParents, cur)
		for dep := range g.dependents[cur] {
			queue = append(queue, dep)
		}
		delete(g.dependents, cur)
	}
	g.mu.Unlock()

	if g.hub == nil {
		return
	}
	for _, v := range victims {
		g.hub.Rejected.Publish(eventbus.Rejected{Txid: v, Reason: reason})
	}
}

// GetTx returns a transaction still parked in the graph (waiting on
// parents or pending commit), for callers that want attacher-local
// visibility distinct from storage.
func (g *Graph) GetTx(id [32]byte) (*txcheck.YuvTx, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.storedTxs[id]
	if !ok {
		return nil, false
	}
	return p.Tx, true
}

// PendingCount reports how many transactions are currently parked in the
// graph, waiting on parents or pending commit, for the attacher queue
// depth gauge.
func (g *Graph) PendingCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.storedTxs)
}

// Cleanup evicts storedTxs entries that have waited past txOutdated,
// rejecting them and their dependents with Expired. Call periodically
// (spec.md §4.3 expansion: cleanupPeriod default 1h, txOutdated default
// 24h).
func (g *Graph) Cleanup(now time.Time) {
	g.mu.Lock()
	var expired [][32]byte
	for id, p := range g.storedTxs {
		if now.Sub(p.CreatedAt) > g.txOutdated {
			expired = append(expired, id)
		}
	}
	g.mu.Unlock()

	for _, id := range expired {
		g.rejectSubtreeExpired(id)
	}
}

func (g *Graph) rejectSubtreeExpired(id [32]byte) {
	g.mu.Lock()
	queue := [][32]byte{id}
	var victims [][32]byte
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		victims = append(victims, cur)
		delete(g.storedTxs, cur)
		delete(g.awaitingParents, cur)
		for dep := range g.dependents[cur] {
			queue = append(queue, dep)
		}
		delete(g.dependents, cur)
	}
	g.mu.Unlock()

	if g.hub == nil {
		return
	}
	for _, v := range victims {
		g.hub.Rejected.Publish(eventbus.Rejected{Txid: v, Reason: eventbus.ErrorExpired})
	}
}

// RunCleanupLoop runs Cleanup every cleanupPeriod until ctx is cancelled.
func (g *Graph) RunCleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(g.cleanupPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			g.Cleanup(t)
		}
	}
}
