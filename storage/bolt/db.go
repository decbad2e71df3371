// Package bolt is the go.etcd.io/bbolt-backed implementation of the
// storage.Store contract.
package bolt

import (
	"context"
	"encoding/binary"
	"fmt"
	"path/filepath"
	"time"

	bbolt "go.etcd.io/bbolt"

	"yuvprotocol.org/node/pixel"
	"yuvprotocol.org/node/storage"
)

var (
	bucketTxsByTxid   = []byte("txs_by_txid")
	bucketTxOrder     = []byte("txs_order_by_seq")
	bucketFreezeState = []byte("freeze_by_outpoint")
	bucketCursors     = []byte("cursor_by_name")
	bucketMeta        = []byte("meta")
)

var metaNextSeqKey = []byte("next_seq")

// DB is the bbolt-backed storage.Store.
type DB struct {
	networkDir string
	db         *bbolt.DB
	manifest   *Manifest
}

// Open opens (creating if necessary) the bbolt database for the given
// datadir/network pair, creating buckets and the schema manifest on first
// run.
func Open(datadir, network string) (*DB, error) {
	if datadir == "" {
		return nil, fmt.Errorf("datadir required")
	}
	if network == "" {
		return nil, fmt.Errorf("network required")
	}

	networkDir := NetworkDir(datadir, network)
	if err := ensureDir(networkDir); err != nil {
		return nil, err
	}

	path := filepath.Join(networkDir, "kv.db")
	bdb, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bbolt: %w", err)
	}

	d := &DB{networkDir: networkDir, db: bdb}

	if err := d.db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketTxsByTxid, bucketTxOrder, bucketFreezeState, bucketCursors, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", string(b), err)
			}
		}
		return nil
	}); err != nil {
		_ = bdb.Close()
		return nil, err
	}

	m, err := readManifest(networkDir)
	if err != nil {
		m = &Manifest{SchemaVersion: SchemaVersionV1, Network: network}
		if werr := writeManifestAtomic(networkDir, m); werr != nil {
			_ = bdb.Close()
			return nil, fmt.Errorf("write manifest: %w", werr)
		}
	} else if m.SchemaVersion > SchemaVersionV1 {
		_ = bdb.Close()
		return nil, fmt.Errorf("manifest schema_version %d > supported %d", m.SchemaVersion, SchemaVersionV1)
	}
	d.manifest = m

	return d, nil
}

func (d *DB) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

var _ storage.Store = (*DB)(nil)

func (d *DB) PutTx(ctx context.Context, tx storage.AttachedTx) error {
	val, err := encodeAttachedTx(tx)
	if err != nil {
		return err
	}
	return d.db.Update(func(btx *bbolt.Tx) error {
		meta := btx.Bucket(bucketMeta)
		seq, err := nextSeq(meta)
		if err != nil {
			return err
		}
		if err := btx.Bucket(bucketTxsByTxid).Put(tx.Txid[:], val); err != nil {
			return err
		}
		var seqKey [8]byte
		binary.BigEndian.PutUint64(seqKey[:], seq)
		return btx.Bucket(bucketTxOrder).Put(seqKey[:], tx.Txid[:])
	})
}

func (d *DB) GetTx(ctx context.Context, txid [32]byte) (storage.AttachedTx, bool, error) {
	var out storage.AttachedTx
	var ok bool
	err := d.db.View(func(btx *bbolt.Tx) error {
		v := btx.Bucket(bucketTxsByTxid).Get(txid[:])
		if v == nil {
			return nil
		}
		parsed, err := decodeAttachedTx(v)
		if err != nil {
			return err
		}
		out = parsed
		ok = true
		return nil
	})
	return out, ok, err
}

// ListTxs walks txs_order_by_seq, Bitcoin-style paging by insertion order:
// it skips forward to the sequence number immediately after afterTxid's own
// insertion, then returns up to limit entries.
func (d *DB) ListTxs(ctx context.Context, afterTxid [32]byte, limit int) ([]storage.AttachedTx, error) {
	if limit <= 0 {
		return nil, nil
	}
	var out []storage.AttachedTx
	err := d.db.View(func(btx *bbolt.Tx) error {
		order := btx.Bucket(bucketTxOrder)
		txs := btx.Bucket(bucketTxsByTxid)
		c := order.Cursor()

		var zero [32]byte
		skipping := afterTxid != zero
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if skipping {
				if string(v) == string(afterTxid[:]) {
					skipping = false
				}
				continue
			}
			raw := txs.Get(v)
			if raw == nil {
				continue
			}
			parsed, err := decodeAttachedTx(raw)
			if err != nil {
				return err
			}
			out = append(out, parsed)
			if len(out) >= limit {
				break
			}
		}
		return nil
	})
	return out, err
}

func (d *DB) SetFrozen(ctx context.Context, point storage.OutPoint, chroma pixel.Chroma, frozen bool, blockHeight uint32) error {
	key := encodeOutpointKey(point)
	val := encodeFreezeValue(chroma, frozen, blockHeight)
	return d.db.Update(func(btx *bbolt.Tx) error {
		return btx.Bucket(bucketFreezeState).Put(key, val)
	})
}

func (d *DB) IsFrozen(ctx context.Context, point storage.OutPoint) (bool, error) {
	key := encodeOutpointKey(point)
	var frozen bool
	err := d.db.View(func(btx *bbolt.Tx) error {
		v := btx.Bucket(bucketFreezeState).Get(key)
		if v == nil {
			return nil
		}
		_, f, _, err := decodeFreezeValue(v)
		if err != nil {
			return err
		}
		frozen = f
		return nil
	})
	return frozen, err
}

func (d *DB) GetCursor(ctx context.Context, name string) (storage.Cursor, bool, error) {
	var out storage.Cursor
	var ok bool
	err := d.db.View(func(btx *bbolt.Tx) error {
		v := btx.Bucket(bucketCursors).Get([]byte(name))
		if v == nil {
			return nil
		}
		c, err := decodeCursor(v)
		if err != nil {
			return err
		}
		out = c
		ok = true
		return nil
	})
	return out, ok, err
}

func (d *DB) SetCursor(ctx context.Context, name string, c storage.Cursor) error {
	val := encodeCursor(c)
	return d.db.Update(func(btx *bbolt.Tx) error {
		return btx.Bucket(bucketCursors).Put([]byte(name), val)
	})
}

func nextSeq(meta *bbolt.Bucket) (uint64, error) {
	v := meta.Get(metaNextSeqKey)
	var seq uint64
	if v != nil {
		if len(v) != 8 {
			return 0, fmt.Errorf("storage: corrupt next_seq")
		}
		seq = binary.BigEndian.Uint64(v)
	}
	var next [8]byte
	binary.BigEndian.PutUint64(next[:], seq+1)
	if err := meta.Put(metaNextSeqKey, next[:]); err != nil {
		return 0, err
	}
	return seq, nil
}
