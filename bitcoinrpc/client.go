// Package bitcoinrpc is a thin client over a Bitcoin Core JSON-RPC
// endpoint, exposing only the subset of calls the rest of the node needs
// behind an interface so the indexer, attacher, and RPC server never
// import btcd's rpcclient directly.
package bitcoinrpc

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"

	"yuvprotocol.org/node/config"
)

// Client is the surface the node uses against a Bitcoin full node.
type Client interface {
	GetBestBlockHash() (*chainhash.Hash, error)
	GetBlockHash(height int64) (*chainhash.Hash, error)
	GetBlockVerboseTx(hash *chainhash.Hash) (*BlockWithTxs, error)
	GetBlockHeaderVerbose(hash *chainhash.Hash) (*BlockHeaderInfo, error)
	GetRawTransactionVerbose(txid *chainhash.Hash) (*RawTxInfo, error)
	SendRawTransaction(tx *wire.MsgTx) (*chainhash.Hash, error)
	EstimateSmartFee(confTarget int64) (float64, error)
	// GetTxOut resolves the scriptPubKey a still-unspent output carries,
	// including mempool outputs — the checker's only way to learn what a
	// spent input committed to without replaying the whole chain itself.
	// A nil, nil return means the output is spent or never existed.
	GetTxOut(txid *chainhash.Hash, vout uint32) (*TxOutInfo, error)
	Close()
}

// BlockWithTxs is the subset of `getblock 2` this node consumes.
type BlockWithTxs struct {
	Hash          chainhash.Hash
	Height        int64
	PreviousHash  chainhash.Hash
	NextHash      *chainhash.Hash
	Confirmations int64
	Txs           []*wire.MsgTx
}

// BlockHeaderInfo is the subset of `getblockheader` this node consumes,
// used by the indexer's reorg-detection re-read.
type BlockHeaderInfo struct {
	Hash         chainhash.Hash
	Height       int64
	PreviousHash chainhash.Hash
}

// RawTxInfo is the subset of `getrawtransaction verbose=true` the
// confirmation sub-indexer needs.
type RawTxInfo struct {
	Confirmations int64
	BlockHash     *chainhash.Hash
}

// TxOutInfo is the subset of `gettxout` the checker needs to build a
// pixel.VerifyContext for a spent input.
type TxOutInfo struct {
	PkScript []byte
}

// client wraps an rpcclient.Client, translating wire types into the
// narrower structs above so callers never touch btcjson directly.
type client struct {
	rc *rpcclient.Client
}

// New dials a Bitcoin Core RPC endpoint per the node's configured
// credentials.
func New(cfg config.BitcoinRPCConfig) (Client, error) {
	connCfg := &rpcclient.ConnConfig{
		Host:         cfg.Host,
		User:         cfg.User,
		Pass:         cfg.Pass,
		HTTPPostMode: true,
		DisableTLS:   !cfg.UseTLS,
	}
	if cfg.UseTLS && cfg.CertPath != "" {
		connCfg.Certificates = nil // operators supply a system-trusted cert via CertPath out of band
	}

	rc, err := rpcclient.New(connCfg, nil)
	if err != nil {
		return nil, err
	}
	return &client{rc: rc}, nil
}

func (c *client) Close() { c.rc.Shutdown() }

func (c *client) GetBestBlockHash() (*chainhash.Hash, error) {
	return c.rc.GetBestBlockHash()
}

func (c *client) GetBlockHash(height int64) (*chainhash.Hash, error) {
	return c.rc.GetBlockHash(height)
}

func (c *client) GetBlockVerboseTx(hash *chainhash.Hash) (*BlockWithTxs, error) {
	msgBlock, err := c.rc.GetBlock(hash)
	if err != nil {
		return nil, err
	}
	verbose, err := c.rc.GetBlockVerbose(hash)
	if err != nil {
		return nil, err
	}

	txs := make([]*wire.MsgTx, len(msgBlock.Transactions))
	for i, tx := range msgBlock.Transactions {
		txs[i] = tx
	}

	var next *chainhash.Hash
	if verbose.NextHash != "" {
		h, err := chainhash.NewHashFromStr(verbose.NextHash)
		if err == nil {
			next = h
		}
	}
	prevHash, err := chainhash.NewHashFromStr(verbose.PreviousHash)
	if err != nil {
		return nil, err
	}

	return &BlockWithTxs{
		Hash:          *hash,
		Height:        verbose.Height,
		PreviousHash:  *prevHash,
		NextHash:      next,
		Confirmations: int64(verbose.Confirmations),
		Txs:           txs,
	}, nil
}

func (c *client) GetBlockHeaderVerbose(hash *chainhash.Hash) (*BlockHeaderInfo, error) {
	verbose, err := c.rc.GetBlockHeaderVerbose(hash)
	if err != nil {
		return nil, err
	}
	prevHash, err := chainhash.NewHashFromStr(verbose.PreviousHash)
	if err != nil {
		return nil, err
	}
	return &BlockHeaderInfo{
		Hash:         *hash,
		Height:       int64(verbose.Height),
		PreviousHash: *prevHash,
	}, nil
}

func (c *client) GetRawTransactionVerbose(txid *chainhash.Hash) (*RawTxInfo, error) {
	result, err := c.rc.GetRawTransactionVerbose(txid)
	if err != nil {
		return nil, err
	}
	info := &RawTxInfo{Confirmations: int64(result.Confirmations)}
	if result.BlockHash != "" {
		h, err := chainhash.NewHashFromStr(result.BlockHash)
		if err == nil {
			info.BlockHash = h
		}
	}
	return info, nil
}

func (c *client) SendRawTransaction(tx *wire.MsgTx) (*chainhash.Hash, error) {
	return c.rc.SendRawTransaction(tx, false)
}

func (c *client) EstimateSmartFee(confTarget int64) (float64, error) {
	result, err := c.rc.EstimateSmartFee(confTarget, &btcjson.EstimateModeConservative)
	if err != nil {
		return 0, err
	}
	if len(result.Errors) > 0 {
		return 0, &EstimateFeeError{Messages: result.Errors}
	}
	if result.FeeRate == nil {
		return 0, &EstimateFeeError{Messages: []string{"no fee estimate available"}}
	}
	return *result.FeeRate, nil
}

func (c *client) GetTxOut(txid *chainhash.Hash, vout uint32) (*TxOutInfo, error) {
	result, err := c.rc.GetTxOut(txid, vout, true)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, nil
	}
	script, err := hex.DecodeString(result.ScriptPubKey.Hex)
	if err != nil {
		return nil, fmt.Errorf("bitcoinrpc: decode scriptPubKey: %w", err)
	}
	return &TxOutInfo{PkScript: script}, nil
}

// EstimateFeeError wraps the Bitcoin Core fee-estimator's own error list.
type EstimateFeeError struct {
	Messages []string
}

func (e *EstimateFeeError) Error() string {
	if len(e.Messages) == 0 {
		return "fee estimation failed"
	}
	return e.Messages[0]
}
