package rpcserver

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"

	"yuvprotocol.org/node/storage"
)

// RawProofs is the wire shape providelistyuvproofs/sendrawyuvtransaction
// carry alongside a raw Bitcoin transaction: hex-encoded pixel proof blobs
// keyed by input/output index, exactly what storage.AttachedTx already
// stores, so the RPC layer never has to deserialize a pixel.Proof itself.
type RawProofs struct {
	InputProofs  map[uint32]string `json:"input_proofs"`
	OutputProofs map[uint32]string `json:"output_proofs"`
}

// DecodeRawProofs hex-decodes a RawProofs payload into the per-index byte
// maps txcheck.DecodeYuvTx expects — exported so controller can turn an
// RPC caller's proofs into a YuvTx without duplicating hex handling.
func DecodeRawProofs(r RawProofs) (in, out map[uint32][]byte, err error) {
	return decodeRawProofs(r)
}

func decodeRawProofs(r RawProofs) (in, out map[uint32][]byte, err error) {
	in = make(map[uint32][]byte, len(r.InputProofs))
	for idx, h := range r.InputProofs {
		b, err := hex.DecodeString(h)
		if err != nil {
			return nil, nil, err
		}
		in[idx] = b
	}
	out = make(map[uint32][]byte, len(r.OutputProofs))
	for idx, h := range r.OutputProofs {
		b, err := hex.DecodeString(h)
		if err != nil {
			return nil, nil, err
		}
		out[idx] = b
	}
	return in, out, nil
}

func encodeRawProofs(in, out map[uint32][]byte) RawProofs {
	r := RawProofs{InputProofs: make(map[uint32]string, len(in)), OutputProofs: make(map[uint32]string, len(out))}
	for idx, b := range in {
		r.InputProofs[idx] = hex.EncodeToString(b)
	}
	for idx, b := range out {
		r.OutputProofs[idx] = hex.EncodeToString(b)
	}
	return r
}

// txResponse is the JSON shape returned for an attached transaction;
// "status" mirrors original_source/crates/rpc-api's GetRawYuvTransactionResponse
// tag, narrowed to the two statuses this node's storage can actually
// distinguish: a transaction either isn't durably attached yet, or it is.
type txResponse struct {
	Status       string `json:"status"`
	Txid         string `json:"txid,omitempty"`
	RawTx        string `json:"raw_tx,omitempty"`
	BlockHeight  uint32 `json:"block_height,omitempty"`
	BlockTxIndex uint32 `json:"block_tx_index,omitempty"`
	RawProofs
}

func toTxResponse(tx storage.AttachedTx) txResponse {
	return txResponse{
		Status:       "attached",
		Txid:         hex.EncodeToString(tx.Txid[:]),
		RawTx:        hex.EncodeToString(tx.RawTx),
		BlockHeight:  tx.BlockHeight,
		BlockTxIndex: tx.BlockTxIndex,
		RawProofs:    encodeRawProofs(tx.InputProofs, tx.OutputProofs),
	}
}

var noneResponse = txResponse{Status: "none"}

type yuvTxParams struct {
	RawTx string `json:"raw_tx"`
	RawProofs
}

func decodeTxid(hexTxid string) ([32]byte, error) {
	var out [32]byte
	b, err := hex.DecodeString(hexTxid)
	if err != nil {
		return out, err
	}
	if len(b) != 32 {
		return out, errTxidLength
	}
	copy(out[:], b)
	return out, nil
}

var errTxidLength = &hexLengthError{want: 32}

type hexLengthError struct{ want int }

func (e *hexLengthError) Error() string { return "rpcserver: txid must decode to 32 bytes" }

func (s *Server) handleProvideListYuvProofs(c echo.Context, ctx context.Context, req request) error {
	var txs []yuvTxParams
	if err := json.Unmarshal(req.Params, &txs); err != nil {
		return c.JSON(http.StatusOK, errResponse(req.ID, codeInvalidParams, "providelistyuvproofs: "+err.Error()))
	}

	for _, p := range txs {
		raw, err := hex.DecodeString(p.RawTx)
		if err != nil {
			return c.JSON(http.StatusOK, errResponse(req.ID, codeInvalidParams, "providelistyuvproofs: "+err.Error()))
		}
		if err := s.submit.ProvideProofs(ctx, raw, p.RawProofs); err != nil {
			return c.JSON(http.StatusOK, errResponse(req.ID, codeInternal, err.Error()))
		}
	}
	return c.JSON(http.StatusOK, okResponse(req.ID, true))
}

func (s *Server) handleGetRawYuvTransaction(c echo.Context, ctx context.Context, req request) error {
	var params struct {
		Txid string `json:"txid"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return c.JSON(http.StatusOK, errResponse(req.ID, codeInvalidParams, "getrawyuvtransaction: "+err.Error()))
	}
	txid, err := decodeTxid(params.Txid)
	if err != nil {
		return c.JSON(http.StatusOK, errResponse(req.ID, codeInvalidParams, "getrawyuvtransaction: "+err.Error()))
	}

	tx, ok, err := s.store.GetTx(ctx, txid)
	if err != nil {
		return c.JSON(http.StatusOK, errResponse(req.ID, codeInternal, err.Error()))
	}
	if !ok {
		return c.JSON(http.StatusOK, okResponse(req.ID, noneResponse))
	}
	return c.JSON(http.StatusOK, okResponse(req.ID, toTxResponse(tx)))
}

func (s *Server) handleGetListRawYuvTransactions(c echo.Context, ctx context.Context, req request) error {
	var params struct {
		AfterTxid string `json:"after_txid"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return c.JSON(http.StatusOK, errResponse(req.ID, codeInvalidParams, "getlistrawyuvtransactions: "+err.Error()))
	}

	var after [32]byte
	if params.AfterTxid != "" {
		var err error
		after, err = decodeTxid(params.AfterTxid)
		if err != nil {
			return c.JSON(http.StatusOK, errResponse(req.ID, codeInvalidParams, "getlistrawyuvtransactions: "+err.Error()))
		}
	}

	txs, err := s.store.ListTxs(ctx, after, s.cfg.PageSize)
	if err != nil {
		return c.JSON(http.StatusOK, errResponse(req.ID, codeInternal, err.Error()))
	}
	out := make([]txResponse, len(txs))
	for i, tx := range txs {
		out[i] = toTxResponse(tx)
	}
	return c.JSON(http.StatusOK, okResponse(req.ID, out))
}

func (s *Server) handleSendRawYuvTransaction(c echo.Context, ctx context.Context, req request) error {
	var params yuvTxParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return c.JSON(http.StatusOK, errResponse(req.ID, codeInvalidParams, "sendrawyuvtransaction: "+err.Error()))
	}
	raw, err := hex.DecodeString(params.RawTx)
	if err != nil {
		return c.JSON(http.StatusOK, errResponse(req.ID, codeInvalidParams, "sendrawyuvtransaction: "+err.Error()))
	}

	if err := s.submit.SubmitTx(ctx, raw, params.RawProofs); err != nil {
		return c.JSON(http.StatusOK, errResponse(req.ID, codeInternal, err.Error()))
	}
	return c.JSON(http.StatusOK, okResponse(req.ID, true))
}

func (s *Server) handleIsYuvTxOutFrozen(c echo.Context, ctx context.Context, req request) error {
	var params struct {
		Txid string `json:"txid"`
		Vout uint32 `json:"vout"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return c.JSON(http.StatusOK, errResponse(req.ID, codeInvalidParams, "isyuvtxoutfrozen: "+err.Error()))
	}
	txid, err := decodeTxid(params.Txid)
	if err != nil {
		return c.JSON(http.StatusOK, errResponse(req.ID, codeInvalidParams, "isyuvtxoutfrozen: "+err.Error()))
	}

	frozen, err := s.store.IsFrozen(ctx, storage.OutPoint{Hash: txid, Index: params.Vout})
	if err != nil {
		return c.JSON(http.StatusOK, errResponse(req.ID, codeInternal, err.Error()))
	}
	return c.JSON(http.StatusOK, okResponse(req.ID, frozen))
}
