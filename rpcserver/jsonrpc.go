package rpcserver

import (
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"
)

// request is a JSON-RPC 2.0 call.
type request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// response is a JSON-RPC 2.0 reply: exactly one of Result/Error is set.
type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// rpcError carries a numeric JSON-RPC error code and a human message,
// spec.md §7's "carry the kind and a human message, no stack trace".
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternal       = -32603
)

func errResponse(id json.RawMessage, code int, msg string) response {
	return response{JSONRPC: "2.0", ID: id, Error: &rpcError{Code: code, Message: msg}}
}

func okResponse(id json.RawMessage, result any) response {
	return response{JSONRPC: "2.0", ID: id, Result: result}
}

// handleJSONRPC is the single POST / entry point: it parses one JSON-RPC
// 2.0 envelope and dispatches to the headline method it names.
func (s *Server) handleJSONRPC(c echo.Context) error {
	var req request
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return c.JSON(http.StatusOK, errResponse(nil, codeParseError, "parse error"))
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		return c.JSON(http.StatusOK, errResponse(req.ID, codeInvalidRequest, "invalid request"))
	}

	ctx := c.Request().Context()
	switch req.Method {
	case "providelistyuvproofs":
		return s.handleProvideListYuvProofs(c, ctx, req)
	case "getrawyuvtransaction":
		return s.handleGetRawYuvTransaction(c, ctx, req)
	case "getlistrawyuvtransactions":
		return s.handleGetListRawYuvTransactions(c, ctx, req)
	case "sendrawyuvtransaction":
		return s.handleSendRawYuvTransaction(c, ctx, req)
	case "isyuvtxoutfrozen":
		return s.handleIsYuvTxOutFrozen(c, ctx, req)
	default:
		return c.JSON(http.StatusOK, errResponse(req.ID, codeMethodNotFound, "method not found: "+req.Method))
	}
}
