// Command yuv-cli issues providelistyuvproofs/sendrawyuvtransaction
// JSON-RPC 2.0 calls against a running yuv-node from the command line.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// yuvTxParams mirrors rpcserver.yuvTxParams/RawProofs: this binary never
// imports rpcserver directly since its request shape is part of the wire
// contract, not an internal type.
type yuvTxParams struct {
	RawTx        string            `json:"raw_tx"`
	InputProofs  map[string]string `json:"input_proofs,omitempty"`
	OutputProofs map[string]string `json:"output_proofs,omitempty"`
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// proofList is a repeatable -input-proof/-output-proof flag of the form
// index:hexproof, collected into the map the RPC call expects.
type proofList map[string]string

func (p proofList) String() string {
	parts := make([]string, 0, len(p))
	for k, v := range p {
		parts = append(parts, k+":"+v)
	}
	return strings.Join(parts, ",")
}

func (p proofList) Set(value string) error {
	idx, hexProof, ok := strings.Cut(value, ":")
	if !ok {
		return fmt.Errorf("expected index:hexproof, got %q", value)
	}
	if _, err := strconv.ParseUint(idx, 10, 32); err != nil {
		return fmt.Errorf("bad index %q: %w", idx, err)
	}
	p[idx] = hexProof
	return nil
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	method := os.Args[1]
	args := os.Args[2:]

	switch method {
	case "providelistyuvproofs", "sendrawyuvtransaction":
	default:
		usage()
		os.Exit(2)
	}

	fs := flag.NewFlagSet(method, flag.ExitOnError)
	addr := fs.String("addr", "127.0.0.1:8766", "yuv-node JSON-RPC address")
	rawTx := fs.String("raw-tx", "", "hex-encoded raw Bitcoin transaction (required)")
	inputProofs := make(proofList)
	outputProofs := make(proofList)
	fs.Var(inputProofs, "input-proof", "index:hexproof, repeatable")
	fs.Var(outputProofs, "output-proof", "index:hexproof, repeatable")
	timeout := fs.Duration("timeout", 30*time.Second, "request timeout")
	if err := fs.Parse(args); err != nil {
		os.Exit(2)
	}
	if strings.TrimSpace(*rawTx) == "" {
		fmt.Fprintln(os.Stderr, "-raw-tx is required")
		os.Exit(2)
	}

	tx := yuvTxParams{RawTx: *rawTx, InputProofs: inputProofs, OutputProofs: outputProofs}

	// providelistyuvproofs takes a JSON array (it's meant for batches);
	// sendrawyuvtransaction takes a single object. This binary only ever
	// submits one transaction per invocation, so the array has one entry.
	var params any = tx
	if method == "providelistyuvproofs" {
		params = []yuvTxParams{tx}
	}

	result, err := call(*addr, method, params, *timeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s failed: %v\n", method, err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	_ = enc.Encode(result)
}

func call(addr, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	client := &http.Client{Timeout: timeout}
	url := "http://" + addr + "/"
	resp, err := client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("post to %s: %w", url, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var rr rpcResponse
	if err := json.Unmarshal(raw, &rr); err != nil {
		return nil, fmt.Errorf("decode response: %w (body: %s)", err, raw)
	}
	if rr.Error != nil {
		return nil, fmt.Errorf("rpc error %d: %s", rr.Error.Code, rr.Error.Message)
	}
	return rr.Result, nil
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: yuv-cli <providelistyuvproofs|sendrawyuvtransaction> -raw-tx <hex> [-input-proof idx:hex] [-output-proof idx:hex] [-addr host:port]")
}
