package txcheck

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/wire"

	"yuvprotocol.org/node/pixel"
	"yuvprotocol.org/node/pixel/announce"
)

// DecodeYuvTx builds a YuvTx from a raw Bitcoin transaction plus the
// per-index proof blobs a peer or RPC caller provided — the inverse of what
// the controller hands to P2P/RPC once a transaction attaches. TxType is
// inferred the same way the announcement sub-indexer classifies a
// confirmed block's outputs: an OP_RETURN carrying a valid YUV
// announcement makes this an Announcement (or Issue, if the announcement
// is an Issuance); anything else with pixel proofs is a Transfer.
func DecodeYuvTx(raw []byte, inputProofs, outputProofs map[uint32][]byte) (*YuvTx, error) {
	btx := wire.NewMsgTx(2)
	if err := btx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("txcheck: deserialize raw tx: %w", err)
	}

	ytx := &YuvTx{
		Btx:          btx,
		InputProofs:  make(map[uint32]pixel.Proof, len(inputProofs)),
		OutputProofs: make(map[uint32]pixel.Proof, len(outputProofs)),
		Type:         TxTypeTransfer,
	}
	for idx, b := range inputProofs {
		p, err := pixel.DecodeProof(b)
		if err != nil {
			return nil, fmt.Errorf("txcheck: decode input proof %d: %w", idx, err)
		}
		ytx.InputProofs[idx] = p
	}
	for idx, b := range outputProofs {
		p, err := pixel.DecodeProof(b)
		if err != nil {
			return nil, fmt.Errorf("txcheck: decode output proof %d: %w", idx, err)
		}
		ytx.OutputProofs[idx] = p
	}

	for _, out := range btx.TxOut {
		data, ok := announce.ExtractOpReturn(out.PkScript)
		if !ok {
			continue
		}
		ann, err := announce.Parse(data)
		if err != nil {
			continue
		}
		ytx.Announcement = ann
		if ann.Kind == announce.KindIssuance {
			ytx.Type = TxTypeIssue
		} else {
			ytx.Type = TxTypeAnnouncement
		}
		break
	}

	return ytx, nil
}

// EncodeRawTx serializes just the underlying Bitcoin transaction, the form
// sendrawyuvtransaction hands to bitcoinrpc.Client.SendRawTransaction and
// p2p.TxMessage.RawTx.
func EncodeRawTx(ytx *YuvTx) ([]byte, error) {
	var buf bytes.Buffer
	if err := ytx.Btx.Serialize(&buf); err != nil {
		return nil, fmt.Errorf("txcheck: serialize raw tx: %w", err)
	}
	return buf.Bytes(), nil
}

// EncodeProofs serializes every input/output proof on ytx to the
// per-index byte maps providelistyuvproofs/sendrawyuvtransaction carry.
func EncodeProofs(ytx *YuvTx) (inputProofs, outputProofs map[uint32][]byte, err error) {
	inputProofs = make(map[uint32][]byte, len(ytx.InputProofs))
	for idx, p := range ytx.InputProofs {
		b, err := pixel.EncodeProof(p)
		if err != nil {
			return nil, nil, fmt.Errorf("txcheck: encode input proof %d: %w", idx, err)
		}
		inputProofs[idx] = b
	}
	outputProofs = make(map[uint32][]byte, len(ytx.OutputProofs))
	for idx, p := range ytx.OutputProofs {
		b, err := pixel.EncodeProof(p)
		if err != nil {
			return nil, nil, fmt.Errorf("txcheck: encode output proof %d: %w", idx, err)
		}
		outputProofs[idx] = b
	}
	return inputProofs, outputProofs, nil
}

// EncodeProofBundle packs per-index input/output proof blobs into a single
// byte string — the form p2p.TxMessage.YuvPayload carries, since the P2P
// side channel has no JSON envelope to hang a map on the way
// rpcserver.RawProofs does.
func EncodeProofBundle(inputProofs, outputProofs map[uint32][]byte) []byte {
	var buf bytes.Buffer
	writeProofMap(&buf, inputProofs)
	writeProofMap(&buf, outputProofs)
	return buf.Bytes()
}

// DecodeProofBundle is the inverse of EncodeProofBundle.
func DecodeProofBundle(b []byte) (inputProofs, outputProofs map[uint32][]byte, err error) {
	r := bytes.NewReader(b)
	inputProofs, err = readProofMap(r)
	if err != nil {
		return nil, nil, fmt.Errorf("txcheck: decode input proof bundle: %w", err)
	}
	outputProofs, err = readProofMap(r)
	if err != nil {
		return nil, nil, fmt.Errorf("txcheck: decode output proof bundle: %w", err)
	}
	return inputProofs, outputProofs, nil
}

func writeProofMap(buf *bytes.Buffer, m map[uint32][]byte) {
	var countBytes [4]byte
	binary.LittleEndian.PutUint32(countBytes[:], uint32(len(m)))
	buf.Write(countBytes[:])
	for idx, b := range m {
		var hdr [8]byte
		binary.LittleEndian.PutUint32(hdr[0:4], idx)
		binary.LittleEndian.PutUint32(hdr[4:8], uint32(len(b)))
		buf.Write(hdr[:])
		buf.Write(b)
	}
}

func readProofMap(r *bytes.Reader) (map[uint32][]byte, error) {
	var countBytes [4]byte
	if _, err := io.ReadFull(r, countBytes[:]); err != nil {
		return nil, err
	}
	count := binary.LittleEndian.Uint32(countBytes[:])
	out := make(map[uint32][]byte, count)
	for i := uint32(0); i < count; i++ {
		var hdr [8]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return nil, err
		}
		idx := binary.LittleEndian.Uint32(hdr[0:4])
		n := binary.LittleEndian.Uint32(hdr[4:8])
		body := make([]byte, n)
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, err
		}
		out[idx] = body
	}
	return out, nil
}
