package p2p

import (
	"encoding/binary"
	"fmt"

	"yuvprotocol.org/node/wire"
)

const MaxInvEntries = 50_000

// Inventory types. TypeYuvTx is the only addition over the plain Bitcoin
// set: it tells a peer "I have pixel proofs for this txid", letting nodes
// that don't care about YUV still relay it as an ordinary Bitcoin tx.
const (
	InvTypeTx    uint32 = 1
	InvTypeBlock uint32 = 2
	InvTypeYuvTx uint32 = 3
)

// InvVector names one item a peer can request with GetData.
type InvVector struct {
	Type uint32
	Hash [32]byte
}

// EncodeInvPayload serializes an Inv message body.
func EncodeInvPayload(vecs []InvVector) ([]byte, error) {
	if len(vecs) > MaxInvEntries {
		return nil, fmt.Errorf("p2p: inv: too many entries")
	}
	out := make([]byte, 0, 9+len(vecs)*(4+32))
	out = append(out, wire.CompactSize(len(vecs)).Encode()...)
	var tmp [4]byte
	for _, v := range vecs {
		binary.LittleEndian.PutUint32(tmp[:], v.Type)
		out = append(out, tmp[:]...)
		out = append(out, v.Hash[:]...)
	}
	return out, nil
}

// DecodeInvPayload parses an Inv message body.
func DecodeInvPayload(b []byte) ([]InvVector, error) {
	count, used, err := wire.DecodeCompactSize(b)
	if err != nil {
		return nil, err
	}
	if uint64(count) > MaxInvEntries {
		return nil, fmt.Errorf("p2p: inv: count exceeds MaxInvEntries")
	}
	need := used + int(count)*(4+32)
	if len(b) != need {
		return nil, fmt.Errorf("p2p: inv: length mismatch")
	}
	off := used
	out := make([]InvVector, 0, int(count))
	for i := 0; i < int(count); i++ {
		tp := binary.LittleEndian.Uint32(b[off : off+4])
		off += 4
		var h [32]byte
		copy(h[:], b[off:off+32])
		off += 32
		out = append(out, InvVector{Type: tp, Hash: h})
	}
	return out, nil
}

// GetData requests the full contents of the inventory items it names;
// encoded identically to Inv.
func EncodeGetDataPayload(vecs []InvVector) ([]byte, error) { return EncodeInvPayload(vecs) }
func DecodeGetDataPayload(b []byte) ([]InvVector, error)    { return DecodeInvPayload(b) }

// TxMessage carries a raw Bitcoin transaction plus, when present, the YUV
// pixel-proofs bundle for it — the side channel that lets an unmodified
// Bitcoin relay still forward the bytes even though it never looks at
// YuvPayload.
type TxMessage struct {
	RawTx     []byte
	YuvPayload []byte
}

// EncodeTxPayload serializes a TxMessage: compact-size-prefixed raw tx
// bytes followed by a compact-size-prefixed (possibly empty) YUV payload.
func EncodeTxPayload(m TxMessage) []byte {
	out := make([]byte, 0, len(m.RawTx)+len(m.YuvPayload)+18)
	out = append(out, wire.CompactSize(len(m.RawTx)).Encode()...)
	out = append(out, m.RawTx...)
	out = append(out, wire.CompactSize(len(m.YuvPayload)).Encode()...)
	out = append(out, m.YuvPayload...)
	return out
}

// DecodeTxPayload parses a TxMessage.
func DecodeTxPayload(b []byte) (TxMessage, error) {
	rawLen, used, err := wire.DecodeCompactSize(b)
	if err != nil {
		return TxMessage{}, err
	}
	off := used
	if off+int(rawLen) > len(b) {
		return TxMessage{}, fmt.Errorf("p2p: tx: raw tx truncated")
	}
	rawTx := b[off : off+int(rawLen)]
	off += int(rawLen)

	yuvLen, used2, err := wire.DecodeCompactSize(b[off:])
	if err != nil {
		return TxMessage{}, err
	}
	off += used2
	if off+int(yuvLen) != len(b) {
		return TxMessage{}, fmt.Errorf("p2p: tx: yuv payload length mismatch")
	}
	yuvPayload := b[off : off+int(yuvLen)]

	return TxMessage{RawTx: rawTx, YuvPayload: yuvPayload}, nil
}
