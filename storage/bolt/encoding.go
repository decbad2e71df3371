package bolt

import (
	"encoding/binary"
	"fmt"

	"yuvprotocol.org/node/pixel"
	"yuvprotocol.org/node/storage"
)

func encodeOutpointKey(p storage.OutPoint) []byte {
	out := make([]byte, 36)
	copy(out[:32], p.Hash[:])
	binary.LittleEndian.PutUint32(out[32:], p.Index)
	return out
}

func encodeFreezeValue(chroma pixel.Chroma, frozen bool, blockHeight uint32) []byte {
	out := make([]byte, 32+1+4)
	copy(out[:32], chroma[:])
	if frozen {
		out[32] = 1
	}
	binary.LittleEndian.PutUint32(out[33:], blockHeight)
	return out
}

func decodeFreezeValue(b []byte) (pixel.Chroma, bool, uint32, error) {
	if len(b) != 37 {
		return pixel.Chroma{}, false, 0, fmt.Errorf("storage: corrupt freeze record")
	}
	var chroma pixel.Chroma
	copy(chroma[:], b[:32])
	frozen := b[32] != 0
	height := binary.LittleEndian.Uint32(b[33:])
	return chroma, frozen, height, nil
}

func encodeCursor(c storage.Cursor) []byte {
	out := make([]byte, 4+32)
	binary.LittleEndian.PutUint32(out[:4], c.Height)
	copy(out[4:], c.Hash[:])
	return out
}

func decodeCursor(b []byte) (storage.Cursor, error) {
	if len(b) != 36 {
		return storage.Cursor{}, fmt.Errorf("storage: corrupt cursor")
	}
	var c storage.Cursor
	c.Height = binary.LittleEndian.Uint32(b[:4])
	copy(c.Hash[:], b[4:])
	return c, nil
}

// encodeAttachedTx lays out an AttachedTx as:
//
//	txid(32) | height u32le | tx_index u32le |
//	raw_len u32le | raw_bytes |
//	n_input_proofs u32le | (index u32le | len u32le | bytes)* |
//	n_output_proofs u32le | (index u32le | len u32le | bytes)*
func encodeAttachedTx(tx storage.AttachedTx) ([]byte, error) {
	out := make([]byte, 0, 64+len(tx.RawTx))
	out = append(out, tx.Txid[:]...)

	var u32 [4]byte
	binary.LittleEndian.PutUint32(u32[:], tx.BlockHeight)
	out = append(out, u32[:]...)
	binary.LittleEndian.PutUint32(u32[:], tx.BlockTxIndex)
	out = append(out, u32[:]...)

	binary.LittleEndian.PutUint32(u32[:], uint32(len(tx.RawTx)))
	out = append(out, u32[:]...)
	out = append(out, tx.RawTx...)

	out = appendProofMap(out, tx.InputProofs)
	out = appendProofMap(out, tx.OutputProofs)

	return out, nil
}

func appendProofMap(out []byte, m map[uint32][]byte) []byte {
	var u32 [4]byte
	binary.LittleEndian.PutUint32(u32[:], uint32(len(m)))
	out = append(out, u32[:]...)
	for idx, proof := range m {
		binary.LittleEndian.PutUint32(u32[:], idx)
		out = append(out, u32[:]...)
		binary.LittleEndian.PutUint32(u32[:], uint32(len(proof)))
		out = append(out, u32[:]...)
		out = append(out, proof...)
	}
	return out
}

func decodeAttachedTx(b []byte) (storage.AttachedTx, error) {
	var out storage.AttachedTx
	if len(b) < 32+4+4+4 {
		return out, fmt.Errorf("storage: corrupt attached tx")
	}
	off := 0
	copy(out.Txid[:], b[off:off+32])
	off += 32
	out.BlockHeight = binary.LittleEndian.Uint32(b[off:])
	off += 4
	out.BlockTxIndex = binary.LittleEndian.Uint32(b[off:])
	off += 4

	rawLen := int(binary.LittleEndian.Uint32(b[off:]))
	off += 4
	if off+rawLen > len(b) {
		return out, fmt.Errorf("storage: corrupt attached tx raw bytes")
	}
	out.RawTx = append([]byte(nil), b[off:off+rawLen]...)
	off += rawLen

	inputProofs, off2, err := readProofMap(b, off)
	if err != nil {
		return out, err
	}
	out.InputProofs = inputProofs
	off = off2

	outputProofs, off3, err := readProofMap(b, off)
	if err != nil {
		return out, err
	}
	out.OutputProofs = outputProofs
	off = off3

	if off != len(b) {
		return out, fmt.Errorf("storage: trailing bytes in attached tx")
	}
	return out, nil
}

func readProofMap(b []byte, off int) (map[uint32][]byte, int, error) {
	if off+4 > len(b) {
		return nil, 0, fmt.Errorf("storage: corrupt proof map count")
	}
	n := int(binary.LittleEndian.Uint32(b[off:]))
	off += 4
	m := make(map[uint32][]byte, n)
	for i := 0; i < n; i++ {
		if off+8 > len(b) {
			return nil, 0, fmt.Errorf("storage: corrupt proof map entry header")
		}
		idx := binary.LittleEndian.Uint32(b[off:])
		off += 4
		l := int(binary.LittleEndian.Uint32(b[off:]))
		off += 4
		if off+l > len(b) {
			return nil, 0, fmt.Errorf("storage: corrupt proof map entry bytes")
		}
		m[idx] = append([]byte(nil), b[off:off+l]...)
		off += l
	}
	return m, off, nil
}
