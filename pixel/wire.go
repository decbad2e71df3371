package pixel

import (
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"

	"yuvprotocol.org/node/wire"
)

// EncodeProof is the wire serialization for a Proof: a one-byte ProofKind
// tag followed by the kind-specific body, the binary counterpart to
// pixel/announce's OP_RETURN format — used wherever a proof travels off
// this process (P2P's Tx side channel, the providelistyuvproofs/
// sendrawyuvtransaction JSON-RPC payload).
func EncodeProof(p Proof) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("pixel: cannot encode a nil proof")
	}
	out := []byte{byte(p.Kind())}

	switch v := p.(type) {
	case *SigProof:
		out = append(out, v.Pixel.Bytes()...)
		out = append(out, v.InnerKey.SerializeCompressed()...)

	case *MultisigProof:
		out = append(out, v.Pixel.Bytes()...)
		if v.Threshold < 0 || v.Threshold > 0xff || len(v.InnerKeys) > 0xff {
			return nil, fmt.Errorf("pixel: multisig threshold/key count out of range")
		}
		out = append(out, byte(v.Threshold), byte(len(v.InnerKeys)))
		for _, k := range v.InnerKeys {
			out = append(out, k.SerializeCompressed()...)
		}
		out = append(out, v.AggregateKey.SerializeCompressed()...)

	case *LightningProof:
		out = append(out, v.Pixel.Bytes()...)
		out = append(out, v.InnerKey.SerializeCompressed()...)
		out = append(out, v.Script.RevocationKey.SerializeCompressed()...)
		out = append(out, v.Script.PaymentKey.SerializeCompressed()...)
		out = append(out, v.Script.PaymentHash[:]...)
		var csv [4]byte
		binary.LittleEndian.PutUint32(csv[:], v.Script.CsvDelay)
		out = append(out, csv[:]...)

	case *BulletproofProof:
		out = append(out, v.Chroma_[:]...)
		out = append(out, v.InnerKey.SerializeCompressed()...)
		out = append(out, v.Commitment.Bytes()...)
		out = append(out, wire.CompactSize(len(v.RangeProof)).Encode()...)
		out = append(out, v.RangeProof...)

	case *EmptyPixelProof:
		// no body

	default:
		return nil, fmt.Errorf("pixel: cannot encode unknown proof type %T", p)
	}

	return out, nil
}

// DecodeProof is the inverse of EncodeProof.
func DecodeProof(b []byte) (Proof, error) {
	if len(b) < 1 {
		return nil, fmt.Errorf("pixel: empty proof bytes")
	}
	kind := ProofKind(b[0])
	off := 1

	switch kind {
	case ProofKindSig:
		pix, err := readPixel(b, &off)
		if err != nil {
			return nil, err
		}
		key, err := readPubKey(b, &off)
		if err != nil {
			return nil, err
		}
		if off != len(b) {
			return nil, fmt.Errorf("pixel: trailing bytes in sig proof")
		}
		return &SigProof{Pixel: pix, InnerKey: key}, nil

	case ProofKindMultisig:
		pix, err := readPixel(b, &off)
		if err != nil {
			return nil, err
		}
		threshold, err := readU8(b, &off)
		if err != nil {
			return nil, err
		}
		n, err := readU8(b, &off)
		if err != nil {
			return nil, err
		}
		keys := make([]*btcec.PublicKey, n)
		for i := range keys {
			k, err := readPubKey(b, &off)
			if err != nil {
				return nil, err
			}
			keys[i] = k
		}
		agg, err := readPubKey(b, &off)
		if err != nil {
			return nil, err
		}
		if off != len(b) {
			return nil, fmt.Errorf("pixel: trailing bytes in multisig proof")
		}
		return &MultisigProof{Pixel: pix, InnerKeys: keys, Threshold: int(threshold), AggregateKey: agg}, nil

	case ProofKindLightning:
		pix, err := readPixel(b, &off)
		if err != nil {
			return nil, err
		}
		innerKey, err := readPubKey(b, &off)
		if err != nil {
			return nil, err
		}
		revKey, err := readPubKey(b, &off)
		if err != nil {
			return nil, err
		}
		payKey, err := readPubKey(b, &off)
		if err != nil {
			return nil, err
		}
		payHashBytes, err := readBytes(b, &off, 32)
		if err != nil {
			return nil, err
		}
		var payHash [32]byte
		copy(payHash[:], payHashBytes)
		csv, err := readU32le(b, &off)
		if err != nil {
			return nil, err
		}
		if off != len(b) {
			return nil, fmt.Errorf("pixel: trailing bytes in lightning proof")
		}
		return &LightningProof{
			Pixel:    pix,
			InnerKey: innerKey,
			Script: LightningScript{
				RevocationKey: revKey,
				PaymentKey:    payKey,
				PaymentHash:   payHash,
				CsvDelay:      csv,
			},
		}, nil

	case ProofKindBulletproof:
		chromaBytes, err := readBytes(b, &off, 32)
		if err != nil {
			return nil, err
		}
		chroma, err := ChromaFromBytes(chromaBytes)
		if err != nil {
			return nil, fmt.Errorf("pixel: bulletproof chroma: %w", err)
		}
		innerKey, err := readPubKey(b, &off)
		if err != nil {
			return nil, err
		}
		commitBytes, err := readBytes(b, &off, 33)
		if err != nil {
			return nil, err
		}
		commit, err := ParsePedersenCommitment(commitBytes)
		if err != nil {
			return nil, fmt.Errorf("pixel: bulletproof commitment: %w", err)
		}
		rangeLen, used, err := wire.DecodeCompactSize(b[off:])
		if err != nil {
			return nil, fmt.Errorf("pixel: bulletproof range proof length: %w", err)
		}
		off += used
		rangeProof, err := readBytes(b, &off, int(rangeLen))
		if err != nil {
			return nil, err
		}
		if off != len(b) {
			return nil, fmt.Errorf("pixel: trailing bytes in bulletproof proof")
		}
		return &BulletproofProof{Chroma_: chroma, InnerKey: innerKey, Commitment: commit, RangeProof: rangeProof}, nil

	case ProofKindEmptyPixel:
		if off != len(b) {
			return nil, fmt.Errorf("pixel: trailing bytes in empty-pixel proof")
		}
		return &EmptyPixelProof{}, nil

	default:
		return nil, ErrUnsupportedProofVariant
	}
}

func readPixel(b []byte, off *int) (Pixel, error) {
	chromaBytes, err := readBytes(b, off, 32)
	if err != nil {
		return Pixel{}, fmt.Errorf("pixel: truncated pixel chroma")
	}
	chroma, err := ChromaFromBytes(chromaBytes)
	if err != nil {
		return Pixel{}, fmt.Errorf("pixel: pixel chroma: %w", err)
	}
	luma, err := readU64le(b, off)
	if err != nil {
		return Pixel{}, fmt.Errorf("pixel: truncated pixel luma: %w", err)
	}
	return Pixel{Chroma: chroma, Luma: Luma(luma)}, nil
}

func readPubKey(b []byte, off *int) (*btcec.PublicKey, error) {
	raw, err := readBytes(b, off, 33)
	if err != nil {
		return nil, fmt.Errorf("pixel: truncated public key")
	}
	key, err := btcec.ParsePubKey(raw)
	if err != nil {
		return nil, fmt.Errorf("pixel: invalid public key: %w", err)
	}
	return key, nil
}

func readU8(b []byte, off *int) (uint8, error) {
	if *off+1 > len(b) {
		return 0, fmt.Errorf("pixel: unexpected EOF (u8)")
	}
	v := b[*off]
	*off++
	return v, nil
}

func readU32le(b []byte, off *int) (uint32, error) {
	if *off+4 > len(b) {
		return 0, fmt.Errorf("pixel: unexpected EOF (u32le)")
	}
	v := binary.LittleEndian.Uint32(b[*off : *off+4])
	*off += 4
	return v, nil
}

func readU64le(b []byte, off *int) (uint64, error) {
	if *off+8 > len(b) {
		return 0, fmt.Errorf("pixel: unexpected EOF (u64le)")
	}
	v := binary.LittleEndian.Uint64(b[*off : *off+8])
	*off += 8
	return v, nil
}

func readBytes(b []byte, off *int, n int) ([]byte, error) {
	if n < 0 || *off+n > len(b) {
		return nil, fmt.Errorf("pixel: unexpected EOF (bytes)")
	}
	v := b[*off : *off+n]
	*off += n
	return v, nil
}
