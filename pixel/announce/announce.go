// Package announce parses and serializes the YUV announcement format
// carried in a Bitcoin OP_RETURN output: issuance, freeze, unfreeze, and
// chroma-naming announcements.
package announce

import (
	"encoding/binary"
	"fmt"

	"yuvprotocol.org/node/pixel"
)

// Magic is the 4-byte marker every YUV announcement begins with.
var Magic = [4]byte{'y', 'u', 'v', 0}

const CurrentVersion = 0x01

// Kind tags the announcement body that follows the magic/version header.
type Kind uint8

const (
	KindIssuance Kind = 0x00
	KindFreeze   Kind = 0x01
	KindUnfreeze Kind = 0x02
	KindChroma   Kind = 0x03
)

func (k Kind) String() string {
	switch k {
	case KindIssuance:
		return "Issuance"
	case KindFreeze:
		return "Freeze"
	case KindUnfreeze:
		return "Unfreeze"
	case KindChroma:
		return "Chroma"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Announcement is the parsed contents of an OP_RETURN announcement output.
// Exactly one of the *Body fields is set, matching Kind.
type Announcement struct {
	Kind     Kind
	Issuance *IssuanceBody
	Freeze   *FreezeBody
	Chroma   *ChromaBody
}

// IssuanceBody: chroma(32B) || total_supply(8B LE).
type IssuanceBody struct {
	Chroma      pixel.Chroma
	TotalSupply uint64
}

// FreezeBody is shared by Freeze and Unfreeze announcements: chroma(32B) ||
// outpoint_txid(32B) || outpoint_vout(4B LE).
type FreezeBody struct {
	Chroma        pixel.Chroma
	OutpointTxid  [32]byte
	OutpointVout  uint32
}

// ChromaBody: chroma(32B) || name_len(1B) || name(UTF-8).
type ChromaBody struct {
	Chroma pixel.Chroma
	Name   string
}

// ErrNotAnAnnouncement is returned by Parse when the bytes don't begin with
// the YUV magic — spec requires such outputs be ignored without
// diagnostic, so callers should treat this sentinel as "skip silently", not
// as a parse failure to log.
var ErrNotAnAnnouncement = fmt.Errorf("announce: not a yuv announcement")

// Parse decodes the OP_RETURN payload (everything after OP_RETURN itself,
// i.e. not including the opcode or its own push-length byte).
func Parse(b []byte) (*Announcement, error) {
	off := 0

	magic, err := readBytes(b, &off, 4)
	if err != nil {
		return nil, ErrNotAnAnnouncement
	}
	if magic[0] != Magic[0] || magic[1] != Magic[1] || magic[2] != Magic[2] || magic[3] != Magic[3] {
		return nil, ErrNotAnAnnouncement
	}

	version, err := readU8(b, &off)
	if err != nil {
		return nil, fmt.Errorf("announce: truncated version")
	}
	if version != CurrentVersion {
		return nil, fmt.Errorf("announce: unsupported version %d", version)
	}

	kindByte, err := readU8(b, &off)
	if err != nil {
		return nil, fmt.Errorf("announce: truncated kind")
	}
	kind := Kind(kindByte)

	switch kind {
	case KindIssuance:
		chroma, err := readChroma(b, &off)
		if err != nil {
			return nil, err
		}
		supply, err := readU64le(b, &off)
		if err != nil {
			return nil, fmt.Errorf("announce: truncated issuance body: %w", err)
		}
		if off != len(b) {
			return nil, fmt.Errorf("announce: trailing bytes in issuance body")
		}
		return &Announcement{Kind: kind, Issuance: &IssuanceBody{Chroma: chroma, TotalSupply: supply}}, nil

	case KindFreeze, KindUnfreeze:
		chroma, err := readChroma(b, &off)
		if err != nil {
			return nil, err
		}
		txidBytes, err := readBytes(b, &off, 32)
		if err != nil {
			return nil, fmt.Errorf("announce: truncated freeze body: %w", err)
		}
		var txid [32]byte
		copy(txid[:], txidBytes)
		vout, err := readU32le(b, &off)
		if err != nil {
			return nil, fmt.Errorf("announce: truncated freeze body: %w", err)
		}
		if off != len(b) {
			return nil, fmt.Errorf("announce: trailing bytes in freeze body")
		}
		return &Announcement{Kind: kind, Freeze: &FreezeBody{Chroma: chroma, OutpointTxid: txid, OutpointVout: vout}}, nil

	case KindChroma:
		chroma, err := readChroma(b, &off)
		if err != nil {
			return nil, err
		}
		nameLen, err := readU8(b, &off)
		if err != nil {
			return nil, fmt.Errorf("announce: truncated chroma name length")
		}
		nameBytes, err := readBytes(b, &off, int(nameLen))
		if err != nil {
			return nil, fmt.Errorf("announce: truncated chroma name: %w", err)
		}
		if off != len(b) {
			return nil, fmt.Errorf("announce: trailing bytes in chroma body")
		}
		return &Announcement{Kind: kind, Chroma: &ChromaBody{Chroma: chroma, Name: string(nameBytes)}}, nil

	default:
		return nil, fmt.Errorf("announce: unknown kind %d", kindByte)
	}
}

// Serialize is the inverse of Parse, producing the OP_RETURN payload bytes.
func (a *Announcement) Serialize() ([]byte, error) {
	out := make([]byte, 0, 64)
	out = append(out, Magic[:]...)
	out = append(out, CurrentVersion)
	out = append(out, byte(a.Kind))

	switch a.Kind {
	case KindIssuance:
		if a.Issuance == nil {
			return nil, fmt.Errorf("announce: Issuance body required for KindIssuance")
		}
		out = append(out, a.Issuance.Chroma[:]...)
		var supply [8]byte
		binary.LittleEndian.PutUint64(supply[:], a.Issuance.TotalSupply)
		out = append(out, supply[:]...)

	case KindFreeze, KindUnfreeze:
		if a.Freeze == nil {
			return nil, fmt.Errorf("announce: Freeze body required for %s", a.Kind)
		}
		out = append(out, a.Freeze.Chroma[:]...)
		out = append(out, a.Freeze.OutpointTxid[:]...)
		var vout [4]byte
		binary.LittleEndian.PutUint32(vout[:], a.Freeze.OutpointVout)
		out = append(out, vout[:]...)

	case KindChroma:
		if a.Chroma == nil {
			return nil, fmt.Errorf("announce: Chroma body required for KindChroma")
		}
		if len(a.Chroma.Name) > 0xff {
			return nil, fmt.Errorf("announce: chroma name too long")
		}
		out = append(out, a.Chroma.Chroma[:]...)
		out = append(out, byte(len(a.Chroma.Name)))
		out = append(out, []byte(a.Chroma.Name)...)

	default:
		return nil, fmt.Errorf("announce: unknown kind %d", a.Kind)
	}

	return out, nil
}

func readChroma(b []byte, off *int) (pixel.Chroma, error) {
	raw, err := readBytes(b, off, 32)
	if err != nil {
		return pixel.Chroma{}, fmt.Errorf("announce: truncated chroma")
	}
	return pixel.ChromaFromBytes(raw)
}

func readU8(b []byte, off *int) (uint8, error) {
	if *off+1 > len(b) {
		return 0, fmt.Errorf("announce: unexpected EOF (u8)")
	}
	v := b[*off]
	*off++
	return v, nil
}

func readU32le(b []byte, off *int) (uint32, error) {
	if *off+4 > len(b) {
		return 0, fmt.Errorf("announce: unexpected EOF (u32le)")
	}
	v := binary.LittleEndian.Uint32(b[*off : *off+4])
	*off += 4
	return v, nil
}

func readU64le(b []byte, off *int) (uint64, error) {
	if *off+8 > len(b) {
		return 0, fmt.Errorf("announce: unexpected EOF (u64le)")
	}
	v := binary.LittleEndian.Uint64(b[*off : *off+8])
	*off += 8
	return v, nil
}

func readBytes(b []byte, off *int, n int) ([]byte, error) {
	if n < 0 || *off+n > len(b) {
		return nil, fmt.Errorf("announce: unexpected EOF (bytes)")
	}
	v := b[*off : *off+n]
	*off += n
	return v, nil
}
