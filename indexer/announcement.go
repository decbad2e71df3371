package indexer

import (
	"context"

	"yuvprotocol.org/node/bitcoinrpc"
	"yuvprotocol.org/node/eventbus"
	"yuvprotocol.org/node/pixel/announce"
)

// AnnouncementIndexer scans each confirmed block's OP_RETURN outputs for
// the YUV announcement magic, named and shaped after
// original_source/crates/indexers/src/subindexer/freeze.rs's
// FreezesIndexer, generalized to all four announcement kinds.
type AnnouncementIndexer struct {
	hub *eventbus.Hub
}

func NewAnnouncementIndexer(hub *eventbus.Hub) *AnnouncementIndexer {
	return &AnnouncementIndexer{hub: hub}
}

// Index emits IssuanceAnnounced / FreezeToggled / ChromaAnnounced events in
// (tx_index, vout_index) order for every transaction, output pair carrying
// a parseable announcement; non-announcement OP_RETURNs are skipped
// without any diagnostic per spec.md §4.4.
func (a *AnnouncementIndexer) Index(ctx context.Context, block *bitcoinrpc.BlockWithTxs, height uint32) error {
	for txIndex, tx := range block.Txs {
		for voutIndex, out := range tx.TxOut {
			data, ok := opReturnData(out.PkScript)
			if !ok {
				continue
			}
			ann, err := announce.Parse(data)
			if err != nil {
				continue
			}

			switch ann.Kind.String() {
			case "Issuance":
				a.hub.IssuanceAnnounced.Publish(eventbus.IssuanceAnnounced{
					BlockHeight: height,
					TxIndex:     uint32(txIndex),
					VoutIndex:   uint32(voutIndex),
					Chroma:      ann.Issuance.Chroma,
				})
			case "Freeze", "Unfreeze":
				var outpoint [36]byte
				copy(outpoint[:32], ann.Freeze.OutpointTxid[:])
				putUint32LE(outpoint[32:], ann.Freeze.OutpointVout)
				a.hub.FreezeToggled.Publish(eventbus.FreezeToggled{
					BlockHeight: height,
					TxIndex:     uint32(txIndex),
					VoutIndex:   uint32(voutIndex),
					Outpoint:    outpoint,
					NewState:    ann.Kind.String() == "Freeze",
				})
			case "Chroma":
				a.hub.ChromaAnnounced.Publish(eventbus.ChromaAnnounced{
					BlockHeight: height,
					TxIndex:     uint32(txIndex),
					VoutIndex:   uint32(voutIndex),
					Chroma:      ann.Chroma.Chroma,
				})
			}
		}
	}
	return nil
}

func putUint32LE(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}
