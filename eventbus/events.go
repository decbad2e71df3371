package eventbus

import "yuvprotocol.org/node/pixel"

// ErrorKind is the closed set of error kinds propagated across the bus,
// spanning both the checker's (Malformed, Unbalanced, BadProof, WrongIssuer,
// BadAnnouncement) and the wider system's (MissingAncestor, Expired,
// StorageFailure, RpcUnavailable, PeerMisbehaving) failure vocabularies.
type ErrorKind string

const (
	ErrorMalformed       ErrorKind = "Malformed"
	ErrorUnbalanced      ErrorKind = "Unbalanced"
	ErrorBadProof        ErrorKind = "BadProof"
	ErrorWrongIssuer     ErrorKind = "WrongIssuer"
	ErrorBadAnnouncement ErrorKind = "BadAnnouncement"
	ErrorMissingAncestor ErrorKind = "MissingAncestor"
	ErrorExpired         ErrorKind = "Expired"
	ErrorStorageFailure  ErrorKind = "StorageFailure"
	ErrorRpcUnavailable  ErrorKind = "RpcUnavailable"
	ErrorPeerMisbehaving ErrorKind = "PeerMisbehaving"
)

// Attached is emitted once a transaction and all of its ancestors are
// durably committed to storage.
type Attached struct {
	Txid [32]byte
}

// Rejected is emitted when a transaction is permanently dropped, along with
// why.
type Rejected struct {
	Txid   [32]byte
	Reason ErrorKind
}

// IssuanceAnnounced is emitted when the announcement sub-indexer observes a
// confirmed issuance OP_RETURN.
type IssuanceAnnounced struct {
	BlockHeight uint32
	TxIndex     uint32
	VoutIndex   uint32
	Chroma      pixel.Chroma
}

// FreezeToggled is emitted when a confirmed announcement flips an
// outpoint's frozen state.
type FreezeToggled struct {
	BlockHeight uint32
	TxIndex     uint32
	VoutIndex   uint32
	Outpoint    [36]byte // wire.OutPoint, pre-serialized to avoid an import cycle
	NewState    bool
}

// ChromaAnnounced is emitted the first time an issuer announces a chroma,
// establishing that chroma's issuing key on-chain.
type ChromaAnnounced struct {
	BlockHeight uint32
	TxIndex     uint32
	VoutIndex   uint32
	Chroma      pixel.Chroma
}

// Shutdown is broadcast once, cooperatively, to every long-lived task.
type Shutdown struct{}

// Hub composes one Bus per concrete event type, the way the teacher's
// PeerManager/DB types are composed into a single Node.
type Hub struct {
	Attached          *Bus[Attached]
	Rejected          *Bus[Rejected]
	IssuanceAnnounced *Bus[IssuanceAnnounced]
	FreezeToggled     *Bus[FreezeToggled]
	ChromaAnnounced   *Bus[ChromaAnnounced]
	Shutdown          *Bus[Shutdown]
}

// NewHub constructs a Hub with the given per-bus buffer size.
func NewHub(bufferSize int) *Hub {
	return &Hub{
		Attached:          NewBus[Attached](bufferSize),
		Rejected:          NewBus[Rejected](bufferSize),
		IssuanceAnnounced: NewBus[IssuanceAnnounced](bufferSize),
		FreezeToggled:     NewBus[FreezeToggled](bufferSize),
		ChromaAnnounced:   NewBus[ChromaAnnounced](bufferSize),
		Shutdown:          NewBus[Shutdown](1),
	}
}

// Close tears down every bus in the hub, closing all live subscriptions.
func (h *Hub) Close() {
	h.Attached.Close()
	h.Rejected.Close()
	h.IssuanceAnnounced.Close()
	h.FreezeToggled.Close()
	h.ChromaAnnounced.Close()
	h.Shutdown.Close()
}
