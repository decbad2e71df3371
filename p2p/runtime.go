package p2p

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultReadDeadline  = 15 * time.Second
	defaultWriteDeadline = 15 * time.Second
	defaultBanThreshold  = 100
	defaultMaxPeers      = 64

	cmdVersion  = "version"
	cmdVerack   = "verack"
	cmdPing     = "ping"
	cmdPong     = "pong"
	cmdInv      = "inv"
	cmdGetData  = "getdata"
	cmdTx       = "tx"
)

// RuntimeConfig tunes one node's P2P connection handling.
type RuntimeConfig struct {
	Network       string
	MaxPeers      int
	ReadDeadline  time.Duration
	WriteDeadline time.Duration
	BanThreshold  int
}

func DefaultRuntimeConfig(network string, maxPeers int) RuntimeConfig {
	if maxPeers <= 0 {
		maxPeers = defaultMaxPeers
	}
	return RuntimeConfig{
		Network:       network,
		MaxPeers:      maxPeers,
		ReadDeadline:  defaultReadDeadline,
		WriteDeadline: defaultWriteDeadline,
		BanThreshold:  defaultBanThreshold,
	}
}

// NetworkMagic picks the 4-byte transport magic for a named network, so a
// devnet node and a mainnet node never accidentally handshake.
func NetworkMagic(network string) uint32 {
	switch network {
	case "mainnet":
		return 0x59555658 // "YUVX"
	case "testnet":
		return 0x59555654 // "YUVT"
	case "devnet", "":
		return 0x59555644 // "YUVD"
	default:
		return 0x59555650 // "YUVP"
	}
}

// VersionPayload is the handshake's only message body: protocol version
// plus whether the peer relays plain (non-YUV) transactions too.
type VersionPayload struct {
	ProtocolVersion uint32
	TxRelay         bool
}

func marshalVersion(v VersionPayload) []byte {
	out := make([]byte, 5)
	binary.LittleEndian.PutUint32(out[0:4], v.ProtocolVersion)
	if v.TxRelay {
		out[4] = 1
	}
	return out
}

func unmarshalVersion(b []byte) (VersionPayload, error) {
	if len(b) < 5 {
		return VersionPayload{}, fmt.Errorf("p2p: version payload too short")
	}
	return VersionPayload{
		ProtocolVersion: binary.LittleEndian.Uint32(b[0:4]),
		TxRelay:         b[4] == 1,
	}, nil
}

// ProtocolVersion is this node's own version, bumped whenever the wire
// format in envelope.go/messages.go changes incompatibly.
const ProtocolVersion uint32 = 1

// Handlers are the controller-side callbacks a Manager dispatches incoming
// messages to; any left nil is simply ignored.
type Handlers struct {
	OnInv     func(peer string, vecs []InvVector)
	OnGetData func(peer string, vecs []InvVector)
	// OnTx returns the error the tx was rejected for, if any, so the read
	// loop can bump the sending peer's BanScore (spec.md §7: validation
	// errors attributable to a specific peer count against it). A nil
	// return means the tx was accepted or ignored, not a misbehavior.
	OnTx func(peer string, msg TxMessage) error
}

// defaultTxMisbehaviorDelta is the ban-score cost of a rejected P2P tx
// whose handler error doesn't say otherwise — the same flat-delta pattern
// envelope.go uses for framing errors.
const defaultTxMisbehaviorDelta = 10

// TxMisbehavior lets an OnTx handler grade how severely a rejection should
// count against the sending peer's BanScore, instead of the flat default —
// a malformed proof bundle and a provable balance violation aren't equally
// suspicious.
type TxMisbehavior interface {
	error
	BanScoreDelta() int
}

// Peer is one live, handshaken connection.
type Peer struct {
	addr string
	conn net.Conn
	cfg  RuntimeConfig

	writeMu sync.Mutex
	ban     BanScore
}

func (p *Peer) send(cmd string, payload []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if p.cfg.WriteDeadline > 0 {
		_ = p.conn.SetWriteDeadline(time.Now().Add(p.cfg.WriteDeadline))
	}
	return WriteMessage(p.conn, NetworkMagic(p.cfg.Network), cmd, payload)
}

func (p *Peer) Close() { _ = p.conn.Close() }

// Manager owns every live peer connection, handshakes new ones, dials or
// accepts them, and dispatches framed messages to Handlers — the concrete
// controller.Broadcaster this node's Controller is built against.
type Manager struct {
	cfg      RuntimeConfig
	handlers Handlers
	log      *zap.Logger

	mu    sync.RWMutex
	peers map[string]*Peer
}

func NewManager(cfg RuntimeConfig, handlers Handlers, log *zap.Logger) *Manager {
	if cfg.MaxPeers <= 0 {
		cfg.MaxPeers = defaultMaxPeers
	}
	if cfg.ReadDeadline <= 0 {
		cfg.ReadDeadline = defaultReadDeadline
	}
	if cfg.WriteDeadline <= 0 {
		cfg.WriteDeadline = defaultWriteDeadline
	}
	if cfg.BanThreshold <= 0 {
		cfg.BanThreshold = defaultBanThreshold
	}
	return &Manager{cfg: cfg, handlers: handlers, log: log, peers: make(map[string]*Peer)}
}

// Listen accepts inbound connections until ctx is cancelled.
func (m *Manager) Listen(ctx context.Context, bindAddr string) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", bindAddr)
	if err != nil {
		return fmt.Errorf("p2p: listen: %w", err)
	}
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				m.log.Warn("p2p: accept failed", zap.Error(err))
				return err
			}
		}
		go m.handleInbound(ctx, conn)
	}
}

func (m *Manager) handleInbound(ctx context.Context, conn net.Conn) {
	peer, err := m.handshakeInbound(ctx, conn)
	if err != nil {
		m.log.Debug("p2p: inbound handshake failed", zap.Error(err), zap.String("remote", conn.RemoteAddr().String()))
		_ = conn.Close()
		return
	}
	m.runPeer(ctx, peer)
}

// Connect dials addr, performs the outbound handshake, and runs the read
// loop until ctx is cancelled or the connection drops.
func (m *Manager) Connect(ctx context.Context, addr string) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("p2p: dial %s: %w", addr, err)
	}
	peer, err := m.handshakeOutbound(ctx, conn, addr)
	if err != nil {
		_ = conn.Close()
		return err
	}
	go m.runPeer(ctx, peer)
	return nil
}

func (m *Manager) register(addr string, peer *Peer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.peers) >= m.cfg.MaxPeers {
		return fmt.Errorf("p2p: max peers reached")
	}
	m.peers[addr] = peer
	return nil
}

func (m *Manager) unregister(addr string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.peers, addr)
}

func (m *Manager) handshakeOutbound(ctx context.Context, conn net.Conn, addr string) (*Peer, error) {
	peer := &Peer{addr: addr, conn: conn, cfg: m.cfg}
	if err := peer.send(cmdVersion, marshalVersion(VersionPayload{ProtocolVersion: ProtocolVersion, TxRelay: true})); err != nil {
		return nil, err
	}
	if err := m.awaitHandshake(ctx, peer); err != nil {
		return nil, err
	}
	if err := m.register(addr, peer); err != nil {
		return nil, err
	}
	return peer, nil
}

func (m *Manager) handshakeInbound(ctx context.Context, conn net.Conn) (*Peer, error) {
	addr := conn.RemoteAddr().String()
	peer := &Peer{addr: addr, conn: conn, cfg: m.cfg}
	// Sends its own version before awaiting the handshake, same as
	// handshakeOutbound: awaitHandshake only answers a received version
	// with a verack, it never sends one unprompted, so whichever side
	// waited to send version first would block forever waiting on the
	// other's verack.
	if err := peer.send(cmdVersion, marshalVersion(VersionPayload{ProtocolVersion: ProtocolVersion, TxRelay: true})); err != nil {
		return nil, err
	}
	if err := m.awaitHandshake(ctx, peer); err != nil {
		return nil, err
	}
	if err := m.register(addr, peer); err != nil {
		return nil, err
	}
	return peer, nil
}

// awaitHandshake reads until the peer's version and our own verack have
// both been exchanged, bumping BanScore on anything out of sequence.
func (m *Manager) awaitHandshake(ctx context.Context, peer *Peer) error {
	r := bufio.NewReader(peer.conn)
	gotVersion, sentVerack, gotVerack := false, false, false
	for !(gotVersion && sentVerack && gotVerack) {
		if peer.cfg.ReadDeadline > 0 {
			_ = peer.conn.SetReadDeadline(time.Now().Add(peer.cfg.ReadDeadline))
		}
		msg, rerr := ReadMessage(r, NetworkMagic(peer.cfg.Network))
		if rerr != nil {
			return rerr
		}
		switch msg.Command {
		case cmdVersion:
			if _, err := unmarshalVersion(msg.Payload); err != nil {
				return err
			}
			gotVersion = true
			if !sentVerack {
				if err := peer.send(cmdVerack, nil); err != nil {
					return err
				}
				sentVerack = true
			}
		case cmdVerack:
			gotVerack = true
		default:
			peer.ban.Add(time.Now(), 10)
			if peer.ban.ShouldBan(time.Now()) {
				return errors.New("p2p: peer banned during handshake")
			}
		}
	}
	return nil
}

func (m *Manager) getHandlers() Handlers {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.handlers
}

// runPeer is the steady-state read loop once the handshake completes.
func (m *Manager) runPeer(ctx context.Context, peer *Peer) {
	defer m.unregister(peer.addr)
	defer peer.Close()

	handlers := m.getHandlers()
	r := bufio.NewReader(peer.conn)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if peer.cfg.ReadDeadline > 0 {
			_ = peer.conn.SetReadDeadline(time.Now().Add(peer.cfg.ReadDeadline))
		}
		msg, rerr := ReadMessage(r, NetworkMagic(peer.cfg.Network))
		if rerr != nil {
			if rerr.Err == io.EOF {
				return
			}
			var netErr net.Error
			if errors.As(rerr.Err, &netErr) && netErr.Timeout() {
				continue
			}
			m.log.Debug("p2p: read failed", zap.String("peer", peer.addr), zap.Error(rerr.Err))
			if rerr.Disconnect {
				return
			}
			peer.ban.Add(time.Now(), rerr.BanScoreDelta)
			if peer.ban.ShouldBan(time.Now()) {
				return
			}
			continue
		}

		switch msg.Command {
		case cmdPing:
			_ = peer.send(cmdPong, nil)
		case cmdInv:
			vecs, err := DecodeInvPayload(msg.Payload)
			if err != nil {
				peer.ban.Add(time.Now(), 10)
				continue
			}
			if handlers.OnInv != nil {
				handlers.OnInv(peer.addr, vecs)
			}
		case cmdGetData:
			vecs, err := DecodeGetDataPayload(msg.Payload)
			if err != nil {
				peer.ban.Add(time.Now(), 10)
				continue
			}
			if handlers.OnGetData != nil {
				handlers.OnGetData(peer.addr, vecs)
			}
		case cmdTx:
			txm, err := DecodeTxPayload(msg.Payload)
			if err != nil {
				peer.ban.Add(time.Now(), 10)
				continue
			}
			if handlers.OnTx != nil {
				if terr := handlers.OnTx(peer.addr, txm); terr != nil {
					delta := defaultTxMisbehaviorDelta
					if mb, ok := terr.(TxMisbehavior); ok {
						delta = mb.BanScoreDelta()
					}
					peer.ban.Add(time.Now(), delta)
					if peer.ban.ShouldBan(time.Now()) {
						return
					}
				}
			}
		case cmdVersion, cmdVerack:
			// already exchanged during handshake; a peer resending these
			// post-handshake is noncompliant but not worth banning for.
		default:
			peer.ban.Add(time.Now(), 1)
			if peer.ban.ShouldBan(time.Now()) {
				return
			}
		}
	}
}

// BroadcastInv sends vecs to every connected peer — the controller's
// Broadcaster.BroadcastInv.
func (m *Manager) BroadcastInv(vecs []InvVector) {
	payload, err := EncodeInvPayload(vecs)
	if err != nil {
		m.log.Warn("p2p: encode inv", zap.Error(err))
		return
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for addr, peer := range m.peers {
		if err := peer.send(cmdInv, payload); err != nil {
			m.log.Debug("p2p: broadcast inv failed", zap.String("peer", addr), zap.Error(err))
		}
	}
}

// SendGetData requests vecs from one named peer — the controller's
// Broadcaster.SendGetData.
func (m *Manager) SendGetData(peerAddr string, vecs []InvVector) {
	payload, err := EncodeGetDataPayload(vecs)
	if err != nil {
		m.log.Warn("p2p: encode getdata", zap.Error(err))
		return
	}
	m.mu.RLock()
	peer, ok := m.peers[peerAddr]
	m.mu.RUnlock()
	if !ok {
		return
	}
	if err := peer.send(cmdGetData, payload); err != nil {
		m.log.Debug("p2p: send getdata failed", zap.String("peer", peerAddr), zap.Error(err))
	}
}

// SendTx answers a peer's GetData with the full transaction it asked for.
func (m *Manager) SendTx(peerAddr string, msg TxMessage) error {
	m.mu.RLock()
	peer, ok := m.peers[peerAddr]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("p2p: peer %s not connected", peerAddr)
	}
	return peer.send(cmdTx, EncodeTxPayload(msg))
}

// SetHandlers replaces the dispatch callbacks. Callers construct a Manager
// before the controller it feeds exists, so this lets main wire them
// together in two steps rather than threading a not-yet-built controller
// into NewManager.
func (m *Manager) SetHandlers(h Handlers) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = h
}

// PeerCount reports the number of currently-connected peers, for metrics
// and the node's own startup banner.
func (m *Manager) PeerCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.peers)
}
