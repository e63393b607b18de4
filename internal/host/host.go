// Package host implements the session-owning role: it registers a session
// with the relay, accepts or denies clients, assigns client IDs, answers
// pings, and dispatches application events.
//
// Its participant bookkeeping follows the same map-plus-mutex shape as the
// relay's session table, generalized from "transport address keyed by
// client_id" to a richer per-client record.
package host

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/neonproto/neon/internal/wire"
)

// Participant is the host's view of one connected client.
type Participant struct {
	ClientID uint8
	Name     string
	Addr     *net.UDPAddr
	LastPing time.Time
}

type encoder interface {
	Encode() ([]byte, error)
}

// Host owns a session: it is the participant registered under client_id 1.
type Host struct {
	sessionID uint32
	relayAddr *net.UDPAddr
	conn      *net.UDPConn
	logger    zerolog.Logger

	mu           sync.Mutex
	participants map[uint8]*Participant
	seq          uint16
	lastErr      error

	sessionConfig      wire.SessionConfig
	packetTypeRegistry []wire.PacketTypeEntry

	callbacks Callbacks
}

// Option configures optional Host behavior at construction time.
type Option func(*Host)

// WithSessionConfig overrides the tick rate and MTU hint announced to every
// client after a successful connect. Defaults to 60 and 1200.
func WithSessionConfig(tickRate, maxPacketSize uint16) Option {
	return func(h *Host) {
		h.sessionConfig.TickRate = tickRate
		h.sessionConfig.MaxPacketSize = maxPacketSize
	}
}

// WithPacketTypeRegistry announces a fixed set of game-defined packet types
// to every client that connects.
func WithPacketTypeRegistry(entries []wire.PacketTypeEntry) Option {
	return func(h *Host) {
		h.packetTypeRegistry = entries
	}
}

// New binds a local datagram socket, registers sessionID with the relay at
// relayAddr under client_id 1, and returns the live Host. Callbacks must be
// assigned via SetCallbacks before Start is called.
func New(sessionID uint32, relayAddr string, logger zerolog.Logger, opts ...Option) (*Host, error) {
	addr, err := net.ResolveUDPAddr("udp", relayAddr)
	if err != nil {
		return nil, err
	}

	conn, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		return nil, err
	}

	h := &Host{
		sessionID:    sessionID,
		relayAddr:    addr,
		conn:         conn,
		logger:       logger,
		participants: make(map[uint8]*Participant),
		sessionConfig: wire.SessionConfig{
			Version:       wire.Version,
			TickRate:      60,
			MaxPacketSize: 1200,
		},
	}
	for _, opt := range opts {
		opt(h)
	}

	if err := h.send(wire.PacketConnectRequest, wire.DestHost, wire.ConnectRequest{TargetSessionID: sessionID}); err != nil {
		conn.Close()
		return nil, err
	}

	return h, nil
}

// SetCallbacks assigns the host's event handlers. Must be called before
// Start; callback storage is not synchronized with dispatch.
func (h *Host) SetCallbacks(cb Callbacks) {
	h.callbacks = cb
}

// LocalAddr returns the host's bound socket address.
func (h *Host) LocalAddr() net.Addr {
	return h.conn.LocalAddr()
}

// ClientCount returns the number of accepted clients, excluding the host.
func (h *Host) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.participants)
}

// LastError returns the most recent transport error recorded against this
// handle.
func (h *Host) LastError() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastErr
}

func (h *Host) setLastErr(err error) {
	h.mu.Lock()
	h.lastErr = err
	h.mu.Unlock()
}

// Start runs the host's blocking receive loop until ctx is cancelled. All
// callbacks fire synchronously on the calling goroutine.
func (h *Host) Start(ctx context.Context) error {
	defer h.conn.Close()

	go func() {
		<-ctx.Done()
		h.conn.Close()
	}()

	buf := make([]byte, 2048)
	for {
		n, srcAddr, err := h.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			h.setLastErr(err)
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		h.handleDatagram(srcAddr, data)
	}
}

func (h *Host) handleDatagram(srcAddr *net.UDPAddr, data []byte) {
	hdr, payload, err := wire.Decode(data)
	if err != nil {
		// Malformed datagrams have no sender worth replying to.
		return
	}

	switch hdr.PacketType {
	case wire.PacketConnectRequest:
		h.handleConnectRequest(payload)
	case wire.PacketPing:
		h.handlePing(hdr, payload)
	case wire.PacketDisconnectNotice:
		h.handleDisconnect(hdr)
	default:
		if hdr.DestinationID != wire.DestHost && hdr.DestinationID != wire.DestBroadcast {
			// Misrouted; the relay is expected to prevent this.
			return
		}
		if h.callbacks.OnUnhandledPacket != nil {
			h.callbacks.OnUnhandledPacket(hdr.PacketType, hdr.ClientID)
		}
	}
}

func (h *Host) handleConnectRequest(payload []byte) {
	req, err := wire.DecodeConnectRequest(payload)
	if err != nil {
		return
	}

	if req.DesiredName == "" {
		h.denyClient(req.DesiredName, "display name must not be empty")
		return
	}

	h.mu.Lock()
	id, ok := h.nextFreeIDLocked()
	if ok {
		h.participants[id] = &Participant{ClientID: id, Name: req.DesiredName, LastPing: time.Now()}
	}
	h.mu.Unlock()

	if !ok {
		h.denyClient(req.DesiredName, "session is full")
		return
	}

	if err := h.send(wire.PacketConnectAccept, 0, wire.ConnectAccept{AssignedClientID: id, SessionID: h.sessionID}); err != nil {
		return
	}
	h.sendSessionConfigAndRegistry(id)

	if h.callbacks.OnClientConnect != nil {
		h.callbacks.OnClientConnect(id, req.DesiredName, h.sessionID)
	}
}

// nextFreeIDLocked scans [2, 255] for the smallest unused ID. h.mu must be
// held.
func (h *Host) nextFreeIDLocked() (uint8, bool) {
	for id := 2; id <= 255; id++ {
		if _, ok := h.participants[uint8(id)]; !ok {
			return uint8(id), true
		}
	}
	return 0, false
}

func (h *Host) denyClient(name, reason string) {
	_ = h.send(wire.PacketConnectDeny, 0, wire.ConnectDeny{Reason: reason})
	if h.callbacks.OnClientDeny != nil {
		h.callbacks.OnClientDeny(name, reason)
	}
}

func (h *Host) sendSessionConfigAndRegistry(clientID uint8) {
	_ = h.send(wire.PacketSessionConfig, clientID, h.sessionConfig)
	if len(h.packetTypeRegistry) > 0 {
		_ = h.send(wire.PacketTypeRegistry, clientID, wire.PacketTypeRegistryPayload{Entries: h.packetTypeRegistry})
	}
}

func (h *Host) handlePing(hdr wire.Header, payload []byte) {
	ping, err := wire.DecodePing(payload)
	if err != nil {
		return
	}

	h.mu.Lock()
	p, ok := h.participants[hdr.ClientID]
	if ok {
		p.LastPing = time.Now()
	}
	h.mu.Unlock()
	if !ok {
		return
	}

	_ = h.send(wire.PacketPong, hdr.ClientID, wire.Pong{OriginalTimestamp: ping.Timestamp})
	if h.callbacks.OnPingReceived != nil {
		h.callbacks.OnPingReceived(hdr.ClientID)
	}
}

func (h *Host) handleDisconnect(hdr wire.Header) {
	h.mu.Lock()
	delete(h.participants, hdr.ClientID)
	h.mu.Unlock()
}

// send encodes payload under the given packet type and destination, always
// stamped with sender client_id = 1 (the host), and writes it to the relay: the host
// never learns a client's transport address directly, only its own socket's
// path to the relay.
func (h *Host) send(packetType, destinationID uint8, payload encoder) error {
	data, err := payload.Encode()
	if err != nil {
		return err
	}

	h.mu.Lock()
	seq := h.seq
	h.seq++
	h.mu.Unlock()

	pkt, err := wire.Encode(wire.Header{
		PacketType:    packetType,
		Sequence:      seq,
		ClientID:      wire.HostClientID,
		DestinationID: destinationID,
	}, data)
	if err != nil {
		return err
	}

	if _, err := h.conn.WriteToUDP(pkt, h.relayAddr); err != nil {
		h.setLastErr(err)
		return err
	}
	return nil
}
