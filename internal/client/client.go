// Package client implements the cooperative, embedder-driven side of a
// session: it connects through the relay, drains incoming packets on demand
// via ProcessPackets, and emits automatic pings.
//
// There is no background goroutine here: callbacks fire on the caller's own
// thread, inside whatever call to ProcessPackets triggered them, so an
// embedder (e.g. a game's frame loop) decides when dispatch happens instead
// of racing against it.
package client

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/neonproto/neon/internal/wire"
)

// ErrConnectionTimeout is returned by Connect when no ConnectAccept or
// ConnectDeny arrives within the bound.
var ErrConnectionTimeout = errors.New("client: connection timed out")

// DenyError wraps the reason a host gave for refusing a connect request.
type DenyError struct {
	Reason string
}

func (e *DenyError) Error() string {
	return "client: connect denied: " + e.Reason
}

const autoPingInterval = 5 * time.Second

type encoder interface {
	Encode() ([]byte, error)
}

// Client holds one connection's local state: its assigned ID (0 until
// accepted), the session it's bound to, and in-flight ping bookkeeping.
type Client struct {
	name           string
	clientVersion  uint8
	gameIdentifier uint32

	conn      *net.UDPConn
	relayAddr *net.UDPAddr
	logger    zerolog.Logger

	mu                    sync.Mutex
	ownID                 uint8
	sessionID             uint32
	connected             bool
	autoPingEnabled       bool
	lastPingSentTimestamp time.Time
	outstandingPings      map[uint64]time.Time
	seq                   uint16
	lastErr               error

	callbacks Callbacks
}

// Option configures optional Client behavior at construction time.
type Option func(*Client)

// WithClientVersion sets the client_version field sent in every
// ConnectRequest. Defaults to 1.
func WithClientVersion(v uint8) Option {
	return func(c *Client) { c.clientVersion = v }
}

// WithGameIdentifier sets the game_identifier field sent in every
// ConnectRequest.
func WithGameIdentifier(id uint32) Option {
	return func(c *Client) { c.gameIdentifier = id }
}

// New creates local client state and binds a socket, but performs no network
// activity beyond that.
func New(name string, logger zerolog.Logger, opts ...Option) (*Client, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		return nil, err
	}

	c := &Client{
		name:             name,
		clientVersion:    1,
		conn:             conn,
		logger:           logger,
		outstandingPings: make(map[uint64]time.Time),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// SetCallbacks assigns the client's event handlers. Must be called before
// Connect; callback storage is not synchronized with dispatch.
func (c *Client) SetCallbacks(cb Callbacks) {
	c.callbacks = cb
}

// GetID returns the client's assigned ID, or 0 if not yet connected.
func (c *Client) GetID() uint8 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ownID
}

// LastError returns the most recent transport error recorded against this
// handle.
func (c *Client) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *Client) setLastErr(err error) {
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
}

// Connect sends a ConnectRequest to relayAddr for sessionID and blocks,
// bounded by timeout, for the host's ConnectAccept or ConnectDeny. On
// timeout it returns ErrConnectionTimeout.
func (c *Client) Connect(sessionID uint32, relayAddr string, timeout time.Duration) error {
	addr, err := net.ResolveUDPAddr("udp", relayAddr)
	if err != nil {
		return err
	}
	c.relayAddr = addr
	c.sessionID = sessionID

	req := wire.ConnectRequest{
		ClientVersion:   c.clientVersion,
		DesiredName:     c.name,
		TargetSessionID: sessionID,
		GameIdentifier:  c.gameIdentifier,
	}
	if err := c.send(wire.PacketConnectRequest, wire.DestHost, req); err != nil {
		return err
	}

	deadline := time.Now().Add(timeout)
	buf := make([]byte, 2048)
	for {
		if time.Now().After(deadline) {
			return ErrConnectionTimeout
		}
		c.conn.SetReadDeadline(deadline)

		n, _, err := c.conn.ReadFromUDP(buf)
		if err != nil {
			if isTimeout(err) {
				return ErrConnectionTimeout
			}
			c.setLastErr(err)
			return err
		}

		hdr, payload, err := wire.Decode(buf[:n])
		if err != nil {
			continue
		}

		switch hdr.PacketType {
		case wire.PacketConnectAccept:
			accept, err := wire.DecodeConnectAccept(payload)
			if err != nil {
				continue
			}
			c.mu.Lock()
			c.ownID = accept.AssignedClientID
			c.connected = true
			c.mu.Unlock()
			return nil
		case wire.PacketConnectDeny:
			deny, err := wire.DecodeConnectDeny(payload)
			if err != nil {
				continue
			}
			return &DenyError{Reason: deny.Reason}
		default:
			continue
		}
	}
}

// ProcessPackets drains every datagram currently queued on the socket,
// dispatching each synchronously, then checks the auto-ping interval. Each
// receive attempt waits at most one millisecond, so the call returns promptly
// once the queue is empty.
func (c *Client) ProcessPackets() {
	buf := make([]byte, 2048)
	for {
		// A deadline already in the past fails the read before the socket is
		// checked, so give each attempt a short window to pick up queued data.
		c.conn.SetReadDeadline(time.Now().Add(time.Millisecond))
		n, _, err := c.conn.ReadFromUDP(buf)
		if err != nil {
			break
		}
		c.handlePacket(buf[:n])
	}
	c.checkAutoPing()
}

func (c *Client) handlePacket(data []byte) {
	hdr, payload, err := wire.Decode(data)
	if err != nil {
		return
	}

	ownID := c.GetID()
	if hdr.DestinationID != wire.DestBroadcast && hdr.DestinationID != ownID {
		if c.callbacks.OnWrongDestination != nil {
			c.callbacks.OnWrongDestination(ownID, hdr.DestinationID)
		}
		return
	}

	switch hdr.PacketType {
	case wire.PacketSessionConfig:
		cfg, err := wire.DecodeSessionConfig(payload)
		if err != nil {
			return
		}
		if c.callbacks.OnSessionConfig != nil {
			c.callbacks.OnSessionConfig(cfg.Version, cfg.TickRate, cfg.MaxPacketSize)
		}
	case wire.PacketTypeRegistry:
		reg, err := wire.DecodePacketTypeRegistry(payload)
		if err != nil {
			return
		}
		if c.callbacks.OnPacketTypeRegistry != nil {
			entries := make([]PacketTypeEntry, len(reg.Entries))
			for i, e := range reg.Entries {
				entries[i] = PacketTypeEntry{PacketID: e.PacketID, Name: e.Name, Description: e.Description}
			}
			c.callbacks.OnPacketTypeRegistry(entries)
		}
	case wire.PacketPong:
		pong, err := wire.DecodePong(payload)
		if err != nil {
			return
		}
		c.handlePong(pong.OriginalTimestamp)
	default:
		if c.callbacks.OnUnhandledPacket != nil {
			c.callbacks.OnUnhandledPacket(hdr.PacketType, hdr.ClientID)
		}
	}
}

func (c *Client) handlePong(originalTimestamp uint64) {
	c.mu.Lock()
	sentAt, ok := c.outstandingPings[originalTimestamp]
	if ok {
		delete(c.outstandingPings, originalTimestamp)
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	now := time.Now()
	rtt := now.Sub(sentAt).Milliseconds()
	if c.callbacks.OnPong != nil {
		c.callbacks.OnPong(rtt, now.UnixMilli())
	}
}

func (c *Client) checkAutoPing() {
	c.mu.Lock()
	enabled := c.autoPingEnabled
	due := time.Since(c.lastPingSentTimestamp) >= autoPingInterval
	c.mu.Unlock()

	if enabled && due {
		_ = c.SendPing()
	}
}

// SendPing emits a Ping addressed to the host and records it in
// outstanding_pings for RTT computation on the matching Pong.
func (c *Client) SendPing() error {
	now := time.Now()
	ts := uint64(now.UnixMilli())

	c.mu.Lock()
	c.outstandingPings[ts] = now
	c.lastPingSentTimestamp = now
	c.mu.Unlock()

	return c.send(wire.PacketPing, wire.DestHost, wire.Ping{Timestamp: ts})
}

// SetAutoPing toggles automatic keepalive pings checked inside
// ProcessPackets.
func (c *Client) SetAutoPing(enabled bool) {
	c.mu.Lock()
	c.autoPingEnabled = enabled
	c.mu.Unlock()
}

// Free best-effort notifies the host of disconnection and releases the
// socket.
func (c *Client) Free() error {
	c.mu.Lock()
	connected := c.connected
	c.mu.Unlock()

	var err error
	if connected {
		err = c.send(wire.PacketDisconnectNotice, wire.DestHost, wire.DisconnectNotice{})
	}
	c.conn.Close()
	return err
}

func (c *Client) send(packetType, destinationID uint8, payload encoder) error {
	data, err := payload.Encode()
	if err != nil {
		return err
	}

	c.mu.Lock()
	seq := c.seq
	c.seq++
	clientID := c.ownID
	c.mu.Unlock()

	pkt, err := wire.Encode(wire.Header{
		PacketType:    packetType,
		Sequence:      seq,
		ClientID:      clientID,
		DestinationID: destinationID,
	}, data)
	if err != nil {
		return err
	}

	if _, err := c.conn.WriteToUDP(pkt, c.relayAddr); err != nil {
		c.setLastErr(err)
		return err
	}
	return nil
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}
