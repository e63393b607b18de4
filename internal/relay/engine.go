// Package relay implements the stateless session/participant registry and
// destination-based forwarding policy described in Project Neon: it records
// which transport address owns which (session, client_id) pair and routes
// packets between them by header fields alone.
package relay

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/neonproto/neon/internal/config"
	"github.com/neonproto/neon/internal/directory"
	"github.com/neonproto/neon/internal/provision"
	"github.com/neonproto/neon/internal/wire"
)

// Engine maintains the relay's session table and runs the UDP forwarding
// loop: a listening socket, a concurrent session map, and a per-datagram
// dispatch routine.
type Engine struct {
	id         string
	listenAddr *net.UDPAddr
	conn       *net.UDPConn
	logger     zerolog.Logger
	cfg        *config.Config
	provMgr    *provision.Manager
	dir        *directory.Sync

	sessions  sync.Map // uint32 -> *sessionTable
	addrIndex sync.Map // string -> addrLocation

	metrics engineMetrics
}

type addrLocation struct {
	sessionID uint32
	clientID  uint8
}

type participant struct {
	addr     *net.UDPAddr
	lastSeen time.Time
}

type sessionTable struct {
	mu           sync.RWMutex
	participants map[uint8]*participant
	pending      []*net.UDPAddr // FIFO of unassigned connect requesters
}

func newSessionTable() *sessionTable {
	return &sessionTable{participants: make(map[uint8]*participant)}
}

// New creates an Engine that will listen on cfg.Relay.Bind; it resolves the
// address but binds nothing until Listen or Start. relayID identifies this
// process in the optional directory mirror.
func New(relayID string, cfg *config.Config, logger zerolog.Logger, provMgr *provision.Manager, dir *directory.Sync) (*Engine, error) {
	addr, err := net.ResolveUDPAddr("udp", cfg.Relay.Bind)
	if err != nil {
		return nil, err
	}

	return &Engine{
		id:         relayID,
		listenAddr: addr,
		logger:     logger,
		cfg:        cfg,
		provMgr:    provMgr,
		dir:        dir,
		metrics:    newEngineMetrics(),
	}, nil
}

// SetDirectory wires the Redis session mirror in after construction: dir's
// Sink is this Engine, so dir itself can only be built once the Engine
// already exists. Must be called before Start; e.dir is read without a lock
// since it is never written again afterward.
func (e *Engine) SetDirectory(dir *directory.Sync) {
	e.dir = dir
}

// Apply implements directory.Sink: it is invoked with registrations learned
// from other relay processes. The local engine only logs these, since it
// never forwards a datagram to a session whose socket lives elsewhere.
func (e *Engine) Apply(r directory.Registration) {
	e.logger.Debug().
		Uint32("session", r.SessionID).
		Str("relay", r.RelayID).
		Str("host", r.HostAddr).
		Msg("relay: observed remote session registration")
}

// Listen binds the relay's UDP socket without serving it yet, so tests (and
// LocalAddr) can observe the bound address before the receive loop starts.
func (e *Engine) Listen() error {
	conn, err := net.ListenUDP("udp", e.listenAddr)
	if err != nil {
		return err
	}
	e.conn = conn
	return nil
}

// LocalAddr returns the relay's bound socket address, or nil before Listen.
func (e *Engine) LocalAddr() net.Addr {
	if e.conn == nil {
		return nil
	}
	return e.conn.LocalAddr()
}

// Start binds the socket (if not already bound) and runs the blocking
// receive loop until ctx is cancelled.
func (e *Engine) Start(ctx context.Context) error {
	if e.conn == nil {
		if err := e.Listen(); err != nil {
			return err
		}
	}
	defer e.conn.Close()

	e.logger.Info().Str("addr", e.conn.LocalAddr().String()).Msg("relay listening")

	go func() {
		<-ctx.Done()
		e.conn.Close()
	}()

	buf := make([]byte, 2048)
	for {
		n, srcAddr, err := e.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			e.logger.Warn().Err(err).Msg("relay: read error")
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])

		go e.handleDatagram(ctx, srcAddr, data)
	}
}

func (e *Engine) handleDatagram(ctx context.Context, srcAddr *net.UDPAddr, data []byte) {
	h, err := wire.DecodeHeaderOnly(data)
	if err != nil {
		e.metrics.dropped.Inc()
		if e.cfg.Relay.LogRequests {
			e.logger.Debug().Err(err).Str("src", srcAddr.String()).Msg("relay: dropping unparseable datagram")
		}
		return
	}

	if h.PacketType == wire.PacketConnectRequest {
		e.handleConnectRequest(ctx, srcAddr, data, h)
		return
	}

	e.handleRouted(srcAddr, data, h)
}

// handleConnectRequest fully decodes the ConnectRequest payload, because the
// session id it targets has no other home on the wire: the fixed header
// carries no session field at all. Every other packet type is routed on
// header fields alone in handleRouted; the only other payload the relay
// reads is a pending ConnectAccept's, to learn the assigned client_id it
// registers (see resolvePendingReply).
//
// The header's client_id field, not prior registration state, is what
// distinguishes a host registering itself from an ordinary client reaching
// for one: client_id == 0 always means "ordinary client reaching for the
// host" (forwarded, never registered); any other client_id means "host
// (re-)registering," which only takes effect the first time it's seen for
// that session.
func (e *Engine) handleConnectRequest(ctx context.Context, srcAddr *net.UDPAddr, data []byte, h wire.Header) {
	_, payload, err := wire.Decode(data)
	if err != nil {
		e.metrics.dropped.Inc()
		return
	}

	req, err := wire.DecodeConnectRequest(payload)
	if err != nil {
		e.metrics.dropped.Inc()
		return
	}

	sessionIDRaw, _ := e.sessions.LoadOrStore(req.TargetSessionID, newSessionTable())
	sess := sessionIDRaw.(*sessionTable)

	if h.ClientID == 0 {
		e.forwardClientConnectRequest(ctx, srcAddr, data, req.TargetSessionID, sess)
		return
	}

	sess.mu.Lock()
	_, hasHost := sess.participants[wire.HostClientID]
	if !hasHost {
		sess.participants[wire.HostClientID] = &participant{addr: srcAddr, lastSeen: time.Now()}
	}
	sess.mu.Unlock()

	if hasHost {
		if e.cfg.Relay.LogRequests {
			e.logger.Debug().Uint32("session", req.TargetSessionID).Msg("relay: ignoring duplicate host registration")
		}
		return
	}

	e.addrIndex.Store(srcAddr.String(), addrLocation{sessionID: req.TargetSessionID, clientID: wire.HostClientID})
	e.metrics.hostRegistrations.Inc()
	e.logger.Info().Uint32("session", req.TargetSessionID).Str("host", srcAddr.String()).Msg("relay: host registered")

	if e.dir != nil {
		_ = e.dir.Publish(ctx, directory.Registration{
			SessionID: req.TargetSessionID,
			RelayID:   e.id,
			HostAddr:  srcAddr.String(),
		})
	}
}

// forwardClientConnectRequest appends srcAddr to the session's pending queue
// and forwards the datagram to the host under the same lock: pending order
// must match the order datagrams actually land on the host's socket, or a
// later resolvePendingReply pop can hand a ConnectAccept to the wrong
// requester when two clients connect to the same session concurrently.
func (e *Engine) forwardClientConnectRequest(ctx context.Context, srcAddr *net.UDPAddr, data []byte, sessionID uint32, sess *sessionTable) {
	sess.mu.Lock()
	host, ok := sess.participants[wire.HostClientID]
	if ok {
		sess.pending = append(sess.pending, srcAddr)
		e.send(host.addr, data)
	}
	sess.mu.Unlock()

	if ok {
		return
	}

	// No host registered yet: try on-demand provisioning rather than
	// dropping.
	if e.provMgr == nil {
		e.metrics.dropped.Inc()
		return
	}
	prov := e.provMgr.Get(provision.TypeAgones)
	if prov == nil {
		e.metrics.dropped.Inc()
		return
	}

	addrStr, err := prov.Allocate(ctx, sessionID)
	if err != nil {
		e.metrics.dropped.Inc()
		return
	}
	hostAddr, err := net.ResolveUDPAddr("udp", addrStr)
	if err != nil {
		e.metrics.dropped.Inc()
		return
	}

	sess.mu.Lock()
	sess.participants[wire.HostClientID] = &participant{addr: hostAddr, lastSeen: time.Now()}
	sess.pending = append(sess.pending, srcAddr)
	e.send(hostAddr, data)
	sess.mu.Unlock()

	e.addrIndex.Store(hostAddr.String(), addrLocation{sessionID: sessionID, clientID: wire.HostClientID})
	e.logger.Info().Uint32("session", sessionID).Str("host", hostAddr.String()).Msg("relay: provisioned host on demand")
}

// handleRouted routes every packet type other than ConnectRequest by
// destination_id alone, against the sender's already-registered
// (session, client_id), and performs the disconnect cleanup once a packet
// has been forwarded.
//
// ConnectAccept and ConnectDeny are the one pair of packet types for which
// "already-registered" can't hold for the recipient (the client it's replying
// to has no client_id yet to be addressed by): the host sends them with
// destination_id == 0, and the relay resolves that 0 by popping the oldest
// still-unassigned connect requester for the session, rather than treating
// it as a session broadcast. This reuses destination_id's existing "0 means
// not yet a real participant" meaning instead of inventing a new sentinel.
func (e *Engine) handleRouted(srcAddr *net.UDPAddr, data []byte, h wire.Header) {
	locRaw, ok := e.addrIndex.Load(srcAddr.String())
	if !ok {
		e.metrics.dropped.Inc()
		return
	}
	loc := locRaw.(addrLocation)

	sessRaw, ok := e.sessions.Load(loc.sessionID)
	if !ok {
		e.metrics.dropped.Inc()
		return
	}
	sess := sessRaw.(*sessionTable)

	sess.mu.Lock()
	if p, ok := sess.participants[loc.clientID]; ok {
		p.lastSeen = time.Now()
	}
	sess.mu.Unlock()

	if (h.PacketType == wire.PacketConnectAccept || h.PacketType == wire.PacketConnectDeny) && h.DestinationID == 0 {
		e.resolvePendingReply(sess, data, h)
		return
	}

	switch h.DestinationID {
	case wire.DestBroadcast:
		e.broadcast(sess, srcAddr, data)
		e.metrics.broadcasts.Inc()
	case wire.DestHost:
		sess.mu.RLock()
		host, ok := sess.participants[wire.HostClientID]
		sess.mu.RUnlock()
		if ok {
			e.send(host.addr, data)
			e.metrics.forwardedToHost.Inc()
		} else {
			e.metrics.dropped.Inc()
		}
	default:
		sess.mu.RLock()
		target, ok := sess.participants[h.DestinationID]
		sess.mu.RUnlock()
		if ok {
			e.send(target.addr, data)
			e.metrics.forwardedToClient.Inc()
		} else {
			e.metrics.dropped.Inc()
		}
	}

	if h.PacketType == wire.PacketDisconnectNotice {
		e.removeParticipant(sess, loc)
	}
}

func (e *Engine) resolvePendingReply(sess *sessionTable, data []byte, h wire.Header) {
	sess.mu.Lock()
	if len(sess.pending) == 0 {
		sess.mu.Unlock()
		e.metrics.dropped.Inc()
		return
	}
	target := sess.pending[0]
	sess.pending = sess.pending[1:]
	sess.mu.Unlock()

	e.send(target, data)

	if h.PacketType != wire.PacketConnectAccept {
		return
	}

	_, payload, err := wire.Decode(data)
	if err != nil {
		return
	}
	accept, err := wire.DecodeConnectAccept(payload)
	if err != nil {
		return
	}

	sess.mu.Lock()
	sess.participants[accept.AssignedClientID] = &participant{addr: target, lastSeen: time.Now()}
	sess.mu.Unlock()
	e.addrIndex.Store(target.String(), addrLocation{sessionID: accept.SessionID, clientID: accept.AssignedClientID})
}

func (e *Engine) broadcast(sess *sessionTable, srcAddr *net.UDPAddr, data []byte) {
	sess.mu.RLock()
	targets := make([]*net.UDPAddr, 0, len(sess.participants))
	for _, p := range sess.participants {
		if p.addr.IP.Equal(srcAddr.IP) && p.addr.Port == srcAddr.Port {
			continue
		}
		targets = append(targets, p.addr)
	}
	sess.mu.RUnlock()

	for _, t := range targets {
		e.send(t, data)
	}
}

func (e *Engine) removeParticipant(sess *sessionTable, loc addrLocation) {
	sess.mu.Lock()
	if p, ok := sess.participants[loc.clientID]; ok {
		e.addrIndex.Delete(p.addr.String())
		delete(sess.participants, loc.clientID)
	}
	sess.mu.Unlock()
}

func (e *Engine) send(addr *net.UDPAddr, data []byte) {
	if e.conn == nil {
		return
	}
	if _, err := e.conn.WriteToUDP(data, addr); err != nil {
		e.logger.Warn().Err(err).Str("dst", addr.String()).Msg("relay: forward failed")
	}
}

// SessionSnapshot is a point-in-time dump of one session's participants, for
// the admin API's /sessions endpoint.
type SessionSnapshot struct {
	SessionID    uint32                    `json:"session_id"`
	Participants map[uint8]ParticipantInfo `json:"participants"`
}

type ParticipantInfo struct {
	Addr     string    `json:"addr"`
	LastSeen time.Time `json:"last_seen"`
}

func (e *Engine) Snapshot() []SessionSnapshot {
	var out []SessionSnapshot
	e.sessions.Range(func(key, value any) bool {
		sessionID := key.(uint32)
		sess := value.(*sessionTable)

		sess.mu.RLock()
		info := make(map[uint8]ParticipantInfo, len(sess.participants))
		for id, p := range sess.participants {
			info[id] = ParticipantInfo{Addr: p.addr.String(), LastSeen: p.lastSeen}
		}
		sess.mu.RUnlock()

		out = append(out, SessionSnapshot{SessionID: sessionID, Participants: info})
		return true
	})
	return out
}
