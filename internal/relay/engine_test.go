package relay

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/neonproto/neon/internal/config"
	"github.com/neonproto/neon/internal/wire"
)

func newTestEngine(t *testing.T) (*Engine, func()) {
	t.Helper()

	cfg := &config.Config{}
	cfg.Relay.Bind = "127.0.0.1:0"

	e, err := New("relay-test", cfg, zerolog.Nop(), nil, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := e.Listen(); err != nil {
		t.Fatalf("Listen() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go e.Start(ctx)

	return e, cancel
}

func udpSocket(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	if err != nil {
		t.Fatalf("ListenUDP() error = %v", err)
	}
	return conn
}

func sendConnectRequest(t *testing.T, conn *net.UDPConn, relayAddr net.Addr, clientID, destID uint8, req wire.ConnectRequest) {
	t.Helper()
	payload, err := req.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	pkt, err := wire.Encode(wire.Header{PacketType: wire.PacketConnectRequest, ClientID: clientID, DestinationID: destID}, payload)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if _, err := conn.WriteTo(pkt, relayAddr); err != nil {
		t.Fatalf("WriteTo() error = %v", err)
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestHostRegistration(t *testing.T) {
	e, cancel := newTestEngine(t)
	defer cancel()

	host := udpSocket(t)
	defer host.Close()

	sendConnectRequest(t, host, e.LocalAddr(), 1, 1, wire.ConnectRequest{TargetSessionID: 12345})

	waitFor(t, time.Second, func() bool {
		snap := e.Snapshot()
		for _, s := range snap {
			if s.SessionID == 12345 {
				_, ok := s.Participants[wire.HostClientID]
				return ok
			}
		}
		return false
	})
}

func TestClientConnectRequestForwardedToHost(t *testing.T) {
	e, cancel := newTestEngine(t)
	defer cancel()

	host := udpSocket(t)
	defer host.Close()
	client := udpSocket(t)
	defer client.Close()

	sendConnectRequest(t, host, e.LocalAddr(), 1, 1, wire.ConnectRequest{TargetSessionID: 12345})
	waitFor(t, time.Second, func() bool {
		for _, s := range e.Snapshot() {
			if s.SessionID == 12345 {
				_, ok := s.Participants[wire.HostClientID]
				return ok
			}
		}
		return false
	})

	sendConnectRequest(t, client, e.LocalAddr(), 0, 1, wire.ConnectRequest{
		ClientVersion:   1,
		DesiredName:     "Alice",
		TargetSessionID: 12345,
	})

	buf := make([]byte, 2048)
	host.SetReadDeadline(time.Now().Add(time.Second))
	n, _, err := host.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("host did not receive forwarded ConnectRequest: %v", err)
	}

	h, payload, err := wire.Decode(buf[:n])
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if h.PacketType != wire.PacketConnectRequest {
		t.Fatalf("PacketType = %x, want ConnectRequest", h.PacketType)
	}
	req, err := wire.DecodeConnectRequest(payload)
	if err != nil {
		t.Fatalf("DecodeConnectRequest() error = %v", err)
	}
	if req.DesiredName != "Alice" {
		t.Errorf("DesiredName = %q, want Alice", req.DesiredName)
	}
}

func TestConnectAcceptRoutesToPendingClientAndRegistersIt(t *testing.T) {
	e, cancel := newTestEngine(t)
	defer cancel()

	host := udpSocket(t)
	defer host.Close()
	client := udpSocket(t)
	defer client.Close()

	sendConnectRequest(t, host, e.LocalAddr(), 1, 1, wire.ConnectRequest{TargetSessionID: 12345})
	waitFor(t, time.Second, func() bool {
		for _, s := range e.Snapshot() {
			if s.SessionID == 12345 {
				_, ok := s.Participants[wire.HostClientID]
				return ok
			}
		}
		return false
	})

	sendConnectRequest(t, client, e.LocalAddr(), 0, 1, wire.ConnectRequest{TargetSessionID: 12345, DesiredName: "Alice"})

	buf := make([]byte, 2048)
	host.SetReadDeadline(time.Now().Add(time.Second))
	n, _, err := host.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("host did not receive ConnectRequest: %v", err)
	}
	_ = n

	accept := wire.ConnectAccept{AssignedClientID: 2, SessionID: 12345}
	payload, err := accept.Encode()
	if err != nil {
		t.Fatal(err)
	}
	pkt, err := wire.Encode(wire.Header{PacketType: wire.PacketConnectAccept, ClientID: 1, DestinationID: 0}, payload)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := host.WriteTo(pkt, e.LocalAddr()); err != nil {
		t.Fatal(err)
	}

	client.SetReadDeadline(time.Now().Add(time.Second))
	n, _, err = client.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("client did not receive ConnectAccept: %v", err)
	}
	gotH, gotPayload, err := wire.Decode(buf[:n])
	if err != nil {
		t.Fatal(err)
	}
	if gotH.PacketType != wire.PacketConnectAccept {
		t.Fatalf("PacketType = %x, want ConnectAccept", gotH.PacketType)
	}
	gotAccept, err := wire.DecodeConnectAccept(gotPayload)
	if err != nil {
		t.Fatal(err)
	}
	if gotAccept.AssignedClientID != 2 {
		t.Errorf("AssignedClientID = %d, want 2", gotAccept.AssignedClientID)
	}

	waitFor(t, time.Second, func() bool {
		for _, s := range e.Snapshot() {
			if s.SessionID == 12345 {
				_, ok := s.Participants[2]
				return ok
			}
		}
		return false
	})
}

func TestBroadcastExcludesSender(t *testing.T) {
	e, cancel := newTestEngine(t)
	defer cancel()

	host := udpSocket(t)
	defer host.Close()
	alice := udpSocket(t)
	defer alice.Close()
	bob := udpSocket(t)
	defer bob.Close()

	sendConnectRequest(t, host, e.LocalAddr(), 1, 1, wire.ConnectRequest{TargetSessionID: 1})
	waitFor(t, time.Second, func() bool {
		for _, s := range e.Snapshot() {
			if s.SessionID == 1 {
				_, ok := s.Participants[wire.HostClientID]
				return ok
			}
		}
		return false
	})

	manuallyRegister(e, 1, 2, alice.LocalAddr().(*net.UDPAddr))
	manuallyRegister(e, 1, 3, bob.LocalAddr().(*net.UDPAddr))

	pkt, err := wire.Encode(wire.Header{PacketType: wire.GameDefinedRangeStart, ClientID: 2, DestinationID: wire.DestBroadcast}, []byte("hi"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := alice.WriteTo(pkt, e.LocalAddr()); err != nil {
		t.Fatal(err)
	}

	buf := make([]byte, 2048)
	bob.SetReadDeadline(time.Now().Add(time.Second))
	if _, _, err := bob.ReadFromUDP(buf); err != nil {
		t.Fatalf("bob did not receive broadcast: %v", err)
	}

	alice.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, _, err := alice.ReadFromUDP(buf); err == nil {
		t.Fatal("sender should not receive its own broadcast")
	}
}

// manuallyRegister injects a participant directly, standing in for a
// ConnectAccept round trip the broadcast test doesn't otherwise need.
func manuallyRegister(e *Engine, sessionID uint32, clientID uint8, addr *net.UDPAddr) {
	raw, _ := e.sessions.LoadOrStore(sessionID, newSessionTable())
	sess := raw.(*sessionTable)
	sess.mu.Lock()
	sess.participants[clientID] = &participant{addr: addr, lastSeen: time.Now()}
	sess.mu.Unlock()
	e.addrIndex.Store(addr.String(), addrLocation{sessionID: sessionID, clientID: clientID})
}
