package host

// Callback signatures for the events a Host fires. Storage is a plain struct
// rather than a registry, since callbacks are assigned once, before the role
// becomes live, and never mutated concurrently with dispatch.
type (
	ClientConnectFunc   func(clientID uint8, name string, sessionID uint32)
	ClientDenyFunc      func(name string, reason string)
	PingReceivedFunc    func(fromClientID uint8)
	UnhandledPacketFunc func(packetType uint8, fromClientID uint8)
)

// Callbacks holds one optional handler per event type. A nil handler means
// the event is silently ignored.
type Callbacks struct {
	OnClientConnect   ClientConnectFunc
	OnClientDeny      ClientDenyFunc
	OnPingReceived    PingReceivedFunc
	OnUnhandledPacket UnhandledPacketFunc
}
