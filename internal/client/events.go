package client

// Callback signatures for the events a Client fires.
type (
	PongFunc               func(rttMs int64, nowMs int64)
	SessionConfigFunc      func(version uint8, tickRate uint16, maxPacketSize uint16)
	PacketTypeRegistryFunc func(entries []PacketTypeEntry)
	UnhandledPacketFunc    func(packetType uint8, fromClientID uint8)
	WrongDestinationFunc   func(ownID uint8, destID uint8)
)

// PacketTypeEntry mirrors wire.PacketTypeEntry for callback consumers that
// shouldn't need to import the wire package.
type PacketTypeEntry struct {
	PacketID    uint8
	Name        string
	Description string
}

// Callbacks holds one optional handler per event type. A nil handler means
// the event is silently ignored.
type Callbacks struct {
	OnPong               PongFunc
	OnSessionConfig      SessionConfigFunc
	OnPacketTypeRegistry PacketTypeRegistryFunc
	OnUnhandledPacket    UnhandledPacketFunc
	OnWrongDestination   WrongDestinationFunc
}
