package wire

import "encoding/binary"

// ConnectRequest is sent client->relay->host, and host->relay for the
// host's own session registration (see relay.Engine for the registration
// rule).
type ConnectRequest struct {
	ClientVersion   uint8
	DesiredName     string
	TargetSessionID uint32
	GameIdentifier  uint32
}

func (p ConnectRequest) Encode() ([]byte, error) {
	name, err := encodeString(p.DesiredName)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 0, 1+len(name)+4+4)
	buf = append(buf, p.ClientVersion)
	buf = append(buf, name...)
	buf = appendUint32(buf, p.TargetSessionID)
	buf = appendUint32(buf, p.GameIdentifier)
	return buf, nil
}

func DecodeConnectRequest(data []byte) (ConnectRequest, error) {
	var p ConnectRequest
	if len(data) < 1 {
		return p, ErrMalformedPayload
	}
	p.ClientVersion = data[0]
	cur := 1

	name, n, err := decodeString(data[cur:])
	if err != nil {
		return p, err
	}
	p.DesiredName = name
	cur += n

	if len(data) < cur+8 {
		return p, ErrMalformedPayload
	}
	p.TargetSessionID = binary.LittleEndian.Uint32(data[cur:])
	cur += 4
	p.GameIdentifier = binary.LittleEndian.Uint32(data[cur:])

	return p, nil
}

// ConnectAccept is sent host->relay->client.
type ConnectAccept struct {
	AssignedClientID uint8
	SessionID        uint32
}

func (p ConnectAccept) Encode() ([]byte, error) {
	buf := make([]byte, 0, 5)
	buf = append(buf, p.AssignedClientID)
	buf = appendUint32(buf, p.SessionID)
	return buf, nil
}

func DecodeConnectAccept(data []byte) (ConnectAccept, error) {
	var p ConnectAccept
	if len(data) < 5 {
		return p, ErrMalformedPayload
	}
	p.AssignedClientID = data[0]
	p.SessionID = binary.LittleEndian.Uint32(data[1:])
	return p, nil
}

// ConnectDeny is sent host->relay->client.
type ConnectDeny struct {
	Reason string
}

func (p ConnectDeny) Encode() ([]byte, error) {
	return encodeString(p.Reason)
}

func DecodeConnectDeny(data []byte) (ConnectDeny, error) {
	reason, _, err := decodeString(data)
	if err != nil {
		return ConnectDeny{}, err
	}
	return ConnectDeny{Reason: reason}, nil
}

// SessionConfig is sent host->relay->client after a successful connect.
type SessionConfig struct {
	Version       uint8
	TickRate      uint16
	MaxPacketSize uint16
}

func (p SessionConfig) Encode() ([]byte, error) {
	buf := make([]byte, 5)
	buf[0] = p.Version
	binary.LittleEndian.PutUint16(buf[1:3], p.TickRate)
	binary.LittleEndian.PutUint16(buf[3:5], p.MaxPacketSize)
	return buf, nil
}

func DecodeSessionConfig(data []byte) (SessionConfig, error) {
	var p SessionConfig
	if len(data) < 5 {
		return p, ErrMalformedPayload
	}
	p.Version = data[0]
	p.TickRate = binary.LittleEndian.Uint16(data[1:3])
	p.MaxPacketSize = binary.LittleEndian.Uint16(data[3:5])
	return p, nil
}

// PacketTypeEntry describes one game-defined packet type in a registry.
type PacketTypeEntry struct {
	PacketID    uint8
	Name        string
	Description string
}

// PacketTypeRegistryPayload is sent host->relay->client.
type PacketTypeRegistryPayload struct {
	Entries []PacketTypeEntry
}

func (p PacketTypeRegistryPayload) Encode() ([]byte, error) {
	if len(p.Entries) > 255 {
		return nil, ErrMalformedPayload
	}
	buf := []byte{uint8(len(p.Entries))}
	for _, e := range p.Entries {
		buf = append(buf, e.PacketID)

		name, err := encodeString(e.Name)
		if err != nil {
			return nil, err
		}
		buf = append(buf, name...)

		desc, err := encodeString(e.Description)
		if err != nil {
			return nil, err
		}
		buf = append(buf, desc...)
	}
	return buf, nil
}

func DecodePacketTypeRegistry(data []byte) (PacketTypeRegistryPayload, error) {
	var p PacketTypeRegistryPayload
	if len(data) < 1 {
		return p, ErrMalformedPayload
	}
	count := int(data[0])
	cur := 1

	for i := 0; i < count; i++ {
		if len(data) < cur+1 {
			return p, ErrMalformedPayload
		}
		var e PacketTypeEntry
		e.PacketID = data[cur]
		cur++

		name, n, err := decodeString(data[cur:])
		if err != nil {
			return p, err
		}
		e.Name = name
		cur += n

		desc, n, err := decodeString(data[cur:])
		if err != nil {
			return p, err
		}
		e.Description = desc
		cur += n

		p.Entries = append(p.Entries, e)
	}

	return p, nil
}

// Ping is sent either->other.
type Ping struct {
	Timestamp uint64
}

func (p Ping) Encode() ([]byte, error) {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, p.Timestamp)
	return buf, nil
}

func DecodePing(data []byte) (Ping, error) {
	if len(data) < 8 {
		return Ping{}, ErrMalformedPayload
	}
	return Ping{Timestamp: binary.LittleEndian.Uint64(data)}, nil
}

// Pong is sent either->other.
type Pong struct {
	OriginalTimestamp uint64
}

func (p Pong) Encode() ([]byte, error) {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, p.OriginalTimestamp)
	return buf, nil
}

func DecodePong(data []byte) (Pong, error) {
	if len(data) < 8 {
		return Pong{}, ErrMalformedPayload
	}
	return Pong{OriginalTimestamp: binary.LittleEndian.Uint64(data)}, nil
}

// DisconnectNotice carries no payload.
type DisconnectNotice struct{}

func (p DisconnectNotice) Encode() ([]byte, error) {
	return nil, nil
}

func DecodeDisconnectNotice(data []byte) (DisconnectNotice, error) {
	return DisconnectNotice{}, nil
}

func encodeString(s string) ([]byte, error) {
	if len(s) > 255 {
		return nil, ErrStringTooLong
	}
	buf := make([]byte, 1+len(s))
	buf[0] = uint8(len(s))
	copy(buf[1:], s)
	return buf, nil
}

func decodeString(data []byte) (string, int, error) {
	if len(data) < 1 {
		return "", 0, ErrMalformedPayload
	}
	n := int(data[0])
	if len(data) < 1+n {
		return "", 0, ErrMalformedPayload
	}
	return string(data[1 : 1+n]), 1 + n, nil
}

func appendUint32(buf []byte, v uint32) []byte {
	tmp := make([]byte, 4)
	binary.LittleEndian.PutUint32(tmp, v)
	return append(buf, tmp...)
}
