// Package wire implements the Neon datagram framing: a fixed 9-byte header
// and the typed payloads carried by the reserved core packet types.
package wire

import (
	"encoding/binary"
	"errors"
)

// Magic identifies a Neon datagram. Packets without it are dropped.
const Magic uint16 = 0x4E45

// Version is the single protocol version this package understands.
const Version uint8 = 1

// HeaderSize is the fixed on-wire size of a Neon packet header.
const HeaderSize = 9

// Core packet type codes, reserved 0x01-0x0F. 0x10-0xFF are game-defined.
const (
	PacketConnectRequest   uint8 = 0x01
	PacketConnectAccept    uint8 = 0x02
	PacketConnectDeny      uint8 = 0x03
	PacketSessionConfig    uint8 = 0x04
	PacketTypeRegistry     uint8 = 0x05
	PacketPing             uint8 = 0x0B
	PacketPong             uint8 = 0x0C
	PacketDisconnectNotice uint8 = 0x0D
	GameDefinedRangeStart  uint8 = 0x10
)

// Destination IDs with reserved meaning.
const (
	DestBroadcast uint8 = 0
	DestHost      uint8 = 1
)

// HostClientID is the client_id every session host registers under.
const HostClientID uint8 = 1

// Wire errors. These are local to decode/encode: the offending datagram is
// dropped silently by callers and never surfaced to the application except
// via a debug counter.
var (
	ErrTooShort           = errors.New("wire: packet shorter than header")
	ErrBadMagic           = errors.New("wire: bad magic")
	ErrUnsupportedVersion = errors.New("wire: unsupported version")
	ErrTruncatedPayload   = errors.New("wire: truncated payload")
	ErrPayloadTooLarge    = errors.New("wire: payload exceeds 255 bytes")
	ErrStringTooLong      = errors.New("wire: string exceeds 255 bytes")
	ErrMalformedPayload   = errors.New("wire: malformed payload")
)

// Header is the fixed 9-byte Neon packet header.
type Header struct {
	Magic         uint16
	Version       uint8
	PacketType    uint8
	Sequence      uint16
	ClientID      uint8
	DestinationID uint8
	PayloadLen    uint8
}

// Encode writes the 9-byte header followed by payload. payload must be at
// most 255 bytes.
func Encode(h Header, payload []byte) ([]byte, error) {
	if len(payload) > 255 {
		return nil, ErrPayloadTooLarge
	}

	h.Magic = Magic
	h.Version = Version
	h.PayloadLen = uint8(len(payload))

	buf := make([]byte, HeaderSize+len(payload))
	binary.LittleEndian.PutUint16(buf[0:2], h.Magic)
	buf[2] = h.Version
	buf[3] = h.PacketType
	binary.LittleEndian.PutUint16(buf[4:6], h.Sequence)
	buf[6] = h.ClientID
	buf[7] = h.DestinationID
	buf[8] = h.PayloadLen
	copy(buf[HeaderSize:], payload)

	return buf, nil
}

// Decode reads a header and payload from data. Trailing bytes beyond
// 9+payload_len are ignored.
func Decode(data []byte) (Header, []byte, error) {
	if len(data) < HeaderSize {
		return Header{}, nil, ErrTooShort
	}

	var h Header
	h.Magic = binary.LittleEndian.Uint16(data[0:2])
	if h.Magic != Magic {
		return Header{}, nil, ErrBadMagic
	}

	h.Version = data[2]
	if h.Version != Version {
		return Header{}, nil, ErrUnsupportedVersion
	}

	h.PacketType = data[3]
	h.Sequence = binary.LittleEndian.Uint16(data[4:6])
	h.ClientID = data[6]
	h.DestinationID = data[7]
	h.PayloadLen = data[8]

	end := HeaderSize + int(h.PayloadLen)
	if len(data) < end {
		return Header{}, nil, ErrTruncatedPayload
	}

	return h, data[HeaderSize:end], nil
}

// DecodeHeaderOnly reads just the header, validating magic and version
// without requiring the full declared payload to be present. The relay uses
// this: it forwards raw bytes and never needs the payload itself.
func DecodeHeaderOnly(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, ErrTooShort
	}

	var h Header
	h.Magic = binary.LittleEndian.Uint16(data[0:2])
	if h.Magic != Magic {
		return Header{}, ErrBadMagic
	}

	h.Version = data[2]
	if h.Version != Version {
		return Header{}, ErrUnsupportedVersion
	}

	h.PacketType = data[3]
	h.Sequence = binary.LittleEndian.Uint16(data[4:6])
	h.ClientID = data[6]
	h.DestinationID = data[7]
	h.PayloadLen = data[8]

	return h, nil
}
