package wire

import (
	"bytes"
	"strings"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		h       Header
		payload []byte
	}{
		{"empty payload", Header{PacketType: PacketDisconnectNotice, ClientID: 2, DestinationID: 1}, nil},
		{"max payload", Header{PacketType: GameDefinedRangeStart, Sequence: 7, ClientID: 3, DestinationID: 0}, bytes.Repeat([]byte{0xAB}, 255)},
		{"typical ping", Header{PacketType: PacketPing, Sequence: 42, ClientID: 2, DestinationID: 1}, []byte{1, 2, 3, 4, 5, 6, 7, 8}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := Encode(tt.h, tt.payload)
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}

			gotH, gotPayload, err := Decode(enc)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}

			if gotH.PacketType != tt.h.PacketType || gotH.Sequence != tt.h.Sequence ||
				gotH.ClientID != tt.h.ClientID || gotH.DestinationID != tt.h.DestinationID {
				t.Errorf("header mismatch: got %+v, want fields from %+v", gotH, tt.h)
			}
			if gotH.Magic != Magic || gotH.Version != Version {
				t.Errorf("expected magic/version to be stamped, got %x/%d", gotH.Magic, gotH.Version)
			}
			if !bytes.Equal(gotPayload, tt.payload) {
				t.Errorf("payload mismatch: got %v, want %v", gotPayload, tt.payload)
			}
		})
	}
}

func TestEncodePayloadTooLarge(t *testing.T) {
	_, err := Encode(Header{}, make([]byte, 256))
	if err != ErrPayloadTooLarge {
		t.Fatalf("Encode() error = %v, want ErrPayloadTooLarge", err)
	}
}

func TestDecodeTooShort(t *testing.T) {
	_, _, err := Decode([]byte{0x45, 0x4E, 1, 2})
	if err != ErrTooShort {
		t.Fatalf("Decode() error = %v, want ErrTooShort", err)
	}
}

func TestDecodeBadMagic(t *testing.T) {
	data := []byte{0x00, 0x00, Version, 0, 0, 0, 0, 0, 0}
	_, _, err := Decode(data)
	if err != ErrBadMagic {
		t.Fatalf("Decode() error = %v, want ErrBadMagic", err)
	}
}

func TestDecodeUnsupportedVersion(t *testing.T) {
	data := []byte{0x45, 0x4E, 99, 0, 0, 0, 0, 0, 0}
	_, _, err := Decode(data)
	if err != ErrUnsupportedVersion {
		t.Fatalf("Decode() error = %v, want ErrUnsupportedVersion", err)
	}
}

func TestDecodeTruncatedPayload(t *testing.T) {
	h := Header{PacketType: PacketPing}
	enc, err := Encode(h, []byte{1, 2, 3, 4, 5, 6, 7, 8})
	if err != nil {
		t.Fatal(err)
	}

	_, _, err = Decode(enc[:len(enc)-2])
	if err != ErrTruncatedPayload {
		t.Fatalf("Decode() error = %v, want ErrTruncatedPayload", err)
	}
}

func TestDecodeIgnoresTrailingBytes(t *testing.T) {
	enc, err := Encode(Header{PacketType: PacketDisconnectNotice}, nil)
	if err != nil {
		t.Fatal(err)
	}
	enc = append(enc, 0xFF, 0xFF, 0xFF)

	_, payload, err := Decode(enc)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if len(payload) != 0 {
		t.Errorf("expected empty payload, got %v", payload)
	}
}

func TestDecodeHeaderOnlyDoesNotRequireFullPayload(t *testing.T) {
	data := []byte{0x45, 0x4E, Version, PacketPing, 0, 0, 2, 1, 200}
	h, err := DecodeHeaderOnly(data)
	if err != nil {
		t.Fatalf("DecodeHeaderOnly() error = %v", err)
	}
	if h.PayloadLen != 200 {
		t.Errorf("PayloadLen = %d, want 200", h.PayloadLen)
	}
}

func TestStringTooLong(t *testing.T) {
	_, err := ConnectRequest{DesiredName: strings.Repeat("a", 256)}.Encode()
	if err != ErrStringTooLong {
		t.Fatalf("Encode() error = %v, want ErrStringTooLong", err)
	}
}
