// Package packet implements the ACIP framing codec: a 20-byte header
// (magic, type, length, sequence, CRC32) followed by payload bytes.
package packet

import (
	"encoding/binary"
	"hash/crc32"
	"io"
	"sync/atomic"

	"github.com/zfogg/ascii-chat/pkg/acip/acerr"
)

// Magic is the fixed 32-bit constant that opens every packet header.
const Magic uint32 = 0x41534349 // "ASCI"

// HeaderSize is the on-wire size of the fixed packet header, in bytes.
const HeaderSize = 20

// MaxPayloadSize is the largest payload a single packet may carry (16 MiB).
const MaxPayloadSize = 16 * 1024 * 1024

// Type is the 16-bit packet type tag. The numeric range partitions the
// type space: 1-35 media/control, 36-99 crypto handshake,
// 100-199 discovery-service protocol.
type Type uint16

const (
	// Media and control: 1-35.
	TypeImageFrame       Type = 1
	TypeAudioBatch       Type = 2
	TypePing             Type = 3
	TypePong             Type = 4
	TypeStreamStart      Type = 5
	TypeStreamStop       Type = 6
	TypeCapabilities     Type = 7
	TypeClientJoin       Type = 8
	TypeClientLeave      Type = 9
	TypeServerState      Type = 10
	TypeTextMessage      Type = 11
	TypeErrorMessage     Type = 12
	TypeSizeMessage      Type = 13
	TypeRemoteLog        Type = 14
	TypeProtocolVersion  Type = 15
	TypeClientCapabilities Type = 16

	// Crypto handshake: 36-99.
	TypeHandshakeHello    Type = 36
	TypeHandshakeResponse Type = 37
	TypeHandshakeFinish   Type = 38
	TypeHandshakeIdentity Type = 39

	// Discovery-service protocol: 100-199.
	TypeSessionCreate  Type = 100
	TypeSessionCreated Type = 101
	TypeSessionLookup  Type = 102
	TypeSessionInfo    Type = 103
	TypeSessionJoin    Type = 104
	TypeSessionJoined  Type = 105
	TypeWebRTCSDP      Type = 106
	TypeWebRTCICE      Type = 107
	TypeNATQuality     Type = 108
	TypeACIPError      Type = 109
)

func (t Type) inRange(lo, hi Type) bool { return t >= lo && t <= hi }

// IsMediaControl reports whether t falls in the media/control range (1-35).
func (t Type) IsMediaControl() bool { return t.inRange(1, 35) }

// IsHandshake reports whether t falls in the crypto handshake range (36-99).
func (t Type) IsHandshake() bool { return t.inRange(36, 99) }

// IsDiscovery reports whether t falls in the discovery-service range (100-199).
func (t Type) IsDiscovery() bool { return t.inRange(100, 199) }

// Packet is a single decoded ACIP wire unit.
type Packet struct {
	Type     Type
	Sequence uint32
	Payload  []byte
}

// sequenceCounter is the process-wide monotonic sequence allocator shared
// across every outbound transport. Wrap-around at 2^32 is
// accepted; callers never compare sequences across different senders.
var sequenceCounter uint32

// NextSequence allocates the next outbound sequence number.
func NextSequence() uint32 {
	return atomic.AddUint32(&sequenceCounter, 1)
}

// ResetSequenceCounter reinitializes the process-wide sequence counter.
// Intended for tests; production callers never need this.
func ResetSequenceCounter() {
	atomic.StoreUint32(&sequenceCounter, 0)
}

// crcTable is the standard IEEE polynomial table (reflected in/out,
// init 0xFFFFFFFF, final XOR 0xFFFFFFFF) that crc32.ChecksumIEEE already
// implements; named here so the encode/decode sites read as intentional.
var crcTable = crc32.IEEETable

func checksum(payload []byte) uint32 {
	if len(payload) == 0 {
		return 0
	}
	return crc32.Checksum(payload, crcTable)
}

// Encode renders a Packet header followed by payload. seq is normally
// obtained from NextSequence.
func Encode(typ Type, seq uint32, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, acerr.New(acerr.Oversize, "payload exceeds 16 MiB")
	}

	buf := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(buf[0:4], Magic)
	binary.BigEndian.PutUint16(buf[4:6], uint16(typ))
	binary.BigEndian.PutUint32(buf[6:10], uint32(len(payload)))
	binary.BigEndian.PutUint32(buf[10:14], seq)
	binary.BigEndian.PutUint32(buf[14:18], checksum(payload))
	// bytes 18:20 are reserved/padding to round the header to 20 bytes.
	copy(buf[HeaderSize:], payload)
	return buf, nil
}

// EncodeNext is Encode with the sequence drawn from NextSequence.
func EncodeNext(typ Type, payload []byte) ([]byte, error) {
	return Encode(typ, NextSequence(), payload)
}

// DecodeStream reads exactly one Packet from r. It returns acerr-coded
// errors for magic mismatch, oversize length, and CRC mismatch; sequence
// monotonicity is the caller's concern, not validated here.
func DecodeStream(r io.Reader) (*Packet, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, acerr.Wrap(acerr.EndOfStream, "read packet header", err)
		}
		return nil, acerr.Wrap(acerr.Timeout, "read packet header", err)
	}

	magic := binary.BigEndian.Uint32(header[0:4])
	if magic != Magic {
		return nil, acerr.New(acerr.MagicMismatch, "packet magic mismatch")
	}

	typ := Type(binary.BigEndian.Uint16(header[4:6]))
	length := binary.BigEndian.Uint32(header[6:10])
	seq := binary.BigEndian.Uint32(header[10:14])
	wantCRC := binary.BigEndian.Uint32(header[14:18])

	if length > MaxPayloadSize {
		return nil, acerr.New(acerr.Oversize, "packet payload exceeds 16 MiB")
	}

	var payload []byte
	if length > 0 {
		payload = make([]byte, length)
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, acerr.Wrap(acerr.EndOfStream, "read packet payload", err)
		}
	}

	if gotCRC := checksum(payload); gotCRC != wantCRC {
		return nil, acerr.New(acerr.CorruptPayload, "packet CRC32 mismatch")
	}

	return &Packet{Type: typ, Sequence: seq, Payload: payload}, nil
}
