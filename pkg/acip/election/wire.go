package election

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"

	"github.com/zfogg/ascii-chat/pkg/acip/acerr"
)

// Quality flag bits in the wire encoding's flags byte.
const (
	flagHasPublicIP = 1 << iota
	flagUPnPAvailable
	flagLANReachable
	flagWeAreInitiator
	flagCandHost
	flagCandSrflx
	flagCandRelay
)

// EncodeQuality renders q as the fixed-layout big-endian record carried
// in NAT_QUALITY signaling bodies. Both sides of an election must decode
// the identical field set, so the layout has no optional fields.
func EncodeQuality(q Quality) []byte {
	var buf bytes.Buffer

	var flags byte
	if q.HasPublicIP {
		flags |= flagHasPublicIP
	}
	if q.UPnPAvailable {
		flags |= flagUPnPAvailable
	}
	if q.LANReachable {
		flags |= flagLANReachable
	}
	if q.WeAreInitiator {
		flags |= flagWeAreInitiator
	}
	if q.Candidates.HasHost {
		flags |= flagCandHost
	}
	if q.Candidates.HasSrflx {
		flags |= flagCandSrflx
	}
	if q.Candidates.HasRelay {
		flags |= flagCandRelay
	}
	buf.WriteByte(flags)
	buf.WriteByte(byte(q.NATType))

	binary.Write(&buf, binary.BigEndian, q.UPnPMappedPort)
	binary.Write(&buf, binary.BigEndian, q.StunLatencyMs)
	binary.Write(&buf, binary.BigEndian, q.PublicPort)
	binary.Write(&buf, binary.BigEndian, q.UploadKbps)
	binary.Write(&buf, binary.BigEndian, q.DownloadKbps)
	binary.Write(&buf, binary.BigEndian, q.RTTToDiscoveryMs)
	binary.Write(&buf, binary.BigEndian, q.JitterMs)
	binary.Write(&buf, binary.BigEndian, math.Float32bits(q.PacketLossPct))

	buf.Write(q.ParticipantUUID[:])

	binary.Write(&buf, binary.BigEndian, uint16(len(q.PublicAddress)))
	buf.WriteString(q.PublicAddress)

	return buf.Bytes()
}

// DecodeQuality parses a record produced by EncodeQuality.
func DecodeQuality(data []byte) (Quality, error) {
	r := bytes.NewReader(data)
	var q Quality

	flags, err := r.ReadByte()
	if err != nil {
		return q, acerr.Wrap(acerr.CorruptPayload, "read quality flags", err)
	}
	q.HasPublicIP = flags&flagHasPublicIP != 0
	q.UPnPAvailable = flags&flagUPnPAvailable != 0
	q.LANReachable = flags&flagLANReachable != 0
	q.WeAreInitiator = flags&flagWeAreInitiator != 0
	q.Candidates.HasHost = flags&flagCandHost != 0
	q.Candidates.HasSrflx = flags&flagCandSrflx != 0
	q.Candidates.HasRelay = flags&flagCandRelay != 0

	natType, err := r.ReadByte()
	if err != nil {
		return q, acerr.Wrap(acerr.CorruptPayload, "read nat type", err)
	}
	q.NATType = NATType(natType)

	var lossBits uint32
	for _, field := range []any{
		&q.UPnPMappedPort, &q.StunLatencyMs, &q.PublicPort,
		&q.UploadKbps, &q.DownloadKbps, &q.RTTToDiscoveryMs,
		&q.JitterMs, &lossBits,
	} {
		if err := binary.Read(r, binary.BigEndian, field); err != nil {
			return q, acerr.Wrap(acerr.CorruptPayload, "read quality field", err)
		}
	}
	q.PacketLossPct = math.Float32frombits(lossBits)

	if _, err := io.ReadFull(r, q.ParticipantUUID[:]); err != nil {
		return q, acerr.Wrap(acerr.CorruptPayload, "read participant uuid", err)
	}

	var addrLen uint16
	if err := binary.Read(r, binary.BigEndian, &addrLen); err != nil {
		return q, acerr.Wrap(acerr.CorruptPayload, "read address length", err)
	}
	addr := make([]byte, addrLen)
	if _, err := io.ReadFull(r, addr); err != nil {
		return q, acerr.Wrap(acerr.CorruptPayload, "read address", err)
	}
	q.PublicAddress = string(addr)

	return q, nil
}

// SignedQuality bundles a participant's quality record with the
// broadcaster's long-term public key and Ed25519 signature over the
// SigningTranscript, so receivers can reject forged records.
type SignedQuality struct {
	Quality   Quality
	PubKey    []byte // 32-byte Ed25519 public key; all-zero when unsigned
	Signature []byte
}

// EncodeSignedQuality renders the NAT_QUALITY broadcast body.
func EncodeSignedQuality(sq SignedQuality) []byte {
	var buf bytes.Buffer
	qual := EncodeQuality(sq.Quality)
	binary.Write(&buf, binary.BigEndian, uint16(len(qual)))
	buf.Write(qual)

	var pub [32]byte
	copy(pub[:], sq.PubKey)
	buf.Write(pub[:])

	binary.Write(&buf, binary.BigEndian, uint16(len(sq.Signature)))
	buf.Write(sq.Signature)
	return buf.Bytes()
}

// DecodeSignedQuality parses a NAT_QUALITY broadcast body.
func DecodeSignedQuality(data []byte) (SignedQuality, error) {
	r := bytes.NewReader(data)
	var sq SignedQuality

	var qualLen uint16
	if err := binary.Read(r, binary.BigEndian, &qualLen); err != nil {
		return sq, acerr.Wrap(acerr.CorruptPayload, "read quality length", err)
	}
	qual := make([]byte, qualLen)
	if _, err := io.ReadFull(r, qual); err != nil {
		return sq, acerr.Wrap(acerr.CorruptPayload, "read quality record", err)
	}
	q, err := DecodeQuality(qual)
	if err != nil {
		return sq, err
	}
	sq.Quality = q

	pub := make([]byte, 32)
	if _, err := io.ReadFull(r, pub); err != nil {
		return sq, acerr.Wrap(acerr.CorruptPayload, "read public key", err)
	}
	sq.PubKey = pub

	var sigLen uint16
	if err := binary.Read(r, binary.BigEndian, &sigLen); err != nil {
		return sq, acerr.Wrap(acerr.CorruptPayload, "read signature length", err)
	}
	if sigLen > 0 {
		sig := make([]byte, sigLen)
		if _, err := io.ReadFull(r, sig); err != nil {
			return sq, acerr.Wrap(acerr.CorruptPayload, "read signature", err)
		}
		sq.Signature = sig
	}
	return sq, nil
}
