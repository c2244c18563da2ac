package discoveryservice

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/google/uuid"

	"github.com/zfogg/ascii-chat/pkg/acip/acerr"
)

// maxSignalPayload bounds SDP and ICE-candidate relay payloads.
const maxSignalPayload = 4 * 1024

func putUUID(buf *bytes.Buffer, id uuid.UUID) { buf.Write(id[:]) }

func readUUID(r *bytes.Reader) (uuid.UUID, error) {
	var id uuid.UUID
	if _, err := io.ReadFull(r, id[:]); err != nil {
		return uuid.Nil, acerr.Wrap(acerr.CorruptPayload, "read uuid", err)
	}
	return id, nil
}

func putBytes32(buf *bytes.Buffer, b []byte) {
	var fixed [32]byte
	copy(fixed[:], b)
	buf.Write(fixed[:])
}

func readBytes32(r *bytes.Reader) ([]byte, error) {
	buf := make([]byte, 32)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, acerr.Wrap(acerr.CorruptPayload, "read 32-byte field", err)
	}
	return buf, nil
}

func putString(buf *bytes.Buffer, s string) {
	binary.Write(buf, binary.BigEndian, uint16(len(s)))
	buf.WriteString(s)
}

func readString(r *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", acerr.Wrap(acerr.CorruptPayload, "read string length", err)
	}
	buf := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", acerr.Wrap(acerr.CorruptPayload, "read string body", err)
		}
	}
	return string(buf), nil
}

func putBlob(buf *bytes.Buffer, data []byte) {
	binary.Write(buf, binary.BigEndian, uint32(len(data)))
	buf.Write(data)
}

func readBlob(r *bytes.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, acerr.Wrap(acerr.CorruptPayload, "read blob length", err)
	}
	if n > maxSignalPayload {
		return nil, acerr.New(acerr.InvalidParam, "signaling payload exceeds 4 KiB")
	}
	buf := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, acerr.Wrap(acerr.CorruptPayload, "read blob body", err)
		}
	}
	return buf, nil
}

// SessionCreateRequest is the SESSION_CREATE payload: creator identity and
// an optional session-settings override.
type SessionCreateRequest struct {
	CreatorID       uuid.UUID
	CreatorPubKey   []byte // 32 bytes; all-zero means "no identity presented"
	SettingsPresent bool
	Settings        []byte // 60-byte packet.Settings encoding, present iff SettingsPresent
}

func (r SessionCreateRequest) Encode() []byte {
	var buf bytes.Buffer
	putUUID(&buf, r.CreatorID)
	putBytes32(&buf, r.CreatorPubKey)
	if r.SettingsPresent {
		buf.WriteByte(1)
		buf.Write(r.Settings)
	} else {
		buf.WriteByte(0)
	}
	return buf.Bytes()
}

func DecodeSessionCreateRequest(payload []byte) (SessionCreateRequest, error) {
	r := bytes.NewReader(payload)
	var req SessionCreateRequest
	var err error
	if req.CreatorID, err = readUUID(r); err != nil {
		return req, err
	}
	if req.CreatorPubKey, err = readBytes32(r); err != nil {
		return req, err
	}
	flag, err := r.ReadByte()
	if err != nil {
		return req, acerr.Wrap(acerr.CorruptPayload, "read settings flag", err)
	}
	if flag == 1 {
		settings := make([]byte, 60)
		if _, err := io.ReadFull(r, settings); err != nil {
			return req, acerr.Wrap(acerr.CorruptPayload, "read settings body", err)
		}
		req.SettingsPresent = true
		req.Settings = settings
	}
	return req, nil
}

// SessionCreatedResponse is the SESSION_CREATED payload.
type SessionCreatedResponse struct {
	SessionUUID   uuid.UUID
	SessionString string
}

func (r SessionCreatedResponse) Encode() []byte {
	var buf bytes.Buffer
	putUUID(&buf, r.SessionUUID)
	putString(&buf, r.SessionString)
	return buf.Bytes()
}

func DecodeSessionCreatedResponse(payload []byte) (SessionCreatedResponse, error) {
	r := bytes.NewReader(payload)
	var resp SessionCreatedResponse
	var err error
	if resp.SessionUUID, err = readUUID(r); err != nil {
		return resp, err
	}
	if resp.SessionString, err = readString(r); err != nil {
		return resp, err
	}
	return resp, nil
}

// SessionLookupRequest is the SESSION_LOOKUP payload.
type SessionLookupRequest struct {
	SessionString string
}

func (r SessionLookupRequest) Encode() []byte {
	var buf bytes.Buffer
	putString(&buf, r.SessionString)
	return buf.Bytes()
}

func DecodeSessionLookupRequest(payload []byte) (SessionLookupRequest, error) {
	r := bytes.NewReader(payload)
	s, err := readString(r)
	return SessionLookupRequest{SessionString: s}, err
}

// SessionJoinRequest is the SESSION_JOIN payload.
type SessionJoinRequest struct {
	SessionUUID      uuid.UUID
	ParticipantID    uuid.UUID
	ParticipantPubKey []byte
}

func (r SessionJoinRequest) Encode() []byte {
	var buf bytes.Buffer
	putUUID(&buf, r.SessionUUID)
	putUUID(&buf, r.ParticipantID)
	putBytes32(&buf, r.ParticipantPubKey)
	return buf.Bytes()
}

func DecodeSessionJoinRequest(payload []byte) (SessionJoinRequest, error) {
	r := bytes.NewReader(payload)
	var req SessionJoinRequest
	var err error
	if req.SessionUUID, err = readUUID(r); err != nil {
		return req, err
	}
	if req.ParticipantID, err = readUUID(r); err != nil {
		return req, err
	}
	if req.ParticipantPubKey, err = readBytes32(r); err != nil {
		return req, err
	}
	return req, nil
}

// SessionInfoRequest is the SESSION_INFO payload.
type SessionInfoRequest struct {
	SessionUUID uuid.UUID
}

func (r SessionInfoRequest) Encode() []byte {
	var buf bytes.Buffer
	putUUID(&buf, r.SessionUUID)
	return buf.Bytes()
}

func DecodeSessionInfoRequest(payload []byte) (SessionInfoRequest, error) {
	r := bytes.NewReader(payload)
	id, err := readUUID(r)
	return SessionInfoRequest{SessionUUID: id}, err
}

// ParticipantSummary is one entry in a SessionInfoResponse's participant list.
type ParticipantSummary struct {
	ParticipantID uuid.UUID
	IP            string
	JoinedAtUnix  int64
}

// SessionInfoResponse is the SESSION_INFO payload. SessionUUID leads so
// a lookup reply resolves the session string to its uuid.
type SessionInfoResponse struct {
	SessionUUID       uuid.UUID
	Participants      []ParticipantSummary
	HostParticipantID uuid.UUID // uuid.Nil when no host elected yet
	Settings          []byte    // 60-byte packet.Settings encoding
}

func (r SessionInfoResponse) Encode() []byte {
	var buf bytes.Buffer
	putUUID(&buf, r.SessionUUID)
	binary.Write(&buf, binary.BigEndian, uint16(len(r.Participants)))
	for _, p := range r.Participants {
		putUUID(&buf, p.ParticipantID)
		putString(&buf, p.IP)
		binary.Write(&buf, binary.BigEndian, p.JoinedAtUnix)
	}
	putUUID(&buf, r.HostParticipantID)
	buf.Write(r.Settings)
	return buf.Bytes()
}

func DecodeSessionInfoResponse(payload []byte) (SessionInfoResponse, error) {
	r := bytes.NewReader(payload)
	var resp SessionInfoResponse
	var err error
	if resp.SessionUUID, err = readUUID(r); err != nil {
		return resp, err
	}
	var count uint16
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return resp, acerr.Wrap(acerr.CorruptPayload, "read participant count", err)
	}
	for i := 0; i < int(count); i++ {
		var p ParticipantSummary
		var err error
		if p.ParticipantID, err = readUUID(r); err != nil {
			return resp, err
		}
		if p.IP, err = readString(r); err != nil {
			return resp, err
		}
		if err := binary.Read(r, binary.BigEndian, &p.JoinedAtUnix); err != nil {
			return resp, acerr.Wrap(acerr.CorruptPayload, "read joined_at", err)
		}
		resp.Participants = append(resp.Participants, p)
	}
	if resp.HostParticipantID, err = readUUID(r); err != nil {
		return resp, err
	}
	settings := make([]byte, 60)
	if _, err := io.ReadFull(r, settings); err != nil {
		return resp, acerr.Wrap(acerr.CorruptPayload, "read settings body", err)
	}
	resp.Settings = settings
	return resp, nil
}

// SignalMessage carries WEBRTC_SDP, WEBRTC_ICE, and NAT_QUALITY payloads,
// all of which share the same envelope: session, sender, recipient
// (uuid.Nil recipient means broadcast), and an opaque size-limited body.
type SignalMessage struct {
	SessionUUID uuid.UUID
	FromID      uuid.UUID
	ToID        uuid.UUID
	Body        []byte
}

func (m SignalMessage) Encode() ([]byte, error) {
	if len(m.Body) > maxSignalPayload {
		return nil, acerr.New(acerr.InvalidParam, "signaling payload exceeds 4 KiB")
	}
	var buf bytes.Buffer
	putUUID(&buf, m.SessionUUID)
	putUUID(&buf, m.FromID)
	putUUID(&buf, m.ToID)
	putBlob(&buf, m.Body)
	return buf.Bytes(), nil
}

func DecodeSignalMessage(payload []byte) (SignalMessage, error) {
	r := bytes.NewReader(payload)
	var m SignalMessage
	var err error
	if m.SessionUUID, err = readUUID(r); err != nil {
		return m, err
	}
	if m.FromID, err = readUUID(r); err != nil {
		return m, err
	}
	if m.ToID, err = readUUID(r); err != nil {
		return m, err
	}
	if m.Body, err = readBlob(r); err != nil {
		return m, err
	}
	return m, nil
}

// ACIPErrorMessage is the ACIP_ERROR payload: a stable numeric code plus a
// human string.
type ACIPErrorMessage struct {
	Code    uint16
	Message string
}

func (e ACIPErrorMessage) Encode() []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, e.Code)
	putString(&buf, e.Message)
	return buf.Bytes()
}
