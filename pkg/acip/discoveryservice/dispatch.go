package discoveryservice

import (
	"github.com/zfogg/ascii-chat/pkg/acip/acerr"
	"github.com/zfogg/ascii-chat/pkg/acip/packet"
)

// dispatch handles one decrypted discovery-protocol packet and returns
// the reply payload/type to send back (if any) plus the participant
// identity to register with the signaling relay, when the packet just
// completed a create or join.
func (s *Service) dispatch(ip string, typ packet.Type, payload []byte) ([]byte, packet.Type, *joinedIdentity) {
	switch typ {
	case packet.TypeSessionCreate:
		req, err := DecodeSessionCreateRequest(payload)
		if err != nil {
			return errorReply(err)
		}
		resp, err := s.CreateSession(req, ip)
		if err != nil {
			return errorReply(err)
		}
		return resp.Encode(), packet.TypeSessionCreated, &joinedIdentity{session: resp.SessionUUID, participant: req.CreatorID}

	case packet.TypeSessionLookup:
		req, err := DecodeSessionLookupRequest(payload)
		if err != nil {
			return errorReply(err)
		}
		sessionID, err := s.LookupSession(req, ip)
		if err != nil {
			return errorReply(err)
		}
		info, err := s.buildSessionInfo(sessionID)
		if err != nil {
			return errorReply(err)
		}
		return info.Encode(), packet.TypeSessionInfo, nil

	case packet.TypeSessionJoin:
		req, err := DecodeSessionJoinRequest(payload)
		if err != nil {
			return errorReply(err)
		}
		info, err := s.JoinSession(req, ip)
		if err != nil {
			return errorReply(err)
		}
		return info.Encode(), packet.TypeSessionJoined, &joinedIdentity{session: req.SessionUUID, participant: req.ParticipantID}

	case packet.TypeSessionInfo:
		req, err := DecodeSessionInfoRequest(payload)
		if err != nil {
			return errorReply(err)
		}
		info, err := s.SessionInfo(req)
		if err != nil {
			return errorReply(err)
		}
		return info.Encode(), packet.TypeSessionInfo, nil

	case packet.TypeWebRTCSDP, packet.TypeWebRTCICE, packet.TypeNATQuality:
		msg, err := DecodeSignalMessage(payload)
		if err != nil {
			return errorReply(err)
		}
		if err := s.relay.Forward(typ, msg); err != nil {
			return errorReply(err)
		}
		return nil, 0, nil

	default:
		return errorReply(acerr.New(acerr.UnknownType, "unrecognized discovery-service packet type"))
	}
}

func errorReply(err error) ([]byte, packet.Type, *joinedIdentity) {
	code, ok := acerr.CodeOf(err)
	if !ok {
		code = acerr.InvalidState
	}
	msg := ACIPErrorMessage{Code: uint16(code), Message: err.Error()}
	return msg.Encode(), packet.TypeACIPError, nil
}
