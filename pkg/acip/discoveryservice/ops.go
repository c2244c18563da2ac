package discoveryservice

import (
	"time"

	"github.com/google/uuid"

	"github.com/zfogg/ascii-chat/pkg/acip/acerr"
	"github.com/zfogg/ascii-chat/pkg/acip/packet"
	"github.com/zfogg/ascii-chat/pkg/acip/ratelimit"
)

func zero32() []byte { return make([]byte, 32) }

func isZero32(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

// CreateSession implements session_create: generates a unique
// session string, enforces rate limits and identity requirements, and
// persists the new session with its creator as sole participant.
func (s *Service) CreateSession(req SessionCreateRequest, creatorIP string) (SessionCreatedResponse, error) {
	if ok, err := s.limiter.Check(creatorIP, ratelimit.KindSessionCreate, nil); err != nil {
		return SessionCreatedResponse{}, err
	} else if !ok {
		return SessionCreatedResponse{}, acerr.New(acerr.RateLimited, "session_create rate limit exceeded")
	}
	s.limiter.Record(creatorIP, ratelimit.KindSessionCreate)

	if s.cfg.RequireServerIdentity && isZero32(req.CreatorPubKey) {
		return SessionCreatedResponse{}, acerr.New(acerr.AuthRequired, "session creator identity required")
	}

	settings := packet.DefaultSettings()
	if req.SettingsPresent {
		decoded, err := packet.DecodeSettings(req.Settings)
		if err != nil {
			return SessionCreatedResponse{}, err
		}
		settings = decoded
	}

	sessionString, err := GenerateSessionString(s.store.SessionStringExists)
	if err != nil {
		return SessionCreatedResponse{}, err
	}

	sess := Session{
		UUID:            uuid.New(),
		SessionString:   sessionString,
		CreatorID:       req.CreatorID,
		CreatorPubKey:   req.CreatorPubKey,
		CreatedAt:       time.Now(),
		MaxParticipants: DefaultMaxParticipants,
		Settings:        settings,
	}
	if err := s.store.CreateSession(sess, creatorIP); err != nil {
		return SessionCreatedResponse{}, err
	}

	s.logger.Debug("session created", "session_uuid", sess.UUID, "session_string", sessionString)
	return SessionCreatedResponse{SessionUUID: sess.UUID, SessionString: sessionString}, nil
}

// LookupSession implements session_lookup.
func (s *Service) LookupSession(req SessionLookupRequest, ip string) (uuid.UUID, error) {
	if ok, err := s.limiter.Check(ip, ratelimit.KindSessionLookup, nil); err != nil {
		return uuid.Nil, err
	} else if !ok {
		return uuid.Nil, acerr.New(acerr.RateLimited, "session_lookup rate limit exceeded")
	}
	s.limiter.Record(ip, ratelimit.KindSessionLookup)

	if !ValidateSessionString(req.SessionString) {
		return uuid.Nil, acerr.New(acerr.InvalidParam, "malformed session string")
	}
	return s.store.LookupSessionUUID(req.SessionString)
}

// JoinSession implements session_join.
func (s *Service) JoinSession(req SessionJoinRequest, ip string) (SessionInfoResponse, error) {
	if ok, err := s.limiter.Check(ip, ratelimit.KindSessionJoin, nil); err != nil {
		return SessionInfoResponse{}, err
	} else if !ok {
		return SessionInfoResponse{}, acerr.New(acerr.RateLimited, "session_join rate limit exceeded")
	}
	s.limiter.Record(ip, ratelimit.KindSessionJoin)

	if s.cfg.RequireClientIdentity && isZero32(req.ParticipantPubKey) {
		return SessionInfoResponse{}, acerr.New(acerr.AuthRequired, "participant identity required")
	}

	if err := s.store.JoinSession(req.SessionUUID, req.ParticipantID, req.ParticipantPubKey, ip, time.Now()); err != nil {
		return SessionInfoResponse{}, err
	}
	return s.buildSessionInfo(req.SessionUUID)
}

// SessionInfo implements session_info.
func (s *Service) SessionInfo(req SessionInfoRequest) (SessionInfoResponse, error) {
	return s.buildSessionInfo(req.SessionUUID)
}

func (s *Service) buildSessionInfo(sessionID uuid.UUID) (SessionInfoResponse, error) {
	sess, err := s.store.GetSession(sessionID)
	if err != nil {
		return SessionInfoResponse{}, err
	}

	resp := SessionInfoResponse{SessionUUID: sess.UUID, HostParticipantID: sess.HostID}
	for _, p := range sess.Participants {
		resp.Participants = append(resp.Participants, ParticipantSummary{
			ParticipantID: p.ParticipantID,
			IP:            p.IP,
			JoinedAtUnix:  p.JoinedAt.Unix(),
		})
	}
	settingsBytes, err := sess.Settings.Encode()
	if err != nil {
		return SessionInfoResponse{}, err
	}
	resp.Settings = settingsBytes
	return resp, nil
}
