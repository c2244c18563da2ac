package discoveryclient

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pion/interceptor"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"

	"github.com/zfogg/ascii-chat/pkg/acip/acerr"
	"github.com/zfogg/ascii-chat/pkg/acip/discoveryservice"
	"github.com/zfogg/ascii-chat/pkg/acip/logx"
	"github.com/zfogg/ascii-chat/pkg/acip/packet"
	"github.com/zfogg/ascii-chat/pkg/acip/transport"
)

const webrtcOpenTimeout = 20 * time.Second

// newPeerConnection builds a PeerConnection wired to the configured
// STUN/TURN servers, with pion's internal logging bridged into the
// transport debug category.
func (c *Client) newPeerConnection() (*webrtc.PeerConnection, error) {
	settings := webrtc.SettingEngine{LoggerFactory: logx.PionLoggerFactory{Logger: c.logger}}

	mediaEngine := &webrtc.MediaEngine{}
	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, acerr.Wrap(acerr.HandshakeFailed, "register interceptors", err)
	}

	api := webrtc.NewAPI(
		webrtc.WithSettingEngine(settings),
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
	)

	var iceServers []webrtc.ICEServer
	stun := c.cfg.STUNServers
	if len(stun) == 0 {
		stun = []string{"stun:stun.l.google.com:19302"}
	}
	iceServers = append(iceServers, webrtc.ICEServer{URLs: stun})
	if len(c.cfg.TURNServers) > 0 {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs:       c.cfg.TURNServers,
			Username:   c.cfg.TURNUsername,
			Credential: c.cfg.TURNCredential,
		})
	}

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, acerr.Wrap(acerr.HandshakeFailed, "create peer connection", err)
	}
	return pc, nil
}

// validateSDP parses raw as an SDP session description, rejecting
// payloads that are not syntactically valid SDP before they reach the
// peer connection.
func validateSDP(raw string) error {
	var desc sdp.SessionDescription
	if err := desc.UnmarshalString(raw); err != nil {
		return acerr.Wrap(acerr.InvalidParam, "malformed SDP", err)
	}
	return nil
}

func (c *Client) sendSDP(to uuid.UUID, desc webrtc.SessionDescription) error {
	body, err := json.Marshal(desc)
	if err != nil {
		return acerr.Wrap(acerr.InvalidParam, "marshal SDP", err)
	}
	return c.svc.SendSignal(packet.TypeWebRTCSDP, discoveryservice.SignalMessage{
		SessionUUID: c.sessionID, FromID: c.participantID, ToID: to, Body: body,
	})
}

func (c *Client) sendICE(to uuid.UUID, cand *webrtc.ICECandidate) error {
	if cand == nil {
		return nil
	}
	body, err := json.Marshal(cand.ToJSON())
	if err != nil {
		return acerr.Wrap(acerr.InvalidParam, "marshal ICE candidate", err)
	}
	return c.svc.SendSignal(packet.TypeWebRTCICE, discoveryservice.SignalMessage{
		SessionUUID: c.sessionID, FromID: c.participantID, ToID: to, Body: body,
	})
}

// offerWebRTC runs the offerer side of the DataChannel fallback: create
// the channel, exchange SDP and ICE with hostID through the signaling
// relay, and wait for the channel to open.
func (c *Client) offerWebRTC(hostID uuid.UUID) (transport.Conn, error) {
	pc, err := c.newPeerConnection()
	if err != nil {
		return nil, err
	}

	dc, err := pc.CreateDataChannel("acip", &webrtc.DataChannelInit{Ordered: boolPtr(true)})
	if err != nil {
		pc.Close()
		return nil, acerr.Wrap(acerr.HandshakeFailed, "create data channel", err)
	}
	conn := transport.WrapDataChannel(pc, dc, c.logger.Logger)

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if err := c.sendICE(hostID, cand); err != nil {
			c.logger.DebugSignaling("ice candidate send failed", "error", err)
		}
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		pc.Close()
		return nil, acerr.Wrap(acerr.HandshakeFailed, "create offer", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		pc.Close()
		return nil, acerr.Wrap(acerr.HandshakeFailed, "set local description", err)
	}
	if err := c.sendSDP(hostID, offer); err != nil {
		pc.Close()
		return nil, err
	}

	if err := c.awaitAnswer(pc, hostID); err != nil {
		pc.Close()
		return nil, err
	}

	if err := waitOpen(conn, webrtcOpenTimeout, c.shouldExit); err != nil {
		pc.Close()
		return nil, err
	}
	return conn, nil
}

// awaitAnswer consumes signaling until the host's answer arrives and has
// been applied, feeding any ICE candidates that show up along the way.
func (c *Client) awaitAnswer(pc *webrtc.PeerConnection, hostID uuid.UUID) error {
	deadline := time.NewTimer(webrtcOpenTimeout)
	defer deadline.Stop()
	poll := time.NewTicker(100 * time.Millisecond)
	defer poll.Stop()

	answered := false
	for !answered {
		select {
		case sig, ok := <-c.svc.Signals():
			if !ok {
				return acerr.New(acerr.EndOfStream, "discovery connection closed during negotiation")
			}
			if sig.Msg.FromID != hostID {
				continue
			}
			switch sig.Type {
			case packet.TypeWebRTCSDP:
				var desc webrtc.SessionDescription
				if err := json.Unmarshal(sig.Msg.Body, &desc); err != nil {
					return acerr.Wrap(acerr.CorruptPayload, "unmarshal answer", err)
				}
				if err := validateSDP(desc.SDP); err != nil {
					return err
				}
				if err := pc.SetRemoteDescription(desc); err != nil {
					return acerr.Wrap(acerr.HandshakeFailed, "set remote description", err)
				}
				answered = true
			case packet.TypeWebRTCICE:
				addRemoteCandidate(pc, sig.Msg.Body, c.logger)
			}
		case <-deadline.C:
			return acerr.New(acerr.Timeout, "webrtc answer timed out")
		case <-poll.C:
			if c.shouldExit() {
				return acerr.New(acerr.Timeout, "webrtc negotiation cancelled")
			}
		}
	}
	return nil
}

// answerWebRTC runs the answerer side when we are hosting: apply the
// peer's offer, reply with an answer, and hand the opened DataChannel to
// attach once the peer connects.
func (c *Client) answerWebRTC(from uuid.UUID, offerBody []byte, attach func(transport.Conn)) error {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(offerBody, &offer); err != nil {
		return acerr.Wrap(acerr.CorruptPayload, "unmarshal offer", err)
	}
	if err := validateSDP(offer.SDP); err != nil {
		return err
	}

	pc, err := c.newPeerConnection()
	if err != nil {
		return err
	}

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if err := c.sendICE(from, cand); err != nil {
			c.logger.DebugSignaling("ice candidate send failed", "error", err)
		}
	})
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		attach(transport.WrapDataChannel(pc, dc, c.logger.Logger))
	})

	if err := pc.SetRemoteDescription(offer); err != nil {
		pc.Close()
		return acerr.Wrap(acerr.HandshakeFailed, "set remote description", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		return acerr.Wrap(acerr.HandshakeFailed, "create answer", err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		return acerr.Wrap(acerr.HandshakeFailed, "set local description", err)
	}
	if err := c.sendSDP(from, answer); err != nil {
		pc.Close()
		return err
	}

	c.pcsMu.Lock()
	c.answerPCs[from] = pc
	c.pcsMu.Unlock()
	return nil
}

// addRemoteCandidate feeds one relayed ICE candidate into pc.
func addRemoteCandidate(pc *webrtc.PeerConnection, body []byte, logger *logx.Logger) {
	var cand webrtc.ICECandidateInit
	if err := json.Unmarshal(body, &cand); err != nil {
		logger.DebugSignaling("dropping malformed ICE candidate", "error", err)
		return
	}
	if err := pc.AddICECandidate(cand); err != nil {
		logger.DebugSignaling("AddICECandidate failed", "error", err)
	}
}

// waitOpen blocks until conn reports alive, the timeout elapses, or the
// exit predicate fires.
func waitOpen(conn transport.Conn, timeout time.Duration, shouldExit transport.ShouldExit) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if conn.IsAlive() {
			return nil
		}
		if shouldExit != nil && shouldExit() {
			return acerr.New(acerr.Timeout, "wait for data channel cancelled")
		}
		time.Sleep(100 * time.Millisecond)
	}
	return acerr.New(acerr.NotOpen, "data channel did not open")
}

func boolPtr(b bool) *bool { return &b }
