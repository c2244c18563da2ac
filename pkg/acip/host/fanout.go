package host

import (
	"github.com/google/uuid"

	"github.com/zfogg/ascii-chat/pkg/acip/packet"
)

// fanOutVideo transcodes sender's frame once through the external Mixer
// and enqueues the single result to every other joined client.
func (h *Host) fanOutVideo(sender *Client, payload []byte) {
	mixed, err := h.mixer.MixVideoFrame(sender.ID, payload)
	if err != nil {
		h.logger.Warn("video mix failed", "sender", sender.ID, "error", err)
		return
	}

	h.registry.Each(sender.ID, func(dest *Client) {
		if dest.State() != StateActive {
			return
		}
		h.enqueue(dest, packet.TypeImageFrame, mixed)
		h.stats.FramesRelayed++
	})
}

// fanOutAudio gathers the most recent contribution from every registered
// client that has sent audio, whatever its state, and asks the Mixer for a per-destination mix, excluding each
// destination's own contribution.
func (h *Host) fanOutAudio(sender *Client, payload []byte) {
	contributions := map[uuid.UUID][]byte{sender.ID: payload}
	h.registry.Each(sender.ID, func(c *Client) {
		if last := c.lastAudio(); last != nil {
			contributions[c.ID] = last
		}
	})
	sender.setLastAudio(payload)

	h.registry.Each(uuid.Nil, func(dest *Client) {
		if dest.State() != StateActive {
			return
		}
		mixed, err := h.mixer.MixAudioFor(dest.ID, contributions)
		if err != nil {
			h.logger.Warn("audio mix failed", "dest", dest.ID, "error", err)
			return
		}
		h.enqueue(dest, packet.TypeAudioBatch, mixed)
	})
}
