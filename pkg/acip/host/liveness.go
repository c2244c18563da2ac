package host

import (
	"time"

	"github.com/google/uuid"

	"github.com/zfogg/ascii-chat/pkg/acip/packet"
)

// livenessLoop pings every joined-or-later client every PingInterval and
// disconnects any that miss MaxMissedPongs consecutive PONGs. It also
// clears every client's rate-limit offense counter once a minute.
func (h *Host) livenessLoop() {
	defer h.wg.Done()

	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()
	offenseTicker := time.NewTicker(time.Minute)
	defer offenseTicker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return
		case <-offenseTicker.C:
			h.registry.Each(uuid.Nil, func(c *Client) { c.ResetOffenses() })
		case <-ticker.C:
			h.registry.Each(uuid.Nil, func(c *Client) {
				state := c.State()
				if state == StateAccepted || state == StateHandshaking ||
					state == StateRemoved || state == StateErrored || state == StateDisconnecting {
					return
				}
				if c.RecordMissedPong() > h.cfg.MaxMissedPongs {
					h.stats.MissedPongKicks++
					c.Transition(StateErrored)
					return
				}
				h.enqueue(c, packet.TypePing, nil)
			})
		}
	}
}
