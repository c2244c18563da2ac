package host

import (
	"context"
	"log/slog"
	"time"

	"github.com/zfogg/ascii-chat/pkg/acip/acerr"
	"github.com/zfogg/ascii-chat/pkg/acip/packet"
)

// mediaQueueCapacity and controlQueueCapacity bound the media and control
// queues. Handshake
// packets are rare and latency-critical, so they get a small dedicated
// channel that is never subject to drop-oldest.
const (
	mediaQueueCapacity     = 64
	controlQueueCapacity   = 32
	handshakeQueueCapacity = 8
	controlEnqueueTimeout  = 2 * time.Second
)

type outboundMessage struct {
	typ  packet.Type
	data []byte
}

// SendQueue is a per-client outbound queue with three priority classes:
// media frames drop the oldest entry on overflow,
// control packets block with a timeout, and handshake packets are never
// dropped.
type SendQueue struct {
	logger *slog.Logger

	handshake chan outboundMessage
	control   chan outboundMessage
	media     chan outboundMessage

	droppedMedia uint64
}

// NewSendQueue builds an empty SendQueue.
func NewSendQueue(logger *slog.Logger) *SendQueue {
	return &SendQueue{
		logger:    logger,
		handshake: make(chan outboundMessage, handshakeQueueCapacity),
		control:   make(chan outboundMessage, controlQueueCapacity),
		media:     make(chan outboundMessage, mediaQueueCapacity),
	}
}

// Enqueue routes msg to the channel matching its packet type's class.
func (q *SendQueue) Enqueue(ctx context.Context, typ packet.Type, data []byte) error {
	msg := outboundMessage{typ: typ, data: data}

	switch {
	case typ.IsHandshake():
		select {
		case q.handshake <- msg:
			return nil
		case <-ctx.Done():
			return acerr.Wrap(acerr.Timeout, "enqueue handshake packet", ctx.Err())
		}

	case isMediaType(typ):
		select {
		case q.media <- msg:
			return nil
		default:
			// Drop-oldest: make room and retry once.
			select {
			case dropped := <-q.media:
				q.droppedMedia++
				if q.logger != nil {
					q.logger.Debug("dropping oldest queued media packet", "dropped_type", dropped.typ)
				}
			default:
			}
			select {
			case q.media <- msg:
				return nil
			default:
				return acerr.New(acerr.Timeout, "media queue full after drop-oldest")
			}
		}

	default:
		timeoutCtx, cancel := context.WithTimeout(ctx, controlEnqueueTimeout)
		defer cancel()
		select {
		case q.control <- msg:
			return nil
		case <-timeoutCtx.Done():
			return acerr.Wrap(acerr.Timeout, "enqueue control packet", timeoutCtx.Err())
		}
	}
}

// Next blocks until a message is available, preferring handshake over
// control over media, or ctx is cancelled.
func (q *SendQueue) Next(ctx context.Context) (outboundMessage, error) {
	select {
	case msg := <-q.handshake:
		return msg, nil
	default:
	}
	select {
	case msg := <-q.control:
		return msg, nil
	default:
	}
	select {
	case msg := <-q.handshake:
		return msg, nil
	case msg := <-q.control:
		return msg, nil
	case msg := <-q.media:
		return msg, nil
	case <-ctx.Done():
		return outboundMessage{}, ctx.Err()
	}
}

func isMediaType(typ packet.Type) bool {
	switch typ {
	case packet.TypeImageFrame, packet.TypeAudioBatch:
		return true
	default:
		return false
	}
}
