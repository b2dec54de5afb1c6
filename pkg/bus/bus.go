// Package bus decouples the chat transport from the dispatcher: inbound
// chat events flow one way, outgoing replies the other, over bounded
// buffers that drop rather than block when the consumer stalls.
package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// ChatEvent is one inbound chat line as seen by the transport.
type ChatEvent struct {
	Channel      string
	Username     string
	DisplayName  string
	Content      string
	IsSubscriber bool
	IsVIP        bool
	IsMod        bool
	Tags         map[string]string
	ReceivedAt   time.Time
}

// Reply is one outgoing chat message.
type Reply struct {
	Channel string
	Content string
}

const publishTimeout = 100 * time.Millisecond

type MessageBus struct {
	inbound  chan ChatEvent
	outbound chan Reply
	closed   bool
	dropped  droppedCounters
	mu       sync.RWMutex
}

type droppedCounters struct {
	inbound  atomic.Uint64
	outbound atomic.Uint64
}

func NewMessageBus() *MessageBus {
	return &MessageBus{
		inbound:  make(chan ChatEvent, 100),
		outbound: make(chan Reply, 100),
	}
}

func (mb *MessageBus) PublishInbound(ev ChatEvent) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	if mb.closed {
		return
	}

	select {
	case mb.inbound <- ev:
	default:
		timer := time.NewTimer(publishTimeout)
		defer timer.Stop()
		select {
		case mb.inbound <- ev:
		case <-timer.C:
			mb.dropped.inbound.Add(1)
		}
	}
}

func (mb *MessageBus) ConsumeInbound(ctx context.Context) (ChatEvent, bool) {
	select {
	case ev, ok := <-mb.inbound:
		if !ok {
			return ChatEvent{}, false
		}
		return ev, true
	case <-ctx.Done():
		return ChatEvent{}, false
	}
}

func (mb *MessageBus) PublishReply(r Reply) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	if mb.closed {
		return
	}

	select {
	case mb.outbound <- r:
	default:
		timer := time.NewTimer(publishTimeout)
		defer timer.Stop()
		select {
		case mb.outbound <- r:
		case <-timer.C:
			mb.dropped.outbound.Add(1)
		}
	}
}

func (mb *MessageBus) ConsumeReply(ctx context.Context) (Reply, bool) {
	select {
	case r, ok := <-mb.outbound:
		if !ok {
			return Reply{}, false
		}
		return r, true
	case <-ctx.Done():
		return Reply{}, false
	}
}

func (mb *MessageBus) Close() {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if mb.closed {
		return
	}
	mb.closed = true
	close(mb.inbound)
	close(mb.outbound)
}

func (mb *MessageBus) DroppedInbound() uint64 {
	return mb.dropped.inbound.Load()
}

func (mb *MessageBus) DroppedOutbound() uint64 {
	return mb.dropped.outbound.Load()
}
