package store

import (
	"context"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Message is one pub/sub delivery, independent of the backing transport
type Message struct {
	Channel string
	Payload string
}

// Subscription delivers messages for a set of channels until closed or
// until the context passed to Subscribe is done.
type Subscription interface {
	Channel() <-chan *Message
	Close() error
}

// memorySubscription is the in-memory Subscription used without Redis
type memorySubscription struct {
	patterns []string
	msgChan  chan *Message
	closeCh  chan struct{}
	closed   bool
	mu       sync.RWMutex
}

func newMemorySubscription(patterns []string) *memorySubscription {
	return &memorySubscription{
		patterns: patterns,
		msgChan:  make(chan *Message, 100),
		closeCh:  make(chan struct{}),
	}
}

func (m *memorySubscription) Channel() <-chan *Message {
	return m.msgChan
}

func (m *memorySubscription) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.closed {
		m.closed = true
		close(m.closeCh)
		close(m.msgChan)
	}
	return nil
}

func (m *memorySubscription) matches(channel string) bool {
	for _, p := range m.patterns {
		if matchChannel(p, channel) {
			return true
		}
	}
	return false
}

// deliver drops the message when the subscriber buffer is full
func (m *memorySubscription) deliver(msg *Message) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed || !m.matches(msg.Channel) {
		return
	}
	select {
	case m.msgChan <- msg:
	default:
	}
}

// matchChannel supports exact names and a single trailing '*' wildcard,
// the subset of Redis glob patterns the service uses.
func matchChannel(pattern, channel string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(channel, prefix)
	}
	return pattern == channel
}

// PubSubHub fans messages out to in-memory subscriptions
type PubSubHub struct {
	subscribers map[*memorySubscription]struct{}
	mu          sync.RWMutex
}

func NewPubSubHub() *PubSubHub {
	return &PubSubHub{
		subscribers: make(map[*memorySubscription]struct{}),
	}
}

// Subscribe registers a subscription for the given channel patterns. It is
// removed from the hub when closed or when ctx is done.
func (h *PubSubHub) Subscribe(ctx context.Context, patterns ...string) Subscription {
	sub := newMemorySubscription(patterns)

	h.mu.Lock()
	h.subscribers[sub] = struct{}{}
	h.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.closeCh:
		}

		h.mu.Lock()
		delete(h.subscribers, sub)
		h.mu.Unlock()
	}()

	return sub
}

func (h *PubSubHub) Publish(channel, payload string) int {
	h.mu.RLock()
	subs := make([]*memorySubscription, 0, len(h.subscribers))
	for sub := range h.subscribers {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	msg := &Message{Channel: channel, Payload: payload}
	delivered := 0
	for _, sub := range subs {
		if sub.matches(channel) {
			sub.deliver(msg)
			delivered++
		}
	}
	return delivered
}

// redisSubscription adapts a go-redis PubSub to Subscription
type redisSubscription struct {
	pubsub  *redis.PubSub
	msgChan chan *Message
	once    sync.Once
	done    chan struct{}
}

func newRedisSubscription(ctx context.Context, pubsub *redis.PubSub) *redisSubscription {
	s := &redisSubscription{
		pubsub:  pubsub,
		msgChan: make(chan *Message, 100),
		done:    make(chan struct{}),
	}

	go func() {
		defer close(s.msgChan)
		in := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				s.Close()
				return
			case <-s.done:
				return
			case m, ok := <-in:
				if !ok {
					return
				}
				select {
				case s.msgChan <- &Message{Channel: m.Channel, Payload: m.Payload}:
				default:
				}
			}
		}
	}()
	return s
}

func (s *redisSubscription) Channel() <-chan *Message {
	return s.msgChan
}

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.pubsub.Close()
	})
	return err
}
