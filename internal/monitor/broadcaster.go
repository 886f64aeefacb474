//////////////////////////////////////////////////////////////////////////////
//
// Broadcast encoded events from one writer to multiple subscribers.
//
// Each subscriber has its own channel. A slow subscriber never holds up the
// writer: once its channel is full, the oldest message is dropped for each
// new one written.
//
//////////////////////////////////////////////////////////////////////////////

package monitor

import (
	"sync"
)

type Broadcaster struct {
	mutex       sync.Mutex
	subscribers []chan []byte
	closed      bool
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{}
}

// Close ends every subscription. Later writes fail with ErrClosed.
func (b *Broadcaster) Close() error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	for _, subscriber := range b.subscribers {
		close(subscriber)
	}
	b.subscribers = nil
	b.closed = true
	return nil
}

// Subscribe to broadcasts, buffering up to n messages for the subscriber.
func (b *Broadcaster) Subscribe(n int) <-chan []byte {
	if n < 1 {
		panic("malformed buffer size")
	}

	channel := make(chan []byte, n)
	b.mutex.Lock()
	if b.closed {
		close(channel)
	} else {
		b.subscribers = append(b.subscribers, channel)
	}
	b.mutex.Unlock()
	return channel
}

// Unsubscribe by providing the channel returned by Subscribe.
func (b *Broadcaster) Unsubscribe(s <-chan []byte) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	subs := b.subscribers
	for i, subscriber := range subs {
		if s == subscriber {
			// Order not preserved
			close(subs[i])
			subs[len(subs)-1], subs[i] = subs[i], subs[len(subs)-1]
			b.subscribers = subs[:len(subs)-1]
			return nil
		}
	}
	return ErrNotSubscribed
}

// Subscribers returns the number of live subscriptions.
func (b *Broadcaster) Subscribers() int {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return len(b.subscribers)
}

func (b *Broadcaster) Write(p []byte) (n int, err error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.closed {
		return 0, ErrClosed
	}
	for _, subscriber := range b.subscribers {
		select {
		case subscriber <- p:
		default:
			// Subscriber backlogged. Drop oldest, add newest.
			select {
			case <-subscriber:
			default:
			}
			subscriber <- p
		}
	}
	return len(p), nil
}
