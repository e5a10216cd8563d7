package hub

import (
	"errors"
	"sync"
)

var (
	ErrSinkClosed = errors.New("hub: sink closed")
	ErrSinkFull   = errors.New("hub: sink buffer full")
)

// DefaultSinkBuffer is the number of frames a subscriber may fall behind
// before it is treated as dead.
const DefaultSinkBuffer = 64

// QueueSink decouples Publish from the network: Send only enqueues, and the
// goroutine serving the subscriber's transport drains Messages. Send never
// blocks, so a stalled client cannot hold up fan-out to the others.
type QueueSink struct {
	ch   chan []byte
	done chan struct{}
	once sync.Once
}

func NewQueueSink(buffer int) *QueueSink {
	if buffer <= 0 {
		buffer = DefaultSinkBuffer
	}
	return &QueueSink{ch: make(chan []byte, buffer), done: make(chan struct{})}
}

func (s *QueueSink) Send(msg []byte) error {
	select {
	case <-s.done:
		return ErrSinkClosed
	default:
	}
	select {
	case s.ch <- msg:
		return nil
	case <-s.done:
		return ErrSinkClosed
	default:
		return ErrSinkFull
	}
}

// Messages yields queued frames in Send order.
func (s *QueueSink) Messages() <-chan []byte { return s.ch }

// Done is closed once the sink is closed.
func (s *QueueSink) Done() <-chan struct{} { return s.done }

func (s *QueueSink) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}
