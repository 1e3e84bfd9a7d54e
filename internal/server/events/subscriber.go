package events

import (
	"errors"
	"sync"
)

var (
	// ErrClosed is returned by Send after Close.
	ErrClosed = errors.New("subscriber closed")
	// ErrSlowSubscriber is returned when a subscriber's buffer is full.
	ErrSlowSubscriber = errors.New("subscriber buffer full")
)

// Subscriber consumes events. Send must not block.
type Subscriber interface {
	Send(Event) error
	Close() error
}

// Client is a buffered channel Subscriber. Transports read Events until
// Done is closed.
type Client struct {
	ch   chan Event
	done chan struct{}
	once sync.Once
}

// NewClient creates a Client holding up to buffer undelivered events.
func NewClient(buffer int) *Client {
	if buffer <= 0 {
		buffer = 1
	}
	return &Client{
		ch:   make(chan Event, buffer),
		done: make(chan struct{}),
	}
}

// Send queues e, dropping it when the buffer is full.
func (c *Client) Send(e Event) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.ch <- e:
		return nil
	default:
		return ErrSlowSubscriber
	}
}

// Events returns the delivery channel. It is never closed; select on Done.
func (c *Client) Events() <-chan Event {
	return c.ch
}

// Done is closed by Close.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close stops delivery. It is safe to call more than once.
func (c *Client) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}
