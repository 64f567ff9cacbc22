package mqtt

import (
	"fmt"
	"sync"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/Iron-Ham/shadowbridge/internal/shadow"
)

// subscription delivers the notifications of one delta topic from its own
// goroutine. Close must not be called from inside a handler.
type subscription struct {
	client *Client
	topic  string
	h      shadow.Handlers

	msgs chan shadow.Message
	errs chan error
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

func newSubscription(c *Client, topic string, h shadow.Handlers) *subscription {
	return &subscription{
		client: c,
		topic:  topic,
		h:      h,
		msgs:   make(chan shadow.Message, c.cfg.DeliveryBuffer),
		errs:   make(chan error, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// enqueue runs on the paho router and must not block.
func (s *subscription) enqueue(_ paho.Client, m paho.Message) {
	select {
	case <-s.stop:
		return
	default:
	}

	select {
	case s.msgs <- shadow.Message{Topic: m.Topic(), Payload: m.Payload()}:
	default:
		s.client.logger.Warn("delta buffer full, dropping notification", "topic", s.topic)
	}
}

// fail hands a transport error to the delivery goroutine. Only the most
// recent undelivered error is kept.
func (s *subscription) fail(err error) {
	select {
	case s.errs <- err:
	default:
	}
}

func (s *subscription) run() {
	defer close(s.done)
	defer s.finish()

	for {
		select {
		case <-s.stop:
			return
		case msg := <-s.msgs:
			s.dispatch(msg)
		case err := <-s.errs:
			if s.onError(err) {
				s.client.logger.Info("closing delta stream after error", "topic", s.topic)
				return
			}
		}
	}
}

func (s *subscription) dispatch(msg shadow.Message) {
	if s.h.OnEvent == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.client.logger.Error("delta handler panicked", "topic", s.topic, "panic", fmt.Sprint(r))
		}
	}()
	s.h.OnEvent(msg)
}

func (s *subscription) onError(err error) (closeStream bool) {
	if s.h.OnError == nil {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			s.client.logger.Error("error handler panicked", "topic", s.topic, "panic", fmt.Sprint(r))
			closeStream = false
		}
	}()
	return s.h.OnError(err)
}

func (s *subscription) finish() {
	s.client.release(s.topic)
	if s.h.OnClosed != nil {
		s.h.OnClosed()
	}
}

// Close stops delivery, unsubscribes and waits for OnClosed to return.
func (s *subscription) Close() error {
	s.once.Do(func() { close(s.stop) })
	<-s.done
	return nil
}
