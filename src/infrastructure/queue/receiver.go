package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
)

// Receiver fans in several competing subscriptions on one topic and hands
// their messages out in batches. A subscription only delivers its next
// message after the previous one was acked, so Consumers bounds how many
// messages can be outstanding at once.
type Receiver struct {
	subscriber message.Subscriber
	cfg        Config

	once     sync.Once
	startErr error
	in       chan *message.Message
}

func NewReceiver(subscriber message.Subscriber, cfg Config) *Receiver {
	return &Receiver{
		subscriber: subscriber,
		cfg:        cfg.withDefaults(),
		in:         make(chan *message.Message),
	}
}

// start subscribes once; the subscriptions live as long as ctx.
func (r *Receiver) start(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < r.cfg.Consumers; i++ {
		ch, err := r.subscriber.Subscribe(ctx, r.cfg.Topic)
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", r.cfg.Topic, err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			for msg := range ch {
				select {
				case r.in <- msg:
				case <-ctx.Done():
					msg.Nack()
					return
				}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(r.in)
	}()
	return nil
}

// Receive blocks for the first message, then collects more until BatchSize
// messages are gathered or BatchWait elapses. The first call binds the
// underlying subscriptions to ctx.
func (r *Receiver) Receive(ctx context.Context) ([]*message.Message, error) {
	r.once.Do(func() { r.startErr = r.start(ctx) })
	if r.startErr != nil {
		return nil, r.startErr
	}

	var batch []*message.Message
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case msg, ok := <-r.in:
		if !ok {
			return nil, ErrClosed
		}
		batch = append(batch, msg)
	}

	timer := time.NewTimer(r.cfg.BatchWait)
	defer timer.Stop()
	for len(batch) < r.cfg.BatchSize {
		select {
		case msg, ok := <-r.in:
			if !ok {
				return batch, nil
			}
			batch = append(batch, msg)
		case <-timer.C:
			return batch, nil
		case <-ctx.Done():
			// Hand the partial batch back so it is redelivered elsewhere.
			for _, msg := range batch {
				msg.Nack()
			}
			return nil, ctx.Err()
		}
	}
	return batch, nil
}
