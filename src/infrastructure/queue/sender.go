package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"

	"resynth/src/infrastructure/job"
)

type Sender struct {
	publisher message.Publisher
	topic     string
	ordered   bool
}

func NewSender(publisher message.Publisher, cfg Config) *Sender {
	return &Sender{
		publisher: publisher,
		topic:     cfg.Topic,
		ordered:   cfg.Ordered,
	}
}

// Send publishes m. The job id doubles as correlation id; in ordered mode it
// is also the message group so a broker that honours groups never hands two
// messages of one job to different consumers at once.
func (s *Sender) Send(ctx context.Context, m job.Message) error {
	if s == nil || s.publisher == nil || s.topic == "" {
		return job.ErrQueueUnavailable
	}

	payload, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("%w: failed to marshal job message: %v", job.ErrDeliveryFailed, err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)
	middleware.SetCorrelationID(m.JobID, msg)
	if s.ordered {
		msg.Metadata.Set(GroupIDKey, m.JobID)
	}

	if err := s.publisher.Publish(s.topic, msg); err != nil {
		return fmt.Errorf("%w: %v", job.ErrDeliveryFailed, err)
	}
	return nil
}
