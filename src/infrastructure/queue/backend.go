package queue

import (
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// NewAMQPPublisher publishes to a durable RabbitMQ queue named after the
// topic.
func NewAMQPPublisher(url string, logger watermill.LoggerAdapter) (*amqp.Publisher, error) {
	if url == "" {
		return nil, fmt.Errorf("amqp url is empty")
	}
	publisher, err := amqp.NewPublisher(amqp.NewDurableQueueConfig(url), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create amqp publisher: %w", err)
	}
	return publisher, nil
}

// NewAMQPSubscriber consumes a durable queue with a prefetch of one per
// subscription. Nacked or unacked messages are requeued by the broker.
func NewAMQPSubscriber(url string, logger watermill.LoggerAdapter) (*amqp.Subscriber, error) {
	if url == "" {
		return nil, fmt.Errorf("amqp url is empty")
	}
	config := amqp.NewDurableQueueConfig(url)
	config.Consume.Qos.PrefetchCount = 1
	subscriber, err := amqp.NewSubscriber(config, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create amqp subscriber: %w", err)
	}
	return subscriber, nil
}

// NewMemoryPubSub is an in-process queue for a single binary running both
// the API and the worker. Messages published before the worker subscribes are
// kept.
func NewMemoryPubSub(logger watermill.LoggerAdapter) *gochannel.GoChannel {
	return gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 64,
		Persistent:          true,
	}, logger)
}
