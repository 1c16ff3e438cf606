// Package queue carries job messages between submitters and workers over
// watermill. Delivery is at-least-once: a message that is never acked is
// handed out again by the broker.
package queue

import (
	"errors"
	"time"
)

// GroupIDKey is the metadata header carrying the ordering group of a message.
const GroupIDKey = "group_id"

// ErrClosed is returned by Receive once every subscription has ended.
var ErrClosed = errors.New("queue subscription closed")

type Config struct {
	Topic     string
	Ordered   bool
	BatchSize int
	BatchWait time.Duration
	Consumers int
}

func (c Config) withDefaults() Config {
	if c.BatchSize < 1 {
		c.BatchSize = 10
	}
	if c.BatchWait <= 0 {
		c.BatchWait = time.Second
	}
	if c.Consumers < 1 {
		c.Consumers = 1
	}
	return c
}
