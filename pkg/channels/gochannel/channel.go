// Package gochannel provides an in-memory pub/sub for single-process deployments
// and tests.
package gochannel

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// CreateChannel returns one GoChannel acting as both publisher and subscriber.
// A persistent channel replays past messages to late subscribers.
func CreateChannel(logger watermill.LoggerAdapter, persistent bool) *gochannel.GoChannel {
	return gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer:            1000,
			Persistent:                     persistent,
			BlockPublishUntilSubscriberAck: false,
		},
		logger,
	)
}
