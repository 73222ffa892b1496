package sink

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/InfraSecConsult/dnscap-go/lib/model"
)

// StreamingSink publishes each query name to a topic, with the name as both
// key and value. Publish failures are logged and counted, never retried.
type StreamingSink struct {
	topic    string
	producer Producer
	logger   zerolog.Logger

	published atomic.Uint64
	failed    atomic.Uint64
}

func NewStreamingSink(topic string, producer Producer, logger zerolog.Logger) (*StreamingSink, error) {
	if topic == "" {
		return nil, errors.New("streaming sink requires a topic")
	}
	if producer == nil {
		return nil, errors.New("streaming sink requires a producer")
	}
	return &StreamingSink{
		topic:    topic,
		producer: producer,
		logger:   logger.With().Str("component", "sink").Str("topic", topic).Logger(),
	}, nil
}

func (s *StreamingSink) Handle(ctx context.Context, header *model.DNSHeader) {
	for _, name := range header.QueryNames() {
		if err := s.producer.Publish(ctx, s.topic, []byte(name), []byte(name)); err != nil {
			s.failed.Add(1)
			s.logger.Warn().Err(err).Str("qname", name).Msg("publish failed")
			continue
		}
		s.published.Add(1)
	}
}

// Published returns the number of names handed to the producer.
func (s *StreamingSink) Published() uint64 { return s.published.Load() }

// Failed returns the number of names the producer rejected.
func (s *StreamingSink) Failed() uint64 { return s.failed.Load() }

// Topic returns the destination topic.
func (s *StreamingSink) Topic() string { return s.topic }

// Close flushes and closes the producer.
func (s *StreamingSink) Close() error {
	s.logger.Info().
		Uint64("published", s.Published()).
		Uint64("failed", s.Failed()).
		Msg("closing streaming sink")
	return s.producer.Close()
}
