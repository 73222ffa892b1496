package sink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// KeyHeader carries the record key on NATS messages.
const KeyHeader = "Dnscap-Key"

const natsFlushTimeout = 5 * time.Second

// NATSOptions configures the NATS producer.
type NATSOptions struct {
	URL           string
	Name          string
	ReconnectWait time.Duration
	MaxReconnects int
}

// NATSProducer publishes records as NATS messages; the topic is the subject.
type NATSProducer struct {
	nc     *nats.Conn
	logger zerolog.Logger
}

func NewNATSProducer(opts NATSOptions, logger zerolog.Logger) (*NATSProducer, error) {
	if opts.URL == "" {
		return nil, errors.New("nats producer requires a server url")
	}
	if opts.ReconnectWait == 0 {
		opts.ReconnectWait = 2 * time.Second
	}
	if opts.MaxReconnects == 0 {
		opts.MaxReconnects = -1
	}

	logger = logger.With().Str("component", "nats").Logger()
	natsOpts := []nats.Option{
		nats.ReconnectWait(opts.ReconnectWait),
		nats.MaxReconnects(opts.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrlRedacted()).Msg("nats reconnected")
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			logger.Error().Err(err).Msg("nats async error")
		}),
	}
	if opts.Name != "" {
		natsOpts = append(natsOpts, nats.Name(opts.Name))
	}

	nc, err := nats.Connect(opts.URL, natsOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	logger.Info().Str("url", nc.ConnectedUrlRedacted()).Msg("nats producer connected")
	return &NATSProducer{nc: nc, logger: logger}, nil
}

func (p *NATSProducer) Publish(ctx context.Context, topic string, key, value []byte) error {
	msg := nats.NewMsg(topic)
	msg.Header.Set(KeyHeader, string(key))
	msg.Data = value
	return p.nc.PublishMsg(msg)
}

// Close flushes buffered messages and closes the connection.
func (p *NATSProducer) Close() error {
	defer p.nc.Close()
	if err := p.nc.FlushTimeout(natsFlushTimeout); err != nil {
		return fmt.Errorf("failed to flush NATS connection: %w", err)
	}
	return nil
}
