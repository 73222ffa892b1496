package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// Serializer turns a record key or value into its wire form.
type Serializer func([]byte) ([]byte, error)

// KafkaOptions configures the Kafka producer.
type KafkaOptions struct {
	Brokers         []string
	Acks            string // "0", "1" or "all"
	Retries         int
	Linger          time.Duration
	KeySerializer   string // "string" or "json"
	ValueSerializer string
}

// ParseAcks maps the acks setting to the kafka-go acknowledgement level.
func ParseAcks(acks string) (kafka.RequiredAcks, error) {
	switch strings.ToLower(strings.TrimSpace(acks)) {
	case "0", "none":
		return kafka.RequireNone, nil
	case "1", "one", "leader":
		return kafka.RequireOne, nil
	case "all", "-1", "":
		return kafka.RequireAll, nil
	default:
		return kafka.RequireNone, fmt.Errorf("unsupported acks value %q", acks)
	}
}

// LookupSerializer returns the serializer registered under name.
func LookupSerializer(name string) (Serializer, error) {
	switch strings.ToLower(name) {
	case "", "string":
		return func(b []byte) ([]byte, error) { return b, nil }, nil
	case "json":
		return func(b []byte) ([]byte, error) { return json.Marshal(string(b)) }, nil
	default:
		return nil, fmt.Errorf("unknown serializer %q", name)
	}
}

// KafkaProducer publishes through an asynchronous kafka-go writer. Delivery
// errors surface in the completion callback and are logged there.
type KafkaProducer struct {
	writer   *kafka.Writer
	keySer   Serializer
	valueSer Serializer
	logger   zerolog.Logger

	delivered atomic.Uint64
	failed    atomic.Uint64
}

func NewKafkaProducer(opts KafkaOptions, logger zerolog.Logger) (*KafkaProducer, error) {
	if len(opts.Brokers) == 0 {
		return nil, errors.New("kafka producer requires at least one broker")
	}
	acks, err := ParseAcks(opts.Acks)
	if err != nil {
		return nil, err
	}
	keySer, err := LookupSerializer(opts.KeySerializer)
	if err != nil {
		return nil, fmt.Errorf("key serializer: %w", err)
	}
	valueSer, err := LookupSerializer(opts.ValueSerializer)
	if err != nil {
		return nil, fmt.Errorf("value serializer: %w", err)
	}

	p := &KafkaProducer{
		keySer:   keySer,
		valueSer: valueSer,
		logger:   logger.With().Str("component", "kafka").Logger(),
	}
	batchTimeout := opts.Linger
	if batchTimeout <= 0 {
		batchTimeout = time.Millisecond
	}
	p.writer = &kafka.Writer{
		Addr:                   kafka.TCP(opts.Brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           acks,
		MaxAttempts:            opts.Retries + 1,
		BatchTimeout:           batchTimeout,
		Async:                  true,
		AllowAutoTopicCreation: true,
		Completion:             p.complete,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			p.logger.Error().Msgf(msg, args...)
		}),
	}
	p.logger.Info().
		Strs("brokers", opts.Brokers).
		Str("acks", opts.Acks).
		Int("retries", opts.Retries).
		Dur("linger", opts.Linger).
		Msg("kafka producer configured")
	return p, nil
}

func (p *KafkaProducer) complete(messages []kafka.Message, err error) {
	if err != nil {
		p.failed.Add(uint64(len(messages)))
		p.logger.Warn().Err(err).Int("messages", len(messages)).Msg("kafka delivery failed")
		return
	}
	p.delivered.Add(uint64(len(messages)))
}

// Publish hands the record to the writer. In async mode it only fails on
// serialization or when the writer is closed.
func (p *KafkaProducer) Publish(ctx context.Context, topic string, key, value []byte) error {
	k, err := p.keySer(key)
	if err != nil {
		return fmt.Errorf("serialize key: %w", err)
	}
	v, err := p.valueSer(value)
	if err != nil {
		return fmt.Errorf("serialize value: %w", err)
	}
	return p.writer.WriteMessages(ctx, kafka.Message{Topic: topic, Key: k, Value: v})
}

// Delivered returns the number of records acknowledged by the brokers.
func (p *KafkaProducer) Delivered() uint64 { return p.delivered.Load() }

// Failed returns the number of records whose delivery failed.
func (p *KafkaProducer) Failed() uint64 { return p.failed.Load() }

// Close flushes pending records and closes the writer.
func (p *KafkaProducer) Close() error {
	err := p.writer.Close()
	p.logger.Info().
		Uint64("delivered", p.Delivered()).
		Uint64("failed", p.Failed()).
		Msg("kafka producer closed")
	return err
}
