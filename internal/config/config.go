package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix of environment overrides. A double underscore
// separates levels: DNSCAP_PIPELINE__QUEUE_CAPACITY sets pipeline.queue_capacity.
const EnvPrefix = "DNSCAP_"

// Sink types.
const (
	SinkConsole = "console"
	SinkKafka   = "kafka"
	SinkNATS    = "nats"
)

// ErrValidation is returned when the loaded configuration is not usable.
var ErrValidation = errors.New("invalid configuration")

// AppConfig is the complete startup configuration.
type AppConfig struct {
	Log      LogConfig      `koanf:"log"`
	PCAP     PCAPConfig     `koanf:"pcap"`
	Pipeline PipelineConfig `koanf:"pipeline"`
	Sink     SinkConfig     `koanf:"sink"`
	Metrics  MetricsConfig  `koanf:"metrics"`
}

type LogConfig struct {
	// Level is one of "trace", "debug", "info", "warn" or "error".
	Level string `koanf:"level" validate:"required,oneof=trace debug info warn error"`
	// Format is "json" or "console".
	Format string `koanf:"format" validate:"required,oneof=json console"`
}

// PCAPConfig holds the capture handle settings.
type PCAPConfig struct {
	Device      string `koanf:"device"`
	File        string `koanf:"file"`
	Snaplen     int    `koanf:"snaplen" validate:"gte=1,lte=262144"`
	TimeoutMS   int    `koanf:"timeout_ms" validate:"gte=0"`
	Promiscuous bool   `koanf:"promiscuous"`
	BPF         string `koanf:"bpf"`
}

// Timeout returns the read timeout as a duration.
func (c PCAPConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

type PipelineConfig struct {
	QueueCapacity         int   `koanf:"queue_capacity" validate:"gte=1"`
	DropOnFull            bool  `koanf:"drop_on_full"`
	Workers               int   `koanf:"workers" validate:"gte=0"` // 0 selects min(8, CPUs)
	MaxEncapsulationDepth int   `koanf:"max_encapsulation_depth" validate:"gte=1"`
	DNSPorts              []int `koanf:"dns_ports" validate:"dive,gte=1,lte=65535"`
}

// SinkConfig selects the sink. The block matching Type must be filled in.
type SinkConfig struct {
	Type   string      `koanf:"type" validate:"required,oneof=console kafka nats"`
	Recent int         `koanf:"recent" validate:"gte=0"`
	Kafka  KafkaConfig `koanf:"kafka"`
	NATS   NATSConfig  `koanf:"nats"`
}

type KafkaConfig struct {
	Topic           string   `koanf:"topic"`
	Brokers         []string `koanf:"brokers" validate:"dive,hostname_port"`
	Acks            string   `koanf:"acks" validate:"oneof=0 1 all -1"`
	Retries         int      `koanf:"retries" validate:"gte=0"`
	LingerMS        int      `koanf:"linger_ms" validate:"gte=0"`
	KeySerializer   string   `koanf:"key_serializer" validate:"oneof=string json"`
	ValueSerializer string   `koanf:"value_serializer" validate:"oneof=string json"`
}

// Linger returns the batching delay as a duration.
func (c KafkaConfig) Linger() time.Duration {
	return time.Duration(c.LingerMS) * time.Millisecond
}

type NATSConfig struct {
	URL     string `koanf:"url"`
	Subject string `koanf:"subject"`
	Name    string `koanf:"name"`
}

type MetricsConfig struct {
	// Listen is the address of the metrics server; empty disables it.
	Listen string `koanf:"listen" validate:"omitempty,hostname_port"`
	// ReportInterval is the period of the stats log line; zero disables it.
	ReportInterval time.Duration `koanf:"report_interval" validate:"gte=0"`
}

// Default returns the built-in configuration.
func Default() AppConfig {
	return AppConfig{
		Log: LogConfig{Level: "info", Format: "json"},
		PCAP: PCAPConfig{
			Snaplen:     65536,
			TimeoutMS:   10,
			Promiscuous: true,
			BPF:         "udp port 53",
		},
		Pipeline: PipelineConfig{
			QueueCapacity:         1024,
			DropOnFull:            true,
			MaxEncapsulationDepth: 10,
		},
		Sink: SinkConfig{
			Type:   SinkConsole,
			Recent: 100,
			Kafka: KafkaConfig{
				Acks:            "all",
				Retries:         0,
				LingerMS:        1,
				KeySerializer:   "string",
				ValueSerializer: "string",
			},
			NATS: NATSConfig{Name: "dnscap"},
		},
		Metrics: MetricsConfig{ReportInterval: 30 * time.Second},
	}
}

// parserFor picks the file parser by extension.
func parserFor(path string) (koanf.Parser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".properties", ".conf":
		return Properties(), nil
	default:
		return nil, fmt.Errorf("unsupported config file type %q", filepath.Ext(path))
	}
}

// envKey maps DNSCAP_SINK__KAFKA__TOPIC to sink.kafka.topic.
func envKey(key, value string) (string, any) {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	return strings.ReplaceAll(key, "__", "."), strings.TrimSpace(value)
}

// splitList turns "a, b" into a list wherever the target field is a slice.
// Properties files and the environment only carry strings.
func splitList(from, to reflect.Kind, data any) (any, error) {
	if from != reflect.String || to != reflect.Slice {
		return data, nil
	}
	raw := strings.TrimSpace(reflect.ValueOf(data).String())
	if raw == "" {
		return []string{}, nil
	}
	parts := strings.Split(raw, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts, nil
}

// Load builds the configuration from the defaults, the optional file at path,
// the environment and finally the overrides, which carry explicit CLI flags
// keyed by their configuration path. The result is validated.
func Load(path string, overrides map[string]any) (*AppConfig, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("error loading default config: %w", err)
	}

	if path != "" {
		parser, err := parserFor(path)
		if err != nil {
			return nil, err
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return nil, fmt.Errorf("error loading config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(".", env.Opt{Prefix: EnvPrefix, TransformFunc: envKey}), nil); err != nil {
		return nil, fmt.Errorf("error loading env: %w", err)
	}

	for key, value := range overrides {
		if err := k.Set(key, value); err != nil {
			return nil, fmt.Errorf("error applying %s: %w", key, err)
		}
	}

	var cfg AppConfig
	err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.DecodeHookFuncKind(splitList),
			),
			WeaklyTypedInput: true,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cfg and wraps any failure in ErrValidation.
func Validate(cfg *AppConfig) error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterStructValidation(validateSink, SinkConfig{})
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return nil
}

// validateSink requires the settings block of the selected sink.
func validateSink(sl validator.StructLevel) {
	s := sl.Current().Interface().(SinkConfig)
	switch s.Type {
	case SinkKafka:
		if s.Kafka.Topic == "" {
			sl.ReportError(s.Kafka.Topic, "Kafka.Topic", "Topic", "required_for_sink", s.Type)
		}
		if len(s.Kafka.Brokers) == 0 {
			sl.ReportError(s.Kafka.Brokers, "Kafka.Brokers", "Brokers", "required_for_sink", s.Type)
		}
	case SinkNATS:
		if s.NATS.URL == "" {
			sl.ReportError(s.NATS.URL, "NATS.URL", "URL", "required_for_sink", s.Type)
		}
		if s.NATS.Subject == "" {
			sl.ReportError(s.NATS.Subject, "NATS.Subject", "Subject", "required_for_sink", s.Type)
		}
	}
}
