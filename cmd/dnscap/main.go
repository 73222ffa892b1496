package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/google/gopacket"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/InfraSecConsult/dnscap-go/internal/capture"
	"github.com/InfraSecConsult/dnscap-go/internal/config"
	"github.com/InfraSecConsult/dnscap-go/internal/logging"
	"github.com/InfraSecConsult/dnscap-go/internal/metrics"
	"github.com/InfraSecConsult/dnscap-go/internal/pipeline"
	"github.com/InfraSecConsult/dnscap-go/internal/sink"
	"github.com/InfraSecConsult/dnscap-go/internal/version"
)

// DependencyProvider allows injection for testability
// (in production, use real implementations)
type DependencyProvider struct {
	Stdout         io.Writer
	Stderr         io.Writer
	Sink           sink.Sink
	OpenLive       func(capture.LiveOptions, zerolog.Logger) (*capture.Source, error)
	ListInterfaces func() ([]capture.Interface, error)
}

func (p *DependencyProvider) withDefaults() *DependencyProvider {
	if p.Stdout == nil {
		p.Stdout = os.Stdout
	}
	if p.Stderr == nil {
		p.Stderr = os.Stderr
	}
	if p.OpenLive == nil {
		p.OpenLive = capture.OpenLive
	}
	if p.ListInterfaces == nil {
		p.ListInterfaces = capture.ListInterfaces
	}
	return p
}

// flagKeys maps CLI flags to configuration keys. Only flags set on the
// command line override the file and the environment.
var flagKeys = map[string]string{
	"log-level":  "log.level",
	"log-format": "log.format",
	"sink":       "sink.type",
	"workers":    "pipeline.workers",
	"interface":  "pcap.device",
	"bpf":        "pcap.bpf",
	"metrics":    "metrics.listen",
}

func overrides(cmd *cobra.Command) map[string]any {
	out := make(map[string]any)
	cmd.Flags().Visit(func(f *pflag.Flag) {
		if key, ok := flagKeys[f.Name]; ok {
			out[key] = f.Value.String()
		}
	})
	return out
}

// newRootCmd wires up the CLI with the given dependencies
func newRootCmd(provider *DependencyProvider) *cobra.Command {
	provider.withDefaults()
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "dnscap",
		Short:         "dnscap - capture DNS queries from live traffic and forward them to a sink",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a .yaml or .properties configuration file")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level: trace, debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "json", "Log format: json or console")
	rootCmd.PersistentFlags().String("sink", "console", "Sink type: console, kafka or nats")
	rootCmd.PersistentFlags().Int("workers", 0, "Number of pipeline workers (0 = min(8, CPUs))")
	rootCmd.PersistentFlags().String("bpf", "udp port 53", "BPF filter expression")
	rootCmd.PersistentFlags().String("metrics", "", "Listen address of the metrics server, e.g. :9153")

	load := func(cmd *cobra.Command) (*config.AppConfig, zerolog.Logger, error) {
		cfg, err := config.Load(configPath, overrides(cmd))
		if err != nil {
			return nil, zerolog.Nop(), err
		}
		logger, err := logging.Configure(cfg.Log.Level, cfg.Log.Format, provider.Stderr)
		if err != nil {
			return nil, zerolog.Nop(), err
		}
		return cfg, logger, nil
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Capture DNS queries from a network interface",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := load(cmd)
			if err != nil {
				return err
			}
			capture.RegisterDNSPorts(cfg.Pipeline.DNSPorts)

			// a configured file without a device means replay
			if cfg.PCAP.Device == "" && cfg.PCAP.File != "" {
				return runPipeline(cmd.Context(), cfg, provider, logger, true, func() (*capture.Source, error) {
					return capture.OpenFile(cfg.PCAP.File, cfg.PCAP.BPF, logger)
				})
			}

			return runPipeline(cmd.Context(), cfg, provider, logger, false, func() (*capture.Source, error) {
				return provider.OpenLive(capture.LiveOptions{
					Device:      cfg.PCAP.Device,
					Snaplen:     cfg.PCAP.Snaplen,
					Promiscuous: cfg.PCAP.Promiscuous,
					Timeout:     cfg.PCAP.Timeout(),
					BPF:         cfg.PCAP.BPF,
				}, logger)
			})
		},
	}
	runCmd.Flags().StringP("interface", "i", "", "Network interface to capture on")

	replayCmd := &cobra.Command{
		Use:   "replay <pcap-file>",
		Short: "Run a pcap or pcapng file through the capture pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := load(cmd)
			if err != nil {
				return err
			}
			capture.RegisterDNSPorts(cfg.Pipeline.DNSPorts)

			return runPipeline(cmd.Context(), cfg, provider, logger, true, func() (*capture.Source, error) {
				return capture.OpenFile(args[0], cfg.PCAP.BPF, logger)
			})
		},
	}

	interfacesCmd := &cobra.Command{
		Use:   "interfaces",
		Short: "List the network interfaces available for capture",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ifaces, err := provider.ListInterfaces()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(provider.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "NAME\tDESCRIPTION\tADDRESSES\n")
			for _, iface := range ifaces {
				fmt.Fprintf(w, "%s\t%s\t%s\n", iface.Name, iface.Description, strings.Join(iface.Addresses, ","))
			}
			return w.Flush()
		},
	}

	var versionJSON bool
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if versionJSON {
				enc := json.NewEncoder(provider.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(version.GetBuildInfo())
			}
			info := version.GetBuildInfo()
			fmt.Fprintf(provider.Stdout, "dnscap %s (%s, %s)\n", version.GetFullVersion(), info.GoVersion, info.Platform)
			if info.BuildTime != "" {
				fmt.Fprintf(provider.Stdout, "built %s\n", info.BuildTime)
			}
			return nil
		},
	}
	versionCmd.Flags().BoolVar(&versionJSON, "json", false, "Print build information as JSON")

	rootCmd.AddCommand(runCmd, replayCmd, interfacesCmd, versionCmd)
	return rootCmd
}

// buildSink creates the configured sink unless one was injected.
func buildSink(cfg config.SinkConfig, provider *DependencyProvider, logger zerolog.Logger) (sink.Sink, error) {
	if provider.Sink != nil {
		return provider.Sink, nil
	}

	var (
		topic    string
		producer sink.Producer
		err      error
	)
	switch cfg.Type {
	case config.SinkConsole:
		return sink.NewConsoleSink(provider.Stdout, logger), nil
	case config.SinkKafka:
		topic = cfg.Kafka.Topic
		producer, err = sink.NewKafkaProducer(sink.KafkaOptions{
			Brokers:         cfg.Kafka.Brokers,
			Acks:            cfg.Kafka.Acks,
			Retries:         cfg.Kafka.Retries,
			Linger:          cfg.Kafka.Linger(),
			KeySerializer:   cfg.Kafka.KeySerializer,
			ValueSerializer: cfg.Kafka.ValueSerializer,
		}, logger)
	case config.SinkNATS:
		topic = cfg.NATS.Subject
		producer, err = sink.NewNATSProducer(sink.NATSOptions{URL: cfg.NATS.URL, Name: cfg.NATS.Name}, logger)
	default:
		return nil, fmt.Errorf("%w: %s", sink.ErrUnknownSink, cfg.Type)
	}
	if err != nil {
		return nil, err
	}

	s, err := sink.NewStreamingSink(topic, producer, logger)
	if err != nil {
		_ = producer.Close()
		return nil, err
	}
	logger.Info().Str("sink", cfg.Type).Str("topic", s.Topic()).Msg("streaming sink ready")
	return s, nil
}

// runPipeline builds the sink and the pipeline, then opens the source and
// feeds it through. Startup failures therefore happen before the capture
// device is touched. Live capture stops when ctx is cancelled; a replay also
// waits until every accepted frame has been processed.
func runPipeline(ctx context.Context, cfg *config.AppConfig, provider *DependencyProvider, logger zerolog.Logger, replay bool, open func() (*capture.Source, error)) (err error) {
	out, err := buildSink(cfg.Sink, provider, logger)
	if err != nil {
		return err
	}
	var recorder *sink.Recorder
	if cfg.Sink.Recent > 0 {
		recorder = sink.NewRecorder(out, cfg.Sink.Recent)
		out = recorder
	}
	defer func() {
		if cerr := out.Close(); cerr != nil {
			logger.Error().Err(cerr).Msg("failed to close sink")
			err = errors.Join(err, cerr)
		}
	}()

	// file input is never dropped; the reader waits for the workers
	dropOnFull := cfg.Pipeline.DropOnFull
	if replay && dropOnFull {
		logger.Debug().Msg("replay blocks on a full queue instead of dropping")
		dropOnFull = false
	}
	p, err := pipeline.New(pipeline.Config{
		QueueCapacity:         cfg.Pipeline.QueueCapacity,
		DropOnFull:            dropOnFull,
		Workers:               cfg.Pipeline.Workers,
		MaxEncapsulationDepth: cfg.Pipeline.MaxEncapsulationDepth,
	}, out, logger)
	if err != nil {
		return err
	}

	src, err := open()
	if err != nil {
		return err
	}
	defer src.Close()

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	stopClose := context.AfterFunc(runCtx, func() { _ = src.Close() })
	defer stopClose()

	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()
	p.Start(workerCtx)

	auxCtx, stopAux := context.WithCancel(ctx)
	defer stopAux()
	g, gctx := errgroup.WithContext(auxCtx)
	if cfg.Metrics.Listen != "" {
		var recent metrics.RecentFunc
		if recorder != nil {
			recent = recorder.Recent
		}
		server := metrics.NewServer(cfg.Metrics.Listen, metrics.NewRegistry(p.Stats), recent, logger)
		g.Go(func() error {
			if err := server.Run(gctx); err != nil {
				cancelRun()
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		p.ReportEvery(gctx, cfg.Metrics.ReportInterval)
		return nil
	})

	logger.Info().Str("source", src.Name()).Str("sink", cfg.Sink.Type).Msg("capture started")
	runErr := src.Run(runCtx, func(frame gopacket.Packet) {
		p.Submit(runCtx, frame)
	})
	if replay && runErr == nil {
		if derr := p.Drain(runCtx); derr != nil && !errors.Is(derr, context.Canceled) {
			runErr = derr
		}
	}

	stopWorkers()
	p.Wait()
	stopAux()
	gErr := g.Wait()
	p.LogFinalStats()
	return errors.Join(runErr, gErr)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCmd(&DependencyProvider{})
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
