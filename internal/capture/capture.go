// Package capture reads frames from a network interface or a capture file
// and hands them to a callback without decoding them.
package capture

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"github.com/google/gopacket/pcapgo"
	"github.com/rs/zerolog"
)

var (
	// ErrNoDevice is returned when live capture is requested without a device.
	ErrNoDevice = errors.New("no capture device configured")
	// ErrSourceClosed is returned by Run on a closed source.
	ErrSourceClosed = errors.New("capture source closed")
)

// LiveOptions configures a live capture handle.
type LiveOptions struct {
	Device      string
	Snaplen     int
	Promiscuous bool
	Timeout     time.Duration
	BPF         string
}

// packetReader is the part of a pcap handle or file reader the source needs.
type packetReader interface {
	gopacket.PacketDataSource
	LinkType() layers.LinkType
}

// Source produces frames from one handle or file.
type Source struct {
	name    string
	reader  packetReader
	filter  *pcap.BPF
	closer  io.Closer
	logger  zerolog.Logger
	closed  atomic.Bool
	read    atomic.Uint64
	skipped atomic.Uint64
}

// OpenLive opens device for live capture and installs the BPF filter.
func OpenLive(opts LiveOptions, logger zerolog.Logger) (*Source, error) {
	if opts.Device == "" {
		return nil, ErrNoDevice
	}
	handle, err := pcap.OpenLive(opts.Device, int32(opts.Snaplen), opts.Promiscuous, opts.Timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to open device %s: %w", opts.Device, err)
	}
	if opts.BPF != "" {
		if err := handle.SetBPFFilter(opts.BPF); err != nil {
			handle.Close()
			return nil, fmt.Errorf("failed to set BPF filter %q: %w", opts.BPF, err)
		}
	}

	logger.Info().
		Str("device", opts.Device).
		Int("snaplen", opts.Snaplen).
		Bool("promiscuous", opts.Promiscuous).
		Dur("timeout", opts.Timeout).
		Str("bpf", opts.BPF).
		Msg("live capture opened")
	return newSource(opts.Device, handle, closerFunc(handle.Close), logger), nil
}

// OpenFile opens a pcap or pcapng file for replay. A non-empty bpf expression
// is compiled and applied to every record, since files carry no kernel filter.
func OpenFile(path, bpf string, logger zerolog.Logger) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture file: %w", err)
	}

	reader, err := newFileReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read capture file %s: %w", path, err)
	}

	src := newSource(path, reader, f, logger)
	if bpf != "" {
		filter, err := pcap.NewBPF(reader.LinkType(), 65536, bpf)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to compile BPF filter %q: %w", bpf, err)
		}
		src.filter = filter
	}
	logger.Info().Str("file", path).Str("bpf", bpf).Msg("capture file opened")
	return src, nil
}

// newFileReader detects pcapng by its section header magic and falls back to
// classic pcap.
func newFileReader(f *os.File) (packetReader, error) {
	br := bufio.NewReader(f)
	magic, err := br.Peek(4)
	if err != nil {
		return nil, err
	}
	if magic[0] == 0x0a && magic[1] == 0x0d && magic[2] == 0x0d && magic[3] == 0x0a {
		return pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
	}
	return pcapgo.NewReader(br)
}

func newSource(name string, reader packetReader, closer io.Closer, logger zerolog.Logger) *Source {
	return &Source{
		name:   name,
		reader: reader,
		closer: closer,
		logger: logger.With().Str("component", "capture").Str("source", name).Logger(),
	}
}

// Run reads frames until the source is exhausted, ctx is done or a read
// fails. Frames are decoded lazily, so decoding cost lands on whoever calls
// Layers. Read timeouts of live handles are not errors.
func (s *Source) Run(ctx context.Context, onFrame func(gopacket.Packet)) error {
	if s.closed.Load() {
		return ErrSourceClosed
	}
	decoder := s.reader.LinkType()
	opts := gopacket.DecodeOptions{Lazy: true, NoCopy: true}

	for {
		if ctx.Err() != nil {
			return nil
		}
		data, ci, err := s.reader.ReadPacketData()
		switch {
		case err == nil:
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			s.logger.Info().Uint64("frames", s.read.Load()).Msg("capture source exhausted")
			return nil
		case errors.Is(err, pcap.NextErrorTimeoutExpired):
			continue
		default:
			if s.closed.Load() {
				return nil
			}
			return fmt.Errorf("failed to read frame: %w", err)
		}

		if s.filter != nil && !s.filter.Matches(ci, data) {
			s.skipped.Add(1)
			continue
		}
		s.read.Add(1)

		packet := gopacket.NewPacket(data, decoder, opts)
		md := packet.Metadata()
		md.CaptureInfo = ci
		md.Truncated = md.Truncated || ci.CaptureLength < ci.Length
		onFrame(packet)
	}
}

// Frames returns the number of frames handed to the callback.
func (s *Source) Frames() uint64 { return s.read.Load() }

// Skipped returns the number of file records rejected by the BPF filter.
func (s *Source) Skipped() uint64 { return s.skipped.Load() }

// Name returns the device name or file path.
func (s *Source) Name() string { return s.name }

// Close releases the handle or file. It is safe to call more than once.
func (s *Source) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.closer.Close()
}

// RegisterDNSPorts routes UDP traffic on the given ports to the DNS decoder,
// in addition to port 53. It changes process-wide gopacket state and should
// be called once at startup.
func RegisterDNSPorts(ports []int) {
	for _, port := range ports {
		layers.RegisterUDPPortLayerType(layers.UDPPort(port), layers.LayerTypeDNS)
	}
}

type closerFunc func()

func (f closerFunc) Close() error {
	f()
	return nil
}
