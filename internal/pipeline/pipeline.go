package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/InfraSecConsult/dnscap-go/lib/model"
)

const (
	// DefaultQueueCapacity is the queue size used when none is configured.
	DefaultQueueCapacity = 1024
	// DefaultMaxEncapsulationDepth bounds the layer walk when none is configured.
	DefaultMaxEncapsulationDepth = 10
	maxDefaultWorkers            = 8
)

// Handler receives the header of every DNS query frame. Implementations are
// shared by all workers and must be safe for concurrent use.
type Handler interface {
	Handle(ctx context.Context, header *model.DNSHeader)
}

// Config holds the pipeline settings. It is copied by New and not modified
// afterwards.
type Config struct {
	QueueCapacity         int
	DropOnFull            bool
	Workers               int // <= 0 selects DefaultWorkers()
	MaxEncapsulationDepth int
}

// DefaultConfig mirrors the capture defaults: 1024 frames, drop when full,
// one worker per CPU up to eight, ten layers deep.
func DefaultConfig() Config {
	return Config{
		QueueCapacity:         DefaultQueueCapacity,
		DropOnFull:            true,
		MaxEncapsulationDepth: DefaultMaxEncapsulationDepth,
	}
}

// DefaultWorkers returns min(8, number of CPUs).
func DefaultWorkers() int {
	return min(maxDefaultWorkers, runtime.NumCPU())
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.QueueCapacity < 1 {
		return fmt.Errorf("%w: queue capacity must be positive, got %d", ErrInvalidConfig, c.QueueCapacity)
	}
	if c.MaxEncapsulationDepth < 1 {
		return fmt.Errorf("%w: max encapsulation depth must be positive, got %d", ErrInvalidConfig, c.MaxEncapsulationDepth)
	}
	return nil
}

// Stats is a point-in-time snapshot of the pipeline counters.
type Stats struct {
	Accepted  uint64 `json:"accepted"`
	Dropped   uint64 `json:"dropped"`
	Processed uint64 `json:"processed"`
	DNSFrames uint64 `json:"dns_frames"`
	Queries   uint64 `json:"queries"`
	Responses uint64 `json:"responses"`
	Faults    uint64 `json:"faults"`
	QueueLen  int    `json:"queue_len"`
	QueueCap  int    `json:"queue_cap"`
	Workers   int    `json:"workers"`
}

// Pipeline moves captured frames through the queue to a fixed set of
// workers, which extract DNS queries and pass them to the handler.
type Pipeline struct {
	cfg      Config
	queue    *Queue
	walker   *Walker
	handler  Handler
	logger   zerolog.Logger
	faultLog zerolog.Logger

	processed atomic.Uint64
	completed atomic.Uint64
	dnsFrames atomic.Uint64
	queries   atomic.Uint64
	responses atomic.Uint64
	faults    atomic.Uint64

	started atomic.Bool
	wg      sync.WaitGroup
}

// New builds a pipeline. It fails on an invalid configuration or a missing
// handler; nothing is started until Start is called.
func New(cfg Config, handler Handler, logger zerolog.Logger) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if handler == nil {
		return nil, fmt.Errorf("%w: no sink configured", ErrInvalidConfig)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers()
	}

	logger = logger.With().Str("component", "pipeline").Logger()
	return &Pipeline{
		cfg:      cfg,
		queue:    NewQueue(cfg.QueueCapacity, cfg.DropOnFull),
		walker:   NewWalker(cfg.MaxEncapsulationDepth),
		handler:  handler,
		logger:   logger,
		faultLog: logger.Sample(&zerolog.BurstSampler{Burst: 20, Period: time.Second}),
	}, nil
}

// Config returns the effective configuration.
func (p *Pipeline) Config() Config {
	return p.cfg
}

// Submit is the capture driver's per-frame entry point.
func (p *Pipeline) Submit(ctx context.Context, frame Frame) bool {
	return p.queue.Submit(ctx, frame)
}

// Start launches the workers. They run until ctx is cancelled. Calling
// Start more than once has no effect.
func (p *Pipeline) Start(ctx context.Context) {
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	p.logger.Info().
		Int("workers", p.cfg.Workers).
		Int("queue_capacity", p.cfg.QueueCapacity).
		Bool("drop_on_full", p.queue.DropOnFull()).
		Int("max_depth", p.walker.MaxDepth()).
		Msg("starting pipeline workers")

	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

// Wait blocks until all workers have returned.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// Drain blocks until every accepted frame has been processed or ctx is done.
func (p *Pipeline) Drain(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		if p.completed.Load() >= p.queue.Accepted() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Stats returns a snapshot of the counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Accepted:  p.queue.Accepted(),
		Dropped:   p.queue.Dropped(),
		Processed: p.processed.Load(),
		DNSFrames: p.dnsFrames.Load(),
		Queries:   p.queries.Load(),
		Responses: p.responses.Load(),
		Faults:    p.faults.Load(),
		QueueLen:  p.queue.Len(),
		QueueCap:  p.queue.Cap(),
		Workers:   p.cfg.Workers,
	}
}

// ReportEvery logs the counters at the given interval until ctx is done.
func (p *Pipeline) ReportEvery(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.logStats("pipeline stats")
		}
	}
}

func (p *Pipeline) logStats(msg string) {
	s := p.Stats()
	p.logger.Info().
		Uint64("accepted", s.Accepted).
		Uint64("dropped", s.Dropped).
		Uint64("processed", s.Processed).
		Uint64("queries", s.Queries).
		Uint64("faults", s.Faults).
		Int("queue_len", s.QueueLen).
		Msg(msg)
}

// LogFinalStats writes one last stats record, used at shutdown.
func (p *Pipeline) LogFinalStats() {
	p.logStats("pipeline stopped")
}

func (p *Pipeline) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	logger := p.logger.With().Int("worker", id).Logger()
	logger.Debug().Msg("worker started")

	for {
		frame, ok := p.queue.Take(ctx)
		if !ok {
			logger.Debug().Msg("worker stopped")
			return
		}
		seq := p.processed.Add(1)
		if err := p.process(ctx, id, seq, frame); err != nil {
			p.faults.Add(1)
			event := p.faultLog.Warn().Err(err).Int("worker", id).Uint64("seq", seq)
			var fe *FrameError
			if errors.As(err, &fe) {
				event = event.Fields(fe.FrameInfo())
			}
			event.Msg("frame processing failed")
		}
		p.completed.Add(1)
	}
}

// process runs one frame through the walker and the handler. Panics from
// the decoder or the handler are turned into a FrameError.
func (p *Pipeline) process(ctx context.Context, worker int, seq uint64, frame Frame) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &FrameError{
				Worker:    worker,
				Seq:       seq,
				Err:       fmt.Errorf("%w: %v", ErrWorkerPanic, r),
				Timestamp: time.Now(),
				Frame:     frame,
			}
		}
	}()

	header, err := p.walker.ExtractDNS(frame)
	if err != nil {
		return &FrameError{Worker: worker, Seq: seq, Err: err, Timestamp: time.Now(), Frame: frame}
	}
	if header == nil {
		return nil
	}

	p.dnsFrames.Add(1)
	if header.IsResponse {
		p.responses.Add(1)
		return nil
	}

	p.queries.Add(uint64(len(header.Questions)))
	if e := p.logger.Debug(); e.Enabled() {
		e.Int("worker", worker).
			Uint64("seq", seq).
			Uint16("qdcount", header.QuestionCount).
			Strs("qnames", header.QueryNames()).
			Msg("dns query")
	}
	p.handler.Handle(ctx, header)
	return nil
}
