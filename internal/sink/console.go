package sink

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"github.com/InfraSecConsult/dnscap-go/lib/model"
)

// ConsoleSink prints one query name per line and logs it.
type ConsoleSink struct {
	mu     sync.Mutex
	out    io.Writer
	logger zerolog.Logger
}

// NewConsoleSink writes names to out, which is normally stdout.
func NewConsoleSink(out io.Writer, logger zerolog.Logger) *ConsoleSink {
	return &ConsoleSink{
		out:    out,
		logger: logger.With().Str("component", "sink").Str("sink", "console").Logger(),
	}
}

func (s *ConsoleSink) Handle(ctx context.Context, header *model.DNSHeader) {
	if !header.IsQuery() {
		return
	}
	for _, q := range header.Questions {
		s.mu.Lock()
		_, err := fmt.Fprintln(s.out, q.Name)
		s.mu.Unlock()
		if err != nil {
			s.logger.Warn().Err(err).Str("qname", q.Name).Msg("failed to write query name")
			continue
		}
		s.logger.Info().
			Str("qname", q.Name).
			Str("qtype", q.Type).
			Uint16("qdcount", header.QuestionCount).
			Msg("dns query")
	}
}

func (s *ConsoleSink) Close() error {
	return nil
}
