// Package sink delivers extracted DNS query names to their destination.
package sink

import (
	"context"
	"errors"

	"github.com/InfraSecConsult/dnscap-go/lib/model"
)

// ErrUnknownSink is returned when a sink type is not supported.
var ErrUnknownSink = errors.New("unknown sink type")

// Sink receives the header of each DNS query frame. Responses are ignored,
// and every question of a query yields one delivery, in question order.
// Implementations are shared by all workers and must be safe for concurrent use.
type Sink interface {
	Handle(ctx context.Context, header *model.DNSHeader)
	Close() error
}

// Producer publishes a keyed record to a named topic of a streaming system.
type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
	Close() error
}
