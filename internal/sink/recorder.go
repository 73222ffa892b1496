package sink

import (
	"context"
	"time"

	"github.com/InfraSecConsult/dnscap-go/lib/helper"
	"github.com/InfraSecConsult/dnscap-go/lib/model"
)

// RecentQuery is one entry of the recent query log.
type RecentQuery struct {
	Name string    `json:"name"`
	Type string    `json:"type"`
	Seen time.Time `json:"seen"`
}

// Recorder remembers the most recent query names and forwards every header
// to the wrapped sink.
type Recorder struct {
	next   Sink
	recent *helper.RingBuffer[RecentQuery]
	now    func() time.Time
}

func NewRecorder(next Sink, size int) *Recorder {
	return &Recorder{
		next:   next,
		recent: helper.NewRingBuffer[RecentQuery](size),
		now:    time.Now,
	}
}

func (r *Recorder) Handle(ctx context.Context, header *model.DNSHeader) {
	if header.IsQuery() {
		seen := r.now()
		for _, q := range header.Questions {
			r.recent.Add(RecentQuery{Name: q.Name, Type: q.Type, Seen: seen})
		}
	}
	r.next.Handle(ctx, header)
}

// Recent returns the remembered queries, newest first.
func (r *Recorder) Recent() []RecentQuery {
	return r.recent.Newest()
}

func (r *Recorder) Close() error {
	return r.next.Close()
}
