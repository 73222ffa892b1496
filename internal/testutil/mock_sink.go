package testutil

import (
	"context"
	"sync"

	"github.com/InfraSecConsult/dnscap-go/lib/model"
)

// MockSink records every query name it is handed. Responses are ignored,
// like the real sinks do.
type MockSink struct {
	mu          sync.Mutex
	Names       []string
	Headers     int
	CloseCalled bool
	PanicOn     string
}

func (m *MockSink) Handle(ctx context.Context, header *model.DNSHeader) {
	for _, name := range header.QueryNames() {
		if m.PanicOn != "" && name == m.PanicOn {
			panic("mock sink failure on " + name)
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !header.IsQuery() {
		return
	}
	m.Headers++
	m.Names = append(m.Names, header.QueryNames()...)
}

func (m *MockSink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CloseCalled = true
	return nil
}

// Recorded returns a copy of the names seen so far.
func (m *MockSink) Recorded() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.Names...)
}

// MockProducer records Publish calls.
type MockProducer struct {
	mu          sync.Mutex
	Records     []ProducedRecord
	PublishErr  error
	CloseCalled bool
}

// ProducedRecord is one Publish call.
type ProducedRecord struct {
	Topic string
	Key   string
	Value string
}

func (m *MockProducer) Publish(ctx context.Context, topic string, key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Records = append(m.Records, ProducedRecord{Topic: topic, Key: string(key), Value: string(value)})
	return m.PublishErr
}

func (m *MockProducer) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CloseCalled = true
	return nil
}

// Produced returns a copy of the recorded calls.
func (m *MockProducer) Produced() []ProducedRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ProducedRecord(nil), m.Records...)
}
