package metrics

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/InfraSecConsult/dnscap-go/internal/pipeline"
	"github.com/InfraSecConsult/dnscap-go/internal/sink"
)

func fixedStats() pipeline.Stats {
	return pipeline.Stats{
		Accepted:  10,
		Dropped:   2,
		Processed: 9,
		DNSFrames: 8,
		Queries:   7,
		Responses: 1,
		Faults:    1,
		QueueLen:  1,
		QueueCap:  1024,
		Workers:   4,
	}
}

func TestCollector(t *testing.T) {
	c := NewCollector(fixedStats)

	expected := `
# HELP dnscap_frames_dropped_total Frames dropped because the queue was full.
# TYPE dnscap_frames_dropped_total counter
dnscap_frames_dropped_total 2
# HELP dnscap_queries_total DNS questions forwarded to the sink.
# TYPE dnscap_queries_total counter
dnscap_queries_total 7
# HELP dnscap_queue_capacity Capacity of the queue.
# TYPE dnscap_queue_capacity gauge
dnscap_queue_capacity 1024
`
	err := promtestutil.CollectAndCompare(c, strings.NewReader(expected),
		"dnscap_frames_dropped_total", "dnscap_queries_total", "dnscap_queue_capacity")
	require.NoError(t, err)
	assert.Equal(t, 10, promtestutil.CollectAndCount(c))
}

func TestServer_Handler(t *testing.T) {
	recent := func() []sink.RecentQuery {
		return []sink.RecentQuery{{Name: "example.com", Type: "A", Seen: time.Unix(0, 0).UTC()}}
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(NewCollector(fixedStats))
	srv := NewServer(":0", reg, recent, zerolog.Nop())

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "dnscap_frames_accepted_total 10")

	resp, err = http.Get(ts.URL + "/recent")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	var got []sink.RecentQuery
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Len(t, got, 1)
	assert.Equal(t, "example.com", got[0].Name)
}

func TestServer_NoRecentRoute(t *testing.T) {
	srv := NewServer(":0", prometheus.NewRegistry(), nil, zerolog.Nop())
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/recent", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_RunStopsOnCancel(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	srv := NewServer(addr, NewRegistry(fixedStats), nil, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/metrics")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}
}
