package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/InfraSecConsult/dnscap-go/internal/capture"
	"github.com/InfraSecConsult/dnscap-go/internal/config"
	"github.com/InfraSecConsult/dnscap-go/internal/sink"
	"github.com/InfraSecConsult/dnscap-go/internal/testutil"
	"github.com/InfraSecConsult/dnscap-go/internal/version"
)

func execute(t *testing.T, provider *DependencyProvider, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	provider.Stdout = &stdout
	provider.Stderr = &stderr

	cmd := newRootCmd(provider)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), err
}

func fixturePCAP(t *testing.T) string {
	return testutil.WritePCAP(t,
		testutil.QueryFrame(t, "example.com"),
		testutil.ResponseFrame(t, "example.com"),
		testutil.QueryFrame(t, "example.org"),
	)
}

func TestReplayCommand_PrintsQueries(t *testing.T) {
	out, err := execute(t, &DependencyProvider{}, "replay", fixturePCAP(t), "--workers", "1", "--log-level", "warn")
	require.NoError(t, err)
	assert.Equal(t, "example.com\nexample.org\n", out)
}

func TestReplayCommand_InjectedSink(t *testing.T) {
	mockSink := &testutil.MockSink{}
	_, err := execute(t, &DependencyProvider{Sink: mockSink}, "replay", fixturePCAP(t))
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"example.com", "example.org"}, mockSink.Recorded())
	assert.True(t, mockSink.CloseCalled)
}

func TestReplayCommand_NoDropsBeyondQueueCapacity(t *testing.T) {
	t.Setenv("DNSCAP_PIPELINE__QUEUE_CAPACITY", "1")
	t.Setenv("DNSCAP_PIPELINE__DROP_ON_FULL", "true")

	const total = 500
	frame := testutil.QueryFrame(t, "bulk.example")
	frames := make([][]byte, total)
	for i := range frames {
		frames[i] = frame
	}

	mockSink := &testutil.MockSink{}
	_, err := execute(t, &DependencyProvider{Sink: mockSink}, "replay", testutil.WritePCAP(t, frames...), "--workers", "1")
	require.NoError(t, err)
	assert.Len(t, mockSink.Recorded(), total)
}

func TestReplayCommand_MissingFile(t *testing.T) {
	_, err := execute(t, &DependencyProvider{}, "replay", filepath.Join(t.TempDir(), "missing.pcap"))
	assert.Error(t, err)
}

func TestRunCommand_NoDevice(t *testing.T) {
	_, err := execute(t, &DependencyProvider{}, "run")
	assert.ErrorIs(t, err, capture.ErrNoDevice)
}

func TestRunCommand_LiveOptionsFromConfig(t *testing.T) {
	errOpen := errors.New("no permission")
	var got capture.LiveOptions
	provider := &DependencyProvider{
		OpenLive: func(opts capture.LiveOptions, _ zerolog.Logger) (*capture.Source, error) {
			got = opts
			return nil, errOpen
		},
	}

	_, err := execute(t, provider, "run", "-i", "eth7", "--bpf", "udp")
	assert.ErrorIs(t, err, errOpen)
	assert.Equal(t, capture.LiveOptions{
		Device:      "eth7",
		Snaplen:     65536,
		Promiscuous: true,
		Timeout:     10 * time.Millisecond,
		BPF:         "udp",
	}, got)
}

func TestRunCommand_ConfigErrorBeforeCapture(t *testing.T) {
	opened := false
	provider := &DependencyProvider{
		OpenLive: func(capture.LiveOptions, zerolog.Logger) (*capture.Source, error) {
			opened = true
			return nil, errors.New("unexpected")
		},
	}

	_, err := execute(t, provider, "run", "-i", "eth0", "--sink", "kafka")
	assert.ErrorIs(t, err, config.ErrValidation)
	assert.False(t, opened)
}

func TestRunCommand_SinkErrorBeforeCapture(t *testing.T) {
	opened := false
	provider := &DependencyProvider{
		OpenLive: func(capture.LiveOptions, zerolog.Logger) (*capture.Source, error) {
			opened = true
			return nil, errors.New("unexpected")
		},
	}
	t.Setenv("DNSCAP_SINK__NATS__URL", "nats://127.0.0.1:1")
	t.Setenv("DNSCAP_SINK__NATS__SUBJECT", "dns.queries")

	_, err := execute(t, provider, "run", "-i", "eth0", "--sink", "nats")
	assert.ErrorContains(t, err, "failed to connect to NATS")
	assert.False(t, opened)
}

func TestRunCommand_ReplaysConfiguredFile(t *testing.T) {
	pcapPath := fixturePCAP(t)
	cfgPath := filepath.Join(t.TempDir(), "dnscap.properties")
	content := "pcap.file = " + pcapPath + "\npipeline.workers = 1\nlog.level = warn\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0o600))

	out, err := execute(t, &DependencyProvider{}, "run", "-c", cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "example.com\nexample.org\n", out)
}

func TestInterfacesCommand(t *testing.T) {
	provider := &DependencyProvider{
		ListInterfaces: func() ([]capture.Interface, error) {
			return []capture.Interface{
				{Name: "eth0", Description: "Ethernet", Addresses: []string{"10.0.0.10", "fe80::1"}},
				{Name: "lo"},
			}, nil
		},
	}

	out, err := execute(t, provider, "interfaces")
	require.NoError(t, err)
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "eth0")
	assert.Contains(t, out, "10.0.0.10,fe80::1")
	assert.Contains(t, out, "lo")
}

func TestVersionCommand_JSON(t *testing.T) {
	orig := version.Version
	version.Version = "v9.9.9"
	defer func() { version.Version = orig }()

	out, err := execute(t, &DependencyProvider{}, "version", "--json")
	require.NoError(t, err)

	var info version.Info
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, "v9.9.9", info.Version)
}

func TestBuildSink(t *testing.T) {
	provider := (&DependencyProvider{Stdout: &bytes.Buffer{}}).withDefaults()

	s, err := buildSink(config.SinkConfig{Type: config.SinkConsole}, provider, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &sink.ConsoleSink{}, s)

	_, err = buildSink(config.SinkConfig{Type: "carrier-pigeon"}, provider, zerolog.Nop())
	assert.ErrorIs(t, err, sink.ErrUnknownSink)
}
