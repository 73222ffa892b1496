package pipeline

import (
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/InfraSecConsult/dnscap-go/internal/testutil"
)

var layerTypeTunnel = gopacket.RegisterLayerType(9301, gopacket.LayerTypeMetadata{Name: "TestTunnel"})

// tunnelLayer stands in for any encapsulation header.
type tunnelLayer struct{}

func (tunnelLayer) LayerType() gopacket.LayerType { return layerTypeTunnel }
func (tunnelLayer) LayerContents() []byte         { return nil }
func (tunnelLayer) LayerPayload() []byte          { return nil }

// layerStack is a frame with a hand-built layer stack.
type layerStack []gopacket.Layer

func (s layerStack) Layers() []gopacket.Layer { return s }

func dnsLayer(t *testing.T, response bool, names ...string) *layers.DNS {
	t.Helper()
	d := &layers.DNS{}
	require.NoError(t, d.DecodeFromBytes(testutil.DNSPayload(t, response, names...), gopacket.NilDecodeFeedback))
	return d
}

// tunnelled returns n tunnel layers followed by the given DNS layer.
func tunnelled(n int, d *layers.DNS) layerStack {
	stack := make(layerStack, 0, n+1)
	for i := 0; i < n; i++ {
		stack = append(stack, tunnelLayer{})
	}
	return append(stack, d)
}

func TestWalker_PlainQuery(t *testing.T) {
	frame := testutil.Decode(testutil.QueryFrame(t, "example.com"))
	require.Len(t, frame.Layers(), 4)

	header, err := NewWalker(DefaultMaxEncapsulationDepth).ExtractDNS(frame)
	require.NoError(t, err)
	require.NotNil(t, header)
	assert.False(t, header.IsResponse)
	assert.Equal(t, []string{"example.com"}, header.QueryNames())
}

func TestWalker_VLANTagged(t *testing.T) {
	tests := []struct {
		name  string
		vlans []uint16
	}{
		{name: "single tag", vlans: []uint16{100}},
		{name: "QinQ", vlans: []uint16{100, 200}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := testutil.UDPFrame(t, testutil.DNSPayload(t, false, "vlan.example"), 40000, 53, tt.vlans...)
			frame := testutil.Decode(raw)

			header, err := NewWalker(DefaultMaxEncapsulationDepth).ExtractDNS(frame)
			require.NoError(t, err)
			require.NotNil(t, header)
			assert.Equal(t, []string{"vlan.example"}, header.QueryNames())
		})
	}
}

func TestWalker_Depth(t *testing.T) {
	tests := []struct {
		name     string
		tunnels  int
		maxDepth int
		wantErr  error
	}{
		{name: "dns at index 3", tunnels: 3, maxDepth: 10},
		{name: "dns at the limit", tunnels: 10, maxDepth: 10},
		{name: "dns one below the limit", tunnels: 11, maxDepth: 10, wantErr: ErrDepthExceeded},
		{name: "tight limit", tunnels: 2, maxDepth: 1, wantErr: ErrDepthExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame := tunnelled(tt.tunnels, dnsLayer(t, false, "deep.example"))
			w := NewWalker(tt.maxDepth)
			require.Equal(t, tt.maxDepth, w.MaxDepth())
			header, err := w.ExtractDNS(frame)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, header)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, header)
			assert.Equal(t, []string{"deep.example"}, header.QueryNames())
		})
	}
}

func TestWalker_NoDNS(t *testing.T) {
	w := NewWalker(DefaultMaxEncapsulationDepth)

	t.Run("non dns udp", func(t *testing.T) {
		frame := testutil.Decode(testutil.UDPFrame(t, []byte("hello"), 40000, 9999))
		header, err := w.ExtractDNS(frame)
		assert.NoError(t, err)
		assert.Nil(t, header)
	})

	t.Run("empty stack", func(t *testing.T) {
		header, err := w.ExtractDNS(layerStack{})
		assert.NoError(t, err)
		assert.Nil(t, header)
	})

	t.Run("nil frame", func(t *testing.T) {
		header, err := w.ExtractDNS(nil)
		assert.NoError(t, err)
		assert.Nil(t, header)
	})

	t.Run("nil layer ends the walk", func(t *testing.T) {
		stack := layerStack{tunnelLayer{}, nil, dnsLayer(t, false, "hidden.example")}
		header, err := w.ExtractDNS(stack)
		assert.NoError(t, err)
		assert.Nil(t, header)
	})
}

func TestWalker_DecodeFailure(t *testing.T) {
	frame := testutil.Decode(testutil.UDPFrame(t, []byte{0x01, 0x02, 0x03}, 40000, 53))
	require.NotNil(t, frame.ErrorLayer(), "short DNS payload should not decode")

	header, err := NewWalker(DefaultMaxEncapsulationDepth).ExtractDNS(frame)
	assert.ErrorIs(t, err, ErrDecodeFailure)
	assert.Nil(t, header)
}

func TestWalker_Response(t *testing.T) {
	frame := testutil.Decode(testutil.ResponseFrame(t, "example.com"))
	header, err := NewWalker(DefaultMaxEncapsulationDepth).ExtractDNS(frame)
	require.NoError(t, err)
	require.NotNil(t, header)
	assert.True(t, header.IsResponse)
	assert.Nil(t, header.QueryNames())
}
