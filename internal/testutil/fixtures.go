package testutil

import (
	"bytes"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

var (
	clientMAC = net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	serverMAC = net.HardwareAddr{0x66, 0x77, 0x88, 0x99, 0xaa, 0xbb}
	clientIP  = net.IP{10, 0, 0, 10}
	serverIP  = net.IP{10, 0, 0, 53}
)

// DNSPayload packs a DNS message with one A question per name.
func DNSPayload(t testing.TB, response bool, names ...string) []byte {
	t.Helper()
	msg := new(dns.Msg)
	msg.Id = dns.Id()
	msg.Response = response
	msg.RecursionDesired = true
	for _, name := range names {
		msg.Question = append(msg.Question, dns.Question{
			Name:   dns.Fqdn(name),
			Qtype:  dns.TypeA,
			Qclass: dns.ClassINET,
		})
	}
	payload, err := msg.Pack()
	require.NoError(t, err, "failed to pack DNS message")
	return payload
}

// UDPFrame serializes Ethernet/IPv4/UDP around payload. When vlans is
// non-empty the frame carries one 802.1Q tag per entry, outermost first.
func UDPFrame(t testing.TB, payload []byte, srcPort, dstPort uint16, vlans ...uint16) []byte {
	t.Helper()
	stack := make([]gopacket.SerializableLayer, 0, 4+len(vlans))

	eth := &layers.Ethernet{
		SrcMAC:       clientMAC,
		DstMAC:       serverMAC,
		EthernetType: layers.EthernetTypeIPv4,
	}
	if len(vlans) > 0 {
		eth.EthernetType = layers.EthernetTypeDot1Q
	}
	stack = append(stack, eth)

	for i, id := range vlans {
		tag := &layers.Dot1Q{VLANIdentifier: id, Type: layers.EthernetTypeIPv4}
		if i < len(vlans)-1 {
			tag.Type = layers.EthernetTypeDot1Q
		}
		stack = append(stack, tag)
	}

	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    clientIP,
		DstIP:    serverIP,
	}
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(srcPort),
		DstPort: layers.UDPPort(dstPort),
	}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))
	stack = append(stack, ip, udp, gopacket.Payload(payload))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, stack...))
	return buf.Bytes()
}

// QueryFrame is an Ethernet/IPv4/UDP/DNS query to port 53.
func QueryFrame(t testing.TB, names ...string) []byte {
	return UDPFrame(t, DNSPayload(t, false, names...), 40000, 53)
}

// ResponseFrame is an Ethernet/IPv4/UDP/DNS response from port 53.
func ResponseFrame(t testing.TB, names ...string) []byte {
	return UDPFrame(t, DNSPayload(t, true, names...), 53, 40000)
}

// Decode decodes raw Ethernet bytes into a packet.
func Decode(data []byte) gopacket.Packet {
	return gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.Default)
}

// WritePCAP writes the frames into a pcap file in a temp dir and returns its path.
func WritePCAP(t testing.TB, frames ...[]byte) string {
	t.Helper()
	buf := &bytes.Buffer{}
	w := pcapgo.NewWriter(buf)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))

	timestamp := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	for i, frame := range frames {
		ci := gopacket.CaptureInfo{
			Timestamp:     timestamp.Add(time.Duration(i) * time.Millisecond),
			CaptureLength: len(frame),
			Length:        len(frame),
		}
		require.NoError(t, w.WritePacket(ci, frame))
	}

	path := filepath.Join(t.TempDir(), "capture.pcap")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}
