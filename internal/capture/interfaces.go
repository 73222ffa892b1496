package capture

import (
	"fmt"

	"github.com/google/gopacket/pcap"
)

// Interface describes a capture device.
type Interface struct {
	Name        string
	Description string
	Addresses   []string
}

// ListInterfaces returns the devices libpcap can capture on.
func ListInterfaces() ([]Interface, error) {
	devs, err := pcap.FindAllDevs()
	if err != nil {
		return nil, fmt.Errorf("failed to list capture devices: %w", err)
	}
	out := make([]Interface, 0, len(devs))
	for _, dev := range devs {
		iface := Interface{Name: dev.Name, Description: dev.Description}
		for _, addr := range dev.Addresses {
			iface.Addresses = append(iface.Addresses, addr.IP.String())
		}
		out = append(out, iface)
	}
	return out, nil
}
