package pipeline

import (
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/InfraSecConsult/dnscap-go/lib/model"
)

// Frame is one captured unit of network data: an ordered layer stack,
// outermost layer first. gopacket.Packet satisfies it.
type Frame interface {
	Layers() []gopacket.Layer
}

// Walker locates the DNS layer of a frame.
type Walker struct {
	maxDepth int
}

// NewWalker returns a walker that descends at most maxDepth layers below the
// outermost one.
func NewWalker(maxDepth int) *Walker {
	return &Walker{maxDepth: maxDepth}
}

// MaxDepth returns the descent limit.
func (w *Walker) MaxDepth() int {
	return w.maxDepth
}

// ExtractDNS searches the layer stack from the outside in and returns the
// header of the first DNS layer. Reaching the layer at index i takes i
// descents. A nil header with a nil error means the frame carries no DNS.
func (w *Walker) ExtractDNS(frame Frame) (*model.DNSHeader, error) {
	if frame == nil {
		return nil, nil
	}
	stack := frame.Layers()
	for depth, layer := range stack {
		if depth > w.maxDepth {
			return nil, fmt.Errorf("%w: %d layers, limit %d", ErrDepthExceeded, len(stack), w.maxDepth)
		}
		switch l := layer.(type) {
		case nil:
			return nil, nil
		case *layers.DNS:
			return model.NewDNSHeader(l), nil
		case *gopacket.DecodeFailure:
			return nil, fmt.Errorf("%w at depth %d: %v", ErrDecodeFailure, depth, l.Error())
		}
	}
	return nil, nil
}
