package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/gopacket"
)

var (
	// ErrInvalidConfig is returned by New when the pipeline configuration is unusable.
	ErrInvalidConfig = errors.New("invalid pipeline config")
	// ErrDepthExceeded means the layer stack is deeper than the walker may descend.
	ErrDepthExceeded = errors.New("encapsulation depth exceeded")
	// ErrDecodeFailure means the decoder gave up on a layer before a DNS layer was found.
	ErrDecodeFailure = errors.New("layer decode failure")
	// ErrWorkerPanic wraps a panic recovered while a worker processed a frame.
	ErrWorkerPanic = errors.New("panic while processing frame")
)

// FrameError describes a failure to process a single frame. Frame errors
// are always recovered inside the worker.
type FrameError struct {
	Worker    int       // index of the worker that processed the frame
	Seq       uint64    // pipeline-wide processing sequence number
	Err       error     // the underlying error
	Timestamp time.Time // when the error occurred
	Frame     Frame     // the frame that caused the error (may be nil)
}

// Error implements the error interface
func (e *FrameError) Error() string {
	return fmt.Sprintf("frame %d on worker %d: %s", e.Seq, e.Worker, e.Err.Error())
}

// Unwrap returns the underlying error for error unwrapping
func (e *FrameError) Unwrap() error {
	return e.Err
}

// FrameInfo returns capture metadata of the offending frame for logging.
func (e *FrameError) FrameInfo() map[string]interface{} {
	info := make(map[string]interface{})
	packet, ok := e.Frame.(gopacket.Packet)
	if !ok {
		return info
	}
	metadata := packet.Metadata()
	if metadata == nil {
		return info
	}
	info["timestamp"] = metadata.Timestamp
	info["length"] = metadata.Length
	info["truncated"] = metadata.Truncated
	info["interface_index"] = metadata.InterfaceIndex
	return info
}
