package model

import (
	"github.com/google/gopacket/layers"
)

// DNSQuestion is a single entry of the question section.
type DNSQuestion struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Class string `json:"class"`
}

// DNSHeader is the read-only view of a decoded DNS message that the pipeline
// hands to sinks. Only the header flags and the question section are kept.
type DNSHeader struct {
	ID            uint16        `json:"id"`
	IsResponse    bool          `json:"is_response"`
	OpCode        string        `json:"opcode"`
	QuestionCount uint16        `json:"qdcount"`
	Questions     []DNSQuestion `json:"questions"`
}

// NewDNSHeader copies the header and question section out of a decoded
// gopacket DNS layer. The result does not reference the packet buffer.
func NewDNSHeader(dns *layers.DNS) *DNSHeader {
	if dns == nil {
		return nil
	}
	header := &DNSHeader{
		ID:            dns.ID,
		IsResponse:    dns.QR,
		OpCode:        dns.OpCode.String(),
		QuestionCount: dns.QDCount,
		Questions:     make([]DNSQuestion, 0, len(dns.Questions)),
	}
	for _, q := range dns.Questions {
		header.Questions = append(header.Questions, DNSQuestion{
			Name:  string(q.Name),
			Type:  q.Type.String(),
			Class: q.Class.String(),
		})
	}
	return header
}

// IsQuery reports whether the header belongs to a query (QR bit clear).
func (h *DNSHeader) IsQuery() bool {
	return h != nil && !h.IsResponse
}

// QueryNames returns the question names of a query in question order.
// Responses yield nil.
func (h *DNSHeader) QueryNames() []string {
	if !h.IsQuery() {
		return nil
	}
	names := make([]string, 0, len(h.Questions))
	for _, q := range h.Questions {
		names = append(names, q.Name)
	}
	return names
}
