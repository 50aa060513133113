// Package packet defines the wire unit exchanged between router daemons and
// the codec, forwarding, and validation rules shared by every routing
// engine.
//
// This corresponds to the original lab's protocols.py modules (one per
// engine variant) collapsed into a single shared schema.
package packet

import "errors"

// Engine tags. Used only for logging/diagnostics — never for dispatch.
const (
	ProtoFlooding = "flooding"
	ProtoDijkstra = "dijkstra"
	ProtoLSR      = "lsr"
)

// Packet types.
const (
	TypeHello   = "hello"
	TypeMessage = "message"
	TypeLSP     = "lsp"
	TypeInfo    = "info"
	TypeEcho    = "echo"
)

// Broadcast is the literal destination id meaning "every neighbor."
const Broadcast = "broadcast"

// MaxHeaders is the bounded trail length carried by every packet.
const MaxHeaders = 3

// ErrInvalidPacket is returned by Sanitize when raw input cannot be turned
// into a well-formed Packet.
var ErrInvalidPacket = errors.New("packet: invalid packet")

// Packet is the wire unit every router daemon exchanges over the bus.
type Packet struct {
	Proto   string   `json:"proto"`
	Type    string   `json:"type"`
	From    string   `json:"from"`
	To      string   `json:"to"`
	TTL     int      `json:"ttl"`
	Headers []string `json:"headers"`
	Payload any      `json:"payload"`
	MsgID   string   `json:"msg_id"`
}

// Clone returns a copy of p. Headers are copied so mutating the clone's
// trail never aliases the original; Payload is not copied and stays shared — mirrors the teacher's
// core/codec.Packet.Clone, which exists for the same reason (the router
// dispatches the original to the app before mutating a forwarding copy).
func (p *Packet) Clone() *Packet {
	clone := *p
	if p.Headers != nil {
		clone.Headers = make([]string, len(p.Headers))
		copy(clone.Headers, p.Headers)
	}
	return &clone
}

// LastHeader returns the most recent entry in the trail — the previous hop
// for a packet received off the bus — or "" if the trail is empty.
func (p *Packet) LastHeader() string {
	if len(p.Headers) == 0 {
		return ""
	}
	return p.Headers[len(p.Headers)-1]
}

// HasHeader reports whether id appears anywhere in the packet's trail.
func (p *Packet) HasHeader(id string) bool {
	for _, h := range p.Headers {
		if h == id {
			return true
		}
	}
	return false
}

// rotateHeaders applies the trail rotation rule: drop the first element
// (if any), append self, then keep only the last MaxHeaders entries.
func rotateHeaders(headers []string, self string) []string {
	next := headers
	if len(next) > 0 {
		next = next[1:]
	}
	next = append(append([]string{}, next...), self)
	if len(next) > MaxHeaders {
		next = next[len(next)-MaxHeaders:]
	}
	return next
}
