package packet

import (
	"fmt"

	"github.com/google/uuid"
)

// Build produces a packet with a fresh msg_id. If headers is nil, it is
// initialized to [from].
func Build(proto, typ, from, to string, ttl int, payload any, headers []string) *Packet {
	if headers == nil {
		headers = []string{from}
	}
	if payload == nil {
		payload = map[string]any{}
	}
	return &Packet{
		Proto:   proto,
		Type:    typ,
		From:    from,
		To:      to,
		TTL:     ttl,
		Headers: headers,
		Payload: payload,
		MsgID:   uuid.NewString(),
	}
}

// Sanitize normalizes a raw decoded JSON value (typically the
// map[string]any produced by decoding a bus message) into a canonical
// Packet. It accepts the legacy object-form headers variant and fills in
// a generated msg_id / empty payload / empty headers when those are
// absent.
func Sanitize(raw any) (*Packet, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: not a mapping", ErrInvalidPacket)
	}

	proto, err := requiredString(m, "proto")
	if err != nil {
		return nil, err
	}
	typ, err := requiredString(m, "type")
	if err != nil {
		return nil, err
	}
	from, err := requiredString(m, "from")
	if err != nil {
		return nil, err
	}
	to, err := requiredString(m, "to")
	if err != nil {
		return nil, err
	}

	ttlRaw, ok := m["ttl"]
	if !ok {
		return nil, fmt.Errorf("%w: missing ttl", ErrInvalidPacket)
	}
	ttl, err := toIntegralTTL(ttlRaw)
	if err != nil {
		return nil, err
	}

	headers, err := normalizeHeaders(m["headers"])
	if err != nil {
		return nil, err
	}

	payload, ok := m["payload"]
	if !ok || payload == nil {
		payload = map[string]any{}
	}

	msgID, _ := m["msg_id"].(string)
	if msgID == "" {
		msgID = uuid.NewString()
	}

	return &Packet{
		Proto:   proto,
		Type:    typ,
		From:    from,
		To:      to,
		TTL:     ttl,
		Headers: headers,
		Payload: payload,
		MsgID:   msgID,
	}, nil
}

// requiredString normalizes m[key] to a string: any present, non-nil
// value is accepted and stringified; a missing key is an error.
func requiredString(m map[string]any, key string) (string, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return "", fmt.Errorf("%w: missing %s", ErrInvalidPacket, key)
	}
	if s, ok := v.(string); ok {
		return s, nil
	}
	return fmt.Sprint(v), nil
}

// toIntegralTTL accepts int, int64, and the float64 that encoding/json
// produces, and rejects a float64 with a fractional part. Any other type,
// including a json.Number from a decoder using UseNumber, is rejected.
func toIntegralTTL(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != float64(int(n)) {
			return 0, fmt.Errorf("%w: ttl is not integral", ErrInvalidPacket)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("%w: ttl is not integral", ErrInvalidPacket)
	}
}

// normalizeHeaders normalizes the headers field: a missing headers field
// defaults to an empty trail; a sequence is stringified and truncated to
// the last MaxHeaders entries; a legacy mapping variant is unpacked via
// its "trail"/"path"/"last_hop" keys; anything else is invalid.
func normalizeHeaders(v any) ([]string, error) {
	if v == nil {
		return []string{}, nil
	}

	switch h := v.(type) {
	case []any:
		out := make([]string, 0, len(h))
		for _, e := range h {
			out = append(out, fmt.Sprint(e))
		}
		return truncateHeaders(out), nil

	case []string:
		return truncateHeaders(append([]string{}, h...)), nil

	case map[string]any:
		if trail, ok := h["trail"]; ok {
			return normalizeHeaders(trail)
		}
		if path, ok := h["path"]; ok {
			return normalizeHeaders(path)
		}
		if lastHop, ok := h["last_hop"]; ok && lastHop != nil {
			return []string{fmt.Sprint(lastHop)}, nil
		}
		return []string{}, nil

	default:
		return nil, fmt.Errorf("%w: headers is neither a sequence nor a mapping", ErrInvalidPacket)
	}
}

func truncateHeaders(h []string) []string {
	if len(h) > MaxHeaders {
		return h[len(h)-MaxHeaders:]
	}
	return h
}

// ForwardTransform applies the forwarding discipline shared by every
// engine: decrement TTL, rotate the header trail, and report a cycle by
// returning nil. selfID's presence in the packet's trail BEFORE rotation
// is what defines a cycle — not the rotated trail.
func ForwardTransform(pkt *Packet, selfID string) *Packet {
	if pkt.HasHeader(selfID) {
		return nil
	}
	newTTL := pkt.TTL - 1
	if newTTL <= 0 {
		return nil
	}

	fwd := pkt.Clone()
	fwd.TTL = newTTL
	fwd.Headers = rotateHeaders(pkt.Headers, selfID)
	return fwd
}
