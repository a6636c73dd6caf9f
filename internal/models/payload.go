package models

// Payload is a free-form, per-service document (form answers, appointment
// linkage, serving window). The scheduler never interprets its keys beyond
// the few it writes itself.
type Payload map[string]any

func (p Payload) String(key string) string {
	if p == nil {
		return ""
	}
	if value, ok := p[key].(string); ok {
		return value
	}
	return ""
}

// Clone returns a shallow copy so callers can add keys without mutating a
// payload owned by another record.
func (p Payload) Clone() Payload {
	out := make(Payload, len(p)+4)
	for k, v := range p {
		out[k] = v
	}
	return out
}
