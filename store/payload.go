package store

import "encoding/json"

// Reserved payload field names. The store interprets these and nothing else;
// the names match what the protocol engine emits.
const (
	FieldGrantID  = "grantId"
	FieldUserCode = "userCode"
	FieldUID      = "uid"
	FieldConsumed = "consumed"
)

// Payload is the opaque structured value the protocol engine stores with an
// artifact. The store treats it as inert apart from the reserved fields,
// which preserves forward compatibility with engine-defined fields the store
// does not know about.
type Payload map[string]any

// GrantID returns the grant identifier linking artifacts issued under one
// authorization grant, or "" if the payload carries none.
func (p Payload) GrantID() string {
	return p.stringField(FieldGrantID)
}

// UserCode returns the alternate device-flow lookup key, or "".
func (p Payload) UserCode() string {
	return p.stringField(FieldUserCode)
}

// UID returns the alternate session lookup key, or "".
func (p Payload) UID() string {
	return p.stringField(FieldUID)
}

// Consumed returns the consumption timestamp (unix seconds) and whether the
// artifact has been consumed. Numeric representations vary by decoder, so
// all of them are accepted.
func (p Payload) Consumed() (int64, bool) {
	switch v := p[FieldConsumed].(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// IsConsumed reports whether the consumed timestamp has been set.
func (p Payload) IsConsumed() bool {
	_, ok := p.Consumed()
	return ok
}

func (p Payload) stringField(name string) string {
	if v, ok := p[name].(string); ok {
		return v
	}
	return ""
}
