package domain

import "time"

// Document is the generic key/value form every event payload and snapshot
// is serialized to. Values are primitives, strings, nested Documents or
// lists thereof, so a Document maps 1:1 onto a stored BSON/JSON document.
type Document map[string]any

// String returns the string value under key, or "" if absent.
func (d Document) String(key string) string {
	if v, ok := d[key].(string); ok {
		return v
	}
	return ""
}

// Int64 returns the numeric value under key, accepting the integer types
// the store drivers decode into.
func (d Document) Int64(key string) int64 {
	switch v := d[key].(type) {
	case int64:
		return v
	case int32:
		return int64(v)
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

// Bool returns the bool value under key, or false if absent.
func (d Document) Bool(key string) bool {
	if v, ok := d[key].(bool); ok {
		return v
	}
	return false
}

// Time returns the time value under key, or the zero time if absent.
// JSON-backed stores deliver times as RFC 3339 strings, which are parsed
// transparently.
func (d Document) Time(key string) time.Time {
	switch v := d[key].(type) {
	case time.Time:
		return v
	case string:
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return t
		}
	}
	return time.Time{}
}

// Document returns the nested document under key, or nil if absent.
func (d Document) Document(key string) Document {
	switch v := d[key].(type) {
	case Document:
		return v
	case map[string]any:
		return Document(v)
	}
	return nil
}

// List returns the list value under key, or nil if absent.
func (d Document) List(key string) []any {
	if v, ok := d[key].([]any); ok {
		return v
	}
	return nil
}

// Has reports whether key is present.
func (d Document) Has(key string) bool {
	_, ok := d[key]
	return ok
}

// Clone returns a shallow copy of the document.
func (d Document) Clone() Document {
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}
