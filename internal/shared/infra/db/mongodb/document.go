package mongodb

import (
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	esDomain "github.com/bennyboer/kicherkrabbe-sub008/internal/es/domain"
)

// ToDocument converts a decoded BSON document into the generic document
// form, flattening the driver's primitive types so payloads round-trip
// identically across store adapters.
func ToDocument(m bson.M) esDomain.Document {
	out := make(esDomain.Document, len(m))
	for k, v := range m {
		out[k] = normalize(v)
	}
	return out
}

func normalize(v any) any {
	switch t := v.(type) {
	case bson.M:
		return ToDocument(t)
	case bson.D:
		m := make(esDomain.Document, len(t))
		for _, e := range t {
			m[e.Key] = normalize(e.Value)
		}
		return m
	case bson.A:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalize(e)
		}
		return out
	case primitive.DateTime:
		return t.Time()
	case int32:
		return int64(t)
	default:
		return v
	}
}
