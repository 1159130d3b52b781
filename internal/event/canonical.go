package event

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Canonicalize serializes the event's semantic fields into a byte-stable
// form, independent of field insertion order. The field list is explicit
// and fixed; nested maps are normalized with recursively sorted keys.
// Hash and signature are never part of the canonical form.
func Canonicalize(e *Event) ([]byte, error) {
	var payload any
	if e.Payload != nil {
		v, err := e.Payload.canonicalValue()
		if err != nil {
			return nil, err
		}
		payload = v
	}

	doc := []any{
		"type", string(e.Type),
		"site_id", e.SiteID,
		"asset_id", e.AssetID,
		"source_timestamp", e.SourceTimestamp.UTC().Format(time.RFC3339Nano),
		"origin_type", string(e.Origin),
		"origin_id", e.OriginID,
		"payload", payload,
		"details", e.Details,
	}

	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("canonicalize: %w", err)
	}
	return bytes.TrimSpace(buf.Bytes()), nil
}

// normalize rewrites a value into a deterministic shape: maps become
// sorted [key, value, ...] lists, slices are normalized element-wise.
// Unsupported types are a caller defect, not data to be coerced silently.
func normalize(v any) (any, error) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]any, 0, len(keys)*2)
		for _, k := range keys {
			nv, err := normalize(val[k])
			if err != nil {
				return nil, err
			}
			out = append(out, k, nv)
		}
		return out, nil
	case []any:
		out := make([]any, 0, len(val))
		for _, item := range val {
			nv, err := normalize(item)
			if err != nil {
				return nil, err
			}
			out = append(out, nv)
		}
		return out, nil
	case json.Number:
		return val.String(), nil
	case string, bool, nil,
		float64, float32,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return val, nil
	default:
		return nil, fmt.Errorf("canonicalize: unsupported payload value type %T", v)
	}
}
