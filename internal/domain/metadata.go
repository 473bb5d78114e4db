package domain

import (
	"fmt"
	"maps"
)

// MetaString returns meta[key] rendered as a string, or "" when absent.
func MetaString(meta map[string]any, key string) string {
	v, ok := meta[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// CloneMetadata returns a shallow copy so chunks of one document do not share a map.
func CloneMetadata(meta map[string]any) map[string]any {
	if meta == nil {
		return map[string]any{}
	}
	return maps.Clone(meta)
}
