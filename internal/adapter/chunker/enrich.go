package chunker

import (
	"strings"

	"kbrag/internal/domain"
)

// HeaderSeparator joins the provenance header fields.
const HeaderSeparator = " | "

// Header builds the provenance header from the present header fields.
func Header(meta map[string]any) string {
	parts := make([]string, 0, len(domain.HeaderFields))
	for _, key := range domain.HeaderFields {
		if v := domain.MetaString(meta, key); v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, HeaderSeparator)
}

// Enrich prefixes content with "[header]\n". Content is returned unchanged
// when no header field is present. Callers apply it once per chunk.
func Enrich(content string, meta map[string]any) string {
	header := Header(meta)
	if header == "" {
		return content
	}
	return "[" + header + "]\n" + content
}
