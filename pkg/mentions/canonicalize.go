package mentions

import (
	"strings"
)

// Canonicalize rewrites every mention span in text whose raw form matches a
// resolved mention into its canonical "@name[id:<entity>]" form.
//
// Spans are located by re-extracting text left to right and matched against
// ResolvedMention.RawSpan exactly, never by bare name, so spans that are
// already canonical stay put and unresolved spans are left untouched. All
// other bytes are copied through unchanged. The result is stable under
// repeated application with the same resolutions.
func Canonicalize(text string, resolved []ResolvedMention) string {
	if len(resolved) == 0 || text == "" {
		return text
	}

	bySpan := make(map[string]ResolvedMention, len(resolved))
	for _, r := range resolved {
		if _, ok := bySpan[r.RawSpan]; !ok {
			bySpan[r.RawSpan] = r
		}
	}

	var b strings.Builder
	b.Grow(len(text))
	last := 0
	for c := range ExtractSeq(text) {
		r, ok := bySpan[c.RawSpan]
		if !ok {
			continue
		}
		b.WriteString(text[last:c.Start])
		b.WriteString(r.Canonical())
		last = c.End
	}
	if last == 0 {
		return text
	}
	b.WriteString(text[last:])
	return b.String()
}
