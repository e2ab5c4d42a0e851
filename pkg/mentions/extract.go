package mentions

import (
	"iter"
	"regexp"
	"strings"
)

// mentionPattern matches "@name" optionally followed by a canonical
// "[id:<entity>]" suffix. Names are word characters only, so trailing
// punctuation ("@Helper," or "@Helper?") is never part of the span.
var mentionPattern = regexp.MustCompile(`@(\w+)(?:\[id:([^\]\s]+)\])?`)

// ExtractSeq lazily yields mention candidates from text, left to right.
// Matches never overlap. Text without mentions yields nothing.
func ExtractSeq(text string) iter.Seq[Candidate] {
	return func(yield func(Candidate) bool) {
		if !strings.Contains(text, "@") {
			return
		}
		offset := 0
		for offset < len(text) {
			loc := mentionPattern.FindStringSubmatchIndex(text[offset:])
			if loc == nil {
				return
			}
			c := Candidate{
				RawSpan: text[offset+loc[0] : offset+loc[1]],
				Name:    text[offset+loc[2] : offset+loc[3]],
				Start:   offset + loc[0],
				End:     offset + loc[1],
			}
			if loc[4] >= 0 {
				c.ExplicitID = text[offset+loc[4] : offset+loc[5]]
				c.HasExplicitID = true
			}
			if !yield(c) {
				return
			}
			offset += loc[1]
		}
	}
}

// Extract returns every mention candidate in text in source order.
func Extract(text string) []Candidate {
	var out []Candidate
	for c := range ExtractSeq(text) {
		out = append(out, c)
	}
	return out
}

// FormatCanonical renders the canonical "@name[id:<entity>]" form.
func FormatCanonical(name, entityID string) string {
	return "@" + name + "[id:" + entityID + "]"
}
