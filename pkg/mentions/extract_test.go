package mentions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []Candidate
	}{
		{
			name:  "empty",
			input: "",
			want:  nil,
		},
		{
			name:  "no mentions",
			input: "just a regular message",
			want:  nil,
		},
		{
			name:  "bare mention",
			input: "hey @Helper",
			want: []Candidate{
				{RawSpan: "@Helper", Name: "Helper", Start: 4, End: 11},
			},
		},
		{
			name:  "trailing punctuation excluded",
			input: "Hello @Helper, what's 2+2?",
			want: []Candidate{
				{RawSpan: "@Helper", Name: "Helper", Start: 6, End: 13},
			},
		},
		{
			name:  "canonical mention",
			input: "@Helper[id:abc-123] ping",
			want: []Candidate{
				{RawSpan: "@Helper[id:abc-123]", Name: "Helper", ExplicitID: "abc-123", HasExplicitID: true, Start: 0, End: 19},
			},
		},
		{
			name:  "ordering",
			input: "@a hi @b[id:X]",
			want: []Candidate{
				{RawSpan: "@a", Name: "a", Start: 0, End: 2},
				{RawSpan: "@b[id:X]", Name: "b", ExplicitID: "X", HasExplicitID: true, Start: 6, End: 14},
			},
		},
		{
			name:  "malformed bracket treated as bare",
			input: "@bot[id:] and @bot[id: x]",
			want: []Candidate{
				{RawSpan: "@bot", Name: "bot", Start: 0, End: 4},
				{RawSpan: "@bot", Name: "bot", Start: 14, End: 18},
			},
		},
		{
			name:  "lone at sign",
			input: "meet @ noon",
			want:  nil,
		},
		{
			name:  "email-like token",
			input: "mail bob@example.com",
			want: []Candidate{
				{RawSpan: "@example", Name: "example", Start: 8, End: 16},
			},
		},
		{
			name:  "adjacent mentions",
			input: "@one@two",
			want: []Candidate{
				{RawSpan: "@one", Name: "one", Start: 0, End: 4},
				{RawSpan: "@two", Name: "two", Start: 4, End: 8},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Extract(tt.input)
			assert.Equal(t, tt.want, got)
			for _, c := range got {
				assert.Equal(t, c.RawSpan, tt.input[c.Start:c.End])
			}
		})
	}
}

func TestExtractSeqStopsEarly(t *testing.T) {
	var names []string
	for c := range ExtractSeq("@a @b @c @d") {
		names = append(names, c.Name)
		if len(names) == 2 {
			break
		}
	}
	assert.Equal(t, []string{"a", "b"}, names)
}

func TestFormatCanonicalRoundTrip(t *testing.T) {
	canonical := FormatCanonical("Helper", "0b6f9c1e-1111-4c3a-9b7e-2f0d7f9a1c42")

	got := Extract(canonical)
	require.Len(t, got, 1)
	assert.Equal(t, canonical, got[0].RawSpan)
	assert.Equal(t, "Helper", got[0].Name)
	assert.Equal(t, "0b6f9c1e-1111-4c3a-9b7e-2f0d7f9a1c42", got[0].ExplicitID)
}
