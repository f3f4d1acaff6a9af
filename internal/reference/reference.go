// Package reference turns retrieval matches into the grounding blob given
// to the model and recovers the document ids the model cites.
package reference

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/fyrsmithlabs/groundd/internal/vectorstore"
)

// Blob maps document ids to the joined text of their matched chunks,
// keeping the order in which documents were first seen.
type Blob struct {
	order []string
	texts map[string]string
}

// Sanitize groups matches by document. Lists are read in order, so the
// first list's best match decides which document comes first. Chunk
// newlines become spaces and chunks of one document are comma-joined.
func Sanitize(lists ...[]vectorstore.Match) Blob {
	b := Blob{texts: map[string]string{}}
	for _, matches := range lists {
		for _, m := range matches {
			if m.Subject == "" {
				continue
			}
			text := strings.ReplaceAll(m.Text, "\r", "")
			text = strings.ReplaceAll(text, "\n", " ")
			prev, seen := b.texts[m.Subject]
			if !seen {
				b.order = append(b.order, m.Subject)
				b.texts[m.Subject] = text
				continue
			}
			b.texts[m.Subject] = prev + "," + text
		}
	}
	return b
}

// Len returns the number of documents.
func (b Blob) Len() int { return len(b.order) }

// DocumentIDs returns the document ids in first-seen order.
func (b Blob) DocumentIDs() []string {
	return append([]string(nil), b.order...)
}

// Text returns the joined chunks of id.
func (b Blob) Text(id string) (string, bool) {
	t, ok := b.texts[id]
	return t, ok
}

// String renders the blob as a JSON object in first-seen order.
func (b Blob) String() string {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, id := range b.order {
		if i > 0 {
			buf.WriteString(", ")
		}
		k, _ := json.Marshal(id)
		v, _ := json.Marshal(b.texts[id])
		buf.Write(k)
		buf.WriteString(": ")
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.String()
}

// MarshalJSON implements json.Marshaler with the same ordering as String.
func (b Blob) MarshalJSON() ([]byte, error) {
	return []byte(b.String()), nil
}

var (
	marker  = regexp.MustCompile(`(?i)references?\s*:`)
	idToken = regexp.MustCompile(`[A-Za-z0-9][A-Za-z0-9_.:-]*`)
)

// lastMarker returns the byte offsets of the last "References:" marker.
func lastMarker(text string) (start, end int, ok bool) {
	locs := marker.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return 0, 0, false
	}
	last := locs[len(locs)-1]
	return last[0], last[1], true
}

// ParseCitations extracts document ids from the last "References:" marker.
// Bracketed, quoted and bare comma-separated lists are accepted. A missing
// or malformed marker yields nil.
func ParseCitations(text string) []string {
	_, end, ok := lastMarker(text)
	if !ok {
		return nil
	}
	tail := text[end:]
	if i := strings.IndexByte(tail, '\n'); i >= 0 {
		tail = tail[:i]
	}
	tail = strings.TrimSpace(tail)
	if strings.HasPrefix(tail, "[") {
		closing := strings.IndexByte(tail, ']')
		if closing < 0 {
			return nil
		}
		tail = tail[1:closing]
	}

	var ids []string
	seen := map[string]bool{}
	for _, field := range strings.Split(tail, ",") {
		field = strings.Trim(strings.TrimSpace(field), `"'`+"`*. ")
		if field == "" {
			continue
		}
		if !idToken.MatchString(field) || idToken.FindString(field) != field {
			return nil
		}
		if !seen[field] {
			seen[field] = true
			ids = append(ids, field)
		}
	}
	return ids
}

// StripCitations removes the last "References:" marker and the rest of its
// line so the answer can be spoken.
func StripCitations(text string) string {
	start, end, ok := lastMarker(text)
	if !ok {
		return text
	}
	rest := text[end:]
	if i := strings.IndexByte(rest, '\n'); i >= 0 {
		return strings.TrimRight(text[:start], " \t\n") + rest[i:]
	}
	return strings.TrimRight(text[:start], " \t\n")
}

// Cited returns the ids in cited that are present in b, keeping the
// citation order. Ids the model invented are dropped.
func (b Blob) Cited(cited []string) []string {
	var out []string
	for _, id := range cited {
		if _, ok := b.texts[id]; ok {
			out = append(out, id)
		}
	}
	return out
}
