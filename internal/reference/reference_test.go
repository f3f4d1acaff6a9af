package reference

import (
	"encoding/json"
	"testing"

	"github.com/fyrsmithlabs/groundd/internal/vectorstore"
	"github.com/stretchr/testify/assert"
)

func TestSanitize(t *testing.T) {
	first := []vectorstore.Match{
		{Subject: "doc-b", Text: "line one\nwrapped"},
		{Subject: "doc-a", Text: "alpha"},
		{Subject: "doc-b", Text: "line two"},
	}
	second := []vectorstore.Match{
		{Subject: "doc-c", Text: "gamma"},
		{Subject: "doc-a", Text: "beta"},
		{Subject: "", Text: "orphan"},
	}

	b := Sanitize(first, second)
	assert.Equal(t, []string{"doc-b", "doc-a", "doc-c"}, b.DocumentIDs())
	assert.Equal(t, 3, b.Len())

	text, ok := b.Text("doc-b")
	assert.True(t, ok)
	assert.Equal(t, "line one wrapped,line two", text)
	text, _ = b.Text("doc-a")
	assert.Equal(t, "alpha,beta", text)

	assert.Equal(t, `{"doc-b": "line one wrapped,line two", "doc-a": "alpha,beta", "doc-c": "gamma"}`, b.String())

	var decoded map[string]string
	assert.NoError(t, json.Unmarshal([]byte(b.String()), &decoded))
	assert.Len(t, decoded, 3)
}

func TestSanitize_Empty(t *testing.T) {
	b := Sanitize()
	assert.Equal(t, "{}", b.String())
	assert.Empty(t, b.DocumentIDs())
}

func TestParseCitations(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"bare list", "Give fluids. References: d1, d2", []string{"d1", "d2"}},
		{"bracketed", "Answer.\nReferences: [d1, d2]", []string{"d1", "d2"}},
		{"quoted", `Answer. References: "d1", 'd2'`, []string{"d1", "d2"}},
		{"uuid ids", "x References: 3f2b9c1e-8a7d-4c55-9d3e-2b1a0f6e7c44", []string{"3f2b9c1e-8a7d-4c55-9d3e-2b1a0f6e7c44"}},
		{"last marker wins", "References: old\nMore text. References: new", []string{"new"}},
		{"case insensitive", "ok. reference: d9", []string{"d9"}},
		{"duplicates", "References: d1, d1, d2", []string{"d1", "d2"}},
		{"trailing period", "References: d1, d2.", []string{"d1", "d2"}},
		{"no marker", "Sorry I am not able to find anything", nil},
		{"empty marker", "References:", nil},
		{"unclosed bracket", "References: [d1, d2", nil},
		{"prose after marker", "References: see the attached guideline please", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseCitations(tt.in))
		})
	}
}

func TestStripCitations(t *testing.T) {
	assert.Equal(t, "Give **fluids**.", StripCitations("Give **fluids**. References: d1, d2"))
	assert.Equal(t, "Answer.\nFollow up.", StripCitations("Answer. References: d1\nFollow up."))
	assert.Equal(t, "no refs", StripCitations("no refs"))
}

func TestBlob_Cited(t *testing.T) {
	b := Sanitize([]vectorstore.Match{{Subject: "d1", Text: "a"}, {Subject: "d2", Text: "b"}})
	assert.Equal(t, []string{"d2", "d1"}, b.Cited([]string{"d2", "ghost", "d1"}))
	assert.Nil(t, b.Cited(nil))
}
