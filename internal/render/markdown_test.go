package render

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/pagesync/internal/models"
)

func txt(s string) []models.Span { return []models.Span{{PlainText: s}} }

func block(typ, text string, children ...models.Block) models.Block {
	return models.Block{Type: typ, RichText: txt(text), Children: children}
}

func TestRender_Document(t *testing.T) {
	blocks := []models.Block{
		block("heading_1", "Title"),
		block("paragraph", "Intro."),
		block("bulleted_list_item", "one"),
		block("bulleted_list_item", "two", block("bulleted_list_item", "nested")),
		block("numbered_list_item", "first"),
		block("numbered_list_item", "second"),
		block("paragraph", ""),
		{Type: "to_do", RichText: txt("done"), Checked: true},
		{Type: "code", Language: "go", RichText: txt("fmt.Println(1)")},
		{Type: "divider"},
		block("quote", "wise words"),
	}
	out, err := NewMarkdown().Render(blocks)
	require.NoError(t, err)

	want := "# Title\n\n" +
		"Intro.\n\n" +
		"- one\n" +
		"- two\n" +
		"  - nested\n" +
		"1. first\n" +
		"2. second\n\n" +
		"- [x] done\n\n" +
		"```go\nfmt.Println(1)\n```\n\n" +
		"---\n\n" +
		"> wise words"
	assert.Equal(t, want, out)
}

func TestRender_NumberingRestarts(t *testing.T) {
	out, err := NewMarkdown().Render([]models.Block{
		block("numbered_list_item", "a"),
		block("paragraph", "break"),
		block("numbered_list_item", "b"),
	})
	require.NoError(t, err)
	assert.Equal(t, "1. a\n\nbreak\n\n1. b", out)
}

func TestRender_Media(t *testing.T) {
	out, err := NewMarkdown().Render([]models.Block{
		{Type: "image", URL: "https://example.com/a.png", Caption: txt("A cat")},
		{Type: "bookmark", URL: "https://go.dev"},
		{Type: "equation", RichText: txt("e=mc^2")},
		{Type: "child_page"},
	})
	require.NoError(t, err)
	assert.Equal(t, "![A cat](https://example.com/a.png)\n\n[https://go.dev](https://go.dev)\n\n$$\ne=mc^2\n$$", out)
}

func TestRender_Callout(t *testing.T) {
	out, err := NewMarkdown().Render([]models.Block{
		{Type: "callout", Icon: "💡", RichText: txt("Tip"), Children: []models.Block{block("paragraph", "More.")}},
	})
	require.NoError(t, err)
	assert.Equal(t, "> 💡 Tip\n>\n> More.", out)
}

func TestRender_Errors(t *testing.T) {
	_, err := NewMarkdown().Render([]models.Block{{ID: "b1", Type: "image"}})
	assert.ErrorContains(t, err, "b1")

	_, err = NewMarkdown().Render([]models.Block{block("bulleted_list_item", "x", models.Block{ID: "bad"})})
	assert.Error(t, err)
}

func TestSpans(t *testing.T) {
	spans := []models.Span{
		{PlainText: "plain "},
		{PlainText: "bold ", Bold: true},
		{PlainText: "code", Code: true},
		{PlainText: " and "},
		{PlainText: "link", Href: "https://x.dev", Italic: true},
		{PlainText: " "},
		{PlainText: "x^2", Equation: true},
	}
	assert.Equal(t, "plain **bold** `code` and [*link*](https://x.dev) $x^2$", Spans(spans))
}
