// Package render converts content block trees into Markdown bodies.
package render

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/starford/pagesync/internal/models"
)

// Renderer turns a block tree into body text.
type Renderer interface {
	Render(blocks []models.Block) (string, error)
}

// Markdown renders blocks as CommonMark with a few Hugo friendly
// extensions (fenced code with language, $$ math).
type Markdown struct{}

// NewMarkdown returns a Markdown renderer.
func NewMarkdown() *Markdown { return &Markdown{} }

// Render implements Renderer.
func (m *Markdown) Render(blocks []models.Block) (string, error) {
	out, err := m.renderBlocks(blocks, 0)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(out, "\n"), nil
}

func (m *Markdown) renderBlocks(blocks []models.Block, depth int) (string, error) {
	var b strings.Builder
	number := 0
	prevList := false
	for _, blk := range blocks {
		if blk.Type == "numbered_list_item" {
			number++
		} else {
			number = 0
		}
		text, isList, err := m.renderBlock(blk, depth, number)
		if err != nil {
			return "", err
		}
		if text == "" {
			prevList = false
			continue
		}
		if b.Len() > 0 {
			if isList && prevList {
				b.WriteString("\n")
			} else {
				b.WriteString("\n\n")
			}
		}
		b.WriteString(text)
		prevList = isList
	}
	return b.String(), nil
}

func (m *Markdown) renderBlock(blk models.Block, depth, number int) (string, bool, error) {
	indent := strings.Repeat("  ", depth)
	text := Spans(blk.RichText)

	switch blk.Type {
	case "paragraph":
		return m.withChildren(prefixLines(text, indent), blk, depth)
	case "heading_1", "heading_2", "heading_3":
		level, _ := strconv.Atoi(blk.Type[len(blk.Type)-1:])
		return indent + strings.Repeat("#", level) + " " + text, false, nil
	case "bulleted_list_item":
		return m.listItem(indent+"- "+text, blk, depth)
	case "numbered_list_item":
		return m.listItem(indent+strconv.Itoa(number)+". "+text, blk, depth)
	case "to_do":
		box := "[ ]"
		if blk.Checked {
			box = "[x]"
		}
		return m.listItem(indent+"- "+box+" "+text, blk, depth)
	case "quote":
		body, err := m.nested(text, blk, depth)
		if err != nil {
			return "", false, err
		}
		return prefixLines(body, indent+"> "), false, nil
	case "callout":
		head := text
		if blk.Icon != "" {
			head = blk.Icon + " " + text
		}
		body, err := m.nested(head, blk, depth)
		if err != nil {
			return "", false, err
		}
		return prefixLines(body, indent+"> "), false, nil
	case "toggle":
		body, err := m.nested("", blk, depth)
		if err != nil {
			return "", false, err
		}
		return indent + "<details>\n" + indent + "<summary>" + text + "</summary>\n\n" + body + "\n" + indent + "</details>", false, nil
	case "code":
		return indent + "```" + codeLanguage(blk.Language) + "\n" + prefixLines(plain(blk.RichText), indent) + "\n" + indent + "```", false, nil
	case "equation":
		return indent + "$$\n" + indent + plain(blk.RichText) + "\n" + indent + "$$", false, nil
	case "divider":
		return indent + "---", false, nil
	case "image":
		if blk.URL == "" {
			return "", false, fmt.Errorf("render: image block %s has no url", blk.ID)
		}
		return indent + "![" + plain(blk.Caption) + "](" + blk.URL + ")", false, nil
	case "bookmark", "embed", "link_preview":
		if blk.URL == "" {
			return "", false, nil
		}
		label := plain(blk.Caption)
		if label == "" {
			label = blk.URL
		}
		return indent + "[" + label + "](" + blk.URL + ")", false, nil
	case "":
		return "", false, fmt.Errorf("render: block %s has no type", blk.ID)
	default:
		// child_page, child_database, unsupported and friends carry no
		// inline content.
		return "", false, nil
	}
}

func (m *Markdown) listItem(line string, blk models.Block, depth int) (string, bool, error) {
	if len(blk.Children) == 0 {
		return line, true, nil
	}
	children, err := m.renderBlocks(blk.Children, depth+1)
	if err != nil {
		return "", false, err
	}
	if children == "" {
		return line, true, nil
	}
	return line + "\n" + children, true, nil
}

func (m *Markdown) withChildren(text string, blk models.Block, depth int) (string, bool, error) {
	if len(blk.Children) == 0 {
		return text, false, nil
	}
	children, err := m.renderBlocks(blk.Children, depth+1)
	if err != nil {
		return "", false, err
	}
	if text == "" {
		return children, false, nil
	}
	return text + "\n\n" + children, false, nil
}

// nested renders head followed by the block's children at the same depth.
func (m *Markdown) nested(head string, blk models.Block, depth int) (string, error) {
	if len(blk.Children) == 0 {
		return head, nil
	}
	children, err := m.renderBlocks(blk.Children, 0)
	if err != nil {
		return "", err
	}
	if head == "" {
		return children, nil
	}
	return head + "\n\n" + children, nil
}

func prefixLines(s, prefix string) string {
	if prefix == "" {
		return s
	}
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		if l == "" && strings.TrimSpace(prefix) == "" {
			continue
		}
		lines[i] = strings.TrimRight(prefix+l, " ")
	}
	return strings.Join(lines, "\n")
}

func codeLanguage(lang string) string {
	if lang == "plain text" {
		return "text"
	}
	return strings.ReplaceAll(lang, " ", "-")
}

func plain(spans []models.Span) string {
	var b strings.Builder
	for _, s := range spans {
		b.WriteString(s.PlainText)
	}
	return b.String()
}

// Spans renders annotated text runs as inline Markdown.
func Spans(spans []models.Span) string {
	var b strings.Builder
	for _, s := range spans {
		b.WriteString(span(s))
	}
	return b.String()
}

func span(s models.Span) string {
	text := s.PlainText
	if text == "" {
		return ""
	}
	if s.Equation {
		return "$" + text + "$"
	}
	// Markdown emphasis does not tolerate surrounding whitespace inside
	// the markers, so it is moved outside.
	lead := text[:len(text)-len(strings.TrimLeft(text, " "))]
	trail := text[len(strings.TrimRight(text, " ")):]
	core := strings.Trim(text, " ")
	if core == "" {
		return text
	}
	if s.Code {
		core = "`" + core + "`"
	}
	if s.Bold {
		core = "**" + core + "**"
	}
	if s.Italic {
		core = "*" + core + "*"
	}
	if s.Strikethrough {
		core = "~~" + core + "~~"
	}
	if s.Href != "" {
		core = "[" + core + "](" + s.Href + ")"
	}
	return lead + core + trail
}
