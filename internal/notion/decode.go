package notion

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/jomei/notionapi"

	"github.com/starford/pagesync/internal/models"
)

// listResponse is the paginated envelope shared by database queries and
// block children. Results stay raw so a bad entry can be reported alone.
type listResponse struct {
	Results    []json.RawMessage `json:"results"`
	HasMore    bool              `json:"has_more"`
	NextCursor notionapi.Cursor  `json:"next_cursor"`
}

func (r listResponse) cursor() string {
	if !r.HasMore {
		return ""
	}
	return string(r.NextCursor)
}

func span(t notionapi.RichText) models.Span {
	sp := models.Span{
		PlainText: t.PlainText,
		Href:      t.Href,
		Equation:  t.Type == "equation",
	}
	if a := t.Annotations; a != nil {
		sp.Bold = a.Bold
		sp.Italic = a.Italic
		sp.Strikethrough = a.Strikethrough
		sp.Code = a.Code
	}
	return sp
}

func spans(in []notionapi.RichText) []models.Span {
	if len(in) == 0 {
		return nil
	}
	out := make([]models.Span, len(in))
	for i, t := range in {
		out[i] = span(t)
	}
	return out
}

func plainText(in []notionapi.RichText) string {
	var b strings.Builder
	for _, t := range in {
		b.WriteString(t.PlainText)
	}
	return b.String()
}

// apiPage is the page envelope. Properties stay raw so one bad property
// does not hide the page id.
type apiPage struct {
	Object         string                     `json:"object"`
	ID             string                     `json:"id"`
	CreatedTime    string                     `json:"created_time"`
	LastEditedTime string                     `json:"last_edited_time"`
	Archived       bool                       `json:"archived"`
	InTrash        bool                       `json:"in_trash"`
	Properties     map[string]json.RawMessage `json:"properties"`
}

// decodePage converts one query result. ok is false for archived, trashed
// and non-page results. An unreadable envelope or a missing id is an error;
// any later failure is reported on the returned item's DecodeErr.
func decodePage(raw json.RawMessage, source string) (models.RemoteItem, bool, error) {
	var p apiPage
	if err := json.Unmarshal(raw, &p); err != nil {
		return models.RemoteItem{}, false, fmt.Errorf("decode page: %w", err)
	}
	if p.Archived || p.InTrash || (p.Object != "" && p.Object != "page") {
		return models.RemoteItem{}, false, nil
	}
	if p.ID == "" {
		return models.RemoteItem{}, false, fmt.Errorf("decode page: missing id")
	}

	item := models.RemoteItem{ID: p.ID, Source: source}
	var err error
	if item.CreatedAt, err = parseTime(p.CreatedTime); err != nil {
		item.DecodeErr = fmt.Errorf("created_time: %w", err)
		return item, true, nil
	}
	if item.LastEditedAt, err = parseTime(p.LastEditedTime); err != nil {
		item.DecodeErr = fmt.Errorf("last_edited_time: %w", err)
		return item, true, nil
	}

	props := make(map[string]models.PropertyValue, len(p.Properties))
	for _, name := range slices.Sorted(maps.Keys(p.Properties)) {
		v, ok, err := decodeProperty(name, p.Properties[name])
		if err != nil {
			item.DecodeErr = fmt.Errorf("property %q: %w", name, err)
			return item, true, nil
		}
		if ok {
			props[name] = v
		}
	}
	item.Properties = props
	return item, true, nil
}

// supported lists the property types with a models counterpart. Others
// (relation, rollup, people, files, ...) are dropped before decoding.
var supported = map[string]bool{
	"title": true, "rich_text": true, "checkbox": true, "number": true,
	"select": true, "status": true, "multi_select": true, "date": true,
	"created_time": true, "last_edited_time": true, "url": true,
	"email": true, "phone_number": true, "formula": true,
}

// propertyShape carries what notionapi flattens away: whether a number is
// null and whether a date start has a time component.
type propertyShape struct {
	Type    string          `json:"type"`
	Number  json.RawMessage `json:"number"`
	Date    *apiDate        `json:"date"`
	Formula *struct {
		Number json.RawMessage `json:"number"`
		Date   *apiDate        `json:"date"`
	} `json:"formula"`
}

type apiDate struct {
	Start string `json:"start"`
}

func (d *apiDate) hasTime() bool {
	return d != nil && len(d.Start) > len(time.DateOnly)
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

// decodeProperty converts one raw API property through notionapi's typed
// property model.
func decodeProperty(name string, raw json.RawMessage) (models.PropertyValue, bool, error) {
	var shape propertyShape
	if err := json.Unmarshal(raw, &shape); err != nil {
		return models.PropertyValue{}, false, err
	}
	if !supported[shape.Type] {
		return models.PropertyValue{}, false, nil
	}

	wrapped, err := json.Marshal(map[string]json.RawMessage{name: raw})
	if err != nil {
		return models.PropertyValue{}, false, err
	}
	var props notionapi.Properties
	if err := json.Unmarshal(wrapped, &props); err != nil {
		return models.PropertyValue{}, false, err
	}

	switch p := props[name].(type) {
	case *notionapi.TitleProperty:
		return models.Text(plainText(p.Title)), true, nil
	case *notionapi.RichTextProperty:
		return models.RichText(plainText(p.RichText)), true, nil
	case *notionapi.CheckboxProperty:
		return models.Checkbox(p.Checkbox), true, nil
	case *notionapi.NumberProperty:
		if isNull(shape.Number) {
			return models.Number(nil), true, nil
		}
		n := p.Number
		return models.Number(&n), true, nil
	case *notionapi.SelectProperty:
		return models.Text(p.Select.Name), true, nil
	case *notionapi.StatusProperty:
		return models.Text(p.Status.Name), true, nil
	case *notionapi.MultiSelectProperty:
		items := make([]string, 0, len(p.MultiSelect))
		for _, o := range p.MultiSelect {
			items = append(items, o.Name)
		}
		return models.MultiSelect(items...), true, nil
	case *notionapi.DateProperty:
		return dateValue(p.Date, shape.Date.hasTime()), true, nil
	case *notionapi.CreatedTimeProperty:
		return models.Timestamp(p.CreatedTime), true, nil
	case *notionapi.LastEditedTimeProperty:
		return models.Timestamp(p.LastEditedTime), true, nil
	case *notionapi.URLProperty:
		return models.Text(p.URL), true, nil
	case *notionapi.EmailProperty:
		return models.Text(p.Email), true, nil
	case *notionapi.PhoneNumberProperty:
		return models.Text(p.PhoneNumber), true, nil
	case *notionapi.FormulaProperty:
		return formulaValue(p.Formula, shape)
	}
	return models.PropertyValue{}, false, nil
}

func formulaValue(f notionapi.Formula, shape propertyShape) (models.PropertyValue, bool, error) {
	switch string(f.Type) {
	case "string":
		return models.Text(f.String), true, nil
	case "number":
		if shape.Formula == nil || isNull(shape.Formula.Number) {
			return models.Number(nil), true, nil
		}
		n := f.Number
		return models.Number(&n), true, nil
	case "boolean":
		return models.Checkbox(f.Boolean), true, nil
	case "date":
		var hasTime bool
		if shape.Formula != nil {
			hasTime = shape.Formula.Date.hasTime()
		}
		return dateValue(f.Date, hasTime), true, nil
	}
	return models.PropertyValue{}, false, nil
}

func dateValue(d *notionapi.DateObject, hasTime bool) models.PropertyValue {
	if d == nil || d.Start == nil {
		return models.Date(nil, false)
	}
	t := time.Time(*d.Start)
	return models.Date(&t, hasTime)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}

type apiBlockPayload struct {
	RichText   []notionapi.RichText  `json:"rich_text"`
	Caption    []notionapi.RichText  `json:"caption"`
	Checked    bool                  `json:"checked"`
	Language   string                `json:"language"`
	URL        string                `json:"url"`
	Expression string                `json:"expression"`
	External   *notionapi.FileObject `json:"external"`
	File       *notionapi.FileObject `json:"file"`
	Icon       *notionapi.Icon       `json:"icon"`
}

type apiBlock struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	HasChildren bool   `json:"has_children"`
	InTrash     bool   `json:"in_trash"`
	Archived    bool   `json:"archived"`
}

// decodeBlock returns the block, whether its children should be fetched,
// and whether it is live (not archived or trashed). Blocks are read as a
// head plus the payload under their type key, so block types this client
// does not know still decode.
func decodeBlock(raw json.RawMessage) (models.Block, bool, bool, error) {
	var head apiBlock
	if err := json.Unmarshal(raw, &head); err != nil {
		return models.Block{}, false, false, fmt.Errorf("decode block: %w", err)
	}
	if head.Archived || head.InTrash {
		return models.Block{}, false, false, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return models.Block{}, false, false, fmt.Errorf("decode block: %w", err)
	}

	var payload apiBlockPayload
	if data, ok := fields[head.Type]; ok && len(data) > 0 && string(data) != "null" {
		if err := json.Unmarshal(data, &payload); err != nil {
			return models.Block{}, false, false, fmt.Errorf("block %s: %s payload: %w", head.ID, head.Type, err)
		}
	}

	blk := models.Block{
		ID:       head.ID,
		Type:     head.Type,
		RichText: spans(payload.RichText),
		Checked:  payload.Checked,
		Language: payload.Language,
		URL:      payload.URL,
		Caption:  spans(payload.Caption),
	}
	switch {
	case payload.External != nil:
		blk.URL = payload.External.URL
	case payload.File != nil:
		blk.URL = payload.File.URL
	}
	if payload.Icon != nil && payload.Icon.Emoji != nil {
		blk.Icon = string(*payload.Icon.Emoji)
	}
	if head.Type == "equation" {
		blk.RichText = []models.Span{{PlainText: payload.Expression}}
	}

	descend := head.HasChildren && head.Type != "child_page" && head.Type != "child_database"
	return blk, descend, true, nil
}
