// Package models defines the domain types shared by the sync pipeline.
package models

import "time"

// RemoteItem is a single record fetched from the remote content source.
//
// DecodeErr is set when the record's id is known but the rest of it could
// not be decoded. Such a record still counts as present in its source.
type RemoteItem struct {
	ID           string                   `json:"id"`
	Source       string                   `json:"source"`
	Properties   map[string]PropertyValue `json:"-"`
	CreatedAt    time.Time                `json:"created_at"`
	LastEditedAt time.Time                `json:"last_edited_at"`
	Blocks       []Block                  `json:"-"`
	DecodeErr    error                    `json:"-"`
}

// Property returns the named property and whether it is present and non-empty.
func (i RemoteItem) Property(name string) (PropertyValue, bool) {
	v, ok := i.Properties[name]
	if !ok || v.IsEmpty() {
		return PropertyValue{}, false
	}
	return v, true
}

// Block is a node in a record's content tree.
type Block struct {
	ID       string  `json:"id"`
	Type     string  `json:"type"`
	RichText []Span  `json:"rich_text,omitempty"`
	Checked  bool    `json:"checked,omitempty"`
	Language string  `json:"language,omitempty"`
	URL      string  `json:"url,omitempty"`
	Caption  []Span  `json:"caption,omitempty"`
	Icon     string  `json:"icon,omitempty"`
	Children []Block `json:"children,omitempty"`
}

// Span is one annotated run of text inside a block.
type Span struct {
	PlainText     string `json:"plain_text"`
	Href          string `json:"href,omitempty"`
	Bold          bool   `json:"bold,omitempty"`
	Italic        bool   `json:"italic,omitempty"`
	Strikethrough bool   `json:"strikethrough,omitempty"`
	Code          bool   `json:"code,omitempty"`
	Equation      bool   `json:"equation,omitempty"`
}
