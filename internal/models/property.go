package models

import (
	"fmt"
	"time"
)

// PropertyKind identifies which member of the PropertyValue union is set.
type PropertyKind int

// Property kinds.
const (
	KindText PropertyKind = iota + 1
	KindRichText
	KindCheckbox
	KindDate
	KindNumber
	KindMultiSelect
	KindTimestamp
)

func (k PropertyKind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindRichText:
		return "rich_text"
	case KindCheckbox:
		return "checkbox"
	case KindDate:
		return "date"
	case KindNumber:
		return "number"
	case KindMultiSelect:
		return "multi_select"
	case KindTimestamp:
		return "timestamp"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// DateValue is a calendar date with an optional time component.
type DateValue struct {
	Start   time.Time
	HasTime bool
}

// PropertyValue is a tagged union over the property types a record can carry.
// Only the field matching Kind is meaningful.
type PropertyValue struct {
	Kind     PropertyKind
	Text     string
	Checkbox bool
	Date     *DateValue
	Number   *float64
	Items    []string
	Time     time.Time
}

// Text returns a plain text property value.
func Text(s string) PropertyValue { return PropertyValue{Kind: KindText, Text: s} }

// RichText returns a rich text property value flattened to plain text.
func RichText(s string) PropertyValue { return PropertyValue{Kind: KindRichText, Text: s} }

// Checkbox returns a boolean property value.
func Checkbox(b bool) PropertyValue { return PropertyValue{Kind: KindCheckbox, Checkbox: b} }

// Date returns a date property value. A nil start means the date is unset.
func Date(start *time.Time, hasTime bool) PropertyValue {
	if start == nil {
		return PropertyValue{Kind: KindDate}
	}
	return PropertyValue{Kind: KindDate, Date: &DateValue{Start: *start, HasTime: hasTime}}
}

// Number returns a numeric property value. A nil n means the number is unset.
func Number(n *float64) PropertyValue { return PropertyValue{Kind: KindNumber, Number: n} }

// MultiSelect returns a list property value.
func MultiSelect(items ...string) PropertyValue {
	return PropertyValue{Kind: KindMultiSelect, Items: items}
}

// Timestamp returns a system timestamp property value.
func Timestamp(t time.Time) PropertyValue { return PropertyValue{Kind: KindTimestamp, Time: t} }

// IsEmpty reports whether the value counts as absent for fallback purposes.
// A checkbox is never empty.
func (v PropertyValue) IsEmpty() bool {
	switch v.Kind {
	case KindText, KindRichText:
		return v.Text == ""
	case KindCheckbox:
		return false
	case KindDate:
		return v.Date == nil
	case KindNumber:
		return v.Number == nil
	case KindMultiSelect:
		return len(v.Items) == 0
	case KindTimestamp:
		return v.Time.IsZero()
	default:
		return true
	}
}
