// Package mapper translates a record's typed properties into frontmatter
// through a phased, declarative rule table.
package mapper

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/pagesync/internal/models"
)

// Outcome is the kind of result Map produced.
type Outcome int

// Mapping outcomes.
const (
	Proceed Outcome = iota
	Skip
	Invalid
)

func (o Outcome) String() string {
	switch o {
	case Proceed:
		return "proceed"
	case Skip:
		return "skip"
	case Invalid:
		return "invalid"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result is the outcome of mapping one record. Metadata is set only for
// Proceed and Reason only for Invalid.
type Result struct {
	Outcome  Outcome
	Metadata models.Metadata
	Reason   string
}

// Mapper evaluates a validated rule table.
type Mapper struct {
	phases map[Phase][]Rule
	rules  []Rule
}

// New validates rules and returns a Mapper. An empty table selects
// DefaultRules.
func New(rules []Rule) (*Mapper, error) {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	if err := validation.Validate(rules); err != nil {
		return nil, fmt.Errorf("mapper: invalid rules: %w", err)
	}
	produced := make(map[string]bool, len(rules))
	for _, r := range rules {
		if r.Output != "" {
			produced[r.Output] = true
		}
	}
	for _, key := range RequiredOutputs {
		if !produced[key] {
			return nil, fmt.Errorf("mapper: rule table never produces %q", key)
		}
	}

	m := &Mapper{phases: make(map[Phase][]Rule, len(phaseOrder)), rules: rules}
	for _, r := range rules {
		m.phases[r.Phase] = append(m.phases[r.Phase], r)
	}
	return m, nil
}

// Rules returns a copy of the active rule table.
func (m *Mapper) Rules() []Rule { return slices.Clone(m.rules) }

// SkipRequested reports whether any skip-phase property is set on item.
// It lets the change detector honour the skip marker before mapping.
func (m *Mapper) SkipRequested(item models.RemoteItem) bool {
	for _, r := range m.phases[PhaseSkip] {
		if v, ok := item.Property(r.Source); ok && v.Kind == models.KindCheckbox && v.Checkbox {
			return true
		}
	}
	return false
}

// Map runs every phase over item in order. A rule whose output key is
// already populated is skipped, never overwritten.
func (m *Mapper) Map(item models.RemoteItem) Result {
	meta := models.Metadata{}

	for _, phase := range phaseOrder {
		for _, r := range m.phases[phase] {
			if phase == PhaseSkip {
				v, ok := item.Property(r.Source)
				if !ok {
					continue
				}
				if v.Kind != models.KindCheckbox {
					return invalid("property %q: want checkbox, got %s", r.Source, v.Kind)
				}
				if v.Checkbox {
					return Result{Outcome: Skip}
				}
				continue
			}

			if _, set := meta[r.Output]; set {
				continue
			}
			val, found, err := resolve(r, item)
			if err != nil {
				return invalid("%v", err)
			}
			if !found {
				if r.Default == nil {
					continue
				}
				val = r.Default
			}
			meta[r.Output] = val
		}
	}

	for _, phase := range phaseOrder {
		for _, r := range m.phases[phase] {
			if r.Required {
				if _, ok := meta[r.Output]; !ok {
					return invalid("missing required key %q", r.Output)
				}
			}
		}
	}
	return Result{Outcome: Proceed, Metadata: meta}
}

func invalid(format string, args ...any) Result {
	return Result{Outcome: Invalid, Reason: fmt.Sprintf(format, args...)}
}

var errMismatch = errors.New("type mismatch")

// resolve walks the single-level chain primary -> fallback -> system field.
func resolve(r Rule, item models.RemoteItem) (any, bool, error) {
	for _, name := range []string{r.Source, r.Fallback} {
		if name == "" {
			continue
		}
		v, ok := item.Property(name)
		if !ok {
			continue
		}
		out, err := convert(r, v)
		if err != nil {
			return nil, false, fmt.Errorf("property %q (%s) for %s rule: %w", name, v.Kind, r.Kind, err)
		}
		return out, true, nil
	}
	if r.System == "" {
		return nil, false, nil
	}
	return system(r, item)
}

func convert(r Rule, v models.PropertyValue) (any, error) {
	switch r.Kind {
	case KindText:
		if v.Kind == models.KindText || v.Kind == models.KindRichText {
			return v.Text, nil
		}
	case KindDate:
		switch v.Kind {
		case models.KindDate:
			return FormatDate(v.Date.Start, v.Date.HasTime), nil
		case models.KindTimestamp:
			return FormatDate(v.Time, true), nil
		}
	case KindBool:
		if v.Kind == models.KindCheckbox {
			if r.Invert {
				return !v.Checkbox, nil
			}
			return v.Checkbox, nil
		}
	case KindList:
		if v.Kind == models.KindMultiSelect {
			return slices.Clone(v.Items), nil
		}
	case KindNumber:
		if v.Kind == models.KindNumber {
			n := *v.Number
			if n == math.Trunc(n) && math.Abs(n) < 1<<53 {
				return int64(n), nil
			}
			return n, nil
		}
	}
	return nil, errMismatch
}

func system(r Rule, item models.RemoteItem) (any, bool, error) {
	switch r.System {
	case SystemID:
		if r.Kind != KindText {
			return nil, false, fmt.Errorf("system field %s for %s rule: %w", r.System, r.Kind, errMismatch)
		}
		return item.ID, item.ID != "", nil
	case SystemCreated, SystemLastEdited:
		t := item.CreatedAt
		if r.System == SystemLastEdited {
			t = item.LastEditedAt
		}
		if t.IsZero() {
			return nil, false, nil
		}
		if r.Kind != KindDate && r.Kind != KindText {
			return nil, false, fmt.Errorf("system field %s for %s rule: %w", r.System, r.Kind, errMismatch)
		}
		return FormatDate(t, true), true, nil
	}
	return nil, false, nil
}

// FormatDate renders a date-only value as YYYY-MM-DD and anything with a
// time component as RFC 3339 in UTC.
func FormatDate(t time.Time, hasTime bool) string {
	if !hasTime {
		return t.Format(time.DateOnly)
	}
	return t.UTC().Format(time.RFC3339)
}
