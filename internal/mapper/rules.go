package mapper

import (
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Kind is the output type a rule produces.
type Kind string

// Rule kinds.
const (
	KindText   Kind = "text"
	KindDate   Kind = "date"
	KindBool   Kind = "bool"
	KindList   Kind = "list"
	KindNumber Kind = "number"
)

// Phase orders rule evaluation. Phases run in the order listed here.
type Phase string

// Evaluation phases.
const (
	PhaseSkip     Phase = "skip"
	PhaseDate     Phase = "date"
	PhaseStatus   Phase = "status"
	PhaseMeta     Phase = "meta"
	PhaseIdentity Phase = "identity"
)

var phaseOrder = []Phase{PhaseSkip, PhaseDate, PhaseStatus, PhaseMeta, PhaseIdentity}

// System names a record level field usable when a property is absent.
type System string

// System fields.
const (
	SystemCreated    System = "created_time"
	SystemLastEdited System = "last_edited_time"
	SystemID         System = "id"
)

// Rule maps one source property onto one output key.
type Rule struct {
	Source   string `yaml:"source"`
	Output   string `yaml:"output"`
	Kind     Kind   `yaml:"kind"`
	Phase    Phase  `yaml:"phase"`
	Default  any    `yaml:"default,omitempty"`
	Fallback string `yaml:"fallback,omitempty"`
	Invert   bool   `yaml:"invert,omitempty"`
	System   System `yaml:"system,omitempty"`
	Required bool   `yaml:"required,omitempty"`
}

// Validate implements validation.Validatable.
func (r Rule) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Phase, validation.Required,
			validation.In(PhaseSkip, PhaseDate, PhaseStatus, PhaseMeta, PhaseIdentity)),
		validation.Field(&r.Kind, validation.Required,
			validation.In(KindText, KindDate, KindBool, KindList, KindNumber),
			validation.When(r.Phase == PhaseSkip, validation.In(KindBool).Error("skip rules must be bool"))),
		validation.Field(&r.Source,
			validation.When(r.System == "" || r.Phase == PhaseSkip, validation.Required)),
		validation.Field(&r.Output,
			validation.When(r.Phase != PhaseSkip, validation.Required)),
		validation.Field(&r.System,
			validation.In(SystemCreated, SystemLastEdited, SystemID)),
		validation.Field(&r.Invert,
			validation.When(r.Invert, validation.By(func(any) error {
				if r.Kind != KindBool {
					return fmt.Errorf("invert requires a bool rule")
				}
				return nil
			}))),
	)
}

// RequiredOutputs are the keys every rule table must be able to produce.
var RequiredOutputs = []string{"title", "date", "notion_id", "draft"}

// DefaultRules returns the built-in table for a Hugo blog database.
func DefaultRules() []Rule {
	return []Rule{
		{Source: "Skip", Kind: KindBool, Phase: PhaseSkip},

		{Source: "Date", Output: "date", Kind: KindDate, Phase: PhaseDate, System: SystemCreated},
		{Source: "Last Modified", Output: "lastmod", Kind: KindDate, Phase: PhaseDate},
		{Source: "Expiry Date", Output: "expiryDate", Kind: KindDate, Phase: PhaseDate},

		{Source: "Published", Output: "draft", Kind: KindBool, Phase: PhaseStatus, Invert: true, Default: true},

		{Source: "Summary", Output: "summary", Kind: KindText, Phase: PhaseMeta, Fallback: "Description"},
		{Source: "Description", Output: "description", Kind: KindText, Phase: PhaseMeta},
		{Source: "Tags", Output: "tags", Kind: KindList, Phase: PhaseMeta},
		{Source: "Keywords", Output: "keywords", Kind: KindList, Phase: PhaseMeta, Fallback: "Tags"},
		{Source: "Categories", Output: "categories", Kind: KindList, Phase: PhaseMeta},
		{Source: "Weight", Output: "weight", Kind: KindNumber, Phase: PhaseMeta},
		{Source: "Slug", Output: "slug", Kind: KindText, Phase: PhaseMeta},
		{Source: "Author", Output: "author", Kind: KindText, Phase: PhaseMeta},

		{Source: "Name", Output: "title", Kind: KindText, Phase: PhaseIdentity, Fallback: "Title", Required: true},
		{Output: "notion_id", Kind: KindText, Phase: PhaseIdentity, System: SystemID, Required: true},
	}
}
