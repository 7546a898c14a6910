// Package stage is the registry of the seven proposal stage kinds: the data
// shape each expects, which input fields it renders and which of those are
// backed by spreadsheet ingestion.
package stage

import (
	"slices"

	"github.com/pitabwire/hibah/model"
)

// Kind is how a field is entered.
type Kind string

// Field kinds.
const (
	KindText     Kind = "text"
	KindRichText Kind = "richtext"
	KindFile     Kind = "file"
	KindTable    Kind = "table"
	KindList     Kind = "list"
)

// Wire field names. They double as multipart form keys on the portal backend.
const (
	FieldFile          = "file"
	FieldAttachment    = "attachment"
	FieldDescription   = "description"
	FieldLeader        = "leader"
	FieldDetailProgram = "detailProgram"
	FieldRoadmap       = "roadmap"
	FieldIKU           = "iku"
	FieldActivity      = "activity"
	FieldTitle         = "title"
	FieldTools         = "tools"
	FieldIncentive     = "incentive"
	FieldResearch      = "research"
)

// Field describes one input of a stage form.
type Field struct {
	Name     string          `json:"name"`
	Label    string          `json:"label"`
	Kind     Kind            `json:"kind"`
	Table    model.TableKind `json:"table,omitempty"`
	Required bool            `json:"required"`
}

// Spec is the rendering and validation contract of one stage kind.
type Spec struct {
	Step   model.StepTag `json:"step"`
	Label  string        `json:"label"`
	Fields []Field       `json:"fields"`
}

// Field returns the named field.
func (s Spec) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// TableFields lists the fields that are filled by spreadsheet ingestion.
func (s Spec) TableFields() []Field {
	var out []Field
	for _, f := range s.Fields {
		if f.Table != "" {
			out = append(out, f)
		}
	}
	return out
}

// HasFunding reports whether the stage carries tool and incentive tables.
func (s Spec) HasFunding() bool {
	_, tools := s.Field(FieldTools)
	_, inc := s.Field(FieldIncentive)
	return tools && inc
}

var specs = map[model.StepTag]Spec{
	model.StepSelection: {
		Step:  model.StepSelection,
		Label: "Seleksi",
		Fields: []Field{
			{Name: FieldFile, Label: "Proposal", Kind: KindFile, Required: true},
			{Name: FieldAttachment, Label: "Lampiran", Kind: KindFile},
			{Name: FieldDescription, Label: "Deskripsi", Kind: KindRichText, Required: true},
			{Name: FieldLeader, Label: "Ketua", Kind: KindText, Required: true},
		},
	},
	model.StepProgramPlanning: {
		Step:  model.StepProgramPlanning,
		Label: "Perencanaan Program",
		Fields: []Field{
			{Name: FieldDetailProgram, Label: "Detail Program", Kind: KindRichText, Required: true},
			{Name: FieldRoadmap, Label: "Roadmap", Kind: KindRichText},
			{Name: FieldIKU, Label: "IKU", Kind: KindTable, Table: model.TableIKU, Required: true},
			{Name: FieldActivity, Label: "Kegiatan", Kind: KindList},
		},
	},
	model.StepEvent: {
		Step:  model.StepEvent,
		Label: "Kegiatan",
		Fields: []Field{
			{Name: FieldTitle, Label: "Judul", Kind: KindText, Required: true},
			{Name: FieldActivity, Label: "Kegiatan", Kind: KindList, Table: model.TableFunding, Required: true},
		},
	},
	model.StepFundDisbursement: {
		Step:  model.StepFundDisbursement,
		Label: "Pencairan Dana",
		Fields: []Field{
			{Name: FieldTools, Label: "Peralatan", Kind: KindTable, Table: model.TableTools, Required: true},
			{Name: FieldIncentive, Label: "Insentif", Kind: KindTable, Table: model.TableIncentive, Required: true},
		},
	},
	model.StepReportAndSPJ: {
		Step:  model.StepReportAndSPJ,
		Label: "Laporan dan SPJ",
		Fields: []Field{
			{Name: FieldActivity, Label: "Kegiatan", Kind: KindTable, Table: model.TableActivity, Required: true},
			{Name: FieldTools, Label: "Peralatan", Kind: KindTable, Table: model.TableTools},
			{Name: FieldIncentive, Label: "Insentif", Kind: KindTable, Table: model.TableIncentive},
			{Name: FieldIKU, Label: "IKU", Kind: KindTable, Table: model.TableIKU},
		},
	},
	model.StepMonitoringAndEvaluation: {
		Step:  model.StepMonitoringAndEvaluation,
		Label: "Monitoring dan Evaluasi",
		Fields: []Field{
			{Name: FieldActivity, Label: "Kegiatan", Kind: KindTable, Table: model.TableActivity, Required: true},
			{Name: FieldResearch, Label: "Penelitian", Kind: KindRichText, Required: true},
		},
	},
	model.StepAchievementIKU: {
		Step:  model.StepAchievementIKU,
		Label: "Capaian IKU",
		Fields: []Field{
			{Name: FieldIKU, Label: "IKU", Kind: KindTable, Table: model.TableIKU, Required: true},
			{Name: FieldDescription, Label: "Deskripsi", Kind: KindRichText},
		},
	},
}

// Lookup returns the Spec registered for step. Any tag outside the seven kinds is an
// UNKNOWN_STAGE error: the stage cannot be rendered.
func Lookup(step model.StepTag) (Spec, error) {
	s, ok := specs[step]
	if !ok {
		return Spec{}, model.NewUnknownStageError(string(step))
	}
	return s, nil
}

// Specs returns every stage spec in program order.
func Specs() []Spec {
	out := make([]Spec, 0, len(model.AllSteps))
	for _, step := range model.AllSteps {
		out = append(out, specs[step])
	}
	return out
}

// NewData returns the type-specific default data for step.
func NewData(step model.StepTag) (model.ProposalData, error) {
	return model.NewProposalData(step)
}

// TableKindFor resolves which ingestion table kind backs field on step.
func TableKindFor(step model.StepTag, field string) (model.TableKind, error) {
	s, err := Lookup(step)
	if err != nil {
		return "", err
	}
	f, ok := s.Field(field)
	if !ok || f.Table == "" {
		return "", model.NewBadRequestError("field " + field + " of stage " + string(step) + " is not spreadsheet backed")
	}
	return f.Table, nil
}

// FileFields lists the names of file-upload fields of step.
func FileFields(step model.StepTag) []string {
	var out []string
	for _, f := range specs[step].Fields {
		if f.Kind == KindFile {
			out = append(out, f.Name)
		}
	}
	slices.Sort(out)
	return out
}
