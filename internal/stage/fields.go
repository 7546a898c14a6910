package stage

import (
	"strings"

	"github.com/pitabwire/hibah/internal/ingest"
	"github.com/pitabwire/hibah/model"
)

// textField returns a pointer to the string field called name on data.
func textField(data model.ProposalData, name string) (*string, bool) {
	switch d := data.(type) {
	case *model.SelectionData:
		switch name {
		case FieldFile:
			return &d.File, true
		case FieldAttachment:
			return &d.Attachment, true
		case FieldDescription:
			return &d.Description, true
		case FieldLeader:
			return &d.Leader, true
		}
	case *model.ProgramPlanningData:
		switch name {
		case FieldDetailProgram:
			return &d.DetailProgram, true
		case FieldRoadmap:
			return &d.Roadmap, true
		}
	case *model.EventData:
		if name == FieldTitle {
			return &d.Title, true
		}
	case *model.MonitoringAndEvaluationData:
		if name == FieldResearch {
			return &d.Research, true
		}
	case *model.AchievementIKUData:
		if name == FieldDescription {
			return &d.Description, true
		}
	}
	return nil, false
}

// collectionLen returns the number of rows or items held by a table or list
// field.
func collectionLen(data model.ProposalData, name string) (int, bool) {
	switch d := data.(type) {
	case *model.ProgramPlanningData:
		switch name {
		case FieldIKU:
			return len(d.IKU), true
		case FieldActivity:
			return len(d.Activities), true
		}
	case *model.EventData:
		if name == FieldActivity {
			return len(d.Activities), true
		}
	case *model.FundDisbursementData:
		switch name {
		case FieldTools:
			return len(d.Tools), true
		case FieldIncentive:
			return len(d.Incentives), true
		}
	case *model.ReportAndSPJData:
		switch name {
		case FieldActivity:
			return len(d.Activities), true
		case FieldTools:
			return len(d.Tools), true
		case FieldIncentive:
			return len(d.Incentives), true
		case FieldIKU:
			return len(d.IKU), true
		}
	case *model.MonitoringAndEvaluationData:
		if name == FieldActivity {
			return len(d.Activities), true
		}
	case *model.AchievementIKUData:
		if name == FieldIKU {
			return len(d.IKU), true
		}
	}
	return 0, false
}

func unknownField(data model.ProposalData, name string) error {
	return model.NewBadRequestError("stage " + string(data.Step()) + " has no field " + name)
}

// SetText sets a text, rich-text or file-reference field.
func SetText(data model.ProposalData, name, value string) error {
	p, ok := textField(data, name)
	if !ok {
		return unknownField(data, name)
	}
	*p = value
	return nil
}

// Text returns the value of a text, rich-text or file-reference field.
func Text(data model.ProposalData, name string) (string, bool) {
	p, ok := textField(data, name)
	if !ok {
		return "", false
	}
	return *p, true
}

// SetTable replaces a spreadsheet-backed table wholesale with rows in the
// legacy positional form.
func SetTable(data model.ProposalData, name string, rows [][]string) error {
	switch d := data.(type) {
	case *model.ProgramPlanningData:
		if name == FieldIKU {
			d.IKU = ingest.DecodeIKU(rows)
			return nil
		}
	case *model.FundDisbursementData:
		switch name {
		case FieldTools:
			d.Tools = ingest.DecodeTools(rows)
			return nil
		case FieldIncentive:
			d.Incentives = ingest.DecodeIncentives(rows)
			return nil
		}
	case *model.ReportAndSPJData:
		switch name {
		case FieldActivity:
			d.Activities = ingest.DecodeActivities(rows)
			return nil
		case FieldTools:
			d.Tools = ingest.DecodeTools(rows)
			return nil
		case FieldIncentive:
			d.Incentives = ingest.DecodeIncentives(rows)
			return nil
		case FieldIKU:
			d.IKU = ingest.DecodeIKU(rows)
			return nil
		}
	case *model.MonitoringAndEvaluationData:
		if name == FieldActivity {
			d.Activities = ingest.DecodeActivities(rows)
			return nil
		}
	case *model.AchievementIKUData:
		if name == FieldIKU {
			d.IKU = ingest.DecodeIKU(rows)
			return nil
		}
	}
	return unknownField(data, name)
}

func indexError(what string) error {
	return model.NewBadRequestError(what + " index out of range")
}

// AppendActivity adds a named activity to the stage's activity list.
func AppendActivity(data model.ProposalData, name string) error {
	switch d := data.(type) {
	case *model.ProgramPlanningData:
		d.Activities = append(d.Activities, name)
		return nil
	case *model.EventData:
		d.Activities = append(d.Activities, model.EventActivity{Name: name})
		return nil
	}
	return unknownField(data, FieldActivity)
}

// ReplaceActivity renames the activity at index. Sub-activities of an event
// activity are kept.
func ReplaceActivity(data model.ProposalData, index int, name string) error {
	switch d := data.(type) {
	case *model.ProgramPlanningData:
		if index < 0 || index >= len(d.Activities) {
			return indexError("activity")
		}
		d.Activities[index] = name
		return nil
	case *model.EventData:
		if index < 0 || index >= len(d.Activities) {
			return indexError("activity")
		}
		d.Activities[index].Name = name
		return nil
	}
	return unknownField(data, FieldActivity)
}

// AppendSubActivity adds a sub-activity under the event activity at index.
func AppendSubActivity(data model.ProposalData, activity int, sub model.SubActivity) error {
	d, ok := data.(*model.EventData)
	if !ok {
		return unknownField(data, FieldActivity)
	}
	if activity < 0 || activity >= len(d.Activities) {
		return indexError("activity")
	}
	d.Activities[activity].SubActivities = append(d.Activities[activity].SubActivities, sub)
	return nil
}

// ReplaceSubActivity replaces the sub-activity at index under activity.
func ReplaceSubActivity(data model.ProposalData, activity, index int, sub model.SubActivity) error {
	d, ok := data.(*model.EventData)
	if !ok {
		return unknownField(data, FieldActivity)
	}
	if activity < 0 || activity >= len(d.Activities) {
		return indexError("activity")
	}
	subs := d.Activities[activity].SubActivities
	if index < 0 || index >= len(subs) {
		return indexError("sub-activity")
	}
	subs[index] = sub
	return nil
}

// Missing returns one REQUIRED field error per required field of the stage
// that has no value. attached reports whether a file field has a pending
// upload; it may be nil.
func Missing(data model.ProposalData, attached func(field string) bool) []model.FieldError {
	spec, err := Lookup(data.Step())
	if err != nil {
		return []model.FieldError{{Field: "step", Code: "UNKNOWN", Message: err.Error()}}
	}

	var out []model.FieldError
	for _, f := range spec.Fields {
		if !f.Required || present(data, f, attached) {
			continue
		}
		out = append(out, model.FieldError{
			Field:   f.Name,
			Code:    "REQUIRED",
			Message: f.Label + " is required",
		})
	}
	return out
}

func present(data model.ProposalData, f Field, attached func(string) bool) bool {
	switch f.Kind {
	case KindTable, KindList:
		n, _ := collectionLen(data, f.Name)
		return n > 0
	case KindFile:
		if attached != nil && attached(f.Name) {
			return true
		}
	}
	v, _ := Text(data, f.Name)
	return strings.TrimSpace(v) != ""
}

func cells[T interface{ Cells() []string }](rows []T) [][]string {
	out := make([][]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Cells())
	}
	return out
}

// TableRows returns a spreadsheet-backed table in the legacy positional form.
func TableRows(data model.ProposalData, name string) ([][]string, bool) {
	switch d := data.(type) {
	case *model.ProgramPlanningData:
		if name == FieldIKU {
			return cells(d.IKU), true
		}
	case *model.FundDisbursementData:
		switch name {
		case FieldTools:
			return cells(d.Tools), true
		case FieldIncentive:
			return cells(d.Incentives), true
		}
	case *model.ReportAndSPJData:
		switch name {
		case FieldActivity:
			return cells(d.Activities), true
		case FieldTools:
			return cells(d.Tools), true
		case FieldIncentive:
			return cells(d.Incentives), true
		case FieldIKU:
			return cells(d.IKU), true
		}
	case *model.MonitoringAndEvaluationData:
		if name == FieldActivity {
			return cells(d.Activities), true
		}
	case *model.AchievementIKUData:
		if name == FieldIKU {
			return cells(d.IKU), true
		}
	}
	return nil, false
}
