package stage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitabwire/hibah/model"
)

func TestLookup_everyStep(t *testing.T) {
	for _, step := range model.AllSteps {
		s, err := Lookup(step)
		require.NoError(t, err, step)
		assert.Equal(t, step, s.Step)
		assert.NotEmpty(t, s.Fields, step)
	}
	assert.Len(t, Specs(), 7)
}

func TestLookup_unknownTag(t *testing.T) {
	_, err := Lookup("Graduation")
	require.Error(t, err)
	assert.True(t, model.IsCode(err, model.ErrUnknownStage))
}

func TestNewData_matchesStep(t *testing.T) {
	for _, step := range model.AllSteps {
		d, err := NewData(step)
		require.NoError(t, err)
		assert.Equal(t, step, d.Step())
	}
}

func TestTableKindFor(t *testing.T) {
	tests := []struct {
		step  model.StepTag
		field string
		want  model.TableKind
	}{
		{model.StepProgramPlanning, FieldIKU, model.TableIKU},
		{model.StepEvent, FieldActivity, model.TableFunding},
		{model.StepFundDisbursement, FieldTools, model.TableTools},
		{model.StepFundDisbursement, FieldIncentive, model.TableIncentive},
		{model.StepReportAndSPJ, FieldActivity, model.TableActivity},
		{model.StepMonitoringAndEvaluation, FieldActivity, model.TableActivity},
		{model.StepAchievementIKU, FieldIKU, model.TableIKU},
	}
	for _, tt := range tests {
		got, err := TableKindFor(tt.step, tt.field)
		require.NoError(t, err, "%s/%s", tt.step, tt.field)
		assert.Equal(t, tt.want, got)
	}

	_, err := TableKindFor(model.StepSelection, FieldDescription)
	assert.True(t, model.IsCode(err, model.ErrBadRequest))
}

func TestSpec_HasFunding(t *testing.T) {
	fd, _ := Lookup(model.StepFundDisbursement)
	spj, _ := Lookup(model.StepReportAndSPJ)
	sel, _ := Lookup(model.StepSelection)
	assert.True(t, fd.HasFunding())
	assert.True(t, spj.HasFunding())
	assert.False(t, sel.HasFunding())
}

func TestFileFields(t *testing.T) {
	assert.Equal(t, []string{FieldAttachment, FieldFile}, FileFields(model.StepSelection))
	assert.Empty(t, FileFields(model.StepEvent))
}
