package model

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestNewProposalData_everyStep(t *testing.T) {
	for _, step := range AllSteps {
		data, err := NewProposalData(step)
		if err != nil {
			t.Fatalf("NewProposalData(%q): %v", step, err)
		}
		if data.Step() != step {
			t.Errorf("NewProposalData(%q).Step() = %q", step, data.Step())
		}
	}
}

func TestNewProposalData_unknown(t *testing.T) {
	_, err := NewProposalData("Graduation")
	if !IsCode(err, ErrUnknownStage) {
		t.Errorf("err = %v, want UNKNOWN_STAGE", err)
	}
}

func TestDecodeProposalData(t *testing.T) {
	raw := json.RawMessage(`{"tools":[{"no":"1","proposed_amount":"500","accepted":"1"}],"incentives":[]}`)
	data, err := DecodeProposalData(StepFundDisbursement, raw)
	if err != nil {
		t.Fatalf("DecodeProposalData: %v", err)
	}
	fd, ok := data.(*FundDisbursementData)
	if !ok {
		t.Fatalf("data is %T, want *FundDisbursementData", data)
	}
	if len(fd.Tools) != 1 || !fd.Tools[0].IsAccepted() {
		t.Errorf("Tools = %+v", fd.Tools)
	}
}

func TestDecodeProposalData_wrongShape(t *testing.T) {
	raw := json.RawMessage(`{"research":"x"}`)
	if _, err := DecodeProposalData(StepSelection, raw); err == nil {
		t.Error("decoding monitoring fields as selection: want error")
	}
}

func TestDecodeProposalData_null(t *testing.T) {
	data, err := DecodeProposalData(StepEvent, json.RawMessage("null"))
	if err != nil {
		t.Fatalf("DecodeProposalData(null): %v", err)
	}
	if _, ok := data.(*EventData); !ok {
		t.Errorf("data is %T, want *EventData", data)
	}
}

func TestFundingTables(t *testing.T) {
	var _ FundingTables = (*FundDisbursementData)(nil)
	var _ FundingTables = (*ReportAndSPJData)(nil)

	var data ProposalData = &SelectionData{}
	if _, ok := data.(FundingTables); ok {
		t.Error("SelectionData should not carry funding tables")
	}
}

func TestRows_cellsRoundTrip(t *testing.T) {
	tool := []string{"1", "FT", "SA-1", "IKU-1", "Laptop", "i7", "2", "unit", "500", "PT X", "1000", "1"}
	if got := ToolRowFromCells(tool).Cells(); !reflect.DeepEqual(got, tool) {
		t.Errorf("tool round trip = %v, want %v", got, tool)
	}

	inc := []string{"1", "FT", "SA-1", "IKU-1", "Workshop", "3", "report", "1000", "", "", "0"}
	if got := IncentiveRowFromCells(inc).Cells(); !reflect.DeepEqual(got, inc) {
		t.Errorf("incentive round trip = %v, want %v", got, inc)
	}
}

func TestRows_shortCellsAreEmpty(t *testing.T) {
	r := ToolRowFromCells([]string{"1", "FT"})
	if r.Accepted != "" || r.ProposedAmount != "" {
		t.Errorf("missing cells = %+v, want empty", r)
	}
	if len(r.Cells()) != ToolColumns {
		t.Errorf("Cells() length = %d, want %d", len(r.Cells()), ToolColumns)
	}
}

func TestProposalStatus_Valid(t *testing.T) {
	for _, s := range []ProposalStatus{StatusSend, StatusApprove, StatusDecline, StatusRevision} {
		if !s.Valid() {
			t.Errorf("%q.Valid() = false", s)
		}
	}
	if ProposalStatus("archived").Valid() {
		t.Error("archived.Valid() = true")
	}
}
