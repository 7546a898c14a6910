package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ProposalStatus is the review status of a proposal.
type ProposalStatus string

// Proposal statuses. A proposal is created as StatusSend; only a reviewer
// moves it to one of the others.
const (
	StatusSend     ProposalStatus = "send"
	StatusApprove  ProposalStatus = "approve"
	StatusDecline  ProposalStatus = "decline"
	StatusRevision ProposalStatus = "revision"
)

// Valid reports whether s is one of the four statuses.
func (s ProposalStatus) Valid() bool {
	switch s {
	case StatusSend, StatusApprove, StatusDecline, StatusRevision:
		return true
	}
	return false
}

// Proposal is the submission record for one (stage, actor) pair, as held by
// the portal backend.
type Proposal struct {
	ID          string         `json:"id"`
	StageID     string         `json:"timelineEvent"`
	Owner       string         `json:"owner,omitempty"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Status      ProposalStatus `json:"status"`
	Comment     string         `json:"comment,omitempty"`
	Score       float64        `json:"scores"`
	Data        ProposalData   `json:"data"`
}

// ProposalData is the stage-specific payload of a proposal. Exactly one
// variant exists per StepTag.
type ProposalData interface {
	Step() StepTag
}

// FundingTables is implemented by variants that carry tool and incentive
// budget tables.
type FundingTables interface {
	ProposalData
	FundingRows() ([]ToolRow, []IncentiveRow)
}

// SelectionData is submitted for the selection stage.
type SelectionData struct {
	File        string `json:"file"`
	Attachment  string `json:"attachment"`
	Description string `json:"description"`
	Leader      string `json:"leader"`
}

// ProgramPlanningData is submitted for the program-planning stage.
type ProgramPlanningData struct {
	DetailProgram string   `json:"detail_program"`
	Roadmap       string   `json:"roadmap"`
	IKU           []IKURow `json:"iku"`
	Activities    []string `json:"activities"`
}

// EventData is submitted for the event stage.
type EventData struct {
	Title      string          `json:"title"`
	Activities []EventActivity `json:"activities"`
}

// EventActivity is one activity of an event, with its nested sub-activities.
type EventActivity struct {
	Name          string        `json:"name"`
	SubActivities []SubActivity `json:"sub_activities"`
}

// SubActivity is one sub-activity of an event activity and its funding table.
type SubActivity struct {
	Name    string       `json:"name"`
	Funding []FundingRow `json:"funding"`
}

// FundDisbursementData is submitted for the fund-disbursement stage.
type FundDisbursementData struct {
	Tools      []ToolRow      `json:"tools"`
	Incentives []IncentiveRow `json:"incentives"`
}

// ReportAndSPJData is submitted for the report and accountability (SPJ) stage.
type ReportAndSPJData struct {
	Activities []ActivityRow  `json:"activities"`
	Tools      []ToolRow      `json:"tools"`
	Incentives []IncentiveRow `json:"incentives"`
	IKU        []IKURow       `json:"iku"`
}

// MonitoringAndEvaluationData is submitted for the monitoring and evaluation stage.
type MonitoringAndEvaluationData struct {
	Activities []ActivityRow `json:"activities"`
	Research   string        `json:"research"`
}

// AchievementIKUData is submitted for the IKU achievement stage.
type AchievementIKUData struct {
	IKU         []IKURow `json:"iku"`
	Description string   `json:"description"`
}

func (*SelectionData) Step() StepTag               { return StepSelection }
func (*ProgramPlanningData) Step() StepTag         { return StepProgramPlanning }
func (*EventData) Step() StepTag                   { return StepEvent }
func (*FundDisbursementData) Step() StepTag        { return StepFundDisbursement }
func (*ReportAndSPJData) Step() StepTag            { return StepReportAndSPJ }
func (*MonitoringAndEvaluationData) Step() StepTag { return StepMonitoringAndEvaluation }
func (*AchievementIKUData) Step() StepTag          { return StepAchievementIKU }

// FundingRows returns the tool and incentive tables.
func (d *FundDisbursementData) FundingRows() ([]ToolRow, []IncentiveRow) {
	return d.Tools, d.Incentives
}

// FundingRows returns the tool and incentive tables.
func (d *ReportAndSPJData) FundingRows() ([]ToolRow, []IncentiveRow) {
	return d.Tools, d.Incentives
}

// NewProposalData returns the empty variant for step, or an UNKNOWN_STAGE
// error.
func NewProposalData(step StepTag) (ProposalData, error) {
	switch step {
	case StepSelection:
		return &SelectionData{}, nil
	case StepProgramPlanning:
		return &ProgramPlanningData{}, nil
	case StepEvent:
		return &EventData{}, nil
	case StepFundDisbursement:
		return &FundDisbursementData{}, nil
	case StepReportAndSPJ:
		return &ReportAndSPJData{}, nil
	case StepMonitoringAndEvaluation:
		return &MonitoringAndEvaluationData{}, nil
	case StepAchievementIKU:
		return &AchievementIKUData{}, nil
	}
	return nil, NewUnknownStageError(string(step))
}

// DecodeProposalData decodes the named-field JSON form of a variant. Fields
// that do not belong to the step's shape are rejected.
func DecodeProposalData(step StepTag, raw json.RawMessage) (ProposalData, error) {
	data, err := NewProposalData(step)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return data, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(data); err != nil {
		return nil, fmt.Errorf("decode %s data: %w", step, err)
	}
	return data, nil
}
