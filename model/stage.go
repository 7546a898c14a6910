package model

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// StepTag identifies the kind of a timeline stage and, through it, the shape
// of the proposal data submitted for that stage.
type StepTag string

// The seven supported stage kinds, in program order.
const (
	StepSelection               StepTag = "selection"
	StepProgramPlanning         StepTag = "program_planning"
	StepEvent                   StepTag = "event"
	StepFundDisbursement        StepTag = "fund_disbursement"
	StepReportAndSPJ            StepTag = "report_and_spj"
	StepMonitoringAndEvaluation StepTag = "monitoring_and_evaluation"
	StepAchievementIKU          StepTag = "achievement_iku"
)

// AllSteps lists every supported stage kind in program order.
var AllSteps = []StepTag{
	StepSelection,
	StepProgramPlanning,
	StepEvent,
	StepFundDisbursement,
	StepReportAndSPJ,
	StepMonitoringAndEvaluation,
	StepAchievementIKU,
}

// ParseStepTag normalises a backend step value ("FundDisbursement",
// "fund-disbursement", "fund_disbursement") to a StepTag. The second return
// value is false for anything that is not one of the seven kinds.
func ParseStepTag(raw string) (StepTag, bool) {
	norm := strings.ToLower(strings.TrimSpace(raw))
	norm = strings.NewReplacer("-", "", "_", "", " ", "").Replace(norm)
	for _, s := range AllSteps {
		if strings.ReplaceAll(string(s), "_", "") == norm {
			return s, true
		}
	}
	return "", false
}

// UnmarshalText accepts any spelling understood by ParseStepTag and keeps
// unknown values verbatim so the registry can reject them with context.
func (s *StepTag) UnmarshalText(b []byte) error {
	if tag, ok := ParseStepTag(string(b)); ok {
		*s = tag
		return nil
	}
	*s = StepTag(b)
	return nil
}

// TableKind identifies a spreadsheet-backed table type.
type TableKind string

// Supported table kinds.
const (
	TableIKU       TableKind = "iku"
	TableTools     TableKind = "tools"
	TableIncentive TableKind = "incentive"
	TableActivity  TableKind = "activity"
	TableFunding   TableKind = "funding"
)

// AllTableKinds lists every table kind.
var AllTableKinds = []TableKind{TableIKU, TableTools, TableIncentive, TableActivity, TableFunding}

// ParseTableKind returns the TableKind for raw, or false if it is unknown.
func ParseTableKind(raw string) (TableKind, bool) {
	k := TableKind(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range AllTableKinds {
		if k == known {
			return k, true
		}
	}
	return "", false
}

// ParticipantScope says whether a timeline's proposals are owned by
// departments or by individual people.
type ParticipantScope string

// Participant scopes.
const (
	ScopeDepartment ParticipantScope = "department"
	ScopePerson     ParticipantScope = "person"
)

// Publication status of timelines and stages.
const (
	PublishDraft   = "draft"
	PublishPublish = "publish"
)

// Timeline is a named period grouping ordered stages.
type Timeline struct {
	ID          string           `json:"id"`
	Title       string           `json:"title"`
	Description string           `json:"description,omitempty"`
	Scope       ParticipantScope `json:"participant"`
	Status      string           `json:"status"`
}

// TimelineEvent is one ordered stage within a timeline.
type TimelineEvent struct {
	ID           string    `json:"id"`
	TimelineID   string    `json:"timeline"`
	Step         StepTag   `json:"step"`
	StepIndex    int       `json:"stepIndex"`
	Title        string    `json:"title"`
	Description  string    `json:"description,omitempty"`
	Participants []string  `json:"participants,omitempty"`
	Start        time.Time `json:"start"`
	Finish       time.Time `json:"finish"`
	Status       string    `json:"status"`
}

// StageState is the derived openness of a stage relative to a point in time.
type StageState string

// Stage states.
const (
	StageNotLoaded  StageState = "not_loaded"
	StageNotStarted StageState = "not_started"
	StageOpen       StageState = "open"
	StageClosed     StageState = "closed"
)

// StateAt derives the stage state at now. A stage opens at midnight of its
// start date (in loc) and closes at its exact finish instant.
func (e TimelineEvent) StateAt(now time.Time, loc *time.Location) StageState {
	if e.Start.IsZero() && e.Finish.IsZero() {
		return StageNotLoaded
	}
	if loc == nil {
		loc = time.UTC
	}
	opens := Midnight(e.Start, loc)
	switch {
	case now.Before(opens):
		return StageNotStarted
	case !now.Before(e.Finish):
		return StageClosed
	default:
		return StageOpen
	}
}

// Midnight truncates t to the start of its calendar day in loc.
func Midnight(t time.Time, loc *time.Location) time.Time {
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
}

// SortByStepIndex orders stages by stepIndex ascending, in place.
func SortByStepIndex(events []TimelineEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].StepIndex < events[j].StepIndex
	})
}

// ValidateStepOrder checks that stepIndex values are unique within a
// timeline. Callers sort first; after sorting uniqueness implies strict
// monotonicity.
func ValidateStepOrder(events []TimelineEvent) error {
	seen := make(map[int]string, len(events))
	for _, e := range events {
		if prev, dup := seen[e.StepIndex]; dup {
			return fmt.Errorf("stages %q and %q share stepIndex %d", prev, e.ID, e.StepIndex)
		}
		seen[e.StepIndex] = e.ID
	}
	return nil
}

// ActiveStage returns the first stage that is open at now, using the same
// window as StateAt: from midnight of the start day in loc until finish.
func ActiveStage(events []TimelineEvent, now time.Time, loc *time.Location) (TimelineEvent, bool) {
	for _, e := range events {
		if e.StateAt(now, loc) == StageOpen {
			return e, true
		}
	}
	return TimelineEvent{}, false
}
