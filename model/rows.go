package model

// Accepted-flag encodings used by tool and incentive tables.
const (
	FlagAccepted    = "1"
	FlagNotAccepted = "0"
)

// Column positions of the legacy positional row format, one map per table
// kind. The positional [][]string format is what spreadsheets carry and what
// the portal backend stores; every conversion between it and the named
// records below goes through these constants.
const (
	IKUColNo          = 0
	IKUColCode        = 1
	IKUColIndicator   = 2
	IKUColUnit        = 3
	IKUColTarget      = 4 // key column for fixed-offset ingestion
	IKUColRealization = 5
	IKUColNotes       = 6
	IKUColumns        = 7

	ToolColNo             = 0
	ToolColUnit           = 1
	ToolColSubActivity    = 2
	ToolColIKUCode        = 3
	ToolColItem           = 4
	ToolColSpecification  = 5
	ToolColQuantity       = 6
	ToolColMeasure        = 7
	ToolColUnitPrice      = 8
	ToolColSupplier       = 9
	ToolColProposedAmount = 10
	ToolColAccepted       = 11
	ToolColumns           = 12

	IncentiveColNo             = 0
	IncentiveColUnit           = 1
	IncentiveColSubActivity    = 2
	IncentiveColIKUCode        = 3
	IncentiveColActivity       = 4
	IncentiveColVolume         = 5
	IncentiveColOutput         = 6
	IncentiveColProposedAmount = 7
	IncentiveColRealization    = 8
	IncentiveColBalance        = 9
	IncentiveColAccepted       = 10
	IncentiveColumns           = 11

	ActivityColNo          = 0
	ActivityColActivity    = 1
	ActivityColSubActivity = 2
	ActivityColVolume      = 3
	ActivityColUnit        = 4
	ActivityColBudget      = 5
	ActivityColSchedule    = 6
	ActivityColumns        = 7

	FundingColNo       = 0
	FundingColItem     = 1 // key column for fixed-offset ingestion
	FundingColVolume   = 2
	FundingColUnit     = 3
	FundingColUnitCost = 4
	FundingColTotal    = 5
	FundingColumns     = 6
)

// IKURow is one row of a key-performance-indicator (IKU) table.
type IKURow struct {
	No          string `json:"no"`
	Code        string `json:"code"`
	Indicator   string `json:"indicator"`
	Unit        string `json:"unit"`
	Target      string `json:"target"`
	Realization string `json:"realization"`
	Notes       string `json:"notes"`
}

// ToolRow is one line item of an equipment (tools) budget table.
type ToolRow struct {
	No             string `json:"no"`
	Unit           string `json:"unit"`
	SubActivity    string `json:"sub_activity"`
	IKUCode        string `json:"iku_code"`
	Item           string `json:"item"`
	Specification  string `json:"specification"`
	Quantity       string `json:"quantity"`
	Measure        string `json:"measure"`
	UnitPrice      string `json:"unit_price"`
	Supplier       string `json:"supplier"`
	ProposedAmount string `json:"proposed_amount"`
	Accepted       string `json:"accepted"`
}

// IncentiveRow is one line item of an incentive budget table.
type IncentiveRow struct {
	No             string `json:"no"`
	Unit           string `json:"unit"`
	SubActivity    string `json:"sub_activity"`
	IKUCode        string `json:"iku_code"`
	Activity       string `json:"activity"`
	Volume         string `json:"volume"`
	Output         string `json:"output"`
	ProposedAmount string `json:"proposed_amount"`
	Realization    string `json:"realization"`
	Balance        string `json:"balance"`
	Accepted       string `json:"accepted"`
}

// ActivityRow is one row of an activity table.
type ActivityRow struct {
	No          string `json:"no"`
	Activity    string `json:"activity"`
	SubActivity string `json:"sub_activity"`
	Volume      string `json:"volume"`
	Unit        string `json:"unit"`
	Budget      string `json:"budget"`
	Schedule    string `json:"schedule"`
}

// FundingRow is one row of an event funding table.
type FundingRow struct {
	No       string `json:"no"`
	Item     string `json:"item"`
	Volume   string `json:"volume"`
	Unit     string `json:"unit"`
	UnitCost string `json:"unit_cost"`
	Total    string `json:"total"`
}

// IsAccepted reports whether the reviewer accepted the line item.
func (r ToolRow) IsAccepted() bool { return r.Accepted == FlagAccepted }

// IsAccepted reports whether the reviewer accepted the line item.
func (r IncentiveRow) IsAccepted() bool { return r.Accepted == FlagAccepted }

func cell(cells []string, i int) string {
	if i < len(cells) {
		return cells[i]
	}
	return ""
}

// IKURowFromCells maps positional cells to an IKURow. Missing cells are empty.
func IKURowFromCells(c []string) IKURow {
	return IKURow{
		No:          cell(c, IKUColNo),
		Code:        cell(c, IKUColCode),
		Indicator:   cell(c, IKUColIndicator),
		Unit:        cell(c, IKUColUnit),
		Target:      cell(c, IKUColTarget),
		Realization: cell(c, IKUColRealization),
		Notes:       cell(c, IKUColNotes),
	}
}

// Cells returns the positional form of the row.
func (r IKURow) Cells() []string {
	c := make([]string, IKUColumns)
	c[IKUColNo] = r.No
	c[IKUColCode] = r.Code
	c[IKUColIndicator] = r.Indicator
	c[IKUColUnit] = r.Unit
	c[IKUColTarget] = r.Target
	c[IKUColRealization] = r.Realization
	c[IKUColNotes] = r.Notes
	return c
}

// ToolRowFromCells maps positional cells to a ToolRow. Missing cells are empty.
func ToolRowFromCells(c []string) ToolRow {
	return ToolRow{
		No:             cell(c, ToolColNo),
		Unit:           cell(c, ToolColUnit),
		SubActivity:    cell(c, ToolColSubActivity),
		IKUCode:        cell(c, ToolColIKUCode),
		Item:           cell(c, ToolColItem),
		Specification:  cell(c, ToolColSpecification),
		Quantity:       cell(c, ToolColQuantity),
		Measure:        cell(c, ToolColMeasure),
		UnitPrice:      cell(c, ToolColUnitPrice),
		Supplier:       cell(c, ToolColSupplier),
		ProposedAmount: cell(c, ToolColProposedAmount),
		Accepted:       cell(c, ToolColAccepted),
	}
}

// Cells returns the positional form of the row.
func (r ToolRow) Cells() []string {
	c := make([]string, ToolColumns)
	c[ToolColNo] = r.No
	c[ToolColUnit] = r.Unit
	c[ToolColSubActivity] = r.SubActivity
	c[ToolColIKUCode] = r.IKUCode
	c[ToolColItem] = r.Item
	c[ToolColSpecification] = r.Specification
	c[ToolColQuantity] = r.Quantity
	c[ToolColMeasure] = r.Measure
	c[ToolColUnitPrice] = r.UnitPrice
	c[ToolColSupplier] = r.Supplier
	c[ToolColProposedAmount] = r.ProposedAmount
	c[ToolColAccepted] = r.Accepted
	return c
}

// IncentiveRowFromCells maps positional cells to an IncentiveRow.
func IncentiveRowFromCells(c []string) IncentiveRow {
	return IncentiveRow{
		No:             cell(c, IncentiveColNo),
		Unit:           cell(c, IncentiveColUnit),
		SubActivity:    cell(c, IncentiveColSubActivity),
		IKUCode:        cell(c, IncentiveColIKUCode),
		Activity:       cell(c, IncentiveColActivity),
		Volume:         cell(c, IncentiveColVolume),
		Output:         cell(c, IncentiveColOutput),
		ProposedAmount: cell(c, IncentiveColProposedAmount),
		Realization:    cell(c, IncentiveColRealization),
		Balance:        cell(c, IncentiveColBalance),
		Accepted:       cell(c, IncentiveColAccepted),
	}
}

// Cells returns the positional form of the row.
func (r IncentiveRow) Cells() []string {
	c := make([]string, IncentiveColumns)
	c[IncentiveColNo] = r.No
	c[IncentiveColUnit] = r.Unit
	c[IncentiveColSubActivity] = r.SubActivity
	c[IncentiveColIKUCode] = r.IKUCode
	c[IncentiveColActivity] = r.Activity
	c[IncentiveColVolume] = r.Volume
	c[IncentiveColOutput] = r.Output
	c[IncentiveColProposedAmount] = r.ProposedAmount
	c[IncentiveColRealization] = r.Realization
	c[IncentiveColBalance] = r.Balance
	c[IncentiveColAccepted] = r.Accepted
	return c
}

// ActivityRowFromCells maps positional cells to an ActivityRow.
func ActivityRowFromCells(c []string) ActivityRow {
	return ActivityRow{
		No:          cell(c, ActivityColNo),
		Activity:    cell(c, ActivityColActivity),
		SubActivity: cell(c, ActivityColSubActivity),
		Volume:      cell(c, ActivityColVolume),
		Unit:        cell(c, ActivityColUnit),
		Budget:      cell(c, ActivityColBudget),
		Schedule:    cell(c, ActivityColSchedule),
	}
}

// Cells returns the positional form of the row.
func (r ActivityRow) Cells() []string {
	c := make([]string, ActivityColumns)
	c[ActivityColNo] = r.No
	c[ActivityColActivity] = r.Activity
	c[ActivityColSubActivity] = r.SubActivity
	c[ActivityColVolume] = r.Volume
	c[ActivityColUnit] = r.Unit
	c[ActivityColBudget] = r.Budget
	c[ActivityColSchedule] = r.Schedule
	return c
}

// FundingRowFromCells maps positional cells to a FundingRow.
func FundingRowFromCells(c []string) FundingRow {
	return FundingRow{
		No:       cell(c, FundingColNo),
		Item:     cell(c, FundingColItem),
		Volume:   cell(c, FundingColVolume),
		Unit:     cell(c, FundingColUnit),
		UnitCost: cell(c, FundingColUnitCost),
		Total:    cell(c, FundingColTotal),
	}
}

// Cells returns the positional form of the row.
func (r FundingRow) Cells() []string {
	c := make([]string, FundingColumns)
	c[FundingColNo] = r.No
	c[FundingColItem] = r.Item
	c[FundingColVolume] = r.Volume
	c[FundingColUnit] = r.Unit
	c[FundingColUnitCost] = r.UnitCost
	c[FundingColTotal] = r.Total
	return c
}
