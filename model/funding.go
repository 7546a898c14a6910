package model

import "github.com/shopspring/decimal"

// PercentUndefined is rendered when a table has no proposed amount.
const PercentUndefined = "-"

// TableSummary aggregates one tool or incentive table.
type TableSummary struct {
	ProposedTotal  decimal.Decimal `json:"proposed_total"`
	AcceptedTotal  decimal.Decimal `json:"accepted_total"`
	Total          int             `json:"total"`
	Accepted       int             `json:"accepted"`
	Percent        decimal.Decimal `json:"percent"`
	PercentDefined bool            `json:"percent_defined"`
	PercentText    string          `json:"percent_text"`
}

// FundingSummary is the derived, never persisted aggregate over a stage's
// tool and incentive tables.
type FundingSummary struct {
	Tools      TableSummary `json:"tools"`
	Incentives TableSummary `json:"incentives"`
	Combined   TableSummary `json:"combined"`
}
