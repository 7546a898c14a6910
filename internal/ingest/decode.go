package ingest

import "github.com/pitabwire/hibah/model"

func decode[T any](rows [][]string, fn func([]string) T) []T {
	out := make([]T, 0, len(rows))
	for _, r := range rows {
		out = append(out, fn(r))
	}
	return out
}

// DecodeIKU maps positional rows to IKU records.
func DecodeIKU(rows [][]string) []model.IKURow { return decode(rows, model.IKURowFromCells) }

// DecodeTools maps positional rows to tool records.
func DecodeTools(rows [][]string) []model.ToolRow { return decode(rows, model.ToolRowFromCells) }

// DecodeIncentives maps positional rows to incentive records.
func DecodeIncentives(rows [][]string) []model.IncentiveRow {
	return decode(rows, model.IncentiveRowFromCells)
}

// DecodeActivities maps positional rows to activity records.
func DecodeActivities(rows [][]string) []model.ActivityRow {
	return decode(rows, model.ActivityRowFromCells)
}

// DecodeFunding maps positional rows to funding records.
func DecodeFunding(rows [][]string) []model.FundingRow {
	return decode(rows, model.FundingRowFromCells)
}
