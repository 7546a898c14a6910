package funding

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitabwire/hibah/model"
)

func incentive(amount, flag string) model.IncentiveRow {
	return model.IncentiveRowFromCells([]string{"1", "ProdiA", "SA-01", "IKU-1", "Seminar", "20", "Luaran", amount, "0", "0", flag})
}

func tool(amount, flag string) model.ToolRow {
	return model.ToolRow{No: "1", ProposedAmount: amount, Accepted: flag}
}

func TestSummarize_incentiveExampleRow(t *testing.T) {
	accepted := Summarize(nil, []model.IncentiveRow{incentive("1000", "1")})
	assert.True(t, accepted.Incentives.ProposedTotal.Equal(decimal.NewFromInt(1000)))
	assert.True(t, accepted.Incentives.AcceptedTotal.Equal(decimal.NewFromInt(1000)))
	assert.Equal(t, 1, accepted.Incentives.Accepted)
	assert.Equal(t, "100.00", accepted.Incentives.PercentText)

	rejected := Summarize(nil, []model.IncentiveRow{incentive("1000", "0")})
	assert.True(t, rejected.Incentives.ProposedTotal.Equal(decimal.NewFromInt(1000)))
	assert.True(t, rejected.Incentives.AcceptedTotal.IsZero())
	assert.Equal(t, 0, rejected.Incentives.Accepted)
	assert.Equal(t, 1, rejected.Incentives.Total)
	assert.Equal(t, "0.00", rejected.Incentives.PercentText)
}

func TestSummarize_percentAndCombined(t *testing.T) {
	s := Summarize(
		[]model.ToolRow{tool("1.000.000", "1"), tool("2000000", "0"), tool("n/a", "1")},
		[]model.IncentiveRow{incentive("Rp 500.000", "1")},
	)

	assert.Equal(t, "3000000", s.Tools.ProposedTotal.String())
	assert.Equal(t, "1000000", s.Tools.AcceptedTotal.String())
	assert.Equal(t, 3, s.Tools.Total)
	assert.Equal(t, 2, s.Tools.Accepted)
	assert.Equal(t, "33.33", s.Tools.PercentText)

	assert.Equal(t, "3500000", s.Combined.ProposedTotal.String())
	assert.Equal(t, "1500000", s.Combined.AcceptedTotal.String())
	assert.Equal(t, 4, s.Combined.Total)
	assert.Equal(t, 3, s.Combined.Accepted)
	assert.Equal(t, "42.86", s.Combined.PercentText)
}

func TestSummarize_zeroProposedIsUndefined(t *testing.T) {
	s := Summarize([]model.ToolRow{tool("", "1"), tool("abc", "0")}, nil)
	assert.False(t, s.Tools.PercentDefined)
	assert.Equal(t, model.PercentUndefined, s.Tools.PercentText)
	assert.False(t, s.Incentives.PercentDefined)
	assert.Equal(t, 2, s.Tools.Total)
}

func TestSummarize_acceptedNeverExceedsProposed(t *testing.T) {
	amounts := []string{"0", "1", "250", "1.000", "99999", "12,5", "7"}
	flags := []string{"1", "0"}

	for mask := 0; mask < 1<<len(amounts); mask++ {
		var rows []model.ToolRow
		for i, a := range amounts {
			rows = append(rows, tool(a, flags[(mask>>i)&1]))
		}
		s := Summarize(rows, nil)
		require.True(t, s.Tools.AcceptedTotal.LessThanOrEqual(s.Tools.ProposedTotal), "mask %b", mask)
		require.LessOrEqual(t, s.Tools.Accepted, s.Tools.Total)
	}
}

func TestOf(t *testing.T) {
	data := &model.FundDisbursementData{Tools: []model.ToolRow{tool("10", "1")}}
	s, ok := Of(data)
	require.True(t, ok)
	assert.Equal(t, "100.00", s.Tools.PercentText)

	_, ok = Of(&model.SelectionData{})
	assert.False(t, ok)
}

func TestSummarize_exponentCellIsZero(t *testing.T) {
	done := make(chan model.FundingSummary, 1)
	go func() {
		done <- Summarize([]model.ToolRow{
			{ProposedAmount: "1e400000000"},
			{ProposedAmount: "1", Accepted: model.FlagAccepted},
		}, nil)
	}()
	select {
	case s := <-done:
		assert.Equal(t, "1", s.Tools.ProposedTotal.String())
		assert.Equal(t, "1", s.Tools.AcceptedTotal.String())
	case <-time.After(5 * time.Second):
		t.Fatal("Summarize did not return for an exponent cell")
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"1000", "1000"},
		{"1.000.000", "1000000"},
		{"1,000,000", "1000000"},
		{"Rp 1.500.000", "1500000"},
		{"Rp. 2.000", "2000"},
		{"IDR 750", "750"},
		{"1.000.000,50", "1000000.5"},
		{"1,000,000.50", "1000000.5"},
		{"12,5", "12.5"},
		{"1.5", "1.5"},
		{" 300 ", "300"},
		{"", "0"},
		{"-", "0"},
		{"abc", "0"},
		{"1E5", "0"},
		{"1e400000000", "0"},
		{"2.5e-3", "0"},
		{"-1.000", "-1000"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := ParseAmount(tt.in)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "ParseAmount(%q) = %s, want %s", tt.in, got, tt.want)
		})
	}
}
