// Package funding derives proposed and accepted totals from tool and
// incentive budget tables.
package funding

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"

	"github.com/pitabwire/hibah/model"
)

var hundred = decimal.NewFromInt(100)

// Summarize aggregates tool and incentive rows. It is a pure function of its
// inputs; callers recompute it whenever either table changes.
func Summarize(tools []model.ToolRow, incentives []model.IncentiveRow) model.FundingSummary {
	var t, inc accumulator
	for _, r := range tools {
		t.add(r.ProposedAmount, r.IsAccepted())
	}
	for _, r := range incentives {
		inc.add(r.ProposedAmount, r.IsAccepted())
	}
	combined := accumulator{
		proposed: t.proposed.Add(inc.proposed),
		accepted: t.accepted.Add(inc.accepted),
		total:    t.total + inc.total,
		count:    t.count + inc.count,
	}
	return model.FundingSummary{
		Tools:      t.summary(),
		Incentives: inc.summary(),
		Combined:   combined.summary(),
	}
}

// Of summarizes the funding tables carried by data. Variants without tool
// and incentive tables yield a zero summary and false.
func Of(data model.ProposalData) (model.FundingSummary, bool) {
	ft, ok := data.(model.FundingTables)
	if !ok {
		return model.FundingSummary{}, false
	}
	tools, incentives := ft.FundingRows()
	return Summarize(tools, incentives), true
}

type accumulator struct {
	proposed decimal.Decimal
	accepted decimal.Decimal
	total    int
	count    int
}

func (a *accumulator) add(amount string, accepted bool) {
	v := ParseAmount(amount)
	a.proposed = a.proposed.Add(v)
	a.total++
	if accepted {
		a.accepted = a.accepted.Add(v)
		a.count++
	}
}

func (a accumulator) summary() model.TableSummary {
	s := model.TableSummary{
		ProposedTotal: a.proposed,
		AcceptedTotal: a.accepted,
		Total:         a.total,
		Accepted:      a.count,
		PercentText:   model.PercentUndefined,
	}
	if a.proposed.IsZero() {
		return s
	}
	s.Percent = a.accepted.Div(a.proposed).Mul(hundred).Round(2)
	s.PercentDefined = true
	s.PercentText = s.Percent.StringFixed(2)
	return s
}

// plainNumber is the only shape handed to decimal. Exponent notation is
// refused so a cell cannot request an arbitrarily large scale.
var plainNumber = regexp.MustCompile(`^-?[0-9]+(\.[0-9]+)?$`)

// ParseAmount reads a money cell. Currency prefixes and thousands grouping
// are stripped; "1.000.000", "1,000,000" and "Rp 1.000.000,50" are all
// understood. Anything that still is not a number counts as zero.
func ParseAmount(raw string) decimal.Decimal {
	s := strings.TrimSpace(raw)
	if s == "" {
		return decimal.Zero
	}
	lower := strings.ToLower(s)
	for _, prefix := range []string{"rp.", "rp", "idr"} {
		if strings.HasPrefix(lower, prefix) {
			s = s[len(prefix):]
			break
		}
	}
	s = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
	s = normalizeSeparators(s)
	if !plainNumber.MatchString(s) {
		return decimal.Zero
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func normalizeSeparators(s string) string {
	dots := strings.Count(s, ".")
	commas := strings.Count(s, ",")

	switch {
	case dots > 0 && commas > 0:
		// The separator that appears last marks the fraction.
		if strings.LastIndex(s, ",") > strings.LastIndex(s, ".") {
			return strings.Replace(strings.ReplaceAll(s, ".", ""), ",", ".", 1)
		}
		return strings.ReplaceAll(s, ",", "")
	case dots > 1:
		return strings.ReplaceAll(s, ".", "")
	case commas > 1:
		return strings.ReplaceAll(s, ",", "")
	case dots == 1:
		if groupOfThree(s, ".") {
			return strings.ReplaceAll(s, ".", "")
		}
		return s
	case commas == 1:
		if groupOfThree(s, ",") {
			return strings.ReplaceAll(s, ",", "")
		}
		return strings.Replace(s, ",", ".", 1)
	}
	return s
}

// groupOfThree reports whether the single sep in s is followed by exactly
// three digits, which makes it a thousands separator.
func groupOfThree(s, sep string) bool {
	i := strings.Index(s, sep)
	tail := s[i+1:]
	if len(tail) != 3 {
		return false
	}
	for _, r := range tail {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
