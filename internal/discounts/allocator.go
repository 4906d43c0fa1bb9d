package discounts

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/lucasferrero/channelsync-backend/pkg/money"
)

// Line is one eligible order line the aggregate discount can land on.
type Line struct {
	ID string

	// Subtotal is the tax-exclusive line amount.
	Subtotal decimal.Decimal

	// TaxKey canonically identifies the line's tax set; lines with the same
	// key share a tax configuration. TaxPercent is the summed rate of that
	// set, TaxIDs the internal tax ids a materialized line carries.
	TaxKey     string
	TaxPercent decimal.Decimal
	TaxIDs     []string
}

// DiscountLine is one materialized (negative) discount line.
type DiscountLine struct {
	// LineID is set only for the per-line grouping.
	LineID string

	Amount     decimal.Decimal
	TaxKey     string
	TaxPercent decimal.Decimal
	TaxIDs     []string
}

// relativeErrorThreshold is the cut-off under which the best-fitting
// grouping is trusted; above it the discount lands on everything. The value
// is an empirically tuned policy, kept as-is for compatibility.
var relativeErrorThreshold = decimal.NewFromFloat(0.01)

type candidate struct {
	name  string
	lines []DiscountLine
	tax   decimal.Decimal
}

// Allocate distributes one aggregate order discount across lines so that the
// resulting tax amount stays close to the platform-reported one. Amounts are
// positive magnitudes on input; materialized lines are negative. The second
// return value is a note for the order's internal_info field when the
// fallback grouping was forced; allocation itself never fails.
func Allocate(lines []Line, discountTaxIncl, discountTaxExcl decimal.Decimal) ([]DiscountLine, string) {
	reportedTax := money.Diff(discountTaxIncl, discountTaxExcl)

	if reportedTax.IsZero() {
		// No tax part: a single untaxed discount line settles it.
		return []DiscountLine{{Amount: money.Round(discountTaxExcl.Neg())}}, ""
	}

	eligible := nonZeroLines(lines)
	if len(eligible) == 0 {
		return []DiscountLine{{Amount: money.Round(discountTaxExcl.Neg())}}, ""
	}

	candidates := []candidate{
		allLinesCandidate(eligible, discountTaxExcl),
		perTaxConfigCandidate(eligible, discountTaxExcl),
		perLineCandidate(eligible, discountTaxExcl),
	}

	best := candidates[0]
	bestErr := best.tax.Sub(reportedTax).Abs()
	for _, c := range candidates[1:] {
		err := c.tax.Sub(reportedTax).Abs()
		if err.LessThan(bestErr) {
			best = c
			bestErr = err
		}
	}

	relative := bestErr.Div(reportedTax.Abs())
	if relative.LessThan(relativeErrorThreshold) {
		return best.lines, ""
	}

	fallback := candidates[0]
	note := fmt.Sprintf(
		"discount allocation fell back to all lines: best grouping %q missed reported tax by %s",
		best.name, bestErr.StringFixed(money.Precision))
	return fallback.lines, note
}

func nonZeroLines(lines []Line) []Line {
	var out []Line
	for _, l := range lines {
		if l.Subtotal.Sign() > 0 {
			out = append(out, l)
		}
	}
	return out
}

// allLinesCandidate puts the whole discount on one group covering every
// line. Its predicted tax is the subtotal-weighted blend of the lines' rates;
// the materialized line carries the shared tax set when there is exactly one,
// and none otherwise.
func allLinesCandidate(lines []Line, discount decimal.Decimal) candidate {
	total := subtotalSum(lines)

	blended := decimal.Zero
	uniform := true
	for _, l := range lines {
		share := l.Subtotal.Div(total)
		blended = blended.Add(discount.Mul(share).Mul(l.TaxPercent).Div(decimal.NewFromInt(100)))
		if l.TaxKey != lines[0].TaxKey {
			uniform = false
		}
	}

	line := DiscountLine{Amount: money.Round(discount.Neg())}
	if uniform {
		line.TaxKey = lines[0].TaxKey
		line.TaxPercent = lines[0].TaxPercent
		line.TaxIDs = lines[0].TaxIDs
	}
	return candidate{name: "all_lines", lines: []DiscountLine{line}, tax: money.Round(blended)}
}

// perTaxConfigCandidate forms one group per distinct tax configuration,
// weighted by the group's subtotal share. The last group absorbs the
// rounding residual so amounts sum exactly to the discount.
func perTaxConfigCandidate(lines []Line, discount decimal.Decimal) candidate {
	total := subtotalSum(lines)

	var order []string
	groups := map[string]*Line{}
	subtotals := map[string]decimal.Decimal{}
	for _, l := range lines {
		if _, ok := groups[l.TaxKey]; !ok {
			copied := l
			groups[l.TaxKey] = &copied
			order = append(order, l.TaxKey)
		}
		subtotals[l.TaxKey] = subtotals[l.TaxKey].Add(l.Subtotal)
	}

	var out []DiscountLine
	tax := decimal.Zero
	assigned := decimal.Zero
	for i, key := range order {
		group := groups[key]
		var amount decimal.Decimal
		if i == len(order)-1 {
			amount = money.Round(discount.Sub(assigned))
		} else {
			amount = money.Round(discount.Mul(subtotals[key].Div(total)))
			assigned = assigned.Add(amount)
		}
		tax = tax.Add(amount.Mul(group.TaxPercent).Div(decimal.NewFromInt(100)))
		out = append(out, DiscountLine{
			Amount:     amount.Neg(),
			TaxKey:     group.TaxKey,
			TaxPercent: group.TaxPercent,
			TaxIDs:     group.TaxIDs,
		})
	}
	return candidate{name: "per_tax_config", lines: out, tax: money.Round(tax)}
}

// perLineCandidate forms one group per individual line.
func perLineCandidate(lines []Line, discount decimal.Decimal) candidate {
	total := subtotalSum(lines)

	var out []DiscountLine
	tax := decimal.Zero
	assigned := decimal.Zero
	for i, l := range lines {
		var amount decimal.Decimal
		if i == len(lines)-1 {
			amount = money.Round(discount.Sub(assigned))
		} else {
			amount = money.Round(discount.Mul(l.Subtotal.Div(total)))
			assigned = assigned.Add(amount)
		}
		tax = tax.Add(amount.Mul(l.TaxPercent).Div(decimal.NewFromInt(100)))
		out = append(out, DiscountLine{
			LineID:     l.ID,
			Amount:     amount.Neg(),
			TaxKey:     l.TaxKey,
			TaxPercent: l.TaxPercent,
			TaxIDs:     l.TaxIDs,
		})
	}
	return candidate{name: "per_line", lines: out, tax: money.Round(tax)}
}

func subtotalSum(lines []Line) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Subtotal)
	}
	return total
}
