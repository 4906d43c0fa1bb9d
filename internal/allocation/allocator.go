package allocation

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/lucasferrero/channelsync-backend/internal/platform"
)

// LineAllocation is one slice of an external order line assigned to a stock
// location.
type LineAllocation struct {
	LineID       string
	LocationCode string
	Quantity     decimal.Decimal
}

// Allocate splits line quantities across fulfillment groups and subtracts
// refunded quantities. It never fails: pairs that no longer fit the ledger
// are skipped and reported as notes for the order's internal_info field.
//
// The ledger starts at ordered + sum(refunds), refunds being negative
// adjustments. Groups run in reverse location-code order; the ordering has
// no business meaning, it only keeps repeated runs deterministic.
func Allocate(lines []platform.LinePayload, groups []platform.FulfillmentGroup, refunds []platform.RefundLine) ([]LineAllocation, []string) {
	ledger := make(map[string]decimal.Decimal, len(lines))
	for _, line := range lines {
		ledger[line.ExternalLineID] = line.Quantity
	}
	for _, refund := range refunds {
		if available, ok := ledger[refund.LineID]; ok {
			ledger[refund.LineID] = available.Add(refund.Quantity)
		}
	}

	ordered := make([]platform.FulfillmentGroup, len(groups))
	copy(ordered, groups)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].LocationCode > ordered[j].LocationCode
	})

	var allocations []LineAllocation
	var notes []string

	for _, group := range ordered {
		for _, pair := range group.Lines {
			available, ok := ledger[pair.LineID]
			if !ok {
				notes = append(notes, fmt.Sprintf(
					"fulfillment line %s skipped: unknown order line", pair.LineID))
				continue
			}
			if available.Sign() <= 0 {
				notes = append(notes, fmt.Sprintf(
					"fulfillment line %s skipped at location %s: no quantity left",
					pair.LineID, group.LocationCode))
				continue
			}

			quantity := decimal.Min(pair.Quantity, available)
			if quantity.Sign() <= 0 {
				continue
			}

			ledger[pair.LineID] = available.Sub(quantity)
			allocations = append(allocations, LineAllocation{
				LineID:       pair.LineID,
				LocationCode: group.LocationCode,
				Quantity:     quantity,
			})
		}
	}

	return allocations, notes
}
