package stock

import (
	"fmt"
	"sort"
)

// PlanAllocation distributes the requested quantity across candidate lots
// according to the policy. It is a pure planning step: no lot is modified.
// Lots with zero availability are skipped. When the pooled availability is
// short of the request the whole plan fails with ErrInsufficientStock.
func PlanAllocation(lots []CandidateLot, qty float64, policy AllocationPolicy) ([]Allocation, error) {
	if qty <= 0 {
		return nil, ErrInvalidQty
	}
	ordered := make([]CandidateLot, len(lots))
	copy(ordered, lots)
	switch policy {
	case PolicyFEFO:
		sort.SliceStable(ordered, func(i, j int) bool {
			a, b := ordered[i].ExpiryDate, ordered[j].ExpiryDate
			switch {
			case a == nil && b == nil:
				return ordered[i].FirstInflowAt.Before(ordered[j].FirstInflowAt)
			case a == nil:
				return false
			case b == nil:
				return true
			case a.Equal(*b):
				return ordered[i].FirstInflowAt.Before(ordered[j].FirstInflowAt)
			default:
				return a.Before(*b)
			}
		})
	default:
		sort.SliceStable(ordered, func(i, j int) bool {
			return ordered[i].FirstInflowAt.Before(ordered[j].FirstInflowAt)
		})
	}

	remaining := qty
	var plan []Allocation
	for _, lot := range ordered {
		if remaining <= qtyTolerance {
			break
		}
		if lot.Available <= 0 {
			continue
		}
		take := lot.Available
		if take > remaining {
			take = remaining
		}
		plan = append(plan, Allocation{
			LotCode:  lot.LotCode,
			BatchID:  lot.BatchID,
			Qty:      take,
			UnitCost: lot.UnitCost,
		})
		remaining -= take
	}
	if remaining > qtyTolerance {
		return nil, fmt.Errorf("%w: requested %.2f available %.2f", ErrInsufficientStock, qty, qty-remaining)
	}
	return plan, nil
}
