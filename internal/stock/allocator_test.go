package stock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func day(d int) time.Time {
	return time.Date(2026, time.January, d, 0, 0, 0, 0, time.UTC)
}

func dayPtr(d int) *time.Time {
	t := day(d)
	return &t
}

func TestPlanAllocationFIFO(t *testing.T) {
	lots := []CandidateLot{
		{BatchID: 2, LotCode: "B", Available: 5, UnitCost: 8, FirstInflowAt: day(2)},
		{BatchID: 1, LotCode: "A", Available: 10, UnitCost: 5, FirstInflowAt: day(1)},
	}

	plan, err := PlanAllocation(lots, 12, PolicyFIFO)
	require.NoError(t, err)
	require.Equal(t, []Allocation{
		{LotCode: "A", BatchID: 1, Qty: 10, UnitCost: 5},
		{LotCode: "B", BatchID: 2, Qty: 2, UnitCost: 8},
	}, plan)
}

func TestPlanAllocationFEFOExpiryFirstNilLast(t *testing.T) {
	lots := []CandidateLot{
		{BatchID: 1, LotCode: "NOEXP", Available: 10, UnitCost: 5, FirstInflowAt: day(1)},
		{BatchID: 2, LotCode: "LATE", Available: 10, UnitCost: 6, FirstInflowAt: day(2), ExpiryDate: dayPtr(20)},
		{BatchID: 3, LotCode: "SOON", Available: 4, UnitCost: 7, FirstInflowAt: day(3), ExpiryDate: dayPtr(10)},
	}

	plan, err := PlanAllocation(lots, 16, PolicyFEFO)
	require.NoError(t, err)
	require.Equal(t, []Allocation{
		{LotCode: "SOON", BatchID: 3, Qty: 4, UnitCost: 7},
		{LotCode: "LATE", BatchID: 2, Qty: 10, UnitCost: 6},
		{LotCode: "NOEXP", BatchID: 1, Qty: 2, UnitCost: 5},
	}, plan)
}

func TestPlanAllocationInsufficientFailsWhole(t *testing.T) {
	lots := []CandidateLot{
		{BatchID: 1, LotCode: "A", Available: 3, UnitCost: 5, FirstInflowAt: day(1)},
	}

	plan, err := PlanAllocation(lots, 5, PolicyFIFO)
	require.ErrorIs(t, err, ErrInsufficientStock)
	require.Nil(t, plan)
}

func TestPlanAllocationSkipsEmptyLots(t *testing.T) {
	lots := []CandidateLot{
		{BatchID: 1, LotCode: "EMPTY", Available: 0, UnitCost: 5, FirstInflowAt: day(1)},
		{BatchID: 2, LotCode: "FULL", Available: 9, UnitCost: 6, FirstInflowAt: day(2)},
	}

	plan, err := PlanAllocation(lots, 9, PolicyFIFO)
	require.NoError(t, err)
	require.Len(t, plan, 1)
	require.Equal(t, "FULL", plan[0].LotCode)
}

func TestPlanAllocationToleratesRoundingShortfall(t *testing.T) {
	lots := []CandidateLot{
		{BatchID: 1, LotCode: "A", Available: 9.995, UnitCost: 5, FirstInflowAt: day(1)},
	}

	plan, err := PlanAllocation(lots, 10, PolicyFIFO)
	require.NoError(t, err)
	require.Len(t, plan, 1)
}

func TestPlanAllocationRejectsNonPositiveQty(t *testing.T) {
	_, err := PlanAllocation(nil, 0, PolicyFIFO)
	require.ErrorIs(t, err, ErrInvalidQty)
}
