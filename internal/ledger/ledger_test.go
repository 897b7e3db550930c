package ledger

import (
	"testing"

	"catatkas/backend/internal/domain"
)

func paidSale(qty, priceCents, costCents int64) domain.SaleRecord {
	total := qty * priceCents
	return domain.SaleRecord{
		Qty:              qty,
		UnitPriceCents:   priceCents,
		UnitCostCents:    costCents,
		TotalCents:       total,
		ProfitCents:      total - qty*costCents,
		Status:           domain.SalePaid,
		CollectionLogged: true,
	}
}

func TestComputePaidAndCreditSaleScenario(t *testing.T) {
	// qty=2, price=500, cost=300 => total=1000, profit=400.
	credit := domain.SaleRecord{
		Qty:            1,
		UnitPriceCents: 800,
		UnitCostCents:  500,
		TotalCents:     800,
		ProfitCents:    300,
		Status:         domain.SaleCredit,
		RemainingCents: 800,
	}

	m := Compute(Input{Sales: []domain.SaleRecord{paidSale(2, 500, 300), credit}})

	if m.SaleProfitCollectedCents != 400 {
		t.Fatalf("expected sale profit 400, got %d", m.SaleProfitCollectedCents)
	}
	if m.PendingCreditCents != 800 {
		t.Fatalf("expected pending credit 800, got %d", m.PendingCreditCents)
	}
	if m.StockInvestmentRemainingCents != 600 {
		t.Fatalf("expected stock investment 600 (2x300), got %d", m.StockInvestmentRemainingCents)
	}
}

func TestComputePendingCreditFallsBackToTotal(t *testing.T) {
	credit := domain.SaleRecord{TotalCents: 900, Status: domain.SaleCredit}
	m := Compute(Input{Sales: []domain.SaleRecord{credit}})
	if m.PendingCreditCents != 900 {
		t.Fatalf("expected pending credit 900 via total fallback, got %d", m.PendingCreditCents)
	}
}

func TestComputeServiceJobs(t *testing.T) {
	jobs := []domain.ServiceJob{
		{InvestCents: 200, PaidCents: 700, ProfitCents: 500, Status: domain.ServiceCompleted},
		{InvestCents: 100, PaidCents: 400, ProfitCents: 300, Status: domain.ServicePending},
		{InvestCents: 50, PaidCents: 350, ProfitCents: 300, Status: domain.ServiceCredit, RemainingCents: 350},
		{InvestCents: 120, PaidCents: 0, ProfitCents: -120, Status: domain.ServiceFailed},
	}

	m := Compute(Input{Services: jobs})

	if m.ServiceProfitCollectedCents != 500 {
		t.Fatalf("only completed jobs count: expected 500, got %d", m.ServiceProfitCollectedCents)
	}
	if m.ServiceInvestmentRemainingCents != 200 {
		t.Fatalf("expected service investment 200, got %d", m.ServiceInvestmentRemainingCents)
	}
	if m.PendingCreditCents != 350 {
		t.Fatalf("expected pending credit 350, got %d", m.PendingCreditCents)
	}
}

func TestComputeLiveExpensesClampsAtZero(t *testing.T) {
	expenses := []domain.ExpenseRecord{{AmountCents: 600}, {AmountCents: 400}}

	m := Compute(Input{
		Expenses: expenses,
		Offsets:  domain.OffsetState{ExpensesSettledCents: 400},
	})
	if m.LiveExpensesCents != 600 {
		t.Fatalf("expected live expenses 600, got %d", m.LiveExpensesCents)
	}

	m = Compute(Input{
		Expenses: expenses,
		Offsets:  domain.OffsetState{ExpensesSettledCents: 1500},
	})
	if m.LiveExpensesCents != 0 {
		t.Fatalf("expected live expenses clamped to 0, got %d", m.LiveExpensesCents)
	}
}

func TestComputeInvestmentRemainingNeverNegative(t *testing.T) {
	m := Compute(Input{
		Sales: []domain.SaleRecord{paidSale(1, 1000, 400)},
		Offsets: domain.OffsetState{
			StockInvestmentCents:   999999,
			ServiceInvestmentCents: 999999,
		},
	})
	if m.StockInvestmentRemainingCents != 0 {
		t.Fatalf("expected stock remaining 0, got %d", m.StockInvestmentRemainingCents)
	}
	if m.ServiceInvestmentRemainingCents != 0 {
		t.Fatalf("expected service remaining 0, got %d", m.ServiceInvestmentRemainingCents)
	}
}

func TestComputeNetProfitConservation(t *testing.T) {
	in := Input{
		Sales: []domain.SaleRecord{paidSale(2, 500, 300), paidSale(3, 200, 100)},
		Services: []domain.ServiceJob{
			{InvestCents: 150, PaidCents: 650, ProfitCents: 500, Status: domain.ServiceCompleted},
		},
		Expenses: []domain.ExpenseRecord{{AmountCents: 250}},
		Offsets:  domain.OffsetState{NetProfitCents: 100},
	}

	m := Compute(in)

	expected := (int64(400) + 300 + 500) - 250 - 100
	if m.NetProfitCents != expected {
		t.Fatalf("expected net profit %d, got %d", expected, m.NetProfitCents)
	}

	// Computing again from the same input must agree exactly.
	again := Compute(in)
	if again.NetProfitCents != m.NetProfitCents || again.PendingCreditCents != m.PendingCreditCents {
		t.Fatalf("compute is not deterministic")
	}
}

func TestComputeCoercesNegativeInputsToZero(t *testing.T) {
	m := Compute(Input{
		Expenses:    []domain.ExpenseRecord{{AmountCents: -500}, {AmountCents: 200}},
		Withdrawals: []domain.WithdrawalEntry{{AmountCents: -50}},
	})
	if m.TotalExpensesCents != 200 {
		t.Fatalf("negative expense must coerce to 0, got total %d", m.TotalExpensesCents)
	}
	if m.ProfitWithdrawnCents != 0 {
		t.Fatalf("negative withdrawal must coerce to 0, got %d", m.ProfitWithdrawnCents)
	}
}

func TestAvailablePerCategory(t *testing.T) {
	in := Input{
		Sales:    []domain.SaleRecord{paidSale(2, 500, 300)},
		Expenses: []domain.ExpenseRecord{{AmountCents: 100}},
	}

	if got := Available(in, domain.OffsetNetProfit); got != 300 {
		t.Fatalf("expected net available 300, got %d", got)
	}
	if got := Available(in, domain.OffsetStockInvestment); got != 600 {
		t.Fatalf("expected stock available 600, got %d", got)
	}
	if got := Available(in, domain.OffsetExpensesSettled); got != 100 {
		t.Fatalf("expected expenses available 100, got %d", got)
	}
	if got := Available(in, domain.OffsetCreditCleared); got != 0 {
		t.Fatalf("credit clearance is never manually collectable, got %d", got)
	}
}

func TestAvailableNetProfitClampsNegative(t *testing.T) {
	in := Input{Expenses: []domain.ExpenseRecord{{AmountCents: 5000}}}
	if got := Available(in, domain.OffsetNetProfit); got != 0 {
		t.Fatalf("negative net profit must clamp availability to 0, got %d", got)
	}
}

func TestAvailableWithdrawalSubtractsPriorWithdrawals(t *testing.T) {
	in := Input{
		Sales:       []domain.SaleRecord{paidSale(2, 500, 300)},
		Withdrawals: []domain.WithdrawalEntry{{AmountCents: 150}},
	}
	if got := AvailableWithdrawal(in); got != 250 {
		t.Fatalf("expected withdrawal headroom 250, got %d", got)
	}
}
