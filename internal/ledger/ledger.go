// Package ledger computes derived bookkeeping metrics from raw records.
// Everything here is pure: same input, same output, no side effects. The
// service layer calls Compute after every mutation to publish a fresh
// snapshot; the audit verifier deliberately does NOT use this package so the
// two derivations stay independent.
package ledger

import (
	"time"

	"catatkas/backend/internal/domain"
)

// Input carries every record set the aggregation formulas read.
type Input struct {
	Sales       []domain.SaleRecord
	Services    []domain.ServiceJob
	Expenses    []domain.ExpenseRecord
	Withdrawals []domain.WithdrawalEntry
	Offsets     domain.OffsetState
}

func FromSnapshot(snap domain.BookSnapshot) Input {
	return Input{
		Sales:       snap.Sales,
		Services:    snap.Services,
		Expenses:    snap.Expenses,
		Withdrawals: snap.Withdrawals,
		Offsets:     snap.Offsets,
	}
}

// Compute derives the full metrics snapshot.
//
// Sale profit counts only when the sale is not on credit and its collection
// has been logged exactly once. Investment-remaining aggregates subtract
// their category offset and clamp at zero. Net profit subtracts the
// net-profit offset and may legitimately go negative.
func Compute(in Input) domain.MetricsSnapshot {
	var m domain.MetricsSnapshot

	var stockInvestedCents int64
	for _, sale := range in.Sales {
		if sale.Status == domain.SaleCredit {
			m.PendingCreditCents += outstanding(sale.RemainingCents, sale.TotalCents)
			continue
		}
		if sale.CollectionLogged {
			m.SaleProfitCollectedCents += sale.ProfitCents
		}
		stockInvestedCents += nonNegative(sale.Qty) * nonNegative(sale.UnitCostCents)
	}

	var serviceInvestedCents int64
	for _, job := range in.Services {
		switch job.Status {
		case domain.ServiceCompleted:
			m.ServiceProfitCollectedCents += job.ProfitCents
			serviceInvestedCents += nonNegative(job.InvestCents)
		case domain.ServiceCredit:
			m.PendingCreditCents += outstanding(job.RemainingCents, job.PaidCents)
		}
	}

	for _, expense := range in.Expenses {
		m.TotalExpensesCents += nonNegative(expense.AmountCents)
	}

	for _, withdrawal := range in.Withdrawals {
		m.ProfitWithdrawnCents += nonNegative(withdrawal.AmountCents)
	}

	m.StockInvestmentRemainingCents = clampZero(stockInvestedCents - in.Offsets.StockInvestmentCents)
	m.ServiceInvestmentRemainingCents = clampZero(serviceInvestedCents - in.Offsets.ServiceInvestmentCents)
	m.LiveExpensesCents = clampZero(m.TotalExpensesCents - in.Offsets.ExpensesSettledCents)
	m.NetProfitCents = m.SaleProfitCollectedCents + m.ServiceProfitCollectedCents - m.TotalExpensesCents - in.Offsets.NetProfitCents
	m.ComputedAt = time.Now().UTC()

	return m
}

// Available reports how much can still be collected for a category. Credit
// clearance is not manually collectable; its entries are appended only by
// settling the originating record.
func Available(in Input, category domain.OffsetCategory) int64 {
	m := Compute(in)
	switch category {
	case domain.OffsetNetProfit:
		return clampZero(m.NetProfitCents)
	case domain.OffsetStockInvestment:
		return m.StockInvestmentRemainingCents
	case domain.OffsetServiceInvestment:
		return m.ServiceInvestmentRemainingCents
	case domain.OffsetExpensesSettled:
		return m.LiveExpensesCents
	}
	return 0
}

// AvailableWithdrawal is the cash still allowed to be physically taken out:
// net profit minus what was already withdrawn.
func AvailableWithdrawal(in Input) int64 {
	m := Compute(in)
	return clampZero(m.NetProfitCents - m.ProfitWithdrawnCents)
}

// outstanding picks the remaining balance of a credit record, falling back
// to the full amount when no partial payment was ever recorded.
func outstanding(remainingCents, totalCents int64) int64 {
	if remainingCents > 0 {
		return remainingCents
	}
	return nonNegative(totalCents)
}

func clampZero(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

// nonNegative coerces garbage amounts to zero so a single malformed record
// (e.g. from a corrupted mirror payload) cannot poison an aggregate.
func nonNegative(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
