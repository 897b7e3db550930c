// Package audit cross-checks the published metrics against a recomputation
// of its own. The summation here is intentionally written out inline rather
// than shared with the aggregation code: two independent derivations of the
// same numbers is what makes a mismatch meaningful.
package audit

import (
	"fmt"
	"time"

	"catatkas/backend/internal/domain"
)

const (
	SeverityMismatch   = "mismatch"
	SeverityCorruption = "corruption"
)

type Finding struct {
	Metric        string `json:"metric"`
	ExpectedCents int64  `json:"expected_cents"`
	ActualCents   int64  `json:"actual_cents"`
	Severity      string `json:"severity"`
	Detail        string `json:"detail,omitempty"`
}

type Report struct {
	Findings  []Finding `json:"findings"`
	Checks    int       `json:"checks"`
	Passed    bool      `json:"passed"`
	CheckedAt time.Time `json:"checked_at"`
}

// Run re-derives every metric from raw records and compares it with the
// published snapshot. It never stops at the first discrepancy; the report
// lists everything found in one pass.
func Run(snap domain.BookSnapshot, published domain.MetricsSnapshot) Report {
	report := Report{
		Findings:  make([]Finding, 0, 4),
		CheckedAt: time.Now().UTC(),
	}

	var saleProfit, pendingCredit, stockInvested int64
	for _, sale := range snap.Sales {
		if sale.Qty < 0 || sale.TotalCents < 0 || sale.UnitPriceCents < 0 || sale.UnitCostCents < 0 {
			report.Findings = append(report.Findings, Finding{
				Metric:   "sale_record",
				Severity: SeverityCorruption,
				Detail:   fmt.Sprintf("sale %s carries a negative amount", sale.ID),
			})
		}
		if sale.Status == domain.SaleCredit {
			outstanding := sale.RemainingCents
			if outstanding <= 0 {
				outstanding = sale.TotalCents
			}
			pendingCredit += positive(outstanding)
			continue
		}
		stockInvested += positive(sale.UnitCostCents) * int64(max(sale.Qty, 0))
		if sale.CollectionLogged {
			saleProfit += sale.TotalCents - sale.UnitCostCents*int64(sale.Qty)
		}
	}

	var serviceProfit, serviceInvested int64
	for _, job := range snap.Services {
		switch job.Status {
		case domain.ServiceCompleted:
			serviceProfit += job.PaidCents - job.InvestCents
			serviceInvested += positive(job.InvestCents)
		case domain.ServiceCredit:
			outstanding := job.RemainingCents
			if outstanding <= 0 {
				outstanding = job.PaidCents
			}
			pendingCredit += positive(outstanding)
		}
	}

	var totalExpenses int64
	for _, expense := range snap.Expenses {
		if expense.AmountCents < 0 {
			report.Findings = append(report.Findings, Finding{
				Metric:   "expense_record",
				Severity: SeverityCorruption,
				Detail:   fmt.Sprintf("expense %s carries a negative amount", expense.ID),
			})
			continue
		}
		totalExpenses += expense.AmountCents
	}

	var withdrawn int64
	for _, entry := range snap.Withdrawals {
		withdrawn += positive(entry.AmountCents)
	}

	for _, category := range snap.Offsets.NegativeCategories() {
		report.Findings = append(report.Findings, Finding{
			Metric:      "offset_" + string(category),
			ActualCents: snap.Offsets.Amount(category),
			Severity:    SeverityCorruption,
			Detail:      "offsets only ever grow; a negative value means the ledger was tampered with or mis-replaced",
		})
	}

	checks := []struct {
		metric   string
		expected int64
		actual   int64
	}{
		{"sale_profit_collected", saleProfit, published.SaleProfitCollectedCents},
		{"service_profit_collected", serviceProfit, published.ServiceProfitCollectedCents},
		{"pending_credit", pendingCredit, published.PendingCreditCents},
		{"total_expenses", totalExpenses, published.TotalExpensesCents},
		{"live_expenses", clampZero(totalExpenses - snap.Offsets.ExpensesSettledCents), published.LiveExpensesCents},
		{"stock_investment_remaining", clampZero(stockInvested - snap.Offsets.StockInvestmentCents), published.StockInvestmentRemainingCents},
		{"service_investment_remaining", clampZero(serviceInvested - snap.Offsets.ServiceInvestmentCents), published.ServiceInvestmentRemainingCents},
		{"net_profit", saleProfit + serviceProfit - totalExpenses - snap.Offsets.NetProfitCents, published.NetProfitCents},
		{"profit_withdrawn", withdrawn, published.ProfitWithdrawnCents},
	}
	for _, check := range checks {
		report.Checks++
		if check.expected != check.actual {
			report.Findings = append(report.Findings, Finding{
				Metric:        check.metric,
				ExpectedCents: check.expected,
				ActualCents:   check.actual,
				Severity:      SeverityMismatch,
			})
		}
	}

	for _, remaining := range []struct {
		metric string
		value  int64
	}{
		{"stock_investment_remaining", published.StockInvestmentRemainingCents},
		{"service_investment_remaining", published.ServiceInvestmentRemainingCents},
		{"live_expenses", published.LiveExpensesCents},
	} {
		if remaining.value < 0 {
			report.Findings = append(report.Findings, Finding{
				Metric:      remaining.metric,
				ActualCents: remaining.value,
				Severity:    SeverityCorruption,
				Detail:      "published remainders are clamped at zero and can never be negative",
			})
		}
	}

	report.Passed = len(report.Findings) == 0
	return report
}

func positive(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

func clampZero(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
