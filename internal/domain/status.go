package domain

import (
	"fmt"
	"strings"
	"time"
)

// Statuses are closed enums. Raw strings coming in over HTTP or from the
// remote mirror must pass through the Parse functions; unrecognized values
// are rejected at the boundary instead of being carried through aggregation.

type SaleStatus string

const (
	SalePaid   SaleStatus = "paid"
	SaleCredit SaleStatus = "credit"
)

type ServiceStatus string

const (
	ServicePending   ServiceStatus = "pending"
	ServiceCompleted ServiceStatus = "completed"
	ServiceCredit    ServiceStatus = "credit"
	ServiceFailed    ServiceStatus = "failed"
)

func ParseSaleStatus(raw string) (SaleStatus, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "paid":
		return SalePaid, nil
	case "credit":
		return SaleCredit, nil
	}
	return "", fmt.Errorf("unknown sale status %q", raw)
}

func ParseServiceStatus(raw string) (ServiceStatus, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "pending":
		return ServicePending, nil
	case "completed":
		return ServiceCompleted, nil
	case "credit":
		return ServiceCredit, nil
	case "failed", "returned":
		return ServiceFailed, nil
	}
	return "", fmt.Errorf("unknown service status %q", raw)
}

// saleTransitions is the total transition table for sales. A sale moves
// Credit -> Paid exactly once; Paid is terminal.
var saleTransitions = map[SaleStatus]map[SaleStatus]bool{
	SaleCredit: {SalePaid: true},
	SalePaid:   {},
}

// serviceTransitions: Pending fans out to every settled state, Credit can
// still be completed once the customer pays. Completed and Failed are
// terminal.
var serviceTransitions = map[ServiceStatus]map[ServiceStatus]bool{
	ServicePending:   {ServiceCompleted: true, ServiceCredit: true, ServiceFailed: true},
	ServiceCredit:    {ServiceCompleted: true},
	ServiceCompleted: {},
	ServiceFailed:    {},
}

func CanTransitionSale(from, to SaleStatus) bool {
	return saleTransitions[from][to]
}

func CanTransitionService(from, to ServiceStatus) bool {
	return serviceTransitions[from][to]
}

// OffsetCategory names a monotonic accumulator of amounts already taken out
// of a raw aggregate. Offsets only grow, except on full reset.
type OffsetCategory string

const (
	OffsetNetProfit         OffsetCategory = "net_profit"
	OffsetStockInvestment   OffsetCategory = "stock_investment"
	OffsetServiceInvestment OffsetCategory = "service_investment"
	OffsetExpensesSettled   OffsetCategory = "expenses_settled"
	OffsetCreditCleared     OffsetCategory = "credit_cleared"
)

// OffsetCategories lists every category, in the order they are displayed.
var OffsetCategories = []OffsetCategory{
	OffsetNetProfit,
	OffsetStockInvestment,
	OffsetServiceInvestment,
	OffsetExpensesSettled,
	OffsetCreditCleared,
}

func ParseOffsetCategory(raw string) (OffsetCategory, error) {
	switch OffsetCategory(strings.ToLower(strings.TrimSpace(raw))) {
	case OffsetNetProfit:
		return OffsetNetProfit, nil
	case OffsetStockInvestment:
		return OffsetStockInvestment, nil
	case OffsetServiceInvestment:
		return OffsetServiceInvestment, nil
	case OffsetExpensesSettled:
		return OffsetExpensesSettled, nil
	case OffsetCreditCleared:
		return OffsetCreditCleared, nil
	}
	return "", fmt.Errorf("unknown offset category %q", raw)
}

// OffsetState holds every offset accumulator. An aggregate minus its offset
// is always clamped at zero before display; the offsets themselves must never
// go negative (a negative offset is a corruption signal, flagged by audit).
type OffsetState struct {
	NetProfitCents         int64 `json:"net_profit_cents"`
	StockInvestmentCents   int64 `json:"stock_investment_cents"`
	ServiceInvestmentCents int64 `json:"service_investment_cents"`
	ExpensesSettledCents   int64 `json:"expenses_settled_cents"`
	CreditClearedCents     int64 `json:"credit_cleared_cents"`
}

func (o OffsetState) Amount(category OffsetCategory) int64 {
	switch category {
	case OffsetNetProfit:
		return o.NetProfitCents
	case OffsetStockInvestment:
		return o.StockInvestmentCents
	case OffsetServiceInvestment:
		return o.ServiceInvestmentCents
	case OffsetExpensesSettled:
		return o.ExpensesSettledCents
	case OffsetCreditCleared:
		return o.CreditClearedCents
	}
	return 0
}

func (o *OffsetState) Add(category OffsetCategory, amountCents int64) {
	switch category {
	case OffsetNetProfit:
		o.NetProfitCents += amountCents
	case OffsetStockInvestment:
		o.StockInvestmentCents += amountCents
	case OffsetServiceInvestment:
		o.ServiceInvestmentCents += amountCents
	case OffsetExpensesSettled:
		o.ExpensesSettledCents += amountCents
	case OffsetCreditCleared:
		o.CreditClearedCents += amountCents
	}
}

// NegativeCategories returns every category whose accumulator has gone
// negative. Non-empty means corruption.
func (o OffsetState) NegativeCategories() []OffsetCategory {
	negative := make([]OffsetCategory, 0, len(OffsetCategories))
	for _, category := range OffsetCategories {
		if o.Amount(category) < 0 {
			negative = append(negative, category)
		}
	}
	return negative
}

func compositeKey(at time.Time, details string, amountCents int64) string {
	return fmt.Sprintf("%s|%s|%d", at.UTC().Format("2006-01-02"), strings.TrimSpace(details), amountCents)
}
