package domain

import "time"

// SaleRecord is a single stock sale. TotalCents and ProfitCents are computed
// at creation (and recomputed once when a credit sale is settled); they are
// never re-derived from the raw fields afterwards.
type SaleRecord struct {
	ID               string     `json:"id"`
	Date             string     `json:"date"`
	ProductType      string     `json:"product_type"`
	ProductName      string     `json:"product_name"`
	Qty              int64      `json:"qty"`
	UnitPriceCents   int64      `json:"unit_price_cents"`
	TotalCents       int64      `json:"total_cents"`
	UnitCostCents    int64      `json:"unit_cost_cents"`
	ProfitCents      int64      `json:"profit_cents"`
	Status           SaleStatus `json:"status"`
	CustomerName     string     `json:"customer_name,omitempty"`
	CustomerPhone    string     `json:"customer_phone,omitempty"`
	RemainingCents   int64      `json:"remaining_cents,omitempty"`
	CollectionLogged bool       `json:"collection_logged"`
	CreatedAt        time.Time  `json:"created_at"`
	SettledAt        *time.Time `json:"settled_at,omitempty"`
}

type SaleCreateRequest struct {
	Date           string `json:"date,omitempty"`
	ProductType    string `json:"product_type"`
	ProductName    string `json:"product_name"`
	Qty            int64  `json:"qty"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	UnitCostCents  int64  `json:"unit_cost_cents"`
	Status         string `json:"status,omitempty"`
	CustomerName   string `json:"customer_name,omitempty"`
	CustomerPhone  string `json:"customer_phone,omitempty"`
}

// ServiceJob is a repair/service order. InvestCents is the parts cost paid
// out, PaidCents the amount billed, ProfitCents = paid - invest.
type ServiceJob struct {
	ID             string        `json:"id"`
	JobName        string        `json:"job_name"`
	CustomerName   string        `json:"customer_name,omitempty"`
	CustomerPhone  string        `json:"customer_phone,omitempty"`
	DateIn         string        `json:"date_in"`
	DateOut        string        `json:"date_out,omitempty"`
	InvestCents    int64         `json:"invest_cents"`
	PaidCents      int64         `json:"paid_cents"`
	ProfitCents    int64         `json:"profit_cents"`
	Status         ServiceStatus `json:"status"`
	RemainingCents int64         `json:"remaining_cents,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	CompletedAt    *time.Time    `json:"completed_at,omitempty"`
}

type ServiceJobCreateRequest struct {
	JobName       string `json:"job_name"`
	CustomerName  string `json:"customer_name,omitempty"`
	CustomerPhone string `json:"customer_phone,omitempty"`
	DateIn        string `json:"date_in,omitempty"`
	DateOut       string `json:"date_out,omitempty"`
	InvestCents   int64  `json:"invest_cents"`
	PaidCents     int64  `json:"paid_cents"`
	Status        string `json:"status,omitempty"`
}

type ExpenseRecord struct {
	ID          string    `json:"id"`
	Date        string    `json:"date"`
	Category    string    `json:"category"`
	AmountCents int64     `json:"amount_cents"`
	Note        string    `json:"note,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type ExpenseCreateRequest struct {
	Date        string `json:"date,omitempty"`
	Category    string `json:"category"`
	AmountCents int64  `json:"amount_cents"`
	Note        string `json:"note,omitempty"`
}

// CollectionEntry is an immutable, append-only row recording money moved
// into the owner's hand from a recognized source. Each entry is paired with
// an offset increment for its category; the store commits both or neither.
type CollectionEntry struct {
	ID          string         `json:"id"`
	Category    OffsetCategory `json:"category"`
	SourceID    string         `json:"source_id,omitempty"`
	Details     string         `json:"details"`
	AmountCents int64          `json:"amount_cents"`
	CreatedAt   time.Time      `json:"created_at"`
}

// DedupeKey identifies an entry for duplicate suppression. The source record
// id is authoritative. Credit clearances imported without one fall back to a
// composite of day, details and amount (legacy rows). Every other entry keys
// on its own id, so two deliberate collects of the same amount on the same
// day stay distinct; only the cooldown guards those.
func (e CollectionEntry) DedupeKey() string {
	if e.SourceID != "" {
		return "src:" + e.SourceID
	}
	if e.Category == OffsetCreditCleared {
		return compositeKey(e.CreatedAt, e.Details, e.AmountCents)
	}
	return "ent:" + e.ID
}

// WithdrawalEntry records cash physically taken out of the business. It is
// tracked separately from category offsets.
type WithdrawalEntry struct {
	ID          string    `json:"id"`
	AmountCents int64     `json:"amount_cents"`
	Note        string    `json:"note,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type CollectRequest struct {
	Category    string `json:"category"`
	AmountCents int64  `json:"amount_cents"`
	Details     string `json:"details,omitempty"`
}

type CollectResponse struct {
	Entry     *CollectionEntry `json:"entry,omitempty"`
	Duplicate bool             `json:"duplicate"`
}

type WithdrawRequest struct {
	AmountCents int64  `json:"amount_cents"`
	Note        string `json:"note,omitempty"`
}

type SettleSaleResponse struct {
	Sale      SaleRecord       `json:"sale"`
	Entry     *CollectionEntry `json:"entry,omitempty"`
	Duplicate bool             `json:"duplicate"`
}

// MetricsSnapshot is the set of derived metrics shown to users. The service
// republishes it after every mutation; the audit verifier re-derives the same
// numbers independently and compares against the stored copy.
type MetricsSnapshot struct {
	SaleProfitCollectedCents        int64     `json:"sale_profit_collected_cents"`
	ServiceProfitCollectedCents     int64     `json:"service_profit_collected_cents"`
	PendingCreditCents              int64     `json:"pending_credit_cents"`
	TotalExpensesCents              int64     `json:"total_expenses_cents"`
	LiveExpensesCents               int64     `json:"live_expenses_cents"`
	StockInvestmentRemainingCents   int64     `json:"stock_investment_remaining_cents"`
	ServiceInvestmentRemainingCents int64     `json:"service_investment_remaining_cents"`
	NetProfitCents                  int64     `json:"net_profit_cents"`
	ProfitWithdrawnCents            int64     `json:"profit_withdrawn_cents"`
	ComputedAt                      time.Time `json:"computed_at"`
}

// BookSnapshot is a point-in-time copy of every record set. It is the input
// to both the ledger aggregator and the audit verifier, and the payload
// mirrored to the remote store.
type BookSnapshot struct {
	Sales       []SaleRecord      `json:"sales"`
	Services    []ServiceJob      `json:"services"`
	Expenses    []ExpenseRecord   `json:"expenses"`
	Collections []CollectionEntry `json:"collections"`
	Withdrawals []WithdrawalEntry `json:"withdrawals"`
	Offsets     OffsetState       `json:"offsets"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type StaffCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type StaffUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

const (
	RoleOwner = "owner"
	RoleStaff = "staff"
)

// Record set names as used by persistence and the remote mirror.
const (
	SetSales       = "sales"
	SetServices    = "services"
	SetExpenses    = "expenses"
	SetCollections = "collections"
	SetWithdrawals = "withdrawals"
	SetOffsets     = "offsets"
	SetMetrics     = "metrics"
)
