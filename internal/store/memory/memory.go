package memory

import (
	"context"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"catatkas/backend/internal/domain"
	"catatkas/backend/internal/store"
	"catatkas/backend/internal/xid"
)

// Store is the authoritative in-session record store. All updates happen
// under one mutex, so paired writes (collection entry + offset) and ResetAll
// are atomic by construction.
type Store struct {
	mu           sync.RWMutex
	salesByID    map[string]domain.SaleRecord
	jobsByID     map[string]domain.ServiceJob
	expensesByID map[string]domain.ExpenseRecord
	collections  []domain.CollectionEntry
	entryKeys    map[string]bool
	withdrawals  []domain.WithdrawalEntry
	offsets      domain.OffsetState
	published    domain.MetricsSnapshot

	usersByUsername map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		salesByID:       make(map[string]domain.SaleRecord),
		jobsByID:        make(map[string]domain.ServiceJob),
		expensesByID:    make(map[string]domain.ExpenseRecord),
		collections:     make([]domain.CollectionEntry, 0, 64),
		entryKeys:       make(map[string]bool),
		withdrawals:     make([]domain.WithdrawalEntry, 0, 32),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

// seedUsers builds the initial in-memory accounts for dev/demo mode.
// Credentials come from SEED_OWNER_PASSWORD and SEED_STAFF_PASSWORD; if
// unset, hardcoded dev defaults are used with a warning. These are never
// used in production (the backend uses PostgreSQL when DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	ownerPwd := envOr("SEED_OWNER_PASSWORD", "owner123")
	staffPwd := envOr("SEED_STAFF_PASSWORD", "staff123")
	if os.Getenv("SEED_OWNER_PASSWORD") == "" || os.Getenv("SEED_STAFF_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_OWNER_PASSWORD and SEED_STAFF_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"owner", ownerPwd, domain.RoleOwner},
		{"staff", staffPwd, domain.RoleStaff},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// NewSeeded returns a store preloaded with a small demo book.
func NewSeeded() *Store {
	s := New()
	s.usersByUsername = seedUsers()

	now := time.Now().UTC()
	today := now.Format("2006-01-02")

	sales := []domain.SaleRecord{
		{
			ID: xid.New("sale"), Date: today, ProductType: "casing", ProductName: "Casing Polos Hitam",
			Qty: 2, UnitPriceCents: 3500, TotalCents: 7000, UnitCostCents: 2000, ProfitCents: 3000,
			Status: domain.SalePaid, CollectionLogged: true, CreatedAt: now,
		},
		{
			ID: xid.New("sale"), Date: today, ProductType: "charger", ProductName: "Charger USB-C 20W",
			Qty: 1, UnitPriceCents: 8500, TotalCents: 8500, UnitCostCents: 5500, ProfitCents: 3000,
			Status: domain.SaleCredit, RemainingCents: 8500, CustomerName: "Budi", CreatedAt: now,
		},
	}
	for _, sale := range sales {
		s.salesByID[sale.ID] = sale
	}

	job := domain.ServiceJob{
		ID: xid.New("svc"), JobName: "Ganti LCD", CustomerName: "Sari", DateIn: today,
		InvestCents: 12000, PaidCents: 25000, ProfitCents: 13000, Status: domain.ServicePending,
		CreatedAt: now,
	}
	s.jobsByID[job.ID] = job

	expense := domain.ExpenseRecord{
		ID: xid.New("exp"), Date: today, Category: "operational", AmountCents: 1500,
		Note: "listrik kios", CreatedAt: now,
	}
	s.expensesByID[expense.ID] = expense

	return s
}

func (s *Store) CreateSale(_ context.Context, sale domain.SaleRecord) (*domain.SaleRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.Qty < 1 || sale.UnitPriceCents < 1 || sale.UnitCostCents < 0 {
		return nil, store.ErrInvalidRecord
	}
	if _, exists := s.salesByID[sale.ID]; exists {
		return nil, store.ErrDuplicateEntry
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}

	s.salesByID[sale.ID] = sale
	created := sale
	return &created, nil
}

func (s *Store) GetSale(_ context.Context, id string) (*domain.SaleRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, exists := s.salesByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copySale := sale
	return &copySale, nil
}

func (s *Store) UpdateSale(_ context.Context, sale domain.SaleRecord) (*domain.SaleRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sale.ID == "" {
		return nil, store.ErrInvalidRecord
	}
	if _, exists := s.salesByID[sale.ID]; !exists {
		return nil, store.ErrNotFound
	}

	s.salesByID[sale.ID] = sale
	updated := sale
	return &updated, nil
}

func (s *Store) ListSales(_ context.Context) ([]domain.SaleRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sales := make([]domain.SaleRecord, 0, len(s.salesByID))
	for _, sale := range s.salesByID {
		sales = append(sales, sale)
	}
	sortByCreated(sales, func(r domain.SaleRecord) (time.Time, string) { return r.CreatedAt, r.ID })
	return sales, nil
}

func (s *Store) CreateServiceJob(_ context.Context, job domain.ServiceJob) (*domain.ServiceJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job.ID == "" {
		job.ID = xid.New("svc")
	}
	if strings.TrimSpace(job.JobName) == "" || job.InvestCents < 0 || job.PaidCents < 0 {
		return nil, store.ErrInvalidRecord
	}
	if _, exists := s.jobsByID[job.ID]; exists {
		return nil, store.ErrDuplicateEntry
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}

	s.jobsByID[job.ID] = job
	created := job
	return &created, nil
}

func (s *Store) GetServiceJob(_ context.Context, id string) (*domain.ServiceJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, exists := s.jobsByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyJob := job
	return &copyJob, nil
}

func (s *Store) UpdateServiceJob(_ context.Context, job domain.ServiceJob) (*domain.ServiceJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job.ID == "" {
		return nil, store.ErrInvalidRecord
	}
	if _, exists := s.jobsByID[job.ID]; !exists {
		return nil, store.ErrNotFound
	}

	s.jobsByID[job.ID] = job
	updated := job
	return &updated, nil
}

func (s *Store) ListServiceJobs(_ context.Context) ([]domain.ServiceJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]domain.ServiceJob, 0, len(s.jobsByID))
	for _, job := range s.jobsByID {
		jobs = append(jobs, job)
	}
	sortByCreated(jobs, func(r domain.ServiceJob) (time.Time, string) { return r.CreatedAt, r.ID })
	return jobs, nil
}

func (s *Store) CreateExpense(_ context.Context, expense domain.ExpenseRecord) (*domain.ExpenseRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if expense.ID == "" {
		expense.ID = xid.New("exp")
	}
	if expense.AmountCents < 1 || strings.TrimSpace(expense.Category) == "" {
		return nil, store.ErrInvalidRecord
	}
	if _, exists := s.expensesByID[expense.ID]; exists {
		return nil, store.ErrDuplicateEntry
	}
	if expense.CreatedAt.IsZero() {
		expense.CreatedAt = time.Now().UTC()
	}

	s.expensesByID[expense.ID] = expense
	created := expense
	return &created, nil
}

func (s *Store) ListExpenses(_ context.Context) ([]domain.ExpenseRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	expenses := make([]domain.ExpenseRecord, 0, len(s.expensesByID))
	for _, expense := range s.expensesByID {
		expenses = append(expenses, expense)
	}
	sortByCreated(expenses, func(r domain.ExpenseRecord) (time.Time, string) { return r.CreatedAt, r.ID })
	return expenses, nil
}

// AppendCollection commits the entry and its offset increment in one
// critical section. Duplicate keys are rejected before anything mutates, so
// a second settle of the same sale leaves both halves untouched.
func (s *Store) AppendCollection(_ context.Context, entry domain.CollectionEntry) (*domain.CollectionEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.AmountCents < 1 {
		return nil, store.ErrInvalidAmount
	}
	if entry.ID == "" {
		entry.ID = xid.New("col")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	key := entry.DedupeKey()
	if s.entryKeys[key] {
		return nil, store.ErrDuplicateEntry
	}

	s.collections = append(s.collections, entry)
	s.entryKeys[key] = true
	s.offsets.Add(entry.Category, entry.AmountCents)

	appended := entry
	return &appended, nil
}

func (s *Store) ListCollections(_ context.Context) ([]domain.CollectionEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]domain.CollectionEntry, len(s.collections))
	copy(entries, s.collections)
	return entries, nil
}

func (s *Store) GetOffsets(_ context.Context) (domain.OffsetState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.offsets, nil
}

func (s *Store) AppendWithdrawal(_ context.Context, entry domain.WithdrawalEntry) (*domain.WithdrawalEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.AmountCents < 1 {
		return nil, store.ErrInvalidAmount
	}
	if entry.ID == "" {
		entry.ID = xid.New("wd")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	s.withdrawals = append(s.withdrawals, entry)
	appended := entry
	return &appended, nil
}

func (s *Store) ListWithdrawals(_ context.Context) ([]domain.WithdrawalEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]domain.WithdrawalEntry, len(s.withdrawals))
	copy(entries, s.withdrawals)
	return entries, nil
}

func (s *Store) SavePublishedMetrics(_ context.Context, snapshot domain.MetricsSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.published = snapshot
	return nil
}

func (s *Store) GetPublishedMetrics(_ context.Context) (domain.MetricsSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.published, nil
}

func (s *Store) BookSnapshot(_ context.Context) (*domain.BookSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := domain.BookSnapshot{
		Sales:       make([]domain.SaleRecord, 0, len(s.salesByID)),
		Services:    make([]domain.ServiceJob, 0, len(s.jobsByID)),
		Expenses:    make([]domain.ExpenseRecord, 0, len(s.expensesByID)),
		Collections: make([]domain.CollectionEntry, len(s.collections)),
		Withdrawals: make([]domain.WithdrawalEntry, len(s.withdrawals)),
		Offsets:     s.offsets,
	}
	for _, sale := range s.salesByID {
		snap.Sales = append(snap.Sales, sale)
	}
	for _, job := range s.jobsByID {
		snap.Services = append(snap.Services, job)
	}
	for _, expense := range s.expensesByID {
		snap.Expenses = append(snap.Expenses, expense)
	}
	copy(snap.Collections, s.collections)
	copy(snap.Withdrawals, s.withdrawals)

	sortByCreated(snap.Sales, func(r domain.SaleRecord) (time.Time, string) { return r.CreatedAt, r.ID })
	sortByCreated(snap.Services, func(r domain.ServiceJob) (time.Time, string) { return r.CreatedAt, r.ID })
	sortByCreated(snap.Expenses, func(r domain.ExpenseRecord) (time.Time, string) { return r.CreatedAt, r.ID })

	return &snap, nil
}

func (s *Store) ReplaceSales(_ context.Context, sales []domain.SaleRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.salesByID = make(map[string]domain.SaleRecord, len(sales))
	for _, sale := range sales {
		if sale.ID == "" {
			sale.ID = xid.New("sale")
		}
		s.salesByID[sale.ID] = sale
	}
	return nil
}

func (s *Store) ReplaceServiceJobs(_ context.Context, jobs []domain.ServiceJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.jobsByID = make(map[string]domain.ServiceJob, len(jobs))
	for _, job := range jobs {
		if job.ID == "" {
			job.ID = xid.New("svc")
		}
		s.jobsByID[job.ID] = job
	}
	return nil
}

func (s *Store) ReplaceExpenses(_ context.Context, expenses []domain.ExpenseRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expensesByID = make(map[string]domain.ExpenseRecord, len(expenses))
	for _, expense := range expenses {
		if expense.ID == "" {
			expense.ID = xid.New("exp")
		}
		s.expensesByID[expense.ID] = expense
	}
	return nil
}

func (s *Store) ReplaceCollections(_ context.Context, entries []domain.CollectionEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.collections = make([]domain.CollectionEntry, 0, len(entries))
	s.entryKeys = make(map[string]bool, len(entries))
	for _, entry := range entries {
		if entry.ID == "" {
			entry.ID = xid.New("col")
		}
		key := entry.DedupeKey()
		if s.entryKeys[key] {
			// Remote payloads may carry retried rows; keep the first.
			continue
		}
		s.collections = append(s.collections, entry)
		s.entryKeys[key] = true
	}
	return nil
}

func (s *Store) ReplaceWithdrawals(_ context.Context, entries []domain.WithdrawalEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.withdrawals = make([]domain.WithdrawalEntry, len(entries))
	copy(s.withdrawals, entries)
	return nil
}

func (s *Store) ReplaceOffsets(_ context.Context, offsets domain.OffsetState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offsets = offsets
	return nil
}

// ResetAll zeroes the whole book in one critical section. This is the only
// path that moves offsets downward.
func (s *Store) ResetAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.salesByID = make(map[string]domain.SaleRecord)
	s.jobsByID = make(map[string]domain.ServiceJob)
	s.expensesByID = make(map[string]domain.ExpenseRecord)
	s.collections = s.collections[:0]
	s.entryKeys = make(map[string]bool)
	s.withdrawals = s.withdrawals[:0]
	s.offsets = domain.OffsetState{}
	s.published = domain.MetricsSnapshot{}
	return nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.Username == "" || user.Password == "" {
		return store.ErrInvalidRecord
	}
	if _, exists := s.usersByUsername[user.Username]; exists {
		return store.ErrDuplicateEntry
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func sortByCreated[T any](items []T, key func(T) (time.Time, string)) {
	slices.SortFunc(items, func(a, b T) int {
		at, aid := key(a)
		bt, bid := key(b)
		if at.Equal(bt) {
			return strings.Compare(aid, bid)
		}
		if at.Before(bt) {
			return -1
		}
		return 1
	})
}
