package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"catatkas/backend/internal/domain"
	"catatkas/backend/internal/store"
	"catatkas/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) CreateSale(ctx context.Context, sale domain.SaleRecord) (*domain.SaleRecord, error) {
	if sale.Qty < 1 || sale.UnitPriceCents < 1 || sale.UnitCostCents < 0 {
		return nil, store.ErrInvalidRecord
	}
	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sales (
			id, sale_date, product_type, product_name, qty, unit_price_cents, total_cents,
			unit_cost_cents, profit_cents, status, customer_name, customer_phone,
			remaining_cents, collection_logged, settled_at, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	`, sale.ID, sale.Date, sale.ProductType, sale.ProductName, sale.Qty, sale.UnitPriceCents,
		sale.TotalCents, sale.UnitCostCents, sale.ProfitCents, sale.Status, nullIfEmpty(sale.CustomerName),
		nullIfEmpty(sale.CustomerPhone), sale.RemainingCents, sale.CollectionLogged, nullTime(sale.SettledAt), sale.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicateEntry
		}
		return nil, err
	}

	created := sale
	return &created, nil
}

func (s *Store) GetSale(ctx context.Context, id string) (*domain.SaleRecord, error) {
	sale, err := scanSale(s.db.QueryRowContext(ctx, saleSelect+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return sale, nil
}

func (s *Store) UpdateSale(ctx context.Context, sale domain.SaleRecord) (*domain.SaleRecord, error) {
	if sale.ID == "" {
		return nil, store.ErrInvalidRecord
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE sales
		SET sale_date = $2, product_type = $3, product_name = $4, qty = $5, unit_price_cents = $6,
			total_cents = $7, unit_cost_cents = $8, profit_cents = $9, status = $10,
			customer_name = $11, customer_phone = $12, remaining_cents = $13,
			collection_logged = $14, settled_at = $15, updated_at = now()
		WHERE id = $1
	`, sale.ID, sale.Date, sale.ProductType, sale.ProductName, sale.Qty, sale.UnitPriceCents,
		sale.TotalCents, sale.UnitCostCents, sale.ProfitCents, sale.Status, nullIfEmpty(sale.CustomerName),
		nullIfEmpty(sale.CustomerPhone), sale.RemainingCents, sale.CollectionLogged, nullTime(sale.SettledAt))
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	updated := sale
	return &updated, nil
}

func (s *Store) ListSales(ctx context.Context) ([]domain.SaleRecord, error) {
	rows, err := s.db.QueryContext(ctx, saleSelect+` ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.SaleRecord, 0, 128)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, *sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sales, nil
}

const saleSelect = `
	SELECT id, sale_date, product_type, product_name, qty, unit_price_cents, total_cents,
		unit_cost_cents, profit_cents, status, COALESCE(customer_name,''), COALESCE(customer_phone,''),
		remaining_cents, collection_logged, settled_at, created_at
	FROM sales`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSale(row rowScanner) (*domain.SaleRecord, error) {
	var sale domain.SaleRecord
	var settledAt sql.NullTime
	err := row.Scan(
		&sale.ID,
		&sale.Date,
		&sale.ProductType,
		&sale.ProductName,
		&sale.Qty,
		&sale.UnitPriceCents,
		&sale.TotalCents,
		&sale.UnitCostCents,
		&sale.ProfitCents,
		&sale.Status,
		&sale.CustomerName,
		&sale.CustomerPhone,
		&sale.RemainingCents,
		&sale.CollectionLogged,
		&settledAt,
		&sale.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	sale.CreatedAt = sale.CreatedAt.UTC()
	if settledAt.Valid {
		at := settledAt.Time.UTC()
		sale.SettledAt = &at
	}
	return &sale, nil
}

func (s *Store) CreateServiceJob(ctx context.Context, job domain.ServiceJob) (*domain.ServiceJob, error) {
	if strings.TrimSpace(job.JobName) == "" || job.InvestCents < 0 || job.PaidCents < 0 {
		return nil, store.ErrInvalidRecord
	}
	if job.ID == "" {
		job.ID = xid.New("svc")
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO service_jobs (
			id, job_name, customer_name, customer_phone, date_in, date_out,
			invest_cents, paid_cents, profit_cents, status, remaining_cents,
			completed_at, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, job.ID, job.JobName, nullIfEmpty(job.CustomerName), nullIfEmpty(job.CustomerPhone),
		job.DateIn, nullIfEmpty(job.DateOut), job.InvestCents, job.PaidCents, job.ProfitCents,
		job.Status, job.RemainingCents, nullTime(job.CompletedAt), job.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicateEntry
		}
		return nil, err
	}

	created := job
	return &created, nil
}

func (s *Store) GetServiceJob(ctx context.Context, id string) (*domain.ServiceJob, error) {
	job, err := scanServiceJob(s.db.QueryRowContext(ctx, serviceJobSelect+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

func (s *Store) UpdateServiceJob(ctx context.Context, job domain.ServiceJob) (*domain.ServiceJob, error) {
	if job.ID == "" {
		return nil, store.ErrInvalidRecord
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE service_jobs
		SET job_name = $2, customer_name = $3, customer_phone = $4, date_in = $5, date_out = $6,
			invest_cents = $7, paid_cents = $8, profit_cents = $9, status = $10,
			remaining_cents = $11, completed_at = $12, updated_at = now()
		WHERE id = $1
	`, job.ID, job.JobName, nullIfEmpty(job.CustomerName), nullIfEmpty(job.CustomerPhone),
		job.DateIn, nullIfEmpty(job.DateOut), job.InvestCents, job.PaidCents, job.ProfitCents,
		job.Status, job.RemainingCents, nullTime(job.CompletedAt))
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	updated := job
	return &updated, nil
}

func (s *Store) ListServiceJobs(ctx context.Context) ([]domain.ServiceJob, error) {
	rows, err := s.db.QueryContext(ctx, serviceJobSelect+` ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs := make([]domain.ServiceJob, 0, 64)
	for rows.Next() {
		job, err := scanServiceJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return jobs, nil
}

const serviceJobSelect = `
	SELECT id, job_name, COALESCE(customer_name,''), COALESCE(customer_phone,''), date_in,
		COALESCE(date_out,''), invest_cents, paid_cents, profit_cents, status,
		remaining_cents, completed_at, created_at
	FROM service_jobs`

func scanServiceJob(row rowScanner) (*domain.ServiceJob, error) {
	var job domain.ServiceJob
	var completedAt sql.NullTime
	err := row.Scan(
		&job.ID,
		&job.JobName,
		&job.CustomerName,
		&job.CustomerPhone,
		&job.DateIn,
		&job.DateOut,
		&job.InvestCents,
		&job.PaidCents,
		&job.ProfitCents,
		&job.Status,
		&job.RemainingCents,
		&completedAt,
		&job.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	job.CreatedAt = job.CreatedAt.UTC()
	if completedAt.Valid {
		at := completedAt.Time.UTC()
		job.CompletedAt = &at
	}
	return &job, nil
}

func (s *Store) CreateExpense(ctx context.Context, expense domain.ExpenseRecord) (*domain.ExpenseRecord, error) {
	if expense.AmountCents < 1 || strings.TrimSpace(expense.Category) == "" {
		return nil, store.ErrInvalidRecord
	}
	if expense.ID == "" {
		expense.ID = xid.New("exp")
	}
	if expense.CreatedAt.IsZero() {
		expense.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO expenses (id, expense_date, category, amount_cents, note, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, expense.ID, expense.Date, expense.Category, expense.AmountCents, expense.Note, expense.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicateEntry
		}
		return nil, err
	}

	created := expense
	return &created, nil
}

func (s *Store) ListExpenses(ctx context.Context) ([]domain.ExpenseRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, expense_date, category, amount_cents, note, created_at
		FROM expenses
		ORDER BY created_at ASC, id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	expenses := make([]domain.ExpenseRecord, 0, 64)
	for rows.Next() {
		var expense domain.ExpenseRecord
		if err := rows.Scan(&expense.ID, &expense.Date, &expense.Category, &expense.AmountCents, &expense.Note, &expense.CreatedAt); err != nil {
			return nil, err
		}
		expense.CreatedAt = expense.CreatedAt.UTC()
		expenses = append(expenses, expense)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return expenses, nil
}

// AppendCollection inserts the entry and bumps its offset row in one
// serializable transaction. The unique index on dedupe_key makes retried
// settles collapse into ErrDuplicateEntry without moving the offset.
func (s *Store) AppendCollection(ctx context.Context, entry domain.CollectionEntry) (*domain.CollectionEntry, error) {
	if entry.AmountCents < 1 {
		return nil, store.ErrInvalidAmount
	}
	if entry.ID == "" {
		entry.ID = xid.New("col")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO collections (id, category, source_id, details, amount_cents, dedupe_key, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, entry.ID, entry.Category, nullIfEmpty(entry.SourceID), entry.Details, entry.AmountCents, entry.DedupeKey(), entry.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicateEntry
		}
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO offsets (category, amount_cents, updated_at)
		VALUES ($1,$2,now())
		ON CONFLICT (category)
		DO UPDATE SET amount_cents = offsets.amount_cents + EXCLUDED.amount_cents, updated_at = now()
	`, entry.Category, entry.AmountCents)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	appended := entry
	return &appended, nil
}

func (s *Store) ListCollections(ctx context.Context) ([]domain.CollectionEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, category, COALESCE(source_id,''), details, amount_cents, created_at
		FROM collections
		ORDER BY created_at ASC, id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.CollectionEntry, 0, 64)
	for rows.Next() {
		var entry domain.CollectionEntry
		if err := rows.Scan(&entry.ID, &entry.Category, &entry.SourceID, &entry.Details, &entry.AmountCents, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) GetOffsets(ctx context.Context) (domain.OffsetState, error) {
	var offsets domain.OffsetState
	rows, err := s.db.QueryContext(ctx, `SELECT category, amount_cents FROM offsets`)
	if err != nil {
		return offsets, err
	}
	defer rows.Close()

	for rows.Next() {
		var category domain.OffsetCategory
		var amount int64
		if err := rows.Scan(&category, &amount); err != nil {
			return offsets, err
		}
		offsets.Add(category, amount)
	}
	if err := rows.Err(); err != nil {
		return offsets, err
	}
	return offsets, nil
}

func (s *Store) AppendWithdrawal(ctx context.Context, entry domain.WithdrawalEntry) (*domain.WithdrawalEntry, error) {
	if entry.AmountCents < 1 {
		return nil, store.ErrInvalidAmount
	}
	if entry.ID == "" {
		entry.ID = xid.New("wd")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO withdrawals (id, amount_cents, note, created_at)
		VALUES ($1,$2,$3,$4)
	`, entry.ID, entry.AmountCents, entry.Note, entry.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicateEntry
		}
		return nil, err
	}

	appended := entry
	return &appended, nil
}

func (s *Store) ListWithdrawals(ctx context.Context) ([]domain.WithdrawalEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, amount_cents, note, created_at
		FROM withdrawals
		ORDER BY created_at ASC, id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.WithdrawalEntry, 0, 32)
	for rows.Next() {
		var entry domain.WithdrawalEntry
		if err := rows.Scan(&entry.ID, &entry.AmountCents, &entry.Note, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) SavePublishedMetrics(ctx context.Context, snapshot domain.MetricsSnapshot) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO published_metrics (id, payload, updated_at)
		VALUES (1, $1, now())
		ON CONFLICT (id)
		DO UPDATE SET payload = EXCLUDED.payload, updated_at = now()
	`, payload)
	return err
}

func (s *Store) GetPublishedMetrics(ctx context.Context) (domain.MetricsSnapshot, error) {
	var snapshot domain.MetricsSnapshot
	var payload []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT payload FROM published_metrics WHERE id = 1
	`).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return snapshot, nil
		}
		return snapshot, err
	}
	if err := json.Unmarshal(payload, &snapshot); err != nil {
		return snapshot, err
	}
	return snapshot, nil
}

func (s *Store) BookSnapshot(ctx context.Context) (*domain.BookSnapshot, error) {
	sales, err := s.ListSales(ctx)
	if err != nil {
		return nil, err
	}
	services, err := s.ListServiceJobs(ctx)
	if err != nil {
		return nil, err
	}
	expenses, err := s.ListExpenses(ctx)
	if err != nil {
		return nil, err
	}
	collections, err := s.ListCollections(ctx)
	if err != nil {
		return nil, err
	}
	withdrawals, err := s.ListWithdrawals(ctx)
	if err != nil {
		return nil, err
	}
	offsets, err := s.GetOffsets(ctx)
	if err != nil {
		return nil, err
	}

	return &domain.BookSnapshot{
		Sales:       sales,
		Services:    services,
		Expenses:    expenses,
		Collections: collections,
		Withdrawals: withdrawals,
		Offsets:     offsets,
	}, nil
}

func (s *Store) ReplaceSales(ctx context.Context, sales []domain.SaleRecord) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM sales`); err != nil {
		return err
	}
	for _, sale := range sales {
		if sale.ID == "" {
			sale.ID = xid.New("sale")
		}
		if sale.CreatedAt.IsZero() {
			sale.CreatedAt = time.Now().UTC()
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sales (
				id, sale_date, product_type, product_name, qty, unit_price_cents, total_cents,
				unit_cost_cents, profit_cents, status, customer_name, customer_phone,
				remaining_cents, collection_logged, settled_at, created_at
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		`, sale.ID, sale.Date, sale.ProductType, sale.ProductName, sale.Qty, sale.UnitPriceCents,
			sale.TotalCents, sale.UnitCostCents, sale.ProfitCents, sale.Status, nullIfEmpty(sale.CustomerName),
			nullIfEmpty(sale.CustomerPhone), sale.RemainingCents, sale.CollectionLogged, nullTime(sale.SettledAt), sale.CreatedAt)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *Store) ReplaceServiceJobs(ctx context.Context, jobs []domain.ServiceJob) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM service_jobs`); err != nil {
		return err
	}
	for _, job := range jobs {
		if job.ID == "" {
			job.ID = xid.New("svc")
		}
		if job.CreatedAt.IsZero() {
			job.CreatedAt = time.Now().UTC()
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO service_jobs (
				id, job_name, customer_name, customer_phone, date_in, date_out,
				invest_cents, paid_cents, profit_cents, status, remaining_cents,
				completed_at, created_at
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		`, job.ID, job.JobName, nullIfEmpty(job.CustomerName), nullIfEmpty(job.CustomerPhone),
			job.DateIn, nullIfEmpty(job.DateOut), job.InvestCents, job.PaidCents, job.ProfitCents,
			job.Status, job.RemainingCents, nullTime(job.CompletedAt), job.CreatedAt)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *Store) ReplaceExpenses(ctx context.Context, expenses []domain.ExpenseRecord) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM expenses`); err != nil {
		return err
	}
	for _, expense := range expenses {
		if expense.ID == "" {
			expense.ID = xid.New("exp")
		}
		if expense.CreatedAt.IsZero() {
			expense.CreatedAt = time.Now().UTC()
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO expenses (id, expense_date, category, amount_cents, note, created_at)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, expense.ID, expense.Date, expense.Category, expense.AmountCents, expense.Note, expense.CreatedAt)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *Store) ReplaceCollections(ctx context.Context, entries []domain.CollectionEntry) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM collections`); err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.ID == "" {
			entry.ID = xid.New("col")
		}
		if entry.CreatedAt.IsZero() {
			entry.CreatedAt = time.Now().UTC()
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO collections (id, category, source_id, details, amount_cents, dedupe_key, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
			ON CONFLICT (dedupe_key) DO NOTHING
		`, entry.ID, entry.Category, nullIfEmpty(entry.SourceID), entry.Details, entry.AmountCents, entry.DedupeKey(), entry.CreatedAt)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *Store) ReplaceWithdrawals(ctx context.Context, entries []domain.WithdrawalEntry) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM withdrawals`); err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.ID == "" {
			entry.ID = xid.New("wd")
		}
		if entry.CreatedAt.IsZero() {
			entry.CreatedAt = time.Now().UTC()
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO withdrawals (id, amount_cents, note, created_at)
			VALUES ($1,$2,$3,$4)
		`, entry.ID, entry.AmountCents, entry.Note, entry.CreatedAt)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *Store) ReplaceOffsets(ctx context.Context, offsets domain.OffsetState) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM offsets`); err != nil {
		return err
	}
	for _, category := range domain.OffsetCategories {
		amount := offsets.Amount(category)
		if amount == 0 {
			continue
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO offsets (category, amount_cents, updated_at)
			VALUES ($1,$2,now())
		`, category, amount)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// ResetAll wipes the whole book in one transaction so a half-cleared state is
// never observable.
func (s *Store) ResetAll(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"sales", "service_jobs", "expenses", "collections", "withdrawals", "offsets", "published_metrics"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidRecord
	}
	if user.Role == "" {
		user.Role = domain.RoleStaff
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicateEntry
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidRecord
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}
