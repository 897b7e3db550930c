package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"catatkas/backend/internal/domain"
	"catatkas/backend/internal/ledger"
	"catatkas/backend/internal/mirror"
	"catatkas/backend/internal/store"
	"catatkas/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// ChangeListener is notified after every committed mutation of the book.
type ChangeListener interface {
	RecordsChanged()
}

type Service struct {
	repo     store.Repository
	mirror   mirror.Mirror
	logger   *zap.Logger
	bookID   string
	cooldown time.Duration

	mu          sync.Mutex
	lastCollect map[domain.OffsetCategory]time.Time
	listener    ChangeListener
}

func New(repo store.Repository, m mirror.Mirror, logger *zap.Logger, bookID string, cooldown time.Duration) *Service {
	if bookID == "" {
		bookID = "main-book"
	}
	if m == nil {
		m = mirror.Noop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cooldown <= 0 {
		cooldown = 500 * time.Millisecond
	}

	return &Service{
		repo:        repo,
		mirror:      m,
		logger:      logger,
		bookID:      bookID,
		cooldown:    cooldown,
		lastCollect: make(map[domain.OffsetCategory]time.Time),
	}
}

// SetChangeListener registers the listener invoked after each mutation.
// Call before the service starts taking requests.
func (s *Service) SetChangeListener(listener ChangeListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = listener
}

func (s *Service) RecordSale(ctx context.Context, req domain.SaleCreateRequest) (domain.SaleRecord, error) {
	req.ProductType = strings.TrimSpace(req.ProductType)
	req.ProductName = strings.TrimSpace(req.ProductName)
	req.Date = strings.TrimSpace(req.Date)
	if req.ProductType == "" || req.ProductName == "" || req.Date == "" {
		return domain.SaleRecord{}, store.ErrInvalidRecord
	}
	if req.Qty < 1 || req.UnitPriceCents < 1 || req.UnitCostCents < 0 {
		return domain.SaleRecord{}, store.ErrInvalidRecord
	}

	status, err := domain.ParseSaleStatus(req.Status)
	if err != nil {
		return domain.SaleRecord{}, store.ErrInvalidRecord
	}

	total := req.UnitPriceCents * int64(req.Qty)
	sale := domain.SaleRecord{
		ID:             xid.New("sale"),
		Date:           req.Date,
		ProductType:    req.ProductType,
		ProductName:    req.ProductName,
		Qty:            req.Qty,
		UnitPriceCents: req.UnitPriceCents,
		TotalCents:     total,
		UnitCostCents:  req.UnitCostCents,
		ProfitCents:    total - req.UnitCostCents*int64(req.Qty),
		Status:         status,
		CustomerName:   strings.TrimSpace(req.CustomerName),
		CustomerPhone:  strings.TrimSpace(req.CustomerPhone),
		CreatedAt:      time.Now().UTC(),
	}

	if status == domain.SaleCredit {
		if sale.CustomerName == "" {
			return domain.SaleRecord{}, store.ErrInvalidRecord
		}
		// Nothing is collected yet; the whole total stays outstanding.
		sale.RemainingCents = total
		sale.CollectionLogged = false
	} else {
		sale.CollectionLogged = true
	}

	created, err := s.repo.CreateSale(ctx, sale)
	if err != nil {
		return domain.SaleRecord{}, err
	}

	s.logger.Info("sale recorded",
		zap.String("sale_id", created.ID),
		zap.String("status", string(created.Status)),
		zap.Int64("total_cents", created.TotalCents))
	s.publish(ctx)
	return *created, nil
}

// SettleCreditSale clears a credit sale: the status flips to paid, the
// remaining balance drops to zero, the recognized profit is recomputed, and
// exactly one collection entry plus one offset increment record the cleared
// amount. Settling an already settled sale is a no-op reported as Duplicate.
func (s *Service) SettleCreditSale(ctx context.Context, saleID string) (domain.SettleSaleResponse, error) {
	sale, err := s.repo.GetSale(ctx, saleID)
	if err != nil {
		return domain.SettleSaleResponse{}, err
	}

	if sale.Status == domain.SalePaid && sale.CollectionLogged {
		return domain.SettleSaleResponse{Sale: *sale, Duplicate: true}, nil
	}
	if !domain.CanTransitionSale(sale.Status, domain.SalePaid) {
		return domain.SettleSaleResponse{}, store.ErrInvalidTransition
	}

	cleared := sale.RemainingCents
	if cleared < 1 || cleared > sale.TotalCents {
		cleared = sale.TotalCents
	}

	now := time.Now().UTC()
	updated := *sale
	updated.Status = domain.SalePaid
	updated.RemainingCents = 0
	updated.CollectionLogged = true
	updated.ProfitCents = updated.TotalCents - updated.UnitCostCents*int64(updated.Qty)
	updated.SettledAt = &now

	if _, err := s.repo.UpdateSale(ctx, updated); err != nil {
		return domain.SettleSaleResponse{}, err
	}

	details := updated.ProductName
	if updated.CustomerName != "" {
		details = updated.CustomerName + " / " + updated.ProductName
	}
	entry, err := s.repo.AppendCollection(ctx, domain.CollectionEntry{
		Category:    domain.OffsetCreditCleared,
		SourceID:    updated.ID,
		Details:     details,
		AmountCents: cleared,
		CreatedAt:   now,
	})
	if err != nil {
		if err == store.ErrDuplicateEntry {
			// Entry landed in an earlier attempt; the sale update above is
			// the retried half catching up.
			s.publish(ctx)
			return domain.SettleSaleResponse{Sale: updated, Duplicate: true}, nil
		}
		// Put the sale back so the pair stays all-or-nothing.
		if _, revertErr := s.repo.UpdateSale(ctx, *sale); revertErr != nil {
			s.logger.Error("failed to revert sale after collection failure",
				zap.String("sale_id", sale.ID),
				zap.Error(revertErr))
		}
		return domain.SettleSaleResponse{}, err
	}

	s.logger.Info("credit sale settled",
		zap.String("sale_id", updated.ID),
		zap.Int64("cleared_cents", cleared))
	s.publish(ctx)
	return domain.SettleSaleResponse{Sale: updated, Entry: entry}, nil
}

func (s *Service) ListSales(ctx context.Context) ([]domain.SaleRecord, error) {
	return s.repo.ListSales(ctx)
}

func (s *Service) RecordServiceJob(ctx context.Context, req domain.ServiceJobCreateRequest) (domain.ServiceJob, error) {
	req.JobName = strings.TrimSpace(req.JobName)
	req.DateIn = strings.TrimSpace(req.DateIn)
	if req.JobName == "" || req.DateIn == "" {
		return domain.ServiceJob{}, store.ErrInvalidRecord
	}
	if req.InvestCents < 0 || req.PaidCents < 0 {
		return domain.ServiceJob{}, store.ErrInvalidRecord
	}

	status, err := domain.ParseServiceStatus(req.Status)
	if err != nil {
		return domain.ServiceJob{}, store.ErrInvalidRecord
	}
	if status == "" {
		status = domain.ServicePending
	}

	job := domain.ServiceJob{
		ID:            xid.New("svc"),
		JobName:       req.JobName,
		CustomerName:  strings.TrimSpace(req.CustomerName),
		CustomerPhone: strings.TrimSpace(req.CustomerPhone),
		DateIn:        req.DateIn,
		DateOut:       strings.TrimSpace(req.DateOut),
		InvestCents:   req.InvestCents,
		PaidCents:     req.PaidCents,
		ProfitCents:   req.PaidCents - req.InvestCents,
		Status:        status,
		CreatedAt:     time.Now().UTC(),
	}
	if status == domain.ServiceCredit {
		job.RemainingCents = req.PaidCents
	}

	created, err := s.repo.CreateServiceJob(ctx, job)
	if err != nil {
		return domain.ServiceJob{}, err
	}

	s.logger.Info("service job recorded",
		zap.String("job_id", created.ID),
		zap.String("status", string(created.Status)))
	s.publish(ctx)
	return *created, nil
}

// CompleteServiceJob marks a pending or credit job as completed, clearing
// any outstanding balance. Completing a credit job also logs the clearance
// as a collection entry, the same way settling a credit sale does.
func (s *Service) CompleteServiceJob(ctx context.Context, jobID string) (domain.ServiceJob, error) {
	return s.transitionServiceJob(ctx, jobID, domain.ServiceCompleted)
}

// FailServiceJob marks a pending job as failed. Failed jobs contribute
// nothing to profit and their investment is written off.
func (s *Service) FailServiceJob(ctx context.Context, jobID string) (domain.ServiceJob, error) {
	return s.transitionServiceJob(ctx, jobID, domain.ServiceFailed)
}

func (s *Service) transitionServiceJob(ctx context.Context, jobID string, next domain.ServiceStatus) (domain.ServiceJob, error) {
	job, err := s.repo.GetServiceJob(ctx, jobID)
	if err != nil {
		return domain.ServiceJob{}, err
	}
	if job.Status == next {
		return *job, nil
	}
	if !domain.CanTransitionService(job.Status, next) {
		return domain.ServiceJob{}, store.ErrInvalidTransition
	}

	now := time.Now().UTC()
	updated := *job
	updated.Status = next
	switch next {
	case domain.ServiceCompleted:
		updated.RemainingCents = 0
		updated.CompletedAt = &now
		if updated.DateOut == "" {
			updated.DateOut = now.Format("2006-01-02")
		}
	case domain.ServiceFailed:
		updated.RemainingCents = 0
		updated.ProfitCents = 0
	}

	saved, err := s.repo.UpdateServiceJob(ctx, updated)
	if err != nil {
		return domain.ServiceJob{}, err
	}

	if job.Status == domain.ServiceCredit && next == domain.ServiceCompleted {
		cleared := job.RemainingCents
		if cleared < 1 || cleared > job.PaidCents {
			cleared = job.PaidCents
		}
		if cleared > 0 {
			details := updated.JobName
			if updated.CustomerName != "" {
				details = updated.CustomerName + " / " + updated.JobName
			}
			clearance := domain.CollectionEntry{
				Category:    domain.OffsetCreditCleared,
				SourceID:    updated.ID,
				Details:     details,
				AmountCents: cleared,
				CreatedAt:   now,
			}
			if _, err := s.repo.AppendCollection(ctx, clearance); err != nil && err != store.ErrDuplicateEntry {
				// Put the job back so the pair stays all-or-nothing.
				if _, revertErr := s.repo.UpdateServiceJob(ctx, *job); revertErr != nil {
					s.logger.Error("failed to revert service job after collection failure",
						zap.String("job_id", job.ID),
						zap.Error(revertErr))
				}
				return domain.ServiceJob{}, err
			}
		}
	}

	s.logger.Info("service job transitioned",
		zap.String("job_id", saved.ID),
		zap.String("from", string(job.Status)),
		zap.String("to", string(next)))
	s.publish(ctx)
	return *saved, nil
}

func (s *Service) ListServiceJobs(ctx context.Context) ([]domain.ServiceJob, error) {
	return s.repo.ListServiceJobs(ctx)
}

func (s *Service) RecordExpense(ctx context.Context, req domain.ExpenseCreateRequest) (domain.ExpenseRecord, error) {
	req.Category = strings.TrimSpace(req.Category)
	req.Date = strings.TrimSpace(req.Date)
	if req.Category == "" || req.Date == "" {
		return domain.ExpenseRecord{}, store.ErrInvalidRecord
	}
	if req.AmountCents < 1 {
		return domain.ExpenseRecord{}, store.ErrInvalidAmount
	}

	expense := domain.ExpenseRecord{
		ID:          xid.New("exp"),
		Date:        req.Date,
		Category:    req.Category,
		AmountCents: req.AmountCents,
		Note:        strings.TrimSpace(req.Note),
		CreatedAt:   time.Now().UTC(),
	}

	created, err := s.repo.CreateExpense(ctx, expense)
	if err != nil {
		return domain.ExpenseRecord{}, err
	}

	s.logger.Info("expense recorded",
		zap.String("expense_id", created.ID),
		zap.Int64("amount_cents", created.AmountCents))
	s.publish(ctx)
	return *created, nil
}

func (s *Service) ListExpenses(ctx context.Context) ([]domain.ExpenseRecord, error) {
	return s.repo.ListExpenses(ctx)
}

// Collect moves money out of a bucket: it logs a collection entry and bumps
// the matching offset so derived metrics shrink by the collected amount.
// A second click inside the cooldown window is treated as the same intent
// and acknowledged without writing anything.
func (s *Service) Collect(ctx context.Context, req domain.CollectRequest) (domain.CollectResponse, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleOwner {
		return domain.CollectResponse{}, fmt.Errorf("owner role required")
	}

	category, err := domain.ParseOffsetCategory(req.Category)
	if err != nil {
		return domain.CollectResponse{}, store.ErrInvalidRecord
	}
	if category == domain.OffsetCreditCleared {
		// Credit clearance entries come only from settling a sale.
		return domain.CollectResponse{}, store.ErrInvalidRecord
	}
	if req.AmountCents < 1 {
		return domain.CollectResponse{}, store.ErrInvalidAmount
	}

	s.mu.Lock()
	last, seen := s.lastCollect[category]
	now := time.Now()
	if seen && now.Sub(last) < s.cooldown {
		s.mu.Unlock()
		return domain.CollectResponse{Duplicate: true}, nil
	}
	s.mu.Unlock()

	// Check headroom against a fresh snapshot, never a cached one.
	snap, err := s.repo.BookSnapshot(ctx)
	if err != nil {
		return domain.CollectResponse{}, err
	}
	available := ledger.Available(ledger.FromSnapshot(*snap), category)
	if req.AmountCents > available {
		return domain.CollectResponse{}, store.ErrInsufficientBalance
	}

	details := strings.TrimSpace(req.Details)
	if details == "" {
		details = string(category)
	}
	entry, err := s.repo.AppendCollection(ctx, domain.CollectionEntry{
		Category:    category,
		Details:     details,
		AmountCents: req.AmountCents,
		CreatedAt:   time.Now().UTC(),
	})
	if err != nil {
		if err == store.ErrDuplicateEntry {
			return domain.CollectResponse{Duplicate: true}, nil
		}
		return domain.CollectResponse{}, err
	}

	s.mu.Lock()
	s.lastCollect[category] = now
	s.mu.Unlock()

	s.logger.Info("collection logged",
		zap.String("category", string(category)),
		zap.Int64("amount_cents", req.AmountCents))
	s.publish(ctx)
	return domain.CollectResponse{Entry: entry}, nil
}

func (s *Service) ListCollections(ctx context.Context) ([]domain.CollectionEntry, error) {
	return s.repo.ListCollections(ctx)
}

// Withdraw takes profit out of the book. The amount is capped by net profit
// minus everything already withdrawn.
func (s *Service) Withdraw(ctx context.Context, req domain.WithdrawRequest) (domain.WithdrawalEntry, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleOwner {
		return domain.WithdrawalEntry{}, fmt.Errorf("owner role required")
	}
	if req.AmountCents < 1 {
		return domain.WithdrawalEntry{}, store.ErrInvalidAmount
	}

	snap, err := s.repo.BookSnapshot(ctx)
	if err != nil {
		return domain.WithdrawalEntry{}, err
	}
	if req.AmountCents > ledger.AvailableWithdrawal(ledger.FromSnapshot(*snap)) {
		return domain.WithdrawalEntry{}, store.ErrInsufficientBalance
	}

	entry, err := s.repo.AppendWithdrawal(ctx, domain.WithdrawalEntry{
		AmountCents: req.AmountCents,
		Note:        strings.TrimSpace(req.Note),
		CreatedAt:   time.Now().UTC(),
	})
	if err != nil {
		return domain.WithdrawalEntry{}, err
	}

	s.logger.Info("withdrawal logged", zap.Int64("amount_cents", entry.AmountCents))
	s.publish(ctx)
	return *entry, nil
}

func (s *Service) ListWithdrawals(ctx context.Context) ([]domain.WithdrawalEntry, error) {
	return s.repo.ListWithdrawals(ctx)
}

// Metrics recomputes the snapshot from the live book.
func (s *Service) Metrics(ctx context.Context) (domain.MetricsSnapshot, error) {
	snap, err := s.repo.BookSnapshot(ctx)
	if err != nil {
		return domain.MetricsSnapshot{}, err
	}
	return ledger.Compute(ledger.FromSnapshot(*snap)), nil
}

// ResetAll wipes the whole book. Owner only.
func (s *Service) ResetAll(ctx context.Context) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleOwner {
		return fmt.Errorf("owner role required")
	}

	if err := s.repo.ResetAll(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	s.lastCollect = make(map[domain.OffsetCategory]time.Time)
	s.mu.Unlock()

	s.logger.Warn("book reset", zap.String("by", actor.Username))
	s.publish(ctx)
	return nil
}

// ReplaceRecordSet swaps one record set for the payload pushed by a remote
// writer. Unknown sets are rejected; statuses are normalized on the way in.
func (s *Service) ReplaceRecordSet(ctx context.Context, set string, payload json.RawMessage) error {
	switch set {
	case domain.SetSales:
		var sales []domain.SaleRecord
		if err := json.Unmarshal(payload, &sales); err != nil {
			return store.ErrInvalidRecord
		}
		for i := range sales {
			status, err := domain.ParseSaleStatus(string(sales[i].Status))
			if err != nil {
				return store.ErrInvalidRecord
			}
			sales[i].Status = status
		}
		if err := s.repo.ReplaceSales(ctx, sales); err != nil {
			return err
		}
	case domain.SetServices:
		var jobs []domain.ServiceJob
		if err := json.Unmarshal(payload, &jobs); err != nil {
			return store.ErrInvalidRecord
		}
		for i := range jobs {
			status, err := domain.ParseServiceStatus(string(jobs[i].Status))
			if err != nil {
				return store.ErrInvalidRecord
			}
			if status == "" {
				status = domain.ServicePending
			}
			jobs[i].Status = status
		}
		if err := s.repo.ReplaceServiceJobs(ctx, jobs); err != nil {
			return err
		}
	case domain.SetExpenses:
		var expenses []domain.ExpenseRecord
		if err := json.Unmarshal(payload, &expenses); err != nil {
			return store.ErrInvalidRecord
		}
		if err := s.repo.ReplaceExpenses(ctx, expenses); err != nil {
			return err
		}
	case domain.SetCollections:
		var entries []domain.CollectionEntry
		if err := json.Unmarshal(payload, &entries); err != nil {
			return store.ErrInvalidRecord
		}
		if err := s.repo.ReplaceCollections(ctx, entries); err != nil {
			return err
		}
	case domain.SetWithdrawals:
		var entries []domain.WithdrawalEntry
		if err := json.Unmarshal(payload, &entries); err != nil {
			return store.ErrInvalidRecord
		}
		if err := s.repo.ReplaceWithdrawals(ctx, entries); err != nil {
			return err
		}
	case domain.SetOffsets:
		var offsets domain.OffsetState
		if err := json.Unmarshal(payload, &offsets); err != nil {
			return store.ErrInvalidRecord
		}
		if err := s.repo.ReplaceOffsets(ctx, offsets); err != nil {
			return err
		}
	default:
		return store.ErrInvalidRecord
	}

	s.logger.Info("record set replaced", zap.String("set", set))
	s.publish(ctx)
	return nil
}

// publish recomputes the metrics from the committed book, persists them,
// pushes the whole state to the remote mirror, and pings the audit listener.
// Downstream failures are logged but never surfaced to the caller: the
// local write already committed.
func (s *Service) publish(ctx context.Context) {
	snap, err := s.repo.BookSnapshot(ctx)
	if err != nil {
		s.logger.Warn("failed to snapshot book for publish", zap.Error(err))
		return
	}

	metrics := ledger.Compute(ledger.FromSnapshot(*snap))
	if err := s.repo.SavePublishedMetrics(ctx, metrics); err != nil {
		s.logger.Warn("failed to persist published metrics", zap.Error(err))
	}
	if err := s.mirror.SaveSnapshot(ctx, s.bookID, snap, metrics); err != nil {
		s.logger.Warn("failed to mirror snapshot", zap.Error(err))
	}

	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()
	if listener != nil {
		listener.RecordsChanged()
	}
}
