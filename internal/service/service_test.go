package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"catatkas/backend/internal/domain"
	"catatkas/backend/internal/ledger"
	"catatkas/backend/internal/mirror"
	"catatkas/backend/internal/store"
	"catatkas/backend/internal/store/memory"
)

func newTestService(t *testing.T, cooldown time.Duration) (*Service, *memory.Store) {
	t.Helper()
	repo := memory.New()
	svc := New(repo, mirror.Noop{}, nil, "test-book", cooldown)
	return svc, repo
}

func ownerCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "owner", Role: domain.RoleOwner})
}

func staffCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "staff", Role: domain.RoleStaff})
}

func TestRecordSaleComputesTotalsAndProfit(t *testing.T) {
	svc, _ := newTestService(t, time.Millisecond)

	sale, err := svc.RecordSale(staffCtx(), domain.SaleCreateRequest{
		Date: "2026-03-01", ProductType: "casing", ProductName: "Casing Bening",
		Qty: 2, UnitPriceCents: 500, UnitCostCents: 300, Status: "paid",
	})
	if err != nil {
		t.Fatalf("RecordSale: %v", err)
	}
	if sale.TotalCents != 1000 {
		t.Fatalf("total = %d, want 1000", sale.TotalCents)
	}
	if sale.ProfitCents != 400 {
		t.Fatalf("profit = %d, want 400", sale.ProfitCents)
	}
	if !sale.CollectionLogged {
		t.Fatalf("paid sale should be collection-logged immediately")
	}
}

func TestRecordCreditSaleKeepsFullOutstanding(t *testing.T) {
	svc, _ := newTestService(t, time.Millisecond)

	sale, err := svc.RecordSale(staffCtx(), domain.SaleCreateRequest{
		Date: "2026-03-01", ProductType: "charger", ProductName: "Charger 20W",
		Qty: 1, UnitPriceCents: 800, UnitCostCents: 500, Status: "credit", CustomerName: "Budi",
	})
	if err != nil {
		t.Fatalf("RecordSale: %v", err)
	}
	if sale.RemainingCents != 800 {
		t.Fatalf("remaining = %d, want 800", sale.RemainingCents)
	}
	if sale.CollectionLogged {
		t.Fatalf("credit sale must not be collection-logged at creation")
	}

	metrics, err := svc.Metrics(context.Background())
	if err != nil {
		t.Fatalf("Metrics: %v", err)
	}
	if metrics.PendingCreditCents != 800 {
		t.Fatalf("pending credit = %d, want 800", metrics.PendingCreditCents)
	}
	if metrics.SaleProfitCollectedCents != 0 {
		t.Fatalf("sale profit = %d, want 0 before settle", metrics.SaleProfitCollectedCents)
	}
}

func TestRecordCreditSaleRequiresCustomer(t *testing.T) {
	svc, _ := newTestService(t, time.Millisecond)

	_, err := svc.RecordSale(staffCtx(), domain.SaleCreateRequest{
		Date: "2026-03-01", ProductType: "charger", ProductName: "Charger 20W",
		Qty: 1, UnitPriceCents: 800, Status: "credit",
	})
	if !errors.Is(err, store.ErrInvalidRecord) {
		t.Fatalf("err = %v, want ErrInvalidRecord", err)
	}
}

func TestSettleCreditSaleWritesExactlyOneEntryAndOffset(t *testing.T) {
	svc, repo := newTestService(t, time.Millisecond)
	ctx := staffCtx()

	sale, err := svc.RecordSale(ctx, domain.SaleCreateRequest{
		Date: "2026-03-01", ProductType: "charger", ProductName: "Charger 20W",
		Qty: 1, UnitPriceCents: 800, UnitCostCents: 500, Status: "credit", CustomerName: "Budi",
	})
	if err != nil {
		t.Fatalf("RecordSale: %v", err)
	}

	resp, err := svc.SettleCreditSale(ctx, sale.ID)
	if err != nil {
		t.Fatalf("SettleCreditSale: %v", err)
	}
	if resp.Duplicate {
		t.Fatalf("first settle reported duplicate")
	}
	if resp.Sale.Status != domain.SalePaid || resp.Sale.RemainingCents != 0 {
		t.Fatalf("sale not cleared: %+v", resp.Sale)
	}
	if resp.Entry == nil || resp.Entry.AmountCents != 800 {
		t.Fatalf("expected 800-cent collection entry, got %+v", resp.Entry)
	}

	entries, _ := repo.ListCollections(ctx)
	if len(entries) != 1 {
		t.Fatalf("collections = %d, want 1", len(entries))
	}
	offsets, _ := repo.GetOffsets(ctx)
	if offsets.CreditClearedCents != 800 {
		t.Fatalf("credit cleared offset = %d, want 800", offsets.CreditClearedCents)
	}

	metrics, err := svc.Metrics(context.Background())
	if err != nil {
		t.Fatalf("Metrics: %v", err)
	}
	if metrics.PendingCreditCents != 0 {
		t.Fatalf("pending credit = %d, want 0 after settle", metrics.PendingCreditCents)
	}
	if metrics.SaleProfitCollectedCents != 300 {
		t.Fatalf("sale profit = %d, want 300 after settle", metrics.SaleProfitCollectedCents)
	}
}

func TestSettleCreditSaleIsIdempotent(t *testing.T) {
	svc, repo := newTestService(t, time.Millisecond)
	ctx := staffCtx()

	sale, err := svc.RecordSale(ctx, domain.SaleCreateRequest{
		Date: "2026-03-01", ProductType: "casing", ProductName: "Casing",
		Qty: 1, UnitPriceCents: 700, UnitCostCents: 400, Status: "credit", CustomerName: "Sari",
	})
	if err != nil {
		t.Fatalf("RecordSale: %v", err)
	}

	if _, err := svc.SettleCreditSale(ctx, sale.ID); err != nil {
		t.Fatalf("first settle: %v", err)
	}
	resp, err := svc.SettleCreditSale(ctx, sale.ID)
	if err != nil {
		t.Fatalf("second settle: %v", err)
	}
	if !resp.Duplicate {
		t.Fatalf("second settle should report duplicate")
	}

	entries, _ := repo.ListCollections(ctx)
	if len(entries) != 1 {
		t.Fatalf("collections = %d, want exactly 1 after retried settle", len(entries))
	}
	offsets, _ := repo.GetOffsets(ctx)
	if offsets.CreditClearedCents != 700 {
		t.Fatalf("credit cleared offset = %d, want 700", offsets.CreditClearedCents)
	}
}

func TestSettleRejectsUnknownSale(t *testing.T) {
	svc, _ := newTestService(t, time.Millisecond)
	if _, err := svc.SettleCreditSale(staffCtx(), "sale-missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestServiceJobLifecycle(t *testing.T) {
	svc, _ := newTestService(t, time.Millisecond)
	ctx := staffCtx()

	job, err := svc.RecordServiceJob(ctx, domain.ServiceJobCreateRequest{
		JobName: "Ganti LCD", CustomerName: "Sari", DateIn: "2026-03-01",
		InvestCents: 12000, PaidCents: 25000,
	})
	if err != nil {
		t.Fatalf("RecordServiceJob: %v", err)
	}
	if job.Status != domain.ServicePending {
		t.Fatalf("status = %s, want pending", job.Status)
	}
	if job.ProfitCents != 13000 {
		t.Fatalf("profit = %d, want 13000", job.ProfitCents)
	}

	done, err := svc.CompleteServiceJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("CompleteServiceJob: %v", err)
	}
	if done.Status != domain.ServiceCompleted || done.CompletedAt == nil {
		t.Fatalf("job not completed: %+v", done)
	}

	// Completed is terminal.
	if _, err := svc.FailServiceJob(ctx, job.ID); !errors.Is(err, store.ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}

	metrics, err := svc.Metrics(context.Background())
	if err != nil {
		t.Fatalf("Metrics: %v", err)
	}
	if metrics.ServiceProfitCollectedCents != 13000 {
		t.Fatalf("service profit = %d, want 13000", metrics.ServiceProfitCollectedCents)
	}
}

func TestFailedServiceJobDropsProfit(t *testing.T) {
	svc, _ := newTestService(t, time.Millisecond)
	ctx := staffCtx()

	job, err := svc.RecordServiceJob(ctx, domain.ServiceJobCreateRequest{
		JobName: "Flash Firmware", DateIn: "2026-03-01", InvestCents: 5000, PaidCents: 9000,
	})
	if err != nil {
		t.Fatalf("RecordServiceJob: %v", err)
	}

	failed, err := svc.FailServiceJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("FailServiceJob: %v", err)
	}
	if failed.ProfitCents != 0 {
		t.Fatalf("failed job profit = %d, want 0", failed.ProfitCents)
	}

	metrics, _ := svc.Metrics(context.Background())
	if metrics.ServiceProfitCollectedCents != 0 {
		t.Fatalf("service profit = %d, want 0 for failed job", metrics.ServiceProfitCollectedCents)
	}
}

func TestCollectRequiresOwner(t *testing.T) {
	svc, _ := newTestService(t, time.Millisecond)

	_, err := svc.Collect(staffCtx(), domain.CollectRequest{Category: "net_profit", AmountCents: 100})
	if err == nil {
		t.Fatalf("expected role error for staff collect")
	}
}

func TestCollectChecksHeadroom(t *testing.T) {
	svc, _ := newTestService(t, time.Millisecond)

	if _, err := svc.RecordSale(staffCtx(), domain.SaleCreateRequest{
		Date: "2026-03-01", ProductType: "casing", ProductName: "Casing",
		Qty: 2, UnitPriceCents: 500, UnitCostCents: 300, Status: "paid",
	}); err != nil {
		t.Fatalf("RecordSale: %v", err)
	}

	// Net profit is 400; asking for more must fail.
	_, err := svc.Collect(ownerCtx(), domain.CollectRequest{Category: "net_profit", AmountCents: 500})
	if !errors.Is(err, store.ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}

	resp, err := svc.Collect(ownerCtx(), domain.CollectRequest{Category: "net_profit", AmountCents: 400})
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if resp.Duplicate || resp.Entry == nil {
		t.Fatalf("unexpected collect response: %+v", resp)
	}
}

func TestCollectCooldownSwallowsDoubleClick(t *testing.T) {
	svc, repo := newTestService(t, time.Hour)

	if _, err := svc.RecordSale(staffCtx(), domain.SaleCreateRequest{
		Date: "2026-03-01", ProductType: "casing", ProductName: "Casing",
		Qty: 10, UnitPriceCents: 500, UnitCostCents: 300, Status: "paid",
	}); err != nil {
		t.Fatalf("RecordSale: %v", err)
	}

	first, err := svc.Collect(ownerCtx(), domain.CollectRequest{Category: "net_profit", AmountCents: 100})
	if err != nil {
		t.Fatalf("first collect: %v", err)
	}
	if first.Duplicate {
		t.Fatalf("first collect reported duplicate")
	}

	second, err := svc.Collect(ownerCtx(), domain.CollectRequest{Category: "net_profit", AmountCents: 100})
	if err != nil {
		t.Fatalf("second collect: %v", err)
	}
	if !second.Duplicate {
		t.Fatalf("second collect inside cooldown should be swallowed")
	}

	entries, _ := repo.ListCollections(context.Background())
	if len(entries) != 1 {
		t.Fatalf("collections = %d, want 1", len(entries))
	}
}

func TestCollectSameAmountTwiceOutsideCooldown(t *testing.T) {
	svc, repo := newTestService(t, time.Millisecond)

	if _, err := svc.RecordSale(staffCtx(), domain.SaleCreateRequest{
		Date: "2026-03-01", ProductType: "casing", ProductName: "Casing",
		Qty: 10, UnitPriceCents: 500, UnitCostCents: 300, Status: "paid",
	}); err != nil {
		t.Fatalf("RecordSale: %v", err)
	}

	first, err := svc.Collect(ownerCtx(), domain.CollectRequest{Category: "net_profit", AmountCents: 100})
	if err != nil {
		t.Fatalf("first collect: %v", err)
	}
	if first.Duplicate || first.Entry == nil {
		t.Fatalf("unexpected first collect response: %+v", first)
	}

	time.Sleep(5 * time.Millisecond)

	// Same category, same amount, same day: a second deliberate collect must
	// go through once the cooldown has expired.
	second, err := svc.Collect(ownerCtx(), domain.CollectRequest{Category: "net_profit", AmountCents: 100})
	if err != nil {
		t.Fatalf("second collect: %v", err)
	}
	if second.Duplicate || second.Entry == nil {
		t.Fatalf("repeat collect wrongly swallowed: %+v", second)
	}

	entries, _ := repo.ListCollections(context.Background())
	if len(entries) != 2 {
		t.Fatalf("collections = %d, want 2", len(entries))
	}
	offsets, _ := repo.GetOffsets(context.Background())
	if offsets.NetProfitCents != 200 {
		t.Fatalf("net profit offset = %d, want 200", offsets.NetProfitCents)
	}
}

func TestCompleteCreditServiceJobLogsClearance(t *testing.T) {
	svc, repo := newTestService(t, time.Millisecond)
	ctx := staffCtx()

	job, err := svc.RecordServiceJob(ctx, domain.ServiceJobCreateRequest{
		JobName: "Ganti Speaker", CustomerName: "Budi", DateIn: "2026-03-01",
		InvestCents: 100, PaidCents: 500, Status: "credit",
	})
	if err != nil {
		t.Fatalf("RecordServiceJob: %v", err)
	}
	if job.RemainingCents != 500 {
		t.Fatalf("remaining = %d, want 500", job.RemainingCents)
	}

	done, err := svc.CompleteServiceJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("CompleteServiceJob: %v", err)
	}
	if done.Status != domain.ServiceCompleted || done.RemainingCents != 0 {
		t.Fatalf("job not cleared: %+v", done)
	}

	entries, _ := repo.ListCollections(context.Background())
	if len(entries) != 1 {
		t.Fatalf("collections = %d, want 1 clearance entry", len(entries))
	}
	entry := entries[0]
	if entry.Category != domain.OffsetCreditCleared || entry.SourceID != job.ID || entry.AmountCents != 500 {
		t.Fatalf("unexpected clearance entry: %+v", entry)
	}
	offsets, _ := repo.GetOffsets(context.Background())
	if offsets.CreditClearedCents != 500 {
		t.Fatalf("credit cleared offset = %d, want 500", offsets.CreditClearedCents)
	}

	// A pending job completing normally has nothing outstanding to log.
	plain, err := svc.RecordServiceJob(ctx, domain.ServiceJobCreateRequest{
		JobName: "Ganti LCD", DateIn: "2026-03-01", InvestCents: 200, PaidCents: 600,
	})
	if err != nil {
		t.Fatalf("RecordServiceJob: %v", err)
	}
	if _, err := svc.CompleteServiceJob(ctx, plain.ID); err != nil {
		t.Fatalf("CompleteServiceJob: %v", err)
	}
	entries, _ = repo.ListCollections(context.Background())
	if len(entries) != 1 {
		t.Fatalf("collections = %d after plain completion, want still 1", len(entries))
	}
}

func TestCollectRejectsCreditClearedCategory(t *testing.T) {
	svc, _ := newTestService(t, time.Millisecond)

	_, err := svc.Collect(ownerCtx(), domain.CollectRequest{Category: "credit_cleared", AmountCents: 100})
	if !errors.Is(err, store.ErrInvalidRecord) {
		t.Fatalf("err = %v, want ErrInvalidRecord", err)
	}
}

func TestWithdrawCappedByNetProfit(t *testing.T) {
	svc, _ := newTestService(t, time.Millisecond)

	if _, err := svc.RecordSale(staffCtx(), domain.SaleCreateRequest{
		Date: "2026-03-01", ProductType: "casing", ProductName: "Casing",
		Qty: 2, UnitPriceCents: 500, UnitCostCents: 300, Status: "paid",
	}); err != nil {
		t.Fatalf("RecordSale: %v", err)
	}

	if _, err := svc.Withdraw(ownerCtx(), domain.WithdrawRequest{AmountCents: 300, Note: "setoran"}); err != nil {
		t.Fatalf("Withdraw: %v", err)
	}

	// 100 of headroom is left.
	_, err := svc.Withdraw(ownerCtx(), domain.WithdrawRequest{AmountCents: 200})
	if !errors.Is(err, store.ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}
}

func TestResetAllRequiresOwnerAndClearsBook(t *testing.T) {
	svc, repo := newTestService(t, time.Millisecond)

	if _, err := svc.RecordSale(staffCtx(), domain.SaleCreateRequest{
		Date: "2026-03-01", ProductType: "casing", ProductName: "Casing",
		Qty: 1, UnitPriceCents: 500, UnitCostCents: 300, Status: "paid",
	}); err != nil {
		t.Fatalf("RecordSale: %v", err)
	}

	if err := svc.ResetAll(staffCtx()); err == nil {
		t.Fatalf("staff reset should fail")
	}
	if err := svc.ResetAll(ownerCtx()); err != nil {
		t.Fatalf("owner reset: %v", err)
	}

	snap, _ := repo.BookSnapshot(context.Background())
	if len(snap.Sales) != 0 {
		t.Fatalf("book not cleared after reset")
	}
	metrics, _ := svc.Metrics(context.Background())
	if metrics.NetProfitCents != 0 {
		t.Fatalf("net profit = %d after reset, want 0", metrics.NetProfitCents)
	}
}

func TestReplaceRecordSetNormalizesStatuses(t *testing.T) {
	svc, repo := newTestService(t, time.Millisecond)
	ctx := context.Background()

	payload, _ := json.Marshal([]domain.ServiceJob{
		{ID: "svc-1", JobName: "Ganti Baterai", DateIn: "2026-03-01", InvestCents: 100, PaidCents: 300, Status: "returned"},
		{ID: "svc-2", JobName: "Ganti LCD", DateIn: "2026-03-01", InvestCents: 200, PaidCents: 600},
	})
	if err := svc.ReplaceRecordSet(ctx, domain.SetServices, payload); err != nil {
		t.Fatalf("ReplaceRecordSet: %v", err)
	}

	jobs, _ := repo.ListServiceJobs(ctx)
	byID := map[string]domain.ServiceStatus{}
	for _, job := range jobs {
		byID[job.ID] = job.Status
	}
	if byID["svc-1"] != domain.ServiceFailed {
		t.Fatalf("status svc-1 = %s, want failed (returned alias)", byID["svc-1"])
	}
	if byID["svc-2"] != domain.ServicePending {
		t.Fatalf("status svc-2 = %s, want pending default", byID["svc-2"])
	}
}

func TestReplaceRecordSetRejectsUnknownSet(t *testing.T) {
	svc, _ := newTestService(t, time.Millisecond)
	err := svc.ReplaceRecordSet(context.Background(), "inventory", json.RawMessage(`[]`))
	if !errors.Is(err, store.ErrInvalidRecord) {
		t.Fatalf("err = %v, want ErrInvalidRecord", err)
	}
}

func TestPublishedMetricsMatchRecomputed(t *testing.T) {
	svc, repo := newTestService(t, time.Millisecond)
	ctx := staffCtx()

	if _, err := svc.RecordSale(ctx, domain.SaleCreateRequest{
		Date: "2026-03-01", ProductType: "casing", ProductName: "Casing",
		Qty: 2, UnitPriceCents: 500, UnitCostCents: 300, Status: "paid",
	}); err != nil {
		t.Fatalf("RecordSale: %v", err)
	}
	if _, err := svc.RecordExpense(ctx, domain.ExpenseCreateRequest{
		Date: "2026-03-01", Category: "operational", AmountCents: 150,
	}); err != nil {
		t.Fatalf("RecordExpense: %v", err)
	}

	published, err := repo.GetPublishedMetrics(context.Background())
	if err != nil {
		t.Fatalf("GetPublishedMetrics: %v", err)
	}
	snap, _ := repo.BookSnapshot(context.Background())
	fresh := ledger.Compute(ledger.FromSnapshot(*snap))

	if published.NetProfitCents != fresh.NetProfitCents {
		t.Fatalf("published net %d != recomputed net %d", published.NetProfitCents, fresh.NetProfitCents)
	}
	if published.TotalExpensesCents != 150 {
		t.Fatalf("published expenses = %d, want 150", published.TotalExpensesCents)
	}
}

type countingListener struct {
	calls int
}

func (l *countingListener) RecordsChanged() { l.calls++ }

func TestMutationsNotifyListener(t *testing.T) {
	svc, _ := newTestService(t, time.Millisecond)
	listener := &countingListener{}
	svc.SetChangeListener(listener)

	if _, err := svc.RecordSale(staffCtx(), domain.SaleCreateRequest{
		Date: "2026-03-01", ProductType: "casing", ProductName: "Casing",
		Qty: 1, UnitPriceCents: 500, UnitCostCents: 300, Status: "paid",
	}); err != nil {
		t.Fatalf("RecordSale: %v", err)
	}
	if listener.calls != 1 {
		t.Fatalf("listener calls = %d, want 1", listener.calls)
	}
}
