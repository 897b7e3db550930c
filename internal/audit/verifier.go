package audit

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"catatkas/backend/internal/domain"
	"catatkas/backend/internal/store"
)

// The verifier rests in idle between passes; the outcome of the latest pass
// lives in LastReport, not in the state.
const (
	StateIdle    = "idle"
	StateRunning = "running"
)

// Verifier runs audit passes in the background. A pass is triggered either
// by a record change (debounced by settleDelay so bursts of writes produce
// one pass) or by the cron schedule as a fallback when nothing changed.
type Verifier struct {
	repo        store.Repository
	logger      *zap.Logger
	cronSpec    string
	settleDelay time.Duration

	trigger chan struct{}
	done    chan struct{}
	cron    *cron.Cron

	mu         sync.RWMutex
	state      string
	lastReport *Report
}

func New(repo store.Repository, logger *zap.Logger, cronSpec string, settleDelay time.Duration) *Verifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cronSpec == "" {
		cronSpec = "*/5 * * * *"
	}
	if settleDelay <= 0 {
		settleDelay = 3 * time.Second
	}

	return &Verifier{
		repo:        repo,
		logger:      logger,
		cronSpec:    cronSpec,
		settleDelay: settleDelay,
		trigger:     make(chan struct{}, 1),
		done:        make(chan struct{}),
		state:       StateIdle,
	}
}

// RecordsChanged requests a pass. Non-blocking; requests arriving while one
// is already queued collapse into it.
func (v *Verifier) RecordsChanged() {
	select {
	case v.trigger <- struct{}{}:
	default:
	}
}

// Start launches the background loop and the cron fallback.
func (v *Verifier) Start(ctx context.Context) error {
	v.cron = cron.New()
	if _, err := v.cron.AddFunc(v.cronSpec, v.RecordsChanged); err != nil {
		return err
	}
	v.cron.Start()

	go v.loop(ctx)
	return nil
}

func (v *Verifier) Stop() {
	if v.cron != nil {
		stopCtx := v.cron.Stop()
		<-stopCtx.Done()
	}
	close(v.done)
}

func (v *Verifier) loop(ctx context.Context) {
	// One pass shortly after startup so a restart re-checks persisted state.
	timer := time.NewTimer(v.settleDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-v.done:
			return
		case <-timer.C:
			v.run(ctx)
		case <-v.trigger:
			// Let the burst of writes settle before reading.
			timer.Reset(v.settleDelay)
		}
	}
}

func (v *Verifier) run(ctx context.Context) {
	v.setState(StateRunning)
	defer v.setState(StateIdle)

	report, err := v.RunOnce(ctx)
	if err != nil {
		v.logger.Error("audit pass aborted", zap.Error(err))
		return
	}

	if report.Passed {
		v.logger.Info("audit pass clean", zap.Int("checks", report.Checks))
		return
	}

	for _, finding := range report.Findings {
		v.logger.Warn("audit finding",
			zap.String("metric", finding.Metric),
			zap.String("severity", finding.Severity),
			zap.Int64("expected_cents", finding.ExpectedCents),
			zap.Int64("actual_cents", finding.ActualCents),
			zap.String("detail", finding.Detail))
	}
}

// RunOnce executes a single audit pass against the current book and stores
// the report.
func (v *Verifier) RunOnce(ctx context.Context) (Report, error) {
	snap, err := v.repo.BookSnapshot(ctx)
	if err != nil {
		return Report{}, err
	}
	published, err := v.repo.GetPublishedMetrics(ctx)
	if err != nil {
		return Report{}, err
	}
	if published.ComputedAt.IsZero() && emptyBook(snap) {
		// Nothing was ever published and nothing is recorded; vacuously clean.
		report := Report{Passed: true, CheckedAt: time.Now().UTC()}
		v.storeReport(report)
		return report, nil
	}

	report := Run(*snap, published)
	v.storeReport(report)
	return report, nil
}

func (v *Verifier) LastReport() (Report, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.lastReport == nil {
		return Report{}, false
	}
	return *v.lastReport, true
}

func (v *Verifier) State() string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.state
}

func (v *Verifier) setState(state string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.state = state
}

func (v *Verifier) storeReport(report Report) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.lastReport = &report
}

func emptyBook(snap *domain.BookSnapshot) bool {
	return len(snap.Sales) == 0 && len(snap.Services) == 0 && len(snap.Expenses) == 0 &&
		len(snap.Collections) == 0 && len(snap.Withdrawals) == 0 &&
		snap.Offsets == (domain.OffsetState{})
}
