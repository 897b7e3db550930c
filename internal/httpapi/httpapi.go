package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"catatkas/backend/internal/audit"
	"catatkas/backend/internal/domain"
	"catatkas/backend/internal/service"
	"catatkas/backend/internal/store"
)

type API struct {
	service       *service.Service
	verifier      *audit.Verifier
	auth          *AuthManager
	logger        *zap.Logger
	allowedOrigin string
	loginLimiter  *attemptLimiter
}

func New(svc *service.Service, verifier *audit.Verifier, auth *AuthManager, logger *zap.Logger, allowedOrigin string) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &API{
		service:       svc,
		verifier:      verifier,
		auth:          auth,
		logger:        logger,
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
	}
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	kept = append(kept, now)
	l.entries[key] = kept
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", a.handleHealth)
	mux.HandleFunc("/api/v1/auth/login", a.handleLogin)

	mux.HandleFunc("/api/v1/metrics", a.requireAuth(a.handleMetrics, domain.RoleStaff, domain.RoleOwner))
	mux.HandleFunc("/api/v1/sales", a.requireAuth(a.handleSales, domain.RoleStaff, domain.RoleOwner))
	mux.HandleFunc("/api/v1/sales/", a.requireAuth(a.handleSaleActions, domain.RoleStaff, domain.RoleOwner))
	mux.HandleFunc("/api/v1/services", a.requireAuth(a.handleServiceJobs, domain.RoleStaff, domain.RoleOwner))
	mux.HandleFunc("/api/v1/services/", a.requireAuth(a.handleServiceJobActions, domain.RoleStaff, domain.RoleOwner))
	mux.HandleFunc("/api/v1/expenses", a.requireAuth(a.handleExpenses, domain.RoleStaff, domain.RoleOwner))

	mux.HandleFunc("/api/v1/collections", a.requireAuth(a.handleCollections, domain.RoleStaff, domain.RoleOwner))
	mux.HandleFunc("/api/v1/withdrawals", a.requireAuth(a.handleWithdrawals, domain.RoleOwner))
	mux.HandleFunc("/api/v1/reset", a.requireAuth(a.handleReset, domain.RoleOwner))

	mux.HandleFunc("/api/v1/audit/report", a.requireAuth(a.handleAuditReport, domain.RoleStaff, domain.RoleOwner))
	mux.HandleFunc("/api/v1/audit/run", a.requireAuth(a.handleAuditRun, domain.RoleOwner))

	mux.HandleFunc("/api/v1/users/staff", a.requireAuth(a.handleStaff, domain.RoleOwner))

	return a.withMiddleware(mux)
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(a.logger, w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(a.logger, w, http.StatusUnauthorized, err)
			return
		}

		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			writeError(a.logger, w, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		a.writeMethodNotAllowed(w)
		return
	}
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(a.logger, w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(a.logger, w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(req)
	if err != nil {
		writeError(a.logger, w, http.StatusUnauthorized, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}

	metrics, err := a.service.Metrics(r.Context())
	if err != nil {
		writeError(a.logger, w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"metrics": metrics})
}

func (a *API) handleSales(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		sales, err := a.service.ListSales(r.Context())
		if err != nil {
			writeError(a.logger, w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"sales": sales})
	case http.MethodPost:
		var req domain.SaleCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(a.logger, w, http.StatusBadRequest, err)
			return
		}

		sale, err := a.service.RecordSale(r.Context(), req)
		if err != nil {
			writeError(a.logger, w, statusForError(err), err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"sale": sale})
	default:
		a.writeMethodNotAllowed(w)
	}
}

func (a *API) handleSaleActions(w http.ResponseWriter, r *http.Request) {
	id, action, ok := splitAction(r.URL.Path, "/api/v1/sales/")
	if !ok || action != "settle" {
		writeError(a.logger, w, http.StatusNotFound, errors.New("unknown sale action"))
		return
	}
	if r.Method != http.MethodPost {
		a.writeMethodNotAllowed(w)
		return
	}

	resp, err := a.service.SettleCreditSale(r.Context(), id)
	if err != nil {
		writeError(a.logger, w, statusForError(err), err)
		return
	}

	status := http.StatusOK
	payload := map[string]any{"sale": resp.Sale, "duplicate": resp.Duplicate}
	if resp.Entry != nil {
		payload["entry"] = resp.Entry
	}
	writeJSON(w, status, payload)
}

func (a *API) handleServiceJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		jobs, err := a.service.ListServiceJobs(r.Context())
		if err != nil {
			writeError(a.logger, w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"services": jobs})
	case http.MethodPost:
		var req domain.ServiceJobCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(a.logger, w, http.StatusBadRequest, err)
			return
		}

		job, err := a.service.RecordServiceJob(r.Context(), req)
		if err != nil {
			writeError(a.logger, w, statusForError(err), err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"service": job})
	default:
		a.writeMethodNotAllowed(w)
	}
}

func (a *API) handleServiceJobActions(w http.ResponseWriter, r *http.Request) {
	id, action, ok := splitAction(r.URL.Path, "/api/v1/services/")
	if !ok {
		writeError(a.logger, w, http.StatusNotFound, errors.New("unknown service action"))
		return
	}
	if r.Method != http.MethodPost {
		a.writeMethodNotAllowed(w)
		return
	}

	var job domain.ServiceJob
	var err error
	switch action {
	case "complete":
		job, err = a.service.CompleteServiceJob(r.Context(), id)
	case "fail":
		job, err = a.service.FailServiceJob(r.Context(), id)
	default:
		writeError(a.logger, w, http.StatusNotFound, errors.New("unknown service action"))
		return
	}
	if err != nil {
		writeError(a.logger, w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"service": job})
}

func (a *API) handleExpenses(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		expenses, err := a.service.ListExpenses(r.Context())
		if err != nil {
			writeError(a.logger, w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"expenses": expenses})
	case http.MethodPost:
		var req domain.ExpenseCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(a.logger, w, http.StatusBadRequest, err)
			return
		}

		expense, err := a.service.RecordExpense(r.Context(), req)
		if err != nil {
			writeError(a.logger, w, statusForError(err), err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"expense": expense})
	default:
		a.writeMethodNotAllowed(w)
	}
}

func (a *API) handleCollections(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		entries, err := a.service.ListCollections(r.Context())
		if err != nil {
			writeError(a.logger, w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"collections": entries})
	case http.MethodPost:
		var req domain.CollectRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(a.logger, w, http.StatusBadRequest, err)
			return
		}

		resp, err := a.service.Collect(r.Context(), req)
		if err != nil {
			writeError(a.logger, w, statusForError(err), err)
			return
		}
		if resp.Duplicate {
			writeJSON(w, http.StatusOK, map[string]any{"duplicate": true})
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"entry": resp.Entry})
	default:
		a.writeMethodNotAllowed(w)
	}
}

func (a *API) handleWithdrawals(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		entries, err := a.service.ListWithdrawals(r.Context())
		if err != nil {
			writeError(a.logger, w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"withdrawals": entries})
	case http.MethodPost:
		var req domain.WithdrawRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(a.logger, w, http.StatusBadRequest, err)
			return
		}

		entry, err := a.service.Withdraw(r.Context(), req)
		if err != nil {
			writeError(a.logger, w, statusForError(err), err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"withdrawal": entry})
	default:
		a.writeMethodNotAllowed(w)
	}
}

func (a *API) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		a.writeMethodNotAllowed(w)
		return
	}

	if err := a.service.ResetAll(r.Context()); err != nil {
		writeError(a.logger, w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reset": true})
}

func (a *API) handleAuditReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}

	report, ok := a.verifier.LastReport()
	writeJSON(w, http.StatusOK, map[string]any{
		"state":  a.verifier.State(),
		"ran":    ok,
		"report": report,
	})
}

func (a *API) handleAuditRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		a.writeMethodNotAllowed(w)
		return
	}

	report, err := a.verifier.RunOnce(r.Context())
	if err != nil {
		writeError(a.logger, w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"report": report})
}

func (a *API) handleStaff(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"staff": a.auth.ListStaff()})
	case http.MethodPost:
		var req domain.StaffCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(a.logger, w, http.StatusBadRequest, err)
			return
		}

		user, err := a.auth.CreateStaff(req)
		if err != nil {
			writeError(a.logger, w, http.StatusUnprocessableEntity, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"staff": user})
	default:
		a.writeMethodNotAllowed(w)
	}
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Vary", "Origin")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")

		if r.Method == http.MethodPost && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		startedAt := time.Now()
		next.ServeHTTP(w, r)
		a.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("took", time.Since(startedAt)))
	})
}

// splitAction parses "<prefix><id>/<action>" paths.
func splitAction(path string, prefix string) (id string, action string, ok bool) {
	if !strings.HasPrefix(path, prefix) {
		return "", "", false
	}
	tail := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	parts := strings.SplitN(tail, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrInvalidRecord), errors.Is(err, store.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, store.ErrDuplicateEntry):
		return http.StatusConflict
	case errors.Is(err, store.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity
	case strings.Contains(strings.ToLower(err.Error()), "role required"):
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func (a *API) writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(a.logger, w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func writeError(logger *zap.Logger, w http.ResponseWriter, status int, err error) {
	// 5xx responses return a generic message so internal details (SQL
	// errors, file paths) never reach clients. 4xx messages are user-facing.
	msg := err.Error()
	if status >= 500 {
		logger.Error("internal error", zap.Int("status", status), zap.Error(err))
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
