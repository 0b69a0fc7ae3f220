package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"smartduka/backend/internal/domain"
	"smartduka/backend/internal/logger"
	"smartduka/backend/internal/service"
	"smartduka/backend/internal/store"
)

const maxBodyBytes = 1 << 20

var errTooManyAttempts = errors.New("too many attempts, try again later")

var shopRoles = []string{domain.RoleAdmin, domain.RoleManager, domain.RoleCashier}

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	loginLimiter  *attemptLimiter
	log           *logrus.Entry
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string) *API {
	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		log:           logger.For("http"),
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
	l.entries[key] = append(kept, now)
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
	const v1 = "/api/v1"

	mux.HandleFunc("GET /healthz", a.handleHealth)
	mux.HandleFunc("POST "+v1+"/auth/login", a.handleLogin)
	mux.HandleFunc("GET "+v1+"/auth/me", a.requireAuth(a.handleMe))

	mux.HandleFunc("POST "+v1+"/shops/register", a.handleRegisterShop)
	mux.HandleFunc("GET "+v1+"/shops/me", a.requireAuth(a.handleMyShop, shopRoles...))
	mux.HandleFunc("GET "+v1+"/users", a.requireAuth(a.handleListUsers, domain.RoleAdmin))
	mux.HandleFunc("POST "+v1+"/users", a.requireAuth(a.handleCreateUser, domain.RoleAdmin))
	mux.HandleFunc("GET "+v1+"/branches", a.requireAuth(a.handleListBranches, domain.RoleAdmin, domain.RoleManager))
	mux.HandleFunc("POST "+v1+"/branches", a.requireAuth(a.handleCreateBranch, domain.RoleAdmin))

	mux.HandleFunc("GET "+v1+"/products", a.requireAuth(a.handleListProducts, shopRoles...))
	mux.HandleFunc("POST "+v1+"/products", a.requireAuth(a.handleCreateProduct, domain.RoleAdmin, domain.RoleManager))
	mux.HandleFunc("PATCH "+v1+"/products/{sku}", a.requireAuth(a.handleUpdateProduct, domain.RoleAdmin, domain.RoleManager))
	mux.HandleFunc("POST "+v1+"/inventory/adjust", a.requireAuth(a.handleAdjustStock, domain.RoleAdmin, domain.RoleManager))
	mux.HandleFunc("GET "+v1+"/inventory/stock", a.requireAuth(a.handleListStock, domain.RoleAdmin, domain.RoleManager))
	mux.HandleFunc("GET "+v1+"/inventory/low-stock", a.requireAuth(a.handleLowStock, domain.RoleAdmin, domain.RoleManager))

	mux.HandleFunc("POST "+v1+"/shifts/clock-in", a.requireAuth(a.handleClockIn, shopRoles...))
	mux.HandleFunc("POST "+v1+"/shifts/clock-out", a.requireAuth(a.handleClockOut, shopRoles...))
	mux.HandleFunc("GET "+v1+"/shifts/current", a.requireAuth(a.handleCurrentShift, shopRoles...))
	mux.HandleFunc("GET "+v1+"/shifts", a.requireAuth(a.handleListShifts, shopRoles...))
	mux.HandleFunc("GET "+v1+"/shifts/{id}", a.requireAuth(a.handleGetShift, shopRoles...))
	mux.HandleFunc("POST "+v1+"/shifts/{id}/reconcile", a.requireAuth(a.handleReconcileShift, shopRoles...))

	mux.HandleFunc("GET "+v1+"/discounts", a.requireAuth(a.handleListDiscounts, domain.RoleAdmin, domain.RoleManager))
	mux.HandleFunc("POST "+v1+"/discounts", a.requireAuth(a.handleCreateDiscount, domain.RoleAdmin, domain.RoleManager))
	mux.HandleFunc("GET "+v1+"/discounts/{id}", a.requireAuth(a.handleGetDiscount, domain.RoleAdmin, domain.RoleManager))
	mux.HandleFunc("PATCH "+v1+"/discounts/{id}", a.requireAuth(a.handleUpdateDiscount, domain.RoleAdmin, domain.RoleManager))
	mux.HandleFunc("DELETE "+v1+"/discounts/{id}", a.requireAuth(a.handleDeactivateDiscount, domain.RoleAdmin, domain.RoleManager))
	mux.HandleFunc("POST "+v1+"/discounts/validate", a.requireAuth(a.handleValidateDiscount, shopRoles...))
	mux.HandleFunc("POST "+v1+"/discounts/apply", a.requireAuth(a.handleApplyDiscount, shopRoles...))
	mux.HandleFunc("GET "+v1+"/discounts/audit", a.requireAuth(a.handleListDiscountAudits, domain.RoleAdmin, domain.RoleManager))
	mux.HandleFunc("POST "+v1+"/discounts/audit/{id}/approve", a.requireAuth(a.handleApproveDiscountAudit, domain.RoleAdmin, domain.RoleManager))
	mux.HandleFunc("POST "+v1+"/discounts/audit/{id}/reject", a.requireAuth(a.handleRejectDiscountAudit, domain.RoleAdmin, domain.RoleManager))

	mux.HandleFunc("GET "+v1+"/orders", a.requireAuth(a.handleListOrders, shopRoles...))
	mux.HandleFunc("POST "+v1+"/orders", a.requireAuth(a.handleCreateOrder, shopRoles...))
	mux.HandleFunc("GET "+v1+"/orders/{id}", a.requireAuth(a.handleGetOrder, shopRoles...))
	mux.HandleFunc("POST "+v1+"/orders/{id}/cancel", a.requireAuth(a.handleCancelOrder, shopRoles...))
	mux.HandleFunc("POST "+v1+"/orders/{id}/refund", a.requireAuth(a.handleRefundOrder, domain.RoleAdmin, domain.RoleManager))
	mux.HandleFunc("GET "+v1+"/orders/{id}/payments", a.requireAuth(a.handleOrderPayments, shopRoles...))

	mux.HandleFunc("POST "+v1+"/payments/mpesa/stk-push", a.requireAuth(a.handleSTKPush, shopRoles...))
	mux.HandleFunc("POST "+v1+"/payments/mpesa/callback", a.handleMpesaCallback)
	mux.HandleFunc("POST "+v1+"/payments/cash", a.requireAuth(a.handleCashPayment, shopRoles...))
	mux.HandleFunc("GET "+v1+"/payments/{id}/status", a.requireAuth(a.handlePaymentStatus, shopRoles...))

	mux.HandleFunc("GET "+v1+"/subscriptions/plans", a.requireAuth(a.handlePlans, domain.RoleAdmin))
	mux.HandleFunc("GET "+v1+"/subscriptions/current", a.requireAuth(a.handleCurrentSubscription, domain.RoleAdmin))
	mux.HandleFunc("POST "+v1+"/subscriptions/change-plan", a.requireAuth(a.handleChangePlan, domain.RoleAdmin))
	mux.HandleFunc("GET "+v1+"/subscriptions/invoices", a.requireAuth(a.handleListInvoices, domain.RoleAdmin))
	mux.HandleFunc("GET "+v1+"/subscriptions/invoices/{id}", a.requireAuth(a.handleGetInvoice, domain.RoleAdmin))
	mux.HandleFunc("GET "+v1+"/subscriptions/invoices/{id}/pdf", a.requireAuth(a.handleInvoicePDF, domain.RoleAdmin))
	mux.HandleFunc("POST "+v1+"/subscriptions/invoices/{id}/pay", a.requireAuth(a.handlePayInvoice, domain.RoleAdmin))

	mux.HandleFunc("GET "+v1+"/stock-transfers", a.requireAuth(a.handleListTransfers, domain.RoleAdmin, domain.RoleManager))
	mux.HandleFunc("POST "+v1+"/stock-transfers", a.requireAuth(a.handleCreateTransfer, domain.RoleAdmin, domain.RoleManager))
	mux.HandleFunc("GET "+v1+"/stock-transfers/{id}", a.requireAuth(a.handleGetTransfer, domain.RoleAdmin, domain.RoleManager))
	mux.HandleFunc("POST "+v1+"/stock-transfers/{id}/approve", a.requireAuth(a.handleApproveTransfer, domain.RoleAdmin))
	mux.HandleFunc("POST "+v1+"/stock-transfers/{id}/reject", a.requireAuth(a.handleRejectTransfer, domain.RoleAdmin))
	mux.HandleFunc("POST "+v1+"/stock-transfers/{id}/complete", a.requireAuth(a.handleCompleteTransfer, domain.RoleAdmin, domain.RoleManager))
	mux.HandleFunc("POST "+v1+"/stock-transfers/{id}/cancel", a.requireAuth(a.handleCancelTransfer, domain.RoleAdmin, domain.RoleManager))

	mux.HandleFunc("GET "+v1+"/support/tickets", a.requireAuth(a.handleListTickets))
	mux.HandleFunc("POST "+v1+"/support/tickets", a.requireAuth(a.handleCreateTicket, shopRoles...))
	mux.HandleFunc("GET "+v1+"/support/tickets/{id}", a.requireAuth(a.handleGetTicket))
	mux.HandleFunc("POST "+v1+"/support/tickets/{id}/messages", a.requireAuth(a.handleTicketMessage))

	mux.HandleFunc("GET "+v1+"/super-admin/shops", a.requireAuth(a.handleListShops, domain.RoleSuperAdmin))
	mux.HandleFunc("GET "+v1+"/super-admin/shops/{id}", a.requireAuth(a.handleGetShop, domain.RoleSuperAdmin))
	mux.HandleFunc("POST "+v1+"/super-admin/shops/{id}/verify", a.requireAuth(a.handleVerifyShop, domain.RoleSuperAdmin))
	mux.HandleFunc("POST "+v1+"/super-admin/shops/{id}/reject", a.requireAuth(a.handleRejectShop, domain.RoleSuperAdmin))
	mux.HandleFunc("POST "+v1+"/super-admin/shops/{id}/suspend", a.requireAuth(a.handleSuspendShop, domain.RoleSuperAdmin))
	mux.HandleFunc("POST "+v1+"/super-admin/shops/{id}/reactivate", a.requireAuth(a.handleReactivateShop, domain.RoleSuperAdmin))
	mux.HandleFunc("GET "+v1+"/super-admin/stats", a.requireAuth(a.handlePlatformStats, domain.RoleSuperAdmin))
	mux.HandleFunc("POST "+v1+"/super-admin/billing/generate-invoices", a.requireAuth(a.handleGenerateInvoices, domain.RoleSuperAdmin))
	mux.HandleFunc("POST "+v1+"/super-admin/support/tickets/{id}/assign", a.requireAuth(a.handleAssignTicket, domain.RoleSuperAdmin))
	mux.HandleFunc("POST "+v1+"/super-admin/support/tickets/{id}/status", a.requireAuth(a.handleTicketStatus, domain.RoleSuperAdmin))

	mux.HandleFunc("GET "+v1+"/reports/daily", a.requireAuth(a.handleDailyReport, domain.RoleAdmin, domain.RoleManager))
	mux.HandleFunc("GET "+v1+"/audit-logs", a.requireAuth(a.handleAuditLogs, domain.RoleAdmin, domain.RoleManager))

	return a.withMiddleware(mux)
}

// requireAuth admits a bearer token holder whose role is in roles. An empty
// roles list admits every authenticated caller.
func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.Authenticate(r.Context(), token)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}

		if len(roles) > 0 && !slices.Contains(roles, actor.Role) {
			writeError(w, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errTooManyAttempts)
		return
	}

	var req domain.LoginRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut {
			r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		startedAt := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		a.log.WithFields(logrus.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      rec.status,
			"duration_ms": time.Since(startedAt).Milliseconds(),
			"client":      clientKey(r),
		}).Info("request")
	})
}

// decodeRequest decodes and validates the JSON body into dest, writing a 400
// and returning false on failure.
func decodeRequest(w http.ResponseWriter, r *http.Request, dest any) bool {
	if err := decodeJSON(r, dest); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, errors.New("request body too large"))
			return false
		}
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
		return false
	}
	if err := validate.Struct(dest); err != nil {
		writeError(w, http.StatusBadRequest, errors.New(validationMessage(err)))
		return false
	}
	return true
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

// decodeOptional accepts an empty body for endpoints whose payload is optional.
func decodeOptional(w http.ResponseWriter, r *http.Request, dest any) bool {
	if r.ContentLength == 0 {
		return true
	}
	return decodeRequest(w, r, dest)
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

// statusFor maps service and store errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrConflict), errors.Is(err, store.ErrInsufficientStock):
		return http.StatusConflict
	case errors.Is(err, store.ErrInvalid):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) writeServiceError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= 500 {
		a.log.WithError(err).Error("request failed")
	}
	writeError(w, status, err)
}

func writeError(w http.ResponseWriter, status int, err error) {
	// 4xx messages are user-facing; 5xx details stay in the log.
	msg := err.Error()
	if status >= 500 {
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
