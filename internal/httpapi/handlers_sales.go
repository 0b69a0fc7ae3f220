package httpapi

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"smartduka/backend/internal/discount"
	"smartduka/backend/internal/domain"
	"smartduka/backend/internal/mpesa"
)

// dayRange reads ?date=YYYY-MM-DD as a shop-local day. No date means no bound.
func dayRange(q url.Values) (time.Time, time.Time, error) {
	raw := strings.TrimSpace(q.Get("date"))
	if raw == "" {
		return time.Time{}, time.Time{}, nil
	}
	day, err := time.ParseInLocation("2006-01-02", raw, discount.Location)
	if err != nil {
		return time.Time{}, time.Time{}, errors.New("date must be YYYY-MM-DD")
	}
	return day.UTC(), day.AddDate(0, 0, 1).UTC(), nil
}

func (a *API) handleClockIn(w http.ResponseWriter, r *http.Request) {
	var req domain.ClockInRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	shift, err := a.service.ClockIn(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, shift)
}

func (a *API) handleClockOut(w http.ResponseWriter, r *http.Request) {
	var req domain.ClockOutRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	shift, err := a.service.ClockOut(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, shift)
}

func (a *API) handleCurrentShift(w http.ResponseWriter, r *http.Request) {
	shift, err := a.service.CurrentShift(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, shift)
}

func (a *API) handleListShifts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, to, err := dayRange(q)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	shifts, err := a.service.ListShifts(r.Context(), domain.ShiftFilter{
		CashierID: q.Get("cashier_id"),
		Status:    q.Get("status"),
		From:      from,
		To:        to,
		Limit:     parsePositiveLimit(q.Get("limit"), 100, 500),
	})
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"shifts": shifts})
}

func (a *API) handleGetShift(w http.ResponseWriter, r *http.Request) {
	shift, err := a.service.GetShift(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, shift)
}

func (a *API) handleReconcileShift(w http.ResponseWriter, r *http.Request) {
	var req domain.ReconcileRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	shift, err := a.service.ReconcileShift(r.Context(), r.PathValue("id"), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, shift)
}

func (a *API) handleListDiscounts(w http.ResponseWriter, r *http.Request) {
	discounts, err := a.service.ListDiscounts(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"discounts": discounts})
}

func (a *API) handleCreateDiscount(w http.ResponseWriter, r *http.Request) {
	var req domain.DiscountCreateRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	d, err := a.service.CreateDiscount(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (a *API) handleGetDiscount(w http.ResponseWriter, r *http.Request) {
	d, err := a.service.GetDiscount(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (a *API) handleUpdateDiscount(w http.ResponseWriter, r *http.Request) {
	var req domain.DiscountUpdateRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	d, err := a.service.UpdateDiscount(r.Context(), r.PathValue("id"), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (a *API) handleDeactivateDiscount(w http.ResponseWriter, r *http.Request) {
	d, err := a.service.DeactivateDiscount(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (a *API) handleValidateDiscount(w http.ResponseWriter, r *http.Request) {
	var req domain.DiscountCheckRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	resp, err := a.service.ValidateDiscount(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleApplyDiscount(w http.ResponseWriter, r *http.Request) {
	var req domain.DiscountCheckRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	resp, err := a.service.ApplyDiscount(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleListDiscountAudits(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	audits, err := a.service.ListDiscountAudits(r.Context(), q.Get("status"), parsePositiveLimit(q.Get("limit"), 100, 500))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"audits": audits})
}

func (a *API) handleApproveDiscountAudit(w http.ResponseWriter, r *http.Request) {
	var req domain.DiscountReviewRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	audit, err := a.service.ApproveDiscountAudit(r.Context(), r.PathValue("id"), req.Reason)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, audit)
}

func (a *API) handleRejectDiscountAudit(w http.ResponseWriter, r *http.Request) {
	var req domain.DiscountReviewRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	audit, err := a.service.RejectDiscountAudit(r.Context(), r.PathValue("id"), req.Reason)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, audit)
}

func (a *API) handleListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, to, err := dayRange(q)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	orders, err := a.service.ListOrders(r.Context(), domain.OrderFilter{
		BranchID:  q.Get("branch_id"),
		ShiftID:   q.Get("shift_id"),
		CashierID: q.Get("cashier_id"),
		Status:    q.Get("status"),
		From:      from,
		To:        to,
		Limit:     parsePositiveLimit(q.Get("limit"), 100, 500),
	})
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

func (a *API) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req domain.OrderCreateRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	}

	resp, err := a.service.CreateOrder(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	status := http.StatusCreated
	if resp.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, resp)
}

func (a *API) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := a.service.GetOrder(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (a *API) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	var req domain.OrderCancelRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	order, err := a.service.CancelOrder(r.Context(), r.PathValue("id"), req.Reason)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (a *API) handleRefundOrder(w http.ResponseWriter, r *http.Request) {
	var req domain.OrderCancelRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	order, err := a.service.RefundOrder(r.Context(), r.PathValue("id"), req.Reason)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (a *API) handleOrderPayments(w http.ResponseWriter, r *http.Request) {
	payments, err := a.service.ListOrderPayments(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"payments": payments})
}

func (a *API) handleSTKPush(w http.ResponseWriter, r *http.Request) {
	var req domain.STKPushRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	payment, err := a.service.InitiateSTKPush(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, payment)
}

// handleMpesaCallback always acknowledges so Safaricom stops retrying;
// failures are logged and the sweeper reconciles via the query API.
func (a *API) handleMpesaCallback(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		a.log.WithError(err).Warn("mpesa callback: read body")
		writeJSON(w, http.StatusOK, mpesa.Accepted())
		return
	}
	if err := a.service.HandleMpesaCallback(r.Context(), raw); err != nil {
		a.log.WithError(err).WithField("client", clientKey(r)).Warn("mpesa callback rejected")
	}
	writeJSON(w, http.StatusOK, mpesa.Accepted())
}

func (a *API) handleCashPayment(w http.ResponseWriter, r *http.Request) {
	var req domain.CashPaymentRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	resp, err := a.service.RecordCashPayment(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handlePaymentStatus(w http.ResponseWriter, r *http.Request) {
	resp, err := a.service.PaymentStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
