package httpapi

import (
	"fmt"
	"net/http"
	"strconv"

	"smartduka/backend/internal/domain"
	"smartduka/backend/internal/service"
)

func (a *API) handlePlans(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"plans": service.Plans()})
}

func (a *API) handleCurrentSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := a.service.CurrentSubscription(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (a *API) handleChangePlan(w http.ResponseWriter, r *http.Request) {
	var req domain.ChangePlanRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	sub, err := a.service.ChangePlan(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (a *API) handleListInvoices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	invoices, err := a.service.ListInvoices(r.Context(), q.Get("status"), parsePositiveLimit(q.Get("limit"), 50, 500))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"invoices": invoices})
}

func (a *API) handleGetInvoice(w http.ResponseWriter, r *http.Request) {
	invoice, err := a.service.GetInvoice(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, invoice)
}

func (a *API) handleInvoicePDF(w http.ResponseWriter, r *http.Request) {
	pdf, filename, err := a.service.InvoicePDF(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(pdf)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pdf)
}

func (a *API) handlePayInvoice(w http.ResponseWriter, r *http.Request) {
	var req domain.InvoicePayRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	invoice, err := a.service.PayInvoice(r.Context(), r.PathValue("id"), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, invoice)
}

func (a *API) handleGenerateInvoices(w http.ResponseWriter, r *http.Request) {
	var req domain.GenerateInvoicesRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	resp, err := a.service.GenerateInvoices(r.Context(), req.Period)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleListTickets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tickets, err := a.service.ListTickets(r.Context(), domain.TicketFilter{
		ShopID:   q.Get("shop_id"),
		Status:   q.Get("status"),
		Priority: q.Get("priority"),
		Limit:    parsePositiveLimit(q.Get("limit"), 100, 500),
	})
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tickets": tickets})
}

func (a *API) handleCreateTicket(w http.ResponseWriter, r *http.Request) {
	var req domain.TicketCreateRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	ticket, err := a.service.CreateTicket(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ticket)
}

func (a *API) handleGetTicket(w http.ResponseWriter, r *http.Request) {
	ticket, err := a.service.GetTicket(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (a *API) handleTicketMessage(w http.ResponseWriter, r *http.Request) {
	var req domain.TicketMessageRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	ticket, err := a.service.AddTicketMessage(r.Context(), r.PathValue("id"), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ticket)
}

func (a *API) handleAssignTicket(w http.ResponseWriter, r *http.Request) {
	var req domain.TicketAssignRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	ticket, err := a.service.AssignTicket(r.Context(), r.PathValue("id"), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (a *API) handleTicketStatus(w http.ResponseWriter, r *http.Request) {
	var req domain.TicketStatusRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	ticket, err := a.service.SetTicketStatus(r.Context(), r.PathValue("id"), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (a *API) handleDailyReport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	report, err := a.service.DailyReport(r.Context(), q.Get("branch_id"), q.Get("date"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	logs, err := a.service.ListAuditLogs(r.Context(), q.Get("date"), parsePositiveLimit(q.Get("limit"), 100, 500))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"audit_logs": logs})
}
