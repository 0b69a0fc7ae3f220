package httpapi

import (
	"net/http"

	"smartduka/backend/internal/domain"
)

func (a *API) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := a.service.ListProducts(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (a *API) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req domain.ProductCreateRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	product, err := a.service.CreateProduct(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, product)
}

func (a *API) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	var req domain.ProductUpdateRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	product, err := a.service.UpdateProduct(r.Context(), r.PathValue("sku"), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func (a *API) handleAdjustStock(w http.ResponseWriter, r *http.Request) {
	var req domain.StockAdjustRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	resp, err := a.service.AdjustStock(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleListStock(w http.ResponseWriter, r *http.Request) {
	levels, err := a.service.ListStock(r.Context(), r.URL.Query().Get("branch_id"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stock": levels})
}

func (a *API) handleLowStock(w http.ResponseWriter, r *http.Request) {
	levels, err := a.service.LowStock(r.Context(), r.URL.Query().Get("branch_id"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"low_stock": levels})
}

func (a *API) handleListTransfers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	transfers, err := a.service.ListTransfers(r.Context(), q.Get("status"), parsePositiveLimit(q.Get("limit"), 100, 500))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transfers": transfers})
}

func (a *API) handleCreateTransfer(w http.ResponseWriter, r *http.Request) {
	var req domain.TransferCreateRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	transfer, err := a.service.CreateTransfer(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, transfer)
}

func (a *API) handleGetTransfer(w http.ResponseWriter, r *http.Request) {
	transfer, err := a.service.GetTransfer(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, transfer)
}

func (a *API) handleApproveTransfer(w http.ResponseWriter, r *http.Request) {
	transfer, err := a.service.ApproveTransfer(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, transfer)
}

func (a *API) handleRejectTransfer(w http.ResponseWriter, r *http.Request) {
	var req domain.TransferRejectRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	transfer, err := a.service.RejectTransfer(r.Context(), r.PathValue("id"), req.Reason)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, transfer)
}

func (a *API) handleCompleteTransfer(w http.ResponseWriter, r *http.Request) {
	transfer, err := a.service.CompleteTransfer(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, transfer)
}

func (a *API) handleCancelTransfer(w http.ResponseWriter, r *http.Request) {
	transfer, err := a.service.CancelTransfer(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, transfer)
}
