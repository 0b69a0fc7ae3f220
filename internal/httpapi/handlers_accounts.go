package httpapi

import (
	"net/http"

	"smartduka/backend/internal/domain"
)

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	me, err := a.service.Me(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, me)
}

func (a *API) handleRegisterShop(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow("register:" + clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errTooManyAttempts)
		return
	}

	var req domain.ShopRegisterRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	resp, err := a.service.RegisterShop(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleMyShop(w http.ResponseWriter, r *http.Request) {
	shop, err := a.service.MyShop(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, shop)
}

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.service.ListUsers(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (a *API) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req domain.UserCreateRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	user, err := a.service.CreateUser(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (a *API) handleListBranches(w http.ResponseWriter, r *http.Request) {
	branches, err := a.service.ListBranches(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"branches": branches})
}

func (a *API) handleCreateBranch(w http.ResponseWriter, r *http.Request) {
	var req domain.BranchCreateRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	branch, err := a.service.CreateBranch(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, branch)
}

func (a *API) handleListShops(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	shops, err := a.service.ListShops(r.Context(), q.Get("status"), parsePositiveLimit(q.Get("limit"), 100, 500))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"shops": shops})
}

func (a *API) handleGetShop(w http.ResponseWriter, r *http.Request) {
	shop, err := a.service.GetShop(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, shop)
}

func (a *API) handleVerifyShop(w http.ResponseWriter, r *http.Request) {
	shop, err := a.service.VerifyShop(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, shop)
}

func (a *API) handleRejectShop(w http.ResponseWriter, r *http.Request) {
	var req domain.ShopStatusRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	shop, err := a.service.RejectShop(r.Context(), r.PathValue("id"), req.Reason)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, shop)
}

func (a *API) handleSuspendShop(w http.ResponseWriter, r *http.Request) {
	var req domain.ShopStatusRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	shop, err := a.service.SuspendShop(r.Context(), r.PathValue("id"), req.Reason)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, shop)
}

func (a *API) handleReactivateShop(w http.ResponseWriter, r *http.Request) {
	shop, err := a.service.ReactivateShop(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, shop)
}

func (a *API) handlePlatformStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.service.PlatformStats(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
