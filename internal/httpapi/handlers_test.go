package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"smartduka/backend/internal/domain"
	"smartduka/backend/internal/service"
	"smartduka/backend/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	svc := service.New(repo, service.Deps{}, service.Options{DefaultTaxRatePercent: 16})
	auth := NewAuthManager(testSecret, time.Hour, repo)

	return New(svc, auth, "*")
}

// tokenFor logs in through the AuthManager directly so tests do not spend
// the login limiter budget.
func tokenFor(t *testing.T, api *API, email string, password string) string {
	t.Helper()
	resp, err := api.auth.Login(context.Background(), domain.LoginRequest{Email: email, Password: password})
	if err != nil {
		t.Fatalf("login %s: %v", email, err)
	}
	return resp.AccessToken
}

func doJSON(t *testing.T, api *API, method string, path string, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dest any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(dest); err != nil {
		t.Fatalf("decode body: %v (%s)", err, rec.Body.String())
	}
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)
	rec := doJSON(t, api, http.MethodGet, "/healthz", "", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	decodeBody(t, rec, &body)
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLogin(t *testing.T) {
	api := newTestAPI(t)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Email: "admin@duka.test", Password: "admin123"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var resp domain.LoginResponse
	decodeBody(t, rec, &resp)
	if resp.AccessToken == "" || resp.Role != domain.RoleAdmin || resp.ShopID != memory.SeedShopID {
		t.Fatalf("unexpected login response %+v", resp)
	}

	rec = doJSON(t, api, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Email: "admin@duka.test", Password: "nope-nope"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong password, got %d", rec.Code)
	}

	rec = doJSON(t, api, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"email": "not-an-email", "password": "x"})
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "email") {
		t.Fatalf("expected 400 naming the email field, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestRoleGuards(t *testing.T) {
	api := newTestAPI(t)
	cashier := tokenFor(t, api, "cashier@duka.test", "cashier123")
	admin := tokenFor(t, api, "admin@duka.test", "admin123")

	if rec := doJSON(t, api, http.MethodGet, "/api/v1/products", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
	if rec := doJSON(t, api, http.MethodGet, "/api/v1/products", "garbage", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bad token, got %d", rec.Code)
	}
	if rec := doJSON(t, api, http.MethodGet, "/api/v1/users", cashier, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("expected cashier to be refused user listing, got %d", rec.Code)
	}
	if rec := doJSON(t, api, http.MethodGet, "/api/v1/super-admin/shops", admin, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("expected shop admin to be refused platform routes, got %d", rec.Code)
	}

	rec := doJSON(t, api, http.MethodGet, "/api/v1/products", cashier, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected cashier to list products, got %d", rec.Code)
	}
	var body struct {
		Products []domain.Product `json:"products"`
	}
	decodeBody(t, rec, &body)
	if len(body.Products) == 0 {
		t.Fatalf("expected seeded products")
	}
}

func TestShiftAndOrderFlow(t *testing.T) {
	api := newTestAPI(t)
	cashier := tokenFor(t, api, "cashier@duka.test", "cashier123")
	manager := tokenFor(t, api, "manager@duka.test", "manager123")

	rec := doJSON(t, api, http.MethodPost, "/api/v1/shifts/clock-in", cashier, domain.ClockInRequest{OpeningBalanceCents: 500000})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 on clock-in, got %d %s", rec.Code, rec.Body.String())
	}
	var shift domain.Shift
	decodeBody(t, rec, &shift)

	if rec := doJSON(t, api, http.MethodPost, "/api/v1/shifts/clock-in", cashier, domain.ClockInRequest{}); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 on second clock-in, got %d", rec.Code)
	}

	order := domain.OrderCreateRequest{
		IdempotencyKey:    "till-1-0001",
		Items:             []domain.CartItem{{SKU: "UNGA-2KG", Qty: 2}},
		PaymentMethod:     domain.PaymentMethodCash,
		CashReceivedCents: 50000,
	}
	rec = doJSON(t, api, http.MethodPost, "/api/v1/orders", cashier, order)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 on order, got %d %s", rec.Code, rec.Body.String())
	}
	var created domain.OrderResponse
	decodeBody(t, rec, &created)
	if created.Order.ShiftID != shift.ID || created.Duplicate {
		t.Fatalf("unexpected order %+v", created)
	}

	rec = doJSON(t, api, http.MethodPost, "/api/v1/orders", cashier, order)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on idempotent replay, got %d", rec.Code)
	}
	var replay domain.OrderResponse
	decodeBody(t, rec, &replay)
	if !replay.Duplicate || replay.Order.ID != created.Order.ID {
		t.Fatalf("expected replay of %s, got %+v", created.Order.ID, replay)
	}

	if rec := doJSON(t, api, http.MethodPost, "/api/v1/orders/"+created.Order.ID+"/refund", cashier, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("expected cashier refund to be refused, got %d", rec.Code)
	}

	if rec := doJSON(t, api, http.MethodPost, "/api/v1/shifts/clock-out", cashier, domain.ClockOutRequest{ClosingBalanceCents: 537000}); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on clock-out, got %d %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, api, http.MethodPost, "/api/v1/shifts/"+shift.ID+"/reconcile", manager, domain.ReconcileRequest{ActualCashCents: 537000})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on reconcile, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestDiscountTenantIsolation(t *testing.T) {
	api := newTestAPI(t)
	admin := tokenFor(t, api, "admin@duka.test", "admin123")
	other := tokenFor(t, api, "admin@other.test", "admin123")

	rec := doJSON(t, api, http.MethodPost, "/api/v1/discounts", admin, map[string]any{
		"name":  "Karibu",
		"code":  "KARIBU10",
		"type":  "percentage",
		"value": 10,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d %s", rec.Code, rec.Body.String())
	}
	var d domain.Discount
	decodeBody(t, rec, &d)

	if rec := doJSON(t, api, http.MethodGet, "/api/v1/discounts/"+d.ID, other, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for another shop's discount, got %d", rec.Code)
	}
	rec = doJSON(t, api, http.MethodPost, "/api/v1/discounts/validate", other, domain.DiscountCheckRequest{
		Code:  "KARIBU10",
		Items: []domain.CartItem{{SKU: "UNGA-2KG", Qty: 1}},
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for another shop's code, got %d", rec.Code)
	}

	if rec := doJSON(t, api, http.MethodPost, "/api/v1/discounts", admin, map[string]any{"name": "x", "code": "AB", "type": "mystery"}); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid discount, got %d", rec.Code)
	}
}

func TestMpesaCallbackAlwaysAcknowledges(t *testing.T) {
	api := newTestAPI(t)

	for _, body := range []string{`{"Body":{"stkCallback":{"CheckoutRequestID":"ws_CO_unknown","ResultCode":0}}}`, `not json`} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/mpesa/callback", strings.NewReader(body))
		rec := httptest.NewRecorder()
		api.Handler().ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		var ack map[string]any
		decodeBody(t, rec, &ack)
		if ack["ResultCode"] != float64(0) {
			t.Fatalf("expected ResultCode 0, got %v", ack)
		}
	}
}

func TestInvoicePDFDownload(t *testing.T) {
	api := newTestAPI(t)
	root := tokenFor(t, api, "root@smartduka.test", "superadmin123")
	admin := tokenFor(t, api, "admin@duka.test", "admin123")

	rec := doJSON(t, api, http.MethodPost, "/api/v1/super-admin/billing/generate-invoices", root, domain.GenerateInvoicesRequest{Period: "2026-09"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", rec.Code, rec.Body.String())
	}
	if rec := doJSON(t, api, http.MethodPost, "/api/v1/super-admin/billing/generate-invoices", root, domain.GenerateInvoicesRequest{Period: "Sept"}); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a malformed period, got %d", rec.Code)
	}

	rec = doJSON(t, api, http.MethodGet, "/api/v1/subscriptions/invoices", admin, nil)
	var list struct {
		Invoices []domain.Invoice `json:"invoices"`
	}
	decodeBody(t, rec, &list)
	if len(list.Invoices) != 1 {
		t.Fatalf("expected one invoice, got %d", len(list.Invoices))
	}

	rec = doJSON(t, api, http.MethodGet, "/api/v1/subscriptions/invoices/"+list.Invoices[0].ID+"/pdf", admin, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "application/pdf" {
		t.Fatalf("expected application/pdf, got %q", got)
	}
	if got := rec.Header().Get("Content-Disposition"); !strings.Contains(got, list.Invoices[0].Number+".pdf") {
		t.Fatalf("unexpected disposition %q", got)
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF")) {
		t.Fatalf("expected a pdf body")
	}
}

func TestShopRegistrationNeedsVerification(t *testing.T) {
	api := newTestAPI(t)
	root := tokenFor(t, api, "root@smartduka.test", "superadmin123")

	rec := doJSON(t, api, http.MethodPost, "/api/v1/shops/register", "", domain.ShopRegisterRequest{
		ShopName:      "Baraka Stores",
		Email:         "owner@baraka.test",
		Phone:         "0722111222",
		OwnerName:     "Baraka Owner",
		OwnerPassword: "baraka-pass",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d %s", rec.Code, rec.Body.String())
	}
	var reg domain.ShopRegisterResponse
	decodeBody(t, rec, &reg)

	login := domain.LoginRequest{Email: "owner@baraka.test", Password: "baraka-pass"}
	if rec := doJSON(t, api, http.MethodPost, "/api/v1/auth/login", "", login); rec.Code != http.StatusForbidden {
		t.Fatalf("expected pending shop login to be refused, got %d", rec.Code)
	}
	if rec := doJSON(t, api, http.MethodPost, "/api/v1/super-admin/shops/"+reg.Shop.ID+"/verify", root, nil); rec.Code != http.StatusOK {
		t.Fatalf("expected verify to succeed, got %d %s", rec.Code, rec.Body.String())
	}
	if rec := doJSON(t, api, http.MethodPost, "/api/v1/auth/login", "", login); rec.Code != http.StatusOK {
		t.Fatalf("expected verified shop login, got %d %s", rec.Code, rec.Body.String())
	}

	bad := domain.ShopRegisterRequest{ShopName: "Bad", Email: "bad@duka.test", Phone: "12345", OwnerName: "Bad Owner", OwnerPassword: "long-enough"}
	rec = doJSON(t, api, http.MethodPost, "/api/v1/shops/register", "", bad)
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "Kenyan") {
		t.Fatalf("expected phone validation error, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestUnknownMethodIsRejected(t *testing.T) {
	api := newTestAPI(t)
	if rec := doJSON(t, api, http.MethodDelete, "/api/v1/orders", "", nil); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}
