package mpesa

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartduka/backend/internal/domain"
)

func TestNormalizePhone(t *testing.T) {
	cases := map[string]string{
		"0712345678":      "254712345678",
		"+254712345678":   "254712345678",
		"254712345678":    "254712345678",
		"712345678":       "254712345678",
		"0110 123 456":    "254110123456",
		"+254-722-000111": "254722000111",
	}
	for in, want := range cases {
		got, err := NormalizePhone(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, bad := range []string{"", "12345", "0812345678", "25571234567", "+1 555 0100"} {
		_, err := NormalizePhone(bad)
		assert.ErrorIs(t, err, ErrInvalidPhone, bad)
	}
}

func TestAmountShillingsRoundsUp(t *testing.T) {
	assert.Equal(t, int64(0), AmountShillings(0))
	assert.Equal(t, int64(1), AmountShillings(1))
	assert.Equal(t, int64(100), AmountShillings(10000))
	assert.Equal(t, int64(101), AmountShillings(10001))
}

func TestStatusForResult(t *testing.T) {
	assert.Equal(t, domain.PaymentCompleted, StatusForResult(0))
	assert.Equal(t, domain.PaymentCancelled, StatusForResult(1032))
	assert.Equal(t, domain.PaymentFailed, StatusForResult(1))
	assert.Equal(t, domain.PaymentFailed, StatusForResult(2001))
}

type fakeDaraja struct {
	server      *httptest.Server
	tokenCalls  atomic.Int32
	lastPush    map[string]any
	queryStatus int
	queryBody   string
}

func newFakeDaraja(t *testing.T) *fakeDaraja {
	t.Helper()
	f := &fakeDaraja{queryStatus: http.StatusOK, queryBody: `{"ResponseCode":"0","ResultCode":"0","ResultDesc":"The service request is processed successfully."}`}
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/v1/generate", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "key" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		f.tokenCalls.Add(1)
		_, _ = w.Write([]byte(`{"access_token":"tok-1","expires_in":"3599"}`))
	})
	mux.HandleFunc("/mpesa/stkpush/v1/processrequest", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&f.lastPush)
		_, _ = w.Write([]byte(`{"MerchantRequestID":"m-1","CheckoutRequestID":"ws_CO_1","ResponseCode":"0","ResponseDescription":"Success. Request accepted for processing","CustomerMessage":"Success"}`))
	})
	mux.HandleFunc("/mpesa/stkpushquery/v1/query", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(f.queryStatus)
		_, _ = w.Write([]byte(f.queryBody))
	})
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeDaraja) client() *Client {
	c := NewClient(Config{
		BaseURL:        f.server.URL,
		ConsumerKey:    "key",
		ConsumerSecret: "secret",
		ShortCode:      "174379",
		Passkey:        "pass",
		CallbackURL:    "https://example.test/callback",
	}, f.server.Client())
	c.now = func() time.Time { return time.Date(2026, 3, 2, 7, 4, 5, 0, time.UTC) }
	return c
}

func TestSTKPushSendsSignedRequest(t *testing.T) {
	f := newFakeDaraja(t)
	c := f.client()

	resp, err := c.STKPush(t.Context(), PushRequest{Phone: "0712345678", AmountCents: 25050, AccountReference: "ORDER-ABCDEFGHIJK"})
	require.NoError(t, err)
	assert.Equal(t, "ws_CO_1", resp.CheckoutRequestID)

	assert.Equal(t, "20260302100405", f.lastPush["Timestamp"])
	password, err := base64.StdEncoding.DecodeString(f.lastPush["Password"].(string))
	require.NoError(t, err)
	assert.Equal(t, "174379pass20260302100405", string(password))
	assert.Equal(t, float64(251), f.lastPush["Amount"])
	assert.Equal(t, "254712345678", f.lastPush["PhoneNumber"])
	assert.Equal(t, "ORDER-ABCDEF", f.lastPush["AccountReference"])
	assert.Equal(t, "CustomerPayBillOnline", f.lastPush["TransactionType"])
}

func TestAccessTokenIsCached(t *testing.T) {
	f := newFakeDaraja(t)
	c := f.client()

	for i := 0; i < 3; i++ {
		_, err := c.STKPush(t.Context(), PushRequest{Phone: "0712345678", AmountCents: 100})
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), f.tokenCalls.Load())
}

func TestQueryReportsProcessingAndResult(t *testing.T) {
	f := newFakeDaraja(t)
	c := f.client()

	res, err := c.Query(t.Context(), "ws_CO_1")
	require.NoError(t, err)
	assert.Equal(t, 0, res.ResultCode)

	f.queryStatus = http.StatusInternalServerError
	f.queryBody = `{"requestId":"r","errorCode":"500.001.1001","errorMessage":"The transaction is being processed"}`
	_, err = c.Query(t.Context(), "ws_CO_1")
	assert.ErrorIs(t, err, ErrStillProcessing)

	f.queryStatus = http.StatusOK
	f.queryBody = `{"ResponseCode":"0","ResultCode":"1032","ResultDesc":"Request cancelled by user"}`
	res, err = c.Query(t.Context(), "ws_CO_1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentCancelled, StatusForResult(res.ResultCode))
}

func TestDisabledClient(t *testing.T) {
	c := NewClient(Config{}, nil)
	assert.False(t, c.Enabled())
	_, err := c.STKPush(t.Context(), PushRequest{Phone: "0712345678", AmountCents: 100})
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestParseCallback(t *testing.T) {
	raw := []byte(`{"Body":{"stkCallback":{"MerchantRequestID":"m-1","CheckoutRequestID":"ws_CO_1","ResultCode":0,"ResultDesc":"The service request is processed successfully.","CallbackMetadata":{"Item":[{"Name":"Amount","Value":251},{"Name":"MpesaReceiptNumber","Value":"NLJ7RT61SV"},{"Name":"TransactionDate","Value":20260302100410},{"Name":"PhoneNumber","Value":254712345678}]}}}}`)

	cb, err := ParseCallback(raw)
	require.NoError(t, err)
	assert.Equal(t, "ws_CO_1", cb.CheckoutRequestID)
	assert.Equal(t, "NLJ7RT61SV", cb.Receipt())
	assert.Equal(t, "254712345678", cb.Phone())
	amount, ok := cb.Amount()
	assert.True(t, ok)
	assert.Equal(t, int64(251), amount)

	cancelled, err := ParseCallback([]byte(`{"Body":{"stkCallback":{"CheckoutRequestID":"ws_CO_2","ResultCode":1032,"ResultDesc":"Request cancelled by user"}}}`))
	require.NoError(t, err)
	assert.Equal(t, "", cancelled.Receipt())
	_, ok = cancelled.Amount()
	assert.False(t, ok)
	assert.Equal(t, domain.PaymentCancelled, StatusForResult(cancelled.ResultCode))

	_, err = ParseCallback([]byte(`{"Body":{}}`))
	assert.Error(t, err)
}
