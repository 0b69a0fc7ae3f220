// Package mpesa is a small client for the Safaricom Daraja STK push API.
package mpesa

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"smartduka/backend/internal/domain"
	"smartduka/backend/internal/logger"
)

const (
	ResultSuccess         = 0
	ResultCancelledByUser = 1032

	timestampLayout = "20060102150405"
	processingCode  = "500.001.1001"
)

var (
	ErrInvalidPhone = errors.New("invalid kenyan phone number")
	ErrDisabled     = errors.New("mpesa is not configured")
	// ErrStillProcessing is returned by Query while the customer has not yet
	// answered the prompt.
	ErrStillProcessing = errors.New("mpesa transaction still processing")
)

var eat = time.FixedZone("EAT", 3*60*60)

var kePhone = regexp.MustCompile(`^254[17]\d{8}$`)

type Config struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	ShortCode      string
	Passkey        string
	CallbackURL    string
}

type Client struct {
	cfg  Config
	http *http.Client
	now  func() time.Time

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

func NewClient(cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{cfg: cfg, http: httpClient, now: time.Now}
}

func (c *Client) Enabled() bool {
	return c != nil && c.cfg.ConsumerKey != "" && c.cfg.ConsumerSecret != "" && c.cfg.Passkey != ""
}

type PushRequest struct {
	Phone            string
	AmountCents      int64
	AccountReference string
	Description      string
}

type PushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

type QueryResult struct {
	ResultCode int
	ResultDesc string
}

type apiError struct {
	RequestID    string `json:"requestId"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

// STKPush sends a payment prompt to the customer's phone.
func (c *Client) STKPush(ctx context.Context, req PushRequest) (*PushResponse, error) {
	if !c.Enabled() {
		return nil, ErrDisabled
	}
	phone, err := NormalizePhone(req.Phone)
	if err != nil {
		return nil, err
	}
	timestamp := c.now().In(eat).Format(timestampLayout)
	reference := req.AccountReference
	if len(reference) > 12 {
		reference = reference[:12]
	}
	description := req.Description
	if description == "" {
		description = "SmartDuka payment"
	}

	body := map[string]any{
		"BusinessShortCode": c.cfg.ShortCode,
		"Password":          Password(c.cfg.ShortCode, c.cfg.Passkey, timestamp),
		"Timestamp":         timestamp,
		"TransactionType":   "CustomerPayBillOnline",
		"Amount":            AmountShillings(req.AmountCents),
		"PartyA":            phone,
		"PartyB":            c.cfg.ShortCode,
		"PhoneNumber":       phone,
		"CallBackURL":       c.cfg.CallbackURL,
		"AccountReference":  reference,
		"TransactionDesc":   description,
	}

	var resp PushResponse
	if err := c.post(ctx, "/mpesa/stkpush/v1/processrequest", body, &resp); err != nil {
		return nil, err
	}
	if resp.ResponseCode != "0" {
		return nil, fmt.Errorf("stk push rejected: %s %s", resp.ResponseCode, resp.ResponseDescription)
	}
	logger.For("mpesa").WithFields(logrus.Fields{
		"checkout_request_id": resp.CheckoutRequestID,
		"amount_cents":        req.AmountCents,
	}).Info("stk push sent")
	return &resp, nil
}

// Query asks Daraja for the outcome of an STK push.
func (c *Client) Query(ctx context.Context, checkoutRequestID string) (*QueryResult, error) {
	if !c.Enabled() {
		return nil, ErrDisabled
	}
	timestamp := c.now().In(eat).Format(timestampLayout)
	body := map[string]any{
		"BusinessShortCode": c.cfg.ShortCode,
		"Password":          Password(c.cfg.ShortCode, c.cfg.Passkey, timestamp),
		"Timestamp":         timestamp,
		"CheckoutRequestID": checkoutRequestID,
	}

	var resp struct {
		ResponseCode string `json:"ResponseCode"`
		ResultCode   string `json:"ResultCode"`
		ResultDesc   string `json:"ResultDesc"`
	}
	if err := c.post(ctx, "/mpesa/stkpushquery/v1/query", body, &resp); err != nil {
		return nil, err
	}
	code, err := strconv.Atoi(strings.TrimSpace(resp.ResultCode))
	if err != nil {
		return nil, fmt.Errorf("stk query: unexpected result code %q", resp.ResultCode)
	}
	return &QueryResult{ResultCode: code, ResultDesc: resp.ResultDesc}, nil
}

func (c *Client) post(ctx context.Context, path string, body any, dest any) error {
	token, err := c.accessToken(ctx)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("daraja %s: %w", path, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return err
	}
	if res.StatusCode >= 300 {
		var apiErr apiError
		_ = json.Unmarshal(raw, &apiErr)
		if apiErr.ErrorCode == processingCode {
			return ErrStillProcessing
		}
		if res.StatusCode == http.StatusUnauthorized {
			c.resetToken()
		}
		return fmt.Errorf("daraja %s: status %d: %s %s", path, res.StatusCode, apiErr.ErrorCode, apiErr.ErrorMessage)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("daraja %s: decode response: %w", path, err)
	}
	return nil
}

// accessToken returns the cached OAuth token, refreshing it a minute before
// it expires.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/oauth/v1/generate?grant_type=client_credentials", nil)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.cfg.ConsumerKey, c.cfg.ConsumerSecret)

	res, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("daraja oauth: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return "", fmt.Errorf("daraja oauth: status %d", res.StatusCode)
	}

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   string `json:"expires_in"`
	}
	if err := json.NewDecoder(io.LimitReader(res.Body, 1<<16)).Decode(&body); err != nil {
		return "", fmt.Errorf("daraja oauth: decode: %w", err)
	}
	if body.AccessToken == "" {
		return "", errors.New("daraja oauth: empty access token")
	}
	expiresIn, err := strconv.Atoi(body.ExpiresIn)
	if err != nil || expiresIn <= 0 {
		expiresIn = 3599
	}

	c.token = body.AccessToken
	c.tokenExpiry = c.now().Add(time.Duration(expiresIn)*time.Second - time.Minute)
	return c.token, nil
}

func (c *Client) resetToken() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

// Password is base64(shortcode + passkey + timestamp).
func Password(shortCode, passkey, timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(shortCode + passkey + timestamp))
}

// AmountShillings converts cents to whole shillings, rounding up.
func AmountShillings(cents int64) int64 {
	if cents <= 0 {
		return 0
	}
	return (cents + 99) / 100
}

// NormalizePhone accepts 07XXXXXXXX, 01XXXXXXXX, 7XXXXXXXX, +2547XXXXXXXX and
// 2547XXXXXXXX and returns the 2547XXXXXXXX form.
func NormalizePhone(raw string) (string, error) {
	phone := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(strings.TrimSpace(raw))
	phone = strings.TrimPrefix(phone, "+")
	switch {
	case strings.HasPrefix(phone, "0") && len(phone) == 10:
		phone = "254" + phone[1:]
	case len(phone) == 9:
		phone = "254" + phone
	}
	if !kePhone.MatchString(phone) {
		return "", ErrInvalidPhone
	}
	return phone, nil
}

// StatusForResult maps a Daraja result code to a payment status.
func StatusForResult(code int) string {
	switch code {
	case ResultSuccess:
		return domain.PaymentCompleted
	case ResultCancelledByUser:
		return domain.PaymentCancelled
	default:
		return domain.PaymentFailed
	}
}
