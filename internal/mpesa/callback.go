package mpesa

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Callback is the body Daraja posts to the STK push callback URL.
type Callback struct {
	Body struct {
		STKCallback STKCallback `json:"stkCallback"`
	} `json:"Body"`
}

type STKCallback struct {
	MerchantRequestID string            `json:"MerchantRequestID"`
	CheckoutRequestID string            `json:"CheckoutRequestID"`
	ResultCode        int               `json:"ResultCode"`
	ResultDesc        string            `json:"ResultDesc"`
	CallbackMetadata  *CallbackMetadata `json:"CallbackMetadata,omitempty"`
}

type CallbackMetadata struct {
	Item []CallbackItem `json:"Item"`
}

type CallbackItem struct {
	Name  string `json:"Name"`
	Value any    `json:"Value,omitempty"`
}

// CallbackAck is the only response Daraja expects from the callback URL.
type CallbackAck struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

func Accepted() CallbackAck {
	return CallbackAck{ResultCode: 0, ResultDesc: "Accepted"}
}

func ParseCallback(raw []byte) (STKCallback, error) {
	var cb Callback
	if err := json.Unmarshal(raw, &cb); err != nil {
		return STKCallback{}, fmt.Errorf("decode stk callback: %w", err)
	}
	if cb.Body.STKCallback.CheckoutRequestID == "" {
		return STKCallback{}, fmt.Errorf("decode stk callback: missing CheckoutRequestID")
	}
	return cb.Body.STKCallback, nil
}

func (c STKCallback) Receipt() string {
	return c.metadataString("MpesaReceiptNumber")
}

func (c STKCallback) Phone() string {
	return c.metadataString("PhoneNumber")
}

// Amount is the whole-shilling amount the customer paid. ok is false when
// the callback carries no usable Amount item.
func (c STKCallback) Amount() (int64, bool) {
	if c.CallbackMetadata == nil {
		return 0, false
	}
	for _, item := range c.CallbackMetadata.Item {
		if item.Name != "Amount" {
			continue
		}
		switch v := item.Value.(type) {
		case float64:
			if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
				return 0, false
			}
			return int64(math.Floor(v)), true
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil || f < 0 {
				return 0, false
			}
			return int64(math.Floor(f)), true
		}
	}
	return 0, false
}

func (c STKCallback) metadataString(name string) string {
	if c.CallbackMetadata == nil {
		return ""
	}
	for _, item := range c.CallbackMetadata.Item {
		if item.Name != name {
			continue
		}
		switch v := item.Value.(type) {
		case string:
			return v
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}
