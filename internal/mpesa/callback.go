package mpesa

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Metadata item names read from a successful callback.
const (
	ItemReceiptNumber = "MpesaReceiptNumber"
	ItemPhoneNumber   = "PhoneNumber"
)

// Callback is the part of an STK callback the reconciler needs. Metadata is
// kept as a generic name/value list; only the receipt and phone are read.
type Callback struct {
	MerchantRequestID string
	CheckoutRequestID string
	ResultCode        int
	ResultDesc        string
	Items             []Item
}

// Item is one CallbackMetadata entry. Value may be a string or a number.
type Item struct {
	Name  string          `json:"Name"`
	Value json.RawMessage `json:"Value,omitempty"`
}

type callbackEnvelope struct {
	Body struct {
		STKCallback struct {
			MerchantRequestID string `json:"MerchantRequestID"`
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultCode        *Code  `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
			CallbackMetadata  struct {
				Item []Item `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

// ParseCallback decodes an STK callback body. Only invalid JSON is an error;
// a missing CheckoutRequestID is reported through the empty field. A missing
// or unparsable ResultCode is treated as a generic failure (1).
func ParseCallback(raw []byte) (*Callback, error) {
	var env callbackEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	cb := env.Body.STKCallback
	out := &Callback{
		MerchantRequestID: strings.TrimSpace(cb.MerchantRequestID),
		CheckoutRequestID: strings.TrimSpace(cb.CheckoutRequestID),
		ResultCode:        1,
		ResultDesc:        cb.ResultDesc,
		Items:             cb.CallbackMetadata.Item,
	}
	if cb.ResultCode != nil {
		if n, ok := cb.ResultCode.Int(); ok {
			out.ResultCode = n
		}
	}
	return out, nil
}

// Metadata returns the value of the named item as a string, or "".
func (c *Callback) Metadata(name string) string {
	for _, it := range c.Items {
		if it.Name == name {
			return rawString(it.Value)
		}
	}
	return ""
}

// rawString renders a JSON scalar as text. Integral numbers sent in exponent
// form are expanded so phone numbers survive.
func rawString(v json.RawMessage) string {
	s := strings.TrimSpace(string(v))
	if s == "" || s == "null" {
		return ""
	}
	if strings.HasPrefix(s, `"`) {
		var out string
		if err := json.Unmarshal(v, &out); err == nil {
			return out
		}
		return strings.Trim(s, `"`)
	}
	if strings.ContainsAny(s, "eE") {
		if f, err := strconv.ParseFloat(s, 64); err == nil && f == float64(int64(f)) {
			return strconv.FormatInt(int64(f), 10)
		}
	}
	return s
}
