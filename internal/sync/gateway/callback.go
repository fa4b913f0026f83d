package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/kimhsiao/tipsync/backend/internal/errors"
	"github.com/kimhsiao/tipsync/backend/internal/models"
)

// Callback metadata item names.
const (
	ItemAmount          = "Amount"
	ItemReceipt         = "MpesaReceiptNumber"
	ItemTransactionDate = "TransactionDate"
	ItemPhoneNumber     = "PhoneNumber"
)

// CallbackEnvelope is the body the gateway posts to the callback URL.
type CallbackEnvelope struct {
	Body struct {
		STKCallback STKCallback `json:"stkCallback"`
	} `json:"Body"`
}

// STKCallback carries the settlement of one push payment.
type STKCallback struct {
	MerchantRequestID string            `json:"MerchantRequestID"`
	CheckoutRequestID string            `json:"CheckoutRequestID"`
	ResultCode        json.Number       `json:"ResultCode"`
	ResultDesc        string            `json:"ResultDesc"`
	CallbackMetadata  *CallbackMetadata `json:"CallbackMetadata,omitempty"`
}

// CallbackMetadata is present only for successful payments.
type CallbackMetadata struct {
	Item []CallbackItem `json:"Item"`
}

// CallbackItem is a name/value pair. Value is a number or a string.
type CallbackItem struct {
	Name  string      `json:"Name"`
	Value interface{} `json:"Value,omitempty"`
}

// Acknowledgement is the response body the gateway expects from the
// callback endpoint.
type Acknowledgement struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

// Accepted is returned for every callback, including ones that fail to
// parse, so the gateway does not redeliver.
var Accepted = Acknowledgement{ResultCode: 0, ResultDesc: "Accepted"}

// ParseCallback decodes a callback body into a Settlement. Malformed bodies
// return a CALLBACK_INVALID error.
func ParseCallback(body []byte) (*models.Settlement, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var env CallbackEnvelope
	if err := dec.Decode(&env); err != nil {
		return nil, errors.Wrap(errors.ErrCallbackInvalid, "callback is not valid JSON", err)
	}

	cb := env.Body.STKCallback
	if cb.CheckoutRequestID == "" {
		return nil, errors.New(errors.ErrCallbackInvalid, "callback has no CheckoutRequestID")
	}
	code, err := cb.ResultCode.Int64()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCallbackInvalid, "callback ResultCode is not an integer", err)
	}

	s := &models.Settlement{
		TransactionID:     cb.CheckoutRequestID,
		MerchantRequestID: cb.MerchantRequestID,
		ResultCode:        int(code),
		ResultDesc:        cb.ResultDesc,
	}

	if cb.CallbackMetadata == nil {
		return s, nil
	}
	for _, item := range cb.CallbackMetadata.Item {
		switch item.Name {
		case ItemReceipt:
			s.Receipt = itemString(item.Value)
		case ItemPhoneNumber:
			s.PhoneNumber = itemString(item.Value)
		case ItemAmount:
			amount, err := decimal.NewFromString(itemString(item.Value))
			if err != nil {
				return nil, errors.Wrap(errors.ErrCallbackInvalid, "callback Amount is not a number", err)
			}
			s.Amount = amount.Round(0).IntPart()
		}
	}
	return s, nil
}

func itemString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}
