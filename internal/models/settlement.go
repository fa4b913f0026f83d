package models

// ResultCodeSuccess is the gateway result code for a settled payment.
const ResultCodeSuccess = 0

// Settlement is the asynchronous result the gateway reports for a submitted
// push payment.
type Settlement struct {
	TransactionID     string `json:"transaction_id"`
	MerchantRequestID string `json:"merchant_request_id,omitempty"`
	ResultCode        int    `json:"result_code"`
	ResultDesc        string `json:"result_desc,omitempty"`
	Receipt           string `json:"receipt,omitempty"`
	Amount            int64  `json:"amount,omitempty"`
	PhoneNumber       string `json:"phone_number,omitempty"`
}

// Succeeded reports whether the settlement completed the payment.
func (s *Settlement) Succeeded() bool {
	return s.ResultCode == ResultCodeSuccess
}

// Status maps the result code to the terminal tip status.
func (s *Settlement) Status() TipStatus {
	if s.Succeeded() {
		return TipStatusCompleted
	}
	return TipStatusFailed
}
