// Package gateway talks to the mobile-money push-payment API.
//
// Submit only asks the gateway to prompt the customer; the payment result
// arrives later through the callback parsed by ParseCallback.
package gateway

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
)

// SubmitRequest is one push-payment request.
type SubmitRequest struct {
	// Phone is the payer in gateway format (2547XXXXXXXX).
	Phone  string
	Amount int64
	// Reference is echoed back by the gateway and identifies the intent.
	Reference   string
	Description string
}

// SubmitResponse is the gateway's acknowledgement of a submission.
type SubmitResponse struct {
	// TransactionID correlates the later callback with the tip.
	TransactionID     string
	MerchantRequestID string
	CustomerMessage   string
}

// Gateway submits push payments.
type Gateway interface {
	Submit(ctx context.Context, req SubmitRequest) (*SubmitResponse, error)
}

// Func adapts a function to Gateway.
type Func func(ctx context.Context, req SubmitRequest) (*SubmitResponse, error)

// Submit calls f.
func (f Func) Submit(ctx context.Context, req SubmitRequest) (*SubmitResponse, error) {
	return f(ctx, req)
}

// ErrorKind classifies submission failures.
type ErrorKind string

const (
	KindTransport ErrorKind = "transport"
	KindTimeout   ErrorKind = "timeout"
	KindRejected  ErrorKind = "rejected"
	KindMalformed ErrorKind = "malformed"
)

// Error is returned by Submit for every failed submission.
type Error struct {
	Kind    ErrorKind
	Status  int
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("gateway %s", e.Kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.Status)
	}
	if e.Code != "" {
		msg += " " + e.Code
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether a later attempt may succeed. Only a client-side
// rejection (4xx or an explicit non-zero response code) is final.
func (e *Error) Retryable() bool {
	if e.Kind != KindRejected {
		return true
	}
	return e.Status == 0 || e.Status >= http.StatusInternalServerError || e.Status == http.StatusTooManyRequests
}

// IsRejection reports whether err is a non-retryable gateway rejection.
func IsRejection(err error) bool {
	var gwErr *Error
	return stderrors.As(err, &gwErr) && !gwErr.Retryable()
}
