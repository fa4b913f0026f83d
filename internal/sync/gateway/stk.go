package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	stderrors "errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/kimhsiao/tipsync/backend/internal/errors"
	"github.com/kimhsiao/tipsync/backend/internal/logging"
)

const (
	stkPushPath = "/mpesa/stkpush/v1/processrequest"

	// TransactionTypePayBill is the default STK transaction type.
	TransactionTypePayBill = "CustomerPayBillOnline"

	timestampLayout = "20060102150405"
)

// eat is the zone the gateway expects request timestamps in.
var eat = time.FixedZone("EAT", 3*60*60)

// Config holds STK push client settings.
type Config struct {
	BaseURL         string
	ConsumerKey     string
	ConsumerSecret  string
	ShortCode       string
	PassKey         string
	CallbackURL     string
	TransactionType string
	// HTTPClient is the base client; its Timeout also bounds token fetches.
	HTTPClient *http.Client
}

// STKClient submits STK push requests.
type STKClient struct {
	cfg    Config
	client *http.Client
	now    func() time.Time
}

// NewSTKClient validates cfg and builds a client whose requests carry a
// cached bearer token.
func NewSTKClient(cfg Config) (*STKClient, error) {
	var missing []string
	for _, f := range []struct{ name, value string }{
		{"base URL", cfg.BaseURL},
		{"consumer key", cfg.ConsumerKey},
		{"consumer secret", cfg.ConsumerSecret},
		{"short code", cfg.ShortCode},
		{"pass key", cfg.PassKey},
		{"callback URL", cfg.CallbackURL},
	} {
		if f.value == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return nil, errors.New(errors.ErrConfig, "gateway config missing: "+strings.Join(missing, ", "))
	}
	if cfg.TransactionType == "" {
		cfg.TransactionType = TransactionTypePayBill
	}

	base := cfg.HTTPClient
	if base == nil {
		base = &http.Client{Timeout: 30 * time.Second}
	}
	tokenTimeout := base.Timeout
	if tokenTimeout <= 0 {
		tokenTimeout = 30 * time.Second
	}

	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	client := &http.Client{
		Transport: &oauth2.Transport{
			Source: newTokenSource(base, cfg.BaseURL, cfg.ConsumerKey, cfg.ConsumerSecret, tokenTimeout),
			Base:   base.Transport,
		},
		Timeout: base.Timeout,
	}

	return &STKClient{cfg: cfg, client: client, now: time.Now}, nil
}

type stkPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type stkPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`

	// Error shape
	RequestID    string `json:"requestId"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

// Password returns the request password for timestamp t.
func (c *STKClient) Password(t time.Time) (password, timestamp string) {
	timestamp = t.In(eat).Format(timestampLayout)
	password = base64.StdEncoding.EncodeToString([]byte(c.cfg.ShortCode + c.cfg.PassKey + timestamp))
	return password, timestamp
}

// Submit sends an STK push. Any failure is a *Error.
func (c *STKClient) Submit(ctx context.Context, req SubmitRequest) (*SubmitResponse, error) {
	password, timestamp := c.Password(c.now())
	desc := req.Description
	if desc == "" {
		desc = "Tip"
	}

	payload, err := json.Marshal(stkPushRequest{
		BusinessShortCode: c.cfg.ShortCode,
		Password:          password,
		Timestamp:         timestamp,
		TransactionType:   c.cfg.TransactionType,
		Amount:            req.Amount,
		PartyA:            req.Phone,
		PartyB:            c.cfg.ShortCode,
		PhoneNumber:       req.Phone,
		CallBackURL:       c.cfg.CallbackURL,
		AccountReference:  req.Reference,
		TransactionDesc:   desc,
	})
	if err != nil {
		return nil, &Error{Kind: KindMalformed, Message: "encode request", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+stkPushPath, bytes.NewReader(payload))
	if err != nil {
		return nil, &Error{Kind: KindMalformed, Message: "build request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		gwErr := classifyTransport(ctx, err)
		logging.Warn("STK push failed", map[string]interface{}{
			"reference": req.Reference,
			"kind":      string(gwErr.Kind),
			"error":     err.Error(),
		})
		return nil, gwErr
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, classifyTransport(ctx, err)
	}

	var parsed stkPushResponse
	decodeErr := json.Unmarshal(body, &parsed)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		gwErr := &Error{Kind: KindRejected, Status: resp.StatusCode, Message: strings.TrimSpace(string(body))}
		if decodeErr == nil && parsed.ErrorCode != "" {
			gwErr.Code = parsed.ErrorCode
			gwErr.Message = parsed.ErrorMessage
		}
		logging.Warn("STK push rejected", map[string]interface{}{
			"reference": req.Reference,
			"status":    resp.StatusCode,
			"code":      gwErr.Code,
		})
		return nil, gwErr
	}
	if decodeErr != nil {
		return nil, &Error{Kind: KindMalformed, Status: resp.StatusCode, Message: "decode response", Err: decodeErr}
	}
	if parsed.ResponseCode != "" && parsed.ResponseCode != "0" {
		return nil, &Error{
			Kind:    KindRejected,
			Status:  resp.StatusCode,
			Code:    parsed.ResponseCode,
			Message: parsed.ResponseDescription,
		}
	}
	if parsed.CheckoutRequestID == "" {
		return nil, &Error{Kind: KindMalformed, Status: resp.StatusCode, Message: "response has no CheckoutRequestID"}
	}

	logging.Info("STK push accepted", map[string]interface{}{
		"reference":      req.Reference,
		"transaction_id": parsed.CheckoutRequestID,
		"duration_ms":    time.Since(start).Milliseconds(),
	})

	return &SubmitResponse{
		TransactionID:     parsed.CheckoutRequestID,
		MerchantRequestID: parsed.MerchantRequestID,
		CustomerMessage:   parsed.CustomerMessage,
	}, nil
}

// classifyTransport maps a failed round trip to a *Error.
func classifyTransport(ctx context.Context, err error) *Error {
	var gwErr *Error
	if stderrors.As(err, &gwErr) {
		return gwErr
	}
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Err: err}
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Kind: KindTimeout, Err: err}
	}
	return &Error{Kind: KindTransport, Err: err}
}
