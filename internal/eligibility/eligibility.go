// Package eligibility validates tip requests before they reach the sync
// engine: request shape, customer phone number, and the worker's plan cap.
package eligibility

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ttacon/libphonenumber"

	"github.com/kimhsiao/tipsync/backend/internal/errors"
	"github.com/kimhsiao/tipsync/backend/internal/models"
)

// DefaultRegion is used to parse numbers written without a country code.
const DefaultRegion = "KE"

// TipRequest is a tip as entered by the customer.
type TipRequest struct {
	WorkerID      string `json:"worker_id" validate:"required,max=64"`
	Amount        int64  `json:"amount" validate:"required,gt=0"`
	CustomerPhone string `json:"customer_phone" validate:"required,phone"`
}

// Caps maps a plan to its per-tip limit. Zero means uncapped.
type Caps map[models.Plan]int64

// DefaultCaps returns the standard plan limits.
func DefaultCaps() Caps {
	return Caps{
		models.PlanLite:     500,
		models.PlanStandard: 2000,
		models.PlanPremium:  0,
	}
}

// WorkerSource looks up cached worker profiles.
type WorkerSource interface {
	GetWorker(ctx context.Context, id string) (*models.Worker, error)
}

// Options configures a Checker.
type Options struct {
	Caps   Caps
	Region string
}

// Checker validates tip requests.
type Checker struct {
	workers  WorkerSource
	caps     Caps
	region   string
	validate *validator.Validate
	now      func() time.Time
}

// NewChecker creates a Checker.
func NewChecker(workers WorkerSource, opts Options) *Checker {
	if opts.Caps == nil {
		opts.Caps = DefaultCaps()
	}
	if opts.Region == "" {
		opts.Region = DefaultRegion
	}

	c := &Checker{
		workers: workers,
		caps:    opts.Caps,
		region:  opts.Region,
		now:     time.Now,
	}
	c.validate = validator.New()
	c.validate.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		_, err := NormalizePhone(fl.Field().String(), c.region)
		return err == nil
	})
	return c
}

// Cap returns the limit that applies to w at now. Lapsed subscriptions and
// unknown plans get the lite limit.
func (c *Checker) Cap(w *models.Worker, now time.Time) int64 {
	plan := w.Plan
	if !w.SubscriptionActive(now) {
		plan = models.PlanLite
	}
	limit, ok := c.caps[plan]
	if !ok {
		limit = c.caps[models.PlanLite]
	}
	return limit
}

// Check validates req and returns the intent to hand to the engine. The
// intent has no ID yet.
func (c *Checker) Check(ctx context.Context, req TipRequest) (models.TipIntent, error) {
	req.WorkerID = strings.TrimSpace(req.WorkerID)
	if err := c.validate.Struct(req); err != nil {
		return models.TipIntent{}, validationError(err)
	}

	phone, err := NormalizePhone(req.CustomerPhone, c.region)
	if err != nil {
		return models.TipIntent{}, errors.Validation("customer_phone: %v", err)
	}

	worker, err := c.workers.GetWorker(ctx, req.WorkerID)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return models.TipIntent{}, errors.Validation("worker %s is not known on this device", req.WorkerID)
		}
		return models.TipIntent{}, err
	}

	if limit := c.Cap(worker, c.now()); limit > 0 && req.Amount > limit {
		return models.TipIntent{}, errors.Validation("amount %d exceeds the %s plan limit of %d", req.Amount, worker.Plan, limit)
	}

	return models.TipIntent{
		WorkerID:      worker.ID,
		Amount:        req.Amount,
		CustomerPhone: phone,
	}, nil
}

// NormalizePhone parses raw in region and returns it in gateway format:
// E.164 digits without the leading plus, for example 254712345678.
func NormalizePhone(raw, region string) (string, error) {
	num, err := libphonenumber.Parse(strings.TrimSpace(raw), region)
	if err != nil {
		return "", err
	}
	if !libphonenumber.IsValidNumber(num) {
		return "", fmt.Errorf("phone number is not valid")
	}
	return strings.TrimPrefix(libphonenumber.Format(num, libphonenumber.E164), "+"), nil
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !stderrors.As(err, &verrs) {
		return errors.Wrap(errors.ErrValidation, "invalid tip request", err)
	}

	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s: %s", jsonName(fe.Field()), fe.Tag()))
	}
	sort.Strings(fields)
	return errors.Validation("invalid tip request: %s", strings.Join(fields, ", "))
}

func jsonName(field string) string {
	switch field {
	case "WorkerID":
		return "worker_id"
	case "Amount":
		return "amount"
	case "CustomerPhone":
		return "customer_phone"
	}
	return field
}
