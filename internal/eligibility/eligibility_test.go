package eligibility

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/tipsync/backend/internal/errors"
	"github.com/kimhsiao/tipsync/backend/internal/models"
)

type workerMap map[string]*models.Worker

func (m workerMap) GetWorker(ctx context.Context, id string) (*models.Worker, error) {
	w, ok := m[id]
	if !ok {
		return nil, errors.New(errors.ErrNotFound, "worker not found")
	}
	return w, nil
}

var now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func newChecker() *Checker {
	past := now.Add(-24 * time.Hour)
	future := now.Add(24 * time.Hour)
	c := NewChecker(workerMap{
		"W1":      {ID: "W1", Plan: models.PlanLite},
		"W2":      {ID: "W2", Plan: models.PlanStandard, PlanExpiresAt: &future},
		"W3":      {ID: "W3", Plan: models.PlanPremium},
		"lapsed":  {ID: "lapsed", Plan: models.PlanPremium, PlanExpiresAt: &past},
		"mystery": {ID: "mystery", Plan: "gold"},
	}, Options{})
	c.now = func() time.Time { return now }
	return c
}

// TestCheckAccepts tests a valid request and phone normalization.
func TestCheckAccepts(t *testing.T) {
	c := newChecker()

	intent, err := c.Check(context.Background(), TipRequest{WorkerID: "W1", Amount: 100, CustomerPhone: "0712345678"})
	require.NoError(t, err)
	assert.Equal(t, "W1", intent.WorkerID)
	assert.Equal(t, int64(100), intent.Amount)
	assert.Equal(t, "254712345678", intent.CustomerPhone)
	assert.Empty(t, intent.ID)
}

// TestCheckLiteCap tests that 600 against a lite worker is rejected.
func TestCheckLiteCap(t *testing.T) {
	c := newChecker()

	_, err := c.Check(context.Background(), TipRequest{WorkerID: "W1", Amount: 600, CustomerPhone: "0712345678"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrValidation))
	assert.Contains(t, err.Error(), "limit of 500")

	_, err = c.Check(context.Background(), TipRequest{WorkerID: "W1", Amount: 500, CustomerPhone: "0712345678"})
	assert.NoError(t, err)
}

// TestCap tests plan limits including lapsed and unknown plans.
func TestCap(t *testing.T) {
	c := newChecker()
	ctx := context.Background()

	tests := []struct {
		worker string
		want   int64
	}{
		{"W1", 500},
		{"W2", 2000},
		{"W3", 0},
		{"lapsed", 500},
		{"mystery", 500},
	}
	for _, tt := range tests {
		t.Run(tt.worker, func(t *testing.T) {
			w, err := c.workers.GetWorker(ctx, tt.worker)
			require.NoError(t, err)
			assert.Equal(t, tt.want, c.Cap(w, now))
		})
	}

	_, err := c.Check(ctx, TipRequest{WorkerID: "W3", Amount: 1_000_000, CustomerPhone: "+254712345678"})
	assert.NoError(t, err, "premium is uncapped")
}

// TestCheckInvalidRequests tests request shape validation.
func TestCheckInvalidRequests(t *testing.T) {
	c := newChecker()

	tests := []struct {
		name string
		req  TipRequest
		want string
	}{
		{"zero amount", TipRequest{WorkerID: "W1", Amount: 0, CustomerPhone: "0712345678"}, "amount"},
		{"negative amount", TipRequest{WorkerID: "W1", Amount: -5, CustomerPhone: "0712345678"}, "amount"},
		{"missing worker", TipRequest{Amount: 10, CustomerPhone: "0712345678"}, "worker_id"},
		{"bad phone", TipRequest{WorkerID: "W1", Amount: 10, CustomerPhone: "12"}, "customer_phone"},
		{"missing phone", TipRequest{WorkerID: "W1", Amount: 10}, "customer_phone"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Check(context.Background(), tt.req)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrValidation))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

// TestCheckUnknownWorker tests that workers missing from the cache are rejected.
func TestCheckUnknownWorker(t *testing.T) {
	c := newChecker()

	_, err := c.Check(context.Background(), TipRequest{WorkerID: "nobody", Amount: 10, CustomerPhone: "0712345678"})
	assert.True(t, errors.Is(err, errors.ErrValidation))
}

// TestNormalizePhone tests the accepted input formats.
func TestNormalizePhone(t *testing.T) {
	for _, raw := range []string{"0712345678", "+254712345678", " 0712 345 678 "} {
		got, err := NormalizePhone(raw, DefaultRegion)
		require.NoError(t, err, raw)
		assert.Equal(t, "254712345678", got, raw)
	}

	_, err := NormalizePhone("not a number", DefaultRegion)
	assert.Error(t, err)
}
