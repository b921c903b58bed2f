package pricing_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"doerline/internal/apperr"
	"doerline/internal/lifecycle"
	"doerline/internal/pricing"
)

var now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func intPtr(v int) *int { return &v }

func TestWordCountWithTightDeadline(t *testing.T) {
	q, err := pricing.Calculate(pricing.Input{
		WordCount: intPtr(1000),
		Deadline:  now.Add(12 * time.Hour),
		Now:       now,
	}, pricing.DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, int64(750), q.SuggestedQuote)
	assert.Equal(t, int64(488), q.DoerPayout)
	assert.Equal(t, 1.5, q.UrgencyMultiplier)
	assert.Equal(t, q.SuggestedQuote, q.DoerPayout+q.SupervisorCommission+q.PlatformFee)
}

func TestFloorPriceWithoutSize(t *testing.T) {
	q, err := pricing.Calculate(pricing.Input{Deadline: now.Add(96 * time.Hour), Now: now}, pricing.DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, int64(500), q.SuggestedQuote)
	assert.Equal(t, 1.0, q.UrgencyMultiplier)

	q, err = pricing.Calculate(pricing.Input{WordCount: intPtr(0), PageCount: intPtr(0), Deadline: now.Add(96 * time.Hour), Now: now}, pricing.DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, int64(500), q.SuggestedQuote)
}

func TestFloorPriceIsConfigurable(t *testing.T) {
	cfg := pricing.DefaultConfig()
	cfg.FloorPrice = 800
	q, err := pricing.Calculate(pricing.Input{Now: now}, cfg)
	require.NoError(t, err)
	assert.Equal(t, int64(800), q.SuggestedQuote)
}

func TestPageCountFallback(t *testing.T) {
	q, err := pricing.Calculate(pricing.Input{PageCount: intPtr(4), Deadline: now.Add(60 * time.Hour), Now: now}, pricing.DefaultConfig())
	require.NoError(t, err)
	// 4 * 125 * 1.15
	assert.Equal(t, int64(575), q.SuggestedQuote)
}

func TestUrgencyBrackets(t *testing.T) {
	cfg := pricing.DefaultConfig()
	cases := []struct {
		name     string
		deadline time.Time
		want     float64
	}{
		{"overdue", now.Add(-5 * time.Hour), 1.5},
		{"now", now, 1.5},
		{"24h edge", now.Add(24 * time.Hour), 1.5},
		{"36h", now.Add(36 * time.Hour), 1.3},
		{"48h edge", now.Add(48 * time.Hour), 1.3},
		{"72h edge", now.Add(72 * time.Hour), 1.15},
		{"week", now.Add(7 * 24 * time.Hour), 1.0},
		{"no deadline", time.Time{}, 1.0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, pricing.UrgencyMultiplier(tc.deadline, now, cfg))
		})
	}
}

func TestOverdueDoesNotFail(t *testing.T) {
	q, err := pricing.Calculate(pricing.Input{WordCount: intPtr(100), Deadline: now.Add(-48 * time.Hour), Now: now}, pricing.DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, int64(75), q.SuggestedQuote)
}

func TestNegativeCountsRejected(t *testing.T) {
	_, err := pricing.Calculate(pricing.Input{WordCount: intPtr(-1), Now: now}, pricing.DefaultConfig())
	var ve *apperr.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "word_count", ve.Fields[0].Field)
}

func TestSplitAlwaysSums(t *testing.T) {
	cfg := pricing.DefaultConfig()
	for quote := int64(0); quote < 2000; quote += 7 {
		s := pricing.Split(quote, cfg)
		assert.Equal(t, quote, s.DoerPayout+s.SupervisorCommission+s.PlatformFee, "quote %d", quote)
		assert.GreaterOrEqual(t, s.PlatformFee, int64(0))
		assert.GreaterOrEqual(t, s.SupervisorCommission, int64(0))
	}
	cfg.PlatformPercentage = 0
	s := pricing.Split(999, cfg)
	assert.Equal(t, int64(999), s.DoerPayout+s.SupervisorCommission+s.PlatformFee)
}

func TestValidateManual(t *testing.T) {
	cfg := pricing.DefaultConfig()
	err := pricing.ValidateManual(lifecycle.Amounts{UserQuote: 50, DoerPayout: 30, SupervisorCommission: 10, PlatformFee: 10}, cfg)
	var ve *apperr.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Contains(t, ve.Fields[0].Error, "below the minimum")

	err = pricing.ValidateManual(lifecycle.Amounts{UserQuote: 600, DoerPayout: 700}, cfg)
	require.Error(t, err)

	assert.NoError(t, pricing.ValidateManual(lifecycle.Amounts{UserQuote: 600, DoerPayout: 390, SupervisorCommission: 150, PlatformFee: 60}, cfg))
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, pricing.DefaultConfig().Validate())

	cfg := pricing.DefaultConfig()
	cfg.SupervisorPercentage = 80
	cfg.PlatformPercentage = 30
	assert.Error(t, cfg.Validate())

	cfg = pricing.DefaultConfig()
	cfg.BasePricePerWord = -1
	var ve *apperr.ValidationError
	require.True(t, errors.As(cfg.Validate(), &ve))
	assert.Equal(t, "base_price_per_word", ve.Fields[0].Field)
}
