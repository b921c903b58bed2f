// Package pricing derives a suggested client quote and its payout split from
// the size of the work and the urgency of its deadline.
package pricing

import (
	"fmt"
	"math"
	"time"

	"doerline/internal/apperr"
	"doerline/internal/lifecycle"
)

// Config holds the recognized pricing options.
type Config struct {
	BasePricePerWord     float64 `yaml:"base_price_per_word" json:"base_price_per_word" validate:"gte=0"`
	BasePricePerPage     float64 `yaml:"base_price_per_page" json:"base_price_per_page" validate:"gte=0"`
	Urgency24h           float64 `yaml:"urgency_24h_multiplier" json:"urgency_24h_multiplier" validate:"gte=1"`
	Urgency48h           float64 `yaml:"urgency_48h_multiplier" json:"urgency_48h_multiplier" validate:"gte=1"`
	Urgency72h           float64 `yaml:"urgency_72h_multiplier" json:"urgency_72h_multiplier" validate:"gte=1"`
	SupervisorPercentage float64 `yaml:"supervisor_percentage" json:"supervisor_percentage" validate:"gte=0,lte=100"`
	PlatformPercentage   float64 `yaml:"platform_percentage" json:"platform_percentage" validate:"gte=0,lte=100"`
	FloorPrice           int64   `yaml:"floor_price" json:"floor_price" validate:"gte=0"`
	MinimumQuote         int64   `yaml:"minimum_quote" json:"minimum_quote" validate:"gte=0"`
}

// DefaultConfig returns the stock pricing table.
func DefaultConfig() Config {
	return Config{
		BasePricePerWord:     0.5,
		BasePricePerPage:     125,
		Urgency24h:           1.5,
		Urgency48h:           1.3,
		Urgency72h:           1.15,
		SupervisorPercentage: 25,
		PlatformPercentage:   10,
		FloorPrice:           500,
		MinimumQuote:         100,
	}
}

// Validate checks option ranges.
func (c Config) Validate() error {
	if err := apperr.ValidateStruct(c); err != nil {
		return err
	}
	if c.SupervisorPercentage+c.PlatformPercentage > 100 {
		return apperr.NewValidationError(
			fmt.Errorf("supervisor and platform percentages exceed 100"),
			apperr.FieldError{Field: "platform_percentage", Error: "supervisor_percentage + platform_percentage must not exceed 100"},
		)
	}
	return nil
}

// Input describes the work being priced. A zero Deadline means none was set.
type Input struct {
	WordCount *int
	PageCount *int
	Deadline  time.Time
	Now       time.Time
}

// Quote is the calculator output in whole currency units.
type Quote struct {
	SuggestedQuote       int64   `json:"suggested_quote"`
	DoerPayout           int64   `json:"doer_payout"`
	SupervisorCommission int64   `json:"supervisor_commission"`
	PlatformFee          int64   `json:"platform_fee"`
	BasePrice            float64 `json:"base_price"`
	UrgencyMultiplier    float64 `json:"urgency_multiplier"`
}

// Amounts converts q into the split stored on a project.
func (q Quote) Amounts() lifecycle.Amounts {
	return lifecycle.Amounts{
		UserQuote:            q.SuggestedQuote,
		DoerPayout:           q.DoerPayout,
		SupervisorCommission: q.SupervisorCommission,
		PlatformFee:          q.PlatformFee,
	}
}

// Calculate prices the input against cfg.
func Calculate(in Input, cfg Config) (Quote, error) {
	if in.WordCount != nil && *in.WordCount < 0 {
		return Quote{}, apperr.NewValidationError(fmt.Errorf("word count must not be negative"),
			apperr.FieldError{Field: "word_count", Error: "must not be negative"})
	}
	if in.PageCount != nil && *in.PageCount < 0 {
		return Quote{}, apperr.NewValidationError(fmt.Errorf("page count must not be negative"),
			apperr.FieldError{Field: "page_count", Error: "must not be negative"})
	}
	base := BasePrice(in.WordCount, in.PageCount, cfg)
	mult := UrgencyMultiplier(in.Deadline, in.Now, cfg)
	suggested := ceilUnits(base * mult)
	q := Split(suggested, cfg)
	q.BasePrice = base
	q.UrgencyMultiplier = mult
	return q, nil
}

// BasePrice prefers word count, then page count, then the floor price.
func BasePrice(words, pages *int, cfg Config) float64 {
	switch {
	case words != nil && *words > 0:
		return float64(*words) * cfg.BasePricePerWord
	case pages != nil && *pages > 0:
		return float64(*pages) * cfg.BasePricePerPage
	default:
		return float64(cfg.FloorPrice)
	}
}

// UrgencyMultiplier picks the tightest bracket the deadline falls in. Overdue
// deadlines land in the 24h bracket; a missing deadline carries no urgency.
func UrgencyMultiplier(deadline, now time.Time, cfg Config) float64 {
	if deadline.IsZero() {
		return 1.0
	}
	hours := deadline.Sub(now).Hours()
	switch {
	case hours <= 24:
		return orOne(cfg.Urgency24h)
	case hours <= 48:
		return orOne(cfg.Urgency48h)
	case hours <= 72:
		return orOne(cfg.Urgency72h)
	default:
		return 1.0
	}
}

// Split divides quote into payout, commission and fee. The three parts always
// sum to quote.
func Split(quote int64, cfg Config) Quote {
	if quote < 0 {
		quote = 0
	}
	cut := cfg.SupervisorPercentage + cfg.PlatformPercentage
	payout := ceilUnits(float64(quote) * (100 - cut) / 100)
	if payout > quote {
		payout = quote
	}
	commission := int64(math.Floor(float64(quote)*cfg.SupervisorPercentage/100 + 1e-9))
	fee := quote - payout - commission
	if fee < 0 {
		commission += fee
		fee = 0
	}
	if commission < 0 {
		commission = 0
	}
	return Quote{
		SuggestedQuote:       quote,
		DoerPayout:           payout,
		SupervisorCommission: commission,
		PlatformFee:          fee,
	}
}

// ValidateManual checks a supervisor-entered split.
func ValidateManual(a lifecycle.Amounts, cfg Config) error {
	var fields []apperr.FieldError
	check := func(name string, v int64) {
		if v < 0 {
			fields = append(fields, apperr.FieldError{Field: name, Error: "must not be negative"})
		}
	}
	check("user_quote", a.UserQuote)
	check("doer_payout", a.DoerPayout)
	check("supervisor_commission", a.SupervisorCommission)
	check("platform_fee", a.PlatformFee)
	if a.UserQuote < cfg.MinimumQuote {
		fields = append(fields, apperr.FieldError{Field: "user_quote", Error: fmt.Sprintf("quote is below the minimum of %d", cfg.MinimumQuote)})
	}
	if a.DoerPayout > a.UserQuote {
		fields = append(fields, apperr.FieldError{Field: "doer_payout", Error: "payout exceeds the quote"})
	}
	if len(fields) > 0 {
		return apperr.NewValidationError(fmt.Errorf("invalid quote"), fields...)
	}
	return nil
}

// ceilUnits rounds up, tolerating float noise just above a whole unit.
func ceilUnits(v float64) int64 {
	if v <= 0 {
		return 0
	}
	return int64(math.Ceil(v - 1e-9))
}

func orOne(v float64) float64 {
	if v <= 0 {
		return 1.0
	}
	return v
}
