package engine

import (
	"context"
	"errors"

	"doerline/internal/apperr"
	"doerline/internal/engine/auth"
	"doerline/internal/events"
	"doerline/internal/lifecycle"
	"doerline/internal/pricing"
	"doerline/internal/repo"
)

// PricingSettingKey names the stored pricing config.
const PricingSettingKey = "pricing"

func (e Engine) pricingConfig(ctx context.Context, r repo.Repo) (pricing.Config, error) {
	var cfg pricing.Config
	err := r.GetSetting(ctx, PricingSettingKey, &cfg)
	if errors.Is(err, repo.ErrNotFound) {
		return e.Pricing, nil
	}
	if err != nil {
		return pricing.Config{}, err
	}
	return cfg, nil
}

// PricingConfig returns the active pricing config.
func (e Engine) PricingConfig(ctx context.Context) (pricing.Config, error) {
	var cfg pricing.Config
	err := e.read(ctx, "pricing_config", func(ctx context.Context, r repo.Repo) error {
		var err error
		cfg, err = e.pricingConfig(ctx, r)
		return err
	})
	return cfg, err
}

// UpdatePricingConfig stores a new pricing config. System only.
func (e Engine) UpdatePricingConfig(ctx context.Context, actor auth.Actor, cfg pricing.Config) (pricing.Config, error) {
	if err := requireRole(actor, lifecycle.RoleSystem); err != nil {
		return pricing.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return pricing.Config{}, err
	}
	err := e.inTx(ctx, "update_pricing", func(ctx context.Context, r repo.Repo) error {
		if err := r.PutSetting(ctx, PricingSettingKey, cfg, e.stamp()); err != nil {
			return err
		}
		_, err := e.writer().Append(ctx, r, events.PricingConfigUpdated, "", "settings", PricingSettingKey, actor.ID,
			events.EventPayload{"pricing": cfg})
		return err
	})
	if err != nil {
		return pricing.Config{}, err
	}
	return cfg, nil
}

// SeedPricingConfig stores cfg unless a pricing config already exists.
func (e Engine) SeedPricingConfig(ctx context.Context, cfg pricing.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	return e.inTx(ctx, "seed_pricing", func(ctx context.Context, r repo.Repo) error {
		var existing pricing.Config
		err := r.GetSetting(ctx, PricingSettingKey, &existing)
		if err == nil {
			return nil
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return err
		}
		return r.PutSetting(ctx, PricingSettingKey, cfg, e.stamp())
	})
}

// QuoteInput is a pricing preview request.
type QuoteInput struct {
	WordCount *int   `json:"word_count,omitempty" validate:"omitempty,gte=0"`
	PageCount *int   `json:"page_count,omitempty" validate:"omitempty,gte=0"`
	Deadline  string `json:"deadline,omitempty"`
}

// PreviewQuote runs the calculator without touching any project.
func (e Engine) PreviewQuote(ctx context.Context, in QuoteInput) (pricing.Quote, error) {
	if err := apperr.ValidateStruct(in); err != nil {
		return pricing.Quote{}, err
	}
	pin := pricing.Input{WordCount: in.WordCount, PageCount: in.PageCount, Now: e.now()}
	if in.Deadline != "" {
		d, err := parseDeadline(in.Deadline)
		if err != nil {
			return pricing.Quote{}, err
		}
		pin.Deadline = d
	}
	cfg, err := e.PricingConfig(ctx)
	if err != nil {
		return pricing.Quote{}, err
	}
	return pricing.Calculate(pin, cfg)
}
