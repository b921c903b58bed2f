package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"doerline/internal/engine"
	"doerline/internal/pricing"
)

func registerPricing(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "getPricing",
		Method:      http.MethodGet,
		Path:        "/pricing",
		Summary:     "Current pricing configuration",
		Errors:      []int{401},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body pricing.Config `json:"body"`
	}, error) {
		if _, herr := actorFromContext(ctx); herr != nil {
			return nil, herr
		}
		cfg, err := e.PricingConfig(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body pricing.Config `json:"body"`
		}{Body: cfg}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "updatePricing",
		Method:      http.MethodPut,
		Path:        "/pricing",
		Summary:     "Replace the pricing configuration",
		Errors:      []int{400, 401, 403, 422},
	}, func(ctx context.Context, input *struct {
		Body pricing.Config `json:"body"`
	}) (*struct {
		Body pricing.Config `json:"body"`
	}, error) {
		actor, herr := actorFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		cfg, err := e.UpdatePricingConfig(ctx, actor, input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body pricing.Config `json:"body"`
		}{Body: cfg}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "previewQuote",
		Method:      http.MethodPost,
		Path:        "/quotes/preview",
		Summary:     "Run the quote calculator without touching a project",
		Errors:      []int{400, 401, 422},
	}, func(ctx context.Context, input *struct {
		Body QuotePreviewRequest `json:"body"`
	}) (*struct {
		Body pricing.Quote `json:"body"`
	}, error) {
		if _, herr := actorFromContext(ctx); herr != nil {
			return nil, herr
		}
		q, err := e.PreviewQuote(ctx, engine.QuoteInput{
			WordCount: input.Body.WordCount,
			PageCount: input.Body.PageCount,
			Deadline:  input.Body.Deadline,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body pricing.Quote `json:"body"`
		}{Body: q}, nil
	})
}
