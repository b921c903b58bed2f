package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"doerline/internal/domain"
	"doerline/internal/engine"
	"doerline/internal/lifecycle"
)

func registerAuth(api huma.API, e engine.Engine, cfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "login",
		Method:      http.MethodPost,
		Path:        "/auth/login",
		Summary:     "Exchange a password for a bearer token",
		Errors:      []int{400, 401},
	}, func(ctx context.Context, input *struct {
		Body LoginRequest `json:"body"`
	}) (*struct {
		Body LoginResponse `json:"body"`
	}, error) {
		actor, err := e.Authenticate(ctx, strings.TrimSpace(input.Body.ActorID), input.Body.Password)
		if err != nil {
			return nil, handleError(err)
		}
		token, exp, err := signToken(cfg, actor.ID, actor.Role)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body LoginResponse `json:"body"`
		}{Body: LoginResponse{Token: token, ExpiresAt: domain.FormatTime(exp), Actor: actor}}, nil
	})
}

func registerMe(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "getMe",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current actor",
		Errors:      []int{401, 404},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body domain.Actor `json:"body"`
	}, error) {
		actor, herr := actorFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		a, err := e.GetActor(ctx, actor.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Actor `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "setAvailability",
		Method:      http.MethodPut,
		Path:        "/me/availability",
		Summary:     "Mark the calling doer available or busy",
		Errors:      []int{401, 403},
	}, func(ctx context.Context, input *struct {
		Body AvailabilityRequest `json:"body"`
	}) (*struct {
		Body domain.Actor `json:"body"`
	}, error) {
		actor, herr := actorFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		a, err := e.SetAvailability(ctx, actor, input.Body.Available)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Actor `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "setPassword",
		Method:        http.MethodPut,
		Path:          "/me/password",
		Summary:       "Set a password",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{401, 403, 422},
	}, func(ctx context.Context, input *struct {
		Body SetPasswordRequest `json:"body"`
	}) (*struct{}, error) {
		actor, herr := actorFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		target := strings.TrimSpace(input.Body.ActorID)
		if target == "" {
			target = actor.ID
		}
		if err := e.SetPassword(ctx, actor, target, input.Body.Password); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "unreadCounts",
		Method:      http.MethodGet,
		Path:        "/me/unread",
		Summary:     "Unread chat messages per project",
		Errors:      []int{401},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]int `json:"body"`
	}, error) {
		actor, herr := actorFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		counts, err := e.UnreadCounts(ctx, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]int `json:"body"`
		}{Body: counts}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "dashboard",
		Method:      http.MethodGet,
		Path:        "/dashboard",
		Summary:     "Project counts, earnings and unread messages for the caller",
		Errors:      []int{401},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body engine.Dashboard `json:"body"`
	}, error) {
		actor, herr := actorFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		d, err := e.DashboardStats(ctx, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.Dashboard `json:"body"`
		}{Body: d}, nil
	})
}

func registerActors(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "listDoers",
		Method:      http.MethodGet,
		Path:        "/doers",
		Summary:     "List doers a supervisor can assign",
		Errors:      []int{401, 403},
	}, func(ctx context.Context, input *struct {
		Available bool `query:"available"`
	}) (*struct {
		Body []domain.Actor `json:"body"`
	}, error) {
		actor, herr := actorFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		doers, err := e.ListDoers(ctx, actor, input.Available)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Actor `json:"body"`
		}{Body: doers}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "listActors",
		Method:      http.MethodGet,
		Path:        "/actors",
		Summary:     "List actors",
		Errors:      []int{401, 403, 422},
	}, func(ctx context.Context, input *struct {
		Role string `query:"role" enum:"doer,supervisor,client,system"`
	}) (*struct {
		Body []domain.Actor `json:"body"`
	}, error) {
		actor, herr := actorFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		var role lifecycle.Role
		if input.Role != "" {
			r, err := lifecycle.ParseRole(input.Role)
			if err != nil {
				return nil, invalidField("role", err)
			}
			role = r
		}
		actors, err := e.ListActors(ctx, actor, role)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Actor `json:"body"`
		}{Body: actors}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "createActor",
		Method:      http.MethodPost,
		Path:        "/actors",
		Summary:     "Create an actor",
		Errors:      []int{401, 403, 409, 422},
	}, func(ctx context.Context, input *struct {
		Body CreateActorRequest `json:"body"`
	}) (*struct {
		Body domain.Actor `json:"body"`
	}, error) {
		actor, herr := actorFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		a, err := e.CreateActor(ctx, actor, engine.NewActor{
			ID:          input.Body.ID,
			Role:        lifecycle.Role(input.Body.Role),
			DisplayName: input.Body.DisplayName,
			Password:    input.Body.Password,
			Available:   input.Body.Available,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Actor `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "listAPIKeys",
		Method:      http.MethodGet,
		Path:        "/api-keys",
		Summary:     "List API keys",
		Errors:      []int{401, 403},
	}, func(ctx context.Context, input *struct {
		ActorID string `query:"actor_id"`
	}) (*struct {
		Body []domain.APIKey `json:"body"`
	}, error) {
		actor, herr := actorFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		target := input.ActorID
		if target == "" {
			target = actor.ID
		}
		keys, err := e.ListAPIKeys(ctx, actor, target)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.APIKey `json:"body"`
		}{Body: keys}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "createAPIKey",
		Method:      http.MethodPost,
		Path:        "/api-keys",
		Summary:     "Create an API key",
		Errors:      []int{401, 403, 404},
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body"`
	}) (*struct {
		Body APIKeyCreatedResponse `json:"body"`
	}, error) {
		actor, herr := actorFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		target := strings.TrimSpace(input.Body.ActorID)
		if target == "" {
			target = actor.ID
		}
		key, secret, err := e.CreateAPIKey(ctx, actor, target, input.Body.Name)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body APIKeyCreatedResponse `json:"body"`
		}{Body: APIKeyCreatedResponse{Key: key, Secret: secret}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "revokeAPIKey",
		Method:        http.MethodDelete,
		Path:          "/api-keys/{id}",
		Summary:       "Revoke an API key",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{401, 403, 404},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		actor, herr := actorFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		if err := e.RevokeAPIKey(ctx, actor, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}
