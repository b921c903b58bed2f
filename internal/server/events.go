package server

import (
	"context"
	"net/http"
	"strconv"

	"github.com/danielgtaylor/huma/v2"

	"doerline/internal/domain"
	"doerline/internal/engine"
	"doerline/internal/repo"
)

type EventQuery struct {
	Type   string `query:"type"`
	Limit  int    `query:"limit"`
	Cursor string `query:"cursor" doc:"Event id to page below"`
}

func listEvents(ctx context.Context, e engine.Engine, projectID string, q EventQuery) (*struct {
	Body EventListResponse `json:"body"`
}, error) {
	actor, herr := actorFromContext(ctx)
	if herr != nil {
		return nil, herr
	}
	before, err := parseIDCursor(q.Cursor)
	if err != nil {
		return nil, badCursor(q.Cursor)
	}
	limit := normalizeLimit(q.Limit)
	items, err := e.ListEvents(ctx, actor, repo.EventFilters{
		ProjectID: projectID,
		Type:      q.Type,
		Before:    before,
		Limit:     limit,
	})
	if err != nil {
		return nil, handleError(err)
	}
	if items == nil {
		items = []domain.Event{}
	}
	resp := EventListResponse{Items: items}
	if len(items) == limit {
		resp.NextCursor = strconv.FormatInt(items[len(items)-1].ID, 10)
	}
	return &struct {
		Body EventListResponse `json:"body"`
	}{Body: resp}, nil
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "listProjectEvents",
		Method:      http.MethodGet,
		Path:        "/projects/{id}/events",
		Summary:     "Project history, newest first",
		Errors:      []int{400, 401, 403, 404},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
		EventQuery
	}) (*struct {
		Body EventListResponse `json:"body"`
	}, error) {
		return listEvents(ctx, e, input.ID, input.EventQuery)
	})

	huma.Register(api, huma.Operation{
		OperationID: "listEvents",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Whole event log (system only)",
		Errors:      []int{400, 401, 403},
	}, func(ctx context.Context, input *struct {
		ProjectID string `query:"project_id"`
		EventQuery
	}) (*struct {
		Body EventListResponse `json:"body"`
	}, error) {
		return listEvents(ctx, e, input.ProjectID, input.EventQuery)
	})
}
