package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"doerline/internal/domain"
	"doerline/internal/engine"
)

func registerChat(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "listMessages",
		Method:      http.MethodGet,
		Path:        "/projects/{id}/messages",
		Summary:     "List chat messages, newest first",
		Errors:      []int{400, 401, 403, 404},
	}, func(ctx context.Context, input *struct {
		ID     string `path:"id"`
		Limit  int    `query:"limit"`
		Cursor string `query:"cursor"`
	}) (*struct {
		Body MessageListResponse `json:"body"`
	}, error) {
		actor, herr := actorFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		ts, id, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, badCursor(input.Cursor)
		}
		limit := normalizeLimit(input.Limit)
		items, err := e.ListMessages(ctx, actor, input.ID, limit, ts, id)
		if err != nil {
			return nil, handleError(err)
		}
		resp := MessageListResponse{Items: items}
		if len(items) == limit {
			last := items[len(items)-1]
			resp.NextCursor = composeCursor(last.CreatedAt, last.ID)
		}
		return &struct {
			Body MessageListResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "sendMessage",
		Method:      http.MethodPost,
		Path:        "/projects/{id}/messages",
		Summary:     "Post a chat message",
		Errors:      []int{400, 401, 403, 404, 422},
	}, func(ctx context.Context, input *struct {
		ID   string             `path:"id"`
		Body SendMessageRequest `json:"body"`
	}) (*struct {
		Body domain.ChatMessage `json:"body"`
	}, error) {
		actor, herr := actorFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		msg, err := e.SendMessage(ctx, actor, input.ID, input.Body.Body)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ChatMessage `json:"body"`
		}{Body: msg}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "markMessagesRead",
		Method:        http.MethodPost,
		Path:          "/projects/{id}/messages/read",
		Summary:       "Mark the project chat as read",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{401, 403, 404},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		actor, herr := actorFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		if err := e.MarkRead(ctx, actor, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}
