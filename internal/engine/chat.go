package engine

import (
	"context"
	"fmt"
	"strings"

	"doerline/internal/apperr"
	"doerline/internal/domain"
	"doerline/internal/engine/auth"
	"doerline/internal/events"
	"doerline/internal/lifecycle"
	"doerline/internal/repo"
)

type messageInput struct {
	Body string `json:"body" validate:"required,max=4000"`
}

// requireParticipant allows the project's participants and the system.
func requireParticipant(actor auth.Actor, p domain.Project) error {
	if actor.Role == lifecycle.RoleSystem || p.IsParticipant(actor.ID) {
		return nil
	}
	return apperr.NotAuthorizedError{Reason: "only project participants can use its chat"}
}

// SendMessage posts to the project's chat.
func (e Engine) SendMessage(ctx context.Context, actor auth.Actor, projectID, body string) (domain.ChatMessage, error) {
	if err := actor.Validate(); err != nil {
		return domain.ChatMessage{}, err
	}
	body = strings.TrimSpace(body)
	if err := apperr.ValidateStruct(messageInput{Body: body}); err != nil {
		return domain.ChatMessage{}, err
	}
	m := domain.ChatMessage{ID: newID(), ProjectID: projectID, SenderID: actor.ID, Body: body, CreatedAt: e.stamp()}
	err := e.inTx(ctx, "send_message", func(ctx context.Context, r repo.Repo) error {
		p, err := loadProject(ctx, r, projectID)
		if err != nil {
			return err
		}
		if err := requireParticipant(actor, p); err != nil {
			return err
		}
		if p.Status.Terminal() {
			return apperr.ConflictError{Reason: fmt.Sprintf("chat is closed: project is %s", p.Status)}
		}
		if err := r.InsertMessage(ctx, m); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		// Sending implies having read everything before it.
		if err := r.MarkRead(ctx, p.ID, actor.ID, m.CreatedAt); err != nil {
			return err
		}
		_, err = e.writer().Append(ctx, r, events.ChatMessageSent, p.ID, "chat_message", m.ID, actor.ID,
			events.EventPayload{"body": m.Body, "sender_id": m.SenderID})
		return err
	})
	if err != nil {
		return domain.ChatMessage{}, err
	}
	return m, nil
}

// ListMessages pages through a project's chat, newest first.
func (e Engine) ListMessages(ctx context.Context, actor auth.Actor, projectID string, limit int, cursorCreatedAt, cursorID string) ([]domain.ChatMessage, error) {
	if err := actor.Validate(); err != nil {
		return nil, err
	}
	var out []domain.ChatMessage
	err := e.read(ctx, "list_messages", func(ctx context.Context, r repo.Repo) error {
		p, err := loadProject(ctx, r, projectID)
		if err != nil {
			return err
		}
		if err := requireParticipant(actor, p); err != nil {
			return err
		}
		out, err = r.ListMessages(ctx, p.ID, limit, cursorCreatedAt, cursorID)
		return err
	})
	return out, err
}

// MarkRead moves actor's read marker to now.
func (e Engine) MarkRead(ctx context.Context, actor auth.Actor, projectID string) error {
	if err := actor.Validate(); err != nil {
		return err
	}
	return e.inTx(ctx, "mark_read", func(ctx context.Context, r repo.Repo) error {
		p, err := loadProject(ctx, r, projectID)
		if err != nil {
			return err
		}
		if err := requireParticipant(actor, p); err != nil {
			return err
		}
		return r.MarkRead(ctx, p.ID, actor.ID, e.stamp())
	})
}

// UnreadCounts returns unread message counts per project for actor.
func (e Engine) UnreadCounts(ctx context.Context, actor auth.Actor) (map[string]int, error) {
	if err := actor.Validate(); err != nil {
		return nil, err
	}
	var out map[string]int
	err := e.read(ctx, "unread_counts", func(ctx context.Context, r repo.Repo) error {
		var err error
		out, err = r.UnreadCounts(ctx, actor.ID)
		return err
	})
	return out, err
}
