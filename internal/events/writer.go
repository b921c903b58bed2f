package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"doerline/internal/domain"
	"doerline/internal/repo"
)

// Event types written by the engine.
const (
	ProjectSubmitted     = "project.submitted"
	ProjectClaimed       = "project.claimed"
	ProjectQuoted        = "project.quoted"
	ProjectTransitioned  = "project.transitioned"
	ProjectAssigned      = "project.assigned"
	ProjectCancelled     = "project.cancelled"
	DeliverableAdded     = "deliverable.added"
	RevisionRequested    = "revision.requested"
	ChatMessageSent      = "chat.message"
	ActorCreated         = "actor.created"
	ActorAvailability    = "actor.availability"
	PricingConfigUpdated = "pricing.updated"
	APIKeyCreated        = "api_key.created"
	APIKeyRevoked        = "api_key.revoked"
)

type Writer struct {
	Now func() time.Time
}

type EventPayload map[string]any

// Append records an event through r, which is normally bound to the
// mutation's transaction so the event commits with the change.
func (w Writer) Append(ctx context.Context, r repo.Repo, evtType, projectID, entityKind, entityID, actorID string, payload EventPayload) (domain.Event, error) {
	if w.Now == nil {
		w.Now = time.Now
	}
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return domain.Event{}, fmt.Errorf("marshal event payload: %w", err)
	}
	e := domain.Event{
		TS:         domain.FormatTime(w.Now()),
		Type:       evtType,
		ProjectID:  projectID,
		EntityKind: entityKind,
		EntityID:   entityID,
		ActorID:    actorID,
		Payload:    string(data),
	}
	id, err := r.AppendEvent(ctx, e)
	if err != nil {
		return domain.Event{}, fmt.Errorf("append event %s: %w", evtType, err)
	}
	e.ID = id
	return e, nil
}
