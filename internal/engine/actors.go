package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"doerline/internal/apperr"
	"doerline/internal/domain"
	"doerline/internal/engine/auth"
	"doerline/internal/events"
	"doerline/internal/lifecycle"
	"doerline/internal/repo"
)

// NewActor registers a user. Password may be empty for API-key-only actors.
type NewActor struct {
	ID          string         `json:"id" validate:"required,max=64"`
	Role        lifecycle.Role `json:"role" validate:"required,oneof=doer supervisor client system"`
	DisplayName string         `json:"display_name,omitempty" validate:"max=120"`
	Password    string         `json:"-"`
	Available   bool           `json:"available,omitempty"`
}

// CreateActor registers an actor. Only the system may do this.
func (e Engine) CreateActor(ctx context.Context, actor auth.Actor, in NewActor) (domain.Actor, error) {
	if err := requireRole(actor, lifecycle.RoleSystem); err != nil {
		return domain.Actor{}, err
	}
	in.ID = strings.TrimSpace(in.ID)
	if err := apperr.ValidateStruct(in); err != nil {
		return domain.Actor{}, err
	}
	a := domain.Actor{
		ID:          in.ID,
		Role:        in.Role,
		DisplayName: in.DisplayName,
		Available:   in.Available && in.Role == lifecycle.RoleDoer,
		CreatedAt:   e.stamp(),
	}
	if in.Password != "" {
		hash, err := auth.HashPassword(in.Password)
		if err != nil {
			return domain.Actor{}, err
		}
		a.PasswordHash = hash
	}
	err := e.inTx(ctx, "create_actor", func(ctx context.Context, r repo.Repo) error {
		if _, err := r.GetActor(ctx, a.ID); err == nil {
			return apperr.ConflictError{Reason: fmt.Sprintf("actor %s already exists", a.ID)}
		} else if !errors.Is(err, repo.ErrNotFound) {
			return err
		}
		if err := r.InsertActor(ctx, a); err != nil {
			return fmt.Errorf("insert actor: %w", err)
		}
		_, err := e.writer().Append(ctx, r, events.ActorCreated, "", "actor", a.ID, actor.ID,
			events.EventPayload{"role": string(a.Role)})
		return err
	})
	if err != nil {
		return domain.Actor{}, err
	}
	return a, nil
}

// EnsureSystemActor makes sure the system actor row exists.
func (e Engine) EnsureSystemActor(ctx context.Context, id string) (auth.Actor, error) {
	sys := auth.System(id)
	err := e.inTx(ctx, "ensure_system_actor", func(ctx context.Context, r repo.Repo) error {
		return r.EnsureActor(ctx, domain.Actor{ID: sys.ID, Role: lifecycle.RoleSystem, DisplayName: "System", CreatedAt: e.stamp()})
	})
	return sys, err
}

func (e Engine) GetActor(ctx context.Context, id string) (domain.Actor, error) {
	var a domain.Actor
	err := e.read(ctx, "get_actor", func(ctx context.Context, r repo.Repo) error {
		var err error
		a, err = r.GetActor(ctx, id)
		return err
	})
	return a, err
}

// SetPassword replaces an actor's password. Actors may change their own;
// the system may change anyone's.
func (e Engine) SetPassword(ctx context.Context, actor auth.Actor, actorID, password string) error {
	if err := actor.Validate(); err != nil {
		return err
	}
	if actor.Role != lifecycle.RoleSystem && actor.ID != actorID {
		return apperr.NotAuthorizedError{Reason: "cannot change another actor's password"}
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	return e.inTx(ctx, "set_password", func(ctx context.Context, r repo.Repo) error {
		return r.SetPasswordHash(ctx, actorID, hash)
	})
}

// Authenticate checks a password login.
func (e Engine) Authenticate(ctx context.Context, actorID, password string) (domain.Actor, error) {
	a, err := e.GetActor(ctx, actorID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Actor{}, apperr.ErrNotAuthenticated
	}
	if err != nil {
		return domain.Actor{}, err
	}
	if err := auth.CheckPassword(a.PasswordHash, password); err != nil {
		return domain.Actor{}, err
	}
	return a, nil
}

// SetAvailability toggles whether a doer takes new assignments.
func (e Engine) SetAvailability(ctx context.Context, actor auth.Actor, available bool) (domain.Actor, error) {
	if err := requireRole(actor, lifecycle.RoleDoer); err != nil {
		return domain.Actor{}, err
	}
	var a domain.Actor
	err := e.inTx(ctx, "set_availability", func(ctx context.Context, r repo.Repo) error {
		if err := r.SetAvailability(ctx, actor.ID, available); err != nil {
			return err
		}
		if _, err := e.writer().Append(ctx, r, events.ActorAvailability, "", "actor", actor.ID, actor.ID,
			events.EventPayload{"available": available}); err != nil {
			return err
		}
		var err error
		a, err = r.GetActor(ctx, actor.ID)
		return err
	})
	return a, err
}

// ListDoers lists doers for supervisors choosing an assignee.
func (e Engine) ListDoers(ctx context.Context, actor auth.Actor, availableOnly bool) ([]domain.Actor, error) {
	if err := requireRole(actor, lifecycle.RoleSupervisor, lifecycle.RoleSystem); err != nil {
		return nil, err
	}
	var out []domain.Actor
	err := e.read(ctx, "list_doers", func(ctx context.Context, r repo.Repo) error {
		var err error
		out, err = r.ListActors(ctx, repo.ActorFilters{Role: lifecycle.RoleDoer, AvailableOnly: availableOnly})
		return err
	})
	return out, err
}

// ListActors lists every actor, optionally of one role. System only.
func (e Engine) ListActors(ctx context.Context, actor auth.Actor, role lifecycle.Role) ([]domain.Actor, error) {
	if err := requireRole(actor, lifecycle.RoleSystem); err != nil {
		return nil, err
	}
	var out []domain.Actor
	err := e.read(ctx, "list_actors", func(ctx context.Context, r repo.Repo) error {
		var err error
		out, err = r.ListActors(ctx, repo.ActorFilters{Role: role})
		return err
	})
	return out, err
}

// CreateAPIKey issues a key for actorID and returns the plaintext once.
func (e Engine) CreateAPIKey(ctx context.Context, actor auth.Actor, actorID, name string) (domain.APIKey, string, error) {
	if err := actor.Validate(); err != nil {
		return domain.APIKey{}, "", err
	}
	if actorID == "" {
		actorID = actor.ID
	}
	if actor.Role != lifecycle.RoleSystem && actor.ID != actorID {
		return domain.APIKey{}, "", apperr.NotAuthorizedError{Reason: "cannot create keys for another actor"}
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return domain.APIKey{}, "", err
	}
	plain := "dl_" + hex.EncodeToString(buf)
	key := domain.APIKey{ID: newID(), ActorID: actorID, Name: name, KeyHash: repo.HashAPIKey(plain), CreatedAt: e.stamp()}
	err := e.inTx(ctx, "create_api_key", func(ctx context.Context, r repo.Repo) error {
		if _, err := r.GetActor(ctx, actorID); err != nil {
			return err
		}
		if err := r.InsertAPIKey(ctx, key); err != nil {
			return err
		}
		_, err := e.writer().Append(ctx, r, events.APIKeyCreated, "", "api_key", key.ID, actor.ID,
			events.EventPayload{"actor_id": actorID, "name": name})
		return err
	})
	if err != nil {
		return domain.APIKey{}, "", err
	}
	return key, plain, nil
}

// ResolveAPIKey maps a presented key to its actor.
func (e Engine) ResolveAPIKey(ctx context.Context, plain string) (domain.Actor, error) {
	if strings.TrimSpace(plain) == "" {
		return domain.Actor{}, apperr.ErrNotAuthenticated
	}
	var a domain.Actor
	err := e.read(ctx, "resolve_api_key", func(ctx context.Context, r repo.Repo) error {
		key, err := r.GetAPIKeyByHash(ctx, repo.HashAPIKey(plain))
		if errors.Is(err, repo.ErrNotFound) {
			return apperr.ErrNotAuthenticated
		}
		if err != nil {
			return err
		}
		a, err = r.GetActor(ctx, key.ActorID)
		return err
	})
	return a, err
}

func (e Engine) ListAPIKeys(ctx context.Context, actor auth.Actor, actorID string) ([]domain.APIKey, error) {
	if err := actor.Validate(); err != nil {
		return nil, err
	}
	if actor.Role != lifecycle.RoleSystem {
		actorID = actor.ID
	}
	var out []domain.APIKey
	err := e.read(ctx, "list_api_keys", func(ctx context.Context, r repo.Repo) error {
		var err error
		out, err = r.ListAPIKeys(ctx, actorID)
		return err
	})
	return out, err
}

// RevokeAPIKey deletes a key. System only.
func (e Engine) RevokeAPIKey(ctx context.Context, actor auth.Actor, keyID string) error {
	if err := requireRole(actor, lifecycle.RoleSystem); err != nil {
		return err
	}
	return e.inTx(ctx, "revoke_api_key", func(ctx context.Context, r repo.Repo) error {
		if err := r.DeleteAPIKey(ctx, keyID); err != nil {
			return err
		}
		_, err := e.writer().Append(ctx, r, events.APIKeyRevoked, "", "api_key", keyID, actor.ID, nil)
		return err
	})
}
