// Package auth carries the acting session through the engine and holds the
// record-level ownership rules and password helpers.
package auth

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"doerline/internal/apperr"
	"doerline/internal/domain"
	"doerline/internal/lifecycle"
)

// Actor is the session every engine operation runs as. It is passed
// explicitly; nothing reads it from global state.
type Actor struct {
	ID   string
	Role lifecycle.Role
}

// System is the actor used by background jobs and admin commands.
func System(id string) Actor {
	if id == "" {
		id = "system"
	}
	return Actor{ID: id, Role: lifecycle.RoleSystem}
}

// Validate rejects an empty session.
func (a Actor) Validate() error {
	if strings.TrimSpace(a.ID) == "" {
		return apperr.ErrNotAuthenticated
	}
	if !a.Role.Valid() {
		return apperr.NotAuthorizedError{Reason: fmt.Sprintf("unknown role %q", a.Role)}
	}
	return nil
}

const minPasswordLen = 8

// HashPassword returns a bcrypt hash of password.
func HashPassword(password string) (string, error) {
	if len(password) < minPasswordLen {
		return "", apperr.NewValidationError(
			fmt.Errorf("password must be at least %d characters", minPasswordLen),
			apperr.FieldError{Field: "password", Error: "too short"},
		)
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// CheckPassword reports ErrNotAuthenticated unless password matches hash.
func CheckPassword(hash, password string) error {
	if hash == "" {
		return apperr.ErrNotAuthenticated
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return apperr.ErrNotAuthenticated
		}
		return err
	}
	return nil
}

// CanView reports whether a may read p. Participants and the system always
// can; any supervisor can see a project nobody has claimed yet.
func CanView(a Actor, p domain.Project) bool {
	if a.Role == lifecycle.RoleSystem || p.IsParticipant(a.ID) {
		return true
	}
	return a.Role == lifecycle.RoleSupervisor && p.SupervisorID == nil
}

// RequireOwner checks that a acts on a project it holds for its role: the
// client who posted it, the supervisor who claimed it, the doer assigned to
// it. An unclaimed project is open to every supervisor.
func RequireOwner(a Actor, p domain.Project) error {
	switch a.Role {
	case lifecycle.RoleSystem:
		return nil
	case lifecycle.RoleClient:
		if p.ClientID == a.ID {
			return nil
		}
		return apperr.NotAuthorizedError{Reason: "project belongs to another client"}
	case lifecycle.RoleSupervisor:
		if p.SupervisorID == nil || *p.SupervisorID == a.ID {
			return nil
		}
		return apperr.NotAuthorizedError{Reason: "project is handled by another supervisor"}
	case lifecycle.RoleDoer:
		if p.DoerID != nil && *p.DoerID == a.ID {
			return nil
		}
		return apperr.NotAuthorizedError{Reason: "project is not assigned to you"}
	}
	return apperr.NotAuthorizedError{Reason: fmt.Sprintf("unknown role %q", a.Role)}
}
