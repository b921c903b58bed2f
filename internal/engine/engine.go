package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"doerline/internal/apperr"
	"doerline/internal/db"
	"doerline/internal/domain"
	"doerline/internal/engine/auth"
	"doerline/internal/events"
	"doerline/internal/lifecycle"
	"doerline/internal/logging"
	"doerline/internal/metrics"
	"doerline/internal/pricing"
	"doerline/internal/repo"
	"doerline/internal/retry"
)

// Engine runs every consumer operation. Mutations open a transaction, load
// the project inside it, run the status check and ownership rules, write
// conditionally, and append an event before committing.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	// Pricing is used until a pricing config has been stored.
	Pricing pricing.Config
	Logger  *zap.Logger
	Now     func() time.Time
	Retry   retry.Policy
}

func New(conn *sql.DB, driver db.Driver, logger *zap.Logger) Engine {
	e := Engine{
		DB:      conn,
		Repo:    repo.New(conn, driver),
		Pricing: pricing.DefaultConfig(),
		Logger:  logging.OrNop(logger),
		Now:     time.Now,
		Retry:   retry.Default(),
	}
	e.Retry.Logger = e.Logger
	return e
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e Engine) stamp() string {
	return domain.FormatTime(e.now())
}

// writer stamps events with the engine clock unless Events has its own.
func (e Engine) writer() events.Writer {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	return w
}

func (e Engine) log() *zap.Logger {
	return logging.OrNop(e.Logger)
}

func newID() string {
	return uuid.NewString()
}

// inTx runs fn in a transaction under the retry policy. fn must be safe to
// run again: every attempt starts from a fresh transaction.
func (e Engine) inTx(ctx context.Context, op string, fn func(ctx context.Context, r repo.Repo) error) error {
	return retry.Do(ctx, e.Retry, op, func(ctx context.Context) error {
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		if err := fn(ctx, e.Repo.WithTx(tx)); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// read runs a read-only fn under the retry policy.
func (e Engine) read(ctx context.Context, op string, fn func(ctx context.Context, r repo.Repo) error) error {
	return retry.Do(ctx, e.Retry, op, func(ctx context.Context) error {
		return fn(ctx, e.Repo)
	})
}

func loadProject(ctx context.Context, r repo.Repo, id string) (domain.Project, error) {
	if id == "" {
		return domain.Project{}, apperr.NewValidationError(errors.New("project id is required"),
			apperr.FieldError{Field: "id", Error: "is required"})
	}
	p, err := r.GetProject(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return p, fmt.Errorf("project %s: %w", id, apperr.ErrNotFound)
	}
	return p, err
}

// stamps maps a target status to the timestamp it sets.
var stamps = map[lifecycle.Status]string{
	lifecycle.Submitted:    "submitted_at",
	lifecycle.Analyzing:    "claimed_at",
	lifecycle.Quoted:       "quoted_at",
	lifecycle.Paid:         "paid_at",
	lifecycle.Assigned:     "doer_assigned_at",
	lifecycle.InProgress:   "started_at",
	lifecycle.Delivered:    "delivered_at",
	lifecycle.Completed:    "completed_at",
	lifecycle.AutoApproved: "completed_at",
	lifecycle.Cancelled:    "cancelled_at",
	lifecycle.Refunded:     "cancelled_at",
}

// transition describes one status change request.
type transition struct {
	op        string
	projectID string
	to        lifecycle.Status
	actor     auth.Actor
	event     string
	payload   events.EventPayload
	// facts gathers evidence for the preconditions.
	facts func(ctx context.Context, r repo.Repo, p domain.Project) (lifecycle.Facts, error)
	// apply adds the fields written together with the status.
	apply func(u *repo.StatusUpdate)
	// after runs extra writes in the same transaction once the status moved.
	after func(ctx context.Context, r repo.Repo, p domain.Project) error
}

func (e Engine) transition(ctx context.Context, t transition) (domain.Project, error) {
	if err := t.actor.Validate(); err != nil {
		return domain.Project{}, err
	}
	var (
		out  domain.Project
		from lifecycle.Status
	)
	err := e.inTx(ctx, t.op, func(ctx context.Context, r repo.Repo) error {
		p, err := loadProject(ctx, r, t.projectID)
		if err != nil {
			return err
		}
		from = p.Status
		var facts lifecycle.Facts
		if t.facts != nil {
			if facts, err = t.facts(ctx, r, p); err != nil {
				return err
			}
		}
		if err := lifecycle.Check(p.Snapshot(), t.to, t.actor.Role, facts); err != nil {
			return err
		}
		if err := auth.RequireOwner(t.actor, p); err != nil {
			return err
		}
		u := repo.StatusUpdate{ID: p.ID, From: p.Status, To: t.to, At: e.stamp(), Stamp: stamps[t.to]}
		if t.apply != nil {
			t.apply(&u)
		}
		if err := r.UpdateProjectStatus(ctx, u); err != nil {
			if errors.Is(err, repo.ErrStale) {
				metrics.Conflicts.WithLabelValues(string(t.to)).Inc()
				return apperr.ConflictError{Reason: fmt.Sprintf("project %s was changed by someone else; reload and try again", p.ID)}
			}
			return fmt.Errorf("update project status: %w", err)
		}
		if t.after != nil {
			if err := t.after(ctx, r, p); err != nil {
				return err
			}
		}
		payload := events.EventPayload{"from": string(p.Status), "to": string(t.to), "role": string(t.actor.Role)}
		for k, v := range t.payload {
			payload[k] = v
		}
		evtType := t.event
		if evtType == "" {
			evtType = events.ProjectTransitioned
		}
		if _, err := e.writer().Append(ctx, r, evtType, p.ID, "project", p.ID, t.actor.ID, payload); err != nil {
			return err
		}
		out, err = r.GetProject(ctx, p.ID)
		return err
	})
	if err != nil {
		var rej *lifecycle.Rejection
		if errors.As(err, &rej) {
			metrics.Rejections.WithLabelValues(string(t.to), string(rej.Kind)).Inc()
			e.log().Debug("transition rejected",
				zap.String("project_id", t.projectID),
				zap.String("from", string(rej.From)),
				zap.String("to", string(t.to)),
				zap.String("role", string(t.actor.Role)),
				zap.String("kind", string(rej.Kind)),
			)
		}
		return domain.Project{}, err
	}
	metrics.Transitions.WithLabelValues(string(from), string(t.to), string(t.actor.Role)).Inc()
	e.log().Info("project transition",
		zap.String("project_id", out.ID),
		zap.String("from", string(from)),
		zap.String("to", string(out.Status)),
		zap.String("actor_id", t.actor.ID),
		zap.String("role", string(t.actor.Role)),
	)
	return out, nil
}

func requireRole(a auth.Actor, roles ...lifecycle.Role) error {
	if err := a.Validate(); err != nil {
		return err
	}
	for _, r := range roles {
		if a.Role == r {
			return nil
		}
	}
	return apperr.NotAuthorizedError{Reason: fmt.Sprintf("role %s may not perform this action", a.Role)}
}

func parseDeadline(raw string) (time.Time, error) {
	t, err := domain.ParseTime(raw)
	if err != nil {
		return time.Time{}, apperr.NewValidationError(fmt.Errorf("invalid deadline %q", raw),
			apperr.FieldError{Field: "deadline", Error: "must be an RFC 3339 timestamp"})
	}
	return t, nil
}
