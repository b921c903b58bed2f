package engine

import (
	"context"
	"fmt"

	"doerline/internal/apperr"
	"doerline/internal/domain"
	"doerline/internal/engine/auth"
	"doerline/internal/lifecycle"
	"doerline/internal/repo"
)

// ProjectDetail is a project with its files and revision history.
type ProjectDetail struct {
	domain.Project
	Deliverables []domain.Deliverable `json:"deliverables"`
	Revisions    []domain.Revision    `json:"revisions"`
}

// GetProject returns the project if actor may see it.
func (e Engine) GetProject(ctx context.Context, actor auth.Actor, projectID string) (ProjectDetail, error) {
	if err := actor.Validate(); err != nil {
		return ProjectDetail{}, err
	}
	var out ProjectDetail
	err := e.read(ctx, "get_project", func(ctx context.Context, r repo.Repo) error {
		p, err := loadProject(ctx, r, projectID)
		if err != nil {
			return err
		}
		if !auth.CanView(actor, p) {
			return apperr.NotAuthorizedError{Reason: "you are not part of this project"}
		}
		out.Project = p
		if out.Deliverables, err = r.ListDeliverables(ctx, p.ID); err != nil {
			return err
		}
		out.Revisions, err = r.ListRevisions(ctx, p.ID)
		return err
	})
	return out, err
}

// View selects which projects a listing shows.
type View string

const (
	// ViewMine lists projects the actor takes part in.
	ViewMine View = "mine"
	// ViewUnclaimed is the supervisors' intake queue.
	ViewUnclaimed View = "unclaimed"
	// ViewAssignable lists the supervisor's paid projects waiting for a doer.
	ViewAssignable View = "assignable"
	// ViewQCQueue lists the supervisor's projects waiting for review.
	ViewQCQueue View = "qc_queue"
	// ViewActive lists the doer's projects with work to do.
	ViewActive View = "active"
	ViewAll    View = "all"
)

// ParseView accepts the view names; empty means mine.
func ParseView(raw string) (View, error) {
	switch v := View(raw); v {
	case "":
		return ViewMine, nil
	case ViewMine, ViewUnclaimed, ViewAssignable, ViewQCQueue, ViewActive, ViewAll:
		return v, nil
	}
	return "", apperr.NewValidationError(fmt.Errorf("unknown view %q", raw),
		apperr.FieldError{Field: "view", Error: "must be mine, unclaimed, assignable, qc_queue, active or all"})
}

type ListOptions struct {
	View            View
	Status          lifecycle.Status
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (e Engine) listFilters(actor auth.Actor, opts ListOptions) (repo.ProjectFilters, error) {
	f := repo.ProjectFilters{Limit: opts.Limit, CursorCreatedAt: opts.CursorCreatedAt, CursorID: opts.CursorID}
	if opts.Status != "" {
		f.Statuses = []lifecycle.Status{opts.Status}
	}
	switch opts.View {
	case ViewMine, "":
		f.Participant = actor.ID
	case ViewUnclaimed:
		if err := requireRole(actor, lifecycle.RoleSupervisor, lifecycle.RoleSystem); err != nil {
			return f, err
		}
		f.Unclaimed = true
		f.Statuses = []lifecycle.Status{lifecycle.Submitted}
	case ViewAssignable:
		if err := requireRole(actor, lifecycle.RoleSupervisor); err != nil {
			return f, err
		}
		f.SupervisorID = actor.ID
		f.Statuses = []lifecycle.Status{lifecycle.Paid, lifecycle.Assigning}
	case ViewQCQueue:
		if err := requireRole(actor, lifecycle.RoleSupervisor); err != nil {
			return f, err
		}
		f.SupervisorID = actor.ID
		f.Statuses = []lifecycle.Status{lifecycle.SubmittedForQC, lifecycle.QCInProgress}
	case ViewActive:
		if err := requireRole(actor, lifecycle.RoleDoer); err != nil {
			return f, err
		}
		f.DoerID = actor.ID
		f.Statuses = []lifecycle.Status{lifecycle.Assigned, lifecycle.InProgress, lifecycle.RevisionRequested, lifecycle.InRevision}
	case ViewAll:
		if err := requireRole(actor, lifecycle.RoleSystem); err != nil {
			return f, err
		}
	default:
		return f, apperr.NewValidationError(fmt.Errorf("unknown view %q", opts.View))
	}
	return f, nil
}

// ListProjects returns one page of the requested view, newest first.
func (e Engine) ListProjects(ctx context.Context, actor auth.Actor, opts ListOptions) ([]domain.Project, error) {
	if err := actor.Validate(); err != nil {
		return nil, err
	}
	f, err := e.listFilters(actor, opts)
	if err != nil {
		return nil, err
	}
	var out []domain.Project
	err = e.read(ctx, "list_projects", func(ctx context.Context, r repo.Repo) error {
		var err error
		out, err = r.ListProjects(ctx, f)
		return err
	})
	return out, err
}

// AvailableActions lists the statuses actor may request next, ignoring
// preconditions that depend on input such as feedback or a doer choice.
func (e Engine) AvailableActions(ctx context.Context, actor auth.Actor, projectID string) ([]lifecycle.Status, error) {
	detail, err := e.GetProject(ctx, actor, projectID)
	if err != nil {
		return nil, err
	}
	if auth.RequireOwner(actor, detail.Project) != nil {
		return []lifecycle.Status{}, nil
	}
	out := []lifecycle.Status{}
	for _, to := range lifecycle.Targets(detail.Status, actor.Role) {
		// Claims are only offered while nobody holds the project.
		if to == lifecycle.Analyzing && detail.SupervisorID != nil {
			continue
		}
		out = append(out, to)
	}
	return out, nil
}

// Dashboard summarizes the actor's projects.
type Dashboard struct {
	Counts    map[lifecycle.Status]int `json:"counts"`
	Active    int                      `json:"active"`
	Unclaimed int                      `json:"unclaimed,omitempty"`
	Earnings  int64                    `json:"earnings"`
	Unread    int                      `json:"unread_messages"`
}

func (e Engine) DashboardStats(ctx context.Context, actor auth.Actor) (Dashboard, error) {
	if err := actor.Validate(); err != nil {
		return Dashboard{}, err
	}
	var d Dashboard
	err := e.read(ctx, "dashboard", func(ctx context.Context, r repo.Repo) error {
		f := repo.ProjectFilters{Participant: actor.ID}
		if actor.Role == lifecycle.RoleSystem {
			f = repo.ProjectFilters{}
		}
		counts, err := r.CountProjectsByStatus(ctx, f)
		if err != nil {
			return err
		}
		d.Counts = counts
		for status, n := range counts {
			if !status.Terminal() {
				d.Active += n
			}
		}
		if actor.Role == lifecycle.RoleSupervisor {
			unclaimed, err := r.CountProjectsByStatus(ctx, repo.ProjectFilters{Unclaimed: true, Statuses: []lifecycle.Status{lifecycle.Submitted}})
			if err != nil {
				return err
			}
			d.Unclaimed = unclaimed[lifecycle.Submitted]
		}
		if d.Earnings, err = r.Earnings(ctx, actor.ID, actor.Role); err != nil {
			return err
		}
		unread, err := r.UnreadCounts(ctx, actor.ID)
		if err != nil {
			return err
		}
		for _, n := range unread {
			d.Unread += n
		}
		return nil
	})
	return d, err
}

// ListEvents returns the event log newest first. Only the system sees events
// outside a project; others must name a project they can view.
func (e Engine) ListEvents(ctx context.Context, actor auth.Actor, f repo.EventFilters) ([]domain.Event, error) {
	if err := actor.Validate(); err != nil {
		return nil, err
	}
	if actor.Role != lifecycle.RoleSystem {
		if f.ProjectID == "" {
			return nil, apperr.NotAuthorizedError{Reason: "only the system may list all events"}
		}
		if _, err := e.GetProject(ctx, actor, f.ProjectID); err != nil {
			return nil, err
		}
	}
	var out []domain.Event
	err := e.read(ctx, "list_events", func(ctx context.Context, r repo.Repo) error {
		var err error
		out, err = r.LatestEvents(ctx, f)
		return err
	})
	return out, err
}

// CanSubscribe reports whether actor may follow the project's live updates.
func (e Engine) CanSubscribe(ctx context.Context, actor auth.Actor, projectID string) error {
	_, err := e.GetProject(ctx, actor, projectID)
	return err
}
