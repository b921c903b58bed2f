package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"doerline/internal/apperr"
	"doerline/internal/domain"
	"doerline/internal/engine/auth"
	"doerline/internal/events"
	"doerline/internal/lifecycle"
	"doerline/internal/pricing"
	"doerline/internal/repo"
)

// NewProject is a client's request for work. ClientID is taken from the
// actor unless the system submits on a client's behalf.
type NewProject struct {
	ID          string     `json:"id,omitempty"`
	ClientID    string     `json:"client_id,omitempty"`
	Title       string     `json:"title" validate:"required,max=200"`
	Subject     string     `json:"subject,omitempty" validate:"max=100"`
	Description string     `json:"description,omitempty" validate:"max=10000"`
	WordCount   *int       `json:"word_count,omitempty" validate:"omitempty,gte=0"`
	PageCount   *int       `json:"page_count,omitempty" validate:"omitempty,gte=0"`
	Deadline    *time.Time `json:"deadline,omitempty"`
	// Draft keeps the project out of the supervisors' queue until SubmitDraft.
	Draft bool `json:"draft,omitempty"`
}

// SubmitProject creates a project in draft or submitted status.
func (e Engine) SubmitProject(ctx context.Context, actor auth.Actor, in NewProject) (domain.Project, error) {
	if err := actor.Validate(); err != nil {
		return domain.Project{}, err
	}
	// Creating counts as the draft -> submitted step for role purposes.
	if err := lifecycle.Check(lifecycle.Snapshot{Status: lifecycle.Draft}, lifecycle.Submitted, actor.Role, lifecycle.Facts{}); err != nil {
		return domain.Project{}, err
	}
	in.Title = strings.TrimSpace(in.Title)
	if err := apperr.ValidateStruct(in); err != nil {
		return domain.Project{}, err
	}
	clientID := actor.ID
	if actor.Role == lifecycle.RoleSystem {
		if in.ClientID == "" {
			return domain.Project{}, apperr.NewValidationError(errors.New("client_id is required"),
				apperr.FieldError{Field: "client_id", Error: "is required"})
		}
		clientID = in.ClientID
	} else if in.ClientID != "" && in.ClientID != actor.ID {
		return domain.Project{}, apperr.NotAuthorizedError{Reason: "cannot submit for another client"}
	}
	now := e.stamp()
	p := domain.Project{
		ID:          in.ID,
		Title:       in.Title,
		Subject:     in.Subject,
		Description: in.Description,
		ClientID:    clientID,
		Status:      lifecycle.Submitted,
		WordCount:   in.WordCount,
		PageCount:   in.PageCount,
		CreatedAt:   now,
		UpdatedAt:   now,
		SubmittedAt: &now,
	}
	if p.ID == "" {
		p.ID = newID()
	}
	if in.Deadline != nil && !in.Deadline.IsZero() {
		d := domain.FormatTime(*in.Deadline)
		p.Deadline = &d
	}
	if in.Draft {
		p.Status = lifecycle.Draft
		p.SubmittedAt = nil
	}
	err := e.inTx(ctx, "submit_project", func(ctx context.Context, r repo.Repo) error {
		client, err := r.GetActor(ctx, clientID)
		if errors.Is(err, repo.ErrNotFound) || (err == nil && client.Role != lifecycle.RoleClient) {
			return apperr.NewValidationError(fmt.Errorf("client %s not found", clientID),
				apperr.FieldError{Field: "client_id", Error: "must reference a client"})
		}
		if err != nil {
			return err
		}
		if err := r.InsertProject(ctx, p); err != nil {
			return fmt.Errorf("insert project: %w", err)
		}
		_, err = e.writer().Append(ctx, r, events.ProjectSubmitted, p.ID, "project", p.ID, actor.ID,
			events.EventPayload{"status": string(p.Status), "title": p.Title})
		return err
	})
	if err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// SubmitDraft moves a draft into the supervisors' queue.
func (e Engine) SubmitDraft(ctx context.Context, actor auth.Actor, projectID string) (domain.Project, error) {
	return e.transition(ctx, transition{
		op: "submit_draft", projectID: projectID, to: lifecycle.Submitted, actor: actor,
		event: events.ProjectSubmitted,
	})
}

// ClaimProject makes actor the project's supervisor. The write only applies
// while the project has no supervisor, so of two concurrent claims exactly
// one succeeds and the other is reported.
func (e Engine) ClaimProject(ctx context.Context, actor auth.Actor, projectID string) (domain.Project, error) {
	return e.transition(ctx, transition{
		op: "claim", projectID: projectID, to: lifecycle.Analyzing, actor: actor,
		event: events.ProjectClaimed,
		apply: func(u *repo.StatusUpdate) {
			u.RequireUnclaimed = true
			id := actor.ID
			u.SupervisorID = &id
		},
	})
}

// QuoteRequest overrides the calculator. Leave UserQuote nil to price from
// the project; set only UserQuote to split it by the configured percentages;
// set all four amounts to store them as given.
type QuoteRequest struct {
	UserQuote            *int64 `json:"user_quote,omitempty"`
	DoerPayout           *int64 `json:"doer_payout,omitempty"`
	SupervisorCommission *int64 `json:"supervisor_commission,omitempty"`
	PlatformFee          *int64 `json:"platform_fee,omitempty"`
}

func (q QuoteRequest) amounts(p domain.Project, cfg pricing.Config, now time.Time) (lifecycle.Amounts, error) {
	parts := 0
	for _, v := range []*int64{q.DoerPayout, q.SupervisorCommission, q.PlatformFee} {
		if v != nil {
			parts++
		}
	}
	switch {
	case q.UserQuote == nil && parts == 0:
		quote, err := pricing.Calculate(pricing.Input{
			WordCount: p.WordCount,
			PageCount: p.PageCount,
			Deadline:  p.DeadlineTime(),
			Now:       now,
		}, cfg)
		if err != nil {
			return lifecycle.Amounts{}, err
		}
		return quote.Amounts(), nil
	case q.UserQuote != nil && parts == 0:
		a := pricing.Split(*q.UserQuote, cfg).Amounts()
		return a, pricing.ValidateManual(a, cfg)
	case q.UserQuote != nil && parts == 3:
		a := lifecycle.Amounts{
			UserQuote:            *q.UserQuote,
			DoerPayout:           *q.DoerPayout,
			SupervisorCommission: *q.SupervisorCommission,
			PlatformFee:          *q.PlatformFee,
		}
		return a, pricing.ValidateManual(a, cfg)
	}
	return lifecycle.Amounts{}, apperr.NewValidationError(errors.New("give either the quote alone or the quote with all three split amounts"),
		apperr.FieldError{Field: "user_quote", Error: "incomplete split"})
}

// QuoteProject fixes the client's price and its split. It is the only path
// that writes quote amounts.
func (e Engine) QuoteProject(ctx context.Context, actor auth.Actor, projectID string, req QuoteRequest) (domain.Project, error) {
	var amounts lifecycle.Amounts
	return e.transition(ctx, transition{
		op: "quote", projectID: projectID, to: lifecycle.Quoted, actor: actor,
		event: events.ProjectQuoted,
		facts: func(ctx context.Context, r repo.Repo, p domain.Project) (lifecycle.Facts, error) {
			cfg, err := e.pricingConfig(ctx, r)
			if err != nil {
				return lifecycle.Facts{}, err
			}
			if amounts, err = req.amounts(p, cfg, e.now()); err != nil {
				return lifecycle.Facts{}, err
			}
			return lifecycle.Facts{Quote: &amounts}, nil
		},
		apply: func(u *repo.StatusUpdate) {
			a := amounts
			u.Quote = &a
		},
		payload: events.EventPayload{"manual": req.UserQuote != nil},
	})
}

// MarkPaymentPending records that the client was sent to checkout.
func (e Engine) MarkPaymentPending(ctx context.Context, actor auth.Actor, projectID string) (domain.Project, error) {
	return e.transition(ctx, transition{op: "payment_pending", projectID: projectID, to: lifecycle.PaymentPending, actor: actor})
}

// ConfirmPayment marks the project paid once the provider confirmed it.
func (e Engine) ConfirmPayment(ctx context.Context, actor auth.Actor, projectID, reference string) (domain.Project, error) {
	reference = strings.TrimSpace(reference)
	return e.transition(ctx, transition{
		op: "confirm_payment", projectID: projectID, to: lifecycle.Paid, actor: actor,
		facts: func(context.Context, repo.Repo, domain.Project) (lifecycle.Facts, error) {
			return lifecycle.Facts{PaymentReference: reference}, nil
		},
		apply: func(u *repo.StatusUpdate) {
			u.PaymentReference = &reference
		},
		payload: events.EventPayload{"payment_reference": reference},
	})
}

// BeginAssignment opens doer selection on a paid project.
func (e Engine) BeginAssignment(ctx context.Context, actor auth.Actor, projectID string) (domain.Project, error) {
	return e.transition(ctx, transition{op: "begin_assignment", projectID: projectID, to: lifecycle.Assigning, actor: actor})
}

// AssignDoer hands the project to an available doer.
func (e Engine) AssignDoer(ctx context.Context, actor auth.Actor, projectID, doerID string) (domain.Project, error) {
	doerID = strings.TrimSpace(doerID)
	return e.transition(ctx, transition{
		op: "assign", projectID: projectID, to: lifecycle.Assigned, actor: actor,
		event: events.ProjectAssigned,
		facts: func(ctx context.Context, r repo.Repo, _ domain.Project) (lifecycle.Facts, error) {
			if doerID == "" {
				return lifecycle.Facts{}, nil
			}
			doer, err := r.GetActor(ctx, doerID)
			if errors.Is(err, repo.ErrNotFound) || (err == nil && doer.Role != lifecycle.RoleDoer) {
				return lifecycle.Facts{}, apperr.NewValidationError(fmt.Errorf("doer %s not found", doerID),
					apperr.FieldError{Field: "doer_id", Error: "must reference a doer"})
			}
			if err != nil {
				return lifecycle.Facts{}, err
			}
			return lifecycle.Facts{DoerID: doer.ID, DoerAvailable: doer.Available}, nil
		},
		apply: func(u *repo.StatusUpdate) {
			id := doerID
			u.DoerID = &id
		},
		payload: events.EventPayload{"doer_id": doerID},
	})
}

// StartWork is the assigned doer accepting the job.
func (e Engine) StartWork(ctx context.Context, actor auth.Actor, projectID string) (domain.Project, error) {
	return e.transition(ctx, transition{op: "start", projectID: projectID, to: lifecycle.InProgress, actor: actor})
}

// DeliverableInput describes an uploaded file. The file itself lives in
// object storage; only its URL is kept.
type DeliverableInput struct {
	FileName  string `json:"file_name" validate:"required,max=255"`
	FileURL   string `json:"file_url" validate:"required,url"`
	SizeBytes int64  `json:"size_bytes,omitempty" validate:"gte=0"`
	IsFinal   bool   `json:"is_final,omitempty"`
}

// AddDeliverable attaches a file to a project the doer is working on.
func (e Engine) AddDeliverable(ctx context.Context, actor auth.Actor, projectID string, in DeliverableInput) (domain.Deliverable, error) {
	if err := requireRole(actor, lifecycle.RoleDoer); err != nil {
		return domain.Deliverable{}, err
	}
	if err := apperr.ValidateStruct(in); err != nil {
		return domain.Deliverable{}, err
	}
	d := domain.Deliverable{
		ID:        newID(),
		ProjectID: projectID,
		DoerID:    actor.ID,
		FileName:  in.FileName,
		FileURL:   in.FileURL,
		SizeBytes: in.SizeBytes,
		IsFinal:   in.IsFinal,
		CreatedAt: e.stamp(),
	}
	err := e.inTx(ctx, "add_deliverable", func(ctx context.Context, r repo.Repo) error {
		p, err := loadProject(ctx, r, projectID)
		if err != nil {
			return err
		}
		if err := auth.RequireOwner(actor, p); err != nil {
			return err
		}
		if p.Status != lifecycle.InProgress && p.Status != lifecycle.InRevision {
			return apperr.ConflictError{Reason: fmt.Sprintf("cannot upload while the project is %s", p.Status)}
		}
		if err := r.InsertDeliverable(ctx, d); err != nil {
			return fmt.Errorf("insert deliverable: %w", err)
		}
		_, err = e.writer().Append(ctx, r, events.DeliverableAdded, p.ID, "deliverable", d.ID, actor.ID,
			events.EventPayload{"file_name": d.FileName, "is_final": d.IsFinal})
		return err
	})
	if err != nil {
		return domain.Deliverable{}, err
	}
	return d, nil
}

// SubmitForQC hands the work to the supervisor. After a revision request at
// least one new file must have been uploaded.
func (e Engine) SubmitForQC(ctx context.Context, actor auth.Actor, projectID string) (domain.Project, error) {
	return e.transition(ctx, transition{
		op: "submit_for_qc", projectID: projectID, to: lifecycle.SubmittedForQC, actor: actor,
		facts: func(ctx context.Context, r repo.Repo, p domain.Project) (lifecycle.Facts, error) {
			since := ""
			if p.Status == lifecycle.InRevision {
				rev, err := r.OpenRevision(ctx, p.ID)
				if err != nil && !errors.Is(err, repo.ErrNotFound) {
					return lifecycle.Facts{}, err
				}
				since = rev.CreatedAt
			}
			n, err := r.CountDeliverables(ctx, p.ID, since)
			if err != nil {
				return lifecycle.Facts{}, err
			}
			return lifecycle.Facts{Deliverables: n}, nil
		},
		after: func(ctx context.Context, r repo.Repo, p domain.Project) error {
			_, err := r.ResolveRevisions(ctx, p.ID, e.stamp())
			return err
		},
	})
}

// ReviewQC records the supervisor's quality check outcome: start reviewing,
// approve, reject, or deliver straight to the client.
func (e Engine) ReviewQC(ctx context.Context, actor auth.Actor, projectID string, to lifecycle.Status, note string) (domain.Project, error) {
	switch to {
	case lifecycle.QCInProgress, lifecycle.QCApproved, lifecycle.QCRejected, lifecycle.Delivered:
	default:
		return domain.Project{}, apperr.NewValidationError(fmt.Errorf("%q is not a QC outcome", to),
			apperr.FieldError{Field: "status", Error: "must be qc_in_progress, qc_approved, qc_rejected or delivered"})
	}
	t := transition{op: "review_qc", projectID: projectID, to: to, actor: actor}
	if note = strings.TrimSpace(note); note != "" {
		t.payload = events.EventPayload{"note": note}
	}
	return e.transition(ctx, t)
}

// RequestRevision sends delivered or rejected work back to the doer.
func (e Engine) RequestRevision(ctx context.Context, actor auth.Actor, projectID, feedback string) (domain.Project, error) {
	feedback = strings.TrimSpace(feedback)
	return e.transition(ctx, transition{
		op: "request_revision", projectID: projectID, to: lifecycle.RevisionRequested, actor: actor,
		event: events.RevisionRequested,
		facts: func(context.Context, repo.Repo, domain.Project) (lifecycle.Facts, error) {
			return lifecycle.Facts{Feedback: feedback}, nil
		},
		after: func(ctx context.Context, r repo.Repo, p domain.Project) error {
			return r.InsertRevision(ctx, domain.Revision{
				ID:          newID(),
				ProjectID:   p.ID,
				RequestedBy: actor.ID,
				Feedback:    feedback,
				CreatedAt:   e.stamp(),
			})
		},
		payload: events.EventPayload{"feedback": feedback},
	})
}

// BeginRevision is the doer picking the revision up.
func (e Engine) BeginRevision(ctx context.Context, actor auth.Actor, projectID string) (domain.Project, error) {
	return e.transition(ctx, transition{op: "begin_revision", projectID: projectID, to: lifecycle.InRevision, actor: actor})
}

// CompleteProject is the client (or the supervisor for them) accepting the
// delivery.
func (e Engine) CompleteProject(ctx context.Context, actor auth.Actor, projectID string) (domain.Project, error) {
	return e.transition(ctx, transition{op: "complete", projectID: projectID, to: lifecycle.Completed, actor: actor})
}

// AutoApprove closes a delivery the client never answered.
func (e Engine) AutoApprove(ctx context.Context, actor auth.Actor, projectID string) (domain.Project, error) {
	return e.transition(ctx, transition{op: "auto_approve", projectID: projectID, to: lifecycle.AutoApproved, actor: actor})
}

// AutoApproveDue auto-approves every project delivered longer than window
// ago. Projects that moved on meanwhile are skipped.
func (e Engine) AutoApproveDue(ctx context.Context, actor auth.Actor, window time.Duration) ([]domain.Project, error) {
	if err := requireRole(actor, lifecycle.RoleSystem); err != nil {
		return nil, err
	}
	var due []domain.Project
	err := e.read(ctx, "list_delivered", func(ctx context.Context, r repo.Repo) error {
		var err error
		due, err = r.ListProjects(ctx, repo.ProjectFilters{Statuses: []lifecycle.Status{lifecycle.Delivered}})
		return err
	})
	if err != nil {
		return nil, err
	}
	cutoff := domain.FormatTime(e.now().Add(-window))
	var done []domain.Project
	for _, p := range due {
		if p.DeliveredAt == nil || *p.DeliveredAt > cutoff {
			continue
		}
		updated, err := e.AutoApprove(ctx, actor, p.ID)
		if err != nil {
			var rej *lifecycle.Rejection
			var conflict apperr.ConflictError
			if errors.As(err, &rej) || errors.As(err, &conflict) {
				continue
			}
			return done, err
		}
		done = append(done, updated)
	}
	return done, nil
}

// CancelProject stops a project. With refund the project ends refunded
// instead of cancelled.
func (e Engine) CancelProject(ctx context.Context, actor auth.Actor, projectID, reason string, refund bool) (domain.Project, error) {
	reason = strings.TrimSpace(reason)
	to := lifecycle.Cancelled
	if refund {
		to = lifecycle.Refunded
	}
	return e.transition(ctx, transition{
		op: "cancel", projectID: projectID, to: to, actor: actor,
		event: events.ProjectCancelled,
		facts: func(context.Context, repo.Repo, domain.Project) (lifecycle.Facts, error) {
			return lifecycle.Facts{Reason: reason}, nil
		},
		apply: func(u *repo.StatusUpdate) {
			u.CancelReason = &reason
		},
		payload: events.EventPayload{"reason": reason},
	})
}
