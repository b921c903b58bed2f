package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"doerline/internal/apperr"
	"doerline/internal/domain"
	"doerline/internal/engine"
	"doerline/internal/engine/auth"
	"doerline/internal/lifecycle"
)

type projectOutput struct {
	Body domain.Project `json:"body"`
}

func registerProjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "listProjects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects in a view",
		Errors:      []int{400, 401, 403, 422},
	}, func(ctx context.Context, input *struct {
		View   string `query:"view" enum:"mine,unclaimed,assignable,qc_queue,active,all"`
		Status string `query:"status"`
		Limit  int    `query:"limit"`
		Cursor string `query:"cursor"`
	}) (*struct {
		Body ProjectListResponse `json:"body"`
	}, error) {
		actor, herr := actorFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		view, err := engine.ParseView(input.View)
		if err != nil {
			return nil, handleError(err)
		}
		opts := engine.ListOptions{View: view, Limit: normalizeLimit(input.Limit)}
		if input.Status != "" {
			status, err := lifecycle.Parse(input.Status)
			if err != nil {
				return nil, invalidField("status", err)
			}
			opts.Status = status
		}
		if opts.CursorCreatedAt, opts.CursorID, err = parseCompositeCursor(input.Cursor); err != nil {
			return nil, badCursor(input.Cursor)
		}
		items, err := e.ListProjects(ctx, actor, opts)
		if err != nil {
			return nil, handleError(err)
		}
		resp := ProjectListResponse{Items: items}
		if len(items) == opts.Limit {
			last := items[len(items)-1]
			resp.NextCursor = composeCursor(last.CreatedAt, last.ID)
		}
		return &struct {
			Body ProjectListResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "submitProject",
		Method:      http.MethodPost,
		Path:        "/projects",
		Summary:     "Submit a project, or save it as a draft",
		Errors:      []int{400, 401, 403, 422},
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest `json:"body"`
	}) (*projectOutput, error) {
		actor, herr := actorFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		in := engine.NewProject{
			ClientID:    input.Body.ClientID,
			Title:       input.Body.Title,
			Subject:     input.Body.Subject,
			Description: input.Body.Description,
			WordCount:   input.Body.WordCount,
			PageCount:   input.Body.PageCount,
			Draft:       input.Body.Draft,
		}
		if raw := strings.TrimSpace(input.Body.Deadline); raw != "" {
			deadline, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				return nil, handleError(apperr.NewValidationError(err,
					apperr.FieldError{Field: "deadline", Error: "must be an RFC 3339 timestamp"}))
			}
			in.Deadline = &deadline
		}
		p, err := e.SubmitProject(ctx, actor, in)
		if err != nil {
			return nil, handleError(err)
		}
		return &projectOutput{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "getProject",
		Method:      http.MethodGet,
		Path:        "/projects/{id}",
		Summary:     "Get a project with its deliverables and revisions",
		Errors:      []int{401, 403, 404},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body engine.ProjectDetail `json:"body"`
	}, error) {
		actor, herr := actorFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		detail, err := e.GetProject(ctx, actor, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.ProjectDetail `json:"body"`
		}{Body: detail}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "projectActions",
		Method:      http.MethodGet,
		Path:        "/projects/{id}/actions",
		Summary:     "Statuses the caller may move the project to",
		Errors:      []int{401, 403, 404},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body ActionsResponse `json:"body"`
	}, error) {
		actor, herr := actorFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		actions, err := e.AvailableActions(ctx, actor, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ActionsResponse `json:"body"`
		}{Body: ActionsResponse{ProjectID: input.ID, Actions: actions}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "transitionTable",
		Method:      http.MethodGet,
		Path:        "/transitions",
		Summary:     "The project status transition table",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []lifecycle.Transition `json:"body"`
	}, error) {
		return &struct {
			Body []lifecycle.Transition `json:"body"`
		}{Body: lifecycle.Table()}, nil
	})
}

// registerAction exposes a bodyless project transition as POST /projects/{id}/<suffix>.
func registerAction(api huma.API, id, suffix, summary string, run func(ctx context.Context, actor auth.Actor, projectID string) (domain.Project, error)) {
	huma.Register(api, huma.Operation{
		OperationID: id,
		Method:      http.MethodPost,
		Path:        "/projects/{id}/" + suffix,
		Summary:     summary,
		Errors:      []int{401, 403, 404, 409, 422, 503},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*projectOutput, error) {
		actor, herr := actorFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		p, err := run(ctx, actor, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &projectOutput{Body: p}, nil
	})
}

// registerBodyAction is registerAction for transitions that take input.
func registerBodyAction[B any](api huma.API, id, suffix, summary string, run func(ctx context.Context, actor auth.Actor, projectID string, body B) (domain.Project, error)) {
	huma.Register(api, huma.Operation{
		OperationID: id,
		Method:      http.MethodPost,
		Path:        "/projects/{id}/" + suffix,
		Summary:     summary,
		Errors:      []int{400, 401, 403, 404, 409, 422, 503},
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body B      `json:"body"`
	}) (*projectOutput, error) {
		actor, herr := actorFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		p, err := run(ctx, actor, input.ID, input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		return &projectOutput{Body: p}, nil
	})
}

func registerTransitions(api huma.API, e engine.Engine) {
	registerAction(api, "submitDraft", "submit-draft", "Submit a draft project", e.SubmitDraft)
	registerAction(api, "claimProject", "claim", "Claim an unclaimed project", e.ClaimProject)
	registerBodyAction(api, "quoteProject", "quote", "Set the quote and its split",
		func(ctx context.Context, actor auth.Actor, id string, b QuoteProjectRequest) (domain.Project, error) {
			return e.QuoteProject(ctx, actor, id, engine.QuoteRequest{
				UserQuote:            b.UserQuote,
				DoerPayout:           b.DoerPayout,
				SupervisorCommission: b.SupervisorCommission,
				PlatformFee:          b.PlatformFee,
			})
		})
	registerAction(api, "markPaymentPending", "payment/pending", "Client started paying", e.MarkPaymentPending)
	registerBodyAction(api, "confirmPayment", "payment/confirm", "Confirm payment",
		func(ctx context.Context, actor auth.Actor, id string, b ConfirmPaymentRequest) (domain.Project, error) {
			return e.ConfirmPayment(ctx, actor, id, b.Reference)
		})
	registerAction(api, "beginAssignment", "assignment", "Start looking for a doer", e.BeginAssignment)
	registerBodyAction(api, "assignDoer", "assign", "Assign a doer",
		func(ctx context.Context, actor auth.Actor, id string, b AssignDoerRequest) (domain.Project, error) {
			return e.AssignDoer(ctx, actor, id, b.DoerID)
		})
	registerAction(api, "startWork", "start", "Doer starts working", e.StartWork)
	registerAction(api, "submitForQC", "submit", "Submit work for quality check", e.SubmitForQC)
	registerBodyAction(api, "reviewQC", "qc", "Record a quality check outcome",
		func(ctx context.Context, actor auth.Actor, id string, b ReviewQCRequest) (domain.Project, error) {
			return e.ReviewQC(ctx, actor, id, lifecycle.Status(b.Status), b.Note)
		})
	registerBodyAction(api, "requestRevision", "revisions", "Request a revision",
		func(ctx context.Context, actor auth.Actor, id string, b RevisionRequest) (domain.Project, error) {
			return e.RequestRevision(ctx, actor, id, b.Feedback)
		})
	registerAction(api, "beginRevision", "revision/start", "Doer starts the revision", e.BeginRevision)
	registerAction(api, "completeProject", "complete", "Accept the delivery", e.CompleteProject)
	registerAction(api, "autoApproveProject", "auto-approve", "Auto-approve an unanswered delivery", e.AutoApprove)
	registerBodyAction(api, "cancelProject", "cancel", "Cancel or refund a project",
		func(ctx context.Context, actor auth.Actor, id string, b CancelRequest) (domain.Project, error) {
			return e.CancelProject(ctx, actor, id, b.Reason, b.Refund)
		})

	huma.Register(api, huma.Operation{
		OperationID: "addDeliverable",
		Method:      http.MethodPost,
		Path:        "/projects/{id}/deliverables",
		Summary:     "Upload a deliverable",
		Errors:      []int{400, 401, 403, 404, 409, 422},
	}, func(ctx context.Context, input *struct {
		ID   string             `path:"id"`
		Body DeliverableRequest `json:"body"`
	}) (*struct {
		Body domain.Deliverable `json:"body"`
	}, error) {
		actor, herr := actorFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		d, err := e.AddDeliverable(ctx, actor, input.ID, engine.DeliverableInput{
			FileName:  input.Body.FileName,
			FileURL:   input.Body.FileURL,
			SizeBytes: input.Body.SizeBytes,
			IsFinal:   input.Body.IsFinal,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Deliverable `json:"body"`
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "autoApproveDue",
		Method:      http.MethodPost,
		Path:        "/maintenance/auto-approve",
		Summary:     "Auto-approve every delivery older than the window",
		Errors:      []int{401, 403},
	}, func(ctx context.Context, input *struct {
		Body *AutoApproveRequest `json:"body,omitempty" required:"false"`
	}) (*struct {
		Body AutoApproveResponse `json:"body"`
	}, error) {
		actor, herr := actorFromContext(ctx)
		if herr != nil {
			return nil, herr
		}
		window := 72 * time.Hour
		if input.Body != nil && input.Body.WindowHours > 0 {
			window = time.Duration(input.Body.WindowHours) * time.Hour
		}
		done, err := e.AutoApproveDue(ctx, actor, window)
		if err != nil {
			return nil, handleError(err)
		}
		if done == nil {
			done = []domain.Project{}
		}
		return &struct {
			Body AutoApproveResponse `json:"body"`
		}{Body: AutoApproveResponse{Items: done}}, nil
	})
}

func invalidField(field string, err error) huma.StatusError {
	return handleError(apperr.NewValidationError(err, apperr.FieldError{Field: field, Error: err.Error()}))
}
