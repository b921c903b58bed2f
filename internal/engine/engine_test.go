package engine_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"doerline/internal/apperr"
	"doerline/internal/db"
	"doerline/internal/domain"
	"doerline/internal/engine"
	"doerline/internal/engine/auth"
	"doerline/internal/lifecycle"
	"doerline/internal/migrate"
	"doerline/internal/pricing"
	"doerline/internal/repo"
	"doerline/internal/retry"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

// Now ticks forward a millisecond per call so stamps stay ordered.
func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Millisecond)
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	Clock  *clock
	System auth.Actor
	Client auth.Actor
	Sup    auth.Actor
	Sup2   auth.Actor
	Doer   auth.Actor
	Doer2  auth.Actor
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Driver: db.SQLite, Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn, db.SQLite); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	clk := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	eng := engine.New(conn, db.SQLite, nil)
	eng.Now = clk.Now
	eng.Retry = retry.Policy{Attempts: 3, Sleep: func(context.Context, time.Duration) error { return nil }}
	ctx := context.Background()
	sys, err := eng.EnsureSystemActor(ctx, "system")
	if err != nil {
		t.Fatalf("system actor: %v", err)
	}
	env := testEnv{Engine: eng, Ctx: ctx, Clock: clk, System: sys}
	mk := func(id string, role lifecycle.Role, available bool) auth.Actor {
		if _, err := eng.CreateActor(ctx, sys, engine.NewActor{ID: id, Role: role, Available: available, Password: "correct horse"}); err != nil {
			t.Fatalf("create actor %s: %v", id, err)
		}
		return auth.Actor{ID: id, Role: role}
	}
	env.Client = mk("client-1", lifecycle.RoleClient, false)
	env.Sup = mk("sup-1", lifecycle.RoleSupervisor, false)
	env.Sup2 = mk("sup-2", lifecycle.RoleSupervisor, false)
	env.Doer = mk("doer-1", lifecycle.RoleDoer, true)
	env.Doer2 = mk("doer-2", lifecycle.RoleDoer, false)
	return env
}

func (env testEnv) submit(t *testing.T, words int) domain.Project {
	t.Helper()
	deadline := env.Clock.Now().Add(12 * time.Hour)
	p, err := env.Engine.SubmitProject(env.Ctx, env.Client, engine.NewProject{
		Title:     "Literature review",
		Subject:   "History",
		WordCount: &words,
		Deadline:  &deadline,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return p
}

// toPaid walks a fresh project to paid, claimed by Sup.
func (env testEnv) toPaid(t *testing.T) domain.Project {
	t.Helper()
	p := env.submit(t, 1000)
	steps := []func() (domain.Project, error){
		func() (domain.Project, error) { return env.Engine.ClaimProject(env.Ctx, env.Sup, p.ID) },
		func() (domain.Project, error) {
			return env.Engine.QuoteProject(env.Ctx, env.Sup, p.ID, engine.QuoteRequest{})
		},
		func() (domain.Project, error) { return env.Engine.MarkPaymentPending(env.Ctx, env.System, p.ID) },
		func() (domain.Project, error) { return env.Engine.ConfirmPayment(env.Ctx, env.System, p.ID, "pay_123") },
	}
	for i, step := range steps {
		var err error
		if p, err = step(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}
	return p
}

func expectRejection(t *testing.T, err error, kind lifecycle.Kind) *lifecycle.Rejection {
	t.Helper()
	var rej *lifecycle.Rejection
	if !errors.As(err, &rej) {
		t.Fatalf("expected %s rejection, got %v", kind, err)
	}
	if rej.Kind != kind {
		t.Fatalf("expected %s, got %s (%s)", kind, rej.Kind, rej.Message)
	}
	return rej
}

func expectNotAuthorized(t *testing.T, err error) {
	t.Helper()
	var na apperr.NotAuthorizedError
	if !errors.As(err, &na) {
		t.Fatalf("expected not authorized, got %v", err)
	}
}

func TestFullLifecycle(t *testing.T) {
	env := newTestEnv(t)
	e, ctx := env.Engine, env.Ctx

	p := env.submit(t, 1000)
	if p.Status != lifecycle.Submitted || p.SubmittedAt == nil {
		t.Fatalf("unexpected submitted project: %+v", p)
	}
	p, err := e.ClaimProject(ctx, env.Sup, p.ID)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if p.Status != lifecycle.Analyzing || p.SupervisorID == nil || *p.SupervisorID != "sup-1" || p.ClaimedAt == nil {
		t.Fatalf("unexpected claimed project: %+v", p)
	}

	p, err = e.QuoteProject(ctx, env.Sup, p.ID, engine.QuoteRequest{})
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if *p.UserQuote != 750 || *p.DoerPayout != 488 || *p.SupervisorCommission != 187 || *p.PlatformFee != 75 {
		t.Fatalf("unexpected quote: %d/%d/%d/%d", *p.UserQuote, *p.DoerPayout, *p.SupervisorCommission, *p.PlatformFee)
	}

	if p, err = e.MarkPaymentPending(ctx, env.System, p.ID); err != nil {
		t.Fatalf("payment pending: %v", err)
	}
	if p, err = e.ConfirmPayment(ctx, env.System, p.ID, "pay_123"); err != nil {
		t.Fatalf("confirm payment: %v", err)
	}
	if p.PaymentReference == nil || *p.PaymentReference != "pay_123" || p.PaidAt == nil {
		t.Fatalf("payment not recorded: %+v", p)
	}
	if p, err = e.BeginAssignment(ctx, env.Sup, p.ID); err != nil {
		t.Fatalf("begin assignment: %v", err)
	}

	_, err = e.AssignDoer(ctx, env.Sup, p.ID, "doer-2")
	rej := expectRejection(t, err, lifecycle.MissingPrecondition)
	if rej.Message != "cannot assign: the selected doer is not available" {
		t.Fatalf("unexpected message %q", rej.Message)
	}
	if p, err = e.AssignDoer(ctx, env.Sup, p.ID, "doer-1"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if p.Status != lifecycle.Assigned || p.DoerID == nil || *p.DoerID != "doer-1" {
		t.Fatalf("unexpected assigned project: %+v", p)
	}

	_, err = e.StartWork(ctx, env.Doer2, p.ID)
	expectNotAuthorized(t, err)
	if p, err = e.StartWork(ctx, env.Doer, p.ID); err != nil {
		t.Fatalf("start: %v", err)
	}

	_, err = e.SubmitForQC(ctx, env.Doer, p.ID)
	rej = expectRejection(t, err, lifecycle.MissingPrecondition)
	if rej.Message != "cannot submit for QC: upload at least one deliverable first" {
		t.Fatalf("unexpected message %q", rej.Message)
	}
	if _, err := e.AddDeliverable(ctx, env.Doer, p.ID, engine.DeliverableInput{FileName: "draft.docx", FileURL: "https://files.example.com/draft.docx"}); err != nil {
		t.Fatalf("add deliverable: %v", err)
	}
	if p, err = e.SubmitForQC(ctx, env.Doer, p.ID); err != nil {
		t.Fatalf("submit for qc: %v", err)
	}
	if p, err = e.ReviewQC(ctx, env.Sup, p.ID, lifecycle.Delivered, "looks good"); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	_, err = e.RequestRevision(ctx, env.Client, p.ID, "  ")
	expectRejection(t, err, lifecycle.MissingPrecondition)
	if p, err = e.RequestRevision(ctx, env.Client, p.ID, "Add more sources"); err != nil {
		t.Fatalf("request revision: %v", err)
	}
	if p, err = e.BeginRevision(ctx, env.Doer, p.ID); err != nil {
		t.Fatalf("begin revision: %v", err)
	}
	// The earlier upload does not count for the revision.
	_, err = e.SubmitForQC(ctx, env.Doer, p.ID)
	expectRejection(t, err, lifecycle.MissingPrecondition)
	if _, err := e.AddDeliverable(ctx, env.Doer, p.ID, engine.DeliverableInput{FileName: "final.docx", FileURL: "https://files.example.com/final.docx", IsFinal: true}); err != nil {
		t.Fatalf("add deliverable: %v", err)
	}
	if p, err = e.SubmitForQC(ctx, env.Doer, p.ID); err != nil {
		t.Fatalf("resubmit for qc: %v", err)
	}
	for _, to := range []lifecycle.Status{lifecycle.QCInProgress, lifecycle.QCApproved, lifecycle.Delivered} {
		if p, err = e.ReviewQC(ctx, env.Sup, p.ID, to, ""); err != nil {
			t.Fatalf("qc %s: %v", to, err)
		}
	}
	if p, err = e.CompleteProject(ctx, env.Client, p.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if p.Status != lifecycle.Completed || p.CompletedAt == nil {
		t.Fatalf("unexpected completed project: %+v", p)
	}

	detail, err := e.GetProject(ctx, env.Doer, p.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(detail.Deliverables) != 2 || len(detail.Revisions) != 1 || detail.Revisions[0].ResolvedAt == nil {
		t.Fatalf("unexpected detail: %+v", detail)
	}

	dash, err := e.DashboardStats(ctx, env.Doer)
	if err != nil {
		t.Fatalf("dashboard: %v", err)
	}
	if dash.Earnings != 488 || dash.Counts[lifecycle.Completed] != 1 || dash.Active != 0 {
		t.Fatalf("unexpected doer dashboard: %+v", dash)
	}
	if dash, _ = e.DashboardStats(ctx, env.Sup); dash.Earnings != 187 {
		t.Fatalf("unexpected supervisor earnings: %d", dash.Earnings)
	}

	evts, err := e.ListEvents(ctx, env.Client, repo.EventFilters{ProjectID: p.ID, Limit: 100})
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(evts) < 15 || evts[0].Type != "project.transitioned" {
		t.Fatalf("unexpected events (%d): %+v", len(evts), evts[0])
	}
}

func TestRejectionKinds(t *testing.T) {
	env := newTestEnv(t)
	e, ctx := env.Engine, env.Ctx
	p := env.submit(t, 500)

	_, err := e.ClaimProject(ctx, env.Client, p.ID)
	expectRejection(t, err, lifecycle.ForbiddenForRole)

	_, err = e.QuoteProject(ctx, env.Sup, p.ID, engine.QuoteRequest{})
	expectRejection(t, err, lifecycle.UnknownTransition)

	if _, err := e.ClaimProject(ctx, env.Sup, p.ID); err != nil {
		t.Fatalf("claim: %v", err)
	}
	// A held claim is reported the same way to every role.
	for _, a := range []auth.Actor{env.Sup, env.Sup2, env.Client, env.Doer, env.System} {
		_, err = e.ClaimProject(ctx, a, p.ID)
		rej := expectRejection(t, err, lifecycle.MissingPrecondition)
		if rej.Message != "cannot claim: project is already claimed by a supervisor" {
			t.Fatalf("unexpected message %q", rej.Message)
		}
	}

	_, err = e.QuoteProject(ctx, env.Sup2, p.ID, engine.QuoteRequest{})
	expectNotAuthorized(t, err)

	_, err = e.CancelProject(ctx, env.Sup, p.ID, "", false)
	expectRejection(t, err, lifecycle.MissingPrecondition)
	// The role is the real blocker, with or without a reason.
	_, err = e.CancelProject(ctx, env.Doer, p.ID, "", false)
	expectRejection(t, err, lifecycle.ForbiddenForRole)
	_, err = e.CancelProject(ctx, env.Doer, p.ID, "duplicate", false)
	expectRejection(t, err, lifecycle.ForbiddenForRole)

	p, err = e.CancelProject(ctx, env.Sup, p.ID, "duplicate order", true)
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if p.Status != lifecycle.Refunded || p.CancelReason == nil || p.CancelledAt == nil {
		t.Fatalf("unexpected refunded project: %+v", p)
	}
	_, err = e.CancelProject(ctx, env.System, p.ID, "again", false)
	expectRejection(t, err, lifecycle.UnknownTransition)
}

func TestConcurrentClaimsHaveOneWinner(t *testing.T) {
	env := newTestEnv(t)
	p := env.submit(t, 1000)
	const n = 8
	sups := make([]auth.Actor, n)
	for i := range sups {
		id := fmt.Sprintf("racer-%d", i)
		if _, err := env.Engine.CreateActor(env.Ctx, env.System, engine.NewActor{ID: id, Role: lifecycle.RoleSupervisor}); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
		sups[i] = auth.Actor{ID: id, Role: lifecycle.RoleSupervisor}
	}

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := range sups {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.Engine.ClaimProject(env.Ctx, sups[i], p.ID)
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
			continue
		}
		var rej *lifecycle.Rejection
		var conflict apperr.ConflictError
		if !errors.As(err, &rej) && !errors.As(err, &conflict) {
			t.Fatalf("unexpected loser error: %v", err)
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}
	got, err := env.Engine.GetProject(env.Ctx, env.System, p.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.SupervisorID == nil {
		t.Fatalf("project has no supervisor after claims")
	}
}

func TestManualQuoteValidation(t *testing.T) {
	env := newTestEnv(t)
	e, ctx := env.Engine, env.Ctx
	p := env.submit(t, 1000)
	if _, err := e.ClaimProject(ctx, env.Sup, p.ID); err != nil {
		t.Fatalf("claim: %v", err)
	}
	low := int64(50)
	_, err := e.QuoteProject(ctx, env.Sup, p.ID, engine.QuoteRequest{UserQuote: &low})
	var ve *apperr.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
	payout := int64(900)
	quote := int64(1000)
	_, err = e.QuoteProject(ctx, env.Sup, p.ID, engine.QuoteRequest{UserQuote: &quote, DoerPayout: &payout})
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error for partial split, got %v", err)
	}
	p, err = e.QuoteProject(ctx, env.Sup, p.ID, engine.QuoteRequest{UserQuote: &quote})
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if *p.UserQuote != 1000 || *p.DoerPayout+*p.SupervisorCommission+*p.PlatformFee != 1000 {
		t.Fatalf("unexpected split: %+v", p.Snapshot().Quote)
	}
}

func TestDraftThenSubmit(t *testing.T) {
	env := newTestEnv(t)
	p, err := env.Engine.SubmitProject(env.Ctx, env.Client, engine.NewProject{Title: "Case study", Draft: true})
	if err != nil {
		t.Fatalf("draft: %v", err)
	}
	if p.Status != lifecycle.Draft || p.SubmittedAt != nil {
		t.Fatalf("unexpected draft: %+v", p)
	}
	queue, _ := env.Engine.ListProjects(env.Ctx, env.Sup, engine.ListOptions{View: engine.ViewUnclaimed})
	if len(queue) != 0 {
		t.Fatalf("draft must not be in the intake queue")
	}
	if _, err := env.Engine.SubmitDraft(env.Ctx, env.Sup, p.ID); err == nil {
		t.Fatalf("supervisor must not submit a client's draft")
	}
	if p, err = env.Engine.SubmitDraft(env.Ctx, env.Client, p.ID); err != nil {
		t.Fatalf("submit draft: %v", err)
	}
	queue, _ = env.Engine.ListProjects(env.Ctx, env.Sup, engine.ListOptions{View: engine.ViewUnclaimed})
	if len(queue) != 1 || queue[0].ID != p.ID {
		t.Fatalf("unexpected queue: %+v", queue)
	}
	_, err = env.Engine.SubmitProject(env.Ctx, env.Doer, engine.NewProject{Title: "Not mine"})
	expectRejection(t, err, lifecycle.ForbiddenForRole)
	_, err = env.Engine.SubmitProject(env.Ctx, env.Client, engine.NewProject{Title: " "})
	var ve *apperr.ValidationError
	if !errors.As(err, &ve) || len(ve.Fields) != 1 || ve.Fields[0].Field != "title" {
		t.Fatalf("expected title validation error, got %v", err)
	}
}

func TestVisibilityAndViews(t *testing.T) {
	env := newTestEnv(t)
	e, ctx := env.Engine, env.Ctx
	p := env.submit(t, 1000)

	if _, err := e.GetProject(ctx, env.Sup2, p.ID); err != nil {
		t.Fatalf("any supervisor sees unclaimed work: %v", err)
	}
	_, err := e.GetProject(ctx, env.Doer, p.ID)
	expectNotAuthorized(t, err)
	if _, err := e.ClaimProject(ctx, env.Sup, p.ID); err != nil {
		t.Fatalf("claim: %v", err)
	}
	_, err = e.GetProject(ctx, env.Sup2, p.ID)
	expectNotAuthorized(t, err)
	_, err = e.GetProject(ctx, env.Sup, "missing")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	mine, err := e.ListProjects(ctx, env.Sup, engine.ListOptions{View: engine.ViewMine})
	if err != nil || len(mine) != 1 {
		t.Fatalf("mine: %v %d", err, len(mine))
	}
	_, err = e.ListProjects(ctx, env.Client, engine.ListOptions{View: engine.ViewUnclaimed})
	expectNotAuthorized(t, err)
	_, err = e.ListProjects(ctx, env.Sup, engine.ListOptions{View: engine.ViewAll})
	expectNotAuthorized(t, err)

	actions, err := e.AvailableActions(ctx, env.Sup, p.ID)
	if err != nil {
		t.Fatalf("actions: %v", err)
	}
	want := []lifecycle.Status{lifecycle.Quoted, lifecycle.Cancelled, lifecycle.Refunded}
	if fmt.Sprint(actions) != fmt.Sprint(want) {
		t.Fatalf("actions %v, want %v", actions, want)
	}
	if actions, _ = e.AvailableActions(ctx, env.Client, p.ID); len(actions) != 0 {
		t.Fatalf("client has no actions while analyzing, got %v", actions)
	}
}

func TestPaymentRequiresReference(t *testing.T) {
	env := newTestEnv(t)
	p := env.submit(t, 1000)
	if _, err := env.Engine.ClaimProject(env.Ctx, env.Sup, p.ID); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := env.Engine.QuoteProject(env.Ctx, env.Sup, p.ID, engine.QuoteRequest{}); err != nil {
		t.Fatalf("quote: %v", err)
	}
	_, err := env.Engine.ConfirmPayment(env.Ctx, env.System, p.ID, "")
	expectRejection(t, err, lifecycle.MissingPrecondition)
	_, err = env.Engine.ConfirmPayment(env.Ctx, env.Sup, p.ID, "pay_1")
	expectRejection(t, err, lifecycle.ForbiddenForRole)
	p, err = env.Engine.ConfirmPayment(env.Ctx, env.System, p.ID, "pay_1")
	if err != nil || p.Status != lifecycle.Paid {
		t.Fatalf("quoted -> paid: %v", err)
	}
}

func TestChatUnreadCounts(t *testing.T) {
	env := newTestEnv(t)
	e, ctx := env.Engine, env.Ctx
	p := env.toPaid(t)

	if _, err := e.SendMessage(ctx, env.Client, p.ID, "When can you start?"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := e.SendMessage(ctx, env.Client, p.ID, "   "); err == nil {
		t.Fatalf("expected empty message to be rejected")
	}
	_, err := e.SendMessage(ctx, env.Doer, p.ID, "hi")
	expectNotAuthorized(t, err)

	counts, err := e.UnreadCounts(ctx, env.Sup)
	if err != nil {
		t.Fatalf("unread: %v", err)
	}
	if counts[p.ID] != 1 {
		t.Fatalf("expected 1 unread, got %v", counts)
	}
	if _, err := e.SendMessage(ctx, env.Sup, p.ID, "Tomorrow"); err != nil {
		t.Fatalf("reply: %v", err)
	}
	if counts, _ = e.UnreadCounts(ctx, env.Sup); counts[p.ID] != 0 {
		t.Fatalf("replying marks earlier messages read, got %v", counts)
	}
	if counts, _ = e.UnreadCounts(ctx, env.Client); counts[p.ID] != 1 {
		t.Fatalf("client should see the reply as unread, got %v", counts)
	}
	if err := e.MarkRead(ctx, env.Client, p.ID); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if counts, _ = e.UnreadCounts(ctx, env.Client); counts[p.ID] != 0 {
		t.Fatalf("expected 0 unread after mark read, got %v", counts)
	}
	msgs, err := e.ListMessages(ctx, env.Client, p.ID, 1, "", "")
	if err != nil || len(msgs) != 1 || msgs[0].Body != "Tomorrow" {
		t.Fatalf("latest message: %v %+v", err, msgs)
	}
	older, err := e.ListMessages(ctx, env.Client, p.ID, 10, msgs[0].CreatedAt, msgs[0].ID)
	if err != nil || len(older) != 1 || older[0].Body != "When can you start?" {
		t.Fatalf("older messages: %v %+v", err, older)
	}
}

func TestAutoApproveDue(t *testing.T) {
	env := newTestEnv(t)
	e, ctx := env.Engine, env.Ctx
	p := env.toPaid(t)
	steps := []func() (domain.Project, error){
		func() (domain.Project, error) { return e.AssignDoer(ctx, env.Sup, p.ID, "doer-1") },
		func() (domain.Project, error) { return e.StartWork(ctx, env.Doer, p.ID) },
		func() (domain.Project, error) {
			if _, err := e.AddDeliverable(ctx, env.Doer, p.ID, engine.DeliverableInput{FileName: "a.pdf", FileURL: "https://files.example.com/a.pdf"}); err != nil {
				return domain.Project{}, err
			}
			return e.SubmitForQC(ctx, env.Doer, p.ID)
		},
		func() (domain.Project, error) { return e.ReviewQC(ctx, env.Sup, p.ID, lifecycle.Delivered, "") },
	}
	for i, step := range steps {
		if _, err := step(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}
	_, err := e.AutoApproveDue(ctx, env.Sup, 72*time.Hour)
	expectNotAuthorized(t, err)

	done, err := e.AutoApproveDue(ctx, env.System, 72*time.Hour)
	if err != nil || len(done) != 0 {
		t.Fatalf("nothing is due yet: %v %d", err, len(done))
	}
	env.Clock.Advance(73 * time.Hour)
	done, err = e.AutoApproveDue(ctx, env.System, 72*time.Hour)
	if err != nil {
		t.Fatalf("auto approve: %v", err)
	}
	if len(done) != 1 || done[0].Status != lifecycle.AutoApproved {
		t.Fatalf("unexpected auto approvals: %+v", done)
	}
}

func TestAutoApproveWindowRestartsOnRedelivery(t *testing.T) {
	env := newTestEnv(t)
	e, ctx := env.Engine, env.Ctx
	p := env.toPaid(t)
	upload := func(name string) error {
		_, err := e.AddDeliverable(ctx, env.Doer, p.ID, engine.DeliverableInput{FileName: name, FileURL: "https://files.example.com/" + name})
		return err
	}
	deliver := []func() (domain.Project, error){
		func() (domain.Project, error) { return e.AssignDoer(ctx, env.Sup, p.ID, "doer-1") },
		func() (domain.Project, error) { return e.StartWork(ctx, env.Doer, p.ID) },
		func() (domain.Project, error) {
			if err := upload("v1.pdf"); err != nil {
				return domain.Project{}, err
			}
			return e.SubmitForQC(ctx, env.Doer, p.ID)
		},
		func() (domain.Project, error) { return e.ReviewQC(ctx, env.Sup, p.ID, lifecycle.Delivered, "") },
	}
	for i, step := range deliver {
		if _, err := step(); err != nil {
			t.Fatalf("deliver step %d: %v", i, err)
		}
	}
	first, err := e.GetProject(ctx, env.Client, p.ID)
	if err != nil || first.DeliveredAt == nil {
		t.Fatalf("first delivery: %v %+v", err, first.Project)
	}

	env.Clock.Advance(70 * time.Hour)
	revise := []func() (domain.Project, error){
		func() (domain.Project, error) { return e.RequestRevision(ctx, env.Client, p.ID, "Add a conclusion") },
		func() (domain.Project, error) { return e.BeginRevision(ctx, env.Doer, p.ID) },
		func() (domain.Project, error) {
			if err := upload("v2.pdf"); err != nil {
				return domain.Project{}, err
			}
			return e.SubmitForQC(ctx, env.Doer, p.ID)
		},
		func() (domain.Project, error) { return e.ReviewQC(ctx, env.Sup, p.ID, lifecycle.Delivered, "") },
	}
	for i, step := range revise {
		if _, err := step(); err != nil {
			t.Fatalf("revision step %d: %v", i, err)
		}
	}
	again, err := e.GetProject(ctx, env.Client, p.ID)
	if err != nil || again.DeliveredAt == nil {
		t.Fatalf("second delivery: %v %+v", err, again.Project)
	}
	if *again.DeliveredAt <= *first.DeliveredAt {
		t.Fatalf("delivered_at not refreshed: first %s, second %s", *first.DeliveredAt, *again.DeliveredAt)
	}

	env.Clock.Advance(3 * time.Hour)
	done, err := e.AutoApproveDue(ctx, env.System, 72*time.Hour)
	if err != nil || len(done) != 0 {
		t.Fatalf("redelivered 3h ago must wait for the client: %v %+v", err, done)
	}
	env.Clock.Advance(70 * time.Hour)
	done, err = e.AutoApproveDue(ctx, env.System, 72*time.Hour)
	if err != nil || len(done) != 1 || done[0].Status != lifecycle.AutoApproved {
		t.Fatalf("auto approve after the new window: %v %+v", err, done)
	}
}

func TestPricingConfigAndPreview(t *testing.T) {
	env := newTestEnv(t)
	e, ctx := env.Engine, env.Ctx
	cfg := pricing.DefaultConfig()
	cfg.FloorPrice = 600
	_, err := e.UpdatePricingConfig(ctx, env.Sup, cfg)
	expectNotAuthorized(t, err)
	if _, err := e.UpdatePricingConfig(ctx, env.System, cfg); err != nil {
		t.Fatalf("update pricing: %v", err)
	}
	q, err := e.PreviewQuote(ctx, engine.QuoteInput{})
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if q.SuggestedQuote != 600 {
		t.Fatalf("expected floor price 600, got %d", q.SuggestedQuote)
	}
	if err := e.SeedPricingConfig(ctx, pricing.DefaultConfig()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if got, _ := e.PricingConfig(ctx); got.FloorPrice != 600 {
		t.Fatalf("seeding must not overwrite a stored config, got %d", got.FloorPrice)
	}
	bad := cfg
	bad.PlatformPercentage = 90
	if _, err := e.UpdatePricingConfig(ctx, env.System, bad); err == nil {
		t.Fatalf("expected percentages over 100 to be rejected")
	}
	if _, err := e.PreviewQuote(ctx, engine.QuoteInput{Deadline: "tomorrow"}); err == nil {
		t.Fatalf("expected invalid deadline error")
	}
}

func TestActorsKeysAndLogin(t *testing.T) {
	env := newTestEnv(t)
	e, ctx := env.Engine, env.Ctx

	if _, err := e.Authenticate(ctx, "client-1", "correct horse"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := e.Authenticate(ctx, "client-1", "wrong"); !errors.Is(err, apperr.ErrNotAuthenticated) {
		t.Fatalf("expected not authenticated, got %v", err)
	}
	if _, err := e.Authenticate(ctx, "nobody", "x"); !errors.Is(err, apperr.ErrNotAuthenticated) {
		t.Fatalf("expected not authenticated for unknown actor, got %v", err)
	}
	_, err := e.CreateActor(ctx, env.System, engine.NewActor{ID: "client-1", Role: lifecycle.RoleClient})
	var conflict apperr.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected duplicate actor conflict, got %v", err)
	}
	_, err = e.CreateActor(ctx, env.Sup, engine.NewActor{ID: "x", Role: lifecycle.RoleClient})
	expectNotAuthorized(t, err)

	key, plain, err := e.CreateAPIKey(ctx, env.Doer, "", "cli")
	if err != nil {
		t.Fatalf("create key: %v", err)
	}
	a, err := e.ResolveAPIKey(ctx, plain)
	if err != nil || a.ID != "doer-1" {
		t.Fatalf("resolve key: %v %+v", err, a)
	}
	if _, _, err := e.CreateAPIKey(ctx, env.Doer, "sup-1", "sneaky"); err == nil {
		t.Fatalf("doer must not mint keys for others")
	}
	if err := e.RevokeAPIKey(ctx, env.System, key.ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := e.ResolveAPIKey(ctx, plain); !errors.Is(err, apperr.ErrNotAuthenticated) {
		t.Fatalf("revoked key must not resolve, got %v", err)
	}

	if _, err := e.SetAvailability(ctx, env.Doer2, true); err != nil {
		t.Fatalf("availability: %v", err)
	}
	doers, err := e.ListDoers(ctx, env.Sup, true)
	if err != nil || len(doers) != 2 {
		t.Fatalf("available doers: %v %d", err, len(doers))
	}
	_, err = e.SetAvailability(ctx, env.Sup, true)
	expectNotAuthorized(t, err)
}

func TestMissingSessionIsNotAuthenticated(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.ListProjects(env.Ctx, auth.Actor{}, engine.ListOptions{})
	if !errors.Is(err, apperr.ErrNotAuthenticated) {
		t.Fatalf("expected not authenticated, got %v", err)
	}
	_, err = env.Engine.ClaimProject(env.Ctx, auth.Actor{Role: lifecycle.RoleSupervisor}, "p")
	if !errors.Is(err, apperr.ErrNotAuthenticated) {
		t.Fatalf("expected not authenticated, got %v", err)
	}
}
