package repo

import (
	"context"
	"errors"
	"testing"

	"doerline/internal/db"
	"doerline/internal/domain"
	"doerline/internal/lifecycle"
	"doerline/internal/migrate"
)

const ts0 = "2026-01-01T00:00:00.000000Z"

func setupRepo(t *testing.T) Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Driver: db.SQLite, Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn, db.SQLite); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	r := New(conn, db.SQLite)
	ctx := context.Background()
	for _, a := range []domain.Actor{
		{ID: "client-1", Role: lifecycle.RoleClient, CreatedAt: ts0},
		{ID: "sup-1", Role: lifecycle.RoleSupervisor, CreatedAt: ts0},
		{ID: "sup-2", Role: lifecycle.RoleSupervisor, CreatedAt: ts0},
		{ID: "doer-1", Role: lifecycle.RoleDoer, Available: true, CreatedAt: ts0},
		{ID: "doer-2", Role: lifecycle.RoleDoer, CreatedAt: ts0},
	} {
		if err := r.InsertActor(ctx, a); err != nil {
			t.Fatalf("insert actor %s: %v", a.ID, err)
		}
	}
	return r
}

func insertProject(t *testing.T, r Repo, id, createdAt string) domain.Project {
	t.Helper()
	words := 1000
	p := domain.Project{
		ID: id, Title: "Essay " + id, ClientID: "client-1", Status: lifecycle.Submitted,
		WordCount: &words, CreatedAt: createdAt, UpdatedAt: createdAt,
	}
	if err := r.InsertProject(context.Background(), p); err != nil {
		t.Fatalf("insert project: %v", err)
	}
	return p
}

func TestClaimIsConditionalOnUnclaimed(t *testing.T) {
	r := setupRepo(t)
	ctx := context.Background()
	insertProject(t, r, "p1", ts0)

	sup1, sup2 := "sup-1", "sup-2"
	claim := func(from lifecycle.Status, sup *string) error {
		return r.UpdateProjectStatus(ctx, StatusUpdate{
			ID: "p1", From: from, To: lifecycle.Analyzing, RequireUnclaimed: true,
			At: ts0, Stamp: "claimed_at", SupervisorID: sup,
		})
	}
	if err := claim(lifecycle.Submitted, &sup1); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if err := claim(lifecycle.Submitted, &sup2); !errors.Is(err, ErrStale) {
		t.Fatalf("expected stale write, got %v", err)
	}
	// Same observed status, but the supervisor is no longer null.
	if err := claim(lifecycle.Analyzing, &sup2); !errors.Is(err, ErrStale) {
		t.Fatalf("expected stale write on claimed row, got %v", err)
	}
	p, err := r.GetProject(ctx, "p1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if p.SupervisorID == nil || *p.SupervisorID != "sup-1" || p.Status != lifecycle.Analyzing {
		t.Fatalf("unexpected project after claims: %+v", p)
	}
	if p.ClaimedAt == nil || *p.ClaimedAt != ts0 {
		t.Fatalf("claimed_at not stamped: %v", p.ClaimedAt)
	}
}

func TestStatusUpdateRequiresObservedStatus(t *testing.T) {
	r := setupRepo(t)
	ctx := context.Background()
	insertProject(t, r, "p1", ts0)
	err := r.UpdateProjectStatus(ctx, StatusUpdate{ID: "p1", From: lifecycle.Analyzing, To: lifecycle.Quoted, At: ts0})
	if !errors.Is(err, ErrStale) {
		t.Fatalf("expected stale write, got %v", err)
	}
	q := &lifecycle.Amounts{UserQuote: 750, DoerPayout: 488, SupervisorCommission: 187, PlatformFee: 75}
	if err := r.UpdateProjectStatus(ctx, StatusUpdate{ID: "p1", From: lifecycle.Submitted, To: lifecycle.Quoted, At: ts0, Stamp: "quoted_at", Quote: q}); err != nil {
		t.Fatalf("update: %v", err)
	}
	p, _ := r.GetProject(ctx, "p1")
	if got := p.Snapshot().Quote; got == nil || *got != *q {
		t.Fatalf("quote not stored: %+v", got)
	}
}

func TestWriteOnceStampKeepsFirstValue(t *testing.T) {
	r := setupRepo(t)
	ctx := context.Background()
	insertProject(t, r, "p1", ts0)
	later := "2026-01-02T00:00:00.000000Z"
	steps := []StatusUpdate{
		{ID: "p1", From: lifecycle.Submitted, To: lifecycle.Cancelled, At: ts0, Stamp: "cancelled_at"},
		{ID: "p1", From: lifecycle.Cancelled, To: lifecycle.Refunded, At: later, Stamp: "cancelled_at"},
	}
	for _, s := range steps {
		if err := r.UpdateProjectStatus(ctx, s); err != nil {
			t.Fatalf("update: %v", err)
		}
	}
	p, _ := r.GetProject(ctx, "p1")
	if p.CancelledAt == nil || *p.CancelledAt != ts0 {
		t.Fatalf("expected first stamp kept, got %v", p.CancelledAt)
	}
	if err := r.UpdateProjectStatus(ctx, StatusUpdate{ID: "p1", From: lifecycle.Refunded, To: lifecycle.Draft, At: later, Stamp: "id"}); err == nil {
		t.Fatalf("expected unknown stamp column error")
	}
}

func TestListProjectsCursorAndFilters(t *testing.T) {
	r := setupRepo(t)
	ctx := context.Background()
	insertProject(t, r, "p1", "2026-01-01T00:00:01.000000Z")
	insertProject(t, r, "p2", "2026-01-01T00:00:02.000000Z")
	insertProject(t, r, "p3", "2026-01-01T00:00:03.000000Z")
	sup := "sup-1"
	if err := r.UpdateProjectStatus(ctx, StatusUpdate{ID: "p2", From: lifecycle.Submitted, To: lifecycle.Analyzing, RequireUnclaimed: true, At: ts0, SupervisorID: &sup}); err != nil {
		t.Fatalf("claim: %v", err)
	}

	page, err := r.ListProjects(ctx, ProjectFilters{Limit: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page) != 2 || page[0].ID != "p3" || page[1].ID != "p2" {
		t.Fatalf("unexpected first page: %+v", page)
	}
	next, err := r.ListProjects(ctx, ProjectFilters{Limit: 2, CursorCreatedAt: page[1].CreatedAt, CursorID: page[1].ID})
	if err != nil {
		t.Fatalf("list next: %v", err)
	}
	if len(next) != 1 || next[0].ID != "p1" {
		t.Fatalf("unexpected second page: %+v", next)
	}

	unclaimed, _ := r.ListProjects(ctx, ProjectFilters{Unclaimed: true, Statuses: []lifecycle.Status{lifecycle.Submitted}})
	if len(unclaimed) != 2 {
		t.Fatalf("expected 2 unclaimed, got %d", len(unclaimed))
	}
	mine, _ := r.ListProjects(ctx, ProjectFilters{Participant: "sup-1"})
	if len(mine) != 1 || mine[0].ID != "p2" {
		t.Fatalf("unexpected participant list: %+v", mine)
	}
	counts, err := r.CountProjectsByStatus(ctx, ProjectFilters{})
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if counts[lifecycle.Submitted] != 2 || counts[lifecycle.Analyzing] != 1 {
		t.Fatalf("unexpected counts: %v", counts)
	}
}

func TestUnreadCountsFollowReadMarker(t *testing.T) {
	r := setupRepo(t)
	ctx := context.Background()
	insertProject(t, r, "p1", ts0)
	msgs := []domain.ChatMessage{
		{ID: "m1", ProjectID: "p1", SenderID: "client-1", Body: "hello", CreatedAt: "2026-01-01T00:00:01.000000Z"},
		{ID: "m2", ProjectID: "p1", SenderID: "client-1", Body: "anyone?", CreatedAt: "2026-01-01T00:00:02.000000Z"},
	}
	for _, m := range msgs {
		if err := r.InsertMessage(ctx, m); err != nil {
			t.Fatalf("insert message: %v", err)
		}
	}
	counts, err := r.UnreadCounts(ctx, "client-1")
	if err != nil {
		t.Fatalf("unread: %v", err)
	}
	if len(counts) != 0 {
		t.Fatalf("own messages must not count: %v", counts)
	}

	sup := "sup-1"
	if err := r.UpdateProjectStatus(ctx, StatusUpdate{ID: "p1", From: lifecycle.Submitted, To: lifecycle.Analyzing, RequireUnclaimed: true, At: ts0, SupervisorID: &sup}); err != nil {
		t.Fatalf("claim: %v", err)
	}
	counts, _ = r.UnreadCounts(ctx, "sup-1")
	if counts["p1"] != 2 {
		t.Fatalf("expected 2 unread, got %v", counts)
	}
	if err := r.MarkRead(ctx, "p1", "sup-1", msgs[0].CreatedAt); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	// An older marker never moves the read position back.
	if err := r.MarkRead(ctx, "p1", "sup-1", ts0); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	counts, _ = r.UnreadCounts(ctx, "sup-1")
	if counts["p1"] != 1 {
		t.Fatalf("expected 1 unread, got %v", counts)
	}
}

func TestEventsAndCursors(t *testing.T) {
	r := setupRepo(t)
	ctx := context.Background()
	var last int64
	for i, typ := range []string{"project.submitted", "project.claimed", "chat.message"} {
		id, err := r.AppendEvent(ctx, domain.Event{TS: ts0, Type: typ, ProjectID: "p1", EntityKind: "project", EntityID: "p1", ActorID: "sup-1"})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		if id <= last {
			t.Fatalf("ids must increase: %d after %d", id, last)
		}
		last = id
	}
	after, err := r.EventsAfter(ctx, 10, 1, "")
	if err != nil || len(after) != 2 || after[0].Type != "project.claimed" {
		t.Fatalf("events after: %v %+v", err, after)
	}
	latest, _ := r.LatestEvents(ctx, EventFilters{Type: "chat.message"})
	if len(latest) != 1 {
		t.Fatalf("expected 1 chat event, got %d", len(latest))
	}
	if id, _ := r.LatestEventID(ctx, "p1"); id != last {
		t.Fatalf("latest id %d, want %d", id, last)
	}

	if c, err := r.RelayCursor(ctx, "webhook:ops"); !errors.Is(err, ErrNotFound) || c != 0 {
		t.Fatalf("fresh cursor: %d %v", c, err)
	}
	if err := r.SetRelayCursor(ctx, "webhook:ops", 2, ts0); err != nil {
		t.Fatalf("set cursor: %v", err)
	}
	if err := r.SetRelayCursor(ctx, "webhook:ops", 3, ts0); err != nil {
		t.Fatalf("set cursor: %v", err)
	}
	if c, _ := r.RelayCursor(ctx, "webhook:ops"); c != 3 {
		t.Fatalf("cursor %d, want 3", c)
	}
}

func TestActorsAndAvailability(t *testing.T) {
	r := setupRepo(t)
	ctx := context.Background()
	doers, err := r.ListActors(ctx, ActorFilters{Role: lifecycle.RoleDoer, AvailableOnly: true})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(doers) != 1 || doers[0].ID != "doer-1" {
		t.Fatalf("unexpected available doers: %+v", doers)
	}
	if err := r.SetAvailability(ctx, "doer-2", true); err != nil {
		t.Fatalf("availability: %v", err)
	}
	a, _ := r.GetActor(ctx, "doer-2")
	if !a.Available {
		t.Fatalf("expected doer-2 available")
	}
	if err := r.SetAvailability(ctx, "ghost", true); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := r.EnsureActor(ctx, domain.Actor{ID: "doer-2", Role: lifecycle.RoleDoer, CreatedAt: ts0}); err != nil {
		t.Fatalf("ensure existing: %v", err)
	}
	a, _ = r.GetActor(ctx, "doer-2")
	if !a.Available {
		t.Fatalf("ensure must not overwrite an existing actor")
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	r := setupRepo(t)
	ctx := context.Background()
	var got map[string]float64
	if err := r.GetSetting(ctx, "pricing", &got); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := r.PutSetting(ctx, "pricing", map[string]float64{"floor_price": 600}, ts0); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := r.GetSetting(ctx, "pricing", &got); err != nil || got["floor_price"] != 600 {
		t.Fatalf("get: %v %v", err, got)
	}
}

func TestWithTxSeesUncommittedWrites(t *testing.T) {
	r := setupRepo(t)
	ctx := context.Background()
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	rtx := r.WithTx(tx)
	p := domain.Project{ID: "p9", Title: "Lab report", ClientID: "client-1", Status: lifecycle.Draft, CreatedAt: ts0, UpdatedAt: ts0}
	if err := rtx.InsertProject(ctx, p); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := rtx.GetProject(ctx, "p9"); err != nil {
		t.Fatalf("get in tx: %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if _, err := r.GetProject(ctx, "p9"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected rolled back project to be gone, got %v", err)
	}
}
