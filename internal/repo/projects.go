package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"doerline/internal/domain"
	"doerline/internal/lifecycle"
)

const projectColumns = `id,title,subject,description,client_id,status,supervisor_id,doer_id,word_count,page_count,deadline,
user_quote,doer_payout,supervisor_commission,platform_fee,payment_reference,cancel_reason,created_at,updated_at,
claimed_at,quoted_at,paid_at,doer_assigned_at,started_at,submitted_at,delivered_at,completed_at,cancelled_at`

func scanProject(row scanner) (domain.Project, error) {
	var p domain.Project
	var subject, description, supervisorID, doerID, deadline, paymentRef, cancelReason sql.NullString
	var claimedAt, quotedAt, paidAt, assignedAt, startedAt, submittedAt, deliveredAt, completedAt, cancelledAt sql.NullString
	var words, pages, quote, payout, commission, fee sql.NullInt64
	var status string
	err := row.Scan(&p.ID, &p.Title, &subject, &description, &p.ClientID, &status, &supervisorID, &doerID, &words, &pages, &deadline,
		&quote, &payout, &commission, &fee, &paymentRef, &cancelReason, &p.CreatedAt, &p.UpdatedAt,
		&claimedAt, &quotedAt, &paidAt, &assignedAt, &startedAt, &submittedAt, &deliveredAt, &completedAt, &cancelledAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.Status = lifecycle.Status(status)
	p.Subject = subject.String
	p.Description = description.String
	p.SupervisorID = stringPtr(supervisorID)
	p.DoerID = stringPtr(doerID)
	p.WordCount = intPtr(words)
	p.PageCount = intPtr(pages)
	p.Deadline = stringPtr(deadline)
	p.UserQuote = int64Ptr(quote)
	p.DoerPayout = int64Ptr(payout)
	p.SupervisorCommission = int64Ptr(commission)
	p.PlatformFee = int64Ptr(fee)
	p.PaymentReference = stringPtr(paymentRef)
	p.CancelReason = stringPtr(cancelReason)
	p.ClaimedAt = stringPtr(claimedAt)
	p.QuotedAt = stringPtr(quotedAt)
	p.PaidAt = stringPtr(paidAt)
	p.DoerAssignedAt = stringPtr(assignedAt)
	p.StartedAt = stringPtr(startedAt)
	p.SubmittedAt = stringPtr(submittedAt)
	p.DeliveredAt = stringPtr(deliveredAt)
	p.CompletedAt = stringPtr(completedAt)
	p.CancelledAt = stringPtr(cancelledAt)
	return p, nil
}

func (r Repo) InsertProject(ctx context.Context, p domain.Project) error {
	_, err := r.exec(ctx, `INSERT INTO projects(id,title,subject,description,client_id,status,word_count,page_count,deadline,created_at,updated_at,submitted_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.Title, nullable(p.Subject), nullable(p.Description), p.ClientID, string(p.Status),
		nullableIntPtr(p.WordCount), nullableIntPtr(p.PageCount), nullableStringPtr(p.Deadline),
		p.CreatedAt, p.UpdatedAt, nullableStringPtr(p.SubmittedAt))
	return err
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	return scanProject(r.queryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id))
}

// ProjectFilters narrows ListProjects. Participant matches projects where the
// actor is client, supervisor or doer.
type ProjectFilters struct {
	Statuses        []lifecycle.Status
	ClientID        string
	SupervisorID    string
	DoerID          string
	Participant     string
	Unclaimed       bool
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (f ProjectFilters) clauses() ([]string, []any) {
	var clauses []string
	var args []any
	if len(f.Statuses) > 0 {
		clauses = append(clauses, "status IN ("+placeholders(len(f.Statuses))+")")
		for _, s := range f.Statuses {
			args = append(args, string(s))
		}
	}
	if f.ClientID != "" {
		clauses = append(clauses, "client_id=?")
		args = append(args, f.ClientID)
	}
	if f.SupervisorID != "" {
		clauses = append(clauses, "supervisor_id=?")
		args = append(args, f.SupervisorID)
	}
	if f.DoerID != "" {
		clauses = append(clauses, "doer_id=?")
		args = append(args, f.DoerID)
	}
	if f.Participant != "" {
		clauses = append(clauses, "(client_id=? OR supervisor_id=? OR doer_id=?)")
		args = append(args, f.Participant, f.Participant, f.Participant)
	}
	if f.Unclaimed {
		clauses = append(clauses, "supervisor_id IS NULL")
	}
	return clauses, args
}

// ListProjects returns projects newest first, paging by (created_at, id).
func (r Repo) ListProjects(ctx context.Context, f ProjectFilters) ([]domain.Project, error) {
	clauses, args := f.clauses()
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	query := `SELECT ` + projectColumns + ` FROM projects` + where(clauses) + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// CountProjectsByStatus groups the filtered projects by status.
func (r Repo) CountProjectsByStatus(ctx context.Context, f ProjectFilters) (map[lifecycle.Status]int, error) {
	clauses, args := f.clauses()
	rows, err := r.query(ctx, `SELECT status, COUNT(*) FROM projects`+where(clauses)+` GROUP BY status`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[lifecycle.Status]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[lifecycle.Status(status)] = count
	}
	return res, rows.Err()
}

// Earnings sums the actor's share over finished projects: doer payout for
// doers, commission for supervisors.
func (r Repo) Earnings(ctx context.Context, actorID string, role lifecycle.Role) (int64, error) {
	var column, owner string
	switch role {
	case lifecycle.RoleDoer:
		column, owner = "doer_payout", "doer_id"
	case lifecycle.RoleSupervisor:
		column, owner = "supervisor_commission", "supervisor_id"
	default:
		return 0, nil
	}
	query := fmt.Sprintf(`SELECT CAST(COALESCE(SUM(%s),0) AS BIGINT) FROM projects WHERE %s=? AND status IN (?,?)`, column, owner)
	var total int64
	err := r.queryRow(ctx, query, actorID, string(lifecycle.Completed), string(lifecycle.AutoApproved)).Scan(&total)
	return total, err
}

// stampColumns are the timestamps a status update may set. True marks a
// write-once stamp; delivered_at moves with every redelivery so the client's
// review window restarts after a revision.
var stampColumns = map[string]bool{
	"claimed_at": true, "quoted_at": true, "paid_at": true, "doer_assigned_at": true, "started_at": true,
	"submitted_at": true, "completed_at": true, "cancelled_at": true,
	"delivered_at": false,
}

// StatusUpdate is a conditional status write. It only applies while the row
// still has status From (and, with RequireUnclaimed, no supervisor).
type StatusUpdate struct {
	ID               string
	From             lifecycle.Status
	To               lifecycle.Status
	RequireUnclaimed bool
	At               string
	// Stamp names a timestamp column set to At; write-once columns keep
	// their first value.
	Stamp            string
	SupervisorID     *string
	DoerID           *string
	Quote            *lifecycle.Amounts
	PaymentReference *string
	CancelReason     *string
}

// UpdateProjectStatus applies u and returns ErrStale when no row matched.
func (r Repo) UpdateProjectStatus(ctx context.Context, u StatusUpdate) error {
	fields := []string{"status=?", "updated_at=?"}
	args := []any{string(u.To), u.At}
	if u.Stamp != "" {
		once, ok := stampColumns[u.Stamp]
		if !ok {
			return fmt.Errorf("unknown stamp column %q", u.Stamp)
		}
		if once {
			fields = append(fields, fmt.Sprintf("%s=COALESCE(%s,?)", u.Stamp, u.Stamp))
		} else {
			fields = append(fields, u.Stamp+"=?")
		}
		args = append(args, u.At)
	}
	if u.SupervisorID != nil {
		fields = append(fields, "supervisor_id=?")
		args = append(args, *u.SupervisorID)
	}
	if u.DoerID != nil {
		fields = append(fields, "doer_id=?")
		args = append(args, *u.DoerID)
	}
	if u.Quote != nil {
		fields = append(fields, "user_quote=?", "doer_payout=?", "supervisor_commission=?", "platform_fee=?")
		args = append(args, u.Quote.UserQuote, u.Quote.DoerPayout, u.Quote.SupervisorCommission, u.Quote.PlatformFee)
	}
	if u.PaymentReference != nil {
		fields = append(fields, "payment_reference=?")
		args = append(args, *u.PaymentReference)
	}
	if u.CancelReason != nil {
		fields = append(fields, "cancel_reason=?")
		args = append(args, *u.CancelReason)
	}
	conds := []string{"id=?", "status=?"}
	args = append(args, u.ID, string(u.From))
	if u.RequireUnclaimed {
		conds = append(conds, "supervisor_id IS NULL")
	}
	res, err := r.exec(ctx, `UPDATE projects SET `+strings.Join(fields, ",")+where(conds), args...)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrStale
	}
	return nil
}
