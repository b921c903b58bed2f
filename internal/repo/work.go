package repo

import (
	"context"
	"database/sql"

	"doerline/internal/domain"
)

func (r Repo) InsertDeliverable(ctx context.Context, d domain.Deliverable) error {
	_, err := r.exec(ctx, `INSERT INTO deliverables(id,project_id,doer_id,file_name,file_url,size_bytes,is_final,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		d.ID, d.ProjectID, d.DoerID, d.FileName, d.FileURL, d.SizeBytes, d.IsFinal, d.CreatedAt)
	return err
}

func (r Repo) ListDeliverables(ctx context.Context, projectID string) ([]domain.Deliverable, error) {
	rows, err := r.query(ctx, `SELECT id,project_id,doer_id,file_name,file_url,size_bytes,is_final,created_at
FROM deliverables WHERE project_id=? ORDER BY created_at ASC, id ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Deliverable
	for rows.Next() {
		var d domain.Deliverable
		if err := rows.Scan(&d.ID, &d.ProjectID, &d.DoerID, &d.FileName, &d.FileURL, &d.SizeBytes, &d.IsFinal, &d.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

// CountDeliverables counts uploads, optionally only those after since.
func (r Repo) CountDeliverables(ctx context.Context, projectID, since string) (int, error) {
	query := `SELECT COUNT(*) FROM deliverables WHERE project_id=?`
	args := []any{projectID}
	if since != "" {
		query += ` AND created_at > ?`
		args = append(args, since)
	}
	var n int
	err := r.queryRow(ctx, query, args...).Scan(&n)
	return n, err
}

func (r Repo) InsertRevision(ctx context.Context, rev domain.Revision) error {
	_, err := r.exec(ctx, `INSERT INTO revisions(id,project_id,requested_by,feedback,created_at) VALUES (?,?,?,?,?)`,
		rev.ID, rev.ProjectID, rev.RequestedBy, rev.Feedback, rev.CreatedAt)
	return err
}

func (r Repo) ListRevisions(ctx context.Context, projectID string) ([]domain.Revision, error) {
	rows, err := r.query(ctx, `SELECT id,project_id,requested_by,feedback,created_at,resolved_at
FROM revisions WHERE project_id=? ORDER BY created_at ASC, id ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Revision
	for rows.Next() {
		var rev domain.Revision
		var resolved sql.NullString
		if err := rows.Scan(&rev.ID, &rev.ProjectID, &rev.RequestedBy, &rev.Feedback, &rev.CreatedAt, &resolved); err != nil {
			return nil, err
		}
		rev.ResolvedAt = stringPtr(resolved)
		res = append(res, rev)
	}
	return res, rows.Err()
}

// OpenRevision returns the latest unresolved revision request.
func (r Repo) OpenRevision(ctx context.Context, projectID string) (domain.Revision, error) {
	var rev domain.Revision
	err := r.queryRow(ctx, `SELECT id,project_id,requested_by,feedback,created_at FROM revisions
WHERE project_id=? AND resolved_at IS NULL ORDER BY created_at DESC, id DESC LIMIT 1`, projectID).
		Scan(&rev.ID, &rev.ProjectID, &rev.RequestedBy, &rev.Feedback, &rev.CreatedAt)
	if err == sql.ErrNoRows {
		return rev, ErrNotFound
	}
	return rev, err
}

// ResolveRevisions closes every open revision request of the project.
func (r Repo) ResolveRevisions(ctx context.Context, projectID, at string) (int64, error) {
	res, err := r.exec(ctx, `UPDATE revisions SET resolved_at=? WHERE project_id=? AND resolved_at IS NULL`, at, projectID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
