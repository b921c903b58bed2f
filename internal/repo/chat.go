package repo

import (
	"context"

	"doerline/internal/domain"
)

func (r Repo) InsertMessage(ctx context.Context, m domain.ChatMessage) error {
	_, err := r.exec(ctx, `INSERT INTO chat_messages(id,project_id,sender_id,body,created_at) VALUES (?,?,?,?,?)`,
		m.ID, m.ProjectID, m.SenderID, m.Body, m.CreatedAt)
	return err
}

// ListMessages returns a project's messages newest first, paging by
// (created_at, id).
func (r Repo) ListMessages(ctx context.Context, projectID string, limit int, cursorCreatedAt, cursorID string) ([]domain.ChatMessage, error) {
	clauses := []string{"project_id=?"}
	args := []any{projectID}
	if cursorCreatedAt != "" && cursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, cursorCreatedAt, cursorCreatedAt, cursorID)
	}
	query := `SELECT id,project_id,sender_id,body,created_at FROM chat_messages` + where(clauses) + ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ChatMessage
	for rows.Next() {
		var m domain.ChatMessage
		if err := rows.Scan(&m.ID, &m.ProjectID, &m.SenderID, &m.Body, &m.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// MarkRead moves the actor's read marker for the project forward to at.
func (r Repo) MarkRead(ctx context.Context, projectID, actorID, at string) error {
	_, err := r.exec(ctx, `INSERT INTO chat_reads(project_id,actor_id,last_read_at) VALUES (?,?,?)
ON CONFLICT(project_id, actor_id) DO UPDATE SET last_read_at=excluded.last_read_at
WHERE excluded.last_read_at > chat_reads.last_read_at`, projectID, actorID, at)
	return err
}

// UnreadCounts counts messages from others, newer than the actor's read
// marker, in every project the actor takes part in. Projects without unread
// messages are omitted.
func (r Repo) UnreadCounts(ctx context.Context, actorID string) (map[string]int, error) {
	rows, err := r.query(ctx, `SELECT m.project_id, COUNT(*) FROM chat_messages m
JOIN projects p ON p.id=m.project_id
LEFT JOIN chat_reads cr ON cr.project_id=m.project_id AND cr.actor_id=?
WHERE m.sender_id<>?
  AND (p.client_id=? OR p.supervisor_id=? OR p.doer_id=?)
  AND (cr.last_read_at IS NULL OR m.created_at > cr.last_read_at)
GROUP BY m.project_id`, actorID, actorID, actorID, actorID, actorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var projectID string
		var n int
		if err := rows.Scan(&projectID, &n); err != nil {
			return nil, err
		}
		res[projectID] = n
	}
	return res, rows.Err()
}
