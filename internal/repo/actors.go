package repo

import (
	"context"
	"database/sql"

	"doerline/internal/domain"
	"doerline/internal/lifecycle"
)

const actorColumns = `id,role,display_name,available,password_hash,created_at`

func scanActor(row scanner) (domain.Actor, error) {
	var a domain.Actor
	var role string
	var name, hash sql.NullString
	err := row.Scan(&a.ID, &role, &name, &a.Available, &hash, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	a.Role = lifecycle.Role(role)
	a.DisplayName = name.String
	a.PasswordHash = hash.String
	return a, nil
}

func (r Repo) InsertActor(ctx context.Context, a domain.Actor) error {
	_, err := r.exec(ctx, `INSERT INTO actors(id,role,display_name,available,password_hash,created_at) VALUES (?,?,?,?,?,?)`,
		a.ID, string(a.Role), nullable(a.DisplayName), a.Available, nullable(a.PasswordHash), a.CreatedAt)
	return err
}

// EnsureActor inserts the actor unless one with the same id exists.
func (r Repo) EnsureActor(ctx context.Context, a domain.Actor) error {
	_, err := r.exec(ctx, `INSERT INTO actors(id,role,display_name,available,password_hash,created_at) VALUES (?,?,?,?,?,?)
ON CONFLICT(id) DO NOTHING`,
		a.ID, string(a.Role), nullable(a.DisplayName), a.Available, nullable(a.PasswordHash), a.CreatedAt)
	return err
}

func (r Repo) GetActor(ctx context.Context, id string) (domain.Actor, error) {
	return scanActor(r.queryRow(ctx, `SELECT `+actorColumns+` FROM actors WHERE id=?`, id))
}

type ActorFilters struct {
	Role          lifecycle.Role
	AvailableOnly bool
}

func (r Repo) ListActors(ctx context.Context, f ActorFilters) ([]domain.Actor, error) {
	var clauses []string
	var args []any
	if f.Role != "" {
		clauses = append(clauses, "role=?")
		args = append(args, string(f.Role))
	}
	if f.AvailableOnly {
		clauses = append(clauses, "available=?")
		args = append(args, true)
	}
	rows, err := r.query(ctx, `SELECT `+actorColumns+` FROM actors`+where(clauses)+` ORDER BY id ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Actor
	for rows.Next() {
		a, err := scanActor(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) SetAvailability(ctx context.Context, id string, available bool) error {
	res, err := r.exec(ctx, `UPDATE actors SET available=? WHERE id=?`, available, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SetPasswordHash(ctx context.Context, id, hash string) error {
	res, err := r.exec(ctx, `UPDATE actors SET password_hash=? WHERE id=?`, nullable(hash), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
