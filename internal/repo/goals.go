package repo

import (
	"context"
	"database/sql"

	"museu/internal/domain"
)

const goalColumns = `id,number,name,description,target,active,created_at`

func scanGoal(row scanner) (domain.Goal, error) {
	var g domain.Goal
	var description sql.NullString
	var target sql.NullInt64
	var createdAt string
	err := row.Scan(&g.ID, &g.Number, &g.Name, &description, &target, &g.Active, &createdAt)
	if err == sql.ErrNoRows {
		return g, ErrNotFound
	}
	if err != nil {
		return g, err
	}
	g.Description = description.String
	if target.Valid {
		v := int(target.Int64)
		g.Target = &v
	}
	g.CreatedAt, err = parseTime(createdAt)
	return g, err
}

// InsertGoalIfMissing inserts a goal unless its number is taken. Existing goals are untouched.
func (r Repo) InsertGoalIfMissing(ctx context.Context, tx *sql.Tx, g domain.Goal) (bool, error) {
	res, err := r.on(tx).ExecContext(ctx, `INSERT OR IGNORE INTO goals(`+goalColumns+`) VALUES (?,?,?,?,?,?,?)`,
		g.ID, g.Number, g.Name, nullable(g.Description), nullableIntPtr(g.Target), g.Active, formatTime(g.CreatedAt))
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r Repo) GetGoal(ctx context.Context, tx *sql.Tx, id string) (domain.Goal, error) {
	return scanGoal(r.on(tx).QueryRowContext(ctx, `SELECT `+goalColumns+` FROM goals WHERE id=?`, id))
}

func (r Repo) ListGoals(ctx context.Context) ([]domain.Goal, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+goalColumns+` FROM goals ORDER BY CAST(number AS INTEGER), number`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Goal{}
	for rows.Next() {
		g, err := scanGoal(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, g)
	}
	return res, rows.Err()
}

func (r Repo) SetGoalActive(ctx context.Context, tx *sql.Tx, id string, active bool) error {
	return mustAffect(r.on(tx).ExecContext(ctx, `UPDATE goals SET active=? WHERE id=?`, active, id))
}
