package repo

import (
	"context"
	"database/sql"

	"museu/internal/domain"
)

const profileColumns = `principal_id,name,email,app_role,approval_status,team,created_at,updated_at`

func scanProfile(row scanner) (domain.UserProfile, error) {
	var p domain.UserProfile
	var email, team sql.NullString
	var createdAt, updatedAt string
	err := row.Scan(&p.PrincipalID, &p.Name, &email, &p.AppRole, &p.ApprovalStatus, &team, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.Email = email.String
	p.Team = team.String
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return p, err
	}
	if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return p, err
	}
	return p, nil
}

// EnsureProfile inserts p unless a profile for the principal already exists.
// It reports whether a row was created.
func (r Repo) EnsureProfile(ctx context.Context, tx *sql.Tx, p domain.UserProfile) (bool, error) {
	res, err := r.on(tx).ExecContext(ctx, `INSERT OR IGNORE INTO profiles(`+profileColumns+`) VALUES (?,?,?,?,?,?,?,?)`,
		p.PrincipalID, p.Name, nullable(p.Email), string(p.AppRole), string(p.ApprovalStatus), nullable(p.Team),
		formatTime(p.CreatedAt), formatTime(p.UpdatedAt))
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r Repo) GetProfile(ctx context.Context, tx *sql.Tx, principalID string) (domain.UserProfile, error) {
	return scanProfile(r.on(tx).QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE principal_id=?`, principalID))
}

func (r Repo) ListProfiles(ctx context.Context) ([]domain.UserProfile, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+profileColumns+` FROM profiles ORDER BY name, principal_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.UserProfile{}
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// UpdateProfile rewrites name, email, role, approval and team.
func (r Repo) UpdateProfile(ctx context.Context, tx *sql.Tx, p domain.UserProfile) error {
	return mustAffect(r.on(tx).ExecContext(ctx, `UPDATE profiles SET name=?, email=?, app_role=?, approval_status=?, team=?, updated_at=? WHERE principal_id=?`,
		p.Name, nullable(p.Email), string(p.AppRole), string(p.ApprovalStatus), nullable(p.Team), formatTime(p.UpdatedAt), p.PrincipalID))
}

func (r Repo) DeleteProfile(ctx context.Context, tx *sql.Tx, principalID string) error {
	return mustAffect(r.on(tx).ExecContext(ctx, `DELETE FROM profiles WHERE principal_id=?`, principalID))
}

// CountRole returns how many profiles hold role.
func (r Repo) CountRole(ctx context.Context, tx *sql.Tx, role domain.AppRole) (int, error) {
	var n int
	err := r.on(tx).QueryRowContext(ctx, `SELECT COUNT(*) FROM profiles WHERE app_role=?`, string(role)).Scan(&n)
	return n, err
}
