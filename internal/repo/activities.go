package repo

import (
	"context"
	"database/sql"
	"strings"

	"museu/internal/domain"
)

const activityColumns = `id,report_id,linked_activity_id,name,description,date,museum,
classification,goal_number,goal_description,quantitative_goal,achieved_result,contribution_percent,goal_status,
audience_total,audience_children,audience_youth,audience_adults,audience_elderly,audience_pcd,
status,cancellation_reason,evidences_json,products_json,files_json,created_at,updated_at`

func scanActivity(row scanner) (domain.Activity, error) {
	var a domain.Activity
	var linked, description, date, museum, goalNumber, goalDescription, goalStatus, reason sql.NullString
	var evidences, products, files sql.NullString
	var quantitative, achieved sql.NullInt64
	var contribution sql.NullFloat64
	var createdAt, updatedAt string
	err := row.Scan(&a.ID, &a.ReportID, &linked, &a.Name, &description, &date, &museum,
		&a.Classification, &goalNumber, &goalDescription, &quantitative, &achieved, &contribution, &goalStatus,
		&a.Audience.Total, &a.Audience.Children, &a.Audience.Youth, &a.Audience.Adults, &a.Audience.Elderly, &a.Audience.PCD,
		&a.Status, &reason, &evidences, &products, &files, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	a.LinkedActivityID = linked.String
	a.Description = description.String
	a.Date = date.String
	a.Museum = museum.String
	a.GoalNumber = goalNumber.String
	a.GoalDescription = goalDescription.String
	a.GoalStatus = goalStatus.String
	a.CancellationReason = reason.String
	if quantitative.Valid {
		v := int(quantitative.Int64)
		a.QuantitativeGoal = &v
	}
	if achieved.Valid {
		v := int(achieved.Int64)
		a.AchievedResult = &v
	}
	if contribution.Valid {
		v := contribution.Float64
		a.ContributionPercent = &v
	}
	if a.Evidences, err = unmarshalStringSlice(evidences); err != nil {
		return a, err
	}
	if a.Products, err = unmarshalStringSlice(products); err != nil {
		return a, err
	}
	if a.Files, err = unmarshalStringSlice(files); err != nil {
		return a, err
	}
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return a, err
	}
	if a.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return a, err
	}
	return a, nil
}

func activityArgs(a domain.Activity) ([]any, error) {
	evidences, err := marshalStringSlice(a.Evidences)
	if err != nil {
		return nil, err
	}
	products, err := marshalStringSlice(a.Products)
	if err != nil {
		return nil, err
	}
	files, err := marshalStringSlice(a.Files)
	if err != nil {
		return nil, err
	}
	au := a.Audience
	return []any{
		a.ReportID, nullable(a.LinkedActivityID), a.Name, nullable(a.Description), nullable(a.Date), nullable(a.Museum),
		string(a.Classification), nullable(a.GoalNumber), nullable(a.GoalDescription),
		nullableIntPtr(a.QuantitativeGoal), nullableIntPtr(a.AchievedResult), nullableFloatPtr(a.ContributionPercent), nullable(a.GoalStatus),
		au.Total, au.Children, au.Youth, au.Adults, au.Elderly, au.PCD,
		string(a.Status), nullable(a.CancellationReason), evidences, products, files,
	}, nil
}

func (r Repo) InsertActivity(ctx context.Context, tx *sql.Tx, a domain.Activity) error {
	args, err := activityArgs(a)
	if err != nil {
		return err
	}
	args = append([]any{a.ID}, args...)
	args = append(args, formatTime(a.CreatedAt), formatTime(a.UpdatedAt))
	_, err = r.on(tx).ExecContext(ctx, `INSERT INTO activities(`+activityColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`, args...)
	return err
}

func (r Repo) UpdateActivity(ctx context.Context, tx *sql.Tx, a domain.Activity) error {
	args, err := activityArgs(a)
	if err != nil {
		return err
	}
	args = append(args, formatTime(a.UpdatedAt), a.ID)
	return mustAffect(r.on(tx).ExecContext(ctx, `UPDATE activities SET report_id=?, linked_activity_id=?, name=?, description=?, date=?, museum=?,
classification=?, goal_number=?, goal_description=?, quantitative_goal=?, achieved_result=?, contribution_percent=?, goal_status=?,
audience_total=?, audience_children=?, audience_youth=?, audience_adults=?, audience_elderly=?, audience_pcd=?,
status=?, cancellation_reason=?, evidences_json=?, products_json=?, files_json=?, updated_at=? WHERE id=?`, args...))
}

func (r Repo) GetActivity(ctx context.Context, tx *sql.Tx, id string) (domain.Activity, error) {
	return scanActivity(r.on(tx).QueryRowContext(ctx, `SELECT `+activityColumns+` FROM activities WHERE id=?`, id))
}

type ActivityFilters struct {
	ReportID string
	// NameLike matches activity names case-insensitively.
	NameLike string
	Limit    int
}

func (r Repo) ListActivities(ctx context.Context, tx *sql.Tx, f ActivityFilters) ([]domain.Activity, error) {
	var clauses []string
	var args []any
	if f.ReportID != "" {
		clauses = append(clauses, "report_id=?")
		args = append(args, f.ReportID)
	}
	if q := strings.TrimSpace(f.NameLike); q != "" {
		clauses = append(clauses, "LOWER(name) LIKE ? ESCAPE '\\'")
		args = append(args, "%"+escapeLike(strings.ToLower(q))+"%")
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + activityColumns + ` FROM activities ` + where + ` ORDER BY created_at, id`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.on(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Activity{}
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func (r Repo) DeleteActivity(ctx context.Context, tx *sql.Tx, id string) error {
	return mustAffect(r.on(tx).ExecContext(ctx, `DELETE FROM activities WHERE id=?`, id))
}
