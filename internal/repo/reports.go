package repo

import (
	"context"
	"database/sql"
	"strings"

	"museu/internal/domain"
)

const reportColumns = `id,reference_month,year,author_id,status,
executive_summary,positive_points,difficulties,suggestions,opportunities,
coordinator_comments,coordinator_signature,general_executive_summary,consolidated_goals,institutional_observations,
signature_mime,signature_data,submitted_at,approved_at,created_at,updated_at`

func scanReport(row scanner) (domain.Report, error) {
	var rep domain.Report
	var summary, positive, difficulties, suggestions, opportunities sql.NullString
	var comments, coordSig, general, consolidated, observations sql.NullString
	var sigMime, submittedAt, approvedAt sql.NullString
	var sigData []byte
	var createdAt, updatedAt string
	err := row.Scan(&rep.ID, &rep.ReferenceMonth, &rep.Year, &rep.AuthorID, &rep.Status,
		&summary, &positive, &difficulties, &suggestions, &opportunities,
		&comments, &coordSig, &general, &consolidated, &observations,
		&sigMime, &sigData, &submittedAt, &approvedAt, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return rep, ErrNotFound
	}
	if err != nil {
		return rep, err
	}
	rep.ExecutiveSummary = summary.String
	rep.PositivePoints = positive.String
	rep.Difficulties = difficulties.String
	rep.Suggestions = suggestions.String
	rep.Opportunities = opportunities.String
	rep.CoordinatorComments = comments.String
	rep.CoordinatorSignature = coordSig.String
	rep.GeneralExecutiveSummary = general.String
	rep.ConsolidatedGoals = consolidated.String
	rep.InstitutionalObservations = observations.String
	if sigMime.Valid && len(sigData) > 0 {
		rep.Signature = &domain.Signature{MimeType: sigMime.String, Data: sigData}
	}
	if rep.SubmittedAt, err = parseNullTime(submittedAt); err != nil {
		return rep, err
	}
	if rep.ApprovedAt, err = parseNullTime(approvedAt); err != nil {
		return rep, err
	}
	if rep.CreatedAt, err = parseTime(createdAt); err != nil {
		return rep, err
	}
	if rep.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return rep, err
	}
	return rep, nil
}

func reportArgs(rep domain.Report) []any {
	var sigMime any
	var sigData any
	if rep.Signature != nil {
		sigMime = rep.Signature.MimeType
		sigData = rep.Signature.Data
	}
	return []any{
		string(rep.ReferenceMonth), rep.Year, rep.AuthorID, string(rep.Status),
		nullable(rep.ExecutiveSummary), nullable(rep.PositivePoints), nullable(rep.Difficulties),
		nullable(rep.Suggestions), nullable(rep.Opportunities),
		nullable(rep.CoordinatorComments), nullable(rep.CoordinatorSignature), nullable(rep.GeneralExecutiveSummary),
		nullable(rep.ConsolidatedGoals), nullable(rep.InstitutionalObservations),
		sigMime, sigData, nullableTime(rep.SubmittedAt), nullableTime(rep.ApprovedAt),
	}
}

func (r Repo) InsertReport(ctx context.Context, tx *sql.Tx, rep domain.Report) error {
	args := append([]any{rep.ID}, reportArgs(rep)...)
	args = append(args, formatTime(rep.CreatedAt), formatTime(rep.UpdatedAt))
	_, err := r.on(tx).ExecContext(ctx, `INSERT INTO reports(`+reportColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`, args...)
	return err
}

// UpdateReport rewrites every mutable column. CreatedAt and ID are kept.
func (r Repo) UpdateReport(ctx context.Context, tx *sql.Tx, rep domain.Report) error {
	args := append(reportArgs(rep), formatTime(rep.UpdatedAt), rep.ID)
	return mustAffect(r.on(tx).ExecContext(ctx, `UPDATE reports SET reference_month=?, year=?, author_id=?, status=?,
executive_summary=?, positive_points=?, difficulties=?, suggestions=?, opportunities=?,
coordinator_comments=?, coordinator_signature=?, general_executive_summary=?, consolidated_goals=?, institutional_observations=?,
signature_mime=?, signature_data=?, submitted_at=?, approved_at=?, updated_at=? WHERE id=?`, args...))
}

func (r Repo) GetReport(ctx context.Context, tx *sql.Tx, id string) (domain.Report, error) {
	return scanReport(r.on(tx).QueryRowContext(ctx, `SELECT `+reportColumns+` FROM reports WHERE id=?`, id))
}

// FindReportForPeriod returns the author's report for month/year, if any.
func (r Repo) FindReportForPeriod(ctx context.Context, tx *sql.Tx, authorID string, month domain.Month, year int) (domain.Report, error) {
	return scanReport(r.on(tx).QueryRowContext(ctx, `SELECT `+reportColumns+` FROM reports WHERE author_id=? AND reference_month=? AND year=?`,
		authorID, string(month), year))
}

type ReportFilters struct {
	AuthorID string
	Status   domain.ReportStatus
	Year     int
}

func (r Repo) ListReports(ctx context.Context, f ReportFilters) ([]domain.Report, error) {
	var clauses []string
	var args []any
	if f.AuthorID != "" {
		clauses = append(clauses, "author_id=?")
		args = append(args, f.AuthorID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, string(f.Status))
	}
	if f.Year != 0 {
		clauses = append(clauses, "year=?")
		args = append(args, f.Year)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+reportColumns+` FROM reports `+where+` ORDER BY year, created_at, id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Report{}
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rep)
	}
	return res, rows.Err()
}

// DeleteReport removes the report; its activities go with it.
func (r Repo) DeleteReport(ctx context.Context, tx *sql.Tx, id string) error {
	return mustAffect(r.on(tx).ExecContext(ctx, `DELETE FROM reports WHERE id=?`, id))
}
