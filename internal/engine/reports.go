package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"museu/internal/domain"
	"museu/internal/engine/auth"
	"museu/internal/events"
	"museu/internal/lifecycle"
	"museu/internal/repo"
)

func reportPayload(r domain.Report) events.EventPayload {
	return events.EventPayload{
		"author_id":       r.AuthorID,
		"status":          r.Status,
		"reference_month": r.ReferenceMonth,
		"year":            r.Year,
	}
}

// SaveReport creates a draft when r.ID is empty, otherwise applies the
// author-editable fields to the stored report.
func (e Engine) SaveReport(ctx context.Context, actorID string, r domain.Report) (domain.Report, error) {
	var saved domain.Report
	err := e.mutate(ctx, actorID, func(tx *sql.Tx, emit emitFunc) error {
		actor, err := e.reportsActor(ctx, tx, actorID)
		if err != nil {
			return err
		}
		now := e.now()
		if r.ID == "" {
			if r.AuthorID != "" && r.AuthorID != actor.PrincipalID {
				return invalid("author_id", "must be the acting user")
			}
			saved = domain.Report{
				ID:        newID(),
				AuthorID:  actor.PrincipalID,
				Status:    domain.ReportDraft,
				CreatedAt: now,
			}
			saved, err = lifecycle.ApplyReportEdit(saved, r)
			if err != nil {
				return err
			}
			if err := e.ensureFreePeriod(ctx, tx, saved); err != nil {
				return err
			}
			saved.UpdatedAt = now
			if err := e.Repo.InsertReport(ctx, tx, saved); err != nil {
				return fmt.Errorf("insert report: %w", err)
			}
			return emit("report.created", "report", saved.ID, reportPayload(saved))
		}
		current, err := e.Repo.GetReport(ctx, tx, r.ID)
		if err != nil {
			return err
		}
		if current.AuthorID != actor.PrincipalID || !lifecycle.IsReportEditable(&current, actor) {
			return &lifecycle.ForbiddenError{Action: fmt.Sprintf("edit report in status %s", current.Status)}
		}
		saved, err = lifecycle.ApplyReportEdit(current, r)
		if err != nil {
			return err
		}
		if saved.ReferenceMonth != current.ReferenceMonth || saved.Year != current.Year {
			if err := e.ensureFreePeriod(ctx, tx, saved); err != nil {
				return err
			}
		}
		saved.UpdatedAt = now
		if err := e.Repo.UpdateReport(ctx, tx, saved); err != nil {
			return err
		}
		return emit("report.updated", "report", saved.ID, reportPayload(saved))
	})
	return saved, err
}

// ensureFreePeriod keeps one report per author per month and year.
func (e Engine) ensureFreePeriod(ctx context.Context, tx *sql.Tx, r domain.Report) error {
	if e.Config != nil && r.Year < e.Config.Reporting.FirstYear {
		return invalid("year", fmt.Sprintf("must be %d or later", e.Config.Reporting.FirstYear))
	}
	other, err := e.Repo.FindReportForPeriod(ctx, tx, r.AuthorID, r.ReferenceMonth, r.Year)
	if errors.Is(err, repo.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if other.ID != r.ID {
		return invalid("reference_month", fmt.Sprintf("a report for %s/%d already exists (%s)", r.ReferenceMonth, r.Year, other.ID))
	}
	return nil
}

func (e Engine) GetReport(ctx context.Context, actorID, id string) (domain.Report, error) {
	actor, err := e.reportsActor(ctx, nil, actorID)
	if err != nil {
		return domain.Report{}, err
	}
	r, err := e.Repo.GetReport(ctx, nil, id)
	if err != nil {
		return r, err
	}
	if !lifecycle.CanViewReport(r, actor) {
		return domain.Report{}, auth.ForbiddenError{Permission: "reports.view"}
	}
	return r, nil
}

// ListReports returns every report in the network.
func (e Engine) ListReports(ctx context.Context, actorID string) ([]domain.Report, error) {
	actor, err := e.actor(ctx, nil, actorID)
	if err != nil {
		return nil, err
	}
	if err := auth.RequireOverview(actor); err != nil {
		return nil, err
	}
	return e.Repo.ListReports(ctx, repo.ReportFilters{})
}

// ReportsForUser lists the reports authored by userID.
func (e Engine) ReportsForUser(ctx context.Context, actorID, userID string) ([]domain.Report, error) {
	actor, err := e.reportsActor(ctx, nil, actorID)
	if err != nil {
		return nil, err
	}
	if userID == "" {
		userID = actor.PrincipalID
	}
	if userID != actor.PrincipalID {
		if err := auth.RequireOverview(actor); err != nil {
			return nil, err
		}
	}
	return e.Repo.ListReports(ctx, repo.ReportFilters{AuthorID: userID})
}

func (e Engine) ReportWithActivities(ctx context.Context, actorID, id string) (domain.ReportWithActivities, error) {
	r, err := e.GetReport(ctx, actorID, id)
	if err != nil {
		return domain.ReportWithActivities{}, err
	}
	acts, err := e.Repo.ListActivities(ctx, nil, repo.ActivityFilters{ReportID: id})
	if err != nil {
		return domain.ReportWithActivities{}, err
	}
	return domain.ReportWithActivities{Report: r, Activities: acts}, nil
}

func (e Engine) DeleteReport(ctx context.Context, actorID, id string) error {
	return e.mutate(ctx, actorID, func(tx *sql.Tx, emit emitFunc) error {
		actor, err := e.reportsActor(ctx, tx, actorID)
		if err != nil {
			return err
		}
		r, err := e.Repo.GetReport(ctx, tx, id)
		if err != nil {
			return err
		}
		if !lifecycle.CanDelete(&r, actor) {
			return &lifecycle.ForbiddenError{Action: fmt.Sprintf("delete report in status %s", r.Status)}
		}
		if err := e.Repo.DeleteReport(ctx, tx, id); err != nil {
			return err
		}
		return emit("report.deleted", "report", id, reportPayload(r))
	})
}

// SubmitReport moves the author's report to submitted.
func (e Engine) SubmitReport(ctx context.Context, actorID, id string) (domain.Report, error) {
	var out domain.Report
	err := e.mutate(ctx, actorID, func(tx *sql.Tx, emit emitFunc) error {
		actor, err := e.reportsActor(ctx, tx, actorID)
		if err != nil {
			return err
		}
		r, err := e.Repo.GetReport(ctx, tx, id)
		if err != nil {
			return err
		}
		acts, err := e.Repo.ListActivities(ctx, tx, repo.ActivityFilters{ReportID: id})
		if err != nil {
			return err
		}
		out, err = lifecycle.Submit(r, actor, acts, e.now())
		if err != nil {
			return err
		}
		if err := e.Repo.UpdateReport(ctx, tx, out); err != nil {
			return err
		}
		payload := reportPayload(out)
		payload["from"] = r.Status
		return emit("report.submitted", "report", id, payload)
	})
	return out, err
}

// ReviewReport approves or returns a report awaiting review.
func (e Engine) ReviewReport(ctx context.Context, actorID, id string, action domain.ReviewAction, comment string) (domain.Report, error) {
	var out domain.Report
	err := e.mutate(ctx, actorID, func(tx *sql.Tx, emit emitFunc) error {
		actor, err := e.actor(ctx, tx, actorID)
		if err != nil {
			return err
		}
		r, err := e.Repo.GetReport(ctx, tx, id)
		if err != nil {
			return err
		}
		out, err = lifecycle.Review(r, actor, action, comment, e.now())
		if err != nil {
			return err
		}
		if err := e.Repo.UpdateReport(ctx, tx, out); err != nil {
			return err
		}
		payload := reportPayload(out)
		payload["action"] = action
		payload["from"] = r.Status
		return emit("report.reviewed", "report", id, payload)
	})
	return out, err
}

// SetReviewStage moves a report into underReview or analysis.
func (e Engine) SetReviewStage(ctx context.Context, actorID, id string, stage domain.ReportStatus) (domain.Report, error) {
	var out domain.Report
	err := e.mutate(ctx, actorID, func(tx *sql.Tx, emit emitFunc) error {
		actor, err := e.actor(ctx, tx, actorID)
		if err != nil {
			return err
		}
		r, err := e.Repo.GetReport(ctx, tx, id)
		if err != nil {
			return err
		}
		out, err = lifecycle.SetReviewStage(r, actor, stage, e.now())
		if err != nil {
			return err
		}
		if err := e.Repo.UpdateReport(ctx, tx, out); err != nil {
			return err
		}
		payload := reportPayload(out)
		payload["from"] = r.Status
		return emit("report.stage", "report", id, payload)
	})
	return out, err
}

// UploadSignature attaches the author's signature while the report is editable.
func (e Engine) UploadSignature(ctx context.Context, actorID, id string, sig domain.Signature) (domain.Report, error) {
	if err := lifecycle.ValidateSignature(sig); err != nil {
		return domain.Report{}, err
	}
	var out domain.Report
	err := e.mutate(ctx, actorID, func(tx *sql.Tx, emit emitFunc) error {
		actor, err := e.reportsActor(ctx, tx, actorID)
		if err != nil {
			return err
		}
		r, err := e.Repo.GetReport(ctx, tx, id)
		if err != nil {
			return err
		}
		if r.AuthorID != actor.PrincipalID || !lifecycle.CanAttachSignature(&r, actor) {
			return &lifecycle.ForbiddenError{Action: fmt.Sprintf("sign report in status %s", r.Status)}
		}
		r.Signature = &domain.Signature{MimeType: sig.MimeType, Data: sig.Data}
		r.UpdatedAt = e.now()
		if err := e.Repo.UpdateReport(ctx, tx, r); err != nil {
			return err
		}
		out = r
		return emit("report.signed", "report", id, events.EventPayload{"author_id": r.AuthorID, "mime_type": sig.MimeType, "bytes": len(sig.Data)})
	})
	return out, err
}

// UpdateCoordinationFields writes the coordinator-only fields in any status.
func (e Engine) UpdateCoordinationFields(ctx context.Context, actorID, id string, f domain.CoordinationFields) (domain.Report, error) {
	var out domain.Report
	err := e.mutate(ctx, actorID, func(tx *sql.Tx, emit emitFunc) error {
		actor, err := e.actor(ctx, tx, actorID)
		if err != nil {
			return err
		}
		r, err := e.Repo.GetReport(ctx, tx, id)
		if err != nil {
			return err
		}
		out, err = lifecycle.ApplyCoordinationFields(r, actor, f)
		if err != nil {
			return err
		}
		out.UpdatedAt = e.now()
		if err := e.Repo.UpdateReport(ctx, tx, out); err != nil {
			return err
		}
		return emit("report.coordination", "report", id, reportPayload(out))
	})
	return out, err
}
