// Package lifecycle holds the report and activity lifecycle rules. Every function
// is pure: callers pass the acting profile and get a decision back, so the CLI,
// the client session and the backend engine all decide the same way.
package lifecycle

import (
	"fmt"
	"strings"
	"time"

	"museu/internal/domain"
)

// IsPrivileged reports whether the role belongs to coordination or administration.
func IsPrivileged(actor domain.UserProfile) bool {
	return actor.AppRole == domain.RoleCoordination || actor.AppRole == domain.RoleAdministration
}

// IsReportEditable decides whether the narrative of r may be edited by actor.
// A nil report has not been saved yet and is always editable.
func IsReportEditable(r *domain.Report, actor domain.UserProfile) bool {
	if r == nil {
		return true
	}
	if IsPrivileged(actor) && actor.PrincipalID != r.AuthorID {
		// reviewers use Review, never inline edits
		return false
	}
	switch r.Status {
	case domain.ReportSubmitted, domain.ReportApproved:
		return false
	}
	return true
}

// CanSubmit is true when the report is editable and carries content: at least one
// activity or a non-blank executive summary.
func CanSubmit(r *domain.Report, actor domain.UserProfile, activities []domain.Activity) bool {
	return CheckSubmit(r, actor, activities) == nil
}

// CheckSubmit is CanSubmit with the reason attached.
func CheckSubmit(r *domain.Report, actor domain.UserProfile, activities []domain.Activity) error {
	if r == nil {
		return invalid("report", "must be saved before submission")
	}
	if !IsReportEditable(r, actor) {
		return invalid("status", fmt.Sprintf("report in status %s cannot be submitted", r.Status))
	}
	if len(activities) == 0 && strings.TrimSpace(r.ExecutiveSummary) == "" {
		return invalid("report", "needs at least one activity or an executive summary")
	}
	return nil
}

func ownsEditable(r *domain.Report, actor domain.UserProfile) bool {
	if r == nil {
		return true
	}
	return actor.PrincipalID == r.AuthorID &&
		(r.Status == domain.ReportDraft || r.Status == domain.ReportRequiresAdjustment)
}

// CanDelete decides whether actor may delete r.
func CanDelete(r *domain.Report, actor domain.UserProfile) bool {
	return IsPrivileged(actor) || ownsEditable(r, actor)
}

// CanEditInline decides whether list views offer the edit shortcut for r.
func CanEditInline(r *domain.Report, actor domain.UserProfile) bool {
	return IsPrivileged(actor) || ownsEditable(r, actor)
}

// CanEditActivity decides whether activities of r may be created or changed.
func CanEditActivity(r *domain.Report, actor domain.UserProfile) bool {
	if IsPrivileged(actor) {
		return true
	}
	if r != nil && r.AuthorID != actor.PrincipalID {
		return false
	}
	return IsReportEditable(r, actor)
}

// CanAttachSignature allows signatures only while the report is editable.
func CanAttachSignature(r *domain.Report, actor domain.UserProfile) bool {
	return r != nil && IsReportEditable(r, actor)
}

// CanEditCoordinationFields is independent of the report's own editability.
func CanEditCoordinationFields(actor domain.UserProfile) bool {
	return IsPrivileged(actor)
}

// CanManageUsers gates the profile administration operations.
func CanManageUsers(actor domain.UserProfile) bool {
	return IsPrivileged(actor)
}

// CanViewReport lets authors see their own reports and reviewers see all of them.
func CanViewReport(r domain.Report, actor domain.UserProfile) bool {
	return IsPrivileged(actor) || actor.AppRole == domain.RoleCoordinator || r.AuthorID == actor.PrincipalID
}

// CanUseReports is the approval gate: professionals need an approved profile.
func CanUseReports(actor domain.UserProfile) bool {
	if IsPrivileged(actor) {
		return true
	}
	return actor.ApprovalStatus == domain.ApprovalApproved
}

// CanReview reports whether actor may approve or return r.
func CanReview(r domain.Report, actor domain.UserProfile) bool {
	return CheckReview(r, actor) == nil
}

// CheckReview is CanReview with the reason attached.
func CheckReview(r domain.Report, actor domain.UserProfile) error {
	if !IsPrivileged(actor) {
		return forbidden("review reports")
	}
	switch r.Status {
	case domain.ReportSubmitted, domain.ReportUnderReview, domain.ReportAnalysis:
		return nil
	case domain.ReportApproved:
		return invalid("status", "report is already approved")
	default:
		return invalid("status", fmt.Sprintf("report in status %s is not awaiting review", r.Status))
	}
}

// Review applies a coordinator decision and returns the updated report.
// Approving sets ApprovedAt; returning requires a comment, which is stored in
// CoordinatorComments, and moves the report to requiresAdjustment.
func Review(r domain.Report, actor domain.UserProfile, action domain.ReviewAction, comment string, now time.Time) (domain.Report, error) {
	if err := CheckReview(r, actor); err != nil {
		return r, err
	}
	switch action {
	case domain.ReviewApprove:
		if err := EnsureTransition(r.Status, domain.ReportApproved); err != nil {
			return r, err
		}
		r.Status = domain.ReportApproved
		r.ApprovedAt = advance(r.ApprovedAt, now)
	case domain.ReviewReturn:
		comment = strings.TrimSpace(comment)
		if comment == "" {
			return r, invalid("comment", "is required to return a report")
		}
		if err := EnsureTransition(r.Status, domain.ReportRequiresAdjustment); err != nil {
			return r, err
		}
		r.Status = domain.ReportRequiresAdjustment
		r.CoordinatorComments = comment
	default:
		return r, invalid("action", fmt.Sprintf("unknown review action %q", action))
	}
	r.UpdatedAt = now
	return r, nil
}

// Submit moves r to submitted after checking CheckSubmit and the audience of
// every activity. Drafts may hold inconsistent audiences; submission may not.
func Submit(r domain.Report, actor domain.UserProfile, activities []domain.Activity, now time.Time) (domain.Report, error) {
	if r.AuthorID != actor.PrincipalID {
		return r, forbidden("submit another author's report")
	}
	if err := CheckSubmit(&r, actor, activities); err != nil {
		return r, err
	}
	for _, a := range activities {
		if err := ValidateAudience(a); err != nil {
			return r, err
		}
		if err := ValidateActivity(a); err != nil {
			return r, err
		}
	}
	if err := EnsureTransition(r.Status, domain.ReportSubmitted); err != nil {
		return r, err
	}
	r.Status = domain.ReportSubmitted
	r.SubmittedAt = advance(r.SubmittedAt, now)
	r.UpdatedAt = now
	return r, nil
}

// SetReviewStage is the coordinator action that moves a submitted report into one
// of the intermediate review states.
func SetReviewStage(r domain.Report, actor domain.UserProfile, stage domain.ReportStatus, now time.Time) (domain.Report, error) {
	if !IsPrivileged(actor) {
		return r, forbidden("change review stage")
	}
	if stage != domain.ReportUnderReview && stage != domain.ReportAnalysis {
		return r, invalid("stage", fmt.Sprintf("%s is not a review stage", stage))
	}
	if err := EnsureTransition(r.Status, stage); err != nil {
		return r, err
	}
	r.Status = stage
	r.UpdatedAt = now
	return r, nil
}

// EnsureTransition checks the report state machine.
func EnsureTransition(from, to domain.ReportStatus) error {
	switch from {
	case domain.ReportDraft:
		if to == domain.ReportSubmitted {
			return nil
		}
	case domain.ReportSubmitted:
		if to == domain.ReportUnderReview || to == domain.ReportAnalysis ||
			to == domain.ReportApproved || to == domain.ReportRequiresAdjustment {
			return nil
		}
	case domain.ReportUnderReview:
		if to == domain.ReportAnalysis || to == domain.ReportApproved || to == domain.ReportRequiresAdjustment {
			return nil
		}
	case domain.ReportAnalysis:
		if to == domain.ReportApproved || to == domain.ReportRequiresAdjustment {
			return nil
		}
	case domain.ReportRequiresAdjustment:
		if to == domain.ReportSubmitted {
			return nil
		}
	}
	return invalid("status", fmt.Sprintf("invalid report transition %s -> %s", from, to))
}

// advance keeps lifecycle timestamps monotonic.
func advance(prev *time.Time, now time.Time) *time.Time {
	if prev != nil && prev.After(now) {
		return prev
	}
	t := now
	return &t
}
