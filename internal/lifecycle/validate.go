package lifecycle

import (
	"fmt"
	"strings"

	"museu/internal/domain"
)

// ValidateAudience rejects sub-populations that add up to more than the total.
// Inconsistent figures are reported, never corrected.
func ValidateAudience(a domain.Activity) error {
	au := a.Audience
	for name, v := range map[string]int{
		"total": au.Total, "children": au.Children, "youth": au.Youth,
		"adults": au.Adults, "elderly": au.Elderly, "pcd": au.PCD,
	} {
		if v < 0 {
			return invalid("audience."+name, "must not be negative")
		}
	}
	if sub := au.SubTotal(); sub > au.Total {
		return invalid("audience", fmt.Sprintf("sub-populations (%d) exceed total (%d) in activity %q", sub, au.Total, a.Name))
	}
	return nil
}

// ValidateActivity checks the structural rules that apply to drafts as well.
func ValidateActivity(a domain.Activity) error {
	if strings.TrimSpace(a.Name) == "" {
		return invalid("name", "is required")
	}
	if a.ReportID == "" {
		return invalid("report_id", "is required")
	}
	if a.Classification != "" && !a.Classification.Valid() {
		return invalid("classification", fmt.Sprintf("unknown value %q", a.Classification))
	}
	if a.Status != "" && !a.Status.Valid() {
		return invalid("status", fmt.Sprintf("unknown value %q", a.Status))
	}
	hasReason := strings.TrimSpace(a.CancellationReason) != ""
	if a.Status == domain.ActivityCancelled && !hasReason {
		return invalid("cancellation_reason", "is required for cancelled activities")
	}
	if a.Status != domain.ActivityCancelled && hasReason {
		return invalid("cancellation_reason", "is only allowed for cancelled activities")
	}
	if a.LinkedActivityID != "" && a.LinkedActivityID == a.ID {
		return invalid("linked_activity_id", "cannot reference itself")
	}
	return nil
}

// MaxSignatureBytes caps an uploaded signature image.
const MaxSignatureBytes = 512 * 1024

// ValidateSignature checks an uploaded signature image.
func ValidateSignature(sig domain.Signature) error {
	if !strings.HasPrefix(sig.MimeType, "image/") {
		return invalid("signature.mime_type", fmt.Sprintf("%q is not an image type", sig.MimeType))
	}
	if len(sig.Data) == 0 {
		return invalid("signature.data", "is empty")
	}
	if len(sig.Data) > MaxSignatureBytes {
		return invalid("signature.data", fmt.Sprintf("exceeds %d bytes", MaxSignatureBytes))
	}
	return nil
}

// ValidateReportDraft checks the period of a report being saved.
func ValidateReportDraft(r domain.Report) error {
	if !r.ReferenceMonth.Valid() {
		return invalid("reference_month", fmt.Sprintf("unknown month %q", r.ReferenceMonth))
	}
	if r.Year <= 0 {
		return invalid("year", "is required")
	}
	return nil
}

// ApplyReportEdit copies the author-editable fields of next onto current.
// Identity, authorship, status, timestamps and coordinator fields are kept.
func ApplyReportEdit(current, next domain.Report) (domain.Report, error) {
	if next.AuthorID != "" && next.AuthorID != current.AuthorID {
		return current, invalid("author_id", "is immutable")
	}
	current.ReferenceMonth = next.ReferenceMonth
	current.Year = next.Year
	current.ExecutiveSummary = next.ExecutiveSummary
	current.PositivePoints = next.PositivePoints
	current.Difficulties = next.Difficulties
	current.Suggestions = next.Suggestions
	current.Opportunities = next.Opportunities
	return current, ValidateReportDraft(current)
}

// ApplyCoordinationFields writes the coordinator-only fields.
func ApplyCoordinationFields(r domain.Report, actor domain.UserProfile, f domain.CoordinationFields) (domain.Report, error) {
	if !CanEditCoordinationFields(actor) {
		return r, forbidden("edit coordination fields")
	}
	r.CoordinatorComments = f.CoordinatorComments
	r.CoordinatorSignature = f.CoordinatorSignature
	r.GeneralExecutiveSummary = f.GeneralExecutiveSummary
	r.ConsolidatedGoals = f.ConsolidatedGoals
	r.InstitutionalObservations = f.InstitutionalObservations
	return r, nil
}

// ValidateRoleAssignment guards the singleton coordination role: only the profile
// whose name matches the reserved coordinator identity may hold it.
func ValidateRoleAssignment(target domain.UserProfile, role domain.AppRole, reservedName string) error {
	if !role.Valid() {
		return invalid("app_role", fmt.Sprintf("unknown role %q", role))
	}
	if role != domain.RoleCoordination {
		return nil
	}
	if strings.TrimSpace(reservedName) == "" || !SameName(target.Name, reservedName) {
		return invalid("app_role", "coordination is reserved for the designated coordinator")
	}
	return nil
}

// SameName compares person names ignoring case and surrounding/inner spacing.
func SameName(a, b string) bool {
	return strings.EqualFold(strings.Join(strings.Fields(a), " "), strings.Join(strings.Fields(b), " "))
}
