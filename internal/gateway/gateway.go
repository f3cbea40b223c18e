// Package gateway is the client's only boundary to the backend. Every
// operation may fail and none is retried.
package gateway

import (
	"context"
	"errors"
	"fmt"

	"museu/internal/domain"
	"museu/internal/export"
	"museu/internal/views"
)

var (
	// ErrUnavailable means the gateway is not connected yet. Callers treat it as
	// "not loadable yet", not as a user-facing failure.
	ErrUnavailable = errors.New("gateway unavailable")
	// ErrNotFound is matched by RemoteErrors for missing records.
	ErrNotFound = errors.New("not found")
)

// RemoteError is a rejected operation or a transport failure.
type RemoteError struct {
	Op         string
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Err        error
}

func (e *RemoteError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (%d %s)", e.Op, e.Message, e.StatusCode, e.Code)
	}
	return fmt.Sprintf("%s: status %d", e.Op, e.StatusCode)
}

func (e *RemoteError) Unwrap() error { return e.Err }

func (e *RemoteError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == 404
}

// IsNotFound reports whether err is a not-found failure.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// ProfileInput carries the user-editable profile fields.
type ProfileInput struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Team  string `json:"team,omitempty"`
}

// Gateway is the set of remote operations the client core depends on.
type Gateway interface {
	// Ready reports whether calls may be attempted.
	Ready() bool

	OwnProfile(ctx context.Context) (domain.UserProfile, error)
	SaveOwnProfile(ctx context.Context, in ProfileInput) (domain.UserProfile, error)
	RequestApproval(ctx context.Context) (domain.UserProfile, error)
	IsApproved(ctx context.Context) (bool, error)
	ListProfiles(ctx context.Context) ([]domain.UserProfile, error)
	UpdateRole(ctx context.Context, principalID string, role domain.AppRole) (domain.UserProfile, error)
	UpdateProfile(ctx context.Context, principalID string, in ProfileInput) (domain.UserProfile, error)
	DeleteProfile(ctx context.Context, principalID string) error
	SetApproval(ctx context.Context, principalID string, status domain.ApprovalStatus) (domain.UserProfile, error)

	CreateReport(ctx context.Context, r domain.Report) (domain.Report, error)
	GetReport(ctx context.Context, id string) (domain.Report, error)
	ListReports(ctx context.Context) ([]domain.Report, error)
	ReportsForUser(ctx context.Context, principalID string) ([]domain.Report, error)
	UpdateReport(ctx context.Context, r domain.Report) (domain.Report, error)
	DeleteReport(ctx context.Context, id string) error
	SubmitReport(ctx context.Context, id string) (domain.Report, error)
	ReviewReport(ctx context.Context, id string, action domain.ReviewAction, comment string) (domain.Report, error)
	SetReviewStage(ctx context.Context, id string, stage domain.ReportStatus) (domain.Report, error)
	UploadSignature(ctx context.Context, id string, sig domain.Signature) (domain.Report, error)
	UpdateCoordinationFields(ctx context.Context, id string, f domain.CoordinationFields) (domain.Report, error)
	ReportWithActivities(ctx context.Context, id string) (domain.ReportWithActivities, error)

	CreateActivity(ctx context.Context, a domain.Activity) (domain.Activity, error)
	GetActivity(ctx context.Context, id string) (domain.Activity, error)
	ListActivities(ctx context.Context) ([]domain.Activity, error)
	ActivitiesForReport(ctx context.Context, reportID string) ([]domain.Activity, error)
	UpdateActivity(ctx context.Context, a domain.Activity) (domain.Activity, error)
	DeleteActivity(ctx context.Context, id string) error
	SearchActivities(ctx context.Context, name string) ([]domain.Activity, error)

	ListGoals(ctx context.Context) ([]domain.Goal, error)
	AddGoal(ctx context.Context, g domain.Goal) (domain.Goal, error)
	ToggleGoal(ctx context.Context, id string) (domain.Goal, error)

	Dashboard(ctx context.Context, f views.Filter) (views.Dashboard, error)
	TotalAudience(ctx context.Context, q domain.AudienceQuery) (int, error)
	ExportRows(ctx context.Context) ([]export.Row, error)

	// Subscribe streams committed backend events until ctx is done or the
	// connection drops, then closes the channel.
	Subscribe(ctx context.Context) (<-chan domain.Event, error)
}
