package domain

import "time"

type ReportStatus string

const (
	ReportDraft              ReportStatus = "draft"
	ReportSubmitted          ReportStatus = "submitted"
	ReportUnderReview        ReportStatus = "underReview"
	ReportApproved           ReportStatus = "approved"
	ReportAnalysis           ReportStatus = "analysis"
	ReportRequiresAdjustment ReportStatus = "requiresAdjustment"
)

// ReportStatuses lists every report status in lifecycle order.
var ReportStatuses = []ReportStatus{
	ReportDraft, ReportSubmitted, ReportUnderReview, ReportAnalysis, ReportRequiresAdjustment, ReportApproved,
}

func (s ReportStatus) Valid() bool {
	for _, v := range ReportStatuses {
		if v == s {
			return true
		}
	}
	return false
}

type AppRole string

const (
	RoleProfessional   AppRole = "professional"
	RoleCoordinator    AppRole = "coordinator"
	RoleCoordination   AppRole = "coordination"
	RoleAdministration AppRole = "administration"
)

func (r AppRole) Valid() bool {
	switch r {
	case RoleProfessional, RoleCoordinator, RoleCoordination, RoleAdministration:
		return true
	}
	return false
}

type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

func (s ApprovalStatus) Valid() bool {
	return s == ApprovalPending || s == ApprovalApproved || s == ApprovalRejected
}

type Classification string

const (
	ClassRoutine    Classification = "routine"
	ClassExtra      Classification = "extra"
	ClassGoalLinked Classification = "goalLinked"
)

func (c Classification) Valid() bool {
	return c == ClassRoutine || c == ClassExtra || c == ClassGoalLinked
}

type ActivityStatus string

const (
	ActivityNotStarted  ActivityStatus = "notStarted"
	ActivitySubmitted   ActivityStatus = "submitted"
	ActivityCompleted   ActivityStatus = "completed"
	ActivityRescheduled ActivityStatus = "rescheduled"
	ActivityCancelled   ActivityStatus = "cancelled"
)

func (s ActivityStatus) Valid() bool {
	switch s {
	case ActivityNotStarted, ActivitySubmitted, ActivityCompleted, ActivityRescheduled, ActivityCancelled:
		return true
	}
	return false
}

type Signature struct {
	MimeType string `json:"mime_type"`
	Data     []byte `json:"data"`
}

type Report struct {
	ID             string       `json:"id"`
	ReferenceMonth Month        `json:"reference_month"`
	Year           int          `json:"year"`
	AuthorID       string       `json:"author_id"`
	Status         ReportStatus `json:"status" enum:"draft,submitted,underReview,approved,analysis,requiresAdjustment"`

	ExecutiveSummary string `json:"executive_summary,omitempty"`
	PositivePoints   string `json:"positive_points,omitempty"`
	Difficulties     string `json:"difficulties,omitempty"`
	Suggestions      string `json:"suggestions,omitempty"`
	Opportunities    string `json:"opportunities,omitempty"`

	CoordinatorComments       string `json:"coordinator_comments,omitempty"`
	CoordinatorSignature      string `json:"coordinator_signature,omitempty"`
	GeneralExecutiveSummary   string `json:"general_executive_summary,omitempty"`
	ConsolidatedGoals         string `json:"consolidated_goals,omitempty"`
	InstitutionalObservations string `json:"institutional_observations,omitempty"`

	Signature *Signature `json:"signature,omitempty"`

	SubmittedAt *time.Time `json:"submitted_at,omitempty" format:"date-time"`
	ApprovedAt  *time.Time `json:"approved_at,omitempty" format:"date-time"`
	CreatedAt   time.Time  `json:"created_at" format:"date-time"`
	UpdatedAt   time.Time  `json:"updated_at" format:"date-time"`
}

// CoordinationFields are the report fields only coordination and administration write.
type CoordinationFields struct {
	CoordinatorComments       string `json:"coordinator_comments"`
	CoordinatorSignature      string `json:"coordinator_signature"`
	GeneralExecutiveSummary   string `json:"general_executive_summary"`
	ConsolidatedGoals         string `json:"consolidated_goals"`
	InstitutionalObservations string `json:"institutional_observations"`
}

type Audience struct {
	Total    int `json:"total"`
	Children int `json:"children"`
	Youth    int `json:"youth"`
	Adults   int `json:"adults"`
	Elderly  int `json:"elderly"`
	PCD      int `json:"pcd"`
}

// SubTotal is the sum of the five sub-populations.
func (a Audience) SubTotal() int {
	return a.Children + a.Youth + a.Adults + a.Elderly + a.PCD
}

type Activity struct {
	ID               string `json:"id"`
	ReportID         string `json:"report_id"`
	LinkedActivityID string `json:"linked_activity_id,omitempty"`
	Name             string `json:"name"`
	Description      string `json:"description,omitempty"`
	Date             string `json:"date,omitempty"`
	Museum           string `json:"museum,omitempty"`

	Classification      Classification `json:"classification" enum:"routine,extra,goalLinked"`
	GoalNumber          string         `json:"goal_number,omitempty"`
	GoalDescription     string         `json:"goal_description,omitempty"`
	QuantitativeGoal    *int           `json:"quantitative_goal,omitempty"`
	AchievedResult      *int           `json:"achieved_result,omitempty"`
	ContributionPercent *float64       `json:"contribution_percent,omitempty"`
	GoalStatus          string         `json:"goal_status,omitempty"`

	Audience Audience `json:"audience"`

	Status             ActivityStatus `json:"status" enum:"notStarted,submitted,completed,rescheduled,cancelled"`
	CancellationReason string         `json:"cancellation_reason,omitempty"`

	Evidences []string `json:"evidences,omitempty"`
	Products  []string `json:"products,omitempty"`
	Files     []string `json:"files,omitempty"`

	CreatedAt time.Time `json:"created_at" format:"date-time"`
	UpdatedAt time.Time `json:"updated_at" format:"date-time"`
}

type ReportWithActivities struct {
	Report     Report     `json:"report"`
	Activities []Activity `json:"activities"`
}

type UserProfile struct {
	PrincipalID    string         `json:"principal_id"`
	Name           string         `json:"name"`
	Email          string         `json:"email,omitempty"`
	AppRole        AppRole        `json:"app_role" enum:"professional,coordinator,coordination,administration"`
	ApprovalStatus ApprovalStatus `json:"approval_status" enum:"pending,approved,rejected"`
	Team           string         `json:"team,omitempty"`
	CreatedAt      time.Time      `json:"created_at" format:"date-time"`
	UpdatedAt      time.Time      `json:"updated_at" format:"date-time"`
}

type Goal struct {
	ID          string    `json:"id"`
	Number      string    `json:"number"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Target      *int      `json:"target,omitempty"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"-"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// ReviewAction is the coordinator decision on a submitted report.
type ReviewAction string

const (
	ReviewApprove ReviewAction = "approve"
	ReviewReturn  ReviewAction = "returnReport"
)
