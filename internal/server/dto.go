package server

import (
	"museu/internal/domain"
	"museu/internal/engine"
)

// Request payloads

type ProfileRequest struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Team  string `json:"team,omitempty"`
}

func (r ProfileRequest) input() engine.ProfileInput {
	return engine.ProfileInput{Name: r.Name, Email: r.Email, Team: r.Team}
}

type RoleRequest struct {
	Role string `json:"role" enum:"professional,coordinator,coordination,administration"`
}

type ApprovalRequest struct {
	Status string `json:"status" enum:"approved,rejected"`
}

type APIKeyRequest struct {
	Name string `json:"name,omitempty"`
}

type DevLoginRequest struct {
	PrincipalID string `json:"principal_id"`
	Name        string `json:"name,omitempty"`
}

type ReportRequest struct {
	ReferenceMonth   string `json:"reference_month" enum:"march,april,may,june,july,august,september,october,november,december"`
	Year             int    `json:"year"`
	ExecutiveSummary string `json:"executive_summary,omitempty"`
	PositivePoints   string `json:"positive_points,omitempty"`
	Difficulties     string `json:"difficulties,omitempty"`
	Suggestions      string `json:"suggestions,omitempty"`
	Opportunities    string `json:"opportunities,omitempty"`
}

func (r ReportRequest) report(id string) domain.Report {
	return domain.Report{
		ID:               id,
		ReferenceMonth:   domain.Month(r.ReferenceMonth),
		Year:             r.Year,
		ExecutiveSummary: r.ExecutiveSummary,
		PositivePoints:   r.PositivePoints,
		Difficulties:     r.Difficulties,
		Suggestions:      r.Suggestions,
		Opportunities:    r.Opportunities,
	}
}

type ReviewRequest struct {
	Action  string `json:"action" enum:"approve,returnReport"`
	Comment string `json:"comment,omitempty"`
}

type StageRequest struct {
	Stage string `json:"stage" enum:"underReview,analysis"`
}

type SignatureRequest struct {
	MimeType string `json:"mime_type"`
	Data     []byte `json:"data" doc:"base64 encoded image"`
}

type CoordinationRequest struct {
	CoordinatorComments       string `json:"coordinator_comments,omitempty"`
	CoordinatorSignature      string `json:"coordinator_signature,omitempty"`
	GeneralExecutiveSummary   string `json:"general_executive_summary,omitempty"`
	ConsolidatedGoals         string `json:"consolidated_goals,omitempty"`
	InstitutionalObservations string `json:"institutional_observations,omitempty"`
}

func (r CoordinationRequest) fields() domain.CoordinationFields {
	return domain.CoordinationFields(r)
}

type AudienceRequest struct {
	Total    int `json:"total,omitempty"`
	Children int `json:"children,omitempty"`
	Youth    int `json:"youth,omitempty"`
	Adults   int `json:"adults,omitempty"`
	Elderly  int `json:"elderly,omitempty"`
	PCD      int `json:"pcd,omitempty"`
}

type ActivityRequest struct {
	ReportID            string           `json:"report_id,omitempty"`
	LinkedActivityID    string           `json:"linked_activity_id,omitempty"`
	Name                string           `json:"name"`
	Description         string           `json:"description,omitempty"`
	Date                string           `json:"date,omitempty"`
	Museum              string           `json:"museum,omitempty"`
	Classification      string           `json:"classification,omitempty" enum:"routine,extra,goalLinked"`
	GoalNumber          string           `json:"goal_number,omitempty"`
	GoalDescription     string           `json:"goal_description,omitempty"`
	QuantitativeGoal    *int             `json:"quantitative_goal,omitempty"`
	AchievedResult      *int             `json:"achieved_result,omitempty"`
	ContributionPercent *float64         `json:"contribution_percent,omitempty"`
	GoalStatus          string           `json:"goal_status,omitempty"`
	Audience            *AudienceRequest `json:"audience,omitempty"`
	Status              string           `json:"status,omitempty" enum:"notStarted,submitted,completed,rescheduled,cancelled"`
	CancellationReason  string           `json:"cancellation_reason,omitempty"`
	Evidences           []string         `json:"evidences,omitempty"`
	Products            []string         `json:"products,omitempty"`
	Files               []string         `json:"files,omitempty"`
}

func (r ActivityRequest) activity(id string) domain.Activity {
	a := domain.Activity{
		ID:                  id,
		ReportID:            r.ReportID,
		LinkedActivityID:    r.LinkedActivityID,
		Name:                r.Name,
		Description:         r.Description,
		Date:                r.Date,
		Museum:              r.Museum,
		Classification:      domain.Classification(r.Classification),
		GoalNumber:          r.GoalNumber,
		GoalDescription:     r.GoalDescription,
		QuantitativeGoal:    r.QuantitativeGoal,
		AchievedResult:      r.AchievedResult,
		ContributionPercent: r.ContributionPercent,
		GoalStatus:          r.GoalStatus,
		Status:              domain.ActivityStatus(r.Status),
		CancellationReason:  r.CancellationReason,
		Evidences:           r.Evidences,
		Products:            r.Products,
		Files:               r.Files,
	}
	if r.Audience != nil {
		a.Audience = domain.Audience(*r.Audience)
	}
	return a
}

type GoalRequest struct {
	Number      string `json:"number"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Target      *int   `json:"target,omitempty"`
}

// Response payloads

type ApprovedResponse struct {
	Approved bool `json:"approved"`
}

type APIKeyResponse struct {
	Key    string        `json:"key" doc:"shown once"`
	APIKey domain.APIKey `json:"api_key"`
}

type TokenResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expires_in" doc:"seconds"`
}

type AudienceResponse struct {
	Query map[string]string `json:"query"`
	Total int               `json:"total"`
}

type DeletedResponse struct {
	ID      string `json:"id"`
	Deleted bool   `json:"deleted"`
}
