package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"

	"museu/internal/domain"
	"museu/internal/export"
	"museu/internal/views"
)

// HTTP talks to the museu server API.
type HTTP struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	// HTTPClient carries no timeout of its own; operations end when ctx does.
	HTTPClient *http.Client
}

var _ Gateway = (*HTTP)(nil)

// New creates a client for the server at baseURL.
func New(baseURL string) *HTTP {
	return &HTTP{
		BaseURL:  baseURL,
		BasePath: "/v0",
	}
}

// Ready reports whether a server address and credentials are set.
func (c *HTTP) Ready() bool {
	return c != nil && strings.TrimSpace(c.BaseURL) != "" && (c.BearerToken != "" || c.APIKey != "")
}

// DevLogin asks a server running with dev login enabled for a token and uses it.
func (c *HTTP) DevLogin(ctx context.Context, principalID, name string) (string, error) {
	if strings.TrimSpace(c.BaseURL) == "" {
		return "", ErrUnavailable
	}
	var resp struct {
		Token string `json:"token"`
	}
	body := map[string]any{"principal_id": principalID}
	if name != "" {
		body["name"] = name
	}
	if err := c.send(ctx, "dev-login", http.MethodPost, "auth/dev/login", nil, body, &resp); err != nil {
		return "", err
	}
	c.BearerToken = resp.Token
	return resp.Token, nil
}

// CreateAPIKey mints a key for the current user. The raw key is returned once.
func (c *HTTP) CreateAPIKey(ctx context.Context, name string) (string, domain.APIKey, error) {
	var resp struct {
		Key    string        `json:"key"`
		APIKey domain.APIKey `json:"api_key"`
	}
	err := c.do(ctx, "create-api-key", http.MethodPost, "me/api-keys", nil, map[string]any{"name": name}, &resp)
	return resp.Key, resp.APIKey, err
}

func (c *HTTP) ListAPIKeys(ctx context.Context) ([]domain.APIKey, error) {
	var keys []domain.APIKey
	err := c.do(ctx, "list-api-keys", http.MethodGet, "me/api-keys", nil, nil, &keys)
	return keys, err
}

func (c *HTTP) RevokeAPIKey(ctx context.Context, id string) error {
	return c.do(ctx, "revoke-api-key", http.MethodDelete, "me/api-keys/"+url.PathEscape(id), nil, nil, nil)
}

// EventQuery filters the audit log.
type EventQuery struct {
	Type       string
	EntityKind string
	EntityID   string
	Cursor     int64
	Limit      int
}

// Events lists audit events newest first.
func (c *HTTP) Events(ctx context.Context, q EventQuery) ([]domain.Event, error) {
	params := url.Values{}
	setParam(params, "type", q.Type)
	setParam(params, "entity_kind", q.EntityKind)
	setParam(params, "entity_id", q.EntityID)
	if q.Cursor > 0 {
		params.Set("cursor", strconv.FormatInt(q.Cursor, 10))
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	var resp []domain.Event
	err := c.do(ctx, "list-events", http.MethodGet, "events", params, nil, &resp)
	return resp, err
}

func setParam(v url.Values, key, value string) {
	if value != "" {
		v.Set(key, value)
	}
}

// Profiles

func (c *HTTP) OwnProfile(ctx context.Context) (domain.UserProfile, error) {
	var resp domain.UserProfile
	err := c.do(ctx, "get-own-profile", http.MethodGet, "me", nil, nil, &resp)
	return resp, err
}

func (c *HTTP) SaveOwnProfile(ctx context.Context, in ProfileInput) (domain.UserProfile, error) {
	var resp domain.UserProfile
	err := c.do(ctx, "save-own-profile", http.MethodPut, "me", nil, in, &resp)
	return resp, err
}

func (c *HTTP) RequestApproval(ctx context.Context) (domain.UserProfile, error) {
	var resp domain.UserProfile
	err := c.do(ctx, "request-approval", http.MethodPost, "me/approval-request", nil, nil, &resp)
	return resp, err
}

func (c *HTTP) IsApproved(ctx context.Context) (bool, error) {
	var resp struct {
		Approved bool `json:"approved"`
	}
	err := c.do(ctx, "is-approved", http.MethodGet, "me/approved", nil, nil, &resp)
	return resp.Approved, err
}

func (c *HTTP) ListProfiles(ctx context.Context) ([]domain.UserProfile, error) {
	var resp []domain.UserProfile
	err := c.do(ctx, "list-profiles", http.MethodGet, "profiles", nil, nil, &resp)
	return resp, err
}

func (c *HTTP) UpdateRole(ctx context.Context, principalID string, role domain.AppRole) (domain.UserProfile, error) {
	var resp domain.UserProfile
	err := c.do(ctx, "update-role", http.MethodPut, "profiles/"+url.PathEscape(principalID)+"/role", nil, map[string]any{"role": role}, &resp)
	return resp, err
}

func (c *HTTP) UpdateProfile(ctx context.Context, principalID string, in ProfileInput) (domain.UserProfile, error) {
	var resp domain.UserProfile
	err := c.do(ctx, "update-profile", http.MethodPut, "profiles/"+url.PathEscape(principalID), nil, in, &resp)
	return resp, err
}

func (c *HTTP) DeleteProfile(ctx context.Context, principalID string) error {
	return c.do(ctx, "delete-profile", http.MethodDelete, "profiles/"+url.PathEscape(principalID), nil, nil, nil)
}

func (c *HTTP) SetApproval(ctx context.Context, principalID string, status domain.ApprovalStatus) (domain.UserProfile, error) {
	var resp domain.UserProfile
	err := c.do(ctx, "set-approval", http.MethodPut, "profiles/"+url.PathEscape(principalID)+"/approval", nil, map[string]any{"status": status}, &resp)
	return resp, err
}

// Reports

func reportBody(r domain.Report) map[string]any {
	body := map[string]any{
		"reference_month": r.ReferenceMonth,
		"year":            r.Year,
	}
	for k, v := range map[string]string{
		"executive_summary": r.ExecutiveSummary,
		"positive_points":   r.PositivePoints,
		"difficulties":      r.Difficulties,
		"suggestions":       r.Suggestions,
		"opportunities":     r.Opportunities,
	} {
		if v != "" {
			body[k] = v
		}
	}
	return body
}

func reportPath(id string, rest ...string) string {
	return path.Join(append([]string{"reports", url.PathEscape(id)}, rest...)...)
}

func (c *HTTP) CreateReport(ctx context.Context, r domain.Report) (domain.Report, error) {
	var resp domain.Report
	err := c.do(ctx, "create-report", http.MethodPost, "reports", nil, reportBody(r), &resp)
	return resp, err
}

func (c *HTTP) GetReport(ctx context.Context, id string) (domain.Report, error) {
	var resp domain.Report
	err := c.do(ctx, "get-report", http.MethodGet, reportPath(id), nil, nil, &resp)
	return resp, err
}

func (c *HTTP) ListReports(ctx context.Context) ([]domain.Report, error) {
	var resp []domain.Report
	err := c.do(ctx, "list-reports", http.MethodGet, "reports", nil, nil, &resp)
	return resp, err
}

func (c *HTTP) ReportsForUser(ctx context.Context, principalID string) ([]domain.Report, error) {
	var resp []domain.Report
	err := c.do(ctx, "list-user-reports", http.MethodGet, "users/"+url.PathEscape(principalID)+"/reports", nil, nil, &resp)
	return resp, err
}

func (c *HTTP) UpdateReport(ctx context.Context, r domain.Report) (domain.Report, error) {
	var resp domain.Report
	err := c.do(ctx, "update-report", http.MethodPut, reportPath(r.ID), nil, reportBody(r), &resp)
	return resp, err
}

func (c *HTTP) DeleteReport(ctx context.Context, id string) error {
	return c.do(ctx, "delete-report", http.MethodDelete, reportPath(id), nil, nil, nil)
}

func (c *HTTP) SubmitReport(ctx context.Context, id string) (domain.Report, error) {
	var resp domain.Report
	err := c.do(ctx, "submit-report", http.MethodPost, reportPath(id, "submit"), nil, nil, &resp)
	return resp, err
}

func (c *HTTP) ReviewReport(ctx context.Context, id string, action domain.ReviewAction, comment string) (domain.Report, error) {
	body := map[string]any{"action": action}
	if comment != "" {
		body["comment"] = comment
	}
	var resp domain.Report
	err := c.do(ctx, "review-report", http.MethodPost, reportPath(id, "review"), nil, body, &resp)
	return resp, err
}

func (c *HTTP) SetReviewStage(ctx context.Context, id string, stage domain.ReportStatus) (domain.Report, error) {
	var resp domain.Report
	err := c.do(ctx, "stage-report", http.MethodPost, reportPath(id, "stage"), nil, map[string]any{"stage": stage}, &resp)
	return resp, err
}

func (c *HTTP) UploadSignature(ctx context.Context, id string, sig domain.Signature) (domain.Report, error) {
	var resp domain.Report
	err := c.do(ctx, "upload-signature", http.MethodPut, reportPath(id, "signature"), nil, sig, &resp)
	return resp, err
}

func (c *HTTP) UpdateCoordinationFields(ctx context.Context, id string, f domain.CoordinationFields) (domain.Report, error) {
	var resp domain.Report
	err := c.do(ctx, "update-coordination-fields", http.MethodPut, reportPath(id, "coordination"), nil, f, &resp)
	return resp, err
}

func (c *HTTP) ReportWithActivities(ctx context.Context, id string) (domain.ReportWithActivities, error) {
	var resp domain.ReportWithActivities
	err := c.do(ctx, "get-report-with-activities", http.MethodGet, reportPath(id, "full"), nil, nil, &resp)
	return resp, err
}

// Activities

// activityBody drops server-owned fields (id and timestamps).
func activityBody(a domain.Activity) map[string]any {
	body := map[string]any{"name": a.Name}
	for k, v := range map[string]string{
		"report_id":           a.ReportID,
		"linked_activity_id":  a.LinkedActivityID,
		"description":         a.Description,
		"date":                a.Date,
		"museum":              a.Museum,
		"classification":      string(a.Classification),
		"goal_number":         a.GoalNumber,
		"goal_description":    a.GoalDescription,
		"goal_status":         a.GoalStatus,
		"status":              string(a.Status),
		"cancellation_reason": a.CancellationReason,
	} {
		if v != "" {
			body[k] = v
		}
	}
	if a.QuantitativeGoal != nil {
		body["quantitative_goal"] = *a.QuantitativeGoal
	}
	if a.AchievedResult != nil {
		body["achieved_result"] = *a.AchievedResult
	}
	if a.ContributionPercent != nil {
		body["contribution_percent"] = *a.ContributionPercent
	}
	if a.Audience != (domain.Audience{}) {
		body["audience"] = a.Audience
	}
	for k, v := range map[string][]string{"evidences": a.Evidences, "products": a.Products, "files": a.Files} {
		if len(v) > 0 {
			body[k] = v
		}
	}
	return body
}

func (c *HTTP) CreateActivity(ctx context.Context, a domain.Activity) (domain.Activity, error) {
	var resp domain.Activity
	err := c.do(ctx, "create-activity", http.MethodPost, "activities", nil, activityBody(a), &resp)
	return resp, err
}

func (c *HTTP) GetActivity(ctx context.Context, id string) (domain.Activity, error) {
	var resp domain.Activity
	err := c.do(ctx, "get-activity", http.MethodGet, "activities/"+url.PathEscape(id), nil, nil, &resp)
	return resp, err
}

func (c *HTTP) ListActivities(ctx context.Context) ([]domain.Activity, error) {
	var resp []domain.Activity
	err := c.do(ctx, "list-activities", http.MethodGet, "activities", nil, nil, &resp)
	return resp, err
}

func (c *HTTP) ActivitiesForReport(ctx context.Context, reportID string) ([]domain.Activity, error) {
	var resp []domain.Activity
	err := c.do(ctx, "list-report-activities", http.MethodGet, reportPath(reportID, "activities"), nil, nil, &resp)
	return resp, err
}

func (c *HTTP) UpdateActivity(ctx context.Context, a domain.Activity) (domain.Activity, error) {
	var resp domain.Activity
	err := c.do(ctx, "update-activity", http.MethodPut, "activities/"+url.PathEscape(a.ID), nil, activityBody(a), &resp)
	return resp, err
}

func (c *HTTP) DeleteActivity(ctx context.Context, id string) error {
	return c.do(ctx, "delete-activity", http.MethodDelete, "activities/"+url.PathEscape(id), nil, nil, nil)
}

func (c *HTTP) SearchActivities(ctx context.Context, name string) ([]domain.Activity, error) {
	var resp []domain.Activity
	err := c.do(ctx, "search-activities", http.MethodGet, "activities/search", url.Values{"q": {name}}, nil, &resp)
	return resp, err
}

// Goals

func (c *HTTP) ListGoals(ctx context.Context) ([]domain.Goal, error) {
	var resp []domain.Goal
	err := c.do(ctx, "list-goals", http.MethodGet, "goals", nil, nil, &resp)
	return resp, err
}

func (c *HTTP) AddGoal(ctx context.Context, g domain.Goal) (domain.Goal, error) {
	body := map[string]any{"number": g.Number, "name": g.Name}
	if g.Description != "" {
		body["description"] = g.Description
	}
	if g.Target != nil {
		body["target"] = *g.Target
	}
	var resp domain.Goal
	err := c.do(ctx, "add-goal", http.MethodPost, "goals", nil, body, &resp)
	return resp, err
}

func (c *HTTP) ToggleGoal(ctx context.Context, id string) (domain.Goal, error) {
	var resp domain.Goal
	err := c.do(ctx, "toggle-goal", http.MethodPost, "goals/"+url.PathEscape(id)+"/toggle", nil, nil, &resp)
	return resp, err
}

// Insights

func toValues(m map[string]string) url.Values {
	v := url.Values{}
	for k, s := range m {
		v.Set(k, s)
	}
	return v
}

func (c *HTTP) Dashboard(ctx context.Context, f views.Filter) (views.Dashboard, error) {
	var resp views.Dashboard
	err := c.do(ctx, "dashboard", http.MethodGet, "dashboard", toValues(f.Params()), nil, &resp)
	return resp, err
}

func (c *HTTP) TotalAudience(ctx context.Context, q domain.AudienceQuery) (int, error) {
	var resp struct {
		Total int `json:"total"`
	}
	err := c.do(ctx, "total-audience", http.MethodGet, "audience", toValues(domain.AudienceQueryParams(q)), nil, &resp)
	return resp.Total, err
}

func (c *HTTP) ExportRows(ctx context.Context) ([]export.Row, error) {
	var resp []export.Row
	err := c.do(ctx, "export-rows", http.MethodGet, "export", nil, nil, &resp)
	return resp, err
}

// transport

type errorEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func (c *HTTP) do(ctx context.Context, op, method, endpoint string, query url.Values, body any, out any) error {
	if !c.Ready() {
		return ErrUnavailable
	}
	return c.send(ctx, op, method, endpoint, query, body, out)
}

func (c *HTTP) send(ctx context.Context, op, method, endpoint string, query url.Values, body any, out any) error {
	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	target := c.endpoint(endpoint)
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return &RemoteError{Op: op, Err: err}
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return &RemoteError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := client.Do(req)
	if err != nil {
		return &RemoteError{Op: op, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		rerr := &RemoteError{Op: op, StatusCode: resp.StatusCode}
		var env errorEnvelope
		if json.Unmarshal(data, &env) == nil && env.Error.Code != "" {
			rerr.Code = env.Error.Code
			rerr.Message = env.Error.Message
			rerr.Details = env.Error.Details
		} else {
			rerr.Message = strings.TrimSpace(string(data))
		}
		return rerr
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &RemoteError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
		}
	}
	return nil
}

func (c *HTTP) endpoint(p string) string {
	base := c.BasePath
	if base == "" {
		base = "/v0"
	}
	return strings.TrimRight(c.BaseURL, "/") + path.Join("/", base, p)
}
