// Package session is the client's data layer: typed queries and mutations over
// a gateway and a per-session cache. Mutations apply the lifecycle rules locally
// before any remote call and declare the query keys they make stale.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"museu/internal/cache"
	"museu/internal/config"
	"museu/internal/domain"
	"museu/internal/export"
	"museu/internal/gateway"
	"museu/internal/lifecycle"
	"museu/internal/views"
)

// Query key roots.
const (
	OwnProfileKey           = "ownProfile"
	IsApprovedKey           = "isApproved"
	ProfilesKey             = "profiles"
	ReportKey               = "report"
	AllReportsKey           = "allReports"
	UserReportsKey          = "userReports"
	ReportActivitiesKey     = "reportActivities"
	ReportWithActivitiesKey = "reportWithActivities"
	ActivityKey             = "activity"
	AllActivitiesKey        = "allActivities"
	ActivitySearchKey       = "activitySearch"
	GoalsKey                = "goals"
	DashboardKey            = "dashboard"
	AudienceKey             = "audience"
	ExportKey               = "export"
)

// ErrFeedClosed is returned by Follow when the live feed drops.
var ErrFeedClosed = errors.New("live feed closed")

type Session struct {
	gw     gateway.Gateway
	store  cache.Client
	cfg    *config.Config
	logger *log.Logger
	now    func() time.Time
}

// New binds a gateway to a session-scoped cache. cfg may be nil, in which case
// museum and first-year checks are left to the server.
func New(gw gateway.Gateway, store cache.Client, cfg *config.Config, logger *log.Logger) *Session {
	if logger == nil {
		logger = log.Default()
	}
	return &Session{gw: gw, store: store, cfg: cfg, logger: logger, now: time.Now}
}

// NewStore returns a cache tuned for a session: not-found answers are terminal
// until invalidated.
func NewStore(cfg *config.Config, logger *log.Logger) *cache.Store {
	stale := 30 * time.Second
	if cfg != nil {
		stale = cfg.Cache.StaleTime.Duration
	}
	s := cache.New(stale, logger)
	s.Terminal = gateway.IsNotFound
	return s
}

// Login loads the acting profile.
func (s *Session) Login(ctx context.Context) (domain.UserProfile, error) {
	if !s.gw.Ready() {
		return domain.UserProfile{}, gateway.ErrUnavailable
	}
	p, _, err := s.OwnProfile(ctx)
	return p, err
}

// Logout drops every cached query.
func (s *Session) Logout() {
	s.store.Clear()
}

func (s *Session) opts(params ...string) cache.Options {
	disabled := !s.gw.Ready()
	for _, p := range params {
		if strings.TrimSpace(p) == "" {
			disabled = true
		}
	}
	return cache.Options{Disabled: disabled}
}

func paramKey(params map[string]string) string {
	v := url.Values{}
	for k, val := range params {
		v.Set(k, val)
	}
	return v.Encode()
}

func (s *Session) OwnProfile(ctx context.Context) (domain.UserProfile, cache.State, error) {
	return cache.Get(ctx, s.store, cache.K(OwnProfileKey), s.gw.OwnProfile, s.opts())
}

func (s *Session) IsApproved(ctx context.Context) (bool, cache.State, error) {
	return cache.Get(ctx, s.store, cache.K(IsApprovedKey), s.gw.IsApproved, s.opts())
}

func (s *Session) Profiles(ctx context.Context) ([]domain.UserProfile, cache.State, error) {
	return cache.Get(ctx, s.store, cache.K(ProfilesKey), s.gw.ListProfiles, s.opts())
}

func (s *Session) Report(ctx context.Context, id string) (domain.Report, cache.State, error) {
	return cache.Get(ctx, s.store, cache.K(ReportKey, id), func(ctx context.Context) (domain.Report, error) {
		return s.gw.GetReport(ctx, id)
	}, s.opts(id))
}

func (s *Session) AllReports(ctx context.Context) ([]domain.Report, cache.State, error) {
	return cache.Get(ctx, s.store, cache.K(AllReportsKey), s.gw.ListReports, s.opts())
}

func (s *Session) ReportsForUser(ctx context.Context, principalID string) ([]domain.Report, cache.State, error) {
	return cache.Get(ctx, s.store, cache.K(UserReportsKey, principalID), func(ctx context.Context) ([]domain.Report, error) {
		return s.gw.ReportsForUser(ctx, principalID)
	}, s.opts(principalID))
}

func (s *Session) ReportActivities(ctx context.Context, reportID string) ([]domain.Activity, cache.State, error) {
	return cache.Get(ctx, s.store, cache.K(ReportActivitiesKey, reportID), func(ctx context.Context) ([]domain.Activity, error) {
		return s.gw.ActivitiesForReport(ctx, reportID)
	}, s.opts(reportID))
}

func (s *Session) ReportWithActivities(ctx context.Context, reportID string) (domain.ReportWithActivities, cache.State, error) {
	return cache.Get(ctx, s.store, cache.K(ReportWithActivitiesKey, reportID), func(ctx context.Context) (domain.ReportWithActivities, error) {
		return s.gw.ReportWithActivities(ctx, reportID)
	}, s.opts(reportID))
}

func (s *Session) Activity(ctx context.Context, id string) (domain.Activity, cache.State, error) {
	return cache.Get(ctx, s.store, cache.K(ActivityKey, id), func(ctx context.Context) (domain.Activity, error) {
		return s.gw.GetActivity(ctx, id)
	}, s.opts(id))
}

func (s *Session) AllActivities(ctx context.Context) ([]domain.Activity, cache.State, error) {
	return cache.Get(ctx, s.store, cache.K(AllActivitiesKey), s.gw.ListActivities, s.opts())
}

// SearchActivities looks activities up by name, for linking. An empty name
// disables the query.
func (s *Session) SearchActivities(ctx context.Context, name string) ([]domain.Activity, cache.State, error) {
	name = strings.TrimSpace(name)
	return cache.Get(ctx, s.store, cache.K(ActivitySearchKey, name), func(ctx context.Context) ([]domain.Activity, error) {
		return s.gw.SearchActivities(ctx, name)
	}, s.opts(name))
}

func (s *Session) Goals(ctx context.Context) ([]domain.Goal, cache.State, error) {
	return cache.Get(ctx, s.store, cache.K(GoalsKey), s.gw.ListGoals, s.opts())
}

func (s *Session) Dashboard(ctx context.Context, f views.Filter) (views.Dashboard, cache.State, error) {
	return cache.Get(ctx, s.store, cache.K(DashboardKey, paramKey(f.Params())), func(ctx context.Context) (views.Dashboard, error) {
		return s.gw.Dashboard(ctx, f)
	}, s.opts())
}

// WatchDashboard keeps the dashboard for f loaded. Invalidations, including the
// ones Follow applies, reload it and push the new state to the observer.
func (s *Session) WatchDashboard(f views.Filter) *cache.Observer {
	return s.store.Watch(cache.K(DashboardKey, paramKey(f.Params())), func(ctx context.Context) (any, error) {
		return s.gw.Dashboard(ctx, f)
	}, s.opts())
}

// TotalAudience is disabled until a query variant is chosen.
func (s *Session) TotalAudience(ctx context.Context, q domain.AudienceQuery) (int, cache.State, error) {
	if q == nil {
		return 0, cache.State{Key: cache.K(AudienceKey), Status: cache.StatusIdle}, nil
	}
	return cache.Get(ctx, s.store, cache.K(AudienceKey, paramKey(domain.AudienceQueryParams(q))), func(ctx context.Context) (int, error) {
		return s.gw.TotalAudience(ctx, q)
	}, s.opts())
}

func (s *Session) ExportRows(ctx context.Context) ([]export.Row, cache.State, error) {
	return cache.Get(ctx, s.store, cache.K(ExportKey), s.gw.ExportRows, s.opts())
}

// actor is the acting profile, required by every mutation.
func (s *Session) actor(ctx context.Context) (domain.UserProfile, error) {
	if !s.gw.Ready() {
		return domain.UserProfile{}, gateway.ErrUnavailable
	}
	p, _, err := s.OwnProfile(ctx)
	return p, err
}

func (s *Session) manager(ctx context.Context, action string) (domain.UserProfile, error) {
	me, err := s.actor(ctx)
	if err != nil {
		return me, err
	}
	if !lifecycle.CanManageUsers(me) {
		return me, &lifecycle.ForbiddenError{Action: action}
	}
	return me, nil
}

func invalid(field, reason string) error {
	return &lifecycle.ValidationError{Field: field, Reason: reason}
}

func reportKeys(id string) []cache.Key {
	keys := []cache.Key{
		cache.K(AllReportsKey), cache.K(UserReportsKey),
		cache.K(DashboardKey), cache.K(AudienceKey), cache.K(ExportKey),
	}
	if id != "" {
		keys = append(keys, cache.K(ReportKey, id), cache.K(ReportWithActivitiesKey, id))
	}
	return keys
}

func activityKeys(reportID, id string) []cache.Key {
	keys := []cache.Key{
		cache.K(AllActivitiesKey), cache.K(ActivitySearchKey),
		cache.K(DashboardKey), cache.K(AudienceKey), cache.K(ExportKey),
	}
	if reportID != "" {
		keys = append(keys, cache.K(ReportActivitiesKey, reportID), cache.K(ReportWithActivitiesKey, reportID))
	}
	if id != "" {
		keys = append(keys, cache.K(ActivityKey, id))
	}
	return keys
}

func profileKeys() []cache.Key {
	return []cache.Key{cache.K(OwnProfileKey), cache.K(IsApprovedKey), cache.K(ProfilesKey), cache.K(ExportKey)}
}

// SaveReport creates a draft when r.ID is empty, otherwise updates the
// author-editable fields.
func (s *Session) SaveReport(ctx context.Context, r domain.Report) (domain.Report, error) {
	me, err := s.actor(ctx)
	if err != nil {
		return domain.Report{}, err
	}
	if err := lifecycle.ValidateReportDraft(r); err != nil {
		return domain.Report{}, err
	}
	if s.cfg != nil && r.Year < s.cfg.Reporting.FirstYear {
		return domain.Report{}, invalid("year", fmt.Sprintf("must be %d or later", s.cfg.Reporting.FirstYear))
	}
	author := me.PrincipalID
	if r.ID != "" {
		current, _, err := s.Report(ctx, r.ID)
		if err != nil {
			return domain.Report{}, err
		}
		if !lifecycle.IsReportEditable(&current, me) {
			return domain.Report{}, &lifecycle.ForbiddenError{Action: fmt.Sprintf("edit report in status %s", current.Status)}
		}
		if _, err := lifecycle.ApplyReportEdit(current, r); err != nil {
			return domain.Report{}, err
		}
		author = current.AuthorID
	}
	if err := s.checkDuplicatePeriod(ctx, author, r); err != nil {
		return domain.Report{}, err
	}
	saved, err := cache.Do(ctx, s.store, func(ctx context.Context) (domain.Report, error) {
		if r.ID == "" {
			return s.gw.CreateReport(ctx, r)
		}
		return s.gw.UpdateReport(ctx, r)
	}, reportKeys(r.ID)...)
	if err == nil && r.ID == "" {
		// the id exists only now; a not-found cached for it is obsolete
		s.store.Invalidate(cache.K(ReportKey, saved.ID), cache.K(ReportWithActivitiesKey, saved.ID))
	}
	return saved, err
}

// checkDuplicatePeriod rejects a second report by the same author for one month.
// It only sees reports already visible to the actor; the server has the final say.
func (s *Session) checkDuplicatePeriod(ctx context.Context, author string, r domain.Report) error {
	mine, _, err := s.ReportsForUser(ctx, author)
	if err != nil {
		// Not decisive; leave it to the server.
		return nil
	}
	for _, other := range mine {
		if other.ID != r.ID && other.ReferenceMonth == r.ReferenceMonth && other.Year == r.Year {
			return invalid("reference_month", fmt.Sprintf("a report for %s/%d already exists (%s)", r.ReferenceMonth, r.Year, other.ID))
		}
	}
	return nil
}

func (s *Session) DeleteReport(ctx context.Context, id string) error {
	me, err := s.actor(ctx)
	if err != nil {
		return err
	}
	current, _, err := s.Report(ctx, id)
	if err != nil {
		return err
	}
	if !lifecycle.CanDelete(&current, me) {
		return &lifecycle.ForbiddenError{Action: fmt.Sprintf("delete report in status %s", current.Status)}
	}
	keys := append(reportKeys(id), activityKeys(id, "")...)
	_, err = cache.Do(ctx, s.store, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.gw.DeleteReport(ctx, id)
	}, keys...)
	return err
}

// SubmitReport checks editability, content and every activity's audience
// before sending.
func (s *Session) SubmitReport(ctx context.Context, id string) (domain.Report, error) {
	me, err := s.actor(ctx)
	if err != nil {
		return domain.Report{}, err
	}
	current, _, err := s.Report(ctx, id)
	if err != nil {
		return domain.Report{}, err
	}
	activities, _, err := s.ReportActivities(ctx, id)
	if err != nil {
		return domain.Report{}, err
	}
	if _, err := lifecycle.Submit(current, me, activities, s.now()); err != nil {
		return domain.Report{}, err
	}
	return cache.Do(ctx, s.store, func(ctx context.Context) (domain.Report, error) {
		return s.gw.SubmitReport(ctx, id)
	}, reportKeys(id)...)
}

// ReviewReport approves or returns a report. Returning needs a comment.
func (s *Session) ReviewReport(ctx context.Context, id string, action domain.ReviewAction, comment string) (domain.Report, error) {
	me, err := s.actor(ctx)
	if err != nil {
		return domain.Report{}, err
	}
	current, _, err := s.Report(ctx, id)
	if err != nil {
		return domain.Report{}, err
	}
	if _, err := lifecycle.Review(current, me, action, comment, s.now()); err != nil {
		return domain.Report{}, err
	}
	return cache.Do(ctx, s.store, func(ctx context.Context) (domain.Report, error) {
		return s.gw.ReviewReport(ctx, id, action, comment)
	}, reportKeys(id)...)
}

func (s *Session) SetReviewStage(ctx context.Context, id string, stage domain.ReportStatus) (domain.Report, error) {
	me, err := s.actor(ctx)
	if err != nil {
		return domain.Report{}, err
	}
	current, _, err := s.Report(ctx, id)
	if err != nil {
		return domain.Report{}, err
	}
	if _, err := lifecycle.SetReviewStage(current, me, stage, s.now()); err != nil {
		return domain.Report{}, err
	}
	return cache.Do(ctx, s.store, func(ctx context.Context) (domain.Report, error) {
		return s.gw.SetReviewStage(ctx, id, stage)
	}, reportKeys(id)...)
}

func (s *Session) UploadSignature(ctx context.Context, id string, sig domain.Signature) (domain.Report, error) {
	if err := lifecycle.ValidateSignature(sig); err != nil {
		return domain.Report{}, err
	}
	me, err := s.actor(ctx)
	if err != nil {
		return domain.Report{}, err
	}
	current, _, err := s.Report(ctx, id)
	if err != nil {
		return domain.Report{}, err
	}
	if current.AuthorID != me.PrincipalID || !lifecycle.CanAttachSignature(&current, me) {
		return domain.Report{}, &lifecycle.ForbiddenError{Action: fmt.Sprintf("sign report in status %s", current.Status)}
	}
	return cache.Do(ctx, s.store, func(ctx context.Context) (domain.Report, error) {
		return s.gw.UploadSignature(ctx, id, sig)
	}, cache.K(ReportKey, id), cache.K(ReportWithActivitiesKey, id))
}

func (s *Session) UpdateCoordinationFields(ctx context.Context, id string, f domain.CoordinationFields) (domain.Report, error) {
	me, err := s.actor(ctx)
	if err != nil {
		return domain.Report{}, err
	}
	if !lifecycle.CanEditCoordinationFields(me) {
		return domain.Report{}, &lifecycle.ForbiddenError{Action: "edit coordination fields"}
	}
	return cache.Do(ctx, s.store, func(ctx context.Context) (domain.Report, error) {
		return s.gw.UpdateCoordinationFields(ctx, id, f)
	}, reportKeys(id)...)
}

// SaveActivity creates the activity when a.ID is empty, otherwise replaces it.
// The parent report must be editable by the actor.
func (s *Session) SaveActivity(ctx context.Context, a domain.Activity) (domain.Activity, error) {
	me, err := s.actor(ctx)
	if err != nil {
		return domain.Activity{}, err
	}
	if a.ID != "" {
		current, _, err := s.Activity(ctx, a.ID)
		if err != nil {
			return domain.Activity{}, err
		}
		if a.ReportID == "" {
			a.ReportID = current.ReportID
		}
		if a.ReportID != current.ReportID {
			return domain.Activity{}, invalid("report_id", "an activity cannot move to another report")
		}
	}
	if err := lifecycle.ValidateActivity(a); err != nil {
		return domain.Activity{}, err
	}
	if s.cfg != nil && a.Museum != "" && !s.cfg.HasMuseum(a.Museum) {
		return domain.Activity{}, invalid("museum", fmt.Sprintf("%q is not a museum of the network", a.Museum))
	}
	parent, _, err := s.Report(ctx, a.ReportID)
	if err != nil {
		return domain.Activity{}, err
	}
	if !lifecycle.CanEditActivity(&parent, me) {
		return domain.Activity{}, &lifecycle.ForbiddenError{Action: fmt.Sprintf("edit activities of report in status %s", parent.Status)}
	}
	saved, err := cache.Do(ctx, s.store, func(ctx context.Context) (domain.Activity, error) {
		if a.ID == "" {
			return s.gw.CreateActivity(ctx, a)
		}
		return s.gw.UpdateActivity(ctx, a)
	}, activityKeys(a.ReportID, a.ID)...)
	if err == nil && a.ID == "" {
		s.store.Invalidate(cache.K(ActivityKey, saved.ID))
	}
	return saved, err
}

func (s *Session) DeleteActivity(ctx context.Context, id string) error {
	me, err := s.actor(ctx)
	if err != nil {
		return err
	}
	current, _, err := s.Activity(ctx, id)
	if err != nil {
		return err
	}
	parent, _, err := s.Report(ctx, current.ReportID)
	if err != nil {
		return err
	}
	if !lifecycle.CanEditActivity(&parent, me) {
		return &lifecycle.ForbiddenError{Action: fmt.Sprintf("edit activities of report in status %s", parent.Status)}
	}
	_, err = cache.Do(ctx, s.store, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.gw.DeleteActivity(ctx, id)
	}, activityKeys(current.ReportID, id)...)
	return err
}

func (s *Session) checkProfileInput(target domain.UserProfile, in gateway.ProfileInput) error {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return invalid("name", "is required")
	}
	if s.cfg == nil {
		return nil
	}
	if in.Team != "" && !s.cfg.HasMuseum(in.Team) {
		return invalid("team", fmt.Sprintf("%q is not a museum of the network", in.Team))
	}
	if target.AppRole == domain.RoleCoordination && !lifecycle.SameName(name, s.cfg.Coordination.ReservedName) {
		return invalid("name", "the coordination profile must keep the reserved name")
	}
	return nil
}

func (s *Session) SaveOwnProfile(ctx context.Context, in gateway.ProfileInput) (domain.UserProfile, error) {
	me, err := s.actor(ctx)
	if err != nil {
		return domain.UserProfile{}, err
	}
	if err := s.checkProfileInput(me, in); err != nil {
		return domain.UserProfile{}, err
	}
	return cache.Do(ctx, s.store, func(ctx context.Context) (domain.UserProfile, error) {
		return s.gw.SaveOwnProfile(ctx, in)
	}, profileKeys()...)
}

func (s *Session) RequestApproval(ctx context.Context) (domain.UserProfile, error) {
	if _, err := s.actor(ctx); err != nil {
		return domain.UserProfile{}, err
	}
	return cache.Do(ctx, s.store, s.gw.RequestApproval, profileKeys()...)
}

func (s *Session) profile(ctx context.Context, principalID string) (domain.UserProfile, error) {
	all, _, err := s.Profiles(ctx)
	if err != nil {
		return domain.UserProfile{}, err
	}
	for _, p := range all {
		if p.PrincipalID == principalID {
			return p, nil
		}
	}
	return domain.UserProfile{}, &gateway.RemoteError{Op: "profile", StatusCode: 404, Code: "not_found", Message: "profile " + principalID + " not found"}
}

// UpdateRole assigns an application role. Coordination is reserved for the
// profile carrying the configured name.
func (s *Session) UpdateRole(ctx context.Context, principalID string, role domain.AppRole) (domain.UserProfile, error) {
	if _, err := s.manager(ctx, "change roles"); err != nil {
		return domain.UserProfile{}, err
	}
	reserved := ""
	if s.cfg != nil {
		reserved = s.cfg.Coordination.ReservedName
	}
	if !role.Valid() {
		return domain.UserProfile{}, invalid("app_role", fmt.Sprintf("unknown role %q", role))
	}
	if role == domain.RoleCoordination {
		target, err := s.profile(ctx, principalID)
		if err != nil {
			return domain.UserProfile{}, err
		}
		if err := lifecycle.ValidateRoleAssignment(target, role, reserved); err != nil {
			return domain.UserProfile{}, err
		}
	}
	return cache.Do(ctx, s.store, func(ctx context.Context) (domain.UserProfile, error) {
		return s.gw.UpdateRole(ctx, principalID, role)
	}, profileKeys()...)
}

func (s *Session) UpdateProfile(ctx context.Context, principalID string, in gateway.ProfileInput) (domain.UserProfile, error) {
	if _, err := s.manager(ctx, "edit profiles"); err != nil {
		return domain.UserProfile{}, err
	}
	target, err := s.profile(ctx, principalID)
	if err != nil {
		return domain.UserProfile{}, err
	}
	if err := s.checkProfileInput(target, in); err != nil {
		return domain.UserProfile{}, err
	}
	return cache.Do(ctx, s.store, func(ctx context.Context) (domain.UserProfile, error) {
		return s.gw.UpdateProfile(ctx, principalID, in)
	}, profileKeys()...)
}

func (s *Session) DeleteProfile(ctx context.Context, principalID string) error {
	me, err := s.manager(ctx, "delete profiles")
	if err != nil {
		return err
	}
	if principalID == me.PrincipalID {
		return invalid("principal_id", "cannot delete your own profile")
	}
	_, err = cache.Do(ctx, s.store, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.gw.DeleteProfile(ctx, principalID)
	}, profileKeys()...)
	return err
}

func (s *Session) SetApproval(ctx context.Context, principalID string, status domain.ApprovalStatus) (domain.UserProfile, error) {
	if _, err := s.manager(ctx, "approve profiles"); err != nil {
		return domain.UserProfile{}, err
	}
	if status != domain.ApprovalApproved && status != domain.ApprovalRejected {
		return domain.UserProfile{}, invalid("approval_status", fmt.Sprintf("must be approved or rejected, got %q", status))
	}
	return cache.Do(ctx, s.store, func(ctx context.Context) (domain.UserProfile, error) {
		return s.gw.SetApproval(ctx, principalID, status)
	}, profileKeys()...)
}

func (s *Session) AddGoal(ctx context.Context, g domain.Goal) (domain.Goal, error) {
	if _, err := s.manager(ctx, "manage goals"); err != nil {
		return domain.Goal{}, err
	}
	if strings.TrimSpace(g.Number) == "" {
		return domain.Goal{}, invalid("number", "is required")
	}
	if strings.TrimSpace(g.Name) == "" {
		return domain.Goal{}, invalid("name", "is required")
	}
	if g.Target != nil && *g.Target < 0 {
		return domain.Goal{}, invalid("target", "must not be negative")
	}
	return cache.Do(ctx, s.store, func(ctx context.Context) (domain.Goal, error) {
		return s.gw.AddGoal(ctx, g)
	}, cache.K(GoalsKey))
}

func (s *Session) ToggleGoal(ctx context.Context, id string) (domain.Goal, error) {
	if _, err := s.manager(ctx, "manage goals"); err != nil {
		return domain.Goal{}, err
	}
	return cache.Do(ctx, s.store, func(ctx context.Context) (domain.Goal, error) {
		return s.gw.ToggleGoal(ctx, id)
	}, cache.K(GoalsKey))
}
