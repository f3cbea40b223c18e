package session_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"museu/internal/cache"
	"museu/internal/config"
	"museu/internal/domain"
	"museu/internal/export"
	"museu/internal/gateway"
	"museu/internal/lifecycle"
	"museu/internal/session"
	"museu/internal/views"
)

type fakeGateway struct {
	mu         sync.Mutex
	ready      bool
	me         domain.UserProfile
	profiles   []domain.UserProfile
	reports    map[string]domain.Report
	activities []domain.Activity
	calls      map[string]int
	feed       chan domain.Event
	seq        int
}

func newFakeGateway(me domain.UserProfile) *fakeGateway {
	return &fakeGateway{
		ready:    true,
		me:       me,
		profiles: []domain.UserProfile{me},
		reports:  map[string]domain.Report{},
		calls:    map[string]int{},
	}
}

func (g *fakeGateway) called(op string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls[op]++
}

func (g *fakeGateway) count(op string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[op]
}

func notFound(op string) error {
	return &gateway.RemoteError{Op: op, StatusCode: 404, Code: "not_found", Message: "not found"}
}

func (g *fakeGateway) Ready() bool { return g.ready }

func (g *fakeGateway) OwnProfile(ctx context.Context) (domain.UserProfile, error) {
	g.called("OwnProfile")
	return g.me, nil
}

func (g *fakeGateway) SaveOwnProfile(ctx context.Context, in gateway.ProfileInput) (domain.UserProfile, error) {
	g.called("SaveOwnProfile")
	g.me.Name, g.me.Team = in.Name, in.Team
	return g.me, nil
}

func (g *fakeGateway) RequestApproval(ctx context.Context) (domain.UserProfile, error) {
	g.called("RequestApproval")
	return g.me, nil
}

func (g *fakeGateway) IsApproved(ctx context.Context) (bool, error) {
	g.called("IsApproved")
	return g.me.ApprovalStatus == domain.ApprovalApproved, nil
}

func (g *fakeGateway) ListProfiles(ctx context.Context) ([]domain.UserProfile, error) {
	g.called("ListProfiles")
	return g.profiles, nil
}

func (g *fakeGateway) UpdateRole(ctx context.Context, principalID string, role domain.AppRole) (domain.UserProfile, error) {
	g.called("UpdateRole")
	return domain.UserProfile{PrincipalID: principalID, AppRole: role}, nil
}

func (g *fakeGateway) UpdateProfile(ctx context.Context, principalID string, in gateway.ProfileInput) (domain.UserProfile, error) {
	g.called("UpdateProfile")
	return domain.UserProfile{PrincipalID: principalID, Name: in.Name}, nil
}

func (g *fakeGateway) DeleteProfile(ctx context.Context, principalID string) error {
	g.called("DeleteProfile")
	return nil
}

func (g *fakeGateway) SetApproval(ctx context.Context, principalID string, status domain.ApprovalStatus) (domain.UserProfile, error) {
	g.called("SetApproval")
	return domain.UserProfile{PrincipalID: principalID, ApprovalStatus: status}, nil
}

func (g *fakeGateway) CreateReport(ctx context.Context, r domain.Report) (domain.Report, error) {
	g.called("CreateReport")
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	r.ID = fmt.Sprintf("r%d", g.seq)
	r.AuthorID = g.me.PrincipalID
	r.Status = domain.ReportDraft
	g.reports[r.ID] = r
	return r, nil
}

func (g *fakeGateway) GetReport(ctx context.Context, id string) (domain.Report, error) {
	g.called("GetReport")
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.reports[id]
	if !ok {
		return domain.Report{}, notFound("get report")
	}
	return r, nil
}

func (g *fakeGateway) ListReports(ctx context.Context) ([]domain.Report, error) {
	g.called("ListReports")
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []domain.Report
	for _, r := range g.reports {
		out = append(out, r)
	}
	return out, nil
}

func (g *fakeGateway) ReportsForUser(ctx context.Context, principalID string) ([]domain.Report, error) {
	g.called("ReportsForUser")
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []domain.Report
	for _, r := range g.reports {
		if r.AuthorID == principalID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (g *fakeGateway) UpdateReport(ctx context.Context, r domain.Report) (domain.Report, error) {
	g.called("UpdateReport")
	g.mu.Lock()
	defer g.mu.Unlock()
	cur := g.reports[r.ID]
	cur.ExecutiveSummary = r.ExecutiveSummary
	g.reports[r.ID] = cur
	return cur, nil
}

func (g *fakeGateway) DeleteReport(ctx context.Context, id string) error {
	g.called("DeleteReport")
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.reports, id)
	return nil
}

func (g *fakeGateway) transition(id string, fn func(*domain.Report)) (domain.Report, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.reports[id]
	if !ok {
		return domain.Report{}, notFound("transition")
	}
	fn(&r)
	g.reports[id] = r
	return r, nil
}

func (g *fakeGateway) SubmitReport(ctx context.Context, id string) (domain.Report, error) {
	g.called("SubmitReport")
	return g.transition(id, func(r *domain.Report) { r.Status = domain.ReportSubmitted })
}

func (g *fakeGateway) ReviewReport(ctx context.Context, id string, action domain.ReviewAction, comment string) (domain.Report, error) {
	g.called("ReviewReport")
	return g.transition(id, func(r *domain.Report) {
		if action == domain.ReviewApprove {
			now := time.Now()
			r.Status, r.ApprovedAt = domain.ReportApproved, &now
			return
		}
		r.Status, r.CoordinatorComments = domain.ReportRequiresAdjustment, comment
	})
}

func (g *fakeGateway) SetReviewStage(ctx context.Context, id string, stage domain.ReportStatus) (domain.Report, error) {
	g.called("SetReviewStage")
	return g.transition(id, func(r *domain.Report) { r.Status = stage })
}

func (g *fakeGateway) UploadSignature(ctx context.Context, id string, sig domain.Signature) (domain.Report, error) {
	g.called("UploadSignature")
	return g.transition(id, func(r *domain.Report) { r.Signature = &sig })
}

func (g *fakeGateway) UpdateCoordinationFields(ctx context.Context, id string, f domain.CoordinationFields) (domain.Report, error) {
	g.called("UpdateCoordinationFields")
	return g.transition(id, func(r *domain.Report) { r.CoordinatorComments = f.CoordinatorComments })
}

func (g *fakeGateway) ReportWithActivities(ctx context.Context, id string) (domain.ReportWithActivities, error) {
	g.called("ReportWithActivities")
	return domain.ReportWithActivities{}, nil
}

func (g *fakeGateway) CreateActivity(ctx context.Context, a domain.Activity) (domain.Activity, error) {
	g.called("CreateActivity")
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	a.ID = fmt.Sprintf("a%d", g.seq)
	g.activities = append(g.activities, a)
	return a, nil
}

func (g *fakeGateway) GetActivity(ctx context.Context, id string) (domain.Activity, error) {
	g.called("GetActivity")
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, a := range g.activities {
		if a.ID == id {
			return a, nil
		}
	}
	return domain.Activity{}, notFound("get activity")
}

func (g *fakeGateway) ListActivities(ctx context.Context) ([]domain.Activity, error) {
	g.called("ListActivities")
	return g.activities, nil
}

func (g *fakeGateway) ActivitiesForReport(ctx context.Context, reportID string) ([]domain.Activity, error) {
	g.called("ActivitiesForReport")
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []domain.Activity
	for _, a := range g.activities {
		if a.ReportID == reportID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (g *fakeGateway) UpdateActivity(ctx context.Context, a domain.Activity) (domain.Activity, error) {
	g.called("UpdateActivity")
	return a, nil
}

func (g *fakeGateway) DeleteActivity(ctx context.Context, id string) error {
	g.called("DeleteActivity")
	return nil
}

func (g *fakeGateway) SearchActivities(ctx context.Context, name string) ([]domain.Activity, error) {
	g.called("SearchActivities")
	return nil, nil
}

func (g *fakeGateway) ListGoals(ctx context.Context) ([]domain.Goal, error) {
	g.called("ListGoals")
	return []domain.Goal{{ID: "g1", Number: "1", Name: "Ações educativas", Active: true}}, nil
}

func (g *fakeGateway) AddGoal(ctx context.Context, goal domain.Goal) (domain.Goal, error) {
	g.called("AddGoal")
	return goal, nil
}

func (g *fakeGateway) ToggleGoal(ctx context.Context, id string) (domain.Goal, error) {
	g.called("ToggleGoal")
	return domain.Goal{ID: id}, nil
}

func (g *fakeGateway) Dashboard(ctx context.Context, f views.Filter) (views.Dashboard, error) {
	g.called("Dashboard")
	return views.Dashboard{}, nil
}

func (g *fakeGateway) TotalAudience(ctx context.Context, q domain.AudienceQuery) (int, error) {
	g.called("TotalAudience")
	return 42, nil
}

func (g *fakeGateway) ExportRows(ctx context.Context) ([]export.Row, error) {
	g.called("ExportRows")
	return []export.Row{}, nil
}

func (g *fakeGateway) Subscribe(ctx context.Context) (<-chan domain.Event, error) {
	g.called("Subscribe")
	return g.feed, nil
}

// recorder is a cache double that records every declared invalidation.
type recorder struct {
	*cache.Store
	mu          sync.Mutex
	invalidated []string
}

func (r *recorder) record(keys []cache.Key) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range keys {
		r.invalidated = append(r.invalidated, k.String())
	}
}

func (r *recorder) Invalidate(prefixes ...cache.Key) {
	r.record(prefixes)
	r.Store.Invalidate(prefixes...)
}

func (r *recorder) Mutate(ctx context.Context, fn cache.Fetcher, invalidate ...cache.Key) (any, error) {
	v, err := r.Store.Mutate(ctx, fn, invalidate...)
	if err == nil {
		r.record(invalidate)
	}
	return v, err
}

func (r *recorder) has(k cache.Key) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.invalidated {
		if s == k.String() {
			return true
		}
	}
	return false
}

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func newSession(t *testing.T, gw *fakeGateway) (*session.Session, *recorder) {
	t.Helper()
	cfg := config.Default()
	rec := &recorder{Store: session.NewStore(cfg, quietLogger())}
	return session.New(gw, rec, cfg, quietLogger()), rec
}

func professional(id string) domain.UserProfile {
	return domain.UserProfile{PrincipalID: id, Name: "Maria " + id, AppRole: domain.RoleProfessional, ApprovalStatus: domain.ApprovalApproved}
}

func coordination() domain.UserProfile {
	return domain.UserProfile{PrincipalID: "c1", Name: "Coordenação Geral", AppRole: domain.RoleCoordination, ApprovalStatus: domain.ApprovalApproved}
}

func isValidation(err error) bool {
	var verr *lifecycle.ValidationError
	return errors.As(err, &verr)
}

func TestValidationFailuresNeverReachTheNetwork(t *testing.T) {
	gw := newFakeGateway(coordination())
	gw.profiles = append(gw.profiles, professional("u1"))
	gw.reports["r1"] = domain.Report{ID: "r1", AuthorID: "u1", ReferenceMonth: domain.March, Year: 2025, Status: domain.ReportSubmitted}
	s, _ := newSession(t, gw)
	ctx := context.Background()

	if _, err := s.ReviewReport(ctx, "r1", domain.ReviewReturn, "  "); !isValidation(err) {
		t.Fatalf("expected validation error for empty comment, got %v", err)
	}
	if _, err := s.UpdateRole(ctx, "u1", domain.RoleCoordination); !isValidation(err) {
		t.Fatalf("expected validation error for reserved role, got %v", err)
	}
	if _, err := s.SaveActivity(ctx, domain.Activity{ReportID: "r1", Name: " "}); !isValidation(err) {
		t.Fatalf("expected validation error for blank name, got %v", err)
	}
	if _, err := s.UploadSignature(ctx, "r1", domain.Signature{MimeType: "text/plain", Data: []byte("x")}); !isValidation(err) {
		t.Fatalf("expected validation error for signature type, got %v", err)
	}
	if _, err := s.AddGoal(ctx, domain.Goal{Name: "sem número"}); !isValidation(err) {
		t.Fatalf("expected validation error for goal number, got %v", err)
	}
	for _, op := range []string{"ReviewReport", "UpdateRole", "CreateActivity", "UploadSignature", "AddGoal"} {
		if n := gw.count(op); n != 0 {
			t.Fatalf("%s reached the gateway %d times", op, n)
		}
	}
}

func TestSubmitNeedsContentThenSucceeds(t *testing.T) {
	gw := newFakeGateway(professional("u1"))
	s, rec := newSession(t, gw)
	ctx := context.Background()

	r, err := s.SaveReport(ctx, domain.Report{ReferenceMonth: domain.March, Year: 2025})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.SubmitReport(ctx, r.ID); !isValidation(err) {
		t.Fatalf("expected empty report to be rejected locally, got %v", err)
	}
	if gw.count("SubmitReport") != 0 {
		t.Fatalf("submit reached the gateway")
	}

	a, err := s.SaveActivity(ctx, domain.Activity{ReportID: r.ID, Name: "Visita mediada", Museum: "Casa das Rosas",
		Audience: domain.Audience{Total: 10, Adults: 10}})
	if err != nil {
		t.Fatalf("activity: %v", err)
	}
	if !rec.has(cache.K(session.ReportActivitiesKey, r.ID)) || !rec.has(cache.K(session.ActivityKey, a.ID)) {
		t.Fatalf("activity save must invalidate its report's activities, got %v", rec.invalidated)
	}

	if _, err := s.SubmitReport(ctx, r.ID); err != nil {
		t.Fatalf("submit: %v", err)
	}
	got, _, err := s.Report(ctx, r.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.Status != domain.ReportSubmitted {
		t.Fatalf("report should refetch as submitted, got %s", got.Status)
	}
	if _, err := s.SaveReport(ctx, domain.Report{ID: r.ID, ReferenceMonth: domain.March, Year: 2025, ExecutiveSummary: "x"}); err == nil {
		t.Fatalf("submitted report must not be editable")
	}
}

func TestDuplicatePeriodRejectedLocally(t *testing.T) {
	gw := newFakeGateway(professional("u1"))
	gw.reports["r9"] = domain.Report{ID: "r9", AuthorID: "u1", ReferenceMonth: domain.May, Year: 2025, Status: domain.ReportDraft}
	s, _ := newSession(t, gw)

	if _, err := s.SaveReport(context.Background(), domain.Report{ReferenceMonth: domain.May, Year: 2025}); !isValidation(err) {
		t.Fatalf("expected duplicate period error, got %v", err)
	}
	if _, err := s.SaveReport(context.Background(), domain.Report{ReferenceMonth: domain.May, Year: 2020}); !isValidation(err) {
		t.Fatalf("expected first year error, got %v", err)
	}
	if gw.count("CreateReport") != 0 {
		t.Fatalf("create reached the gateway")
	}
}

func TestCoordinatorApprovesSubmittedReport(t *testing.T) {
	gw := newFakeGateway(coordination())
	gw.reports["r1"] = domain.Report{ID: "r1", AuthorID: "u1", ReferenceMonth: domain.March, Year: 2025, Status: domain.ReportSubmitted}
	s, rec := newSession(t, gw)
	ctx := context.Background()

	before, _, err := s.Report(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if lifecycle.IsReportEditable(&before, coordination()) {
		t.Fatalf("coordination must see a submitted report read-only")
	}
	if _, err := s.ReviewReport(ctx, "r1", domain.ReviewApprove, ""); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if !rec.has(cache.K(session.ReportKey, "r1")) || !rec.has(cache.K(session.DashboardKey)) {
		t.Fatalf("review must invalidate the report and dashboards, got %v", rec.invalidated)
	}
	after, _, err := s.Report(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if after.Status != domain.ReportApproved || after.ApprovedAt == nil {
		t.Fatalf("expected approved report with timestamp, got %+v", after)
	}
	for _, actor := range []domain.UserProfile{coordination(), professional("u1")} {
		if lifecycle.IsReportEditable(&after, actor) {
			t.Fatalf("approved report editable by %s", actor.PrincipalID)
		}
	}
	if _, err := s.ReviewReport(ctx, "r1", domain.ReviewApprove, ""); !isValidation(err) {
		t.Fatalf("reviewing an approved report must fail locally, got %v", err)
	}
}

func TestProfessionalCannotManage(t *testing.T) {
	gw := newFakeGateway(professional("u1"))
	s, _ := newSession(t, gw)
	var ferr *lifecycle.ForbiddenError
	if _, err := s.SetApproval(context.Background(), "u2", domain.ApprovalApproved); !errors.As(err, &ferr) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if err := s.DeleteProfile(context.Background(), "u2"); !errors.As(err, &ferr) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if gw.count("SetApproval")+gw.count("DeleteProfile") != 0 {
		t.Fatalf("forbidden mutation reached the gateway")
	}
}

func TestUnreadyGatewayDisablesQueries(t *testing.T) {
	gw := newFakeGateway(professional("u1"))
	gw.ready = false
	s, _ := newSession(t, gw)
	ctx := context.Background()

	_, st, err := s.AllReports(ctx)
	if err != nil || st.Status != cache.StatusIdle || st.HasValue {
		t.Fatalf("expected neutral idle state, got %+v err=%v", st, err)
	}
	if _, err := s.Login(ctx); !errors.Is(err, gateway.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if _, err := s.SaveReport(ctx, domain.Report{ReferenceMonth: domain.May, Year: 2025}); !errors.Is(err, gateway.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}

	gw.ready = true
	_, st, _ = s.Report(ctx, "")
	if st.Status != cache.StatusIdle {
		t.Fatalf("missing id must disable the query, got %+v", st)
	}
	_, st, _ = s.TotalAudience(ctx, nil)
	if st.Status != cache.StatusIdle {
		t.Fatalf("missing audience query must disable it, got %+v", st)
	}
	if n := gw.count("ListReports") + gw.count("GetReport") + gw.count("TotalAudience"); n != 0 {
		t.Fatalf("disabled queries fetched %d times", n)
	}
}

func TestNotFoundIsNotRetried(t *testing.T) {
	gw := newFakeGateway(professional("u1"))
	s, _ := newSession(t, gw)
	for i := 0; i < 3; i++ {
		if _, _, err := s.Report(context.Background(), "missing"); !gateway.IsNotFound(err) {
			t.Fatalf("expected not found, got %v", err)
		}
	}
	if n := gw.count("GetReport"); n != 1 {
		t.Fatalf("not found should be terminal, fetched %d times", n)
	}
}

func TestCreateReplacesCachedNotFound(t *testing.T) {
	gw := newFakeGateway(professional("u1"))
	s, _ := newSession(t, gw)
	ctx := context.Background()
	if _, _, err := s.Report(ctx, "r1"); !gateway.IsNotFound(err) {
		t.Fatalf("expected not found before create, got %v", err)
	}
	if _, _, err := s.Activity(ctx, "a2"); !gateway.IsNotFound(err) {
		t.Fatalf("expected not found before create, got %v", err)
	}

	r, err := s.SaveReport(ctx, domain.Report{ReferenceMonth: domain.April, Year: 2025})
	if err != nil || r.ID != "r1" {
		t.Fatalf("create report: %+v %v", r, err)
	}
	if got, _, err := s.Report(ctx, r.ID); err != nil || got.ID != r.ID {
		t.Fatalf("created report still reads as %+v, %v", got, err)
	}
	a, err := s.SaveActivity(ctx, domain.Activity{ReportID: r.ID, Name: "Oficina", Museum: "Casa das Rosas"})
	if err != nil || a.ID != "a2" {
		t.Fatalf("create activity: %+v %v", a, err)
	}
	if got, _, err := s.Activity(ctx, a.ID); err != nil || got.ID != a.ID {
		t.Fatalf("created activity still reads as %+v, %v", got, err)
	}
}

func TestAudienceQueriesAreKeyedByVariant(t *testing.T) {
	gw := newFakeGateway(professional("u1"))
	s, _ := newSession(t, gw)
	ctx := context.Background()
	for _, q := range []domain.AudienceQuery{
		domain.CumulativeTotal{},
		domain.SpecificMonth{Month: domain.May, Year: 2025},
		domain.SpecificMonth{Month: domain.May, Year: 2025},
	} {
		total, _, err := s.TotalAudience(ctx, q)
		if err != nil || total != 42 {
			t.Fatalf("total=%d err=%v", total, err)
		}
	}
	if n := gw.count("TotalAudience"); n != 2 {
		t.Fatalf("expected one fetch per distinct query, got %d", n)
	}
}

func TestLogoutClearsCache(t *testing.T) {
	gw := newFakeGateway(professional("u1"))
	s, _ := newSession(t, gw)
	ctx := context.Background()
	if _, err := s.Login(ctx); err != nil {
		t.Fatal(err)
	}
	s.Goals(ctx)
	s.Goals(ctx)
	s.Logout()
	s.Goals(ctx)
	if n := gw.count("ListGoals"); n != 2 {
		t.Fatalf("expected refetch after logout, got %d fetches", n)
	}
}

func TestFollowInvalidatesFromLiveEvents(t *testing.T) {
	gw := newFakeGateway(professional("u1"))
	gw.feed = make(chan domain.Event, 4)
	s, rec := newSession(t, gw)

	gw.feed <- domain.Event{ID: 1, Type: "report.updated", EntityKind: "report", EntityID: "r1"}
	gw.feed <- domain.Event{ID: 2, Type: "activity.created", EntityKind: "activity", EntityID: "a7", Payload: `{"report_id":"r1"}`}
	gw.feed <- domain.Event{ID: 3, Type: "goal.toggled", EntityKind: "goal", EntityID: "g1"}
	close(gw.feed)

	if err := s.Follow(context.Background()); !errors.Is(err, session.ErrFeedClosed) {
		t.Fatalf("expected ErrFeedClosed, got %v", err)
	}
	for _, k := range []cache.Key{
		cache.K(session.ReportKey, "r1"),
		cache.K(session.ReportActivitiesKey, "r1"),
		cache.K(session.ActivityKey, "a7"),
		cache.K(session.GoalsKey),
	} {
		if !rec.has(k) {
			t.Fatalf("missing invalidation %s in %v", k.String(), rec.invalidated)
		}
	}
}

func TestMalformedActivityPayloadIsLoggedAndInvalidatesBroadly(t *testing.T) {
	gw := newFakeGateway(professional("u1"))
	gw.feed = make(chan domain.Event, 1)
	cfg := config.Default()
	var logs bytes.Buffer
	rec := &recorder{Store: session.NewStore(cfg, quietLogger())}
	s := session.New(gw, rec, cfg, log.New(&logs, "", 0))

	gw.feed <- domain.Event{ID: 9, Type: "activity.updated", EntityKind: "activity", EntityID: "a3", Payload: `{"report_id":`}
	close(gw.feed)
	if err := s.Follow(context.Background()); !errors.Is(err, session.ErrFeedClosed) {
		t.Fatalf("expected ErrFeedClosed, got %v", err)
	}
	if !strings.Contains(logs.String(), "event 9") {
		t.Fatalf("malformed payload not logged: %q", logs.String())
	}
	for _, k := range []cache.Key{cache.K(session.ActivityKey, "a3"), cache.K(session.ReportActivitiesKey)} {
		if !rec.has(k) {
			t.Fatalf("missing invalidation %s in %v", k.String(), rec.invalidated)
		}
	}
}

func TestInvalidationsIgnoreUnknownKinds(t *testing.T) {
	if keys := session.Invalidations(domain.Event{EntityKind: "api_key"}); len(keys) != 0 {
		t.Fatalf("unexpected keys %v", keys)
	}
	keys := session.Invalidations(domain.Event{EntityKind: "profile", EntityID: "u1"})
	if len(keys) == 0 {
		t.Fatalf("profile events must invalidate profile queries")
	}
}

func waitCount(t *testing.T, gw *fakeGateway, op string, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for gw.count(op) < want {
		if time.Now().After(deadline) {
			t.Fatalf("%s called %d times, want %d", op, gw.count(op), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWatchedDashboardReloadsOnLiveEvent(t *testing.T) {
	gw := newFakeGateway(professional("u1"))
	gw.feed = make(chan domain.Event, 1)
	s, _ := newSession(t, gw)

	obs := s.WatchDashboard(views.Filter{Month: domain.May})
	defer obs.Close()
	waitCount(t, gw, "Dashboard", 1)

	gw.feed <- domain.Event{ID: 9, Type: "report.submitted", EntityKind: "report", EntityID: "r1"}
	close(gw.feed)
	_ = s.Follow(context.Background())
	waitCount(t, gw, "Dashboard", 2)
}
