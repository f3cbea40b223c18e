package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"museu/internal/config"
	"museu/internal/db"
	"museu/internal/domain"
	"museu/internal/engine"
	"museu/internal/engine/auth"
	"museu/internal/lifecycle"
	"museu/internal/migrate"
	"museu/internal/repo"
	"museu/internal/views"
)

type recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recorder) Publish(evt domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	Sink   *recorder
	clock  time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	env := &testEnv{Ctx: context.Background(), Sink: &recorder{}, clock: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time {
		env.clock = env.clock.Add(time.Minute)
		return env.clock
	}
	eng.Events.Sink = env.Sink
	env.Engine = eng
	if _, err := eng.Provision(env.Ctx, "admin", "Ana Admin"); err != nil {
		t.Fatalf("provision admin: %v", err)
	}
	return env
}

// approved provisions an approved professional.
func (env *testEnv) approved(t *testing.T, id, name string) domain.UserProfile {
	t.Helper()
	if _, err := env.Engine.Provision(env.Ctx, id, name); err != nil {
		t.Fatalf("provision %s: %v", id, err)
	}
	p, err := env.Engine.SetApproval(env.Ctx, "admin", id, domain.ApprovalApproved)
	if err != nil {
		t.Fatalf("approve %s: %v", id, err)
	}
	return p
}

func (env *testEnv) draft(t *testing.T, author string, month domain.Month) domain.Report {
	t.Helper()
	r, err := env.Engine.SaveReport(env.Ctx, author, domain.Report{ReferenceMonth: month, Year: 2025})
	if err != nil {
		t.Fatalf("save report: %v", err)
	}
	return r
}

func isValidation(err error) bool {
	var v *lifecycle.ValidationError
	return errors.As(err, &v)
}

func isForbidden(err error) bool {
	var lf *lifecycle.ForbiddenError
	var af auth.ForbiddenError
	return errors.As(err, &lf) || errors.As(err, &af)
}

func TestProvisionDefaults(t *testing.T) {
	env := newTestEnv(t)
	admin, err := env.Engine.OwnProfile(env.Ctx, "admin")
	if err != nil {
		t.Fatal(err)
	}
	if admin.AppRole != domain.RoleAdministration || admin.ApprovalStatus != domain.ApprovalApproved {
		t.Fatalf("configured administrator not provisioned as admin: %+v", admin)
	}
	p, err := env.Engine.Provision(env.Ctx, "u1", "Maria")
	if err != nil {
		t.Fatal(err)
	}
	if p.AppRole != domain.RoleProfessional || p.ApprovalStatus != domain.ApprovalPending {
		t.Fatalf("unexpected new profile %+v", p)
	}
	again, err := env.Engine.Provision(env.Ctx, "u1", "Other name")
	if err != nil || again.Name != "Maria" {
		t.Fatalf("provision must keep existing profile: %+v %v", again, err)
	}
	if _, err := env.Engine.OwnProfile(env.Ctx, "ghost"); !errors.As(err, &auth.UnknownPrincipalError{}) {
		t.Fatalf("expected unknown principal, got %v", err)
	}
}

func TestApprovalGate(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.Provision(env.Ctx, "u1", "Maria"); err != nil {
		t.Fatal(err)
	}
	_, err := env.Engine.SaveReport(env.Ctx, "u1", domain.Report{ReferenceMonth: domain.March, Year: 2025})
	if !isForbidden(err) {
		t.Fatalf("pending professional must not create reports, got %v", err)
	}
	if _, err := env.Engine.SetApproval(env.Ctx, "admin", "u1", domain.ApprovalRejected); err != nil {
		t.Fatal(err)
	}
	p, err := env.Engine.RequestApproval(env.Ctx, "u1")
	if err != nil || p.ApprovalStatus != domain.ApprovalPending {
		t.Fatalf("request approval: %+v %v", p, err)
	}
	if _, err := env.Engine.SetApproval(env.Ctx, "u1", "u1", domain.ApprovalApproved); !isForbidden(err) {
		t.Fatalf("professional approved itself: %v", err)
	}
	env.approved(t, "u1", "Maria")
	if ok, _ := env.Engine.IsApproved(env.Ctx, "u1"); !ok {
		t.Fatalf("expected approved")
	}
}

func TestSubmitReviewFlow(t *testing.T) {
	env := newTestEnv(t)
	env.approved(t, "u1", "Maria")
	if _, err := env.Engine.Provision(env.Ctx, "coord", "Coordenação  geral"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.UpdateRole(env.Ctx, "admin", "coord", domain.RoleCoordination); err != nil {
		t.Fatalf("assign coordination: %v", err)
	}

	r := env.draft(t, "u1", domain.March)
	if _, err := env.Engine.SubmitReport(env.Ctx, "u1", r.ID); !isValidation(err) {
		t.Fatalf("empty report must not submit, got %v", err)
	}
	if _, err := env.Engine.SaveActivity(env.Ctx, "u1", domain.Activity{
		ReportID: r.ID, Name: "Visita mediada", Museum: "Casa das Rosas",
		Audience: domain.Audience{Total: 10, Adults: 10},
	}); err != nil {
		t.Fatalf("save activity: %v", err)
	}
	submitted, err := env.Engine.SubmitReport(env.Ctx, "u1", r.ID)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if submitted.Status != domain.ReportSubmitted || submitted.SubmittedAt == nil {
		t.Fatalf("unexpected submitted report %+v", submitted)
	}
	if _, err := env.Engine.SaveReport(env.Ctx, "u1", domain.Report{ID: r.ID, ReferenceMonth: domain.March, Year: 2025, ExecutiveSummary: "late"}); !isForbidden(err) {
		t.Fatalf("submitted report must be read-only, got %v", err)
	}

	if _, err := env.Engine.ReviewReport(env.Ctx, "coord", r.ID, domain.ReviewReturn, "  "); !isValidation(err) {
		t.Fatalf("return without comment must fail, got %v", err)
	}
	returned, err := env.Engine.ReviewReport(env.Ctx, "coord", r.ID, domain.ReviewReturn, "fix X")
	if err != nil {
		t.Fatalf("return: %v", err)
	}
	if returned.Status != domain.ReportRequiresAdjustment || returned.CoordinatorComments != "fix X" {
		t.Fatalf("unexpected returned report %+v", returned)
	}
	resubmitted, err := env.Engine.SubmitReport(env.Ctx, "u1", r.ID)
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if !resubmitted.SubmittedAt.After(*submitted.SubmittedAt) {
		t.Fatalf("submitted_at must advance")
	}
	if _, err := env.Engine.SetReviewStage(env.Ctx, "coord", r.ID, domain.ReportAnalysis); err != nil {
		t.Fatalf("analysis: %v", err)
	}
	approved, err := env.Engine.ReviewReport(env.Ctx, "coord", r.ID, domain.ReviewApprove, "")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.Status != domain.ReportApproved || approved.ApprovedAt == nil {
		t.Fatalf("unexpected approved report %+v", approved)
	}
	if _, err := env.Engine.ReviewReport(env.Ctx, "coord", r.ID, domain.ReviewApprove, ""); !isValidation(err) {
		t.Fatalf("approved report must not be reviewed again, got %v", err)
	}
	stored, err := env.Engine.GetReport(env.Ctx, "u1", r.ID)
	if err != nil || stored.Status != domain.ReportApproved {
		t.Fatalf("stored report %+v %v", stored, err)
	}

	types := env.Sink.types()
	want := map[string]bool{"report.created": false, "activity.created": false, "report.submitted": false, "report.reviewed": false, "report.stage": false}
	for _, tp := range types {
		if _, ok := want[tp]; ok {
			want[tp] = true
		}
	}
	for tp, seen := range want {
		if !seen {
			t.Fatalf("event %s not published; got %v", tp, types)
		}
	}
}

func TestCoordinationRoleReserved(t *testing.T) {
	env := newTestEnv(t)
	env.approved(t, "u1", "Maria")
	if _, err := env.Engine.UpdateRole(env.Ctx, "admin", "u1", domain.RoleCoordination); !isValidation(err) {
		t.Fatalf("coordination for non-reserved name must fail, got %v", err)
	}
	if _, err := env.Engine.UpdateRole(env.Ctx, "admin", "u1", domain.RoleCoordinator); err != nil {
		t.Fatalf("coordinator role: %v", err)
	}
	if _, err := env.Engine.Provision(env.Ctx, "coord", "Coordenação Geral"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.UpdateRole(env.Ctx, "admin", "coord", domain.RoleCoordination); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SaveOwnProfile(env.Ctx, "coord", engine.ProfileInput{Name: "Someone Else"}); !isValidation(err) {
		t.Fatalf("coordination holder renamed away from reserved name: %v", err)
	}
}

func TestDuplicatePeriodRejected(t *testing.T) {
	env := newTestEnv(t)
	env.approved(t, "u1", "Maria")
	env.draft(t, "u1", domain.April)
	if _, err := env.Engine.SaveReport(env.Ctx, "u1", domain.Report{ReferenceMonth: domain.April, Year: 2025}); !isValidation(err) {
		t.Fatalf("expected duplicate period error, got %v", err)
	}
	if _, err := env.Engine.SaveReport(env.Ctx, "u1", domain.Report{ReferenceMonth: domain.April, Year: 2019}); !isValidation(err) {
		t.Fatalf("expected year window error, got %v", err)
	}
}

func TestDraftAllowsInconsistentAudience(t *testing.T) {
	env := newTestEnv(t)
	env.approved(t, "u1", "Maria")
	r := env.draft(t, "u1", domain.May)
	a, err := env.Engine.SaveActivity(env.Ctx, "u1", domain.Activity{
		ReportID: r.ID, Name: "Oficina", Audience: domain.Audience{Total: 3, Children: 5},
	})
	if err != nil {
		t.Fatalf("draft activity should save: %v", err)
	}
	if _, err := env.Engine.SubmitReport(env.Ctx, "u1", r.ID); !isValidation(err) {
		t.Fatalf("submit must validate audience, got %v", err)
	}
	a.Audience.Total = 5
	if _, err := env.Engine.SaveActivity(env.Ctx, "u1", a); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SubmitReport(env.Ctx, "u1", r.ID); err != nil {
		t.Fatalf("submit after fix: %v", err)
	}
}

func TestActivityRules(t *testing.T) {
	env := newTestEnv(t)
	env.approved(t, "u1", "Maria")
	env.approved(t, "u2", "João")
	r := env.draft(t, "u1", domain.June)
	if _, err := env.Engine.SaveActivity(env.Ctx, "u2", domain.Activity{ReportID: r.ID, Name: "x"}); !isForbidden(err) {
		t.Fatalf("other professional edited activity: %v", err)
	}
	if _, err := env.Engine.SaveActivity(env.Ctx, "u1", domain.Activity{ReportID: r.ID, Name: "x", Museum: "Louvre"}); !isValidation(err) {
		t.Fatalf("unknown museum accepted: %v", err)
	}
	if _, err := env.Engine.SaveActivity(env.Ctx, "u1", domain.Activity{ReportID: r.ID, Name: "x", LinkedActivityID: "nope"}); !isValidation(err) {
		t.Fatalf("dangling link accepted: %v", err)
	}
	orig, err := env.Engine.SaveActivity(env.Ctx, "u1", domain.Activity{ReportID: r.ID, Name: "Sarau de poesia", Audience: domain.Audience{Total: 40, Adults: 40}})
	if err != nil {
		t.Fatal(err)
	}
	r2 := env.draft(t, "u2", domain.June)
	found, err := env.Engine.SearchActivities(env.Ctx, "u2", "sarau")
	if err != nil || len(found) != 1 {
		t.Fatalf("search: %+v %v", found, err)
	}
	if _, err := env.Engine.SaveActivity(env.Ctx, "u2", domain.Activity{ReportID: r2.ID, Name: "Sarau", LinkedActivityID: found[0].ID, Audience: domain.Audience{Total: 40}}); err != nil {
		t.Fatalf("linked activity: %v", err)
	}
	total, err := env.Engine.TotalAudience(env.Ctx, "admin", domain.CumulativeTotal{})
	if err != nil || total != 40 {
		t.Fatalf("linked audience double counted: %d %v", total, err)
	}
	if err := env.Engine.DeleteActivity(env.Ctx, "u1", orig.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := env.Engine.GetActivity(env.Ctx, "u1", orig.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDashboardScoping(t *testing.T) {
	env := newTestEnv(t)
	env.approved(t, "u1", "Maria")
	env.approved(t, "u2", "João")
	r1 := env.draft(t, "u1", domain.March)
	r2 := env.draft(t, "u2", domain.April)
	for _, a := range []domain.Activity{
		{ReportID: r1.ID, Name: "a", Museum: "Casa das Rosas", Audience: domain.Audience{Total: 12}},
		{ReportID: r2.ID, Name: "b", Museum: "Museu Índia Vanuíre", Audience: domain.Audience{Total: 30}},
	} {
		author := "u1"
		if a.ReportID == r2.ID {
			author = "u2"
		}
		if _, err := env.Engine.SaveActivity(env.Ctx, author, a); err != nil {
			t.Fatal(err)
		}
	}
	own, err := env.Engine.Dashboard(env.Ctx, "u1", views.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if own.ReportCount != 1 || own.TotalAudience != 12 {
		t.Fatalf("professional sees other reports: %+v", own)
	}
	all, err := env.Engine.Dashboard(env.Ctx, "admin", views.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if all.ReportCount != 2 || all.TotalAudience != 42 {
		t.Fatalf("unexpected network dashboard %+v", all)
	}
	march, err := env.Engine.TotalAudience(env.Ctx, "admin", domain.SpecificMonth{Month: domain.March, Year: 2025})
	if err != nil || march != 12 {
		t.Fatalf("march audience %d %v", march, err)
	}
	if _, err := env.Engine.ListReports(env.Ctx, "u1"); !isForbidden(err) {
		t.Fatalf("professional listed all reports: %v", err)
	}
	if _, err := env.Engine.GetReport(env.Ctx, "u2", r1.ID); !isForbidden(err) {
		t.Fatalf("professional read another report: %v", err)
	}
}

func TestDeleteRules(t *testing.T) {
	env := newTestEnv(t)
	env.approved(t, "u1", "Maria")
	r := env.draft(t, "u1", domain.July)
	if _, err := env.Engine.SaveActivity(env.Ctx, "u1", domain.Activity{ReportID: r.ID, Name: "a"}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SubmitReport(env.Ctx, "u1", r.ID); err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.DeleteReport(env.Ctx, "u1", r.ID); !isForbidden(err) {
		t.Fatalf("author deleted submitted report: %v", err)
	}
	if err := env.Engine.DeleteReport(env.Ctx, "admin", r.ID); err != nil {
		t.Fatalf("admin delete: %v", err)
	}
	acts, err := env.Engine.Repo.ListActivities(env.Ctx, nil, repo.ActivityFilters{ReportID: r.ID})
	if err != nil || len(acts) != 0 {
		t.Fatalf("activities must cascade: %d %v", len(acts), err)
	}
}

func TestSignatureAndCoordinationFields(t *testing.T) {
	env := newTestEnv(t)
	env.approved(t, "u1", "Maria")
	r := env.draft(t, "u1", domain.August)
	if _, err := env.Engine.UploadSignature(env.Ctx, "u1", r.ID, domain.Signature{MimeType: "text/plain", Data: []byte("x")}); !isValidation(err) {
		t.Fatalf("non-image signature accepted: %v", err)
	}
	signed, err := env.Engine.UploadSignature(env.Ctx, "u1", r.ID, domain.Signature{MimeType: "image/png", Data: []byte{0x89, 'P', 'N', 'G'}})
	if err != nil || signed.Signature == nil {
		t.Fatalf("signature: %+v %v", signed, err)
	}
	got, err := env.Engine.GetReport(env.Ctx, "u1", r.ID)
	if err != nil || got.Signature == nil || got.Signature.MimeType != "image/png" || len(got.Signature.Data) != 4 {
		t.Fatalf("stored signature %+v %v", got.Signature, err)
	}
	if _, err := env.Engine.UpdateCoordinationFields(env.Ctx, "u1", r.ID, domain.CoordinationFields{CoordinatorComments: "x"}); !isForbidden(err) {
		t.Fatalf("professional wrote coordination fields: %v", err)
	}
	upd, err := env.Engine.UpdateCoordinationFields(env.Ctx, "admin", r.ID, domain.CoordinationFields{GeneralExecutiveSummary: "Resumo"})
	if err != nil || upd.GeneralExecutiveSummary != "Resumo" {
		t.Fatalf("coordination fields: %+v %v", upd, err)
	}
}

func TestGoals(t *testing.T) {
	env := newTestEnv(t)
	cfg := config.Default()
	n, err := env.Engine.SeedGoals(env.Ctx, cfg.Goals)
	if err != nil || n != len(cfg.Goals) {
		t.Fatalf("seed: %d %v", n, err)
	}
	if n, err := env.Engine.SeedGoals(env.Ctx, cfg.Goals); err != nil || n != 0 {
		t.Fatalf("reseed must be a no-op: %d %v", n, err)
	}
	g, err := env.Engine.AddGoal(env.Ctx, "admin", domain.Goal{Number: "4", Name: "Acessibilidade"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.AddGoal(env.Ctx, "admin", domain.Goal{Number: "4", Name: "dup"}); !isValidation(err) {
		t.Fatalf("duplicate goal number accepted: %v", err)
	}
	toggled, err := env.Engine.ToggleGoal(env.Ctx, "admin", g.ID)
	if err != nil || toggled.Active {
		t.Fatalf("toggle: %+v %v", toggled, err)
	}
	goals, err := env.Engine.ListGoals(env.Ctx, "admin")
	if err != nil || len(goals) != 4 || goals[3].Number != "4" || goals[3].Active {
		t.Fatalf("goals %+v %v", goals, err)
	}
}
