package views_test

import (
	"testing"

	"museu/internal/domain"
	"museu/internal/views"
)

func intp(v int) *int { return &v }

func fixture() ([]domain.Report, []domain.Activity) {
	reports := []domain.Report{
		{ID: "r1", AuthorID: "u1", ReferenceMonth: domain.March, Year: 2025, Status: domain.ReportApproved},
		{ID: "r2", AuthorID: "u2", ReferenceMonth: domain.April, Year: 2025, Status: domain.ReportSubmitted},
		{ID: "r3", AuthorID: "u1", ReferenceMonth: domain.December, Year: 2024, Status: domain.ReportDraft},
		{ID: "r4", AuthorID: "u3", ReferenceMonth: domain.March, Year: 2025, Status: domain.ReportSubmitted},
	}
	activities := []domain.Activity{
		{ID: "a1", ReportID: "r1", Museum: "Museu do Ipiranga", Audience: domain.Audience{Total: 30, Children: 10, Youth: 5, Adults: 10, Elderly: 3, PCD: 2}},
		{ID: "a2", ReportID: "r2", Museum: "Casa das Rosas", Audience: domain.Audience{Total: 12, Adults: 12},
			Classification: domain.ClassGoalLinked, GoalNumber: "1", QuantitativeGoal: intp(20), AchievedResult: intp(12)},
		{ID: "a3", ReportID: "r3", Museum: "Museu do Ipiranga", Audience: domain.Audience{Total: 8, Elderly: 8},
			Classification: domain.ClassGoalLinked, GoalNumber: "2", QuantitativeGoal: intp(5), AchievedResult: intp(8)},
		{ID: "a4", ReportID: "r4", Museum: "Casa das Rosas", Audience: domain.Audience{Total: 7, Youth: 7},
			Classification: domain.ClassGoalLinked, GoalNumber: "1", QuantitativeGoal: intp(10)},
		{ID: "a5", ReportID: "r4", Museum: "Casa das Rosas", LinkedActivityID: "a1", Audience: domain.Audience{Total: 30, Adults: 30}},
		{ID: "a6", ReportID: "r1", Museum: "Pinacoteca", Classification: domain.ClassGoalLinked, GoalNumber: "3"},
	}
	return reports, activities
}

func TestEmptyInputsYieldZeroAggregates(t *testing.T) {
	d := views.BuildDashboard(nil, nil, views.Filter{})
	if d.ByMuseum == nil || d.ByStatus == nil || d.ByMonth == nil || d.Evolution == nil || d.PlannedVsAchieved == nil {
		t.Fatalf("expected non-nil empty slices: %+v", d)
	}
	if d.TotalAudience != 0 || d.Audience != (views.AudienceTotals{}) || d.ReportCount != 0 {
		t.Fatalf("expected zero aggregate: %+v", d)
	}
}

func TestCountsKeepFirstAppearanceOrder(t *testing.T) {
	reports, activities := fixture()
	byMuseum := views.CountByMuseum(activities)
	want := []views.Count{
		{Key: "Museu do Ipiranga", Count: 2},
		{Key: "Casa das Rosas", Count: 3},
		{Key: "Pinacoteca", Count: 1},
	}
	if len(byMuseum) != len(want) {
		t.Fatalf("unexpected museums %+v", byMuseum)
	}
	for i := range want {
		if byMuseum[i] != want[i] {
			t.Fatalf("bucket %d = %+v, want %+v", i, byMuseum[i], want[i])
		}
	}
	byStatus := views.CountByStatus(reports)
	if byStatus[0].Key != "approved" || byStatus[1].Key != "submitted" || byStatus[1].Count != 2 {
		t.Fatalf("unexpected status counts %+v", byStatus)
	}
	byMonth := views.CountByMonth(reports)
	if byMonth[0].Key != "march" || byMonth[0].Count != 2 {
		t.Fatalf("unexpected month counts %+v", byMonth)
	}
}

func TestAudienceCrossCheck(t *testing.T) {
	_, activities := fixture()
	b := views.AudienceBreakdown(activities)
	if b.SubTotal() != views.TotalAudience(activities) {
		t.Fatalf("breakdown %d != total %d", b.SubTotal(), views.TotalAudience(activities))
	}
	if b.Total != 57 {
		t.Fatalf("linked activity must not be double-counted, total=%d", b.Total)
	}
}

func TestMonthlyEvolutionChronological(t *testing.T) {
	reports, activities := fixture()
	ev := views.MonthlyEvolution(reports, activities)
	var periods []string
	for _, p := range ev {
		periods = append(periods, p.Period)
	}
	want := []string{"2024-12", "2025-03", "2025-04"}
	if len(periods) != len(want) {
		t.Fatalf("periods %v", periods)
	}
	for i := range want {
		if periods[i] != want[i] {
			t.Fatalf("periods %v, want %v", periods, want)
		}
	}
	if ev[1].Audience.Total != 37 {
		t.Fatalf("march audience = %d", ev[1].Audience.Total)
	}
}

func TestPlannedVsAchieved(t *testing.T) {
	_, activities := fixture()
	got := views.PlannedVsAchieved(activities)
	if len(got) != 2 {
		t.Fatalf("expected goals 1 and 2 only, got %+v", got)
	}
	if got[0].GoalNumber != "1" || got[0].Planned != 30 || got[0].Achieved != 12 || got[0].Activities != 2 {
		t.Fatalf("goal 1 = %+v", got[0])
	}
	if got[1].GoalNumber != "2" || got[1].Achieved != 8 {
		t.Fatalf("goal 2 = %+v", got[1])
	}
}

func TestMonthFilterAndGrandTotals(t *testing.T) {
	reports, activities := fixture()
	march := views.BuildDashboard(reports, activities, views.Filter{Month: domain.March})
	if march.ReportCount != 2 || march.TotalAudience != 37 {
		t.Fatalf("march dashboard %+v", march)
	}
	for _, c := range march.ByMonth {
		if c.Key != "march" {
			t.Fatalf("non-march bucket %+v", c)
		}
	}
	all := views.BuildDashboard(reports, activities, views.Filter{})
	sum := 0
	reportSum := 0
	for _, m := range domain.Months {
		d := views.BuildDashboard(reports, activities, views.Filter{Month: m})
		sum += d.TotalAudience
		reportSum += d.ReportCount
	}
	if sum != all.TotalAudience || reportSum != all.ReportCount {
		t.Fatalf("per-month sums %d/%d != grand totals %d/%d", sum, reportSum, all.TotalAudience, all.ReportCount)
	}
}

func TestMuseumFilter(t *testing.T) {
	reports, activities := fixture()
	d := views.BuildDashboard(reports, activities, views.Filter{Museum: "casa das rosas"})
	if d.ActivityCount != 3 || d.TotalAudience != 19 {
		t.Fatalf("museum dashboard %+v", d)
	}
}

func TestAudienceForQueries(t *testing.T) {
	reports, activities := fixture()
	if got := views.AudienceFor(domain.CumulativeTotal{}, reports, activities); got != 57 {
		t.Fatalf("cumulative = %d", got)
	}
	if got := views.AudienceFor(domain.SpecificMonth{Month: domain.March, Year: 2025}, reports, activities); got != 37 {
		t.Fatalf("march = %d", got)
	}
	rng := domain.CustomRange{StartMonth: domain.December, StartYear: 2024, EndMonth: domain.March, EndYear: 2025}
	if got := views.AudienceFor(rng, reports, activities); got != 45 {
		t.Fatalf("range = %d", got)
	}
}
