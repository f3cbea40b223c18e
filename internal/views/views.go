// Package views folds raw reports and activities into dashboard aggregates.
// Builders are pure and recompute from scratch on every call.
package views

import (
	"sort"
	"strings"

	"museu/internal/domain"
)

// Filter narrows the data set before aggregation. Zero fields match everything.
type Filter struct {
	Month    domain.Month `json:"month,omitempty"`
	Year     int          `json:"year,omitempty"`
	Museum   string       `json:"museum,omitempty"`
	AuthorID string       `json:"author_id,omitempty"`
}

func (f Filter) matchReport(r domain.Report) bool {
	if f.Month != "" && r.ReferenceMonth != f.Month {
		return false
	}
	if f.Year != 0 && r.Year != f.Year {
		return false
	}
	if f.AuthorID != "" && r.AuthorID != f.AuthorID {
		return false
	}
	return true
}

// Apply returns the reports matching f and the activities that belong to them.
// A museum filter applies to activities only.
func (f Filter) Apply(reports []domain.Report, activities []domain.Activity) ([]domain.Report, []domain.Activity) {
	outReports := make([]domain.Report, 0, len(reports))
	keep := make(map[string]bool, len(reports))
	for _, r := range reports {
		if f.matchReport(r) {
			outReports = append(outReports, r)
			keep[r.ID] = true
		}
	}
	outActs := make([]domain.Activity, 0, len(activities))
	for _, a := range activities {
		if !keep[a.ReportID] {
			continue
		}
		if f.Museum != "" && !strings.EqualFold(a.Museum, f.Museum) {
			continue
		}
		outActs = append(outActs, a)
	}
	return outReports, outActs
}

// Count is one group-by bucket.
type Count struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// countBy groups by key preserving first-appearance order, so ties keep input order.
func countBy[T any](items []T, key func(T) string) []Count {
	out := []Count{}
	idx := map[string]int{}
	for _, it := range items {
		k := key(it)
		if i, ok := idx[k]; ok {
			out[i].Count++
			continue
		}
		idx[k] = len(out)
		out = append(out, Count{Key: k, Count: 1})
	}
	return out
}

// CountByMuseum counts activities per museum. Activities with no museum are
// counted under the empty key.
func CountByMuseum(activities []domain.Activity) []Count {
	return countBy(activities, func(a domain.Activity) string { return a.Museum })
}

func CountByStatus(reports []domain.Report) []Count {
	return countBy(reports, func(r domain.Report) string { return string(r.Status) })
}

func CountByMonth(reports []domain.Report) []Count {
	return countBy(reports, func(r domain.Report) string { return string(r.ReferenceMonth) })
}

// AudienceTotals is a sum of audience figures.
type AudienceTotals struct {
	Total    int `json:"total"`
	Children int `json:"children"`
	Youth    int `json:"youth"`
	Adults   int `json:"adults"`
	Elderly  int `json:"elderly"`
	PCD      int `json:"pcd"`
}

func (a *AudienceTotals) add(x domain.Audience) {
	a.Total += x.Total
	a.Children += x.Children
	a.Youth += x.Youth
	a.Adults += x.Adults
	a.Elderly += x.Elderly
	a.PCD += x.PCD
}

// SubTotal is the sum of the five sub-populations.
func (a AudienceTotals) SubTotal() int {
	return a.Children + a.Youth + a.Adults + a.Elderly + a.PCD
}

// Counted reports whether an activity's audience enters the sums. An activity
// linked to another record describes the same event and is not counted twice.
func Counted(a domain.Activity) bool {
	return a.LinkedActivityID == ""
}

// AudienceBreakdown sums every audience field across activities.
func AudienceBreakdown(activities []domain.Activity) AudienceTotals {
	var out AudienceTotals
	for _, a := range activities {
		if Counted(a) {
			out.add(a.Audience)
		}
	}
	return out
}

// TotalAudience sums the declared totals, independently of AudienceBreakdown.
func TotalAudience(activities []domain.Activity) int {
	total := 0
	for _, a := range activities {
		if Counted(a) {
			total += a.Audience.Total
		}
	}
	return total
}

// EvolutionPoint is the audience of one period.
type EvolutionPoint struct {
	Period   string         `json:"period"`
	Audience AudienceTotals `json:"audience"`
}

// MonthlyEvolution groups audience by "YYYY-MM" of the parent report. Keys are
// zero-padded month numbers so lexicographic order is chronological.
func MonthlyEvolution(reports []domain.Report, activities []domain.Activity) []EvolutionPoint {
	period := make(map[string]string, len(reports))
	for _, r := range reports {
		period[r.ID] = domain.PeriodKey(r.Year, r.ReferenceMonth)
	}
	sums := map[string]*AudienceTotals{}
	for _, a := range activities {
		key, ok := period[a.ReportID]
		if !ok || !Counted(a) {
			continue
		}
		s, ok := sums[key]
		if !ok {
			s = &AudienceTotals{}
			sums[key] = s
		}
		s.add(a.Audience)
	}
	keys := make([]string, 0, len(sums))
	for k := range sums {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]EvolutionPoint, 0, len(keys))
	for _, k := range keys {
		out = append(out, EvolutionPoint{Period: k, Audience: *sums[k]})
	}
	return out
}

// GoalProgress pairs planned and achieved figures for one goal number.
type GoalProgress struct {
	GoalNumber string `json:"goal_number"`
	Planned    int    `json:"planned"`
	Achieved   int    `json:"achieved"`
	Activities int    `json:"activities"`
}

// PlannedVsAchieved covers goal-linked activities that declare a quantitative goal.
// Goal numbers appear in first-seen order.
func PlannedVsAchieved(activities []domain.Activity) []GoalProgress {
	out := []GoalProgress{}
	idx := map[string]int{}
	for _, a := range activities {
		if a.Classification != domain.ClassGoalLinked || a.QuantitativeGoal == nil {
			continue
		}
		i, ok := idx[a.GoalNumber]
		if !ok {
			i = len(out)
			idx[a.GoalNumber] = i
			out = append(out, GoalProgress{GoalNumber: a.GoalNumber})
		}
		out[i].Planned += *a.QuantitativeGoal
		if a.AchievedResult != nil {
			out[i].Achieved += *a.AchievedResult
		}
		out[i].Activities++
	}
	return out
}

// Dashboard is the consolidated aggregate set.
type Dashboard struct {
	Filter            Filter           `json:"filter"`
	ReportCount       int              `json:"report_count"`
	ActivityCount     int              `json:"activity_count"`
	ByMuseum          []Count          `json:"by_museum"`
	ByStatus          []Count          `json:"by_status"`
	ByMonth           []Count          `json:"by_month"`
	Audience          AudienceTotals   `json:"audience"`
	TotalAudience     int              `json:"total_audience"`
	Evolution         []EvolutionPoint `json:"evolution"`
	PlannedVsAchieved []GoalProgress   `json:"planned_vs_achieved"`
}

// BuildDashboard applies f and computes every aggregate.
func BuildDashboard(reports []domain.Report, activities []domain.Activity, f Filter) Dashboard {
	rs, as := f.Apply(reports, activities)
	return Dashboard{
		Filter:            f,
		ReportCount:       len(rs),
		ActivityCount:     len(as),
		ByMuseum:          CountByMuseum(as),
		ByStatus:          CountByStatus(rs),
		ByMonth:           CountByMonth(rs),
		Audience:          AudienceBreakdown(as),
		TotalAudience:     TotalAudience(as),
		Evolution:         MonthlyEvolution(rs, as),
		PlannedVsAchieved: PlannedVsAchieved(as),
	}
}
