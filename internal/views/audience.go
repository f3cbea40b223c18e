package views

import "museu/internal/domain"

// AudienceFor totals the audience of the reports selected by q.
func AudienceFor(q domain.AudienceQuery, reports []domain.Report, activities []domain.Activity) int {
	sel := &periodSelector{}
	q.Accept(sel)
	keep := map[string]bool{}
	for _, r := range reports {
		if sel.match(r) {
			keep[r.ID] = true
		}
	}
	total := 0
	for _, a := range activities {
		if keep[a.ReportID] && Counted(a) {
			total += a.Audience.Total
		}
	}
	return total
}

type periodSelector struct {
	match func(domain.Report) bool
}

func (s *periodSelector) VisitCumulative(domain.CumulativeTotal) {
	s.match = func(domain.Report) bool { return true }
}

func (s *periodSelector) VisitMonth(q domain.SpecificMonth) {
	s.match = func(r domain.Report) bool { return r.ReferenceMonth == q.Month && r.Year == q.Year }
}

func (s *periodSelector) VisitRange(q domain.CustomRange) {
	s.match = func(r domain.Report) bool { return q.Contains(r.Year, r.ReferenceMonth) }
}
