package domain

import (
	"fmt"
	"strconv"
)

// AudienceQuery selects which reports contribute to a total-audience figure.
// The set of variants is closed: CumulativeTotal, SpecificMonth and CustomRange.
// Consumers dispatch through AudienceQueryVisitor so that adding a variant breaks
// every consumer at compile time instead of falling through to a default.
type AudienceQuery interface {
	Accept(v AudienceQueryVisitor)
	isAudienceQuery()
}

type AudienceQueryVisitor interface {
	VisitCumulative(CumulativeTotal)
	VisitMonth(SpecificMonth)
	VisitRange(CustomRange)
}

type CumulativeTotal struct{}

type SpecificMonth struct {
	Month Month
	Year  int
}

type CustomRange struct {
	StartMonth Month
	StartYear  int
	EndMonth   Month
	EndYear    int
}

func (q CumulativeTotal) Accept(v AudienceQueryVisitor) { v.VisitCumulative(q) }
func (q SpecificMonth) Accept(v AudienceQueryVisitor)   { v.VisitMonth(q) }
func (q CustomRange) Accept(v AudienceQueryVisitor)     { v.VisitRange(q) }

func (CumulativeTotal) isAudienceQuery() {}
func (SpecificMonth) isAudienceQuery()   {}
func (CustomRange) isAudienceQuery()     {}

// Contains reports whether the period falls inside the range, bounds included.
func (q CustomRange) Contains(year int, m Month) bool {
	key := PeriodKey(year, m)
	return key >= PeriodKey(q.StartYear, q.StartMonth) && key <= PeriodKey(q.EndYear, q.EndMonth)
}

// Query parameter names used on the wire.
const (
	AudienceTypeCumulative = "cumulative"
	AudienceTypeMonth      = "month"
	AudienceTypeRange      = "range"
)

// AudienceQueryParams flattens a query for transport as URL parameters.
func AudienceQueryParams(q AudienceQuery) map[string]string {
	p := audienceParams{out: map[string]string{}}
	q.Accept(&p)
	return p.out
}

type audienceParams struct {
	out map[string]string
}

func (p *audienceParams) VisitCumulative(CumulativeTotal) {
	p.out["type"] = AudienceTypeCumulative
}

func (p *audienceParams) VisitMonth(q SpecificMonth) {
	p.out["type"] = AudienceTypeMonth
	p.out["month"] = string(q.Month)
	p.out["year"] = strconv.Itoa(q.Year)
}

func (p *audienceParams) VisitRange(q CustomRange) {
	p.out["type"] = AudienceTypeRange
	p.out["start_month"] = string(q.StartMonth)
	p.out["start_year"] = strconv.Itoa(q.StartYear)
	p.out["end_month"] = string(q.EndMonth)
	p.out["end_year"] = strconv.Itoa(q.EndYear)
}

// ParseAudienceQuery rebuilds a query from transport parameters.
func ParseAudienceQuery(get func(string) string) (AudienceQuery, error) {
	switch get("type") {
	case "", AudienceTypeCumulative:
		return CumulativeTotal{}, nil
	case AudienceTypeMonth:
		m, err := ParseMonth(get("month"))
		if err != nil {
			return nil, err
		}
		y, err := parseYear(get("year"))
		if err != nil {
			return nil, err
		}
		return SpecificMonth{Month: m, Year: y}, nil
	case AudienceTypeRange:
		sm, err := ParseMonth(get("start_month"))
		if err != nil {
			return nil, err
		}
		sy, err := parseYear(get("start_year"))
		if err != nil {
			return nil, err
		}
		em, err := ParseMonth(get("end_month"))
		if err != nil {
			return nil, err
		}
		ey, err := parseYear(get("end_year"))
		if err != nil {
			return nil, err
		}
		q := CustomRange{StartMonth: sm, StartYear: sy, EndMonth: em, EndYear: ey}
		if PeriodKey(sy, sm) > PeriodKey(ey, em) {
			return nil, fmt.Errorf("invalid audience range: start after end")
		}
		return q, nil
	default:
		return nil, fmt.Errorf("invalid audience query type %q", get("type"))
	}
}

func parseYear(s string) (int, error) {
	y, err := strconv.Atoi(s)
	if err != nil || y <= 0 {
		return 0, fmt.Errorf("invalid year %q", s)
	}
	return y, nil
}
