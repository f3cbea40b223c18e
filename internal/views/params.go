package views

import (
	"fmt"
	"strconv"

	"museu/internal/domain"
)

// Params encodes f as transport parameters, omitting zero fields.
func (f Filter) Params() map[string]string {
	out := map[string]string{}
	if f.Month != "" {
		out["month"] = string(f.Month)
	}
	if f.Year != 0 {
		out["year"] = strconv.Itoa(f.Year)
	}
	if f.Museum != "" {
		out["museum"] = f.Museum
	}
	if f.AuthorID != "" {
		out["author_id"] = f.AuthorID
	}
	return out
}

// ParseFilter rebuilds a Filter from transport parameters.
func ParseFilter(get func(string) string) (Filter, error) {
	var f Filter
	if s := get("month"); s != "" {
		m, err := domain.ParseMonth(s)
		if err != nil {
			return f, err
		}
		f.Month = m
	}
	if s := get("year"); s != "" {
		y, err := strconv.Atoi(s)
		if err != nil || y <= 0 {
			return f, fmt.Errorf("invalid year %q", s)
		}
		f.Year = y
	}
	f.Museum = get("museum")
	f.AuthorID = get("author_id")
	return f, nil
}
