package domain

import (
	"fmt"
	"strings"
)

// Month is a reference month of the reporting calendar. Reports cover March
// through December.
type Month string

const (
	March     Month = "march"
	April     Month = "april"
	May       Month = "may"
	June      Month = "june"
	July      Month = "july"
	August    Month = "august"
	September Month = "september"
	October   Month = "october"
	November  Month = "november"
	December  Month = "december"
)

// Months is the month-order table. Month names do not sort chronologically.
var Months = []Month{March, April, May, June, July, August, September, October, November, December}

var monthNumbers = map[Month]int{
	March: 3, April: 4, May: 5, June: 6, July: 7,
	August: 8, September: 9, October: 10, November: 11, December: 12,
}

// Number returns the calendar number (3..12), or 0 for an unknown month.
func (m Month) Number() int {
	return monthNumbers[m]
}

func (m Month) Valid() bool {
	_, ok := monthNumbers[m]
	return ok
}

// PeriodKey returns the zero-padded "YYYY-MM" key, which sorts chronologically.
func PeriodKey(year int, m Month) string {
	return fmt.Sprintf("%04d-%02d", year, m.Number())
}

// ParseMonth accepts a month name in any case.
func ParseMonth(s string) (Month, error) {
	m := Month(strings.ToLower(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", fmt.Errorf("invalid reference month %q", s)
	}
	return m, nil
}
