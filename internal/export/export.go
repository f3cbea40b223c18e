// Package export turns reports and activities into consolidated rows for CSV
// files and terminal tables.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"museu/internal/domain"
	"museu/internal/views"
)

const totalLabel = "TOTAL"

// Row is one activity joined with its parent report.
type Row struct {
	ReportID         string
	Month            string
	Year             int
	AuthorID         string
	AuthorName       string
	Team             string
	ReportStatus     string
	ActivityID       string
	ActivityName     string
	Description      string
	Date             string
	Museum           string
	Classification   string
	ActivityStatus   string
	LinkedActivityID string
	GoalNumber       string
	QuantitativeGoal int
	AchievedResult   int
	Total            int
	Children         int
	Youth            int
	Adults           int
	Elderly          int
	PCD              int
}

// Header lists the CSV columns in record order.
var Header = []string{
	"report_id", "month", "year", "author_id", "author_name", "team", "report_status",
	"activity_id", "activity_name", "description", "date", "museum", "classification", "activity_status",
	"linked_activity_id", "goal_number", "quantitative_goal", "achieved_result",
	"total", "children", "youth", "adults", "elderly", "pcd",
}

// Rows emits one row per activity whose report is known, in activity order.
// Profiles may be nil; missing optional numbers count as zero. A linked
// activity repeats another record, so its audience columns are zero.
func Rows(reports []domain.Report, activities []domain.Activity, profiles []domain.UserProfile) []Row {
	byID := make(map[string]domain.Report, len(reports))
	for _, r := range reports {
		byID[r.ID] = r
	}
	people := make(map[string]domain.UserProfile, len(profiles))
	for _, p := range profiles {
		people[p.PrincipalID] = p
	}
	out := make([]Row, 0, len(activities))
	for _, a := range activities {
		r, ok := byID[a.ReportID]
		if !ok {
			continue
		}
		p := people[r.AuthorID]
		var audience domain.Audience
		if views.Counted(a) {
			audience = a.Audience
		}
		out = append(out, Row{
			ReportID:         r.ID,
			Month:            string(r.ReferenceMonth),
			Year:             r.Year,
			AuthorID:         r.AuthorID,
			AuthorName:       p.Name,
			Team:             p.Team,
			ReportStatus:     string(r.Status),
			ActivityID:       a.ID,
			ActivityName:     a.Name,
			Description:      a.Description,
			Date:             a.Date,
			Museum:           a.Museum,
			Classification:   string(a.Classification),
			ActivityStatus:   string(a.Status),
			LinkedActivityID: a.LinkedActivityID,
			GoalNumber:       a.GoalNumber,
			QuantitativeGoal: deref(a.QuantitativeGoal),
			AchievedResult:   deref(a.AchievedResult),
			Total:            audience.Total,
			Children:         audience.Children,
			Youth:            audience.Youth,
			Adults:           audience.Adults,
			Elderly:          audience.Elderly,
			PCD:              audience.PCD,
		})
	}
	return out
}

func deref(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}

// TotalRow sums the numeric columns of rows.
func TotalRow(rows []Row) Row {
	t := Row{ReportID: totalLabel}
	for _, r := range rows {
		t.QuantitativeGoal += r.QuantitativeGoal
		t.AchievedResult += r.AchievedResult
		t.Total += r.Total
		t.Children += r.Children
		t.Youth += r.Youth
		t.Adults += r.Adults
		t.Elderly += r.Elderly
		t.PCD += r.PCD
	}
	return t
}

// Record renders the row as CSV fields.
func (r Row) Record() []string {
	year := ""
	if r.Year != 0 {
		year = strconv.Itoa(r.Year)
	}
	return []string{
		r.ReportID, r.Month, year, r.AuthorID, r.AuthorName, r.Team, r.ReportStatus,
		r.ActivityID, r.ActivityName, r.Description, r.Date, r.Museum, r.Classification, r.ActivityStatus,
		r.LinkedActivityID, r.GoalNumber, strconv.Itoa(r.QuantitativeGoal), strconv.Itoa(r.AchievedResult),
		strconv.Itoa(r.Total), strconv.Itoa(r.Children), strconv.Itoa(r.Youth),
		strconv.Itoa(r.Adults), strconv.Itoa(r.Elderly), strconv.Itoa(r.PCD),
	}
}

// WriteCSV writes the header, rows and a trailing TOTAL row. Fields with commas,
// quotes or newlines are quoted.
func WriteCSV(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, r := range rows {
		if err := cw.Write(r.Record()); err != nil {
			return err
		}
	}
	if err := cw.Write(TotalRow(rows).Record()); err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSV parses a file produced by WriteCSV. The last record is the total
// row and is returned separately.
func ReadCSV(r io.Reader) ([]Row, Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(Header)
	records, err := cr.ReadAll()
	if err != nil {
		return nil, Row{}, fmt.Errorf("read csv: %w", err)
	}
	if len(records) == 0 || strings.Join(records[0], ",") != strings.Join(Header, ",") {
		return nil, Row{}, fmt.Errorf("read csv: unexpected header")
	}
	if len(records) < 2 {
		return nil, Row{}, fmt.Errorf("read csv: missing total row")
	}
	last := len(records) - 1
	total, err := parseRecord(records[last])
	if err != nil {
		return nil, Row{}, fmt.Errorf("read csv line %d: %w", last+1, err)
	}
	var rows []Row
	for i, rec := range records[1:last] {
		row, err := parseRecord(rec)
		if err != nil {
			return nil, Row{}, fmt.Errorf("read csv line %d: %w", i+2, err)
		}
		rows = append(rows, row)
	}
	return rows, total, nil
}

func parseRecord(rec []string) (Row, error) {
	nums := make([]int, 0, 9)
	for _, i := range []int{2, 16, 17, 18, 19, 20, 21, 22, 23} {
		if rec[i] == "" {
			nums = append(nums, 0)
			continue
		}
		v, err := strconv.Atoi(rec[i])
		if err != nil {
			return Row{}, fmt.Errorf("column %s: %w", Header[i], err)
		}
		nums = append(nums, v)
	}
	return Row{
		ReportID: rec[0], Month: rec[1], Year: nums[0], AuthorID: rec[3], AuthorName: rec[4], Team: rec[5],
		ReportStatus: rec[6], ActivityID: rec[7], ActivityName: rec[8], Description: rec[9], Date: rec[10],
		Museum: rec[11], Classification: rec[12], ActivityStatus: rec[13], LinkedActivityID: rec[14], GoalNumber: rec[15],
		QuantitativeGoal: nums[1], AchievedResult: nums[2],
		Total: nums[3], Children: nums[4], Youth: nums[5], Adults: nums[6], Elderly: nums[7], PCD: nums[8],
	}, nil
}

// RenderTable prints a compact consolidated table with a TOTAL footer.
func RenderTable(w io.Writer, rows []Row) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Report", "Month", "Author", "Activity", "Museum", "Class", "Total", "Children", "Youth", "Adults", "Elderly", "PCD"})
	for _, r := range rows {
		tw.AppendRow(table.Row{
			r.ReportID, fmt.Sprintf("%s/%d", r.Month, r.Year), firstNonEmpty(r.AuthorName, r.AuthorID),
			r.ActivityName, r.Museum, r.Classification,
			r.Total, r.Children, r.Youth, r.Adults, r.Elderly, r.PCD,
		})
	}
	t := TotalRow(rows)
	tw.AppendFooter(table.Row{totalLabel, "", "", "", "", "", t.Total, t.Children, t.Youth, t.Adults, t.Elderly, t.PCD})
	tw.Render()
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
