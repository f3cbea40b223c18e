package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"museu/internal/cache"
	"museu/internal/domain"
	"museu/internal/export"
	"museu/internal/gateway"
	"museu/internal/session"
	"museu/internal/views"
)

func dashboardCmd() *cobra.Command {
	params := map[string]*string{}
	var watch bool
	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Consolidated aggregates for the reports you can see",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := views.ParseFilter(flagGetter(params))
			if err != nil {
				return err
			}
			return withSession(cmd.Context(), func(ctx context.Context, s *session.Session) error {
				if !watch {
					d, _, err := s.Dashboard(ctx, f)
					if err != nil {
						return err
					}
					return printDashboard(os.Stdout, d)
				}
				return watchDashboard(ctx, s, f)
			})
		},
	}
	for _, name := range []string{"month", "year", "museum", "author-id"} {
		params[paramName(name)] = cmd.Flags().String(name, "", "filter by "+name)
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "keep running and redraw on every change")
	return cmd
}

func flagGetter(params map[string]*string) func(string) string {
	return func(name string) string {
		if v, ok := params[name]; ok && v != nil {
			return *v
		}
		return ""
	}
}

// watchDashboard redraws whenever the live feed invalidates the dashboard.
func watchDashboard(ctx context.Context, s *session.Session, f views.Filter) error {
	obs := s.WatchDashboard(f)
	defer obs.Close()
	followErr := make(chan error, 1)
	go func() { followErr <- s.Follow(ctx) }()
	var last time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-followErr:
			return err
		case st, ok := <-obs.Updates():
			if !ok {
				return cache.ErrClosed
			}
			if st.Err != nil {
				fmt.Fprintln(os.Stderr, "dashboard:", st.Err)
				continue
			}
			if st.Status != cache.StatusSuccess || !st.UpdatedAt.After(last) {
				continue
			}
			last = st.UpdatedAt
			d, _ := st.Value.(views.Dashboard)
			fmt.Printf("--- %s ---\n", last.Format(time.RFC3339))
			if err := printDashboard(os.Stdout, d); err != nil {
				return err
			}
		}
	}
}

func printDashboard(w io.Writer, d views.Dashboard) error {
	if viper.GetBool("json") {
		return printJSON(d)
	}
	fmt.Fprintf(w, "reports: %d  activities: %d  audience: %d\n", d.ReportCount, d.ActivityCount, d.TotalAudience)
	counts := func(title string, cs []views.Count) {
		tw := newTable(title, "Count")
		tw.SetOutputMirror(w)
		for _, c := range cs {
			tw.AppendRow([]any{c.Key, c.Count})
		}
		tw.Render()
	}
	counts("Museum", d.ByMuseum)
	counts("Status", d.ByStatus)
	counts("Month", d.ByMonth)

	tw := newTable("Period", "Total", "Children", "Youth", "Adults", "Elderly", "PCD")
	tw.SetOutputMirror(w)
	for _, p := range d.Evolution {
		a := p.Audience
		tw.AppendRow([]any{p.Period, a.Total, a.Children, a.Youth, a.Adults, a.Elderly, a.PCD})
	}
	a := d.Audience
	tw.AppendFooter([]any{"TOTAL", a.Total, a.Children, a.Youth, a.Adults, a.Elderly, a.PCD})
	tw.Render()

	if len(d.PlannedVsAchieved) > 0 {
		tw := newTable("Goal", "Planned", "Achieved", "Activities")
		tw.SetOutputMirror(w)
		for _, g := range d.PlannedVsAchieved {
			tw.AppendRow([]any{g.GoalNumber, g.Planned, g.Achieved, g.Activities})
		}
		tw.Render()
	}
	return nil
}

func audienceCmd() *cobra.Command {
	params := map[string]*string{}
	cmd := &cobra.Command{
		Use:   "audience",
		Short: "Total audience: cumulative, for one month, or over a range",
		Example: `  museu audience
  museu audience --type month --month may --year 2025
  museu audience --type range --start-month march --start-year 2025 --end-month june --end-year 2025`,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := domain.ParseAudienceQuery(flagGetter(params))
			if err != nil {
				return err
			}
			return withSession(cmd.Context(), func(ctx context.Context, s *session.Session) error {
				total, _, err := s.TotalAudience(ctx, q)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"query": domain.AudienceQueryParams(q), "total": total})
				}
				fmt.Println(total)
				return nil
			})
		},
	}
	for _, name := range []string{"type", "month", "year", "start-month", "start-year", "end-month", "end-year"} {
		params[paramName(name)] = cmd.Flags().String(name, "", name)
	}
	return cmd
}

// paramName maps a flag name to its transport parameter.
func paramName(flag string) string {
	return strings.ReplaceAll(flag, "-", "_")
}

func exportCmd() *cobra.Command {
	var format, out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Consolidated export: one row per activity plus a TOTAL row",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *session.Session) error {
				rows, _, err := s.ExportRows(ctx)
				if err != nil {
					return err
				}
				var w io.Writer = os.Stdout
				if out != "" {
					f, err := os.Create(out)
					if err != nil {
						return err
					}
					defer f.Close()
					w = f
				}
				switch format {
				case "csv":
					return export.WriteCSV(w, rows)
				case "table":
					export.RenderTable(w, rows)
					return nil
				case "json":
					return printJSON(rows)
				}
				return fmt.Errorf("unknown format %q (csv, table or json)", format)
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", "csv", "csv, table or json")
	cmd.Flags().StringVarP(&out, "out", "o", "", "write to file instead of stdout")
	return cmd
}

func eventsCmd() *cobra.Command {
	var q gateway.EventQuery
	var follow bool
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Audit events, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			gw := newGateway()
			if !follow {
				events, err := gw.Events(cmd.Context(), q)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := newTable("ID", "Time", "Type", "Entity", "Actor")
				for _, e := range events {
					tw.AppendRow([]any{e.ID, e.TS, e.Type, e.EntityKind + ":" + e.EntityID, e.ActorID})
				}
				tw.Render()
				return nil
			}
			feed, err := gw.Subscribe(cmd.Context())
			if err != nil {
				return err
			}
			for e := range feed {
				if q.Type != "" && e.Type != q.Type {
					continue
				}
				if q.EntityKind != "" && e.EntityKind != q.EntityKind {
					continue
				}
				fmt.Printf("%d %s %s %s:%s %s\n", e.ID, e.TS, e.Type, e.EntityKind, e.EntityID, e.Payload)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&q.Type, "type", "", "event type")
	cmd.Flags().StringVar(&q.EntityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&q.EntityID, "entity-id", "", "entity id")
	cmd.Flags().IntVar(&q.Limit, "n", 20, "number of events")
	cmd.Flags().BoolVar(&follow, "follow", false, "stream new events from the live feed")
	return cmd
}
