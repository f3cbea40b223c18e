package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"museu/internal/domain"
	"museu/internal/session"
)

func activityCmd() *cobra.Command {
	act := &cobra.Command{Use: "activity", Short: "Manage report activities"}
	act.AddCommand(activityListCmd())
	act.AddCommand(activityShowCmd())
	act.AddCommand(activitySearchCmd())
	act.AddCommand(activitySaveCmd("create"))
	act.AddCommand(activitySaveCmd("update"))
	act.AddCommand(activityDeleteCmd())
	return act
}

func printActivities(activities []domain.Activity) error {
	if viper.GetBool("json") {
		return printJSON(activities)
	}
	tw := newTable("ID", "Report", "Name", "Museum", "Class", "Status", "Audience")
	total := 0
	for _, a := range activities {
		tw.AppendRow([]any{a.ID, a.ReportID, a.Name, a.Museum, a.Classification, a.Status, a.Audience.Total})
		if a.LinkedActivityID == "" {
			total += a.Audience.Total
		}
	}
	tw.AppendFooter([]any{"", "", "", "", "", "TOTAL", total})
	tw.Render()
	return nil
}

func activityListCmd() *cobra.Command {
	var reportID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List activities",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *session.Session) error {
				var activities []domain.Activity
				var err error
				if reportID != "" {
					activities, _, err = s.ReportActivities(ctx, reportID)
				} else {
					activities, _, err = s.AllActivities(ctx)
				}
				if err != nil {
					return err
				}
				return printActivities(activities)
			})
		},
	}
	cmd.Flags().StringVar(&reportID, "report", "", "only activities of this report")
	return cmd
}

func activityShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show an activity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *session.Session) error {
				return show(s.Activity(ctx, args[0]))
			})
		},
	}
}

func activitySearchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search <name>",
		Short: "Find activities by name, e.g. to link a repeated activity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *session.Session) error {
				found, _, err := s.SearchActivities(ctx, args[0])
				if err != nil {
					return err
				}
				return printActivities(found)
			})
		},
	}
}

func activitySaveCmd(verb string) *cobra.Command {
	var a domain.Activity
	var classification, status string
	var goal, achieved int
	cmd := &cobra.Command{
		Use:   verb,
		Short: verb + " an activity",
		RunE: func(cmd *cobra.Command, args []string) error {
			if verb == "update" {
				if len(args) != 1 {
					return fmt.Errorf("usage: museu activity update <id>")
				}
				a.ID = args[0]
			}
			return withSession(cmd.Context(), func(ctx context.Context, s *session.Session) error {
				next := a
				if next.ID != "" {
					current, _, err := s.Activity(ctx, next.ID)
					if err != nil {
						return err
					}
					next = mergeActivity(cmd, current, next)
				}
				if classification != "" {
					next.Classification = domain.Classification(classification)
				}
				if status != "" {
					next.Status = domain.ActivityStatus(status)
				}
				if v := optionalInt(cmd, "goal", goal); v != nil {
					next.QuantitativeGoal = v
				}
				if v := optionalInt(cmd, "achieved", achieved); v != nil {
					next.AchievedResult = v
				}
				saved, err := s.SaveActivity(ctx, next)
				if err != nil {
					return err
				}
				return printJSONOrTable(saved)
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&a.ReportID, "report", "", "parent report id")
	f.StringVar(&a.Name, "name", "", "activity name")
	f.StringVar(&a.Description, "description", "", "description")
	f.StringVar(&a.Date, "date", "", "date (YYYY-MM-DD)")
	f.StringVar(&a.Museum, "museum", "", "museum of the network")
	f.StringVar(&a.LinkedActivityID, "linked", "", "id of the activity this one repeats")
	f.StringVar(&classification, "class", "", "routine, extra or goalLinked")
	f.StringVar(&status, "status", "", "notStarted, submitted, completed, rescheduled or cancelled")
	f.StringVar(&a.CancellationReason, "cancellation-reason", "", "required for cancelled activities")
	f.StringVar(&a.GoalNumber, "goal-number", "", "linked goal number")
	f.StringVar(&a.GoalDescription, "goal-description", "", "linked goal description")
	f.IntVar(&goal, "goal", 0, "quantitative goal")
	f.IntVar(&achieved, "achieved", 0, "achieved result")
	f.IntVar(&a.Audience.Total, "total", 0, "total audience")
	f.IntVar(&a.Audience.Children, "children", 0, "children")
	f.IntVar(&a.Audience.Youth, "youth", 0, "youth")
	f.IntVar(&a.Audience.Adults, "adults", 0, "adults")
	f.IntVar(&a.Audience.Elderly, "elderly", 0, "elderly")
	f.IntVar(&a.Audience.PCD, "pcd", 0, "people with disabilities")
	return cmd
}

// mergeActivity keeps the stored value of every flag the user did not set.
func mergeActivity(cmd *cobra.Command, current, next domain.Activity) domain.Activity {
	out := current
	changed := cmd.Flags().Changed
	set := func(flag string, dst *string, src string) {
		if changed(flag) {
			*dst = src
		}
	}
	setInt := func(flag string, dst *int, src int) {
		if changed(flag) {
			*dst = src
		}
	}
	set("report", &out.ReportID, next.ReportID)
	set("name", &out.Name, next.Name)
	set("description", &out.Description, next.Description)
	set("date", &out.Date, next.Date)
	set("museum", &out.Museum, next.Museum)
	set("linked", &out.LinkedActivityID, next.LinkedActivityID)
	set("cancellation-reason", &out.CancellationReason, next.CancellationReason)
	set("goal-number", &out.GoalNumber, next.GoalNumber)
	set("goal-description", &out.GoalDescription, next.GoalDescription)
	setInt("total", &out.Audience.Total, next.Audience.Total)
	setInt("children", &out.Audience.Children, next.Audience.Children)
	setInt("youth", &out.Audience.Youth, next.Audience.Youth)
	setInt("adults", &out.Audience.Adults, next.Audience.Adults)
	setInt("elderly", &out.Audience.Elderly, next.Audience.Elderly)
	setInt("pcd", &out.Audience.PCD, next.Audience.PCD)
	return out
}

func activityDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an activity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *session.Session) error {
				if err := s.DeleteActivity(ctx, args[0]); err != nil {
					return err
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	}
}
