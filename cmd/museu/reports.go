package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"museu/internal/domain"
	"museu/internal/lifecycle"
	"museu/internal/session"
)

func reportCmd() *cobra.Command {
	rep := &cobra.Command{Use: "report", Short: "Manage monthly reports"}
	rep.AddCommand(reportListCmd())
	rep.AddCommand(reportShowCmd())
	rep.AddCommand(reportSaveCmd("create"))
	rep.AddCommand(reportSaveCmd("update"))
	rep.AddCommand(reportDeleteCmd())
	rep.AddCommand(reportSubmitCmd())
	rep.AddCommand(reportReviewCmd())
	rep.AddCommand(reportStageCmd())
	rep.AddCommand(reportSignCmd())
	rep.AddCommand(reportCoordinationCmd())
	return rep
}

func reportListCmd() *cobra.Command {
	var mine bool
	var user string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List reports",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *session.Session) error {
				me, _, err := s.OwnProfile(ctx)
				if err != nil {
					return err
				}
				if mine {
					user = me.PrincipalID
				}
				var reports []domain.Report
				if user != "" {
					reports, _, err = s.ReportsForUser(ctx, user)
				} else {
					reports, _, err = s.AllReports(ctx)
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(reports)
				}
				tw := newTable("ID", "Period", "Author", "Status", "Editable")
				for _, r := range reports {
					editable := "no"
					if lifecycle.IsReportEditable(&r, me) {
						editable = "yes"
					}
					tw.AppendRow([]any{r.ID, fmt.Sprintf("%s/%d", r.ReferenceMonth, r.Year), r.AuthorID, r.Status, editable})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&mine, "mine", false, "only my reports")
	cmd.Flags().StringVar(&user, "user", "", "only reports by this principal")
	return cmd
}

func reportShowCmd() *cobra.Command {
	var full bool
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *session.Session) error {
				if full {
					return show(s.ReportWithActivities(ctx, args[0]))
				}
				return show(s.Report(ctx, args[0]))
			})
		},
	}
	cmd.Flags().BoolVar(&full, "full", false, "include activities")
	return cmd
}

func reportSaveCmd(verb string) *cobra.Command {
	var month string
	var year int
	var r domain.Report
	cmd := &cobra.Command{
		Use:   verb,
		Short: verb + " a report",
		RunE: func(cmd *cobra.Command, args []string) error {
			if verb == "update" {
				if len(args) != 1 {
					return fmt.Errorf("usage: museu report update <id>")
				}
				r.ID = args[0]
			}
			return withSession(cmd.Context(), func(ctx context.Context, s *session.Session) error {
				if r.ID != "" {
					current, _, err := s.Report(ctx, r.ID)
					if err != nil {
						return err
					}
					r = mergeReport(cmd, current, r)
				}
				if month != "" {
					m, err := domain.ParseMonth(month)
					if err != nil {
						return err
					}
					r.ReferenceMonth = m
				}
				if cmd.Flags().Changed("year") || r.ID == "" {
					r.Year = year
				}
				saved, err := s.SaveReport(ctx, r)
				if err != nil {
					return err
				}
				return printJSONOrTable(saved)
			})
		},
	}
	cmd.Flags().StringVar(&month, "month", "", "reference month (march..december)")
	cmd.Flags().IntVar(&year, "year", 0, "reference year")
	cmd.Flags().StringVar(&r.ExecutiveSummary, "summary", "", "executive summary")
	cmd.Flags().StringVar(&r.PositivePoints, "positive", "", "positive points")
	cmd.Flags().StringVar(&r.Difficulties, "difficulties", "", "difficulties")
	cmd.Flags().StringVar(&r.Suggestions, "suggestions", "", "suggestions")
	cmd.Flags().StringVar(&r.Opportunities, "opportunities", "", "opportunities")
	return cmd
}

// mergeReport keeps the stored value of every narrative flag the user did not set.
func mergeReport(cmd *cobra.Command, current, next domain.Report) domain.Report {
	keep := func(flag string, dst *string, src string) {
		if !cmd.Flags().Changed(flag) {
			*dst = src
		}
	}
	next.ReferenceMonth = current.ReferenceMonth
	next.Year = current.Year
	keep("summary", &next.ExecutiveSummary, current.ExecutiveSummary)
	keep("positive", &next.PositivePoints, current.PositivePoints)
	keep("difficulties", &next.Difficulties, current.Difficulties)
	keep("suggestions", &next.Suggestions, current.Suggestions)
	keep("opportunities", &next.Opportunities, current.Opportunities)
	return next
}

func reportDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a report and its activities",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *session.Session) error {
				if err := s.DeleteReport(ctx, args[0]); err != nil {
					return err
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	}
}

func reportSubmitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "submit <id>",
		Short: "Submit a report for review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *session.Session) error {
				r, err := s.SubmitReport(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(r)
			})
		},
	}
}

func reportReviewCmd() *cobra.Command {
	var approve, ret bool
	var comment string
	cmd := &cobra.Command{
		Use:   "review <id>",
		Short: "Approve or return a submitted report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if approve == ret {
				return fmt.Errorf("choose exactly one of --approve or --return")
			}
			action := domain.ReviewApprove
			if ret {
				action = domain.ReviewReturn
			}
			return withSession(cmd.Context(), func(ctx context.Context, s *session.Session) error {
				r, err := s.ReviewReport(ctx, args[0], action, comment)
				if err != nil {
					return err
				}
				return printJSONOrTable(r)
			})
		},
	}
	cmd.Flags().BoolVar(&approve, "approve", false, "approve the report")
	cmd.Flags().BoolVar(&ret, "return", false, "return the report for adjustment")
	cmd.Flags().StringVar(&comment, "comment", "", "comment for the author (required with --return)")
	return cmd
}

func reportStageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stage <id> <underReview|analysis>",
		Short: "Move a submitted report to a review stage",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *session.Session) error {
				r, err := s.SetReviewStage(ctx, args[0], domain.ReportStatus(args[1]))
				if err != nil {
					return err
				}
				return printJSONOrTable(r)
			})
		},
	}
}

func reportSignCmd() *cobra.Command {
	var mimeType string
	cmd := &cobra.Command{
		Use:   "sign <id> <image-file>",
		Short: "Attach the author's signature image",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			if mimeType == "" {
				mimeType = http.DetectContentType(data)
			}
			return withSession(cmd.Context(), func(ctx context.Context, s *session.Session) error {
				r, err := s.UploadSignature(ctx, args[0], domain.Signature{MimeType: mimeType, Data: data})
				if err != nil {
					return err
				}
				fmt.Printf("signed %s (%d bytes, %s)\n", r.ID, len(data), mimeType)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&mimeType, "mime-type", "", "image type (detected when empty)")
	return cmd
}

func reportCoordinationCmd() *cobra.Command {
	var f domain.CoordinationFields
	cmd := &cobra.Command{
		Use:   "coordination <id>",
		Short: "Write the coordination fields of a report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *session.Session) error {
				current, _, err := s.Report(ctx, args[0])
				if err != nil {
					return err
				}
				keep := func(flag string, dst *string, src string) {
					if !cmd.Flags().Changed(flag) {
						*dst = src
					}
				}
				keep("comments", &f.CoordinatorComments, current.CoordinatorComments)
				keep("signature", &f.CoordinatorSignature, current.CoordinatorSignature)
				keep("general-summary", &f.GeneralExecutiveSummary, current.GeneralExecutiveSummary)
				keep("consolidated-goals", &f.ConsolidatedGoals, current.ConsolidatedGoals)
				keep("observations", &f.InstitutionalObservations, current.InstitutionalObservations)
				r, err := s.UpdateCoordinationFields(ctx, args[0], f)
				if err != nil {
					return err
				}
				return printJSONOrTable(r)
			})
		},
	}
	cmd.Flags().StringVar(&f.CoordinatorComments, "comments", "", "coordinator comments")
	cmd.Flags().StringVar(&f.CoordinatorSignature, "signature", "", "coordinator signature")
	cmd.Flags().StringVar(&f.GeneralExecutiveSummary, "general-summary", "", "general executive summary")
	cmd.Flags().StringVar(&f.ConsolidatedGoals, "consolidated-goals", "", "consolidated goals")
	cmd.Flags().StringVar(&f.InstitutionalObservations, "observations", "", "institutional observations")
	return cmd
}
