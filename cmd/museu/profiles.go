package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"museu/internal/cache"
	"museu/internal/domain"
	"museu/internal/gateway"
	"museu/internal/session"
)

func whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the acting profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *session.Session) error {
				me, _, err := s.OwnProfile(ctx)
				if err != nil {
					return err
				}
				approved, _, err := s.IsApproved(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"profile": me, "approved": approved})
				}
				fmt.Printf("%s (%s)\nrole: %s\napproval: %s\nteam: %s\n", me.Name, me.PrincipalID, me.AppRole, me.ApprovalStatus, me.Team)
				if !approved {
					fmt.Println("reports are unavailable until the coordination approves this profile")
				}
				return nil
			})
		},
	}
}

func profileCmd() *cobra.Command {
	p := &cobra.Command{Use: "profile", Short: "Manage user profiles"}
	p.AddCommand(profileUpdateCmd())
	p.AddCommand(profileRequestApprovalCmd())
	p.AddCommand(profileListCmd())
	p.AddCommand(profileEditCmd())
	p.AddCommand(profileRoleCmd())
	p.AddCommand(profileApprovalCmd("approve", domain.ApprovalApproved))
	p.AddCommand(profileApprovalCmd("reject", domain.ApprovalRejected))
	p.AddCommand(profileDeleteCmd())
	p.AddCommand(apiKeyCmd())
	return p
}

func profileInputFlags(cmd *cobra.Command, in *gateway.ProfileInput) {
	cmd.Flags().StringVar(&in.Name, "name", "", "display name")
	cmd.Flags().StringVar(&in.Email, "email", "", "email")
	cmd.Flags().StringVar(&in.Team, "team", "", "museum the person works at")
}

func mergeProfileInput(cmd *cobra.Command, current domain.UserProfile, in gateway.ProfileInput) gateway.ProfileInput {
	out := gateway.ProfileInput{Name: current.Name, Email: current.Email, Team: current.Team}
	if cmd.Flags().Changed("name") {
		out.Name = in.Name
	}
	if cmd.Flags().Changed("email") {
		out.Email = in.Email
	}
	if cmd.Flags().Changed("team") {
		out.Team = in.Team
	}
	return out
}

func profileUpdateCmd() *cobra.Command {
	var in gateway.ProfileInput
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Update your own profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *session.Session) error {
				me, _, err := s.OwnProfile(ctx)
				if err != nil {
					return err
				}
				p, err := s.SaveOwnProfile(ctx, mergeProfileInput(cmd, me, in))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	profileInputFlags(cmd, &in)
	return cmd
}

func profileRequestApprovalCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "request-approval",
		Short: "Ask the coordination to review your profile again",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *session.Session) error {
				p, err := s.RequestApproval(ctx)
				if err != nil {
					return err
				}
				fmt.Println("approval status:", p.ApprovalStatus)
				return nil
			})
		},
	}
}

func profileListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *session.Session) error {
				profiles, _, err := s.Profiles(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(profiles)
				}
				tw := newTable("Principal", "Name", "Role", "Approval", "Team")
				for _, p := range profiles {
					tw.AppendRow([]any{p.PrincipalID, p.Name, p.AppRole, p.ApprovalStatus, p.Team})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func profileEditCmd() *cobra.Command {
	var in gateway.ProfileInput
	cmd := &cobra.Command{
		Use:   "edit <principal>",
		Short: "Edit another user's profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *session.Session) error {
				profiles, _, err := s.Profiles(ctx)
				if err != nil {
					return err
				}
				var current domain.UserProfile
				for _, p := range profiles {
					if p.PrincipalID == args[0] {
						current = p
					}
				}
				p, err := s.UpdateProfile(ctx, args[0], mergeProfileInput(cmd, current, in))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	profileInputFlags(cmd, &in)
	return cmd
}

func profileRoleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "role <principal> <professional|coordinator|coordination|administration>",
		Short: "Assign an application role",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *session.Session) error {
				p, err := s.UpdateRole(ctx, args[0], domain.AppRole(args[1]))
				if err != nil {
					return err
				}
				fmt.Printf("%s is now %s\n", p.PrincipalID, p.AppRole)
				return nil
			})
		},
	}
}

func profileApprovalCmd(use string, status domain.ApprovalStatus) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <principal>",
		Short: use + " a pending profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *session.Session) error {
				p, err := s.SetApproval(ctx, args[0], status)
				if err != nil {
					return err
				}
				fmt.Printf("%s: %s\n", p.PrincipalID, p.ApprovalStatus)
				return nil
			})
		},
	}
}

func profileDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <principal>",
		Short: "Delete a profile (its reports are kept)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *session.Session) error {
				if err := s.DeleteProfile(ctx, args[0]); err != nil {
					return err
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	}
}

func apiKeyCmd() *cobra.Command {
	k := &cobra.Command{Use: "api-key", Short: "Manage API keys for your principal"}
	k.AddCommand(&cobra.Command{
		Use:   "create <name>",
		Short: "Mint a key; it is printed once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, _ *session.Session, gw *gateway.HTTP, _ *cache.Store) error {
				key, meta, err := gw.CreateAPIKey(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"key": key, "api_key": meta})
				}
				fmt.Println(key)
				fmt.Println("id " + meta.ID + ", shown once; store it as MUSEU_API_KEY")
				return nil
			})
		},
	})
	k.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List your keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, _ *session.Session, gw *gateway.HTTP, _ *cache.Store) error {
				keys, err := gw.ListAPIKeys(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := newTable("ID", "Name", "Created")
				for _, key := range keys {
					tw.AppendRow([]any{key.ID, key.Name, key.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	})
	k.AddCommand(&cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke one of your keys",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, _ *session.Session, gw *gateway.HTTP, _ *cache.Store) error {
				if err := gw.RevokeAPIKey(ctx, args[0]); err != nil {
					return err
				}
				fmt.Println("revoked", args[0])
				return nil
			})
		},
	})
	return k
}

func goalCmd() *cobra.Command {
	g := &cobra.Command{Use: "goal", Short: "Manage consolidated goals"}
	g.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List goals",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *session.Session) error {
				goals, _, err := s.Goals(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(goals)
				}
				tw := newTable("ID", "Number", "Name", "Target", "Active")
				for _, goal := range goals {
					target := ""
					if goal.Target != nil {
						target = strconv.Itoa(*goal.Target)
					}
					tw.AppendRow([]any{goal.ID, goal.Number, goal.Name, target, goal.Active})
				}
				tw.Render()
				return nil
			})
		},
	})
	g.AddCommand(goalAddCmd())
	g.AddCommand(&cobra.Command{
		Use:   "toggle <id>",
		Short: "Activate or deactivate a goal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *session.Session) error {
				goal, err := s.ToggleGoal(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Printf("goal %s active=%t\n", goal.Number, goal.Active)
				return nil
			})
		},
	})
	return g
}

func goalAddCmd() *cobra.Command {
	var goal domain.Goal
	var target int
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a goal",
		RunE: func(cmd *cobra.Command, args []string) error {
			goal.Target = optionalInt(cmd, "target", target)
			return withSession(cmd.Context(), func(ctx context.Context, s *session.Session) error {
				created, err := s.AddGoal(ctx, goal)
				if err != nil {
					return err
				}
				return printJSONOrTable(created)
			})
		},
	}
	cmd.Flags().StringVar(&goal.Number, "number", "", "goal number")
	cmd.Flags().StringVar(&goal.Name, "name", "", "goal name")
	cmd.Flags().StringVar(&goal.Description, "description", "", "description")
	cmd.Flags().IntVar(&target, "target", 0, "numeric target")
	return cmd
}
