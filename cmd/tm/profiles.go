package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskmarket/internal/domain"
	"taskmarket/internal/engine"
	"taskmarket/internal/repo"
)

func profileCmd() *cobra.Command {
	p := &cobra.Command{Use: "profile", Short: "Manage profiles"}
	p.AddCommand(profileCreateCmd())
	p.AddCommand(profileListCmd())
	p.AddCommand(profileShowCmd())
	p.AddCommand(profileUpdateCmd())
	p.AddCommand(profileSkillsCmd())
	return p
}

func profileCreateCmd() *cobra.Command {
	var opts engine.ProfileCreateOptions
	cmd := &cobra.Command{
		Use:   "create <username>",
		Short: "Create an account and its profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Username = args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.CreateProfile(ctx, opts)
				if err != nil {
					return err
				}
				return printProfile(p)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "profile id (default: generated)")
	cmd.Flags().StringVar(&opts.Email, "email", "", "email address")
	cmd.Flags().StringVar(&opts.FirstName, "first-name", "", "first name")
	cmd.Flags().StringVar(&opts.LastName, "last-name", "", "last name")
	cmd.Flags().StringVar(&opts.Location, "location", "", "location used for ranking")
	cmd.Flags().StringVar(&opts.Description, "description", "", "about the profile")
	cmd.Flags().StringVar(&opts.Photo, "photo", "", "photo url")
	return cmd
}

func profileListCmd() *cobra.Command {
	var f repo.ProfileFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListProfiles(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"ID", "Username", "Name", "Location", "Rating", "Completed", "Skills"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Username, strings.TrimSpace(p.FirstName + " " + p.LastName), p.Location, fmt.Sprintf("%.2f", p.Rating), p.TasksCompleted, skillCodes(p.Skills)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Location, "location", "", "location filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max profiles")
	return cmd
}

func profileShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show [id|username]",
		Short: "Show a profile (default: the acting profile)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				viper.Set("profile", args[0])
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := actingProfile(ctx, e)
				if err != nil {
					return err
				}
				return printProfile(p)
			})
		},
	}
	return cmd
}

func profileUpdateCmd() *cobra.Command {
	var email, first, last, location, desc, photo string
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Update the acting profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			upd := engine.ProfileUpdate{
				Email:       optionalString(cmd, "email", email),
				FirstName:   optionalString(cmd, "first-name", first),
				LastName:    optionalString(cmd, "last-name", last),
				Location:    optionalString(cmd, "location", location),
				Description: optionalString(cmd, "description", desc),
				Photo:       optionalString(cmd, "photo", photo),
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				me, err := actingProfile(ctx, e)
				if err != nil {
					return err
				}
				p, err := e.UpdateProfile(ctx, me.ID, me.ID, upd)
				if err != nil {
					return err
				}
				return printProfile(p)
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&first, "first-name", "", "first name")
	cmd.Flags().StringVar(&last, "last-name", "", "last name")
	cmd.Flags().StringVar(&location, "location", "", "location")
	cmd.Flags().StringVar(&desc, "description", "", "about the profile")
	cmd.Flags().StringVar(&photo, "photo", "", "photo url")
	return cmd
}

func profileSkillsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "skills <code>...",
		Short: "Replace the acting profile's skills",
		Long:  "Replace the acting profile's skills with the given skill codes. Pass no codes to clear them.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				me, err := actingProfile(ctx, e)
				if err != nil {
					return err
				}
				catalog, err := e.ListSkills(ctx)
				if err != nil {
					return err
				}
				byCode := make(map[string]string, len(catalog))
				for _, s := range catalog {
					byCode[s.Code] = s.ID
				}
				ids := make([]string, 0, len(args))
				for _, code := range args {
					id, ok := byCode[code]
					if !ok {
						return fmt.Errorf("unknown skill %s", code)
					}
					ids = append(ids, id)
				}
				p, err := e.UpdateSkills(ctx, me.ID, ids)
				if err != nil {
					return err
				}
				return printProfile(p)
			})
		},
	}
	return cmd
}

func skillCmd() *cobra.Command {
	s := &cobra.Command{Use: "skill", Short: "Manage the skill catalog"}
	s.AddCommand(&cobra.Command{
		Use:   "add <code> <title>",
		Short: "Add a skill",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				sk, err := e.AddSkill(ctx, viper.GetString("profile"), args[0], args[1])
				if err != nil {
					return err
				}
				return printJSONOrTable(sk)
			})
		},
	})
	s.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List skills",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListSkills(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"ID", "Code", "Title"})
				for _, sk := range items {
					tw.AppendRow(table.Row{sk.ID, sk.Code, sk.Title})
				}
				tw.Render()
				return nil
			})
		},
	})
	return s
}

func keyCmd() *cobra.Command {
	k := &cobra.Command{Use: "key", Short: "Manage API keys"}
	var name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for the acting profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				me, err := actingProfile(ctx, e)
				if err != nil {
					return err
				}
				key, secret, err := e.CreateAPIKey(ctx, me.ID, name)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]string{"id": key.ID, "profile_id": key.ProfileID, "key": secret})
				}
				fmt.Println("api key (shown once):", secret)
				return nil
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "label for the key")
	k.AddCommand(create)
	return k
}

func limitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "limit [id|username]",
		Short: "Show a profile's application allowance",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				viper.Set("profile", args[0])
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := actingProfile(ctx, e)
				if err != nil {
					return err
				}
				a, err := e.ApplicationAllowance(ctx, p.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(a)
				}
				tw := newTable(table.Row{"Profile", "Rating", "Quota", "Used", "Window", "Under limit"})
				tw.AppendRow(table.Row{p.Username, fmt.Sprintf("%.2f", a.Rating), a.Quota, a.Used, a.Window, a.Under})
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func printProfile(p domain.Profile) error {
	if viper.GetBool("json") {
		return printJSON(p)
	}
	tw := newTable(table.Row{"Field", "Value"})
	tw.AppendRow(table.Row{"id", p.ID})
	tw.AppendRow(table.Row{"username", p.Username})
	tw.AppendRow(table.Row{"name", strings.TrimSpace(p.FirstName + " " + p.LastName)})
	tw.AppendRow(table.Row{"location", p.Location})
	tw.AppendRow(table.Row{"rating", fmt.Sprintf("%.2f", p.Rating)})
	tw.AppendRow(table.Row{"shortlisted", p.ShortlistCount})
	tw.AppendRow(table.Row{"completed", p.TasksCompleted})
	tw.AppendRow(table.Row{"skills", skillCodes(p.Skills)})
	tw.Render()
	return nil
}

func skillCodes(skills []domain.Skill) string {
	codes := make([]string, len(skills))
	for i, s := range skills {
		codes[i] = s.Code
	}
	return strings.Join(codes, ",")
}
