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
)

func taskCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Post, find and work on tasks",
		Long:  "Tasks go OPEN -> IN_PROGRESS -> COMPLETE. Commands act as --profile.",
	}
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskSearchCmd())
	task.AddCommand(taskShowCmd())
	task.AddCommand(taskDeleteCmd())
	task.AddCommand(taskShortlistCmd())
	task.AddCommand(taskDiscardCmd())
	task.AddCommand(taskApplyCmd())
	task.AddCommand(taskApplicantsCmd())
	task.AddCommand(taskAcceptCmd())
	task.AddCommand(taskCompleteCmd())
	task.AddCommand(taskRateCmd())
	return task
}

func taskCreateCmd() *cobra.Command {
	var opts engine.TaskCreateOptions
	cmd := &cobra.Command{
		Use:   "create <title>",
		Short: "Post a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Title = args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				me, err := actingProfile(ctx, e)
				if err != nil {
					return err
				}
				opts.ActorID = me.ID
				t, err := e.CreateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printTask(t)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "task id (default: generated)")
	cmd.Flags().StringVar(&opts.Description, "description", "", "what needs doing")
	cmd.Flags().IntVar(&opts.Points, "points", 0, "reward points")
	cmd.Flags().StringVar(&opts.Location, "location", "", "where the task takes place")
	cmd.Flags().BoolVar(&opts.IsRemote, "remote", false, "task can be done remotely")
	cmd.Flags().StringArrayVar(&opts.Questions, "question", nil, "question for applicants (repeatable, max 3)")
	cmd.Flags().StringSliceVar(&opts.SkillCodes, "skills", nil, "required skill codes")
	return cmd
}

func taskListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks posted by the acting profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				me, err := actingProfile(ctx, e)
				if err != nil {
					return err
				}
				items, err := e.PosterTasks(ctx, me.ID, domain.TaskStatus(strings.ToUpper(status)))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"ID", "Title", "Status", "Location", "Helper", "Updated"})
				for _, t := range items {
					helper := ""
					if t.HelperID != nil {
						helper = *t.HelperID
					}
					tw.AppendRow(table.Row{t.ID, t.Title, t.Status, t.Location, helper, t.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "OPEN, IN_PROGRESS or COMPLETE")
	return cmd
}

func taskSearchCmd() *cobra.Command {
	var f engine.SearchFilters
	var anonymous bool
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search open tasks, ranked for the acting profile",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				f.Query = args[0]
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				callerID := ""
				if !anonymous && viper.GetString("profile") != "" {
					me, err := actingProfile(ctx, e)
					if err != nil {
						return err
					}
					callerID = me.ID
				}
				items, err := e.Search(ctx, callerID, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"Rank", "ID", "Title", "Location", "Points", "Skills"})
				for _, t := range items {
					rank := "-"
					if t.DisplayRank != nil {
						rank = fmt.Sprint(*t.DisplayRank)
					}
					tw.AppendRow(table.Row{rank, t.ID, t.Title, t.Location, t.Points, skillCodes(t.Skills)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Location, "location", "", "location filter")
	cmd.Flags().StringSliceVar(&f.SkillCodes, "skills", nil, "require these skill codes")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max results")
	cmd.Flags().BoolVar(&anonymous, "anonymous", false, "search without ranking for --profile")
	return cmd
}

func taskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show a task and the acting profile's interaction with it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetString("profile") == "" {
					return printTask(t)
				}
				me, err := actingProfile(ctx, e)
				if err != nil {
					return err
				}
				in, err := e.Interaction(ctx, me.ID, t.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"task": t, "interaction": in.State, "record": in.Record})
				}
				if err := printTask(t); err != nil {
					return err
				}
				fmt.Println("interaction:", in.State)
				return nil
			})
		},
	}
}

func taskDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <task-id>",
		Short: "Delete a task you posted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				me, err := actingProfile(ctx, e)
				if err != nil {
					return err
				}
				if err := e.DeleteTask(ctx, me.ID, args[0]); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"deleted": true, "id": args[0]})
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	}
}

// interactionCmd builds a command that runs fn as the acting profile
// against one task and prints the resulting interaction.
func interactionCmd(use, short string, fn func(ctx context.Context, e engine.Engine, actorID, taskID string) (domain.ProfileTask, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <task-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				me, err := actingProfile(ctx, e)
				if err != nil {
					return err
				}
				pt, err := fn(ctx, e, me.ID, args[0])
				if err != nil {
					return err
				}
				return printProfileTasks([]domain.ProfileTask{pt})
			})
		},
	}
}

func taskShortlistCmd() *cobra.Command {
	return interactionCmd("shortlist", "Bookmark a task", func(ctx context.Context, e engine.Engine, actorID, taskID string) (domain.ProfileTask, error) {
		return e.Shortlist(ctx, actorID, taskID)
	})
}

func taskDiscardCmd() *cobra.Command {
	return interactionCmd("discard", "Hide a task from your searches", func(ctx context.Context, e engine.Engine, actorID, taskID string) (domain.ProfileTask, error) {
		return e.Discard(ctx, actorID, taskID)
	})
}

func taskApplyCmd() *cobra.Command {
	var answers []string
	var quote int
	cmd := interactionCmd("apply", "Apply to a task", nil)
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
			me, err := actingProfile(ctx, e)
			if err != nil {
				return err
			}
			pt, err := e.Apply(ctx, engine.ApplyOptions{
				ActorID: me.ID,
				TaskID:  args[0],
				Answers: answers,
				Quote:   optionalInt(cmd, "quote", quote),
			})
			if err != nil {
				return err
			}
			return printProfileTasks([]domain.ProfileTask{pt})
		})
	}
	cmd.Flags().StringArrayVar(&answers, "answer", nil, "answer to the task's questions, in order (repeatable, max 3)")
	cmd.Flags().IntVar(&quote, "quote", 0, "price quote")
	return cmd
}

func taskApplicantsCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "applicants <task-id>",
		Short: "List interactions with a task you posted, best rated first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				me, err := actingProfile(ctx, e)
				if err != nil {
					return err
				}
				items, err := e.Applicants(ctx, me.ID, args[0], domain.ProfileTaskStatus(strings.ToUpper(status)))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"Interaction", "Profile", "Username", "Status", "Rating", "Completed", "Quote"})
				for _, a := range items {
					quote := ""
					if a.Quote != nil {
						quote = fmt.Sprint(*a.Quote)
					}
					tw.AppendRow(table.Row{a.ID, a.ProfileID, a.Username, a.Status, fmt.Sprintf("%.2f", a.ProfileRating), a.TasksCompleted, quote})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "only interactions in this status")
	return cmd
}

func taskAcceptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "accept <task-id> <applicant-profile-id>",
		Short: "Assign an applicant as the helper",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				me, err := actingProfile(ctx, e)
				if err != nil {
					return err
				}
				res, err := e.AcceptApplicant(ctx, me.ID, args[0], args[1])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				return printTask(res.Task)
			})
		},
	}
}

func taskCompleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "complete <task-id>",
		Short: "Mark an in-progress task complete",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				me, err := actingProfile(ctx, e)
				if err != nil {
					return err
				}
				t, err := e.Complete(ctx, me.ID, args[0])
				if err != nil {
					return err
				}
				return printTask(t)
			})
		},
	}
}

func taskRateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rate <task-id> <helper-profile-id> <1-5>",
		Short: "Rate the helper of a completed task",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var rating int
			if _, err := fmt.Sscanf(args[2], "%d", &rating); err != nil {
				return fmt.Errorf("rating must be a number: %w", err)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				me, err := actingProfile(ctx, e)
				if err != nil {
					return err
				}
				res, err := e.RateHelper(ctx, me.ID, args[0], args[1], rating)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				return printProfile(res.Profile)
			})
		},
	}
}

func applicationCmd() *cobra.Command {
	app := &cobra.Command{
		Use:   "application",
		Short: "Review applications to your tasks",
	}
	review := func(use, short string, fn func(e engine.Engine) func(context.Context, string, string) (domain.ProfileTask, error)) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <interaction-id>",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
					me, err := actingProfile(ctx, e)
					if err != nil {
						return err
					}
					pt, err := fn(e)(ctx, me.ID, args[0])
					if err != nil {
						return err
					}
					return printProfileTasks([]domain.ProfileTask{pt})
				})
			},
		}
	}
	app.AddCommand(review("reject", "Reject an application", func(e engine.Engine) func(context.Context, string, string) (domain.ProfileTask, error) {
		return e.RejectApplication
	}))
	app.AddCommand(review("shortlist", "Shortlist an application", func(e engine.Engine) func(context.Context, string, string) (domain.ProfileTask, error) {
		return e.ShortlistApplication
	}))

	var status string
	mine := &cobra.Command{
		Use:   "mine",
		Short: "List the acting profile's interactions with other tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				me, err := actingProfile(ctx, e)
				if err != nil {
					return err
				}
				items, err := e.HelperTasks(ctx, me.ID, domain.ProfileTaskStatus(strings.ToUpper(status)))
				if err != nil {
					return err
				}
				return printProfileTasks(items)
			})
		},
	}
	mine.Flags().StringVar(&status, "status", "", "only interactions in this status")
	app.AddCommand(mine)
	return app
}

func printTask(t domain.Task) error {
	if viper.GetBool("json") {
		return printJSON(t)
	}
	tw := newTable(table.Row{"Field", "Value"})
	tw.AppendRow(table.Row{"id", t.ID})
	tw.AppendRow(table.Row{"title", t.Title})
	tw.AppendRow(table.Row{"status", t.Status})
	tw.AppendRow(table.Row{"owner", t.OwnerID})
	if t.HelperID != nil {
		tw.AppendRow(table.Row{"helper", *t.HelperID})
	}
	tw.AppendRow(table.Row{"location", t.Location})
	tw.AppendRow(table.Row{"remote", t.IsRemote})
	tw.AppendRow(table.Row{"points", t.Points})
	tw.AppendRow(table.Row{"skills", skillCodes(t.Skills)})
	for i, q := range []string{t.Question1, t.Question2, t.Question3} {
		if q != "" {
			tw.AppendRow(table.Row{fmt.Sprintf("question %d", i+1), q})
		}
	}
	tw.Render()
	return nil
}

func printProfileTasks(items []domain.ProfileTask) error {
	if viper.GetBool("json") {
		if len(items) == 1 {
			return printJSON(items[0])
		}
		return printJSON(items)
	}
	tw := newTable(table.Row{"ID", "Task", "Profile", "Status", "Updated"})
	for _, pt := range items {
		tw.AppendRow(table.Row{pt.ID, pt.TaskID, pt.ProfileID, pt.Status, pt.UpdatedAt})
	}
	tw.Render()
	return nil
}
