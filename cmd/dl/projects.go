package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"doerline/internal/domain"
	"doerline/internal/engine"
	"doerline/internal/engine/auth"
	"doerline/internal/lifecycle"
)

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Work with projects"}
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectSubmitCmd())
	prj.AddCommand(projectActionsCmd())
	prj.AddCommand(projectQuoteCmd())
	prj.AddCommand(projectPayCmd())
	prj.AddCommand(projectAssignCmd())
	prj.AddCommand(projectDeliverCmd())
	prj.AddCommand(projectQCCmd())
	prj.AddCommand(projectReviseCmd())
	prj.AddCommand(projectCancelCmd())
	prj.AddCommand(projectAutoApproveCmd())
	prj.AddCommand(transitionsCmd())

	simple := []struct {
		use, short string
		run        transitionFunc
	}{
		{"submit-draft", "Submit a draft", engine.Engine.SubmitDraft},
		{"claim", "Claim an unclaimed project", engine.Engine.ClaimProject},
		{"payment-pending", "Mark payment as started", engine.Engine.MarkPaymentPending},
		{"begin-assignment", "Start looking for a doer", engine.Engine.BeginAssignment},
		{"start", "Doer starts working", engine.Engine.StartWork},
		{"submit-qc", "Submit work for quality check", engine.Engine.SubmitForQC},
		{"begin-revision", "Doer picks up a revision", engine.Engine.BeginRevision},
		{"complete", "Accept the delivery", engine.Engine.CompleteProject},
	}
	for _, s := range simple {
		prj.AddCommand(projectTransitionCmd(s.use, s.short, s.run))
	}
	return prj
}

type transitionFunc func(engine.Engine, context.Context, auth.Actor, string) (domain.Project, error)

func projectTransitionCmd(use, short string, run transitionFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <project-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				p, err := run(e, ctx, actor, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
}

func projectListCmd() *cobra.Command {
	var view, status, cursor string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects in a view (mine, unclaimed, assignable, qc_queue, active, all)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				v, err := engine.ParseView(view)
				if err != nil {
					return err
				}
				opts := engine.ListOptions{View: v, Limit: limit}
				if status != "" {
					s, err := lifecycle.Parse(status)
					if err != nil {
						return err
					}
					opts.Status = s
				}
				if cursor != "" {
					parts := strings.SplitN(cursor, "|", 2)
					if len(parts) != 2 {
						return fmt.Errorf("cursor must be <created_at>|<id>")
					}
					opts.CursorCreatedAt, opts.CursorID = parts[0], parts[1]
				}
				items, err := e.ListProjects(ctx, actor, opts)
				if err != nil {
					return err
				}
				return printProjects(items)
			})
		},
	}
	cmd.Flags().StringVar(&view, "view", "", "view name (default mine)")
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().IntVar(&limit, "limit", 50, "page size")
	cmd.Flags().StringVar(&cursor, "cursor", "", "created_at|id of the last row of the previous page")
	return cmd
}

func projectShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <project-id>",
		Short: "Show a project with deliverables and revisions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				detail, err := e.GetProject(ctx, actor, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(detail)
			})
		},
	}
}

func projectSubmitCmd() *cobra.Command {
	var in engine.NewProject
	var words, pages int
	var deadline string
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a new project (as --actor-id, or for --client as the system)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("words") {
				in.WordCount = &words
			}
			if cmd.Flags().Changed("pages") {
				in.PageCount = &pages
			}
			if deadline != "" {
				d, err := parseDeadlineFlag(deadline)
				if err != nil {
					return err
				}
				in.Deadline = &d
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				p, err := e.SubmitProject(ctx, actor, in)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&in.Title, "title", "", "project title")
	cmd.Flags().StringVar(&in.Subject, "subject", "", "subject area")
	cmd.Flags().StringVar(&in.Description, "description", "", "description")
	cmd.Flags().StringVar(&in.ClientID, "client", "", "client id (system only)")
	cmd.Flags().IntVar(&words, "words", 0, "word count")
	cmd.Flags().IntVar(&pages, "pages", 0, "page count")
	cmd.Flags().StringVar(&deadline, "deadline", "", "deadline as RFC 3339 or a duration from now (e.g. 48h)")
	cmd.Flags().BoolVar(&in.Draft, "draft", false, "save as draft")
	return cmd
}

// parseDeadlineFlag accepts an RFC 3339 timestamp or a duration from now.
func parseDeadlineFlag(raw string) (time.Time, error) {
	if d, err := time.ParseDuration(raw); err == nil {
		return time.Now().UTC().Add(d), nil
	}
	t, err := domain.ParseTime(raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("deadline must be RFC 3339 or a duration: %w", err)
	}
	return t, nil
}

func projectActionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "actions <project-id>",
		Short: "List the statuses you may move the project to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				actions, err := e.AvailableActions(ctx, actor, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(actions)
				}
				if len(actions) == 0 {
					fmt.Println("no actions available")
					return nil
				}
				for _, a := range actions {
					fmt.Println(a)
				}
				return nil
			})
		},
	}
}

func projectQuoteCmd() *cobra.Command {
	var userQuote, payout, commission, fee int64
	cmd := &cobra.Command{
		Use:   "quote <project-id>",
		Short: "Quote a project (calculator when no amount is given)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var req engine.QuoteRequest
			set := func(name string, v *int64) *int64 {
				if cmd.Flags().Changed(name) {
					return v
				}
				return nil
			}
			req.UserQuote = set("user-quote", &userQuote)
			req.DoerPayout = set("doer-payout", &payout)
			req.SupervisorCommission = set("supervisor-commission", &commission)
			req.PlatformFee = set("platform-fee", &fee)
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				p, err := e.QuoteProject(ctx, actor, args[0], req)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().Int64Var(&userQuote, "user-quote", 0, "price charged to the client")
	cmd.Flags().Int64Var(&payout, "doer-payout", 0, "doer payout (manual split)")
	cmd.Flags().Int64Var(&commission, "supervisor-commission", 0, "supervisor commission (manual split)")
	cmd.Flags().Int64Var(&fee, "platform-fee", 0, "platform fee (manual split)")
	return cmd
}

func projectPayCmd() *cobra.Command {
	var reference string
	cmd := &cobra.Command{
		Use:   "confirm-payment <project-id>",
		Short: "Confirm the client's payment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				p, err := e.ConfirmPayment(ctx, actor, args[0], reference)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&reference, "reference", "", "payment reference")
	return cmd
}

func projectAssignCmd() *cobra.Command {
	var doerID string
	cmd := &cobra.Command{
		Use:   "assign <project-id>",
		Short: "Assign a doer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				p, err := e.AssignDoer(ctx, actor, args[0], doerID)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&doerID, "doer", "", "doer id")
	return cmd
}

func projectDeliverCmd() *cobra.Command {
	var in engine.DeliverableInput
	cmd := &cobra.Command{
		Use:   "upload <project-id>",
		Short: "Record a deliverable file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				d, err := e.AddDeliverable(ctx, actor, args[0], in)
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().StringVar(&in.FileName, "name", "", "file name")
	cmd.Flags().StringVar(&in.FileURL, "url", "", "file URL")
	cmd.Flags().Int64Var(&in.SizeBytes, "size", 0, "size in bytes")
	cmd.Flags().BoolVar(&in.IsFinal, "final", false, "mark as the final version")
	return cmd
}

func projectQCCmd() *cobra.Command {
	var outcome, note string
	cmd := &cobra.Command{
		Use:   "qc <project-id>",
		Short: "Record a quality check outcome (qc_in_progress, qc_approved, qc_rejected, delivered)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			to, err := lifecycle.Parse(outcome)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				p, err := e.ReviewQC(ctx, actor, args[0], to, note)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&outcome, "status", string(lifecycle.QCApproved), "outcome status")
	cmd.Flags().StringVar(&note, "note", "", "review note")
	return cmd
}

func projectReviseCmd() *cobra.Command {
	var feedback string
	cmd := &cobra.Command{
		Use:     "request-revision <project-id>",
		Aliases: []string{"revise"},
		Short:   "Send the work back with feedback",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				p, err := e.RequestRevision(ctx, actor, args[0], feedback)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&feedback, "feedback", "", "what needs to change")
	return cmd
}

func projectCancelCmd() *cobra.Command {
	var reason string
	var refund bool
	cmd := &cobra.Command{
		Use:   "cancel <project-id>",
		Short: "Cancel a project, optionally as a refund",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				p, err := e.CancelProject(ctx, actor, args[0], reason, refund)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "cancellation reason")
	cmd.Flags().BoolVar(&refund, "refund", false, "end as refunded")
	return cmd
}

func projectAutoApproveCmd() *cobra.Command {
	var window time.Duration
	cmd := &cobra.Command{
		Use:   "auto-approve",
		Short: "Auto-approve deliveries the client left unanswered",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor auth.Actor) error {
				done, err := e.AutoApproveDue(ctx, actor, window)
				if err != nil {
					return err
				}
				return printProjects(done)
			})
		},
	}
	cmd.Flags().DurationVar(&window, "window", 72*time.Hour, "how long a delivery may wait")
	return cmd
}

func transitionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "transitions",
		Short: "Print the status transition table",
		RunE: func(cmd *cobra.Command, args []string) error {
			rows := lifecycle.Table()
			if viper.GetBool("json") {
				return printJSON(rows)
			}
			for _, r := range rows {
				roles := make([]string, len(r.Roles))
				for i, role := range r.Roles {
					roles[i] = string(role)
				}
				fmt.Printf("%-18s -> %-18s %s\n", r.From, r.To, strings.Join(roles, ","))
			}
			return nil
		},
	}
}
