package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"gacpline/internal/app"
	"gacpline/internal/config"
	"gacpline/internal/db"
	"gacpline/internal/domain"
	"gacpline/internal/engine"
	"gacpline/internal/repo"
	"gacpline/internal/scoring"
	"gacpline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "gacp",
	Short: "GACP certification workflow CLI",
	Long: `gacp drives agricultural certification applications through their workflow:
document review, phased payments, CCP inspections, sampled QA verification and
final approval. It also manages training-course enrollments, scheduled reports
and the HTTP API server.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("GACPLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("actor-role", "admin", "actor role")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("actor-role", rootCmd.PersistentFlags().Lookup("actor-role"))
}

func registerCommands() {
	rootCmd.AddCommand(appCmd())
	rootCmd.AddCommand(paymentCmd())
	rootCmd.AddCommand(inspectionCmd())
	rootCmd.AddCommand(qaCmd())
	rootCmd.AddCommand(courseCmd())
	rootCmd.AddCommand(scoreCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(roleCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
}

func cliActor() domain.Actor {
	return domain.Actor{
		ID:   viper.GetString("actor-id"),
		Role: viper.GetString("actor-role"),
	}
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := app.Bootstrap(ctx, viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func appCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "app",
		Short: "Manage certification applications",
		Long:  "Applications flow submitted -> document review -> phased payments -> inspection -> (sampled QA) -> final approval -> certified. Every move is a guarded transition with a history entry.",
	}
	c.AddCommand(appSubmitCmd())
	c.AddCommand(appListCmd())
	c.AddCommand(appShowCmd())
	c.AddCommand(appHistoryCmd())
	c.AddCommand(appTransitionCmd())
	return c
}

func appSubmitCmd() *cobra.Command {
	var opts engine.SubmitOptions
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit an application",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Actor = cliActor()
			if opts.ApplicantID == "" {
				opts.ApplicantID = opts.Actor.ID
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := a.Engine.SubmitApplication(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "application id (generated when empty)")
	cmd.Flags().StringVar(&opts.ApplicantID, "applicant-id", "", "applicant id (defaults to actor)")
	cmd.Flags().StringVar(&opts.FarmName, "farm-name", "", "farm name")
	cmd.Flags().StringVar(&opts.CropType, "crop-type", "", "crop type")
	cmd.Flags().Float64Var(&opts.FarmAreaRai, "farm-area-rai", 0, "farm area in rai")
	cmd.Flags().IntVar(&opts.PriorViolations, "prior-violations", 0, "prior violation count")
	cmd.Flags().StringVar(&opts.ReviewMode, "review-mode", "", "onsite or video")
	_ = cmd.MarkFlagRequired("crop-type")
	return cmd
}

func appListCmd() *cobra.Command {
	var state, applicantID, riskTier string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List applications",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.Repo.ListApplications(ctx, repo.ApplicationFilters{
					State:       state,
					ApplicantID: applicantID,
					RiskTier:    riskTier,
					Limit:       limit,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Applicant", "Crop", "State", "Risk", "Updated"})
				for _, it := range items {
					tw.AppendRow(table.Row{it.ID, it.ApplicantID, it.CropType, it.CurrentState, it.RiskTier, it.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&state, "state", "", "state filter")
	cmd.Flags().StringVar(&applicantID, "applicant-id", "", "applicant filter")
	cmd.Flags().StringVar(&riskTier, "risk-tier", "", "risk tier filter")
	cmd.Flags().IntVar(&limit, "limit", 50, "max rows")
	return cmd
}

func appShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show an application",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := a.Engine.GetApplication(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	return cmd
}

func appHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <id>",
		Short: "Show transition history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				history, err := a.Engine.Repo.ListHistory(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(history)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"From", "To", "Actor", "Role", "Reason", "At"})
				for _, h := range history {
					tw.AppendRow(table.Row{h.FromState, h.ToState, h.ActorID, h.ActorRole, h.Reason, h.At})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func appTransitionCmd() *cobra.Command {
	var target, reason, reviewMode string
	cmd := &cobra.Command{
		Use:   "transition <id>",
		Short: "Move an application along one edge of the state graph",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := a.Engine.Transition(ctx, engine.TransitionOptions{
					ApplicationID: args[0],
					Target:        target,
					Actor:         cliActor(),
					Reason:        reason,
					ReviewMode:    reviewMode,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&target, "to", "", "target state")
	cmd.Flags().StringVar(&reason, "reason", "", "reason recorded in history")
	cmd.Flags().StringVar(&reviewMode, "review-mode", "", "switch review mode (onsite or video)")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func paymentCmd() *cobra.Command {
	c := &cobra.Command{Use: "payment", Short: "Manage phase payments"}
	c.AddCommand(paymentPaidCmd())
	c.AddCommand(paymentStatusCmd())
	c.AddCommand(paymentSweepCmd())
	return c
}

func paymentPaidCmd() *cobra.Command {
	var phase int
	var receipt string
	cmd := &cobra.Command{
		Use:   "paid <application-id>",
		Short: "Mark a payment phase as paid",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := a.Engine.MarkPaid(ctx, args[0], phase, receipt, cliActor())
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().IntVar(&phase, "phase", 1, "payment phase (1 or 2)")
	cmd.Flags().StringVar(&receipt, "receipt", "", "receipt reference")
	return cmd
}

func paymentStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <application-id>",
		Short: "Show payment phases",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				payments, err := a.Engine.Repo.ListPayments(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(payments)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Phase", "Amount (THB)", "Status", "Due", "Paid", "Receipt"})
				for _, p := range payments {
					paidAt := ""
					if p.PaidAt != nil {
						paidAt = *p.PaidAt
					}
					tw.AppendRow(table.Row{p.Phase, p.AmountTHB, p.Status, p.DueAt, paidAt, p.ReceiptRef})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func paymentSweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Expire overdue payments and stale certificates",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				payments, err := a.Engine.SweepExpiredPayments(ctx)
				if err != nil {
					return err
				}
				certs, err := a.Engine.SweepExpiredCertificates(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{
					"expired_payments":     payments,
					"expired_certificates": certs,
				})
			})
		},
	}
	return cmd
}

func inspectionCmd() *cobra.Command {
	c := &cobra.Command{Use: "inspection", Short: "Manage CCP inspections"}
	c.AddCommand(inspectionRecordCmd())
	c.AddCommand(inspectionShowCmd())
	return c
}

func inspectionRecordCmd() *cobra.Command {
	var mode, scoresJSON, conductedAt string
	cmd := &cobra.Command{
		Use:   "record <application-id>",
		Short: "Record a CCP inspection",
		Long:  `Scores are a JSON object over the eight control points, e.g. '{"seed_quality":85,...}'. The weighted total and pass flag are derived, never supplied.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scores, err := parseIntMap(scoresJSON)
			if err != nil {
				return fmt.Errorf("--scores: %w", err)
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				rec, err := a.Engine.RecordInspection(ctx, engine.InspectionOptions{
					ApplicationID: args[0],
					Actor:         cliActor(),
					Mode:          mode,
					CCPScores:     scores,
					ConductedAt:   conductedAt,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(rec)
			})
		},
	}
	cmd.Flags().StringVar(&scoresJSON, "scores", "", "CCP scores as JSON object")
	cmd.Flags().StringVar(&mode, "mode", "", "onsite or video")
	cmd.Flags().StringVar(&conductedAt, "conducted-at", "", "RFC3339 timestamp")
	_ = cmd.MarkFlagRequired("scores")
	return cmd
}

func inspectionShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <application-id>",
		Short: "List inspections for an application",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.Repo.ListInspections(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	return cmd
}

func qaCmd() *cobra.Command {
	c := &cobra.Command{Use: "qa", Short: "Manage QA verifications"}
	c.AddCommand(qaRecordCmd())
	return c
}

func qaRecordCmd() *cobra.Command {
	var checklistJSON, outcome string
	var issues []string
	cmd := &cobra.Command{
		Use:   "record <application-id>",
		Short: "Record a QA verification for a sampled application",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			checklist, err := parseIntMap(checklistJSON)
			if err != nil {
				return fmt.Errorf("--checklist: %w", err)
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				qa, err := a.Engine.RecordQA(ctx, engine.QAOptions{
					ApplicationID:   args[0],
					Actor:           cliActor(),
					ChecklistScores: checklist,
					IssuesFound:     issues,
					Outcome:         outcome,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(qa)
			})
		},
	}
	cmd.Flags().StringVar(&checklistJSON, "checklist", "", `checklist scores as JSON, e.g. '{"documents":90,"photos":85,"report":88,"compliance":92}'`)
	cmd.Flags().StringVar(&outcome, "outcome", "", "approved, needs_correction or rejected")
	cmd.Flags().StringSliceVar(&issues, "issue", nil, "issue found (repeatable)")
	_ = cmd.MarkFlagRequired("checklist")
	_ = cmd.MarkFlagRequired("outcome")
	return cmd
}

func courseCmd() *cobra.Command {
	c := &cobra.Command{Use: "course", Short: "Manage training-course enrollments"}
	c.AddCommand(courseEnrollCmd())
	c.AddCommand(courseProgressCmd())
	c.AddCommand(courseAssessCmd())
	c.AddCommand(courseCompleteCmd())
	return c
}

func courseEnrollCmd() *cobra.Command {
	var farmerID, courseID string
	cmd := &cobra.Command{
		Use:   "enroll",
		Short: "Enroll a farmer in a course",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor := cliActor()
			if farmerID == "" {
				farmerID = actor.ID
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				enr, err := a.Engine.Enroll(ctx, engine.EnrollOptions{
					FarmerID: farmerID,
					CourseID: courseID,
					Actor:    actor,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(enr)
			})
		},
	}
	cmd.Flags().StringVar(&farmerID, "farmer-id", "", "farmer id (defaults to actor)")
	cmd.Flags().StringVar(&courseID, "course-id", "", "course id")
	_ = cmd.MarkFlagRequired("course-id")
	return cmd
}

func courseProgressCmd() *cobra.Command {
	var modulePct, participationPct int
	cmd := &cobra.Command{
		Use:   "progress <enrollment-id>",
		Short: "Record course progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				enr, err := a.Engine.RecordProgress(ctx, args[0], modulePct, participationPct, cliActor())
				if err != nil {
					return err
				}
				return printJSONOrTable(enr)
			})
		},
	}
	cmd.Flags().IntVar(&modulePct, "modules", 0, "module completion percent")
	cmd.Flags().IntVar(&participationPct, "participation", 0, "participation percent")
	return cmd
}

func courseAssessCmd() *cobra.Command {
	var score int
	cmd := &cobra.Command{
		Use:   "assess <enrollment-id>",
		Short: "Record an assessment attempt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				enr, err := a.Engine.RecordAssessment(ctx, args[0], score, cliActor())
				if err != nil {
					return err
				}
				return printJSONOrTable(enr)
			})
		},
	}
	cmd.Flags().IntVar(&score, "score", 0, "assessment score percent")
	_ = cmd.MarkFlagRequired("score")
	return cmd
}

func courseCompleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "complete <enrollment-id>",
		Short: "Complete an enrollment and compute the final score",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				enr, err := a.Engine.CompleteEnrollment(ctx, args[0], cliActor())
				if err != nil {
					return err
				}
				return printJSONOrTable(enr)
			})
		},
	}
	return cmd
}

func scoreCmd() *cobra.Command {
	c := &cobra.Command{Use: "score", Short: "Run score computations without persisting"}
	c.AddCommand(scoreCCPCmd())
	c.AddCommand(scoreCourseCmd())
	c.AddCommand(scoreGapCmd())
	return c
}

func scoreCCPCmd() *cobra.Command {
	var scoresJSON string
	cmd := &cobra.Command{
		Use:   "ccp",
		Short: "Compute a weighted CCP inspection score",
		RunE: func(cmd *cobra.Command, args []string) error {
			scores, err := parseIntMap(scoresJSON)
			if err != nil {
				return fmt.Errorf("--scores: %w", err)
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				result, err := a.Engine.CCP.Compute(scores)
				if err != nil {
					return err
				}
				return printJSONOrTable(result)
			})
		},
	}
	cmd.Flags().StringVar(&scoresJSON, "scores", "", "CCP scores as JSON object")
	_ = cmd.MarkFlagRequired("scores")
	return cmd
}

func scoreCourseCmd() *cobra.Command {
	var modulePct, assessmentPct, participationPct int
	cmd := &cobra.Command{
		Use:   "course",
		Short: "Compute a course final score",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				result, err := scoring.EvaluateCourse(
					modulePct, assessmentPct, participationPct,
					a.Config.Courses.PassingScore, a.Config.Courses.CertificateScore,
				)
				if err != nil {
					return err
				}
				return printJSONOrTable(result)
			})
		},
	}
	cmd.Flags().IntVar(&modulePct, "modules", 0, "module completion percent")
	cmd.Flags().IntVar(&assessmentPct, "assessment", 0, "assessment score percent")
	cmd.Flags().IntVar(&participationPct, "participation", 0, "participation percent")
	return cmd
}

func scoreGapCmd() *cobra.Command {
	var criteriaJSON string
	cmd := &cobra.Command{
		Use:   "gap",
		Short: "Compute a standards-gap score",
		Long:  `Criteria are a JSON array, e.g. '[{"id":"water","weight":30,"met":true}]'.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var criteria []scoring.Criterion
			if err := json.Unmarshal([]byte(criteriaJSON), &criteria); err != nil {
				return fmt.Errorf("--criteria: %w", err)
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				result, err := scoring.ComputeStandardsGap(criteria, a.Config.Scoring.Standards.CertifiedThreshold)
				if err != nil {
					return err
				}
				return printJSONOrTable(result)
			})
		},
	}
	cmd.Flags().StringVar(&criteriaJSON, "criteria", "", "criteria as JSON array")
	_ = cmd.MarkFlagRequired("criteria")
	return cmd
}

func reportCmd() *cobra.Command {
	c := &cobra.Command{Use: "report", Short: "Manage scheduled reports"}
	c.AddCommand(reportScheduleCmd())
	c.AddCommand(reportListCmd())
	c.AddCommand(reportRunCmd())
	c.AddCommand(reportRetryCmd())
	return c
}

func reportScheduleCmd() *cobra.Command {
	var reportType, schedule, firstRunAt string
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Schedule a report",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				rep, err := a.Reports.Schedule(ctx, reportType, schedule, firstRunAt)
				if err != nil {
					return err
				}
				return printJSONOrTable(rep)
			})
		},
	}
	cmd.Flags().StringVar(&reportType, "type", "", "report type (state_summary, certifications)")
	cmd.Flags().StringVar(&schedule, "every", "once", "once, daily, weekly or monthly")
	cmd.Flags().StringVar(&firstRunAt, "first-run-at", "", "RFC3339 first run (defaults to now)")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func reportListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List scheduled reports",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Reports.Repo.ListReports(ctx, status)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Type", "Schedule", "Status", "Next run", "Retries", "Last error"})
				for _, r := range items {
					tw.AppendRow(table.Row{r.ID, r.Type, r.Schedule, r.Status, r.NextRunAt, r.RetryCount, r.LastError})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	return cmd
}

func reportRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run all due reports",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				ran, err := a.Reports.ProcessDue(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"ran": ran})
			})
		},
	}
	return cmd
}

func reportRetryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retry <id>",
		Short: "Re-arm a failed report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				rep, err := a.Reports.Retry(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(rep)
			})
		},
	}
	return cmd
}

func apikeyCmd() *cobra.Command {
	c := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	c.AddCommand(apikeyCreateCmd())
	c.AddCommand(apikeyListCmd())
	c.AddCommand(apikeyRevokeCmd())
	return c
}

func apikeyCreateCmd() *cobra.Command {
	var actorID, role, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (prints the key once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				plaintext := uuid.NewString()
				key := domain.APIKey{
					ID:      uuid.NewString(),
					ActorID: actorID,
					Role:    role,
					Name:    name,
					KeyHash: repo.HashAPIKey(plaintext),
				}
				tx, err := a.DB.BeginTx(ctx, nil)
				if err != nil {
					return err
				}
				defer tx.Rollback()
				now := time.Now().UTC().Format(time.RFC3339)
				if err := a.Engine.Repo.EnsureActor(ctx, tx, key.ActorID, now); err != nil {
					return err
				}
				if err := a.Engine.Repo.AssignRole(ctx, tx, key.ActorID, key.Role); err != nil {
					return err
				}
				if err := a.Engine.Repo.InsertAPIKey(ctx, tx, key); err != nil {
					return err
				}
				if err := tx.Commit(); err != nil {
					return err
				}
				return printJSONOrTable(map[string]string{
					"id":       key.ID,
					"actor_id": key.ActorID,
					"role":     key.Role,
					"key":      plaintext,
				})
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor-for", "", "actor the key authenticates as")
	cmd.Flags().StringVar(&role, "role", "", "role the key carries")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	_ = cmd.MarkFlagRequired("actor-for")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var actorID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				keys, err := a.Engine.Repo.ListAPIKeys(ctx, actorID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Actor", "Role", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Role, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor-for", "", "filter by actor")
	return cmd
}

func apikeyRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.Engine.Repo.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func roleCmd() *cobra.Command {
	c := &cobra.Command{Use: "role", Short: "Manage actor role assignments"}
	c.AddCommand(roleAssignCmd())
	c.AddCommand(roleRevokeCmd())
	c.AddCommand(roleListCmd())
	return c
}

func roleAssignCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "assign <actor-id> <role>",
		Short: "Assign a role to an actor",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				tx, err := a.DB.BeginTx(ctx, nil)
				if err != nil {
					return err
				}
				defer tx.Rollback()
				now := time.Now().UTC().Format(time.RFC3339)
				if err := a.Engine.Repo.EnsureActor(ctx, tx, args[0], now); err != nil {
					return err
				}
				if err := a.Engine.Repo.AssignRole(ctx, tx, args[0], args[1]); err != nil {
					return err
				}
				return tx.Commit()
			})
		},
	}
	return cmd
}

func roleRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke <actor-id> <role>",
		Short: "Revoke a role from an actor",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				tx, err := a.DB.BeginTx(ctx, nil)
				if err != nil {
					return err
				}
				defer tx.Rollback()
				if err := a.Engine.Repo.RevokeRole(ctx, tx, args[0], args[1]); err != nil {
					return err
				}
				return tx.Commit()
			})
		},
	}
	return cmd
}

func roleListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <actor-id>",
		Short: "List an actor's roles",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				roles, err := a.Engine.Repo.ActorRoles(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"actor_id": args[0], "roles": roles})
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	c := &cobra.Command{Use: "log", Short: "Inspect the event log"}
	c.AddCommand(logTailCmd())
	return c
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show latest domain events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				events, err := a.Engine.Repo.LatestEvents(ctx, n, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Entity", "Actor", "Payload"})
				for _, e := range events {
					tw.AppendRow(table.Row{e.ID, e.TS, e.Type, e.EntityKind + "/" + e.EntityID, e.ActorID, e.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind filter")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id filter")
	return cmd
}

func configCmd() *cobra.Command {
	c := &cobra.Command{Use: "config", Short: "Manage workspace config"}
	c.AddCommand(configInitCmd())
	c.AddCommand(configShowCmd())
	return c
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default gacpline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing config")
	return cmd
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var sweepInterval time.Duration
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.Bootstrap(cmd.Context(), viper.GetString("workspace"))
			if err != nil {
				return err
			}
			defer a.Close()
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("GACPLINE_JWT_SECRET"), Log: a.Log}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("GACPLINE_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{
				Engine:   a.Engine,
				Reports:  a.Reports,
				BasePath: basePath,
				Auth:     authCfg,
				Log:      a.Log,
			})
			if err != nil {
				return err
			}
			server.StartWebhookDispatcher(a.Engine, a.Log)
			a.StartMaintenance(cmd.Context(), sweepInterval)
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			a.Log.Info().Str("addr", addr).Str("base_path", basePath).Msg("serving certification API")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().DurationVar(&sweepInterval, "sweep-interval", time.Minute, "period of the report and expiry sweeps")
	return cmd
}

func parseIntMap(raw string) (map[string]int, error) {
	var m map[string]int
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, err
	}
	return m, nil
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
