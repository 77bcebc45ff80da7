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

	"regcycle/internal/app"
	"regcycle/internal/catalog"
	"regcycle/internal/config"
	"regcycle/internal/db"
	"regcycle/internal/domain"
	"regcycle/internal/engine"
	"regcycle/internal/migrate"
	"regcycle/internal/repo"
	"regcycle/internal/scheduler"
	"regcycle/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "rc",
	Short: "Regcycle CLI",
	Long: `Regcycle orchestrates recurring regulatory reporting cycles.
Core concepts:
- Workspace: your .regcycle directory holding the database; report configs are stored in the DB.
- Report: a registered regulatory report with a frequency and submission deadline rule.
- Cycle: one run of a report for a reporting period, moving through data_gathering -> validation -> review -> approval -> submission.
- Steps: the dependency-ordered work graph inside a cycle; agent steps run automated work, checkpoint steps wait for people.
- Human tasks: review and sign-off requests; the CFO attestation gates entry into the submission phase.
- Checklist: submission checklist generated from the report's template with deadline-relative due dates.
- Issues: data quality problems; a critical unresolved issue blocks impacted cycles.
- Audit trail: every state change is recorded, view with 'rc log tail'.`,
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
	viper.SetEnvPrefix("REGCYCLE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("report", "", "report id (overrides config default)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("report", rootCmd.PersistentFlags().Lookup("report"))
}

func registerCommands() {
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(cycleCmd())
	rootCmd.AddCommand(agentCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(checklistCmd())
	rootCmd.AddCommand(alertsCmd())
	rootCmd.AddCommand(issueCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(serveCmd())
}

func reportCmd() *cobra.Command {
	rep := &cobra.Command{Use: "report", Short: "Manage reports"}
	rep.AddCommand(reportRegisterCmd())
	rep.AddCommand(reportListCmd())
	rep.AddCommand(reportShowCmd())
	rep.AddCommand(reportConfigCmd())
	return rep
}

func reportRegisterCmd() *cobra.Command {
	var id, name, frequency string
	var dueDays int
	var businessDays bool
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a report",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				return fmt.Errorf("--id required")
			}
			if !config.ValidFrequency(frequency) {
				return fmt.Errorf("invalid frequency %q", frequency)
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				rep := domain.Report{
					ID:               id,
					Name:             name,
					Frequency:        frequency,
					DueDaysAfterEnd:  dueDays,
					BusinessDaysOnly: businessDays,
					CreatedAt:        time.Now().UTC().Format(time.RFC3339),
				}
				if err := r.InsertReport(ctx, rep); err != nil {
					return err
				}
				if err := r.UpsertReportConfig(ctx, id, config.Default(id)); err != nil {
					return err
				}
				return printJSONOrTable(rep)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "report id")
	cmd.Flags().StringVar(&name, "name", "", "report name")
	cmd.Flags().StringVar(&frequency, "frequency", "quarterly", "submission frequency (daily, weekly, monthly, quarterly, annual)")
	cmd.Flags().IntVar(&dueDays, "due-days", 20, "days after period end until submission deadline")
	cmd.Flags().BoolVar(&businessDays, "business-days", true, "count business days only")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func reportListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List reports",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListReports(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				t := newTable("ID", "NAME", "FREQUENCY", "DUE DAYS", "BUSINESS DAYS")
				for _, rep := range items {
					t.AppendRow(table.Row{rep.ID, rep.Name, rep.Frequency, rep.DueDaysAfterEnd, rep.BusinessDaysOnly})
				}
				t.Render()
				return nil
			})
		},
	}
	return cmd
}

func reportShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a report",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				rep, err := e.Repo.GetReport(ctx, e.Config.Report.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(rep)
			})
		},
	}
	return cmd
}

func reportConfigCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage report config"}
	cfg.AddCommand(reportConfigShowCmd())
	cfg.AddCommand(reportConfigImportCmd())
	cfg.AddCommand(reportConfigInitCmd())
	return cfg
}

func reportConfigShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show report config stored in DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
	return cmd
}

func reportConfigImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import report config from YAML into the DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(filePath)
			if err != nil {
				return err
			}
			cfg, err := config.FromYAML(data)
			if err != nil {
				return err
			}
			reportID := cfg.Report.ID
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				if reportID == "" {
					reportID = e.Config.Report.ID
				}
				if err := e.Repo.UpsertReportConfig(ctx, reportID, cfg); err != nil {
					return err
				}
				return printJSONOrTable(cfg)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML config")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func reportConfigInitCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default config template to a file",
		RunE: func(cmd *cobra.Command, args []string) error {
			reportID := viper.GetString("report")
			data := config.GenerateDefault(reportID)
			if out == "" || out == "-" {
				fmt.Print(data)
				return nil
			}
			if err := os.WriteFile(out, []byte(data), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote default config to %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "regcycle.yaml", "output path (- for stdout)")
	return cmd
}

func cycleCmd() *cobra.Command {
	cyc := &cobra.Command{
		Use:   "cycle",
		Short: "Manage reporting cycles",
		Long:  "A cycle is one run of a report for a period. It carries the step graph, checkpoints, tasks, and checklist, and moves through phases until submission.",
	}
	cyc.AddCommand(cycleStartCmd())
	cyc.AddCommand(cycleListCmd())
	cyc.AddCommand(cycleShowCmd())
	cyc.AddCommand(cycleStepsCmd())
	cyc.AddCommand(cyclePauseCmd())
	cyc.AddCommand(cycleResumeCmd())
	cyc.AddCommand(cycleAdvanceCmd())
	cyc.AddCommand(cycleCancelCmd())
	return cyc
}

func cycleStartCmd() *cobra.Command {
	var periodEnd string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a reporting cycle",
		RunE: func(cmd *cobra.Command, args []string) error {
			if periodEnd == "" {
				return fmt.Errorf("--period-end required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				c, err := e.StartCycle(ctx, engine.StartCycleOptions{
					ReportID:  e.Config.Report.ID,
					PeriodEnd: periodEnd,
					ActorID:   viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&periodEnd, "period-end", "", "reporting period end (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("period-end")
	return cmd
}

func cycleListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cycles for the report",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				items, err := e.Repo.ListCycles(ctx, e.Config.Report.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				t := newTable("ID", "PERIOD END", "PHASE", "STATUS")
				for _, c := range items {
					t.AppendRow(table.Row{c.ID, c.PeriodEnd, c.Phase, c.Status})
				}
				t.Render()
				return nil
			})
		},
	}
	return cmd
}

func cycleShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <cycle-id>",
		Short: "Show a cycle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				c, err := e.Repo.GetCycle(ctx, args[0])
				if err != nil {
					return err
				}
				c.Checkpoints, err = e.Repo.ListCheckpoints(ctx, c.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	return cmd
}

func cycleStepsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "steps <cycle-id>",
		Short: "List workflow steps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				steps, err := e.Repo.ListSteps(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(steps)
				}
				t := newTable("NAME", "KIND", "PHASE", "STATUS", "DEPENDS ON")
				for _, s := range steps {
					kind := "agent"
					if s.IsCheckpoint {
						kind = "checkpoint"
					}
					t.AppendRow(table.Row{s.Name, kind, s.Phase, s.Status, strings.Join(s.DependsOn, ", ")})
				}
				t.Render()
				return nil
			})
		},
	}
	return cmd
}

func cyclePauseCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "pause <cycle-id>",
		Short: "Pause a cycle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				c, err := e.PauseCycle(ctx, args[0], reason, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "pause reason")
	return cmd
}

func cycleResumeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resume <cycle-id>",
		Short: "Resume a paused cycle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				c, err := e.ResumeCycle(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	return cmd
}

func cycleAdvanceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "advance <cycle-id>",
		Short: "Advance a cycle to its next phase",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				c, err := e.AdvancePhase(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	return cmd
}

func cycleCancelCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "cancel <cycle-id>",
		Short: "Cancel a cycle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				c, err := e.CancelCycle(ctx, args[0], reason, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "cancel reason")
	return cmd
}

func agentCmd() *cobra.Command {
	agent := &cobra.Command{
		Use:   "agent",
		Short: "Trigger automated work",
	}
	agent.AddCommand(agentTriggerCmd())
	agent.AddCommand(agentTypesCmd())
	return agent
}

func agentTriggerCmd() *cobra.Command {
	var cycleID string
	cmd := &cobra.Command{
		Use:   "trigger <work-type>",
		Short: "Run one agent step",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cycleID == "" {
				return fmt.Errorf("--cycle required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				e.Executor = localExecutor()
				step, err := e.TriggerAgent(ctx, args[0], cycleID, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(step)
			})
		},
	}
	cmd.Flags().StringVar(&cycleID, "cycle", "", "cycle id")
	_ = cmd.MarkFlagRequired("cycle")
	return cmd
}

func agentTypesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "types",
		Short: "List work types and their dependencies",
		RunE: func(cmd *cobra.Command, args []string) error {
			if viper.GetBool("json") {
				out := make([]map[string]any, 0, len(catalog.WorkTypes))
				for _, wt := range catalog.WorkTypes {
					phase, _ := catalog.PhaseOf(wt)
					out = append(out, map[string]any{
						"work_type":  wt,
						"phase":      phase,
						"depends_on": catalog.DependenciesOf(wt),
					})
				}
				return printJSON(out)
			}
			t := newTable("WORK TYPE", "PHASE", "DEPENDS ON")
			for _, wt := range catalog.WorkTypes {
				phase, _ := catalog.PhaseOf(wt)
				deps := make([]string, 0)
				for _, d := range catalog.DependenciesOf(wt) {
					deps = append(deps, string(d))
				}
				t.AppendRow(table.Row{wt, phase, strings.Join(deps, ", ")})
			}
			t.Render()
			return nil
		},
	}
	return cmd
}

// localExecutor simulates agent work for CLI-triggered runs. Real agents sit
// behind the HTTP API or a custom binary embedding the engine.
func localExecutor() engine.AgentExecutor {
	return engine.ExecutorFunc(func(ctx context.Context, workType catalog.WorkType, run engine.AgentContext) (engine.AgentResult, error) {
		started := time.Now()
		return engine.AgentResult{
			Output: map[string]any{
				"work_type": string(workType),
				"cycle_id":  run.CycleID,
				"simulated": true,
			},
			Duration: time.Since(started),
		}, nil
	})
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Manage human tasks",
		Long:  "Human tasks are decision requests tied to phase checkpoints. Completing one records the decision and rationale; an approved CFO attestation unlocks the submission phase.",
	}
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskCompleteCmd())
	task.AddCommand(taskEscalateCmd())
	return task
}

func taskCreateCmd() *cobra.Command {
	var opts engine.TaskCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a human task",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				t, err := e.CreateHumanTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&opts.CycleID, "cycle", "", "cycle id")
	cmd.Flags().StringVar(&opts.TaskType, "type", "", "task type (checkpoint name, e.g. attestation)")
	cmd.Flags().StringVar(&opts.Title, "title", "", "task title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "task description")
	cmd.Flags().StringVar(&opts.AssigneeID, "assignee", "", "assignee id")
	cmd.Flags().StringVar(&opts.RequiredRole, "role", "", "required role")
	cmd.Flags().StringVar(&opts.DueDate, "due", "", "due date (RFC3339)")
	_ = cmd.MarkFlagRequired("cycle")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func taskListCmd() *cobra.Command {
	var cycleID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List human tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cycleID == "" {
				return fmt.Errorf("--cycle required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				tasks, err := e.Repo.ListTasks(ctx, cycleID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				t := newTable("ID", "TYPE", "TITLE", "ROLE", "STATUS", "DECISION")
				for _, task := range tasks {
					decision := ""
					if task.Decision != nil {
						decision = *task.Decision
					}
					t.AppendRow(table.Row{task.ID, task.TaskType, task.Title, task.RequiredRole, task.Status, decision})
				}
				t.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&cycleID, "cycle", "", "cycle id")
	_ = cmd.MarkFlagRequired("cycle")
	return cmd
}

func taskCompleteCmd() *cobra.Command {
	var decision, rationale string
	cmd := &cobra.Command{
		Use:   "complete <task-id>",
		Short: "Record a task decision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				t, err := e.CompleteHumanTask(ctx, args[0], decision, rationale, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&decision, "decision", "", "decision (approved, approved_with_changes, rejected)")
	cmd.Flags().StringVar(&rationale, "rationale", "", "decision rationale")
	_ = cmd.MarkFlagRequired("decision")
	_ = cmd.MarkFlagRequired("rationale")
	return cmd
}

func taskEscalateCmd() *cobra.Command {
	var level int
	cmd := &cobra.Command{
		Use:   "escalate <task-id>",
		Short: "Escalate a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				t, err := e.EscalateTask(ctx, args[0], level, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().IntVar(&level, "level", 1, "escalation level")
	return cmd
}

func checklistCmd() *cobra.Command {
	cl := &cobra.Command{Use: "checklist", Short: "Manage submission checklists"}
	cl.AddCommand(checklistGenerateCmd())
	cl.AddCommand(checklistListCmd())
	cl.AddCommand(checklistCheckCmd())
	return cl
}

func checklistGenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate <cycle-id>",
		Short: "Generate the submission checklist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withScheduler(cmd.Context(), func(ctx context.Context, s scheduler.Scheduler) error {
				items, err := s.GenerateChecklist(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printChecklist(items)
			})
		},
	}
	return cmd
}

func checklistListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <cycle-id>",
		Short: "List checklist items",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withScheduler(cmd.Context(), func(ctx context.Context, s scheduler.Scheduler) error {
				items, err := s.Repo.ListChecklist(ctx, args[0])
				if err != nil {
					return err
				}
				return printChecklist(items)
			})
		},
	}
	return cmd
}

func checklistCheckCmd() *cobra.Command {
	var uncheck bool
	cmd := &cobra.Command{
		Use:   "check <item-id>",
		Short: "Mark a checklist item complete",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withScheduler(cmd.Context(), func(ctx context.Context, s scheduler.Scheduler) error {
				item, allDone, err := s.UpdateChecklistStatus(ctx, args[0], !uncheck, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if allDone && !viper.GetBool("json") {
					fmt.Println("All checklist items complete.")
				}
				return printJSONOrTable(item)
			})
		},
	}
	cmd.Flags().BoolVar(&uncheck, "uncheck", false, "mark incomplete instead")
	return cmd
}

func alertsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alerts <cycle-id>",
		Short: "Show deadline alerts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withScheduler(cmd.Context(), func(ctx context.Context, s scheduler.Scheduler) error {
				alerts, err := s.GetDeadlineAlerts(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(alerts)
				}
				t := newTable("LEVEL", "KIND", "DESCRIPTION", "DUE", "DAYS LEFT")
				for _, a := range alerts {
					t.AppendRow(table.Row{a.Level, a.ItemKind, a.Description, a.DueDate, a.DaysRemaining})
				}
				t.Render()
				return nil
			})
		},
	}
	return cmd
}

func issueCmd() *cobra.Command {
	iss := &cobra.Command{
		Use:   "issue",
		Short: "Manage data quality issues",
		Long:  "A critical unresolved issue that names a report blocks that report's active cycles until it is resolved.",
	}
	iss.AddCommand(issueOpenCmd())
	iss.AddCommand(issueListCmd())
	iss.AddCommand(issueResolveCmd())
	return iss
}

func issueOpenCmd() *cobra.Command {
	var title, severity string
	var impacted []string
	cmd := &cobra.Command{
		Use:   "open",
		Short: "Open an issue",
		RunE: func(cmd *cobra.Command, args []string) error {
			if title == "" {
				return fmt.Errorf("--title required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				iss := domain.Issue{
					ID:              uuid.New().String(),
					Title:           title,
					Severity:        severity,
					Status:          "open",
					ImpactedReports: impacted,
					CreatedAt:       time.Now().UTC().Format(time.RFC3339),
				}
				if err := e.Repo.InsertIssue(ctx, iss); err != nil {
					return err
				}
				if severity == "critical" {
					for _, reportID := range impacted {
						cycles, err := e.Repo.ListCycles(ctx, reportID)
						if err != nil {
							return err
						}
						for _, c := range cycles {
							if c.Status != engine.CycleActive {
								continue
							}
							if _, err := e.CheckAndPause(ctx, c.ID, viper.GetString("actor-id")); err != nil {
								return err
							}
						}
					}
				}
				return printJSONOrTable(iss)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "issue title")
	cmd.Flags().StringVar(&severity, "severity", "medium", "severity (low, medium, high, critical)")
	cmd.Flags().StringSliceVar(&impacted, "impacts", nil, "impacted report ids")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func issueListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List issues",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListIssues(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				t := newTable("ID", "TITLE", "SEVERITY", "STATUS", "IMPACTS")
				for _, iss := range items {
					t.AppendRow(table.Row{iss.ID, iss.Title, iss.Severity, iss.Status, strings.Join(iss.ImpactedReports, ", ")})
				}
				t.Render()
				return nil
			})
		},
	}
	return cmd
}

func issueResolveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve <issue-id>",
		Short: "Resolve an issue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				now := time.Now().UTC().Format(time.RFC3339)
				if err := r.UpdateIssueStatus(ctx, args[0], "resolved", &now); err != nil {
					return err
				}
				iss, err := r.GetIssue(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(iss)
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{Use: "log", Short: "Audit trail"}
	lg.AddCommand(logTailCmd())
	return lg
}

func logTailCmd() *cobra.Command {
	var n int
	var cycleID, action, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail audit entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				entries, err := r.ListAuditEntries(ctx, repo.AuditFilter{
					CycleID:    cycleID,
					EntityKind: entityKind,
					EntityID:   entityID,
					Action:     action,
					Limit:      n,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				t := newTable("ID", "TS", "ACTOR", "ACTION", "ENTITY", "CYCLE")
				for _, entry := range entries {
					t.AppendRow(table.Row{entry.ID, entry.TS, entry.ActorID, entry.Action, entry.EntityKind + "/" + entry.EntityID, entry.CycleID})
				}
				t.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of entries")
	cmd.Flags().StringVar(&cycleID, "cycle", "", "cycle id filter")
	cmd.Flags().StringVar(&action, "action", "", "action filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show report status",
		Long:  "The scoreboard for your report: latest cycle, phase, and step counts.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				reportID := e.Config.Report.ID
				rep, err := e.Repo.GetReport(ctx, reportID)
				if err != nil {
					return err
				}
				cycles, err := e.Repo.ListCycles(ctx, reportID)
				if err != nil {
					return err
				}
				var latest *domain.CycleInstance
				if len(cycles) > 0 {
					latest = &cycles[0]
				}
				counts := map[string]int{}
				if latest != nil {
					steps, err := e.Repo.ListSteps(ctx, latest.ID)
					if err != nil {
						return err
					}
					for _, s := range steps {
						counts[s.Status]++
					}
				}
				out := map[string]any{
					"report_id":   rep.ID,
					"frequency":   rep.Frequency,
					"cycle":       latest,
					"step_counts": counts,
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Printf("Report: %s (%s)\n", rep.ID, rep.Frequency)
				if latest != nil {
					fmt.Printf("Latest cycle: %s period %s phase %s (%s)\n", latest.ID, latest.PeriodEnd, latest.Phase, latest.Status)
				} else {
					fmt.Println("Latest cycle: none")
				}
				fmt.Println("Steps:")
				for status, c := range counts {
					fmt.Printf("  %s: %d\n", status, c)
				}
				return nil
			})
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			r := repo.Repo{DB: conn}
			_, cfg, err := app.ResolveReportAndConfig(cmd.Context(), viper.GetString("report"), r)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			e.Executor = localExecutor()
			s := scheduler.New(conn, cfg)
			handler, err := server.New(server.Config{Engine: e, Scheduler: s, BasePath: basePath})
			if err != nil {
				return err
			}
			server.StartWebhookDispatcher(e)
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Regcycle API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, *engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	_, cfg, err := app.ResolveReportAndConfig(ctx, viper.GetString("report"), r)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e)
}

func withScheduler(ctx context.Context, fn func(context.Context, scheduler.Scheduler) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	_, cfg, err := app.ResolveReportAndConfig(ctx, viper.GetString("report"), r)
	if err != nil {
		return err
	}
	return fn(ctx, scheduler.New(conn, cfg))
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func printChecklist(items []domain.ChecklistItem) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	t := newTable("ID", "DESCRIPTION", "ROLE", "DUE", "DONE")
	for _, item := range items {
		done := ""
		if item.Completed {
			done = "x"
		}
		t.AppendRow(table.Row{item.ID, item.Description, item.Role, item.DueDate, done})
	}
	t.Render()
	return nil
}

func newTable(headers ...any) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row(headers))
	return t
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
