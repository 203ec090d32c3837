package app

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/tigerroll/taxiemissions/internal/config"
	"github.com/tigerroll/taxiemissions/internal/domain/model"
	"github.com/tigerroll/taxiemissions/internal/domain/repository"
	"github.com/tigerroll/taxiemissions/internal/engine"
)

const defaultHistoryLimit = 10

// NewRootCommand builds the command tree over cfg.
func NewRootCommand(cfg *config.Config) *cobra.Command {
	root := &cobra.Command{
		Use:   "emissions",
		Short: "Estimate CO2 emissions of NYC yellow and green taxi trips",
		Long: `Loads monthly NYC taxi trip files into a local DuckDB store, removes invalid trips,
derives per-trip CO2 from the vehicle emission factors and reports the carbon-heavy
hours, days, weeks and months of each taxi color.

Stages run in the order load, clean, transform, analyze.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Run every stage",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runJob(cmd.Context(), cfg, nil)
			},
		},
		stageCommand(cfg, engine.StageLoad, "Download the monthly trip files and the emission factors"),
		stageCommand(cfg, engine.StageClean, "Remove duplicate and invalid trips"),
		stageCommand(cfg, engine.StageTransform, "Derive per-trip CO2 and calendar buckets"),
		stageCommand(cfg, engine.StageAnalyze, "Rank buckets by CO2 and plot the monthly totals"),
		historyCommand(cfg),
	)
	return root
}

func stageCommand(cfg *config.Config, stage, short string) *cobra.Command {
	return &cobra.Command{
		Use:   stage,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runJob(cmd.Context(), cfg, []string{stage})
		},
	}
}

func historyCommand(cfg *config.Config) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent job executions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit <= 0 {
				return fmt.Errorf("--limit must be positive: %d", limit)
			}
			var jobRepository repository.JobRepository
			app := newApp(cfg, fx.Populate(&jobRepository))
			return withApp(cmd.Context(), app, func() error {
				executions, err := jobRepository.FindRecentJobExecutions(cmd.Context(), limit)
				if err != nil {
					return err
				}
				return printHistory(cmd.OutOrStdout(), executions)
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", defaultHistoryLimit, "Number of executions to list")
	return cmd
}

// printHistory writes one block per execution, newest first: the job line, then one line per step.
func printHistory(w io.Writer, executions []*model.JobExecution) error {
	if len(executions) == 0 {
		_, err := fmt.Fprintln(w, "No job executions recorded.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "EXECUTION\tSTAGES\tSTATUS\tEXIT\tSTARTED\tDURATION")
	for _, je := range executions {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			je.ID, strings.Join(je.Stages, ","), je.Status, je.ExitStatus,
			formatTime(je.StartTime), formatDuration(je.StartTime, je.EndTime))
		for _, se := range je.StepExecutions {
			fmt.Fprintf(tw, "  %s\t%d rows\t%s\t%s\t%s\t%s\n",
				se.StepName, se.WriteCount, se.Status, se.ExitStatus,
				formatTime(se.StartTime), formatDuration(se.StartTime, se.EndTime))
		}
		for _, failure := range je.Failures {
			fmt.Fprintf(tw, "  !\t%s\n", failure)
		}
	}
	return tw.Flush()
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func formatDuration(start, end *time.Time) string {
	if start == nil || end == nil {
		return "-"
	}
	return end.Sub(*start).Round(time.Millisecond).String()
}
