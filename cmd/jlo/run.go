package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/akitorahayashi/jlo/internal/apperr"
	"github.com/akitorahayashi/jlo/internal/dispatch"
	"github.com/akitorahayashi/jlo/internal/git"
	"github.com/akitorahayashi/jlo/internal/layer"
	"github.com/akitorahayashi/jlo/internal/ledger"
	"github.com/akitorahayashi/jlo/internal/mock"
	"github.com/akitorahayashi/jlo/internal/notify"
	"github.com/akitorahayashi/jlo/internal/orchestrator"
	"github.com/akitorahayashi/jlo/internal/prompt"
	"github.com/akitorahayashi/jlo/internal/session"
)

func runCmd() *cobra.Command {
	var req orchestrator.Request
	cmd := &cobra.Command{
		Use:   "run <layer>",
		Short: "Run one pipeline layer",
		Long:  "Layers: " + strings.Join(layer.Names(), ", ") + ".",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := layer.Parse(args[0])
			if err != nil {
				return err
			}
			req.Layer = l
			return runLayer(cmd.Context(), req)
		},
	}
	cmd.Flags().StringVar(&req.Role, "role", "", "run a single role")
	cmd.Flags().StringVar(&req.Requirement, "requirement", "", "run a single requirement file")
	cmd.Flags().StringVar(&req.Options.Branch, "branch", "", "override the starting branch")
	cmd.Flags().BoolVar(&req.Mock, "mock", false, "create synthetic branches and pull requests instead of sessions")
	cmd.Flags().BoolVar(&req.Options.Preview, "prompt-preview", false, "assemble prompts without creating sessions")
	return cmd
}

func runLayer(ctx context.Context, req orchestrator.Request) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.Logger.Sync()

	gitCmd := git.NewCommand(rt.Root)
	gh := rt.forge()
	paths := layer.Paths{Root: rt.Root}
	worker := rt.Config.WorkerBranch(rt.Env)
	orch := &orchestrator.Orchestrator{
		Paths:        paths,
		Config:       rt.Config,
		WorkerBranch: worker,
		Git:          gitCmd,
		Forge:        gh,
		Logger:       rt.Logger,
	}

	var cursor int64
	store, err := rt.openLedger(ctx)
	if err != nil {
		rt.Logger.Warnw("ledger unavailable; run will not be recorded", "error", err)
	} else {
		defer store.Close()
		orch.Recorder = store
		if cursor, err = store.LatestEventID(ctx); err != nil {
			rt.Logger.Warnw("ledger: read cursor failed", "error", err)
		}
	}

	if req.Mock {
		if err := mock.CheckPrerequisites(rt.Env, nil); err != nil {
			return err
		}
		mc, err := mock.NewConfig(rt.Config, rt.Env, time.Now())
		if err != nil {
			return err
		}
		sched, err := rt.optionalSchedule()
		if err != nil {
			return err
		}
		orch.Mock = &mock.Dispatcher{
			Paths:        paths,
			Config:       mc,
			Git:          gitCmd,
			Forge:        gh,
			Schedule:     sched,
			GitHubOutput: rt.Env.GitHubOutput,
			Out:          os.Stdout,
			Logger:       rt.Logger,
		}
	} else {
		if !req.Options.Preview && rt.Env.APIKey == "" {
			return apperr.MissingArgument("JULES_API_KEY is required")
		}
		jc := rt.Config.Jules
		client := session.NewHTTPClient(jc.APIURL, rt.Env.APIKey, time.Duration(jc.TimeoutSecs)*time.Second)
		policy := session.NewRetryPolicy(jc.MaxRetries, int64(jc.RetryDelayMs))
		orch.Real = &dispatch.Real{
			Paths:        paths,
			Config:       rt.Config,
			WorkerBranch: worker,
			Assembler:    prompt.NewFileAssembler(rt.Root),
			Sessions:     session.NewRetryingClient(client, policy, rt.Logger),
			Source: func(ctx context.Context) (string, error) {
				return git.DetectSource(ctx, gitCmd, rt.Env.GitHubRepository)
			},
			Out:    os.Stdout,
			Logger: rt.Logger,
		}
	}

	res, runErr := orch.Run(ctx, req)
	if store != nil && len(rt.Config.Notify.Webhooks) > 0 {
		notify.New(store, rt.Config.Notify.Webhooks, rt.Logger).Deliver(ctx, cursor)
	}
	if err := printRunResult(res); err != nil {
		return err
	}
	return runErr
}

func printRunResult(res orchestrator.Result) error {
	if viper.GetBool("json") {
		return printJSON(res)
	}
	if res.Empty() {
		fmt.Printf("%s: nothing to do\n", res.Layer)
		return nil
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetTitle(fmt.Sprintf("%s (%s)", res.Layer, res.Mode))
	tw.AppendHeader(table.Row{"Item", "Status", "Session", "Branch", "PR", "Error"})
	for _, it := range res.Items {
		tw.AppendRow(table.Row{it.Item, it.Status, it.SessionID, it.Branch, prCell(it.PRNumber, it.PRURL), it.Error})
	}
	tw.AppendFooter(table.Row{"", fmt.Sprintf("%d ok / %d failed", res.Succeeded, res.Failed)})
	tw.Render()
	if c := res.Cleanup; c != nil {
		fmt.Printf("Cleanup: removed %d file(s) on %s %s\n", len(c.Removed), c.Branch, prCell(c.PRNumber, c.PRURL))
	}
	if res.RunID != "" {
		fmt.Printf("Run: %s\n", res.RunID)
	}
	return nil
}

func prCell(number int, url string) string {
	if number == 0 {
		return url
	}
	if url == "" {
		return fmt.Sprintf("#%d", number)
	}
	return fmt.Sprintf("#%d %s", number, url)
}

func runsCmd() *cobra.Command {
	runs := &cobra.Command{
		Use:   "runs",
		Short: "Inspect the run ledger",
	}
	runs.AddCommand(runsListCmd())
	runs.AddCommand(runsShowCmd())
	return runs
}

func runsListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd.Context(), func(ctx context.Context, _ *runtime, store *ledger.Store) error {
				items, err := store.ListRuns(ctx, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					if items == nil {
						items = []ledger.Run{}
					}
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Layer", "Mode", "Status", "Started", "OK", "Failed"})
				for _, r := range items {
					tw.AppendRow(table.Row{r.ID, r.Layer, r.Mode, r.Status, r.StartedAt, r.Succeeded, r.Failed})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs to list")
	return cmd
}

func runsShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a run and its items",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd.Context(), func(ctx context.Context, _ *runtime, store *ledger.Store) error {
				run, err := store.GetRun(ctx, args[0])
				if err != nil {
					if errors.Is(err, ledger.ErrNotFound) {
						return fmt.Errorf("run %s not found", args[0])
					}
					return err
				}
				if viper.GetBool("json") {
					return printJSON(run)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.SetTitle(fmt.Sprintf("%s  %s (%s)  %s", run.ID, run.Layer, run.Mode, run.Status))
				tw.AppendHeader(table.Row{"Item", "Status", "Session", "Branch", "PR", "Error"})
				for _, it := range run.Items {
					tw.AppendRow(table.Row{it.Item, it.Status, it.SessionID, it.Branch, prCell(it.PRNumber, it.PRURL), it.Error})
				}
				tw.Render()
				if run.Error != "" {
					fmt.Println("error:", run.Error)
				}
				return nil
			})
		},
	}
	return cmd
}
