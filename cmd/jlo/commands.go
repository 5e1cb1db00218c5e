package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/akitorahayashi/jlo/internal/automerge"
	"github.com/akitorahayashi/jlo/internal/git"
	"github.com/akitorahayashi/jlo/internal/labels"
	"github.com/akitorahayashi/jlo/internal/layer"
	"github.com/akitorahayashi/jlo/internal/ledger"
	"github.com/akitorahayashi/jlo/internal/proposals"
	"github.com/akitorahayashi/jlo/internal/server"
)

func prCmd() *cobra.Command {
	pr := &cobra.Command{
		Use:   "pr",
		Short: "Pull request helpers",
	}
	pr.AddCommand(prEnableAutoMergeCmd())
	pr.AddCommand(prSyncCategoryLabelCmd())
	return pr
}

func parsePRNumber(arg string) (int, error) {
	number, err := strconv.Atoi(arg)
	if err != nil || number <= 0 {
		return 0, fmt.Errorf("invalid pull request number %q", arg)
	}
	return number, nil
}

func prEnableAutoMergeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enable-automerge <number>",
		Short: "Enable auto-merge on a Jules pull request when policy allows",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			number, err := parsePRNumber(args[0])
			if err != nil {
				return err
			}
			return withLedger(cmd.Context(), func(ctx context.Context, rt *runtime, store *ledger.Store) error {
				out, err := automerge.Apply(ctx, rt.forge(), number)
				if err != nil {
					return err
				}
				if err := store.RecordAutoMerge(ctx, "", out); err != nil {
					rt.Logger.Warnw("ledger: record auto-merge failed", "pr", number, "error", err)
				}
				return printJSON(out)
			})
		},
	}
	return cmd
}

func prSyncCategoryLabelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync-category-label <number>",
		Short: "Label an implementer pull request with its requirement category",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			number, err := parsePRNumber(args[0])
			if err != nil {
				return err
			}
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			out, err := labels.SyncCategory(cmd.Context(), rt.forge(), layer.Paths{Root: rt.Root}, number)
			if err != nil {
				return err
			}
			return printJSON(out)
		},
	}
	return cmd
}

func proposalsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "proposals",
		Short: "Innovator proposal helpers",
	}
	cmd.AddCommand(proposalsPublishCmd())
	return cmd
}

func proposalsPublishCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish innovator proposals on the worker branch as issues",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd.Context(), func(ctx context.Context, rt *runtime, store *ledger.Store) error {
				p := &proposals.Publisher{
					Paths:        layer.Paths{Root: rt.Root},
					WorkerBranch: rt.Config.WorkerBranch(rt.Env),
					Git:          git.NewCommand(rt.Root),
					Forge:        rt.forge(),
					Logger:       rt.Logger,
				}
				out, err := p.Publish(ctx)
				if out.AutoMerge != nil {
					if rerr := store.RecordAutoMerge(ctx, "", *out.AutoMerge); rerr != nil {
						rt.Logger.Warnw("ledger: record auto-merge failed", "pr", out.PRNumber, "error", rerr)
					}
				}
				if perr := printJSON(out); perr != nil && err == nil {
					err = perr
				}
				return err
			})
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the run ledger over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd.Context(), func(ctx context.Context, rt *runtime, store *ledger.Store) error {
				if rt.Env.JWTSecret == "" {
					return fmt.Errorf("JLO_JWT_SECRET is required for bearer auth")
				}
				handler, err := server.New(server.Config{
					Store:    store,
					Forge:    rt.forge(),
					BasePath: basePath,
					Auth:     server.AuthConfig{JWTSecret: rt.Env.JWTSecret},
					Logger:   rt.Logger,
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				rt.Logger.Infow("serving jlo API", "addr", addr, "base_path", basePath, "openapi", "/openapi.json")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect .jlo configuration",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective config and schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			sched, err := rt.optionalSchedule()
			if err != nil {
				return err
			}
			return printJSONOrTable(map[string]any{
				"config":        rt.Config,
				"schedule":      sched,
				"worker_branch": rt.Config.WorkerBranch(rt.Env),
			})
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate .jlo/config.yml and .jlo/scheduled.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := validateConfig()
			if viper.GetBool("json") {
				msg := ""
				if err != nil {
					msg = err.Error()
				}
				if perr := printJSON(map[string]any{"ok": err == nil, "error": msg}); perr != nil {
					return perr
				}
				return err
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	return cmd
}

func validateConfig() error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}
	_, err = rt.optionalSchedule()
	return err
}
