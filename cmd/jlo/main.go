package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/akitorahayashi/jlo/internal/config"
	"github.com/akitorahayashi/jlo/internal/db"
	"github.com/akitorahayashi/jlo/internal/forge"
	"github.com/akitorahayashi/jlo/internal/ledger"
	"github.com/akitorahayashi/jlo/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "jlo",
	Short: "Drive the Jules agent pipeline",
	Long: `jlo runs one layer of the agent pipeline at a time.
- Layers: narrator, observers, deciders, planners, implementers, innovators.
- Observers and innovators run every role enabled in .jlo/scheduled.yml unless --role is given.
- Planners and implementers run one session per requirement routed to them.
- --mock replaces remote sessions with synthetic branches and pull requests.
- Every run is recorded in the local ledger (see 'jlo runs').`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		root := viper.GetString("root")
		info, err := os.Stat(root)
		if err != nil {
			return fmt.Errorf("repository root: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("repository root %s is not a directory", root)
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("JLO")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().String("root", ".", "repository root")
	rootCmd.PersistentFlags().String("state-dir", db.DefaultStateDir, "ledger directory (relative paths resolve under --root)")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "debug logging")
	_ = viper.BindPFlag("root", rootCmd.PersistentFlags().Lookup("root"))
	_ = viper.BindPFlag("state-dir", rootCmd.PersistentFlags().Lookup("state-dir"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

func registerCommands() {
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(prCmd())
	rootCmd.AddCommand(proposalsCmd())
	rootCmd.AddCommand(runsCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(configCmd())
}

// runtime is the resolved process context shared by commands.
type runtime struct {
	Root   string
	Env    config.Env
	Config *config.Config
	Logger *zap.SugaredLogger
}

func newRuntime() (*runtime, error) {
	root, err := filepath.Abs(viper.GetString("root"))
	if err != nil {
		return nil, err
	}
	env := config.LoadEnv(viper.GetViper(), root)
	logger, err := logging.New(env.CI, viper.GetBool("verbose"))
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	cfg, err := config.Load(root)
	if err != nil {
		return nil, err
	}
	return &runtime{Root: root, Env: env, Config: cfg, Logger: logger}, nil
}

func (rt *runtime) stateDir() string {
	dir := viper.GetString("state-dir")
	if dir == "" {
		dir = db.DefaultStateDir
	}
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(rt.Root, dir)
	}
	return dir
}

func (rt *runtime) openLedger(ctx context.Context) (*ledger.Store, error) {
	return ledger.Open(ctx, rt.stateDir())
}

func (rt *runtime) forge() *forge.GH {
	return forge.NewGH(rt.Root, rt.Env.GHToken)
}

// optionalSchedule loads .jlo/scheduled.yml, treating a missing file as nil.
func (rt *runtime) optionalSchedule() (*config.Schedule, error) {
	sched, err := config.LoadSchedule(rt.Root)
	if errors.Is(err, config.ErrScheduleMissing) {
		return nil, nil
	}
	return sched, err
}

func withLedger(ctx context.Context, fn func(context.Context, *runtime, *ledger.Store) error) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.Logger.Sync()
	store, err := rt.openLedger(ctx)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(ctx, rt, store)
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
