package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/CZERTAINLY/rem/internal/log"
	"github.com/CZERTAINLY/rem/internal/model"
	"github.com/CZERTAINLY/rem/internal/service"
)

const defaultConfigName = "rem.yaml"

var (
	userConfigPath string // /default/config/path/rem on given OS
	opts           service.Options
	logger         *slog.Logger

	flagForce bool // value of init --force
)

func init() {
	d, err := os.UserConfigDir()
	if err != nil {
		panic(err)
	}
	userConfigPath = filepath.Join(d, "rem")
}

func main() {
	// root flags
	rootCmd.PersistentFlags().String("config", "", "Packet file to load - default is "+defaultConfigName+" in current directory or in "+userConfigPath)
	rootCmd.PersistentFlags().Bool("verbose", false, "verbose logging")
	rootCmd.PersistentFlags().String("state", "", "sqlite file storing job snapshots, empty disables resuming")

	runCmd.Flags().String("shell", "", "shell executing the jobs")
	runCmd.Flags().Duration("poll-interval", 0, "how often running jobs are checked")
	runCmd.Flags().Bool("fresh", false, "ignore and delete stored job snapshots")
	initCmd.Flags().BoolVar(&flagForce, "force", false, "overwrite an existing file")

	// never print messages
	rootCmd.SilenceErrors = true
	rootCmd.PersistentPreRunE = initRem

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		slog.Error("rem failed", "err", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "rem",
	Short:        "Tool running packets of dependent shell jobs",
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "run command reads the packet file and executes its jobs",
	RunE:  doRun,
}

var initCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "init writes a sample packet file",
	Args:  cobra.MaximumNArgs(1),
	RunE:  doInit,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "status prints job snapshots stored by previous runs",
	RunE:  doStatus,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "version provide version of a rem",
	Run: func(cmd *cobra.Command, args []string) {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Println("rem: version info not available")
			return
		}

		fmt.Printf("rem:    %s\n", info.Main.Version)
		fmt.Printf("go:     %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				fmt.Printf("commit: %s\n", s.Value)
			case "vcs.time":
				fmt.Printf("date:   %s\n", s.Value)
			case "vcs.modified":
				fmt.Printf("dirty:  %s\n", s.Value)
			}
		}
		fmt.Println()
	},
}

func doRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	configPath, err := findConfig()
	if err != nil {
		return err
	}
	config, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	settings, err := opts.Resolve(config.Service)
	if err != nil {
		return err
	}
	// the packet file may ask for verbose logging too
	if settings.Verbose && !opts.Verbose {
		setLogger(true)
	}

	attrs := slog.Group("rem",
		slog.String("cmd", "run"),
		slog.Int("pid", os.Getpid()),
	)
	ctx = log.ContextAttrs(ctx, attrs)
	logger.DebugContext(ctx, "rem run",
		"configPath", configPath,
		"state", settings.State,
		"shell", settings.Shell,
		"poll_interval", settings.PollInterval,
	)

	summary, err := service.Run(ctx, config, settings, logger)
	if summary.Kind == model.KindPacketSummary {
		fmt.Println(summary.String())
	}
	return err
}

func doInit(cmd *cobra.Command, args []string) error {
	path := defaultConfigName
	if len(args) == 1 {
		path = args[0]
	}
	if exists(path) && !flagForce {
		return fmt.Errorf("%s already exists, use --force to overwrite", path)
	}
	if err := writeConfig(path, model.DefaultConfig()); err != nil {
		return err
	}
	logger.InfoContext(cmd.Context(), "sample configuration written", "path", path)
	return nil
}

func initRem(cmd *cobra.Command, _ []string) error {
	viper.SetEnvPrefix("REM")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("binding flags: %w", err)
	}

	var err error
	opts, err = service.ParseOptions("")
	if err != nil {
		return fmt.Errorf("parsing options: %w", err)
	}
	setLogger(opts.Verbose)
	return nil
}

func setLogger(verbose bool) {
	logger = log.New(verbose, os.Stderr)
	slog.SetDefault(logger)
}

// findConfig returns --config or $REM_CONFIG, otherwise rem.yaml in the
// current directory or in the user config directory.
func findConfig() (string, error) {
	if opts.Config != "" {
		return opts.Config, nil
	}
	for _, d := range []string{".", userConfigPath} {
		path := filepath.Join(d, defaultConfigName)
		if exists(path) {
			return path, nil
		}
	}
	return "", errors.New("no packet file found: use --config or create one with rem init")
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
