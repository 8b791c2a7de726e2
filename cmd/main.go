package cmd

import (
	"context"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/nengine/build-tools/pkg/buildsys"
	"github.com/nengine/build-tools/pkg/config"
)

var rootCmd = &cobra.Command{
	Use:   "task",
	Short: "Build tasks for nEngine",
	Long: `This command wraps CMake to configure, build, run and clean nEngine in one of the
Release, Debug, RelWithDebInfo or MinSizeRel modes. Arguments of the form key=value are
passed as options to the project's tasks.star script.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// session holds everything a task needs. It's built once per invocation.
type session struct {
	ctx    context.Context
	cfg    *config.Config
	runner *buildsys.Runner
	// extra contains the arguments passed after --
	extra []string
}

func newLogger(out io.Writer, jsonOutput bool, level zerolog.Level) zerolog.Logger {
	configureErrorMarshaler(jsonOutput)
	if jsonOutput {
		return zerolog.New(out).Level(level).With().Timestamp().Logger()
	}
	return zerolog.New(NewConsoleWriter(out)).Level(level)
}

// splitArgs separates key=value script options from the arguments after --
func splitArgs(cmd *cobra.Command, args []string) (map[string]string, []string, error) {
	options := make(map[string]string)
	positional := args
	var extra []string

	if dash := cmd.ArgsLenAtDash(); dash > -1 {
		positional = args[:dash]
		extra = args[dash:]
	}

	for _, part := range positional {
		pos := strings.Index(part, "=")
		if pos < 1 {
			return nil, nil, eris.Errorf("unexpected argument %q, expected key=value", part)
		}
		options[part[:pos]] = part[pos+1:]
	}

	return options, extra, nil
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	file, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load(file)
	if err != nil {
		return nil, err
	}

	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level, _ = cmd.Flags().GetString("log-level")
	}
	if cmd.Flags().Changed("json") {
		cfg.Log.JSON, _ = cmd.Flags().GetBool("json")
	}
	return cfg, cfg.Validate()
}

func setup(cmd *cobra.Command, args []string) (*session, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	dryRun, err := cmd.Flags().GetBool("dry")
	if err != nil {
		return nil, err
	}

	options, extra, err := splitArgs(cmd, args)
	if err != nil {
		return nil, err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	logger := newLogger(cmd.ErrOrStderr(), cfg.Log.JSON, cfg.LogLevel())
	ctx = buildsys.WithLogger(ctx, &logger)

	platform := buildsys.Host()
	script, err := buildsys.RunProjectScript(ctx, platform, cfg.ScriptPath(), cfg.SourceDir, options)
	if err != nil {
		return nil, err
	}

	runner := buildsys.NewRunner(cfg, platform, buildsys.NewShellExecutor(dryRun), script)
	runner.DryRun = dryRun
	runner.Progress = !cfg.Log.JSON

	return &session{
		ctx:    ctx,
		cfg:    cfg,
		runner: runner,
		extra:  extra,
	}, nil
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("config", "tasks.toml", "settings file; a missing file is ignored")
	flags.String("log-level", "info", "log level (trace, debug, info, warn, error)")
	flags.Bool("json", false, "print log messages as JSON")
	flags.BoolP("dry", "n", false, "dry run; only print the commands, don't execute anything")
}

// Execute runs the CLI and exits with a non-zero status on failure
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		jsonOutput, _ := rootCmd.PersistentFlags().GetBool("json")
		logger := newLogger(os.Stderr, jsonOutput, zerolog.InfoLevel)
		logger.Error().Err(err).Msg("Task failed")
		os.Exit(1)
	}
}
