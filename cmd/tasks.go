package cmd

import (
	"sort"

	"github.com/mitchellh/colorstring"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/nengine/build-tools/pkg/archive"
	"github.com/nengine/build-tools/pkg/buildsys"
)

func modeFlag(cmd *cobra.Command, mode *buildsys.Mode) {
	*mode = buildsys.DefaultMode
	cmd.Flags().VarP(mode, "mode", "m", "build mode (Release, Debug, RelWithDebInfo or MinSizeRel)")
}

func noExtraArgs(s *session) error {
	if len(s.extra) > 0 {
		return eris.Errorf("unexpected arguments %v", s.extra)
	}
	return nil
}

var (
	configureMode       buildsys.Mode
	configureForceNinja bool
)

var configureCmd = &cobra.Command{
	Use:   "configure [key=value...]",
	Short: "Generates the CMake build tree for a mode",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := setup(cmd, args)
		if err != nil {
			return err
		}
		if err = noExtraArgs(s); err != nil {
			return err
		}

		return s.runner.Configure(s.ctx, configureMode, configureForceNinja)
	},
}

var (
	buildMode       buildsys.Mode
	buildForceNinja bool
)

var buildCmd = &cobra.Command{
	Use:   "build [key=value...]",
	Short: "Builds a configured mode and copies the assets next to the executable",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := setup(cmd, args)
		if err != nil {
			return err
		}
		if err = noExtraArgs(s); err != nil {
			return err
		}

		return s.runner.Build(s.ctx, buildMode, buildForceNinja)
	},
}

var runMode buildsys.Mode

var runCmd = &cobra.Command{
	Use:   "run [key=value...] [-- args...]",
	Short: "Runs the executable, building it first if it's missing",
	Long: `Runs the executable from the source directory. Arguments after -- are passed to the
executable.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := setup(cmd, args)
		if err != nil {
			return err
		}

		return s.runner.Run(s.ctx, runMode, s.extra...)
	},
}

var cleanMode buildsys.Mode

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Removes everything inside a mode's build directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := setup(cmd, args)
		if err != nil {
			return err
		}
		if err = noExtraArgs(s); err != nil {
			return err
		}

		return s.runner.Clean(s.ctx, cleanMode)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Lists the configured and built modes",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := setup(cmd, args)
		if err != nil {
			return err
		}

		modes, err := s.runner.Status(s.ctx)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		for _, status := range modes {
			state := "[dark_gray]not configured"
			if status.Configured {
				state = "[yellow]configured"
				if status.Built {
					state = "[green]built"
				}
			}

			colorstring.Fprintf(out, "[bold]%-15s[reset] %s[reset]\n", status.Mode, state)
			colorstring.Fprintf(out, "  dir: %s\n", status.Dir)

			if status.Stamp != nil {
				generator := status.Stamp.Generator
				if generator == "" {
					generator = "default"
				}

				colorstring.Fprintf(out, "  configured %s with the %s generator\n",
					status.Stamp.Time.Format("2006-01-02 15:04:05"), generator)
				keys := make([]string, 0, len(status.Stamp.Defines))
				for key := range status.Stamp.Defines {
					keys = append(keys, key)
				}
				sort.Strings(keys)

				for _, key := range keys {
					colorstring.Fprintf(out, "  -D%s=%s\n", key, status.Stamp.Defines[key])
				}
			}
		}

		return nil
	},
}

var (
	packMode   buildsys.Mode
	packFormat string
)

var packCmd = &cobra.Command{
	Use:   "pack",
	Short: "Archives the executable and the assets of a built mode",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := archive.ParseFormat(packFormat)
		if err != nil {
			return err
		}

		s, err := setup(cmd, args)
		if err != nil {
			return err
		}
		if err = noExtraArgs(s); err != nil {
			return err
		}

		_, err = s.runner.Pack(s.ctx, packMode, format)
		return err
	},
}

func init() {
	modeFlag(configureCmd, &configureMode)
	configureCmd.Flags().BoolVar(&configureForceNinja, "forceninja", false, "use the Ninja generator even on Windows")

	modeFlag(buildCmd, &buildMode)
	buildCmd.Flags().BoolVar(&buildForceNinja, "forceninja", false, "build a tree configured with --forceninja")

	modeFlag(runCmd, &runMode)
	modeFlag(cleanCmd, &cleanMode)

	modeFlag(packCmd, &packMode)
	packCmd.Flags().StringVar(&packFormat, "format", "xz", "archive format (xz or br)")

	rootCmd.AddCommand(configureCmd, buildCmd, runCmd, cleanCmd, statusCmd, packCmd)
}
