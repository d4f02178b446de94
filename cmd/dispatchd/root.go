package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"mercator-hq/dispatch/pkg/cli"
	"mercator-hq/dispatch/pkg/config"
	"mercator-hq/dispatch/pkg/telemetry/logging"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	output     string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "dispatchd",
		Short: "Scheduled message dispatcher with tiered rate limits",
		Long: `dispatchd delivers scheduled messages on behalf of automated agents.

Due jobs are picked up by a single-flight poll loop, checked against the
owner's tier limits, sent through the configured delivery channel and recorded
in the conversation.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "config file path (defaults when empty)")
	root.PersistentFlags().StringVarP(&flags.output, "output", "o", "text", "output format (text, json, csv)")
	root.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		newRunCmd(flags),
		newScheduleCmd(flags),
		newJobsCmd(flags),
		newUsageCmd(flags),
		newTierCmd(flags),
		newTiersCmd(flags),
		newHistoryCmd(flags),
		newAgentCmd(flags),
		newAccountCmd(flags),
		newConversationCmd(flags),
		newValidateCmd(flags),
		newVersionCmd(),
	)
	return root
}

// loadConfig reads configuration and installs the process logger. A non-empty
// level overrides the configured log level.
func (f *globalFlags) loadConfig(w io.Writer, level string) (*config.Config, error) {
	cfg, err := config.LoadConfigWithEnvOverrides(f.configPath)
	if err != nil {
		return nil, cli.NewConfigError("config", err.Error())
	}

	logCfg := cfg.Telemetry.Logging
	if level == "" {
		level = logCfg.Level
	}
	if f.verbose {
		level = "debug"
	}
	if _, err := logging.Setup(logging.Config{
		Level:     level,
		Format:    logCfg.Format,
		AddSource: logCfg.AddSource,
		RedactPII: logCfg.RedactPII == nil || *logCfg.RedactPII,
		Writer:    w,
	}); err != nil {
		return nil, cli.NewConfigError("telemetry.logging", err.Error())
	}
	return cfg, nil
}

// print writes v in the selected output format.
func (f *globalFlags) print(w io.Writer, v any) error {
	format, err := cli.ParseFormat(f.output)
	if err != nil {
		return err
	}
	return cli.NewFormatter(format).FormatTo(w, v)
}

// withApp loads configuration, opens the stores and runs fn. Admin commands
// log to stderr so their stdout stays machine-readable.
func (f *globalFlags) withApp(cmd *cobra.Command, fn func(a *app) error) error {
	cfg, err := f.loadConfig(cmd.ErrOrStderr(), "")
	if err != nil {
		return err
	}

	a, err := openApp(cfg, appOptions{})
	if err != nil {
		return cli.NewCommandError(cmd.Name(), err)
	}
	defer func() {
		if cerr := a.Close(); cerr != nil {
			slog.Warn("close failed", "error", cerr)
		}
	}()

	return cli.NewCommandError(cmd.Name(), fn(a))
}

func requireArgs(n int, usage string) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return cli.NewConfigError("args", fmt.Sprintf("usage: %s", usage))
		}
		return nil
	}
}
