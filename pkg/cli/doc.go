/*
Package cli provides helpers shared by the dispatchd subcommands.

Output Formatting:

Results that implement Table print as aligned columns, CSV or JSON:

	formatter := cli.NewFormatter(cli.FormatJSON)
	if err := formatter.FormatTo(os.Stdout, jobs); err != nil {
		return err
	}

Signal Handling:

	ctx, stop := cli.SetupSignalHandler(context.Background())
	defer stop()

	for range cli.ReloadSignal(ctx) {
		// re-read configuration
	}

Exit Codes:

ExitCode maps a command error to the process exit status; configuration
errors exit with 2.
*/
package cli
