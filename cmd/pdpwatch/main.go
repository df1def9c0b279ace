package main

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	runFlags := &RunFlags{}
	probeFlags := &ProbeFlags{}
	clientFlags := &ClientFlags{}

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createRunCommand(globalFlags, runFlags),
		createProbeCommand(probeFlags),
		createStatusCommand(clientFlags),
		createRestartCommand(clientFlags),
		createAuthCommand(clientFlags),
		createVersionCommand(),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:           "pdpwatch",
		Short:         "Supervise a PDP server process and restart it when unhealthy",
		SilenceUsage:  true,
		SilenceErrors: true,
		Long: `pdpwatch launches a PDP server, polls its health endpoint and
restarts it when it exits or fails too many consecutive health checks.

Examples:
  pdpwatch run --config pdpwatch.toml
  pdpwatch run --python /usr/bin/python3 --pdp-dir /srv/pdp
  pdpwatch probe --http http://localhost:7001/healthy
  pdpwatch status --admin http://127.0.0.1:7070/api
  pdpwatch restart --user ops --password secret
  pdpwatch auth hash-password < password.txt
  pdpwatch version`,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML or YAML config file (optional)")
	return root
}

func createRunCommand(globalFlags *GlobalFlags, runFlags *RunFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the PDP and supervise it until interrupted",
		Long: `Start the PDP under supervision. SIGINT, SIGTERM and SIGHUP stop the
PDP gracefully before pdpwatch exits.

Configuration comes from --config and PDPWATCH_* environment variables,
for example PDPWATCH_HEALTH_INTERVAL=30s.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			runFlags.ConfigPath = globalFlags.ConfigPath
			return runCommand(cmd.Context(), *runFlags, cmd.ErrOrStderr())
		},
	}
	cmd.Flags().StringVar(&runFlags.Python, "python", "", "interpreter path (overrides engine.python)")
	cmd.Flags().StringVar(&runFlags.PDPDir, "pdp-dir", "", "PDP working directory (overrides engine.pdp_dir)")
	cmd.Flags().StringVar(&runFlags.AdminListen, "admin-listen", "", "enable the admin API on this address")
	cmd.Flags().BoolVar(&runFlags.Daemonize, "daemonize", false, "run in the background")
	cmd.Flags().StringVar(&runFlags.PidFile, "pidfile", "", "write the daemon pid here (with --daemonize)")
	cmd.Flags().StringVar(&runFlags.LogFile, "logfile", "", "redirect daemon output to file (with --daemonize)")
	return cmd
}

func createProbeCommand(flags *ProbeFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Run one health check and exit non-zero when it fails",
		Long: `Run a one-off health check. When both --http and --tcp are given
both must pass.

Examples:
  pdpwatch probe --http http://localhost:7001/healthy
  pdpwatch probe --tcp localhost:7001 --timeout 2s`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProbe(cmd.Context(), *flags, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&flags.HTTP, "http", "", "URL to GET")
	cmd.Flags().StringVar(&flags.TCP, "tcp", "", "host:port to connect to")
	cmd.Flags().IntVar(&flags.Expect, "expect", 200, "expected HTTP status")
	cmd.Flags().DurationVar(&flags.Timeout, "timeout", 5*time.Second, "per-check timeout")
	return cmd
}

func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "pdpwatch %s (%s %s/%s)\n",
				version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}
}
