package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/signalsfoundry/rti/internal/config"
	"github.com/signalsfoundry/rti/internal/logging"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configFile string

	rootCmd := &cobra.Command{
		Use:   "rtinode",
		Short: "HLA run-time infrastructure server node",
		Long: `Runs one server node of an HLA RTI. A node without a parent is the
root and owns every federation execution; other nodes forward to their parent.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "JSON config file path")

	rootCmd.AddCommand(serveCmd(&configFile), configCmd(&configFile), versionCmd())
	return rootCmd
}

func serveCmd(configFile *string) *cobra.Command {
	flags := config.Default()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a server node until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolve(cmd, *configFile, flags)
			if err != nil {
				return err
			}

			log := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: cmd.ErrOrStderr()})
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, log, nil)
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.Name, "name", flags.Name, "node name")
	f.StringVar(&flags.ListenAddress, "listen", flags.ListenAddress, "transport listen address")
	f.StringVar(&flags.ParentAddress, "parent", flags.ParentAddress, "parent node address; empty runs the root")
	f.StringVar(&flags.MetricsAddress, "metrics", flags.MetricsAddress, "HTTP address for Prometheus /metrics; empty disables")
	f.BoolVar(&flags.DDMEnabled, "ddm", flags.DDMEnabled, "enable region-based filtering")
	f.StringVar(&flags.SaveDir, "save-dir", flags.SaveDir, "directory for federation saves; empty keeps them in memory")
	f.StringVar(&flags.LogLevel, "log-level", flags.LogLevel, "debug, info, warn or error")
	f.StringVar(&flags.LogFormat, "log-format", flags.LogFormat, "text or json")
	return cmd
}

func configCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolve(cmd, *configFile, config.Config{})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), cfg)
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "rtinode %s\n", version)
		},
	}
}

// resolve loads defaults, environment and file, then applies the flags the
// user actually set, and validates the result.
func resolve(cmd *cobra.Command, configFile string, flags config.Config) (config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return cfg, err
	}
	set := cmd.Flags().Changed
	if set("name") {
		cfg.Name = flags.Name
	}
	if set("listen") {
		cfg.ListenAddress = flags.ListenAddress
	}
	if set("parent") {
		cfg.ParentAddress = flags.ParentAddress
	}
	if set("metrics") {
		cfg.MetricsAddress = flags.MetricsAddress
	}
	if set("ddm") {
		cfg.DDMEnabled = flags.DDMEnabled
	}
	if set("save-dir") {
		cfg.SaveDir = flags.SaveDir
	}
	if set("log-level") {
		cfg.LogLevel = flags.LogLevel
	}
	if set("log-format") {
		cfg.LogFormat = flags.LogFormat
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
