package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nerrad567/bemfa-bridge/internal/bridges/bemfa"
	"github.com/nerrad567/bemfa-bridge/internal/infrastructure/config"
)

var (
	flagConfig string
	flagJSON   bool
)

var rootCmd = &cobra.Command{
	Use:   "bemfa-bridge",
	Short: "Bridge Bemfa cloud devices to a local device table",
	Long: `bemfa-bridge mirrors every device of a Bemfa cloud account, keeps the
state current from the cloud MQTT broker, and exposes the devices to Home
Assistant (MQTT discovery), an HTTP/WebSocket API and optional history stores.

Running without a subcommand is the same as "bemfa-bridge run".`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return run(cmd.Context())
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the bridge until interrupted",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return run(cmd.Context())
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration and the Bemfa API key",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(getConfigPath())
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if err := bemfa.NewClient(cfg.Bemfa).ValidateKey(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "configuration OK, api key accepted")
		return nil
	},
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List the devices of the Bemfa account",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(getConfigPath())
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		return listDevices(cmd.Context(), bemfa.NewClient(cfg.Bemfa), cmd, flagJSON)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "bemfa-bridge %s (commit %s, built %s)\n", version, commit, date)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Config file path (env: BEMFA_CONFIG, default: "+defaultConfigPath+")")
	devicesCmd.Flags().BoolVar(&flagJSON, "json", false, "Print records as JSON")

	rootCmd.Version = version
	rootCmd.AddCommand(runCmd, validateCmd, devicesCmd, versionCmd)
}

// deviceLister is satisfied by *bemfa.Client.
type deviceLister interface {
	ListDevices(ctx context.Context) ([]bemfa.Device, error)
}

// listDevices prints the classified records of the account.
func listDevices(ctx context.Context, lister deviceLister, cmd *cobra.Command, asJSON bool) error {
	devices, err := lister.ListDevices(ctx)
	if err != nil {
		return err
	}
	records := bemfa.Records(devices)

	out := cmd.OutOrStdout()
	if asJSON {
		return writeJSON(out, records)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TOPIC\tTYPE\tNAME\tONLINE\tSTATE")
	for _, rec := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\n", rec.Topic, rec.Type, rec.Name, rec.Online, rec.RawState)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if skipped := len(devices) - len(records); skipped > 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "%d topic(s) skipped: unknown type suffix\n", skipped)
	}
	return nil
}
