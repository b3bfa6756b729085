package cmd

import (
	"context"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/HJianBo/whc-bench/httpworker"
)

func init() {
	rootCmd.AddCommand(httpCmd)
	f := httpCmd.Flags()
	addFleetFlags(f)
	f.String("url", "", "Command endpoint to POST to")
	f.IntP("concurrent", "C", 10, "Workers per shard")
	f.IntP("shards", "T", 1, "Independent clients, each with its own connection pool")
	f.IntP("rounds", "n", 10, "Commands sent to each device")
	f.IntP("interval", "i", 0, "Minimum milliseconds between commands to the same device")
	f.IntP("timeout", "t", 30, "Per request deadline in seconds")
	f.String("edge-node-id", "", "edgeNodeId header for standard mode")
	f.String("product-id", "", "Product id carried in standard mode payloads")
	f.Bool("emqx", false, "Use the EMQX publish API payload shape")
	f.String("sk", "", "Secret key for the EMQX publish API")
	f.String("out", "", "Outcome log CSV path (empty disables the log)")
	f.Bool("resume", false, "Skip units that already succeeded in the outcome log")
	f.String("metrics-addr", "", "Serve prometheus metrics on this address, e.g. :9090")
	f.Bool("quiet", false, "Suppress the periodic status summary")
}

var httpCmd = &cobra.Command{
	Use:   "http",
	Short: "Stress the command-send endpoint over HTTP",
	Long: `
Stress the command-send endpoint over HTTP: every device in the fleet receives
a bench command once per round, either through the platform endpoint (standard
mode, edgeNodeId header) or through the EMQX publish API (--emqx, basic auth
with --sk).
`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := viper.BindPFlags(cmd.Flags()); err != nil {
			log.Error(err)
			os.Exit(1)
		}
		config := &httpworker.Config{}
		if err := viper.Unmarshal(config); err != nil {
			log.Error(err)
			os.Exit(1)
		}

		// The runner traps interrupts itself, a plain cancel is enough here.
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		if err := httpworker.Run(ctx, cancel, config, os.Stdout); err != nil {
			log.Error(err)
			os.Exit(1)
		}
	},
}
