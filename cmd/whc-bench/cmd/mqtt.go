package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/HJianBo/whc-bench/bench"
	"github.com/HJianBo/whc-bench/mqttworker"
)

func init() {
	rootCmd.AddCommand(mqttCmd)
	f := mqttCmd.Flags()
	addFleetFlags(f)
	f.String("broker", "", "MQTT broker host")
	f.Int("port", 1883, "MQTT broker port")
	f.StringP("password", "p", "123456", "Password every device authenticates with")
	f.IntP("keepalive", "k", 60, "MQTT keepalive in seconds")
	f.String("out", fmt.Sprintf("output_%d.csv", time.Now().Unix()), "Latency log CSV path")
	f.Int("idle-timeout", 0, "Stop after this many seconds without a message (0 = run until interrupted)")
	f.String("metrics-addr", "", "Serve prometheus metrics on this address, e.g. :9090")
}

var mqttCmd = &cobra.Command{
	Use:   "mqtt",
	Short: "Subscribe a fleet of devices and measure command latency",
	Long: `
Subscribe a fleet of devices and measure command latency. One client connects
per device id, using the id as client id and username, and subscribes to the
device's command topic. Every received command carries its send instant, so
each message yields one latency sample.
`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := viper.BindPFlags(cmd.Flags()); err != nil {
			log.Error(err)
			os.Exit(1)
		}
		config := &mqttworker.Config{}
		if err := viper.Unmarshal(config); err != nil {
			log.Error(err)
			os.Exit(1)
		}

		ctx, cancel := bench.WithSignalCancel(context.Background())
		defer cancel()
		if err := mqttworker.Run(ctx, cancel, config, os.Stdout); err != nil {
			log.Error(err)
			os.Exit(1)
		}
	},
}
