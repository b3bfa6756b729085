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
	"github.com/HJianBo/whc-bench/kafkaworker"
)

func init() {
	rootCmd.AddCommand(kafkaCmd)
	f := kafkaCmd.Flags()
	f.String("brokers", "127.0.0.1:9092", "Bootstrap servers, comma separated")
	f.String("topic", "", "Topic to consume")
	f.String("group", "whc-bench", "Consumer group id")
	f.String("out", fmt.Sprintf("kafka_latency_%d.csv", time.Now().Unix()), "Latency log CSV path")
	f.Int("request-timeout", 30, "Broker dial timeout in seconds")
	f.Int("idle-timeout", 30, "Stop after this many seconds without a message")
	f.String("sasl-mechanism", "PLAIN", "PLAIN, SCRAM-SHA-256 or SCRAM-SHA-512")
	f.String("sasl-username", "test", "SASL user")
	f.String("sasl-password", "test", "SASL password")
	f.String("security-protocol", "SASL_PLAINTEXT", "PLAINTEXT, SSL, SASL_PLAINTEXT or SASL_SSL")
	f.String("metrics-addr", "", "Serve prometheus metrics on this address, e.g. :9090")
}

var kafkaCmd = &cobra.Command{
	Use:   "kafka",
	Short: "Consume a topic and measure producer to consumer latency",
	Long: `
Consume a topic and measure producer to consumer latency. Each message yields
a broker latency (message timestamp to receipt) and, when the producer set a
tx_start_ts header, a tx start latency. The run stops on interrupt or once the
topic has been idle for --idle-timeout seconds.
`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := viper.BindPFlags(cmd.Flags()); err != nil {
			log.Error(err)
			os.Exit(1)
		}
		config := &kafkaworker.Config{}
		if err := viper.Unmarshal(config); err != nil {
			log.Error(err)
			os.Exit(1)
		}

		ctx, cancel := bench.WithSignalCancel(context.Background())
		defer cancel()
		if err := kafkaworker.Run(ctx, cancel, config, os.Stdout); err != nil {
			log.Error(err)
			os.Exit(1)
		}
	},
}
