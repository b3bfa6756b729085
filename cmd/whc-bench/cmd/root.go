package cmd

import (
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	verbose bool
)

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default is ./whc-bench.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log at debug level")
}

var rootCmd = &cobra.Command{
	Use:   "whc-bench command",
	Short: "Load and latency benchmarks for the device platform",
	Long: `
Load and latency benchmarks for the device platform.

whc-bench http   stresses the command-send endpoint with a fleet of devices
whc-bench kafka  consumes a topic and measures producer to consumer latency
whc-bench mqtt   subscribes a fleet of devices and measures command latency

Every flag can also be set in a config file (--config, ./whc-bench.yaml,
$HOME/.config/whc-bench/ or /etc/whc-bench/) or through WHC_BENCH_* environment
variables, e.g. WHC_BENCH_SASL_PASSWORD.
`,
}

// Execute runs the selected tool. It is called once, by main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

// addFleetFlags declares the flags shared by the tools that drive a device
// fleet.
func addFleetFlags(f *pflag.FlagSet) {
	f.String("devices", "", "Device id source: CSV file, gs:// url, or inline CSV data")
	f.IntP("device-count", "c", 0, "Use only the first N devices (0 = all)")
}

func initConfig() {
	configureLogging()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("whc-bench")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.config/whc-bench")
		viper.AddConfigPath("/etc/whc-bench")
	}
	viper.SetEnvPrefix("whc_bench")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Error(err)
			os.Exit(1)
		}
	}
}

func configureLogging() {
	log.SetFormatter(&log.TextFormatter{ForceColors: true, FullTimestamp: true})
	log.SetOutput(os.Stdout)
	if verbose {
		log.SetLevel(log.DebugLevel)
	}
}
