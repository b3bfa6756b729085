package kafkaworker

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Config provides all the kafka tool options. The cmd layer unmarshals flags,
// environment variables and config file values into this struct.
type Config struct {
	// Brokers sets the bootstrap servers as a comma separated list. (Default: "127.0.0.1:9092").
	Brokers string `mapstructure:"brokers"`

	// Topic sets the topic to consume.
	Topic string `mapstructure:"topic"`

	// Group sets the consumer group id. (Default: "whc-bench").
	Group string `mapstructure:"group"`

	// Out sets the latency log CSV path. (Default: "kafka_latency_<unix>.csv").
	Out string `mapstructure:"out"`

	// RequestTimeout sets the broker dial timeout in seconds. (Default: 30).
	RequestTimeout int `mapstructure:"request-timeout"`

	// IdleTimeout stops the run after this many seconds without a message. (Default: 30).
	IdleTimeout int `mapstructure:"idle-timeout"`

	// SASLMechanism selects PLAIN, SCRAM-SHA-256 or SCRAM-SHA-512. (Default: PLAIN).
	SASLMechanism string `mapstructure:"sasl-mechanism"`

	// SASLUsername sets the SASL user. (Default: "test").
	SASLUsername string `mapstructure:"sasl-username"`

	// SASLPassword sets the SASL password. (Default: "test").
	SASLPassword string `mapstructure:"sasl-password"`

	// SecurityProtocol selects PLAINTEXT, SSL, SASL_PLAINTEXT or SASL_SSL. (Default: SASL_PLAINTEXT).
	SecurityProtocol string `mapstructure:"security-protocol"`

	// MetricsAddr serves a prometheus /metrics endpoint when set, e.g. ":9090".
	MetricsAddr string `mapstructure:"metrics-addr"`
}

func (c *Config) Validate() error {
	if c.Topic == "" {
		return errors.New("topic is required")
	}
	switch c.saslMechanism() {
	case "PLAIN", "SCRAM-SHA-256", "SCRAM-SHA-512":
	default:
		return errors.Errorf("unknown sasl mechanism %q", c.SASLMechanism)
	}
	switch c.securityProtocol() {
	case "PLAINTEXT", "SSL", "SASL_PLAINTEXT", "SASL_SSL":
	default:
		return errors.Errorf("unknown security protocol %q", c.SecurityProtocol)
	}
	return nil
}

func (c *Config) brokerList() []string {
	brokers := c.Brokers
	if brokers == "" {
		brokers = "127.0.0.1:9092"
	}
	var list []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			list = append(list, b)
		}
	}
	return list
}

func (c *Config) group() string {
	if c.Group == "" {
		return "whc-bench"
	}
	return c.Group
}

func (c *Config) outPath() string {
	if c.Out == "" {
		return fmt.Sprintf("kafka_latency_%d.csv", time.Now().Unix())
	}
	return c.Out
}

func (c *Config) saslMechanism() string {
	if c.SASLMechanism == "" {
		return "PLAIN"
	}
	return c.SASLMechanism
}

func (c *Config) securityProtocol() string {
	if c.SecurityProtocol == "" {
		return "SASL_PLAINTEXT"
	}
	return c.SecurityProtocol
}

func (c *Config) requestTimeout() time.Duration {
	if c.RequestTimeout <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.RequestTimeout) * time.Second
}

func (c *Config) idleTimeout() time.Duration {
	if c.IdleTimeout <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.IdleTimeout) * time.Second
}
