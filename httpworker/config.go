package httpworker

import (
	"time"

	"github.com/pkg/errors"
)

// Config provides all the http tool options. The cmd layer unmarshals flags,
// environment variables and config file values into this struct.
type Config struct {
	// URL sets the command endpoint every request is POSTed to.
	URL string `mapstructure:"url"`

	// Devices sets the device id source: a local CSV file, a `gs://{bucket}/{object}` url, or inline CSV data.
	Devices string `mapstructure:"devices"`

	// Concurrent sets the number of workers per shard. (Default: 10).
	Concurrent int `mapstructure:"concurrent"`

	// Shards sets the number of independent clients, each with its own connection pool. (Default: 1).
	Shards int `mapstructure:"shards"`

	// DeviceCount limits the run to the first N devices of the source. 0 means all.
	DeviceCount int `mapstructure:"device-count"`

	// Rounds sets how many commands are sent to each device. (Default: 10).
	Rounds int `mapstructure:"rounds"`

	// Interval sets the minimum milliseconds between commands to the same device. 0 disables pacing.
	Interval int `mapstructure:"interval"`

	// Timeout sets the per-request deadline in seconds. (Default: 30).
	Timeout int `mapstructure:"timeout"`

	// EdgeNodeID is sent as the edgeNodeId header in standard mode.
	EdgeNodeID string `mapstructure:"edge-node-id"`

	// ProductID, when set, is included as deviceProductId and gatewayProductId in standard mode payloads.
	ProductID string `mapstructure:"product-id"`

	// EMQX switches to the EMQX publish API payload shape.
	EMQX bool `mapstructure:"emqx"`

	// SK is the secret key for the EMQX publish API, sent as a basic Authorization header.
	SK string `mapstructure:"sk"`

	// Out sets the outcome log CSV path. Empty disables the log.
	Out string `mapstructure:"out"`

	// Resume instructs the tool to load the outcome log and skip units that already succeeded. Failed units will be retried.
	Resume bool `mapstructure:"resume"`

	// MetricsAddr serves a prometheus /metrics endpoint when set, e.g. ":9090".
	MetricsAddr string `mapstructure:"metrics-addr"`

	// Quiet suppresses the periodic status summary.
	Quiet bool `mapstructure:"quiet"`
}

func (c *Config) Validate() error {
	if c.URL == "" {
		return errors.New("url is required")
	}
	if c.Devices == "" {
		return errors.New("devices is required")
	}
	if c.EMQX {
		if c.SK == "" {
			return errors.New("emqx mode needs a secret key (sk)")
		}
	} else if c.EdgeNodeID == "" {
		return errors.New("standard mode needs an edge node id")
	}
	return nil
}

func (c *Config) interval() time.Duration {
	return time.Duration(c.Interval) * time.Millisecond
}

func (c *Config) timeout() time.Duration {
	if c.Timeout <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Timeout) * time.Second
}
