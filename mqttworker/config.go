package mqttworker

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// Config provides all the mqtt tool options. The cmd layer unmarshals flags,
// environment variables and config file values into this struct.
type Config struct {
	// Broker sets the MQTT broker host.
	Broker string `mapstructure:"broker"`

	// Port sets the MQTT broker port. (Default: 1883).
	Port int `mapstructure:"port"`

	// Devices sets the device id source: a local CSV file, a `gs://{bucket}/{object}` url, or inline CSV data.
	Devices string `mapstructure:"devices"`

	// DeviceCount limits the run to the first N devices of the source. 0 means all.
	DeviceCount int `mapstructure:"device-count"`

	// Password sets the password every device authenticates with. (Default: "123456").
	Password string `mapstructure:"password"`

	// Keepalive sets the MQTT keepalive in seconds. (Default: 60).
	Keepalive int `mapstructure:"keepalive"`

	// Out sets the latency log CSV path. (Default: "output_<unix>.csv").
	Out string `mapstructure:"out"`

	// IdleTimeout stops the run after this many seconds without a message. 0 disables the watchdog.
	IdleTimeout int `mapstructure:"idle-timeout"`

	// MetricsAddr serves a prometheus /metrics endpoint when set, e.g. ":9090".
	MetricsAddr string `mapstructure:"metrics-addr"`
}

func (c *Config) Validate() error {
	if c.Broker == "" {
		return errors.New("broker is required")
	}
	if c.Devices == "" {
		return errors.New("devices is required")
	}
	return nil
}

func (c *Config) brokerURL() string {
	port := c.Port
	if port == 0 {
		port = 1883
	}
	return fmt.Sprintf("tcp://%s:%d", c.Broker, port)
}

func (c *Config) password() string {
	if c.Password == "" {
		return "123456"
	}
	return c.Password
}

func (c *Config) keepalive() time.Duration {
	if c.Keepalive <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.Keepalive) * time.Second
}

func (c *Config) outPath() string {
	if c.Out == "" {
		return fmt.Sprintf("output_%d.csv", time.Now().Unix())
	}
	return c.Out
}

func (c *Config) idleTimeout() time.Duration {
	return time.Duration(c.IdleTimeout) * time.Second
}
