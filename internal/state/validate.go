package state

import (
	"strconv"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/envagent/hardware/dht"
	"github.com/temoto/envagent/hardware/link"
	"github.com/temoto/envagent/helpers"
	"github.com/temoto/envagent/internal/agent"
	"github.com/temoto/envagent/tele"
)

const (
	DefaultSinkListen  = ":3000"
	DefaultSinkHistory = 20
	DefaultGpioChip    = "/dev/gpiochip0"
)

// Validate checks values which would otherwise fail late, in background goroutines.
func (c *Config) Validate() error {
	errs := make([]error, 0, 4)

	switch c.Link.Driver {
	case "", "wpa":
		if c.Link.Interface == "" {
			errs = append(errs, errors.NotValidf("config: link.interface empty"))
		}
		// WPA2 passphrase, empty means open network
		if n := len(c.Link.Password); n != 0 && (n < 8 || n > 63) {
			errs = append(errs, errors.NotValidf("config: link.password length=%d expected 8..63", n))
		}
	case "static", "mock":
	default:
		errs = append(errs, errors.NotValidf("config: link.driver=%s valid: wpa, static, mock", c.Link.Driver))
	}

	switch c.Sensor.Driver {
	case "", "gpio":
		if _, err := c.SensorPin(); err != nil {
			errs = append(errs, err)
		}
	case "iio":
		if c.Sensor.IioDevice == "" {
			errs = append(errs, errors.NotFoundf("config: sensor.iio_device"))
		}
	case "mock":
	default:
		errs = append(errs, errors.NotValidf("config: sensor.driver=%s valid: gpio, iio, mock", c.Sensor.Driver))
	}
	if _, err := dht.ParseType(c.Sensor.Type); err != nil {
		errs = append(errs, errors.Annotate(err, "config"))
	}

	switch c.Tele.Transport {
	case "", "http":
		if c.Tele.Endpoint == "" {
			errs = append(errs, errors.NotFoundf("config: tele.endpoint"))
		}
	case "mqtt":
		if c.Tele.MqttBroker == "" {
			errs = append(errs, errors.NotFoundf("config: tele.mqtt_broker"))
		}
	case "mock":
	default:
		errs = append(errs, errors.NotValidf("config: tele.transport=%s valid: http, mqtt", c.Tele.Transport))
	}
	if c.Tele.RetryCount < 0 {
		errs = append(errs, errors.NotValidf("config: tele.retry_count=%d", c.Tele.RetryCount))
	}

	if _, err := agent.ParseGate(c.Agent.Gate); err != nil {
		errs = append(errs, errors.Annotate(err, "config"))
	}
	return helpers.FoldErrors(errs)
}

func (c *Config) SensorPin() (uint32, error) {
	if c.Sensor.Pin == "" {
		return 0, errors.NotFoundf("config: sensor.pin")
	}
	n, err := strconv.ParseUint(c.Sensor.Pin, 10, 32)
	if err != nil {
		return 0, errors.NotValidf("config: sensor.pin=%s", c.Sensor.Pin)
	}
	return uint32(n), nil
}

func (c *Config) RetryPolicy() tele.RetryPolicy {
	p := tele.DefaultRetryPolicy()
	if c.Tele.RetryCount > 0 {
		p.MaxAttempts = c.Tele.RetryCount
	}
	p.Delay = helpers.IntMillisecondDefault(c.Tele.RetryDelayMs, tele.DefaultRetryDelay)
	return p
}

func (c *Config) AgentConfig() agent.Config {
	gate, _ := agent.ParseGate(c.Agent.Gate)
	return agent.Config{
		Interval: helpers.IntMillisecondDefault(c.Agent.IntervalMs, agent.DefaultInterval),
		Gate:     gate,
		Retry:    c.RetryPolicy(),
	}
}

func (c *Config) HttpTimeout() time.Duration {
	return helpers.IntMillisecondDefault(c.Tele.HttpTimeoutMs, tele.DefaultHttpTimeout)
}

func (c *Config) LinkRetry() time.Duration {
	return helpers.IntMillisecondDefault(c.Link.RetryMs, link.DefaultConnectRetry)
}

func (c *Config) SinkListen() string {
	if c.Sink.Listen == "" {
		return DefaultSinkListen
	}
	return c.Sink.Listen
}

func (c *Config) SinkHistory() int {
	if c.Sink.History <= 0 {
		return DefaultSinkHistory
	}
	return c.Sink.History
}
