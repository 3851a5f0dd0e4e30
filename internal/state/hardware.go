package state

import (
	"context"

	"github.com/juju/errors"
	"github.com/temoto/envagent/hardware/dht"
	"github.com/temoto/envagent/hardware/link"
	"github.com/temoto/envagent/helpers"
	"github.com/temoto/envagent/log2"
	gpio "github.com/temoto/gpio-cdev-go"
)

type hardware struct {
	// Tests may set these before first use.
	LinkDriver   link.Driver
	GpioChip     gpio.Chiper
	SensorReader dht.Reader

	link    *link.Manager
	sampler *dht.Sampler
}

func (g *Global) Link() (*link.Manager, error) {
	g.lk.Lock()
	defer g.lk.Unlock()
	return g.linkLocked()
}

func (g *Global) Sampler() (*dht.Sampler, error) {
	g.lk.Lock()
	defer g.lk.Unlock()
	return g.samplerLocked()
}

func (g *Global) linkLocked() (*link.Manager, error) {
	if g.Hardware.link != nil {
		return g.Hardware.link, nil
	}
	cfg := &g.Config.Link
	log := g.Log.Clone(log2.LInfo)
	if cfg.LogDebug {
		log.SetLevel(log2.LDebug)
	}

	if g.Hardware.LinkDriver == nil {
		switch cfg.Driver {
		case "", "wpa":
			g.Hardware.LinkDriver = link.NewWpaDriver(link.WpaConfig{
				Interface: cfg.Interface,
				SSID:      cfg.SSID,
				Password:  cfg.Password,
				Timeout:   helpers.IntMillisecondDefault(cfg.TimeoutMs, link.DefaultWpaTimeout),
			}, nil)
		case "static":
			g.Hardware.LinkDriver = link.NewStaticDriver(cfg.Address)
		case "mock":
			d := link.NewMockDriver()
			d.OnConnect = func(d *link.MockDriver) { d.Emit(link.EventAddressAcquired, "127.0.0.1") }
			d.Emit(link.EventStationStart, "")
			g.Hardware.LinkDriver = d
		default:
			return nil, errors.NotValidf("config: link.driver=%s valid: wpa, static, mock", cfg.Driver)
		}
	}
	g.Hardware.link = link.NewManager(g.Hardware.LinkDriver, g.Alive, g.Config.LinkRetry(), log)
	return g.Hardware.link, nil
}

func (g *Global) samplerLocked() (*dht.Sampler, error) {
	if g.Hardware.sampler != nil {
		return g.Hardware.sampler, nil
	}
	cfg := &g.Config.Sensor
	typ, err := dht.ParseType(cfg.Type)
	if err != nil {
		return nil, errors.Annotate(err, "config")
	}
	log := g.Log.Clone(log2.LInfo)
	if cfg.LogDebug {
		log.SetLevel(log2.LDebug)
	}

	if g.Hardware.SensorReader == nil {
		switch cfg.Driver {
		case "", "gpio":
			pin, err := g.Config.SensorPin()
			if err != nil {
				return nil, err
			}
			if g.Hardware.GpioChip == nil {
				chipName := cfg.PinChip
				if chipName == "" {
					chipName = DefaultGpioChip
				}
				if g.Hardware.GpioChip, err = gpio.Open(chipName, "envagent"); err != nil {
					return nil, errors.Annotatef(err, "config: sensor.pin_chip=%s", chipName)
				}
			}
			timeout := helpers.IntMillisecondDefault(cfg.ReadTimeoutMs, dht.DefaultReadTimeout)
			g.Hardware.SensorReader = dht.NewGpioReader(g.Hardware.GpioChip, pin, typ, timeout, log)
		case "iio":
			g.Hardware.SensorReader = dht.NewIioReader(cfg.IioDevice)
		case "mock":
			g.Hardware.SensorReader = dht.ReaderFunc(func(context.Context) (dht.Raw, error) {
				return dht.Raw{Temperature: 23.4, Humidity: 55}, nil
			})
		default:
			return nil, errors.NotValidf("config: sensor.driver=%s valid: gpio, iio, mock", cfg.Driver)
		}
	}
	g.Hardware.sampler = dht.NewSampler(g.Hardware.SensorReader, typ, log)
	return g.Hardware.sampler, nil
}

// Close releases hardware handles. Call after Alive.Wait().
func (g *Global) Close() error {
	g.lk.Lock()
	defer g.lk.Unlock()
	errs := make([]error, 0, 2)
	if c, ok := g.Hardware.LinkDriver.(interface{ Close() error }); ok {
		errs = append(errs, c.Close())
	}
	if g.Hardware.GpioChip != nil {
		errs = append(errs, g.Hardware.GpioChip.Close())
	}
	if c, ok := g.Tele.Transport.(interface{ Close() }); ok {
		c.Close()
	}
	return helpers.FoldErrors(errs)
}

