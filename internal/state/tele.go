package state

import (
	"context"
	"net/http"

	"github.com/juju/errors"
	"github.com/temoto/envagent/log2"
	"github.com/temoto/envagent/tele"
)

type teleState struct {
	// Tests may set these before first use.
	Transport  tele.Transporter
	HttpClient *http.Client

	reporter *tele.Reporter
}

func (g *Global) reporterLocked() (*tele.Reporter, error) {
	if g.Tele.reporter != nil {
		return g.Tele.reporter, nil
	}
	cfg := &g.Config.Tele
	log := g.Log.Clone(log2.LInfo)
	if cfg.LogDebug {
		log.SetLevel(log2.LDebug)
	}

	if g.Tele.Transport == nil {
		switch cfg.Transport {
		case "", "http":
			g.Tele.Transport = tele.NewHttpTransport(g.Tele.HttpClient, g.Config.HttpTimeout())
		case "mqtt":
			t, err := tele.NewMqttTransport(tele.MqttConfig{
				Broker:   cfg.MqttBroker,
				ClientID: cfg.MqttClientID,
				Topic:    cfg.MqttTopic,
				Timeout:  g.Config.HttpTimeout(),
			}, log)
			if err != nil {
				return nil, errors.Annotate(err, "config")
			}
			g.Tele.Transport = t
		case "mock":
			g.Tele.Transport = tele.TransportFunc(func(_ context.Context, req *tele.Request) (tele.Response, error) {
				log.Infof("tele mock endpoint=%s payload=%s", req.Endpoint, req.Body)
				return tele.Response{StatusCode: http.StatusOK}, nil
			})
		default:
			return nil, errors.NotValidf("config: tele.transport=%s valid: http, mqtt", cfg.Transport)
		}
	}
	g.Tele.reporter = tele.NewReporter(g.Tele.Transport, cfg.Endpoint, log)
	return g.Tele.reporter, nil
}
