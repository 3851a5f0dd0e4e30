package tele

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/juju/errors"
	"github.com/temoto/envagent/log2"
)

const DefaultMqttTopic = "envagent/telemetry"

type MqttConfig struct {
	Broker   string
	ClientID string
	Topic    string
	Timeout  time.Duration
}

// MqttTransport publishes payload at QoS 1, PUBACK is completed exchange.
// Request.Endpoint is ignored, topic is fixed per transport.
type MqttTransport struct {
	config MqttConfig
	log    *log2.Log
	m      mqtt.Client
}

func NewMqttTransport(config MqttConfig, log *log2.Log) (*MqttTransport, error) {
	mqtt.ERROR = mqttLogger{log: log, level: log2.LError}
	mqtt.CRITICAL = mqttLogger{log: log, level: log2.LError}
	mqtt.WARN = mqttLogger{log: log, level: log2.LInfo}
	return newMqttTransport(config, log, mqtt.NewClient)
}

func newMqttTransport(config MqttConfig, log *log2.Log, newClient func(*mqtt.ClientOptions) mqtt.Client) (*MqttTransport, error) {
	if config.Broker == "" {
		return nil, errors.NotValidf("mqtt broker empty")
	}
	if config.ClientID == "" {
		config.ClientID = "envagent"
	}
	if config.Topic == "" {
		config.Topic = DefaultMqttTopic
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultHttpTimeout
	}
	self := &MqttTransport{config: config, log: log}
	mopt := mqtt.NewClientOptions().
		AddBroker(config.Broker).
		SetClientID(config.ClientID).
		SetCleanSession(true).
		SetKeepAlive(60 * time.Second).
		SetPingTimeout(config.Timeout).
		SetConnectTimeout(config.Timeout).
		SetAutoReconnect(true).
		SetOnConnectHandler(func(mqtt.Client) { log.Infof("mqtt connect") }).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) { log.Infof("mqtt disconnect: %v", err) })
	self.m = newClient(mopt)
	return self, nil
}

func (self *MqttTransport) Send(ctx context.Context, req *Request) (Response, error) {
	if !self.m.IsConnected() {
		if err := self.wait(ctx, self.m.Connect()); err != nil {
			return Response{}, errors.Annotatef(err, "mqtt connect broker=%s", self.config.Broker)
		}
	}
	if err := self.wait(ctx, self.m.Publish(self.config.Topic, 1, false, req.Body)); err != nil {
		return Response{}, errors.Annotatef(err, "mqtt publish topic=%s", self.config.Topic)
	}
	return Response{ContentLength: int64(len(req.Body))}, nil
}

func (self *MqttTransport) Close() {
	self.m.Disconnect(250)
}

func (self *MqttTransport) wait(ctx context.Context, token mqtt.Token) error {
	timeout := self.config.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d < timeout {
			timeout = d
		}
	}
	if !token.WaitTimeout(timeout) {
		return errors.Timeoutf("mqtt %v", timeout)
	}
	return token.Error()
}

type mqttLogger struct {
	log   *log2.Log
	level log2.Level
}

func (l mqttLogger) Println(v ...interface{}) {
	l.log.Log(l.level, "mqtt: "+fmt.Sprintln(v...))
}
func (l mqttLogger) Printf(format string, v ...interface{}) {
	l.log.Logf(l.level, "mqtt: "+format, v...)
}
