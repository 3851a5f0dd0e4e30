package tele

import (
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// mqttMock pops one of pubTokens per Publish, empty queue means immediate PUBACK.
type mqttMock struct {
	sync.Mutex
	opt        *mqtt.ClientOptions
	connected  bool
	connectErr error
	connects   int
	pubTokens  []*mqttMockToken
	pubs       []mockMsg
	waits      []time.Duration
}

type mockMsg struct {
	Topic string
	Qos   byte
	P     []byte
}

func (self *mqttMock) MockNew(opt *mqtt.ClientOptions) mqtt.Client {
	self.opt = opt
	return self
}

func (self *mqttMock) IsConnected() bool {
	self.Lock()
	defer self.Unlock()
	return self.connected
}
func (self *mqttMock) IsConnectionOpen() bool { return self.IsConnected() }

func (self *mqttMock) Connect() mqtt.Token {
	self.Lock()
	defer self.Unlock()
	self.connects++
	if self.connectErr == nil {
		self.connected = true
	}
	return &mqttMockToken{m: self, done: true, err: self.connectErr}
}

func (self *mqttMock) Disconnect(uint) {
	self.Lock()
	self.connected = false
	self.Unlock()
}

func (self *mqttMock) Publish(topic string, qos byte, retain bool, payload interface{}) mqtt.Token {
	self.Lock()
	defer self.Unlock()
	self.pubs = append(self.pubs, mockMsg{Topic: topic, Qos: qos, P: payload.([]byte)})
	if len(self.pubTokens) == 0 {
		return &mqttMockToken{m: self, done: true}
	}
	tok := self.pubTokens[0]
	self.pubTokens = self.pubTokens[1:]
	tok.m = self
	return tok
}

func (self *mqttMock) Subscribe(string, byte, mqtt.MessageHandler) mqtt.Token {
	panic("not implemented")
}
func (self *mqttMock) SubscribeMultiple(map[string]byte, mqtt.MessageHandler) mqtt.Token {
	panic("not implemented")
}
func (self *mqttMock) Unsubscribe(...string) mqtt.Token        { panic("not implemented") }
func (self *mqttMock) AddRoute(string, mqtt.MessageHandler)    { panic("not implemented") }
func (self *mqttMock) OptionsReader() mqtt.ClientOptionsReader { panic("not implemented") }

func (self *mqttMock) Pubs() []mockMsg {
	self.Lock()
	defer self.Unlock()
	return append([]mockMsg(nil), self.pubs...)
}

func (self *mqttMock) Waits() []time.Duration {
	self.Lock()
	defer self.Unlock()
	return append([]time.Duration(nil), self.waits...)
}

// mqttMockToken never blocks, done=false acts like broker never answered.
type mqttMockToken struct {
	m    *mqttMock
	done bool
	err  error
}

func (tok *mqttMockToken) Error() error { return tok.err }
func (tok *mqttMockToken) Wait() bool   { return tok.done }
func (tok *mqttMockToken) WaitTimeout(d time.Duration) bool {
	tok.m.Lock()
	tok.m.waits = append(tok.m.waits, d)
	tok.m.Unlock()
	return tok.done
}
