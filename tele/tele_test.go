package tele

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/envagent/hardware/dht"
	"github.com/temoto/envagent/helpers"
	"github.com/temoto/envagent/log2"
)

const testEndpoint = "http://172.20.10.2:3000/temperature"

func TestPayload(t *testing.T) {
	t.Parallel()

	cases := []struct {
		t, h   float32
		expect string
	}{
		{23.4, 55.0, `{"temperature":23.4,"humidity":55.0}`},
		{23.45, 50, `{"temperature":23.4,"humidity":50.0}`},
		{-5.2, 0, `{"temperature":-5.2,"humidity":0.0}`},
		{0, 100, `{"temperature":0.0,"humidity":100.0}`},
		{21.96, 40.04, `{"temperature":22.0,"humidity":40.0}`},
	}
	for _, c := range cases {
		c := c
		t.Run(c.expect, func(t *testing.T) {
			b := Payload(dht.Reading{Temperature: c.t, Humidity: c.h})
			assert.Equal(t, c.expect, string(b))

			var parsed struct {
				Temperature float64 `json:"temperature"`
				Humidity    float64 `json:"humidity"`
			}
			require.NoError(t, json.Unmarshal(b, &parsed))
			assert.LessOrEqual(t, math.Abs(parsed.Temperature-float64(c.t)), 0.05+1e-6)
			assert.LessOrEqual(t, math.Abs(parsed.Humidity-float64(c.h)), 0.05+1e-6)
		})
	}
}

func TestPayloadStable(t *testing.T) {
	t.Parallel()

	r := dht.Reading{Temperature: 23.45, Humidity: 61.25}
	first := Payload(r)
	for i := 0; i < 100; i++ {
		assert.Equal(t, first, Payload(r))
	}
}

func TestPayloadSampled(t *testing.T) {
	t.Parallel()

	raw := dht.Raw{Temperature: 23.45, Humidity: 40.05}
	s := dht.NewSampler(dht.ReaderFunc(func(ctx context.Context) (dht.Raw, error) {
		return raw, nil
	}), dht.DHT11, log2.NewTest(t, log2.LDebug))
	r, err := s.Sample(context.Background())
	require.NoError(t, err)

	const expect = `{"temperature":23.4,"humidity":40.0}`
	assert.Equal(t, expect, string(Payload(r)))
	assert.Equal(t, expect, string(Payload(dht.Reading{Temperature: raw.Temperature, Humidity: raw.Humidity})))
}

type sleepRecorder struct{ delays []time.Duration }

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return ctx.Err()
}

func newTestReporter(t testing.TB, mock *helpers.MockHTTP) (*Reporter, *sleepRecorder) {
	transport := NewHttpTransport(&http.Client{Transport: mock}, time.Second)
	r := NewReporter(transport, testEndpoint, log2.NewTest(t, log2.LDebug))
	s := &sleepRecorder{}
	r.sleep = s.sleep
	return r, s
}

func TestReport(t *testing.T) {
	t.Parallel()

	errConn := fmt.Errorf("connection refused")
	cases := []struct {
		name        string
		mock        *helpers.MockHTTP
		policy      RetryPolicy
		delivered   bool
		status      int
		calls       int
		sleeps      int
		success     bool
		expectDelay time.Duration
	}{
		{name: "first-ok", mock: &helpers.MockHTTP{Header: []byte("HTTP/1.0 200 OK\r\nContent-Length: 16\r\n\r\n"), Body: []byte(`{"success":true}`)},
			policy: DefaultRetryPolicy(), delivered: true, status: 200, calls: 1, sleeps: 0, success: true},
		{name: "retry-then-ok", mock: &helpers.MockHTTP{Errs: []error{errConn, errConn, nil}},
			policy: DefaultRetryPolicy(), delivered: true, status: 200, calls: 3, sleeps: 2, success: true, expectDelay: 5 * time.Second},
		{name: "exhausted", mock: &helpers.MockHTTP{Err: errConn},
			policy: DefaultRetryPolicy(), delivered: false, calls: 3, sleeps: 2, expectDelay: 5 * time.Second},
		{name: "custom-policy", mock: &helpers.MockHTTP{Err: errConn},
			policy: RetryPolicy{MaxAttempts: 5, Delay: time.Millisecond}, delivered: false, calls: 5, sleeps: 4, expectDelay: time.Millisecond},
		{name: "server-error-not-retried", mock: &helpers.MockHTTP{Header: []byte("HTTP/1.0 500 Internal Server Error\r\n\r\n")},
			policy: DefaultRetryPolicy(), delivered: true, status: 500, calls: 1, sleeps: 0},
		{name: "bad-request-not-retried", mock: &helpers.MockHTTP{Errs: []error{errConn}, Header: []byte("HTTP/1.0 400 Bad Request\r\n\r\n")},
			policy: DefaultRetryPolicy(), delivered: true, status: 400, calls: 2, sleeps: 1, expectDelay: 5 * time.Second},
		{name: "zero-attempts-means-one", mock: &helpers.MockHTTP{Err: errConn},
			policy: RetryPolicy{}, delivered: false, calls: 1, sleeps: 0},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			r, s := newTestReporter(t, c.mock)
			o := r.Report(context.Background(), dht.Reading{Temperature: 23.4, Humidity: 55.0}, c.policy)

			assert.Equal(t, c.delivered, o.Delivered)
			assert.Equal(t, !c.delivered, o.Exhausted())
			assert.Equal(t, c.success, o.Success())
			assert.Equal(t, c.status, o.StatusCode)
			assert.Equal(t, c.calls, o.Attempts)
			if c.delivered {
				assert.NoError(t, o.Err)
			} else {
				assert.Error(t, o.Err)
			}
			reqs := c.mock.Requests()
			require.Len(t, reqs, c.calls)
			for _, req := range reqs {
				assert.Equal(t, http.MethodPost, req.Method)
				assert.Equal(t, testEndpoint, req.URL)
				assert.Equal(t, ContentTypeJSON, req.Header.Get("Content-Type"))
				assert.Equal(t, `{"temperature":23.4,"humidity":55.0}`, string(req.Body))
			}
			require.Len(t, s.delays, c.sleeps)
			for _, d := range s.delays {
				assert.Equal(t, c.expectDelay, d)
			}

			st := r.Stat()
			assert.Equal(t, uint32(1), st.Reports)
			assert.Equal(t, uint32(c.calls), st.Attempts)
			if c.delivered {
				assert.Equal(t, uint32(1), st.Delivered)
				assert.False(t, st.LastDelivered.IsZero())
			} else {
				assert.Equal(t, uint32(1), st.Exhausted)
			}
		})
	}
}

func TestReportContentLength(t *testing.T) {
	t.Parallel()

	mock := &helpers.MockHTTP{Header: []byte("HTTP/1.0 201 Created\r\nContent-Length: 16\r\n\r\n"), Body: []byte(`{"success":true}`)}
	r, _ := newTestReporter(t, mock)
	o := r.Report(context.Background(), dht.Reading{Temperature: 1, Humidity: 2}, DefaultRetryPolicy())
	assert.True(t, o.Success())
	assert.Equal(t, 201, o.StatusCode)
	assert.Equal(t, int64(16), o.ContentLength)
}

func TestReportCancelDuringRetry(t *testing.T) {
	t.Parallel()

	mock := &helpers.MockHTTP{Err: fmt.Errorf("network unreachable")}
	r := NewReporter(NewHttpTransport(&http.Client{Transport: mock}, time.Second), testEndpoint, log2.NewTest(t, log2.LDebug))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	o := r.Report(ctx, dht.Reading{}, RetryPolicy{MaxAttempts: 3, Delay: time.Hour})
	assert.False(t, o.Delivered)
	assert.Equal(t, 1, o.Attempts)
	assert.Len(t, mock.Requests(), 1)
}

func TestNewMqttTransport(t *testing.T) {
	t.Parallel()

	_, err := NewMqttTransport(MqttConfig{}, log2.NewTest(t, log2.LDebug))
	require.Error(t, err)

	m, err := NewMqttTransport(MqttConfig{Broker: "tcp://127.0.0.1:1883"}, log2.NewTest(t, log2.LDebug))
	require.NoError(t, err)
	assert.Equal(t, DefaultMqttTopic, m.config.Topic)
	assert.Equal(t, "envagent", m.config.ClientID)
	assert.Equal(t, DefaultHttpTimeout, m.config.Timeout)
}

func TestMqttReport(t *testing.T) {
	t.Parallel()

	errAuth := fmt.Errorf("not authorized")
	cases := []struct {
		name       string
		connectErr error
		pubTokens  []*mqttMockToken
		delivered  bool
		attempts   int
		connects   int
		pubs       int
		delays     int
	}{
		{"ok", nil, nil, true, 1, 1, 1, 0},
		{"connect-fail", fmt.Errorf("connection refused"), nil, false, 3, 3, 0, 2},
		{"publish-timeout", nil, []*mqttMockToken{{done: false}}, true, 2, 1, 2, 1},
		{"publish-error", nil, []*mqttMockToken{{done: true, err: errAuth}, {done: true, err: errAuth}, {done: true, err: errAuth}}, false, 3, 1, 3, 2},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			log := log2.NewTest(t, log2.LDebug)
			mock := &mqttMock{connectErr: c.connectErr, pubTokens: c.pubTokens}
			transport, err := newMqttTransport(MqttConfig{Broker: "tcp://127.0.0.1:1883"}, log, mock.MockNew)
			require.NoError(t, err)
			r := NewReporter(transport, "", log)
			s := &sleepRecorder{}
			r.sleep = s.sleep

			reading := dht.Reading{Temperature: 23.4, Humidity: 55.0}
			o := r.Report(context.Background(), reading, DefaultRetryPolicy())
			assert.Equal(t, c.delivered, o.Delivered)
			assert.Equal(t, c.attempts, o.Attempts)
			assert.Len(t, s.delays, c.delays)
			assert.Equal(t, c.connects, mock.connects)
			pubs := mock.Pubs()
			require.Len(t, pubs, c.pubs)
			if c.delivered {
				assert.True(t, o.Success())
				assert.Equal(t, 0, o.StatusCode)
				assert.Equal(t, int64(len(Payload(reading))), o.ContentLength)
				last := pubs[len(pubs)-1]
				assert.Equal(t, DefaultMqttTopic, last.Topic)
				assert.Equal(t, byte(1), last.Qos)
				assert.Equal(t, string(Payload(reading)), string(last.P))
			} else {
				assert.Error(t, o.Err)
			}
		})
	}
}

func TestMqttSendTimeout(t *testing.T) {
	t.Parallel()

	mock := &mqttMock{pubTokens: []*mqttMockToken{{done: true}, {done: false}}}
	transport, err := newMqttTransport(MqttConfig{Broker: "tcp://127.0.0.1:1883", Timeout: time.Minute}, log2.NewTest(t, log2.LDebug), mock.MockNew)
	require.NoError(t, err)
	assert.Equal(t, "envagent", mock.opt.ClientID)

	_, err = transport.Send(context.Background(), NewRequest("", dht.Reading{}))
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{time.Minute, time.Minute}, mock.Waits())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = transport.Send(ctx, NewRequest("", dht.Reading{}))
	require.Error(t, err)
	assert.True(t, errors.IsTimeout(err), errors.ErrorStack(err))
	waits := mock.Waits()
	require.Len(t, waits, 3)
	assert.LessOrEqual(t, int64(waits[2]), int64(5*time.Second))
	assert.Greater(t, int64(waits[2]), int64(0))
}
