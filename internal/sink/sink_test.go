package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/alive/v2"
	"github.com/temoto/envagent/log2"
)

var testTime = time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)

func newTestServer(t testing.TB, history int) (*Server, *httptest.Server) {
	a := alive.NewAlive()
	s := NewServer(history, a, log2.NewTest(t, log2.LDebug))
	s.now = func() time.Time { return testTime }
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		a.Stop()
		s.closeClients()
		a.Wait()
		ts.Close()
	})
	return s, ts
}

func post(t testing.TB, url, body string) (int, reply) {
	resp, err := http.Post(url+"/temperature", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var r reply
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&r))
	return resp.StatusCode, r
}

func TestPost(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		body    string
		status  int
		message string
	}{
		{"ok", `{"temperature":23.4,"humidity":55.0}`, 200, "Saved"},
		{"zero-values", `{"temperature":0,"humidity":0}`, 200, "Saved"},
		{"missing-humidity", `{"temperature":23.4}`, 400, "Missing temperature or humidity"},
		{"missing-temperature", `{"humidity":55.0}`, 400, "Missing temperature or humidity"},
		{"null", `{"temperature":null,"humidity":55.0}`, 400, "Missing temperature or humidity"},
		{"empty-object", `{}`, 400, "Missing temperature or humidity"},
		{"malformed", `{"temperature":`, 400, "Invalid JSON"},
		{"wrong-type", `{"temperature":"hot","humidity":1}`, 400, "Invalid JSON"},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			s, ts := newTestServer(t, 20)
			status, r := post(t, ts.URL, c.body)
			assert.Equal(t, c.status, status)
			assert.Equal(t, c.message, r.Message)
			assert.Equal(t, c.status == 200, r.Success)
			if c.status == 200 {
				require.NotNil(t, r.Data)
				assert.True(t, testTime.Equal(r.Data.Timestamp))
				assert.Len(t, s.History().List(), 1)
			} else {
				assert.Len(t, s.History().List(), 0)
			}
		})
	}
}

func TestGetHistory(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t, 3)
	for i := 1; i <= 5; i++ {
		status, _ := post(t, ts.URL, fmt.Sprintf(`{"temperature":%d.5,"humidity":50}`, i))
		require.Equal(t, 200, status)
	}
	resp, err := http.Get(ts.URL + "/temperature")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 200, resp.StatusCode)
	var list []Reading
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list, 3)
	assert.Equal(t, 5.5, list[0].Temperature)
	assert.Equal(t, 4.5, list[1].Temperature)
	assert.Equal(t, 3.5, list[2].Temperature)
}

func TestGetHistoryEmpty(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t, 20)
	resp, err := http.Get(ts.URL + "/temperature")
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := ioutil.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "[]\n", string(b))
}

func TestMethodNotAllowed(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t, 20)
	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/temperature", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHistoryRing(t *testing.T) {
	t.Parallel()

	h := NewHistory(2)
	assert.Len(t, h.List(), 0)
	h.Add(Reading{Temperature: 1})
	assert.Equal(t, []Reading{{Temperature: 1}}, h.List())
	h.Add(Reading{Temperature: 2})
	h.Add(Reading{Temperature: 3})
	assert.Equal(t, []Reading{{Temperature: 3}, {Temperature: 2}}, h.List())
}

func TestWebsocketBroadcast(t *testing.T) {
	t.Parallel()

	s, ts := newTestServer(t, 20)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conns := make([]*websocket.Conn, 2)
	for i := range conns {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		require.NoError(t, err)
		defer conn.Close()
		conns[i] = conn
	}
	require.Eventually(t, func() bool { return s.Clients() == 2 }, 2*time.Second, time.Millisecond)

	status, _ := post(t, ts.URL, `{"temperature":23.4,"humidity":55.0}`)
	require.Equal(t, 200, status)
	for _, conn := range conns {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var r Reading
		require.NoError(t, conn.ReadJSON(&r))
		assert.Equal(t, 23.4, r.Temperature)
		assert.Equal(t, 55.0, r.Humidity)
		assert.True(t, testTime.Equal(r.Timestamp))
	}

	conns[0].Close()
	require.Eventually(t, func() bool { return s.Clients() == 1 }, 2*time.Second, time.Millisecond)
}

func TestServeStop(t *testing.T) {
	t.Parallel()

	a := alive.NewAlive()
	s := NewServer(20, a, log2.NewTest(t, log2.LDebug))
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	url := "http://" + ln.Addr().String()
	require.Eventually(t, func() bool {
		resp, err := http.Get(url + "/temperature")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == 200
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	a.Stop()
	a.Wait()
}
