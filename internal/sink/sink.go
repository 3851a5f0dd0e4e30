// Package sink is collector side: accepts readings over HTTP, keeps short
// history and pushes every accepted reading to websocket subscribers.
package sink

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/envagent/log2"
)

const (
	clientQueue  = 16
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingInterval = pongTimeout * 9 / 10
	maxBody      = 4 << 10
)

type Server struct {
	history  *History
	log      *log2.Log
	alive    *alive.Alive
	upgrader websocket.Upgrader
	now      func() time.Time

	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

func NewServer(history int, a *alive.Alive, log *log2.Log) *Server {
	return &Server{
		history: NewHistory(history),
		log:     log,
		alive:   a,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// dashboard may be served from anywhere
			CheckOrigin: func(*http.Request) bool { return true },
		},
		now:     time.Now,
		clients: make(map[*client]struct{}),
	}
}

func (s *Server) History() *History { return s.history }

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/temperature", s.handleTemperature)
	mux.HandleFunc("/ws", s.handleWebsocket)
	return mux
}

// Serve runs until ctx is done or alive is stopped.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if !s.alive.Add(1) {
		ln.Close()
		return errors.New("sink stopped before start")
	}
	defer s.alive.Done()

	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		select {
		case <-ctx.Done():
		case <-s.alive.StopChan():
		}
		sctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
		s.closeClients()
	}()
	s.log.Infof("sink listening on %s", ln.Addr().String())
	err := srv.Serve(ln)
	if err == http.ErrServerClosed {
		return nil
	}
	return errors.Annotate(err, "sink serve")
}

type postBody struct {
	Temperature *float64 `json:"temperature"`
	Humidity    *float64 `json:"humidity"`
}

type reply struct {
	Success bool     `json:"success"`
	Message string   `json:"message"`
	Data    *Reading `json:"data,omitempty"`
}

func (s *Server) handleTemperature(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.history.List())
	case http.MethodPost:
		s.handlePost(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		writeJSON(w, http.StatusMethodNotAllowed, reply{Message: "Method not allowed"})
	}
}

func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	var body postBody
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(&body); err != nil {
		s.log.Debugf("sink invalid body from=%s err=%v", r.RemoteAddr, err)
		writeJSON(w, http.StatusBadRequest, reply{Message: "Invalid JSON"})
		return
	}
	if body.Temperature == nil || body.Humidity == nil {
		s.log.Infof("sink missing temperature or humidity from=%s", r.RemoteAddr)
		writeJSON(w, http.StatusBadRequest, reply{Message: "Missing temperature or humidity"})
		return
	}

	reading := Reading{
		Temperature: *body.Temperature,
		Humidity:    *body.Humidity,
		Timestamp:   s.now().UTC(),
	}
	s.history.Add(reading)
	s.broadcast(reading)
	s.log.Infof("sink received from=%s T=%.1f H=%.1f", r.RemoteAddr, reading.Temperature, reading.Humidity)
	writeJSON(w, http.StatusOK, reply{Success: true, Message: "Saved", Data: &reading})
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader already replied with error status
		s.log.Debugf("sink websocket upgrade from=%s err=%v", r.RemoteAddr, err)
		return
	}
	if !s.alive.Add(2) {
		conn.Close()
		return
	}
	c := &client{conn: conn, send: make(chan []byte, clientQueue)}
	s.mu.Lock()
	s.clients[c] = struct{}{}
	n := len(s.clients)
	s.mu.Unlock()
	if !s.alive.IsRunning() {
		s.drop(c)
	}
	s.log.Infof("sink websocket connected from=%s clients=%d", r.RemoteAddr, n)

	go s.writeLoop(c)
	s.readLoop(c)
}

// readLoop discards client messages, returns on disconnect.
func (s *Server) readLoop(c *client) {
	defer s.alive.Done()
	defer s.drop(c)
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debugf("sink websocket read: %v", err)
			}
			return
		}
	}
}

func (s *Server) writeLoop(c *client) {
	defer s.alive.Done()
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	defer c.conn.Close()
	for {
		select {
		case b, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				s.log.Debugf("sink websocket write: %v", err)
				return
			}
		case <-ping.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) broadcast(r Reading) {
	b, err := json.Marshal(r)
	if err != nil {
		s.log.Errorf("sink broadcast marshal: %v", err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		select {
		case c.send <- b:
		default:
			s.log.Errorf("sink websocket client=%s too slow, dropped", c.conn.RemoteAddr().String())
			s.dropLocked(c)
		}
	}
}

// Clients returns number of connected websocket subscribers.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) drop(c *client) {
	s.mu.Lock()
	s.dropLocked(c)
	s.mu.Unlock()
}

func (s *Server) dropLocked(c *client) {
	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		close(c.send)
	}
}

func (s *Server) closeClients() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		s.dropLocked(c)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
