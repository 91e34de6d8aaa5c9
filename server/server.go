// Package server exposes the running session over HTTP: a health endpoint
// and a websocket that streams every monitor event as JSON.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"ecg-monitor/event"
	"ecg-monitor/monitor"

	"github.com/IonicHealthUsa/ionlog"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Source reports the session state served by /api/health.
type Source interface {
	Snapshot() monitor.Snapshot
}

type Server struct {
	source Source
	engine *gin.Engine

	mu      sync.RWMutex
	clients map[*client]struct{}
	http    *http.Server
}

func New(source Source) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		source:  source,
		engine:  gin.New(),
		clients: make(map[*client]struct{}),
	}
	s.engine.Use(gin.Recovery(), requestLogger)
	s.engine.GET("/api/health", s.getHealth)
	s.engine.GET("/ws", s.handleWebSocket)
	return s
}

func (s *Server) Handler() http.Handler { return s.engine }

// Start listens on addr and serves in the background. Listen errors are
// returned immediately.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	srv := &http.Server{Handler: s.engine, ReadHeaderTimeout: 5 * time.Second}
	s.mu.Lock()
	s.http = srv
	s.mu.Unlock()

	ionlog.Infof("HTTP server listening on %s", ln.Addr())
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			ionlog.Errorf("HTTP server stopped: %v", err)
		}
	}()
	return nil
}

// Shutdown disconnects all websocket clients and stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for c := range s.clients {
		delete(s.clients, c)
		c.close()
	}
	srv := s.http
	s.http = nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *Server) Clients() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Handle is an event.Handler that broadcasts e to every client. Clients whose
// queue is full are disconnected instead of stalling the monitor.
func (s *Server) Handle(e event.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		ionlog.Errorf("Failed to encode %s event: %v", e.Kind, err)
		return
	}

	var slow []*client
	s.mu.RLock()
	for c := range s.clients {
		if !c.enqueue(data) {
			slow = append(slow, c)
		}
	}
	s.mu.RUnlock()

	for _, c := range slow {
		ionlog.Warnf("Dropping slow websocket client %s", c.conn.RemoteAddr())
		s.remove(c)
	}
}

func (s *Server) add(c *client) {
	s.mu.Lock()
	s.clients[c] = struct{}{}
	n := len(s.clients)
	s.mu.Unlock()
	ionlog.Infof("Websocket client %s connected (%d total)", c.conn.RemoteAddr(), n)
}

func (s *Server) remove(c *client) {
	s.mu.Lock()
	_, ok := s.clients[c]
	if ok {
		delete(s.clients, c)
		c.close()
	}
	s.mu.Unlock()
	if ok {
		ionlog.Infof("Websocket client %s disconnected", c.conn.RemoteAddr())
	}
}

func (s *Server) getHealth(c *gin.Context) {
	snap := s.source.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"port":      snap.Port,
		"reading":   snap.Reading,
		"bpm":       snap.BPM,
		"samples":   snap.Samples,
		"indicator": snap.Indicator,
		"clients":   s.Clients(),
	})
}

func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		ionlog.Errorf("Websocket upgrade failed: %v", err)
		return
	}

	cl := newClient(conn)

	// new clients start from the current indicator and rate
	snap := s.source.Snapshot()
	for _, e := range []event.Event{event.IndicatorChanged(snap.Indicator), event.RateUpdated(snap.BPM)} {
		if data, err := json.Marshal(e); err == nil {
			cl.enqueue(data)
		}
	}

	s.add(cl)
	go cl.writePump()
	go cl.readPump(func() { s.remove(cl) })
}

func requestLogger(c *gin.Context) {
	start := time.Now()
	c.Next()
	if c.Request.URL.Path == "/ws" {
		return
	}
	ionlog.Infof("%s %s %d %v", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
}
