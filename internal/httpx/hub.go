package httpx

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	jww "github.com/spf13/jwalterweatherman"

	"local.dev/socialdemo-sync/internal/client"
	"local.dev/socialdemo-sync/internal/metrics"
)

const (
	sendBuffer = 64
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// conn is one websocket subscriber. Events queue in send; a subscriber
// that falls sendBuffer events behind is disconnected.
type conn struct {
	ws   *websocket.Conn
	send chan []byte
}

// Hub fans view events out to every connected websocket.
type Hub struct {
	mu    sync.RWMutex
	conns map[*conn]bool
}

func NewHub() *Hub {
	return &Hub{conns: make(map[*conn]bool)}
}

func (h *Hub) add(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c] = true
}

func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[c] {
		delete(h.conns, c)
		close(c.send)
	}
}

// Len reports the number of connected subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Broadcast queues ev for every subscriber without blocking.
func (h *Hub) Broadcast(ev client.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		jww.ERROR.Printf("encode %s event: %v", ev.View, err)
		return
	}
	h.mu.RLock()
	var slow []*conn
	for c := range h.conns {
		select {
		case c.send <- payload:
			metrics.IncWSEvent("sent")
		default:
			metrics.IncWSEvent("dropped")
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range slow {
		jww.WARN.Printf("websocket subscriber %s too slow, disconnecting", c.ws.RemoteAddr())
		h.remove(c)
	}
}

// Serve upgrades the request and streams events until the peer leaves.
func (h *Hub) Serve(ctx *gin.Context) {
	ws, err := upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		return
	}
	c := &conn{ws: ws, send: make(chan []byte, sendBuffer)}
	h.add(c)
	metrics.IncWSActive()
	jww.INFO.Printf("websocket subscriber %s connected", ws.RemoteAddr())

	go h.writePump(c)
	go h.readPump(c)
}

// readPump discards client frames and notices when the peer goes away.
func (h *Hub) readPump(c *conn) {
	defer func() {
		h.remove(c)
		_ = c.ws.Close()
		metrics.DecWSActive()
		jww.INFO.Printf("websocket subscriber %s disconnected", c.ws.RemoteAddr())
	}()
	c.ws.SetReadLimit(512)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()
	for {
		select {
		case payload, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				jww.WARN.Printf("websocket write error: %v", err)
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
