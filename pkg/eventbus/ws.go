package eventbus

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go4.org/syncutil"

	"pacsd/pkg/logging"
)

// Grounded on perkeep-perkeep/pkg/search/websocket.go's wsHub/wsConn split:
// one hub goroutine owns the connection set and fans each Bus event out over
// a per-connection buffered send channel, read and write pumps run on their
// own goroutines per connection, and a ticker keeps idle connections alive
// with pings. Generalized from one hub per search handler watching blob
// arrivals to one hub per Bus watching typed DICOM events, and from gorilla's
// legacy websocket.Upgrade to its Upgrader type.
const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
	wsMaxMessage = 10 << 10
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// wireEvent is the JSON shape pushed to every connected subscriber.
type wireEvent struct {
	Seq        uint64 `json:"seq"`
	Kind       string `json:"kind"`
	ResourceID string `json:"resourceId,omitempty"`
	Level      string `json:"level,omitempty"`
	JobID      string `json:"jobId,omitempty"`
}

func toWireEvent(e Event) wireEvent {
	return wireEvent{
		Seq:        e.Seq,
		Kind:       e.Kind.String(),
		ResourceID: e.ResourceID,
		Level:      e.Level,
		JobID:      e.JobID,
	}
}

type wsConn struct {
	ws   *websocket.Conn
	send chan []byte
}

// WSHub is a Bus Listener that re-publishes every event to each currently
// connected WebSocket client (spec.md C11's push-channel surface). Mount it
// at a path with ServeHTTP directly — the websocket upgrade handshake needs
// the raw http.ResponseWriter, so WSHub bypasses pkg/route and pkg/httpio
// rather than going through the Table/Sink pipeline the rest of the REST
// surface uses.
type WSHub struct {
	register   chan *wsConn
	unregister chan *wsConn
	events     chan Event

	// gate bounds how many connections may be mid-upgrade at once, so a
	// burst of slow TLS handshakes from many peers can't pile up
	// unbounded goroutines ahead of the accept loop draining them.
	gate *syncutil.Gate
}

// NewWSHub returns a hub with its run loop already started. Register it with
// a Bus via bus.Register(hub) and mount it as an http.Handler.
func NewWSHub() *WSHub {
	h := &WSHub{
		register:   make(chan *wsConn),
		unregister: make(chan *wsConn),
		events:     make(chan Event, 64),
		gate:       syncutil.NewGate(64),
	}
	go h.run()
	return h
}

// OnEvent satisfies Listener; it hands e to the hub goroutine for fan-out.
func (h *WSHub) OnEvent(e Event) {
	h.events <- e
}

func (h *WSHub) run() {
	conns := map[*wsConn]bool{}
	for {
		select {
		case c := <-h.register:
			conns[c] = true
		case c := <-h.unregister:
			if conns[c] {
				delete(conns, c)
				close(c.send)
			}
		case e := <-h.events:
			payload, err := json.Marshal(toWireEvent(e))
			if err != nil {
				logging.Errorf("eventbus: WSHub failed to marshal event %s: %v", e.Kind, err)
				continue
			}
			for c := range conns {
				select {
				case c.send <- payload:
				default:
					// Slow consumer; drop it rather than block the
					// whole hub on one stuck peer.
					delete(conns, c)
					close(c.send)
				}
			}
		}
	}
}

// ServeHTTP upgrades req to a WebSocket and streams every subsequent Bus
// event to it as JSON until the peer disconnects.
func (h *WSHub) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	h.gate.Start()
	defer h.gate.Done()

	ws, err := wsUpgrader.Upgrade(w, req, nil)
	if err != nil {
		logging.Warnf("eventbus: WSHub upgrade from %s failed: %v", req.RemoteAddr, err)
		return
	}
	c := &wsConn{ws: ws, send: make(chan []byte, 256)}
	h.register <- c
	go h.writePump(c)
	h.readPump(c)
}

// readPump only watches for the client going away; this hub is push-only
// and has no subscription protocol to parse.
func (h *WSHub) readPump(c *wsConn) {
	defer func() {
		h.unregister <- c
		c.ws.Close()
	}()
	c.ws.SetReadLimit(wsMaxMessage)
	c.ws.SetReadDeadline(time.Now().Add(wsPongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *WSHub) writePump(c *wsConn) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, []byte{}); err != nil {
				return
			}
		}
	}
}
