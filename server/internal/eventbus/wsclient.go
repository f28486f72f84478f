package eventbus

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WSClient bridges one browser WebSocket connection to a bus Subscriber,
// pushing events as JSON frames and keeping the connection alive with
// ping/pong frames. Mirrors the read/write pump split used for agent
// connections (internal/agentchannel), generalized to GUI subscribers.
type WSClient struct {
	bus  *Bus
	sub  *Subscriber
	conn *websocket.Conn
	log  *zap.Logger
}

// NewWSClient upgrades the HTTP request to a WebSocket and returns a
// WSClient ready to Run.
func NewWSClient(bus *Bus, w http.ResponseWriter, r *http.Request, topics []string, log *zap.Logger) (*WSClient, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(maxMessageSize)
	return &WSClient{
		bus:  bus,
		sub:  NewSubscriber(topics, 32),
		conn: conn,
		log:  log,
	}, nil
}

// Run subscribes to the bus and blocks, pumping events to the socket, until
// the connection closes. Cleans up the subscription on return.
func (c *WSClient) Run() {
	c.bus.Subscribe(c.sub)
	go c.readPump()
	c.writePump()
}

// readPump drains (and discards) inbound frames — this channel is
// server-to-client only — and keeps the read deadline fresh on pong.
func (c *WSClient) readPump() {
	defer func() {
		c.bus.Unsubscribe(c.sub)
		c.conn.Close()
	}()
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *WSClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.sub.Events():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
