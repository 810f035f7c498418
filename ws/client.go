package ws

import (
	"sync"
	"time"

	"trustwork_backend/internal/logger"
	"trustwork_backend/internal/realtime"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 64

	FrameChange      = "change"
	FrameUnreadCount = "unread_count"
)

// Frame - сообщение клиенту
type Frame struct {
	Type   string           `json:"type"`
	Change *realtime.Change `json:"change,omitempty"`
	Count  *int64           `json:"count,omitempty"`
}

func changeFrame(c realtime.Change) Frame {
	return Frame{Type: FrameChange, Change: &c}
}

func unreadFrame(n int64) Frame {
	return Frame{Type: FrameUnreadCount, Count: &n}
}

// Client - одно websocket соединение и его подписки на хабе
type Client struct {
	UserID  string
	conn    *websocket.Conn
	send    chan Frame
	subs    []*realtime.Subscription
	unread  *realtime.UnreadCounter
	manager *WebSocketManager

	closeOnce sync.Once
	done      chan struct{}
}

func newClient(userID string, conn *websocket.Conn, manager *WebSocketManager, subs []*realtime.Subscription, unread *realtime.UnreadCounter) *Client {
	return &Client{
		UserID:  userID,
		conn:    conn,
		send:    make(chan Frame, sendBuffer),
		subs:    subs,
		unread:  unread,
		manager: manager,
		done:    make(chan struct{}),
	}
}

// start запускает пересылку подписок и насосы чтения/записи
func (c *Client) start() {
	if c.unread != nil {
		c.enqueue(unreadFrame(c.unread.Value()))
	}
	for _, sub := range c.subs {
		go c.forward(sub)
	}
	go c.writePump()
	go c.readPump()
}

func (c *Client) forward(sub *realtime.Subscription) {
	for change := range sub.C {
		if !c.enqueue(changeFrame(change)) {
			return
		}
		if c.unread != nil && change.Table == "notifications" {
			if n, changed := c.unread.Apply(change); changed {
				c.enqueue(unreadFrame(n))
			}
		}
	}
}

func (c *Client) enqueue(f Frame) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- f:
		return true
	case <-c.done:
		return false
	default:
		logger.Warn("WebSocket send buffer full, frame dropped", "user_id", c.UserID, "type", f.Type)
		return true
	}
}

// close идемпотентен: отписывает от хаба и рвет соединение
func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		for _, sub := range c.subs {
			sub.Close()
		}
		_ = c.conn.Close()
	})
}

// readPump нужен для pong и обнаружения разрыва; входящие сообщения игнорируются
func (c *Client) readPump() {
	defer func() {
		c.close()
		c.manager.remove(c)
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("WebSocket read error", "user_id", c.UserID, "error", err)
			}
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(frame); err != nil {
				logger.Warn("WebSocket write error", "user_id", c.UserID, "error", err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}
