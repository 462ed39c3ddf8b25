package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/halfmove/gambit/internal/domain"
	"github.com/halfmove/gambit/internal/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for now
	},
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// gameChannel adapts a WebSocket connection to the session.Channel interface.
// Send enqueues onto a buffered channel; the write pump owns the connection.
// Close records the close code and signals the pump, which drains everything
// queued before it writes the close frame.
type gameChannel struct {
	conn *websocket.Conn
	send chan []byte

	closeOnce sync.Once
	closeCode int
	done      chan struct{}
}

func newGameChannel(conn *websocket.Conn) *gameChannel {
	return &gameChannel{
		conn: conn,
		send: make(chan []byte, 64),
		done: make(chan struct{}),
	}
}

// Send queues a message for delivery. Never blocks; a full buffer means the
// client has stopped reading and the message is dropped.
func (c *gameChannel) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case c.send <- data:
		return nil
	default:
		return errors.New("send buffer full")
	}
}

// Close signals the write pump to flush and close with the given code.
// Safe to call more than once; only the first code wins.
func (c *gameChannel) Close(code int) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		close(c.done)
	})
}

// writePump sends queued messages to the WebSocket, one frame per message
func (c *gameChannel) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-c.done:
			// Flush messages enqueued before the close was requested
			for {
				select {
				case message := <-c.send:
					c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
						return
					}
				default:
					c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(c.closeCode, ""))
					return
				}
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleGameSocket upgrades HTTP to WebSocket and attaches the connection to
// its game session. Auth and session checks happen after the upgrade so the
// client receives a distinct close code instead of a failed handshake.
func (r *Router) handleGameSocket(w http.ResponseWriter, req *http.Request) {
	claims := r.getAuthClaims(req)
	matchID := req.URL.Query().Get("matchId")

	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	if claims == nil {
		refuse(conn, session.CloseUnauthorized, "authentication required")
		return
	}
	if matchID == "" || !r.registry.Has(matchID) {
		refuse(conn, session.CloseInvalidSession, "unknown match")
		return
	}
	if !r.registry.IsParty(matchID, claims.UserID) {
		refuse(conn, session.CloseUnauthorized, "not a participant in this match")
		return
	}

	ch := newGameChannel(conn)
	go ch.writePump()

	if !r.registry.Bind(matchID, claims.UserID, ch) {
		ch.Close(session.CloseInvalidSession)
		return
	}

	log.Printf("Player %s connected to match %s", claims.Username, matchID)
	go r.readGameSocket(conn, ch, matchID, claims.UserID)
}

// refuse closes a freshly upgraded connection with an application close code
func refuse(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(writeWait)
	conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	conn.Close()
}

// readGameSocket reads client messages and dispatches them to the session
// registry. Rejected moves and resignations are reported in-band; a read
// error of any kind counts as a disconnect.
func (r *Router) readGameSocket(conn *websocket.Conn, ch *gameChannel, matchID, userID string) {
	defer func() {
		r.registry.HandleDisconnect(matchID, userID)
		ch.Close(session.CloseNormal)
		conn.Close()
	}()

	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNoStatusReceived, websocket.CloseNormalClosure) {
				log.Printf("WebSocket error on match %s: %v", matchID, err)
			}
			break
		}

		var msg domain.ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			ch.Send(domain.ErrorMessage{Type: domain.MsgError, Message: "Invalid message"})
			continue
		}

		switch msg.Type {
		case domain.MsgMove:
			if err := r.registry.SubmitMove(matchID, userID, msg.From, msg.To, msg.Promotion); err != nil {
				ch.Send(domain.ErrorMessage{Type: domain.MsgMoveError, Message: sessionErrorText(err)})
			}
		case domain.MsgResign:
			if err := r.registry.SubmitResignation(matchID, userID); err != nil {
				ch.Send(domain.ErrorMessage{Type: domain.MsgResignError, Message: sessionErrorText(err)})
			}
		default:
			ch.Send(domain.ErrorMessage{Type: domain.MsgError, Message: "Invalid message"})
		}
	}
}

func sessionErrorText(err error) string {
	switch {
	case errors.Is(err, session.ErrInvalidTurn):
		return "Invalid turn"
	case errors.Is(err, session.ErrInvalidMove):
		return "Invalid move"
	default:
		return "Invalid session"
	}
}
