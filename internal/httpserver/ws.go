// internal/httpserver/ws.go
//
// GET /game/{id}/ws streams views of one session to the browser and accepts
// the same inputs as the POST routes:
//
//	{"type":"advance"} | {"type":"select","number":7} | {"type":"restart"}
//
// Server → client frames are {"type":"view","view":{...}} or
// {"type":"error","error":"invalid_selection"}. The tick timer drives a view
// frame every second while a game is active.

package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/robalobadob/defuse/internal/game"
	"github.com/robalobadob/defuse/internal/session"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second
	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Maximum message size allowed from peer.
	maxMessageSize = 512
)

// streamCmd is a client → server input.
type streamCmd struct {
	Type   string `json:"type"`
	Number int    `json:"number"`
}

// streamMsg is a server → client frame.
type streamMsg struct {
	Type    string        `json:"type"`
	View    *session.View `json:"view,omitempty"`
	Outcome game.Outcome  `json:"outcome,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// streamClient pairs one websocket connection with one session.
type streamClient struct {
	conn       *websocket.Conn
	sess       *session.Session
	send       chan streamMsg
	writerDone chan struct{}
	log        *zerolog.Logger
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	sess := s.sessionFor(w, r, chi.URLParam(r, "id"))
	if sess == nil {
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		hlog.FromRequest(r).Warn().Err(err).Msg("websocket upgrade")
		return
	}

	views, unsubscribe := sess.Subscribe()
	c := &streamClient{
		conn:       conn,
		sess:       sess,
		send:       make(chan streamMsg, 16),
		writerDone: make(chan struct{}),
		log:        hlog.FromRequest(r),
	}
	v := sess.View()
	c.send <- streamMsg{Type: "view", View: &v}

	go c.writePump(views)
	c.readPump()
	unsubscribe()
}

// readPump applies client inputs until the connection fails.
func (c *streamClient) readPump() {
	defer c.conn.Close()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		var cmd streamCmd
		if err := c.conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Debug().Err(err).Msg("websocket read")
			}
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) || !isJSONError(err) {
				return
			}
			c.reply(streamMsg{Type: "error", Error: "bad_json"})
			continue
		}
		c.apply(cmd)
	}
}

// apply runs one input against the session. Views reach the client through
// the subscription; only failures and outcomes are replied to directly.
func (c *streamClient) apply(cmd streamCmd) {
	var err error
	switch cmd.Type {
	case "advance":
		_, err = c.sess.Advance()
	case "select":
		var out game.Outcome
		out, _, err = c.sess.Select(cmd.Number)
		if err == nil && out != game.OutcomeContinue {
			c.reply(streamMsg{Type: "outcome", Outcome: out})
		}
	case "restart":
		if c.sess.Mode == session.ModeDaily {
			c.reply(streamMsg{Type: "error", Error: "daily_no_restart"})
			return
		}
		_, err = c.sess.Restart()
	default:
		c.reply(streamMsg{Type: "error", Error: "unknown_type"})
		return
	}
	if err != nil {
		c.reply(streamMsg{Type: "error", Error: sessionErrorCode(err)})
	}
}

// reply queues a frame unless the writer has already gone.
func (c *streamClient) reply(m streamMsg) {
	select {
	case c.send <- m:
	case <-c.writerDone:
	}
}

// writePump is the only goroutine writing to the connection.
func (c *streamClient) writePump(views <-chan session.View) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		close(c.writerDone)
		c.conn.Close()
	}()
	for {
		var m streamMsg
		select {
		case v, ok := <-views:
			if !ok {
				_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"))
				return
			}
			m = streamMsg{Type: "view", View: &v}
		case m = <-c.send:
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			continue
		}
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteJSON(m); err != nil {
			return
		}
	}
}

// isJSONError reports whether a ReadJSON failure came from the payload rather than the connection.
func isJSONError(err error) bool {
	var syn *json.SyntaxError
	var typ *json.UnmarshalTypeError
	return errors.As(err, &syn) || errors.As(err, &typ)
}
