package query

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/loom-platform/loom/infrastructure/logging"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// wireMessage is the envelope exchanged over the websocket connection.
// Kind distinguishes an outbound query from an inbound response.
type wireMessage struct {
	Kind     string    `json:"kind"` // "query" or "response"
	Query    *Query    `json:"query,omitempty"`
	Response *Response `json:"response,omitempty"`
}

// WSSession is a Session backed by a single websocket connection.
type WSSession struct {
	id     string
	conn   *websocket.Conn
	logger *logging.Logger

	sendMu sync.Mutex
	closed chan struct{}
	once   sync.Once
}

// NewWSSession wraps an upgraded websocket connection as a Session.
func NewWSSession(id string, conn *websocket.Conn, logger *logging.Logger) *WSSession {
	return &WSSession{id: id, conn: conn, logger: logger, closed: make(chan struct{})}
}

// ID returns the session id.
func (s *WSSession) ID() string { return s.id }

// Closed returns a channel closed once the underlying connection is torn
// down, by either end.
func (s *WSSession) Closed() <-chan struct{} { return s.closed }

// Send writes a query to the connection as JSON.
func (s *WSSession) Send(q Query) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(wireMessage{Kind: "query", Query: &q})
}

// markClosed closes the Closed() channel exactly once.
func (s *WSSession) markClosed() {
	s.once.Do(func() { close(s.closed) })
}

// Serve upgrades an HTTP request to a websocket connection, registers the
// resulting session with bridge, and pumps inbound responses to it until
// the connection closes. It blocks until the session disconnects.
func Serve(bridge *Bridge, sessionID string, logger *logging.Logger, w http.ResponseWriter, r *http.Request) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	sess := NewWSSession(sessionID, conn, logger)
	bridge.Registry().Register(sess)
	defer func() {
		sess.markClosed()
		bridge.Registry().Unregister(sess)
		bridge.ForgetSession(sessionID)
	}()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	stopPing := make(chan struct{})
	go sess.pingLoop(stopPing)
	defer close(stopPing)

	for {
		var msg wireMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				sess.logger.Warn(r.Context(), "query session closed unexpectedly", map[string]interface{}{
					"session_id": sessionID,
					"error":      err.Error(),
				})
			}
			return nil
		}
		if msg.Kind == "response" && msg.Response != nil {
			bridge.ReceiveResponse(*msg.Response)
		}
	}
}

func (s *WSSession) pingLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sendMu.Lock()
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := s.conn.WriteMessage(websocket.PingMessage, nil)
			s.sendMu.Unlock()
			if err != nil {
				return
			}
		case <-stop:
			return
		}
	}
}
