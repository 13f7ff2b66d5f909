package effects

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// wsSocket adapts a *websocket.Conn to the Socket interface using the
// register/read-pump/write-pump split the teacher's agent hub used for its
// own client connections, generalized from a broadcast hub to a single
// outbound connection owned by one room.
type wsSocket struct {
	conn  *websocket.Conn
	send  chan string
	state ReadyState

	mu       sync.Mutex
	onOpen   func()
	onMsg    func(string)
	onClose  func(int, string)
	onErr    func(error)
	closed   bool
	closeErr error
}

func newWSSocket(conn *websocket.Conn) *wsSocket {
	s := &wsSocket{conn: conn, send: make(chan string, 256), state: Open}
	go s.writePump()
	go s.readPump()
	return s
}

func (s *wsSocket) ReadyState() ReadyState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *wsSocket) Send(data string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("effects: send on closed socket")
	}
	s.mu.Unlock()
	select {
	case s.send <- data:
		return nil
	default:
		return fmt.Errorf("effects: send buffer full")
	}
}

func (s *wsSocket) Close(code int, reason string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.state = Closing
	s.mu.Unlock()
	deadline := time.Now().Add(time.Second)
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), deadline)
	close(s.send)
	s.conn.Close()
}

func (s *wsSocket) OnOpen(fn func())                   { s.onOpen = fn }
func (s *wsSocket) OnMessage(fn func(data string))     { s.onMsg = fn }
func (s *wsSocket) OnClose(fn func(code int, reason string)) { s.onClose = fn }
func (s *wsSocket) OnError(fn func(err error))         { s.onErr = fn }

func (s *wsSocket) writePump() {
	for msg := range s.send {
		if err := s.conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
			if s.onErr != nil {
				s.onErr(err)
			}
			return
		}
	}
}

func (s *wsSocket) readPump() {
	if s.onOpen != nil {
		s.onOpen()
	}
	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			code := websocket.CloseAbnormalClosure
			reason := err.Error()
			if ce, ok := err.(*websocket.CloseError); ok {
				code = ce.Code
				reason = ce.Text
			}
			s.mu.Lock()
			s.state = Closed
			s.mu.Unlock()
			if s.onClose != nil {
				s.onClose(code, reason)
			}
			return
		}
		if s.onMsg != nil {
			s.onMsg(string(msg))
		}
	}
}

// DialSocketFactory returns a SocketFactory that dials url with
// gorilla/websocket, the transport the teacher's server used for its own
// upgrader-side connections.
func DialSocketFactory() SocketFactory {
	dialer := websocket.DefaultDialer
	return func(url string) (Socket, error) {
		conn, _, err := dialer.Dial(url, nil)
		if err != nil {
			return nil, err
		}
		return newWSSocket(conn), nil
	}
}

// realEffects is the production Effects implementation: real HTTP fetch,
// real sockets, real time.AfterFunc/time.Ticker timers.
type realEffects struct {
	httpClient *http.Client

	mu     sync.Mutex
	nextID TimerID
	timers map[TimerID]*time.Timer
	tickers map[TimerID]*time.Ticker
}

func New() Effects {
	return &realEffects{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		timers:     map[TimerID]*time.Timer{},
		tickers:    map[TimerID]*time.Ticker{},
	}
}

func (e *realEffects) Authenticate(ctx context.Context, fetch TokenFetcher, makeSocket SocketFactory, roomID string, buildURL func(token string) string, done func(Socket, string, error)) {
	go func() {
		token, err := fetch(ctx, roomID)
		if err != nil {
			done(nil, "", err)
			return
		}
		sock, err := makeSocket(buildURL(token))
		if err != nil {
			done(nil, "", err)
			return
		}
		done(sock, token, nil)
	}()
}

func (e *realEffects) Send(sock Socket, data string) error { return sock.Send(data) }

func (e *realEffects) nextTimerID() TimerID {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	return e.nextID
}

func (e *realEffects) DelayFlush(delayMs int64, fn func()) TimerID {
	id := e.nextTimerID()
	t := time.AfterFunc(time.Duration(delayMs)*time.Millisecond, fn)
	e.mu.Lock()
	e.timers[id] = t
	e.mu.Unlock()
	return id
}

func (e *realEffects) SchedulePongTimeout(fn func()) TimerID {
	return e.DelayFlush(2000, fn)
}

func (e *realEffects) ScheduleReconnect(delayMs int64, fn func()) TimerID {
	return e.DelayFlush(delayMs, fn)
}

func (e *realEffects) StartHeartbeatInterval(fn func()) TimerID {
	id := e.nextTimerID()
	ticker := time.NewTicker(30 * time.Second)
	go func() {
		for range ticker.C {
			fn()
		}
	}()
	e.mu.Lock()
	e.tickers[id] = ticker
	e.mu.Unlock()
	return id
}

func (e *realEffects) ClearTimer(id TimerID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t, ok := e.timers[id]; ok {
		t.Stop()
		delete(e.timers, id)
	}
	if t, ok := e.tickers[id]; ok {
		t.Stop()
		delete(e.tickers, id)
	}
}

func (e *realEffects) Now() int64 { return time.Now().UnixMilli() }
