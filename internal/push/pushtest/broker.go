// Package pushtest provides an in-process STOMP-over-websocket broker for
// exercising push clients.
package pushtest

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/gorilla/websocket"
)

// Option configures a Broker.
type Option func(*Broker)

// WithHeartBeat sets the heart-beat header returned in CONNECTED.
func WithHeartBeat(hb string) Option {
	return func(b *Broker) { b.heartBeat = hb }
}

// WithReject makes the broker answer CONNECT with an ERROR frame.
func WithReject(message string) Option {
	return func(b *Broker) { b.reject = message }
}

// Broker accepts websocket upgrades at /ws/websocket and speaks enough
// STOMP for CONNECT, SUBSCRIBE, MESSAGE and DISCONNECT.
type Broker struct {
	server    *httptest.Server
	upgrader  websocket.Upgrader
	heartBeat string
	reject    string

	connects   atomic.Int32
	subscribed chan string
	messageID  atomic.Int64

	mu         sync.Mutex
	sessions   map[*session]struct{}
	authHeader string
	connectHdr map[string]string
}

type session struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	subs    map[string]string // destination -> subscription id
}

// NewBroker starts a broker on a random local port.
func NewBroker(opts ...Option) *Broker {
	b := &Broker{
		heartBeat:  "0,0",
		subscribed: make(chan string, 16),
		sessions:   make(map[*session]struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/websocket", b.handle)
	b.server = httptest.NewServer(mux)
	return b
}

// URL returns the websocket endpoint.
func (b *Broker) URL() string {
	return "ws" + strings.TrimPrefix(b.server.URL, "http") + "/ws/websocket"
}

// Connects returns how many CONNECT frames were received.
func (b *Broker) Connects() int {
	return int(b.connects.Load())
}

// AuthHeader returns the Authorization header of the last upgrade request.
func (b *Broker) AuthHeader() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.authHeader
}

// ConnectHeader returns a header of the last CONNECT frame.
func (b *Broker) ConnectHeader(name string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connectHdr[name]
}

// WaitSubscribed blocks until a SUBSCRIBE arrives and returns its destination.
func (b *Broker) WaitSubscribed(timeout time.Duration) (string, bool) {
	select {
	case dest := <-b.subscribed:
		return dest, true
	case <-time.After(timeout):
		return "", false
	}
}

// Send delivers body as a MESSAGE to every subscriber of destination and
// returns the number of recipients.
func (b *Broker) Send(destination string, body []byte) int {
	b.mu.Lock()
	var targets []*session
	var ids []string
	for s := range b.sessions {
		if id, ok := s.subs[destination]; ok {
			targets = append(targets, s)
			ids = append(ids, id)
		}
	}
	b.mu.Unlock()

	sent := 0
	for i, s := range targets {
		f := frame.New(frame.MESSAGE,
			frame.Destination, destination,
			frame.Subscription, ids[i],
			frame.MessageId, strconv.FormatInt(b.messageID.Add(1), 10),
			frame.ContentType, "application/json",
		)
		f.Body = body
		if s.write(f) == nil {
			sent++
		}
	}
	return sent
}

// DropConnections closes every open websocket.
func (b *Broker) DropConnections() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.sessions {
		s.conn.Close()
	}
}

// Close drops connections and stops the server.
func (b *Broker) Close() {
	b.DropConnections()
	b.server.Close()
}

func (b *Broker) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s := &session{conn: conn, subs: make(map[string]string)}

	b.mu.Lock()
	b.authHeader = r.Header.Get("Authorization")
	b.sessions[s] = struct{}{}
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.sessions, s)
		b.mu.Unlock()
		conn.Close()
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		reader := frame.NewReader(bytes.NewReader(msg))
		for {
			f, err := reader.Read()
			if err == io.EOF {
				break
			}
			if err != nil {
				return
			}
			if f == nil {
				continue
			}
			if !b.dispatch(s, f) {
				return
			}
		}
	}
}

// dispatch handles one client frame and reports whether to keep reading.
func (b *Broker) dispatch(s *session, f *frame.Frame) bool {
	switch f.Command {
	case frame.CONNECT, frame.STOMP:
		b.connects.Add(1)
		hdr := make(map[string]string)
		for _, name := range []string{frame.AcceptVersion, frame.Host, frame.HeartBeat, "Authorization"} {
			hdr[name] = f.Header.Get(name)
		}
		b.mu.Lock()
		b.connectHdr = hdr
		b.mu.Unlock()

		if b.reject != "" {
			s.write(frame.New(frame.ERROR, frame.Message, b.reject))
			return false
		}
		return s.write(frame.New(frame.CONNECTED,
			frame.Version, "1.2",
			frame.HeartBeat, b.heartBeat,
		)) == nil

	case frame.SUBSCRIBE:
		dest := f.Header.Get(frame.Destination)
		b.mu.Lock()
		s.subs[dest] = f.Header.Get(frame.Id)
		b.mu.Unlock()
		select {
		case b.subscribed <- dest:
		default:
		}
		return true

	case frame.DISCONNECT:
		return false
	}
	return true
}

func (s *session) write(f *frame.Frame) error {
	var buf bytes.Buffer
	if err := frame.NewWriter(&buf).Write(f); err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, buf.Bytes())
}
