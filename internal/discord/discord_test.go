package discord

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lawnchairsociety/twbridge/internal/bridge"
)

// redirectTransport sends every REST call to a local test server.
type redirectTransport struct {
	target *url.URL
}

func (r redirectTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	out := req.Clone(req.Context())
	out.URL.Scheme = r.target.Scheme
	out.URL.Host = r.target.Host
	out.Host = r.target.Host
	return http.DefaultTransport.RoundTrip(out)
}

// fakeDiscord serves the gateway lookup, the gateway websocket and the
// channel messages endpoint.
type fakeDiscord struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu          sync.Mutex
	lookups     int
	connections int
	identifies  []identifyFrame

	// lookup answers GET /gateway; nil serves the websocket URL.
	lookup http.HandlerFunc
	// session drives one gateway connection after the identify frame;
	// attempt counts from 1.
	session func(conn *websocket.Conn, attempt int)
	// messages answers POST /channels/{id}/messages.
	messages http.HandlerFunc
}

type identifyFrame struct {
	Op int `json:"op"`
	D  struct {
		Token   string `json:"token"`
		Intents int    `json:"intents"`
	} `json:"d"`
}

func newFakeDiscord(t *testing.T) *fakeDiscord {
	t.Helper()
	f := &fakeDiscord{}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v9/gateway", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.lookups++
		lookup := f.lookup
		f.mu.Unlock()
		if lookup != nil {
			lookup(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"url": "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws"})
	})
	mux.HandleFunc("/ws/", f.serveGateway)
	mux.HandleFunc("/api/v9/channels/", func(w http.ResponseWriter, r *http.Request) {
		f.messages(w, r)
	})
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeDiscord) serveGateway(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	f.mu.Lock()
	f.connections++
	attempt := f.connections
	f.mu.Unlock()

	hello := map[string]any{"op": 10, "d": map[string]any{"heartbeat_interval": 45000}}
	if err := conn.WriteJSON(hello); err != nil {
		return
	}
	var identify identifyFrame
	if err := conn.ReadJSON(&identify); err != nil {
		return
	}
	f.mu.Lock()
	f.identifies = append(f.identifies, identify)
	f.mu.Unlock()

	f.session(conn, attempt)
}

func (f *fakeDiscord) counts() (lookups, connections int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lookups, f.connections
}

func (f *fakeDiscord) client(t *testing.T) *Client {
	t.Helper()
	target, err := url.Parse(f.srv.URL)
	if err != nil {
		t.Fatalf("parse server url: %v", err)
	}
	return NewClient(Options{
		Token:      "tok",
		Backoff:    10 * time.Millisecond,
		HTTPClient: &http.Client{Transport: redirectTransport{target: target}, Timeout: 5 * time.Second},
	})
}

// dispatch writes one op 0 event.
func dispatch(conn *websocket.Conn, seq int, event string, data any) error {
	return conn.WriteJSON(map[string]any{"op": 0, "s": seq, "t": event, "d": data})
}

// drain reads until the client goes away.
func drain(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func closeWith(conn *websocket.Conn, code int, text string) {
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, text))
}

type recordingHandler struct {
	readies  chan string
	messages chan bridge.InboundMessage
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		readies:  make(chan string, 8),
		messages: make(chan bridge.InboundMessage, 8),
	}
}

func (h *recordingHandler) OnReady(_ context.Context, selfID string) {
	h.readies <- selfID
}

func (h *recordingHandler) OnChannelMessage(_ context.Context, msg bridge.InboundMessage) {
	h.messages <- msg
}
